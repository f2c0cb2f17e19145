package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Joeycho/xnat-dicomweb-proxy/internal/archive"
	"github.com/Joeycho/xnat-dicomweb-proxy/internal/models"
)

var _ archive.Catalog = (*Store)(nil)

type fakeRows struct {
	data [][]any
	i    int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return r.data[r.i-1], nil }

func (r *fakeRows) Next() bool {
	r.i++
	return r.i <= len(r.data)
}

func (r *fakeRows) Scan(dest ...any) error {
	return assign(r.data[r.i-1], dest)
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(r.values, dest)
}

func assign(values []any, dest []any) error {
	if len(values) != len(dest) {
		return fmt.Errorf("got %d destinations for %d values", len(dest), len(values))
	}
	for i, d := range dest {
		switch d := d.(type) {
		case *string:
			*d = values[i].(string)
		case *sql.NullString:
			if err := d.Scan(values[i]); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported destination %T", d)
		}
	}
	return nil
}

// fakeDB answers the three statements the Store issues.
type fakeDB struct {
	projects map[string]string
	sessions [][]any
	scans    [][]any
	queries  []string
	args     [][]any
}

func (f *fakeDB) Query(_ context.Context, query string, args ...any) (pgx.Rows, error) {
	f.queries = append(f.queries, query)
	f.args = append(f.args, args)
	if strings.Contains(query, "xnat_imagescandata") {
		return &fakeRows{data: f.scans}, nil
	}
	return &fakeRows{data: f.sessions}, nil
}

func (f *fakeDB) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	id := args[0].(string)
	name, ok := f.projects[id]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{values: []any{id, name}}
}

func TestStore_Project(t *testing.T) {
	s := &Store{db: &fakeDB{projects: map[string]string{"ProjectA": "Project A"}}}
	ctx := context.Background()

	p, err := s.Project(ctx, models.Guest, "ProjectA")
	require.NoError(t, err)
	assert.Equal(t, &models.Project{ID: "ProjectA", Name: "Project A"}, p)

	_, err = s.Project(ctx, models.Guest, "Missing")
	assert.ErrorIs(t, err, archive.ErrNotFound)
}

func TestStore_ProjectDatabaseError(t *testing.T) {
	s := &Store{db: errorDB{}}

	_, err := s.Project(context.Background(), models.Guest, "ProjectA")
	require.Error(t, err)
	assert.NotErrorIs(t, err, archive.ErrNotFound)
}

func TestStore_SessionsByField(t *testing.T) {
	db := &fakeDB{
		sessions: [][]any{
			{"E1", "1.2.3", "S1", "Session01", "2024-03-15", "ProjectA"},
			{"E2", "1.2.4", "S2", "Session02", "", "ProjectA"},
		},
		scans: [][]any{
			{"E1", "1", "1.2.3.1", "CT", "Axial", "DICOM", "/arc/1/DICOM/catalog.xml"},
			{"E1", "1", "1.2.3.1", "CT", "Axial", "SNAPSHOTS", nil},
			{"E1", "2", "1.2.3.2", "MR", "", nil, nil},
			{"E2", "4", "1.2.4.4", "CT", "Scout", "secondary", "/arc/4/secondary"},
		},
	}
	s := &Store{db: db}

	sessions, err := s.SessionsByField(context.Background(), models.Guest, archive.FieldSessionProject, "ProjectA")
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	assert.Contains(t, db.queries[0], "e.project = $1")
	assert.Equal(t, []any{[]string{"E1", "E2"}}, db.args[1])

	assert.Equal(t, []models.Scan{
		{ID: "1", UID: "1.2.3.1", Modality: "CT", Description: "Axial", Resources: []models.Resource{
			{Label: "DICOM", Location: "/arc/1/DICOM/catalog.xml"},
			{Label: "SNAPSHOTS"},
		}},
		{ID: "2", UID: "1.2.3.2", Modality: "MR"},
	}, sessions[0].Scans)
	assert.Equal(t, "S1", sessions[0].SubjectID)
	assert.Equal(t, "2024-03-15", sessions[0].Date)
	require.Len(t, sessions[1].Scans, 1)
	assert.Equal(t, "secondary", sessions[1].Scans[0].Resources[0].Label)
}

func TestStore_SessionsByField_Empty(t *testing.T) {
	db := &fakeDB{}
	s := &Store{db: db}

	sessions, err := s.SessionsByField(context.Background(), models.Guest, archive.FieldSessionUID, "9.9")
	require.NoError(t, err)
	assert.Empty(t, sessions)
	assert.Contains(t, db.queries[0], "s.uid = $1")
	assert.Len(t, db.queries, 1, "no scan query without sessions")
}

func TestStore_SessionsByField_UnsupportedField(t *testing.T) {
	s := &Store{db: &fakeDB{}}

	_, err := s.SessionsByField(context.Background(), models.Guest, "xnat:subjectData/label", "x")
	assert.ErrorIs(t, err, archive.ErrUnsupportedField)
}

type errorDB struct{}

func (errorDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("connection reset")
}

func (errorDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return fakeRow{err: errors.New("connection reset")}
}
