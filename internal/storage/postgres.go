// Package storage reads XNAT's catalog straight from its PostgreSQL database.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Joeycho/xnat-dicomweb-proxy/internal/archive"
	"github.com/Joeycho/xnat-dicomweb-proxy/internal/models"
)

// Querier is the subset of *pgxpool.Pool the Store uses.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements archive.Catalog over XNAT's tables. It does not evaluate
// XNAT's own permission model; pair it with an archive.Authorizer.
type Store struct {
	db   Querier
	pool *pgxpool.Pool
}

// NewStore creates a new Store instance.
func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("database pool cannot be nil")
	}
	return &Store{db: pool, pool: pool}
}

// Connect opens a pool for databaseURL and checks it is reachable.
func Connect(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return NewStore(pool), nil
}

const projectQuery = `
        SELECT id, COALESCE(name, '')
        FROM xnat_projectdata
        WHERE id = $1
    `

const sessionColumns = `
        SELECT e.id,
               COALESCE(s.uid, ''),
               COALESCE(sa.subject_id, ''),
               COALESCE(e.label, ''),
               COALESCE(to_char(e.date, 'YYYY-MM-DD'), ''),
               COALESCE(e.project, '')
        FROM xnat_imagesessiondata s
        JOIN xnat_experimentdata e ON e.id = s.id
        LEFT JOIN xnat_subjectassessordata sa ON sa.id = s.id
    `

const scanQuery = `
        SELECT sc.image_session_id,
               sc.id,
               COALESCE(sc.uid, ''),
               COALESCE(sc.modality, ''),
               COALESCE(sc.series_description, sc.type, ''),
               r.label,
               res.uri
        FROM xnat_imagescandata sc
        LEFT JOIN xnat_abstractresource r
               ON r.xnat_imagescandata_xnat_imagescandata_id = sc.xnat_imagescandata_id
        LEFT JOIN xnat_resource res
               ON res.xnat_abstractresource_id = r.xnat_abstractresource_id
        WHERE sc.image_session_id = ANY($1)
        ORDER BY sc.image_session_id, sc.xnat_imagescandata_id, r.xnat_abstractresource_id
    `

// sessionFilters maps catalog fields to the column they compare.
var sessionFilters = map[string]string{
	archive.FieldSessionUID:     "s.uid",
	archive.FieldSessionProject: "e.project",
}

// Project implements archive.Catalog.
func (s *Store) Project(ctx context.Context, _ models.User, projectID string) (*models.Project, error) {
	p := &models.Project{}
	slog.DebugContext(ctx, "Querying project", "projectID", projectID)
	err := s.db.QueryRow(ctx, projectQuery, projectID).Scan(&p.ID, &p.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, archive.ErrNotFound
		}
		slog.ErrorContext(ctx, "Error querying project from DB", "projectID", projectID, "error", err)
		return nil, fmt.Errorf("failed to query project: %w", err)
	}
	return p, nil
}

// SessionsByField implements archive.Catalog. Sessions are listed by
// experiment id; scans keep their insertion order.
func (s *Store) SessionsByField(ctx context.Context, _ models.User, field, value string) ([]models.Session, error) {
	column, ok := sessionFilters[field]
	if !ok {
		return nil, fmt.Errorf("%w: %s", archive.ErrUnsupportedField, field)
	}
	query := sessionColumns + "WHERE " + column + " = $1\n        ORDER BY e.id"

	rows, err := s.db.Query(ctx, query, value)
	if err != nil {
		slog.ErrorContext(ctx, "Error querying sessions from DB", "field", field, "value", value, "error", err)
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	var sessions []models.Session
	for rows.Next() {
		var sess models.Session
		if err := rows.Scan(&sess.ID, &sess.UID, &sess.SubjectID, &sess.Label, &sess.Date, &sess.Project); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sessions: %w", err)
	}
	if len(sessions) == 0 {
		return []models.Session{}, nil
	}

	scans, err := s.scanRows(ctx, sessionIDs(sessions))
	if err != nil {
		return nil, err
	}
	attachScans(sessions, scans)
	slog.DebugContext(ctx, "Found sessions in DB", "field", field, "value", value, "count", len(sessions))
	return sessions, nil
}

// scanRow is one scan/resource pair; a scan without resources yields one row
// with a null resource.
type scanRow struct {
	SessionID   string
	ScanID      string
	UID         string
	Modality    string
	Description string
	Label       sql.NullString
	URI         sql.NullString
}

func (s *Store) scanRows(ctx context.Context, ids []string) ([]scanRow, error) {
	rows, err := s.db.Query(ctx, scanQuery, ids)
	if err != nil {
		slog.ErrorContext(ctx, "Error querying scans from DB", "sessions", len(ids), "error", err)
		return nil, fmt.Errorf("failed to query scans: %w", err)
	}
	defer rows.Close()

	var out []scanRow
	for rows.Next() {
		var r scanRow
		if err := rows.Scan(&r.SessionID, &r.ScanID, &r.UID, &r.Modality, &r.Description, &r.Label, &r.URI); err != nil {
			return nil, fmt.Errorf("failed to scan scan row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read scans: %w", err)
	}
	return out, nil
}

// attachScans folds ordered scan rows into their sessions.
func attachScans(sessions []models.Session, rows []scanRow) {
	index := make(map[string]int, len(sessions))
	for i, s := range sessions {
		index[s.ID] = i
	}
	for _, r := range rows {
		i, ok := index[r.SessionID]
		if !ok {
			continue
		}
		scans := sessions[i].Scans
		if n := len(scans); n == 0 || scans[n-1].ID != r.ScanID {
			scans = append(scans, models.Scan{
				ID:          r.ScanID,
				UID:         r.UID,
				Modality:    r.Modality,
				Description: r.Description,
			})
		}
		if r.Label.Valid {
			last := &scans[len(scans)-1]
			last.Resources = append(last.Resources, models.Resource{Label: r.Label.String, Location: r.URI.String})
		}
		sessions[i].Scans = scans
	}
}

func sessionIDs(sessions []models.Session) []string {
	ids := make([]string, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
	}
	return ids
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}
