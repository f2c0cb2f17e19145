package xnat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Joeycho/xnat-dicomweb-proxy/internal/archive"
	"github.com/Joeycho/xnat-dicomweb-proxy/internal/dicomweb"
	"github.com/Joeycho/xnat-dicomweb-proxy/internal/models"
)

var _ archive.Catalog = (*Client)(nil)

const projectJSON = `{"items":[{"data_fields":{"ID":"ProjectA","name":"Project A"}}]}`

const sessionJSON = `{"items":[{
  "data_fields":{"ID":"XNAT_E00001","UID":"1.2.840.10","label":"Session01","date":"2024-03-15","project":"ProjectA","subject_ID":"XNAT_S00001"},
  "children":[
    {"field":"sharing/share","items":[]},
    {"field":"scans/scan","items":[
      {"data_fields":{"ID":"1","UID":"1.2.840.10.1","modality":"CT","series_description":"Axial"},
       "children":[{"field":"file","items":[
         {"data_fields":{"label":"DICOM","URI":"/data/xnat/archive/ProjectA/arc001/Session01/SCANS/1/DICOM/scan_1_catalog.xml"}},
         {"data_fields":{"label":"SNAPSHOTS"}}
       ]}]},
      {"data_fields":{"ID":"2","UID":"1.2.840.10.2","type":"T1"}}
    ]}
  ]}]}`

type fakeXnat struct {
	mu       sync.Mutex
	requests []*http.Request
}

func (f *fakeXnat) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/data/projects/ProjectA", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.Header().Set("Content-Type", contentTypeJSON)
		w.Write([]byte(projectJSON))
	})
	mux.HandleFunc("/data/projects/Secret", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.WriteHeader(http.StatusForbidden)
	})
	mux.HandleFunc("/data/projects/Broken", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		http.Error(w, "database unavailable", http.StatusInternalServerError)
	})
	mux.HandleFunc("/data/experiments", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		w.Header().Set("Content-Type", contentTypeJSON)
		switch {
		case r.URL.Query().Get(archive.FieldSessionUID) == "1.2.840.10",
			r.URL.Query().Get(archive.FieldSessionProject) == "ProjectA":
			w.Write([]byte(`{"ResultSet":{"Result":[{"ID":"XNAT_E00001","project":"ProjectA"}],"totalRecords":"1"}}`))
		case r.URL.Query().Get(archive.FieldSessionUID) == "1.2.840.77",
			r.URL.Query().Get(archive.FieldSessionProject) == "Mixed":
			w.Write([]byte(`{"ResultSet":{"Result":[` +
				`{"ID":"XNAT_E00002","project":"Other"},` +
				`{"ID":"XNAT_E00001","project":"ProjectA"},` +
				`{"ID":"XNAT_E00003","project":"Other"}],"totalRecords":"3"}}`))
		default:
			w.Write([]byte(`{"ResultSet":{"Result":[],"totalRecords":"0"}}`))
		}
	})
	mux.HandleFunc("/data/experiments/XNAT_E00001", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.Header().Set("Content-Type", contentTypeJSON)
		w.Write([]byte(sessionJSON))
	})
	mux.HandleFunc("/data/experiments/XNAT_E00002", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.WriteHeader(http.StatusForbidden)
	})
	mux.HandleFunc("/data/experiments/XNAT_E00003", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		http.Error(w, "database unavailable", http.StatusInternalServerError)
	})
	return mux
}

func (f *fakeXnat) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r)
}

func (f *fakeXnat) last() *http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestClient(t *testing.T) (*Client, *fakeXnat) {
	t.Helper()
	fake := &fakeXnat{}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", 5*time.Second), fake
}

func TestClient_Project(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	p, err := c.Project(ctx, models.Guest, "ProjectA")
	require.NoError(t, err)
	assert.Equal(t, &models.Project{ID: "ProjectA", Name: "Project A"}, p)

	_, err = c.Project(ctx, models.Guest, "Secret")
	assert.ErrorIs(t, err, archive.ErrNotFound)

	_, err = c.Project(ctx, models.Guest, "Nope")
	assert.ErrorIs(t, err, archive.ErrNotFound)

	_, err = c.Project(ctx, models.Guest, "Broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, archive.ErrNotFound)
}

func TestClient_SessionsByField(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	sessions, err := c.SessionsByField(ctx, models.Guest, archive.FieldSessionUID, "1.2.840.10")
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	s := sessions[0]
	assert.Equal(t, "XNAT_E00001", s.ID)
	assert.Equal(t, "1.2.840.10", s.UID)
	assert.Equal(t, "Session01", s.Label)
	assert.Equal(t, "2024-03-15", s.Date)
	assert.Equal(t, "ProjectA", s.Project)
	assert.Equal(t, "XNAT_S00001", s.SubjectID)
	require.Len(t, s.Scans, 2)
	assert.Equal(t, models.Scan{
		ID: "1", UID: "1.2.840.10.1", Modality: "CT", Description: "Axial",
		Resources: []models.Resource{
			{Label: "DICOM", Location: "/data/xnat/archive/ProjectA/arc001/Session01/SCANS/1/DICOM/scan_1_catalog.xml"},
			{Label: "SNAPSHOTS"},
		},
	}, s.Scans[0])
	assert.Equal(t, "T1", s.Scans[1].Description)
	assert.Empty(t, s.Scans[1].Resources)

	sessions, err = c.SessionsByField(ctx, models.Guest, archive.FieldSessionProject, "ProjectA")
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	sessions, err = c.SessionsByField(ctx, models.Guest, archive.FieldSessionUID, "9.9.9")
	require.NoError(t, err)
	assert.Empty(t, sessions)

	_, err = c.SessionsByField(ctx, models.Guest, "xnat:subjectData/label", "x")
	assert.ErrorIs(t, err, archive.ErrUnsupportedField)
}

func TestClient_SessionsByField_SkipsFailedDetails(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	for _, q := range []struct{ field, value string }{
		{archive.FieldSessionUID, "1.2.840.77"},
		{archive.FieldSessionProject, "Mixed"},
	} {
		sessions, err := c.SessionsByField(ctx, models.Guest, q.field, q.value)
		require.NoError(t, err, q.field)
		require.Len(t, sessions, 1, q.field)
		assert.Equal(t, "XNAT_E00001", sessions[0].ID)
		assert.Equal(t, "ProjectA", sessions[0].Project)
	}
}

func TestClient_ResolverIgnoresFailedSessions(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	resolver := dicomweb.NewResolver(c, nil)

	session, err := resolver.ResolveSession(ctx, models.Guest, "ProjectA", "1.2.840.77")
	require.NoError(t, err)
	assert.Equal(t, "XNAT_E00001", session.ID)
}

func TestClient_SessionsByField_CancelledContext(t *testing.T) {
	c, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.SessionsByField(ctx, models.Guest, archive.FieldSessionProject, "ProjectA")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClient_Credentials(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()

	_, err := c.Project(ctx, models.Guest, "ProjectA")
	require.NoError(t, err)
	_, _, ok := fake.last().BasicAuth()
	assert.False(t, ok, "guest without a service account is anonymous")

	c.WithServiceAccount("svc", "svc-pass")
	_, err = c.Project(ctx, models.Guest, "ProjectA")
	require.NoError(t, err)
	name, pass, ok := fake.last().BasicAuth()
	require.True(t, ok)
	assert.Equal(t, "svc", name)
	assert.Equal(t, "svc-pass", pass)

	_, err = c.Project(ctx, models.User{Name: "alice", Password: "secret"}, "ProjectA")
	require.NoError(t, err)
	name, pass, ok = fake.last().BasicAuth()
	require.True(t, ok)
	assert.Equal(t, "alice", name)
	assert.Equal(t, "secret", pass)
}

func TestClient_CancelledContext(t *testing.T) {
	c, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Project(ctx, models.Guest, "ProjectA")
	assert.ErrorIs(t, err, context.Canceled)
}
