package archive

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/Joeycho/xnat-dicomweb-proxy/internal/models"
)

// MemoryCatalog serves a fixed set of projects and sessions. It backs the
// "fixture" backend and the tests; permission checks are left to the Authorizer.
type MemoryCatalog struct {
	mu       sync.RWMutex
	projects []models.Project
	sessions []models.Session
}

// Fixture is the YAML layout accepted by LoadFixture.
type Fixture struct {
	Projects []models.Project `yaml:"projects"`
	Sessions []models.Session `yaml:"sessions"`
}

// NewMemoryCatalog returns a catalog holding the given entities. Sessions keep
// the order given, which becomes the listing order.
func NewMemoryCatalog(projects []models.Project, sessions []models.Session) *MemoryCatalog {
	return &MemoryCatalog{projects: projects, sessions: sessions}
}

// LoadFixture reads a YAML fixture file into a MemoryCatalog.
func LoadFixture(path string) (*MemoryCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture file: %w", err)
	}
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixture file %s: %w", path, err)
	}
	return NewMemoryCatalog(f.Projects, f.Sessions), nil
}

// AddSession appends a session to the listing.
func (m *MemoryCatalog) AddSession(s models.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, s)
}

// Project implements Catalog.
func (m *MemoryCatalog) Project(_ context.Context, _ models.User, projectID string) (*models.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.projects {
		if p.ID == projectID {
			p := p
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

// SessionsByField implements Catalog.
func (m *MemoryCatalog) SessionsByField(_ context.Context, _ models.User, field, value string) ([]models.Session, error) {
	var match func(models.Session) bool
	switch field {
	case FieldSessionUID:
		match = func(s models.Session) bool { return s.UID == value }
	case FieldSessionProject:
		match = func(s models.Session) bool { return s.Project == value }
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedField, field)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Session
	for _, s := range m.sessions {
		if match(s) {
			out = append(out, s)
		}
	}
	return out, nil
}
