package dicomweb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Joeycho/xnat-dicomweb-proxy/internal/archive"
	"github.com/Joeycho/xnat-dicomweb-proxy/internal/models"
)

// Resolver walks project -> session -> scan on behalf of a user.
type Resolver struct {
	catalog archive.Catalog
	authz   archive.Authorizer
}

// NewResolver returns a Resolver. A nil authz allows every read.
func NewResolver(catalog archive.Catalog, authz archive.Authorizer) *Resolver {
	if authz == nil {
		authz = archive.AllowAll{}
	}
	return &Resolver{catalog: catalog, authz: authz}
}

// ResolveProject returns the project if it exists and user may read it.
func (r *Resolver) ResolveProject(ctx context.Context, user models.User, projectID string) (*models.Project, error) {
	if projectID == "" {
		return nil, ErrNotFound
	}
	ok, err := r.authz.CanRead(ctx, user, projectID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		slog.WarnContext(ctx, "Permission check failed", "projectID", projectID, "user", user.Name, "error", err)
		return nil, ErrNotFound
	}
	if !ok {
		slog.DebugContext(ctx, "Project not readable by user", "projectID", projectID, "user", user.Name)
		return nil, ErrNotFound
	}

	project, err := r.catalog.Project(ctx, user, projectID)
	if err != nil {
		return nil, r.lookupFailed(ctx, err, "projectID", projectID)
	}
	if project == nil {
		return nil, ErrNotFound
	}
	return project, nil
}

// ProjectSessions lists the sessions of a project in catalog order.
func (r *Resolver) ProjectSessions(ctx context.Context, user models.User, projectID string) ([]models.Session, error) {
	if _, err := r.ResolveProject(ctx, user, projectID); err != nil {
		return nil, err
	}
	sessions, err := r.catalog.SessionsByField(ctx, user, archive.FieldSessionProject, projectID)
	if err != nil {
		return nil, r.lookupFailed(ctx, err, "projectID", projectID)
	}
	return inProject(sessions, projectID), nil
}

// ResolveSession returns the first session of projectID carrying studyUID.
// A session with that UID under another project is not found.
func (r *Resolver) ResolveSession(ctx context.Context, user models.User, projectID, studyUID string) (*models.Session, error) {
	if studyUID == "" {
		return nil, ErrNotFound
	}
	if _, err := r.ResolveProject(ctx, user, projectID); err != nil {
		return nil, err
	}
	sessions, err := r.catalog.SessionsByField(ctx, user, archive.FieldSessionUID, studyUID)
	if err != nil {
		return nil, r.lookupFailed(ctx, err, "projectID", projectID, "studyUID", studyUID)
	}
	matches := inProject(sessions, projectID)
	if len(matches) == 0 {
		return nil, ErrNotFound
	}
	if len(matches) > 1 {
		slog.DebugContext(ctx, "Duplicate StudyInstanceUID, using first session", "projectID", projectID, "studyUID", studyUID, "sessions", len(matches))
	}
	return &matches[0], nil
}

// ResolveScan returns the first scan of session carrying seriesUID.
func (r *Resolver) ResolveScan(session *models.Session, seriesUID string) (*models.Scan, error) {
	if session == nil || seriesUID == "" {
		return nil, ErrNotFound
	}
	for i := range session.Scans {
		if session.Scans[i].UID == seriesUID {
			return &session.Scans[i], nil
		}
	}
	return nil, ErrNotFound
}

// lookupFailed maps a catalog error to ErrNotFound, keeping context errors.
func (r *Resolver) lookupFailed(ctx context.Context, err error, attrs ...any) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("catalog lookup: %w", err)
	}
	if !errors.Is(err, archive.ErrNotFound) {
		slog.WarnContext(ctx, "Catalog lookup failed", append(attrs, "error", err)...)
	}
	return ErrNotFound
}

func inProject(sessions []models.Session, projectID string) []models.Session {
	out := make([]models.Session, 0, len(sessions))
	for _, s := range sessions {
		if s.Project == projectID {
			out = append(out, s)
		}
	}
	return out
}
