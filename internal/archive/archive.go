// Package archive defines the collaborators the DICOMweb layer reads the
// imaging archive through: a Catalog of projects and sessions and an
// Authorizer deciding who may read a project.
package archive

import (
	"context"
	"errors"

	"github.com/Joeycho/xnat-dicomweb-proxy/internal/models"
)

// Session fields understood by Catalog.SessionsByField.
const (
	FieldSessionUID     = "xnat:imageSessionData/UID"
	FieldSessionProject = "xnat:imageSessionData/project"
)

var (
	// ErrNotFound is returned when an entity is absent or the caller may not see it.
	ErrNotFound = errors.New("archive entity not found")
	// ErrUnsupportedField is returned for a SessionsByField field the catalog cannot query.
	ErrUnsupportedField = errors.New("unsupported session field")
)

// Catalog looks up archive entities on behalf of a user. Implementations must
// apply the user's permissions and report denial the same way as absence.
type Catalog interface {
	Project(ctx context.Context, user models.User, projectID string) (*models.Project, error)
	// SessionsByField lists sessions whose field equals value, in a stable
	// listing order, each with its scans and resources populated.
	SessionsByField(ctx context.Context, user models.User, field, value string) ([]models.Session, error)
}

// Authorizer answers "may this user read project P".
type Authorizer interface {
	CanRead(ctx context.Context, user models.User, projectID string) (bool, error)
}

// AllowAll grants every read. Use it when the catalog enforces permissions itself.
type AllowAll struct{}

// CanRead implements Authorizer.
func (AllowAll) CanRead(context.Context, models.User, string) (bool, error) { return true, nil }

// StaticACL grants reads from a user -> project list. A "*" entry on either
// side is a wildcard.
type StaticACL map[string][]string

// CanRead implements Authorizer.
func (a StaticACL) CanRead(_ context.Context, user models.User, projectID string) (bool, error) {
	for _, name := range []string{user.Name, "*"} {
		for _, p := range a[name] {
			if p == "*" || p == projectID {
				return true, nil
			}
		}
	}
	return false, nil
}
