package dicomweb

import (
	"path/filepath"
	"strings"

	"github.com/Joeycho/xnat-dicomweb-proxy/internal/models"
)

const (
	// DefaultArchiveRoot is XNAT's stock archive location.
	DefaultArchiveRoot = "/data/xnat/archive"

	archiveDir = "arc001"
	scansDir   = "SCANS"
)

// JoinPaths joins base and segments with exactly one separator between them,
// whatever separators the inputs start or end with.
func JoinPaths(base string, segments ...string) string {
	return filepath.Join(append([]string{base}, segments...)...)
}

// BuildFallbackArchivePath is the session directory under XNAT's default layout.
func BuildFallbackArchivePath(root, projectID, sessionLabel string) string {
	return JoinPaths(root, projectID, archiveDir, sessionLabel)
}

// PathResolver locates the directory holding a scan resource's files.
type PathResolver struct {
	Root string
}

// NewPathResolver returns a resolver for the given archive root.
func NewPathResolver(root string) *PathResolver {
	if root == "" {
		root = DefaultArchiveRoot
	}
	return &PathResolver{Root: root}
}

// ResolveSeriesPath prefers the resource's own location and falls back to
// <root>/<project>/arc001/<session label>/SCANS/<scan id>/<resource label>.
// It returns "" when neither rule has enough to go on.
func (p *PathResolver) ResolveSeriesPath(res models.Resource, scan models.Scan, session models.Session) string {
	if dir, ok := p.fromLocation(res.Location); ok {
		return dir
	}
	if session.Project == "" || session.Label == "" || scan.ID == "" || res.Label == "" {
		return ""
	}
	return JoinPaths(BuildFallbackArchivePath(p.Root, session.Project, session.Label), scansDir, scan.ID, res.Label)
}

func (p *PathResolver) fromLocation(loc string) (string, bool) {
	loc = strings.TrimSpace(loc)
	if loc == "" {
		return "", false
	}
	loc = strings.TrimPrefix(loc, "file://")
	if strings.Contains(loc, "://") {
		return "", false
	}
	// resource locations usually name the catalog file, not its directory
	if strings.EqualFold(filepath.Ext(loc), ".xml") {
		loc = filepath.Dir(loc)
	}
	if !filepath.IsAbs(loc) {
		return JoinPaths(p.Root, loc), true
	}
	return filepath.Clean(loc), true
}
