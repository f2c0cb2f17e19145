package dicomweb

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sourcegraph/conc/iter"
	"github.com/spf13/afero"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/Joeycho/xnat-dicomweb-proxy/internal/codec"
	"github.com/Joeycho/xnat-dicomweb-proxy/internal/models"
)

// Instance is a DICOM file found under a scan resource.
type Instance struct {
	Path           string
	Size           int64
	SOPInstanceUID string
	Attributes     *codec.AttributeSet
}

// Open returns the raw Part 10 stream of the instance.
func (i *Instance) Open(fs afero.Fs) (afero.File, error) {
	f, err := fs.Open(i.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open instance %s: %w", i.Path, err)
	}
	return f, nil
}

// InstanceResult is the outcome of reading one candidate file. Exactly one of
// Instance and Err is set.
type InstanceResult struct {
	Path     string
	Instance *Instance
	Err      error
}

// scopeFiles lists the candidate instance files of the given scans, scan by
// scan, resource by resource, each directory in name order.
func (s *Service) scopeFiles(ctx context.Context, session *models.Session, scans []models.Scan) []string {
	var files []string
	for _, scan := range scans {
		for _, res := range scan.Resources {
			if !IsDicomResource(res.Label) {
				continue
			}
			dir := s.paths.ResolveSeriesPath(res, scan, *session)
			if dir == "" {
				slog.DebugContext(ctx, "No path for resource", "session", session.ID, "scan", scan.ID, "resource", res.Label)
				continue
			}
			files = append(files, s.listDicomFiles(ctx, dir)...)
		}
	}
	return files
}

func (s *Service) listDicomFiles(ctx context.Context, dir string) []string {
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		slog.DebugContext(ctx, "Resource directory not readable", "dir", dir, "error", err)
		return nil
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !hasDicomExtension(entry.Name()) {
			continue
		}
		files = append(files, JoinPaths(dir, entry.Name()))
	}
	return files
}

// parseFiles reads files in a bounded pool. Results come back in input order.
func (s *Service) parseFiles(ctx context.Context, files []string) []InstanceResult {
	mapper := iter.Mapper[string, InstanceResult]{MaxGoroutines: s.workers}
	return mapper.Map(files, func(path *string) InstanceResult {
		if err := ctx.Err(); err != nil {
			return InstanceResult{Path: *path, Err: err}
		}
		inst, err := s.readInstance(*path)
		if err != nil {
			return InstanceResult{Path: *path, Err: err}
		}
		return InstanceResult{Path: *path, Instance: inst}
	})
}

func (s *Service) readInstance(path string) (*Instance, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	attrs, err := s.codec.Parse(f, info.Size())
	if err != nil {
		return nil, err
	}
	if err := codec.ValidateInstance(attrs); err != nil {
		return nil, err
	}
	return &Instance{
		Path:           path,
		Size:           info.Size(),
		SOPInstanceUID: strings.TrimRight(attrs.String(tag.SOPInstanceUID), " \x00"),
		Attributes:     attrs,
	}, nil
}

// collectInstances keeps successful results in order. Failures are logged and
// counted; a cancelled context fails the whole call.
func (s *Service) collectInstances(ctx context.Context, results []InstanceResult) ([]*Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	instances := make([]*Instance, 0, len(results))
	var skipped int64
	for _, r := range results {
		if r.Err != nil {
			skipped++
			slog.WarnContext(ctx, "Skipping unreadable instance file", "path", r.Path, "error", r.Err)
			continue
		}
		instances = append(instances, r.Instance)
	}
	if skipped > 0 && s.skipped != nil {
		s.skipped.Add(ctx, skipped)
	}
	return instances, nil
}

// scopeInstances resolves and parses every instance of the given scans.
func (s *Service) scopeInstances(ctx context.Context, session *models.Session, scans []models.Scan) ([]*Instance, error) {
	files := s.scopeFiles(ctx, session, scans)
	if len(files) == 0 {
		return nil, nil
	}
	return s.collectInstances(ctx, s.parseFiles(ctx, files))
}
