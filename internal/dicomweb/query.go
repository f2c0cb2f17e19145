package dicomweb

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Joeycho/xnat-dicomweb-proxy/internal/codec"
	"github.com/Joeycho/xnat-dicomweb-proxy/internal/models"
)

// SearchStudies lists one study set per session of the project that has a
// StudyInstanceUID, in catalog order. An unknown or unreadable project yields
// an empty list.
func (s *Service) SearchStudies(ctx context.Context, user models.User, projectID string) ([]*codec.AttributeSet, error) {
	ctx, span := s.tracer.Start(ctx, "dicomweb.SearchStudies", trace.WithAttributes(
		attribute.String("dicomweb.project", projectID),
	))
	defer span.End()

	sessions, err := s.resolver.ProjectSessions(ctx, user, projectID)
	if err != nil {
		return emptyOnNotFound(ctx, err, "projectID", projectID)
	}

	out := make([]*codec.AttributeSet, 0, len(sessions))
	for _, session := range sessions {
		if session.UID == "" {
			continue
		}
		out = append(out, StudyAttributes(ctx, session))
	}
	slog.DebugContext(ctx, "Searched studies", "projectID", projectID, "count", len(out))
	return out, nil
}

// SearchSeries lists one series set per scan of the study, in scan order.
func (s *Service) SearchSeries(ctx context.Context, user models.User, projectID, studyUID string) ([]*codec.AttributeSet, error) {
	ctx, span := s.tracer.Start(ctx, "dicomweb.SearchSeries", trace.WithAttributes(
		attribute.String("dicomweb.project", projectID),
		attribute.String("dicomweb.study", studyUID),
	))
	defer span.End()

	session, err := s.resolver.ResolveSession(ctx, user, projectID, studyUID)
	if err != nil {
		return emptyOnNotFound(ctx, err, "projectID", projectID, "studyUID", studyUID)
	}

	out := make([]*codec.AttributeSet, 0, len(session.Scans))
	for _, scan := range session.Scans {
		out = append(out, SeriesAttributes(ctx, scan, studyUID))
	}
	return out, nil
}

// SearchInstances lists the parsed attribute sets of every readable instance
// of the series. Unreadable files are skipped.
func (s *Service) SearchInstances(ctx context.Context, user models.User, projectID, studyUID, seriesUID string) ([]*codec.AttributeSet, error) {
	ctx, span := s.tracer.Start(ctx, "dicomweb.SearchInstances", trace.WithAttributes(
		attribute.String("dicomweb.project", projectID),
		attribute.String("dicomweb.study", studyUID),
		attribute.String("dicomweb.series", seriesUID),
	))
	defer span.End()

	instances, err := s.seriesInstances(ctx, user, projectID, studyUID, seriesUID)
	if err != nil {
		return emptyOnNotFound(ctx, err, "projectID", projectID, "studyUID", studyUID, "seriesUID", seriesUID)
	}
	span.SetAttributes(attribute.Int("dicomweb.instances", len(instances)))
	return attributeSets(instances), nil
}

// seriesInstances resolves the series and parses its instances.
func (s *Service) seriesInstances(ctx context.Context, user models.User, projectID, studyUID, seriesUID string) ([]*Instance, error) {
	session, err := s.resolver.ResolveSession(ctx, user, projectID, studyUID)
	if err != nil {
		return nil, err
	}
	scan, err := s.resolver.ResolveScan(session, seriesUID)
	if err != nil {
		return nil, err
	}
	return s.scopeInstances(ctx, session, []models.Scan{*scan})
}

// studyInstances resolves the study and parses the instances of all its scans.
func (s *Service) studyInstances(ctx context.Context, user models.User, projectID, studyUID string) ([]*Instance, error) {
	session, err := s.resolver.ResolveSession(ctx, user, projectID, studyUID)
	if err != nil {
		return nil, err
	}
	return s.scopeInstances(ctx, session, session.Scans)
}

func attributeSets(instances []*Instance) []*codec.AttributeSet {
	out := make([]*codec.AttributeSet, 0, len(instances))
	for _, inst := range instances {
		out = append(out, inst.Attributes)
	}
	return out
}

// emptyOnNotFound turns ErrNotFound into an empty search result.
func emptyOnNotFound(ctx context.Context, err error, attrs ...any) ([]*codec.AttributeSet, error) {
	if errors.Is(err, ErrNotFound) {
		slog.DebugContext(ctx, "Search scope not found", attrs...)
		return []*codec.AttributeSet{}, nil
	}
	return nil, err
}
