package dicomweb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Joeycho/xnat-dicomweb-proxy/internal/codec"
	"github.com/Joeycho/xnat-dicomweb-proxy/internal/models"
)

// RenderedFrame is one frame of an instance encoded as a consumer image.
type RenderedFrame struct {
	Number      int
	ContentType string
	Data        []byte
}

func scopeAttrs(projectID, studyUID, seriesUID, sopUID string) trace.SpanStartOption {
	attrs := []attribute.KeyValue{attribute.String("dicomweb.project", projectID)}
	if studyUID != "" {
		attrs = append(attrs, attribute.String("dicomweb.study", studyUID))
	}
	if seriesUID != "" {
		attrs = append(attrs, attribute.String("dicomweb.series", seriesUID))
	}
	if sopUID != "" {
		attrs = append(attrs, attribute.String("dicomweb.instance", sopUID))
	}
	return trace.WithAttributes(attrs...)
}

// RetrieveInstance finds the instance of the series whose parsed
// SOPInstanceUID is sopUID.
func (s *Service) RetrieveInstance(ctx context.Context, user models.User, projectID, studyUID, seriesUID, sopUID string) (*Instance, error) {
	ctx, span := s.tracer.Start(ctx, "dicomweb.RetrieveInstance", scopeAttrs(projectID, studyUID, seriesUID, sopUID))
	defer span.End()
	return s.findInstance(ctx, user, projectID, studyUID, seriesUID, sopUID)
}

func (s *Service) findInstance(ctx context.Context, user models.User, projectID, studyUID, seriesUID, sopUID string) (*Instance, error) {
	if sopUID == "" {
		return nil, ErrNotFound
	}
	instances, err := s.seriesInstances(ctx, user, projectID, studyUID, seriesUID)
	if err != nil {
		return nil, err
	}
	for _, inst := range instances {
		if inst.SOPInstanceUID == sopUID {
			return inst, nil
		}
	}
	return nil, ErrNotFound
}

// RetrieveMetadata returns the attribute set of one instance as a
// single-element list.
func (s *Service) RetrieveMetadata(ctx context.Context, user models.User, projectID, studyUID, seriesUID, sopUID string) ([]*codec.AttributeSet, error) {
	ctx, span := s.tracer.Start(ctx, "dicomweb.RetrieveMetadata", scopeAttrs(projectID, studyUID, seriesUID, sopUID))
	defer span.End()

	inst, err := s.findInstance(ctx, user, projectID, studyUID, seriesUID, sopUID)
	if err != nil {
		return nil, err
	}
	return []*codec.AttributeSet{inst.Attributes}, nil
}

// RetrieveSeries bundles every readable instance of the series.
func (s *Service) RetrieveSeries(ctx context.Context, user models.User, projectID, studyUID, seriesUID string) (*Bundle, error) {
	ctx, span := s.tracer.Start(ctx, "dicomweb.RetrieveSeries", scopeAttrs(projectID, studyUID, seriesUID, ""))
	defer span.End()

	instances, err := s.seriesInstances(ctx, user, projectID, studyUID, seriesUID)
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, ErrNotFound
	}
	span.SetAttributes(attribute.Int("dicomweb.instances", len(instances)))
	return NewBundle(s.fs, instances), nil
}

// RetrieveStudy bundles every readable instance of every scan of the study.
func (s *Service) RetrieveStudy(ctx context.Context, user models.User, projectID, studyUID string) (*Bundle, error) {
	ctx, span := s.tracer.Start(ctx, "dicomweb.RetrieveStudy", scopeAttrs(projectID, studyUID, "", ""))
	defer span.End()

	instances, err := s.studyInstances(ctx, user, projectID, studyUID)
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, ErrNotFound
	}
	span.SetAttributes(attribute.Int("dicomweb.instances", len(instances)))
	return NewBundle(s.fs, instances), nil
}

// RetrieveSeriesMetadata returns the attribute sets of every readable
// instance of the series.
func (s *Service) RetrieveSeriesMetadata(ctx context.Context, user models.User, projectID, studyUID, seriesUID string) ([]*codec.AttributeSet, error) {
	ctx, span := s.tracer.Start(ctx, "dicomweb.RetrieveSeriesMetadata", scopeAttrs(projectID, studyUID, seriesUID, ""))
	defer span.End()

	instances, err := s.seriesInstances(ctx, user, projectID, studyUID, seriesUID)
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, ErrNotFound
	}
	return attributeSets(instances), nil
}

// RetrieveStudyMetadata returns the attribute sets of every readable instance
// of the study.
func (s *Service) RetrieveStudyMetadata(ctx context.Context, user models.User, projectID, studyUID string) ([]*codec.AttributeSet, error) {
	ctx, span := s.tracer.Start(ctx, "dicomweb.RetrieveStudyMetadata", scopeAttrs(projectID, studyUID, "", ""))
	defer span.End()

	instances, err := s.studyInstances(ctx, user, projectID, studyUID)
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, ErrNotFound
	}
	return attributeSets(instances), nil
}

// RetrieveRendered renders the requested frames of an instance, frame 1 when
// none are given. Either every frame is produced or ErrRenderFailed is
// returned.
func (s *Service) RetrieveRendered(ctx context.Context, user models.User, projectID, studyUID, seriesUID, sopUID string, frames []int, format codec.ImageFormat) ([]RenderedFrame, error) {
	ctx, span := s.tracer.Start(ctx, "dicomweb.RetrieveRendered", scopeAttrs(projectID, studyUID, seriesUID, sopUID))
	defer span.End()

	inst, err := s.findInstance(ctx, user, projectID, studyUID, seriesUID, sopUID)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		frames = []int{1}
	}
	if format == "" {
		format = codec.FormatJPEG
	}

	out := make([]RenderedFrame, 0, len(frames))
	for _, n := range frames {
		data, err := s.renderFrame(inst, n, format)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "render failed")
			if s.renders != nil {
				s.renders.Add(ctx, 1)
			}
			slog.WarnContext(ctx, "Failed to render frame", "projectID", projectID, "sopInstanceUID", sopUID, "frame", n, "error", err)
			return nil, ErrRenderFailed
		}
		out = append(out, RenderedFrame{Number: n, ContentType: string(format), Data: data})
	}
	return out, nil
}

func (s *Service) renderFrame(inst *Instance, frame int, format codec.ImageFormat) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decoder panic: %v", r)
		}
	}()
	f, err := inst.Open(s.fs)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err = s.codec.Render(f, inst.Size, frame, format)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty rendered frame")
	}
	return data, nil
}
