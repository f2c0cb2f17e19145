package dicomweb

import (
	"log/slog"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Joeycho/xnat-dicomweb-proxy/internal/archive"
	"github.com/Joeycho/xnat-dicomweb-proxy/internal/codec"
)

const (
	instrumentationName = "github.com/Joeycho/xnat-dicomweb-proxy/internal/dicomweb"

	// DefaultParseWorkers bounds concurrent file parses per request.
	DefaultParseWorkers = 4
)

// Options tunes a Service.
type Options struct {
	ArchiveRoot  string
	ParseWorkers int
}

// Service answers QIDO-RS and WADO-RS requests against the archive.
// It holds no per-request state and is safe for concurrent use.
type Service struct {
	resolver *Resolver
	paths    *PathResolver
	fs       afero.Fs
	codec    codec.Codec
	workers  int

	tracer  trace.Tracer
	skipped metric.Int64Counter
	renders metric.Int64Counter
}

// NewService wires a Service. fs is where resource directories are read from;
// production passes a read-only OS filesystem.
func NewService(catalog archive.Catalog, authz archive.Authorizer, fs afero.Fs, c codec.Codec, opts Options) *Service {
	if opts.ParseWorkers <= 0 {
		opts.ParseWorkers = DefaultParseWorkers
	}
	s := &Service{
		resolver: NewResolver(catalog, authz),
		paths:    NewPathResolver(opts.ArchiveRoot),
		fs:       fs,
		codec:    c,
		workers:  opts.ParseWorkers,
		tracer:   otel.Tracer(instrumentationName),
	}

	meter := otel.Meter(instrumentationName)
	var err error
	s.skipped, err = meter.Int64Counter("dicomweb.instances.skipped",
		metric.WithDescription("Instance files skipped because they could not be read or parsed"))
	if err != nil {
		slog.Warn("Failed to create skipped-instance counter", "error", err)
	}
	s.renders, err = meter.Int64Counter("dicomweb.render.failures",
		metric.WithDescription("Rendered frame requests that could not be produced"))
	if err != nil {
		slog.Warn("Failed to create render failure counter", "error", err)
	}
	return s
}

// Fs is the filesystem instances are read from.
func (s *Service) Fs() afero.Fs {
	return s.fs
}
