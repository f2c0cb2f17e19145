package dicomweb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/textproto"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/Joeycho/xnat-dicomweb-proxy/internal/codec"
)

// MultipartContentType is the Content-Type of a multipart/related body whose
// parts are all of partType.
func MultipartContentType(partType, boundary string) string {
	return fmt.Sprintf("multipart/related; type=%q; boundary=%s", partType, boundary)
}

// NewBoundary returns a fresh multipart boundary.
func NewBoundary() string {
	return uuid.NewString()
}

// Bundle is the ordered set of instances answering a series or study
// retrieve, streamed as multipart/related application/dicom parts.
type Bundle struct {
	Instances []*Instance

	fs       afero.Fs
	boundary string
}

// NewBundle returns a Bundle reading instances from fs.
func NewBundle(fs afero.Fs, instances []*Instance) *Bundle {
	return &Bundle{Instances: instances, fs: fs, boundary: NewBoundary()}
}

// Boundary separates the parts of the body.
func (b *Bundle) Boundary() string {
	return b.boundary
}

// ContentType is the Content-Type header of the body.
func (b *Bundle) ContentType() string {
	return MultipartContentType(codec.ContentTypeDICOM, b.boundary)
}

// Write streams every instance as one part. An instance that cannot be opened
// any more is skipped; a failure writing to w is returned.
func (b *Bundle) Write(ctx context.Context, w io.Writer) error {
	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(b.boundary); err != nil {
		return fmt.Errorf("invalid boundary: %w", err)
	}
	for _, inst := range b.Instances {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := inst.Open(b.fs)
		if err != nil {
			slog.WarnContext(ctx, "Skipping instance that can no longer be opened", "path", inst.Path, "error", err)
			continue
		}
		err = writePart(mw, codec.ContentTypeDICOM, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("failed to stream instance %s: %w", inst.SOPInstanceUID, err)
		}
	}
	return mw.Close()
}

// WriteRenderedFrames writes frames as multipart/related parts of their own
// content type, separated by boundary.
func WriteRenderedFrames(w io.Writer, boundary string, frames []RenderedFrame) error {
	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(boundary); err != nil {
		return fmt.Errorf("invalid boundary: %w", err)
	}
	for _, frame := range frames {
		if err := writePart(mw, frame.ContentType, bytes.NewReader(frame.Data)); err != nil {
			return fmt.Errorf("failed to write frame %d: %w", frame.Number, err)
		}
	}
	return mw.Close()
}

func writePart(mw *multipart.Writer, contentType string, r io.Reader) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, r)
	return err
}
