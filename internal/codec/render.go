package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// ImageFormat is the media type of a rendered frame.
type ImageFormat string

const (
	FormatJPEG ImageFormat = "image/jpeg"
	FormatPNG  ImageFormat = "image/png"
)

// NegotiateFormat picks the rendered media type from an Accept header.
// JPEG is the default; PNG is used only when it is asked for and JPEG is not.
func NegotiateFormat(accept string) ImageFormat {
	accept = strings.ToLower(accept)
	if strings.Contains(accept, string(FormatPNG)) && !strings.Contains(accept, string(FormatJPEG)) {
		return FormatPNG
	}
	return FormatJPEG
}

// Render implements Codec.
func (c *DicomCodec) Render(r io.Reader, size int64, frame int, format ImageFormat) ([]byte, error) {
	ds, err := dicom.Parse(r, size, nil)
	if err != nil {
		return nil, fmt.Errorf("could not parse DICOM: %w", err)
	}
	pixelElem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil || pixelElem.Value == nil {
		return nil, ErrNoPixelData
	}
	info, ok := pixelElem.Value.GetValue().(dicom.PixelDataInfo)
	if !ok || len(info.Frames) == 0 {
		return nil, ErrNoPixelData
	}
	if frame < 1 || frame > len(info.Frames) {
		return nil, fmt.Errorf("%w: %d of %d", ErrFrameOutOfRange, frame, len(info.Frames))
	}
	img, err := info.Frames[frame-1].GetImage()
	if err != nil {
		return nil, fmt.Errorf("decoding frame %d: %w", frame, err)
	}
	return c.encode(toDisplay(img, sampleLayoutOf(ds)), format)
}

// sampleLayout says how stored 16-bit samples are to be read.
type sampleLayout struct {
	signed     bool
	bitsStored int
}

func sampleLayoutOf(ds dicom.Dataset) sampleLayout {
	layout := sampleLayout{bitsStored: 16}
	if v, ok := firstInt(ds, tag.PixelRepresentation); ok {
		layout.signed = v == 1
	}
	if v, ok := firstInt(ds, tag.BitsStored); ok && v > 0 && v < 16 {
		layout.bitsStored = v
	}
	return layout
}

func firstInt(ds dicom.Dataset, t tag.Tag) (int, bool) {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem.Value == nil {
		return 0, false
	}
	ints, ok := elem.Value.GetValue().([]int)
	if !ok || len(ints) == 0 {
		return 0, false
	}
	return ints[0], true
}

// unsigned maps a raw stored sample onto an order-preserving unsigned scale.
// Signed samples are sign-extended from bitsStored and shifted by 0x8000.
func (l sampleLayout) unsigned(raw uint16) uint16 {
	if !l.signed {
		return raw
	}
	v := int32(raw) & (1<<l.bitsStored - 1)
	if v&(1<<(l.bitsStored-1)) != 0 {
		v -= 1 << l.bitsStored
	}
	return uint16(v + 0x8000)
}

func (c *DicomCodec) encode(img image.Image, format ImageFormat) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case FormatPNG:
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encoding png: %w", err)
		}
	default:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.JPEGQuality}); err != nil {
			return nil, fmt.Errorf("encoding jpeg: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// toDisplay stretches 16-bit grayscale to the full 8-bit range. Encoders would
// otherwise keep only the high byte, which leaves most CT and MR frames black.
func toDisplay(img image.Image, layout sampleLayout) image.Image {
	g16, ok := img.(*image.Gray16)
	if !ok {
		return img
	}
	b := g16.Bounds()
	lo, hi := uint16(0xFFFF), uint16(0)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := layout.unsigned(g16.Gray16At(x, y).Y)
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}
	out := image.NewGray(b)
	span := uint32(hi) - uint32(lo)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if span == 0 {
				continue
			}
			v := uint32(layout.unsigned(g16.Gray16At(x, y).Y) - lo)
			out.Pix[out.PixOffset(x, y)] = uint8(v * 255 / span)
		}
	}
	return out
}
