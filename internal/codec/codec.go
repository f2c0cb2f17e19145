package codec

import (
	"errors"
	"fmt"
	"io"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

const (
	// ContentTypeDICOM is the media type of a raw Part 10 instance.
	ContentTypeDICOM = "application/dicom"

	metaGroup = 0x0002
)

var (
	// ErrNoPixelData is returned by Render when the instance carries no image.
	ErrNoPixelData = errors.New("instance has no pixel data")
	// ErrFrameOutOfRange is returned by Render for a frame number past the last frame.
	ErrFrameOutOfRange = errors.New("frame number out of range")
)

// Codec reads DICOM Part 10 streams.
type Codec interface {
	// Parse returns the data set of the stream without its file meta group or pixel data.
	Parse(r io.Reader, size int64) (*AttributeSet, error)
	// Render decodes the 1-based frame of the stream and encodes it as format.
	Render(r io.Reader, size int64, frame int, format ImageFormat) ([]byte, error)
}

// DicomCodec implements Codec on github.com/suyashkumar/dicom.
type DicomCodec struct {
	JPEGQuality int
}

// NewDicomCodec returns a codec encoding rendered JPEGs at the given quality.
func NewDicomCodec(jpegQuality int) *DicomCodec {
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = 90
	}
	return &DicomCodec{JPEGQuality: jpegQuality}
}

// Parse implements Codec.
func (c *DicomCodec) Parse(r io.Reader, size int64) (*AttributeSet, error) {
	ds, err := dicom.Parse(r, size, nil, dicom.SkipPixelData())
	if err != nil {
		return nil, fmt.Errorf("could not parse DICOM: %w", err)
	}
	return fromElements(ds.Elements), nil
}

func fromElements(elems []*dicom.Element) *AttributeSet {
	set := NewAttributeSet()
	for _, elem := range elems {
		if elem == nil || elem.Tag.Group == metaGroup {
			continue
		}
		if e, ok := convertElement(elem); ok {
			set.Set(e)
		}
	}
	return set
}

func convertElement(elem *dicom.Element) (Element, bool) {
	e := Element{Tag: elem.Tag, VR: elem.RawValueRepresentation}
	if elem.Value == nil {
		return e, true
	}
	switch elem.Value.ValueType() {
	case dicom.Strings:
		v, _ := elem.Value.GetValue().([]string)
		e.Values = v
	case dicom.Ints:
		v, _ := elem.Value.GetValue().([]int)
		e.Ints = v
	case dicom.Floats:
		v, _ := elem.Value.GetValue().([]float64)
		e.Floats = v
	case dicom.Bytes:
		v, _ := elem.Value.GetValue().([]byte)
		e.Bytes = v
	case dicom.Sequences:
		items, _ := elem.Value.GetValue().([]*dicom.SequenceItemValue)
		for _, item := range items {
			nested, _ := item.GetValue().([]*dicom.Element)
			e.Items = append(e.Items, fromElements(nested))
		}
		if e.VR == "" {
			e.VR = "SQ"
		}
	default:
		// pixel data and stray sequence items are not part of metadata
		return Element{}, false
	}
	return e, true
}

// RequiredInstanceTags are the attributes every instance-level set must carry.
var RequiredInstanceTags = []tag.Tag{tag.SOPInstanceUID, tag.SOPClassUID}

// ErrMissingAttribute reports a parsed instance lacking a required attribute.
var ErrMissingAttribute = errors.New("required attribute missing")

// ValidateInstance checks set against RequiredInstanceTags.
func ValidateInstance(set *AttributeSet) error {
	for _, t := range RequiredInstanceTags {
		if set.String(t) == "" {
			return fmt.Errorf("%w: %s", ErrMissingAttribute, TagKeyword(t))
		}
	}
	return nil
}
