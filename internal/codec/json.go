package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// ContentTypeDicomJSON is the media type of QIDO-RS and metadata responses.
	ContentTypeDicomJSON = "application/dicom+json"
)

// jsonAttribute is the per-tag object of the DICOM JSON model (PS3.18 Annex F).
type jsonAttribute struct {
	VR           string `json:"vr"`
	Value        []any  `json:"Value,omitempty"`
	InlineBinary string `json:"InlineBinary,omitempty"`
}

type personName struct {
	Alphabetic string `json:"Alphabetic,omitempty"`
}

// MarshalJSON encodes the set as a DICOM JSON object keyed by tag.
func (s *AttributeSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range s.Elements() {
		if i > 0 {
			buf.WriteByte(',')
		}
		attr, err := encodeElement(e)
		if err != nil {
			return nil, fmt.Errorf("encoding attribute %s: %w", TagKeyword(e.Tag), err)
		}
		body, err := json.Marshal(attr)
		if err != nil {
			return nil, fmt.Errorf("encoding attribute %s: %w", TagKeyword(e.Tag), err)
		}
		buf.WriteString(`"` + TagKeyword(e.Tag) + `":`)
		buf.Write(body)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalArray encodes sets as a DICOM JSON array. An empty input encodes as [].
func MarshalArray(sets []*AttributeSet) ([]byte, error) {
	if sets == nil {
		sets = []*AttributeSet{}
	}
	return json.Marshal(sets)
}

func encodeElement(e Element) (jsonAttribute, error) {
	attr := jsonAttribute{VR: e.VR}
	if e.IsEmpty() {
		return attr, nil
	}
	switch {
	case len(e.Items) > 0:
		for _, item := range e.Items {
			attr.Value = append(attr.Value, item)
		}
	case len(e.Bytes) > 0:
		attr.InlineBinary = base64.StdEncoding.EncodeToString(e.Bytes)
	case len(e.Ints) > 0:
		for _, v := range e.Ints {
			if e.VR == "AT" {
				attr.Value = append(attr.Value, fmt.Sprintf("%08X", uint32(v)))
				continue
			}
			attr.Value = append(attr.Value, v)
		}
	case len(e.Floats) > 0:
		for _, v := range e.Floats {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				attr.Value = append(attr.Value, nil)
				continue
			}
			attr.Value = append(attr.Value, v)
		}
	default:
		for _, v := range e.Values {
			attr.Value = append(attr.Value, encodeText(e.VR, v))
		}
	}
	return attr, nil
}

func encodeText(vr, v string) any {
	v = strings.TrimRight(v, " \x00")
	if v == "" {
		return nil
	}
	switch vr {
	case "PN":
		return personName{Alphabetic: v}
	case "IS":
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n
		}
	case "DS":
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f
		}
	}
	return v
}
