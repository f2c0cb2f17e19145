// Package codec holds the DICOM attribute model exchanged with QIDO-RS and
// WADO-RS clients, its DICOM JSON encoding, and the file codec built on
// github.com/suyashkumar/dicom.
package codec

import (
	"fmt"
	"sort"

	"github.com/suyashkumar/dicom/pkg/tag"
)

// Element is one attribute of an AttributeSet. Exactly one of the value
// slices is populated, chosen by the kind of VR.
type Element struct {
	Tag    tag.Tag
	VR     string
	Values []string  // text VRs, IS and DS included
	Ints   []int     // US, SS, UL, SL, UV, SV, AT
	Floats []float64 // FL, FD
	Bytes  []byte    // OB, OW, OD, OF, OL, OV, UN
	Items  []*AttributeSet
}

// IsEmpty reports whether the element carries no value.
func (e Element) IsEmpty() bool {
	values := len(e.Values)
	if values == 1 && e.Values[0] == "" {
		values = 0
	}
	return values == 0 && len(e.Ints) == 0 && len(e.Floats) == 0 && len(e.Bytes) == 0 && len(e.Items) == 0
}

// AttributeSet is an ordered tag -> (VR, value) mapping. Elements are kept in
// ascending tag order, the order DICOM JSON consumers expect. A set handed out
// by this module is not modified afterwards.
type AttributeSet struct {
	elems []Element
}

// NewAttributeSet returns an empty set.
func NewAttributeSet() *AttributeSet {
	return &AttributeSet{}
}

func tagKey(t tag.Tag) uint32 {
	return uint32(t.Group)<<16 | uint32(t.Element)
}

// TagKeyword renders t the way DICOM JSON keys it: eight upper-case hex digits.
func TagKeyword(t tag.Tag) string {
	return fmt.Sprintf("%04X%04X", t.Group, t.Element)
}

func (s *AttributeSet) search(t tag.Tag) (int, bool) {
	k := tagKey(t)
	i := sort.Search(len(s.elems), func(i int) bool { return tagKey(s.elems[i].Tag) >= k })
	return i, i < len(s.elems) && s.elems[i].Tag == t
}

// Set inserts e, replacing any element with the same tag.
func (s *AttributeSet) Set(e Element) {
	i, found := s.search(e.Tag)
	if found {
		s.elems[i] = e
		return
	}
	s.elems = append(s.elems, Element{})
	copy(s.elems[i+1:], s.elems[i:])
	s.elems[i] = e
}

// SetString sets a text-valued attribute. Calling it without values records
// an empty (zero-length) attribute.
func (s *AttributeSet) SetString(t tag.Tag, vr string, values ...string) {
	s.Set(Element{Tag: t, VR: vr, Values: values})
}

// Get returns the element stored under t.
func (s *AttributeSet) Get(t tag.Tag) (Element, bool) {
	if s == nil {
		return Element{}, false
	}
	i, found := s.search(t)
	if !found {
		return Element{}, false
	}
	return s.elems[i], true
}

// Has reports whether t is present.
func (s *AttributeSet) Has(t tag.Tag) bool {
	_, ok := s.Get(t)
	return ok
}

// String returns the first text value of t, or "" when absent.
func (s *AttributeSet) String(t tag.Tag) string {
	e, ok := s.Get(t)
	if !ok || len(e.Values) == 0 {
		return ""
	}
	return e.Values[0]
}

// Len is the number of attributes in the set.
func (s *AttributeSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.elems)
}

// Elements returns a copy of the elements in tag order.
func (s *AttributeSet) Elements() []Element {
	if s == nil {
		return nil
	}
	out := make([]Element, len(s.elems))
	copy(out, s.elems)
	return out
}
