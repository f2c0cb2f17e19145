package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/suyashkumar/dicom/pkg/tag"
)

func TestAttributeSet_KeepsTagOrder(t *testing.T) {
	set := NewAttributeSet()
	set.SetString(tag.StudyInstanceUID, "UI", "1.2.3")
	set.SetString(tag.PatientName, "PN", "Doe^John")
	set.SetString(tag.SOPInstanceUID, "UI", "1.2.3.4")

	var got []string
	for _, e := range set.Elements() {
		got = append(got, TagKeyword(e.Tag))
	}
	assert.Equal(t, []string{"00080018", "00100010", "0020000D"}, got)
}

func TestAttributeSet_SetReplaces(t *testing.T) {
	set := NewAttributeSet()
	set.SetString(tag.Modality, "CS", "CT")
	set.SetString(tag.Modality, "CS", "MR")

	assert.Equal(t, 1, set.Len())
	assert.Equal(t, "MR", set.String(tag.Modality))
}

func TestAttributeSet_Missing(t *testing.T) {
	set := NewAttributeSet()
	assert.False(t, set.Has(tag.Modality))
	assert.Equal(t, "", set.String(tag.Modality))

	var nilSet *AttributeSet
	assert.Equal(t, 0, nilSet.Len())
	assert.False(t, nilSet.Has(tag.Modality))
}

func TestElement_IsEmpty(t *testing.T) {
	assert.True(t, Element{VR: "DA"}.IsEmpty())
	assert.True(t, Element{VR: "DA", Values: []string{""}}.IsEmpty())
	assert.False(t, Element{VR: "DA", Values: []string{"20240101"}}.IsEmpty())
	assert.False(t, Element{VR: "US", Ints: []int{0}}.IsEmpty())
}

func TestValidateInstance(t *testing.T) {
	set := NewAttributeSet()
	set.SetString(tag.SOPInstanceUID, "UI", "1.2.3")
	err := ValidateInstance(set)
	assert.ErrorIs(t, err, ErrMissingAttribute)
	assert.Contains(t, err.Error(), "00080016")

	set.SetString(tag.SOPClassUID, "UI", "1.2.840.10008.5.1.4.1.1.2")
	assert.NoError(t, ValidateInstance(set))
}
