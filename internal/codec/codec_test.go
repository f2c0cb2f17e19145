package codec_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/Joeycho/xnat-dicomweb-proxy/internal/codec"
	"github.com/Joeycho/xnat-dicomweb-proxy/internal/testutil"
)

func TestDicomCodec_Parse(t *testing.T) {
	raw := testutil.DicomFile(t, testutil.Instance{
		SOPInstanceUID:    "1.2.3.100",
		SOPClassUID:       testutil.CTImageStorage,
		StudyInstanceUID:  "1.2.3",
		SeriesInstanceUID: "1.2.3.1",
		Modality:          "CT",
		InstanceNumber:    "4",
	})

	set, err := codec.NewDicomCodec(90).Parse(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)

	assert.Equal(t, "1.2.3.100", set.String(tag.SOPInstanceUID))
	assert.Equal(t, testutil.CTImageStorage, set.String(tag.SOPClassUID))
	assert.Equal(t, "CT", set.String(tag.Modality))
	assert.False(t, set.Has(tag.TransferSyntaxUID), "file meta group is not part of the data set")
	assert.NoError(t, codec.ValidateInstance(set))
}

func TestDicomCodec_ParseGarbage(t *testing.T) {
	raw := []byte{0, 0, 0, 0}
	_, err := codec.NewDicomCodec(90).Parse(bytes.NewReader(raw), int64(len(raw)))
	assert.Error(t, err)
}

func TestDicomCodec_RenderWithoutPixelData(t *testing.T) {
	raw := testutil.DicomFile(t, testutil.Instance{SOPInstanceUID: "1.2.3.100", SOPClassUID: testutil.CTImageStorage})

	_, err := codec.NewDicomCodec(90).Render(bytes.NewReader(raw), int64(len(raw)), 1, codec.FormatJPEG)
	assert.ErrorIs(t, err, codec.ErrNoPixelData)
}

func TestNegotiateFormat(t *testing.T) {
	assert.Equal(t, codec.FormatJPEG, codec.NegotiateFormat(""))
	assert.Equal(t, codec.FormatJPEG, codec.NegotiateFormat("*/*"))
	assert.Equal(t, codec.FormatPNG, codec.NegotiateFormat("image/png"))
	assert.Equal(t, codec.FormatJPEG, codec.NegotiateFormat("image/png, image/jpeg"))
}

func TestNewDicomCodec_ClampsQuality(t *testing.T) {
	assert.Equal(t, 90, codec.NewDicomCodec(0).JPEGQuality)
	assert.Equal(t, 90, codec.NewDicomCodec(101).JPEGQuality)
	assert.Equal(t, 75, codec.NewDicomCodec(75).JPEGQuality)
}
