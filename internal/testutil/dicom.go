// Package testutil builds DICOM fixtures for tests.
package testutil

import (
	"bytes"
	"testing"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

const (
	// CTImageStorage is the SOP class used by fixtures unless overridden.
	CTImageStorage = "1.2.840.10008.5.1.4.1.1.2"
	// ExplicitVRLittleEndian is the transfer syntax fixtures are written in.
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"
)

// Instance describes a fixture file. Empty fields are left out of the data set,
// which is how tests produce files that fail validation.
type Instance struct {
	SOPInstanceUID    string
	SOPClassUID       string
	StudyInstanceUID  string
	SeriesInstanceUID string
	Modality          string
	InstanceNumber    string
	PatientName       string
}

// DicomFile writes inst as a Part 10 stream.
func DicomFile(t testing.TB, inst Instance) []byte {
	t.Helper()

	mediaClass := inst.SOPClassUID
	if mediaClass == "" {
		mediaClass = CTImageStorage
	}
	mediaInstance := inst.SOPInstanceUID
	if mediaInstance == "" {
		mediaInstance = "1.2.3.4.5.6.7.8.9"
	}

	elems := []*dicom.Element{
		mustNewElement(t, tag.FileMetaInformationVersion, []byte{0x00, 0x01}),
		mustNewElement(t, tag.MediaStorageSOPClassUID, []string{mediaClass}),
		mustNewElement(t, tag.MediaStorageSOPInstanceUID, []string{mediaInstance}),
		mustNewElement(t, tag.TransferSyntaxUID, []string{ExplicitVRLittleEndian}),
	}
	add := func(tg tag.Tag, v string) {
		if v != "" {
			elems = append(elems, mustNewElement(t, tg, []string{v}))
		}
	}
	add(tag.SOPClassUID, inst.SOPClassUID)
	add(tag.SOPInstanceUID, inst.SOPInstanceUID)
	add(tag.Modality, inst.Modality)
	add(tag.PatientName, inst.PatientName)
	add(tag.StudyInstanceUID, inst.StudyInstanceUID)
	add(tag.SeriesInstanceUID, inst.SeriesInstanceUID)
	add(tag.InstanceNumber, inst.InstanceNumber)

	var buf bytes.Buffer
	if err := dicom.Write(&buf, dicom.Dataset{Elements: elems}, dicom.SkipVRVerification()); err != nil {
		t.Fatalf("writing DICOM fixture: %v", err)
	}
	return buf.Bytes()
}

// mustNewElement wraps dicom.NewElement, failing the test on error.
func mustNewElement(t testing.TB, tg tag.Tag, data interface{}) *dicom.Element {
	t.Helper()
	e, err := dicom.NewElement(tg, data)
	if err != nil {
		t.Fatalf("building DICOM element %v: %v", tg, err)
	}
	return e
}
