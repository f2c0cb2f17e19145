package dicomweb

import (
	"path/filepath"
	"strings"
)

// IsDicomResource decides from its label alone whether a scan resource holds
// DICOM instances: "DICOM" itself, or any label mentioning "secondary".
func IsDicomResource(label string) bool {
	if strings.EqualFold(label, "DICOM") {
		return true
	}
	return strings.Contains(strings.ToLower(label), "secondary")
}

func hasDicomExtension(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".dcm", ".dicom":
		return true
	}
	return false
}
