package dicomweb

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/araddon/dateparse"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/Joeycho/xnat-dicomweb-proxy/internal/codec"
	"github.com/Joeycho/xnat-dicomweb-proxy/internal/models"
)

const (
	unknownPatient  = "UNKNOWN"
	defaultModality = "OT"
	defaultSeriesNo = "1"
	dicomDateLayout = "20060102"
)

// StudyAttributes builds the Study-level attribute set of a session.
func StudyAttributes(ctx context.Context, session models.Session) *codec.AttributeSet {
	set := codec.NewAttributeSet()

	if session.UID != "" {
		set.SetString(tag.StudyInstanceUID, "UI", session.UID)
	}

	patient := orDefault(session.SubjectID, unknownPatient)
	set.SetString(tag.PatientName, "PN", patient)
	set.SetString(tag.PatientID, "LO", patient)

	date := synthField(ctx, "StudyDate", stripDateSeparators(session.Date), func() (string, error) {
		return normalizeDate(session.Date)
	})
	set.SetString(tag.StudyDate, "DA", date)

	set.SetString(tag.StudyDescription, "LO", session.Label)
	set.SetString(tag.AccessionNumber, "SH", session.Label)
	set.SetString(tag.StudyID, "SH", session.ID)

	if modalities := modalitiesInStudy(session.Scans); modalities != "" {
		set.SetString(tag.ModalitiesInStudy, "CS", modalities)
	}
	return set
}

// SeriesAttributes builds the Series-level attribute set of a scan. studyUID is
// stamped on the set as given.
func SeriesAttributes(ctx context.Context, scan models.Scan, studyUID string) *codec.AttributeSet {
	set := codec.NewAttributeSet()

	if scan.UID != "" {
		set.SetString(tag.SeriesInstanceUID, "UI", scan.UID)
	}
	set.SetString(tag.Modality, "CS", orDefault(scan.Modality, defaultModality))
	set.SetString(tag.SeriesNumber, "IS", orDefault(scan.ID, defaultSeriesNo))
	set.SetString(tag.SeriesDescription, "LO", scan.Description)
	set.SetString(tag.StudyInstanceUID, "UI", studyUID)
	return set
}

// synthField derives one attribute value. A failing or panicking derivation
// yields fallback and is logged; it never aborts the surrounding set.
func synthField(ctx context.Context, attribute, fallback string, derive func() (string, error)) (value string) {
	defer func() {
		if r := recover(); r != nil {
			slog.WarnContext(ctx, "Attribute synthesis panicked, using fallback", "attribute", attribute, "panic", fmt.Sprint(r))
			value = fallback
		}
	}()
	v, err := derive()
	if err != nil {
		slog.WarnContext(ctx, "Attribute synthesis failed, using fallback", "attribute", attribute, "fallback", fallback, "error", err)
		return fallback
	}
	return v
}

// normalizeDate converts an archive date to DICOM DA (YYYYMMDD). Dates that
// are eight digits once separators are stripped are taken as they stand;
// anything else goes through dateparse.
func normalizeDate(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	if stripped := stripDateSeparators(raw); isDigits(stripped, len(dicomDateLayout)) {
		return stripped, nil
	}
	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return "", fmt.Errorf("parsing session date %q: %w", raw, err)
	}
	return t.Format(dicomDateLayout), nil
}

func stripDateSeparators(raw string) string {
	return strings.NewReplacer("-", "", "/", "", ".", "").Replace(strings.TrimSpace(raw))
}

func isDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// modalitiesInStudy is the backslash-joined list of distinct scan modalities,
// in first-seen order.
func modalitiesInStudy(scans []models.Scan) string {
	seen := make(map[string]bool, len(scans))
	var out []string
	for _, scan := range scans {
		if scan.Modality == "" || seen[scan.Modality] {
			continue
		}
		seen[scan.Modality] = true
		out = append(out, scan.Modality)
	}
	return strings.Join(out, `\`)
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
