// File: internal/models/archive.go
package models

// Project is an archive project, the access-control boundary for everything below it.
type Project struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Session is an imaging session. It is exposed as a DICOM Study.
type Session struct {
	ID        string `json:"id" yaml:"id"`
	UID       string `json:"uid,omitempty" yaml:"uid,omitempty"` // StudyInstanceUID source
	SubjectID string `json:"subjectId,omitempty" yaml:"subject_id,omitempty"`
	Label     string `json:"label,omitempty" yaml:"label,omitempty"`
	Date      string `json:"date,omitempty" yaml:"date,omitempty"` // as stored by the archive, e.g. 2024-01-15
	Project   string `json:"project" yaml:"project"`
	Scans     []Scan `json:"scans,omitempty" yaml:"scans,omitempty"`
}

// Scan is a scan within a session. It is exposed as a DICOM Series.
type Scan struct {
	ID          string     `json:"id" yaml:"id"`
	UID         string     `json:"uid,omitempty" yaml:"uid,omitempty"` // SeriesInstanceUID source
	Modality    string     `json:"modality,omitempty" yaml:"modality,omitempty"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Resources   []Resource `json:"resources,omitempty" yaml:"resources,omitempty"`
}

// Resource is a labeled file collection attached to a scan (DICOM, SNAPSHOTS, ...).
type Resource struct {
	Label    string `json:"label" yaml:"label"`
	Location string `json:"location,omitempty" yaml:"location,omitempty"` // URI or path hint, may be empty
}

// User is the caller identity handed to the archive collaborators.
type User struct {
	Name     string
	Password string
}

// Guest is used when a request carries no credentials.
var Guest = User{Name: "guest"}

// IsGuest reports whether u is the anonymous caller.
func (u User) IsGuest() bool {
	return u.Name == "" || u.Name == Guest.Name
}
