// Package dicomweb translates DICOMweb requests (QIDO-RS search, WADO-RS
// retrieve) into lookups against the imaging archive.
//
// The archive's hierarchy is Project / Session / Scan / Resource. A Session is
// exposed as a Study, a Scan as a Series, and every DICOM file found in a
// DICOM-bearing resource directory as an Instance. Study- and Series-level
// attributes are synthesised from archive metadata; Instance-level attributes
// are read from the files. Nothing is cached: every call resolves the
// hierarchy and lists the filesystem again.
package dicomweb
