package retrieve

import (
	"github.com/caio-sobreiro/dicomfetch/dicom"
	"github.com/caio-sobreiro/dicomfetch/types"
)

// DefaultModality restricts moves to RT images unless configured otherwise.
const DefaultModality = "RTIMAGE"

// Criteria selects what to retrieve. The most specific identifier present
// determines the query level.
type Criteria struct {
	PatientID string `yaml:"patient_id,omitempty"`
	StudyUID  string `yaml:"study_uid,omitempty"`
	SeriesUID string `yaml:"series_uid,omitempty"`
	SOPUID    string `yaml:"sop_uid,omitempty"`
	// Override refetches objects already in the archive.
	Override bool `yaml:"override"`
	// SubPath is the archive directory received objects are stored in.
	SubPath string `yaml:"sub_path,omitempty"`
}

// Level returns the query level of c.
func (c Criteria) Level() types.QueryLevel {
	switch {
	case c.SOPUID != "":
		return types.QueryLevelImage
	case c.SeriesUID != "":
		return types.QueryLevelSeries
	case c.StudyUID != "":
		return types.QueryLevelStudy
	}
	return types.QueryLevelPatient
}

// Empty reports whether c names nothing to retrieve.
func (c Criteria) Empty() bool {
	return c.PatientID == "" && c.StudyUID == "" && c.SeriesUID == "" && c.SOPUID == ""
}

// Identifier builds the C-MOVE identifier for c. An empty modality leaves
// the Modality key out.
func (c Criteria) Identifier(modality string) *dicom.Dataset {
	ds := dicom.NewDataset()
	ds.SetString(dicom.TagQueryRetrieveLevel, string(c.Level()))
	if c.PatientID != "" {
		ds.SetString(dicom.TagPatientID, c.PatientID)
	}
	if c.StudyUID != "" {
		ds.SetString(dicom.TagStudyInstanceUID, c.StudyUID)
	}
	if c.SeriesUID != "" {
		ds.SetString(dicom.TagSeriesInstanceUID, c.SeriesUID)
	}
	if c.SOPUID != "" {
		ds.SetString(dicom.TagSOPInstanceUID, c.SOPUID)
	}
	if modality != "" {
		ds.SetString(dicom.TagModality, modality)
	}
	return ds
}
