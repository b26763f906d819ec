package dicom

import "sort"

// Well-known tags used by the query/retrieve services and the archive.
var (
	TagFileMetaInformationGroupLength = Tag{0x0002, 0x0000}
	TagFileMetaInformationVersion     = Tag{0x0002, 0x0001}
	TagMediaStorageSOPClassUID        = Tag{0x0002, 0x0002}
	TagMediaStorageSOPInstanceUID     = Tag{0x0002, 0x0003}
	TagTransferSyntaxUID              = Tag{0x0002, 0x0010}
	TagImplementationClassUID         = Tag{0x0002, 0x0012}
	TagImplementationVersionName      = Tag{0x0002, 0x0013}

	TagSpecificCharacterSet  = Tag{0x0008, 0x0005}
	TagSOPClassUID           = Tag{0x0008, 0x0016}
	TagSOPInstanceUID        = Tag{0x0008, 0x0018}
	TagStudyDate             = Tag{0x0008, 0x0020}
	TagContentDate           = Tag{0x0008, 0x0023}
	TagStudyTime             = Tag{0x0008, 0x0030}
	TagContentTime           = Tag{0x0008, 0x0033}
	TagAccessionNumber       = Tag{0x0008, 0x0050}
	TagQueryRetrieveLevel    = Tag{0x0008, 0x0052}
	TagRetrieveAETitle       = Tag{0x0008, 0x0054}
	TagModality              = Tag{0x0008, 0x0060}
	TagStationName           = Tag{0x0008, 0x1010}
	TagStudyDescription      = Tag{0x0008, 0x1030}
	TagSeriesDescription     = Tag{0x0008, 0x103E}
	TagManufacturerModelName = Tag{0x0008, 0x1090}

	TagPatientName      = Tag{0x0010, 0x0010}
	TagPatientID        = Tag{0x0010, 0x0020}
	TagPatientBirthDate = Tag{0x0010, 0x0030}
	TagPatientSex       = Tag{0x0010, 0x0040}

	TagKVP             = Tag{0x0018, 0x0060}
	TagProtocolName    = Tag{0x0018, 0x1030}
	TagExposureTime    = Tag{0x0018, 0x1150}
	TagXRayTubeCurrent = Tag{0x0018, 0x1151}

	TagStudyInstanceUID  = Tag{0x0020, 0x000D}
	TagSeriesInstanceUID = Tag{0x0020, 0x000E}
	TagStudyID           = Tag{0x0020, 0x0010}
	TagSeriesNumber      = Tag{0x0020, 0x0011}
	TagInstanceNumber    = Tag{0x0020, 0x0013}

	TagRTImageLabel = Tag{0x3002, 0x0002}
	TagPixelData    = Tag{0x7FE0, 0x0010}

	tagItem                 = Tag{0xFFFE, 0xE000}
	tagItemDelimitation     = Tag{0xFFFE, 0xE00D}
	tagSequenceDelimitation = Tag{0xFFFE, 0xE0DD}
)

type dictionaryEntry struct {
	Tag     Tag
	VR      string
	Keyword string
}

var dictionary = []dictionaryEntry{
	{TagFileMetaInformationGroupLength, VR_UL, "FileMetaInformationGroupLength"},
	{TagFileMetaInformationVersion, VR_OB, "FileMetaInformationVersion"},
	{TagMediaStorageSOPClassUID, VR_UI, "MediaStorageSOPClassUID"},
	{TagMediaStorageSOPInstanceUID, VR_UI, "MediaStorageSOPInstanceUID"},
	{TagTransferSyntaxUID, VR_UI, "TransferSyntaxUID"},
	{TagImplementationClassUID, VR_UI, "ImplementationClassUID"},
	{TagImplementationVersionName, VR_SH, "ImplementationVersionName"},
	{TagSpecificCharacterSet, VR_CS, "SpecificCharacterSet"},
	{TagSOPClassUID, VR_UI, "SOPClassUID"},
	{TagSOPInstanceUID, VR_UI, "SOPInstanceUID"},
	{TagStudyDate, VR_DA, "StudyDate"},
	{TagContentDate, VR_DA, "ContentDate"},
	{TagStudyTime, VR_TM, "StudyTime"},
	{TagContentTime, VR_TM, "ContentTime"},
	{TagAccessionNumber, VR_SH, "AccessionNumber"},
	{TagQueryRetrieveLevel, VR_CS, "QueryRetrieveLevel"},
	{TagRetrieveAETitle, VR_AE, "RetrieveAETitle"},
	{TagModality, VR_CS, "Modality"},
	{TagStationName, VR_SH, "StationName"},
	{TagStudyDescription, VR_LO, "StudyDescription"},
	{TagSeriesDescription, VR_LO, "SeriesDescription"},
	{TagManufacturerModelName, VR_LO, "ManufacturerModelName"},
	{TagPatientName, VR_PN, "PatientName"},
	{TagPatientID, VR_LO, "PatientID"},
	{TagPatientBirthDate, VR_DA, "PatientBirthDate"},
	{TagPatientSex, VR_CS, "PatientSex"},
	{TagKVP, VR_DS, "KVP"},
	{TagProtocolName, VR_LO, "ProtocolName"},
	{TagExposureTime, VR_IS, "ExposureTime"},
	{TagXRayTubeCurrent, VR_IS, "XRayTubeCurrent"},
	{TagStudyInstanceUID, VR_UI, "StudyInstanceUID"},
	{TagSeriesInstanceUID, VR_UI, "SeriesInstanceUID"},
	{TagStudyID, VR_SH, "StudyID"},
	{TagSeriesNumber, VR_IS, "SeriesNumber"},
	{TagInstanceNumber, VR_IS, "InstanceNumber"},
	{TagRTImageLabel, VR_SH, "RTImageLabel"},
	{TagPixelData, VR_OW, "PixelData"},
}

var (
	byTag     = make(map[Tag]dictionaryEntry, len(dictionary))
	byKeyword = make(map[string]dictionaryEntry, len(dictionary))
)

func init() {
	for _, entry := range dictionary {
		byTag[entry.Tag] = entry
		byKeyword[entry.Keyword] = entry
	}
}

// LookupKeyword resolves an attribute keyword such as "PatientID" to its
// tag and VR.
func LookupKeyword(keyword string) (Tag, string, bool) {
	entry, ok := byKeyword[keyword]
	return entry.Tag, entry.VR, ok
}

// KeywordOf returns the keyword of a known tag, or the tag in (gggg,eeee)
// form.
func KeywordOf(tag Tag) string {
	if entry, ok := byTag[tag]; ok {
		return entry.Keyword
	}
	return tag.String()
}

// Keywords lists every keyword the dictionary knows, sorted.
func Keywords() []string {
	keywords := make([]string, 0, len(byKeyword))
	for keyword := range byKeyword {
		keywords = append(keywords, keyword)
	}
	sort.Strings(keywords)
	return keywords
}

// determineVR returns the dictionary VR of tag, UN when unknown.
func determineVR(tag Tag) string {
	if entry, ok := byTag[tag]; ok {
		return entry.VR
	}
	if tag.Element == 0x0000 {
		return VR_UL
	}
	return VR_UN
}
