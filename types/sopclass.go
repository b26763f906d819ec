package types

// ApplicationContextUID is the DICOM application context name proposed in every association.
const ApplicationContextUID = "1.2.840.10008.3.1.1.1"

// Verification Service
const (
	VerificationSOPClass = "1.2.840.10008.1.1"
)

// Storage SOP classes the receiver accepts as C-MOVE sub-operations.
// Radiation therapy classes come first since they are what a treatment
// planning archive usually sends back.
const (
	RTImageStorage                  = "1.2.840.10008.5.1.4.1.1.481.1"
	RTDoseStorage                   = "1.2.840.10008.5.1.4.1.1.481.2"
	RTStructureSetStorage           = "1.2.840.10008.5.1.4.1.1.481.3"
	RTBeamsTreatmentRecordStorage   = "1.2.840.10008.5.1.4.1.1.481.4"
	RTPlanStorage                   = "1.2.840.10008.5.1.4.1.1.481.5"
	RTTreatmentSummaryRecordStorage = "1.2.840.10008.5.1.4.1.1.481.7"
	RTIonPlanStorage                = "1.2.840.10008.5.1.4.1.1.481.8"

	ComputedRadiographyImageStorage        = "1.2.840.10008.5.1.4.1.1.1"
	DigitalXRayImageStorageForPresentation = "1.2.840.10008.5.1.4.1.1.1.1"
	CTImageStorage                         = "1.2.840.10008.5.1.4.1.1.2"
	MRImageStorage                         = "1.2.840.10008.5.1.4.1.1.4"
	PETImageStorage                        = "1.2.840.10008.5.1.4.1.1.128"
	SecondaryCaptureImageStorage           = "1.2.840.10008.5.1.4.1.1.7"
	XRayRadiationDoseSRStorage             = "1.2.840.10008.5.1.4.1.1.88.67"
	SpatialRegistrationStorage             = "1.2.840.10008.5.1.4.1.1.66.1"
	EncapsulatedPDFStorage                 = "1.2.840.10008.5.1.4.1.1.104.1"
)

// Query/Retrieve Service SOP Classes
const (
	PatientRootQueryRetrieveInformationModelFind = "1.2.840.10008.5.1.4.1.2.1.1"
	PatientRootQueryRetrieveInformationModelMove = "1.2.840.10008.5.1.4.1.2.1.2"
	StudyRootQueryRetrieveInformationModelFind   = "1.2.840.10008.5.1.4.1.2.2.1"
	StudyRootQueryRetrieveInformationModelMove   = "1.2.840.10008.5.1.4.1.2.2.2"
)

// SOPClassInfo provides human-readable information about a SOP Class UID
type SOPClassInfo struct {
	UID      string
	Name     string
	Category string
}

// SOP class categories
const (
	CategoryVerification  = "Verification"
	CategoryStorage       = "Storage"
	CategoryQueryRetrieve = "Query/Retrieve"
	CategoryUnknown       = "Unknown"
)

// GetSOPClassInfo returns information about a SOP Class UID
func GetSOPClassInfo(uid string) *SOPClassInfo {
	info, ok := sopClassRegistry[uid]
	if !ok {
		return &SOPClassInfo{
			UID:      uid,
			Name:     "Unknown",
			Category: CategoryUnknown,
		}
	}
	return &info
}

// IsStorageSOPClass returns true if the UID is a storage SOP class
func IsStorageSOPClass(uid string) bool {
	return GetSOPClassInfo(uid).Category == CategoryStorage
}

// IsQueryRetrieveSOPClass returns true if the UID is a query/retrieve SOP class
func IsQueryRetrieveSOPClass(uid string) bool {
	return GetSOPClassInfo(uid).Category == CategoryQueryRetrieve
}

// StorageSOPClasses returns the storage classes in negotiation order.
func StorageSOPClasses() []string {
	return append([]string(nil), storageSOPClasses...)
}

var storageSOPClasses = []string{
	RTImageStorage,
	RTDoseStorage,
	RTStructureSetStorage,
	RTPlanStorage,
	RTBeamsTreatmentRecordStorage,
	RTTreatmentSummaryRecordStorage,
	RTIonPlanStorage,
	ComputedRadiographyImageStorage,
	DigitalXRayImageStorageForPresentation,
	CTImageStorage,
	MRImageStorage,
	PETImageStorage,
	SecondaryCaptureImageStorage,
	XRayRadiationDoseSRStorage,
	SpatialRegistrationStorage,
	EncapsulatedPDFStorage,
}

var sopClassRegistry = map[string]SOPClassInfo{
	VerificationSOPClass: {UID: VerificationSOPClass, Name: "Verification SOP Class", Category: CategoryVerification},

	RTImageStorage:                  {UID: RTImageStorage, Name: "RT Image Storage", Category: CategoryStorage},
	RTDoseStorage:                   {UID: RTDoseStorage, Name: "RT Dose Storage", Category: CategoryStorage},
	RTStructureSetStorage:           {UID: RTStructureSetStorage, Name: "RT Structure Set Storage", Category: CategoryStorage},
	RTBeamsTreatmentRecordStorage:   {UID: RTBeamsTreatmentRecordStorage, Name: "RT Beams Treatment Record Storage", Category: CategoryStorage},
	RTPlanStorage:                   {UID: RTPlanStorage, Name: "RT Plan Storage", Category: CategoryStorage},
	RTTreatmentSummaryRecordStorage: {UID: RTTreatmentSummaryRecordStorage, Name: "RT Treatment Summary Record Storage", Category: CategoryStorage},
	RTIonPlanStorage:                {UID: RTIonPlanStorage, Name: "RT Ion Plan Storage", Category: CategoryStorage},

	ComputedRadiographyImageStorage:        {UID: ComputedRadiographyImageStorage, Name: "Computed Radiography Image Storage", Category: CategoryStorage},
	DigitalXRayImageStorageForPresentation: {UID: DigitalXRayImageStorageForPresentation, Name: "Digital X-Ray Image Storage - For Presentation", Category: CategoryStorage},
	CTImageStorage:                         {UID: CTImageStorage, Name: "CT Image Storage", Category: CategoryStorage},
	MRImageStorage:                         {UID: MRImageStorage, Name: "MR Image Storage", Category: CategoryStorage},
	PETImageStorage:                        {UID: PETImageStorage, Name: "Positron Emission Tomography Image Storage", Category: CategoryStorage},
	SecondaryCaptureImageStorage:           {UID: SecondaryCaptureImageStorage, Name: "Secondary Capture Image Storage", Category: CategoryStorage},
	XRayRadiationDoseSRStorage:             {UID: XRayRadiationDoseSRStorage, Name: "X-Ray Radiation Dose SR Storage", Category: CategoryStorage},
	SpatialRegistrationStorage:             {UID: SpatialRegistrationStorage, Name: "Spatial Registration Storage", Category: CategoryStorage},
	EncapsulatedPDFStorage:                 {UID: EncapsulatedPDFStorage, Name: "Encapsulated PDF Storage", Category: CategoryStorage},

	PatientRootQueryRetrieveInformationModelFind: {UID: PatientRootQueryRetrieveInformationModelFind, Name: "Patient Root Query/Retrieve Information Model - FIND", Category: CategoryQueryRetrieve},
	PatientRootQueryRetrieveInformationModelMove: {UID: PatientRootQueryRetrieveInformationModelMove, Name: "Patient Root Query/Retrieve Information Model - MOVE", Category: CategoryQueryRetrieve},
	StudyRootQueryRetrieveInformationModelFind:   {UID: StudyRootQueryRetrieveInformationModelFind, Name: "Study Root Query/Retrieve Information Model - FIND", Category: CategoryQueryRetrieve},
	StudyRootQueryRetrieveInformationModelMove:   {UID: StudyRootQueryRetrieveInformationModelMove, Name: "Study Root Query/Retrieve Information Model - MOVE", Category: CategoryQueryRetrieve},
}
