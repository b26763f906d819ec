package types

// Uncompressed transfer syntaxes negotiated by the toolkit.
// Compressed syntaxes are stored as received but never proposed.
const (
	// ImplicitVRLittleEndian is the default transfer syntax every peer supports.
	ImplicitVRLittleEndian = "1.2.840.10008.1.2"

	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"

	// ExplicitVRBigEndian is retired but still accepted on the wire.
	ExplicitVRBigEndian = "1.2.840.10008.1.2.2"

	DeflatedExplicitVRLittleEndian = "1.2.840.10008.1.2.1.99"
)

// Encapsulated transfer syntaxes recognized when archiving
const (
	JPEGBaseline8Bit = "1.2.840.10008.1.2.4.50"
	JPEGLosslessSV1  = "1.2.840.10008.1.2.4.70"
	JPEG2000Lossless = "1.2.840.10008.1.2.4.90"
	JPEG2000         = "1.2.840.10008.1.2.4.91"
	RLELossless      = "1.2.840.10008.1.2.5"
)

// TransferSyntaxInfo provides metadata about a transfer syntax
type TransferSyntaxInfo struct {
	UID          string
	Name         string
	IsCompressed bool
	IsExplicitVR bool
	IsBigEndian  bool
}

// GetTransferSyntaxInfo returns information about a transfer syntax UID.
// Unknown UIDs are reported as explicit little endian, which is how the
// dataset codec treats them.
func GetTransferSyntaxInfo(uid string) *TransferSyntaxInfo {
	info, ok := transferSyntaxRegistry[uid]
	if !ok {
		return &TransferSyntaxInfo{
			UID:          uid,
			Name:         "Unknown",
			IsExplicitVR: true,
		}
	}
	return &info
}

// IsCompressed returns true if the transfer syntax uses compression
func IsCompressed(uid string) bool {
	return GetTransferSyntaxInfo(uid).IsCompressed
}

// IsImplicitVR reports whether datasets in this syntax omit the VR field.
func IsImplicitVR(uid string) bool {
	return !GetTransferSyntaxInfo(uid).IsExplicitVR
}

var transferSyntaxRegistry = map[string]TransferSyntaxInfo{
	ImplicitVRLittleEndian:         {UID: ImplicitVRLittleEndian, Name: "Implicit VR Little Endian"},
	ExplicitVRLittleEndian:         {UID: ExplicitVRLittleEndian, Name: "Explicit VR Little Endian", IsExplicitVR: true},
	ExplicitVRBigEndian:            {UID: ExplicitVRBigEndian, Name: "Explicit VR Big Endian", IsExplicitVR: true, IsBigEndian: true},
	DeflatedExplicitVRLittleEndian: {UID: DeflatedExplicitVRLittleEndian, Name: "Deflated Explicit VR Little Endian", IsCompressed: true, IsExplicitVR: true},
	JPEGBaseline8Bit:               {UID: JPEGBaseline8Bit, Name: "JPEG Baseline (Process 1)", IsCompressed: true, IsExplicitVR: true},
	JPEGLosslessSV1:                {UID: JPEGLosslessSV1, Name: "JPEG Lossless, First-Order Prediction", IsCompressed: true, IsExplicitVR: true},
	JPEG2000Lossless:               {UID: JPEG2000Lossless, Name: "JPEG 2000 Image Compression (Lossless Only)", IsCompressed: true, IsExplicitVR: true},
	JPEG2000:                       {UID: JPEG2000, Name: "JPEG 2000 Image Compression", IsCompressed: true, IsExplicitVR: true},
	RLELossless:                    {UID: RLELossless, Name: "RLE Lossless", IsCompressed: true, IsExplicitVR: true},
}

// GetCommonTransferSyntaxes returns the syntaxes proposed for every
// presentation context, in preference order.
func GetCommonTransferSyntaxes() []string {
	return []string{
		ExplicitVRLittleEndian,
		ImplicitVRLittleEndian,
	}
}
