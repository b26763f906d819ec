package dicom

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func explicitShort(group, element uint16, vr string, value []byte) []byte {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint16(data[0:2], group)
	binary.LittleEndian.PutUint16(data[2:4], element)
	data[4] = vr[0]
	data[5] = vr[1]
	binary.LittleEndian.PutUint16(data[6:8], uint16(len(value)))
	return append(data, value...)
}

func TestTag_String(t *testing.T) {
	tests := []struct {
		tag      Tag
		expected string
	}{
		{Tag{0x0010, 0x0010}, "(0010,0010)"},
		{TagSOPInstanceUID, "(0008,0018)"},
		{TagPixelData, "(7fe0,0010)"},
	}

	for _, tt := range tests {
		if got := tt.tag.String(); got != tt.expected {
			t.Errorf("Tag.String() = %s, want %s", got, tt.expected)
		}
	}
}

func TestDataset_GetString(t *testing.T) {
	ds := NewDataset()
	ds.AddElement(TagPatientName, VR_PN, "DOE^JOHN  ")
	ds.AddElement(TagInstanceNumber, VR_US, uint16(7))

	if got := ds.GetString(TagPatientName); got != "DOE^JOHN" {
		t.Errorf("GetString = %q, want DOE^JOHN", got)
	}
	if got := ds.GetString(TagInstanceNumber); got != "" {
		t.Errorf("non-string value should give empty string, got %q", got)
	}
	if got := ds.GetString(TagPatientID); got != "" {
		t.Errorf("missing tag should give empty string, got %q", got)
	}
}

func TestDataset_GetStrings(t *testing.T) {
	ds := NewDataset()
	ds.AddElement(TagModality, VR_CS, "RTIMAGE\\CT ")
	ds.AddElement(TagStationName, VR_SH, []string{"LINAC1", "LINAC2"})

	assert.Equal(t, []string{"RTIMAGE", "CT"}, ds.GetStrings(TagModality))
	assert.Equal(t, []string{"LINAC1", "LINAC2"}, ds.GetStrings(TagStationName))
	assert.Nil(t, ds.GetStrings(TagPatientID))
}

func TestDataset_SetStringUsesDictionaryVR(t *testing.T) {
	ds := NewDataset()
	ds.SetString(TagSOPInstanceUID, "1.2.3")
	ds.SetString(Tag{0x0009, 0x0010}, "private")

	element, ok := ds.GetElement(TagSOPInstanceUID)
	require.True(t, ok)
	assert.Equal(t, VR_UI, element.VR)

	element, ok = ds.GetElement(Tag{0x0009, 0x0010})
	require.True(t, ok)
	assert.Equal(t, VR_UN, element.VR)
}

func TestParseDataset(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expectedLen int
		checks      func(t *testing.T, ds *Dataset)
	}{
		{
			name:        "Empty dataset",
			data:        []byte{},
			expectedLen: 0,
		},
		{
			name:        "Single element",
			data:        explicitShort(0x0010, 0x0010, "PN", []byte("DOE^JOHN")),
			expectedLen: 1,
			checks: func(t *testing.T, ds *Dataset) {
				assert.Equal(t, "DOE^JOHN", ds.GetString(TagPatientName))
			},
		},
		{
			name: "Multiple elements",
			data: append(
				explicitShort(0x0010, 0x0010, "PN", []byte("DOE^JOHN")),
				explicitShort(0x0010, 0x0020, "LO", []byte("12345 "))...,
			),
			expectedLen: 2,
			checks: func(t *testing.T, ds *Dataset) {
				assert.Equal(t, "DOE^JOHN", ds.GetString(TagPatientName))
				assert.Equal(t, "12345", ds.GetString(TagPatientID))
			},
		},
		{
			name:        "Element with odd length followed by padding",
			data:        append(explicitShort(0x0010, 0x0010, "PN", []byte("JOHNSON")), 0x20),
			expectedLen: 1,
			checks: func(t *testing.T, ds *Dataset) {
				assert.Equal(t, "JOHNSON", ds.GetString(TagPatientName))
			},
		},
		{
			name:        "Unsigned short value",
			data:        explicitShort(0x0028, 0x0010, "US", []byte{0x00, 0x02}),
			expectedLen: 1,
			checks: func(t *testing.T, ds *Dataset) {
				element, ok := ds.GetElement(Tag{0x0028, 0x0010})
				require.True(t, ok)
				assert.Equal(t, uint16(512), element.Value)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds, err := ParseDataset(tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedLen, ds.Len())
			if tt.checks != nil {
				tt.checks(t, ds)
			}
		})
	}
}

func TestParseDataset_Truncated(t *testing.T) {
	data := explicitShort(0x0010, 0x0010, "PN", []byte("DOE^JOHN"))
	_, err := ParseDataset(data[:len(data)-3])
	assert.Error(t, err)
}

func TestParseDataset_UndefinedLengthSequence(t *testing.T) {
	var data []byte
	data = append(data, explicitShort(0x0008, 0x0018, "UI", []byte("1.2.3\x00"))...)

	// (300A,00B0) SQ with undefined length holding one undefined length item.
	seq := []byte{0x0A, 0x30, 0xB0, 0x00, 'S', 'Q', 0x00, 0x00, 0xFF, 0xFF, 0xFF, 0xFF}
	seq = append(seq, 0xFE, 0xFF, 0x00, 0xE0, 0xFF, 0xFF, 0xFF, 0xFF)
	seq = append(seq, explicitShort(0x300A, 0x00B2, "SH", []byte("LINAC1"))...)
	seq = append(seq, 0xFE, 0xFF, 0x0D, 0xE0, 0x00, 0x00, 0x00, 0x00)
	seq = append(seq, 0xFE, 0xFF, 0xDD, 0xE0, 0x00, 0x00, 0x00, 0x00)
	data = append(data, seq...)
	data = append(data, explicitShort(0x300A, 0x00C0, "IS", []byte("1 "))...)

	ds, err := ParseDataset(data)
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Len())
	assert.Equal(t, "1", ds.GetString(Tag{0x300A, 0x00C0}))

	element, ok := ds.GetElement(Tag{0x300A, 0x00B0})
	require.True(t, ok)
	assert.Equal(t, UndefinedLength, element.Length)

	// Sequences survive a round trip byte for byte.
	assert.Equal(t, data, ds.EncodeDataset())
}

func TestDataset_RoundTrip(t *testing.T) {
	for _, syntax := range []string{TransferSyntaxExplicitVRLittleEndian, TransferSyntaxImplicitVRLittleEndian} {
		t.Run(syntax, func(t *testing.T) {
			ds := NewDataset()
			ds.SetString(TagPatientID, "PAT001")
			ds.SetString(TagPatientName, "DOE^JANE")
			ds.SetString(TagSOPInstanceUID, "1.2.840.1")
			ds.SetString(TagModality, "RTIMAGE")
			ds.AddElement(TagPixelData, VR_OW, []byte{1, 2, 3, 4})

			encoded, err := EncodeDatasetWithTransferSyntax(ds, syntax)
			require.NoError(t, err)

			parsed, err := ParseDatasetWithTransferSyntax(encoded, syntax)
			require.NoError(t, err)

			assert.Equal(t, "PAT001", parsed.GetString(TagPatientID))
			assert.Equal(t, "DOE^JANE", parsed.GetString(TagPatientName))
			assert.Equal(t, "1.2.840.1", parsed.GetString(TagSOPInstanceUID))
			assert.Equal(t, "RTIMAGE", parsed.GetString(TagModality))

			pixels, ok := parsed.GetElement(TagPixelData)
			require.True(t, ok)
			assert.Equal(t, []byte{1, 2, 3, 4}, pixels.Value)
		})
	}
}

func TestEncodeDataset_TagOrderAndPadding(t *testing.T) {
	ds := NewDataset()
	ds.SetString(TagPatientID, "P1")
	ds.SetString(TagSOPInstanceUID, "1.2.3")

	encoded := ds.EncodeDataset()

	// SOP Instance UID (0008,0018) comes first and is NUL padded to even length.
	require.Equal(t, uint16(0x0008), binary.LittleEndian.Uint16(encoded[0:2]))
	assert.Equal(t, "UI", string(encoded[4:6]))
	assert.Equal(t, uint16(6), binary.LittleEndian.Uint16(encoded[6:8]))
	assert.Equal(t, byte(0x00), encoded[13])
}

func TestEncodeDatasetWithTransferSyntax_BigEndian(t *testing.T) {
	_, err := EncodeDatasetWithTransferSyntax(NewDataset(), "1.2.840.10008.1.2.2")
	assert.Error(t, err)
}

func TestKeywordLookup(t *testing.T) {
	tag, vr, ok := LookupKeyword("StudyInstanceUID")
	require.True(t, ok)
	assert.Equal(t, TagStudyInstanceUID, tag)
	assert.Equal(t, VR_UI, vr)

	_, _, ok = LookupKeyword("NotAKeyword")
	assert.False(t, ok)

	assert.Equal(t, "PatientID", KeywordOf(TagPatientID))
	assert.Equal(t, "(0009,0010)", KeywordOf(Tag{0x0009, 0x0010}))
	assert.Contains(t, Keywords(), "SOPInstanceUID")
}

func TestToMap(t *testing.T) {
	ds := NewDataset()
	ds.SetString(TagPatientID, "P1")
	ds.AddElement(TagPixelData, VR_OW, make([]byte, 16))

	assert.Equal(t, map[string]string{
		"PatientID": "P1",
		"PixelData": "<16 bytes>",
	}, ds.ToMap())
}
