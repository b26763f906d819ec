package dicom

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/caio-sobreiro/dicomfetch/types"
)

// VR (Value Representation) constants
const (
	VR_AE = "AE" // Application Entity
	VR_AS = "AS" // Age String
	VR_AT = "AT" // Attribute Tag
	VR_CS = "CS" // Code String
	VR_DA = "DA" // Date
	VR_DS = "DS" // Decimal String
	VR_DT = "DT" // Date Time
	VR_FL = "FL" // Floating Point Single
	VR_FD = "FD" // Floating Point Double
	VR_IS = "IS" // Integer String
	VR_LO = "LO" // Long String
	VR_LT = "LT" // Long Text
	VR_OB = "OB" // Other Byte
	VR_OD = "OD" // Other Double
	VR_OF = "OF" // Other Float
	VR_OL = "OL" // Other Long
	VR_OV = "OV" // Other Very Long
	VR_OW = "OW" // Other Word
	VR_PN = "PN" // Person Name
	VR_SH = "SH" // Short String
	VR_SL = "SL" // Signed Long
	VR_SQ = "SQ" // Sequence of Items
	VR_SS = "SS" // Signed Short
	VR_ST = "ST" // Short Text
	VR_SV = "SV" // Signed Very Long
	VR_TM = "TM" // Time
	VR_UC = "UC" // Unlimited Characters
	VR_UI = "UI" // Unique Identifier
	VR_UL = "UL" // Unsigned Long
	VR_UN = "UN" // Unknown
	VR_UR = "UR" // Universal Resource
	VR_US = "US" // Unsigned Short
	VR_UT = "UT" // Unlimited Text
	VR_UV = "UV" // Unsigned Very Long
)

// UndefinedLength marks sequences and encapsulated pixel data whose end is
// given by a delimitation item.
const UndefinedLength uint32 = 0xFFFFFFFF

// Common transfer syntax UIDs
const (
	TransferSyntaxImplicitVRLittleEndian = types.ImplicitVRLittleEndian
	TransferSyntaxExplicitVRLittleEndian = types.ExplicitVRLittleEndian
)

// Tag represents a DICOM tag (group, element)
type Tag struct {
	Group   uint16
	Element uint16
}

// String returns the tag as a string in (GGGG,EEEE) format
func (t Tag) String() string {
	return fmt.Sprintf("(%04x,%04x)", t.Group, t.Element)
}

// Less orders tags the way they appear in an encoded dataset.
func (t Tag) Less(other Tag) bool {
	if t.Group != other.Group {
		return t.Group < other.Group
	}
	return t.Element < other.Element
}

// Element represents a DICOM data element. Text VRs hold a string, US and
// UL hold uint16/uint32, everything else holds the raw value bytes.
type Element struct {
	Tag    Tag
	VR     string
	Length uint32
	Value  interface{}
}

// Dataset represents a collection of DICOM elements
type Dataset struct {
	Elements map[Tag]*Element
}

// NewDataset creates a new empty dataset
func NewDataset() *Dataset {
	return &Dataset{
		Elements: make(map[Tag]*Element),
	}
}

// AddElement adds an element to the dataset
func (d *Dataset) AddElement(tag Tag, vr string, value interface{}) {
	d.Elements[tag] = &Element{
		Tag:   tag,
		VR:    vr,
		Value: value,
	}
}

// SetString adds a text element using the dictionary VR of tag.
func (d *Dataset) SetString(tag Tag, value string) {
	d.AddElement(tag, determineVR(tag), value)
}

// GetElement returns an element by tag
func (d *Dataset) GetElement(tag Tag) (*Element, bool) {
	element, exists := d.Elements[tag]
	return element, exists
}

// Has reports whether tag is present.
func (d *Dataset) Has(tag Tag) bool {
	_, ok := d.Elements[tag]
	return ok
}

// GetString returns a string value for a tag
func (d *Dataset) GetString(tag Tag) string {
	if element, exists := d.Elements[tag]; exists {
		if str, ok := element.Value.(string); ok {
			return strings.TrimSpace(str)
		}
	}
	return ""
}

// GetStrings returns a slice of string values for a tag
func (d *Dataset) GetStrings(tag Tag) []string {
	if element, exists := d.Elements[tag]; exists {
		switch v := element.Value.(type) {
		case string:
			parts := strings.Split(v, "\\")
			result := make([]string, len(parts))
			for i, part := range parts {
				result[i] = strings.TrimSpace(part)
			}
			return result
		case []string:
			return v
		}
	}
	return nil
}

// Tags returns the dataset tags in encoding order.
func (d *Dataset) Tags() []Tag {
	tags := make([]Tag, 0, len(d.Elements))
	for tag := range d.Elements {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Less(tags[j]) })
	return tags
}

// Len returns the number of elements.
func (d *Dataset) Len() int {
	return len(d.Elements)
}

// ToMap renders text elements keyed by keyword, used for CLI output.
// Binary elements are summarized by their length.
func (d *Dataset) ToMap() map[string]string {
	out := make(map[string]string, len(d.Elements))
	for _, tag := range d.Tags() {
		element := d.Elements[tag]
		switch v := element.Value.(type) {
		case string:
			out[KeywordOf(tag)] = strings.TrimSpace(v)
		case []byte:
			out[KeywordOf(tag)] = fmt.Sprintf("<%d bytes>", len(v))
		default:
			out[KeywordOf(tag)] = fmt.Sprintf("%v", v)
		}
	}
	return out
}

func isLongVR(vr string) bool {
	switch vr {
	case VR_OB, VR_OD, VR_OF, VR_OL, VR_OW, VR_SQ, VR_UC, VR_UR, VR_UT, VR_UN, VR_OV, VR_SV, VR_UV:
		return true
	}
	return false
}

func isBinaryVR(vr string) bool {
	switch vr {
	case VR_OB, VR_OD, VR_OF, VR_OL, VR_OW, VR_OV, VR_SQ, VR_UN, VR_AT, VR_FL, VR_FD, VR_SL, VR_SS, VR_SV, VR_UV:
		return true
	}
	return false
}

// ParseDataset parses a DICOM dataset from raw bytes (Explicit VR Little Endian)
func ParseDataset(data []byte) (*Dataset, error) {
	return parseDataset(data, true)
}

// ParseDatasetWithTransferSyntax parses a dataset using the provided transfer syntax.
func ParseDatasetWithTransferSyntax(data []byte, transferSyntaxUID string) (*Dataset, error) {
	if transferSyntaxUID == "" {
		return ParseDataset(data)
	}
	info := types.GetTransferSyntaxInfo(transferSyntaxUID)
	if info.IsBigEndian {
		return nil, errors.Errorf("unsupported transfer syntax %s", transferSyntaxUID)
	}
	return parseDataset(data, info.IsExplicitVR)
}

func parseDataset(data []byte, explicit bool) (*Dataset, error) {
	dataset := NewDataset()

	offset := 0
	for offset < len(data) {
		element, next, err := readElement(data, offset, explicit)
		if err != nil {
			return dataset, errors.Wrapf(err, "parsing element at offset %d", offset)
		}
		dataset.Elements[element.Tag] = element
		offset = next
	}

	return dataset, nil
}

// readElement decodes the element starting at offset and returns the offset
// of the following one.
func readElement(data []byte, offset int, explicit bool) (*Element, int, error) {
	if offset+8 > len(data) {
		return nil, 0, errors.Errorf("truncated element header (%d bytes left)", len(data)-offset)
	}

	tag := Tag{
		Group:   binary.LittleEndian.Uint16(data[offset : offset+2]),
		Element: binary.LittleEndian.Uint16(data[offset+2 : offset+4]),
	}

	var vr string
	var length uint32
	var valueOffset int

	switch {
	case !explicit:
		vr = determineVR(tag)
		length = binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		valueOffset = offset + 8
	default:
		vr = string(data[offset+4 : offset+6])
		if isLongVR(vr) {
			if offset+12 > len(data) {
				return nil, 0, errors.Errorf("truncated long VR header for %s", tag)
			}
			length = binary.LittleEndian.Uint32(data[offset+8 : offset+12])
			valueOffset = offset + 12
		} else {
			length = uint32(binary.LittleEndian.Uint16(data[offset+6 : offset+8]))
			valueOffset = offset + 8
		}
	}

	end := valueOffset + int(length)
	if length == UndefinedLength {
		var err error
		end, err = skipSequence(data, valueOffset, explicit)
		if err != nil {
			return nil, 0, errors.Wrapf(err, "element %s", tag)
		}
		if !explicit {
			vr = VR_SQ
		}
	} else if end > len(data) {
		return nil, 0, errors.Errorf("value of %s overruns dataset (%d > %d)", tag, end, len(data))
	}

	element := &Element{
		Tag:    tag,
		VR:     vr,
		Length: length,
		Value:  parseElementValue(vr, data[valueOffset:end]),
	}

	// Tolerate senders that write odd lengths followed by a pad byte.
	if length != UndefinedLength && length%2 == 1 && end < len(data) {
		end++
	}
	return element, end, nil
}

// skipSequence walks the items of an undefined length value and returns the
// offset just past its sequence delimitation item.
func skipSequence(data []byte, offset int, explicit bool) (int, error) {
	for offset+8 <= len(data) {
		tag := Tag{
			Group:   binary.LittleEndian.Uint16(data[offset : offset+2]),
			Element: binary.LittleEndian.Uint16(data[offset+2 : offset+4]),
		}
		length := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		offset += 8

		switch tag {
		case tagSequenceDelimitation:
			return offset, nil
		case tagItem:
			if length != UndefinedLength {
				offset += int(length)
				continue
			}
			next, err := skipItem(data, offset, explicit)
			if err != nil {
				return 0, err
			}
			offset = next
		default:
			return 0, errors.Errorf("unexpected tag %s inside sequence", tag)
		}
	}
	return 0, errors.New("missing sequence delimitation item")
}

func skipItem(data []byte, offset int, explicit bool) (int, error) {
	for offset+8 <= len(data) {
		if binary.LittleEndian.Uint16(data[offset:offset+2]) == tagItemDelimitation.Group &&
			binary.LittleEndian.Uint16(data[offset+2:offset+4]) == tagItemDelimitation.Element {
			return offset + 8, nil
		}
		_, next, err := readElement(data, offset, explicit)
		if err != nil {
			return 0, err
		}
		offset = next
	}
	return 0, errors.New("missing item delimitation item")
}

// parseElementValue converts raw value bytes according to vr
func parseElementValue(vr string, data []byte) interface{} {
	switch vr {
	case VR_US:
		if len(data) >= 2 {
			return binary.LittleEndian.Uint16(data)
		}
	case VR_UL:
		if len(data) >= 4 {
			return binary.LittleEndian.Uint32(data)
		}
	}
	if isBinaryVR(vr) {
		value := make([]byte, len(data))
		copy(value, data)
		return value
	}

	value := string(data)
	if idx := strings.IndexByte(value, 0); idx != -1 {
		value = value[:idx]
	}
	return strings.TrimSpace(value)
}

// EncodeDataset encodes a dataset to bytes (Explicit VR Little Endian)
func (d *Dataset) EncodeDataset() []byte {
	return d.encode(true)
}

// EncodeDatasetWithTransferSyntax encodes a dataset using the provided transfer syntax.
func EncodeDatasetWithTransferSyntax(dataset *Dataset, transferSyntaxUID string) ([]byte, error) {
	if dataset == nil {
		return nil, nil
	}
	if transferSyntaxUID == "" {
		return dataset.EncodeDataset(), nil
	}
	info := types.GetTransferSyntaxInfo(transferSyntaxUID)
	if info.IsBigEndian {
		return nil, errors.Errorf("unsupported transfer syntax %s", transferSyntaxUID)
	}
	return dataset.encode(info.IsExplicitVR), nil
}

func (d *Dataset) encode(explicit bool) []byte {
	var result []byte

	for _, tag := range d.Tags() {
		element := d.Elements[tag]
		valueBytes := encodeElementValue(element)
		undefined := element.Length == UndefinedLength

		if !undefined && len(valueBytes)%2 == 1 {
			valueBytes = append(valueBytes, paddingFor(element.VR))
		}

		result = binary.LittleEndian.AppendUint16(result, tag.Group)
		result = binary.LittleEndian.AppendUint16(result, tag.Element)

		length := uint32(len(valueBytes))
		if undefined {
			length = UndefinedLength
		}

		switch {
		case !explicit:
			result = binary.LittleEndian.AppendUint32(result, length)
		case isLongVR(element.VR):
			result = append(result, element.VR...)
			result = append(result, 0x00, 0x00)
			result = binary.LittleEndian.AppendUint32(result, length)
		default:
			if len(valueBytes) > 0xFFFF {
				valueBytes = valueBytes[:0xFFFE]
			}
			result = append(result, element.VR...)
			result = binary.LittleEndian.AppendUint16(result, uint16(len(valueBytes)))
		}

		result = append(result, valueBytes...)
	}

	return result
}

func paddingFor(vr string) byte {
	switch vr {
	case VR_UI, VR_OB, VR_UN:
		return 0x00
	}
	return 0x20
}

// encodeElementValue encodes an element value to bytes
func encodeElementValue(element *Element) []byte {
	switch v := element.Value.(type) {
	case string:
		return []byte(strings.TrimRight(v, "\x00"))
	case []string:
		return []byte(strings.TrimRight(strings.Join(v, "\\"), "\x00"))
	case []byte:
		return v
	case int:
		return []byte(fmt.Sprintf("%d", v))
	case uint16:
		return binary.LittleEndian.AppendUint16(nil, v)
	case uint32:
		return binary.LittleEndian.AppendUint32(nil, v)
	case nil:
		return nil
	default:
		return []byte(fmt.Sprintf("%v", v))
	}
}
