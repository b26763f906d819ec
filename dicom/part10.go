package dicom

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	preambleLength = 128
	part10Prefix   = "DICM"

	// ImplementationClassUID identifies files written by this module.
	ImplementationClassUID = "1.2.826.0.1.3680043.10.1447.1"
	// ImplementationVersionName accompanies ImplementationClassUID.
	ImplementationVersionName = "DICOMFETCH_1"
)

// FileMeta is the group 0002 header of a Part 10 file.
type FileMeta struct {
	MediaStorageSOPClassUID    string
	MediaStorageSOPInstanceUID string
	TransferSyntaxUID          string
	ImplementationClassUID     string
	ImplementationVersionName  string
}

// StripPart10Header removes the DICOM Part 10 preamble and File Meta Information
// to extract just the dataset, as DIMSE operations expect.
func StripPart10Header(data []byte) ([]byte, error) {
	_, dataset, err := ParsePart10(data)
	if err != nil {
		return nil, err
	}
	if len(dataset) == 0 {
		return nil, errors.New("failed to find dataset after File Meta Information")
	}
	return dataset, nil
}

// HasPart10Header checks if the data starts with a DICOM Part 10 header.
//
// Returns true if the data contains the 128-byte preamble followed by "DICM".
func HasPart10Header(data []byte) bool {
	if len(data) < preambleLength+len(part10Prefix) {
		return false
	}
	return string(data[preambleLength:preambleLength+len(part10Prefix)]) == part10Prefix
}

// ParsePart10 splits a Part 10 file into its meta header and the dataset
// bytes, which stay encoded in the transfer syntax named by the header.
func ParsePart10(data []byte) (FileMeta, []byte, error) {
	var meta FileMeta

	if len(data) < preambleLength+len(part10Prefix) {
		return meta, nil, errors.Errorf("data too short to be DICOM Part 10 (need at least 132 bytes, got %d)", len(data))
	}
	if !HasPart10Header(data) {
		return meta, nil, errors.New("not a valid DICOM Part 10 file (missing DICM prefix at offset 128)")
	}

	offset := preambleLength + len(part10Prefix)
	for offset+8 <= len(data) {
		// File meta is always explicit VR little endian.
		if binary.LittleEndian.Uint16(data[offset:offset+2]) != 0x0002 {
			break
		}
		element, next, err := readElement(data, offset, true)
		if err != nil {
			return meta, nil, errors.Wrap(err, "reading file meta information")
		}
		value, _ := element.Value.(string)
		switch element.Tag {
		case TagMediaStorageSOPClassUID:
			meta.MediaStorageSOPClassUID = value
		case TagMediaStorageSOPInstanceUID:
			meta.MediaStorageSOPInstanceUID = value
		case TagTransferSyntaxUID:
			meta.TransferSyntaxUID = strings.TrimRight(value, "\x00 ")
		case TagImplementationClassUID:
			meta.ImplementationClassUID = value
		case TagImplementationVersionName:
			meta.ImplementationVersionName = value
		}
		offset = next
	}

	if meta.TransferSyntaxUID != "" {
		log.WithFields(log.Fields{
			"transfer_syntax":      meta.TransferSyntaxUID,
			"dataset_start_offset": offset,
		}).Trace("Found Transfer Syntax UID in File Meta Information")
	}

	return meta, data[offset:], nil
}

// ReadPart10 reads a whole Part 10 stream.
func ReadPart10(r io.Reader) (FileMeta, []byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return FileMeta{}, nil, errors.Wrap(err, "reading part 10 stream")
	}
	return ParsePart10(data)
}

// WritePart10 writes the preamble, the meta header and the dataset bytes.
// The dataset must already be encoded in meta.TransferSyntaxUID.
func WritePart10(w io.Writer, meta FileMeta, dataset []byte) error {
	if meta.TransferSyntaxUID == "" {
		return errors.New("file meta information requires a transfer syntax")
	}
	if meta.ImplementationClassUID == "" {
		meta.ImplementationClassUID = ImplementationClassUID
		meta.ImplementationVersionName = ImplementationVersionName
	}

	group := NewDataset()
	group.AddElement(TagFileMetaInformationVersion, VR_OB, []byte{0x00, 0x01})
	group.AddElement(TagMediaStorageSOPClassUID, VR_UI, meta.MediaStorageSOPClassUID)
	group.AddElement(TagMediaStorageSOPInstanceUID, VR_UI, meta.MediaStorageSOPInstanceUID)
	group.AddElement(TagTransferSyntaxUID, VR_UI, meta.TransferSyntaxUID)
	group.AddElement(TagImplementationClassUID, VR_UI, meta.ImplementationClassUID)
	if meta.ImplementationVersionName != "" {
		group.AddElement(TagImplementationVersionName, VR_SH, meta.ImplementationVersionName)
	}
	body := group.EncodeDataset()

	header := NewDataset()
	header.AddElement(TagFileMetaInformationGroupLength, VR_UL, uint32(len(body)))

	var buf bytes.Buffer
	buf.Write(make([]byte, preambleLength))
	buf.WriteString(part10Prefix)
	buf.Write(header.EncodeDataset())
	buf.Write(body)

	if _, err := w.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "writing file meta information")
	}
	if _, err := w.Write(dataset); err != nil {
		return errors.Wrap(err, "writing dataset")
	}
	return nil
}
