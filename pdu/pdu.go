// Package pdu implements the DICOM upper layer: PDU framing, the
// A-ASSOCIATE item codec shared by requestors and acceptors, and the
// acceptor side connection loop.
package pdu

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	dicomerrors "github.com/caio-sobreiro/dicomfetch/errors"
)

// PDU types
const (
	TypeAssociateRQ = 0x01
	TypeAssociateAC = 0x02
	TypeAssociateRJ = 0x03
	TypePDataTF     = 0x04
	TypeReleaseRQ   = 0x05
	TypeReleaseRP   = 0x06
	TypeAbort       = 0x07
)

// DefaultMaxPDULength is proposed when nothing else is configured.
const DefaultMaxPDULength uint32 = 16384

// maxAcceptedPDULength bounds what a peer may make us allocate.
const maxAcceptedPDULength uint32 = 64 << 20

// PDU represents a Protocol Data Unit
type PDU struct {
	Type   byte
	Length uint32
	Data   []byte
}

// PDV is one presentation data value item of a P-DATA-TF PDU.
type PDV struct {
	ContextID byte
	Command   bool
	Last      bool
	Data      []byte
}

// Read reads a complete PDU from r.
func Read(r io.Reader) (*PDU, error) {
	header := make([]byte, 6)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	pduType := header[0]
	pduLength := binary.BigEndian.Uint32(header[2:6])
	if pduLength > maxAcceptedPDULength {
		return nil, errors.Wrapf(dicomerrors.ErrInvalidPDU, "PDU length %d exceeds limit", pduLength)
	}

	data := make([]byte, pduLength)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, errors.Wrap(err, "failed to read PDU data")
	}

	return &PDU{Type: pduType, Length: pduLength, Data: data}, nil
}

// Write frames data as a PDU of the given type in a single write.
func Write(w io.Writer, pduType byte, data []byte) error {
	buf := make([]byte, 6, 6+len(data))
	buf[0] = pduType
	binary.BigEndian.PutUint32(buf[2:6], uint32(len(data)))
	buf = append(buf, data...)
	if _, err := w.Write(buf); err != nil {
		return errors.Wrapf(err, "failed to write PDU type 0x%02x", pduType)
	}
	return nil
}

// WriteReleaseRQ sends A-RELEASE-RQ.
func WriteReleaseRQ(w io.Writer) error {
	return Write(w, TypeReleaseRQ, make([]byte, 4))
}

// WriteReleaseRP sends A-RELEASE-RP.
func WriteReleaseRP(w io.Writer) error {
	return Write(w, TypeReleaseRP, make([]byte, 4))
}

// WriteAbort sends A-ABORT with the given source and reason.
func WriteAbort(w io.Writer, source, reason byte) error {
	return Write(w, TypeAbort, []byte{0x00, 0x00, source, reason})
}

// ParseAbort turns an A-ABORT payload into an error.
func ParseAbort(data []byte) error {
	var source, reason byte
	if len(data) >= 4 {
		source = data[2]
		reason = data[3]
	}
	return dicomerrors.NewAbortError(source, reason)
}

// ParsePData splits a P-DATA-TF payload into its PDVs.
func ParsePData(data []byte) ([]PDV, error) {
	var pdvs []PDV
	offset := 0
	for offset < len(data) {
		if offset+6 > len(data) {
			return nil, errors.Wrap(dicomerrors.ErrInvalidPDU, "malformed PDV encountered")
		}
		length := binary.BigEndian.Uint32(data[offset : offset+4])
		end := offset + 4 + int(length)
		if length < 2 || end > len(data) {
			return nil, errors.Wrap(dicomerrors.ErrInvalidPDU, "PDV length exceeds PDU payload")
		}
		header := data[offset+5]
		pdvs = append(pdvs, PDV{
			ContextID: data[offset+4],
			Command:   header&0x01 != 0,
			Last:      header&0x02 != 0,
			Data:      data[offset+6 : end],
		})
		offset = end
	}
	return pdvs, nil
}

// WritePData fragments data into P-DATA-TF PDUs no larger than
// maxPDULength, one PDV per PDU. The last fragment carries the last flag.
func WritePData(w io.Writer, contextID byte, maxPDULength uint32, data []byte, isCommand bool) error {
	if maxPDULength == 0 {
		maxPDULength = DefaultMaxPDULength
	}
	// PDV item header (4 length + 1 context + 1 control).
	maxFragment := int(maxPDULength) - 6
	if maxFragment <= 0 {
		return errors.Errorf("max PDU length %d too small", maxPDULength)
	}

	offset := 0
	for {
		chunk := len(data) - offset
		last := true
		if chunk > maxFragment {
			chunk = maxFragment
			last = false
		}

		control := byte(0)
		if isCommand {
			control |= 0x01
		}
		if last {
			control |= 0x02
		}

		pdv := make([]byte, 6, 6+chunk)
		binary.BigEndian.PutUint32(pdv[0:4], uint32(chunk+2))
		pdv[4] = contextID
		pdv[5] = control
		pdv = append(pdv, data[offset:offset+chunk]...)

		if err := Write(w, TypePDataTF, pdv); err != nil {
			return err
		}

		offset += chunk
		if last {
			return nil
		}
	}
}
