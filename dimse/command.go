package dimse

import (
	"encoding/binary"
	"strings"

	"github.com/pkg/errors"

	dicomerrors "github.com/caio-sobreiro/dicomfetch/errors"
	"github.com/caio-sobreiro/dicomfetch/types"
)

// Command group element numbers (group 0000)
const (
	elemGroupLength               = 0x0000
	elemAffectedSOPClassUID       = 0x0002
	elemRequestedSOPClassUID      = 0x0003
	elemCommandField              = 0x0100
	elemMessageID                 = 0x0110
	elemMessageIDBeingRespondedTo = 0x0120
	elemMoveDestination           = 0x0600
	elemPriority                  = 0x0700
	elemCommandDataSetType        = 0x0800
	elemStatus                    = 0x0900
	elemErrorComment              = 0x0902
	elemAffectedSOPInstanceUID    = 0x1000
	elemRemainingSuboperations    = 0x1020
	elemCompletedSuboperations    = 0x1021
	elemFailedSuboperations       = 0x1022
	elemWarningSuboperations      = 0x1023
	elemMoveOriginatorAETitle     = 0x1030
	elemMoveOriginatorMessageID   = 0x1031
)

// Priority values (0000,0700)
const (
	PriorityMedium uint16 = 0x0000
	PriorityHigh   uint16 = 0x0001
	PriorityLow    uint16 = 0x0002
)

func hasPriority(commandField uint16) bool {
	switch commandField {
	case types.CStoreRQ, types.CFindRQ, types.CMoveRQ:
		return true
	}
	return false
}

func padded(value string, pad byte) []byte {
	b := []byte(value)
	if len(b)%2 == 1 {
		b = append(b, pad)
	}
	return b
}

func uint16Value(v uint16) []byte {
	return binary.LittleEndian.AppendUint16(nil, v)
}

// EncodeCommand encodes a DIMSE command message using Implicit VR Little Endian
func EncodeCommand(msg *types.Message) ([]byte, error) {
	if msg == nil {
		return nil, errors.Wrap(dicomerrors.ErrInvalidMessage, "nil command")
	}
	if msg.CommandField == 0 {
		return nil, errors.Wrap(dicomerrors.ErrInvalidMessage, "command field is required")
	}

	buf := make([]byte, 0, 256)

	// Command Group Length (0000,0000), patched once the group is complete.
	buf = AppendImplicitElement(buf, 0x0000, elemGroupLength, make([]byte, 4))
	lengthPos := len(buf) - 4

	if msg.AffectedSOPClassUID != "" {
		buf = AppendImplicitElement(buf, 0x0000, elemAffectedSOPClassUID, padded(msg.AffectedSOPClassUID, 0x00))
	}
	if msg.RequestedSOPClassUID != "" {
		buf = AppendImplicitElement(buf, 0x0000, elemRequestedSOPClassUID, padded(msg.RequestedSOPClassUID, 0x00))
	}

	buf = AppendImplicitElement(buf, 0x0000, elemCommandField, uint16Value(msg.CommandField))

	if msg.MessageID != 0 {
		buf = AppendImplicitElement(buf, 0x0000, elemMessageID, uint16Value(msg.MessageID))
	}
	if msg.MessageIDBeingRespondedTo != 0 || msg.IsResponse() || msg.CommandField == types.CCancelRQ {
		buf = AppendImplicitElement(buf, 0x0000, elemMessageIDBeingRespondedTo, uint16Value(msg.MessageIDBeingRespondedTo))
	}
	if msg.MoveDestination != "" {
		buf = AppendImplicitElement(buf, 0x0000, elemMoveDestination, padded(msg.MoveDestination, 0x20))
	}
	if hasPriority(msg.CommandField) || msg.Priority != 0 {
		buf = AppendImplicitElement(buf, 0x0000, elemPriority, uint16Value(msg.Priority))
	}

	buf = AppendImplicitElement(buf, 0x0000, elemCommandDataSetType, uint16Value(msg.CommandDataSetType))

	// Responses always carry a status, success included.
	if msg.IsResponse() || msg.Status != 0 {
		buf = AppendImplicitElement(buf, 0x0000, elemStatus, uint16Value(msg.Status))
	}
	if msg.ErrorComment != "" {
		comment := msg.ErrorComment
		if len(comment) > 64 {
			comment = comment[:64]
		}
		buf = AppendImplicitElement(buf, 0x0000, elemErrorComment, padded(comment, 0x20))
	}
	if msg.AffectedSOPInstanceUID != "" {
		buf = AppendImplicitElement(buf, 0x0000, elemAffectedSOPInstanceUID, padded(msg.AffectedSOPInstanceUID, 0x00))
	}

	counters := []struct {
		element uint16
		value   *uint16
	}{
		{elemRemainingSuboperations, msg.NumberOfRemainingSuboperations},
		{elemCompletedSuboperations, msg.NumberOfCompletedSuboperations},
		{elemFailedSuboperations, msg.NumberOfFailedSuboperations},
		{elemWarningSuboperations, msg.NumberOfWarningSuboperations},
	}
	for _, counter := range counters {
		if counter.value != nil {
			buf = AppendImplicitElement(buf, 0x0000, counter.element, uint16Value(*counter.value))
		}
	}

	if msg.MoveOriginatorAETitle != "" {
		buf = AppendImplicitElement(buf, 0x0000, elemMoveOriginatorAETitle, padded(msg.MoveOriginatorAETitle, 0x20))
	}
	if msg.MoveOriginatorMessageID != 0 {
		buf = AppendImplicitElement(buf, 0x0000, elemMoveOriginatorMessageID, uint16Value(msg.MoveOriginatorMessageID))
	}

	groupLength := uint32(len(buf) - lengthPos - 4)
	binary.LittleEndian.PutUint32(buf[lengthPos:lengthPos+4], groupLength)

	return buf, nil
}

// AppendImplicitElement appends a DICOM element using Implicit VR (no VR field)
func AppendImplicitElement(buf []byte, group, element uint16, value []byte) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, group)
	buf = binary.LittleEndian.AppendUint16(buf, element)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(value)))
	return append(buf, value...)
}

// DecodeCommand decodes a DIMSE command message
func DecodeCommand(data []byte) (*types.Message, error) {
	if len(data) < 8 {
		return nil, errors.Wrapf(dicomerrors.ErrInvalidMessage, "command too short: %d bytes", len(data))
	}

	msg := &types.Message{
		CommandDataSetType: types.NoDataSetPresent,
	}

	offset := 0
	for offset+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		length := binary.LittleEndian.Uint32(data[offset+4 : offset+8])

		if offset+8+int(length) > len(data) {
			return nil, errors.Wrapf(dicomerrors.ErrInvalidMessage,
				"element (%04x,%04x) overruns command (%d bytes)", group, element, len(data))
		}

		value := data[offset+8 : offset+8+int(length)]
		offset += 8 + int(length)

		if group != 0x0000 {
			continue
		}

		text := func() string { return strings.TrimRight(string(value), "\x00 ") }
		short := func() (uint16, bool) {
			if len(value) < 2 {
				return 0, false
			}
			return binary.LittleEndian.Uint16(value[:2]), true
		}
		counter := func() *uint16 {
			if v, ok := short(); ok {
				return &v
			}
			return nil
		}

		switch element {
		case elemAffectedSOPClassUID:
			msg.AffectedSOPClassUID = text()
		case elemRequestedSOPClassUID:
			msg.RequestedSOPClassUID = text()
		case elemCommandField:
			msg.CommandField, _ = short()
		case elemMessageID:
			msg.MessageID, _ = short()
		case elemMessageIDBeingRespondedTo:
			msg.MessageIDBeingRespondedTo, _ = short()
		case elemMoveDestination:
			msg.MoveDestination = text()
		case elemPriority:
			msg.Priority, _ = short()
		case elemCommandDataSetType:
			if v, ok := short(); ok {
				msg.CommandDataSetType = v
			}
		case elemStatus:
			msg.Status, _ = short()
		case elemErrorComment:
			msg.ErrorComment = text()
		case elemAffectedSOPInstanceUID:
			msg.AffectedSOPInstanceUID = text()
		case elemRemainingSuboperations:
			msg.NumberOfRemainingSuboperations = counter()
		case elemCompletedSuboperations:
			msg.NumberOfCompletedSuboperations = counter()
		case elemFailedSuboperations:
			msg.NumberOfFailedSuboperations = counter()
		case elemWarningSuboperations:
			msg.NumberOfWarningSuboperations = counter()
		case elemMoveOriginatorAETitle:
			msg.MoveOriginatorAETitle = text()
		case elemMoveOriginatorMessageID:
			msg.MoveOriginatorMessageID, _ = short()
		}
	}

	if msg.CommandField == 0 {
		return nil, errors.Wrap(dicomerrors.ErrInvalidMessage, "command field missing")
	}
	return msg, nil
}
