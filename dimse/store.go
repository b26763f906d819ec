package dimse

import (
	"github.com/pkg/errors"

	"github.com/caio-sobreiro/dicomfetch/types"
)

// CStoreRequest represents a C-STORE request
type CStoreRequest struct {
	SOPClassUID             string
	SOPInstanceUID          string
	Data                    []byte
	MessageID               uint16
	MoveOriginatorAETitle   string
	MoveOriginatorMessageID uint16
}

// CStoreResponse represents a C-STORE response
type CStoreResponse struct {
	Status         uint16
	MessageID      uint16
	SOPClassUID    string
	SOPInstanceUID string
	ErrorComment   string
}

// SendCStore sends a C-STORE request and waits for response
func SendCStore(conn Connection, presContextID byte, maxPDULength uint32, req *CStoreRequest) (*CStoreResponse, error) {
	command := &types.Message{
		CommandField:            types.CStoreRQ,
		MessageID:               req.MessageID,
		Priority:                PriorityMedium,
		CommandDataSetType:      types.DataSetPresent,
		AffectedSOPClassUID:     req.SOPClassUID,
		AffectedSOPInstanceUID:  req.SOPInstanceUID,
		MoveOriginatorAETitle:   req.MoveOriginatorAETitle,
		MoveOriginatorMessageID: req.MoveOriginatorMessageID,
	}

	commandData, err := EncodeCommand(command)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode command")
	}

	if err := SendDIMSEMessage(conn, presContextID, maxPDULength, commandData, req.Data); err != nil {
		return nil, errors.Wrap(err, "failed to send C-STORE")
	}

	msg, _, err := ReceiveDIMSEMessage(conn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to receive C-STORE-RSP")
	}
	if msg.CommandField != types.CStoreRSP {
		return nil, errors.Errorf("unexpected command: 0x%04x (expected C-STORE-RSP)", msg.CommandField)
	}

	return &CStoreResponse{
		Status:         msg.Status,
		MessageID:      msg.MessageIDBeingRespondedTo,
		SOPClassUID:    msg.AffectedSOPClassUID,
		SOPInstanceUID: msg.AffectedSOPInstanceUID,
		ErrorComment:   msg.ErrorComment,
	}, nil
}
