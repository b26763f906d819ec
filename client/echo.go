package client

import (
	"context"

	"github.com/pkg/errors"

	"github.com/caio-sobreiro/dicomfetch/types"
)

// CEchoResponse represents the result of a C-ECHO operation.
type CEchoResponse struct {
	Status    uint16
	MessageID uint16
}

// SendCEcho performs a DICOM C-ECHO (verification) request and returns the response status.
func (a *Association) SendCEcho(ctx context.Context, messageID uint16) (*CEchoResponse, error) {
	if messageID == 0 {
		messageID = 1
	}

	presContextID, err := a.GetPresentationContextID(types.VerificationSOPClass)
	if err != nil {
		return nil, err
	}

	var response *CEchoResponse
	err = a.exchange(ctx, messageID, types.VerificationSOPClass, false, func() error {
		command := &types.Message{
			CommandField:        types.CEchoRQ,
			MessageID:           messageID,
			CommandDataSetType:  types.NoDataSetPresent,
			AffectedSOPClassUID: types.VerificationSOPClass,
		}
		if err := a.sendMessage(presContextID, command, nil); err != nil {
			return errors.Wrap(err, "failed to send C-ECHO request")
		}

		msg, _, err := a.receiveMessage()
		if err != nil {
			return err
		}
		if msg.CommandField != types.CEchoRSP {
			return errors.Errorf("unexpected command: 0x%04x (expected C-ECHO-RSP)", msg.CommandField)
		}
		response = &CEchoResponse{Status: msg.Status, MessageID: msg.MessageIDBeingRespondedTo}
		return nil
	})
	return response, err
}
