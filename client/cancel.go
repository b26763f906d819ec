package client

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/caio-sobreiro/dicomfetch/types"
)

// SendCCancel sends a C-CANCEL-RQ for a pending C-FIND or C-MOVE. C-CANCEL
// has no response of its own: the SCP ends the operation with a final
// response, usually 0xFE00. It may be called while another goroutine is
// waiting on that operation.
func (a *Association) SendCCancel(messageID uint16, sopClassUID string) error {
	if messageID == 0 {
		return errors.New("messageID must be non-zero for C-CANCEL")
	}
	if sopClassUID == "" {
		return errors.New("sopClassUID must be provided for C-CANCEL")
	}
	if !a.Alive() {
		return errors.New("association is closed")
	}

	presContextID, err := a.GetPresentationContextID(sopClassUID)
	if err != nil {
		return err
	}

	command := &types.Message{
		CommandField:              types.CCancelRQ,
		MessageIDBeingRespondedTo: messageID,
		CommandDataSetType:        types.NoDataSetPresent,
	}
	if err := a.sendMessage(presContextID, command, nil); err != nil {
		return errors.Wrap(err, "failed to send C-CANCEL request")
	}

	a.logger.WithFields(log.Fields{
		"message_id": messageID,
		"sop_class":  sopClassUID,
	}).Debug("C-CANCEL sent")
	return nil
}
