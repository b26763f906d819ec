package client

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/caio-sobreiro/dicomfetch/dicom"
	"github.com/caio-sobreiro/dicomfetch/types"
)

// CMoveRequest asks the SCP to push matching objects to Destination.
type CMoveRequest struct {
	SOPClassUID string
	MessageID   uint16
	Priority    uint16
	Destination string
	Dataset     *dicom.Dataset
}

// CMoveResponse is one C-MOVE-RSP with its sub-operation counters.
type CMoveResponse struct {
	Status       uint16
	MessageID    uint16
	ErrorComment string
	Remaining    *uint16
	Completed    *uint16
	Failed       *uint16
	Warning      *uint16
}

// Pending reports whether more responses follow.
func (r *CMoveResponse) Pending() bool {
	return types.IsPendingStatus(r.Status)
}

// SendCMove issues a C-MOVE and calls fn for every response, the final one
// included. The matched objects arrive on a separate association opened by
// the SCP towards Destination. Cancelling ctx sends C-CANCEL; the SCP then
// closes the operation, normally with 0xFE00.
func (a *Association) SendCMove(ctx context.Context, req *CMoveRequest, fn func(*CMoveResponse)) (*CMoveResponse, error) {
	if req == nil {
		return nil, errors.New("c-move request cannot be nil")
	}
	if req.Dataset == nil {
		return nil, errors.New("c-move request requires a dataset")
	}
	if req.Destination == "" {
		return nil, errors.New("c-move request requires a destination AE title")
	}

	sopClass := req.SOPClassUID
	if sopClass == "" {
		sopClass = types.StudyRootQueryRetrieveInformationModelMove
	}
	messageID := req.MessageID
	if messageID == 0 {
		messageID = 1
	}

	presContextID, err := a.GetPresentationContextID(sopClass)
	if err != nil {
		return nil, err
	}
	identifier, err := dicom.EncodeDatasetWithTransferSyntax(req.Dataset, a.TransferSyntax(presContextID))
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode C-MOVE identifier")
	}

	logger := a.logger.WithFields(log.Fields{
		"message_id":  messageID,
		"destination": req.Destination,
	})

	var final *CMoveResponse
	err = a.exchange(ctx, messageID, sopClass, true, func() error {
		command := &types.Message{
			CommandField:        types.CMoveRQ,
			MessageID:           messageID,
			CommandDataSetType:  types.DataSetPresent,
			Priority:            priorityOrDefault(req.Priority),
			AffectedSOPClassUID: sopClass,
			MoveDestination:     req.Destination,
		}
		if err := a.sendMessage(presContextID, command, identifier); err != nil {
			return errors.Wrap(err, "failed to send C-MOVE request")
		}
		logger.Debug("C-MOVE sent")

		for {
			msg, _, err := a.receiveMessage()
			if err != nil {
				return err
			}
			if msg.CommandField != types.CMoveRSP {
				return errors.Errorf("unexpected command: 0x%04x (expected C-MOVE-RSP)", msg.CommandField)
			}

			rsp := &CMoveResponse{
				Status:       msg.Status,
				MessageID:    msg.MessageIDBeingRespondedTo,
				ErrorComment: msg.ErrorComment,
				Remaining:    msg.NumberOfRemainingSuboperations,
				Completed:    msg.NumberOfCompletedSuboperations,
				Failed:       msg.NumberOfFailedSuboperations,
				Warning:      msg.NumberOfWarningSuboperations,
			}
			logger.WithField("status", types.StatusString(rsp.Status)).Trace("C-MOVE response")
			if fn != nil {
				fn(rsp)
			}
			if !rsp.Pending() {
				final = rsp
				return nil
			}
		}
	})
	return final, err
}
