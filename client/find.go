package client

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/caio-sobreiro/dicomfetch/dicom"
	"github.com/caio-sobreiro/dicomfetch/dimse"
	"github.com/caio-sobreiro/dicomfetch/types"
)

// CFindRequest encapsulates the information required to perform a C-FIND query.
type CFindRequest struct {
	SOPClassUID string
	MessageID   uint16
	Priority    uint16
	Dataset     *dicom.Dataset
}

// CFindResponse represents a single C-FIND response from the SCP.
type CFindResponse struct {
	Status    uint16
	MessageID uint16
	Dataset   *dicom.Dataset
}

// SendCFind performs a DICOM C-FIND query and returns all responses in
// order, the final status last. Cancelling ctx sends C-CANCEL and keeps
// reading until the SCP closes the operation.
func (a *Association) SendCFind(ctx context.Context, req *CFindRequest) ([]*CFindResponse, error) {
	var responses []*CFindResponse
	err := a.StreamCFind(ctx, req, func(rsp *CFindResponse) error {
		responses = append(responses, rsp)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return responses, nil
}

// StreamCFind is SendCFind delivering each response to fn as it arrives.
func (a *Association) StreamCFind(ctx context.Context, req *CFindRequest, fn func(*CFindResponse) error) error {
	if req == nil {
		return errors.New("c-find request cannot be nil")
	}
	if req.Dataset == nil {
		return errors.New("c-find request requires a dataset")
	}

	sopClass := req.SOPClassUID
	if sopClass == "" {
		sopClass = types.StudyRootQueryRetrieveInformationModelFind
	}
	messageID := req.MessageID
	if messageID == 0 {
		messageID = 1
	}

	presContextID, err := a.GetPresentationContextID(sopClass)
	if err != nil {
		return err
	}
	identifier, err := dicom.EncodeDatasetWithTransferSyntax(req.Dataset, a.TransferSyntax(presContextID))
	if err != nil {
		return errors.Wrap(err, "failed to encode C-FIND identifier")
	}

	return a.exchange(ctx, messageID, sopClass, true, func() error {
		command := &types.Message{
			CommandField:        types.CFindRQ,
			MessageID:           messageID,
			CommandDataSetType:  types.DataSetPresent,
			Priority:            priorityOrDefault(req.Priority),
			AffectedSOPClassUID: sopClass,
		}
		if err := a.sendMessage(presContextID, command, identifier); err != nil {
			return errors.Wrap(err, "failed to send C-FIND request")
		}

		for {
			msg, data, err := a.receiveMessage()
			if err != nil {
				return err
			}
			if msg.CommandField != types.CFindRSP {
				return errors.Errorf("unexpected command: 0x%04x (expected C-FIND-RSP)", msg.CommandField)
			}

			var dataset *dicom.Dataset
			if len(data) > 0 {
				dataset, err = dicom.ParseDatasetWithTransferSyntax(data, msg.TransferSyntaxUID)
				if err != nil {
					a.logger.WithError(err).WithFields(log.Fields{
						"message_id": msg.MessageIDBeingRespondedTo,
						"status":     types.StatusString(msg.Status),
					}).Warn("Failed to parse C-FIND response dataset")
				}
			}

			if err := fn(&CFindResponse{
				Status:    msg.Status,
				MessageID: msg.MessageIDBeingRespondedTo,
				Dataset:   dataset,
			}); err != nil {
				return err
			}

			if !types.IsPendingStatus(msg.Status) {
				return nil
			}
		}
	})
}

// priorityOrDefault keeps PriorityMedium for zero values.
func priorityOrDefault(priority uint16) uint16 {
	switch priority {
	case dimse.PriorityHigh, dimse.PriorityLow:
		return priority
	}
	return dimse.PriorityMedium
}
