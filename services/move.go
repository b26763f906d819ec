package services

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/caio-sobreiro/dicomfetch/dicom"
	"github.com/caio-sobreiro/dicomfetch/interfaces"
	"github.com/caio-sobreiro/dicomfetch/types"
)

// MoveProgress counts the C-STORE sub-operations of one C-MOVE.
type MoveProgress struct {
	Remaining uint16
	Completed uint16
	Failed    uint16
	Warning   uint16
}

// MoveRequest is a decoded C-MOVE request.
type MoveRequest struct {
	MessageID      uint16
	Model          string
	Destination    string
	CallingAETitle string
	Identifier     *dicom.Dataset
}

// Mover performs the sub-operations of a C-MOVE, calling report after each
// one. A non-zero status aborts the operation with that status.
type Mover interface {
	Move(ctx context.Context, req *MoveRequest, report func(MoveProgress)) (MoveProgress, uint16, error)
}

// MoveService is a C-MOVE SCP.
type MoveService struct {
	mover  Mover
	logger *log.Entry
}

// NewMoveService creates a C-MOVE SCP backed by mover.
func NewMoveService(mover Mover) *MoveService {
	return &MoveService{
		mover:  mover,
		logger: log.WithField("component", "move-scp"),
	}
}

// HandleDIMSE is not used for C-MOVE, which always streams.
func (s *MoveService) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte) (*types.Message, []byte, error) {
	return nil, nil, errors.New("C-MOVE requires a streaming responder")
}

// HandleDIMSEStreaming runs the move, sending a pending response per
// sub-operation and the final response with the counters.
func (s *MoveService) HandleDIMSEStreaming(ctx context.Context, msg *types.Message, data []byte, responder interfaces.ResponseSender) error {
	if len(data) == 0 {
		return responder.SendResponse(NewCMoveErrorResponse(msg, types.StatusMoveMissingIdentifier), nil)
	}

	identifier, err := dicom.ParseDatasetWithTransferSyntax(data, msg.TransferSyntaxUID)
	if err != nil {
		return responder.SendResponse(NewCMoveErrorResponse(msg, types.StatusUnableToProcess), nil)
	}

	req := &MoveRequest{
		MessageID:   msg.MessageID,
		Model:       msg.AffectedSOPClassUID,
		Destination: msg.MoveDestination,
		Identifier:  identifier,
	}
	if mc, ok := interfaces.MessageContextFrom(ctx); ok {
		req.CallingAETitle = mc.CallingAETitle
	}

	logger := s.logger.WithFields(log.Fields{
		"message_id":  msg.MessageID,
		"destination": req.Destination,
		"level":       identifier.GetString(dicom.TagQueryRetrieveLevel),
	})
	logger.Info("C-MOVE started")

	var sendErr error
	report := func(progress MoveProgress) {
		if sendErr != nil {
			return
		}
		sendErr = responder.SendResponse(NewCMovePendingResponse(msg, progress), nil)
	}

	progress, status, err := s.mover.Move(ctx, req, report)
	if sendErr != nil {
		return sendErr
	}
	if err != nil {
		logger.WithError(err).Warn("C-MOVE failed")
		if status == types.StatusSuccess {
			status = types.StatusUnableToProcess
		}
	}
	if ctx.Err() != nil && status == types.StatusSuccess {
		status = types.StatusCancel
	}

	final := NewCMoveFinalResponse(msg, progress)
	if status != types.StatusSuccess {
		final.Status = status
	}
	logger.WithFields(log.Fields{
		"status":    types.StatusString(final.Status),
		"completed": progress.Completed,
		"failed":    progress.Failed,
	}).Info("C-MOVE finished")
	return responder.SendResponse(final, nil)
}
