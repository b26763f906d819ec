package services

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/caio-sobreiro/dicomfetch/dicom"
	"github.com/caio-sobreiro/dicomfetch/interfaces"
	"github.com/caio-sobreiro/dicomfetch/types"
)

// Finder answers C-FIND identifiers with the matching datasets.
type Finder interface {
	Find(ctx context.Context, model string, identifier *dicom.Dataset) ([]*dicom.Dataset, error)
}

// FindService is a C-FIND SCP streaming one pending response per match.
type FindService struct {
	finder Finder
	logger *log.Entry
}

// NewFindService creates a C-FIND SCP backed by finder.
func NewFindService(finder Finder) *FindService {
	return &FindService{
		finder: finder,
		logger: log.WithField("component", "find-scp"),
	}
}

// HandleDIMSE is not used for C-FIND, which always streams.
func (s *FindService) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte) (*types.Message, []byte, error) {
	return nil, nil, errors.New("C-FIND requires a streaming responder")
}

// HandleDIMSEStreaming sends every match as a pending response followed by
// the final status. A cancelled context ends the stream with 0xFE00.
func (s *FindService) HandleDIMSEStreaming(ctx context.Context, msg *types.Message, data []byte, responder interfaces.ResponseSender) error {
	if len(data) == 0 {
		return responder.SendResponse(NewCFindErrorResponse(msg, types.StatusFindMissingIdentifier), nil)
	}

	identifier, err := dicom.ParseDatasetWithTransferSyntax(data, msg.TransferSyntaxUID)
	if err != nil {
		return responder.SendResponse(NewCFindErrorResponse(msg, types.StatusUnableToProcess), nil)
	}

	matches, err := s.finder.Find(ctx, msg.AffectedSOPClassUID, identifier)
	if err != nil {
		s.logger.WithError(err).Warn("C-FIND backend failed")
		return responder.SendResponse(NewCFindErrorResponse(msg, types.StatusUnableToProcess), nil)
	}

	s.logger.WithFields(log.Fields{
		"message_id": msg.MessageID,
		"level":      identifier.GetString(dicom.TagQueryRetrieveLevel),
		"matches":    len(matches),
	}).Debug("C-FIND matched")

	for _, match := range matches {
		if ctx.Err() != nil {
			return responder.SendResponse(NewCFindErrorResponse(msg, types.StatusCancel), nil)
		}
		encoded, err := dicom.EncodeDatasetWithTransferSyntax(match, msg.TransferSyntaxUID)
		if err != nil {
			return errors.Wrap(err, "failed to encode C-FIND match")
		}
		if err := responder.SendResponse(NewCFindPendingResponse(msg), encoded); err != nil {
			return err
		}
	}
	return responder.SendResponse(NewCFindSuccessResponse(msg), nil)
}
