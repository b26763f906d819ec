package services

import (
	"context"

	log "github.com/sirupsen/logrus"

	dicomerrors "github.com/caio-sobreiro/dicomfetch/errors"
	"github.com/caio-sobreiro/dicomfetch/interfaces"
	"github.com/caio-sobreiro/dicomfetch/types"
)

// StoreRequest is one object pushed to the storage SCP.
type StoreRequest struct {
	SOPClassUID             string
	SOPInstanceUID          string
	TransferSyntaxUID       string
	Data                    []byte
	CallingAETitle          string
	MoveOriginatorAETitle   string
	MoveOriginatorMessageID uint16
}

// StoreHandler persists received objects and returns the DIMSE status
// reported to the sender.
type StoreHandler interface {
	HandleStore(ctx context.Context, req *StoreRequest) uint16
}

// StoreHandlerFunc adapts a function to StoreHandler.
type StoreHandlerFunc func(ctx context.Context, req *StoreRequest) uint16

// HandleStore calls f.
func (f StoreHandlerFunc) HandleStore(ctx context.Context, req *StoreRequest) uint16 {
	return f(ctx, req)
}

// StoreService is a C-STORE SCP delegating persistence to a StoreHandler.
type StoreService struct {
	handler StoreHandler
	logger  *log.Entry
}

// NewStoreService creates a storage SCP around handler.
func NewStoreService(handler StoreHandler) *StoreService {
	return &StoreService{
		handler: handler,
		logger:  log.WithField("component", "store-scp"),
	}
}

// HandleDIMSE processes one C-STORE request.
func (s *StoreService) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte) (*types.Message, []byte, error) {
	if msg.CommandField != types.CStoreRQ {
		return nil, nil, dicomerrors.NewProtocolError("C-STORE", types.StatusUnableToProcess, "unexpected command for storage service")
	}

	req := &StoreRequest{
		SOPClassUID:             msg.AffectedSOPClassUID,
		SOPInstanceUID:          msg.AffectedSOPInstanceUID,
		TransferSyntaxUID:       msg.TransferSyntaxUID,
		Data:                    data,
		MoveOriginatorAETitle:   msg.MoveOriginatorAETitle,
		MoveOriginatorMessageID: msg.MoveOriginatorMessageID,
	}
	if mc, ok := interfaces.MessageContextFrom(ctx); ok {
		req.CallingAETitle = mc.CallingAETitle
		if req.TransferSyntaxUID == "" {
			req.TransferSyntaxUID = mc.TransferSyntaxUID
		}
	}

	logger := s.logger.WithFields(log.Fields{
		"sop_instance_uid": req.SOPInstanceUID,
		"calling_ae":       req.CallingAETitle,
		"size":             len(data),
	})

	status := types.StatusStoreSaveError
	if len(data) == 0 {
		logger.Warn("C-STORE without dataset")
	} else {
		status = s.handler.HandleStore(ctx, req)
	}
	logger.WithField("status", types.StatusString(status)).Debug("C-STORE handled")

	return NewCStoreResponse(msg, status), nil, nil
}
