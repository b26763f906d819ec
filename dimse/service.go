package dimse

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/caio-sobreiro/dicomfetch/interfaces"
	"github.com/caio-sobreiro/dicomfetch/pdu"
	"github.com/caio-sobreiro/dicomfetch/types"
)

// PDULayer interface for sending responses
type PDULayer interface {
	SendDIMSEResponseWithDataset(presContextID byte, commandData []byte, datasetData []byte) error
	GetTransferSyntax(presContextID byte) (string, error)
	AssociationContext() *pdu.AssociationContext
	RemoteAddr() string
}

// assembly accumulates the fragments of one message on a presentation context.
type assembly struct {
	command []byte
	dataset []byte
	msg     *types.Message
}

// Service reassembles DIMSE messages from PDVs and dispatches them to a
// handler. C-FIND and C-MOVE run on their own goroutine so that a C-CANCEL
// arriving on the same association can interrupt them.
type Service struct {
	handler interfaces.ServiceHandler
	logger  *log.Entry

	mu       sync.Mutex
	pending  map[byte]*assembly
	inflight map[uint16]context.CancelFunc
	wg       sync.WaitGroup
}

// responseHandler implements ResponseSender for streaming responses
type responseHandler struct {
	service       *Service
	presContextID byte
	pduLayer      PDULayer
}

// SendResponse implements ResponseSender interface
func (r *responseHandler) SendResponse(msg *types.Message, data []byte) error {
	return r.service.sendDIMSEResponse(msg, data, r.presContextID, r.pduLayer)
}

// NewService creates a new DIMSE service with a handler
func NewService(handler interfaces.ServiceHandler, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "dimse")
	}
	return &Service{
		handler:  handler,
		logger:   logger,
		pending:  make(map[byte]*assembly),
		inflight: make(map[uint16]context.CancelFunc),
	}
}

// HandleDIMSEMessage accumulates one PDV and processes the message once
// its command and dataset are complete.
func (d *Service) HandleDIMSEMessage(ctx context.Context, presContextID byte, msgCtrlHeader byte, data []byte, pduLayer PDULayer) error {
	isCommand := msgCtrlHeader&0x01 != 0
	isLastFragment := msgCtrlHeader&0x02 != 0

	d.mu.Lock()
	current, ok := d.pending[presContextID]
	if !ok {
		current = &assembly{}
		d.pending[presContextID] = current
	}
	d.mu.Unlock()

	if isCommand {
		current.command = append(current.command, data...)
		if !isLastFragment {
			return nil
		}
		msg, err := DecodeCommand(current.command)
		if err != nil {
			return errors.Wrap(err, "failed to parse DIMSE command")
		}
		current.msg = msg
		if msg.HasDataSet() {
			return nil
		}
	} else {
		if current.msg == nil {
			return errors.Errorf("dataset fragment without command on context %d", presContextID)
		}
		current.dataset = append(current.dataset, data...)
		if !isLastFragment {
			return nil
		}
	}

	d.mu.Lock()
	delete(d.pending, presContextID)
	d.mu.Unlock()

	return d.processCompleteMessage(ctx, presContextID, current, pduLayer)
}

func (d *Service) processCompleteMessage(ctx context.Context, presContextID byte, complete *assembly, pduLayer PDULayer) error {
	msg := complete.msg
	if ts, err := pduLayer.GetTransferSyntax(presContextID); err == nil {
		msg.TransferSyntaxUID = ts
	}

	mc := interfaces.MessageContext{
		RemoteAddr:            pduLayer.RemoteAddr(),
		PresentationContextID: presContextID,
		TransferSyntaxUID:     msg.TransferSyntaxUID,
	}
	if assoc := pduLayer.AssociationContext(); assoc != nil {
		mc.CallingAETitle = assoc.CallingAETitle
		mc.CalledAETitle = assoc.CalledAETitle
	}
	ctx = interfaces.WithMessageContext(ctx, mc)

	logger := d.logger.WithFields(log.Fields{
		"command_field": fmt.Sprintf("0x%04x", msg.CommandField),
		"message_id":    msg.MessageID,
		"calling_ae":    mc.CallingAETitle,
	})
	logger.WithField("dataset_size", len(complete.dataset)).Debug("Processing complete DIMSE message")

	if msg.CommandField == types.CCancelRQ {
		d.cancel(msg.MessageIDBeingRespondedTo, logger)
		return nil
	}

	responder := &responseHandler{service: d, presContextID: presContextID, pduLayer: pduLayer}
	streaming, isStreaming := d.handler.(interfaces.StreamingServiceHandler)

	if isStreaming && (msg.CommandField == types.CFindRQ || msg.CommandField == types.CMoveRQ) {
		opCtx, cancel := context.WithCancel(ctx)
		d.mu.Lock()
		d.inflight[msg.MessageID] = cancel
		d.mu.Unlock()

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer func() {
				d.mu.Lock()
				delete(d.inflight, msg.MessageID)
				d.mu.Unlock()
				cancel()
			}()
			if err := streaming.HandleDIMSEStreaming(opCtx, msg, complete.dataset, responder); err != nil {
				logger.WithError(err).Warn("Streaming handler failed")
				d.sendFailure(msg, err, responder, logger)
			}
		}()
		return nil
	}

	if isStreaming {
		if err := streaming.HandleDIMSEStreaming(ctx, msg, complete.dataset, responder); err != nil {
			logger.WithError(err).Warn("Streaming handler failed")
			d.sendFailure(msg, err, responder, logger)
		}
		return nil
	}

	responseMsg, responseData, err := d.handler.HandleDIMSE(ctx, msg, complete.dataset)
	if err != nil {
		logger.WithError(err).Warn("Service handler failed")
		d.sendFailure(msg, err, responder, logger)
		return nil
	}
	return responder.SendResponse(responseMsg, responseData)
}

func (d *Service) sendFailure(msg *types.Message, cause error, responder *responseHandler, logger *log.Entry) {
	failure := &types.Message{
		CommandField:              types.ResponseCommandFor(msg.CommandField),
		MessageIDBeingRespondedTo: msg.MessageID,
		AffectedSOPClassUID:       msg.AffectedSOPClassUID,
		AffectedSOPInstanceUID:    msg.AffectedSOPInstanceUID,
		CommandDataSetType:        types.NoDataSetPresent,
		Status:                    types.StatusUnableToProcess,
		ErrorComment:              cause.Error(),
	}
	if err := responder.SendResponse(failure, nil); err != nil {
		logger.WithError(err).Debug("Failed to send failure response")
	}
}

func (d *Service) cancel(messageID uint16, logger *log.Entry) {
	d.mu.Lock()
	cancel, ok := d.inflight[messageID]
	d.mu.Unlock()
	if !ok {
		logger.WithField("cancelled_message_id", messageID).Debug("C-CANCEL for unknown operation")
		return
	}
	logger.WithField("cancelled_message_id", messageID).Info("C-CANCEL received")
	cancel()
}

// Close cancels operations still running and waits for them to return.
func (d *Service) Close() {
	d.mu.Lock()
	for _, cancel := range d.inflight {
		cancel()
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// sendDIMSEResponse encodes msg and sends it with its optional dataset.
func (d *Service) sendDIMSEResponse(msg *types.Message, data []byte, presContextID byte, pduLayer PDULayer) error {
	if msg == nil {
		return errors.New("nil response message")
	}
	if len(data) > 0 {
		msg.CommandDataSetType = types.DataSetPresent
	} else {
		msg.CommandDataSetType = types.NoDataSetPresent
	}
	commandData, err := EncodeCommand(msg)
	if err != nil {
		return err
	}
	return pduLayer.SendDIMSEResponseWithDataset(presContextID, commandData, data)
}
