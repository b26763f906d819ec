package services

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/caio-sobreiro/dicomfetch/interfaces"
	"github.com/caio-sobreiro/dicomfetch/types"
)

// Registry manages DICOM service handlers and routes incoming DIMSE messages.
//
// The registry acts as a dispatcher, routing DIMSE messages to the
// appropriate service handler based on the command field. It supports both
// single-response and streaming (multi-response) operations.
//
//	registry := services.NewRegistry()
//	registry.RegisterHandler(types.CEchoRQ, services.NewEchoService())
//	registry.RegisterHandler(types.CStoreRQ, services.NewStoreService(handler))
type Registry struct {
	mu       sync.RWMutex
	handlers map[uint16]interfaces.ServiceHandler
	logger   *log.Entry
}

// NewRegistry creates a new service registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[uint16]interfaces.ServiceHandler),
		logger:   log.WithField("component", "services"),
	}
}

// RegisterHandler registers a service handler for a specific DIMSE command,
// replacing any previous one.
func (r *Registry) RegisterHandler(commandField uint16, handler interfaces.ServiceHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[commandField] = handler
}

// UnregisterHandler removes a service handler for a specific DIMSE command.
func (r *Registry) UnregisterHandler(commandField uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, commandField)
}

func (r *Registry) lookup(msg *types.Message) (interfaces.ServiceHandler, error) {
	r.mu.RLock()
	handler, ok := r.handlers[msg.CommandField]
	r.mu.RUnlock()
	if !ok {
		r.logger.WithField("command_field", fmt.Sprintf("0x%04x", msg.CommandField)).Warn("No handler registered for DIMSE command")
		return nil, errors.Errorf("unsupported DIMSE command: 0x%04x", msg.CommandField)
	}
	return handler, nil
}

// HandleDIMSE routes a message to its handler and returns the single response.
func (r *Registry) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte) (*types.Message, []byte, error) {
	r.logger.WithFields(log.Fields{
		"command_field": fmt.Sprintf("0x%04x", msg.CommandField),
		"message_id":    msg.MessageID,
	}).Debug("Routing DIMSE message")

	handler, err := r.lookup(msg)
	if err != nil {
		return nil, nil, err
	}
	return handler.HandleDIMSE(ctx, msg, data)
}

// HandleDIMSEStreaming routes a message to its handler. Handlers that do not
// stream have their single response sent through responder.
func (r *Registry) HandleDIMSEStreaming(ctx context.Context, msg *types.Message, data []byte, responder interfaces.ResponseSender) error {
	handler, err := r.lookup(msg)
	if err != nil {
		return err
	}

	if streamingHandler, ok := handler.(interfaces.StreamingServiceHandler); ok {
		return streamingHandler.HandleDIMSEStreaming(ctx, msg, data, responder)
	}

	responseMsg, responseData, err := handler.HandleDIMSE(ctx, msg, data)
	if err != nil {
		return err
	}
	return responder.SendResponse(responseMsg, responseData)
}

// HasHandler returns true if a handler is registered for the given command field.
func (r *Registry) HasHandler(commandField uint16) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[commandField]
	return ok
}

// RegisteredCommands returns the registered command fields in ascending order.
func (r *Registry) RegisteredCommands() []uint16 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	commands := make([]uint16, 0, len(r.handlers))
	for cmd := range r.handlers {
		commands = append(commands, cmd)
	}
	sort.Slice(commands, func(i, j int) bool { return commands[i] < commands[j] })
	return commands
}

// CreateErrorResponse creates a standard DIMSE error response message.
func CreateErrorResponse(req *types.Message, status uint16) *types.Message {
	return &types.Message{
		CommandField:              types.ResponseCommandFor(req.CommandField),
		MessageIDBeingRespondedTo: req.MessageID,
		AffectedSOPClassUID:       req.AffectedSOPClassUID,
		CommandDataSetType:        types.NoDataSetPresent,
		Status:                    status,
	}
}
