// Package interfaces contains all service and handler interfaces
package interfaces

import (
	"context"

	"github.com/caio-sobreiro/dicomfetch/types"
)

// ServiceHandler interface for handling DIMSE operations
type ServiceHandler interface {
	HandleDIMSE(ctx context.Context, msg *types.Message, data []byte) (*types.Message, []byte, error)
}

// StreamingServiceHandler interface for multi-response DIMSE operations
type StreamingServiceHandler interface {
	HandleDIMSEStreaming(ctx context.Context, msg *types.Message, data []byte, responder ResponseSender) error
}

// ResponseSender interface for sending intermediate responses
type ResponseSender interface {
	SendResponse(msg *types.Message, data []byte) error
}

// MessageContext describes the association a DIMSE message arrived on.
type MessageContext struct {
	CallingAETitle        string
	CalledAETitle         string
	RemoteAddr            string
	PresentationContextID byte
	TransferSyntaxUID     string
}

type messageContextKey struct{}

// WithMessageContext attaches mc to ctx.
func WithMessageContext(ctx context.Context, mc MessageContext) context.Context {
	return context.WithValue(ctx, messageContextKey{}, mc)
}

// MessageContextFrom returns the MessageContext attached to ctx, if any.
func MessageContextFrom(ctx context.Context) (MessageContext, bool) {
	mc, ok := ctx.Value(messageContextKey{}).(MessageContext)
	return mc, ok
}
