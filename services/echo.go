// Package services provides reusable DICOM service implementations: C-ECHO,
// the storage SCP used by retrievals, and the C-FIND/C-MOVE providers the
// simulator is built on.
package services

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/caio-sobreiro/dicomfetch/interfaces"
	"github.com/caio-sobreiro/dicomfetch/types"
)

// EchoService handles C-ECHO verification requests.
type EchoService struct{}

// NewEchoService creates a new C-ECHO service instance.
func NewEchoService() *EchoService {
	return &EchoService{}
}

// HandleDIMSE answers a C-ECHO request with success.
func (s *EchoService) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte) (*types.Message, []byte, error) {
	fields := log.Fields{"message_id": msg.MessageID}
	if mc, ok := interfaces.MessageContextFrom(ctx); ok {
		fields["calling_ae"] = mc.CallingAETitle
	}
	log.WithFields(fields).Debug("C-ECHO request")

	return NewCEchoResponse(msg, types.StatusSuccess), nil, nil
}

// HealthCheck verifies that the echo service is operational.
func (s *EchoService) HealthCheck(ctx context.Context) error {
	return nil
}
