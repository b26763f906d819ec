package client

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/caio-sobreiro/dicomfetch/dimse"
)

// CStoreRequest represents a C-STORE request
type CStoreRequest struct {
	SOPClassUID    string
	SOPInstanceUID string
	// Data is the dataset encoded in the transfer syntax negotiated for
	// SOPClassUID, see Association.TransferSyntaxFor.
	Data                    []byte
	MessageID               uint16
	MoveOriginatorAETitle   string
	MoveOriginatorMessageID uint16
}

// CStoreResponse represents a C-STORE response
type CStoreResponse struct {
	Status         uint16
	MessageID      uint16
	SOPClassUID    string
	SOPInstanceUID string
	ErrorComment   string
}

// TransferSyntaxFor returns the transfer syntax negotiated for a SOP class.
func (a *Association) TransferSyntaxFor(sopClassUID string) (string, error) {
	presContextID, err := a.GetPresentationContextID(sopClassUID)
	if err != nil {
		return "", err
	}
	return a.TransferSyntax(presContextID), nil
}

// SendCStore sends a C-STORE request and waits for response
func (a *Association) SendCStore(ctx context.Context, req *CStoreRequest) (*CStoreResponse, error) {
	if req == nil {
		return nil, errors.New("c-store request cannot be nil")
	}
	presContextID, err := a.GetPresentationContextID(req.SOPClassUID)
	if err != nil {
		return nil, errors.Wrapf(err, "no presentation context for SOP class %s", req.SOPClassUID)
	}
	messageID := req.MessageID
	if messageID == 0 {
		messageID = 1
	}

	var response *CStoreResponse
	err = a.exchange(ctx, messageID, req.SOPClassUID, false, func() error {
		a.writeMu.Lock()
		defer a.writeMu.Unlock()
		if a.writeTimeout > 0 {
			if err := a.conn.SetWriteDeadline(time.Now().Add(a.writeTimeout)); err != nil {
				return err
			}
		}
		if a.readTimeout > 0 {
			if err := a.conn.SetReadDeadline(time.Now().Add(a.readTimeout)); err != nil {
				return err
			}
		}

		a.logger.WithFields(log.Fields{
			"sop_class":    req.SOPClassUID,
			"sop_instance": req.SOPInstanceUID,
			"data_size":    len(req.Data),
		}).Debug("Sending C-STORE-RQ")

		rsp, err := dimse.SendCStore(a.conn, presContextID, a.maxPDULength, &dimse.CStoreRequest{
			SOPClassUID:             req.SOPClassUID,
			SOPInstanceUID:          req.SOPInstanceUID,
			Data:                    req.Data,
			MessageID:               messageID,
			MoveOriginatorAETitle:   req.MoveOriginatorAETitle,
			MoveOriginatorMessageID: req.MoveOriginatorMessageID,
		})
		if err != nil {
			// The stream position is unknown after a failed exchange.
			a.markBroken(err)
			return err
		}
		response = &CStoreResponse{
			Status:         rsp.Status,
			MessageID:      rsp.MessageID,
			SOPClassUID:    rsp.SOPClassUID,
			SOPInstanceUID: rsp.SOPInstanceUID,
			ErrorComment:   rsp.ErrorComment,
		}
		return nil
	})
	return response, err
}
