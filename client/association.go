package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	dicomerrors "github.com/caio-sobreiro/dicomfetch/errors"
	"github.com/caio-sobreiro/dicomfetch/dimse"
	"github.com/caio-sobreiro/dicomfetch/pdu"
	"github.com/caio-sobreiro/dicomfetch/types"
)

// Association represents a client-side DICOM association
type Association struct {
	conn             net.Conn
	remoteAddr       string
	callingAETitle   string
	calledAETitle    string
	maxPDULength     uint32
	presentationCtxs map[byte]*pdu.PresentationContext
	readTimeout      time.Duration
	writeTimeout     time.Duration
	logger           *log.Entry

	// exchangeMu serializes request/response exchanges, writeMu single PDU
	// sequences. C-CANCEL only takes writeMu so it can interrupt an exchange.
	exchangeMu sync.Mutex
	writeMu    sync.Mutex
	closed     atomic.Bool
}

// Config holds client configuration
type Config struct {
	CallingAETitle            string
	CalledAETitle             string
	MaxPDULength              uint32
	ConnectTimeout            time.Duration // Timeout for establishing connection (default: 30s)
	ReadTimeout               time.Duration // Timeout for each read (default: 60s)
	WriteTimeout              time.Duration // Timeout for each write (default: 60s)
	Logger                    *log.Entry    // Logger for the association
	PreferredTransferSyntaxes []string      // Transfer syntaxes to propose (default: Explicit VR, Implicit VR)
	AbstractSyntaxes          []string      // SOP classes to propose (default: DefaultAbstractSyntaxes)
}

// DefaultAbstractSyntaxes returns the SOP classes proposed when Config does
// not name any: verification, query/retrieve and the common storage classes.
func DefaultAbstractSyntaxes() []string {
	syntaxes := []string{
		types.VerificationSOPClass,
		types.PatientRootQueryRetrieveInformationModelFind,
		types.StudyRootQueryRetrieveInformationModelFind,
		types.PatientRootQueryRetrieveInformationModelMove,
		types.StudyRootQueryRetrieveInformationModelMove,
	}
	return append(syntaxes, types.StorageSOPClasses()...)
}

// Connect establishes a DICOM association with a remote SCP
func Connect(ctx context.Context, address string, config Config) (*Association, error) {
	if config.MaxPDULength == 0 {
		config.MaxPDULength = pdu.DefaultMaxPDULength
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 30 * time.Second
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 60 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 60 * time.Second
	}
	if len(config.PreferredTransferSyntaxes) == 0 {
		config.PreferredTransferSyntaxes = types.GetCommonTransferSyntaxes()
	}
	if len(config.AbstractSyntaxes) == 0 {
		config.AbstractSyntaxes = DefaultAbstractSyntaxes()
	}
	if len(config.AbstractSyntaxes) > 128 {
		return nil, dicomerrors.NewConfigurationError("AbstractSyntaxes", types.StatusUnableToProcess,
			"at most 128 presentation contexts can be proposed", nil)
	}

	logger := config.Logger
	if logger == nil {
		logger = log.WithField("component", "client")
	}
	logger = logger.WithFields(log.Fields{
		"remote_addr": address,
		"called_ae":   config.CalledAETitle,
	})

	dialer := &net.Dialer{Timeout: config.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, dicomerrors.NewConnectionError(address, err)
	}

	assoc := &Association{
		conn:             conn,
		remoteAddr:       address,
		callingAETitle:   config.CallingAETitle,
		calledAETitle:    config.CalledAETitle,
		maxPDULength:     pdu.DefaultMaxPDULength,
		presentationCtxs: make(map[byte]*pdu.PresentationContext),
		readTimeout:      config.ReadTimeout,
		writeTimeout:     config.WriteTimeout,
		logger:           logger,
	}

	rq := &pdu.AssociateRQ{
		CalledAETitle:  config.CalledAETitle,
		CallingAETitle: config.CallingAETitle,
		MaxPDULength:   config.MaxPDULength,
	}
	for i, abstractSyntax := range config.AbstractSyntaxes {
		pc := &pdu.PresentationContext{
			ID:               byte(2*i + 1),
			AbstractSyntax:   abstractSyntax,
			TransferSyntaxes: config.PreferredTransferSyntaxes,
		}
		rq.PresentationContexts = append(rq.PresentationContexts, pc)
		assoc.presentationCtxs[pc.ID] = &pdu.PresentationContext{ID: pc.ID, AbstractSyntax: abstractSyntax, Result: pdu.ResultNoReason}
	}

	// The handshake honours ctx through the connection deadline.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	err = assoc.negotiate(rq)
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})

	accepted := 0
	for _, pc := range assoc.presentationCtxs {
		if pc.Accepted() {
			accepted++
		}
	}
	logger.WithFields(log.Fields{
		"calling_ae":     config.CallingAETitle,
		"accepted":       accepted,
		"max_pdu_length": assoc.maxPDULength,
	}).Info("DICOM association established")

	return assoc, nil
}

func (a *Association) negotiate(rq *pdu.AssociateRQ) error {
	if err := a.writePDU(pdu.TypeAssociateRQ, rq.Encode()); err != nil {
		return dicomerrors.NewConnectionError(a.remoteAddr, errors.Wrap(err, "failed to send A-ASSOCIATE-RQ"))
	}

	reply, err := a.readPDU()
	if err != nil {
		return dicomerrors.NewConnectionError(a.remoteAddr, errors.Wrap(err, "failed to receive A-ASSOCIATE-AC"))
	}

	switch reply.Type {
	case pdu.TypeAssociateAC:
	case pdu.TypeAssociateRJ:
		rj, err := pdu.DecodeAssociateRJ(reply.Data)
		if err != nil {
			return dicomerrors.NewConnectionError(a.remoteAddr, err)
		}
		return dicomerrors.NewConnectionError(a.remoteAddr, rj.Err())
	case pdu.TypeAbort:
		return dicomerrors.NewConnectionError(a.remoteAddr, pdu.ParseAbort(reply.Data))
	default:
		return dicomerrors.NewConnectionError(a.remoteAddr,
			errors.Wrapf(dicomerrors.ErrInvalidPDU, "unexpected PDU type: 0x%02x (expected A-ASSOCIATE-AC)", reply.Type))
	}

	ac, err := pdu.DecodeAssociateAC(reply.Data)
	if err != nil {
		return dicomerrors.NewConnectionError(a.remoteAddr, err)
	}
	if ac.MaxPDULength != 0 {
		a.maxPDULength = ac.MaxPDULength
	}
	for _, result := range ac.PresentationContexts {
		pc, ok := a.presentationCtxs[result.ID]
		if !ok {
			continue
		}
		pc.Result = result.Result
		pc.TransferSyntax = result.TransferSyntax
		a.logger.WithFields(log.Fields{
			"context_id":      pc.ID,
			"abstract_syntax": pc.AbstractSyntax,
			"result":          pc.Result,
			"transfer_syntax": pc.TransferSyntax,
		}).Trace("Presentation context negotiation")
	}
	return nil
}

func (a *Association) readPDU() (*pdu.PDU, error) {
	if a.readTimeout > 0 {
		if err := a.conn.SetReadDeadline(time.Now().Add(a.readTimeout)); err != nil {
			return nil, err
		}
	}
	return pdu.Read(a.conn)
}

func (a *Association) writePDU(pduType byte, data []byte) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if a.writeTimeout > 0 {
		if err := a.conn.SetWriteDeadline(time.Now().Add(a.writeTimeout)); err != nil {
			return err
		}
	}
	return pdu.Write(a.conn, pduType, data)
}

// sendMessage encodes msg and writes it with its optional dataset.
func (a *Association) sendMessage(presContextID byte, msg *types.Message, dataset []byte) error {
	commandData, err := dimse.EncodeCommand(msg)
	if err != nil {
		return errors.Wrap(err, "failed to encode command")
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if a.writeTimeout > 0 {
		if err := a.conn.SetWriteDeadline(time.Now().Add(a.writeTimeout)); err != nil {
			return err
		}
	}
	if err := dimse.SendDIMSEMessage(a.conn, presContextID, a.maxPDULength, commandData, dataset); err != nil {
		a.markBroken(err)
		return err
	}
	return nil
}

// receiveMessage reads the next complete DIMSE message.
func (a *Association) receiveMessage() (*types.Message, []byte, error) {
	if a.readTimeout > 0 {
		if err := a.conn.SetReadDeadline(time.Now().Add(a.readTimeout)); err != nil {
			return nil, nil, err
		}
	}
	msg, presContextID, data, err := dimse.ReceiveDIMSEMessageWithContext(a.conn)
	if err != nil {
		a.markBroken(err)
		return nil, nil, err
	}
	if pc, ok := a.presentationCtxs[presContextID]; ok {
		msg.TransferSyntaxUID = pc.TransferSyntax
	}
	return msg, data, nil
}

// markBroken records that the association can no longer be used.
func (a *Association) markBroken(err error) {
	if a.closed.CompareAndSwap(false, true) {
		a.logger.WithError(err).Warn("Association lost")
		_ = a.conn.Close()
	}
}

// Alive reports whether the association can still carry requests.
func (a *Association) Alive() bool {
	return !a.closed.Load()
}

// CalledAETitle returns the AE title of the peer.
func (a *Association) CalledAETitle() string {
	return a.calledAETitle
}

// CallingAETitle returns the local AE title.
func (a *Association) CallingAETitle() string {
	return a.callingAETitle
}

// Close gracefully releases the association
func (a *Association) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return dicomerrors.ErrConnectionClosed
	}
	a.exchangeMu.Lock()
	defer a.exchangeMu.Unlock()

	if err := a.writePDU(pdu.TypeReleaseRQ, make([]byte, 4)); err != nil {
		a.logger.WithError(err).Warn("Failed to send release request")
		return a.conn.Close()
	}

	for {
		reply, err := a.readPDU()
		if err != nil {
			a.logger.WithError(err).Debug("No release response")
			break
		}
		// Late DIMSE responses may precede the release response.
		if reply.Type == pdu.TypeReleaseRP || reply.Type == pdu.TypeAbort {
			break
		}
	}

	a.logger.Debug("Association released")
	return a.conn.Close()
}

// Abort tears the association down with an A-ABORT.
func (a *Association) Abort() error {
	if !a.closed.CompareAndSwap(false, true) {
		return dicomerrors.ErrConnectionClosed
	}
	a.writeMu.Lock()
	_ = pdu.WriteAbort(a.conn, 0x00, 0x00)
	a.writeMu.Unlock()
	return a.conn.Close()
}

// GetPresentationContextID finds a presentation context for the given abstract syntax
func (a *Association) GetPresentationContextID(abstractSyntax string) (byte, error) {
	for _, pc := range a.presentationCtxs {
		if pc.AbstractSyntax == abstractSyntax && pc.Accepted() {
			return pc.ID, nil
		}
	}
	return 0, errors.Wrap(dicomerrors.ErrNoPresentationCtx, fmt.Sprintf("abstract syntax %s", abstractSyntax))
}

// TransferSyntax returns the transfer syntax negotiated for a context.
func (a *Association) TransferSyntax(presContextID byte) string {
	if pc, ok := a.presentationCtxs[presContextID]; ok {
		return pc.TransferSyntax
	}
	return ""
}

// Accepted reports whether the peer accepted abstractSyntax.
func (a *Association) Accepted(abstractSyntax string) bool {
	_, err := a.GetPresentationContextID(abstractSyntax)
	return err == nil
}

// exchange runs fn under the exchange lock, sending C-CANCEL for messageID
// if ctx ends before fn returns.
func (a *Association) exchange(ctx context.Context, messageID uint16, sopClassUID string, cancellable bool, fn func() error) error {
	if !a.Alive() {
		return dicomerrors.ErrConnectionClosed
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(dicomerrors.ErrOperationCanceled, err.Error())
	}

	a.exchangeMu.Lock()
	defer a.exchangeMu.Unlock()

	if cancellable {
		stop := context.AfterFunc(ctx, func() {
			if err := a.SendCCancel(messageID, sopClassUID); err != nil {
				a.logger.WithError(err).Debug("Failed to send C-CANCEL")
			}
		})
		defer stop()
	}
	return fn()
}
