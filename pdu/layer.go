package pdu

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	dicomerrors "github.com/caio-sobreiro/dicomfetch/errors"
	"github.com/caio-sobreiro/dicomfetch/types"
)

// AssociationContext holds association state
type AssociationContext struct {
	CalledAETitle    string
	CallingAETitle   string
	MaxPDULength     uint32
	PresentationCtxs map[byte]*PresentationContext
}

// Policy decides which proposals an acceptor agrees to.
type Policy struct {
	// AcceptAbstractSyntax reports whether a SOP class is served.
	AcceptAbstractSyntax func(uid string) bool
	// TransferSyntaxes the acceptor can decode.
	TransferSyntaxes []string
	// RequireCalledAETitle rejects requests addressed to another AE title.
	RequireCalledAETitle bool
	// MaxPDULength announced to the requestor.
	MaxPDULength uint32
}

// DefaultPolicy accepts verification, query/retrieve and storage classes in
// implicit or explicit VR little endian.
func DefaultPolicy() Policy {
	return Policy{
		AcceptAbstractSyntax: func(uid string) bool {
			return uid == types.VerificationSOPClass ||
				types.IsQueryRetrieveSOPClass(uid) ||
				types.IsStorageSOPClass(uid)
		},
		TransferSyntaxes: []string{types.ImplicitVRLittleEndian, types.ExplicitVRLittleEndian},
		MaxPDULength:     DefaultMaxPDULength,
	}
}

func (p Policy) supportsTransferSyntax(uid string) bool {
	for _, ts := range p.TransferSyntaxes {
		if ts == uid {
			return true
		}
	}
	return false
}

// negotiate picks the first proposed transfer syntax the policy supports.
func (p Policy) negotiate(proposed *PresentationContext) *PresentationContext {
	result := &PresentationContext{
		ID:             proposed.ID,
		Result:         ResultAbstractSyntaxRejected,
		AbstractSyntax: proposed.AbstractSyntax,
	}
	if p.AcceptAbstractSyntax == nil || !p.AcceptAbstractSyntax(proposed.AbstractSyntax) {
		return result
	}
	result.Result = ResultTransferSyntaxRejected
	for _, ts := range proposed.TransferSyntaxes {
		if p.supportsTransferSyntax(ts) {
			result.Result = ResultAcceptance
			result.TransferSyntax = ts
			break
		}
	}
	return result
}

// DIMSEHandler receives every PDV of an established association.
type DIMSEHandler interface {
	HandleDIMSEMessage(ctx context.Context, presContextID byte, msgCtrlHeader byte, data []byte, layer *Layer) error
}

// Option configures a Layer.
type Option func(*Layer)

// WithLogger overrides the logger of the layer.
func WithLogger(logger *log.Entry) Option {
	return func(l *Layer) {
		l.logger = logger
	}
}

// WithPolicy overrides the negotiation policy.
func WithPolicy(policy Policy) Option {
	return func(l *Layer) {
		l.policy = policy
	}
}

// WithReadTimeout bounds the idle time between two PDUs.
func WithReadTimeout(timeout time.Duration) Option {
	return func(l *Layer) {
		l.readTimeout = timeout
	}
}

// Layer handles the acceptor side of the DICOM Upper Layer Protocol
type Layer struct {
	conn           net.Conn
	associationCtx *AssociationContext
	dimseHandler   DIMSEHandler
	serverAETitle  string
	policy         Policy
	readTimeout    time.Duration
	writeMu        sync.Mutex
	logger         *log.Entry
}

// NewLayer creates a new PDU layer handler
func NewLayer(conn net.Conn, dimseHandler DIMSEHandler, serverAETitle string, opts ...Option) *Layer {
	l := &Layer{
		conn:          conn,
		dimseHandler:  dimseHandler,
		serverAETitle: serverAETitle,
		policy:        DefaultPolicy(),
		logger:        log.WithField("component", "pdu"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// HandleConnection runs the association until release, abort, ctx
// cancellation or a read error. The connection is closed on return.
func (p *Layer) HandleConnection(ctx context.Context) error {
	defer p.conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = p.conn.Close() })
	defer stop()

	logger := p.logger.WithField("remote_addr", p.conn.RemoteAddr().String())
	logger.Debug("New DICOM connection")

	if err := p.handleAssociationPhase(); err != nil {
		return errors.Wrap(err, "association failed")
	}
	logger = logger.WithField("calling_ae", p.associationCtx.CallingAETitle)

	for {
		pdu, err := p.readPDU()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if err == io.EOF {
				logger.Debug("Connection closed by peer")
				return nil
			}
			return errors.Wrap(err, "error reading PDU")
		}

		switch pdu.Type {
		case TypePDataTF:
			if err := p.handlePDataTF(ctx, pdu); err != nil {
				_ = WriteAbort(p.conn, 0x02, 0x00)
				return errors.Wrap(err, "error handling P-DATA-TF")
			}
		case TypeReleaseRQ:
			logger.Debug("Received A-RELEASE-RQ")
			p.writeMu.Lock()
			err := WriteReleaseRP(p.conn)
			p.writeMu.Unlock()
			return err
		case TypeAbort:
			abortErr := ParseAbort(pdu.Data)
			logger.WithError(abortErr).Info("Received A-ABORT")
			return nil
		default:
			logger.WithField("type", fmt.Sprintf("0x%02x", pdu.Type)).Warn("Unhandled PDU type")
		}
	}
}

// AssociationContext returns the negotiated association, nil before
// negotiation.
func (p *Layer) AssociationContext() *AssociationContext {
	return p.associationCtx
}

func (p *Layer) readPDU() (*PDU, error) {
	if p.readTimeout > 0 {
		if err := p.conn.SetReadDeadline(time.Now().Add(p.readTimeout)); err != nil {
			return nil, err
		}
	}
	return Read(p.conn)
}

func (p *Layer) handleAssociationPhase() error {
	pdu, err := p.readPDU()
	if err != nil {
		return errors.Wrap(err, "failed to read association request")
	}
	if pdu.Type != TypeAssociateRQ {
		return errors.Errorf("expected A-ASSOCIATE-RQ, got PDU type: 0x%02x", pdu.Type)
	}

	rq, err := DecodeAssociateRQ(pdu.Data)
	if err != nil {
		_ = p.reject(&AssociateRJ{Result: 0x01, Source: 0x01, Reason: 0x01})
		return err
	}

	if p.policy.RequireCalledAETitle && rq.CalledAETitle != p.serverAETitle {
		rj := &AssociateRJ{Result: 0x01, Source: 0x01, Reason: byte(dicomerrors.RejectReasonCalledAETitleNotRecognized)}
		_ = p.reject(rj)
		return rj.Err()
	}

	p.associationCtx = &AssociationContext{
		CalledAETitle:    rq.CalledAETitle,
		CallingAETitle:   rq.CallingAETitle,
		MaxPDULength:     rq.MaxPDULength,
		PresentationCtxs: make(map[byte]*PresentationContext, len(rq.PresentationContexts)),
	}
	if p.associationCtx.MaxPDULength == 0 {
		p.associationCtx.MaxPDULength = DefaultMaxPDULength
	}

	ac := &AssociateAC{
		CalledAETitle:  rq.CalledAETitle,
		CallingAETitle: rq.CallingAETitle,
		MaxPDULength:   p.policy.MaxPDULength,
	}
	accepted := 0
	for _, proposed := range rq.PresentationContexts {
		pc := p.policy.negotiate(proposed)
		p.associationCtx.PresentationCtxs[pc.ID] = pc
		ac.PresentationContexts = append(ac.PresentationContexts, pc)
		if pc.Accepted() {
			accepted++
		}
		p.logger.WithFields(log.Fields{
			"context_id":      pc.ID,
			"abstract_syntax": pc.AbstractSyntax,
			"transfer_syntax": pc.TransferSyntax,
			"result":          pc.Result,
		}).Trace("Presentation context negotiated")
	}

	p.logger.WithFields(log.Fields{
		"calling_ae":     rq.CallingAETitle,
		"called_ae":      rq.CalledAETitle,
		"proposed":       len(rq.PresentationContexts),
		"accepted":       accepted,
		"max_pdu_length": p.associationCtx.MaxPDULength,
	}).Debug("Negotiated presentation contexts")
	if accepted == 0 {
		p.logger.WithField("calling_ae", rq.CallingAETitle).Warn("No presentation context accepted")
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return Write(p.conn, TypeAssociateAC, ac.Encode())
}

func (p *Layer) reject(rj *AssociateRJ) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return Write(p.conn, TypeAssociateRJ, rj.Encode())
}

func (p *Layer) handlePDataTF(ctx context.Context, pdu *PDU) error {
	pdvs, err := ParsePData(pdu.Data)
	if err != nil {
		return err
	}
	for _, pdv := range pdvs {
		if _, ok := p.associationCtx.PresentationCtxs[pdv.ContextID]; !ok {
			return errors.Errorf("presentation context %d not negotiated", pdv.ContextID)
		}
		header := byte(0)
		if pdv.Command {
			header |= 0x01
		}
		if pdv.Last {
			header |= 0x02
		}
		if err := p.dimseHandler.HandleDIMSEMessage(ctx, pdv.ContextID, header, pdv.Data, p); err != nil {
			return err
		}
	}
	return nil
}

// SendDIMSEResponse sends a DIMSE response via P-DATA-TF
func (p *Layer) SendDIMSEResponse(presContextID byte, commandData []byte) error {
	return p.SendDIMSEResponseWithDataset(presContextID, commandData, nil)
}

// SendDIMSEResponseWithDataset sends a command and an optional dataset. It is
// safe to call from several goroutines; each message is written atomically.
func (p *Layer) SendDIMSEResponseWithDataset(presContextID byte, commandData []byte, datasetData []byte) error {
	maxPDU := DefaultMaxPDULength
	if p.associationCtx != nil {
		maxPDU = p.associationCtx.MaxPDULength
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if err := WritePData(p.conn, presContextID, maxPDU, commandData, true); err != nil {
		return errors.Wrap(err, "failed to send command PDU")
	}
	if len(datasetData) > 0 {
		if err := WritePData(p.conn, presContextID, maxPDU, datasetData, false); err != nil {
			return errors.Wrap(err, "failed to send dataset PDU")
		}
	}
	return nil
}

// GetTransferSyntax returns the negotiated transfer syntax for the given presentation context.
func (p *Layer) GetTransferSyntax(presContextID byte) (string, error) {
	if p.associationCtx == nil {
		return "", errors.New("association context not initialized")
	}
	ctx, ok := p.associationCtx.PresentationCtxs[presContextID]
	if !ok {
		return "", errors.Errorf("presentation context %d not found", presContextID)
	}
	if ctx.TransferSyntax == "" {
		return "", errors.Errorf("no transfer syntax negotiated for presentation context %d", presContextID)
	}
	return ctx.TransferSyntax, nil
}

// RemoteAddr returns the peer address.
func (p *Layer) RemoteAddr() string {
	return p.conn.RemoteAddr().String()
}
