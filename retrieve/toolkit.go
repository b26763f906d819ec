package retrieve

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/caio-sobreiro/dicomfetch/dicom"
	"github.com/caio-sobreiro/dicomfetch/services"
)

// Peer addresses the remote archive.
type Peer struct {
	Host         string
	Port         int
	AETitle      string
	LocalAETitle string

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// Address returns host:port.
func (p Peer) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// FindRequest is one C-FIND.
type FindRequest struct {
	MessageID  uint16
	Model      string
	Identifier *dicom.Dataset
}

// FindResponse is one C-FIND-RSP.
type FindResponse struct {
	Status     uint16
	Identifier *dicom.Dataset
}

// MoveRequest is one C-MOVE.
type MoveRequest struct {
	MessageID   uint16
	Model       string
	Destination string
	Identifier  *dicom.Dataset
}

// MoveResponse is one C-MOVE-RSP.
type MoveResponse struct {
	Status       uint16
	ErrorComment string
	Remaining    uint16
	Completed    uint16
	Failed       uint16
	Warning      uint16
}

// Association is a live outbound association to the peer.
//
// SendFind and SendMove call fn for every response, the final one
// included, and return the final response. Cancelling ctx while they run
// sends C-CANCEL for the request's message id; the call then returns once
// the peer closes the operation or the read timeout expires.
type Association interface {
	Alive() bool
	SendEcho(ctx context.Context, messageID uint16) (uint16, error)
	SendFind(ctx context.Context, req FindRequest, fn func(FindResponse)) (FindResponse, error)
	SendMove(ctx context.Context, req MoveRequest, fn func(MoveResponse)) (MoveResponse, error)
	Release() error
}

// Listener is a running storage SCP.
type Listener interface {
	Addr() net.Addr
	Shutdown() error
}

// Toolkit supplies the DICOM network primitives the orchestrator drives.
type Toolkit interface {
	Associate(ctx context.Context, peer Peer) (Association, error)
	// StartServer binds port and serves C-ECHO and C-STORE in the
	// background, handing every stored object to handler.
	StartServer(port int, aeTitle string, handler services.StoreHandler) (Listener, error)
	// Shutdown releases whatever the toolkit still holds.
	Shutdown() error
}
