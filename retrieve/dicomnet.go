package retrieve

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/caio-sobreiro/dicomfetch/client"
	dicomerrors "github.com/caio-sobreiro/dicomfetch/errors"
	"github.com/caio-sobreiro/dicomfetch/server"
	"github.com/caio-sobreiro/dicomfetch/services"
	"github.com/caio-sobreiro/dicomfetch/types"
)

// ToolkitOption configures the dicomnet toolkit.
type ToolkitOption func(*dicomnetToolkit)

// WithToolkitLogger overrides the logger of associations and listeners.
func WithToolkitLogger(logger *log.Entry) ToolkitOption {
	return func(t *dicomnetToolkit) {
		t.logger = logger
	}
}

// WithListenHost restricts the storage listener to one interface.
func WithListenHost(host string) ToolkitOption {
	return func(t *dicomnetToolkit) {
		t.listenHost = host
	}
}

// dicomnetToolkit implements Toolkit with the client and server packages.
type dicomnetToolkit struct {
	logger     *log.Entry
	listenHost string

	mu           sync.Mutex
	associations map[*dicomnetAssociation]struct{}
	listeners    map[*server.Listener]struct{}
}

// NewDicomnetToolkit returns the Toolkit backed by this module's DICOM
// network stack.
func NewDicomnetToolkit(opts ...ToolkitOption) Toolkit {
	t := &dicomnetToolkit{
		logger:       log.WithField("component", "dicomnet"),
		associations: make(map[*dicomnetAssociation]struct{}),
		listeners:    make(map[*server.Listener]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *dicomnetToolkit) Associate(ctx context.Context, peer Peer) (Association, error) {
	assoc, err := client.Connect(ctx, peer.Address(), client.Config{
		CallingAETitle: peer.LocalAETitle,
		CalledAETitle:  peer.AETitle,
		ConnectTimeout: peer.ConnectTimeout,
		ReadTimeout:    peer.ReadTimeout,
		Logger:         t.logger,
	})
	if err != nil {
		return nil, err
	}
	a := &dicomnetAssociation{toolkit: t, assoc: assoc}
	t.mu.Lock()
	t.associations[a] = struct{}{}
	t.mu.Unlock()
	return a, nil
}

func (t *dicomnetToolkit) StartServer(port int, aeTitle string, handler services.StoreHandler) (Listener, error) {
	registry := services.NewRegistry()
	registry.RegisterHandler(types.CEchoRQ, services.NewEchoService())
	registry.RegisterHandler(types.CStoreRQ, services.NewStoreService(handler))

	address := net.JoinHostPort(t.listenHost, strconv.Itoa(port))
	listener, err := server.Start(address, aeTitle, registry, server.WithLogger(t.logger.WithField("local_ae", aeTitle)))
	if err != nil {
		return nil, errors.Wrapf(err, "listening on %s", address)
	}
	t.mu.Lock()
	t.listeners[listener] = struct{}{}
	t.mu.Unlock()
	return &dicomnetListener{toolkit: t, listener: listener}, nil
}

// Shutdown aborts associations and stops listeners that were not released.
func (t *dicomnetToolkit) Shutdown() error {
	t.mu.Lock()
	associations := t.associations
	listeners := t.listeners
	t.associations = make(map[*dicomnetAssociation]struct{})
	t.listeners = make(map[*server.Listener]struct{})
	t.mu.Unlock()

	for listener := range listeners {
		if err := listener.Shutdown(); err != nil && !errors.Is(err, server.ErrServerClosed) {
			t.logger.WithError(err).Warn("Failed to stop storage listener")
		}
	}
	for a := range associations {
		if err := a.assoc.Abort(); err != nil && !errors.Is(err, dicomerrors.ErrConnectionClosed) {
			t.logger.WithError(err).Warn("Failed to abort association")
		}
	}
	return nil
}

type dicomnetListener struct {
	toolkit  *dicomnetToolkit
	listener *server.Listener
}

func (l *dicomnetListener) Addr() net.Addr {
	return l.listener.Addr()
}

func (l *dicomnetListener) Shutdown() error {
	l.toolkit.mu.Lock()
	delete(l.toolkit.listeners, l.listener)
	l.toolkit.mu.Unlock()
	return l.listener.Shutdown()
}

type dicomnetAssociation struct {
	toolkit *dicomnetToolkit
	assoc   *client.Association
}

func (a *dicomnetAssociation) Alive() bool {
	return a.assoc.Alive()
}

func (a *dicomnetAssociation) SendEcho(ctx context.Context, messageID uint16) (uint16, error) {
	rsp, err := a.assoc.SendCEcho(ctx, messageID)
	if err != nil {
		return 0, err
	}
	return rsp.Status, nil
}

func (a *dicomnetAssociation) SendFind(ctx context.Context, req FindRequest, fn func(FindResponse)) (FindResponse, error) {
	var final FindResponse
	err := a.assoc.StreamCFind(ctx, &client.CFindRequest{
		SOPClassUID: req.Model,
		MessageID:   req.MessageID,
		Dataset:     req.Identifier,
	}, func(rsp *client.CFindResponse) error {
		final = FindResponse{Status: rsp.Status, Identifier: rsp.Dataset}
		if fn != nil {
			fn(final)
		}
		return nil
	})
	return final, err
}

func (a *dicomnetAssociation) SendMove(ctx context.Context, req MoveRequest, fn func(MoveResponse)) (MoveResponse, error) {
	final, err := a.assoc.SendCMove(ctx, &client.CMoveRequest{
		SOPClassUID: req.Model,
		MessageID:   req.MessageID,
		Destination: req.Destination,
		Dataset:     req.Identifier,
	}, func(rsp *client.CMoveResponse) {
		if fn != nil {
			fn(moveResponse(rsp))
		}
	})
	if err != nil {
		return MoveResponse{}, err
	}
	return moveResponse(final), nil
}

func (a *dicomnetAssociation) Release() error {
	a.toolkit.mu.Lock()
	delete(a.toolkit.associations, a)
	a.toolkit.mu.Unlock()
	return a.assoc.Close()
}

func moveResponse(rsp *client.CMoveResponse) MoveResponse {
	return MoveResponse{
		Status:       rsp.Status,
		ErrorComment: rsp.ErrorComment,
		Remaining:    counter(rsp.Remaining),
		Completed:    counter(rsp.Completed),
		Failed:       counter(rsp.Failed),
		Warning:      counter(rsp.Warning),
	}
}

func counter(v *uint16) uint16 {
	if v == nil {
		return 0
	}
	return *v
}
