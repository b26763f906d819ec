package server

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/caio-sobreiro/dicomfetch/dimse"
	"github.com/caio-sobreiro/dicomfetch/interfaces"
	"github.com/caio-sobreiro/dicomfetch/pdu"
)

// ErrServerClosed is returned by Shutdown on a listener already shut down.
var ErrServerClosed = errors.New("dicomserver: server closed")

// Option configures a Server instance.
type Option func(*Server)

// WithLogger overrides the logger used by the server.
func WithLogger(logger *log.Entry) Option {
	return func(s *Server) {
		s.Logger = logger
	}
}

// WithReadTimeout bounds the idle time between two PDUs of an association.
func WithReadTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.ReadTimeout = timeout
	}
}

// WithPolicy overrides the presentation context negotiation policy.
func WithPolicy(policy pdu.Policy) Option {
	return func(s *Server) {
		s.Policy = policy
	}
}

// Server exposes a reusable DICOM listener that wires the DIMSE and PDU layers.
type Server struct {
	AETitle     string
	Handler     interfaces.ServiceHandler
	Logger      *log.Entry
	ReadTimeout time.Duration // Idle timeout between PDUs (default: 60s)
	Policy      pdu.Policy
}

// New builds a Server with the provided AE title and handler.
func New(aeTitle string, handler interfaces.ServiceHandler, opts ...Option) *Server {
	srv := &Server{
		AETitle:     aeTitle,
		Handler:     handler,
		ReadTimeout: 60 * time.Second,
		Policy:      pdu.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

// ListenAndServe listens on the given address and serves until the context is done or an error occurs.
func ListenAndServe(ctx context.Context, address, aeTitle string, handler interfaces.ServiceHandler, opts ...Option) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	defer listener.Close()

	srv := New(aeTitle, handler, opts...)
	return srv.Serve(ctx, listener)
}

// Serve accepts connections from listener until ctx is cancelled or an
// unrecoverable error occurs. It returns once every association has ended.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	if listener == nil {
		return errors.New("dicomserver: listener is required")
	}
	if s == nil {
		return errors.New("dicomserver: server is nil")
	}
	if s.Handler == nil {
		return errors.New("dicomserver: handler is required")
	}
	if s.AETitle == "" {
		return errors.New("dicomserver: AE title is required")
	}

	logger := s.logger().WithField("ae_title", s.AETitle)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { _ = listener.Close() })
	defer stop()

	logger.WithField("address", listener.Addr().String()).Info("DICOM server listening")

	var (
		wg       sync.WaitGroup
		serveErr error
	)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				logger.WithError(err).Warn("Accept timeout")
				continue
			}
			serveErr = err
			break
		}

		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			s.handleConnection(ctx, c, logger)
		}(conn)
	}

	cancel()
	wg.Wait()

	if serveErr != nil {
		return serveErr
	}
	return ctx.Err()
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn, logger *log.Entry) {
	logger = logger.WithField("remote_addr", conn.RemoteAddr().String())
	logger.Debug("Accepted DICOM connection")

	connCtx, cancel := context.WithCancel(ctx)
	service := dimse.NewService(s.Handler, logger.WithField("component", "dimse"))
	defer func() {
		cancel()
		service.Close()
	}()

	layer := pdu.NewLayer(conn, &dimseHandlerAdapter{service: service}, s.AETitle,
		pdu.WithLogger(logger.WithField("component", "pdu")),
		pdu.WithPolicy(s.Policy),
		pdu.WithReadTimeout(s.ReadTimeout),
	)

	if err := layer.HandleConnection(connCtx); err != nil && ctx.Err() == nil {
		logger.WithError(err).Warn("DIMSE connection ended")
	} else {
		logger.Debug("DIMSE connection closed")
	}
}

func (s *Server) logger() *log.Entry {
	if s.Logger != nil {
		return s.Logger
	}
	return log.WithField("component", "server")
}

type dimseHandlerAdapter struct {
	service *dimse.Service
}

func (a *dimseHandlerAdapter) HandleDIMSEMessage(ctx context.Context, presContextID byte, msgCtrlHeader byte, data []byte, layer *pdu.Layer) error {
	return a.service.HandleDIMSEMessage(ctx, presContextID, msgCtrlHeader, data, layer)
}

// Listener is a Server running in the background.
type Listener struct {
	addr   net.Addr
	cancel context.CancelFunc
	done   chan error
	once   sync.Once
}

// Start binds address and serves in the background. Binding errors, a busy
// port included, are returned immediately.
func Start(address, aeTitle string, handler interfaces.ServiceHandler, opts ...Option) (*Listener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}

	srv := New(aeTitle, handler, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{addr: ln.Addr(), cancel: cancel, done: make(chan error, 1)}
	go func() {
		l.done <- srv.Serve(ctx, ln)
	}()
	return l, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.addr
}

// Shutdown stops accepting associations and waits for the running ones.
func (l *Listener) Shutdown() error {
	err := ErrServerClosed
	l.once.Do(func() {
		l.cancel()
		err = <-l.done
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	})
	return err
}
