package retrieve

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	dicomerrors "github.com/caio-sobreiro/dicomfetch/errors"
	"github.com/caio-sobreiro/dicomfetch/services"
	"github.com/caio-sobreiro/dicomfetch/types"
)

// Session is the state of the retrieval currently using the receiver.
type Session struct {
	CallID   string
	SubPath  string
	Override bool
	SOPUID   string
}

// Info is a snapshot of the manager.
type Info struct {
	PeerAETitle      string `yaml:"peer_ae_title"`
	PeerAddress      string `yaml:"peer_address"`
	LocalAETitle     string `yaml:"local_ae_title"`
	AssociationAlive bool   `yaml:"association_alive"`
	ListenerAlive    bool   `yaml:"listener_alive"`
	ListenerAddress  string `yaml:"listener_address,omitempty"`
	MessageID        uint16 `yaml:"message_id"`
}

// Manager owns at most one association to the peer and one storage
// listener, both created lazily and kept until Release.
type Manager struct {
	toolkit Toolkit
	peer    Peer
	logger  *log.Entry

	// mu guards association and listener.
	mu          sync.Mutex
	association Association
	listener    Listener
	messageID   atomic.Uint32

	// slot serializes sessions; the holder is the single writer of session.
	slot      chan struct{}
	sessionMu sync.RWMutex
	session   Session
}

// NewManager creates a manager connecting to peer through toolkit.
func NewManager(toolkit Toolkit, peer Peer, logger *log.Entry) *Manager {
	if logger == nil {
		logger = log.WithField("component", "association-manager")
	}
	return &Manager{
		toolkit: toolkit,
		peer:    peer,
		logger: logger.WithFields(log.Fields{
			"peer":    peer.Address(),
			"peer_ae": peer.AETitle,
		}),
		slot: make(chan struct{}, 1),
	}
}

// EnsureAssociation returns the live association, associating first when
// there is none. Failures are reported as StatusConnectFailed.
func (m *Manager) EnsureAssociation(ctx context.Context) (Association, uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.association != nil {
		if m.association.Alive() {
			return m.association, types.StatusSuccess
		}
		m.logger.Info("Association lost, reconnecting")
		m.association = nil
	}

	association, err := m.toolkit.Associate(ctx, m.peer)
	if err != nil {
		m.logger.WithError(err).Warn("Failed to associate")
		return nil, types.StatusConnectFailed
	}
	m.association = association
	m.logger.Debug("Association established")
	return association, types.StatusSuccess
}

// EnsureReceiver returns the live storage listener, starting one on port
// when there is none. A new listener resets the message id. A port that
// cannot be bound is reported as StatusListenerBusy and leaves the
// association untouched.
func (m *Manager) EnsureReceiver(port int, localTitle string, handler services.StoreHandler) (Listener, uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listener != nil {
		return m.listener, types.StatusSuccess
	}

	listener, err := m.toolkit.StartServer(port, localTitle, handler)
	if err != nil {
		cfgErr := dicomerrors.NewConfigurationError("Local.ListenPort", types.StatusListenerBusy, "storage listener cannot be bound", err)
		m.logger.WithError(cfgErr).WithField("port", port).Warn("Failed to start storage listener")
		return nil, types.StatusListenerBusy
	}
	m.listener = listener
	m.messageID.Store(0)
	m.logger.WithFields(log.Fields{
		"addr":     listener.Addr().String(),
		"local_ae": localTitle,
	}).Info("Storage listener started")
	return listener, types.StatusSuccess
}

// NextMessageID returns the id of the next request, skipping 0.
func (m *Manager) NextMessageID() uint16 {
	for {
		id := uint16(m.messageID.Inc())
		if id != 0 {
			return id
		}
	}
}

// Drop forgets association if it is still the managed one and no longer
// usable, so that the next call associates again.
func (m *Manager) Drop(association Association) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.association != association || association.Alive() {
		return
	}
	if err := association.Release(); err != nil && !errors.Is(err, dicomerrors.ErrConnectionClosed) {
		m.logger.WithError(err).Debug("Failed to release broken association")
	}
	m.association = nil
}

// Release shuts down the listener, then the association, then the
// toolkit. It is safe to call more than once.
func (m *Manager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listener != nil {
		if err := m.listener.Shutdown(); err != nil {
			m.logger.WithError(err).Debug("Storage listener already stopped")
		}
		m.listener = nil
	}
	if m.association != nil {
		if err := m.association.Release(); err != nil {
			m.logger.WithError(err).Debug("Association already closed")
		}
		m.association = nil
	}
	if err := m.toolkit.Shutdown(); err != nil {
		m.logger.WithError(err).Debug("Toolkit shutdown")
	}
	m.logger.Info("Released")
}

// Begin waits until no other session runs and makes s current. The
// returned function ends the session. The archive location of s stays in
// place after the end, for objects the peer still pushes late.
func (m *Manager) Begin(ctx context.Context, s Session) (func(), error) {
	select {
	case m.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	m.sessionMu.Lock()
	m.session = s
	m.sessionMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.sessionMu.Lock()
			m.session.CallID = ""
			m.sessionMu.Unlock()
			<-m.slot
		})
	}, nil
}

// Session returns the current session.
func (m *Manager) Session() Session {
	m.sessionMu.RLock()
	defer m.sessionMu.RUnlock()
	return m.session
}

// Info returns a snapshot of the manager.
func (m *Manager) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := Info{
		PeerAETitle:  m.peer.AETitle,
		PeerAddress:  m.peer.Address(),
		LocalAETitle: m.peer.LocalAETitle,
		MessageID:    uint16(m.messageID.Load()),
	}
	if m.association != nil {
		info.AssociationAlive = m.association.Alive()
	}
	if m.listener != nil {
		info.ListenerAlive = true
		info.ListenerAddress = m.listener.Addr().String()
	}
	return info
}
