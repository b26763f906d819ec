// Package retrieve turns the asynchronous C-MOVE exchange into one
// blocking call. A Retriever consults the local archive, drives the peer
// through an association Manager and waits, bounded by a timeout, for the
// objects the peer pushes to the storage listener.
package retrieve

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"

	"github.com/caio-sobreiro/dicomfetch/archive"
	dicomerrors "github.com/caio-sobreiro/dicomfetch/errors"
	"github.com/caio-sobreiro/dicomfetch/metrics"
	"github.com/caio-sobreiro/dicomfetch/types"
)

const (
	DefaultTimeout       = 10 * time.Second
	DefaultSettle        = 250 * time.Millisecond
	DefaultQueryCacheTTL = time.Minute
)

// Config configures a Retriever.
type Config struct {
	Peer       Peer
	ListenPort int
	// Timeout bounds every Retrieve call.
	Timeout time.Duration
	// Settle is how long Retrieve keeps waiting for the final C-MOVE
	// status once the requested image has arrived.
	Settle time.Duration
	// Modality is added to every C-MOVE identifier, none when empty.
	Modality string
	// QueryCacheTTL is how long C-FIND results are reused, never when
	// negative.
	QueryCacheTTL time.Duration
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithLogger overrides the logger.
func WithLogger(logger *log.Entry) Option {
	return func(r *Retriever) {
		r.logger = logger
	}
}

// WithTimeout overrides Config.Timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(r *Retriever) {
		r.timeout = timeout
	}
}

// Retriever is the blocking façade over the retrieval machinery.
type Retriever struct {
	archive  *archive.Archive
	manager  *Manager
	engine   *Engine
	receiver *Receiver
	bus      *Bus
	timeout  time.Duration
	settle   time.Duration
	logger   *log.Entry

	requestID  atomic.Uint32
	queries    *ttlcache.Cache[string, queryResult]
	queryGroup singleflight.Group

	// janitorMu guards janitor, set while the query cache expiry loop runs.
	janitorMu sync.Mutex
	janitor   bool
}

// New creates a Retriever storing into arch and reaching the peer through
// toolkit. Nothing is opened before the first call that needs the network.
func New(toolkit Toolkit, arch *archive.Archive, config Config, opts ...Option) *Retriever {
	r := &Retriever{
		archive: arch,
		bus:     NewBus(),
		timeout: config.Timeout,
		settle:  config.Settle,
		logger:  log.WithField("component", "retriever"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	if r.settle < 0 {
		r.settle = 0
	}

	r.manager = NewManager(toolkit, config.Peer, r.logger.WithField("component", "association-manager"))
	r.receiver = NewReceiver(arch, r.manager.Session, r.bus.Publish, r.logger.WithField("component", "receiver"))
	r.engine = NewEngine(r.manager, arch, r.receiver, EngineConfig{
		Destination: config.Peer.LocalAETitle,
		ListenPort:  config.ListenPort,
		Modality:    config.Modality,
	}, r.logger.WithField("component", "engine"))

	ttl := config.QueryCacheTTL
	if ttl == 0 {
		ttl = DefaultQueryCacheTTL
	}
	if ttl > 0 {
		r.queries = ttlcache.New(ttlcache.WithTTL[string, queryResult](ttl))
		r.startJanitor()
	}
	return r
}

// Retrieve fetches what c names and returns once a terminal event arrived,
// the requested image was received, or the timeout elapsed. It never fails:
// failures are TERMINAL events and a timeout sets Outcome.TimedOut.
//
// When the timeout elapses the running exchange is cancelled with
// C-CANCEL. Events produced after Retrieve returned are discarded.
func (r *Retriever) Retrieve(ctx context.Context, c Criteria) Outcome {
	start := time.Now()
	callID := uuid.NewString()
	outcome := Outcome{CallID: callID}
	logger := r.logger.WithFields(log.Fields{
		"call_id": callID,
		"level":   c.Level(),
	})

	sub := r.bus.Subscribe(func(e Event) bool { return e.CallID == callID })
	metrics.Waiting.Set(float64(r.bus.Len()))
	defer func() {
		sub.Close()
		metrics.Waiting.Set(float64(r.bus.Len()))
	}()

	// The worker outlives this call on timeout, so it is not bound to ctx.
	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		r.engine.Run(workerCtx, callID, c, r.bus.Publish)
	}()

	deadline := time.NewTimer(r.timeout)
	defer deadline.Stop()
	var settle <-chan time.Time

	drain := func() bool {
		for _, e := range sub.Drain() {
			outcome.add(e)
			if e.Terminal() {
				return true
			}
			if settle == nil && e.Satisfies(c) {
				wait := r.settle
				if remaining := r.timeout - time.Since(start); remaining < wait {
					wait = remaining
				}
				settle = time.After(wait)
			}
		}
		return false
	}

wait:
	for {
		select {
		case <-sub.Ready():
			if drain() {
				break wait
			}
		case <-done:
			drain()
			break wait
		case <-settle:
			drain()
			break wait
		case <-deadline.C:
			if !drain() {
				logger.WithError(dicomerrors.NewTimeoutError("retrieve", r.timeout)).Warn("No terminal event in time, cancelling")
				outcome.TimedOut = true
				cancel()
			}
			break wait
		case <-ctx.Done():
			if !drain() {
				logger.WithError(ctx.Err()).Warn("Caller gave up, cancelling")
				outcome.TimedOut = true
				cancel()
			}
			break wait
		}
	}

	result := outcome.Result()
	metrics.Retrievals.WithLabelValues(result).Inc()
	metrics.RetrievalDuration.WithLabelValues(string(c.Level())).Observe(time.Since(start).Seconds())
	logger.WithFields(log.Fields{
		"result":  result,
		"objects": len(outcome.ObjectIDs),
		"events":  len(outcome.Events),
		"elapsed": time.Since(start).String(),
	}).Info("Retrieve finished")
	return outcome
}

// Echo verifies the peer with C-ECHO over the managed association.
func (r *Retriever) Echo(ctx context.Context) uint16 {
	association, status := r.manager.EnsureAssociation(ctx)
	if status != types.StatusSuccess {
		return status
	}
	status, err := association.SendEcho(ctx, r.nextRequestID())
	if err != nil {
		r.logger.WithError(err).Warn("C-ECHO failed")
		r.manager.Drop(association)
		return types.StatusConnectFailed
	}
	return status
}

// Listen starts the storage listener ahead of any retrieval so objects a
// peer sends unrequested are archived as well. It returns the bound address.
func (r *Retriever) Listen() (net.Addr, uint16) {
	listener, status := r.manager.EnsureReceiver(r.engine.config.ListenPort, r.engine.config.Destination, r.receiver)
	if status != types.StatusSuccess {
		return nil, status
	}
	return listener.Addr(), status
}

// RetrieverInfo describes a Retriever.
type RetrieverInfo struct {
	Info        `yaml:",inline"`
	ArchiveRoot string `yaml:"archive_root"`
	Timeout     string `yaml:"timeout"`
}

// Info returns the archive root and a snapshot of the association state.
func (r *Retriever) Info() RetrieverInfo {
	return RetrieverInfo{
		Info:        r.manager.Info(),
		ArchiveRoot: r.archive.Root(),
		Timeout:     r.timeout.String(),
	}
}

// Delete removes an archived object, returning its former path.
func (r *Retriever) Delete(sopUID, subPath string) (string, error) {
	return r.archive.Delete(sopUID, subPath)
}

// Close releases the listener and the association and stops the query
// cache expiry loop. The Retriever can be used again afterwards; the next
// call reopens what it needs.
func (r *Retriever) Close() {
	r.manager.Release()
	r.janitorMu.Lock()
	defer r.janitorMu.Unlock()
	if r.janitor {
		r.queries.Stop()
		r.janitor = false
	}
}

// startJanitor runs the query cache expiry loop unless it already runs.
func (r *Retriever) startJanitor() {
	r.janitorMu.Lock()
	defer r.janitorMu.Unlock()
	if r.janitor {
		return
	}
	r.janitor = true
	go r.queries.Start()
}

func (r *Retriever) janitorRunning() bool {
	r.janitorMu.Lock()
	defer r.janitorMu.Unlock()
	return r.janitor
}

func (r *Retriever) nextRequestID() uint16 {
	for {
		id := uint16(r.requestID.Inc())
		if id != 0 {
			return id
		}
	}
}
