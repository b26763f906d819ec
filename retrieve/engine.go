package retrieve

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/caio-sobreiro/dicomfetch/archive"
	dicomerrors "github.com/caio-sobreiro/dicomfetch/errors"
	"github.com/caio-sobreiro/dicomfetch/metrics"
	"github.com/caio-sobreiro/dicomfetch/services"
	"github.com/caio-sobreiro/dicomfetch/types"
)

// EngineConfig configures the moves an Engine issues.
type EngineConfig struct {
	// Destination is the AE title of the local storage listener.
	Destination string
	ListenPort  int
	// Modality is added to every identifier, none when empty.
	Modality string
	// Model defaults to the Study Root C-MOVE model.
	Model string
}

// Engine runs one retrieval: archive lookup, then C-MOVE to the local
// storage listener.
type Engine struct {
	manager  *Manager
	archive  *archive.Archive
	receiver services.StoreHandler
	config   EngineConfig
	logger   *log.Entry
}

// NewEngine creates an engine. Objects pushed by the peer reach receiver.
func NewEngine(manager *Manager, arch *archive.Archive, receiver services.StoreHandler, config EngineConfig, logger *log.Entry) *Engine {
	if config.Model == "" {
		config.Model = types.StudyRootQueryRetrieveInformationModelMove
	}
	if logger == nil {
		logger = log.WithField("component", "engine")
	}
	return &Engine{
		manager:  manager,
		archive:  arch,
		receiver: receiver,
		config:   config,
		logger:   logger,
	}
}

// Run performs the retrieval described by c, reporting through emit. The
// last event emitted is terminal unless ctx ends before the session starts.
func (e *Engine) Run(ctx context.Context, callID string, c Criteria, emit func(Event)) {
	level := c.Level()
	logger := e.logger.WithFields(log.Fields{
		"call_id":  callID,
		"level":    level,
		"sub_path": c.SubPath,
	})
	send := func(ev Event) {
		ev.CallID = callID
		ev.Time = time.Now()
		emit(ev)
	}

	override := c.Override
	if level == types.QueryLevelImage && !override {
		path, hit, unreadable := e.lookup(c, logger)
		if hit {
			metrics.ArchiveHits.Inc()
			send(Event{
				Kind:     KindArchiveHit,
				Status:   types.StatusSuccess,
				Message:  "load archive",
				ObjectID: c.SOPUID,
				Path:     path,
			})
			return
		}
		// The copy on disk is replaced by whatever the peer sends back.
		override = unreadable
	}

	if c.Empty() {
		err := dicomerrors.NewConfigurationError("Criteria", types.StatusMoveMissingIdentifier, "no identifier to retrieve", nil)
		logger.Warn(err.Error())
		send(terminal(types.StatusMoveMissingIdentifier, err.Error()))
		return
	}

	end, err := e.manager.Begin(ctx, Session{
		CallID:   callID,
		SubPath:  c.SubPath,
		Override: override,
		SOPUID:   c.SOPUID,
	})
	if err != nil {
		logger.WithError(err).Debug("Retrieval abandoned before it started")
		return
	}
	defer end()

	association, status := e.manager.EnsureAssociation(ctx)
	if status != types.StatusSuccess {
		send(terminal(status, "association failed"))
		return
	}
	if _, status := e.manager.EnsureReceiver(e.config.ListenPort, e.config.Destination, e.receiver); status != types.StatusSuccess {
		send(terminal(status, fmt.Sprintf("storage listener port %d unavailable", e.config.ListenPort)))
		return
	}

	messageID := e.manager.NextMessageID()
	logger = logger.WithField("message_id", messageID)
	logger.Info("Requesting C-MOVE")

	final, err := association.SendMove(ctx, MoveRequest{
		MessageID:   messageID,
		Model:       e.config.Model,
		Destination: e.config.Destination,
		Identifier:  c.Identifier(e.config.Modality),
	}, func(rsp MoveResponse) {
		phase := Classify(rsp.Status)
		metrics.MoveResponses.WithLabelValues(phase.String()).Inc()
		if phase != PhasePending {
			return
		}
		logger.WithFields(log.Fields{
			"remaining": rsp.Remaining,
			"completed": rsp.Completed,
			"failed":    rsp.Failed,
		}).Debug("C-MOVE pending")
		send(Event{
			Kind:    KindPending,
			Status:  rsp.Status,
			Message: fmt.Sprintf("remaining %d, completed %d, failed %d, warning %d", rsp.Remaining, rsp.Completed, rsp.Failed, rsp.Warning),
		})
	})
	if err != nil {
		send(e.transportFailure(ctx, association, err, logger))
		return
	}

	switch Classify(final.Status) {
	case PhaseDone:
		logger.WithField("completed", final.Completed).Info("C-MOVE done")
		send(Event{
			Kind:    KindDone,
			Status:  final.Status,
			Message: fmt.Sprintf("completed %d", final.Completed),
		})
	default:
		message := final.ErrorComment
		if message == "" {
			message = fmt.Sprintf("C-MOVE failed: completed %d, failed %d, warning %d", final.Completed, final.Failed, final.Warning)
		}
		err := dicomerrors.NewProtocolError("C-MOVE", final.Status, message)
		switch {
		case err.IsWarning():
			logger.WithError(err).WithField("failed", final.Failed).Warn("C-MOVE finished with failed sub-operations")
		case err.IsFailure():
			logger.WithError(err).Warn("C-MOVE failed")
		default:
			logger.WithError(err).Warn("C-MOVE ended with unexpected status")
		}
		send(terminal(final.Status, message))
	}
}

// lookup reports whether the requested object is archived and readable.
// unreadable is set when a file exists at the archive path but cannot be
// decoded.
func (e *Engine) lookup(c Criteria, logger *log.Entry) (path string, hit, unreadable bool) {
	exists, path := e.archive.Has(c.SOPUID, c.SubPath)
	if !exists {
		logger.Debug("Object not archived")
		return "", false, false
	}
	obj, err := e.archive.Load(c.SOPUID, c.SubPath)
	if err != nil || obj == nil {
		logger.WithError(err).Warn("Archived object unreadable, fetching again")
		return path, false, true
	}
	return path, true, false
}

// transportFailure turns an exchange that ended without a final status
// into a terminal event.
func (e *Engine) transportFailure(ctx context.Context, association Association, err error, logger *log.Entry) Event {
	if ctx.Err() != nil {
		logger.WithError(err).Info("C-MOVE cancelled")
		return terminal(types.StatusCancel, "cancelled: "+ctx.Err().Error())
	}
	if !association.Alive() {
		e.manager.Drop(association)
		logger.WithError(err).Warn("Association lost during C-MOVE")
		return terminal(types.StatusConnectFailed, err.Error())
	}
	status, ok := dicomerrors.StatusOf(err)
	if !ok {
		status = types.StatusFailure
	}
	logger.WithError(err).Warn("C-MOVE failed")
	return terminal(status, err.Error())
}

func terminal(status uint16, message string) Event {
	return Event{
		Kind:      KindTerminal,
		Status:    status,
		Message:   message,
		Cancelled: true,
	}
}
