package retrieve

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/caio-sobreiro/dicomfetch/archive"
	dicomerrors "github.com/caio-sobreiro/dicomfetch/errors"
	"github.com/caio-sobreiro/dicomfetch/metrics"
	"github.com/caio-sobreiro/dicomfetch/services"
	"github.com/caio-sobreiro/dicomfetch/types"
)

// Receiver archives the objects pushed to the storage listener.
type Receiver struct {
	archive *archive.Archive
	session func() Session
	publish func(Event)
	logger  *log.Entry
}

var _ services.StoreHandler = (*Receiver)(nil)

// NewReceiver creates a receiver storing into arch under the location of
// the current session and publishing one event per object.
func NewReceiver(arch *archive.Archive, session func() Session, publish func(Event), logger *log.Entry) *Receiver {
	if logger == nil {
		logger = log.WithField("component", "receiver")
	}
	return &Receiver{
		archive: arch,
		session: session,
		publish: publish,
		logger:  logger,
	}
}

// HandleStore archives one object. A failure is reported for that object
// only; the listener keeps accepting.
func (r *Receiver) HandleStore(ctx context.Context, req *services.StoreRequest) uint16 {
	session := r.session()
	logger := r.logger.WithFields(log.Fields{
		"call_id":          session.CallID,
		"sop_instance_uid": req.SOPInstanceUID,
		"calling_ae":       req.CallingAETitle,
		"sub_path":         session.SubPath,
	})

	obj := &archive.Object{
		SOPClassUID:       req.SOPClassUID,
		SOPInstanceUID:    req.SOPInstanceUID,
		TransferSyntaxUID: req.TransferSyntaxUID,
		Dataset:           req.Data,
	}
	entry, err := r.archive.Store(req.SOPInstanceUID, session.SubPath, obj, session.Override)
	if err != nil {
		status := types.StatusStoreSaveError
		var storeErr *dicomerrors.StorageError
		if errors.As(err, &storeErr) {
			status = storeErr.Status
		}
		logger.WithError(err).WithField("status", types.StatusString(status)).Error("Failed to archive received object")
		metrics.StorageErrors.WithLabelValues(types.StatusString(status)).Inc()
		r.publish(Event{
			Kind:     KindStorageError,
			Status:   status,
			Message:  err.Error(),
			ObjectID: req.SOPInstanceUID,
			Path:     entry.Path,
			CallID:   session.CallID,
			Time:     time.Now(),
		})
		return status
	}

	message := "stored"
	if !entry.Written {
		message = "kept archived copy"
	}
	logger.WithFields(log.Fields{
		"path":    entry.Path,
		"written": entry.Written,
		"digest":  entry.Digest,
	}).Info("Object received")
	metrics.ObjectsReceived.Inc()
	r.publish(Event{
		Kind:     KindObjectReceived,
		Status:   types.StatusSuccess,
		Message:  message,
		ObjectID: req.SOPInstanceUID,
		Path:     entry.Path,
		CallID:   session.CallID,
		Time:     time.Now(),
	})
	return types.StatusSuccess
}
