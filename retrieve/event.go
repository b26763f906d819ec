package retrieve

import (
	"fmt"
	"time"

	"github.com/caio-sobreiro/dicomfetch/types"
)

// Kind is the closed set of events a retrieval produces.
type Kind int

const (
	// KindArchiveHit means the object was served from the local archive.
	KindArchiveHit Kind = iota + 1
	// KindPending is a pending C-MOVE response.
	KindPending
	// KindObjectReceived means the storage SCP archived an object.
	KindObjectReceived
	// KindStorageError means a received object could not be archived.
	KindStorageError
	// KindDone is the successful end of a C-MOVE.
	KindDone
	// KindTerminal is any failed end of a retrieval.
	KindTerminal
)

var kindNames = map[Kind]string{
	KindArchiveHit:     "ARCHIVE_HIT",
	KindPending:        "PENDING",
	KindObjectReceived: "OBJECT_RECEIVED",
	KindStorageError:   "STORAGE_ERROR",
	KindDone:           "DONE",
	KindTerminal:       "TERMINAL",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event is the only information flowing out of the asynchronous side of a
// retrieval.
type Event struct {
	Kind      Kind      `yaml:"kind"`
	Status    uint16    `yaml:"-"`
	Message   string    `yaml:"message,omitempty"`
	ObjectID  string    `yaml:"object_id,omitempty"`
	Path      string    `yaml:"path,omitempty"`
	Cancelled bool      `yaml:"cancelled"`
	CallID    string    `yaml:"call_id,omitempty"`
	Time      time.Time `yaml:"time"`
}

// Terminal reports whether e ends a retrieval on its own.
func (e Event) Terminal() bool {
	switch e.Kind {
	case KindArchiveHit, KindDone, KindTerminal:
		return true
	}
	return false
}

// Satisfies reports whether e completes a retrieval for c: a terminal
// event, or the arrival of the one object an IMAGE level request asked for.
func (e Event) Satisfies(c Criteria) bool {
	if e.Terminal() {
		return true
	}
	return e.Kind == KindObjectReceived && c.Level() == types.QueryLevelImage && e.ObjectID == c.SOPUID
}

// StatusHex formats the status the way peers and logs print it.
func (e Event) StatusHex() string {
	return types.StatusString(e.Status)
}

// Phase is the classification of a C-MOVE response status.
type Phase int

const (
	PhasePending Phase = iota
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "PENDING"
	case PhaseDone:
		return "DONE"
	}
	return "FAILED"
}

// Classify maps a C-MOVE response status to the engine phase it leads to.
// Every status other than pending and success fails the move.
func Classify(status uint16) Phase {
	switch {
	case types.IsPendingStatus(status):
		return PhasePending
	case status == types.StatusSuccess:
		return PhaseDone
	}
	return PhaseFailed
}
