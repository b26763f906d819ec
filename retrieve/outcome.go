package retrieve

// Outcome is everything a retrieval produced before Retrieve returned.
type Outcome struct {
	CallID    string   `yaml:"call_id"`
	ObjectIDs []string `yaml:"object_ids"`
	Events    []Event  `yaml:"events"`
	// TimedOut is set when Retrieve stopped waiting before a terminal
	// event arrived; the outcome may then be partial.
	TimedOut bool `yaml:"timed_out"`
}

func (o *Outcome) add(e Event) {
	o.Events = append(o.Events, e)
	if e.ObjectID == "" {
		return
	}
	if e.Kind != KindArchiveHit && e.Kind != KindObjectReceived {
		return
	}
	for _, id := range o.ObjectIDs {
		if id == e.ObjectID {
			return
		}
	}
	o.ObjectIDs = append(o.ObjectIDs, e.ObjectID)
}

// Final returns the last terminal event.
func (o Outcome) Final() (Event, bool) {
	for i := len(o.Events) - 1; i >= 0; i-- {
		if o.Events[i].Terminal() {
			return o.Events[i], true
		}
	}
	return Event{}, false
}

// Result summarizes the outcome as one of archive_hit, done, failed,
// timeout, received or incomplete.
func (o Outcome) Result() string {
	if final, ok := o.Final(); ok {
		switch final.Kind {
		case KindArchiveHit:
			return "archive_hit"
		case KindDone:
			return "done"
		}
		return "failed"
	}
	if o.TimedOut {
		return "timeout"
	}
	if len(o.ObjectIDs) > 0 {
		return "received"
	}
	return "incomplete"
}
