package evtx

import "time"

// Record is what a decoder hands over per log record.
type Record struct {
	ID        uint64
	Timestamp time.Time
	// EventID is the text of System/EventID, used by the grep path.
	EventID string
	Events  []Event
	// Raw is the record's serialized source text (XML or JSON).
	Raw string
}

// Document builds the record's tree with a fresh Builder.
func (r *Record) Document() (*Document, error) {
	return Build(r.Events)
}
