package event

import "time"

// Type identifies the kind of event.
type Type int

const (
	PackStarted Type = iota + 1
	UnpackStarted
	EntryStarted
	EntryCompleted
	EntryFailed
	EntrySkipped
	CorruptHeader
	VerifyStarted
	VerifyOK
	VerifyFailed
	Finished
)

var typeNames = [...]string{
	PackStarted:    "PackStarted",
	UnpackStarted:  "UnpackStarted",
	EntryStarted:   "EntryStarted",
	EntryCompleted: "EntryCompleted",
	EntryFailed:    "EntryFailed",
	EntrySkipped:   "EntrySkipped",
	CorruptHeader:  "CorruptHeader",
	VerifyStarted:  "VerifyStarted",
	VerifyOK:       "VerifyOK",
	VerifyFailed:   "VerifyFailed",
	Finished:       "Finished",
}

func (t Type) String() string {
	if t > 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// Event represents a single progress event from the engine.
type Event struct {
	Type      Type
	Timestamp time.Time
	Path      string // archive-relative, slash separated
	Kind      string // "file", "dir" or "symlink"
	Size      int64  // body bytes streamed
	Error     error
}
