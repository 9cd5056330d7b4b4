package ui

import "github.com/bamsammich/packrat/internal/event"

// Event is the engine progress event consumed by presenters.
type Event = event.Event

// Re-export event types for convenience.
const (
	PackStarted    = event.PackStarted
	UnpackStarted  = event.UnpackStarted
	EntryStarted   = event.EntryStarted
	EntryCompleted = event.EntryCompleted
	EntryFailed    = event.EntryFailed
	EntrySkipped   = event.EntrySkipped
	CorruptHeader  = event.CorruptHeader
	VerifyStarted  = event.VerifyStarted
	VerifyOK       = event.VerifyOK
	VerifyFailed   = event.VerifyFailed
	Finished       = event.Finished
)
