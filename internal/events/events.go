// Package events implements the Event Bus (C8): serialized publication of
// host lifecycle events to subscribers, with late subscribers replayed the
// synthetic InitialInitializationComplete event if the host already
// finished booting.
package events

import "github.com/vmbridge/nashorn-bridge/pkg/model"

// Kind identifies which of the five host lifecycle events an Event carries.
type Kind int

const (
	ScriptAdded Kind = iota
	HitBreakpoint
	Resumed
	UncaughtError
	InitialInitializationComplete
)

func (k Kind) String() string {
	switch k {
	case ScriptAdded:
		return "ScriptAdded"
	case HitBreakpoint:
		return "HitBreakpoint"
	case Resumed:
		return "Resumed"
	case UncaughtError:
		return "UncaughtError"
	case InitialInitializationComplete:
		return "InitialInitializationComplete"
	default:
		return "Unknown"
	}
}

// Event is one host lifecycle notification. Only the field matching Kind is
// populated.
type Event struct {
	Kind Kind

	Script      *model.Script       // ScriptAdded
	StackFrames []model.StackFrame  // HitBreakpoint
	Error       error               // UncaughtError
}
