package host

import (
	"github.com/vmbridge/nashorn-bridge/internal/events"
	"github.com/vmbridge/nashorn-bridge/internal/jdwp"
	"github.com/vmbridge/nashorn-bridge/pkg/model"
)

// handleEventSet is the per-event-set dispatch described in §4.4. It always
// runs on the mailbox goroutine.
func (h *Host) handleEventSet(es jdwp.EventSet) {
	for _, ev := range es.Events {
		if ev.Kind == jdwp.EventVMDeath || ev.Kind == jdwp.EventVMDisconnected {
			h.Bus.Publish(events.Event{Kind: events.UncaughtError, Error: model.VMDisconnect(nil)})
			h.Stop()
			return
		}
	}

	if h.pausedData != nil {
		// One debug session at a time: ignore and let the event set run.
		h.VM.Resume()
		return
	}

	for _, ev := range es.Events {
		switch ev.Kind {
		case jdwp.EventBreakpoint:
			if h.handleBreakEvent(ev) {
				return // paused: do not resume the event set
			}
		case jdwp.EventClassPrepare:
			if h.isInitialized {
				h.considerReferenceType(ev.RefType, model.InitialScriptResolveAttempts)
			} else {
				h.classPrepareCount++
			}
		case jdwp.EventException:
			if h.shouldPauseOnException(ev) && h.handleBreakEvent(ev) {
				return
			}
		case jdwp.EventMethodEntry, jdwp.EventMethodExit:
			if h.handleBreakEvent(ev) {
				return
			}
		case jdwp.EventVMStart:
			// ignored
		}
	}

	h.VM.Resume()
}

func (h *Host) shouldPauseOnException(ev jdwp.Event) bool {
	switch h.exceptionMode {
	case model.PauseOnNone:
		return false
	case model.PauseOnAll:
		return true
	case model.PauseOnCaught:
		return ev.CatchLocValid
	case model.PauseOnUncaught:
		return !ev.CatchLocValid
	default:
		return false
	}
}

// handleBreakEvent runs the ordered snapshot-then-marshal algorithm of
// §4.5. It returns true if the thread was left paused (and pausedData set),
// false if the hit was ignored: a `debugger` trap hit while breakpoints are
// not being paused on, a failed frame read, or an empty stack. A top frame
// whose location matches no breakable location still pauses.
func (h *Host) handleBreakEvent(ev jdwp.Event) bool {
	if ev.Kind == jdwp.EventBreakpoint && h.debuggerBreakpointRequestID != 0 && ev.RequestID == h.debuggerBreakpointRequestID && !h.willPauseOnBreakpoints {
		return false
	}

	h.clearOneShotRequests()
	h.Objects.Clear()

	frames, err := h.VM.ThreadFrames(ev.Thread, 0, -1)
	if err != nil {
		h.Logger.Printf("nashorn-bridge: reading thread frames: %v", err)
		return false
	}

	// Phase 1: raw snapshot. StackFrame.GetValues/ThisObject only read the
	// suspended thread's state, so batching them here (rather than during
	// marshaling) is safe and keeps the snapshot self-contained.
	snapshots := make([]frameSnapshot, 0, len(frames))
	for _, f := range frames {
		snap := frameSnapshot{FrameID: f.Frame, Location: f.Location}
		snap.This, _ = h.VM.FrameThisObject(ev.Thread, f.Frame)
		snap.Locals, snap.LocalSlots = h.collectLocals(ev.Thread, f.Frame, f.Location)
		if scope, ok := snap.Locals[":scope"]; ok {
			snap.Scope = scope
			delete(snap.Locals, ":scope")
		}
		snapshots = append(snapshots, snap)
	}

	pd := &PausedData{Thread: ev.Thread, Frames: snapshots}
	h.pausedData = pd

	// Phase 2: marshal, which may call into the VM (safe now: frames are
	// recorded by FrameID/Location, not held as live references).
	stackFrames := make([]model.StackFrame, 0, len(snapshots))
	for i := range pd.Frames {
		sf := h.marshalFrame(&pd.Frames[i], i)
		stackFrames = append(stackFrames, sf)
	}

	if len(stackFrames) == 0 {
		h.pausedData = nil
		return false
	}

	h.Bus.Publish(events.Event{Kind: events.HitBreakpoint, StackFrames: stackFrames})
	return true
}

func (h *Host) clearOneShotRequests() {
	for _, r := range h.oneShotRequestIDs {
		h.VM.ClearEventRequest(r.Kind, r.ID)
	}
	h.oneShotRequestIDs = nil
}

// Resume resumes the target thread, clearing the current pause.
func (h *Host) Resume() error {
	return postErr(h, func() error {
		if h.pausedData == nil {
			return model.IllegalState("resume")
		}
		if err := h.resumeLocked(); err != nil {
			return err
		}
		h.Bus.Publish(events.Event{Kind: events.Resumed})
		return nil
	})
}

// PauseOnBreakpoints lets the built-in `debugger` statement trap pause (it
// is disabled by default at boot so the trap does not fire before a client
// attaches). Breakpoints set through SetBreakpoint pause regardless of this
// setting.
func (h *Host) PauseOnBreakpoints() {
	post(h, func() any { h.willPauseOnBreakpoints = true; return nil })
}

// IgnoreBreakpoints disables the pause-on-breakpoint behavior enabled by
// PauseOnBreakpoints.
func (h *Host) IgnoreBreakpoints() {
	post(h, func() any { h.willPauseOnBreakpoints = false; return nil })
}

// PauseOnExceptions installs (or removes) a single JDWP exception request
// filtered to the engine's script-class prefix, per §4.5.
func (h *Host) PauseOnExceptions(mode model.PauseExceptionMode) error {
	return postErr(h, func() error {
		if h.exceptionRequestID != 0 {
			h.VM.ClearEventRequest(jdwp.EventException, h.exceptionRequestID)
			h.exceptionRequestID = 0
		}
		h.exceptionMode = mode
		if mode == model.PauseOnNone {
			return nil
		}
		id, err := h.VM.SetEventRequest(jdwp.EventException, jdwp.SuspendEventThread, []jdwp.EventModifier{
			{Kind: jdwp.ModKindClassMatch, Pattern: model.ScriptClassPrefix + "*"},
		})
		if err != nil {
			return model.JdwpError("set exception request", 0).WithCause(err)
		}
		h.exceptionRequestID = id
		return nil
	})
}

// SetBreakpoint enables the breakable location at (scriptURL, loc), per
// §4.3's exact (line,column) matching rule.
func (h *Host) SetBreakpoint(scriptURL string, loc model.ScriptLocation) (*model.Breakpoint, error) {
	return postR(h, func() (*model.Breakpoint, error) {
		bl, err := h.Registry.Breakables.FindExact(scriptURL, loc)
		if err != nil {
			return nil, err
		}
		id, err := h.VM.SetEventRequest(jdwp.EventBreakpoint, jdwp.SuspendEventThread, []jdwp.EventModifier{
			{Kind: jdwp.ModKindLocationOnly, Location: bl.VMLocation},
		})
		if err != nil {
			return nil, model.JdwpError("set breakpoint", 0).WithCause(err)
		}
		h.Registry.Breakables.Enable(bl, id, false)
		return &model.Breakpoint{ID: bl.ID, ScriptID: bl.Script.ID, Location: bl.ScriptLoc}, nil
	})
}

// RemoveBreakpointByID disables and forgets a previously set breakpoint.
func (h *Host) RemoveBreakpointByID(id string) error {
	return postErr(h, func() error {
		bl, ok := h.Registry.Breakables.RemoveBreakpoint(id)
		if !ok {
			return model.UnknownObject(id)
		}
		if bl.EventRequestID != 0 {
			h.VM.ClearEventRequest(jdwp.EventBreakpoint, bl.EventRequestID)
		}
		return nil
	})
}

// GetBreakpointLocations returns every breakable location of scriptID in
// [from, to).
func (h *Host) GetBreakpointLocations(scriptID string, from model.ScriptLocation, to *model.ScriptLocation) ([]model.ScriptLocation, error) {
	return postR(h, func() ([]model.ScriptLocation, error) {
		sc, ok := h.Registry.ScriptByID(scriptID)
		if !ok {
			return nil, model.UnknownObject(scriptID)
		}
		return h.Registry.Breakables.GetBreakpointLocations(sc.URL, from, to), nil
	})
}
