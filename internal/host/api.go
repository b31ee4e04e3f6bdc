package host

import (
	"github.com/vmbridge/nashorn-bridge/internal/events"
	"github.com/vmbridge/nashorn-bridge/internal/jdwp"
	"github.com/vmbridge/nashorn-bridge/pkg/model"
)

// PauseAtNextStatement briefly suspends the VM, seeds a one-shot breakpoint
// at the current location of every thread's top frame (threads are not
// filtered, and deeper frames are not searched for a line-bearing location)
// plus method-entry/method-exit requests scoped to the engine's
// script-class prefix, then resumes; the first of those events to fire
// tears down all the others, per §4.5.
func (h *Host) PauseAtNextStatement() error {
	return postErr(h, func() error {
		if h.pausedData != nil {
			return model.IllegalState("pauseAtNextStatement")
		}
		if err := h.VM.Suspend(); err != nil {
			return model.JdwpError("suspend", 0).WithCause(err)
		}

		threads, err := h.VM.AllThreads()
		if err != nil {
			h.VM.Resume()
			return model.JdwpError("allThreads", 0).WithCause(err)
		}

		var seeded []oneShotRequest
		for _, t := range threads {
			frames, err := h.VM.ThreadFrames(t, 0, 1)
			if err != nil || len(frames) == 0 {
				continue
			}
			loc := frames[0].Location
			if loc.CodeIdx == 0 && loc.Method == 0 {
				continue
			}
			id, err := h.VM.SetEventRequest(jdwp.EventBreakpoint, jdwp.SuspendEventThread, []jdwp.EventModifier{
				{Kind: jdwp.ModKindLocationOnly, Location: loc},
			})
			if err == nil {
				seeded = append(seeded, oneShotRequest{Kind: jdwp.EventBreakpoint, ID: id})
			}
		}

		entryID, err := h.VM.SetEventRequest(jdwp.EventMethodEntry, jdwp.SuspendEventThread, []jdwp.EventModifier{
			{Kind: jdwp.ModKindClassMatch, Pattern: model.ScriptClassPrefix + "*"},
		})
		if err == nil {
			seeded = append(seeded, oneShotRequest{Kind: jdwp.EventMethodEntry, ID: entryID})
		}
		exitID, err := h.VM.SetEventRequest(jdwp.EventMethodExit, jdwp.SuspendEventThread, []jdwp.EventModifier{
			{Kind: jdwp.ModKindClassMatch, Pattern: model.ScriptClassPrefix + "*"},
		})
		if err == nil {
			seeded = append(seeded, oneShotRequest{Kind: jdwp.EventMethodExit, ID: exitID})
		}

		h.oneShotRequestIDs = append(h.oneShotRequestIDs, seeded...)
		if err := h.VM.Resume(); err != nil {
			return model.JdwpError("resume", 0).WithCause(err)
		}
		return nil
	})
}

// Reset tears down any current pause and re-arms the pump for a fresh
// initialization pass, as if the host had just attached. It does not
// re-issue the class-prepare request; callers that need a full re-init
// should call StartInitialization again after Reset.
func (h *Host) Reset() {
	post(h, func() any {
		if h.pausedData != nil {
			h.VM.Resume()
			h.pausedData = nil
		}
		h.clearOneShotRequests()
		h.Objects.Clear()
		h.isInitialized = false
		h.classPrepareCount = 0
		h.lastQuiescenceCount = 0
		h.pendingRetries = make(map[jdwp.ReferenceTypeID]int)
		h.Bus.Publish(events.Event{Kind: events.Resumed})
		return nil
	})
}
