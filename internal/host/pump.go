package host

import (
	"time"

	"github.com/vmbridge/nashorn-bridge/internal/events"
	"github.com/vmbridge/nashorn-bridge/internal/jdwp"
	"github.com/vmbridge/nashorn-bridge/internal/script"
	"github.com/vmbridge/nashorn-bridge/pkg/model"
)

// quiescenceInterval is how long the pump waits, after seeing no new
// ClassPrepareEvent, before deciding class loading has settled.
const quiescenceInterval = model.ClassPrepareQuiescenceMillis * time.Millisecond

// StartInitialization registers a class-prepare request covering every
// class and schedules the first quiescence check. Call once, right after
// attaching.
func (h *Host) StartInitialization() error {
	return postErr(h, func() error {
		id, err := h.VM.SetEventRequest(jdwp.EventClassPrepare, jdwp.SuspendNone, nil)
		if err != nil {
			return err
		}
		h.classPrepareRequestID = id
		h.scheduleQuiescenceCheck()
		return nil
	})
}

func (h *Host) scheduleQuiescenceCheck() {
	time.AfterFunc(quiescenceInterval, func() {
		h.mailbox <- h.checkQuiescence
	})
}

// checkQuiescence implements the PostponeInitialize tick: if the
// class-prepare count hasn't moved since the last tick, class loading has
// settled and full initialization runs; otherwise it reschedules.
func (h *Host) checkQuiescence() {
	if h.isInitialized {
		return
	}
	if h.classPrepareCount == h.lastQuiescenceCount {
		h.runFullInitialization()
		return
	}
	h.lastQuiescenceCount = h.classPrepareCount
	h.scheduleQuiescenceCheck()
}

// runFullInitialization enumerates every already-loaded class, registers
// every script found among them, installs the fixed `debugger` statement
// breakpoint, and announces that boot is complete.
func (h *Host) runFullInitialization() {
	classes, err := h.VM.AllClasses()
	if err != nil {
		h.Logger.Printf("nashorn-bridge: initialization: AllClasses failed: %v", err)
		h.scheduleQuiescenceCheck()
		return
	}

	for _, c := range classes {
		h.considerReferenceType(c.RefType, model.InitialScriptResolveAttempts)
	}

	if err := h.installDebuggerBreakpoint(); err != nil {
		h.Logger.Printf("nashorn-bridge: could not install debugger-statement breakpoint: %v", err)
	}

	h.isInitialized = true
	h.Bus.Publish(events.Event{Kind: events.InitialInitializationComplete})
}

func (h *Host) installDebuggerBreakpoint() error {
	rt, ok := h.Registry.InfrastructureClass(model.DebuggerStatementClass)
	if !ok {
		return nil // ScriptRuntime not loaded yet; nothing to hook
	}
	methods, err := h.VM.Methods(rt)
	if err != nil {
		return err
	}
	for _, m := range methods {
		if m.Name == model.DebuggerStatementMethod {
			id, err := h.VM.SetEventRequest(jdwp.EventBreakpoint, jdwp.SuspendEventThread, []jdwp.EventModifier{
				{Kind: jdwp.ModKindLocationOnly, Location: jdwp.Location{Class: rt, Method: m.Method, CodeIdx: 0}},
			})
			if err != nil {
				return err
			}
			h.debuggerBreakpointRequestID = id
			return nil
		}
	}
	return nil
}

// considerReferenceType runs registration for one class, scheduling a
// retry after model.SourceRetryIntervalMillis if source is not yet available and
// announcing a newly added script on the event bus.
func (h *Host) considerReferenceType(rt jdwp.ReferenceTypeID, attemptsLeft int) {
	result, sc, err := h.Registry.RegisterFromReferenceType(rt, attemptsLeft)
	if err != nil {
		h.Logger.Printf("nashorn-bridge: registering reference type: %v", err)
		return
	}

	switch result {
	case script.RegisterRetrySource:
		time.AfterFunc(model.SourceRetryIntervalMillis*time.Millisecond, func() {
			h.mailbox <- func() { h.considerReferenceType(rt, attemptsLeft-1) }
		})
	case script.RegisterAdded:
		h.Bus.Publish(events.Event{Kind: events.ScriptAdded, Script: sc})
	case script.RegisterAliased, script.RegisterInfrastructure, script.RegisterIgnored:
		// no external notification
	}
}

// OnEventSet enqueues a composite JDWP event set for serial handling.
func (h *Host) OnEventSet(es jdwp.EventSet) {
	h.mailbox <- func() { h.handleEventSet(es) }
}
