package host

import (
	"github.com/vmbridge/nashorn-bridge/internal/jdwp"
	"github.com/vmbridge/nashorn-bridge/pkg/model"
)

// Step seeds one-shot breakpoints across the locations the requested step
// kind should stop at, then resumes. It replaces JDWP's native single-step
// requests, which Nashorn's heavily-inlined bytecode makes noisy to the
// point of uselessness for a script-level stepping experience; seeding
// breakable locations directly stops only where the engine itself
// considers a JavaScript statement boundary to exist.
func (h *Host) Step(kind model.StepKind) error {
	return postErr(h, func() error {
		if h.pausedData == nil {
			return model.IllegalState("step")
		}
		frames := h.pausedData.Frames

		var targets []jdwp.Location
		switch kind {
		case model.StepInto:
			for _, bl := range h.Registry.Breakables.AllLocations() {
				targets = append(targets, bl.VMLocation)
			}
		case model.StepOver:
			cur := frames[0].Location
			for _, bl := range h.Registry.Breakables.LocationsForMethod(cur.Class, cur.Method) {
				if bl.ScriptLoc.Line > frames[0].ScriptLoc.Line {
					targets = append(targets, bl.VMLocation)
				}
			}
			if len(frames) > 1 {
				parent := frames[1].Location
				for _, bl := range h.Registry.Breakables.LocationsForMethod(parent.Class, parent.Method) {
					if bl.ScriptLoc.Line > frames[1].ScriptLoc.Line {
						targets = append(targets, bl.VMLocation)
					}
				}
			}
		case model.StepOut:
			if len(frames) <= 1 {
				return h.resumeLocked()
			}
			parent := frames[1].Location
			for _, bl := range h.Registry.Breakables.LocationsForMethod(parent.Class, parent.Method) {
				if bl.ScriptLoc.Line > frames[1].ScriptLoc.Line {
					targets = append(targets, bl.VMLocation)
				}
			}
		}

		for _, loc := range targets {
			id, err := h.VM.SetEventRequest(jdwp.EventBreakpoint, jdwp.SuspendEventThread, []jdwp.EventModifier{
				{Kind: jdwp.ModKindLocationOnly, Location: loc},
			})
			if err != nil {
				h.clearOneShotRequests()
				return model.JdwpError("set step breakpoint", 0).WithCause(err)
			}
			h.oneShotRequestIDs = append(h.oneShotRequestIDs, oneShotRequest{Kind: jdwp.EventBreakpoint, ID: id})
		}

		return h.resumeLocked()
	})
}

// resumeLocked is Resume's body, callable from within an already-posted
// closure (Step runs inside its own post, so it cannot call the exported
// Resume without deadlocking on the mailbox).
func (h *Host) resumeLocked() error {
	if err := h.VM.Resume(); err != nil {
		return model.JdwpError("resume", 0).WithCause(err)
	}
	h.pausedData = nil
	h.Objects.Clear()
	return nil
}
