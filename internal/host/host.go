// Package host implements the debugger host: the Event Pump & State Machine
// (C4), Pause Engine (C5), and Evaluation & Scope Synthesis (C7). It is the
// single-threaded core the rest of the module (and, eventually, a CDP
// domain layer) drives through the exported Host methods.
package host

import (
	"log"

	"github.com/vmbridge/nashorn-bridge/internal/events"
	"github.com/vmbridge/nashorn-bridge/internal/jdwp"
	"github.com/vmbridge/nashorn-bridge/internal/objects"
	"github.com/vmbridge/nashorn-bridge/internal/script"
	"github.com/vmbridge/nashorn-bridge/pkg/model"
)

// vm is the subset of *jdwp.VM the host drives directly (registration and
// extraction have their own narrower subsets in their own packages).
type vm interface {
	SetEventRequest(kind jdwp.EventKind, policy jdwp.SuspendPolicy, mods []jdwp.EventModifier) (uint32, error)
	ClearEventRequest(kind jdwp.EventKind, requestID uint32) error
	Resume() error
	Suspend() error
	AllClasses() ([]jdwp.ClassInfo, error)
	AllThreads() ([]jdwp.ThreadID, error)
	ThreadFrames(thread jdwp.ThreadID, startFrame, length int32) ([]jdwp.StackFrameInfo, error)
	FrameGetValues(thread jdwp.ThreadID, frame jdwp.FrameID, slots []int32, tags []jdwp.Tag) ([]jdwp.TaggedValue, error)
	FrameGetValue(thread jdwp.ThreadID, frame jdwp.FrameID, slot int32, tag jdwp.Tag) (jdwp.TaggedValue, error)
	FrameSetValues(thread jdwp.ThreadID, frame jdwp.FrameID, slots []int32, values []jdwp.TaggedValue) error
	FrameThisObject(thread jdwp.ThreadID, frame jdwp.FrameID) (jdwp.TaggedValue, error)
	InvokeStaticMethod(rt jdwp.ReferenceTypeID, thread jdwp.ThreadID, m jdwp.MethodID, args []jdwp.TaggedValue, options int32) (jdwp.TaggedValue, *jdwp.TaggedValue, error)
	InvokeInstanceMethod(obj jdwp.ObjectID, thread jdwp.ThreadID, class jdwp.ReferenceTypeID, m jdwp.MethodID, args []jdwp.TaggedValue, options int32) (jdwp.TaggedValue, *jdwp.TaggedValue, error)
	StringValue(obj jdwp.ObjectID) (string, error)
	CreateString(s string) (jdwp.ObjectID, error)
	ObjectReferenceType(obj jdwp.ObjectID) (byte, jdwp.ReferenceTypeID, error)
	Signature(rt jdwp.ReferenceTypeID) (string, error)
	Methods(rt jdwp.ReferenceTypeID) ([]jdwp.MethodInfo, error)
	Fields(rt jdwp.ReferenceTypeID) ([]jdwp.FieldInfo, error)
	GetObjectValues(obj jdwp.ObjectID, fields []jdwp.FieldID) ([]jdwp.TaggedValue, error)
	ArrayLength(obj jdwp.ObjectID) (int32, error)
	ArrayValues(obj jdwp.ObjectID, first, length int32) ([]jdwp.TaggedValue, error)
	VariableTable(rt jdwp.ReferenceTypeID, m jdwp.MethodID) (int32, []jdwp.LocalVarInfo, error)
}

// PausedData exists only while the target thread is suspended by this
// host. It owns the raw per-frame snapshots (name -> raw value, plus the
// Location the values were read at) that back every StackFrame and
// ValueNode handed out for the current pause; it is destroyed on resume.
type PausedData struct {
	Thread jdwp.ThreadID
	Frames []frameSnapshot
}

// oneShotRequest remembers an event request installed for a single pause
// attempt (a step's seeded breakpoints, PauseAtNextStatement's location and
// method-entry/exit traps) so it can be cleared under its own event kind
// once any one of the sibling requests fires.
type oneShotRequest struct {
	Kind jdwp.EventKind
	ID   uint32
}

type frameSnapshot struct {
	FrameID    jdwp.FrameID
	Location   jdwp.Location
	This       jdwp.TaggedValue
	Scope      jdwp.TaggedValue // ":scope" local, absent (Obj==0) if none
	Locals     map[string]jdwp.TaggedValue
	LocalSlots map[string]int32 // name -> JDWP slot, for write-back
	ScriptID   string
	ScriptLoc  model.ScriptLocation
}

// Host is one debug session's state machine. Every exported method posts a
// closure onto the mailbox and blocks for its result, so the whole state
// machine runs on a single goroutine regardless of caller concurrency.
type Host struct {
	VM       vm
	Registry *script.Registry
	Objects  *objects.Registry
	Bus      *events.Bus
	Logger   *log.Logger

	mailbox chan func()

	isInitialized          bool
	willPauseOnBreakpoints bool
	pausedData             *PausedData
	exceptionMode          model.PauseExceptionMode

	debuggerBreakpointRequestID uint32
	exceptionRequestID          uint32
	oneShotRequestIDs           []oneShotRequest

	classPrepareRequestID uint32
	classPrepareCount     int
	lastQuiescenceCount   int

	pendingRetries map[jdwp.ReferenceTypeID]int
}

// New constructs a Host bound to vmHandle. Call Run to start its mailbox
// goroutine before issuing any exported method call.
func New(vmHandle vm, reg *script.Registry, objReg *objects.Registry, bus *events.Bus, logger *log.Logger) *Host {
	return &Host{
		VM:             vmHandle,
		Registry:       reg,
		Objects:        objReg,
		Bus:            bus,
		Logger:         logger,
		mailbox:        make(chan func(), 64),
		pendingRetries: make(map[jdwp.ReferenceTypeID]int),
		exceptionMode:  model.PauseOnNone,
	}
}

// Run drains the mailbox on the calling goroutine until it is closed. Call
// it in its own goroutine; every Host method is safe to call concurrently
// because they only ever enqueue work here.
func (h *Host) Run() {
	for fn := range h.mailbox {
		fn()
	}
}

// Stop closes the mailbox, causing Run to return once queued work drains.
func (h *Host) Stop() {
	close(h.mailbox)
}

// post runs fn on the mailbox goroutine and blocks for its return value.
func post[T any](h *Host, fn func() T) T {
	result := make(chan T, 1)
	h.mailbox <- func() { result <- fn() }
	return <-result
}

// postErr is post specialized for calls that only return an error.
func postErr(h *Host, fn func() error) error {
	result := make(chan error, 1)
	h.mailbox <- func() { result <- fn() }
	return <-result
}

// postR is post specialized for calls that return a value and an error.
type postRResult[T any] struct {
	val T
	err error
}

func postR[T any](h *Host, fn func() (T, error)) (T, error) {
	result := make(chan postRResult[T], 1)
	h.mailbox <- func() {
		val, err := fn()
		result <- postRResult[T]{val, err}
	}
	r := <-result
	return r.val, r.err
}

// IsPaused reports whether the target thread is currently suspended by
// this host.
func (h *Host) IsPaused() bool {
	return post(h, func() bool { return h.pausedData != nil })
}
