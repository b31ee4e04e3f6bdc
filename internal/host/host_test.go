package host

import (
	"fmt"
	"log"
	"os"
	"testing"

	"github.com/vmbridge/nashorn-bridge/internal/events"
	"github.com/vmbridge/nashorn-bridge/internal/jdwp"
	"github.com/vmbridge/nashorn-bridge/internal/objects"
	"github.com/vmbridge/nashorn-bridge/internal/script"
	"github.com/vmbridge/nashorn-bridge/pkg/model"
)

// frameSetCall records one StackFrame.SetValues slot write, so tests can
// assert on the write-back path without a real target VM to read it back
// from.
type frameSetCall struct {
	frame jdwp.FrameID
	slot  int32
	value jdwp.TaggedValue
}

// fakeVM implements the host's vm interface entirely in memory, so the
// state machine can be exercised without a JDWP socket.
// clearedRequest records a ClearEventRequest call's kind and id, so tests
// can assert one-shot requests are cleared under their own event kind.
type clearedRequest struct {
	kind jdwp.EventKind
	id   uint32
}

type fakeVM struct {
	nextRequestID   uint32
	clearedIDs      []uint32
	clearedRequests []clearedRequest
	setMods         [][]jdwp.EventModifier

	resumeCalls  int
	suspendCalls int

	threads map[jdwp.ThreadID][]jdwp.StackFrameInfo

	thisObjects map[jdwp.FrameID]jdwp.TaggedValue
	frameValues map[jdwp.FrameID]map[int32]jdwp.TaggedValue
	frameSetCalls []frameSetCall

	// batchFail/invalidSlots let a test simulate StackFrame.GetValues
	// failing wholesale (commonly INVALID_SLOT) so collectLocals falls back
	// to its per-variable degrade path, and a specific slot failing there
	// too.
	batchFail    bool
	invalidSlots map[int32]bool

	variableTables map[jdwp.MethodID][]jdwp.LocalVarInfo

	signatures map[jdwp.ReferenceTypeID]string
	methods    map[jdwp.ReferenceTypeID][]jdwp.MethodInfo
	fields     map[jdwp.ReferenceTypeID][]jdwp.FieldInfo

	objTypes       map[jdwp.ObjectID]jdwp.ReferenceTypeID
	strByObj       map[jdwp.ObjectID]string
	arrays         map[jdwp.ObjectID][]jdwp.TaggedValue
	objFieldValues map[jdwp.ObjectID]map[jdwp.FieldID]jdwp.TaggedValue
	nextObj        jdwp.ObjectID

	invokeStatic   map[jdwp.MethodID]func(args []jdwp.TaggedValue) (jdwp.TaggedValue, *jdwp.TaggedValue, error)
	invokeInstance map[jdwp.MethodID]func(obj jdwp.ObjectID, args []jdwp.TaggedValue) (jdwp.TaggedValue, *jdwp.TaggedValue, error)
}

func newFakeVM() *fakeVM {
	return &fakeVM{
		threads:        make(map[jdwp.ThreadID][]jdwp.StackFrameInfo),
		thisObjects:    make(map[jdwp.FrameID]jdwp.TaggedValue),
		frameValues:    make(map[jdwp.FrameID]map[int32]jdwp.TaggedValue),
		invalidSlots:   make(map[int32]bool),
		variableTables: make(map[jdwp.MethodID][]jdwp.LocalVarInfo),
		signatures:     make(map[jdwp.ReferenceTypeID]string),
		methods:        make(map[jdwp.ReferenceTypeID][]jdwp.MethodInfo),
		fields:         make(map[jdwp.ReferenceTypeID][]jdwp.FieldInfo),
		objTypes:       make(map[jdwp.ObjectID]jdwp.ReferenceTypeID),
		strByObj:       make(map[jdwp.ObjectID]string),
		arrays:         make(map[jdwp.ObjectID][]jdwp.TaggedValue),
		objFieldValues: make(map[jdwp.ObjectID]map[jdwp.FieldID]jdwp.TaggedValue),
		nextObj:        1000,
		invokeStatic:   make(map[jdwp.MethodID]func(args []jdwp.TaggedValue) (jdwp.TaggedValue, *jdwp.TaggedValue, error)),
		invokeInstance: make(map[jdwp.MethodID]func(obj jdwp.ObjectID, args []jdwp.TaggedValue) (jdwp.TaggedValue, *jdwp.TaggedValue, error)),
	}
}

func (f *fakeVM) SetEventRequest(kind jdwp.EventKind, policy jdwp.SuspendPolicy, mods []jdwp.EventModifier) (uint32, error) {
	f.nextRequestID++
	f.setMods = append(f.setMods, mods)
	return f.nextRequestID, nil
}
func (f *fakeVM) ClearEventRequest(kind jdwp.EventKind, requestID uint32) error {
	f.clearedIDs = append(f.clearedIDs, requestID)
	f.clearedRequests = append(f.clearedRequests, clearedRequest{kind: kind, id: requestID})
	return nil
}
func (f *fakeVM) Resume() error  { f.resumeCalls++; return nil }
func (f *fakeVM) Suspend() error { f.suspendCalls++; return nil }
func (f *fakeVM) AllClasses() ([]jdwp.ClassInfo, error)  { return nil, nil }
func (f *fakeVM) AllThreads() ([]jdwp.ThreadID, error) {
	var out []jdwp.ThreadID
	for t := range f.threads {
		out = append(out, t)
	}
	return out, nil
}
func (f *fakeVM) ThreadFrames(thread jdwp.ThreadID, startFrame, length int32) ([]jdwp.StackFrameInfo, error) {
	return f.threads[thread], nil
}
func (f *fakeVM) FrameGetValues(thread jdwp.ThreadID, frame jdwp.FrameID, slots []int32, tags []jdwp.Tag) ([]jdwp.TaggedValue, error) {
	if f.batchFail {
		return nil, fmt.Errorf("fakeVM: batch StackFrame.GetValues failed")
	}
	out := make([]jdwp.TaggedValue, len(slots))
	for i, s := range slots {
		out[i] = f.frameValues[frame][s]
	}
	return out, nil
}
func (f *fakeVM) FrameGetValue(thread jdwp.ThreadID, frame jdwp.FrameID, slot int32, tag jdwp.Tag) (jdwp.TaggedValue, error) {
	if f.invalidSlots[slot] {
		return jdwp.TaggedValue{}, fmt.Errorf("fakeVM: INVALID_SLOT %d", slot)
	}
	return f.frameValues[frame][slot], nil
}
func (f *fakeVM) FrameSetValues(thread jdwp.ThreadID, frame jdwp.FrameID, slots []int32, values []jdwp.TaggedValue) error {
	for i, s := range slots {
		f.frameSetCalls = append(f.frameSetCalls, frameSetCall{frame: frame, slot: s, value: values[i]})
	}
	return nil
}
func (f *fakeVM) FrameThisObject(thread jdwp.ThreadID, frame jdwp.FrameID) (jdwp.TaggedValue, error) {
	return f.thisObjects[frame], nil
}
func (f *fakeVM) InvokeStaticMethod(rt jdwp.ReferenceTypeID, thread jdwp.ThreadID, m jdwp.MethodID, args []jdwp.TaggedValue, options int32) (jdwp.TaggedValue, *jdwp.TaggedValue, error) {
	if fn, ok := f.invokeStatic[m]; ok {
		return fn(args)
	}
	return jdwp.TaggedValue{}, nil, nil
}
func (f *fakeVM) InvokeInstanceMethod(obj jdwp.ObjectID, thread jdwp.ThreadID, class jdwp.ReferenceTypeID, m jdwp.MethodID, args []jdwp.TaggedValue, options int32) (jdwp.TaggedValue, *jdwp.TaggedValue, error) {
	if fn, ok := f.invokeInstance[m]; ok {
		return fn(obj, args)
	}
	return jdwp.TaggedValue{}, nil, nil
}
func (f *fakeVM) StringValue(obj jdwp.ObjectID) (string, error) { return f.strByObj[obj], nil }
func (f *fakeVM) CreateString(s string) (jdwp.ObjectID, error) {
	f.nextObj++
	f.strByObj[f.nextObj] = s
	return f.nextObj, nil
}
func (f *fakeVM) ObjectReferenceType(obj jdwp.ObjectID) (byte, jdwp.ReferenceTypeID, error) {
	return 'L', f.objTypes[obj], nil
}
func (f *fakeVM) Signature(rt jdwp.ReferenceTypeID) (string, error) { return f.signatures[rt], nil }
func (f *fakeVM) Methods(rt jdwp.ReferenceTypeID) ([]jdwp.MethodInfo, error) {
	return f.methods[rt], nil
}
func (f *fakeVM) Fields(rt jdwp.ReferenceTypeID) ([]jdwp.FieldInfo, error) { return f.fields[rt], nil }
func (f *fakeVM) GetObjectValues(obj jdwp.ObjectID, fields []jdwp.FieldID) ([]jdwp.TaggedValue, error) {
	out := make([]jdwp.TaggedValue, len(fields))
	for i, fid := range fields {
		out[i] = f.objFieldValues[obj][fid]
	}
	return out, nil
}
func (f *fakeVM) ArrayLength(obj jdwp.ObjectID) (int32, error) { return int32(len(f.arrays[obj])), nil }
func (f *fakeVM) ArrayValues(obj jdwp.ObjectID, first, length int32) ([]jdwp.TaggedValue, error) {
	return f.arrays[obj][first : first+length], nil
}
func (f *fakeVM) VariableTable(rt jdwp.ReferenceTypeID, m jdwp.MethodID) (int32, []jdwp.LocalVarInfo, error) {
	return 0, f.variableTables[m], nil
}
func (f *fakeVM) SourceFile(rt jdwp.ReferenceTypeID) (string, error) { return "", nil }
func (f *fakeVM) GetStaticValues(rt jdwp.ReferenceTypeID, fields []jdwp.FieldID) ([]jdwp.TaggedValue, error) {
	return nil, nil
}
func (f *fakeVM) LineTable(rt jdwp.ReferenceTypeID, m jdwp.MethodID) (start, end uint64, lines []jdwp.LineTableEntry, err error) {
	return 0, 0, nil, nil
}

func newTestHost(vm *fakeVM) *Host {
	logger := log.New(os.Stderr, "", 0)
	h := New(vm, script.NewRegistry(vm, logger), objects.NewRegistry(), events.NewBus(), logger)
	go h.Run()
	return h
}

func TestResumeRequiresPause(t *testing.T) {
	h := newTestHost(newFakeVM())
	defer h.Stop()

	if err := h.Resume(); err == nil {
		t.Fatal("expected IllegalState resuming without a pause")
	}
}

func TestGetObjectPropertiesRequiresPause(t *testing.T) {
	h := newTestHost(newFakeVM())
	defer h.Stop()

	_, err := h.GetObjectProperties("nonexistent", false, false)
	if err == nil {
		t.Fatal("expected IllegalState calling getObjectProperties without a pause")
	}
}

func TestStepRequiresPause(t *testing.T) {
	h := newTestHost(newFakeVM())
	defer h.Stop()

	if err := h.Step(model.StepInto); err == nil {
		t.Fatal("expected IllegalState stepping without a pause")
	}
}

func TestPauseOnExceptionsUsesScriptClassPrefix(t *testing.T) {
	vm := newFakeVM()
	h := newTestHost(vm)
	defer h.Stop()

	if err := h.PauseOnExceptions(model.PauseOnUncaught); err != nil {
		t.Fatalf("PauseOnExceptions: %v", err)
	}
	if len(vm.setMods) == 0 {
		t.Fatal("expected an event request to be installed")
	}
	mods := vm.setMods[len(vm.setMods)-1]
	if len(mods) != 1 || mods[0].Pattern != model.ScriptClassPrefix+"*" {
		t.Fatalf("expected class-match pattern %q, got %+v", model.ScriptClassPrefix+"*", mods)
	}
}

func TestPauseOnExceptionsNoneClearsRequest(t *testing.T) {
	vm := newFakeVM()
	h := newTestHost(vm)
	defer h.Stop()

	if err := h.PauseOnExceptions(model.PauseOnAll); err != nil {
		t.Fatalf("PauseOnExceptions(All): %v", err)
	}
	if err := h.PauseOnExceptions(model.PauseOnNone); err != nil {
		t.Fatalf("PauseOnExceptions(None): %v", err)
	}
	if len(vm.clearedIDs) == 0 {
		t.Fatal("expected the prior exception request to be cleared")
	}
}

// TestHitBreakpointCollectsLocalsAndScope drives a single-frame breakpoint
// hit through the full snapshot/marshal pipeline, checking that a plain
// int local surfaces in the frame's synthetic locals object and that the
// scope chain always terminates in Global.
func TestHitBreakpointCollectsLocalsAndScope(t *testing.T) {
	vm := newFakeVM()
	const (
		class  jdwp.ReferenceTypeID = 10
		method jdwp.MethodID        = 20
		thread jdwp.ThreadID        = 1
		frame  jdwp.FrameID         = 100
	)
	loc := jdwp.Location{Class: class, Method: method, CodeIdx: 5}
	vm.threads[thread] = []jdwp.StackFrameInfo{{Frame: frame, Location: loc}}
	vm.variableTables[method] = []jdwp.LocalVarInfo{
		{Name: "x", Signature: "I", Slot: 0},
		{Name: ":return", Signature: "Ljava/lang/Object;", Slot: 1},
	}
	vm.frameValues[frame] = map[int32]jdwp.TaggedValue{
		0: {Tag: jdwp.TagInt, Int: 42},
	}

	h := newTestHost(vm)
	defer h.Stop()

	sub := h.Bus.Subscribe(8)
	defer sub.Close()

	h.OnEventSet(jdwp.EventSet{Events: []jdwp.Event{
		{Kind: jdwp.EventBreakpoint, Thread: thread},
	}})

	var hit events.Event
	for i := 0; i < 10; i++ {
		ev := <-sub.Events()
		if ev.Kind == events.HitBreakpoint {
			hit = ev
			break
		}
	}
	if hit.Kind != events.HitBreakpoint {
		t.Fatal("expected a HitBreakpoint event")
	}
	if len(hit.StackFrames) != 1 {
		t.Fatalf("expected 1 stack frame, got %d", len(hit.StackFrames))
	}
	sf := hit.StackFrames[0]
	if len(sf.ScopeChain) == 0 || sf.ScopeChain[len(sf.ScopeChain)-1].Kind != model.ScopeGlobal {
		t.Fatalf("expected scope chain to terminate in Global, got %+v", sf.ScopeChain)
	}
	foundLocal := false
	for _, s := range sf.ScopeChain {
		if s.Kind == model.ScopeLocal {
			foundLocal = true
		}
	}
	if !foundLocal {
		t.Fatal("expected a Local scope entry for the collected int local")
	}

	if !h.IsPaused() {
		t.Fatal("expected the host to report paused after HitBreakpoint")
	}
	if err := h.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if vm.resumeCalls != 1 {
		t.Fatalf("expected exactly one VM resume call, got %d", vm.resumeCalls)
	}
}

// TestMethodEntryTriggersPauseAndClearsSiblingRequests drives
// PauseAtNextStatement's method-entry/method-exit one-shot requests through
// handleEventSet: a method-entry event must itself trigger a pause (not
// just fall through and let the event set resume), and the sibling
// location/method-exit requests it was seeded alongside must be cleared
// under their own event kinds, not all as EventBreakpoint.
func TestMethodEntryTriggersPauseAndClearsSiblingRequests(t *testing.T) {
	vm := newFakeVM()
	const (
		class  jdwp.ReferenceTypeID = 30
		method jdwp.MethodID        = 40
		thread jdwp.ThreadID        = 7
		frame  jdwp.FrameID         = 200
	)
	loc := jdwp.Location{Class: class, Method: method, CodeIdx: 2}
	vm.threads[thread] = []jdwp.StackFrameInfo{{Frame: frame, Location: loc}}

	h := newTestHost(vm)
	defer h.Stop()

	if err := h.PauseAtNextStatement(); err != nil {
		t.Fatalf("PauseAtNextStatement: %v", err)
	}

	sub := h.Bus.Subscribe(8)
	defer sub.Close()

	h.OnEventSet(jdwp.EventSet{Events: []jdwp.Event{{Kind: jdwp.EventMethodEntry, Thread: thread}}})

	var hit events.Event
	for i := 0; i < 10; i++ {
		ev := <-sub.Events()
		if ev.Kind == events.HitBreakpoint {
			hit = ev
			break
		}
	}
	if hit.Kind != events.HitBreakpoint {
		t.Fatal("expected a method-entry event to itself produce a HitBreakpoint pause")
	}
	if !h.IsPaused() {
		t.Fatal("expected the host to report paused after a method-entry event")
	}

	seenKinds := map[jdwp.EventKind]bool{}
	for _, c := range vm.clearedRequests {
		seenKinds[c.kind] = true
	}
	for _, want := range []jdwp.EventKind{jdwp.EventBreakpoint, jdwp.EventMethodEntry, jdwp.EventMethodExit} {
		if !seenKinds[want] {
			t.Errorf("expected a ClearEventRequest for kind %v, got %v", want, vm.clearedRequests)
		}
	}
}

// TestInvalidSlotDegradation drives collectLocals's batched-GetValues
// failure path, checking that one stale slot doesn't take the whole frame
// down: the offending local is dropped, and its healthy neighbor survives.
func TestInvalidSlotDegradation(t *testing.T) {
	vm := newFakeVM()
	const (
		class  jdwp.ReferenceTypeID = 1
		method jdwp.MethodID        = 2
		thread jdwp.ThreadID        = 1
		frame  jdwp.FrameID         = 1
	)
	vm.variableTables[method] = []jdwp.LocalVarInfo{
		{Name: "a", Signature: "I", Slot: 0},
		{Name: "b", Signature: "I", Slot: 1},
	}
	vm.frameValues[frame] = map[int32]jdwp.TaggedValue{0: {Tag: jdwp.TagInt, Int: 7}}
	vm.batchFail = true
	vm.invalidSlots[1] = true

	h := newTestHost(vm)
	defer h.Stop()

	locals, slots := h.collectLocals(thread, frame, jdwp.Location{Class: class, Method: method})

	if _, ok := locals["b"]; ok {
		t.Error("expected the invalid slot \"b\" to be dropped")
	}
	if v, ok := locals["a"]; !ok || v.Int != 7 {
		t.Errorf("expected the healthy local \"a\" to survive degradation, got %+v ok=%v", v, ok)
	}
	if _, ok := slots["b"]; ok {
		t.Error("expected no recorded slot for the dropped local \"b\"")
	}
	if got, ok := slots["a"]; !ok || got != 0 {
		t.Errorf("expected slot 0 recorded for \"a\", got %d ok=%v", got, ok)
	}
}

// TestStepOverSeedsBreakableLocations drives Step(StepOver) against a
// single-frame pause and checks that it seeds one-shot breakpoints on every
// breakable location on a strictly later source line than the current one,
// regardless of how that location's bytecode index compares to the current
// one — a loop body can place a later source line at an earlier code index
// than the current position (the backward branch), so seeding must key off
// ScriptLoc.Line, not VMLocation.CodeIdx.
func TestStepOverSeedsBreakableLocations(t *testing.T) {
	vm := newFakeVM()
	const (
		class  jdwp.ReferenceTypeID = 10
		method jdwp.MethodID        = 20
		thread jdwp.ThreadID        = 1
		frame  jdwp.FrameID         = 100
	)
	loc := jdwp.Location{Class: class, Method: method, CodeIdx: 5}
	vm.threads[thread] = []jdwp.StackFrameInfo{{Frame: frame, Location: loc}}

	h := newTestHost(vm)
	defer h.Stop()

	sc := &model.Script{ID: "s1", URL: "test.js"}
	h.Registry.Breakables.AddLocations(sc, class, []jdwp.Location{
		{Class: class, Method: method, CodeIdx: 5, LineNum: 5},  // current position
		{Class: class, Method: method, CodeIdx: 3, LineNum: 5},  // same line, earlier code index: excluded
		{Class: class, Method: method, CodeIdx: 2, LineNum: 6},  // later line, earlier code index: included
		{Class: class, Method: method, CodeIdx: 12, LineNum: 4}, // earlier line, later code index: excluded
		{Class: class, Method: method, CodeIdx: 8, LineNum: 6},  // later line, later code index: included
	})

	sub := h.Bus.Subscribe(8)
	defer sub.Close()

	h.OnEventSet(jdwp.EventSet{Events: []jdwp.Event{{Kind: jdwp.EventBreakpoint, Thread: thread}}})
	for i := 0; i < 10; i++ {
		if (<-sub.Events()).Kind == events.HitBreakpoint {
			break
		}
	}

	if err := h.Step(model.StepOver); err != nil {
		t.Fatalf("Step: %v", err)
	}

	seeded := map[uint64]bool{}
	for _, mods := range vm.setMods {
		for _, m := range mods {
			if m.Kind == jdwp.ModKindLocationOnly && m.Location.Class == class && m.Location.Method == method {
				seeded[m.Location.CodeIdx] = true
			}
		}
	}
	if len(seeded) != 2 || !seeded[2] || !seeded[8] {
		t.Fatalf("expected step-over to seed code indices {2, 8}, got %v", seeded)
	}
	if vm.resumeCalls != 1 {
		t.Fatalf("expected exactly one resume after Step, got %d", vm.resumeCalls)
	}
	if h.IsPaused() {
		t.Fatal("expected the pause to be cleared after Step")
	}
}

// evalHarness wires a fakeVM's Context/global/eval plumbing well enough to
// drive EvaluateOnStackFrame end to end: Context.getGlobal() resolves to a
// global object, and every eval() call on it is answered in order by the
// scripted results passed to run.
type evalHarness struct {
	vm         *fakeVM
	h          *Host
	globalObj  jdwp.ObjectID
	evalCalls  int
	evalResults []jdwp.TaggedValue
}

func newEvalHarness(t *testing.T) *evalHarness {
	t.Helper()
	vm := newFakeVM()

	const (
		contextRT jdwp.ReferenceTypeID = 900
		globalRT  jdwp.ReferenceTypeID = 901
		getGlobal jdwp.MethodID        = 910
		evalM     jdwp.MethodID        = 911
	)
	const globalObj jdwp.ObjectID = 800

	vm.signatures[contextRT] = "Ljdk/nashorn/internal/runtime/Context;"
	vm.methods[contextRT] = []jdwp.MethodInfo{{Method: getGlobal, Name: methodGetGlobal}}
	vm.methods[globalRT] = []jdwp.MethodInfo{{Method: evalM, Name: methodEval}}
	vm.objTypes[globalObj] = globalRT

	vm.invokeStatic[getGlobal] = func(args []jdwp.TaggedValue) (jdwp.TaggedValue, *jdwp.TaggedValue, error) {
		return jdwp.TaggedValue{Tag: jdwp.TagObject, Obj: globalObj}, nil, nil
	}

	h := newTestHost(vm)

	if _, _, err := h.Registry.RegisterFromReferenceType(contextRT, 1); err != nil {
		t.Fatalf("seeding Context infrastructure class: %v", err)
	}

	e := &evalHarness{vm: vm, h: h, globalObj: globalObj}
	vm.invokeInstance[evalM] = func(obj jdwp.ObjectID, args []jdwp.TaggedValue) (jdwp.TaggedValue, *jdwp.TaggedValue, error) {
		if e.evalCalls >= len(e.evalResults) {
			t.Fatalf("unexpected eval() call #%d", e.evalCalls+1)
		}
		result := e.evalResults[e.evalCalls]
		e.evalCalls++
		return result, nil, nil
	}
	return e
}

// TestMarkerSuppression checks that when the evaluated expression's result
// comes back as the internal marker string (the "no useful value" case),
// EvaluateOnStackFrame reports it as undefined rather than leaking the
// marker token, and skips write-back entirely for that call.
func TestMarkerSuppression(t *testing.T) {
	e := newEvalHarness(t)
	defer e.h.Stop()

	const (
		class  jdwp.ReferenceTypeID = 10
		method jdwp.MethodID        = 20
		thread jdwp.ThreadID        = 1
		frame  jdwp.FrameID         = 100
		wrapperObj jdwp.ObjectID    = 700
		markerObj  jdwp.ObjectID    = 701
	)
	e.vm.threads[thread] = []jdwp.StackFrameInfo{{Frame: frame, Location: jdwp.Location{Class: class, Method: method}}}
	e.vm.strByObj[markerObj] = model.EvaluatedCodeMarker
	e.evalResults = []jdwp.TaggedValue{
		{Tag: jdwp.TagObject, Obj: wrapperObj}, // scope-wrapper construction
		{Tag: jdwp.TagString, Obj: markerObj},  // expr evaluated to nothing useful
	}

	sub := e.h.Bus.Subscribe(8)
	defer sub.Close()
	e.h.OnEventSet(jdwp.EventSet{Events: []jdwp.Event{{Kind: jdwp.EventBreakpoint, Thread: thread}}})
	for i := 0; i < 10; i++ {
		if (<-sub.Events()).Kind == events.HitBreakpoint {
			break
		}
	}

	result, err := e.h.EvaluateOnStackFrame(model.TopFrameAlias, "var unused;", nil)
	if err != nil {
		t.Fatalf("EvaluateOnStackFrame: %v", err)
	}
	if result.Kind != model.ValueSimple || !result.Undefined {
		t.Fatalf("expected an undefined result for a marker-only evaluation, got %+v", result)
	}
	if len(e.vm.frameSetCalls) != 0 {
		t.Errorf("expected no write-back for a marker-suppressed evaluation, got %+v", e.vm.frameSetCalls)
	}
}

// TestLocalMutationRoundTrip drives a full EvaluateOnStackFrame call whose
// expression mutates a literal-representable local, and checks that the
// mutation is written back to the local's original JDI slot: the §8
// invariant that the slot's value after eval matches the last value
// written via the synthesized setter.
func TestLocalMutationRoundTrip(t *testing.T) {
	e := newEvalHarness(t)
	defer e.h.Stop()

	const (
		class  jdwp.ReferenceTypeID = 10
		method jdwp.MethodID        = 20
		thread jdwp.ThreadID        = 1
		frame  jdwp.FrameID         = 100

		wrapperRT jdwp.ReferenceTypeID = 902
		boxedRT   jdwp.ReferenceTypeID = 903
		getMemberM jdwp.MethodID       = 912

		wrapperObj  jdwp.ObjectID = 700
		changesArr  jdwp.ObjectID = 710
		pairObj     jdwp.ObjectID = 711
		nameObj     jdwp.ObjectID = 712
		boxedObj    jdwp.ObjectID = 713
		countSlot   int32         = 3
	)

	e.vm.threads[thread] = []jdwp.StackFrameInfo{{Frame: frame, Location: jdwp.Location{Class: class, Method: method}}}
	e.vm.variableTables[method] = []jdwp.LocalVarInfo{
		{Name: "count", Signature: "I", Slot: countSlot},
	}
	e.vm.frameValues[frame] = map[int32]jdwp.TaggedValue{countSlot: {Tag: jdwp.TagInt, Int: 50}}

	e.vm.objTypes[wrapperObj] = wrapperRT
	e.vm.methods[wrapperRT] = []jdwp.MethodInfo{{Method: getMemberM, Name: methodGetMember}}
	e.vm.objTypes[boxedObj] = boxedRT
	e.vm.signatures[boxedRT] = "Ljava/lang/Integer;"
	const valueField jdwp.FieldID = 950
	e.vm.fields[boxedRT] = []jdwp.FieldInfo{{Field: valueField, Name: boxedPrimitiveFieldName}}
	e.vm.objFieldValues[boxedObj] = map[jdwp.FieldID]jdwp.TaggedValue{valueField: {Tag: jdwp.TagInt, Int: 99}}

	e.vm.strByObj[nameObj] = "count"
	e.vm.arrays[changesArr] = []jdwp.TaggedValue{{Tag: jdwp.TagObject, Obj: pairObj}}
	e.vm.arrays[pairObj] = []jdwp.TaggedValue{
		{Tag: jdwp.TagString, Obj: nameObj},
		{Tag: jdwp.TagObject, Obj: boxedObj},
	}
	e.vm.invokeInstance[getMemberM] = func(obj jdwp.ObjectID, args []jdwp.TaggedValue) (jdwp.TaggedValue, *jdwp.TaggedValue, error) {
		if len(args) != 1 {
			t.Fatalf("expected getMember to be called with 1 arg, got %d", len(args))
		}
		if key := e.vm.strByObj[args[0].Obj]; key != model.HiddenPrefix+"changes" {
			t.Fatalf("expected write-back to read %q, got %q", model.HiddenPrefix+"changes", key)
		}
		return jdwp.TaggedValue{Tag: jdwp.TagObject, Obj: changesArr}, nil, nil
	}

	e.evalResults = []jdwp.TaggedValue{
		{Tag: jdwp.TagObject, Obj: wrapperObj},  // scope-wrapper construction
		{Tag: jdwp.TagInt, Int: 51},             // "count = count + 1" result
	}

	sub := e.h.Bus.Subscribe(8)
	defer sub.Close()
	e.h.OnEventSet(jdwp.EventSet{Events: []jdwp.Event{{Kind: jdwp.EventBreakpoint, Thread: thread}}})
	for i := 0; i < 10; i++ {
		if (<-sub.Events()).Kind == events.HitBreakpoint {
			break
		}
	}

	result, err := e.h.EvaluateOnStackFrame(model.TopFrameAlias, "count = count + 1", nil)
	if err != nil {
		t.Fatalf("EvaluateOnStackFrame: %v", err)
	}
	if result.Kind != model.ValueSimple || result.Scalar != float64(51) {
		t.Fatalf("expected the eval result 51, got %+v", result)
	}

	if len(e.vm.frameSetCalls) != 1 {
		t.Fatalf("expected exactly one write-back FrameSetValues call, got %+v", e.vm.frameSetCalls)
	}
	call := e.vm.frameSetCalls[0]
	if call.frame != frame || call.slot != countSlot {
		t.Fatalf("expected write-back to slot %d of frame %d, got slot %d of frame %d", countSlot, frame, call.slot, call.frame)
	}
	if call.value.Tag != jdwp.TagInt || call.value.Int != 99 {
		t.Fatalf("expected the unboxed primitive value (Int 99) written back, got %+v", call.value)
	}
}
