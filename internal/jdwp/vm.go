package jdwp

import "time"

// defaultRequestTimeout bounds every synchronous VM request issued through
// this handle.
const defaultRequestTimeout = 10 * time.Second

// ClassInfo is one entry of a VirtualMachine.AllClasses reply.
type ClassInfo struct {
	RefTypeTag byte
	RefType    ReferenceTypeID
	Signature  string
	Status     uint32
}

// MethodInfo is one entry of a ReferenceType.Methods reply.
type MethodInfo struct {
	Method    MethodID
	Name      string
	Signature string
	ModBits   uint32
}

// FieldInfo is one entry of a ReferenceType.Fields reply.
type FieldInfo struct {
	Field     FieldID
	Name      string
	Signature string
	ModBits   uint32
}

// LineTableEntry maps a byte-code index to a source line, per Method.LineTable.
type LineTableEntry struct {
	CodeIndex uint64
	LineNum   int32
}

// StackFrameInfo is one entry of a ThreadReference.Frames reply.
type StackFrameInfo struct {
	Frame    FrameID
	Location Location
}

// VM is a live attachment to a target JVM. It exposes exactly the JDWP
// command groups the debugger host needs and nothing more.
type VM struct {
	client *Client
}

// AttachVM dials addr and returns a ready-to-use VM handle. The caller
// should call SetEventHandler before calling Resume so no event set is
// dropped.
func AttachVM(addr string) (*VM, error) {
	c, err := Attach(addr, defaultRequestTimeout)
	if err != nil {
		return nil, err
	}
	return &VM{client: c}, nil
}

// SetEventHandler installs the callback for incoming composite event sets.
func (vm *VM) SetEventHandler(h func(EventSet)) { vm.client.SetEventHandler(h) }

// Close detaches from the target.
func (vm *VM) Close() error { return vm.client.Close() }

// AllClasses lists every loaded reference type, per VirtualMachine.AllClasses.
func (vm *VM) AllClasses() ([]ClassInfo, error) {
	d, err := vm.client.request(csVirtualMachine, cmdVMAllClasses, nil, defaultRequestTimeout)
	if err != nil {
		return nil, err
	}
	n := int(d.i32())
	out := make([]ClassInfo, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, ClassInfo{
			RefTypeTag: d.u8(),
			RefType:    d.referenceTypeID(),
			Signature:  d.str(),
			Status:     d.u32(),
		})
	}
	return out, nil
}

// CreateString allocates a new String object in the target holding s,
// per VirtualMachine.CreateString. This is the only way to hand the target
// a string it did not already have a reference to, e.g. as an eval source
// or an InvokeMethod argument.
func (vm *VM) CreateString(s string) (ObjectID, error) {
	e := vm.client.enc()
	e.str(s)
	d, err := vm.client.request(csVirtualMachine, cmdVMCreateString, e.bytes(), defaultRequestTimeout)
	if err != nil {
		return 0, err
	}
	return d.objectID(), nil
}

// Signature returns a reference type's JNI-style type signature.
func (vm *VM) Signature(rt ReferenceTypeID) (string, error) {
	e := vm.client.enc()
	e.referenceTypeID(rt)
	d, err := vm.client.request(csReferenceType, cmdRTSignature, e.bytes(), defaultRequestTimeout)
	if err != nil {
		return "", err
	}
	return d.str(), nil
}

// SourceFile returns the source file name recorded for a reference type, as
// reported by javac debug info (usually absent or misleading for
// dynamically-generated script classes, which is why script recovery falls
// back to field reflection instead of trusting this).
func (vm *VM) SourceFile(rt ReferenceTypeID) (string, error) {
	e := vm.client.enc()
	e.referenceTypeID(rt)
	d, err := vm.client.request(csReferenceType, cmdRTSourceFile, e.bytes(), defaultRequestTimeout)
	if err != nil {
		return "", err
	}
	return d.str(), nil
}

// Methods lists the declared methods of a reference type.
func (vm *VM) Methods(rt ReferenceTypeID) ([]MethodInfo, error) {
	e := vm.client.enc()
	e.referenceTypeID(rt)
	d, err := vm.client.request(csReferenceType, cmdRTMethods, e.bytes(), defaultRequestTimeout)
	if err != nil {
		return nil, err
	}
	n := int(d.i32())
	out := make([]MethodInfo, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, MethodInfo{
			Method:    d.methodID(),
			Name:      d.str(),
			Signature: d.str(),
			ModBits:   d.u32(),
		})
	}
	return out, nil
}

// Fields lists the declared fields of a reference type.
func (vm *VM) Fields(rt ReferenceTypeID) ([]FieldInfo, error) {
	e := vm.client.enc()
	e.referenceTypeID(rt)
	d, err := vm.client.request(csReferenceType, cmdRTFields, e.bytes(), defaultRequestTimeout)
	if err != nil {
		return nil, err
	}
	n := int(d.i32())
	out := make([]FieldInfo, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, FieldInfo{
			Field:     d.fieldID(),
			Name:      d.str(),
			Signature: d.str(),
			ModBits:   d.u32(),
		})
	}
	return out, nil
}

// GetStaticValues reads static field values, per ReferenceType.GetValues.
func (vm *VM) GetStaticValues(rt ReferenceTypeID, fields []FieldID) ([]TaggedValue, error) {
	e := vm.client.enc()
	e.referenceTypeID(rt)
	e.i32(int32(len(fields)))
	for _, f := range fields {
		e.fieldID(f)
	}
	d, err := vm.client.request(csReferenceType, cmdRTGetValues, e.bytes(), defaultRequestTimeout)
	if err != nil {
		return nil, err
	}
	n := int(d.i32())
	out := make([]TaggedValue, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, d.taggedValue())
	}
	return out, nil
}

// LineTable returns the byte-code-index-to-line mapping for a method,
// which the script registry combines with a class's methods to build the
// line index a breakable-location lookup uses.
func (vm *VM) LineTable(rt ReferenceTypeID, m MethodID) (start, end uint64, lines []LineTableEntry, err error) {
	e := vm.client.enc()
	e.referenceTypeID(rt)
	e.methodID(m)
	d, reqErr := vm.client.request(csMethod, cmdMethodLineTable, e.bytes(), defaultRequestTimeout)
	if reqErr != nil {
		return 0, 0, nil, reqErr
	}
	start = uint64(d.i64())
	end = uint64(d.i64())
	n := int(d.i32())
	lines = make([]LineTableEntry, 0, n)
	for i := 0; i < n; i++ {
		lines = append(lines, LineTableEntry{CodeIndex: uint64(d.i64()), LineNum: d.i32()})
	}
	return start, end, lines, nil
}

// LocalVarInfo is one entry of a Method.VariableTable reply: a named local
// slot, valid across a range of the method's byte code.
type LocalVarInfo struct {
	CodeIndex uint64
	Name      string
	Signature string
	Length    int32
	Slot      int32
}

// VariableTable returns a method's declared local variables, the source
// the pause engine uses in place of a "visibleVariables()" call: JDWP
// exposes locals only through this per-method table, not through the frame
// itself.
func (vm *VM) VariableTable(rt ReferenceTypeID, m MethodID) (argCount int32, vars []LocalVarInfo, err error) {
	e := vm.client.enc()
	e.referenceTypeID(rt)
	e.methodID(m)
	d, reqErr := vm.client.request(csMethod, cmdMethodVariableTable, e.bytes(), defaultRequestTimeout)
	if reqErr != nil {
		return 0, nil, reqErr
	}
	argCount = d.i32()
	n := int(d.i32())
	vars = make([]LocalVarInfo, 0, n)
	for i := 0; i < n; i++ {
		vars = append(vars, LocalVarInfo{
			CodeIndex: uint64(d.i64()),
			Name:      d.str(),
			Signature: d.str(),
			Length:    d.i32(),
			Slot:      d.i32(),
		})
	}
	return argCount, vars, nil
}

// GetObjectValues reads instance field values, per ObjectReference.GetValues.
func (vm *VM) GetObjectValues(obj ObjectID, fields []FieldID) ([]TaggedValue, error) {
	e := vm.client.enc()
	e.objectID(obj)
	e.i32(int32(len(fields)))
	for _, f := range fields {
		e.fieldID(f)
	}
	d, err := vm.client.request(csObjectReference, cmdORGetValues, e.bytes(), defaultRequestTimeout)
	if err != nil {
		return nil, err
	}
	n := int(d.i32())
	out := make([]TaggedValue, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, d.taggedValue())
	}
	return out, nil
}

// ObjectReferenceType reports the runtime type of an object, per
// ObjectReference.ReferenceType.
func (vm *VM) ObjectReferenceType(obj ObjectID) (byte, ReferenceTypeID, error) {
	e := vm.client.enc()
	e.objectID(obj)
	d, err := vm.client.request(csObjectReference, cmdORReferenceType, e.bytes(), defaultRequestTimeout)
	if err != nil {
		return 0, 0, err
	}
	return d.u8(), d.referenceTypeID(), nil
}

// InvokeStaticMethod invokes a static method, per ClassType.InvokeMethod.
func (vm *VM) InvokeStaticMethod(rt ReferenceTypeID, thread ThreadID, m MethodID, args []TaggedValue, options int32) (TaggedValue, *TaggedValue, error) {
	e := vm.client.enc()
	e.referenceTypeID(rt)
	e.threadID(thread)
	e.methodID(m)
	e.i32(int32(len(args)))
	for _, a := range args {
		e.taggedValue(a)
	}
	e.i32(options)
	d, err := vm.client.request(csClassType, cmdCTInvokeMethod, e.bytes(), defaultRequestTimeout)
	if err != nil {
		return TaggedValue{}, nil, err
	}
	result := d.taggedValue()
	excTag := d.u8()
	_ = excTag // exception is itself a tagged object id; re-decode as such below
	excID := d.objectID()
	if excID != 0 {
		exc := TaggedValue{Tag: TagObject, Obj: excID}
		return result, &exc, nil
	}
	return result, nil, nil
}

// InvokeInstanceMethod invokes an instance method, per
// ObjectReference.InvokeMethod.
func (vm *VM) InvokeInstanceMethod(obj ObjectID, thread ThreadID, class ReferenceTypeID, m MethodID, args []TaggedValue, options int32) (TaggedValue, *TaggedValue, error) {
	e := vm.client.enc()
	e.objectID(obj)
	e.threadID(thread)
	e.referenceTypeID(class)
	e.methodID(m)
	e.i32(int32(len(args)))
	for _, a := range args {
		e.taggedValue(a)
	}
	e.i32(options)
	d, err := vm.client.request(csObjectReference, cmdORInvokeMethod, e.bytes(), defaultRequestTimeout)
	if err != nil {
		return TaggedValue{}, nil, err
	}
	result := d.taggedValue()
	d.u8() // exception is a tagged object id; skip its tag
	excID := d.objectID()
	if excID != 0 {
		exc := TaggedValue{Tag: TagObject, Obj: excID}
		return result, &exc, nil
	}
	return result, nil, nil
}

// StringValue reads the UTF-8 contents of a string object, per
// StringReference.Value.
func (vm *VM) StringValue(obj ObjectID) (string, error) {
	e := vm.client.enc()
	e.objectID(obj)
	d, err := vm.client.request(csStringReference, cmdSRValue, e.bytes(), defaultRequestTimeout)
	if err != nil {
		return "", err
	}
	return d.str(), nil
}

// ArrayLength reports an array's length, per ArrayReference.Length.
func (vm *VM) ArrayLength(obj ObjectID) (int32, error) {
	e := vm.client.enc()
	e.objectID(obj)
	d, err := vm.client.request(csArrayReference, cmdARLength, e.bytes(), defaultRequestTimeout)
	if err != nil {
		return 0, err
	}
	return d.i32(), nil
}

// ArrayValues reads a slice of an array's elements, per
// ArrayReference.GetValues.
func (vm *VM) ArrayValues(obj ObjectID, first, length int32) ([]TaggedValue, error) {
	e := vm.client.enc()
	e.objectID(obj)
	e.i32(first)
	e.i32(length)
	d, err := vm.client.request(csArrayReference, cmdARGetValues, e.bytes(), defaultRequestTimeout)
	if err != nil {
		return nil, err
	}
	// The reply repeats the tag once for the whole array then n untagged
	// values for primitive element types; for object element types it's n
	// fully-tagged values. We handle both by peeking at the array's own tag.
	tag := Tag(d.u8())
	n := int(d.i32())
	out := make([]TaggedValue, 0, n)
	for i := 0; i < n; i++ {
		if tag == TagObject || tag == TagArray || tag == TagString {
			out = append(out, d.taggedValue())
		} else {
			v := TaggedValue{Tag: tag}
			switch tag {
			case TagBoolean:
				v.Bool = d.u8() != 0
			case TagByte:
				v.Byte = int8(d.u8())
			case TagChar, TagShort:
				v.Short = int16(d.readUint(2))
			case TagInt, TagFloat:
				v.Int = d.i32()
			case TagLong, TagDouble:
				v.Long = d.i64()
			}
			out = append(out, v)
		}
	}
	return out, nil
}

// ThreadFrames lists a suspended thread's stack frames, per
// ThreadReference.Frames.
func (vm *VM) ThreadFrames(thread ThreadID, startFrame, length int32) ([]StackFrameInfo, error) {
	e := vm.client.enc()
	e.threadID(thread)
	e.i32(startFrame)
	e.i32(length)
	d, err := vm.client.request(csThreadReference, cmdTRFrames, e.bytes(), defaultRequestTimeout)
	if err != nil {
		return nil, err
	}
	n := int(d.i32())
	out := make([]StackFrameInfo, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, StackFrameInfo{Frame: d.frameID(), Location: d.location()})
	}
	return out, nil
}

// FrameGetValues reads local variable slots by index and tag, per
// StackFrame.GetValues. Callers pass one (slot, tag) pair per requested
// value; a per-slot INVALID_SLOT error surfaces to the caller so the local
// scope builder can degrade that one slot instead of the whole frame.
func (vm *VM) FrameGetValues(thread ThreadID, frame FrameID, slots []int32, tags []Tag) ([]TaggedValue, error) {
	e := vm.client.enc()
	e.threadID(thread)
	e.frameID(frame)
	e.i32(int32(len(slots)))
	for i := range slots {
		e.i32(slots[i])
		e.u8(byte(tags[i]))
	}
	d, err := vm.client.request(csStackFrame, cmdSFGetValues, e.bytes(), defaultRequestTimeout)
	if err != nil {
		return nil, err
	}
	n := int(d.i32())
	out := make([]TaggedValue, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, d.taggedValue())
	}
	return out, nil
}

// FrameGetValue reads a single local slot, returning a wrapped WireError
// (typically ErrInvalidSlot) the caller can test for to degrade gracefully.
func (vm *VM) FrameGetValue(thread ThreadID, frame FrameID, slot int32, tag Tag) (TaggedValue, error) {
	vals, err := vm.FrameGetValues(thread, frame, []int32{slot}, []Tag{tag})
	if err != nil {
		return TaggedValue{}, err
	}
	return vals[0], nil
}

// FrameSetValues writes local variable slots, per StackFrame.SetValues.
func (vm *VM) FrameSetValues(thread ThreadID, frame FrameID, slots []int32, values []TaggedValue) error {
	e := vm.client.enc()
	e.threadID(thread)
	e.frameID(frame)
	e.i32(int32(len(slots)))
	for i := range slots {
		e.i32(slots[i])
		e.taggedValue(values[i])
	}
	_, err := vm.client.request(csStackFrame, cmdSFSetValues, e.bytes(), defaultRequestTimeout)
	return err
}

// FrameThisObject returns the receiver of a stack frame, or object id 0 for
// a static frame, per StackFrame.ThisObject.
func (vm *VM) FrameThisObject(thread ThreadID, frame FrameID) (TaggedValue, error) {
	e := vm.client.enc()
	e.threadID(thread)
	e.frameID(frame)
	d, err := vm.client.request(csStackFrame, cmdSFThisObject, e.bytes(), defaultRequestTimeout)
	if err != nil {
		return TaggedValue{}, err
	}
	return d.taggedValue(), nil
}

// EventModifier is one modifier attached to an EventRequest.Set, e.g. a
// class-pattern filter or a location filter.
type EventModifier struct {
	Kind     byte // 1=Count, 5=ClassMatch, 6=ClassExclude, 7=LocationOnly
	Count    int32
	Pattern  string
	Location Location
}

const (
	ModKindCount        byte = 1
	ModKindClassMatch   byte = 5
	ModKindClassExclude byte = 6
	ModKindLocationOnly byte = 7
)

// SetEventRequest installs an event request, per EventRequest.Set, and
// returns the request id used to correlate later events and to Clear it.
func (vm *VM) SetEventRequest(kind EventKind, policy SuspendPolicy, mods []EventModifier) (uint32, error) {
	e := vm.client.enc()
	e.u8(byte(kind))
	e.u8(byte(policy))
	e.i32(int32(len(mods)))
	for _, m := range mods {
		e.u8(m.Kind)
		switch m.Kind {
		case ModKindCount:
			e.i32(m.Count)
		case ModKindClassMatch, ModKindClassExclude:
			e.str(m.Pattern)
		case ModKindLocationOnly:
			e.location(m.Location)
		}
	}
	d, err := vm.client.request(csEventRequest, cmdERSet, e.bytes(), defaultRequestTimeout)
	if err != nil {
		return 0, err
	}
	return d.u32(), nil
}

// ClearEventRequest removes a previously installed event request.
func (vm *VM) ClearEventRequest(kind EventKind, requestID uint32) error {
	e := vm.client.enc()
	e.u8(byte(kind))
	e.u32(requestID)
	_, err := vm.client.request(csEventRequest, cmdERClear, e.bytes(), defaultRequestTimeout)
	return err
}

// Resume resumes every suspended thread, per VirtualMachine.Resume.
func (vm *VM) Resume() error {
	_, err := vm.client.request(csVirtualMachine, cmdVMResume, nil, defaultRequestTimeout)
	return err
}

// Suspend suspends every thread, per VirtualMachine.Suspend.
func (vm *VM) Suspend() error {
	_, err := vm.client.request(csVirtualMachine, cmdVMSuspend, nil, defaultRequestTimeout)
	return err
}

// AllThreads lists every live thread, per VirtualMachine.AllThreads.
func (vm *VM) AllThreads() ([]ThreadID, error) {
	d, err := vm.client.request(csVirtualMachine, cmdVMAllThreads, nil, defaultRequestTimeout)
	if err != nil {
		return nil, err
	}
	n := int(d.i32())
	out := make([]ThreadID, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, d.threadID())
	}
	return out, nil
}
