package objects

import (
	"testing"

	"github.com/vmbridge/nashorn-bridge/internal/jdwp"
)

type fakeExtractVM struct {
	sigs        map[jdwp.ReferenceTypeID]string
	fields      map[jdwp.ReferenceTypeID][]jdwp.FieldInfo
	methods     map[jdwp.ReferenceTypeID][]jdwp.MethodInfo
	objTypes    map[jdwp.ObjectID]jdwp.ReferenceTypeID
	objValues   map[jdwp.ObjectID]map[jdwp.FieldID]jdwp.TaggedValue
	arrays      map[jdwp.ObjectID][]jdwp.TaggedValue
	strings     map[jdwp.ObjectID]string
	invoke      map[jdwp.MethodID]func(obj jdwp.ObjectID, args []jdwp.TaggedValue) jdwp.TaggedValue
	nextObj     jdwp.ObjectID
}

func newFakeExtractVM() *fakeExtractVM {
	return &fakeExtractVM{
		sigs:      make(map[jdwp.ReferenceTypeID]string),
		fields:    make(map[jdwp.ReferenceTypeID][]jdwp.FieldInfo),
		methods:   make(map[jdwp.ReferenceTypeID][]jdwp.MethodInfo),
		objTypes:  make(map[jdwp.ObjectID]jdwp.ReferenceTypeID),
		objValues: make(map[jdwp.ObjectID]map[jdwp.FieldID]jdwp.TaggedValue),
		arrays:    make(map[jdwp.ObjectID][]jdwp.TaggedValue),
		strings:   make(map[jdwp.ObjectID]string),
		invoke:    make(map[jdwp.MethodID]func(obj jdwp.ObjectID, args []jdwp.TaggedValue) jdwp.TaggedValue),
		nextObj:   1000,
	}
}

func (f *fakeExtractVM) ObjectReferenceType(obj jdwp.ObjectID) (byte, jdwp.ReferenceTypeID, error) {
	return 'L', f.objTypes[obj], nil
}
func (f *fakeExtractVM) Signature(rt jdwp.ReferenceTypeID) (string, error) { return f.sigs[rt], nil }
func (f *fakeExtractVM) Fields(rt jdwp.ReferenceTypeID) ([]jdwp.FieldInfo, error) {
	return f.fields[rt], nil
}
func (f *fakeExtractVM) GetObjectValues(obj jdwp.ObjectID, fields []jdwp.FieldID) ([]jdwp.TaggedValue, error) {
	out := make([]jdwp.TaggedValue, len(fields))
	for i, fid := range fields {
		out[i] = f.objValues[obj][fid]
	}
	return out, nil
}
func (f *fakeExtractVM) ArrayLength(obj jdwp.ObjectID) (int32, error) {
	return int32(len(f.arrays[obj])), nil
}
func (f *fakeExtractVM) ArrayValues(obj jdwp.ObjectID, first, length int32) ([]jdwp.TaggedValue, error) {
	return f.arrays[obj][first : first+length], nil
}
func (f *fakeExtractVM) StringValue(obj jdwp.ObjectID) (string, error) { return f.strings[obj], nil }
func (f *fakeExtractVM) CreateString(s string) (jdwp.ObjectID, error) {
	f.nextObj++
	f.strings[f.nextObj] = s
	return f.nextObj, nil
}
func (f *fakeExtractVM) InvokeInstanceMethod(obj jdwp.ObjectID, thread jdwp.ThreadID, class jdwp.ReferenceTypeID, m jdwp.MethodID, args []jdwp.TaggedValue, options int32) (jdwp.TaggedValue, *jdwp.TaggedValue, error) {
	if fn, ok := f.invoke[m]; ok {
		return fn(obj, args), nil, nil
	}
	return jdwp.TaggedValue{}, nil, nil
}
func (f *fakeExtractVM) Methods(rt jdwp.ReferenceTypeID) ([]jdwp.MethodInfo, error) {
	return f.methods[rt], nil
}

func TestExtractArray(t *testing.T) {
	vm := newFakeExtractVM()
	const arr jdwp.ObjectID = 1
	vm.arrays[arr] = []jdwp.TaggedValue{
		{Tag: jdwp.TagInt, Int: 10},
		{Tag: jdwp.TagInt, Int: 20},
	}

	ex := NewExtractor(vm, 0)
	props, err := ex.Extract(RawValue{Tag: jdwp.TagArray, Obj: arr}, true, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(props) != 3 {
		t.Fatalf("expected 2 elements + length, got %d", len(props))
	}
	if props["length"].Value.Scalar != float64(2) {
		t.Errorf("expected length 2, got %v", props["length"].Value.Scalar)
	}
	if props["0"].Value.Scalar != float64(10) {
		t.Errorf("expected index 0 == 10, got %v", props["0"].Value.Scalar)
	}
}

func TestExtractReflectiveHostObject(t *testing.T) {
	vm := newFakeExtractVM()
	const obj jdwp.ObjectID = 2
	const rt jdwp.ReferenceTypeID = 5
	vm.objTypes[obj] = rt
	vm.sigs[rt] = "Lcom/example/Widget;"
	vm.fields[rt] = []jdwp.FieldInfo{{Field: 1, Name: "count"}, {Field: 2, Name: "||hidden"}}
	vm.objValues[obj] = map[jdwp.FieldID]jdwp.TaggedValue{
		1: {Tag: jdwp.TagInt, Int: 7},
		2: {Tag: jdwp.TagInt, Int: 99},
	}

	ex := NewExtractor(vm, 0)
	props, err := ex.Extract(RawValue{Tag: jdwp.TagObject, Obj: obj}, true, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := props["||hidden"]; ok {
		t.Error("expected hidden-prefixed field filtered out")
	}
	if props["count"].Value.Scalar != float64(7) {
		t.Errorf("expected count == 7, got %v", props["count"].Value.Scalar)
	}
}

func TestExtractScriptObjectGetMember(t *testing.T) {
	vm := newFakeExtractVM()
	const obj jdwp.ObjectID = 3
	const rt jdwp.ReferenceTypeID = 6
	const getOwnKeys jdwp.MethodID = 10
	const getMember jdwp.MethodID = 11
	const keysArr jdwp.ObjectID = 20
	const fooKeyObj jdwp.ObjectID = 21

	vm.objTypes[obj] = rt
	vm.sigs[rt] = "Ljdk/nashorn/internal/runtime/ScriptObject;"
	vm.methods[rt] = []jdwp.MethodInfo{
		{Method: getOwnKeys, Name: "getOwnKeys"},
		{Method: getMember, Name: "getMember"},
	}
	vm.strings[fooKeyObj] = "foo"
	vm.arrays[keysArr] = []jdwp.TaggedValue{{Tag: jdwp.TagString, Obj: fooKeyObj}}
	vm.invoke[getOwnKeys] = func(jdwp.ObjectID, []jdwp.TaggedValue) jdwp.TaggedValue {
		return jdwp.TaggedValue{Tag: jdwp.TagObject, Obj: keysArr}
	}
	vm.invoke[getMember] = func(_ jdwp.ObjectID, args []jdwp.TaggedValue) jdwp.TaggedValue {
		if len(args) == 1 && vm.strings[args[0].Obj] == "foo" {
			return jdwp.TaggedValue{Tag: jdwp.TagInt, Int: 42}
		}
		return jdwp.TaggedValue{}
	}

	ex := NewExtractor(vm, 0)
	props, err := ex.Extract(RawValue{Tag: jdwp.TagObject, Obj: obj}, true, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	prop, ok := props["foo"]
	if !ok {
		t.Fatalf("expected a \"foo\" property, got %v", props)
	}
	if prop.Value == nil || prop.Value.Scalar != float64(42) {
		t.Errorf("expected getMember(\"foo\") == 42, got %+v", prop.Value)
	}
}

func TestRegistryAssignIsStablePerPause(t *testing.T) {
	reg := NewRegistry()
	id1 := reg.Assign(RawValue{Tag: jdwp.TagObject, Obj: 42})
	id2 := reg.Assign(RawValue{Tag: jdwp.TagObject, Obj: 42})
	if id1 != id2 {
		t.Errorf("expected stable id for the same object within a pause, got %s and %s", id1, id2)
	}

	reg.Clear()
	if _, ok := reg.Lookup(id1); ok {
		t.Error("expected id to be unknown after Clear (simulating a new pause)")
	}
}
