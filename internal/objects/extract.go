package objects

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vmbridge/nashorn-bridge/internal/jdwp"
	"github.com/vmbridge/nashorn-bridge/pkg/model"
)

// vmAccessor is the subset of *jdwp.VM the extractors need.
type vmAccessor interface {
	ObjectReferenceType(obj jdwp.ObjectID) (byte, jdwp.ReferenceTypeID, error)
	Signature(rt jdwp.ReferenceTypeID) (string, error)
	Fields(rt jdwp.ReferenceTypeID) ([]jdwp.FieldInfo, error)
	GetObjectValues(obj jdwp.ObjectID, fields []jdwp.FieldID) ([]jdwp.TaggedValue, error)
	ArrayLength(obj jdwp.ObjectID) (int32, error)
	ArrayValues(obj jdwp.ObjectID, first, length int32) ([]jdwp.TaggedValue, error)
	StringValue(obj jdwp.ObjectID) (string, error)
	CreateString(s string) (jdwp.ObjectID, error)
	InvokeInstanceMethod(obj jdwp.ObjectID, thread jdwp.ThreadID, class jdwp.ReferenceTypeID, m jdwp.MethodID, args []jdwp.TaggedValue, options int32) (jdwp.TaggedValue, *jdwp.TaggedValue, error)
	Methods(rt jdwp.ReferenceTypeID) ([]jdwp.MethodInfo, error)
}

// Nashorn-internal method names used to drive extraction through
// InvokeInstanceMethod, the same "call a well-known method by name"
// technique the evaluator uses for getGlobal, eval and getMember.
const (
	methodGetOwnKeys    = "getOwnKeys"
	methodGetMember     = "getMember"
	methodKeySet        = "keySet"
	methodHasMoreElemts = "hasMoreElements"
	methodNextElement   = "nextElement"
	methodGet           = "get"
)

// Extractor implements the Object Registry's property-extraction dispatch
// table (C6 §4.6): array / hashtable-like / script object or mirror, in
// that preference order, with reflective generic host-object extraction as
// the fallback, filtering hidden "||" names.
type Extractor struct {
	vm     vmAccessor
	thread jdwp.ThreadID
}

// NewExtractor builds an extractor bound to the thread currently paused;
// InvokeInstanceMethod calls are only meaningful against a suspended
// thread.
func NewExtractor(vm vmAccessor, thread jdwp.ThreadID) *Extractor {
	return &Extractor{vm: vm, thread: thread}
}

// Extract returns raw's own (or own+inherited, if !onlyOwn) properties as a
// name -> descriptor map, dispatching by runtime type.
func (e *Extractor) Extract(raw RawValue, onlyOwn, onlyAccessors bool) (map[string]model.ObjectPropertyDescriptor, error) {
	switch raw.Tag {
	case jdwp.TagArray:
		return e.extractArray(raw.Obj)
	case jdwp.TagString:
		return map[string]model.ObjectPropertyDescriptor{}, nil
	default:
		return e.extractObject(raw.Obj, onlyOwn, onlyAccessors)
	}
}

func (e *Extractor) extractArray(obj jdwp.ObjectID) (map[string]model.ObjectPropertyDescriptor, error) {
	length, err := e.vm.ArrayLength(obj)
	if err != nil {
		return nil, fmt.Errorf("array length: %w", err)
	}
	values, err := e.vm.ArrayValues(obj, 0, length)
	if err != nil {
		return nil, fmt.Errorf("array values: %w", err)
	}

	out := make(map[string]model.ObjectPropertyDescriptor, length+1)
	for i, v := range values {
		out[strconv.Itoa(i)] = dataDescriptor(taggedToValueNode(v), true, true, true, true)
	}
	out["length"] = dataDescriptor(model.ValueNode{Kind: model.ValueSimple, Scalar: float64(length)}, false, false, false, true)
	return out, nil
}

// extractObject dispatches between the engine's dynamic-property machinery
// (ScriptObject/mirror/Hashtable, all reachable only via method invocation)
// and a plain reflective field walk for arbitrary host objects, falling
// back to the latter whenever the former's well-known methods aren't
// present on the object's type.
func (e *Extractor) extractObject(obj jdwp.ObjectID, onlyOwn, onlyAccessors bool) (map[string]model.ObjectPropertyDescriptor, error) {
	_, rt, err := e.vm.ObjectReferenceType(obj)
	if err != nil {
		return nil, fmt.Errorf("object reference type: %w", err)
	}

	sig, err := e.vm.Signature(rt)
	if err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}

	switch {
	case strings.Contains(sig, "Hashtable"):
		props, err := e.extractHashtableLike(obj, rt)
		if err == nil {
			return props, nil
		}
	case strings.Contains(sig, "ScriptObject") || strings.Contains(sig, "ScriptMirror"):
		props, err := e.extractDynamicKeys(obj, rt, onlyOwn)
		if err == nil {
			return filterHidden(props, onlyAccessors), nil
		}
	}

	return e.extractReflective(obj, rt)
}

func (e *Extractor) methodByName(rt jdwp.ReferenceTypeID, name string) (jdwp.MethodID, bool, error) {
	methods, err := e.vm.Methods(rt)
	if err != nil {
		return 0, false, err
	}
	for _, m := range methods {
		if m.Name == name {
			return m.Method, true, nil
		}
	}
	return 0, false, nil
}

// extractDynamicKeys enumerates a ScriptObject/mirror's keys via
// getOwnKeys/keySet and reads each with getMember, emitting data
// descriptors only (accessor descriptors require the in-target extractor
// script described in the evaluator, which the host layers on top of this
// when a richer descriptor is needed).
func (e *Extractor) extractDynamicKeys(obj jdwp.ObjectID, rt jdwp.ReferenceTypeID, onlyOwn bool) (map[string]model.ObjectPropertyDescriptor, error) {
	keysMethodName := methodGetOwnKeys
	m, ok, err := e.methodByName(rt, keysMethodName)
	if err != nil {
		return nil, err
	}
	if !ok {
		keysMethodName = methodKeySet
		m, ok, err = e.methodByName(rt, keysMethodName)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("objects: no key-enumeration method on %v", rt)
		}
	}

	args := []jdwp.TaggedValue{}
	if keysMethodName == methodGetOwnKeys {
		args = append(args, jdwp.TaggedValue{Tag: jdwp.TagBoolean, Bool: !onlyOwn})
	}

	result, exc, err := e.vm.InvokeInstanceMethod(obj, e.thread, rt, m, args, 0)
	if err != nil {
		return nil, err
	}
	if exc != nil {
		return nil, fmt.Errorf("objects: %s threw", keysMethodName)
	}

	keyNames, err := e.stringArrayElements(result.Obj)
	if err != nil {
		return nil, err
	}

	getMember, ok, err := e.methodByName(rt, methodGetMember)
	if err != nil {
		return nil, err
	}

	out := make(map[string]model.ObjectPropertyDescriptor, len(keyNames))
	for _, key := range keyNames {
		if strings.HasPrefix(key, model.HiddenPrefix) {
			continue
		}
		if !ok {
			out[key] = model.ObjectPropertyDescriptor{Kind: model.PropertyGeneric, IsOwn: true}
			continue
		}
		keyObj, err := e.newStringLiteral(key)
		if err != nil {
			out[key] = model.ObjectPropertyDescriptor{Kind: model.PropertyGeneric, IsOwn: true}
			continue
		}
		val, exc, err := e.vm.InvokeInstanceMethod(obj, e.thread, rt, getMember, []jdwp.TaggedValue{keyObj}, 0)
		if err != nil || exc != nil {
			continue
		}
		out[key] = dataDescriptor(taggedToValueNode(val), true, true, true, true)
	}
	return out, nil
}

// newStringLiteral allocates a fresh JDWP String object holding s, via
// VirtualMachine.CreateString, for use as a getMember key argument.
func (e *Extractor) newStringLiteral(s string) (jdwp.TaggedValue, error) {
	obj, err := e.vm.CreateString(s)
	if err != nil {
		return jdwp.TaggedValue{}, err
	}
	return jdwp.TaggedValue{Tag: jdwp.TagString, Obj: obj}, nil
}

func (e *Extractor) stringArrayElements(arr jdwp.ObjectID) ([]string, error) {
	length, err := e.vm.ArrayLength(arr)
	if err != nil {
		return nil, err
	}
	values, err := e.vm.ArrayValues(arr, 0, length)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, length)
	for _, v := range values {
		s, err := e.vm.StringValue(v.Obj)
		if err != nil {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// extractHashtableLike drives keys()/hasMoreElements()/nextElement()/get()
// as described in §4.6; accessors are not supported for this shape.
func (e *Extractor) extractHashtableLike(obj jdwp.ObjectID, rt jdwp.ReferenceTypeID) (map[string]model.ObjectPropertyDescriptor, error) {
	keysMethod, ok, err := e.methodByName(rt, "keys")
	if err != nil || !ok {
		return nil, fmt.Errorf("objects: no keys() on hashtable-like object")
	}
	enumResult, exc, err := e.vm.InvokeInstanceMethod(obj, e.thread, rt, keysMethod, nil, 0)
	if err != nil || exc != nil {
		return nil, fmt.Errorf("objects: keys() invocation failed")
	}

	_, enumRT, err := e.vm.ObjectReferenceType(enumResult.Obj)
	if err != nil {
		return nil, err
	}
	hasMore, ok, err := e.methodByName(enumRT, methodHasMoreElemts)
	if err != nil || !ok {
		return nil, fmt.Errorf("objects: no hasMoreElements() on enumeration")
	}
	next, ok, err := e.methodByName(enumRT, methodNextElement)
	if err != nil || !ok {
		return nil, fmt.Errorf("objects: no nextElement() on enumeration")
	}
	get, ok, err := e.methodByName(rt, methodGet)
	if err != nil || !ok {
		return nil, fmt.Errorf("objects: no get() on hashtable-like object")
	}

	out := map[string]model.ObjectPropertyDescriptor{}
	for i := 0; i < 10000; i++ {
		more, exc, err := e.vm.InvokeInstanceMethod(enumResult.Obj, e.thread, enumRT, hasMore, nil, 0)
		if err != nil || exc != nil || !more.Bool {
			break
		}
		keyVal, exc, err := e.vm.InvokeInstanceMethod(enumResult.Obj, e.thread, enumRT, next, nil, 0)
		if err != nil || exc != nil {
			break
		}
		keyStr, err := e.stringify(keyVal)
		if err != nil {
			continue
		}
		val, exc, err := e.vm.InvokeInstanceMethod(obj, e.thread, rt, get, []jdwp.TaggedValue{keyVal}, 0)
		if err != nil || exc != nil {
			continue
		}
		out[keyStr] = dataDescriptor(taggedToValueNode(val), true, true, true, true)
	}
	return out, nil
}

func (e *Extractor) stringify(v jdwp.TaggedValue) (string, error) {
	if v.Tag == jdwp.TagString {
		return e.vm.StringValue(v.Obj)
	}
	return fmt.Sprintf("%v", v.Obj), nil
}

// extractReflective enumerates rt's declared fields and reads each,
// emitting data descriptors, for arbitrary host objects that have no
// dynamic-property machinery.
func (e *Extractor) extractReflective(obj jdwp.ObjectID, rt jdwp.ReferenceTypeID) (map[string]model.ObjectPropertyDescriptor, error) {
	fields, err := e.vm.Fields(rt)
	if err != nil {
		return nil, err
	}
	ids := make([]jdwp.FieldID, len(fields))
	for i, f := range fields {
		ids[i] = f.Field
	}
	values, err := e.vm.GetObjectValues(obj, ids)
	if err != nil {
		return nil, err
	}

	out := make(map[string]model.ObjectPropertyDescriptor, len(fields))
	for i, f := range fields {
		if strings.HasPrefix(f.Name, model.HiddenPrefix) {
			continue
		}
		if i >= len(values) {
			continue
		}
		out[f.Name] = dataDescriptor(taggedToValueNode(values[i]), true, true, true, true)
	}
	return out, nil
}

func filterHidden(props map[string]model.ObjectPropertyDescriptor, onlyAccessors bool) map[string]model.ObjectPropertyDescriptor {
	if !onlyAccessors {
		return props
	}
	out := make(map[string]model.ObjectPropertyDescriptor, len(props))
	for k, v := range props {
		if v.Kind == model.PropertyAccessor {
			out[k] = v
		}
	}
	return out
}

func dataDescriptor(v model.ValueNode, configurable, enumerable, writable, isOwn bool) model.ObjectPropertyDescriptor {
	return model.ObjectPropertyDescriptor{
		Kind:         model.PropertyData,
		Configurable: configurable,
		Enumerable:   enumerable,
		Writable:     writable,
		IsOwn:        isOwn,
		Value:        &v,
	}
}

// taggedToValueNode marshals a raw JDWP tagged value into the CDP-facing
// ValueNode shape. Complex values (objects, arrays) carry only their kind
// here: no class name and no ObjectID is filled in.
func taggedToValueNode(v jdwp.TaggedValue) model.ValueNode {
	switch v.Tag {
	case jdwp.TagBoolean:
		return model.ValueNode{Kind: model.ValueSimple, Scalar: v.Bool}
	case jdwp.TagByte:
		return model.ValueNode{Kind: model.ValueSimple, Scalar: float64(v.Byte)}
	case jdwp.TagChar:
		return model.ValueNode{Kind: model.ValueSimple, Scalar: float64(v.Char)}
	case jdwp.TagShort:
		return model.ValueNode{Kind: model.ValueSimple, Scalar: float64(v.Short)}
	case jdwp.TagInt:
		return model.ValueNode{Kind: model.ValueSimple, Scalar: float64(v.Int)}
	case jdwp.TagFloat:
		return model.ValueNode{Kind: model.ValueSimple, Scalar: float64(v.Float)}
	case jdwp.TagLong:
		return model.ValueNode{Kind: model.ValueSimple, Scalar: float64(v.Long)}
	case jdwp.TagDouble:
		return model.ValueNode{Kind: model.ValueSimple, Scalar: v.Dbl}
	case jdwp.TagVoid:
		return model.ValueNode{Kind: model.ValueSimple, Undefined: true}
	case jdwp.TagArray:
		return model.ValueNode{Kind: model.ValueArray}
	case jdwp.TagObject, jdwp.TagString, jdwp.TagThread, jdwp.TagThreadGroup, jdwp.TagClassLoader, jdwp.TagClassObject:
		if v.Obj == 0 {
			return model.ValueNode{Kind: model.ValueSimple, Scalar: nil}
		}
		return model.ValueNode{Kind: model.ValueObject}
	default:
		return model.ValueNode{Kind: model.ValueEmpty}
	}
}
