package host

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vmbridge/nashorn-bridge/internal/jdwp"
	"github.com/vmbridge/nashorn-bridge/pkg/model"
)

// Method names of the Nashorn internals the evaluator drives:
// Context.getGlobal() for the global object, then eval(scope, code,
// thisObj, location) resolved on that global object's own type.
// methodGetContext is not called.
const (
	methodGetGlobal  = "getGlobal"
	methodGetContext = "getContext"
	methodEval       = "eval"
	methodGetMember  = "getMember"
)

// boxedPrimitiveFieldName is the field every JDK primitive wrapper class
// (java.lang.Boolean, java.lang.Integer, ...) stores its primitive payload
// in, per model.WantedInfrastructureClasses.
const boxedPrimitiveFieldName = "value"

// literalLocal is a local variable whose value can be re-expressed as a JS
// source literal, and therefore can be shadowed in the synthesized scope
// wrapper by textual substitution rather than by a live object reference.
// Locals whose value is an arbitrary heap object are left out of the
// wrapper; they remain reachable through the frame's original scope/`:this`
// prototype chain, just without write-back tracking.
type literalLocal struct {
	name    string
	literal string
}

func toLiteralLocal(name string, v jdwp.TaggedValue, h *Host) (literalLocal, bool) {
	switch v.Tag {
	case jdwp.TagBoolean:
		return literalLocal{name, strconv.FormatBool(v.Bool)}, true
	case jdwp.TagByte:
		return literalLocal{name, strconv.Itoa(int(v.Byte))}, true
	case jdwp.TagChar:
		return literalLocal{name, strconv.Itoa(int(v.Char))}, true
	case jdwp.TagShort:
		return literalLocal{name, strconv.Itoa(int(v.Short))}, true
	case jdwp.TagInt:
		return literalLocal{name, strconv.Itoa(int(v.Int))}, true
	case jdwp.TagLong:
		return literalLocal{name, strconv.FormatInt(v.Long, 10)}, true
	case jdwp.TagFloat:
		return literalLocal{name, strconv.FormatFloat(float64(v.Float), 'g', -1, 32)}, true
	case jdwp.TagDouble:
		return literalLocal{name, strconv.FormatFloat(v.Dbl, 'g', -1, 64)}, true
	case jdwp.TagString:
		s, err := h.VM.StringValue(v.Obj)
		if err != nil {
			return literalLocal{}, false
		}
		return literalLocal{name, strconv.Quote(s)}, true
	default:
		return literalLocal{}, false
	}
}

// buildScopeSource generates the object-literal expression described in
// §4.7 step 1: a scope whose prototype is the frame's original scope (or
// `:this`), with one accessor property per literal-representable local.
// The setter records `[name, newValue]` onto a hidden `||changes` array so
// EvaluateOnStackFrame can write mutations back to the JDI frame; the
// getter returns the shadow field so reads see the current value even
// after a setter fires.
func buildScopeSource(base string, locals []literalLocal) string {
	changesKey := model.HiddenPrefix + "changes"
	resetKey := model.HiddenPrefix + "resetChanges"

	var b strings.Builder
	fmt.Fprintf(&b, "(function(){ var s = Object.create(%s); s[%q] = []; s[%q] = function(){ s[%q] = []; };\n",
		base, changesKey, resetKey, changesKey)
	for _, l := range locals {
		shadowKey := model.HiddenPrefix + l.name
		fmt.Fprintf(&b, "s[%q] = %s;\n", shadowKey, l.literal)
		fmt.Fprintf(&b, "Object.defineProperty(s, %q, { get: function(){ return s[%q]; }, set: function(v){ s[%q] = v; s[%q].push([%q, v]); }, enumerable: false, configurable: true });\n",
			l.name, shadowKey, shadowKey, changesKey, l.name)
	}
	b.WriteString("return s; })()")
	return b.String()
}

// EvaluateOnStackFrame evaluates expr against frameID's synthesized scope,
// writing back any mutation to literal-representable locals. named maps
// extra binding names to JS source literals; they are added to the same
// wrapper as the locals (no second wrapper is built). An assignment to a
// named binding is written back only when a frame local has the same name.
func (h *Host) EvaluateOnStackFrame(frameID, expr string, named map[string]string) (model.ValueNode, error) {
	return postR(h, func() (model.ValueNode, error) {
		if h.pausedData == nil {
			return model.ValueNode{}, model.IllegalState("evaluate")
		}
		idx, err := h.frameIndexByID(frameID)
		if err != nil {
			return model.ValueNode{}, err
		}
		snap := &h.pausedData.Frames[idx]

		baseVal := snap.Scope
		if baseVal.Obj == 0 {
			baseVal = snap.This
		}

		var locals []literalLocal
		for name, v := range snap.Locals {
			if strings.HasPrefix(name, model.HiddenPrefix) {
				continue
			}
			if ll, ok := toLiteralLocal(name, v, h); ok {
				locals = append(locals, ll)
			}
		}
		for name, lit := range named {
			locals = append(locals, literalLocal{name, lit})
		}

		globalObj, err := h.evalGlobalScope(h.pausedData.Thread)
		if err != nil {
			return model.ValueNode{}, model.EvaluationError(expr, err)
		}

		wrapperSrc := buildScopeSource("this", locals)
		wrapper, thrown, err := h.evalInGlobal(h.pausedData.Thread, globalObj, baseVal, wrapperSrc)
		if err != nil {
			return model.ValueNode{}, model.EvaluationError(expr, err)
		}
		if thrown {
			return model.ValueNode{}, model.EvaluationError(expr, fmt.Errorf("scope construction threw"))
		}

		code := strconv.Quote(model.EvaluatedCodeMarker) + ";" + expr
		result, thrown, err := h.evalInGlobal(h.pausedData.Thread, globalObj, wrapper, code)
		if err != nil {
			return model.ValueNode{}, model.EvaluationError(expr, err)
		}
		if thrown {
			return model.ValueNode{Kind: model.ValueError}, nil
		}
		if result.Tag == jdwp.TagString {
			if s, err := h.VM.StringValue(result.Obj); err == nil && s == model.EvaluatedCodeMarker {
				return model.ValueNode{Kind: model.ValueSimple, Undefined: true}, nil
			}
		}

		h.writeBackChanges(h.pausedData.Thread, snap, wrapper)
		h.Objects.InvalidateProperties()

		return h.marshalValue(result), nil
	})
}

// frameIndexByID resolves a StackFrame id back to its snapshot index.
// TopFrameAlias always means index 0; other ids are the alias with a
// "+N" suffix, per marshalFrame's frameID helper.
func (h *Host) frameIndexByID(frameID string) (int, error) {
	if frameID == model.TopFrameAlias {
		return 0, nil
	}
	suffix := strings.TrimPrefix(frameID, model.TopFrameAlias+"+")
	if suffix == frameID {
		return 0, model.UnknownObject(frameID)
	}
	n, err := strconv.Atoi(suffix)
	if err != nil || n < 0 || n >= len(h.pausedData.Frames) {
		return 0, model.UnknownObject(frameID)
	}
	return n, nil
}

// evalGlobalScope resolves the engine's current global object, the
// receiver every eval call in this pause is invoked against.
func (h *Host) evalGlobalScope(thread jdwp.ThreadID) (jdwp.ObjectID, error) {
	rt, ok := h.Registry.InfrastructureClass("jdk.nashorn.internal.runtime.Context")
	if !ok {
		return 0, fmt.Errorf("Context class not loaded")
	}
	m, ok, err := h.methodOn(rt, methodGetGlobal)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("Context.getGlobal not found")
	}
	result, exc, err := h.VM.InvokeStaticMethod(rt, thread, m, nil, 0)
	if err != nil {
		return 0, err
	}
	if exc != nil {
		return 0, fmt.Errorf("Context.getGlobal threw")
	}
	return result.Obj, nil
}

func (h *Host) methodOn(rt jdwp.ReferenceTypeID, name string) (jdwp.MethodID, bool, error) {
	methods, err := h.VM.Methods(rt)
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

// evalInGlobal runs src through the eval method found on globalObj's own
// type (Context.getContext is not consulted), returning the raw result and whether the call threw. Building the actual
// scope-object argument for this call requires object construction this
// client's JDWP surface does not support (no ClassType/ArrayType
// NewInstance); instead src is expected to be a self-contained JS
// expression (an IIFE, as buildScopeSource produces) that constructs
// whatever it needs internally, so eval only ever needs a String argument.
func (h *Host) evalInGlobal(thread jdwp.ThreadID, globalObj jdwp.ObjectID, scopeHint jdwp.TaggedValue, src string) (jdwp.TaggedValue, bool, error) {
	_, rt, err := h.VM.ObjectReferenceType(globalObj)
	if err != nil {
		return jdwp.TaggedValue{}, false, err
	}
	m, ok, err := h.methodOn(rt, methodEval)
	if err != nil {
		return jdwp.TaggedValue{}, false, err
	}
	if !ok {
		return jdwp.TaggedValue{}, false, fmt.Errorf("no eval method found on global")
	}
	// The real Nashorn eval(Object,String,Object,Object) signature takes the
	// scope, source, receiver, and evaluated-code location; scopeHint doubles
	// as both scope and receiver here since buildScopeSource's IIFE closes
	// over the frame's own scope/this chain rather than requiring the caller
	// to pre-build a live scope object.
	srcObj, err := h.internString(thread, src)
	if err != nil {
		return jdwp.TaggedValue{}, false, err
	}
	args := []jdwp.TaggedValue{scopeHint, {Tag: jdwp.TagObject, Obj: srcObj}, scopeHint, {Tag: jdwp.TagObject, Obj: 0}}
	result, exc, err := h.VM.InvokeInstanceMethod(globalObj, thread, rt, m, args, 0)
	if err != nil {
		return jdwp.TaggedValue{}, false, err
	}
	return result, exc != nil, nil
}

// internString allocates a fresh String object in the target holding s, via
// VirtualMachine.CreateString. thread is unused (CreateString is not
// thread-scoped) but kept so call sites read consistently with the other
// per-thread eval helpers.
func (h *Host) internString(thread jdwp.ThreadID, s string) (jdwp.ObjectID, error) {
	return h.VM.CreateString(s)
}

// writeBackChanges reads the wrapper's hidden ||changes array and applies
// each (name, newValue) pair to snap's recorded frame location, per §4.7
// step 5 and the mutation round-trip invariant of §8: the JDI slot's value
// after eval must equal the last value written via the setter. name is
// read with getMember the same way objects.Extractor reads a ScriptObject's
// members; each value is unboxed if the target stored it as a boxed
// java.lang primitive (unavoidable once it passes through the generic
// Object[] backing the changes array) before being coerced to the local's
// original tag and written back with StackFrame.SetValues.
func (h *Host) writeBackChanges(thread jdwp.ThreadID, snap *frameSnapshot, wrapper jdwp.TaggedValue) {
	if wrapper.Obj == 0 {
		return
	}
	_, rt, err := h.VM.ObjectReferenceType(wrapper.Obj)
	if err != nil {
		h.Logger.Printf("nashorn-bridge: write-back: %v", err)
		return
	}
	getMember, ok, err := h.methodOn(rt, methodGetMember)
	if err != nil || !ok {
		return
	}

	changesKey := model.HiddenPrefix + "changes"
	keyObj, err := h.internString(thread, changesKey)
	if err != nil {
		h.Logger.Printf("nashorn-bridge: write-back: %v", err)
		return
	}
	changes, exc, err := h.VM.InvokeInstanceMethod(wrapper.Obj, thread, rt, getMember, []jdwp.TaggedValue{{Tag: jdwp.TagObject, Obj: keyObj}}, 0)
	if err != nil || exc != nil || changes.Obj == 0 {
		return
	}

	n, err := h.VM.ArrayLength(changes.Obj)
	if err != nil {
		h.Logger.Printf("nashorn-bridge: write-back: reading changes length: %v", err)
		return
	}
	entries, err := h.VM.ArrayValues(changes.Obj, 0, n)
	if err != nil {
		h.Logger.Printf("nashorn-bridge: write-back: reading changes: %v", err)
		return
	}

	for _, entry := range entries {
		if entry.Obj == 0 {
			continue
		}
		pair, err := h.VM.ArrayValues(entry.Obj, 0, 2)
		if err != nil || len(pair) != 2 {
			continue
		}
		name, err := h.VM.StringValue(pair[0].Obj)
		if err != nil {
			continue
		}
		slot, hasSlot := snap.LocalSlots[name]
		orig, hasOrig := snap.Locals[name]
		if !hasSlot || !hasOrig {
			continue
		}
		unboxed, err := h.unboxPrimitive(pair[1])
		if err != nil {
			h.Logger.Printf("nashorn-bridge: write-back of %q skipped: %v", name, err)
			continue
		}
		newVal := coerceToTag(unboxed, orig.Tag)
		if err := h.VM.FrameSetValues(thread, snap.FrameID, []int32{slot}, []jdwp.TaggedValue{newVal}); err != nil {
			h.Logger.Printf("nashorn-bridge: write-back of %q failed: %v", name, err)
		}
	}
}

// unboxPrimitive recovers a primitive-tagged value from a boxed
// java.lang.{Boolean,Byte,Character,Short,Integer,Long,Float,Double}
// wrapper, which is how a JS number/boolean pushed into a plain Object[]
// (the changes array's element type) arrives back over JDWP. Values that
// are already primitive-tagged, or that are some other reference type
// (e.g. a JS string), pass through unchanged.
func (h *Host) unboxPrimitive(v jdwp.TaggedValue) (jdwp.TaggedValue, error) {
	if v.Tag != jdwp.TagObject || v.Obj == 0 {
		return v, nil
	}
	_, rt, err := h.VM.ObjectReferenceType(v.Obj)
	if err != nil {
		return jdwp.TaggedValue{}, err
	}
	sig, err := h.VM.Signature(rt)
	if err != nil {
		return jdwp.TaggedValue{}, err
	}
	if !isBoxedPrimitiveSignature(sig) {
		return v, nil
	}
	fields, err := h.VM.Fields(rt)
	if err != nil {
		return jdwp.TaggedValue{}, err
	}
	for _, f := range fields {
		if f.Name != boxedPrimitiveFieldName {
			continue
		}
		vals, err := h.VM.GetObjectValues(v.Obj, []jdwp.FieldID{f.Field})
		if err != nil || len(vals) != 1 {
			return jdwp.TaggedValue{}, fmt.Errorf("reading boxed %s.value: %v", sig, err)
		}
		return vals[0], nil
	}
	return jdwp.TaggedValue{}, fmt.Errorf("boxed type %s has no value field", sig)
}

func isBoxedPrimitiveSignature(sig string) bool {
	switch sig {
	case "Ljava/lang/Boolean;", "Ljava/lang/Byte;", "Ljava/lang/Character;", "Ljava/lang/Short;",
		"Ljava/lang/Integer;", "Ljava/lang/Long;", "Ljava/lang/Float;", "Ljava/lang/Double;":
		return true
	default:
		return false
	}
}

// coerceToTag converts an unboxed primitive value to target's representation,
// matching the local's original tag so FrameSetValues sees the type it
// expects for that slot. Reference-typed targets (String, Object) pass v
// through unchanged.
func coerceToTag(v jdwp.TaggedValue, target jdwp.Tag) jdwp.TaggedValue {
	switch target {
	case jdwp.TagBoolean:
		return jdwp.TaggedValue{Tag: jdwp.TagBoolean, Bool: v.Bool}
	case jdwp.TagByte:
		return jdwp.TaggedValue{Tag: jdwp.TagByte, Byte: int8(numericValue(v))}
	case jdwp.TagChar:
		return jdwp.TaggedValue{Tag: jdwp.TagChar, Char: uint16(numericValue(v))}
	case jdwp.TagShort:
		return jdwp.TaggedValue{Tag: jdwp.TagShort, Short: int16(numericValue(v))}
	case jdwp.TagInt:
		return jdwp.TaggedValue{Tag: jdwp.TagInt, Int: int32(numericValue(v))}
	case jdwp.TagLong:
		return jdwp.TaggedValue{Tag: jdwp.TagLong, Long: int64(numericValue(v))}
	case jdwp.TagFloat:
		return jdwp.TaggedValue{Tag: jdwp.TagFloat, Float: float32(numericValue(v))}
	case jdwp.TagDouble:
		return jdwp.TaggedValue{Tag: jdwp.TagDouble, Dbl: numericValue(v)}
	default:
		return v
	}
}

func numericValue(v jdwp.TaggedValue) float64 {
	switch v.Tag {
	case jdwp.TagByte:
		return float64(v.Byte)
	case jdwp.TagChar:
		return float64(v.Char)
	case jdwp.TagShort:
		return float64(v.Short)
	case jdwp.TagInt:
		return float64(v.Int)
	case jdwp.TagLong:
		return float64(v.Long)
	case jdwp.TagFloat:
		return float64(v.Float)
	case jdwp.TagDouble:
		return v.Dbl
	default:
		return 0
	}
}
