package host

import (
	"github.com/vmbridge/nashorn-bridge/internal/jdwp"
	"github.com/vmbridge/nashorn-bridge/internal/objects"
	"github.com/vmbridge/nashorn-bridge/pkg/model"
)

// tagFromSignature maps a JNI field signature's leading character to the
// JDWP value tag used to request that slot's value.
func tagFromSignature(sig string) jdwp.Tag {
	if sig == "" {
		return jdwp.TagObject
	}
	switch sig[0] {
	case '[':
		return jdwp.TagArray
	case 'Z':
		return jdwp.TagBoolean
	case 'B':
		return jdwp.TagByte
	case 'C':
		return jdwp.TagChar
	case 'S':
		return jdwp.TagShort
	case 'I':
		return jdwp.TagInt
	case 'J':
		return jdwp.TagLong
	case 'F':
		return jdwp.TagFloat
	case 'D':
		return jdwp.TagDouble
	default:
		return jdwp.TagObject
	}
}

// collectLocals reads every visible local of the method backing loc,
// skipping the engine's synthetic ":return" slot, in one batched
// StackFrame.GetValues call. On JDWP error INVALID_SLOT it degrades to a
// per-variable read so one stale slot doesn't take the whole frame down. It
// also returns each surviving local's slot, so a later evaluation can write
// a mutated value back to the same slot.
func (h *Host) collectLocals(thread jdwp.ThreadID, frame jdwp.FrameID, loc jdwp.Location) (map[string]jdwp.TaggedValue, map[string]int32) {
	_, vars, err := h.VM.VariableTable(loc.Class, loc.Method)
	if err != nil {
		return map[string]jdwp.TaggedValue{}, map[string]int32{}
	}

	visible := vars[:0:0]
	for _, v := range vars {
		if v.Name == ":return" {
			continue
		}
		visible = append(visible, v)
	}
	if len(visible) == 0 {
		return map[string]jdwp.TaggedValue{}, map[string]int32{}
	}

	slots := make([]int32, len(visible))
	tags := make([]jdwp.Tag, len(visible))
	for i, v := range visible {
		slots[i] = v.Slot
		tags[i] = tagFromSignature(v.Signature)
	}

	out := make(map[string]jdwp.TaggedValue, len(visible))
	outSlots := make(map[string]int32, len(visible))
	values, err := h.VM.FrameGetValues(thread, frame, slots, tags)
	if err == nil {
		for i, v := range visible {
			out[v.Name] = values[i]
			outSlots[v.Name] = v.Slot
		}
		return out, outSlots
	}

	// Batch failed (commonly INVALID_SLOT on a stale slot); degrade to
	// per-variable reads and skip only the offenders.
	for _, v := range visible {
		val, err := h.VM.FrameGetValue(thread, frame, v.Slot, tagFromSignature(v.Signature))
		if err != nil {
			h.Logger.Printf("nashorn-bridge: local %q unreadable (slot %d): %v", v.Name, v.Slot, err)
			continue
		}
		out[v.Name] = val
		outSlots[v.Name] = v.Slot
	}
	return out, outSlots
}

// marshalFrame builds the CDP-facing StackFrame for one raw snapshot,
// including its scope chain, and registers the complex :this and :scope
// values with the object registry (locals are not registered).
func (h *Host) marshalFrame(snap *frameSnapshot, index int) model.StackFrame {
	scriptID, scriptLoc := h.locationToScript(snap.Location)
	snap.ScriptID = scriptID
	snap.ScriptLoc = scriptLoc

	thisNode := h.marshalValue(snap.This)

	chain := h.buildScopeChain(snap, index)

	return model.StackFrame{
		ID:         frameID(index),
		ThisValue:  thisNode,
		ScopeChain: chain,
		ScriptID:   scriptID,
		ScriptLoc:  scriptLoc,
	}
}

func frameID(index int) string {
	if index == 0 {
		return model.TopFrameAlias
	}
	return model.TopFrameAlias + "+" + itoa(index)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func (h *Host) locationToScript(loc jdwp.Location) (string, model.ScriptLocation) {
	bl, ok := h.Registry.Breakables.FindByVMLocation(loc)
	if !ok {
		return "", model.ScriptLocation{}
	}
	return bl.Script.ID, bl.ScriptLoc
}

// buildScopeChain realizes §4.5's rule: an optional Local scope (only if
// the frame has locals to shadow) followed by the frame's original scope,
// ending in Global if not already present. The original scope's prototype
// chain is not walked; only the scope object itself is added.
func (h *Host) buildScopeChain(snap *frameSnapshot, index int) []model.Scope {
	var chain []model.Scope

	if len(snap.Locals) > 0 {
		localsID := "$$locals-" + frameID(index)
		chain = append(chain, model.Scope{Kind: model.ScopeLocal, ObjectID: localsID})
	}

	if snap.Scope.Obj != 0 {
		id := h.Objects.Assign(objects.RawValue{Tag: snap.Scope.Tag, Obj: snap.Scope.Obj})
		chain = append(chain, model.Scope{Kind: h.classifyScope(snap.Scope), ObjectID: id})
	}

	hasGlobal := false
	for _, s := range chain {
		if s.Kind == model.ScopeGlobal {
			hasGlobal = true
		}
	}
	if !hasGlobal {
		chain = append(chain, model.Scope{Kind: model.ScopeGlobal})
	}
	return chain
}

// classifyScope labels a scope object by its VM type name suffix, per
// §4.5: ".Global" -> Global, ".WithObject" -> With, else Closure.
func (h *Host) classifyScope(v jdwp.TaggedValue) model.ScopeKind {
	_, rt, err := h.VM.ObjectReferenceType(v.Obj)
	if err != nil {
		return model.ScopeClosure
	}
	sig, err := h.VM.Signature(rt)
	if err != nil {
		return model.ScopeClosure
	}
	switch {
	case hasSuffix(sig, "Global;"):
		return model.ScopeGlobal
	case hasSuffix(sig, "WithObject;"):
		return model.ScopeWith
	default:
		return model.ScopeClosure
	}
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

// marshalValue converts a raw tagged value into a ValueNode, registering
// complex values with the object registry so later getObjectProperties
// calls can resolve them within this pause.
func (h *Host) marshalValue(v jdwp.TaggedValue) model.ValueNode {
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
	case jdwp.TagString:
		if v.Obj == 0 {
			return model.ValueNode{Kind: model.ValueSimple, Scalar: nil}
		}
		s, err := h.VM.StringValue(v.Obj)
		if err != nil {
			s = ""
		}
		return model.ValueNode{Kind: model.ValueSimple, Scalar: s}
	case jdwp.TagArray:
		id := h.Objects.Assign(objects.RawValue{Tag: v.Tag, Obj: v.Obj})
		return model.ValueNode{Kind: model.ValueArray, ObjectID: id}
	case jdwp.TagObject, jdwp.TagThread, jdwp.TagThreadGroup, jdwp.TagClassLoader, jdwp.TagClassObject:
		if v.Obj == 0 {
			return model.ValueNode{Kind: model.ValueSimple, Scalar: nil}
		}
		id := h.Objects.Assign(objects.RawValue{Tag: v.Tag, Obj: v.Obj})
		return model.ValueNode{Kind: model.ValueObject, ObjectID: id}
	default:
		return model.ValueNode{Kind: model.ValueEmpty}
	}
}

// GetObjectProperties extracts the property set of a previously registered
// object, dispatching through the current pause's Extractor and caching
// the result by (id, onlyOwn, onlyAccessors). Must be paused.
func (h *Host) GetObjectProperties(objectID string, onlyOwn, onlyAccessors bool) (map[string]model.ObjectPropertyDescriptor, error) {
	return postR(h, func() (map[string]model.ObjectPropertyDescriptor, error) {
		if h.pausedData == nil {
			return nil, model.IllegalState("getObjectProperties")
		}
		raw, ok := h.Objects.Lookup(objectID)
		if !ok {
			h.Logger.Printf("nashorn-bridge: getObjectProperties: unknown object %s", objectID)
			return map[string]model.ObjectPropertyDescriptor{}, nil
		}
		if cached, ok := h.objectsCacheGet(objectID, onlyOwn, onlyAccessors); ok {
			return cached, nil
		}
		ex := objects.NewExtractor(h.VM, h.pausedData.Thread)
		props, err := ex.Extract(raw, onlyOwn, onlyAccessors)
		if err != nil {
			return nil, model.EvaluationError("getObjectProperties", err)
		}
		h.objectsCachePut(objectID, onlyOwn, onlyAccessors, props)
		return props, nil
	})
}

// objectsCacheGet/objectsCachePut proxy to the unexported cache on
// objects.Registry so Host doesn't need its own duplicate cache.
func (h *Host) objectsCacheGet(id string, onlyOwn, onlyAccessors bool) (map[string]model.ObjectPropertyDescriptor, bool) {
	return h.Objects.CacheGet(id, onlyOwn, onlyAccessors)
}

func (h *Host) objectsCachePut(id string, onlyOwn, onlyAccessors bool, props map[string]model.ObjectPropertyDescriptor) {
	h.Objects.CachePut(id, onlyOwn, onlyAccessors, props)
}
