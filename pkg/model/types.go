package model

import (
	"bytes"
	"crypto/md5"
)

// Script is an immutable, process-unique script identity: a stable id, a
// normalized URL, the recovered source, and any sourceMappingURL/sourceURL
// annotations parsed out of it. Two VM classes whose recovered source
// hashes match are aliased onto the same Script (recompilation dedup).
type Script struct {
	ID            string
	URL           string
	Source        []byte
	LineIndex     []int // byte offset of the start of each 1-based line
	SourceMapURL  string
	SourceURL     string
	contentsHash  [md5.Size]byte
	hashComputed  bool
}

// ContentsHash lazily computes and caches the MD5 of the script source.
func (s *Script) ContentsHash() [md5.Size]byte {
	if !s.hashComputed {
		s.contentsHash = md5.Sum(s.Source)
		s.hashComputed = true
	}
	return s.contentsHash
}

// NewScript builds a Script and precomputes its line index by scanning for
// '\n' bytes, so callers get 1-based line/column math without repeated
// re-scans of the source.
func NewScript(id, url string, source []byte) *Script {
	s := &Script{ID: id, URL: url, Source: source}
	s.LineIndex = buildLineIndex(source)
	s.SourceMapURL, s.SourceURL = parseSourceAnnotations(source)
	return s
}

func buildLineIndex(source []byte) []int {
	idx := []int{0}
	for i, b := range source {
		if b == '\n' {
			idx = append(idx, i+1)
		}
	}
	return idx
}

var (
	sourceMapURLMarker = []byte("//# sourceMappingURL=")
	sourceURLMarker    = []byte("//# sourceURL=")
)

// parseSourceAnnotations scans source for trailing "//# sourceMappingURL="
// and "//# sourceURL=" comment lines, the same annotations DevTools itself
// recognizes, and returns whatever it finds (empty string if absent).
func parseSourceAnnotations(source []byte) (sourceMapURL, sourceURL string) {
	for _, line := range bytes.Split(source, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		trimmed := bytes.TrimSpace(line)
		switch {
		case bytes.HasPrefix(trimmed, sourceMapURLMarker):
			sourceMapURL = string(bytes.TrimSpace(trimmed[len(sourceMapURLMarker):]))
		case bytes.HasPrefix(trimmed, sourceURLMarker):
			sourceURL = string(bytes.TrimSpace(trimmed[len(sourceURLMarker):]))
		}
	}
	return sourceMapURL, sourceURL
}

// ScriptLocation is a 1-based line/column pair as seen by script-level
// consumers (breakpoints, source annotations).
type ScriptLocation struct {
	Line   int
	Column int
}

// Breakpoint is the external, CDP-facing view of a BreakableLocation (which
// lives in internal/script, since it carries a VM-level location).
type Breakpoint struct {
	ID       string
	ScriptID string
	Location ScriptLocation
}

// PropertyKind classifies an ObjectPropertyDescriptor.
type PropertyKind int

const (
	PropertyData PropertyKind = iota
	PropertyAccessor
	PropertyGeneric
)

// ObjectPropertyDescriptor describes one property of a remote object.
// Invariant: PropertyData implies Value is non-nil; PropertyAccessor
// implies at least one of Getter/Setter is non-nil.
type ObjectPropertyDescriptor struct {
	Kind         PropertyKind
	Configurable bool
	Enumerable   bool
	Writable     bool
	IsOwn        bool
	Value        *ValueNode
	Getter       *ValueNode
	Setter       *ValueNode
}

// ValueKind tags the variant held by a ValueNode.
type ValueKind int

const (
	ValueSimple ValueKind = iota
	ValueObject
	ValueArray
	ValueFunction
	ValueDate
	ValueRegExp
	ValueError
	ValueEmpty
)

// ValueNode is a tagged union mirroring the CDP RemoteObject shape: a
// scalar/undefined/null carried inline, or a reference to a remote object
// identified by ObjectID.
type ValueNode struct {
	Kind      ValueKind
	Scalar    any // nil, bool, float64, string when Kind == ValueSimple
	Undefined bool
	ClassName string
	ObjectID  string
	Length    int    // ValueArray
	Name      string // ValueFunction
	Source    string // ValueFunction
}

// Scope classifies one link in a stack frame's scope chain.
type ScopeKind int

const (
	ScopeLocal ScopeKind = iota
	ScopeClosure
	ScopeWith
	ScopeGlobal
)

// Scope is one link in a StackFrame's scope chain.
type Scope struct {
	Kind     ScopeKind
	ObjectID string
}

// StackFrame is the marshaled, pause-scoped view of one JDWP frame. It
// carries the script id and script-level location of its breakable location
// rather than the location object itself, since that object is owned by
// internal/script and this package must stay free of VM-layer imports.
type StackFrame struct {
	ID           string
	ThisValue    ValueNode
	ScopeChain   []Scope
	ScriptID     string
	ScriptLoc    ScriptLocation
	FunctionName string
}

// StepKind selects the flavor of one-shot-breakpoint stepping the pause
// engine seeds before resuming.
type StepKind int

const (
	StepInto StepKind = iota
	StepOver
	StepOut
)

// PauseExceptionMode controls which thrown exceptions convert to a pause.
type PauseExceptionMode int

const (
	PauseOnNone PauseExceptionMode = iota
	PauseOnCaught
	PauseOnUncaught
	PauseOnAll
)
