package script

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/vmbridge/nashorn-bridge/internal/jdwp"
	"github.com/vmbridge/nashorn-bridge/pkg/model"
)

// vmAccessor is the subset of *jdwp.VM the registry needs. It exists so
// tests can drive registration against a fake without a real socket.
type vmAccessor interface {
	Signature(rt jdwp.ReferenceTypeID) (string, error)
	SourceFile(rt jdwp.ReferenceTypeID) (string, error)
	Methods(rt jdwp.ReferenceTypeID) ([]jdwp.MethodInfo, error)
	Fields(rt jdwp.ReferenceTypeID) ([]jdwp.FieldInfo, error)
	GetStaticValues(rt jdwp.ReferenceTypeID, fields []jdwp.FieldID) ([]jdwp.TaggedValue, error)
	GetObjectValues(obj jdwp.ObjectID, fields []jdwp.FieldID) ([]jdwp.TaggedValue, error)
	ObjectReferenceType(obj jdwp.ObjectID) (byte, jdwp.ReferenceTypeID, error)
	ArrayLength(obj jdwp.ObjectID) (int32, error)
	ArrayValues(obj jdwp.ObjectID, first, length int32) ([]jdwp.TaggedValue, error)
	LineTable(rt jdwp.ReferenceTypeID, m jdwp.MethodID) (start, end uint64, lines []jdwp.LineTableEntry, err error)
}

// RegisterResult tells the event pump what happened to a considered
// reference type, and therefore what it should do next (nothing, remember
// it as infrastructure, retry source resolution later, or announce a newly
// added script).
type RegisterResult int

const (
	RegisterIgnored RegisterResult = iota
	RegisterInfrastructure
	RegisterRetrySource
	RegisterAdded
	RegisterAliased
)

// Registry is the Script Registry (C2): it maps loaded VM classes onto
// stable Script identities, deduplicating by content hash, and feeds every
// executable line location it discovers into the shared BreakableLocation
// table (C3).
type Registry struct {
	vm     vmAccessor
	logger *log.Logger

	mu             sync.Mutex
	scriptsByURL   map[string]*model.Script
	scriptsByID    map[string]*model.Script
	scriptsByHash  map[[md5.Size]byte]*model.Script
	infrastructure map[string]jdwp.ReferenceTypeID

	Breakables *BreakableLocationTable
}

// NewRegistry constructs an empty registry backed by vm.
func NewRegistry(vm vmAccessor, logger *log.Logger) *Registry {
	return &Registry{
		vm:             vm,
		logger:         logger,
		scriptsByURL:   make(map[string]*model.Script),
		scriptsByID:    make(map[string]*model.Script),
		scriptsByHash:  make(map[[md5.Size]byte]*model.Script),
		infrastructure: make(map[string]jdwp.ReferenceTypeID),
		Breakables:     NewBreakableLocationTable(),
	}
}

// Scripts returns every registered script, sorted by id.
func (r *Registry) Scripts() []*model.Script {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Script, 0, len(r.scriptsByID))
	for _, s := range r.scriptsByID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ScriptByID looks up a script by its stable id.
func (r *Registry) ScriptByID(id string) (*model.Script, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scriptsByID[id]
	return s, ok
}

// InfrastructureClass reports whether className was previously cached as a
// wanted infrastructure class, returning its reference type if so.
func (r *Registry) InfrastructureClass(className string) (jdwp.ReferenceTypeID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.infrastructure[className]
	return rt, ok
}

func isWantedInfrastructure(className string) bool {
	for _, c := range model.WantedInfrastructureClasses {
		if c == className {
			return true
		}
	}
	return false
}

func signatureToClassName(sig string) string {
	sig = strings.TrimPrefix(sig, "L")
	sig = strings.TrimSuffix(sig, ";")
	return strings.ReplaceAll(sig, "/", ".")
}

// RegisterFromReferenceType runs the registration algorithm from a loaded
// class. attemptsLeft bounds source-recovery retries the pump will perform
// by re-calling this method after a 50ms delay when RegisterRetrySource is
// returned.
func (r *Registry) RegisterFromReferenceType(rt jdwp.ReferenceTypeID, attemptsLeft int) (RegisterResult, *model.Script, error) {
	sig, err := r.vm.Signature(rt)
	if err != nil {
		return RegisterIgnored, nil, fmt.Errorf("signature: %w", err)
	}
	className := signatureToClassName(sig)

	if isWantedInfrastructure(className) {
		r.mu.Lock()
		r.infrastructure[className] = rt
		r.mu.Unlock()
		return RegisterInfrastructure, nil, nil
	}

	if !strings.HasPrefix(className, model.ScriptClassPrefix) {
		return RegisterIgnored, nil, nil
	}

	lines, err := r.allLineLocations(rt)
	if err != nil {
		return RegisterIgnored, nil, nil
	}
	if len(lines) == 0 {
		return RegisterIgnored, nil, nil
	}

	source, ok, err := r.recoverSource(rt)
	if err != nil {
		return RegisterIgnored, nil, fmt.Errorf("recover source for %s: %w", className, err)
	}
	if !ok {
		if attemptsLeft > 0 {
			return RegisterRetrySource, nil, nil
		}
		r.logger.Printf("nashorn-bridge: source unavailable for %s after retries, dropping", className)
		return RegisterIgnored, nil, nil
	}

	if bytes.Contains(source, []byte(model.EvaluatedCodeMarker)) {
		return RegisterIgnored, nil, nil
	}

	scriptPath, err := r.scriptPath(rt, className)
	if err != nil {
		return RegisterIgnored, nil, err
	}

	return r.register(scriptPath, source, rt, lines), r.lookupAfterRegister(scriptPath), nil
}

func (r *Registry) lookupAfterRegister(scriptPath string) *model.Script {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scriptsByURL[scriptPath]
}

func (r *Registry) register(scriptPath string, source []byte, rt jdwp.ReferenceTypeID, lines []jdwp.Location) RegisterResult {
	hash := md5.Sum(source)

	r.mu.Lock()
	existing, dup := r.scriptsByHash[hash]
	if dup {
		r.scriptsByURL[scriptPath] = existing
	}
	r.mu.Unlock()

	if dup {
		r.Breakables.AddLocations(existing, rt, lines)
		return RegisterAliased
	}

	id := uuid.NewString()[:8]
	sc := model.NewScript(id, scriptPath, source)

	r.mu.Lock()
	r.scriptsByID[id] = sc
	r.scriptsByURL[scriptPath] = sc
	r.scriptsByHash[hash] = sc
	r.mu.Unlock()

	r.Breakables.AddLocations(sc, rt, lines)
	return RegisterAdded
}

// scriptPath derives a script's registered path per the registration
// algorithm: the class's declared source file name, unless it's the
// engine's synthetic "<eval>" marker, in which case a path is synthesized
// from the class name.
func (r *Registry) scriptPath(rt jdwp.ReferenceTypeID, className string) (string, error) {
	sourceName, err := r.vm.SourceFile(rt)
	if err != nil || sourceName == "" || sourceName == model.EvalSourceName {
		return EvalPath(className), nil
	}
	return NormalizeURL(sourceName)
}

// allLineLocations combines ReferenceType.Methods with Method.LineTable to
// build the flat location list JDWP does not expose as a single command.
func (r *Registry) allLineLocations(rt jdwp.ReferenceTypeID) ([]jdwp.Location, error) {
	methods, err := r.vm.Methods(rt)
	if err != nil {
		return nil, err
	}

	var out []jdwp.Location
	for _, m := range methods {
		_, _, lines, err := r.vm.LineTable(rt, m.Method)
		if err != nil {
			continue // native/abstract methods have no line table
		}
		for _, l := range lines {
			out = append(out, jdwp.Location{Class: rt, Method: m.Method, CodeIdx: l.CodeIndex, LineNum: l.LineNum})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Method != out[j].Method {
			return out[i].Method < out[j].Method
		}
		return out[i].CodeIdx < out[j].CodeIdx
	})
	return out, nil
}

// recoverSource walks the private field path Script$ -> source -> data ->
// array to reconstruct a dynamically-compiled script's original text. It
// returns ok=false (not an error) when the fields are present but still
// unpopulated, which is the normal transient state right after
// class-prepare that the pump retries against.
func (r *Registry) recoverSource(rt jdwp.ReferenceTypeID) (src []byte, ok bool, err error) {
	sourceObj, present, err := r.readObjectField(rt, 0, "source")
	if err != nil {
		return nil, false, err
	}
	if !present {
		return nil, false, nil
	}

	_, sourceType, err := r.vm.ObjectReferenceType(sourceObj)
	if err != nil {
		return nil, false, err
	}
	dataObj, present, err := r.readInstanceField(sourceType, sourceObj, "data")
	if err != nil || !present {
		return nil, false, err
	}

	_, dataType, err := r.vm.ObjectReferenceType(dataObj)
	if err != nil {
		return nil, false, err
	}
	arrayVal, present, err := r.readInstanceField(dataType, dataObj, "array")
	if err != nil || !present {
		return nil, false, err
	}

	length, err := r.vm.ArrayLength(arrayVal)
	if err != nil {
		return nil, false, err
	}
	if length == 0 {
		return []byte{}, true, nil
	}

	values, err := r.vm.ArrayValues(arrayVal, 0, length)
	if err != nil {
		return nil, false, err
	}
	buf := make([]rune, 0, len(values))
	for _, v := range values {
		buf = append(buf, rune(v.Short))
	}
	return []byte(string(buf)), true, nil
}

func (r *Registry) fieldIDByName(rt jdwp.ReferenceTypeID, name string) (jdwp.FieldID, bool, error) {
	fields, err := r.vm.Fields(rt)
	if err != nil {
		return 0, false, err
	}
	for _, f := range fields {
		if f.Name == name {
			return f.Field, true, nil
		}
	}
	return 0, false, nil
}

// readObjectField reads a static reference field of rt by name. The obj
// parameter is unused for static reads and kept for symmetry with
// readInstanceField.
func (r *Registry) readObjectField(rt jdwp.ReferenceTypeID, _ jdwp.ObjectID, name string) (jdwp.ObjectID, bool, error) {
	fid, ok, err := r.fieldIDByName(rt, name)
	if err != nil || !ok {
		return 0, false, err
	}
	vals, err := r.vm.GetStaticValues(rt, []jdwp.FieldID{fid})
	if err != nil {
		return 0, false, err
	}
	if len(vals) == 0 || vals[0].Obj == 0 {
		return 0, false, nil
	}
	return vals[0].Obj, true, nil
}

func (r *Registry) readInstanceField(rt jdwp.ReferenceTypeID, obj jdwp.ObjectID, name string) (jdwp.ObjectID, bool, error) {
	fid, ok, err := r.fieldIDByName(rt, name)
	if err != nil || !ok {
		return 0, false, err
	}
	vals, err := r.vm.GetObjectValues(obj, []jdwp.FieldID{fid})
	if err != nil {
		return 0, false, err
	}
	if len(vals) == 0 || vals[0].Obj == 0 {
		return 0, false, nil
	}
	return vals[0].Obj, true, nil
}
