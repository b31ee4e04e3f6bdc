package script

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/vmbridge/nashorn-bridge/internal/jdwp"
	"github.com/vmbridge/nashorn-bridge/pkg/model"
)

// BreakableLocation is a confirmed valid breakpoint target: a VM-level
// location paired with its script-level line/column. It is created when a
// script is registered and destroyed only with the script.
type BreakableLocation struct {
	ID            string
	Script        *model.Script
	VMLocation    jdwp.Location
	ScriptLoc     model.ScriptLocation
	Enabled       bool
	EnabledOnce   bool
	EventRequestID uint32
}

// BreakableLocationTable is the Breakable Location Table (C3): a per-script
// ordered list of BreakableLocations plus the bookkeeping needed to set,
// clear, and range-query breakpoints against them.
type BreakableLocationTable struct {
	mu             sync.Mutex
	byScriptURL    map[string][]*BreakableLocation
	byID           map[string]*BreakableLocation
	lineIndexCache map[*model.Script]map[int]int // line -> index of first match, cache TODO if needed
}

// NewBreakableLocationTable constructs an empty table.
func NewBreakableLocationTable() *BreakableLocationTable {
	return &BreakableLocationTable{
		byScriptURL: make(map[string][]*BreakableLocation),
		byID:        make(map[string]*BreakableLocation),
	}
}

// AddLocations registers every line location of a just-(re)compiled class
// against script, appending to its per-URL list. ScriptLoc is derived
// directly from the line table's line number carried on each jdwp.Location;
// column defaults to 1, since JDWP line tables carry only line numbers.
func (t *BreakableLocationTable) AddLocations(script *model.Script, _ jdwp.ReferenceTypeID, lines []jdwp.Location) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, loc := range lines {
		bl := &BreakableLocation{
			ID:         uuid.NewString()[:8],
			Script:     script,
			VMLocation: loc,
			ScriptLoc:  model.ScriptLocation{Line: int(loc.LineNum), Column: 1},
		}
		t.byID[bl.ID] = bl
		t.byScriptURL[script.URL] = append(t.byScriptURL[script.URL], bl)
	}

	sort.Slice(t.byScriptURL[script.URL], func(i, j int) bool {
		a, b := t.byScriptURL[script.URL][i], t.byScriptURL[script.URL][j]
		return a.VMLocation.CodeIdx < b.VMLocation.CodeIdx
	})
}

// AssignLine overrides a breakable location's script-level line/column.
// AddLocations already sets ScriptLoc from each location's line-table
// line, so the registry and pause engine do not call this.
func (t *BreakableLocationTable) AssignLine(bl *BreakableLocation, loc model.ScriptLocation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	bl.ScriptLoc = loc
}

// Locations returns every breakable location for a script URL, in ascending
// VM code-index order.
func (t *BreakableLocationTable) Locations(scriptURL string) []*BreakableLocation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*BreakableLocation, len(t.byScriptURL[scriptURL]))
	copy(out, t.byScriptURL[scriptURL])
	return out
}

// FindByVMLocation reverse-looks-up the breakable location matching a raw
// JDWP location, the way the pause engine maps a hit frame's location back
// to a script id and line/column.
func (t *BreakableLocationTable) FindByVMLocation(loc jdwp.Location) (*BreakableLocation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, list := range t.byScriptURL {
		for _, bl := range list {
			if bl.VMLocation.Class == loc.Class && bl.VMLocation.Method == loc.Method && bl.VMLocation.CodeIdx == loc.CodeIdx {
				return bl, true
			}
		}
	}
	return nil, false
}

// AllLocations returns every breakable location known across every script,
// the set StepInto seeds one-shot breakpoints across.
func (t *BreakableLocationTable) AllLocations() []*BreakableLocation {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*BreakableLocation
	for _, list := range t.byScriptURL {
		out = append(out, list...)
	}
	return out
}

// LocationsForMethod returns every breakable location belonging to a single
// method, in ascending code-index order, the set StepOver/StepOut seed
// one-shot breakpoints across (restricted by the caller to script lines
// other than, or after, the current one).
func (t *BreakableLocationTable) LocationsForMethod(class jdwp.ReferenceTypeID, method jdwp.MethodID) []*BreakableLocation {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*BreakableLocation
	for _, list := range t.byScriptURL {
		for _, bl := range list {
			if bl.VMLocation.Class == class && bl.VMLocation.Method == method {
				out = append(out, bl)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VMLocation.CodeIdx < out[j].VMLocation.CodeIdx })
	return out
}

// ByID looks up a breakable location by its id.
func (t *BreakableLocationTable) ByID(id string) (*BreakableLocation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	bl, ok := t.byID[id]
	return bl, ok
}

// FindExact finds the breakable location at an exact (line, column), the
// only matching mode setBreakpoint currently supports (see design notes:
// column handling beyond exact match is an open question deferred here).
func (t *BreakableLocationTable) FindExact(scriptURL string, loc model.ScriptLocation) (*BreakableLocation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, bl := range t.byScriptURL[scriptURL] {
		if bl.ScriptLoc.Line == loc.Line && bl.ScriptLoc.Column == loc.Column {
			return bl, nil
		}
	}
	return nil, fmt.Errorf("script: no breakable location at %s:%d:%d", scriptURL, loc.Line, loc.Column)
}

// Enable marks a breakable location enabled, recording the JDWP event
// request id the caller obtained from EventRequest.Set so it can later be
// cleared.
func (t *BreakableLocationTable) Enable(bl *BreakableLocation, requestID uint32, once bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	bl.Enabled = true
	bl.EnabledOnce = once
	bl.EventRequestID = requestID
}

// Disable marks a breakable location disabled; the caller is responsible
// for issuing the matching EventRequest.Clear.
func (t *BreakableLocationTable) Disable(bl *BreakableLocation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	bl.Enabled = false
	bl.EnabledOnce = false
	bl.EventRequestID = 0
}

// RemoveBreakpoint marks the breakable location with this id disabled and
// returns it. The location stays in the table, and its EventRequestID is
// kept so the caller can issue the matching EventRequest.Clear.
func (t *BreakableLocationTable) RemoveBreakpoint(id string) (*BreakableLocation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	bl, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	bl.Enabled = false
	bl.EnabledOnce = false
	return bl, true
}

// GetBreakpointLocations returns every breakable location of scriptURL
// whose (line, column) lies in [from, to), with the line-end inclusive but
// column-on-the-end-line exclusive, matching the query semantics DevTools
// expects for "locations in this line range".
func (t *BreakableLocationTable) GetBreakpointLocations(scriptURL string, from model.ScriptLocation, to *model.ScriptLocation) []model.ScriptLocation {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []model.ScriptLocation
	for _, bl := range t.byScriptURL[scriptURL] {
		loc := bl.ScriptLoc
		if before(loc, from) {
			continue
		}
		if to != nil && !before(loc, *to) {
			continue
		}
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Line != out[j].Line {
			return out[i].Line < out[j].Line
		}
		return out[i].Column < out[j].Column
	})
	return out
}

// before reports whether a is strictly before b in (line, column) order.
func before(a, b model.ScriptLocation) bool {
	if a.Line != b.Line {
		return a.Line < b.Line
	}
	return a.Column < b.Column
}
