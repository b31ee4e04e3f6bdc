package script

import (
	"testing"

	"github.com/vmbridge/nashorn-bridge/internal/jdwp"
	"github.com/vmbridge/nashorn-bridge/pkg/model"
)

func newTestScript(t *testing.T) *model.Script {
	t.Helper()
	return model.NewScript("s1", "file:///t.js", []byte("function f(){}\nreturn 1\n"))
}

func TestGetBreakpointLocationsRange(t *testing.T) {
	table := NewBreakableLocationTable()
	sc := newTestScript(t)

	table.AddLocations(sc, 0, []jdwp.Location{
		{Method: 1, CodeIdx: 0},
		{Method: 1, CodeIdx: 1},
		{Method: 1, CodeIdx: 2},
	})
	locs := table.Locations(sc.URL)
	table.AssignLine(locs[0], model.ScriptLocation{Line: 1, Column: 1})
	table.AssignLine(locs[1], model.ScriptLocation{Line: 2, Column: 1})
	table.AssignLine(locs[2], model.ScriptLocation{Line: 3, Column: 1})

	from := model.ScriptLocation{Line: 1, Column: 1}
	to := model.ScriptLocation{Line: 3, Column: 1}
	got := table.GetBreakpointLocations(sc.URL, from, &to)

	if len(got) != 2 {
		t.Fatalf("expected 2 locations in [1:1,3:1), got %d: %v", len(got), got)
	}
	if got[0].Line != 1 || got[1].Line != 2 {
		t.Errorf("unexpected locations: %v", got)
	}
}

func TestGetBreakpointLocationsNoUpperBound(t *testing.T) {
	table := NewBreakableLocationTable()
	sc := newTestScript(t)
	table.AddLocations(sc, 0, []jdwp.Location{{Method: 1, CodeIdx: 0}, {Method: 1, CodeIdx: 1}})
	locs := table.Locations(sc.URL)
	table.AssignLine(locs[0], model.ScriptLocation{Line: 1, Column: 1})
	table.AssignLine(locs[1], model.ScriptLocation{Line: 5, Column: 1})

	got := table.GetBreakpointLocations(sc.URL, model.ScriptLocation{Line: 1, Column: 1}, nil)
	if len(got) != 2 {
		t.Errorf("expected both locations with no upper bound, got %d", len(got))
	}
}

func TestSetAndRemoveBreakpointRestoresSize(t *testing.T) {
	table := NewBreakableLocationTable()
	sc := newTestScript(t)
	table.AddLocations(sc, 0, []jdwp.Location{{Method: 1, CodeIdx: 0}})
	locs := table.Locations(sc.URL)
	table.AssignLine(locs[0], model.ScriptLocation{Line: 1, Column: 1})

	bl, err := table.FindExact(sc.URL, model.ScriptLocation{Line: 1, Column: 1})
	if err != nil {
		t.Fatalf("expected to find exact location: %v", err)
	}

	before := len(table.Locations(sc.URL))
	table.Enable(bl, 100, false)
	table.RemoveBreakpoint(bl.ID)
	after := len(table.Locations(sc.URL))

	if before != after {
		t.Errorf("expected location count unchanged after set/remove, before=%d after=%d", before, after)
	}
	if bl.Enabled {
		t.Error("expected breakpoint disabled after removal")
	}
}

func TestFindExactMissRejected(t *testing.T) {
	table := NewBreakableLocationTable()
	sc := newTestScript(t)
	table.AddLocations(sc, 0, []jdwp.Location{{Method: 1, CodeIdx: 0}})
	locs := table.Locations(sc.URL)
	table.AssignLine(locs[0], model.ScriptLocation{Line: 1, Column: 1})

	if _, err := table.FindExact(sc.URL, model.ScriptLocation{Line: 99, Column: 1}); err == nil {
		t.Error("expected an error for a non-existent location")
	}
}
