// Package repl implements the line-oriented demo console used to drive an
// internal/host.Host interactively from a terminal, without a real CDP
// front end attached.
package repl

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	"github.com/vmbridge/nashorn-bridge/internal/events"
	"github.com/vmbridge/nashorn-bridge/internal/host"
	"github.com/vmbridge/nashorn-bridge/pkg/model"
)

// Term is a minimal command console over a Host: it reads a line, dispatches
// to a named command, and prints the result, while a background goroutine
// prints host lifecycle events as they arrive.
type Term struct {
	host   *host.Host
	logger *log.Logger
	in     *bufio.Scanner
	out    io.Writer
	prompt string
}

// New builds a Term reading commands from in and writing output to out.
func New(h *host.Host, logger *log.Logger, in io.Reader, out io.Writer) *Term {
	return &Term{
		host:   h,
		logger: logger,
		in:     bufio.NewScanner(in),
		out:    out,
		prompt: "(nashorn) ",
	}
}

// Run drives the read-dispatch-print loop until stdin closes or a "quit"
// command is entered.
func (t *Term) Run() {
	go t.handleEvents()

	fmt.Fprintln(t.out, "Type 'help' for a list of commands.")
	for {
		fmt.Fprint(t.out, t.prompt)
		if !t.in.Scan() {
			return
		}
		line := strings.TrimSpace(t.in.Text())
		if line == "" {
			continue
		}
		name, args := parseCommand(line)
		if name == "quit" || name == "exit" {
			return
		}
		cmd, ok := commands[name]
		if !ok {
			fmt.Fprintf(t.out, "unknown command %q, try 'help'\n", name)
			continue
		}
		if err := cmd(t, args); err != nil {
			fmt.Fprintf(t.out, "command failed: %v\n", err)
		}
	}
}

func (t *Term) handleEvents() {
	sub := t.host.Bus.Subscribe(32)
	defer sub.Close()
	for ev := range sub.Events() {
		t.printEvent(ev)
	}
}

func (t *Term) printEvent(ev events.Event) {
	switch ev.Kind {
	case events.ScriptAdded:
		fmt.Fprintf(t.out, "\n[event] script added: %s (%s)\n", ev.Script.ID, ev.Script.URL)
	case events.HitBreakpoint:
		fmt.Fprintf(t.out, "\n[event] paused, %d frame(s):\n", len(ev.StackFrames))
		for _, f := range ev.StackFrames {
			fmt.Fprintf(t.out, "  #%s %s at %s:%d:%d\n", f.ID, f.FunctionName, f.ScriptID, f.ScriptLoc.Line, f.ScriptLoc.Column)
		}
	case events.Resumed:
		fmt.Fprintln(t.out, "\n[event] resumed")
	case events.UncaughtError:
		fmt.Fprintf(t.out, "\n[event] uncaught error: %v\n", ev.Error)
	case events.InitialInitializationComplete:
		fmt.Fprintln(t.out, "\n[event] initialization complete")
	}
	fmt.Fprint(t.out, t.prompt)
}

func parseCommand(line string) (string, []string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

type commandFunc func(t *Term, args []string) error

var commands = map[string]commandFunc{
	"help":      cmdHelp,
	"scripts":   cmdScripts,
	"break":     cmdBreak,
	"clear":     cmdClear,
	"locations": cmdLocations,
	"resume":    cmdResume,
	"step":      cmdStep,
	"pause":     cmdPause,
	"catch":     cmdCatch,
	"eval":      cmdEval,
	"props":     cmdProps,
}

func cmdHelp(t *Term, args []string) error {
	fmt.Fprintln(t.out, `commands:
  scripts                          list loaded scripts
  break <url> <line>[:<col>]       set a breakpoint
  clear <id>                       remove a breakpoint
  locations <scriptId> [from] [to] list breakable locations
  resume                           resume a paused VM
  step into|over|out               step from the current pause
  pause                            pause at the next statement
  catch none|caught|uncaught|all   set the exception pause mode
  eval <frameId> <expr>            evaluate an expression on a frame
  props <objectId> [own] [accessors]  list an object's properties
  quit                             exit`)
	return nil
}

func cmdScripts(t *Term, args []string) error {
	for _, s := range t.host.Registry.Scripts() {
		fmt.Fprintf(t.out, "%s  %s  (%d bytes)\n", s.ID, s.URL, len(s.Source))
	}
	return nil
}

func cmdBreak(t *Term, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: break <url> <line>[:<col>]")
	}
	loc, err := parseScriptLocation(args[1])
	if err != nil {
		return err
	}
	bp, err := t.host.SetBreakpoint(args[0], loc)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.out, "breakpoint %s set at %s:%d:%d\n", bp.ID, bp.ScriptID, bp.Location.Line, bp.Location.Column)
	return nil
}

func cmdClear(t *Term, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: clear <id>")
	}
	return t.host.RemoveBreakpointByID(args[0])
}

func cmdLocations(t *Term, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: locations <scriptId> [from] [to]")
	}
	from := model.ScriptLocation{}
	var to *model.ScriptLocation
	if len(args) >= 2 {
		l, err := strconv.Atoi(args[1])
		if err != nil {
			return err
		}
		from.Line = l
	}
	if len(args) >= 3 {
		l, err := strconv.Atoi(args[2])
		if err != nil {
			return err
		}
		to = &model.ScriptLocation{Line: l}
	}
	locs, err := t.host.GetBreakpointLocations(args[0], from, to)
	if err != nil {
		return err
	}
	for _, l := range locs {
		fmt.Fprintf(t.out, "%d:%d\n", l.Line, l.Column)
	}
	return nil
}

func cmdResume(t *Term, args []string) error {
	return t.host.Resume()
}

func cmdStep(t *Term, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: step into|over|out")
	}
	var kind model.StepKind
	switch args[0] {
	case "into":
		kind = model.StepInto
	case "over":
		kind = model.StepOver
	case "out":
		kind = model.StepOut
	default:
		return fmt.Errorf("unknown step kind %q", args[0])
	}
	return t.host.Step(kind)
}

func cmdPause(t *Term, args []string) error {
	return t.host.PauseAtNextStatement()
}

func cmdCatch(t *Term, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: catch none|caught|uncaught|all")
	}
	var mode model.PauseExceptionMode
	switch args[0] {
	case "none":
		mode = model.PauseOnNone
	case "caught":
		mode = model.PauseOnCaught
	case "uncaught":
		mode = model.PauseOnUncaught
	case "all":
		mode = model.PauseOnAll
	default:
		return fmt.Errorf("unknown exception mode %q", args[0])
	}
	return t.host.PauseOnExceptions(mode)
}

func cmdEval(t *Term, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: eval <frameId> <expr>")
	}
	result, err := t.host.EvaluateOnStackFrame(args[0], strings.Join(args[1:], " "), nil)
	if err != nil {
		return err
	}
	fmt.Fprintln(t.out, formatValue(result))
	return nil
}

func cmdProps(t *Term, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: props <objectId> [own] [accessors]")
	}
	onlyOwn, onlyAccessors := false, false
	for _, a := range args[1:] {
		switch a {
		case "own":
			onlyOwn = true
		case "accessors":
			onlyAccessors = true
		}
	}
	props, err := t.host.GetObjectProperties(args[0], onlyOwn, onlyAccessors)
	if err != nil {
		return err
	}
	for name, d := range props {
		fmt.Fprintf(t.out, "  %s: %s\n", name, formatDescriptor(d))
	}
	return nil
}

func formatValue(v model.ValueNode) string {
	switch v.Kind {
	case model.ValueSimple:
		if v.Undefined {
			return "undefined"
		}
		return fmt.Sprintf("%v", v.Scalar)
	case model.ValueObject:
		return fmt.Sprintf("[object %s] (%s)", v.ClassName, v.ObjectID)
	case model.ValueArray:
		return fmt.Sprintf("[array %s length=%d] (%s)", v.ClassName, v.Length, v.ObjectID)
	case model.ValueFunction:
		return fmt.Sprintf("[function %s] (%s)", v.Name, v.ObjectID)
	case model.ValueDate:
		return fmt.Sprintf("[date] (%s)", v.ObjectID)
	case model.ValueRegExp:
		return fmt.Sprintf("[regexp] (%s)", v.ObjectID)
	case model.ValueError:
		return "<threw>"
	default:
		return "<empty>"
	}
}

func formatDescriptor(d model.ObjectPropertyDescriptor) string {
	switch d.Kind {
	case model.PropertyData:
		if d.Value != nil {
			return formatValue(*d.Value)
		}
		return "<no value>"
	case model.PropertyAccessor:
		parts := []string{}
		if d.Getter != nil {
			parts = append(parts, "getter")
		}
		if d.Setter != nil {
			parts = append(parts, "setter")
		}
		return "[accessor " + strings.Join(parts, "/") + "]"
	default:
		return "<generic>"
	}
}

// parseScriptLocation parses "<line>" or "<line>:<column>" into a
// ScriptLocation.
func parseScriptLocation(s string) (model.ScriptLocation, error) {
	parts := strings.SplitN(s, ":", 2)
	line, err := strconv.Atoi(parts[0])
	if err != nil {
		return model.ScriptLocation{}, fmt.Errorf("invalid line %q", parts[0])
	}
	loc := model.ScriptLocation{Line: line}
	if len(parts) == 2 {
		col, err := strconv.Atoi(parts[1])
		if err != nil {
			return model.ScriptLocation{}, fmt.Errorf("invalid column %q", parts[1])
		}
		loc.Column = col
	}
	return loc, nil
}
