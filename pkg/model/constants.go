// Package model holds the data types and errors shared across the debugger
// host's internal packages: scripts, breakpoints, remote-object views, stack
// frames, and the structured error taxonomy. It has no dependency on the
// JDWP wire layer so that a future CDP-facing package can import it without
// pulling in socket or reflection code.
package model

// TopFrameAlias is the stack-frame id that always resolves to the first
// frame of the current pause, per the CDP-facing contract.
const TopFrameAlias = "$top"

// HiddenPrefix marks property and scope-wrapper names that must never be
// surfaced to a client as a real object property.
const HiddenPrefix = "||"

// EvaluatedCodeMarker is prepended to every expression this host evaluates
// in the target VM, so that source recovered from a re-attach can be
// recognized as our own artifact and discarded. It must look like a 32-hex
// token so it cannot collide with a user identifier.
const EvaluatedCodeMarker = "f3a6c1d9b2e447a08d6c9b1e2f4a7c30"

// InitialScriptResolveAttempts is the retry budget for recovering source
// text from a script class whose reflective fields are not yet populated.
const InitialScriptResolveAttempts = 5

// SourceRetryIntervalMillis is the delay between source-resolution retries.
const SourceRetryIntervalMillis = 50

// ScriptClassPrefix is the engine-internal package+class prefix used to
// recognize a loaded class as a compiled script body.
const ScriptClassPrefix = "jdk.nashorn.internal.scripts.Script$"

// EvalSourceName is the source-name JDWP reports for a location whose
// backing script was produced by a dynamic eval.
const EvalSourceName = "<eval>"

// DebuggerStatementClass/Method identify the engine method that realizes a
// JavaScript `debugger;` statement, so the host can install a fixed
// breakpoint on it during initialization.
const (
	DebuggerStatementClass  = "jdk.nashorn.internal.runtime.ScriptRuntime"
	DebuggerStatementMethod = "DEBUGGER"
)

// WantedInfrastructureClasses are engine-internal classes the host caches a
// reference to (for later static-method invocation) instead of treating as
// script bodies.
var WantedInfrastructureClasses = []string{
	"jdk.nashorn.internal.runtime.ScriptRuntime",
	"jdk.nashorn.internal.runtime.Context",
	"java.lang.Boolean",
	"java.lang.Byte",
	"java.lang.Short",
	"java.lang.Character",
	"java.lang.Integer",
	"java.lang.Long",
	"java.lang.Float",
	"java.lang.Double",
}

// ClassPrepareQuiescenceMillis is how long the event pump waits, after
// seeing no new ClassPrepareEvent, before deciding class loading has
// settled and running full initialization.
const ClassPrepareQuiescenceMillis = 200

// StaticExecutionContextId is hard-coded per an open question in the
// original design; see DESIGN.md for the rationale.
const StaticExecutionContextId = 1
