// Package config provides configuration management for the debugger host.
//
// Configuration controls:
//   - The JDWP attach address of the debug target.
//   - Retry budgets and timers for source recovery and class-load
//     quiescence. These are loaded but not read: the event pump and script
//     registry use the fixed pkg/model constants instead.
//   - The initial pause-on-breakpoints posture.
//
// Configuration can be loaded from a JSON file or use sensible defaults.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"
)

// Config holds the debugger host's configuration.
type Config struct {
	// Host/Port identify the JDWP socket-attach target.
	Host string `json:"host"`
	Port int    `json:"port"`

	// InitialScriptResolveAttempts mirrors model.InitialScriptResolveAttempts,
	// the retry budget for recovering a script class's source; the script
	// registry uses the model constant, not this field.
	InitialScriptResolveAttempts int `json:"initialScriptResolveAttempts"`

	// SourceRetryInterval mirrors model.SourceRetryIntervalMillis; the event
	// pump uses the model constant, not this field.
	SourceRetryInterval time.Duration `json:"sourceRetryInterval"`

	// ClassPrepareQuiescence mirrors model.ClassPrepareQuiescenceMillis; the
	// event pump uses the model constant, not this field.
	ClassPrepareQuiescence time.Duration `json:"classPrepareQuiescence"`

	// FullNotifyInterval is loaded but not read by the core or the demo REPL.
	FullNotifyInterval time.Duration `json:"fullNotifyInterval"`

	// PauseOnBreakpointsAtStart sets the initial willPauseOnBreakpoints
	// posture. Defaults to false so the built-in `debugger` trap does not
	// fire before a client attaches.
	PauseOnBreakpointsAtStart bool `json:"pauseOnBreakpointsAtStart"`

	// AttachTimeout is loaded but not read; jdwp.AttachVM applies its own
	// fixed request timeout.
	AttachTimeout time.Duration `json:"attachTimeout"`
}

// DefaultConfig returns a configuration with sensible defaults matching the
// design's stated budgets (5 source-resolve retries at 50ms, 200ms
// class-prepare quiescence).
func DefaultConfig() *Config {
	return &Config{
		Host:                          "localhost",
		Port:                          7777,
		InitialScriptResolveAttempts:  5,
		SourceRetryInterval:           50 * time.Millisecond,
		ClassPrepareQuiescence:        200 * time.Millisecond,
		FullNotifyInterval:            1 * time.Second,
		PauseOnBreakpointsAtStart:     false,
		AttachTimeout:                 10 * time.Second,
	}
}

// LoadConfig loads configuration from a JSON file, falling back to
// DefaultConfig fields for anything the file omits.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Addr returns the "host:port" JDWP attach address.
func (c *Config) Addr() string {
	if c.Host == "" {
		return "localhost:7777"
	}
	return c.Host + ":" + strconv.Itoa(c.Port)
}
