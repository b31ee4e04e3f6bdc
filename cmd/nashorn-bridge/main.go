package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/vmbridge/nashorn-bridge/internal/config"
	"github.com/vmbridge/nashorn-bridge/internal/events"
	"github.com/vmbridge/nashorn-bridge/internal/host"
	"github.com/vmbridge/nashorn-bridge/internal/jdwp"
	"github.com/vmbridge/nashorn-bridge/internal/objects"
	"github.com/vmbridge/nashorn-bridge/internal/repl"
	"github.com/vmbridge/nashorn-bridge/internal/script"
	"github.com/vmbridge/nashorn-bridge/internal/version"
	"github.com/vmbridge/nashorn-bridge/pkg/model"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	addrHost := flag.String("host", "", "JDWP attach host (overrides config)")
	port := flag.Int("port", 0, "JDWP attach port (overrides config)")
	pauseOnBreakpoints := flag.Bool("pause-on-breakpoints", false, "Pause on the built-in debugger statement from startup")
	showVersion := flag.Bool("version", false, "Show version and exit")
	help := flag.Bool("help", false, "Show help and exit")

	flag.Parse()

	if *showVersion {
		fmt.Printf("nashorn-bridge version %s\n", version.GetVersion())
		os.Exit(0)
	}
	if *help {
		printHelp()
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if *addrHost != "" {
		cfg.Host = *addrHost
	}
	if *port != 0 {
		cfg.Port = *port
	}

	logger := log.New(os.Stderr, "nashorn-bridge: ", log.LstdFlags)

	logger.Printf("attaching to %s...", cfg.Addr())
	vm, err := jdwp.AttachVM(cfg.Addr())
	if err != nil {
		logger.Fatalf("attach failed: %v", model.ConnectError(cfg.Addr(), err))
	}
	defer vm.Close()

	registry := script.NewRegistry(vm, logger)
	objRegistry := objects.NewRegistry()
	bus := events.NewBus()
	h := host.New(vm, registry, objRegistry, bus, logger)

	vm.SetEventHandler(h.OnEventSet)
	go h.Run()

	if *pauseOnBreakpoints || cfg.PauseOnBreakpointsAtStart {
		h.PauseOnBreakpoints()
	}

	if err := h.StartInitialization(); err != nil {
		logger.Fatalf("initialization failed: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Println("shutting down...")
		h.Stop()
		vm.Close()
		os.Exit(0)
	}()

	// A dedicated subscriber maps a terminal UncaughtError to this process's
	// exit code, per the design's rule that a target VM disconnect is a
	// clean exit and any other terminal host error is not.
	exitCode := 0
	exitSub := h.Bus.Subscribe(4)
	exitDone := make(chan struct{})
	go func() {
		defer close(exitDone)
		for ev := range exitSub.Events() {
			if ev.Kind != events.UncaughtError {
				continue
			}
			if he := model.FromError(ev.Error); he.Code != model.CodeVMDisconnect {
				exitCode = 2
			}
			return
		}
	}()

	term := repl.New(h, logger, os.Stdin, os.Stdout)
	term.Run()

	h.Stop()
	exitSub.Close()
	<-exitDone
	os.Exit(exitCode)
}

func printHelp() {
	fmt.Println(`nashorn-bridge: a JDWP-to-scriptable bridge for debugging Nashorn JavaScript

USAGE:
    nashorn-bridge [OPTIONS]

OPTIONS:
    -config <path>              Path to a JSON configuration file
    -host <host>                JDWP attach host (overrides config)
    -port <port>                JDWP attach port (overrides config)
    -pause-on-breakpoints       Pause on the built-in debugger statement from startup
    -version                    Show version and exit
    -help                       Show this help message

CONFIGURATION:
    {
        "host": "localhost",
        "port": 7777,
        "initialScriptResolveAttempts": 5,
        "sourceRetryInterval": 50000000,
        "classPrepareQuiescence": 200000000,
        "fullNotifyInterval": 1000000000,
        "pauseOnBreakpointsAtStart": false,
        "attachTimeout": 10000000000
    }
    Durations are integer nanoseconds.

Once attached, a line-oriented console accepts commands such as
"scripts", "break <url> <line>", "resume", "step into|over|out", and
"eval <frameId> <expr>". Type "help" at the prompt for the full list.`)
}
