// Command stately validates and runs state-machine definitions locally.
//
//	stately validate <definition.json>
//	stately run <definition.json> [-input <json>] [-input-file <path>] [-history]
//	stately graph <definition.json>
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/statelyvm/stately/internal/diagram"
	"github.com/statelyvm/stately/internal/engine"
	"github.com/statelyvm/stately/internal/logging"
	"github.com/statelyvm/stately/internal/program"
	"github.com/statelyvm/stately/internal/scheduler"
	"github.com/statelyvm/stately/internal/store"
	"github.com/statelyvm/stately/internal/timers"
	"github.com/statelyvm/stately/internal/validation"
	"github.com/statelyvm/stately/pkg/asl"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "validate":
		os.Exit(cmdValidate(os.Args[2:]))
	case "run":
		os.Exit(cmdRun(os.Args[2:]))
	case "graph":
		os.Exit(cmdGraph(os.Args[2:]))
	case "schedule":
		os.Exit(cmdSchedule(os.Args[2:]))
	case "help", "-h", "--help":
		usage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  stately validate <definition.json>
  stately run <definition.json> [-input <json>] [-input-file <path>] [-history] [-timeout <dur>]
  stately graph <definition.json> [-title <name>]
  stately schedule <definition.json> -cron "<spec>" [-input <json>] [-input-file <path>] [-name <name>]`)
}

// cmdSchedule runs a definition on a cron schedule until interrupted.
func cmdSchedule(args []string) int {
	fs := flag.NewFlagSet("schedule", flag.ExitOnError)
	cronSpec := fs.String("cron", "", "five-field cron schedule, e.g. \"*/5 * * * *\"")
	name := fs.String("name", "", "schedule name (defaults to the definition file name)")
	inputJSON := fs.String("input", "", "input document as inline JSON")
	inputFile := fs.String("input-file", "", "path to a JSON input document")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 || *cronSpec == "" {
		usage()
		return 2
	}

	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	def, err := readDefinition(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	prog, err := program.Compile(def)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	input, err := readInput(*inputJSON, *inputFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if *name == "" {
		*name = fs.Arg(0)
	}

	registry := engine.NewRegistry()
	if err := engine.RegisterBuiltins(registry); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if err := registry.Register(engine.ResourceHTTP, engine.NewHTTPInvoker(engine.HTTPInvokerConfig{})); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	tm := timers.New()
	defer tm.Stop()
	itp := engine.New(registry, tm, engine.Config{
		PoolSize:              cfg.PoolSize,
		DefaultMapConcurrency: cfg.MapConcurrency,
		Logger:                logger,
	})
	defer itp.Shutdown()

	sched := scheduler.New(itp, logger)
	if err := sched.Register(scheduler.Entry{
		Name:    *name,
		Cron:    *cronSpec,
		Program: prog,
		Input:   input,
	}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if next, ok := sched.NextRun(*name); ok {
		logger.Info("schedule registered", "name", *name, "next_run", next.Format(time.RFC3339))
	}

	<-ctx.Done()
	if err := sched.Stop(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func cmdGraph(args []string) int {
	fs := flag.NewFlagSet("graph", flag.ExitOnError)
	title := fs.String("title", "", "diagram title (defaults to the definition's Comment)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		usage()
		return 2
	}

	def, err := readDefinition(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if err := validation.ValidateDefinition(def); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	fmt.Print(diagram.RenderMermaid(diagram.Build(*title, def)))
	return 0
}

func cmdValidate(args []string) int {
	if len(args) != 1 {
		usage()
		return 2
	}
	def, err := readDefinition(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	result := validation.Validate(def)
	for _, w := range result.Warnings {
		fmt.Printf("warning: %s: %s\n", w.Path, w.Message)
	}
	if !result.Valid() {
		for _, e := range result.Errors {
			fmt.Printf("error: %s: %s\n", e.Path, e.Message)
		}
		return 1
	}
	fmt.Println("definition is valid")
	return 0
}

func cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	inputJSON := fs.String("input", "", "input document as inline JSON")
	inputFile := fs.String("input-file", "", "path to a JSON input document")
	showHistory := fs.Bool("history", false, "print the execution history after completion")
	timeout := fs.Duration("timeout", 0, "overall run timeout (0 = definition's TimeoutSeconds only)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		usage()
		return 2
	}

	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	def, err := readDefinition(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	prog, err := program.Compile(def)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	input, err := readInput(*inputJSON, *inputFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	registry := engine.NewRegistry()
	if err := engine.RegisterBuiltins(registry); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if err := registry.Register(engine.ResourceHTTP, engine.NewHTTPInvoker(engine.HTTPInvokerConfig{})); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	tm := timers.New()
	defer tm.Stop()

	itp := engine.New(registry, tm, engine.Config{
		PoolSize:              cfg.PoolSize,
		DefaultMapConcurrency: cfg.MapConcurrency,
		Logger:                logger,
	})
	defer itp.Shutdown()

	var sinks []engine.HistorySink
	if cfg.DBPath != "" {
		db, err := openStore(cfg.DBPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		defer db.Close()
		sinks = append(sinks, store.Sink{Store: db})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	output, ex, runErr := itp.Run(ctx, prog, input, sinks...)

	if *showHistory && ex != nil {
		printHistory(ex.History())
	}

	if runErr != nil {
		fmt.Fprintln(os.Stderr, runErr)
		return 1
	}

	encoded, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println(string(encoded))
	return 0
}

func readDefinition(path string) (*asl.Definition, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	return asl.ParseDefinition(src)
}

func readInput(inline, path string) (any, error) {
	var src []byte
	switch {
	case inline != "" && path != "":
		return nil, fmt.Errorf("-input and -input-file are mutually exclusive")
	case inline != "":
		src = []byte(inline)
	case path != "":
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
		src = b
	default:
		return map[string]any{}, nil
	}

	var doc any
	if err := json.Unmarshal(src, &doc); err != nil {
		return nil, fmt.Errorf("input is not valid JSON: %w", err)
	}
	return doc, nil
}

func openStore(path string) (*store.LibSQLStore, error) {
	db, err := store.NewLibSQLStore("file:" + path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

func printHistory(events []*asl.HistoryEvent) {
	for _, ev := range events {
		line := fmt.Sprintf("%3d  %-22s %s", ev.Sequence, ev.Type, ev.Timestamp.Format(time.RFC3339))
		if ev.State != "" {
			line += "  state=" + ev.State
		}
		if ev.Error != nil {
			line += "  error=" + ev.Error.Name
		}
		fmt.Fprintln(os.Stderr, line)
	}
}
