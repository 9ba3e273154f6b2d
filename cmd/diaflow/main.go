package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/diaflow/diaflow/common/bootstrap"
	"github.com/diaflow/diaflow/compiler"
	"github.com/diaflow/diaflow/domain"
	"github.com/diaflow/diaflow/engine"
	"github.com/diaflow/diaflow/scheduler"
	"github.com/diaflow/diaflow/store"
)

// Exit codes
const (
	exitOK         = 0
	exitUsage      = 1
	exitValidation = 2
	exitFailed     = 3
	exitAborted    = 4
	exitTimedOut   = 5
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitUsage)
	}

	switch os.Args[1] {
	case "run":
		os.Exit(runCmd(os.Args[2:]))
	case "check":
		os.Exit(checkCmd(os.Args[2:]))
	case "replay":
		os.Exit(replayCmd(os.Args[2:]))
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(exitUsage)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: diaflow <command> [flags]

commands:
  run      execute a diagram to completion
  check    compile a diagram and report validation issues
  replay   reconstruct final state from a dumped event log`)
}

type varFlags map[string]interface{}

func (v varFlags) String() string { return "" }

func (v varFlags) Set(s string) error {
	key, value, found := strings.Cut(s, "=")
	if !found || key == "" {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	// Values that parse as JSON keep their type; everything else is a string
	var parsed interface{}
	if err := json.Unmarshal([]byte(value), &parsed); err == nil {
		v[key] = parsed
	} else {
		v[key] = value
	}
	return nil
}

func runCmd(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	file := fs.String("f", "", "diagram file (required)")
	debug := fs.Bool("debug", false, "emit node_running events with resolved inputs")
	timeout := fs.Int("timeout", 0, "whole-execution timeout in seconds, 0 = none")
	maxParallel := fs.Int("max-parallel", 0, "max nodes dispatched per step")
	eventsOut := fs.String("events-out", "", "write the event log to this file as JSON")
	quiet := fs.Bool("quiet", false, "suppress per-event output")
	vars := make(varFlags)
	fs.Var(vars, "var", "execution variable key=value (repeatable)")
	fs.Parse(args)

	if *file == "" {
		fmt.Fprintln(os.Stderr, "run: -f diagram file is required")
		return exitUsage
	}

	ctx := context.Background()
	components, err := bootstrap.Setup(ctx, "diaflow")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize: %v\n", err)
		return exitUsage
	}
	defer components.Shutdown(ctx)

	diagram, err := engine.LoadDiagram(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitValidation
	}

	opts := &scheduler.Options{
		DebugMode:        *debug || components.Config.Engine.DebugMode,
		MaxIterations:    components.Config.Engine.MaxIterations,
		TimeoutSeconds:   *timeout,
		MaxParallelNodes: components.Config.Engine.MaxParallelNodes,
		PollInterval:     components.Config.Engine.PollInterval,
		MaxPollRetries:   components.Config.Engine.MaxPollRetries,
		Variables:        vars,
	}
	if opts.TimeoutSeconds == 0 {
		opts.TimeoutSeconds = components.Config.Engine.TimeoutSeconds
	}
	if *maxParallel > 0 {
		opts.MaxParallelNodes = *maxParallel
	}

	executionID, err := components.Engine.Start(ctx, diagram, opts)
	if err != nil {
		printCompileError(err)
		return exitValidation
	}

	// First interrupt asks the scheduler to abort; a second one gives up
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		components.Logger.Warn("interrupt received, aborting execution")
		components.Engine.Control(domain.ControlMessage{
			Kind:        domain.ControlAbort,
			ExecutionID: executionID,
		})
		<-sigs
		os.Exit(exitAborted)
	}()

	sub := components.Engine.Subscribe(executionID)
	go func() {
		for ev := range sub.Events() {
			if *quiet {
				continue
			}
			printEvent(ev)
		}
	}()

	final, runErr := components.Engine.Wait(ctx, executionID)

	if *eventsOut != "" {
		if err := dumpEvents(ctx, components.Engine, executionID, *eventsOut); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write event log: %v\n", err)
		}
	}

	if final != nil {
		printSummary(final)
	}
	return exitCode(final, runErr)
}

func checkCmd(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	file := fs.String("f", "", "diagram file (required)")
	fs.Parse(args)

	if *file == "" {
		fmt.Fprintln(os.Stderr, "check: -f diagram file is required")
		return exitUsage
	}

	diagram, err := engine.LoadDiagram(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitValidation
	}

	compiled, issues, err := compiler.Compile(diagram)
	for _, issue := range issues {
		fmt.Printf("%s: %s\n", issue.Severity, issue.Message)
	}
	if err != nil {
		return exitValidation
	}

	fmt.Printf("ok: %d nodes, %d edges, %d levels\n",
		len(compiled.Nodes), len(compiled.Edges), len(compiled.Levels))
	return exitOK
}

func replayCmd(args []string) int {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	file := fs.String("f", "", "event log file (required)")
	fs.Parse(args)

	if *file == "" {
		fmt.Fprintln(os.Stderr, "replay: -f event log file is required")
		return exitUsage
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitUsage
	}
	var events []*domain.Event
	if err := json.Unmarshal(raw, &events); err != nil {
		fmt.Fprintf(os.Stderr, "decode event log: %v\n", err)
		return exitValidation
	}

	state, err := store.Replay(events)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitFailed
	}

	out, _ := json.MarshalIndent(state, "", "  ")
	fmt.Println(string(out))
	return exitOK
}

func printCompileError(err error) {
	var issues compiler.Issues
	if errors.As(err, &issues) {
		for _, issue := range issues {
			fmt.Fprintf(os.Stderr, "%s: %s\n", issue.Severity, issue.Message)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "%v\n", err)
}

func printEvent(ev *domain.Event) {
	switch ev.Type {
	case domain.EventStateChanged, domain.EventStepComplete:
		return // too chatty for the console
	}
	line := fmt.Sprintf("[%s] %s", ev.Timestamp.Format("15:04:05.000"), ev.Type)
	if ev.NodeID != "" {
		line += " " + string(ev.NodeID)
	}
	if ev.Type == domain.EventNodeFailed || ev.Type == domain.EventWarning {
		if msg, ok := ev.Data["error"].(string); ok {
			line += ": " + msg
		}
	}
	if ev.Type == domain.EventInteractivePrompt {
		if prompt, ok := ev.Data["prompt"].(string); ok {
			line += ": " + prompt
		}
	}
	fmt.Println(line)
}

func printSummary(state *domain.ExecutionState) {
	fmt.Printf("\nexecution %s: %s\n", state.ID, state.Status)
	if state.Error != "" {
		fmt.Printf("error: %s\n", state.Error)
	}
	if state.TokenUsage.Input > 0 || state.TokenUsage.Output > 0 {
		fmt.Printf("tokens: %d in / %d out / %d cached\n",
			state.TokenUsage.Input, state.TokenUsage.Output, state.TokenUsage.Cached)
	}
	for _, id := range sortedNodeIDs(state) {
		ns := state.NodeStates[id]
		fmt.Printf("  %-24s %-16s runs=%d\n", id, ns.Status, ns.ExecCount)
	}
}

func sortedNodeIDs(state *domain.ExecutionState) []domain.NodeID {
	ids := make([]domain.NodeID, 0, len(state.NodeStates))
	for id := range state.NodeStates {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j] < ids[j-1]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
	return ids
}

func dumpEvents(ctx context.Context, eng *engine.Engine, executionID domain.ExecutionID, path string) error {
	events, err := eng.Events(ctx, executionID, 0)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

func exitCode(state *domain.ExecutionState, err error) int {
	if state != nil {
		switch state.Status {
		case domain.ExecutionCompleted:
			return exitOK
		case domain.ExecutionAborted:
			return exitAborted
		}
	}
	if err != nil {
		switch domain.KindOf(err) {
		case domain.ErrTimedOut:
			return exitTimedOut
		case domain.ErrCancelled:
			return exitAborted
		case domain.ErrValidation, domain.ErrHandleResolution, domain.ErrDependencyCycle:
			return exitValidation
		}
	}
	return exitFailed
}
