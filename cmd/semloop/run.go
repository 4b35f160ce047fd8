package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/c360studio/semloop/breadcrumb"
	"github.com/c360studio/semloop/collab"
	"github.com/c360studio/semloop/events"
	"github.com/c360studio/semloop/orchestrator"
)

type runFlags struct {
	taskID      string
	phase       string
	complexity  string
	breadcrumb  string
	next        bool
	compileCmd  string
	failFirst   int
	failMessage string
	metricsAddr string
	natsURL     string
}

func runCmd(flags *globalFlags) *cobra.Command {
	rf := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run [description]",
		Short: "Run one task through the iteration loop",
		Long: `Run drives one task through exploration, reasoning, generation, review,
compilation and learning, retrying failed compilations within the adaptive budget.
The task is taken from the description argument, from --breadcrumb, or with --next
from the highest-priority ready breadcrumb.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			description := ""
			if len(args) == 1 {
				description = args[0]
			}
			return withApp(cmd, flags, func(ctx context.Context, a *App) error {
				return a.runTask(ctx, rf, description)
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&rf.taskID, "task-id", "", "Task identifier (default: breadcrumb location or a random ID)")
	f.StringVar(&rf.phase, "phase", "", "Phase the outcome is learned under (default: breadcrumb phase)")
	f.StringVar(&rf.complexity, "complexity", "", "LOW, MEDIUM, HIGH or CRITICAL (default: breadcrumb complexity)")
	f.StringVar(&rf.breadcrumb, "breadcrumb", "", "Breadcrumb location file:line to work on")
	f.BoolVar(&rf.next, "next", false, "Work on the highest-priority ready breadcrumb")
	f.StringVar(&rf.compileCmd, "compile-cmd", "", "Compiler command (overrides compiler.command)")
	f.IntVar(&rf.failFirst, "fail-first", 0, "Simulate a compiler that fails N times before succeeding")
	f.StringVar(&rf.failMessage, "fail-message", "undefined: placeholder", "Error reported by --fail-first")
	f.StringVar(&rf.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	f.StringVar(&rf.natsURL, "nats-url", "", "Publish iteration events to this NATS server")
	return cmd
}

func (a *App) runTask(ctx context.Context, rf *runFlags, description string) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, err := a.scan(ctx)
	if err != nil {
		return err
	}
	task, err := a.buildTask(g, rf, description)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics := orchestrator.NewMetrics(reg)
	addr := rf.metricsAddr
	if addr == "" {
		addr = a.cfg.Metrics.Addr
	}
	if addr != "" {
		stop := serveMetrics(addr, reg, a.logger)
		defer stop()
	}

	var sink events.Sink
	natsURL := rf.natsURL
	if natsURL == "" {
		natsURL = a.cfg.Events.NATSURL
	}
	if natsURL != "" {
		pub, err := events.DialNATS(natsURL, a.cfg.Events.Subject, a.logger)
		if err != nil {
			return err
		}
		defer pub.Close()
		sink = pub
	}

	orch, err := orchestrator.New(a.cfg, orchestrator.Dependencies{
		Collaborators: a.collaborators(g, rf),
		Graph:         orchestrator.StaticGraph(g),
		Errors:        a.errors,
		Reasoning:     a.reasoning,
		Learner:       a.learner,
		Sessions:      a.sessions,
		Events:        sink,
		Metrics:       metrics,
		Logger:        a.logger,
	})
	if err != nil {
		return err
	}
	if fileExists(orch.StatePath()) {
		if err := orch.LoadState(orch.StatePath()); err != nil {
			return err
		}
	}

	res := orch.Run(ctx, task)

	// Persist even when the run was interrupted.
	if err := orch.Persist(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}

	if a.flags.jsonOutput {
		if err := a.printJSON(res); err != nil {
			return err
		}
	} else {
		a.printResult(res)
	}
	if !res.Success {
		return fmt.Errorf("task %s ended in %s after %d retries", res.TaskID, res.FinalState, res.RetryCount)
	}
	return nil
}

func (a *App) buildTask(g *breadcrumb.Graph, rf *runFlags, description string) (orchestrator.Task, error) {
	task := orchestrator.Task{
		ID:          rf.taskID,
		Description: description,
		Phase:       rf.phase,
		Complexity:  strings.ToUpper(rf.complexity),
	}

	switch {
	case rf.breadcrumb != "":
		bc, err := g.Lookup(rf.breadcrumb)
		if err != nil {
			return task, err
		}
		task.Breadcrumb = bc
	case rf.next:
		ready := g.Ready(time.Now())
		if len(ready) == 0 {
			return task, errors.New("no ready breadcrumbs")
		}
		task.Breadcrumb = ready[0]
	}

	if bc := task.Breadcrumb; bc != nil {
		if task.ID == "" {
			task.ID = bc.Key().String()
		}
		if task.Description == "" {
			task.Description = fmt.Sprintf("implement %s at %s", bc.Phase, bc.Key())
		}
		task.Approach = bc.Strategy
	}
	if task.Description == "" {
		return task, errors.New("a description, --breadcrumb or --next is required")
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	return task, nil
}

func (a *App) collaborators(g *breadcrumb.Graph, rf *runFlags) orchestrator.Collaborators {
	var compiler orchestrator.Compiler
	command := a.cfg.Compiler.Command
	if rf.compileCmd != "" {
		command = strings.Fields(rf.compileCmd)
	}
	switch {
	case rf.failFirst > 0:
		compiler = collab.FailFirst(rf.failFirst, rf.failMessage)
	case len(command) > 0:
		compiler = &collab.CommandCompiler{
			Command: command,
			Dir:     a.cfg.Breadcrumbs.Root,
			Timeout: a.cfg.Compiler.Timeout,
		}
	default:
		compiler = &collab.ScriptedCompiler{}
	}

	return orchestrator.Collaborators{
		Explorer: collab.NewGlobExplorer(a.cfg.Breadcrumbs.Root, a.cfg.Breadcrumbs.Include,
			a.cfg.Breadcrumbs.Exclude, orchestrator.StaticGraph(g)),
		Reasoner:  collab.RuleReasoner{},
		Generator: collab.PlanGenerator{},
		Reviewer:  collab.PlanReviewer{},
		Compiler:  compiler,
	}
}

func (a *App) printResult(res *orchestrator.IterationResult) {
	status := "FAILED"
	if res.Success {
		status = "OK"
	}
	a.printf("Task %s: %s (%s)\n", res.TaskID, status, res.FinalState)
	a.printf("  iteration %d, retries %d/%d, %s\n", res.Iteration, res.RetryCount, res.RetryBudget,
		res.Duration.Round(time.Millisecond))
	if res.Strategy != "" {
		a.printf("  strategy: %s (confidence %.2f)\n", res.Strategy, res.Confidence)
	}
	for _, e := range res.Errors {
		a.printf("  error: %s\n", e)
	}
	for _, f := range res.PhaseFailures {
		a.printf("  phase failure: %s\n", f)
	}
	for _, n := range res.ReviewNotes {
		a.printf("  review: %s\n", n)
	}
}

// serveMetrics exposes reg on addr until the returned stop function is called.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("Serving metrics", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
