// ABOUTME: Maintenance and inspection CLI for a quarry store file
// ABOUTME: Enqueues, claims, and finishes jobs; inspects events and metrics

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/quarrydb/quarry/internal/config"
	"github.com/quarrydb/quarry/internal/jobs"
	"github.com/quarrydb/quarry/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		printUsage()
		return
	}

	cfgPath := os.Getenv("QUARRY_CONFIG")
	if cfgPath == "" {
		cfgPath = "quarry.yaml"
	}

	if err := run(cfgPath, cmd, os.Args[2:]); err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath, cmd string, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	slog.SetDefault(setupLogger(cfg.Logging))

	mode, err := store.ParseShutdownMode(cfg.Actor.Shutdown)
	if err != nil {
		return err
	}

	actor, err := store.Open(cfg.Database.Path, store.Options{
		MailboxSize:    cfg.Actor.MailboxSize,
		RequestTimeout: cfg.Actor.RequestTimeout,
		ShutdownMode:   mode,
	})
	if err != nil {
		return err
	}
	defer actor.Close()

	handle := actor.Handle()
	queue := jobs.New(handle, jobs.Options{PayloadLimit: cfg.Jobs.PayloadLimit})

	ctx := context.Background()
	if err := queue.Init(ctx); err != nil {
		return err
	}

	switch cmd {
	case "enqueue":
		return cmdEnqueue(ctx, queue, args)
	case "claim":
		return cmdClaim(ctx, queue, args)
	case "start":
		return cmdStart(ctx, queue, args)
	case "progress":
		return cmdProgress(ctx, queue, args)
	case "complete":
		return cmdComplete(ctx, queue, args)
	case "fail":
		return cmdFail(ctx, queue, args)
	case "jobs":
		return cmdJobs(ctx, queue, args)
	case "events":
		return cmdEvents(ctx, queue, args)
	case "state":
		return cmdState(ctx, queue, args)
	case "states":
		return cmdStates(ctx, queue, args)
	case "stats":
		return cmdStats(ctx, queue, actor)
	case "prune":
		return cmdPrune(ctx, queue, cfg, args)
	case "exec":
		return cmdExec(ctx, handle, args)
	case "query":
		return cmdQuery(ctx, handle, args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
		return nil
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Println("quarryctl - maintenance tool for a quarry store file")
	fmt.Println()
	fmt.Println("Usage: quarryctl <command> [args]")
	fmt.Println()
	yellow.Println("Job commands:")
	fmt.Println("  enqueue [job-id]          Enqueue a job (generates an id if omitted)")
	fmt.Println("  claim <job-id> [owner]    Attempt the queued->running claim")
	fmt.Println("  start <job-id>            Record a started event")
	fmt.Println("  progress <job-id> <note>  Record a progress event")
	fmt.Println("  complete <job-id>         Mark a running job completed")
	fmt.Println("  fail <job-id> <summary>   Mark a running job failed")
	fmt.Println()
	yellow.Println("Inspection commands:")
	fmt.Println("  jobs [status]             List queue rows, optionally by status")
	fmt.Println("  events <job-id>           List a job's audit events")
	fmt.Println("  state <job-id>            Show the derived view for one job")
	fmt.Println("  states                    Show the derived view across jobs")
	fmt.Println("  stats                     Queue counts and request metrics")
	fmt.Println()
	yellow.Println("Maintenance commands:")
	fmt.Println("  prune [age]               Sweep events of completed jobs (default: retention_age)")
	fmt.Println("  exec <sql>                Run one statement")
	fmt.Println("  query <sql>               Run one query and print rows")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  QUARRY_CONFIG             Config file path (default: quarry.yaml)")
}

func cmdEnqueue(ctx context.Context, queue *jobs.Queue, args []string) error {
	id := ""
	if len(args) > 0 {
		id = args[0]
	}
	job, err := queue.Enqueue(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("enqueued %s\n", job.ID)
	return nil
}

func cmdClaim(ctx context.Context, queue *jobs.Queue, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: claim <job-id> [owner]")
	}
	owner := "quarryctl-" + uuid.NewString()[:8]
	if len(args) > 1 {
		owner = args[1]
	}
	claimed, err := queue.Claim(ctx, args[0], owner)
	if err != nil {
		return err
	}
	if !claimed {
		fmt.Printf("%s: already claimed or not queued\n", args[0])
		return nil
	}
	fmt.Printf("claimed %s as %s\n", args[0], owner)
	return nil
}

func cmdStart(ctx context.Context, queue *jobs.Queue, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: start <job-id>")
	}
	return queue.AppendEvent(ctx, args[0], jobs.EventStarted, nil, time.Time{})
}

func cmdProgress(ctx context.Context, queue *jobs.Queue, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: progress <job-id> <note>")
	}
	payload := map[string]any{"note": strings.Join(args[1:], " ")}
	return queue.AppendEvent(ctx, args[0], jobs.EventProgress, payload, time.Time{})
}

func cmdComplete(ctx context.Context, queue *jobs.Queue, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: complete <job-id>")
	}
	return queue.Complete(ctx, args[0], nil)
}

func cmdFail(ctx context.Context, queue *jobs.Queue, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: fail <job-id> <summary>")
	}
	return queue.Fail(ctx, args[0], strings.Join(args[1:], " "))
}

func cmdJobs(ctx context.Context, queue *jobs.Queue, args []string) error {
	var status jobs.Status
	if len(args) > 0 {
		status = jobs.Status(args[0])
	}
	list, err := queue.Jobs(ctx, status, 0)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tSTATUS\tOWNER\tATTEMPTS\tCREATED")
	for _, j := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			j.ID, j.Status, j.ClaimOwner, j.Attempts, j.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func cmdEvents(ctx context.Context, queue *jobs.Queue, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: events <job-id>")
	}
	events, err := queue.Events(ctx, args[0], 0)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tAT\tPAYLOAD")
	for _, ev := range events {
		payload := ""
		if len(ev.Payload) > 0 {
			payload = fmt.Sprintf("%v", ev.Payload)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
			ev.ID, ev.Type, ev.OccurredAt.Format(time.RFC3339Nano), payload)
	}
	return w.Flush()
}

func cmdState(ctx context.Context, queue *jobs.Queue, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: state <job-id>")
	}
	st, err := queue.State(ctx, args[0])
	if err != nil {
		return err
	}
	printStates([]jobs.JobState{*st})
	return nil
}

func cmdStates(ctx context.Context, queue *jobs.Queue, _ []string) error {
	states, err := queue.States(ctx, 0)
	if err != nil {
		return err
	}
	printStates(states)
	return nil
}

func printStates(states []jobs.JobState) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tSTATUS\tCREATED\tUPDATED\tDETAILS")
	for _, st := range states {
		details := ""
		if len(st.Details) > 0 {
			details = fmt.Sprintf("%v", st.Details)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			st.JobID, st.Status,
			st.CreatedAt.Format(time.RFC3339), st.UpdatedAt.Format(time.RFC3339), details)
	}
	w.Flush()
}

func cmdStats(ctx context.Context, queue *jobs.Queue, actor *store.Actor) error {
	stats, err := queue.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("jobs: %d total (%d queued, %d running, %d completed, %d failed)\n",
		stats.Total(), stats.Queued, stats.Running, stats.Completed, stats.Failed)
	fmt.Println()
	_, err = actor.Metrics().WriteTo(os.Stdout)
	return err
}

func cmdPrune(ctx context.Context, queue *jobs.Queue, cfg *config.Config, args []string) error {
	age := cfg.Jobs.RetentionAge
	if len(args) > 0 {
		parsed, err := time.ParseDuration(args[0])
		if err != nil {
			return fmt.Errorf("parsing age %q: %w", args[0], err)
		}
		age = parsed
	}
	if age <= 0 {
		return fmt.Errorf("no retention age configured; pass one (e.g. prune 168h)")
	}

	n, err := queue.PruneEvents(ctx, time.Now().Add(-age))
	if err != nil {
		return err
	}
	fmt.Printf("pruned %d events\n", n)
	return nil
}

func cmdExec(ctx context.Context, handle *store.Handle, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: exec <sql>")
	}
	n, err := handle.Execute(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Printf("%d rows affected\n", n)
	return nil
}

func cmdQuery(ctx context.Context, handle *store.Handle, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: query <sql>")
	}
	rows, err := handle.QueryAll(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("no rows")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(rows[0].Columns(), "\t"))
	for _, row := range rows {
		cells := make([]string, row.Len())
		for i := range cells {
			cells[i] = row.Index(i).String()
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	return w.Flush()
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
