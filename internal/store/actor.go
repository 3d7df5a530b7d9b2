// ABOUTME: Actor goroutine exclusively owning the SQLite connection
// ABOUTME: Drains a bounded FIFO mailbox and fulfills one reply per request

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/quarrydb/quarry/internal/metrics"
)

// ShutdownMode selects how Close treats requests still in the mailbox.
type ShutdownMode int

const (
	// ShutdownGraceful stops accepting new requests, finishes everything
	// already queued, then releases the connection.
	ShutdownGraceful ShutdownMode = iota
	// ShutdownForced fails queued-but-unstarted requests with a cancellation
	// error. A request already executing always runs to completion.
	ShutdownForced
)

// ParseShutdownMode maps the config strings "graceful" and "forced".
func ParseShutdownMode(s string) (ShutdownMode, error) {
	switch s {
	case "", "graceful":
		return ShutdownGraceful, nil
	case "forced":
		return ShutdownForced, nil
	default:
		return ShutdownGraceful, fmt.Errorf("unknown shutdown mode %q", s)
	}
}

// Options configures an Actor.
type Options struct {
	// MailboxSize bounds the pending-request queue. Submissions beyond it
	// suspend the caller. Defaults to 64.
	MailboxSize int
	// RequestTimeout bounds each call from submission to reply. Zero means
	// no timeout beyond the caller's context.
	RequestTimeout time.Duration
	// ShutdownMode is applied by Close. Defaults to graceful.
	ShutdownMode ShutdownMode
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Actor is the sole owner of the physical store connection. Every operation
// against the file funnels through its mailbox and executes on its goroutine,
// one request at a time, in strict arrival order.
type Actor struct {
	db        *sql.DB
	logger    *slog.Logger
	collector *metrics.Collector
	timeout   time.Duration
	mode      ShutdownMode

	reqs    chan *request
	closing chan struct{}
	done    chan struct{}

	mu      sync.Mutex
	closed  bool
	termErr error

	submitters sync.WaitGroup
	aborted    atomic.Bool
}

// Open opens (creating if needed) the store file at path and starts the
// actor goroutine. Parent directories are created. The underlying pool is
// pinned to a single connection so the single-writer discipline holds at the
// database/sql layer too.
func Open(path string, opts Options) (*Actor, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	if opts.MailboxSize <= 0 {
		opts.MailboxSize = 64
	}

	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	a := &Actor{
		db:        db,
		logger:    logger,
		collector: metrics.NewCollector(),
		timeout:   opts.RequestTimeout,
		mode:      opts.ShutdownMode,
		reqs:      make(chan *request, opts.MailboxSize),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}

	go a.run()

	logger.Info("store actor started", "path", path, "mailbox_size", opts.MailboxSize)
	return a, nil
}

// Handle returns a caller-facing handle. Handles are cheap; every copy
// shares the same mailbox and may be held by independent collaborators.
func (a *Actor) Handle() *Handle { return &Handle{a: a} }

// QueueDepth returns the number of requests currently waiting in the mailbox.
func (a *Actor) QueueDepth() int { return len(a.reqs) }

// Metrics returns a point-in-time snapshot of request instrumentation.
func (a *Actor) Metrics() metrics.Snapshot {
	snap := a.collector.Snapshot()
	snap.QueueDepth = len(a.reqs)
	return snap
}

// Close shuts the actor down using the configured mode and blocks until the
// connection is released. Safe to call more than once.
func (a *Actor) Close() error {
	a.shutdown(a.mode == ShutdownForced)
	return nil
}

// shutdown stops intake, waits for in-flight submissions to land, then lets
// the run loop drain the mailbox and release the connection.
func (a *Actor) shutdown(force bool) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return
	}
	a.closed = true
	a.mu.Unlock()

	if force {
		a.aborted.Store(true)
	}
	close(a.closing)
	a.submitters.Wait()
	close(a.reqs)
	<-a.done
}

// fail records an unrecoverable connection error and moves the actor to its
// terminal state. Everything still queued fails with the terminal error.
func (a *Actor) fail(cause error) {
	a.mu.Lock()
	if a.termErr == nil {
		a.termErr = cause
	}
	a.mu.Unlock()
	a.aborted.Store(true)
	a.logger.Error("store connection unusable, entering terminal state", "error", cause)
	go a.shutdown(true)
}

func (a *Actor) terminalCause() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.termErr
}

// submit places a request on the mailbox, suspending the caller while it is
// full. It fails immediately with a terminal error once the actor is closed.
func (a *Actor) submit(ctx context.Context, req *request) error {
	a.mu.Lock()
	if a.closed {
		cause := a.termErr
		a.mu.Unlock()
		if cause == nil {
			cause = ErrShutdown
		}
		return terminalError(req.kind.name(), cause)
	}
	a.submitters.Add(1)
	a.mu.Unlock()
	defer a.submitters.Done()

	select {
	case a.reqs <- req:
		return nil
	case <-a.closing:
		cause := a.terminalCause()
		if cause == nil {
			cause = ErrShutdown
		}
		return terminalError(req.kind.name(), cause)
	case <-ctx.Done():
		return classify(req.kind.name(), ctx.Err())
	}
}

// run is the actor goroutine. It exits once the mailbox is closed and
// drained, then releases the connection.
func (a *Actor) run() {
	for req := range a.reqs {
		a.process(req)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("closing database", "error", err)
	}
	a.logger.Info("store actor stopped")
	close(a.done)
}

// process executes one request and fulfills its reply slot exactly once.
// A failure is isolated to this request unless it is terminal, in which case
// the actor stops serving.
func (a *Actor) process(req *request) {
	queueWait := time.Since(req.enqueued)
	name := req.kind.name()

	if a.aborted.Load() {
		cause := a.terminalCause()
		var err error
		outcome := metrics.OutcomeCanceled
		if cause != nil {
			err = terminalError(name, cause)
			outcome = metrics.OutcomeShutdown
		} else {
			err = &Error{Class: ClassTerminal, Op: name, Err: ErrCanceled}
		}
		req.respond(result{err: err})
		a.collector.Observe(name, outcome, queueWait, 0, len(req.batch))
		return
	}

	start := time.Now()
	res := a.execute(req)
	elapsed := time.Since(start)

	if IsTerminal(res.err) {
		a.fail(errors.Unwrap(res.err))
	}

	req.respond(res)

	outcome := metrics.OutcomeOK
	if res.err != nil {
		outcome = metrics.OutcomeError
	}
	a.collector.Observe(name, outcome, queueWait, elapsed, len(req.batch))

	if res.err != nil && !errors.Is(res.err, ErrNotFound) {
		a.logger.Debug("request failed", "type", name, "error", res.err)
	}
}

// execute runs a request's store-level work synchronously on the actor
// goroutine. Deliberately no caller context here: once accepted, a request
// always runs to completion or rollback regardless of caller interest.
func (a *Actor) execute(req *request) result {
	switch req.kind {
	case reqExecute:
		return a.runExecute(req)
	case reqExecuteBatch:
		return a.runBatch(req)
	case reqQueryAll, reqQueryOne, reqQueryOptional, reqQueryScalar:
		return a.runQuery(req)
	case reqTransaction:
		return a.runTransaction(req)
	}
	return result{err: &Error{Class: ClassPermanent, Op: "unknown", Err: fmt.Errorf("unknown request kind %d", req.kind)}}
}

func (a *Actor) runExecute(req *request) result {
	res, err := a.db.Exec(req.sql, driverArgs(req.args)...)
	if err != nil {
		return result{err: classify("execute", err)}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return result{err: classify("execute", err)}
	}
	return result{affected: n}
}

// runBatch applies a flat statement list inside one store transaction.
// One failing statement aborts the whole batch; nothing partial survives.
func (a *Actor) runBatch(req *request) result {
	tx, err := a.db.Begin()
	if err != nil {
		return result{err: classify("execute_batch", err)}
	}
	var total int64
	for i, stmt := range req.batch {
		res, err := tx.Exec(stmt.SQL, driverArgs(stmt.Args)...)
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				a.logger.Warn("batch rollback failed", "error", rbErr)
			}
			return result{err: classify("execute_batch",
				fmt.Errorf("statement %d of %d (%s): %w", i+1, len(req.batch), stmt.SQL, err))}
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}
	if err := tx.Commit(); err != nil {
		return result{err: classify("execute_batch", err)}
	}
	return result{affected: total}
}

func (a *Actor) runQuery(req *request) result {
	name := req.kind.name()
	rows, err := a.db.Query(req.sql, driverArgs(req.args)...)
	if err != nil {
		return result{err: classify(name, err)}
	}
	collected, err := collectRows(rows)
	if err != nil {
		return result{err: classify(name, err)}
	}

	switch req.kind {
	case reqQueryAll:
		return result{rows: collected}
	case reqQueryOne:
		if len(collected) == 0 {
			return result{err: ErrNotFound}
		}
		return result{row: &collected[0]}
	case reqQueryOptional:
		if len(collected) == 0 {
			return result{}
		}
		return result{row: &collected[0]}
	case reqQueryScalar:
		if len(collected) == 0 {
			return result{err: ErrNotFound}
		}
		if collected[0].Len() == 0 {
			return result{err: &Error{Class: ClassPermanent, Op: name, Err: errors.New("query returned no columns")}}
		}
		return result{value: collected[0].Index(0)}
	}
	return result{rows: collected}
}

// runTransaction gives the unit of work exclusive atomic access. The whole
// sequence runs without yielding back to the mailbox, so no other request
// can interleave statements inside the open transaction.
func (a *Actor) runTransaction(req *request) result {
	tx, err := a.db.Begin()
	if err != nil {
		return result{err: classify("transaction", err)}
	}

	t := &Tx{tx: tx}
	var out any
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = &Error{Class: ClassPermanent, Op: "transaction", Err: fmt.Errorf("unit of work panicked: %v", p)}
			}
		}()
		out, err = req.work(t)
	}()
	t.invalidate()

	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			a.logger.Warn("transaction rollback failed", "error", rbErr)
		}
		return result{err: err}
	}
	if err := tx.Commit(); err != nil {
		return result{err: classify("transaction", err)}
	}
	return result{out: out}
}

// collectRows scans an entire result set into Rows. Column name slices are
// shared across the rows of one result.
func collectRows(rows *sql.Rows) ([]Row, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}

	var out []Row
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		vals := make([]Value, len(cols))
		for i, cell := range raw {
			v, err := fromDriver(cell)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", cols[i], err)
			}
			vals[i] = v
		}
		out = append(out, Row{cols: cols, vals: vals})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return out, nil
}
