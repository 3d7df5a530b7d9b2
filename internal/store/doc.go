// Package store exposes a single-writer embedded SQLite file through a
// non-blocking, back-pressured request/response boundary.
//
// # Architecture
//
// One Actor goroutine exclusively owns the physical connection. Callers hold
// Handle values, which are cheap references to the actor's bounded FIFO
// mailbox. Each call becomes a request record with a single-use reply slot;
// the actor drains the mailbox in strict arrival order, executes each request
// synchronously, and fulfills the slot with a typed result or a classified
// error. No two requests ever execute concurrently against the file.
//
// The two suspension points are the entire concurrency contract: a caller
// suspends while placing a request on a full mailbox, and while awaiting the
// reply. Abandoning a call never affects anyone else; the actor finishes the
// request and drops the unreachable reply.
//
// # Transactions
//
// Handle.Transaction invokes the unit of work inside the actor's own turn
// with a scope-limited Tx sub-handle. Atomicity comes from actor-level
// serialization as much as from store isolation: the actor does not advance
// to the next mailbox item until the transaction commits or rolls back.
// ExecuteBatch offers the same all-or-nothing guarantee for a flat statement
// list without a callback.
//
// # Error Handling
//
// Failures are classified into three classes:
//
//   - ClassTransient: lock contention, timeouts. Retryable by the caller;
//     the store never retries on its own.
//   - ClassPermanent: malformed statements, constraint violations.
//   - ClassTerminal: the actor is unavailable (shutdown or an unusable
//     connection). Every later call fails the same way.
//
// QueryOne and QueryScalar return bare ErrNotFound for zero rows;
// QueryOptional encodes absence as a nil row, never an error.
//
// # Shutdown
//
// Close is graceful by default: intake stops, the queue drains, the
// connection is released. ShutdownForced fails queued-but-unstarted requests
// with a cancellation error while the in-flight request finishes. An
// unrecoverable store error (file corruption, I/O loss) moves the actor to a
// terminal state with the same forced semantics. There is no automatic
// restart.
//
// # Ownership
//
// The actor is an explicitly constructed, explicitly owned component. The
// process that calls Open controls its lifecycle and distributes handles to
// collaborators at startup; nothing here is a hidden singleton.
package store
