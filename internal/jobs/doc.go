// Package jobs reconciles atomic job claiming with an append-only,
// audit-friendly write pattern over the store actor.
//
// Two tables share the file with different mutation disciplines:
//
//   - jobs: the mutable claim table (id, status, claim owner, claim time,
//     attempt count). Mutated only via conditional status transitions; a
//     claim is a single guarded UPDATE where exactly one concurrent attempt
//     wins and losers observe "already claimed" without side effects.
//   - job_events: the append-only audit log (monotonic event id, job id,
//     lifecycle type, bounded JSON payload, occurrence timestamp). Rows are
//     never updated; they are removed only by the explicit PruneEvents
//     sweep, and only for completed jobs past a cutoff.
//
// The derived JobState view groups events per job and reports the latest
// event as the effective status with first/last timestamps as created/updated
// times. It exists for display and audit only; claim decisions read and
// write the queue table exclusively.
//
// Event payloads are capped at a configurable serialized size
// (DefaultPayloadLimit). Emitters should group inserts with AppendEvents
// rather than issuing one row at a time.
package jobs
