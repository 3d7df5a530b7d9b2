// ABOUTME: Caller-facing handle submitting requests and awaiting replies
// ABOUTME: Cheap to duplicate; every copy shares the actor's mailbox

package store

import "context"

// Handle is the only caller-facing surface of the store. Many independent
// collaborators can hold one without coordination; a handle is a thin
// reference to the actor's mailbox.
//
// Every call suspends at most twice: while placing the request on a full
// mailbox (backpressure) and while awaiting the reply. Both suspensions
// respect the caller's context and the configured per-request timeout. A
// caller that stops waiting abandons the call; the actor still finishes the
// request and discards the unreachable reply.
type Handle struct {
	a *Actor
}

// call submits a request and awaits its reply under the per-request timeout.
func (h *Handle) call(ctx context.Context, req *request) result {
	if h.a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.a.timeout)
		defer cancel()
	}
	if err := h.a.submit(ctx, req); err != nil {
		return result{err: err}
	}
	select {
	case res := <-req.reply:
		return res
	case <-ctx.Done():
		return result{err: classify(req.kind.name(), ctx.Err())}
	}
}

// Execute runs a single statement and returns the affected row count.
func (h *Handle) Execute(ctx context.Context, sql string, args ...Value) (int64, error) {
	req := newRequest(reqExecute)
	req.sql = sql
	req.args = args
	res := h.call(ctx, req)
	return res.affected, res.err
}

// ExecuteBatch applies the statements all-or-nothing in one store
// transaction and returns the total affected row count. One failing
// statement aborts the entire batch with a single combined error.
func (h *Handle) ExecuteBatch(ctx context.Context, stmts []Statement) (int64, error) {
	req := newRequest(reqExecuteBatch)
	req.batch = stmts
	res := h.call(ctx, req)
	return res.affected, res.err
}

// QueryAll returns every matching row in result order.
func (h *Handle) QueryAll(ctx context.Context, sql string, args ...Value) ([]Row, error) {
	req := newRequest(reqQueryAll)
	req.sql = sql
	req.args = args
	res := h.call(ctx, req)
	return res.rows, res.err
}

// QueryOne returns exactly one row, or ErrNotFound when nothing matches.
func (h *Handle) QueryOne(ctx context.Context, sql string, args ...Value) (Row, error) {
	req := newRequest(reqQueryOne)
	req.sql = sql
	req.args = args
	res := h.call(ctx, req)
	if res.err != nil {
		return Row{}, res.err
	}
	return *res.row, nil
}

// QueryOptional returns the first matching row, or nil when nothing matches.
// Zero rows is never an error here.
func (h *Handle) QueryOptional(ctx context.Context, sql string, args ...Value) (*Row, error) {
	req := newRequest(reqQueryOptional)
	req.sql = sql
	req.args = args
	res := h.call(ctx, req)
	return res.row, res.err
}

// QueryScalar returns the first column of the first row, or ErrNotFound.
func (h *Handle) QueryScalar(ctx context.Context, sql string, args ...Value) (Value, error) {
	req := newRequest(reqQueryScalar)
	req.sql = sql
	req.args = args
	res := h.call(ctx, req)
	return res.value, res.err
}

// Transaction runs the unit of work atomically inside the actor's turn.
// The Tx passed to work is valid only for that single invocation; the
// transaction commits when work returns nil and rolls back otherwise.
func (h *Handle) Transaction(ctx context.Context, work func(*Tx) (any, error)) (any, error) {
	req := newRequest(reqTransaction)
	req.work = work
	res := h.call(ctx, req)
	return res.out, res.err
}
