// ABOUTME: Request records flowing through the actor mailbox
// ABOUTME: Each carries a single-use buffered reply channel

package store

import "time"

type reqKind int

const (
	reqExecute reqKind = iota
	reqExecuteBatch
	reqQueryAll
	reqQueryOne
	reqQueryOptional
	reqQueryScalar
	reqTransaction
)

// name returns the request-type label used in metrics and errors.
func (k reqKind) name() string {
	switch k {
	case reqExecute:
		return "execute"
	case reqExecuteBatch:
		return "execute_batch"
	case reqQueryAll:
		return "query_all"
	case reqQueryOne:
		return "query_one"
	case reqQueryOptional:
		return "query_optional"
	case reqQueryScalar:
		return "query_scalar"
	case reqTransaction:
		return "transaction"
	}
	return "unknown"
}

// result is what the actor delivers into a reply slot. Exactly one field
// besides err is meaningful, depending on the request kind.
type result struct {
	affected int64
	rows     []Row
	row      *Row
	value    Value
	out      any
	err      error
}

// request is one unit of mailbox work. The reply channel has capacity one,
// so fulfilling it never blocks the actor even when the caller has already
// abandoned the call.
type request struct {
	kind     reqKind
	sql      string
	args     []Value
	batch    []Statement
	work     func(*Tx) (any, error)
	reply    chan result
	enqueued time.Time
}

func newRequest(kind reqKind) *request {
	return &request{
		kind:     kind,
		reply:    make(chan result, 1),
		enqueued: time.Now(),
	}
}

// respond fulfills the reply slot. Safe to call when nobody is waiting; the
// buffered slot absorbs the result and is garbage collected with the request.
func (r *request) respond(res result) {
	r.reply <- res
}
