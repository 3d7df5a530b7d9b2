// ABOUTME: Transaction-scoped sub-handle passed to units of work
// ABOUTME: Structurally invalidated when the unit of work returns

package store

import (
	"database/sql"
	"errors"
	"sync/atomic"
)

// errTxScope is the cause when a Tx escapes its unit of work.
var errTxScope = errors.New("transaction handle used outside its unit of work")

// Tx is the sub-handle a unit of work receives inside Transaction. It is
// valid only for the duration of that single invocation; the actor
// invalidates it before committing or rolling back, so a retained Tx fails
// every call instead of touching the store.
type Tx struct {
	tx      *sql.Tx
	expired atomic.Bool
}

func (t *Tx) invalidate() { t.expired.Store(true) }

func (t *Tx) guard(op string) error {
	if t.expired.Load() {
		return &Error{Class: ClassPermanent, Op: op, Err: errTxScope}
	}
	return nil
}

// Execute runs a statement inside the transaction.
func (t *Tx) Execute(sql string, args ...Value) (int64, error) {
	if err := t.guard("tx.execute"); err != nil {
		return 0, err
	}
	res, err := t.tx.Exec(sql, driverArgs(args)...)
	if err != nil {
		return 0, classify("tx.execute", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify("tx.execute", err)
	}
	return n, nil
}

// QueryAll returns every matching row inside the transaction.
func (t *Tx) QueryAll(sql string, args ...Value) ([]Row, error) {
	if err := t.guard("tx.query_all"); err != nil {
		return nil, err
	}
	rows, err := t.tx.Query(sql, driverArgs(args)...)
	if err != nil {
		return nil, classify("tx.query_all", err)
	}
	collected, err := collectRows(rows)
	if err != nil {
		return nil, classify("tx.query_all", err)
	}
	return collected, nil
}

// QueryOne returns exactly one row, or ErrNotFound.
func (t *Tx) QueryOne(sql string, args ...Value) (Row, error) {
	rows, err := t.QueryAll(sql, args...)
	if err != nil {
		return Row{}, err
	}
	if len(rows) == 0 {
		return Row{}, ErrNotFound
	}
	return rows[0], nil
}

// QueryOptional returns the first matching row, or nil for zero rows.
func (t *Tx) QueryOptional(sql string, args ...Value) (*Row, error) {
	rows, err := t.QueryAll(sql, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// QueryScalar returns the first column of the first row, or ErrNotFound.
func (t *Tx) QueryScalar(sql string, args ...Value) (Value, error) {
	row, err := t.QueryOne(sql, args...)
	if err != nil {
		return Value{}, err
	}
	if row.Len() == 0 {
		return Value{}, &Error{Class: ClassPermanent, Op: "tx.query_scalar", Err: errors.New("query returned no columns")}
	}
	return row.Index(0), nil
}
