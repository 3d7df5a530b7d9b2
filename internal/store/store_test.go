package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestActor creates a temporary store actor for testing.
func setupTestActor(t *testing.T, opts Options) *Actor {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	actor, err := Open(dbPath, opts)
	require.NoError(t, err)

	t.Cleanup(func() {
		actor.Close()
	})

	return actor
}

func createKV(t *testing.T, h *Handle) {
	t.Helper()
	_, err := h.Execute(context.Background(),
		`CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT NOT NULL)`)
	require.NoError(t, err)
}

func TestHandle_ExecuteAndQuery(t *testing.T) {
	actor := setupTestActor(t, Options{})
	h := actor.Handle()
	ctx := context.Background()
	createKV(t, h)

	n, err := h.Execute(ctx, `INSERT INTO kv (k, v) VALUES (?, ?)`, Text("greeting"), Text("hello"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	row, err := h.QueryOne(ctx, `SELECT k, v FROM kv WHERE k = ?`, Text("greeting"))
	require.NoError(t, err)

	v, ok := row.Value("v")
	require.True(t, ok)
	assert.Equal(t, "hello", v.String())
	assert.Equal(t, KindText, v.Kind())
}

func TestHandle_QueryAll_Order(t *testing.T) {
	actor := setupTestActor(t, Options{})
	h := actor.Handle()
	ctx := context.Background()
	createKV(t, h)

	for i, v := range []string{"first", "second", "third"} {
		_, err := h.Execute(ctx, `INSERT INTO kv (k, v) VALUES (?, ?)`,
			Text(fmt.Sprintf("k%d", i)), Text(v))
		require.NoError(t, err)
	}

	rows, err := h.QueryAll(ctx, `SELECT v FROM kv ORDER BY k`)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "first", rows[0].Index(0).String())
	assert.Equal(t, "second", rows[1].Index(0).String())
	assert.Equal(t, "third", rows[2].Index(0).String())
}

func TestHandle_QueryOne_NotFound(t *testing.T) {
	actor := setupTestActor(t, Options{})
	h := actor.Handle()
	createKV(t, h)

	_, err := h.QueryOne(context.Background(), `SELECT v FROM kv WHERE k = ?`, Text("missing"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHandle_QueryOptional_Absent(t *testing.T) {
	actor := setupTestActor(t, Options{})
	h := actor.Handle()
	ctx := context.Background()
	createKV(t, h)

	row, err := h.QueryOptional(ctx, `SELECT v FROM kv WHERE k = ?`, Text("missing"))
	require.NoError(t, err, "zero rows must not be an error")
	assert.Nil(t, row)

	_, err = h.Execute(ctx, `INSERT INTO kv (k, v) VALUES ('a', 'b')`)
	require.NoError(t, err)

	row, err = h.QueryOptional(ctx, `SELECT v FROM kv WHERE k = 'a'`)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "b", row.Index(0).String())
}

func TestHandle_QueryScalar(t *testing.T) {
	actor := setupTestActor(t, Options{})
	h := actor.Handle()
	ctx := context.Background()

	v, err := h.QueryScalar(ctx, `SELECT 41 + 1`)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.Int64())

	_, err = h.QueryScalar(ctx, `SELECT 1 WHERE 1 = 0`)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHandle_Execute_PermanentError(t *testing.T) {
	actor := setupTestActor(t, Options{})
	h := actor.Handle()

	_, err := h.Execute(context.Background(), `NOT VALID SQL`)
	require.Error(t, err)

	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ClassPermanent, se.Class)
	assert.False(t, se.Retryable())
}

func TestHandle_ErrorIsolatedPerRequest(t *testing.T) {
	actor := setupTestActor(t, Options{})
	h := actor.Handle()
	ctx := context.Background()

	_, err := h.Execute(ctx, `INSERT INTO no_such_table VALUES (1)`)
	require.Error(t, err)

	// The failure must not affect the actor's ability to serve.
	v, err := h.QueryScalar(ctx, `SELECT 7`)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v.Int64())
}

func TestValue_RoundTrip(t *testing.T) {
	actor := setupTestActor(t, Options{})
	h := actor.Handle()
	ctx := context.Background()

	_, err := h.Execute(ctx, `CREATE TABLE vals (i INTEGER, f REAL, s TEXT, b BLOB, n TEXT)`)
	require.NoError(t, err)

	_, err = h.Execute(ctx, `INSERT INTO vals (i, f, s, b, n) VALUES (?, ?, ?, ?, ?)`,
		Int(123), Float(1.5), Text("abc"), Blob([]byte{0x01, 0x02}), Null())
	require.NoError(t, err)

	row, err := h.QueryOne(ctx, `SELECT i, f, s, b, n FROM vals`)
	require.NoError(t, err)
	require.Equal(t, 5, row.Len())

	assert.Equal(t, KindInt, row.Index(0).Kind())
	assert.Equal(t, int64(123), row.Index(0).Int64())
	assert.Equal(t, KindFloat, row.Index(1).Kind())
	assert.InDelta(t, 1.5, row.Index(1).Float64(), 1e-9)
	assert.Equal(t, KindText, row.Index(2).Kind())
	assert.Equal(t, "abc", row.Index(2).String())
	assert.Equal(t, KindBlob, row.Index(3).Kind())
	assert.Equal(t, []byte{0x01, 0x02}, row.Index(3).Bytes())
	assert.True(t, row.Index(4).IsNull())
}

func TestValue_BoolAndTimeAffinity(t *testing.T) {
	actor := setupTestActor(t, Options{})
	h := actor.Handle()
	ctx := context.Background()

	_, err := h.Execute(ctx, `CREATE TABLE flags (b INTEGER, ts TEXT)`)
	require.NoError(t, err)

	when := time.Date(2026, 8, 30, 12, 30, 0, 0, time.UTC)
	_, err = h.Execute(ctx, `INSERT INTO flags (b, ts) VALUES (?, ?)`, Bool(true), Time(when))
	require.NoError(t, err)

	row, err := h.QueryOne(ctx, `SELECT b, ts FROM flags`)
	require.NoError(t, err)

	// SQLite has no bool or time affinity: booleans come back as integers,
	// timestamps as their RFC3339 text form.
	b := row.Index(0)
	assert.Equal(t, KindInt, b.Kind())
	assert.Equal(t, int64(1), b.Int64())

	ts := row.Index(1)
	assert.Equal(t, KindText, ts.Kind())
	assert.Equal(t, when.Format(time.RFC3339Nano), ts.String())
}

func TestValue_BlobCopied(t *testing.T) {
	src := []byte{1, 2, 3}
	v := Blob(src)
	src[0] = 9
	assert.Equal(t, []byte{1, 2, 3}, v.Bytes(), "blob values must copy their input")
}

func TestRow_ValueByName(t *testing.T) {
	actor := setupTestActor(t, Options{})
	h := actor.Handle()

	row, err := h.QueryOne(context.Background(), `SELECT 1 AS a, 'x' AS b`)
	require.NoError(t, err)

	a, ok := row.Value("a")
	require.True(t, ok)
	assert.Equal(t, int64(1), a.Int64())

	_, ok = row.Value("nope")
	assert.False(t, ok)
	assert.Equal(t, []string{"a", "b"}, row.Columns())
}

func TestHandle_ExecuteBatch_Atomic(t *testing.T) {
	actor := setupTestActor(t, Options{})
	h := actor.Handle()
	ctx := context.Background()
	createKV(t, h)

	stmts := make([]Statement, 0, 6)
	for i := 0; i < 5; i++ {
		stmts = append(stmts, Statement{
			SQL:  `INSERT INTO kv (k, v) VALUES (?, ?)`,
			Args: []Value{Text(fmt.Sprintf("k%d", i)), Text("v")},
		})
	}
	stmts = append(stmts, Statement{SQL: `INSERT INTO missing_table VALUES (1)`})

	_, err := h.ExecuteBatch(ctx, stmts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statement 6")

	// All-or-nothing: none of the five valid inserts survive.
	count, err := h.QueryScalar(ctx, `SELECT COUNT(*) FROM kv`)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count.Int64())
}

func TestHandle_ExecuteBatch_Success(t *testing.T) {
	actor := setupTestActor(t, Options{})
	h := actor.Handle()
	ctx := context.Background()
	createKV(t, h)

	stmts := []Statement{
		{SQL: `INSERT INTO kv (k, v) VALUES ('a', '1')`},
		{SQL: `INSERT INTO kv (k, v) VALUES ('b', '2')`},
		{SQL: `UPDATE kv SET v = '3' WHERE k = 'a'`},
	}
	n, err := h.ExecuteBatch(ctx, stmts)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestTransaction_Commit(t *testing.T) {
	actor := setupTestActor(t, Options{})
	h := actor.Handle()
	ctx := context.Background()
	createKV(t, h)

	out, err := h.Transaction(ctx, func(tx *Tx) (any, error) {
		if _, err := tx.Execute(`INSERT INTO kv (k, v) VALUES ('a', '1')`); err != nil {
			return nil, err
		}
		return tx.QueryScalar(`SELECT COUNT(*) FROM kv`)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.(Value).Int64())

	count, err := h.QueryScalar(ctx, `SELECT COUNT(*) FROM kv`)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count.Int64())
}

func TestTransaction_RollbackOnError(t *testing.T) {
	actor := setupTestActor(t, Options{})
	h := actor.Handle()
	ctx := context.Background()
	createKV(t, h)

	wantErr := fmt.Errorf("business rule violated")
	_, err := h.Transaction(ctx, func(tx *Tx) (any, error) {
		if _, err := tx.Execute(`INSERT INTO kv (k, v) VALUES ('a', '1')`); err != nil {
			return nil, err
		}
		return nil, wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	count, err := h.QueryScalar(ctx, `SELECT COUNT(*) FROM kv`)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count.Int64(), "rollback must undo the insert")
}

func TestTransaction_PanicRollsBack(t *testing.T) {
	actor := setupTestActor(t, Options{})
	h := actor.Handle()
	ctx := context.Background()
	createKV(t, h)

	_, err := h.Transaction(ctx, func(tx *Tx) (any, error) {
		_, _ = tx.Execute(`INSERT INTO kv (k, v) VALUES ('a', '1')`)
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	// Actor survives and the insert is gone.
	count, err := h.QueryScalar(ctx, `SELECT COUNT(*) FROM kv`)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count.Int64())
}

func TestTransaction_HandleCannotEscape(t *testing.T) {
	actor := setupTestActor(t, Options{})
	h := actor.Handle()
	ctx := context.Background()
	createKV(t, h)

	var leaked *Tx
	_, err := h.Transaction(ctx, func(tx *Tx) (any, error) {
		leaked = tx
		return nil, nil
	})
	require.NoError(t, err)

	_, err = leaked.Execute(`INSERT INTO kv (k, v) VALUES ('a', '1')`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside its unit of work")

	_, err = leaked.QueryAll(`SELECT 1`)
	require.Error(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"locked", fmt.Errorf("database is locked (5) (SQLITE_BUSY)"), ClassTransient},
		{"timeout", context.DeadlineExceeded, ClassTransient},
		{"syntax", fmt.Errorf(`near "NOT": syntax error`), ClassPermanent},
		{"constraint", fmt.Errorf("UNIQUE constraint failed: kv.k"), ClassPermanent},
		{"corrupt", fmt.Errorf("database disk image is malformed (11)"), ClassTerminal},
		{"io", fmt.Errorf("disk I/O error (10)"), ClassTerminal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("test", tt.err)
			var se *Error
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.want, se.Class)
		})
	}
}

func TestClassify_Nil(t *testing.T) {
	assert.NoError(t, classify("test", nil))
}

func TestMetricsSnapshot(t *testing.T) {
	actor := setupTestActor(t, Options{})
	h := actor.Handle()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.QueryScalar(ctx, `SELECT 1`)
		require.NoError(t, err)
	}
	_, err := h.Execute(ctx, `NOT VALID SQL`)
	require.Error(t, err)

	snap := actor.Metrics()
	text := snap.String()
	assert.Contains(t, text, `quarry_requests_total{type="query_scalar",outcome="ok"} 3`)
	assert.Contains(t, text, `quarry_requests_total{type="execute",outcome="error"} 1`)
	assert.Contains(t, text, "quarry_mailbox_depth 0")

	assert.False(t, snap.Taken.IsZero())
	assert.GreaterOrEqual(t, snap.Uptime, time.Duration(0))
}
