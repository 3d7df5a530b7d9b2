// ABOUTME: Tagged scalar Value type and ordered Row result type
// ABOUTME: Converts between quarry values and database/sql driver values

package store

import (
	"fmt"
	"time"
)

// Kind identifies the scalar type carried by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindText
	KindBlob
	KindBool
	KindTime
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindText:
		return "text"
	case KindBlob:
		return "blob"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is an immutable tagged scalar. Values are copied into requests by
// value; blob contents are copied on construction so callers cannot mutate
// a value after submitting it.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    []byte
	t    time.Time
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// Int returns an integer value.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Float returns a floating point value.
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

// Text returns a text value.
func Text(v string) Value { return Value{kind: KindText, s: v} }

// Blob returns a binary value. The input bytes are copied.
func Blob(v []byte) Value {
	b := make([]byte, len(v))
	copy(b, v)
	return Value{kind: KindBlob, b: b}
}

// Bool returns a boolean value. SQLite has no boolean affinity, so a stored
// bool reads back as KindInt (0 or 1).
func Bool(v bool) Value {
	var i int64
	if v {
		i = 1
	}
	return Value{kind: KindBool, i: i}
}

// Time returns a timestamp value. Stored as RFC3339 text, so it reads back
// as KindText.
func Time(v time.Time) Value { return Value{kind: KindTime, t: v} }

// Kind reports the scalar type of the value.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Int64 returns the integer content. It is zero for non-integer values.
func (v Value) Int64() int64 { return v.i }

// Float64 returns the floating point content, converting from an integer
// value if needed. It is zero for other kinds.
func (v Value) Float64() float64 {
	if v.kind == KindInt {
		return float64(v.i)
	}
	return v.f
}

// String returns the text content for text values and a display rendering
// for everything else.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindText:
		return v.s
	case KindBlob:
		return fmt.Sprintf("blob(%d bytes)", len(v.b))
	case KindBool:
		if v.i != 0 {
			return "true"
		}
		return "false"
	case KindTime:
		return v.t.UTC().Format(time.RFC3339Nano)
	}
	return ""
}

// Bytes returns the binary content. The returned slice is a copy.
func (v Value) Bytes() []byte {
	b := make([]byte, len(v.b))
	copy(b, v.b)
	return b
}

// BoolVal returns the boolean content. It is false for non-boolean values.
func (v Value) BoolVal() bool { return v.kind == KindBool && v.i != 0 }

// TimeVal returns the timestamp content. It is the zero time for other kinds.
func (v Value) TimeVal() time.Time { return v.t }

// driverArg converts a value into the form database/sql expects.
func (v Value) driverArg() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindText:
		return v.s
	case KindBlob:
		return v.b
	case KindBool:
		return v.i != 0
	case KindTime:
		return v.t.UTC().Format(time.RFC3339Nano)
	}
	return nil
}

// driverArgs converts an ordered parameter list for database/sql.
func driverArgs(args []Value) []any {
	if len(args) == 0 {
		return nil
	}
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a.driverArg()
	}
	return out
}

// fromDriver builds a Value from a scanned database/sql result cell.
func fromDriver(src any) (Value, error) {
	switch v := src.(type) {
	case nil:
		return Null(), nil
	case int64:
		return Int(v), nil
	case float64:
		return Float(v), nil
	case string:
		return Text(v), nil
	case []byte:
		return Blob(v), nil
	case bool:
		return Bool(v), nil
	case time.Time:
		return Time(v), nil
	default:
		return Value{}, fmt.Errorf("unsupported column type %T", src)
	}
}

// Row is an ordered mapping from column name to Value. Rows are produced
// only as query results and are never mutated after construction.
type Row struct {
	cols []string
	vals []Value
}

// Columns returns the ordered column names. The returned slice is shared
// across rows of one result and must not be modified.
func (r Row) Columns() []string { return r.cols }

// Len returns the number of columns.
func (r Row) Len() int { return len(r.vals) }

// Index returns the value at column position i.
func (r Row) Index(i int) Value { return r.vals[i] }

// Value returns the value for the named column and whether the column exists.
func (r Row) Value(name string) (Value, bool) {
	for i, c := range r.cols {
		if c == name {
			return r.vals[i], true
		}
	}
	return Value{}, false
}

// Statement is one SQL statement with its ordered parameters, used as the
// unit of an ExecuteBatch call.
type Statement struct {
	SQL  string
	Args []Value
}
