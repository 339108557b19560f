package clickhouse

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// fakeConn is an in-memory Conn capturing queries and serving canned rows.
type fakeConn struct {
	execs     []string
	queries   []string
	queryArgs [][]any
	batches   []*fakeBatch

	rowsByMatch map[string][][]any
	scalar      any
	queryErr    error
	sendErr     error
}

func newFakeConn() *fakeConn {
	return &fakeConn{rowsByMatch: make(map[string][][]any)}
}

func (f *fakeConn) PrepareBatch(ctx context.Context, query string) (Batch, error) {
	b := &fakeBatch{query: query, sendErr: f.sendErr}
	f.batches = append(f.batches, b)
	return b, nil
}

func (f *fakeConn) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	f.queries = append(f.queries, query)
	f.queryArgs = append(f.queryArgs, args)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	for substr, data := range f.rowsByMatch {
		if substr == "" || strings.Contains(query, substr) {
			return &fakeRows{data: data}, nil
		}
	}
	return &fakeRows{}, nil
}

func (f *fakeConn) QueryRow(ctx context.Context, query string, args ...any) Row {
	f.queries = append(f.queries, query)
	f.queryArgs = append(f.queryArgs, args)
	return &fakeRow{value: f.scalar}
}

func (f *fakeConn) Exec(ctx context.Context, query string, args ...any) error {
	f.execs = append(f.execs, query)
	return nil
}

func (f *fakeConn) Close() error { return nil }

type fakeBatch struct {
	query   string
	rows    [][]any
	sent    bool
	sendErr error
}

func (b *fakeBatch) Append(v ...any) error {
	b.rows = append(b.rows, v)
	return nil
}

func (b *fakeBatch) Send() error {
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = true
	return nil
}

type fakeRows struct {
	data [][]any
	pos  int
}

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.pos-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan arity mismatch: %d dests, %d values", len(dest), len(row))
	}
	for i, v := range row {
		if err := assign(dest[i], v); err != nil {
			return fmt.Errorf("column %d: %w", i, err)
		}
	}
	return nil
}

func (r *fakeRows) Close() error { return nil }
func (r *fakeRows) Err() error   { return nil }

type fakeRow struct {
	value any
}

func (r *fakeRow) Scan(dest ...any) error {
	if len(dest) != 1 {
		return fmt.Errorf("scalar scan wants one dest, got %d", len(dest))
	}
	return assign(dest[0], r.value)
}

func assign(dst, v any) error {
	switch d := dst.(type) {
	case *time.Time:
		d2, ok := v.(time.Time)
		if !ok {
			return fmt.Errorf("want time.Time, got %T", v)
		}
		*d = d2
	case *string:
		d2, ok := v.(string)
		if !ok {
			return fmt.Errorf("want string, got %T", v)
		}
		*d = d2
	case *float64:
		d2, ok := v.(float64)
		if !ok {
			return fmt.Errorf("want float64, got %T", v)
		}
		*d = d2
	case **float64:
		switch d2 := v.(type) {
		case nil:
			*d = nil
		case *float64:
			*d = d2
		default:
			return fmt.Errorf("want *float64, got %T", v)
		}
	case *uint64:
		d2, ok := v.(uint64)
		if !ok {
			return fmt.Errorf("want uint64, got %T", v)
		}
		*d = d2
	case *int64:
		d2, ok := v.(int64)
		if !ok {
			return fmt.Errorf("want int64, got %T", v)
		}
		*d = d2
	case *int8:
		d2, ok := v.(int8)
		if !ok {
			return fmt.Errorf("want int8, got %T", v)
		}
		*d = d2
	default:
		return fmt.Errorf("unsupported dest %T", dst)
	}
	return nil
}
