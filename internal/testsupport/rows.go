package testsupport

import (
	"context"
	"reflect"
	"sync"

	"github.com/jackc/pgx/v5"
)

// StubRow satisfies pgx.Row with canned values or an error.
type StubRow struct {
	Err    error
	Values []any
}

func (r StubRow) Scan(dest ...any) error {
	if r.Err != nil {
		return r.Err
	}
	for i, d := range dest {
		if i >= len(r.Values) || r.Values[i] == nil {
			continue
		}
		target := reflect.ValueOf(d).Elem()
		value := reflect.ValueOf(r.Values[i])
		if value.Type().AssignableTo(target.Type()) {
			target.Set(value)
			continue
		}
		// Allow passing a concrete value for a pointer destination, e.g.
		// a string for *string.
		if target.Kind() == reflect.Pointer && value.Type().AssignableTo(target.Type().Elem()) {
			box := reflect.New(target.Type().Elem())
			box.Elem().Set(value)
			target.Set(box)
		}
	}
	return nil
}

// NoRow is a row scanning as pgx.ErrNoRows.
var NoRow = StubRow{Err: pgx.ErrNoRows}

// QueryCall records one QueryRow invocation.
type QueryCall struct {
	SQL  string
	Args []any
}

// StubDB satisfies the gateway's RowQuerier interfaces. QueryRowFunc decides
// the response; when nil every query scans as no rows.
type StubDB struct {
	QueryRowFunc func(sql string, args []any) pgx.Row

	mu    sync.Mutex
	calls []QueryCall
}

func (db *StubDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	db.mu.Lock()
	db.calls = append(db.calls, QueryCall{SQL: sql, Args: args})
	db.mu.Unlock()
	if db.QueryRowFunc == nil {
		return NoRow
	}
	return db.QueryRowFunc(sql, args)
}

// Calls returns a copy of the recorded queries.
func (db *StubDB) Calls() []QueryCall {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]QueryCall(nil), db.calls...)
}
