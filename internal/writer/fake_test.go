package writer

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeDB records batches and reports conflicting for the first n rows.
type fakeDB struct {
	mu        sync.Mutex
	batches   []*pgx.Batch
	conflicts int
	err       error
}

func (f *fakeDB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, b)
	return &fakeResults{db: f}
}

func (f *fakeDB) queries() []*pgx.QueuedQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*pgx.QueuedQuery
	for _, b := range f.batches {
		out = append(out, b.QueuedQueries...)
	}
	return out
}

type fakeResults struct {
	db *fakeDB
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.err != nil {
		return pgconn.CommandTag{}, r.db.err
	}
	if r.db.conflicts > 0 {
		r.db.conflicts--
		return pgconn.NewCommandTag("INSERT 0 0"), nil
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }
func (r *fakeResults) QueryRow() pgx.Row         { return nil }
func (r *fakeResults) Close() error              { return nil }

type fakeRecorder struct {
	mu   sync.Mutex
	rows map[string]int
}

func (f *fakeRecorder) RecordWriterRows(writer, outcome string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rows == nil {
		f.rows = make(map[string]int)
	}
	f.rows[writer+"/"+outcome] += n
}

func (f *fakeRecorder) get(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[key]
}
