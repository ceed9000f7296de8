package db

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

// ErrClosed is returned by Do after Close.
var ErrClosed = errors.New("db worker closed")

// TxFn runs inside a transaction owned by the Worker. It must only use tx;
// touching the *sql.DB directly would wait on the single pooled connection.
type TxFn func(ctx context.Context, tx *sql.Tx) error

type job struct {
	ctx context.Context
	fn  TxFn
	res chan error
}

// Worker is the single writer for a SQLite database. Jobs run one at a time
// in submission order, each in its own transaction.
type Worker struct {
	conn *sql.DB
	jobs chan job
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewWorker(conn *sql.DB) *Worker {
	w := &Worker{
		conn: conn,
		jobs: make(chan job, 256),
		done: make(chan struct{}),
	}
	go w.loop()
	return w
}

// Close drains queued jobs and stops the loop. Safe to call more than once.
func (w *Worker) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.jobs)
	}
	w.mu.Unlock()
	<-w.done
}

// Do queues fn and waits for its result. If ctx ends before the job is
// queued Do returns ctx.Err(). A queued job always reports its real outcome:
// run skips it when ctx is already done, and a transaction begun with ctx is
// rolled back if ctx ends before commit, so Do never reports failure for a
// committed job.
func (w *Worker) Do(ctx context.Context, fn TxFn) error {
	j := job{ctx: ctx, fn: fn, res: make(chan error, 1)}

	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return ErrClosed
	}
	select {
	case w.jobs <- j:
		w.mu.RUnlock()
	case <-ctx.Done():
		w.mu.RUnlock()
		return ctx.Err()
	}

	return <-j.res
}

func (w *Worker) loop() {
	defer close(w.done)
	for j := range w.jobs {
		j.res <- w.run(j)
	}
}

func (w *Worker) run(j job) error {
	if err := j.ctx.Err(); err != nil {
		return err
	}
	tx, err := w.conn.BeginTx(j.ctx, nil)
	if err != nil {
		return err
	}
	if err := j.fn(j.ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
