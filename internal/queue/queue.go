// Package queue runs storage work on a single goroutine so that every write
// sees the state left by the previous one.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"docstore/internal/domain/repositories"
)

// ErrQueueClosed is returned for work submitted after Close.
var ErrQueueClosed = errors.New("queue closed")

const defaultCapacity = 128

// Task is a unit of work. For transactional submissions ctx carries the
// open transaction.
type Task func(ctx context.Context) (any, error)

// Future is the pending result of a submitted task.
type Future struct {
	done  chan struct{}
	value any
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) complete(value any, err error) {
	f.value = value
	f.err = err
	close(f.done)
}

// Done is closed once the task has finished or was skipped.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the task finishes or ctx is done. Giving up on the wait
// does not stop a task that has already started.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type job struct {
	ctx           context.Context
	task          Task
	transactional bool
	future        *Future
}

// Queue executes tasks one at a time in submission order.
type Queue struct {
	name   string
	jobs   chan *job
	txm    repositories.TransactionManager
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New starts a queue. txm backs SubmitTransaction.
func New(name string, txm repositories.TransactionManager, logger *slog.Logger) *Queue {
	q := &Queue{
		name:   name,
		jobs:   make(chan *job, defaultCapacity),
		txm:    txm,
		logger: logger,
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// Submit queues fn to run outside any transaction.
func (q *Queue) Submit(ctx context.Context, fn Task) *Future {
	return q.submit(ctx, fn, false)
}

// SubmitTransaction queues fn to run inside a transaction; every storage
// step it performs commits or rolls back together.
func (q *Queue) SubmitTransaction(ctx context.Context, fn Task) *Future {
	return q.submit(ctx, fn, true)
}

func (q *Queue) submit(ctx context.Context, fn Task, transactional bool) *Future {
	f := newFuture()

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		f.complete(nil, ErrQueueClosed)
		return f
	}

	q.jobs <- &job{ctx: ctx, task: fn, transactional: transactional, future: f}
	return f
}

func (q *Queue) run() {
	defer q.wg.Done()
	for j := range q.jobs {
		j.future.complete(q.execute(j))
	}
}

func (q *Queue) execute(j *job) (any, error) {
	if err := j.ctx.Err(); err != nil {
		return nil, err
	}

	if !j.transactional {
		return q.call(j.ctx, j.task)
	}

	var value any
	err := q.txm.ExecTx(j.ctx, func(txCtx context.Context) error {
		var taskErr error
		value, taskErr = q.call(txCtx, j.task)
		return taskErr
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// call runs a task, turning a panic into an error so an open transaction
// is still rolled back.
func (q *Queue) call(ctx context.Context, task Task) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("queue task panicked", "queue", q.name, "panic", r)
			value, err = nil, fmt.Errorf("queue %s: task panicked: %v", q.name, r)
		}
	}()
	return task(ctx)
}

// Close stops accepting work, runs what is already queued and waits for
// the worker to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	q.wg.Wait()
}

// Do submits fn as a transaction and waits for its typed result.
func Do[T any](ctx context.Context, q *Queue, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	value, err := q.SubmitTransaction(ctx, func(txCtx context.Context) (any, error) {
		return fn(txCtx)
	}).Wait(ctx)
	if err != nil {
		return zero, err
	}
	if value == nil {
		return zero, nil
	}
	return value.(T), nil
}
