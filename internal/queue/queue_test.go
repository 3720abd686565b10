package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"docstore/internal/domain/repositories"
)

// recordingTxManager counts transactions and marks the context it hands out.
type recordingTxManager struct {
	mu        sync.Mutex
	begun     int
	committed int
}

type inTxKey struct{}

func (m *recordingTxManager) ExecTx(ctx context.Context, fn repositories.TxFn) error {
	m.mu.Lock()
	m.begun++
	m.mu.Unlock()

	if err := fn(context.WithValue(ctx, inTxKey{}, true)); err != nil {
		return err
	}

	m.mu.Lock()
	m.committed++
	m.mu.Unlock()
	return nil
}

func newTestQueue(t *testing.T) (*Queue, *recordingTxManager) {
	t.Helper()
	txm := &recordingTxManager{}
	q := New("test", txm, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(q.Close)
	return q, txm
}

func TestQueue_RunsInSubmissionOrder(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	var order []int
	var futures []*Future
	for i := 0; i < 50; i++ {
		i := i
		futures = append(futures, q.Submit(ctx, func(ctx context.Context) (any, error) {
			order = append(order, i)
			return i, nil
		}))
	}

	for i, f := range futures {
		v, err := f.Wait(ctx)
		if err != nil {
			t.Fatalf("task %d: %v", i, err)
		}
		if v.(int) != i {
			t.Errorf("task %d returned %v", i, v)
		}
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("execution order %v is not submission order", order)
		}
	}
}

func TestQueue_SubmitTransaction(t *testing.T) {
	q, txm := newTestQueue(t)
	ctx := context.Background()

	v, err := q.SubmitTransaction(ctx, func(ctx context.Context) (any, error) {
		return ctx.Value(inTxKey{}) == true, nil
	}).Wait(ctx)
	if err != nil {
		t.Fatalf("SubmitTransaction: %v", err)
	}
	if v != true {
		t.Error("task did not receive the transaction context")
	}

	boom := errors.New("boom")
	_, err = q.SubmitTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, boom
	}).Wait(ctx)
	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}

	if txm.begun != 2 || txm.committed != 1 {
		t.Errorf("begun=%d committed=%d, want 2 and 1", txm.begun, txm.committed)
	}

	v, err = q.Submit(ctx, func(ctx context.Context) (any, error) {
		return ctx.Value(inTxKey{}) == nil, nil
	}).Wait(ctx)
	if err != nil || v != true {
		t.Errorf("Submit should not open a transaction: %v, %v", v, err)
	}
}

func TestQueue_SkipsCancelledTasks(t *testing.T) {
	q, _ := newTestQueue(t)

	release := make(chan struct{})
	blocker := q.Submit(context.Background(), func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	ran := false
	skipped := q.Submit(ctx, func(ctx context.Context) (any, error) {
		ran = true
		return nil, nil
	})
	cancel()
	close(release)

	if _, err := blocker.Wait(context.Background()); err != nil {
		t.Fatalf("blocker: %v", err)
	}
	<-skipped.Done()
	if _, err := skipped.Wait(context.Background()); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if ran {
		t.Error("cancelled task should not run")
	}
}

func TestQueue_RecoversPanics(t *testing.T) {
	q, txm := newTestQueue(t)
	ctx := context.Background()

	_, err := q.SubmitTransaction(ctx, func(ctx context.Context) (any, error) {
		panic("kaboom")
	}).Wait(ctx)
	if err == nil {
		t.Fatal("expected an error from a panicking task")
	}
	if txm.committed != 0 {
		t.Error("panicking task must not commit")
	}

	v, err := q.Submit(ctx, func(ctx context.Context) (any, error) { return "alive", nil }).Wait(ctx)
	if err != nil || v != "alive" {
		t.Errorf("queue unusable after panic: %v, %v", v, err)
	}
}

func TestQueue_Close(t *testing.T) {
	txm := &recordingTxManager{}
	q := New("test", txm, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	pending := q.Submit(ctx, func(ctx context.Context) (any, error) {
		time.Sleep(10 * time.Millisecond)
		return "done", nil
	})
	q.Close()

	if v, err := pending.Wait(ctx); err != nil || v != "done" {
		t.Errorf("queued work should drain on Close: %v, %v", v, err)
	}
	if _, err := q.Submit(ctx, func(ctx context.Context) (any, error) { return nil, nil }).Wait(ctx); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("expected ErrQueueClosed, got %v", err)
	}
	q.Close()
}

func TestDo(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	n, err := Do(ctx, q, func(ctx context.Context) (int, error) { return 42, nil })
	if err != nil || n != 42 {
		t.Errorf("Do = %d, %v", n, err)
	}

	p, err := Do(ctx, q, func(ctx context.Context) (*int, error) { return nil, nil })
	if err != nil || p != nil {
		t.Errorf("Do with nil pointer = %v, %v", p, err)
	}
}
