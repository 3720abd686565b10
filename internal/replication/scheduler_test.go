package replication

import (
	"context"
	"errors"
	"testing"
	"time"

	"docstore/internal/config"
)

func TestNextBackoff(t *testing.T) {
	lo, hi := 5*time.Second, 40*time.Second
	tests := []struct {
		current time.Duration
		want    time.Duration
	}{
		{0, 5 * time.Second},
		{5 * time.Second, 10 * time.Second},
		{20 * time.Second, 40 * time.Second},
		{40 * time.Second, 40 * time.Second},
	}
	for _, tt := range tests {
		if got := nextBackoff(tt.current, lo, hi); got != tt.want {
			t.Errorf("nextBackoff(%v) = %v, want %v", tt.current, got, tt.want)
		}
	}
}

func TestScheduler_RunsJobsUntilCancelled(t *testing.T) {
	source := openStore(t, "source")
	target := openStore(t, "target")
	create(t, source, "a", `{}`, nil)
	create(t, source, "b", `{}`, nil)

	jobs := []config.ReplicationJob{
		{Name: "upstream", Remote: "http://source.invalid/db", Direction: "pull", Interval: time.Hour},
		{Name: "broken", Remote: "http://broken.invalid/db", Direction: "pull", Interval: time.Hour},
	}
	factory := func(job config.ReplicationJob) (Remote, error) {
		if job.Name == "broken" {
			return nil, errors.New("no such peer")
		}
		return NewStoreRemote("source", source), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewScheduler(target, "target", jobs, factory, Options{}, testLogger).Run(ctx)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		n, err := target.DocumentCount(context.Background())
		if err == nil && n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("scheduled pull did not complete, target has %d documents", n)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
