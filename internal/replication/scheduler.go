package replication

import (
	"context"
	"log/slog"
	"time"

	"docstore/internal/config"
	"docstore/internal/domain/models/replication"
	docstoreSvc "docstore/internal/domain/services/docstore"

	"golang.org/x/sync/errgroup"
)

// RemoteFactory builds the peer of a configured job.
type RemoteFactory func(job config.ReplicationJob) (Remote, error)

// Scheduler runs configured replication jobs on their intervals until its
// context is cancelled. A failing job backs off exponentially.
type Scheduler struct {
	store      docstoreSvc.DocumentStore
	localName  string
	jobs       []config.ReplicationJob
	newRemote  RemoteFactory
	opts       Options
	minBackoff time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger
}

func NewScheduler(store docstoreSvc.DocumentStore, localName string, jobs []config.ReplicationJob, newRemote RemoteFactory, opts Options, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:      store,
		localName:  localName,
		jobs:       jobs,
		newRemote:  newRemote,
		opts:       opts,
		minBackoff: config.ReplicationMinBackoff,
		maxBackoff: config.ReplicationMaxBackoff,
		logger:     logger,
	}
}

// Run blocks until ctx is done. Jobs whose remote cannot be built are
// logged and skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, job := range s.jobs {
		remote, err := s.newRemote(job)
		if err != nil {
			s.logger.Error("replication job skipped", "job", job.Name, "error", err)
			continue
		}
		g.Go(func() error {
			s.runJob(gctx, job, remote)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) runJob(ctx context.Context, job config.ReplicationJob, remote Remote) {
	opts := s.opts
	if job.BatchSize > 0 {
		opts.BatchSize = job.BatchSize
	}
	logger := s.logger.With("job", job.Name)

	var backoff time.Duration
	for {
		r := New(s.store, s.localName, remote, replication.Direction(job.Direction), opts, logger)
		_, err := r.Run(ctx)

		wait := job.Interval
		if err != nil && ctx.Err() == nil {
			backoff = nextBackoff(backoff, s.minBackoff, s.maxBackoff)
			wait = backoff
			logger.Warn("replication run failed, backing off", "error", err, "retry_in", wait)
		} else {
			backoff = 0
		}

		if wait <= 0 {
			wait = s.minBackoff
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// nextBackoff doubles current within [lo, hi].
func nextBackoff(current, lo, hi time.Duration) time.Duration {
	if current < lo {
		return lo
	}
	return min(current*2, hi)
}
