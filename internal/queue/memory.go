package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "waflow/internal/errors"
	"waflow/internal/metrics"
	"waflow/internal/retry"

	"github.com/sirupsen/logrus"
)

// MemoryConfig tunes the in-process driver.
type MemoryConfig struct {
	BufferSize  int
	MaxAttempts int
	DedupWindow time.Duration
}

// MemoryQueue is the single-binary driver: buffered channels, a worker
// pool per kind, and an in-memory dedup window. Jobs do not survive a
// restart; the raw-event and message rows they point at do, so the pollers
// pick the work back up.
type MemoryQueue struct {
	cfg    MemoryConfig
	logger *logrus.Logger

	mu       sync.Mutex
	subs     map[string]*memorySub
	seen     map[string]time.Time
	attempts map[string]int
	started  bool
	stopped  bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

type memorySub struct {
	kind    string
	workers int
	handler Handler
	jobs    chan Job
}

func NewMemoryQueue(cfg MemoryConfig, logger *logrus.Logger) *MemoryQueue {
	return &MemoryQueue{
		cfg:      cfg,
		logger:   logger,
		subs:     make(map[string]*memorySub),
		seen:     make(map[string]time.Time),
		attempts: make(map[string]int),
		stopCh:   make(chan struct{}),
	}
}

func (q *MemoryQueue) Subscribe(kind string, workers int, handler Handler) error {
	if workers <= 0 {
		workers = 1
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return fmt.Errorf("cannot subscribe %q after start", kind)
	}
	if _, ok := q.subs[kind]; ok {
		return fmt.Errorf("kind %q already subscribed", kind)
	}
	q.subs[kind] = &memorySub{
		kind:    kind,
		workers: workers,
		handler: handler,
		jobs:    make(chan Job, q.cfg.BufferSize),
	}
	return nil
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return fmt.Errorf("queue is stopped")
	}
	sub, ok := q.subs[job.Kind]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("no subscriber for job kind %q", job.Kind)
	}
	key := dedupKey(job)
	if at, dup := q.seen[key]; dup && time.Since(at) < q.cfg.DedupWindow {
		q.mu.Unlock()
		q.logger.WithFields(logrus.Fields{
			"kind":   job.Kind,
			"job_id": job.ID,
		}).Debug("Dropping duplicate job inside dedup window")
		return nil
	}
	q.seen[key] = time.Now()
	q.mu.Unlock()

	select {
	case sub.jobs <- job:
		metrics.QueueDepth.WithLabelValues(job.Kind).Set(float64(len(sub.jobs)))
		return nil
	case <-q.stopCh:
		return fmt.Errorf("queue is stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return fmt.Errorf("queue already started")
	}
	q.started = true
	subs := make([]*memorySub, 0, len(q.subs))
	for _, sub := range q.subs {
		subs = append(subs, sub)
	}
	q.mu.Unlock()

	for _, sub := range subs {
		for i := 0; i < sub.workers; i++ {
			q.wg.Add(1)
			go q.worker(ctx, sub)
		}
		q.logger.WithFields(logrus.Fields{
			"kind":    sub.kind,
			"workers": sub.workers,
		}).Info("Queue workers started")
	}

	q.wg.Add(1)
	go q.janitor(ctx)
	return nil
}

func (q *MemoryQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	q.mu.Unlock()
	close(q.stopCh)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) worker(ctx context.Context, sub *memorySub) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case job := <-sub.jobs:
			metrics.QueueDepth.WithLabelValues(sub.kind).Set(float64(len(sub.jobs)))
			q.process(ctx, sub, job)
		}
	}
}

func (q *MemoryQueue) process(ctx context.Context, sub *memorySub, job Job) {
	log := q.logger.WithFields(logrus.Fields{
		"kind":   job.Kind,
		"job_id": job.ID,
	})

	err := sub.handler(ctx, job)
	if err == nil {
		q.clearAttempts(job)
		return
	}

	if !apperrors.IsRetryable(err) {
		apperrors.LogError(q.logger, err, "Job failed permanently", logrus.Fields{
			"kind":   job.Kind,
			"job_id": job.ID,
		})
		q.clearAttempts(job)
		return
	}

	attempt := q.bumpAttempts(job)
	if attempt >= q.cfg.MaxAttempts {
		log.WithError(err).WithField("attempts", attempt).Error("Job failed, attempt budget spent")
		q.clearAttempts(job)
		return
	}

	delay := retry.DelayFor(attempt, err)
	log.WithError(err).WithFields(logrus.Fields{
		"attempt": attempt,
		"delay":   delay.String(),
	}).Warn("Job failed, scheduling redelivery")
	time.AfterFunc(delay, func() { q.redeliver(sub, job) })
}

// redeliver puts a failed job back on its channel, skipping the dedup
// check the job already passed once.
func (q *MemoryQueue) redeliver(sub *memorySub, job Job) {
	q.mu.Lock()
	stopped := q.stopped
	q.mu.Unlock()
	if stopped {
		return
	}
	select {
	case sub.jobs <- job:
		metrics.QueueDepth.WithLabelValues(job.Kind).Set(float64(len(sub.jobs)))
	case <-q.stopCh:
	}
}

func (q *MemoryQueue) janitor(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.cfg.DedupWindow)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.sweepSeen()
		}
	}
}

func (q *MemoryQueue) sweepSeen() {
	cutoff := time.Now().Add(-q.cfg.DedupWindow)
	q.mu.Lock()
	for key, at := range q.seen {
		if at.Before(cutoff) {
			delete(q.seen, key)
		}
	}
	q.mu.Unlock()
}

func (q *MemoryQueue) bumpAttempts(job Job) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.attempts[dedupKey(job)]++
	return q.attempts[dedupKey(job)]
}

func (q *MemoryQueue) clearAttempts(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.attempts, dedupKey(job))
}

func dedupKey(job Job) string {
	return job.Kind + "/" + job.ID
}
