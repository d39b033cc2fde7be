package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "waflow/internal/errors"
	"waflow/internal/retry"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"
)

// NATSConfig tunes the JetStream driver.
type NATSConfig struct {
	URL          string
	StreamPrefix string
	MaxAttempts  int
	DedupWindow  time.Duration
	AckWait      time.Duration
}

// NATSQueue runs jobs over JetStream work-queue streams, one stream per
// kind. Broker-side Nats-Msg-Id dedup replaces the memory driver's seen
// map, and MaxDeliver enforces the attempt budget across restarts.
type NATSQueue struct {
	cfg    NATSConfig
	logger *logrus.Logger

	conn *nats.Conn
	js   jetstream.JetStream

	mu       sync.Mutex
	subs     map[string]*natsSub
	consumes []jetstream.ConsumeContext
	started  bool
}

type natsSub struct {
	kind    string
	workers int
	handler Handler
}

func NewNATSQueue(cfg NATSConfig, logger *logrus.Logger) (*NATSQueue, error) {
	if cfg.StreamPrefix == "" {
		cfg.StreamPrefix = "waflow"
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 30 * time.Second
	}

	opts := []nats.Option{
		nats.Name(cfg.StreamPrefix + "-queue"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.WithError(err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &NATSQueue{
		cfg:    cfg,
		logger: logger,
		conn:   conn,
		js:     js,
		subs:   make(map[string]*natsSub),
	}, nil
}

func (q *NATSQueue) Subscribe(kind string, workers int, handler Handler) error {
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
	q.subs[kind] = &natsSub{kind: kind, workers: workers, handler: handler}
	return nil
}

func (q *NATSQueue) Enqueue(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	_, err = q.js.Publish(ctx, q.subject(job.Kind), data, jetstream.WithMsgID(dedupKey(job)))
	if err != nil {
		return apperrors.NewInfraError("queue", err)
	}
	return nil
}

func (q *NATSQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return fmt.Errorf("queue already started")
	}
	q.started = true
	subs := make([]*natsSub, 0, len(q.subs))
	for _, sub := range q.subs {
		subs = append(subs, sub)
	}
	q.mu.Unlock()

	for _, sub := range subs {
		stream, err := q.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:       q.streamName(sub.kind),
			Subjects:   []string{q.subject(sub.kind)},
			Retention:  jetstream.WorkQueuePolicy,
			Storage:    jetstream.FileStorage,
			Duplicates: q.cfg.DedupWindow,
			Replicas:   1,
		})
		if err != nil {
			return fmt.Errorf("failed to ensure stream for %q: %w", sub.kind, err)
		}

		consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
			Durable:    q.cfg.StreamPrefix + "-" + sub.kind,
			AckPolicy:  jetstream.AckExplicitPolicy,
			AckWait:    q.cfg.AckWait,
			MaxDeliver: q.cfg.MaxAttempts,
		})
		if err != nil {
			return fmt.Errorf("failed to ensure consumer for %q: %w", sub.kind, err)
		}

		for i := 0; i < sub.workers; i++ {
			cc, err := consumer.Consume(q.messageHandler(ctx, sub))
			if err != nil {
				return fmt.Errorf("failed to start consumer for %q: %w", sub.kind, err)
			}
			q.mu.Lock()
			q.consumes = append(q.consumes, cc)
			q.mu.Unlock()
		}
		q.logger.WithFields(logrus.Fields{
			"kind":    sub.kind,
			"stream":  q.streamName(sub.kind),
			"workers": sub.workers,
		}).Info("Queue workers started")
	}
	return nil
}

func (q *NATSQueue) messageHandler(ctx context.Context, sub *natsSub) jetstream.MessageHandler {
	return func(msg jetstream.Msg) {
		var job Job
		if err := json.Unmarshal(msg.Data(), &job); err != nil {
			q.logger.WithError(err).Error("Dropping undecodable job")
			_ = msg.Term()
			return
		}

		err := sub.handler(ctx, job)
		if err == nil {
			_ = msg.Ack()
			return
		}

		if !apperrors.IsRetryable(err) {
			apperrors.LogError(q.logger, err, "Job failed permanently", logrus.Fields{
				"kind":   job.Kind,
				"job_id": job.ID,
			})
			_ = msg.Term()
			return
		}

		attempt := 1
		if meta, metaErr := msg.Metadata(); metaErr == nil {
			attempt = int(meta.NumDelivered)
		}
		delay := retry.DelayFor(attempt, err)
		q.logger.WithError(err).WithFields(logrus.Fields{
			"kind":    job.Kind,
			"job_id":  job.ID,
			"attempt": attempt,
			"delay":   delay.String(),
		}).Warn("Job failed, scheduling redelivery")
		_ = msg.NakWithDelay(delay)
	}
}

func (q *NATSQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	consumes := q.consumes
	q.consumes = nil
	q.mu.Unlock()

	for _, cc := range consumes {
		cc.Stop()
	}
	if q.conn != nil && !q.conn.IsClosed() {
		if err := q.conn.Drain(); err != nil {
			q.conn.Close()
			return fmt.Errorf("failed to drain NATS connection: %w", err)
		}
	}
	return nil
}

func (q *NATSQueue) subject(kind string) string {
	return q.cfg.StreamPrefix + ".jobs." + kind
}

func (q *NATSQueue) streamName(kind string) string {
	return strings.ToUpper(q.cfg.StreamPrefix + "_" + kind)
}
