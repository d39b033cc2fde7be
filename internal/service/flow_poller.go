package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"waflow/internal/constants"
	"waflow/internal/models"

	"github.com/sirupsen/logrus"
)

// FlowPollerStore is the database surface the poller needs.
type FlowPollerStore interface {
	ClaimDueFlowExecutions(ctx context.Context, now time.Time, limit int) ([]*models.FlowExecution, error)
}

// FlowPoller drives the flow engine: it wakes on a short interval, claims
// due PENDING executions in bounded batches and runs each through the
// engine. The conditional claim makes several poller instances safe against
// one store.
type FlowPoller struct {
	db      FlowPollerStore
	engine  *FlowEngine
	config  models.FlowsConfig
	logger  *logrus.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

func NewFlowPoller(db FlowPollerStore, engine *FlowEngine, config models.FlowsConfig, logger *logrus.Logger) *FlowPoller {
	if logger == nil {
		logger = logrus.New()
	}
	if config.PollIntervalMs <= 0 {
		config.PollIntervalMs = constants.DefaultFlowPollIntervalMs
	}
	if config.ClaimBatchSize <= 0 {
		config.ClaimBatchSize = constants.DefaultFlowClaimBatchSize
	}
	return &FlowPoller{
		db:     db,
		engine: engine,
		config: config,
		logger: logger,
	}
}

// Start begins the background polling loop.
func (p *FlowPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("flow poller is already running")
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true

	p.wg.Add(1)
	go p.pollLoop()

	p.logger.WithFields(logrus.Fields{
		"interval_ms": p.config.PollIntervalMs,
		"batch_size":  p.config.ClaimBatchSize,
	}).Info("Flow poller started")
	return nil
}

// Stop gracefully stops the polling loop, waiting for an in-flight batch.
func (p *FlowPoller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	p.cancel()
	p.wg.Wait()
	p.running = false
	p.logger.Info("Flow poller stopped")
}

// IsRunning returns whether the poller is currently active.
func (p *FlowPoller) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

func (p *FlowPoller) pollLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(time.Duration(p.config.PollIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce()
		}
	}
}

// pollOnce claims and executes due batches until the backlog is drained or
// the poller is stopped. A full batch means more rows may be waiting, so it
// claims again without waiting for the next tick.
func (p *FlowPoller) pollOnce() {
	for {
		ctx, cancel := context.WithTimeout(p.ctx, 30*time.Second)
		claimed, err := p.db.ClaimDueFlowExecutions(ctx, time.Now().UTC(), p.config.ClaimBatchSize)
		if err != nil {
			cancel()
			p.logger.WithError(err).Error("Failed to claim due flow executions")
			return
		}

		failed := 0
		for _, exec := range claimed {
			if p.ctx.Err() != nil {
				cancel()
				return
			}
			if err := p.engine.ExecuteClaimed(ctx, exec); err != nil {
				failed++
			}
		}
		cancel()

		if len(claimed) > 0 {
			p.logger.WithFields(logrus.Fields{
				"claimed": len(claimed),
				"failed":  failed,
			}).Debug("Flow execution batch processed")
		}
		if len(claimed) < p.config.ClaimBatchSize || p.ctx.Err() != nil {
			return
		}
	}
}
