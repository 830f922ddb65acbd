package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/crm-workflow/internal/application/workflow"
)

// Resumer reruns unfinished transition follow-ups
type Resumer interface {
	ResumePending(ctx context.Context, limit int) ([]*workflow.Outcome, error)
}

// FollowUpWorkerConfig holds configuration for the follow-up worker
type FollowUpWorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	RunTimeout   time.Duration
}

// DefaultFollowUpWorkerConfig returns default configuration
func DefaultFollowUpWorkerConfig() FollowUpWorkerConfig {
	return FollowUpWorkerConfig{
		PollInterval: time.Minute,
		BatchSize:    20,
		RunTimeout:   2 * time.Minute,
	}
}

// FollowUpStats is a snapshot of worker counters
type FollowUpStats struct {
	Runs      int       `json:"runs"`
	Completed int       `json:"completed"`
	Degraded  int       `json:"degraded"`
	LastRun   time.Time `json:"last_run"`
	LastError string    `json:"last_error,omitempty"`
}

// FollowUpWorker periodically finishes transitions whose history,
// notifications or messages did not all go through on the first try.
type FollowUpWorker struct {
	config  FollowUpWorkerConfig
	resumer Resumer
	logger  *zap.Logger

	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	isRunning bool
	stats     FollowUpStats
}

// NewFollowUpWorker creates a new follow-up worker
func NewFollowUpWorker(config FollowUpWorkerConfig, resumer Resumer, logger *zap.Logger) *FollowUpWorker {
	defaults := DefaultFollowUpWorkerConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = defaults.RunTimeout
	}
	return &FollowUpWorker{
		config:  config,
		resumer: resumer,
		logger:  logger,
	}
}

// Start begins the worker polling loop
func (w *FollowUpWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return fmt.Errorf("follow-up worker already running")
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.isRunning = true
	w.mu.Unlock()

	w.logger.Info("FollowUpWorker started",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Int("batch_size", w.config.BatchSize))

	go w.pollLoop(w.ctx, w.done)
	return nil
}

// Stop cancels the loop and waits for an in-flight run to finish
func (w *FollowUpWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	stats := w.Stats()
	w.logger.Info("FollowUpWorker stopped",
		zap.Int("runs", stats.Runs),
		zap.Int("completed", stats.Completed),
		zap.Int("degraded", stats.Degraded))
	return nil
}

// Name returns the worker name for identification
func (w *FollowUpWorker) Name() string {
	return "FollowUpWorker"
}

// Stats returns a copy of the counters
func (w *FollowUpWorker) Stats() FollowUpStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

func (w *FollowUpWorker) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Poll loop context cancelled")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce resumes one batch of pending transitions
func (w *FollowUpWorker) RunOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, w.config.RunTimeout)
	defer cancel()

	outcomes, err := w.resumer.ResumePending(runCtx, w.config.BatchSize)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.Runs++
	w.stats.LastRun = time.Now()
	if err != nil {
		w.stats.LastError = err.Error()
		w.logger.Error("Failed to resume pending transitions", zap.Error(err))
		return
	}
	w.stats.LastError = ""

	for _, o := range outcomes {
		if o.Completed {
			w.stats.Completed++
			continue
		}
		w.stats.Degraded++
		w.logger.Warn("Transition follow-ups still incomplete",
			zap.String("transition_id", o.TransitionID),
			zap.Error(o.SideEffectErr()))
	}
	if len(outcomes) > 0 {
		w.logger.Info("Resumed pending transitions", zap.Int("count", len(outcomes)))
	}
}
