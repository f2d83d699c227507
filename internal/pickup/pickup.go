// Package pickup drains a session's event queue and forwards each event to the
// session's presenter on a dedicated goroutine.
package pickup

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/progressrelay/internal/channel"
	"github.com/JakeFAU/progressrelay/internal/metrics"
	"github.com/JakeFAU/progressrelay/internal/progress"
)

// Config controls how events are handed to the presenter.
//   - PresentTimeout: per-event deadline passed to Present (default 10s).
//   - CloseTimeout: deadline for the presenter's Close (default 10s).
//   - BaseContext: parent context for presenter calls. Cancelling it stops the
//     pickup without waiting for the sentinel (defaults to context.Background()).
//   - Logger: optional structured logger for presenter failures.
type Config struct {
	PresentTimeout time.Duration
	CloseTimeout   time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

const (
	defaultPresentTimeout = 10 * time.Second
	defaultCloseTimeout   = 10 * time.Second
	failureLogInterval    = 5 * time.Second
)

// Pickup is the single consumer of a session queue. It exits after forwarding
// every event queued ahead of the close sentinel.
type Pickup struct {
	cfg       Config
	queue     *channel.Queue
	presenter progress.Presenter
	logger    *zap.Logger
	done      chan struct{}

	failLimiter *rate.Limiter
	forwarded   atomic.Int64
	failed      atomic.Int64
	unlogged    atomic.Int64
}

// Start launches the pickup goroutine for queue. A nil presenter consumes and
// discards events.
func Start(queue *channel.Queue, presenter progress.Presenter, cfg Config) *Pickup {
	if cfg.PresentTimeout <= 0 {
		cfg.PresentTimeout = defaultPresentTimeout
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = defaultCloseTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pickup{
		cfg:         cfg,
		queue:       queue,
		presenter:   presenter,
		logger:      logger,
		done:        make(chan struct{}),
		failLimiter: newFailureLimiter(failureLogInterval),
	}
	go p.run()
	return p
}

// Done is closed once the pickup has stopped.
func (p *Pickup) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the pickup stops or ctx ends.
func (p *Pickup) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pickup wait: %w", ctx.Err())
	}
}

// Forwarded reports how many events the presenter accepted.
func (p *Pickup) Forwarded() int64 {
	return p.forwarded.Load()
}

// Failed reports how many events the presenter rejected or panicked on.
func (p *Pickup) Failed() int64 {
	return p.failed.Load()
}

func (p *Pickup) run() {
	defer close(p.done)
	defer p.closePresenter()
	for {
		item, err := p.queue.Get(p.cfg.BaseContext)
		if err != nil {
			p.logger.Warn("progress pickup stopped before end of session", zap.Error(err))
			return
		}
		if item.Close {
			return
		}
		p.forward(item.Event)
	}
}

func (p *Pickup) forward(evt progress.Event) {
	if p.presenter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(p.cfg.BaseContext, p.cfg.PresentTimeout)
	defer cancel()
	if err := p.present(ctx, evt); err != nil {
		p.failed.Add(1)
		metrics.ObserveForwarded(false)
		p.reportFailure(evt, err)
		return
	}
	p.forwarded.Add(1)
	metrics.ObserveForwarded(true)
}

// present shields the loop from presenter panics.
func (p *Pickup) present(ctx context.Context, evt progress.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("presenter panic: %v", r)
		}
	}()
	return p.presenter.Present(ctx, evt)
}

func (p *Pickup) reportFailure(evt progress.Event, err error) {
	p.unlogged.Add(1)
	if !p.failLimiter.AllowN(time.Now(), 1) {
		return
	}
	count := p.unlogged.Swap(0)
	p.logger.Warn("progress presenter failed",
		zap.String("task", evt.Name),
		zap.Int64("failures", count),
		zap.Error(err),
	)
}

func (p *Pickup) closePresenter() {
	if p.presenter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.CloseTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("progress presenter close panicked", zap.Any("panic", r))
		}
	}()
	if err := p.presenter.Close(ctx); err != nil {
		p.logger.Warn("progress presenter close failed", zap.Error(err))
	}
}

// newFailureLimiter allows one failure log per interval; failures in between
// are folded into the next log's count.
func newFailureLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}
