package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/JakeFAU/progressrelay/internal/channel"
	idgen "github.com/JakeFAU/progressrelay/internal/id/uuid"
	"github.com/JakeFAU/progressrelay/internal/metrics"
	"github.com/JakeFAU/progressrelay/internal/pickup"
	"github.com/JakeFAU/progressrelay/internal/progress"
)

var (
	// ErrNoFactory is returned when a session is needed but no presenter
	// factory was configured.
	ErrNoFactory = errors.New("session: no presenter factory configured")
	// ErrSessionActive is returned by RegisterReporter while this process
	// already runs its own session.
	ErrSessionActive = errors.New("session: local session already active")
)

const presenterCloseTimeout = 10 * time.Second

// IDSource produces session identifiers.
type IDSource interface {
	NewRawID() (uuid.UUID, error)
}

// RelayOptions controls the cross-process relay started with each session.
type RelayOptions struct {
	Enabled      bool
	Network      string
	Address      string
	DrainTimeout time.Duration
}

// Options configures a Coordinator.
type Options struct {
	Factory        progress.PresenterFactory
	Logger         *zap.Logger
	Relay          RelayOptions
	Remote         channel.RemoteConfig
	PresentTimeout time.Duration
	// StallWarning, when positive, logs a warning at this interval while
	// teardown waits for the pickup. Teardown still waits until it exits.
	StallWarning time.Duration
	IDs          IDSource
}

// Coordinator owns the process-wide reporting session. The zero value is not
// usable; construct with New.
type Coordinator struct {
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	reporter *channel.Reporter
	sess     *state
	detach   bool

	// live mirrors sess for readers that must not wait on a teardown.
	live atomic.Pointer[state]
}

type state struct {
	id      uuid.UUID
	queue   *channel.Queue
	relay   *channel.Relay
	pickup  *pickup.Pickup
	started time.Time
}

// New builds a Coordinator. No session is started until a reporter is requested.
func New(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.IDs == nil {
		opts.IDs = idgen.New()
	}
	if opts.Remote.Logger == nil {
		opts.Remote.Logger = logger
	}
	return &Coordinator{opts: opts, logger: logger.Named("session")}
}

// FindReporter returns the current reporter, starting a session if none exists.
func (c *Coordinator) FindReporter() (*channel.Reporter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.startLocked(); err != nil {
		return nil, err
	}
	return c.reporter, nil
}

// RegisterReporter binds this process to a session running elsewhere. Any
// previously registered remote reporter is synced and replaced.
func (c *Coordinator) RegisterReporter(h channel.Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil {
		return ErrSessionActive
	}
	if c.reporter != nil && c.reporter.Handle() == h {
		return nil
	}
	rep, err := channel.NewRemoteReporter(h, c.opts.Remote)
	if err != nil {
		return fmt.Errorf("register reporter: %w", err)
	}
	if c.reporter != nil {
		if err := c.reporter.Close(); err != nil {
			c.logger.Warn("previous reporter did not sync", zap.Error(err))
		}
	}
	c.reporter = rep
	c.logger.Debug("registered remote reporter",
		zap.String("session", h.Session.String()),
		zap.String("address", h.Address),
	)
	return nil
}

// Detach keeps the session alive past the release of the scope that created it.
func (c *Coordinator) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detach = true
}

// Flush ends the current session, blocking until every queued event has been
// presented. It is safe to call repeatedly and with no session running.
func (c *Coordinator) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.teardownLocked()
}

// Active reports whether a local session is running. It never blocks on a
// teardown in progress.
func (c *Coordinator) Active() bool {
	return c.live.Load() != nil
}

// SessionID returns the id of the running local session, or uuid.Nil.
func (c *Coordinator) SessionID() uuid.UUID {
	id, _ := c.Snapshot()
	return id
}

// Snapshot returns the running session's id and whether one is running, read
// together. A session being torn down is reported until its pickup exits.
func (c *Coordinator) Snapshot() (uuid.UUID, bool) {
	sess := c.live.Load()
	if sess == nil {
		return uuid.Nil, false
	}
	return sess.id, true
}

// startLocked creates a session when no reporter exists and reports whether it
// did. Callers hold c.mu.
func (c *Coordinator) startLocked() (bool, error) {
	if c.reporter != nil {
		return false, nil
	}
	if c.opts.Factory == nil {
		return false, ErrNoFactory
	}
	id, err := c.opts.IDs.NewRawID()
	if err != nil {
		return false, fmt.Errorf("session id: %w", err)
	}
	queue := channel.NewQueue()
	presenter, err := c.opts.Factory()
	if err != nil {
		return false, fmt.Errorf("create presenter: %w", err)
	}
	logger := c.logger.With(zap.String("session", id.String()))

	var (
		relay  *channel.Relay
		handle channel.Handle
	)
	if c.opts.Relay.Enabled {
		relay, err = channel.Listen(channel.RelayConfig{
			Network:      c.opts.Relay.Network,
			Address:      c.opts.Relay.Address,
			DrainTimeout: c.opts.Relay.DrainTimeout,
			Logger:       logger,
		}, queue, id)
		if err != nil {
			ctx, cancel := context.WithTimeout(context.Background(), presenterCloseTimeout)
			defer cancel()
			return false, multierr.Append(fmt.Errorf("start relay: %w", err), presenter.Close(ctx))
		}
		handle = relay.Handle()
	}

	c.sess = &state{
		id:    id,
		queue: queue,
		relay: relay,
		pickup: pickup.Start(queue, presenter, pickup.Config{
			PresentTimeout: c.opts.PresentTimeout,
			Logger:         logger,
		}),
		started: time.Now(),
	}
	c.live.Store(c.sess)
	c.reporter = channel.NewLocalReporter(queue, handle, logger)
	metrics.ObserveSessionStarted()
	logger.Debug("progress session started", zap.String("relay", handle.Address))
	return true, nil
}

// teardownLocked ends the session. Callers hold c.mu.
func (c *Coordinator) teardownLocked() error {
	sess := c.sess
	if sess == nil {
		var err error
		if c.reporter != nil {
			err = c.reporter.Close()
			c.reporter = nil
		}
		return err
	}

	var err error
	if sess.relay != nil {
		err = multierr.Append(err, sess.relay.Close())
	}
	if perr := sess.queue.PutClose(); perr != nil && !errors.Is(perr, channel.ErrClosed) {
		err = multierr.Append(err, perr)
	}
	waitStart := time.Now()
	c.awaitPickup(sess)
	wait := time.Since(waitStart)

	c.sess = nil
	c.live.Store(nil)
	c.detach = false
	c.reporter = nil
	metrics.ObserveSessionEnded(wait)
	c.logger.Debug("progress session ended",
		zap.String("session", sess.id.String()),
		zap.Duration("lifetime", time.Since(sess.started)),
		zap.Duration("drain", wait),
	)
	return err
}

func (c *Coordinator) awaitPickup(sess *state) {
	if c.opts.StallWarning <= 0 {
		<-sess.pickup.Done()
		return
	}
	ticker := time.NewTicker(c.opts.StallWarning)
	defer ticker.Stop()
	start := time.Now()
	for {
		select {
		case <-sess.pickup.Done():
			return
		case <-ticker.C:
			c.logger.Warn("still waiting for progress pickup to drain",
				zap.String("session", sess.id.String()),
				zap.Duration("waited", time.Since(start)),
			)
		}
	}
}
