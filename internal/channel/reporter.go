package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/progressrelay/internal/metrics"
	"github.com/JakeFAU/progressrelay/internal/progress"
)

const (
	defaultDialTimeout  = 2 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultSyncTimeout  = 5 * time.Second
	redialBackoff       = time.Second
)

// Reporter is the producer-side handle of an event channel. It is safe for
// concurrent use and Report never blocks beyond a bounded socket write.
type Reporter struct {
	handle Handle
	queue  *Queue
	remote *remoteSender
	logger *zap.Logger
}

var _ progress.Reporter = (*Reporter)(nil)

// NewLocalReporter binds a reporter to an in-process queue. handle describes
// the session's relay and may be zero when the relay is disabled.
func NewLocalReporter(queue *Queue, handle Handle, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{handle: handle, queue: queue, logger: logger}
}

// RemoteConfig tunes a remote reporter. Zero values pick defaults.
type RemoteConfig struct {
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	SyncTimeout  time.Duration
	Logger       *zap.Logger
}

// NewRemoteReporter rebuilds a reporter from a handle received from the main
// process. The connection is dialed lazily on the first Report.
func NewRemoteReporter(handle Handle, cfg RemoteConfig) (*Reporter, error) {
	if handle.IsZero() {
		return nil, ErrNoRelay
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = defaultSyncTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		handle: handle,
		remote: &remoteSender{handle: handle, cfg: cfg, logger: logger},
		logger: logger,
	}, nil
}

// Handle returns the transferable description of the reporter's session.
func (r *Reporter) Handle() Handle {
	if r == nil {
		return Handle{}
	}
	return r.handle
}

// Remote reports whether events travel over the relay.
func (r *Reporter) Remote() bool {
	return r != nil && r.remote != nil
}

// Report enqueues evt. Invalid events and events sent after the session ended
// are dropped; producers never see an error.
func (r *Reporter) Report(evt progress.Event) {
	if r == nil {
		return
	}
	if evt.PID == 0 {
		evt.PID = os.Getpid()
	}
	if err := evt.Validate(); err != nil {
		metrics.ObserveDropped("invalid")
		r.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	if r.remote != nil {
		r.remote.send(evt)
		return
	}
	if r.queue == nil {
		return
	}
	if err := r.queue.Put(evt); err != nil {
		metrics.ObserveDropped("closed")
		r.logger.Debug("progress event after session end", zap.String("task", evt.Name))
		return
	}
	metrics.ObserveReported(metrics.PathLocal)
}

// Sync blocks until every event reported so far has reached the main
// process queue. Local reporters are always in sync.
func (r *Reporter) Sync(ctx context.Context) error {
	if r == nil || r.remote == nil {
		return nil
	}
	return r.remote.sync(ctx)
}

// Close syncs and releases a remote reporter's connection. Later reports are
// dropped. Closing a local reporter is a no-op.
func (r *Reporter) Close() error {
	if r == nil || r.remote == nil {
		return nil
	}
	return r.remote.close()
}

type remoteSender struct {
	handle Handle
	cfg    RemoteConfig
	logger *zap.Logger

	mu      sync.Mutex
	conn    net.Conn
	enc     *json.Encoder
	dec     *json.Decoder
	seq     uint64
	lost    uint64
	retryAt time.Time
	closed  bool
}

func (s *remoteSender) send(evt progress.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.lose("closed")
		return
	}
	if err := s.ensureConn(); err != nil {
		s.lose("relay_unreachable")
		return
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		s.dropConn(err)
		s.lose("relay_write")
		return
	}
	if err := s.enc.Encode(frame{Kind: kindEvent, Event: &evt}); err != nil {
		s.dropConn(err)
		s.lose("relay_write")
	}
}

// lose records an undelivered event. Callers hold s.mu.
func (s *remoteSender) lose(reason string) {
	s.lost++
	metrics.ObserveDropped(reason)
}

// takeLost reports and resets undelivered events. Callers hold s.mu.
func (s *remoteSender) takeLost() error {
	if s.lost == 0 {
		return nil
	}
	n := s.lost
	s.lost = 0
	return fmt.Errorf("%d progress events not delivered to relay", n)
}

func (s *remoteSender) sync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return s.takeLost()
	}
	deadline := time.Now().Add(s.cfg.SyncTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetDeadline(deadline); err != nil {
		s.dropConn(err)
		return fmt.Errorf("relay sync deadline: %w", err)
	}
	s.seq++
	seq := s.seq
	if err := s.enc.Encode(frame{Kind: kindSync, Seq: seq}); err != nil {
		s.dropConn(err)
		return fmt.Errorf("relay sync write: %w", err)
	}
	for {
		var f frame
		if err := s.dec.Decode(&f); err != nil {
			s.dropConn(err)
			return fmt.Errorf("relay sync read: %w", err)
		}
		if f.Kind == kindAck && f.Seq == seq {
			break
		}
	}
	if err := s.conn.SetDeadline(time.Time{}); err != nil {
		s.dropConn(err)
		return fmt.Errorf("relay sync deadline reset: %w", err)
	}
	return s.takeLost()
}

func (s *remoteSender) close() error {
	err := s.sync(context.Background())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.conn != nil {
		if cerr := s.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) && err == nil {
			err = fmt.Errorf("close relay connection: %w", cerr)
		}
		s.conn = nil
	}
	return err
}

// ensureConn dials and greets the relay. Callers hold s.mu.
func (s *remoteSender) ensureConn() error {
	if s.conn != nil {
		return nil
	}
	now := time.Now()
	if now.Before(s.retryAt) {
		return errors.New("relay redial backoff")
	}
	conn, err := net.DialTimeout(s.handle.Network, s.handle.Address, s.cfg.DialTimeout)
	if err != nil {
		s.retryAt = now.Add(redialBackoff)
		s.logger.Debug("relay dial failed", zap.String("address", s.handle.Address), zap.Error(err))
		return fmt.Errorf("dial relay: %w", err)
	}
	enc := json.NewEncoder(conn)
	if err := s.greet(conn, enc, now); err != nil {
		_ = conn.Close()
		s.retryAt = now.Add(redialBackoff)
		s.logger.Debug("relay greeting failed", zap.Error(err))
		return err
	}
	s.conn = conn
	s.enc = enc
	s.dec = json.NewDecoder(conn)
	return nil
}

func (s *remoteSender) greet(conn net.Conn, enc *json.Encoder, now time.Time) error {
	if err := conn.SetWriteDeadline(now.Add(s.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("relay greeting deadline: %w", err)
	}
	if err := enc.Encode(frame{Kind: kindHello, Session: s.handle.Session.String()}); err != nil {
		return fmt.Errorf("relay greeting: %w", err)
	}
	return nil
}

// dropConn discards a broken connection. Callers hold s.mu.
func (s *remoteSender) dropConn(err error) {
	s.logger.Debug("relay connection dropped", zap.Error(err))
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = nil
	s.enc = nil
	s.dec = nil
}
