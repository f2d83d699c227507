package channel

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/progressrelay/internal/metrics"
)

const (
	defaultDrainTimeout = 250 * time.Millisecond
	acceptBackoffMin    = 5 * time.Millisecond
	acceptBackoffMax    = time.Second
)

// RelayConfig controls where the relay listens.
//   - Network: "unix" (default) or "tcp".
//   - Address: socket path or host:port; empty picks a private temp socket
//     (unix) or 127.0.0.1:0 (tcp).
//   - DrainTimeout: how long Close keeps reading frames workers already
//     wrote (default 250ms).
//   - Logger: optional structured logger.
type RelayConfig struct {
	Network      string
	Address      string
	DrainTimeout time.Duration
	Logger       *zap.Logger
}

// Relay accepts worker connections and feeds their events into a Queue.
type Relay struct {
	listener net.Listener
	queue    *Queue
	session  uuid.UUID
	network  string
	logger   *zap.Logger
	cleanup  func()
	drain    time.Duration
	done     chan struct{}

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	closed   bool
	deadline time.Time
	served   chan struct{}

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Listen opens the relay socket for session and starts accepting connections.
func Listen(cfg RelayConfig, queue *Queue, session uuid.UUID) (*Relay, error) {
	if queue == nil {
		return nil, errors.New("relay requires a queue")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	network := cfg.Network
	if network == "" {
		network = "unix"
	}
	address := cfg.Address
	drain := cfg.DrainTimeout
	if drain <= 0 {
		drain = defaultDrainTimeout
	}
	cleanup := func() {}
	switch network {
	case "unix":
		if address == "" {
			dir, err := os.MkdirTemp("", "progressrelay-")
			if err != nil {
				return nil, fmt.Errorf("create relay dir: %w", err)
			}
			address = filepath.Join(dir, "relay.sock")
			cleanup = func() { _ = os.RemoveAll(dir) }
		} else {
			path := address
			cleanup = func() { _ = os.Remove(path) }
		}
	case "tcp":
		if address == "" {
			address = "127.0.0.1:0"
		}
	default:
		return nil, fmt.Errorf("unsupported relay network %q", network)
	}

	ln, err := net.Listen(network, address)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("listen relay: %w", err)
	}
	r := &Relay{
		listener: ln,
		queue:    queue,
		session:  session,
		network:  network,
		logger:   logger,
		cleanup:  cleanup,
		drain:    drain,
		done:     make(chan struct{}),
		served:   make(chan struct{}),
		conns:    make(map[net.Conn]struct{}),
	}
	r.wg.Add(1)
	go r.serve()
	logger.Debug("relay listening", zap.String("network", network), zap.String("address", ln.Addr().String()))
	return r, nil
}

// Handle returns the transferable description of this relay.
func (r *Relay) Handle() Handle {
	return Handle{
		Network: r.network,
		Address: r.listener.Addr().String(),
		Session: r.session,
	}
}

// Close drains the relay and returns once every handler has finished. Until
// the drain deadline it still accepts pending connections and keeps decoding
// frames workers already wrote; a handler stops earlier when its worker hangs
// up. Frames that arrive after the deadline are dropped.
func (r *Relay) Close() error {
	r.closeOnce.Do(func() {
		deadline := time.Now().Add(r.drain)
		r.mu.Lock()
		r.closed = true
		r.deadline = deadline
		close(r.done)
		for conn := range r.conns {
			if err := conn.SetReadDeadline(deadline); err != nil {
				_ = conn.Close()
			}
		}
		r.mu.Unlock()

		if dl, ok := r.listener.(interface{ SetDeadline(time.Time) error }); !ok || dl.SetDeadline(deadline) != nil {
			r.closeListener()
		}
		<-r.served
		r.closeListener()
		r.wg.Wait()
		r.cleanup()
	})
	return r.closeErr
}

func (r *Relay) closeListener() {
	if err := r.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) && r.closeErr == nil {
		r.closeErr = fmt.Errorf("close relay listener: %w", err)
	}
}

func (r *Relay) serve() {
	defer r.wg.Done()
	defer close(r.served)
	var backoff time.Duration
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || r.isClosed() {
				return
			}
			backoff = nextAcceptBackoff(backoff)
			r.logger.Warn("relay accept failed", zap.Error(err), zap.Duration("retry_in", backoff))
			timer := time.NewTimer(backoff)
			select {
			case <-r.done:
				timer.Stop()
				return
			case <-timer.C:
			}
			continue
		}
		backoff = 0
		r.track(conn)
		metrics.ObserveRelayConnection()
		r.wg.Add(1)
		go r.handle(conn)
	}
}

func nextAcceptBackoff(prev time.Duration) time.Duration {
	if prev <= 0 {
		return acceptBackoffMin
	}
	return min(prev*2, acceptBackoffMax)
}

func (r *Relay) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// track registers conn. Connections accepted while draining inherit the drain
// deadline.
func (r *Relay) track(conn net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		if err := conn.SetReadDeadline(r.deadline); err != nil {
			_ = conn.Close()
		}
	}
	r.conns[conn] = struct{}{}
}

func (r *Relay) untrack(conn net.Conn) {
	r.mu.Lock()
	delete(r.conns, conn)
	r.mu.Unlock()
	_ = conn.Close()
}

func (r *Relay) handle(conn net.Conn) {
	defer r.wg.Done()
	defer r.untrack(conn)

	dec := json.NewDecoder(bufio.NewReader(conn))
	enc := json.NewEncoder(conn)

	var hello frame
	if err := dec.Decode(&hello); err != nil {
		r.logDecodeErr(err)
		return
	}
	if hello.Kind != kindHello || hello.Session != r.session.String() {
		r.logger.Warn("relay rejected connection",
			zap.String("kind", string(hello.Kind)),
			zap.String("session", hello.Session),
		)
		return
	}

	for {
		var f frame
		if err := dec.Decode(&f); err != nil {
			r.logDecodeErr(err)
			return
		}
		switch f.Kind {
		case kindEvent:
			r.push(f)
		case kindSync:
			if err := enc.Encode(frame{Kind: kindAck, Seq: f.Seq}); err != nil {
				r.logger.Debug("relay ack failed", zap.Error(err))
				return
			}
		default:
			r.logger.Debug("relay ignored frame", zap.String("kind", string(f.Kind)))
		}
	}
}

func (r *Relay) push(f frame) {
	if f.Event == nil {
		return
	}
	if err := f.Event.Validate(); err != nil {
		metrics.ObserveDropped("invalid")
		r.logger.Debug("discarding invalid relayed event", zap.Error(err))
		return
	}
	if err := r.queue.Put(*f.Event); err != nil {
		metrics.ObserveDropped("closed")
		return
	}
	metrics.ObserveReported(metrics.PathRemote)
}

func (r *Relay) logDecodeErr(err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		r.logger.Debug("relay connection drained at deadline")
		return
	}
	r.logger.Debug("relay connection ended", zap.Error(err))
}
