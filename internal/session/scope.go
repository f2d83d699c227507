package session

import (
	"fmt"
	"sync"

	"github.com/JakeFAU/progressrelay/internal/channel"
)

// Scope is a reporter acquisition. The scope that started the session owns it.
type Scope struct {
	c        *Coordinator
	reporter *channel.Reporter
	sess     *state
	owned    bool
	once     sync.Once
}

// Fetch returns a scope holding the current reporter, starting a session when
// none exists. Callers must Release the scope.
func (c *Coordinator) Fetch() (*Scope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	created, err := c.startLocked()
	if err != nil {
		return nil, err
	}
	s := &Scope{c: c, reporter: c.reporter, owned: created}
	if created {
		s.sess = c.sess
	}
	return s, nil
}

// Reporter returns the reporter acquired by the scope.
func (s *Scope) Reporter() *channel.Reporter {
	return s.reporter
}

// Owned reports whether releasing the scope will end the session.
func (s *Scope) Owned() bool {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return s.owned
}

// Release ends the scope. An owning scope tears down the session it created
// unless Detach was called, in which case the detach request is consumed and
// the session stays up. Release is idempotent.
func (s *Scope) Release() error {
	var err error
	s.once.Do(func() {
		err = s.c.release(s)
	})
	return err
}

func (c *Coordinator) release(s *Scope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !s.owned {
		return nil
	}
	s.owned = false
	if c.detach {
		c.detach = false
		return nil
	}
	if c.sess == nil || c.sess != s.sess {
		return nil
	}
	return c.teardownLocked()
}

// WithReporter runs fn with a scoped reporter. The scope is released when fn
// returns or panics.
func (c *Coordinator) WithReporter(fn func(*channel.Reporter) error) (err error) {
	scope, err := c.Fetch()
	if err != nil {
		return err
	}
	defer func() {
		if rerr := scope.Release(); rerr != nil && err == nil {
			err = fmt.Errorf("release reporter scope: %w", rerr)
		}
	}()
	return fn(scope.Reporter())
}
