package middleware

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rudransh-shrivastava/peerlink/internal/metrics"
	"github.com/rudransh-shrivastava/peerlink/internal/transport"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

type entry struct {
	mw       Middleware
	priority int
	seq      int
}

// Chain dispatches events to middlewares in ascending priority. Ties keep
// registration order.
type Chain struct {
	logger  logrus.FieldLogger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	entries []entry
	seq     int
}

func NewChain(logger logrus.FieldLogger, m *metrics.Metrics) *Chain {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Chain{logger: logger, metrics: m}
}

// Add registers mw at priority. An existing middleware of the same kind is
// replaced.
func (c *Chain) Add(priority int, mw Middleware) Middleware {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, e := range c.entries {
		if e.mw.Kind() == mw.Kind() {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			break
		}
	}

	c.seq++
	c.entries = append(c.entries, entry{mw: mw, priority: priority, seq: c.seq})
	sort.SliceStable(c.entries, func(i, j int) bool {
		if c.entries[i].priority != c.entries[j].priority {
			return c.entries[i].priority < c.entries[j].priority
		}
		return c.entries[i].seq < c.entries[j].seq
	})
	return mw
}

func (c *Chain) Get(kind Kind) (Middleware, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, e := range c.entries {
		if e.mw.Kind() == kind {
			return e.mw, true
		}
	}
	return nil, false
}

// Middlewares returns the middlewares in dispatch order.
func (c *Chain) Middlewares() []Middleware {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Middleware, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.mw
	}
	return out
}

// DispatchInbound offers ev to each middleware until one consumes it. It
// reports whether ev was consumed.
func (c *Chain) DispatchInbound(ev transport.Event) bool {
	for _, mw := range c.Middlewares() {
		if !mw.Accept(ev) {
			return true
		}
	}

	c.logger.Warnf("Unhandled %s event on %s channel (%d bytes)", ev.Encoding, ev.Channel, len(ev.Payload))
	c.metrics.EnvelopeUnhandled()
	return false
}

// DispatchOpen runs every open hook in order, each finishing before the next
// starts. Errors do not stop later hooks.
func (c *Chain) DispatchOpen(ctx context.Context, ch transport.ChannelKind) error {
	var errs error
	for _, mw := range c.Middlewares() {
		if err := mw.Open(ctx, ch); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s open %s: %w", mw.Kind(), ch, err))
		}
	}
	return errs
}

// IsBlocked is true when any middleware blocks outbound traffic.
func (c *Chain) IsBlocked() bool {
	for _, mw := range c.Middlewares() {
		if mw.Blocked() {
			return true
		}
	}
	return false
}

func (c *Chain) Close() {
	for _, mw := range c.Middlewares() {
		mw.Close()
	}
}
