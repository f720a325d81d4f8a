// Package notify is the fire-and-forget toast sink. Messages fan out to every
// registered Sender (Telegram, Discord and the UI toast channel) and can be
// filtered by event type and throttled per key.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/simledger/internal/domain"
)

// Event types emitted by the ledger.
const (
	EventPositionOpened    = "position_opened"
	EventPositionActivated = "position_activated"
	EventPositionClosed    = "position_closed"
	EventPositionCanceled  = "position_cancelled"
	EventTargetsCorrected  = "targets_corrected"
	EventLiquidation       = "liquidation"
	EventError             = "error"
)

// DefaultThrottle is the minimum spacing between throttled messages sharing
// a key.
const DefaultThrottle = 3 * time.Second

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches to a set of Senders. Only events in the allowed set are
// forwarded; an empty set allows everything.
type Notifier struct {
	senders  []Sender
	events   map[string]bool
	limiter  domain.RateLimiter
	throttle time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	wg sync.WaitGroup
}

// Option customises a Notifier.
type Option func(*Notifier)

// WithLimiter enables Throttled using the given limiter and window.
func WithLimiter(l domain.RateLimiter, window time.Duration) Option {
	return func(n *Notifier) {
		n.limiter = l
		if window > 0 {
			n.throttle = window
		}
	}
}

// WithTimeout bounds each asynchronous dispatch.
func WithTimeout(d time.Duration) Option {
	return func(n *Notifier) { n.timeout = d }
}

// NewNotifier creates a Notifier delivering to senders.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger, opts ...Option) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	n := &Notifier{
		senders:  senders,
		events:   allowed,
		throttle: DefaultThrottle,
		timeout:  15 * time.Second,
		logger:   logger.With(slog.String("component", "notifier")),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Notify delivers synchronously if event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.allowed(event) {
		n.logger.DebugContext(ctx, "notify: event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// Fire delivers in the background. Failures are logged and never reach the
// caller.
func (n *Notifier) Fire(event, title, message string) {
	if n == nil || len(n.senders) == 0 || !n.allowed(event) {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		_ = n.dispatch(ctx, title, message)
	}()
}

// Throttled fires at most one message per key per throttle window and reports
// whether this one was sent. Without a limiter it behaves like Fire.
func (n *Notifier) Throttled(ctx context.Context, key, event, title, message string) bool {
	if n == nil {
		return false
	}
	if n.limiter != nil {
		ok, err := n.limiter.Allow(ctx, "notify:"+key, 1, n.throttle)
		if err != nil {
			n.logger.WarnContext(ctx, "notify: throttle check failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		} else if !ok {
			return false
		}
	}
	n.Fire(event, title, message)
	return true
}

// Wait blocks until every Fire started so far has finished.
func (n *Notifier) Wait() {
	if n != nil {
		n.wg.Wait()
	}
}

func (n *Notifier) allowed(event string) bool {
	return len(n.events) == 0 || n.events[event]
}

// dispatch sends to every sender. One failure does not stop the others.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notify: sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
