package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rassi0429/eew4reso/internal/domain"
	"github.com/rassi0429/eew4reso/internal/observability"
)

// Options configures a Queue.
type Options struct {
	// Spacing is the minimum interval between successful posts.
	Spacing time.Duration
	// Visibility is passed through on every sink post.
	Visibility string
	// Clock overrides the time source. Nil means the real clock.
	Clock clockwork.Clock
	// State overrides the delivery state. Nil means a fresh NewState.
	State *State
}

// Queue throttles sink deliveries to at most one per spacing interval.
// Alerts that arrive while the window is closed, or while another post
// is still outstanding, wait in a FIFO and are drained in arrival
// order. Only a successful post advances the spacing window; a failed
// one leaves all state untouched.
type Queue struct {
	sink       Sink
	render     RenderFunc
	spacing    time.Duration
	visibility string
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    *observability.Metrics

	mu       sync.Mutex
	state    *State
	inFlight bool
}

// New creates a Queue posting through sink with render for note text.
func New(sink Sink, render RenderFunc, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Queue {
	clk := opts.Clock
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	state := opts.State
	if state == nil {
		state = NewState()
	}
	return &Queue{
		sink:       sink,
		render:     render,
		spacing:    opts.Spacing,
		visibility: opts.Visibility,
		clock:      clk,
		logger:     logger,
		metrics:    metrics,
		state:      state,
	}
}

// Submit offers one alert for delivery. It posts immediately when the
// spacing window is open and no other post is outstanding; otherwise
// the alert joins the tail of the pending queue. The bool reports
// whether this call delivered the alert. A sink failure is returned to
// the caller; the failed alert is not requeued here, resubmission is
// the caller's choice.
func (q *Queue) Submit(ctx context.Context, a domain.Alert) (bool, error) {
	q.mu.Lock()
	if q.inFlight || !q.windowOpenLocked() {
		q.state.Pending = append(q.state.Pending, a)
		depth := len(q.state.Pending)
		q.mu.Unlock()

		q.metrics.AlertsQueued.Inc()
		q.metrics.PendingAlerts.Set(float64(depth))
		q.logger.Info("alert queued for later delivery", "pending", depth)
		return false, nil
	}
	q.inFlight = true
	q.mu.Unlock()

	if err := q.attempt(ctx, a); err != nil {
		return false, err
	}
	// A successful post also drains the head of pending, subject to the
	// same spacing check. Errors there concern a different alert and are
	// already counted and logged by attempt.
	_, _ = q.Drain(ctx)
	return true, nil
}

// Drain posts pending alerts from the head while the spacing window is
// open, stopping at the first failure. It returns how many alerts were
// delivered. Pending order is never disturbed: an alert whose turn has
// not come stays at the front, ahead of any newer submissions.
func (q *Queue) Drain(ctx context.Context) (int, error) {
	delivered := 0
	for {
		ok, err := q.deliverHead(ctx)
		if err != nil {
			return delivered, err
		}
		if !ok {
			return delivered, nil
		}
		delivered++
	}
}

// Run drains the queue on a timer so a deferred alert is eventually
// posted even when no further traffic arrives. It returns when ctx is
// done.
func (q *Queue) Run(ctx context.Context) {
	interval := q.spacing
	if interval <= 0 || interval > time.Second {
		interval = time.Second
	}
	ticker := q.clock.NewTicker(interval)
	defer ticker.Stop()

	q.logger.Info("delivery queue started", "spacing", q.spacing.String())
	for {
		select {
		case <-ctx.Done():
			q.logger.Info("delivery queue stopped", "pending", q.PendingLen())
			return
		case <-ticker.Chan():
			_, _ = q.Drain(ctx)
		}
	}
}

// LastDelivered returns a copy of the most recently posted alert, or
// nil when nothing has been posted yet.
func (q *Queue) LastDelivered() *domain.Alert {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state.LastSent == nil {
		return nil
	}
	cp := *q.state.LastSent
	return &cp
}

// DeliveredCount returns how many notes have been posted.
func (q *Queue) DeliveredCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state.DeliveredCount
}

// PendingLen returns how many alerts are waiting for the window.
func (q *Queue) PendingLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.state.Pending)
}

// windowOpenLocked reports whether enough time has passed since the
// last successful post. Callers hold q.mu.
func (q *Queue) windowOpenLocked() bool {
	if q.state.LastSentAt.IsZero() {
		return true
	}
	return q.clock.Now().Sub(q.state.LastSentAt) >= q.spacing
}

// deliverHead pops and posts the head pending alert when the window is
// open and nothing is in flight. The head stays put otherwise.
func (q *Queue) deliverHead(ctx context.Context) (bool, error) {
	q.mu.Lock()
	if q.inFlight || len(q.state.Pending) == 0 || !q.windowOpenLocked() {
		q.mu.Unlock()
		return false, nil
	}
	head := q.state.Pending[0]
	q.state.Pending = q.state.Pending[1:]
	q.inFlight = true
	depth := len(q.state.Pending)
	q.mu.Unlock()

	q.metrics.PendingAlerts.Set(float64(depth))
	if err := q.attempt(ctx, head); err != nil {
		return false, err
	}
	return true, nil
}

// attempt performs one sink post. The caller has set inFlight; attempt
// clears it and, on success, advances the delivery state. The sink call
// happens outside the lock so normalization and filtering continue
// while a post is outstanding.
func (q *Queue) attempt(ctx context.Context, a domain.Alert) error {
	text, cw := q.render(a)
	noteID, err := q.sink.Post(ctx, text, PostOptions{Visibility: q.visibility, ContentWarning: cw})

	q.mu.Lock()
	q.inFlight = false
	if err != nil {
		q.mu.Unlock()
		q.metrics.DeliveryErrors.Inc()
		q.logger.Error("sink post failed", "error", err)
		return fmt.Errorf("post note: %w", err)
	}
	q.state.LastSentAt = q.clock.Now()
	sent := a
	q.state.LastSent = &sent
	q.state.DeliveredCount++
	count := q.state.DeliveredCount
	q.mu.Unlock()

	q.metrics.AlertsDelivered.Inc()
	q.logger.Info("note posted", "note_id", noteID, "score", domain.Score(a), "delivered_count", count)
	return nil
}
