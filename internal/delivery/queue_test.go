package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rassi0429/eew4reso/internal/domain"
	"github.com/rassi0429/eew4reso/internal/observability"
)

// --- fake sink ---

type sinkPost struct {
	text string
	opts PostOptions
}

type fakeSink struct {
	mu      sync.Mutex
	posts   []sinkPost
	err     error
	block   chan struct{} // when set, Post waits for close
	entered chan struct{} // when set, Post signals on entry
}

func (s *fakeSink) Post(_ context.Context, content string, opts PostOptions) (string, error) {
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts = append(s.posts, sinkPost{text: content, opts: opts})
	if s.err != nil {
		return "", s.err
	}
	return fmt.Sprintf("note-%d", len(s.posts)), nil
}

func (s *fakeSink) TestConnectivity(context.Context) bool { return true }

func (s *fakeSink) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.posts))
	for i, p := range s.posts {
		out[i] = p.text
	}
	return out
}

func (s *fakeSink) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// --- helpers ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func alertNamed(name string) domain.Alert {
	return domain.Alert{Warning: true, FreeText: name}
}

func renderName(a domain.Alert) (string, string) {
	return a.FreeText, ""
}

func newTestQueue(sink Sink, opts Options) *Queue {
	return New(sink, renderName, opts, discardLogger(), observability.NewMetricsForTesting())
}

// --- tests ---

func TestSubmit_DeliversImmediatelyWhenWindowOpen(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2026, time.February, 14, 9, 0, 0, 0, time.UTC))
	sink := &fakeSink{}
	q := newTestQueue(sink, Options{Spacing: time.Minute, Visibility: "home", Clock: clk})

	delivered, err := q.Submit(context.Background(), alertNamed("first"))

	require.NoError(t, err)
	assert.True(t, delivered)
	assert.Equal(t, []string{"first"}, sink.texts())
	assert.Equal(t, "home", sink.posts[0].opts.Visibility)
	assert.Equal(t, 1, q.DeliveredCount())
	assert.Equal(t, 0, q.PendingLen())

	last := q.LastDelivered()
	require.NotNil(t, last)
	assert.Equal(t, "first", last.FreeText)
}

func TestSubmit_QueuesWithinSpacingWindow(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2026, time.February, 14, 9, 0, 0, 0, time.UTC))
	sink := &fakeSink{}
	q := newTestQueue(sink, Options{Spacing: time.Minute, Clock: clk})
	ctx := context.Background()

	delivered, err := q.Submit(ctx, alertNamed("first"))
	require.NoError(t, err)
	require.True(t, delivered)

	clk.Advance(30 * time.Second)
	delivered, err = q.Submit(ctx, alertNamed("second"))
	require.NoError(t, err)
	assert.False(t, delivered)
	assert.Equal(t, 1, q.PendingLen())
	assert.Equal(t, []string{"first"}, sink.texts())

	// Still inside the window, drain delivers nothing.
	n, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clk.Advance(30 * time.Second)
	n, err = q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"first", "second"}, sink.texts())
	assert.Equal(t, 0, q.PendingLen())
	assert.Equal(t, 2, q.DeliveredCount())
}

func TestSubmit_SinkFailureLeavesStateUntouched(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2026, time.February, 14, 9, 0, 0, 0, time.UTC))
	sink := &fakeSink{err: errors.New("misskey down")}
	q := newTestQueue(sink, Options{Spacing: time.Minute, Clock: clk})
	ctx := context.Background()

	delivered, err := q.Submit(ctx, alertNamed("first"))

	require.Error(t, err)
	assert.ErrorContains(t, err, "post note")
	assert.False(t, delivered)
	assert.Equal(t, 0, q.DeliveredCount())
	assert.Nil(t, q.LastDelivered())
	assert.Equal(t, 0, q.PendingLen())

	// The spacing window never advanced, so a retry posts right away.
	sink.setErr(nil)
	delivered, err = q.Submit(ctx, alertNamed("retry"))
	require.NoError(t, err)
	assert.True(t, delivered)
	assert.Equal(t, 1, q.DeliveredCount())
}

func TestDrain_FailedHeadIsNotRequeued(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2026, time.February, 14, 9, 0, 0, 0, time.UTC))
	sink := &fakeSink{err: errors.New("misskey down")}
	state := &State{Pending: []domain.Alert{alertNamed("doomed"), alertNamed("survivor")}}
	q := newTestQueue(sink, Options{Spacing: time.Minute, Clock: clk, State: state})
	ctx := context.Background()

	n, err := q.Drain(ctx)

	require.Error(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, q.PendingLen())
	assert.Equal(t, 0, q.DeliveredCount())

	sink.setErr(nil)
	n, err = q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	last := q.LastDelivered()
	require.NotNil(t, last)
	assert.Equal(t, "survivor", last.FreeText)
	assert.Equal(t, 0, q.PendingLen())
}

func TestDrain_PreservesArrivalOrder(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2026, time.February, 14, 9, 0, 0, 0, time.UTC))
	sink := &fakeSink{}
	q := newTestQueue(sink, Options{Spacing: time.Minute, Clock: clk})
	ctx := context.Background()

	_, err := q.Submit(ctx, alertNamed("first"))
	require.NoError(t, err)
	for _, name := range []string{"second", "third"} {
		delivered, err := q.Submit(ctx, alertNamed(name))
		require.NoError(t, err)
		require.False(t, delivered)
	}

	// Each window opening releases exactly one alert, oldest first.
	clk.Advance(time.Minute)
	n, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"first", "second"}, sink.texts())
	assert.Equal(t, 1, q.PendingLen())

	clk.Advance(time.Minute)
	n, err = q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"first", "second", "third"}, sink.texts())
	assert.Equal(t, 3, q.DeliveredCount())
}

func TestSubmit_ChainsThroughPendingWhenSpacingZero(t *testing.T) {
	sink := &fakeSink{}
	state := &State{Pending: []domain.Alert{alertNamed("second"), alertNamed("third")}}
	q := newTestQueue(sink, Options{Spacing: 0, State: state})

	delivered, err := q.Submit(context.Background(), alertNamed("first"))

	require.NoError(t, err)
	assert.True(t, delivered)
	assert.Equal(t, []string{"first", "second", "third"}, sink.texts())
	assert.Equal(t, 3, q.DeliveredCount())
	assert.Equal(t, 0, q.PendingLen())
}

func TestSubmit_QueuesWhilePostOutstanding(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2026, time.February, 14, 9, 0, 0, 0, time.UTC))
	sink := &fakeSink{
		block:   make(chan struct{}),
		entered: make(chan struct{}, 4),
	}
	q := newTestQueue(sink, Options{Spacing: time.Minute, Clock: clk})
	ctx := context.Background()

	type submitResult struct {
		delivered bool
		err       error
	}
	resCh := make(chan submitResult, 1)
	go func() {
		delivered, err := q.Submit(ctx, alertNamed("first"))
		resCh <- submitResult{delivered, err}
	}()

	// Wait for the first post to be in flight, then submit another. The
	// window is technically open but the outstanding post must win.
	<-sink.entered
	delivered, err := q.Submit(ctx, alertNamed("second"))
	require.NoError(t, err)
	assert.False(t, delivered)
	assert.Equal(t, 1, q.PendingLen())

	close(sink.block)
	res := <-resCh
	require.NoError(t, res.err)
	assert.True(t, res.delivered)

	// The second alert is still waiting for its window.
	assert.Equal(t, []string{"first"}, sink.texts())
	clk.Advance(time.Minute)
	n, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"first", "second"}, sink.texts())
}

func TestRun_DrainsOnTimer(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2026, time.February, 14, 9, 0, 0, 0, time.UTC))
	sink := &fakeSink{}
	q := newTestQueue(sink, Options{Spacing: time.Minute, Clock: clk})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()
	require.NoError(t, clk.BlockUntilContext(ctx, 1))

	delivered, err := q.Submit(ctx, alertNamed("first"))
	require.NoError(t, err)
	require.True(t, delivered)
	delivered, err = q.Submit(ctx, alertNamed("second"))
	require.NoError(t, err)
	require.False(t, delivered)

	clk.Advance(time.Minute)
	assert.Eventually(t, func() bool {
		return q.DeliveredCount() == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"first", "second"}, sink.texts())

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestLastDelivered_ReturnsCopy(t *testing.T) {
	sink := &fakeSink{}
	q := newTestQueue(sink, Options{Spacing: 0})

	_, err := q.Submit(context.Background(), alertNamed("original"))
	require.NoError(t, err)

	first := q.LastDelivered()
	require.NotNil(t, first)
	first.FreeText = "mutated"

	second := q.LastDelivered()
	require.NotNil(t, second)
	assert.Equal(t, "original", second.FreeText)
}
