package delivery

import (
	"context"

	"github.com/rassi0429/eew4reso/internal/domain"
)

// PostOptions carries the per-note options handed to the sink.
type PostOptions struct {
	Visibility     string
	ContentWarning string
}

// Sink is the external note-posting service. Authentication, timeouts,
// and bounded retry all live behind this interface; the queue only sees
// one attempt succeed or fail.
type Sink interface {
	// Post publishes one note and returns its ID.
	Post(ctx context.Context, content string, opts PostOptions) (string, error)
	// TestConnectivity reports whether the sink is reachable with the
	// configured credentials.
	TestConnectivity(ctx context.Context) bool
}

// RenderFunc turns a canonical alert into note text and an optional
// content warning.
type RenderFunc func(a domain.Alert) (text, contentWarning string)
