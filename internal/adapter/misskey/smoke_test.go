//go:build misskey

package misskey

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rassi0429/eew4reso/internal/delivery"
	"github.com/rassi0429/eew4reso/internal/observability"
)

// These tests hit a real Misskey instance and require MISSKEY_URL and
// MISSKEY_TOKEN env vars. Run with:
// go test -tags=misskey ./internal/adapter/misskey/ -v -count=1

func smokeClient(t *testing.T) *Client {
	t.Helper()
	baseURL := os.Getenv("MISSKEY_URL")
	token := os.Getenv("MISSKEY_TOKEN")
	if baseURL == "" || token == "" {
		t.Fatal("MISSKEY_URL and MISSKEY_TOKEN must be set to run smoke tests")
	}
	return &Client{
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:    observability.NewMetricsForTesting(),
	}
}

func TestSmoke_Connectivity(t *testing.T) {
	c := smokeClient(t)
	assert.True(t, c.TestConnectivity(context.Background()))
}

func TestSmoke_Post(t *testing.T) {
	// Posts a real note to the configured account; opt in explicitly.
	if os.Getenv("MISSKEY_SMOKE_POST") != "true" {
		t.Skip("set MISSKEY_SMOKE_POST=true to post a real note")
	}

	c := smokeClient(t)
	id, err := c.Post(context.Background(), "接続テスト", delivery.PostOptions{Visibility: "followers"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}
