package fetch

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ytscriptify/transcriber/internal/domain"
)

const sampleTimedText = `<?xml version="1.0" encoding="utf-8"?>
<transcript>
  <text start="0.0" dur="1.54">hello world</text>
  <text start="1.54" dur="2.1">second line</text>
</transcript>`

func testFetcher(srvURL string) *TimedTextFetcher {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewTimedTextFetcher(nil, srvURL, "en", logger)
}

func TestFetch_ParsesSegments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "en", r.URL.Query().Get("lang"))
		assert.Equal(t, "dQw4w9WgXcQ", r.URL.Query().Get("v"))
		io.WriteString(w, sampleTimedText)
	}))
	defer srv.Close()

	data, err := testFetcher(srv.URL).Fetch(context.Background(), "dQw4w9WgXcQ")
	require.NoError(t, err)

	var segments []struct {
		Text     string  `json:"text"`
		Start    float64 `json:"start"`
		Duration float64 `json:"duration"`
	}
	require.NoError(t, json.Unmarshal([]byte(data), &segments))
	require.Len(t, segments, 2)
	assert.Equal(t, "hello world", segments[0].Text)
	assert.InDelta(t, 0.0, segments[0].Start, 1e-9)
	assert.InDelta(t, 1.54, segments[0].Duration, 1e-9)
}

func TestFetch_ErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantTransient bool
	}{
		{"server error is transient", http.StatusInternalServerError, "", true},
		{"rate limited is transient", http.StatusTooManyRequests, "", true},
		{"not found is permanent", http.StatusNotFound, "", false},
		{"forbidden is permanent", http.StatusForbidden, "", false},
		{"empty body is permanent", http.StatusOK, "", false},
		{"no segments is permanent", http.StatusOK, "<transcript></transcript>", false},
		{"garbage xml is permanent", http.StatusOK, "{not xml}", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := testFetcher(srv.URL).Fetch(context.Background(), "dQw4w9WgXcQ")
			require.Error(t, err)
			if tt.wantTransient {
				assert.True(t, domain.IsTransientFetch(err), "expected transient, got %v", err)
			} else {
				assert.True(t, domain.IsPermanentFetch(err), "expected permanent, got %v", err)
			}
		})
	}
}

func TestFetch_ConnectionErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	srv.Close() // refuse connections

	_, err := testFetcher(srv.URL).Fetch(context.Background(), "dQw4w9WgXcQ")
	require.Error(t, err)
	assert.True(t, domain.IsTransientFetch(err))
}

func TestFetch_ContextTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := testFetcher(srv.URL).Fetch(ctx, "dQw4w9WgXcQ")
	require.Error(t, err)
	assert.True(t, domain.IsTransientFetch(err))
}

func TestFetch_NoCaptionsHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "<transcript></transcript>")
	}))
	defer srv.Close()

	_, err := testFetcher(srv.URL).Fetch(context.Background(), "dQw4w9WgXcQ")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoCaptions)
}
