package router

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ytscriptify/transcriber/internal/api/handler"
	"github.com/ytscriptify/transcriber/internal/domain"
	"github.com/ytscriptify/transcriber/internal/orchestrator"
)

type stubJobService struct{}

func (stubJobService) Submit(context.Context, []string, string) (*domain.Job, error) {
	return &domain.Job{JobID: "j-1", Status: domain.JobStatusPending}, nil
}

func (stubJobService) GetJob(context.Context, string) (*domain.Job, []domain.Transcript, error) {
	return &domain.Job{JobID: "j-1"}, nil, nil
}

func (stubJobService) ListJobs(context.Context, orchestrator.ListQuery) (*orchestrator.ListResult, error) {
	return &orchestrator.ListResult{}, nil
}

func (stubJobService) Cancel(context.Context, string) error {
	return nil
}

func newTestRouter(apiKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return SetupRouter(&handler.Dependencies{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Jobs:    stubJobService{},
		APIKey:  apiKey,
		Version: "1.2.3",
	})
}

func TestHealthEndpoint(t *testing.T) {
	r := newTestRouter("")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "transcriber-api", body["service"])
	assert.Equal(t, "1.2.3", body["version"])
}

func TestAPIKeyMiddleware(t *testing.T) {
	r := newTestRouter("secret")

	// Health stays open.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	// API routes require the key.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Wrong key is rejected.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	req.Header.Set("X-API-Key", "wrong")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Correct key passes through.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	req.Header.Set("X-API-Key", "secret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
