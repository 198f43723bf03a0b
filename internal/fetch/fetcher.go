package fetch

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/ytscriptify/transcriber/internal/domain"
)

// ErrNoCaptions means the video exists but has no captions to fetch.
// The hint text matches what clients have come to expect from the API.
var ErrNoCaptions = errors.New("video has no captions available (try videos from TED Talks, Khan Academy, or news channels)")

// Fetcher retrieves the transcript for a YouTube video id. Errors are
// classified as domain.TransientFetchError or domain.PermanentFetchError;
// anything else is treated as permanent by the worker.
type Fetcher interface {
	Fetch(ctx context.Context, videoID string) (string, error)
}

const defaultBaseURL = "https://video.google.com/timedtext"

// TimedTextFetcher pulls captions from YouTube's timedtext endpoint.
type TimedTextFetcher struct {
	client  *http.Client
	baseURL string
	lang    string
	logger  *slog.Logger
}

// NewTimedTextFetcher creates a fetcher. The per-request timeout is enforced
// by the caller's context, not by the http.Client, so the worker stays in
// control of the fetch budget.
func NewTimedTextFetcher(client *http.Client, baseURL, lang string, logger *slog.Logger) *TimedTextFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if lang == "" {
		lang = "en"
	}
	return &TimedTextFetcher{
		client:  client,
		baseURL: baseURL,
		lang:    lang,
		logger:  logger,
	}
}

// segment mirrors one <text> element of the timedtext XML.
type segment struct {
	Start float64 `xml:"start,attr" json:"start"`
	Dur   float64 `xml:"dur,attr" json:"duration"`
	Text  string  `xml:",chardata" json:"text"`
}

type timedText struct {
	Segments []segment `xml:"text"`
}

// Fetch downloads and parses the transcript, returning it as a JSON array of
// {text, start, duration} entries in the shape callback consumers expect.
func (f *TimedTextFetcher) Fetch(ctx context.Context, videoID string) (string, error) {
	endpoint := fmt.Sprintf("%s?lang=%s&v=%s", f.baseURL, url.QueryEscape(f.lang), url.QueryEscape(videoID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", domain.NewPermanentFetchError(fmt.Errorf("failed to build request: %w", err))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		// Network errors and context timeouts are worth retrying.
		return "", domain.NewTransientFetchError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", domain.NewTransientFetchError(fmt.Errorf("timedtext returned status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		return "", domain.NewPermanentFetchError(fmt.Errorf("video %s not found", videoID))
	case resp.StatusCode != http.StatusOK:
		return "", domain.NewPermanentFetchError(fmt.Errorf("timedtext returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", domain.NewTransientFetchError(fmt.Errorf("failed to read response: %w", err))
	}

	// The endpoint answers 200 with an empty body when no captions exist.
	if len(strings.TrimSpace(string(body))) == 0 {
		return "", domain.NewPermanentFetchError(ErrNoCaptions)
	}

	var parsed timedText
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return "", domain.NewPermanentFetchError(fmt.Errorf("failed to parse timedtext: %w", err))
	}
	if len(parsed.Segments) == 0 {
		return "", domain.NewPermanentFetchError(ErrNoCaptions)
	}

	encoded, err := json.Marshal(parsed.Segments)
	if err != nil {
		return "", domain.NewPermanentFetchError(fmt.Errorf("failed to encode transcript: %w", err))
	}

	f.logger.Debug("Transcript fetched",
		slog.String("video_id", videoID),
		slog.Int("segments", len(parsed.Segments)),
	)

	return string(encoded), nil
}
