package polecat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jordanhubbard/rigs/internal/refinery"
)

// rateLimitStatus is the wire shape a provider's rate-limit side-channel
// reports: either an explicit window, or a "seconds until reset" duration
// from which window_start/window_end are derived.
type rateLimitStatus struct {
	Capacity           float64 `json:"capacity"`
	Remaining          float64 `json:"remaining"`
	WindowStart        *int64  `json:"window_start,omitempty"`
	WindowEnd          *int64  `json:"window_end,omitempty"`
	SecondsUntilReset  *int64  `json:"seconds_until_reset,omitempty"`
	WindowLengthSeconds int64  `json:"window_length_seconds,omitempty"`
}

// HTTPRefresher polls a provider's rate-limit status endpoint and adapts it
// to the Refinery's RefreshFunc contract.
type HTTPRefresher struct {
	Endpoint            string
	APIKey              string
	Client              *http.Client
	DefaultWindowLength time.Duration // used when the provider reports only seconds_until_reset
}

// NewHTTPRefresher returns an HTTPRefresher with a conservative default
// client timeout; callers still control the overall deadline via ctx.
func NewHTTPRefresher(endpoint, apiKey string, defaultWindowLength time.Duration) *HTTPRefresher {
	return &HTTPRefresher{
		Endpoint:            endpoint,
		APIKey:              apiKey,
		Client:              &http.Client{Timeout: 30 * time.Second},
		DefaultWindowLength: defaultWindowLength,
	}
}

// Fetch implements refinery.RefreshFunc. When the provider reports only
// seconds_until_reset, window_end = now + seconds_until_reset and
// window_start = window_end - DefaultWindowLength, per the spec's own
// recommendation for the rolling-window ambiguity.
func (h *HTTPRefresher) Fetch(ctx context.Context) (capacity, remaining float64, windowStart, windowEnd time.Time, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.Endpoint, nil)
	if err != nil {
		return 0, 0, time.Time{}, time.Time{}, fmt.Errorf("polecat: build refresh request: %w", err)
	}
	if h.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.APIKey)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return 0, 0, time.Time{}, time.Time{}, fmt.Errorf("polecat: refresh request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, 0, time.Time{}, time.Time{}, fmt.Errorf("polecat: read refresh response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return 0, 0, time.Time{}, time.Time{}, fmt.Errorf("polecat: refresh HTTP %d: %s", resp.StatusCode, body)
	}

	var status rateLimitStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return 0, 0, time.Time{}, time.Time{}, fmt.Errorf("polecat: malformed refresh response: %w", err)
	}

	now := time.Now()
	switch {
	case status.WindowStart != nil && status.WindowEnd != nil:
		windowStart = time.Unix(*status.WindowStart, 0)
		windowEnd = time.Unix(*status.WindowEnd, 0)
	case status.SecondsUntilReset != nil:
		windowEnd = now.Add(time.Duration(*status.SecondsUntilReset) * time.Second)
		length := h.DefaultWindowLength
		if status.WindowLengthSeconds > 0 {
			length = time.Duration(status.WindowLengthSeconds) * time.Second
		}
		windowStart = windowEnd.Add(-length)
	default:
		windowStart = now
		windowEnd = now.Add(h.DefaultWindowLength)
	}

	return status.Capacity, status.Remaining, windowStart, windowEnd, nil
}

// AsRefreshFunc adapts h to the refinery.RefreshFunc signature rigsd wires
// into the Refinery's fetchers map.
func (h *HTTPRefresher) AsRefreshFunc() refinery.RefreshFunc {
	return h.Fetch
}
