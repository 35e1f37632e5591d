package transport

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/samandr77/microservices/billing/pkg/logger"
)

// LogRoundTripper logs outgoing requests with their duration and forwards the request id of the
// incoming call.
type LogRoundTripper struct {
	Transport http.RoundTripper
}

func NewLogRoundTripper(transport http.RoundTripper) *LogRoundTripper {
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &LogRoundTripper{Transport: transport}
}

func (l *LogRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx := r.Context()

	reqID := logger.RequestIDFromCtx(ctx)
	if reqID != "" {
		r = r.Clone(ctx)
		r.Header.Set("X-Request-Id", reqID)
	}

	target := fmt.Sprintf("%s %s", r.Method, r.URL.Redacted())

	slog.InfoContext(ctx, "outgoing request", "request", target)

	started := time.Now()

	resp, err := l.Transport.RoundTrip(r)
	if err != nil {
		slog.WarnContext(ctx, "outgoing request failed", "request", target, "took", time.Since(started).String(), "error", err)
		return nil, fmt.Errorf("round trip: %w", err)
	}

	slog.InfoContext(ctx, "incoming response",
		"response", target,
		"status", resp.StatusCode,
		"took", time.Since(started).String(),
	)

	return resp, nil
}
