// Package gateway delivers telemetry payloads to the remote collection
// endpoint.
package gateway

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"codeberg.org/mutker/hmsd/internal/errors"
	"codeberg.org/mutker/hmsd/internal/logger"
	"github.com/sethgrid/pester"
)

const (
	contentTypeJSON = "application/json"
	maxErrorBody    = 4 << 10
)

// Doer sends HTTP requests; *pester.Client satisfies it
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewClient returns a retrying HTTP client. Transport errors and 5xx
// responses are retried up to attempts times with jittered backoff.
func NewClient(timeout time.Duration, attempts int) *pester.Client {
	client := pester.New()
	client.Timeout = timeout
	client.MaxRetries = attempts
	client.Backoff = pester.ExponentialJitterBackoff
	client.KeepLog = false
	return client
}

// HTTPGateway posts JSON payloads to a fixed endpoint
type HTTPGateway struct {
	endpoint  string
	userAgent string
	client    Doer
}

func New(endpoint, userAgent string, client Doer) (*HTTPGateway, error) {
	if endpoint == "" {
		return nil, errors.New().WithMessage(ErrNoEndpoint, "telemetry endpoint is not configured")
	}

	return &HTTPGateway{
		endpoint:  endpoint,
		userAgent: userAgent,
		client:    client,
	}, nil
}

func (g *HTTPGateway) Endpoint() string {
	return g.endpoint
}

// Send posts body and succeeds only on a 2xx answer
func (g *HTTPGateway) Send(ctx context.Context, body []byte) error {
	errFactory := errors.New()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return errFactory.Wrap(ErrBuildRequestFail, err)
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}

	logger.Debug().Str("endpoint", g.endpoint).Int("bytes", len(body)).Msg("Posting telemetry payload")

	resp, err := g.client.Do(req)
	if err != nil {
		return errFactory.Wrap(ErrNetwork, err).WithData(sendFailure{
			Endpoint: g.endpoint,
			Error:    err.Error(),
		})
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := http.StatusText(resp.StatusCode)
		if len(bytes.TrimSpace(detail)) > 0 {
			msg += ": " + string(bytes.TrimSpace(detail))
		}
		return errFactory.WithData(ErrNetwork, sendFailure{
			Endpoint: g.endpoint,
			Status:   resp.StatusCode,
			Error:    msg,
		})
	}

	// Drain so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	return nil
}
