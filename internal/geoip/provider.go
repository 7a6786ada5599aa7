package geoip

import (
	"context"
	"io"
	"net/http"

	"codeberg.org/mutker/hmsd/internal/errors"
)

const maxBodySize = 1 << 20

// Provider is a remote geo-IP service
type Provider interface {
	// Name is the stable identifier used for configuration lookup and diagnostics
	Name() string
	// RetrieveLocation performs one lookup of the caller's public address
	RetrieveLocation(ctx context.Context) (Info, error)
}

// URLResolver resolves a provider's base URL by provider name
type URLResolver interface {
	GeoIPURL(name string) (string, error)
}

// Doer sends HTTP requests; *http.Client and *pester.Client satisfy it
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type decodeFunc func(body []byte) (Info, error)

// httpProvider holds the transport shared by the concrete providers. The
// base URL is resolved on every call so configuration reloads apply without
// rebuilding providers.
type httpProvider struct {
	name   string
	urls   URLResolver
	client Doer
	decode decodeFunc
}

func (p *httpProvider) Name() string {
	return p.name
}

func (p *httpProvider) RetrieveLocation(ctx context.Context) (Info, error) {
	errFactory := errors.New()

	baseURL, err := p.urls.GeoIPURL(p.name)
	if err != nil {
		return Info{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, http.NoBody)
	if err != nil {
		return Info{}, errFactory.WithData(ErrNotConfigured, requestFailure{
			Provider: p.name,
			Error:    err.Error(),
		})
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Info{}, errFactory.Wrap(ErrNetwork, err).WithData(requestFailure{
			Provider: p.name,
			Error:    err.Error(),
		})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return Info{}, errFactory.Wrap(ErrNetwork, err)
	}

	return parseResponse(p.name, resp.StatusCode, body, p.decode)
}

func parseResponse(name string, status int, body []byte, decode decodeFunc) (Info, error) {
	errFactory := errors.New()

	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return Info{}, errFactory.WithData(ErrNetwork, requestFailure{
			Provider: name,
			Status:   status,
			Error:    http.StatusText(status),
		})
	}

	info, err := decode(body)
	if err != nil {
		return Info{}, errFactory.Wrap(ErrNetwork, err).WithData(requestFailure{
			Provider: name,
			Status:   status,
			Error:    "malformed body: " + err.Error(),
		})
	}

	return info, nil
}
