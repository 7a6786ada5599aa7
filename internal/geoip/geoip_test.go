package geoip

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"codeberg.org/mutker/hmsd/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type urlMap map[string]string

func (m urlMap) GeoIPURL(name string) (string, error) {
	if url, ok := m[name]; ok {
		return url, nil
	}
	return "", errors.New().WithData(errors.ErrProviderNotConfigured, name)
}

const freeGeoIPBody = `{
	"ip": "203.0.113.7",
	"country_code": "US",
	"country_name": "United States",
	"region": "California",
	"city": "San Jose",
	"postal_code": "95141",
	"timezone_name": "America/Los_Angeles",
	"latitude": 37.1835,
	"longitude": -121.7714,
	"currency_code": "USD"
}`

const ipAPIBody = `{
	"status": "success",
	"query": "203.0.113.7",
	"countryCode": "US",
	"country": "United States",
	"regionName": "California",
	"city": "San Jose",
	"zip": "95141",
	"timezone": "America/Los_Angeles",
	"lat": 37.1835,
	"lon": -121.7714,
	"currency": "USD"
}`

func TestAdaptersNormalizeToSameShape(t *testing.T) {
	a, err := decodeFreeGeoIP([]byte(freeGeoIPBody))
	require.NoError(t, err)
	b, err := decodeIPAPI([]byte(ipAPIBody))
	require.NoError(t, err)

	assert.Equal(t, "US", a.CountryCode)
	assert.Equal(t, "US", b.CountryCode)
	assert.Equal(t, a, b)

	assert.Equal(t, Info{
		IP:           "203.0.113.7",
		CountryCode:  "US",
		CountryName:  "United States",
		RegionName:   "California",
		City:         "San Jose",
		PostalCode:   "95141",
		TimeZone:     "America/Los_Angeles",
		Latitude:     37.1835,
		Longitude:    -121.7714,
		CurrencyCode: "USD",
	}, a)
}

func TestAdaptersTolerateMissingFields(t *testing.T) {
	a, err := decodeFreeGeoIP([]byte(`{"country_code":"IT","city":null}`))
	require.NoError(t, err)
	assert.Equal(t, Info{CountryCode: "IT"}, a)

	b, err := decodeIPAPI([]byte(`{"countryCode":"IT","lat":null}`))
	require.NoError(t, err)
	assert.Equal(t, Info{CountryCode: "IT"}, b)
}

func TestIPAPIFailStatus(t *testing.T) {
	_, err := decodeIPAPI([]byte(`{"status":"fail","message":"reserved range"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved range")
}

func TestParseResponse(t *testing.T) {
	t.Run("non-2xx status is a network error", func(t *testing.T) {
		_, err := parseResponse("ipapi", http.StatusBadGateway, []byte(`{}`), decodeIPAPI)
		require.Error(t, err)
		assert.True(t, errors.IsNetwork(err))
	})

	t.Run("malformed body is a network error", func(t *testing.T) {
		_, err := parseResponse("ipapi", http.StatusOK, []byte(`{invalid json`), decodeIPAPI)
		require.Error(t, err)
		assert.True(t, errors.IsNetwork(err))
	})
}

func TestProviderRetrieveLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/a":
			_, _ = w.Write([]byte(freeGeoIPBody))
		case "/b":
			_, _ = w.Write([]byte(ipAPIBody))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	urls := urlMap{
		FreeGeoIPName: srv.URL + "/a",
		IPAPIName:     srv.URL + "/b",
	}

	a, err := NewFreeGeoIP(urls, srv.Client()).RetrieveLocation(context.Background())
	require.NoError(t, err)
	b, err := NewIPAPI(urls, srv.Client()).RetrieveLocation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, a, b)

	t.Run("missing base URL is a configuration error", func(t *testing.T) {
		_, err := NewIPAPI(urlMap{}, srv.Client()).RetrieveLocation(context.Background())
		require.Error(t, err)
		assert.True(t, errors.IsConfiguration(err))
	})

	t.Run("unreachable endpoint is a network error", func(t *testing.T) {
		dead := httptest.NewServer(http.NotFoundHandler())
		deadURL := dead.URL
		dead.Close()

		_, err := NewIPAPI(urlMap{IPAPIName: deadURL}, http.DefaultClient).RetrieveLocation(context.Background())
		require.Error(t, err)
		assert.True(t, errors.IsNetwork(err))
	})

	t.Run("not found is a network error", func(t *testing.T) {
		_, err := NewIPAPI(urlMap{IPAPIName: srv.URL + "/missing"}, srv.Client()).RetrieveLocation(context.Background())
		require.Error(t, err)
		assert.True(t, errors.IsNetwork(err))
	})
}

type fakeProvider struct {
	name  string
	info  Info
	err   error
	calls atomic.Int32
	delay time.Duration
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) RetrieveLocation(ctx context.Context) (Info, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return Info{}, ctx.Err()
		}
	}
	return p.info, p.err
}

func TestResolverFailover(t *testing.T) {
	first := &fakeProvider{name: "first", err: stderrors.New("down")}
	second := &fakeProvider{name: "second", info: Info{CountryCode: "DE"}}

	r := NewResolver([]Provider{second, first}, []string{"first", "second"}, time.Second, "")
	assert.Equal(t, []string{"first", "second"}, r.Names())
	assert.Empty(t, r.Selected())

	info, name, err := r.Locate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second", name)
	assert.Equal(t, "DE", info.CountryCode)
	assert.Equal(t, "second", r.Selected())
	assert.EqualValues(t, 1, first.calls.Load())

	// The selected provider is sticky
	_, name, err = r.Locate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second", name)
	assert.EqualValues(t, 1, first.calls.Load())
}

func TestResolverAllFail(t *testing.T) {
	r := NewResolver([]Provider{
		&fakeProvider{name: "a", err: stderrors.New("a down")},
		&fakeProvider{name: "b", err: stderrors.New("b down")},
	}, nil, time.Second, "")

	_, _, err := r.Locate(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsNetwork(err))
	assert.Contains(t, err.Error(), "a down")
	assert.Contains(t, err.Error(), "b down")
	assert.Empty(t, r.Selected())
}

func TestResolverTimeoutPerProvider(t *testing.T) {
	slow := &fakeProvider{name: "slow", delay: time.Minute}
	fast := &fakeProvider{name: "fast", info: Info{City: "Rome"}}

	r := NewResolver([]Provider{slow, fast}, []string{"slow", "fast"}, 20*time.Millisecond, "")

	info, name, err := r.Locate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fast", name)
	assert.Equal(t, "Rome", info.City)
}

func TestResolverNoProviders(t *testing.T) {
	_, _, err := NewResolver(nil, nil, 0, "").Locate(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrNoProviders))
}

func TestResolverPreferred(t *testing.T) {
	r := NewResolver([]Provider{&fakeProvider{name: "a"}, &fakeProvider{name: "b"}}, nil, 0, "b")
	assert.Equal(t, "b", r.Selected())

	r = NewResolver([]Provider{&fakeProvider{name: "a"}}, nil, 0, "gone")
	assert.Empty(t, r.Selected())
}

func TestInfoMap(t *testing.T) {
	m := Info{CountryCode: "US", Latitude: 37.5, Longitude: -121}.Map()
	assert.Equal(t, "US", m["countryCode"])
	assert.Equal(t, "37.5", m["latitude"])
	assert.Equal(t, "-121", m["longitude"])
	assert.Len(t, m, 10)
}
