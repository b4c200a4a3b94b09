package esi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(srv.URL, time.Second, WithUserAgent("esistatus/test (+https://example.invalid) Go-http-client/1"))
}

func TestClientURLs(t *testing.T) {
	c := NewClient("https://esi.example.com/", 0)

	assert.Equal(t, "https://esi.example.com/meta/compatibility-dates", c.CompatibilityDatesURL())
	assert.Equal(t, "https://esi.example.com/meta/status?compatibility_date=2025-11-06", c.StatusURL("2025-11-06"))
	assert.Equal(t, "https://esi.example.com/meta/openapi.json?compatibility_date=2025-11-06", c.OpenAPIURL("2025-11-06"))
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient("", 0)
	assert.Equal(t, DefaultBaseURL+compatibilityDatesPath, c.CompatibilityDatesURL())

	hc, ok := c.httpClient.(*http.Client)
	require.True(t, ok)
	assert.Equal(t, DefaultTimeout, hc.Timeout)
}

func TestUserAgent(t *testing.T) {
	ua := UserAgent("esistatus", "1.2.3", "https://example.com/repo")
	assert.True(t, strings.HasPrefix(ua, "esistatus/1.2.3 (+https://example.com/repo) Go-http-client/"))
}

func TestFetchSendsHeadersAndDecodes(t *testing.T) {
	var gotUA, gotQuery string
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotQuery = r.URL.Query().Get("compatibility_date")

		switch r.URL.Path {
		case statusPath:
			fmt.Fprint(w, `{"routes":[{"path":"/alliances","method":"GET","status":"OK"}]}`)
		case openAPIPath:
			fmt.Fprint(w, `{"paths":{"/alliances":{"get":{"tags":["alliances"]}}}}`)
		case compatibilityDatesPath:
			fmt.Fprint(w, `{"compatibility_dates":["2025-11-06"]}`)
		default:
			http.NotFound(w, r)
		}
	})

	ctx := context.Background()

	dates, err := c.FetchCompatibilityDates(ctx)
	require.NoError(t, err)
	latest, err := dates.Latest()
	require.NoError(t, err)
	assert.Equal(t, "2025-11-06", latest)

	status, err := c.FetchStatus(ctx, latest)
	require.NoError(t, err)
	assert.Equal(t, []RouteStatus{{Path: "/alliances", Method: "GET", Status: "OK"}}, status.Routes)
	assert.Equal(t, "2025-11-06", gotQuery)
	assert.Equal(t, "esistatus/test (+https://example.invalid) Go-http-client/1", gotUA)

	schema, err := c.FetchOpenAPI(ctx, latest)
	require.NoError(t, err)
	assert.Equal(t, []string{"/alliances"}, schema.PathKeys())
}

func TestFetchErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		target  error
		kind    string
	}{
		{
			name: "Non-2xx",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			target: ErrUnexpectedStatus,
			kind:   "status",
		},
		{
			name: "Invalid JSON",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"routes":`)
			},
			target: ErrMalformedJSON,
			kind:   "decode",
		},
		{
			name: "Missing required field",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"paths":{}}`)
			},
			target: ErrMalformedJSON,
			kind:   "decode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestServer(t, tt.handler)

			_, err := c.FetchStatus(context.Background(), "2025-11-06")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
			assert.Equal(t, tt.kind, FailureKind(err))
		})
	}
}

func TestFetchStatusErrorCarriesCode(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.FetchCompatibilityDates(context.Background())

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Contains(t, statusErr.URL, compatibilityDatesPath)
}

type failingHTTPClient struct{}

func (failingHTTPClient) Do(*http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

func TestFetchTransportError(t *testing.T) {
	c := NewClient("https://esi.example.com", time.Second, WithHTTPClient(failingHTTPClient{}))

	_, err := c.FetchOpenAPI(context.Background(), "2025-11-06")
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, "transport", FailureKind(err))
	assert.Equal(t, "no_date", FailureKind(ErrNoCompatibilityDate))
}
