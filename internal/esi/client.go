// Package esi fetches the public EVE Swagger Interface meta documents:
// compatibility dates, route status and the OpenAPI description.
package esi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"stealthcompany.com/esistatus/internal/metrics"
)

const (
	// DefaultBaseURL is the public ESI host
	DefaultBaseURL = "https://esi.evetech.net"
	// DefaultTimeout bounds every ESI request
	DefaultTimeout = 10 * time.Second

	compatibilityDatesPath = "/meta/compatibility-dates"
	statusPath             = "/meta/status"
	openAPIPath            = "/meta/openapi.json"

	maxBodyBytes = 64 << 20
)

// Endpoint labels used in logs and metrics
const (
	EndpointCompatibilityDates = "compatibility_dates"
	EndpointStatus             = "status"
	EndpointOpenAPI            = "openapi"
)

var (
	// ErrUnexpectedStatus is matched by every *StatusError
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")
	// ErrMalformedJSON is returned when a body cannot be decoded or lacks a required field
	ErrMalformedJSON = errors.New("malformed JSON response")
	// ErrTransport is returned when the request never produced a response
	ErrTransport = errors.New("request failed")
)

// StatusError is returned for non-2xx responses
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ESI returned status %d for %s", e.StatusCode, e.URL)
}

// Is makes errors.Is(err, ErrUnexpectedStatus) hold for any StatusError
func (e *StatusError) Is(target error) bool {
	return target == ErrUnexpectedStatus
}

// FailureKind classifies a fetch error for logs and metrics
func FailureKind(err error) string {
	switch {
	case errors.Is(err, ErrNoCompatibilityDate):
		return "no_date"
	case errors.Is(err, ErrUnexpectedStatus):
		return "status"
	case errors.Is(err, ErrMalformedJSON):
		return "decode"
	default:
		return "transport"
	}
}

// HTTPClient is the subset of *http.Client the ESI client needs
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// UserAgent formats the identifying User-Agent header sent on every request
func UserAgent(product, version, repoURL string) string {
	return fmt.Sprintf("%s/%s (+%s) Go-http-client/%s",
		product, version, repoURL, strings.TrimPrefix(runtime.Version(), "go"))
}

// Client fetches ESI meta documents
type Client struct {
	httpClient HTTPClient
	baseURL    string
	userAgent  string
	logger     zerolog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default *http.Client
func WithHTTPClient(hc HTTPClient) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithUserAgent sets the User-Agent header
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithLogger sets the client logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new ESI client
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: UserAgent("esistatus", "dev", "https://stealthcompany.com/esistatus"),
		logger:    log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// CompatibilityDatesURL is the compatibility date list URL
func (c *Client) CompatibilityDatesURL() string {
	return c.baseURL + compatibilityDatesPath
}

// StatusURL is the route status URL pinned to date
func (c *Client) StatusURL(date string) string {
	return c.withDate(statusPath, date)
}

// OpenAPIURL is the OpenAPI description URL pinned to date
func (c *Client) OpenAPIURL(date string) string {
	return c.withDate(openAPIPath, date)
}

func (c *Client) withDate(path, date string) string {
	q := url.Values{}
	q.Set("compatibility_date", date)
	return c.baseURL + path + "?" + q.Encode()
}

// FetchCompatibilityDates fetches the list of candidate compatibility dates
func (c *Client) FetchCompatibilityDates(ctx context.Context) (CompatibilityDates, error) {
	var dates CompatibilityDates
	err := c.getJSON(ctx, EndpointCompatibilityDates, c.CompatibilityDatesURL(), &dates)
	return dates, err
}

// FetchStatus fetches the route status document for date
func (c *Client) FetchStatus(ctx context.Context, date string) (StatusDocument, error) {
	var doc StatusDocument
	err := c.getJSON(ctx, EndpointStatus, c.StatusURL(date), &doc)
	return doc, err
}

// FetchOpenAPI fetches the OpenAPI description for date
func (c *Client) FetchOpenAPI(ctx context.Context, date string) (SchemaDocument, error) {
	var doc SchemaDocument
	err := c.getJSON(ctx, EndpointOpenAPI, c.OpenAPIURL(date), &doc)
	return doc, err
}

// getJSON performs a GET and decodes the body into dst
func (c *Client) getJSON(ctx context.Context, endpoint, rawURL string, dst any) error {
	startTime := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", endpoint, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().Str("endpoint", endpoint).Str("url", rawURL).Msg("Fetching ESI document")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordESIRequest(endpoint, 0, time.Since(startTime))
		metrics.RecordESIFailure(endpoint, "transport")
		return fmt.Errorf("%w: %s: %w", ErrTransport, endpoint, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Error().Err(closeErr).Msg("Failed to close response body")
		}
	}()

	metrics.RecordESIRequest(endpoint, resp.StatusCode, time.Since(startTime))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.RecordESIFailure(endpoint, "status")
		return &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		metrics.RecordESIFailure(endpoint, "transport")
		return fmt.Errorf("%w: failed to read response body for %s: %w", ErrTransport, endpoint, err)
	}

	if err := json.Unmarshal(body, dst); err != nil {
		metrics.RecordESIFailure(endpoint, "decode")
		return fmt.Errorf("%w: %s: %w", ErrMalformedJSON, endpoint, err)
	}

	return nil
}
