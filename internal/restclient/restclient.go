// Package restclient implements the Trading Core's generic REST execution
// layer (component B): HTTP(S) request execution, proxy tunneling, timeouts
// and venue-error mapping, shared by every exchange adapter.
//
// Grounded on the teacher's internal/exchange/client.go resty wrapper,
// generalized from one fixed CLOB base URL to one Client per (venue,
// testnet) host built once by the Exchange Adapter and reused.
package restclient

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"tradingcore/pkg/errs"
)

const (
	connectTimeout = 10 * time.Second
	totalTimeout   = 30 * time.Second
)

// Client executes requests against one venue host. It forces HTTP/1.1 and
// full TLS verification, and tunnels through an HTTP proxy when configured.
type Client struct {
	http *resty.Client
}

// New builds a Client for baseURL. proxyURL may be empty.
func New(baseURL, proxyURL string) (*Client, error) {
	transport := &http.Transport{
		TLSClientConfig:   &tls.Config{MinVersion: tls.VersionTLS12},
		ForceAttemptHTTP2: false, // force HTTP/1.1 per the venue-client contract
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
	}

	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(parsed)
	}

	httpClient := resty.NewWithClient(&http.Client{
		Transport: transport,
		Timeout:   totalTimeout,
	}).
		SetBaseURL(baseURL).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	return &Client{http: httpClient}, nil
}

// Request is the method/url/query/body/headers tuple executed by Do.
type Request struct {
	Method  string
	Path    string
	Query   map[string]string
	Body    []byte
	Headers map[string]string
}

// Response carries the parsed status, raw body (kept for diagnostic trace)
// and measured round-trip latency.
type Response struct {
	Status    int
	Body      []byte
	LatencyNS int64
}

// venueEnvelope is the shape tested for venue error detection: any object
// containing a numeric "code" field with a non-zero value is raised as a
// VenueError rather than returned to the caller as a 2xx success.
type venueEnvelope struct {
	Code    int64  `json:"code"`
	Message string `json:"msg"`
}

// Do executes req and maps the result per §4.B: venue error envelopes become
// *errs.VenueError, network/TLS/timeout failures become *errs.TransportError.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	r := c.http.R().SetContext(ctx)
	if req.Body != nil {
		r = r.SetBody(req.Body)
	}
	for k, v := range req.Query {
		r = r.SetQueryParam(k, v)
	}
	for k, v := range req.Headers {
		r = r.SetHeader(k, v)
	}

	start := time.Now()
	resp, err := r.Execute(req.Method, req.Path)
	elapsed := time.Since(start).Nanoseconds()
	if err != nil {
		return nil, &errs.TransportError{Kind: classify(err), Err: err}
	}

	body := resp.Body()
	var env venueEnvelope
	if json.Unmarshal(body, &env) == nil && env.Code != 0 {
		return nil, &errs.VenueError{
			VenueCode:   env.Code,
			Msg:         env.Message,
			RateLimited: resp.StatusCode() == http.StatusTooManyRequests,
		}
	}

	return &Response{Status: resp.StatusCode(), Body: body, LatencyNS: elapsed}, nil
}

// classify gives a short transport-error kind string for TransportError.Kind.
func classify(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "dial"
	}
}
