// Package retryhttp wraps http.Client with exponential backoff on transient
// status codes. Job boards throttle aggressively, so every outbound request
// in this project goes through it.
package retryhttp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	ua "github.com/lib4u/fake-useragent"
)

const defaultMaxRetries = 5 // Exponential backoff limit.

var ErrRetryable = errors.New("scrape: retryable error")

type Option func(*Client)

// WithExtraRetryableStatus adds custom retriable status to the pool.
func WithExtraRetryableStatus(status []int) Option {
	return func(c *Client) {
		for _, v := range status {
			c.isRetryable[v] = true
		}
	}
}

// WithRandomUserAgent will add a random User-Agent header for each http call.
func WithRandomUserAgent() Option {
	return func(c *Client) {
		u, err := ua.New()
		if err != nil {
			return // Fall back to the default Go user agent.
		}
		c.ua = u
	}
}

// WithMaxRetries overrides the default retry limit.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.client.Transport = rt
	}
}

type Client struct {
	client      *http.Client
	isRetryable map[int]bool
	maxRetries  int
	ua          *ua.UserAgent
}

func New(opts ...Option) *Client {
	c := &Client{
		client:     &http.Client{},
		maxRetries: defaultMaxRetries,
		isRetryable: map[int]bool{
			http.StatusRequestTimeout:      true,
			http.StatusTooEarly:            true,
			http.StatusTooManyRequests:     true,
			http.StatusInternalServerError: true,
			http.StatusBadGateway:          true,
			http.StatusServiceUnavailable:  true,
			http.StatusGatewayTimeout:      true,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NewWithTransport is a test convenience for New(WithTransport(rt)).
func NewWithTransport(rt http.RoundTripper, opts ...Option) *Client {
	return New(append([]Option{WithTransport(rt)}, opts...)...)
}

// Do executes the HTTP request with retry logic for retryable status codes.
// This implementation buffers and resets the body for each retry if req.Body is non-nil.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var (
		bodyBytes []byte
		retries   int
		resp      *http.Response
		err       error
	)

	// Buffer the body for retries.
	if req.Body != nil {
		bodyBytes, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read request body for retries in retryhttp.Do: %w", err)
		}

		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(bodyBytes)), nil
		}

		// Reset for the first attempt
		req.Body, err = req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to re-read request body in req.GetBody: %w", err)
		}
	}

	for {
		if err := req.Context().Err(); err != nil {
			return nil, err
		}

		if c.ua != nil {
			req.Header.Set("User-Agent", c.ua.GetRandom())
		}

		resp, err = c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to perform http request in retryhttp.Do: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			if c.isRetryable[resp.StatusCode] {
				resp.Body.Close()
				if retries >= c.maxRetries {
					return nil, fmt.Errorf("%w after %d retries in retryhttp.Do. status code: %d, url: %s",
						ErrRetryable, retries, resp.StatusCode, req.URL.String())
				}
				retries++
				time.Sleep(time.Second << retries)
				// Reset the body for the next try:
				if len(bodyBytes) > 0 {
					req.Body, err = req.GetBody()
					if err != nil {
						return nil, fmt.Errorf("failed to re-read request body in req.GetBody after a try: %w", err)
					}
				}
				continue
			}
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr != nil {
				return nil, fmt.Errorf("unable to read response body after error in retryhttp.Do: %w", readErr)
			}
			return nil, fmt.Errorf("retryhttp.Do received status code: %d, url: %s, message: %s", resp.StatusCode, req.URL.String(), string(body))
		}
		break
	}

	return resp, nil
}
