// Package fetch retrieves module images from a code source over HTTP.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/spawnctl/internal/authority"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var ErrURLRequired = errors.New("fetch: url required")

// Error is a failed fetch classified with an authority reject code.
type Error struct {
	Code    authority.RejectCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s", int(e.Code), e.Message)
}

// Reject converts the failure into the shared reject shape.
func (e *Error) Reject() *authority.Reject {
	return &authority.Reject{Code: e.Code, Message: e.Message}
}

type Config struct {
	Timeout time.Duration
	// MaxBytes caps the response body; zero means unbounded.
	MaxBytes   int64
	HTTPClient *http.Client
}

// Client performs one GET per Fetch; it never retries.
type Client struct {
	http     *http.Client
	maxBytes int64
}

// NewClient builds a traced fetch client unless cfg supplies its own http.Client.
func NewClient(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Client{http: hc, maxBytes: cfg.MaxBytes}
}

// Fetch returns the response body of url.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, ErrURLRequired
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Code: authority.CodeSysFatal, Message: fmt.Sprintf("build request: %v", err)}
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		log.Warn().Str("url", url).Err(err).Msg("fetch_failed")
		return nil, &Error{Code: authority.CodeSysTransient, Message: err.Error()}
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if c.maxBytes > 0 {
		reader = io.LimitReader(resp.Body, c.maxBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, &Error{Code: authority.CodeSysTransient, Message: fmt.Sprintf("read body: %v", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp.StatusCode, body)
	}
	if c.maxBytes > 0 && int64(len(body)) > c.maxBytes {
		return nil, &Error{Code: authority.CodeUnitReject, Message: fmt.Sprintf("module exceeds %d bytes", c.maxBytes)}
	}
	log.Debug().
		Str("url", url).
		Int("bytes", len(body)).
		Dur("duration", time.Since(start)).
		Msg("fetch_ok")
	return body, nil
}

func statusError(status int, body []byte) *Error {
	code := authority.CodeUnitReject
	switch {
	case status == http.StatusNotFound:
		code = authority.CodeDestinationInvalid
	case status >= 500:
		code = authority.CodeSysTransient
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &Error{Code: code, Message: fmt.Sprintf("status %d: %s", status, msg)}
}
