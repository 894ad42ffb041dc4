// Package cborhttp posts CBOR messages over HTTP.
package cborhttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/kokukuma/mdoc-wallet/mdoc"
)

var logger = log.New("cborhttp")

const (
	ContentType = "application/cbor"

	defaultTimeout      = 30 * time.Second
	maxResponseBodySize = 4 << 20
)

var ErrUnexpectedStatus = errors.New("unexpected HTTP status")

// Error is returned for every failed Post. Delivered reports whether the
// request may have reached the server.
type Error struct {
	URL        string
	StatusCode int
	delivered  bool
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("post %s: %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("post %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Delivered() bool { return e.delivered }

type Client struct {
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Post encodes req as CBOR, posts it to url and decodes the reply into resp.
// A nil resp ignores the reply body.
func (c *Client) Post(ctx context.Context, url string, req, resp interface{}) error {
	body, err := mdoc.Marshal(req)
	if err != nil {
		return &Error{URL: url, Err: fmt.Errorf("failed to encode request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &Error{URL: url, Err: err}
	}
	httpReq.Header.Set("Content-Type", ContentType)
	httpReq.Header.Set("Accept", ContentType)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &Error{URL: url, delivered: !notSent(err), Err: err}
	}
	defer httpResp.Body.Close()

	logger.Debugc(ctx, "cbor post", log.WithURL(url), log.WithHTTPStatus(httpResp.StatusCode))

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBodySize))
	if err != nil {
		return &Error{URL: url, StatusCode: httpResp.StatusCode, delivered: true, Err: err}
	}

	if httpResp.StatusCode < http.StatusOK || httpResp.StatusCode >= http.StatusMultipleChoices {
		return &Error{URL: url, StatusCode: httpResp.StatusCode, delivered: true, Err: ErrUnexpectedStatus}
	}

	if resp == nil {
		return nil
	}
	if err := mdoc.Unmarshal(respBody, resp); err != nil {
		return &Error{URL: url, StatusCode: httpResp.StatusCode, delivered: true, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// notSent reports errors that happen before any byte of the request is written.
func notSent(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
