package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	mirrorerrors "github.com/input-output-hk/catalyst-forge-libs/mirror/errors"
)

// DefaultUserAgent is sent with every request unless overridden.
const DefaultUserAgent = "release-mirror"

// Client performs tagged HTTP requests.
type Client struct {
	http      *http.Client
	userAgent string
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a Client. Without options it uses a default http.Client with no timeout;
// deadlines come from the request context.
func New(opts ...Option) *Client {
	c := &Client{
		http:      &http.Client{},
		userAgent: DefaultUserAgent,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request describes one HTTP exchange.
type Request struct {
	// Op tags the request for error reporting (e.g. "cnb.createRelease")
	Op string

	Method string
	URL    string
	Header http.Header

	// Body is sent as-is. ContentLength must be set when Body is not nil.
	Body          io.Reader
	ContentLength int64
}

// Response is a fully read 2xx response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Do sends req and reads the whole response body.
// A non-2xx status is returned as an HTTPStatusError carrying the body.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	body := req.Body
	if body == nil || (req.ContentLength == 0 && req.Body != nil) {
		body = http.NoBody
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, mirrorerrors.NewError(req.Op, fmt.Errorf("%w: %v", mirrorerrors.ErrInvalidInput, err))
	}
	if body != http.NoBody {
		httpReq.ContentLength = req.ContentLength
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("User-Agent", c.userAgent)

	c.logger.Debug("sending request", "op", req.Op, "method", req.Method, "content_length", req.ContentLength)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, mirrorerrors.NewError(req.Op, &mirrorerrors.TransportError{Err: err})
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, mirrorerrors.NewError(req.Op, &mirrorerrors.TransportError{Err: err})
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, mirrorerrors.NewError(req.Op, mirrorerrors.NewHTTPStatusError(resp.StatusCode, data))
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// JSON sends in as a JSON body (when not nil) and decodes the response into out (when not nil).
// The raw response body is returned for logging.
func (c *Client) JSON(ctx context.Context, op, method, url string, header http.Header, in, out any) ([]byte, error) {
	req := Request{
		Op:     op,
		Method: method,
		URL:    url,
		Header: header.Clone(),
	}
	if req.Header == nil {
		req.Header = http.Header{}
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, mirrorerrors.NewError(op, fmt.Errorf("failed to encode request: %w", err))
		}
		if req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Body = bytes.NewReader(payload)
		req.ContentLength = int64(len(payload))
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	if out != nil {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return resp.Body, mirrorerrors.NewError(op, mirrorerrors.NewProtocolError("", "is not valid JSON", resp.Body))
		}
	}
	return resp.Body, nil
}

// Require returns a ProtocolError tagged with op when value is empty.
func Require(op, field, value string, body []byte) error {
	if value == "" {
		return mirrorerrors.NewError(op, mirrorerrors.NewProtocolError(field, "", body))
	}
	return nil
}

// BearerHeader returns headers carrying a bearer token.
func BearerHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}
