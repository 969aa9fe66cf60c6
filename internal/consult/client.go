// Package consult drives a consultation submission: it validates the form,
// obtains a bearer credential, opens the summary stream, and accumulates
// streamed fragments into a buffer that a display can read at any time.
package consult

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/wolfman30/medinotes/internal/sse"
	"github.com/wolfman30/medinotes/pkg/logging"
)

// ConsultationPath is the summarization endpoint, relative to the API base.
const ConsultationPath = "/api/consultation"

// maxErrorBody caps how much of a non-2xx response is kept for the error.
const maxErrorBody = 4096

// Client opens consultation streams against one backend.
type Client struct {
	endpoint string
	http     *http.Client
	identity IdentityProvider
	logger   *logging.Logger
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client. Streams stay open for
// as long as the model writes, so the client should not set a Timeout;
// cancellation goes through the request context.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *logging.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient builds a Client for the API at baseURL.
func NewClient(baseURL string, identity IdentityProvider, opts ...ClientOption) (*Client, error) {
	if identity == nil {
		return nil, errors.New("consult: identity provider is required")
	}
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("consult: invalid api url %q", baseURL)
	}
	c := &Client{
		endpoint: strings.TrimSuffix(base.String(), "/") + ConsultationPath,
		http:     &http.Client{},
		identity: identity,
		logger:   logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Endpoint returns the full consultation URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// NewSession validates req and returns an idle session for it.
func (c *Client) NewSession(req SubmissionRequest, display Display) (*Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if display == nil {
		display = nopDisplay{}
	}
	return &Session{
		client:  c,
		req:     req,
		display: display,
		done:    make(chan struct{}),
	}, nil
}

// open sends the submission and returns the response once it is known to be
// an event stream. The caller owns the body.
func (c *Client) open(ctx context.Context, req SubmissionRequest, token string) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &TransportError{Op: "encode request", Err: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", sse.ContentType)
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Op: "open stream", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, &TransportError{
			Op:         "open stream",
			StatusCode: resp.StatusCode,
			Remote:     true,
			Message:    errorMessage(resp.Body),
		}
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != sse.ContentType {
		resp.Body.Close()
		return nil, &TransportError{
			Op:      "open stream",
			Remote:  true,
			Message: fmt.Sprintf("unexpected content type %q", resp.Header.Get("Content-Type")),
		}
	}
	return resp, nil
}

// errorMessage extracts {"error": "..."} from a failure body, falling back
// to the raw text.
func errorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var decoded struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &decoded) == nil && decoded.Error != "" {
		return decoded.Error
	}
	return strings.TrimSpace(string(raw))
}
