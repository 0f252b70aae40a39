// Package dispatch forwards a user message to a per-hotel agent and relays the
// agent's event stream back to the original caller.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/google/uuid"

	xerrors "StayRelay/internal/errors"
	"StayRelay/internal/registry"
	"StayRelay/internal/stream"
)

// CodeRoutingUnavailable covers every dispatch failure the caller can observe.
const CodeRoutingUnavailable xerrors.Code = "ROUTING_UNAVAILABLE"

// UnavailableMessage is the user-facing text for dispatch failures.
const UnavailableMessage = "routing service unavailable"

// DefaultHeaderTimeout bounds how long we wait for a downstream agent to start
// responding. The body itself is streamed without a deadline.
const DefaultHeaderTimeout = 15 * time.Second

func init() {
	xerrors.Register(CodeRoutingUnavailable, xerrors.Attributes{
		Message:     UnavailableMessage,
		Severity:    xerrors.SeverityWarning,
		Recoverable: true,
		Alert:       true,
	})
}

// SendRequest is the body of a message/stream call.
type SendRequest struct {
	Message stream.Message `json:"message"`
}

// Client talks to one downstream agent endpoint.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// NewClient creates a client for the agent at rawURL. When httpClient is nil a
// client with a response header timeout and no overall deadline is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid agent url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid agent url %q", rawURL)
	}
	if httpClient == nil {
		httpClient = DefaultHTTPClient()
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// DefaultHTTPClient returns a client suited for long-lived event streams.
func DefaultHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = DefaultHeaderTimeout
	return &http.Client{Transport: transport}
}

// NewFactory adapts NewClient into a registry.HandleFactory.
func NewFactory(httpClient *http.Client) registry.HandleFactory {
	return func(entry registry.Entry) (registry.Handle, error) {
		client, err := NewClient(entry.EndpointURL, httpClient)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// Stream posts msg to <endpoint>/message/stream and returns the open event
// stream. The caller must close it.
func (c *Client) Stream(ctx context.Context, msg stream.Message) (io.ReadCloser, error) {
	body, err := json.Marshal(SendRequest{Message: msg})
	if err != nil {
		return nil, xerrors.Wrap(CodeRoutingUnavailable, err, UnavailableMessage)
	}

	rel := &url.URL{Path: path.Join(c.baseURL.Path, "/message/stream")}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL.ResolveReference(rel).String(), bytes.NewReader(body))
	if err != nil {
		return nil, xerrors.Wrap(CodeRoutingUnavailable, err, UnavailableMessage)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(CodeRoutingUnavailable, err, UnavailableMessage,
			xerrors.WithMetadata("endpoint", c.baseURL.String()))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, xerrors.New(CodeRoutingUnavailable, UnavailableMessage,
			xerrors.WithMetadata("endpoint", c.baseURL.String()),
			xerrors.WithMetadata("status", fmt.Sprintf("%d", resp.StatusCode)))
	}
	if resp.Body == nil || resp.Body == http.NoBody || resp.ContentLength == 0 {
		if resp.Body != nil {
			resp.Body.Close()
		}
		return nil, xerrors.New(CodeRoutingUnavailable, UnavailableMessage,
			xerrors.WithMetadata("endpoint", c.baseURL.String()),
			xerrors.WithMetadata("reason", "empty body"))
	}
	return resp.Body, nil
}

// NewMessage builds the downstream message: the original user text, the same
// context id and a fresh message id.
func NewMessage(text, contextID string) stream.Message {
	return stream.Message{
		Role:      "user",
		Parts:     []stream.Part{{Kind: "text", Text: text}},
		ContextID: contextID,
		MessageID: uuid.NewString(),
	}
}

var _ registry.Handle = (*Client)(nil)
