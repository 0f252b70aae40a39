// Package stayrelay is a Go client for the StayRelay gateway API.
package stayrelay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"StayRelay/internal/stream"
)

// DefaultHTTPTimeout applies to the JSON endpoints of clients created without
// a custom http.Client. Streaming calls are bounded by their context only.
const DefaultHTTPTimeout = 15 * time.Second

// ErrNoFinalEvent is returned when a stream ends without a final event.
var ErrNoFinalEvent = errors.New("stayrelay: stream ended without a final event")

// Client wraps the HTTP interactions with a StayRelay gateway.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	streamHTTP *http.Client

	mu          sync.RWMutex
	accessToken string
}

// Event is one record of a task event stream.
type Event struct {
	Kind      string
	TaskID    string
	ContextID string
	State     string
	Text      string
	Final     bool
	// Raw is the record exactly as the gateway sent it.
	Raw json.RawMessage
}

// Terminal reports whether the event carries a completed or failed state.
func (e Event) Terminal() bool {
	return e.State == string(stream.StateCompleted) || e.State == string(stream.StateFailed)
}

// Reply looks up a gjson path in the structured reply carried by a final
// gateway event, e.g. "category" or "booking.totalValueMinorUnits". Replies
// relayed verbatim from a hotel agent may be plain text and yield no result.
func (e Event) Reply(path string) gjson.Result {
	if !gjson.Valid(e.Text) {
		return gjson.Result{}
	}
	return gjson.Get(e.Text, path)
}

// Agent is a registered downstream agent as listed by the gateway.
type Agent struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	URL     string `json:"url"`
	CardURL string `json:"cardUrl"`
}

// AgentConfig describes an agent to register.
type AgentConfig struct {
	ID            string `json:"id,omitempty"`
	Name          string `json:"name"`
	URL           string `json:"url"`
	Description   string `json:"description,omitempty"`
	WalletAddress string `json:"walletAddress,omitempty"`
}

// Registration is the body of an agent registration. CorpusInfo is a single
// hotel object or an array of hotels.
type Registration struct {
	AgentConfig AgentConfig `json:"agentConfig"`
	CorpusInfo  any         `json:"corpusInfo,omitempty"`
}

// Task is a task record kept by the gateway.
type Task struct {
	ID         string `json:"id"`
	ContextID  string `json:"contextId"`
	InputText  string `json:"inputText"`
	State      string `json:"state"`
	Category   string `json:"category,omitempty"`
	Dispatched bool   `json:"dispatched"`
	TargetID   string `json:"targetId,omitempty"`
	ErrorCode  string `json:"errorCode,omitempty"`
	Reply      string `json:"reply,omitempty"`
	CreatedAt  int64  `json:"createdAt"`
	UpdatedAt  int64  `json:"updatedAt"`
}

// CancelResult is the gateway's answer to a cancel request.
type CancelResult struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Cancelled bool   `json:"cancelled"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("stayrelay api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("stayrelay api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the gateway at rawURL. When httpClient
// is nil, a default client with a sensible timeout is used for JSON calls.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", rawURL)
	}
	streamHTTP := httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
		streamHTTP = &http.Client{}
	}
	return &Client{baseURL: parsed, httpClient: httpClient, streamHTTP: streamHTTP}, nil
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken sets the bearer token sent with write calls.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// SendMessage submits text and calls fn for every event until the final one,
// which is also returned. An empty contextID starts a new conversation.
func (c *Client) SendMessage(ctx context.Context, text, contextID string, fn func(Event) error) (Event, error) {
	msg := stream.TextMessage("user", text)
	msg.MessageID = uuid.NewString()
	msg.ContextID = contextID

	body, err := json.Marshal(map[string]any{"message": msg})
	if err != nil {
		return Event{}, fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/message/stream", bytes.NewReader(body), false)
	if err != nil {
		return Event{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamHTTP.Do(req)
	if err != nil {
		return Event{}, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Event{}, decodeAPIError(resp)
	}

	var (
		decoder stream.Decoder
		buf     = make([]byte, 4096)
	)
	for {
		n, readErr := resp.Body.Read(buf)
		events, _ := decoder.Feed(buf[:n])
		if readErr == io.EOF {
			tail, _ := decoder.Flush()
			events = append(events, tail...)
		}
		for _, raw := range events {
			event := fromStream(raw)
			if fn != nil {
				if err := fn(event); err != nil {
					return Event{}, err
				}
			}
			if event.Final {
				return event, nil
			}
		}
		if readErr == io.EOF {
			return Event{}, ErrNoFinalEvent
		}
		if readErr != nil {
			return Event{}, fmt.Errorf("read stream: %w", readErr)
		}
	}
}

// ListAgents returns the registered agents.
func (c *Client) ListAgents(ctx context.Context) ([]Agent, error) {
	var agents []Agent
	if err := c.get(ctx, "/api/v1/agents", &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// RegisterAgent registers an agent and its hotels and returns the agent id.
func (c *Client) RegisterAgent(ctx context.Context, registration Registration) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "/api/v1/agents", registration, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// GetTask fetches a task record by identifier.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var record Task
	if err := c.get(ctx, "/api/v1/tasks/"+url.PathEscape(taskID), &record); err != nil {
		return Task{}, err
	}
	return record, nil
}

// CancelTask asks the gateway to cancel a task.
func (c *Client) CancelTask(ctx context.Context, taskID string) (CancelResult, error) {
	var result CancelResult
	if err := c.post(ctx, "/api/v1/tasks/"+url.PathEscape(taskID)+"/cancel", nil, &result); err != nil {
		return CancelResult{}, err
	}
	return result, nil
}

func fromStream(event stream.Event) Event {
	raw, _ := event.Encode()
	return Event{
		Kind:      string(event.Kind),
		TaskID:    event.TaskID,
		ContextID: event.ContextID,
		State:     string(event.Status.State),
		Text:      event.Text(),
		Final:     event.Final,
		Raw:       raw,
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body, true)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil, false)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader, withAuth bool) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if token := c.AccessToken(); withAuth && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read error response: %w", err)
	}
	if parsed := gjson.GetBytes(data, "error"); parsed.IsObject() {
		apiErr.Code = parsed.Get("code").String()
		apiErr.Message = parsed.Get("message").String()
	}
	if apiErr.Message == "" {
		apiErr.Message = string(bytes.TrimSpace(data))
	}
	return apiErr
}
