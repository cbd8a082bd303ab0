package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker"
)

// JobRequest is the invocation payload sent to the refinement runtime
type JobRequest struct {
	TraceID         string                 `json:"trace_id"`
	JobID           string                 `json:"job_id"`
	AgentDefinition map[string]interface{} `json:"agent_definition"`
	InputPayload    InputPayload           `json:"input_payload"`
}

// InputPayload carries the user instructions and optional context
type InputPayload struct {
	Messages        []Message `json:"messages"`
	Instructions    string    `json:"instructions"`
	Context         string    `json:"context"`
	ContextFilePath *string   `json:"context_file_path"`
}

// Message is a single chat message in the input payload
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ExecutionState is the runtime's view of a thread's execution
type ExecutionState struct {
	ThreadID       string                 `json:"thread_id"`
	Status         string                 `json:"status"` // "completed", "failed", "running"
	Result         map[string]interface{} `json:"result,omitempty"`
	GeneratedFiles map[string]interface{} `json:"generated_files,omitempty"`
	Error          string                 `json:"error,omitempty"`
}

// StreamEvent is one message on the runtime's stream socket
type StreamEvent struct {
	EventType string                 `json:"event_type"`
	Data      map[string]interface{} `json:"data"`
}

type invokeResponse struct {
	ThreadID string `json:"thread_id"`
	Status   string `json:"status"`
}

// httpResult carries a completed HTTP exchange through the circuit breaker.
// Only transport failures surface as errors inside the breaker; non-2xx
// statuses are application responses and must not trip it.
type httpResult struct {
	status int
	body   []byte
}

// RuntimeClientOptions overrides the client defaults, mainly for tests
type RuntimeClientOptions struct {
	InvokeTimeout    time.Duration
	StateTimeout     time.Duration
	CleanupTimeout   time.Duration
	HandshakeTimeout time.Duration
	BreakerSettings  *gobreaker.Settings
}

// RuntimeClient handles communication with the refinement runtime service
type RuntimeClient struct {
	baseURL   string
	streamURL string
	http      *HTTPClient
	breaker   *gobreaker.CircuitBreaker
	logger    Logger

	invokeTimeout    time.Duration
	stateTimeout     time.Duration
	cleanupTimeout   time.Duration
	handshakeTimeout time.Duration
}

// NewRuntimeClient creates a runtime client. streamURL may be empty, in which
// case stream dials derive a ws/wss URL from baseURL by scheme substitution.
func NewRuntimeClient(baseURL, streamURL string, logger Logger, opts *RuntimeClientOptions) *RuntimeClient {
	c := &RuntimeClient{
		baseURL:          strings.TrimRight(baseURL, "/"),
		streamURL:        strings.TrimRight(streamURL, "/"),
		http:             NewHTTPClient(&http.Client{}, logger),
		logger:           logger,
		invokeTimeout:    30 * time.Second,
		stateTimeout:     10 * time.Second,
		cleanupTimeout:   10 * time.Second,
		handshakeTimeout: 10 * time.Second,
	}

	settings := gobreaker.Settings{
		Name:        "runtime",
		MaxRequests: 1,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
		},
	}

	if opts != nil {
		if opts.InvokeTimeout > 0 {
			c.invokeTimeout = opts.InvokeTimeout
		}
		if opts.StateTimeout > 0 {
			c.stateTimeout = opts.StateTimeout
		}
		if opts.CleanupTimeout > 0 {
			c.cleanupTimeout = opts.CleanupTimeout
		}
		if opts.HandshakeTimeout > 0 {
			c.handshakeTimeout = opts.HandshakeTimeout
		}
		if opts.BreakerSettings != nil {
			settings = *opts.BreakerSettings
		}
	}

	c.breaker = gobreaker.NewCircuitBreaker(settings)
	return c
}

// Invoke starts a refinement job and returns the runtime thread id
func (c *RuntimeClient) Invoke(ctx context.Context, req JobRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.invokeTimeout)
	defer cancel()

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.exchangeJSON(ctx, http.MethodPost, c.baseURL+"/invoke", req)
	})
	if err != nil {
		return "", fmt.Errorf("failed to invoke runtime: %w", err)
	}

	res := out.(*httpResult)
	if res.status != http.StatusOK && res.status != http.StatusAccepted {
		return "", fmt.Errorf("runtime invoke returned status %d: %s", res.status, string(res.body))
	}

	var invokeResp invokeResponse
	if err := json.Unmarshal(res.body, &invokeResp); err != nil {
		return "", fmt.Errorf("failed to decode invoke response: %w", err)
	}
	if invokeResp.ThreadID == "" {
		return "", fmt.Errorf("runtime invoke returned no thread_id")
	}

	c.logger.Info("runtime job invoked", "job_id", req.JobID, "thread_id", invokeResp.ThreadID)
	return invokeResp.ThreadID, nil
}

// GetState retrieves the execution state for a thread
func (c *RuntimeClient) GetState(ctx context.Context, threadID string) (*ExecutionState, error) {
	ctx, cancel := context.WithTimeout(ctx, c.stateTimeout)
	defer cancel()

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.exchangeJSON(ctx, http.MethodGet, fmt.Sprintf("%s/state/%s", c.baseURL, threadID), nil)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get runtime state: %w", err)
	}

	res := out.(*httpResult)
	if res.status != http.StatusOK {
		return nil, fmt.Errorf("runtime state returned status %d: %s", res.status, string(res.body))
	}

	var state ExecutionState
	if err := json.Unmarshal(res.body, &state); err != nil {
		return nil, fmt.Errorf("failed to decode state response: %w", err)
	}
	return &state, nil
}

// Cleanup deletes the runtime's checkpoint data for a thread. Best-effort:
// failures are logged and reported as false, never returned as errors, so a
// lost cleanup can never block proposal resolution. A 404 counts as success
// since the data is already gone. Not guarded by the circuit breaker.
func (c *RuntimeClient) Cleanup(ctx context.Context, threadID string) bool {
	ctx, cancel := context.WithTimeout(ctx, c.cleanupTimeout)
	defer cancel()

	resp, err := c.http.DoRequest(ctx, http.MethodDelete, fmt.Sprintf("%s/cleanup/%s", c.baseURL, threadID), nil)
	if err != nil {
		c.logger.Warn("runtime cleanup failed", "thread_id", threadID, "error", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return true
	default:
		c.logger.Warn("runtime cleanup returned unexpected status",
			"thread_id", threadID,
			"status", resp.StatusCode)
		return false
	}
}

// StreamDial opens a WebSocket connection to the runtime's event stream
func (c *RuntimeClient) StreamDial(ctx context.Context, threadID string) (*websocket.Conn, error) {
	endpoint, err := c.streamEndpoint(threadID)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.handshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("failed to dial runtime stream (status %d): %s: %w", resp.StatusCode, string(body), err)
		}
		return nil, fmt.Errorf("failed to dial runtime stream: %w", err)
	}
	return conn, nil
}

func (c *RuntimeClient) streamEndpoint(threadID string) (string, error) {
	base := c.streamURL
	if base == "" {
		u, err := url.Parse(c.baseURL)
		if err != nil {
			return "", fmt.Errorf("failed to parse runtime URL: %w", err)
		}
		switch u.Scheme {
		case "http":
			u.Scheme = "ws"
		case "https":
			u.Scheme = "wss"
		default:
			return "", fmt.Errorf("unsupported runtime URL scheme: %s", u.Scheme)
		}
		base = u.String()
	}
	return fmt.Sprintf("%s/stream/%s", base, threadID), nil
}

// IsHealthy reports whether the runtime is reachable. An open circuit breaker
// short-circuits the probe.
func (c *RuntimeClient) IsHealthy(ctx context.Context) bool {
	if c.breaker.State() == gobreaker.StateOpen {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := c.http.DoRequest(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK
}

// exchangeJSON performs one HTTP exchange and reads the full body. It returns
// an error only on transport failures; status handling belongs to the caller.
func (c *RuntimeClient) exchangeJSON(ctx context.Context, method, url string, payload interface{}) (*httpResult, error) {
	var (
		resp *http.Response
		err  error
	)
	if payload != nil {
		resp, err = c.http.DoJSON(ctx, method, url, payload)
	} else {
		resp, err = c.http.DoRequest(ctx, method, url, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reach runtime: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read runtime response: %w", err)
	}
	return &httpResult{status: resp.StatusCode, body: body}, nil
}
