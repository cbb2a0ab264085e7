package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

const (
	defaultServerURL = "http://127.0.0.1:37778"
	httpTimeout      = 30 * time.Second
)

// Client talks to a running recall server.
type Client struct {
	http      *http.Client
	serverURL string
}

// Node is one active memory as returned by the server.
type Node struct {
	ID           int64     `json:"id"`
	Memory       string    `json:"memory"`
	Activation   float64   `json:"activation"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// RecallResult is the response to a recall cycle.
type RecallResult struct {
	Conversation string `json:"conversation"`
	Facts        int    `json:"facts"`
	Nodes        []Node `json:"nodes"`
	Memories     string `json:"memories"`
}

// StatusError is returned for responses with a status of 400 or above.
type StatusError struct {
	Method  string
	Path    string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Message)
}

// New creates a client for serverURL. An empty URL falls back to RECALL_URL,
// then to http://127.0.0.1:37778.
func New(serverURL string) *Client {
	if serverURL == "" {
		serverURL = os.Getenv("RECALL_URL")
	}
	if serverURL == "" {
		serverURL = defaultServerURL
	}
	return &Client{
		http:      &http.Client{Timeout: httpTimeout},
		serverURL: serverURL,
	}
}

// Healthy checks if the server is reachable.
func (c *Client) Healthy(ctx context.Context) bool {
	err := c.do(ctx, http.MethodGet, "/api/health", nil, nil)
	return err == nil
}

// CreateConversation asks the server for a fresh conversation id.
func (c *Client) CreateConversation(ctx context.Context) (string, error) {
	var resp struct {
		Conversation string `json:"conversation"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/conversations", nil, &resp); err != nil {
		return "", err
	}
	return resp.Conversation, nil
}

// Recall activates facts in the conversation, runs one cycle and returns the
// top k memories. k <= 0 uses the server default.
func (c *Client) Recall(ctx context.Context, conversation string, facts []string, k int) (*RecallResult, error) {
	body := map[string]any{"facts": facts, "top_k": k}
	var res RecallResult
	if err := c.do(ctx, http.MethodPost, conversationPath(conversation, "/recall"), body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Active returns the conversation's current top k memories without running a
// cycle.
func (c *Client) Active(ctx context.Context, conversation string, k int) ([]Node, error) {
	path := conversationPath(conversation, "/active")
	if k > 0 {
		path += "?k=" + strconv.Itoa(k)
	}
	var resp struct {
		Nodes []Node `json:"nodes"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Nodes, nil
}

// DropConversation discards the conversation's working set on the server.
func (c *Client) DropConversation(ctx context.Context, conversation string) error {
	return c.do(ctx, http.MethodDelete, conversationPath(conversation, ""), nil, nil)
}

func conversationPath(id, suffix string) string {
	return "/api/conversations/" + url.PathEscape(id) + suffix
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, body)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		msg := string(bytes.TrimSpace(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Message: msg}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
