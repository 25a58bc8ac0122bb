package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gaspardpetit/pixrelay/internal/metrics"
)

// maxBodyBytes bounds how much of an engine response is read.
const maxBodyBytes = 16 << 20

// ErrMalformed wraps responses that could not be decoded.
var ErrMalformed = errors.New("malformed engine response")

// StatusError is returned for non-2xx engine responses. Body holds the raw
// response body so callers can pass it through verbatim.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Client talks to one engine instance.
type Client struct {
	baseURL    string
	clientID   string
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithClientID sets the client tag sent with every submitted prompt.
func WithClientID(id string) Option {
	return func(c *Client) { c.clientID = id }
}

// New returns a client for the engine at base.
func New(base string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the engine base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// ClientID returns the tag sent with submitted prompts.
func (c *Client) ClientID() string { return c.clientID }

// ObjectInfo probes GET /object_info. The body is discarded.
func (c *Client) ObjectInfo(ctx context.Context) error {
	_, err := c.get(ctx, "object_info", PathObjectInfo)
	return err
}

// CheckpointNames lists the checkpoint files the loader node accepts.
func (c *Client) CheckpointNames(ctx context.Context, nodeType string) ([]string, error) {
	body, err := c.get(ctx, "object_info_node", PathObjectInfo+"/"+url.PathEscape(nodeType))
	if err != nil {
		return nil, err
	}
	names, err := parseCheckpointNames(body, nodeType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return names, nil
}

// parseCheckpointNames walks {<type>: {input: {required: {ckpt_name: [[names...], ...]}}}}.
func parseCheckpointNames(body []byte, nodeType string) ([]string, error) {
	var info map[string]struct {
		Input struct {
			Required map[string][]json.RawMessage `json:"required"`
		} `json:"input"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, err
	}
	node, ok := info[nodeType]
	if !ok {
		return nil, fmt.Errorf("node type %q not listed", nodeType)
	}
	opts, ok := node.Input.Required["ckpt_name"]
	if !ok || len(opts) == 0 {
		return nil, errors.New("ckpt_name input not listed")
	}
	var names []string
	if err := json.Unmarshal(opts[0], &names); err != nil {
		return nil, fmt.Errorf("ckpt_name options: %w", err)
	}
	return names, nil
}

// QueuePrompt submits a workflow via POST /prompt.
func (c *Client) QueuePrompt(ctx context.Context, workflow any) (PromptResponse, error) {
	b, err := json.Marshal(PromptRequest{Prompt: workflow, ClientID: c.clientID})
	if err != nil {
		return PromptResponse{}, err
	}
	body, err := c.do(ctx, "prompt", http.MethodPost, PathPrompt, bytes.NewReader(b))
	if err != nil {
		return PromptResponse{}, err
	}
	var pr PromptResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return PromptResponse{}, fmt.Errorf("%w: %v: %s", ErrMalformed, err, string(body))
	}
	return pr, nil
}

// Queue fetches the running and pending job ids.
func (c *Client) Queue(ctx context.Context) (Queue, error) {
	body, err := c.get(ctx, "queue", PathQueue)
	if err != nil {
		return Queue{}, err
	}
	var q Queue
	if err := json.Unmarshal(body, &q); err != nil {
		return Queue{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return q, nil
}

// History fetches the history record of promptID. found is false when the
// engine has no record yet.
func (c *Client) History(ctx context.Context, promptID string) (entry HistoryEntry, found bool, err error) {
	body, err := c.get(ctx, "history", PathHistory+url.PathEscape(promptID))
	if err != nil {
		return HistoryEntry{}, false, err
	}
	var records map[string]HistoryEntry
	if err := json.Unmarshal(body, &records); err != nil {
		return HistoryEntry{}, false, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	entry, found = records[promptID]
	return entry, found, nil
}

// ViewURL builds the retrieval URL of img. The image is not fetched.
func (c *Client) ViewURL(img Image) string {
	q := url.Values{}
	q.Set("filename", img.Filename)
	q.Set("subfolder", img.Subfolder)
	q.Set("type", img.Type)
	return c.baseURL + PathView + "?" + q.Encode()
}

func (c *Client) get(ctx context.Context, endpoint, path string) ([]byte, error) {
	return c.do(ctx, endpoint, http.MethodGet, path, nil)
}

func (c *Client) do(ctx context.Context, endpoint, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveEngineCall(endpoint, "error", time.Since(start))
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	metrics.ObserveEngineCall(endpoint, strconv.Itoa(resp.StatusCode), time.Since(start))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return b, nil
}
