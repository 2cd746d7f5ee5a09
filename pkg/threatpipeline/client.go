// Package threatpipeline is the threat search and deduplication pipeline
// (C6): one tick per monitor per interval invokes an external LLM with
// real-time search tools, validates what comes back, runs it through a
// three-stage deduplication ladder against recently stored threats, and
// commits a new_threat, update_existing, or duplicate decision.
package threatpipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/wisbric/tacops/internal/errs"
)

// backoffDelays are the retry delays for transient LLM provider failures,
// per §4.6 step 2.
var backoffDelays = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

// InputMessage is one entry of a SearchRequest's input array.
type InputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Tool describes a tool the model may invoke during search.
type Tool struct {
	Type           string   `json:"type"`
	FromDate       string   `json:"from_date,omitempty"`
	ToDate         string   `json:"to_date,omitempty"`
	AllowedDomains []string `json:"allowed_domains,omitempty"`
}

// TextFormat requests structured JSON output from the model, per §6.3.
type TextFormat struct {
	Format FormatSpec `json:"format"`
}

// FormatSpec names the requested output shape.
type FormatSpec struct {
	Type string `json:"type"`
}

// SearchRequest is the wire request described in §6.3.
type SearchRequest struct {
	Model      string          `json:"model"`
	Input      []InputMessage  `json:"input"`
	Tools      []Tool          `json:"tools,omitempty"`
	ToolChoice string          `json:"tool_choice,omitempty"`
	Text       *TextFormat     `json:"text,omitempty"`
}

// ContentItem is one piece of an output message's content array.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// OutputItem is one entry of a SearchResponse's output array.
type OutputItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []ContentItem `json:"content"`
}

// Usage carries the token accounting for one LLM call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// SearchResponse is the wire response described in §6.3.
type SearchResponse struct {
	Output    []OutputItem `json:"output"`
	Usage     Usage        `json:"usage"`
	Citations []string     `json:"citations,omitempty"`
	Model     string       `json:"model"`
}

// Text returns the first assistant message's output_text content, the
// payload the pipeline parses as either the threat-array schema or the
// dedup-decision schema depending on which call produced it.
func (r *SearchResponse) Text() string {
	for _, out := range r.Output {
		if out.Type != "message" {
			continue
		}
		for _, c := range out.Content {
			if c.Type == "output_text" {
				return c.Text
			}
		}
	}
	return ""
}

// Client is a hand-rolled HTTP client for the real-time search LLM
// provider described in §6.3. No vendor SDK for this provider shape exists
// in the retrieved pack, so the client is built the same way the teacher
// hand-rolls its Mattermost and Slack REST clients: a bare *http.Client and
// a single do() helper.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client targeting endpoint with the given API key.
func NewClient(endpoint, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Search runs a real-time search request. On a 400-class response while a
// structured-output constraint was requested, it retries once with the
// constraint removed, per §4.6 step 2.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	resp, status, err := c.call(ctx, req)
	if err != nil {
		return nil, err
	}
	if status >= 400 && status < 500 && req.Text != nil {
		req.Text = nil
		resp, status, err = c.call(ctx, req)
		if err != nil {
			return nil, err
		}
	}
	if status >= 400 {
		return nil, errs.Wrap(errs.Upstream, fmt.Sprintf("LLM provider returned status %d", status), nil)
	}
	return resp, nil
}

// Dedupe runs a contextual arbitration request. It shares Search's retry
// and abort semantics but never retries on a structure-unsupported error,
// since the dedup request has no structured-output constraint to drop.
func (c *Client) Dedupe(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	resp, status, err := c.call(ctx, req)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, errs.Wrap(errs.Upstream, fmt.Sprintf("LLM provider returned status %d", status), nil)
	}
	return resp, nil
}

// call executes req with the §4.6 retry policy: exponential back-off
// 2s/4s/8s for up to 3 attempts on transient (network or 5xx) failures,
// immediate abort without retry on 401/403. It returns the parsed response
// and status code for 2xx/4xx responses; 4xx responses are returned
// without error so callers can inspect the status (e.g. Search's
// schema-retry branch).
func (c *Client) call(ctx context.Context, req SearchRequest) (*SearchResponse, int, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, 0, fmt.Errorf("marshaling LLM request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= len(backoffDelays); attempt++ {
		status, respBody, err := c.doOnce(ctx, body)
		if err == nil {
			if status == http.StatusUnauthorized || status == http.StatusForbidden {
				return nil, status, errs.Wrap(errs.Upstream, "LLM provider rejected credentials", nil)
			}
			if status >= 500 {
				lastErr = fmt.Errorf("LLM provider returned status %d", status)
			} else if status >= 400 {
				return nil, status, nil
			} else {
				var result SearchResponse
				if err := json.Unmarshal(respBody, &result); err != nil {
					return nil, status, fmt.Errorf("decoding LLM response: %w", err)
				}
				return &result, status, nil
			}
		} else {
			lastErr = err
		}

		if attempt < len(backoffDelays) {
			c.logger.Warn("retrying LLM call after transient failure", "attempt", attempt+1, "error", lastErr)
			select {
			case <-time.After(backoffDelays[attempt]):
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			}
		}
	}

	return nil, 0, errs.Wrap(errs.Upstream, "LLM provider call failed after retries", lastErr)
}

func (c *Client) doOnce(ctx context.Context, body []byte) (int, []byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("creating LLM request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, fmt.Errorf("executing LLM request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading LLM response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}
