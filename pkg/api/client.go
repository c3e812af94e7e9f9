package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/promptdeck/agentgate/pkg/approvals"
	"github.com/promptdeck/agentgate/pkg/client"
	"github.com/promptdeck/agentgate/pkg/policy"
)

// Client implements client.Bridge over the HTTP surface, for display
// windows running outside the daemon process.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	streamc *http.Client
	logger  *slog.Logger
}

var _ client.Bridge = (*Client)(nil)

// NewClient builds a bridge client. token may be empty when the server
// runs without auth.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc:   &http.Client{Timeout: 30 * time.Second},
		// The watch stream stays open indefinitely; no client timeout.
		streamc: &http.Client{},
		logger:  slog.Default().With("component", "api_client"),
	}
}

// WithHTTPClient overrides the command transport, for tests and custom
// TLS setups. The watch stream keeps its own timeout-free client based
// on the same transport.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	if h != nil {
		c.httpc = h
		c.streamc = &http.Client{Transport: h.Transport}
	}
	return c
}

func (c *Client) List(ctx context.Context, sessionID string) ([]approvals.Pair, error) {
	path := "/v1/approvals"
	if sessionID != "" {
		path += "?session=" + url.QueryEscape(sessionID)
	}
	var pairs []approvals.Pair
	if err := c.do(ctx, http.MethodGet, path, nil, &pairs); err != nil {
		return nil, err
	}
	return pairs, nil
}

func (c *Client) Apply(ctx context.Context, approvalID string) (*approvals.ApplyOutcome, error) {
	return c.apply(ctx, approvalID, nil)
}

func (c *Client) ApplyWithContent(ctx context.Context, approvalID string, content map[string]interface{}) (*approvals.ApplyOutcome, error) {
	return c.apply(ctx, approvalID, content)
}

func (c *Client) apply(ctx context.Context, approvalID string, args map[string]interface{}) (*approvals.ApplyOutcome, error) {
	var outcome approvals.ApplyOutcome
	err := c.do(ctx, http.MethodPost, "/v1/approvals/"+url.PathEscape(approvalID)+"/apply", ApplyRequest{Args: args}, &outcome)
	if err != nil {
		return nil, err
	}
	return &outcome, nil
}

func (c *Client) Reject(ctx context.Context, approvalID string, opts client.RejectOptions) (*approvals.Approval, error) {
	var a approvals.Approval
	err := c.do(ctx, http.MethodPost, "/v1/approvals/"+url.PathEscape(approvalID)+"/reject",
		RejectRequest{FeedbackText: opts.FeedbackText, FeedbackMeta: opts.FeedbackMeta}, &a)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) Cancel(ctx context.Context, previewID string) (*approvals.Approval, error) {
	var a approvals.Approval
	err := c.do(ctx, http.MethodPost, "/v1/previews/"+url.PathEscape(previewID)+"/cancel", nil, &a)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) GetRules(ctx context.Context) ([]policy.Rule, error) {
	var rules []policy.Rule
	if err := c.do(ctx, http.MethodGet, "/v1/rules", nil, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

func (c *Client) SetRules(ctx context.Context, rules []policy.Rule) error {
	if rules == nil {
		rules = []policy.Rule{}
	}
	return c.do(ctx, http.MethodPut, "/v1/rules", rules, nil)
}

// Watch opens the SSE stream and relays events into the hooks. The
// stream reconnects with backoff until the context ends or stop runs;
// each reconnect fires OnReady again so callers can resync with List.
func (c *Client) Watch(ctx context.Context, hooks client.WatchHooks) (func(), error) {
	wctx, cancel := context.WithCancel(ctx)
	go c.watchLoop(wctx, hooks)
	return cancel, nil
}

func (c *Client) watchLoop(ctx context.Context, hooks client.WatchHooks) {
	backoff := time.Second
	for {
		err := c.streamOnce(ctx, hooks)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if hooks.OnError != nil {
				hooks.OnError(err)
			}
			c.logger.Warn("watch stream interrupted", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (c *Client) streamOnce(ctx context.Context, hooks client.WatchHooks) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/watch", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)

	resp, err := c.streamc.Do(req)
	if err != nil {
		return approvals.Errf(approvals.CodeUnavailable, "watch connect failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return problemError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxBodyBytes)

	var eventName string
	var data bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			c.dispatch(hooks, eventName, data.Bytes())
			eventName = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// heartbeat comment
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return approvals.Errf(approvals.CodeUnavailable, "watch stream failed: %w", err)
	}
	return nil
}

func (c *Client) dispatch(hooks client.WatchHooks, name string, data []byte) {
	switch approvals.Topic(name) {
	case "ready":
		if hooks.OnReady != nil {
			hooks.OnReady()
		}
	case approvals.TopicNew, approvals.TopicUpdate:
		var ev approvals.Event
		if err := json.Unmarshal(data, &ev); err != nil || ev.Approval == nil {
			return
		}
		if ev.Topic == approvals.TopicNew {
			if hooks.OnNew != nil {
				hooks.OnNew(approvals.Pair{Preview: ev.Preview, Approval: ev.Approval})
			}
		} else if hooks.OnUpdate != nil {
			hooks.OnUpdate(*ev.Approval)
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return approvals.Errf(approvals.CodeUnavailable, "bridge request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return problemError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return approvals.Errf(approvals.CodeUnavailable, "decode bridge response: %w", err)
		}
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// problemError turns an RFC 7807 response back into a coded service
// error, so HTTP-bridge callers branch on the same codes as in-process
// ones.
func problemError(resp *http.Response) error {
	var p ProblemDetail
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&p); err == nil {
		if p.Code != "" {
			return approvals.Errf(p.Code, "%s", p.Detail)
		}
		if p.Title != "" {
			return approvals.Errf(approvals.CodeUnavailable, "%s: %s", p.Title, p.Detail)
		}
	}
	return approvals.Errf(approvals.CodeUnavailable, "bridge returned status %d", resp.StatusCode)
}
