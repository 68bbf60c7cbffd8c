// Package qrsrest is the HTTP repository client: subscription management,
// entity lookups and filter queries against one backend instance.
//
// The client owns its timeouts; callers treat any returned error as a
// processing or evaluation abort.
package qrsrest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"notigate/internal/backend"
	"notigate/pkg/logx"
)

const defaultTimeout = 30 * time.Second

type Client struct {
	base string
	http *http.Client
	log  logx.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithLogger(log logx.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New builds a client for one backend host. host may be a bare hostname or a
// full base URL; bare hostnames default to https.
func New(host string, opts ...Option) *Client {
	base := strings.TrimSuffix(host, "/")
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	c := &Client{
		base: base,
		http: &http.Client{Timeout: defaultTimeout},
		log:  logx.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var _ backend.RepoClient = (*Client)(nil)

func (c *Client) CreateNotification(ctx context.Context, def backend.NotificationDef) error {
	return c.do(ctx, http.MethodPost, "/notifications", def, nil)
}

func (c *Client) RemoveNotification(ctx context.Context, handle string) error {
	return c.do(ctx, http.MethodDelete, "/notifications/"+url.PathEscape(handle), nil, nil)
}

func (c *Client) GetEntity(ctx context.Context, objectType, id string) (backend.Entity, error) {
	return c.getEntity(ctx, "/"+url.PathEscape(objectType)+"/"+url.PathEscape(id))
}

func (c *Client) GetTask(ctx context.Context, id string) (backend.Entity, error) {
	return c.getEntity(ctx, "/tasks/"+url.PathEscape(id))
}

func (c *Client) FilterApps(ctx context.Context, filter string) ([]backend.Entity, error) {
	path := "/apps?filter=" + url.QueryEscape(filter)
	var bodies []json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &bodies); err != nil {
		return nil, err
	}
	out := make([]backend.Entity, 0, len(bodies))
	for _, b := range bodies {
		out = append(out, toEntity(b))
	}
	return out, nil
}

func (c *Client) getEntity(ctx context.Context, path string) (backend.Entity, error) {
	var body json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &body); err != nil {
		return backend.Entity{}, err
	}
	return toEntity(body), nil
}

// toEntity keeps the full body as Details and lifts out the fields the core
// needs for resolution.
func toEntity(body json.RawMessage) backend.Entity {
	var probe struct {
		ID     string `json:"id"`
		TaskID string `json:"taskID"`
		Task   *struct {
			ID string `json:"id"`
		} `json:"task"`
	}
	_ = json.Unmarshal(body, &probe)

	e := backend.Entity{ID: probe.ID, TaskID: probe.TaskID, Details: body}
	if e.TaskID == "" && probe.Task != nil {
		e.TaskID = probe.Task.ID
	}
	return e
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return backend.ErrNotFound
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
