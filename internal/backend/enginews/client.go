// Package enginews is the analytics-engine client: a JSON-RPC session over a
// websocket, one connection per (user, evaluation run).
package enginews

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"notigate/internal/backend"
	"notigate/pkg/logx"
)

const (
	dialTimeout  = 15 * time.Second
	writeTimeout = 15 * time.Second
)

// globalHandle addresses the engine itself (before any document is opened).
const globalHandle = -1

type Client struct {
	url    string
	dialer *websocket.Dialer
	log    logx.Logger
}

type Option func(*Client)

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

func WithLogger(log logx.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New builds a client for one engine host. host may be a bare hostname or a
// full ws(s) URL; bare hostnames default to wss.
func New(host string, opts ...Option) *Client {
	u := strings.TrimSuffix(host, "/")
	switch {
	case strings.HasPrefix(u, "ws://"), strings.HasPrefix(u, "wss://"):
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	default:
		u = "wss://" + u
	}
	c := &Client{
		url:    u + "/engine",
		dialer: &websocket.Dialer{HandshakeTimeout: dialTimeout},
		log:    logx.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var _ backend.EngineClient = (*Client)(nil)

// OpenSession dials one websocket for the user. The returned session owns the
// connection exclusively and must be closed by the caller.
func (c *Client) OpenSession(ctx context.Context, user backend.Identity) (backend.Session, error) {
	header := http.Header{}
	header.Set("X-Session-User", string(user))

	conn, _, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return nil, fmt.Errorf("dial engine %s: %w", c.url, err)
	}

	s := &session{
		conn:    conn,
		log:     c.log.With(logx.String("user", string(user))),
		pending: map[uint64]chan rpcResponse{},
		done:    make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Handle  int    `json:"handle"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("engine error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type session struct {
	conn *websocket.Conn
	log  logx.Logger

	writeMu sync.Mutex
	seq     uint64

	mu      sync.Mutex
	pending map[uint64]chan rpcResponse
	readErr error
	done    chan struct{}
}

var _ backend.Session = (*session)(nil)

// readLoop is the single reader: it routes responses to their waiting call by
// request id and fails every pending call when the connection dies.
func (s *session) readLoop() {
	for {
		var resp rpcResponse
		if err := s.conn.ReadJSON(&resp); err != nil {
			s.mu.Lock()
			s.readErr = err
			for id, ch := range s.pending {
				close(ch)
				delete(s.pending, id)
			}
			s.mu.Unlock()
			close(s.done)
			return
		}
		s.mu.Lock()
		ch, ok := s.pending[resp.ID]
		if ok {
			delete(s.pending, resp.ID)
		}
		s.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (s *session) call(ctx context.Context, handle int, method string, params, result any) error {
	s.mu.Lock()
	if s.readErr != nil {
		err := s.readErr
		s.mu.Unlock()
		return fmt.Errorf("%s: connection lost: %w", method, err)
	}
	s.seq++
	id := s.seq
	ch := make(chan rpcResponse, 1)
	s.pending[id] = ch
	s.mu.Unlock()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Handle: handle, Method: method, Params: params}
	s.writeMu.Lock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := s.conn.WriteJSON(req)
	s.writeMu.Unlock()
	if err != nil {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			s.mu.Lock()
			err := s.readErr
			s.mu.Unlock()
			return fmt.Errorf("%s: connection lost: %w", method, err)
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result == nil {
			return nil
		}
		return json.Unmarshal(resp.Result, result)
	}
}

func (s *session) OpenDoc(ctx context.Context, docID string) (backend.Doc, error) {
	var res struct {
		Handle int `json:"handle"`
	}
	if err := s.call(ctx, globalHandle, "OpenDoc", map[string]string{"docID": docID}, &res); err != nil {
		return nil, err
	}
	return &doc{sess: s, handle: res.Handle}, nil
}

func (s *session) Close(_ context.Context) error {
	s.writeMu.Lock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()

	err := s.conn.Close()

	// Wait for the read loop so no response routing races the teardown.
	select {
	case <-s.done:
	case <-time.After(writeTimeout):
	}
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

type doc struct {
	sess   *session
	handle int
}

var _ backend.Doc = (*doc)(nil)

func (d *doc) ClearAll(ctx context.Context) error {
	return d.sess.call(ctx, d.handle, "ClearAll", nil, nil)
}

func (d *doc) ApplyBookmark(ctx context.Context, bookmarkID string) (bool, error) {
	var res struct {
		Success bool `json:"success"`
	}
	err := d.sess.call(ctx, d.handle, "ApplyBookmark", map[string]string{"id": bookmarkID}, &res)
	if err != nil {
		return false, err
	}
	return res.Success, nil
}

func (d *doc) SelectInField(ctx context.Context, field string, values []string) error {
	return d.sess.call(ctx, d.handle, "SelectValues", map[string]any{
		"field":  field,
		"values": values,
	}, nil)
}

func (d *doc) Evaluate(ctx context.Context, expr string) (backend.EvalResult, error) {
	var res struct {
		Text      string  `json:"text"`
		Number    float64 `json:"number"`
		IsNumeric bool    `json:"isNumeric"`
	}
	if err := d.sess.call(ctx, d.handle, "EvaluateEx", map[string]string{"expression": expr}, &res); err != nil {
		return backend.EvalResult{}, err
	}
	return backend.EvalResult{Text: res.Text, Number: res.Number, IsNumeric: res.IsNumeric}, nil
}

func (d *doc) SearchField(ctx context.Context, field, value string) (int, error) {
	var res struct {
		Matches int `json:"matches"`
	}
	err := d.sess.call(ctx, d.handle, "SearchField", map[string]string{
		"field": field,
		"value": value,
	}, &res)
	if err != nil {
		return 0, err
	}
	return res.Matches, nil
}
