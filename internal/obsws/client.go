// Package obsws is a small obs-websocket v5 client: just enough to follow
// input activation and rewrite text sources.
package obsws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"mpdoverlay/internal/report"
)

const DefaultTimeout = 2 * time.Second

const readLimit = 1 << 20

var ErrNotConnected = errors.New("not connected to obs")

// EventType says whether a source went on or off air.
type EventType int

const (
	Activated EventType = iota
	Deactivated
)

func (t EventType) String() string {
	if t == Activated {
		return "activate"
	}
	return "deactivate"
}

// Event is a source lifecycle change.
type Event struct {
	Type   EventType
	Source string
}

// TextKinds are the unversioned input kinds that carry a "text" setting.
var TextKinds = map[string]bool{
	"text_gdiplus":    true,
	"text_ft2_source": true,
}

// Client keeps one websocket to OBS. Requests may be issued from any
// goroutine; events are delivered on Events.
type Client struct {
	url      string
	password string
	timeout  time.Duration
	rep      *report.Reporter
	events   chan Event

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan RequestResponse
}

// New returns a disconnected client for url.
func New(url, password string, rep *report.Reporter) *Client {
	return &Client{
		url:      url,
		password: password,
		timeout:  DefaultTimeout,
		rep:      rep,
		events:   make(chan Event, 64),
		pending:  make(map[string]chan RequestResponse),
	}
}

// Events delivers lifecycle events across reconnects.
func (c *Client) Events() <-chan Event { return c.events }

// SetTimeout bounds the handshake and each request.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// Connected reports whether the socket is up and identified.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect dials OBS and completes the Hello/Identify handshake. It is a no-op
// when already connected.
func (c *Client) Connect(ctx context.Context) error {
	if c.Connected() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
	})
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	// input lists of large scenes exceed the 32 KiB default
	conn.SetReadLimit(readLimit)

	if err := c.handshake(ctx, conn); err != nil {
		conn.CloseNow()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	c.rep.Verbosef("[obs] connected to %s", c.url)
	return nil
} // func (c *Client) Connect(ctx context.Context) error

func (c *Client) handshake(ctx context.Context, conn *websocket.Conn) error {
	var msg Message
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if msg.Op != OpHello {
		return fmt.Errorf("expected hello, got op %d", msg.Op)
	}
	var hello Hello
	if err := json.Unmarshal(msg.D, &hello); err != nil {
		return fmt.Errorf("parse hello: %w", err)
	}

	id := Identify{
		RPCVersion:         rpcVersion,
		EventSubscriptions: SubInputs | SubInputActiveStateChanged,
	}
	if hello.Authentication != nil {
		id.Authentication = AuthString(c.password, hello.Authentication.Salt, hello.Authentication.Challenge)
	}
	if err := wsjson.Write(ctx, conn, outgoing{Op: OpIdentify, D: id}); err != nil {
		return fmt.Errorf("send identify: %w", err)
	}

	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		// OBS closes with 4009 on a bad password
		return fmt.Errorf("identify: %w", err)
	}
	if msg.Op != OpIdentified {
		return fmt.Errorf("expected identified, got op %d", msg.Op)
	}
	return nil
} // func (c *Client) handshake(ctx context.Context, conn *websocket.Conn) error

func (c *Client) readLoop(conn *websocket.Conn) {
	ctx := context.Background()
	for {
		var msg Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			c.dropped(conn, err)
			return
		}

		switch msg.Op {
		case OpRequestResponse:
			var resp RequestResponse
			if err := json.Unmarshal(msg.D, &resp); err != nil {
				c.rep.Warnf("[obs] bad request response: %v", err)
				continue
			}
			c.mu.Lock()
			ch, ok := c.pending[resp.RequestID]
			delete(c.pending, resp.RequestID)
			c.mu.Unlock()
			if ok {
				ch <- resp
			}

		case OpEvent:
			ev, ok := parseEvent(msg.D)
			if !ok {
				continue
			}
			select {
			case c.events <- ev:
			default:
				c.rep.Warnf("[obs] event queue full, dropped %s of %q", ev.Type, ev.Source)
			}
		}
	}
} // func (c *Client) readLoop(conn *websocket.Conn)

func parseEvent(raw json.RawMessage) (Event, bool) {
	var em EventMessage
	if err := json.Unmarshal(raw, &em); err != nil {
		return Event{}, false
	}
	if em.EventType != "InputActiveStateChanged" {
		return Event{}, false
	}
	var data inputActiveStateChanged
	if err := json.Unmarshal(em.EventData, &data); err != nil {
		return Event{}, false
	}
	ev := Event{Type: Deactivated, Source: data.InputName}
	if data.VideoActive {
		ev.Type = Activated
	}
	return ev, true
}

// dropped forgets conn and fails every request waiting on it.
func (c *Client) dropped(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	pending := c.pending
	c.pending = make(map[string]chan RequestResponse)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	conn.CloseNow()
	c.rep.Verbosef("[obs] connection closed: %v", err)
} // func (c *Client) dropped(conn *websocket.Conn, err error)

// Close shuts the socket. Safe when not connected.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "")
}

// Request sends one request and decodes responseData into out (if non-nil).
func (c *Client) Request(ctx context.Context, requestType string, data, out any) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("request id: %w", err)
	}
	ch := make(chan RequestResponse, 1)

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.pending[id.String()] = ch
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := Request{RequestType: requestType, RequestID: id.String(), RequestData: data}
	if err := wsjson.Write(ctx, conn, outgoing{Op: OpRequest, D: req}); err != nil {
		c.forget(id.String())
		return fmt.Errorf("send %s: %w", requestType, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return ErrNotConnected
		}
		if !resp.RequestStatus.Result {
			return &RequestError{
				RequestType: requestType,
				Code:        resp.RequestStatus.Code,
				Comment:     resp.RequestStatus.Comment,
			}
		}
		if out != nil && len(resp.ResponseData) > 0 {
			if err := json.Unmarshal(resp.ResponseData, out); err != nil {
				return fmt.Errorf("decode %s: %w", requestType, err)
			}
		}
		return nil
	case <-ctx.Done():
		c.forget(id.String())
		return fmt.Errorf("%s: %w", requestType, ctx.Err())
	}
} // func (c *Client) Request(...)

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

type inputListEntry struct {
	InputName            string `json:"inputName"`
	InputKind            string `json:"inputKind"`
	UnversionedInputKind string `json:"unversionedInputKind"`
}

// TextSources lists inputs whose kind is a text source.
func (c *Client) TextSources(ctx context.Context) ([]string, error) {
	var resp struct {
		Inputs []inputListEntry `json:"inputs"`
	}
	if err := c.Request(ctx, "GetInputList", nil, &resp); err != nil {
		return nil, err
	}
	var names []string
	for _, in := range resp.Inputs {
		kind := in.UnversionedInputKind
		if kind == "" {
			kind = in.InputKind
		}
		if TextKinds[kind] {
			names = append(names, in.InputName)
		}
	}
	return names, nil
} // func (c *Client) TextSources(ctx context.Context) ([]string, error)

// HasSource reports whether an input called name exists.
func (c *Client) HasSource(ctx context.Context, name string) (bool, error) {
	err := c.Request(ctx, "GetInputSettings", map[string]any{"inputName": name}, nil)
	var reqErr *RequestError
	switch {
	case err == nil:
		return true, nil
	case errors.As(err, &reqErr) && reqErr.Code == StatusResourceNotFound:
		return false, nil
	default:
		return false, err
	}
}

// SetText replaces the text setting of the named source.
func (c *Client) SetText(ctx context.Context, name, text string) error {
	return c.Request(ctx, "SetInputSettings", map[string]any{
		"inputName":     name,
		"inputSettings": map[string]any{"text": text},
		"overlay":       true,
	}, nil)
}
