package obsws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"mpdoverlay/internal/report"
)

const (
	testSalt      = "lM1GncleQOaCu9lT1yeUZhFYnqhsLLP1G5lAGo3ixaI="
	testChallenge = "+IxH4CnCiqpX1rM9scsNynZzbOe4KhDeYcTNS3PDaeY="
)

// fakeOBS speaks enough obs-websocket v5 for the client.
type fakeOBS struct {
	password string
	inputs   []inputListEntry

	mu       sync.Mutex
	texts    map[string]string
	received []string

	conns chan *websocket.Conn
}

func newFakeOBS() *fakeOBS {
	return &fakeOBS{
		inputs: []inputListEntry{
			{InputName: "Now Playing", InputKind: "text_gdiplus_v3", UnversionedInputKind: "text_gdiplus"},
			{InputName: "Camera", InputKind: "dshow_input", UnversionedInputKind: "dshow_input"},
			{InputName: "Lyrics", InputKind: "text_ft2_source_v2", UnversionedInputKind: "text_ft2_source"},
		},
		texts: map[string]string{},
		conns: make(chan *websocket.Conn, 4),
	}
}

func (f *fakeOBS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{Subprotocols: []string{Subprotocol}})
	if err != nil {
		return
	}
	defer conn.CloseNow()
	ctx := r.Context()

	hello := map[string]any{"obsWebSocketVersion": "5.5.0", "rpcVersion": 1}
	if f.password != "" {
		hello["authentication"] = map[string]string{"salt": testSalt, "challenge": testChallenge}
	}
	if err := wsjson.Write(ctx, conn, outgoing{Op: OpHello, D: hello}); err != nil {
		return
	}

	var msg Message
	if err := wsjson.Read(ctx, conn, &msg); err != nil || msg.Op != OpIdentify {
		return
	}
	var id Identify
	json.Unmarshal(msg.D, &id)
	if f.password != "" && id.Authentication != AuthString(f.password, testSalt, testChallenge) {
		conn.Close(websocket.StatusCode(4009), "Authentication failed.")
		return
	}
	if id.EventSubscriptions&SubInputActiveStateChanged == 0 {
		conn.Close(websocket.StatusCode(4008), "missing subscription")
		return
	}
	if err := wsjson.Write(ctx, conn, outgoing{Op: OpIdentified, D: Identified{NegotiatedRPCVersion: 1}}); err != nil {
		return
	}
	f.conns <- conn

	for {
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return
		}
		if msg.Op != OpRequest {
			continue
		}
		var req struct {
			RequestType string          `json:"requestType"`
			RequestID   string          `json:"requestId"`
			RequestData json.RawMessage `json:"requestData"`
		}
		json.Unmarshal(msg.D, &req)
		resp := f.handle(req.RequestType, req.RequestData)
		resp.RequestType = req.RequestType
		resp.RequestID = req.RequestID
		if err := wsjson.Write(ctx, conn, outgoing{Op: OpRequestResponse, D: resp}); err != nil {
			return
		}
	}
} // func (f *fakeOBS) ServeHTTP

func (f *fakeOBS) handle(requestType string, data json.RawMessage) RequestResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, requestType)

	var args struct {
		InputName     string            `json:"inputName"`
		InputSettings map[string]string `json:"inputSettings"`
		Overlay       bool              `json:"overlay"`
	}
	json.Unmarshal(data, &args)

	ok := RequestStatus{Result: true, Code: 100}
	notFound := RequestStatus{Result: false, Code: StatusResourceNotFound, Comment: "No source was found by the name of `" + args.InputName + "`."}

	switch requestType {
	case "GetInputList":
		body, _ := json.Marshal(map[string]any{"inputs": f.inputs})
		return RequestResponse{RequestStatus: ok, ResponseData: body}
	case "GetInputSettings":
		if !f.exists(args.InputName) {
			return RequestResponse{RequestStatus: notFound}
		}
		body, _ := json.Marshal(map[string]any{"inputSettings": map[string]string{"text": f.texts[args.InputName]}})
		return RequestResponse{RequestStatus: ok, ResponseData: body}
	case "SetInputSettings":
		if !f.exists(args.InputName) {
			return RequestResponse{RequestStatus: notFound}
		}
		if !args.Overlay {
			return RequestResponse{RequestStatus: RequestStatus{Result: false, Code: 400, Comment: "overlay expected"}}
		}
		f.texts[args.InputName] = args.InputSettings["text"]
		return RequestResponse{RequestStatus: ok}
	default:
		return RequestResponse{RequestStatus: RequestStatus{Result: false, Code: 204, Comment: "unknown request"}}
	}
} // func (f *fakeOBS) handle

func (f *fakeOBS) exists(name string) bool {
	for _, in := range f.inputs {
		if in.InputName == name {
			return true
		}
	}
	return false
}

func (f *fakeOBS) text(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.texts[name]
}

func startFake(t *testing.T, f *fakeOBS) string {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestClient(url, password string) (*Client, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(url, password, report.New(log.New(&buf, "", 0), true)), &buf
}

func TestAuthString(t *testing.T) {
	got := AuthString("supersecretpassword", testSalt, testChallenge)
	if want := "1Ct943GAT+6YQUUX47Ia/ncufilbe6+oD6lY+5kaCu4="; got != want {
		t.Errorf("AuthString() = %q, want %q", got, want)
	}
}

func TestConnectWithPassword(t *testing.T) {
	fake := newFakeOBS()
	fake.password = "supersecretpassword"
	url := startFake(t, fake)

	bad, _ := newTestClient(url, "wrong")
	if err := bad.Connect(context.Background()); err == nil {
		t.Fatal("Connect() with wrong password succeeded")
	}
	if bad.Connected() {
		t.Fatal("Connected() = true after failed handshake")
	}

	good, _ := newTestClient(url, "supersecretpassword")
	if err := good.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer good.Close()
	if !good.Connected() {
		t.Fatal("Connected() = false after handshake")
	}
}

func TestRequestNotConnected(t *testing.T) {
	c, _ := newTestClient("ws://127.0.0.1:1", "")
	if err := c.SetText(context.Background(), "x", "y"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("SetText() error = %v, want ErrNotConnected", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() on idle client = %v", err)
	}
}

func TestTextSourcesAndHasSource(t *testing.T) {
	fake := newFakeOBS()
	c, _ := newTestClient(startFake(t, fake), "")
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	names, err := c.TextSources(ctx)
	if err != nil {
		t.Fatalf("TextSources() error = %v", err)
	}
	if want := []string{"Now Playing", "Lyrics"}; !reflect.DeepEqual(names, want) {
		t.Errorf("TextSources() = %v, want %v", names, want)
	}

	ok, err := c.HasSource(ctx, "Now Playing")
	if err != nil || !ok {
		t.Errorf("HasSource(Now Playing) = %v, %v", ok, err)
	}
	ok, err = c.HasSource(ctx, "Missing")
	if err != nil || ok {
		t.Errorf("HasSource(Missing) = %v, %v; want false, nil", ok, err)
	}
}

func TestSetText(t *testing.T) {
	fake := newFakeOBS()
	c, _ := newTestClient(startFake(t, fake), "")
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	if err := c.SetText(ctx, "Now Playing", "A - B\nC - 1999"); err != nil {
		t.Fatalf("SetText() error = %v", err)
	}
	if got := fake.text("Now Playing"); got != "A - B\nC - 1999" {
		t.Errorf("text = %q", got)
	}

	err := c.SetText(ctx, "Missing", "x")
	var reqErr *RequestError
	if !errors.As(err, &reqErr) || reqErr.Code != StatusResourceNotFound {
		t.Fatalf("SetText(Missing) error = %v, want RequestError 600", err)
	}
}

func TestEventsDelivered(t *testing.T) {
	fake := newFakeOBS()
	c, _ := newTestClient(startFake(t, fake), "")
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	var conn *websocket.Conn
	select {
	case conn = <-fake.conns:
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the connection")
	}

	send := func(eventType string, data any) {
		t.Helper()
		body, _ := json.Marshal(data)
		ev := EventMessage{EventType: eventType, EventIntent: SubInputActiveStateChanged, EventData: body}
		if err := wsjson.Write(context.Background(), conn, outgoing{Op: OpEvent, D: ev}); err != nil {
			t.Fatalf("write event: %v", err)
		}
	}
	send("InputNameChanged", map[string]any{"inputName": "ignored"})
	send("InputActiveStateChanged", map[string]any{"inputName": "Now Playing", "videoActive": true})
	send("InputActiveStateChanged", map[string]any{"inputName": "Now Playing", "videoActive": false})

	want := []Event{{Activated, "Now Playing"}, {Deactivated, "Now Playing"}}
	for i, w := range want {
		select {
		case got := <-c.Events():
			if got != w {
				t.Errorf("event %d = %+v, want %+v", i, got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestServerCloseMarksDisconnected(t *testing.T) {
	fake := newFakeOBS()
	c, _ := newTestClient(startFake(t, fake), "")
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	conn := <-fake.conns
	conn.Close(websocket.StatusGoingAway, "obs shutting down")

	deadline := time.Now().Add(2 * time.Second)
	for c.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("client still connected after server closed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := c.SetText(context.Background(), "Now Playing", "x"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SetText() after drop = %v, want ErrNotConnected", err)
	}
}

func TestParseEvent(t *testing.T) {
	raw := json.RawMessage(`{"eventType":"InputActiveStateChanged","eventIntent":131072,"eventData":{"inputName":"x","videoActive":true}}`)
	ev, ok := parseEvent(raw)
	if !ok || ev != (Event{Activated, "x"}) {
		t.Errorf("parseEvent() = %+v, %v", ev, ok)
	}
	if _, ok := parseEvent(json.RawMessage(`{"eventType":"SceneCreated","eventData":{}}`)); ok {
		t.Error("parseEvent() accepted unrelated event")
	}
	if _, ok := parseEvent(json.RawMessage(`not json`)); ok {
		t.Error("parseEvent() accepted garbage")
	}
}
