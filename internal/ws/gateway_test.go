package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/theopensystemslab/planx-new-sub014/internal/collab"
	"github.com/theopensystemslab/planx-new-sub014/internal/sanitize"
	"github.com/theopensystemslab/planx-new-sub014/internal/store"
)

// fakeService is an in-memory collab.Service with the same conflict
// contract as the real one.
type fakeService struct {
	mu    sync.Mutex
	snaps map[string]store.Snapshot
	ops   map[string][]json.RawMessage
}

func newFakeService() *fakeService {
	return &fakeService{
		snaps: make(map[string]store.Snapshot),
		ops:   make(map[string][]json.RawMessage),
	}
}

func (f *fakeService) Submit(_ context.Context, flowID, _ string, op json.RawMessage, snap store.Snapshot) (collab.SubmitResult, error) {
	op, err := sanitize.CleanRaw(op)
	if err != nil {
		return collab.SubmitResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	current := f.snaps[flowID].Version
	if snap.Version != current+1 {
		return collab.SubmitResult{Applied: false, CurrentVersion: current}, nil
	}
	f.snaps[flowID] = snap
	f.ops[flowID] = append(f.ops[flowID], op)
	return collab.SubmitResult{Applied: true, CurrentVersion: snap.Version, Op: op}, nil
}

func (f *fakeService) Snapshot(_ context.Context, flowID, _ string) (store.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if snap, ok := f.snaps[flowID]; ok {
		return snap, nil
	}
	return store.Snapshot{ID: flowID, Version: 0}, nil
}

func (f *fakeService) Ops(_ context.Context, flowID, _ string, from, to uint64) ([]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []json.RawMessage
	for i, op := range f.ops[flowID] {
		v := uint64(i + 1)
		if v >= from && (to == 0 || v < to) {
			out = append(out, op)
		}
	}
	return out, nil
}

// newTestServer serves the gateway with the actor identity taken from the
// ?actor= query, standing in for the auth middleware.
func newTestServer(t *testing.T, svc collab.Service) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	gateway := NewGateway(NewHub(newFakePresence()), svc, collab.NewSemaphore(16))
	r.GET("/ws", func(c *gin.Context) {
		c.Set("actorId", c.Query("actor"))
		gateway.Connect(c)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dialURL(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func dialTestServer(t *testing.T, svc collab.Service, actorID string) *websocket.Conn {
	t.Helper()
	return dialURL(t, newTestServer(t, svc)+"?actor="+actorID)
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

// readUntil skips interleaved presence pushes until a message of the wanted
// type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) map[string]any {
	t.Helper()
	for i := 0; i < 10; i++ {
		msg := readMessage(t, conn)
		if msg["type"] == msgType {
			return msg
		}
	}
	t.Fatalf("no %q message received", msgType)
	return nil
}

func TestGateway_SubscribeReturnsSnapshot(t *testing.T) {
	conn := dialTestServer(t, newFakeService(), "actor-1")

	if err := conn.WriteJSON(ClientMessage{Type: "subscribe", FlowID: "flow-1"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	msg := readUntil(t, conn, "snapshot")
	if msg["flowId"] != "flow-1" || msg["version"] != float64(0) {
		t.Fatalf("snapshot = %+v, want flow-1 at version 0", msg)
	}
}

func TestGateway_SubmitAckAndConflict(t *testing.T) {
	svc := newFakeService()
	conn := dialTestServer(t, svc, "actor-1")

	if err := conn.WriteJSON(ClientMessage{Type: "subscribe", FlowID: "flow-1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, conn, "snapshot")

	op := json.RawMessage(`{"op":[{"p":["a"],"oi":1}],"m":{"uId":"actor-1"}}`)
	if err := conn.WriteJSON(ClientMessage{
		Type: "op", FlowID: "flow-1", Version: 1, Op: op,
		Data: json.RawMessage(`{"a":1}`),
	}); err != nil {
		t.Fatalf("write: %v", err)
	}

	ack := readUntil(t, conn, "ack")
	if ack["version"] != float64(1) {
		t.Fatalf("ack = %+v, want version 1", ack)
	}

	// same version again is stale now
	if err := conn.WriteJSON(ClientMessage{
		Type: "op", FlowID: "flow-1", Version: 1, Op: op,
		Data: json.RawMessage(`{"a":2}`),
	}); err != nil {
		t.Fatalf("write: %v", err)
	}

	conflict := readUntil(t, conn, "conflict")
	if conflict["currentVersion"] != float64(1) {
		t.Fatalf("conflict = %+v, want currentVersion 1", conflict)
	}
}

func TestGateway_FetchOps(t *testing.T) {
	svc := newFakeService()
	conn := dialTestServer(t, svc, "actor-1")

	if err := conn.WriteJSON(ClientMessage{Type: "subscribe", FlowID: "flow-1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, conn, "snapshot")

	for v := uint64(1); v <= 3; v++ {
		if err := conn.WriteJSON(ClientMessage{
			Type: "op", FlowID: "flow-1", Version: v,
			Op:   json.RawMessage(`{"m":{"uId":"actor-1"}}`),
			Data: json.RawMessage(`{}`),
		}); err != nil {
			t.Fatalf("write: %v", err)
		}
		readUntil(t, conn, "ack")
	}

	if err := conn.WriteJSON(ClientMessage{Type: "ops", FlowID: "flow-1", From: 1, To: 3}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readUntil(t, conn, "ops")
	ops := msg["ops"].([]any)
	if len(ops) != 2 {
		t.Fatalf("ops len = %d, want 2", len(ops))
	}
}

// Other editors must receive the op exactly as it was persisted: the
// sanitized bytes, so replaying stored history later converges with what
// was applied live.
func TestGateway_BroadcastsSanitizedOp(t *testing.T) {
	url := newTestServer(t, newFakeService())
	a := dialURL(t, url+"?actor=actor-1")
	b := dialURL(t, url+"?actor=actor-2")

	for _, conn := range []*websocket.Conn{a, b} {
		if err := conn.WriteJSON(ClientMessage{Type: "subscribe", FlowID: "flow-1"}); err != nil {
			t.Fatalf("write: %v", err)
		}
		readUntil(t, conn, "snapshot")
	}

	dirty := json.RawMessage(`{"op":[{"p":["title"],"oi":"<script>steal()</script>Start"}],"m":{"uId":"actor-1"}}`)
	if err := a.WriteJSON(ClientMessage{
		Type: "op", FlowID: "flow-1", Version: 1, Op: dirty,
		Data: json.RawMessage(`{}`),
	}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, a, "ack")

	msg := readUntil(t, b, "op")
	raw, err := json.Marshal(msg["op"])
	if err != nil {
		t.Fatalf("marshal broadcast op: %v", err)
	}
	if strings.Contains(string(raw), "script") {
		t.Fatalf("broadcast op still carries markup: %s", raw)
	}
	if !strings.Contains(string(raw), "Start") {
		t.Fatalf("broadcast op lost its text: %s", raw)
	}
}

func TestGateway_RejectsMissingActor(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	gateway := NewGateway(NewHub(newFakePresence()), newFakeService(), collab.NewSemaphore(16))
	// no actorId set: simulates a request that bypassed the middleware
	r.GET("/ws", gateway.Connect)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial succeeded without actor identity")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Fatalf("status = %v, want 401", resp)
	}
}
