package transport

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/multi-agent/task-monitor/internal/bus"
)

func dialTestServer(t *testing.T) (*Server, *bus.MessageBus, *websocket.Conn) {
	t.Helper()
	mb := bus.NewMessageBus()
	s := NewServer(mb)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return s, mb, conn
}

func readAck(t *testing.T, conn *websocket.Conn) map[string]string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read ack failed: %v", err)
	}
	var ack map[string]string
	if err := json.Unmarshal(data, &ack); err != nil {
		t.Fatalf("ack not json: %v", err)
	}
	return ack
}

func TestJoinTaskPresence(t *testing.T) {
	s, _, conn := dialTestServer(t)

	if s.Online("t1") {
		t.Fatal("t1 online before join")
	}
	if err := conn.WriteJSON(map[string]string{"type": "join_task", "task_id": "t1"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	ack := readAck(t, conn)
	if ack["type"] != "joined" || ack["task_id"] != "t1" {
		t.Fatalf("ack = %v", ack)
	}
	if !s.Online("t1") {
		t.Fatal("t1 not online after join")
	}

	if err := conn.WriteJSON(map[string]string{"type": "leave_task", "task_id": "t1"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	ack = readAck(t, conn)
	if ack["type"] != "left" {
		t.Fatalf("ack = %v", ack)
	}
	if s.Online("t1") {
		t.Fatal("t1 still online after leave")
	}
}

func TestEventPublishedToBus(t *testing.T) {
	_, mb, conn := dialTestServer(t)
	sub := mb.Subscribe("engine", bus.TopicTaskPrefix)

	payload := map[string]any{
		"type":    "browser_activity",
		"task_id": "t1",
		"url":     "https://go.dev",
	}
	if err := conn.WriteJSON(payload); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	select {
	case msg := <-sub.Ch:
		if msg.Topic != bus.TaskTopic("t1") {
			t.Fatalf("topic = %q", msg.Topic)
		}
		if msg.Kind != "browser_activity" {
			t.Fatalf("kind = %q", msg.Kind)
		}
		var decoded map[string]any
		if err := json.Unmarshal(msg.Payload, &decoded); err != nil {
			t.Fatalf("payload not raw event: %v", err)
		}
		if decoded["url"] != "https://go.dev" {
			t.Fatalf("payload = %v", decoded)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event never reached bus")
	}
}

func TestMalformedAndAnonymousEventsDropped(t *testing.T) {
	_, mb, conn := dialTestServer(t)
	sub := mb.Subscribe("engine", bus.TopicAll)

	_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
	_ = conn.WriteJSON(map[string]string{"type": "log_message"}) // 无 task_id
	_ = conn.WriteJSON(map[string]string{"task_id": "t1"})       // 无 type

	// 随后一条合法事件应是总线收到的第一条
	_ = conn.WriteJSON(map[string]string{"type": "log_message", "task_id": "t1", "message": "ok"})
	select {
	case msg := <-sub.Ch:
		if msg.Kind != "log_message" || msg.TaskID != "t1" {
			t.Fatalf("unexpected first message: %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("valid event never arrived")
	}
}

func TestDisconnectClearsPresence(t *testing.T) {
	s, _, conn := dialTestServer(t)
	_ = conn.WriteJSON(map[string]string{"type": "join_task", "task_id": "t1"})
	readAck(t, conn)

	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for s.Online("t1") {
		if time.Now().After(deadline) {
			t.Fatal("presence not cleared after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if s.ConnCount() != 0 {
		t.Fatalf("conn count = %d, want 0", s.ConnCount())
	}
}
