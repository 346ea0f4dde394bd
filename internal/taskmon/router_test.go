package taskmon

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func newTestMonitor(t *testing.T) *Monitor {
	t.Helper()
	m := NewMonitor(Options{ScreenshotRingSize: 3}, nil)
	m.SwitchTask("t1", "Test task")
	return m
}

func env(kind EventKind, payload map[string]any) Envelope {
	if payload == nil {
		payload = map[string]any{}
	}
	if _, ok := payload["task_id"]; !ok {
		payload["task_id"] = "t1"
	}
	taskID, _ := payload["task_id"].(string)
	return Envelope{Kind: kind, TaskID: taskID, Timestamp: time.Now(), Payload: payload}
}

func TestDecodeEnvelope(t *testing.T) {
	raw := json.RawMessage(`{"task_id":"t9","timestamp":"2026-03-14T10:30:00Z","url":"https://go.dev"}`)
	got := DecodeEnvelope("browser_activity", raw)

	if got.Kind != EventBrowserActivity {
		t.Fatalf("kind = %q", got.Kind)
	}
	if got.TaskID != "t9" {
		t.Fatalf("task_id = %q, want t9", got.TaskID)
	}
	if got.Timestamp.Format(time.RFC3339) != "2026-03-14T10:30:00Z" {
		t.Fatalf("timestamp = %v", got.Timestamp)
	}
}

func TestDecodeEnvelopeMalformed(t *testing.T) {
	got := DecodeEnvelope("log_message", json.RawMessage(`not json`))
	if got.TaskID != "" {
		t.Fatalf("task_id = %q, want empty", got.TaskID)
	}
	if got.Payload == nil {
		t.Fatal("payload must not be nil")
	}
	if got.Timestamp.IsZero() {
		t.Fatal("timestamp fallback missing")
	}
}

func TestDispatchDropsOtherTask(t *testing.T) {
	m := newTestMonitor(t)
	m.Dispatch(env(EventBrowserActivity, map[string]any{
		"task_id": "other",
		"url":     "https://go.dev",
	}))
	if n := m.Store().Count("other"); n != 0 {
		t.Fatalf("pages for foreign task = %d, want 0", n)
	}
	if n := m.Store().Count("t1"); n != 0 {
		t.Fatalf("pages for own task = %d, want 0", n)
	}
}

func TestDispatchDropsWithoutFocusedTask(t *testing.T) {
	m := NewMonitor(Options{}, nil)
	m.Dispatch(env(EventDataCollection, nil))
	if n := m.Store().Count("t1"); n != 0 {
		t.Fatalf("pages before any task focus = %d, want 0", n)
	}
}

func TestDispatchUnknownKindIgnored(t *testing.T) {
	m := newTestMonitor(t)
	m.Dispatch(env("mystery_event", nil))
	if n := m.Store().Count("t1"); n != 0 {
		t.Fatalf("pages = %d, want 0", n)
	}
}

func TestBrowserActivityCreatesPage(t *testing.T) {
	m := newTestMonitor(t)
	m.Dispatch(env(EventBrowserActivity, map[string]any{
		"url":   "https://go.dev/doc",
		"title": "Docs",
	}))

	pages := m.Store().Pages("t1")
	if len(pages) != 1 {
		t.Fatalf("pages = %d, want 1", len(pages))
	}
	if pages[0].Type != PageTypeWebBrowsing {
		t.Fatalf("type = %q", pages[0].Type)
	}
}

func TestBrowserActivityInvalidURLDropped(t *testing.T) {
	m := newTestMonitor(t)
	m.Dispatch(env(EventBrowserActivity, map[string]any{"url": "just-text"}))
	m.Dispatch(env(EventBrowserActivity, nil)) // url 缺失

	if n := m.Store().Count("t1"); n != 0 {
		t.Fatalf("pages = %d, want 0", n)
	}
}

func TestDataCollectionDefaults(t *testing.T) {
	m := newTestMonitor(t)
	m.Dispatch(env(EventDataCollection, nil))

	pages := m.Store().Pages("t1")
	if len(pages) != 1 {
		t.Fatalf("pages = %d, want 1", len(pages))
	}
	if pages[0].Metadata.DataSummary != "Data collection" {
		t.Fatalf("summary = %q", pages[0].Metadata.DataSummary)
	}
}

func TestReportProgressSingleton(t *testing.T) {
	m := newTestMonitor(t)
	m.Dispatch(env(EventReportProgress, map[string]any{
		"section_title": "Intro",
		"content_delta": "Hello ",
	}))
	m.Dispatch(env(EventReportProgress, map[string]any{
		"section_title": "Body",
		"content_delta": "world",
	}))

	pages := m.Store().Pages("t1")
	if len(pages) != 1 {
		t.Fatalf("pages = %d, want 1 (singleton)", len(pages))
	}
	if pages[0].Content != "Hello world" {
		t.Fatalf("content = %q", pages[0].Content)
	}
	if pages[0].Title != "📄 Body" {
		t.Fatalf("title = %q", pages[0].Title)
	}
}

func TestLogMessageTerminalAndPage(t *testing.T) {
	m := newTestMonitor(t)

	m.Dispatch(env(EventLogMessage, map[string]any{"message": "short note", "level": "info"}))
	if n := m.Store().Count("t1"); n != 0 {
		t.Fatalf("info log created page: %d", n)
	}
	lines := m.TerminalLines("t1")
	if len(lines) != 1 || !strings.Contains(lines[0], "[INFO] short note") {
		t.Fatalf("terminal lines = %v", lines)
	}

	m.Dispatch(env(EventLogMessage, map[string]any{"message": "boom", "level": "error"}))
	pages := m.Store().Pages("t1")
	if len(pages) != 1 || pages[0].Type != PageTypeLog {
		t.Fatalf("error log page missing: %v", pages)
	}

	long := strings.Repeat("x", 150)
	m.Dispatch(env(EventLogMessage, map[string]any{"message": long}))
	if n := m.Store().Count("t1"); n != 2 {
		t.Fatalf("long message page missing: count = %d", n)
	}
}

func TestBrowserVisualRingCapped(t *testing.T) {
	m := newTestMonitor(t) // 截图环容量 3
	for i := 0; i < 5; i++ {
		m.Dispatch(env(EventBrowserVisual, map[string]any{
			"screenshot_url": "https://shots.local/" + strings.Repeat("a", i+1) + ".png",
			"step":           "Navigate",
		}))
	}

	shots, current := m.Screenshots("t1")
	if len(shots) != 3 {
		t.Fatalf("ring size = %d, want 3", len(shots))
	}
	want := "https://shots.local/" + strings.Repeat("a", 5) + ".png"
	if current != want {
		t.Fatalf("current = %q, want %q", current, want)
	}
	// 每个事件同时落一页
	if n := m.Store().Count("t1"); n != 5 {
		t.Fatalf("pages = %d, want 5", n)
	}
}

func TestBrowserVisualPrefersScreenshotURL(t *testing.T) {
	m := newTestMonitor(t)
	m.Dispatch(env(EventBrowserVisual, map[string]any{
		"screenshot":     "https://shots.local/fallback.png",
		"screenshot_url": "https://shots.local/primary.png",
	}))
	_, current := m.Screenshots("t1")
	if current != "https://shots.local/primary.png" {
		t.Fatalf("current = %q, want screenshot_url to win", current)
	}
}

func TestTaskUpdateSubDispatch(t *testing.T) {
	m := newTestMonitor(t)
	m.Dispatch(env(EventTaskUpdate, map[string]any{
		"type":    "log_message",
		"message": "from inner",
		"level":   "error",
	}))
	pages := m.Store().Pages("t1")
	if len(pages) != 1 || pages[0].Content != "from inner" {
		t.Fatalf("inner dispatch failed: %v", pages)
	}
}

func TestTaskUpdateInformationalNoop(t *testing.T) {
	m := newTestMonitor(t)
	for _, inner := range []string{"step_started", "step_completed", "task_progress", "totally_unknown"} {
		m.Dispatch(env(EventTaskUpdate, map[string]any{"type": inner}))
	}
	if n := m.Store().Count("t1"); n != 0 {
		t.Fatalf("informational updates created pages: %d", n)
	}
}

func TestTaskUpdateAliases(t *testing.T) {
	m := newTestMonitor(t)
	m.Dispatch(env(EventProgressUpdate, map[string]any{
		"type":          "report_progress",
		"content_delta": "via alias",
	}))
	m.Dispatch(env(EventAgentActivity, map[string]any{
		"type":          "report_progress",
		"content_delta": " too",
	}))

	p, ok := m.Store().Get("t1", PageIDIncrementalReport)
	if !ok {
		t.Fatal("incremental report page missing")
	}
	if p.Content != "via alias too" {
		t.Fatalf("content = %q", p.Content)
	}
}
