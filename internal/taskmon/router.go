// router.go: 实时事件入口: 信封解码、任务归属校验、按类型分发。
// 所有字段提取均为防御式, 缺失字段取默认值, 不中断流。
package taskmon

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/multi-agent/task-monitor/pkg/errors"
	"github.com/multi-agent/task-monitor/pkg/logger"
	"github.com/multi-agent/task-monitor/pkg/util"
)

// EventKind 实时事件类型。
type EventKind string

const (
	EventBrowserActivity EventKind = "browser_activity"
	EventDataCollection  EventKind = "data_collection_update"
	EventReportProgress  EventKind = "report_progress"
	EventLogMessage      EventKind = "log_message"
	EventBrowserVisual   EventKind = "browser_visual"
	EventTaskUpdate      EventKind = "task_update"

	// task_update 的外层别名, 走同一条子分发路径。
	EventProgressUpdate EventKind = "progress_update"
	EventAgentActivity  EventKind = "agent_activity"
)

// Envelope 解码后的事件信封。
type Envelope struct {
	Kind      EventKind
	TaskID    string
	Timestamp time.Time
	Payload   map[string]any
}

// DecodeEnvelope 原始事件 → 信封。纯函数, 无状态, 热路径安全。
func DecodeEnvelope(kind string, raw json.RawMessage) Envelope {
	var payload map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &payload)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return Envelope{
		Kind:      EventKind(kind),
		TaskID:    extractString(payload, "task_id"),
		Timestamp: extractTime(payload, time.Now()),
		Payload:   payload,
	}
}

func extractString(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := payload[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func extractTime(payload map[string]any, fallback time.Time) time.Time {
	raw, ok := payload["timestamp"].(string)
	if !ok || raw == "" {
		return fallback
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts
	}
	return fallback
}

type eventHandler func(m *Monitor, env Envelope)

// 事件分发表。别名与 task_update 共享子分发。
var eventHandlers = map[EventKind]eventHandler{
	EventBrowserActivity: (*Monitor).handleBrowserActivity,
	EventDataCollection:  (*Monitor).handleDataCollection,
	EventReportProgress:  (*Monitor).handleReportProgress,
	EventLogMessage:      (*Monitor).handleLogMessage,
	EventBrowserVisual:   (*Monitor).handleBrowserVisual,
	EventTaskUpdate:      (*Monitor).handleTaskUpdate,
	EventProgressUpdate:  (*Monitor).handleTaskUpdate,
	EventAgentActivity:   (*Monitor).handleTaskUpdate,
}

// Dispatch 路由一条事件。task_id 缺失、尚未聚焦任务或与当前任务不符时
// 静默丢弃 (多任务隔离), 未知类型记录后忽略。
func (m *Monitor) Dispatch(env Envelope) {
	if env.TaskID == "" {
		logger.Debug("router: event without task_id dropped", logger.FieldKind, string(env.Kind))
		return
	}
	if current := m.CurrentTask(); env.TaskID != current {
		logger.Debug("router: event outside focused task dropped",
			logger.FieldKind, string(env.Kind), logger.FieldTaskID, env.TaskID,
			logger.FieldError, errors.ErrTaskMismatch)
		return
	}
	h, ok := eventHandlers[env.Kind]
	if !ok {
		logger.Warn("router: unknown event kind", logger.FieldKind, string(env.Kind))
		return
	}
	h(m, env)
}

// handleBrowserActivity 浏览器活动 → 导航页。无 URL 不成页,
// URL 不可解析则丢弃并告警。
func (m *Monitor) handleBrowserActivity(env Envelope) {
	rawURL := extractString(env.Payload, "url")
	if rawURL == "" {
		return
	}
	title := util.FirstNonEmpty(extractString(env.Payload, "title"), "Untitled")
	activityType := util.FirstNonEmpty(extractString(env.Payload, "activity_type"), "navigation")
	page, err := buildBrowserPage(m.nextPageID("browser"), rawURL, title, activityType,
		extractString(env.Payload, "screenshot_url"), env.Timestamp)
	if err != nil {
		logger.Warn("router: invalid url in browser activity",
			logger.FieldTaskID, env.TaskID, logger.FieldURL, rawURL)
		return
	}
	m.store.Upsert(env.TaskID, page)
	m.store.Reconcile(env.TaskID)
	m.autoFollow(env.TaskID)
	m.notify(env.TaskID)
}

func (m *Monitor) handleDataCollection(env Envelope) {
	summary := util.FirstNonEmpty(extractString(env.Payload, "data_summary"), "Data collection")
	partial := env.Payload["partial_data"]
	page := buildDataCollectionPage(m.nextPageID("data"), summary, partial, env.Timestamp)
	m.store.Upsert(env.TaskID, page)
	m.store.Reconcile(env.TaskID)
	m.autoFollow(env.TaskID)
	m.notify(env.TaskID)
}

// handleReportProgress 增量报告 → 单例构建中报告页 (就地合并)。
func (m *Monitor) handleReportProgress(env Envelope) {
	prev, exists := m.store.Get(env.TaskID, PageIDIncrementalReport)
	page := mergeIncrementalReport(prev, exists,
		extractString(env.Payload, "section_title"),
		extractString(env.Payload, "full_report_so_far"),
		extractString(env.Payload, "content_delta"),
		env.Timestamp)
	m.store.Upsert(env.TaskID, page)
	m.store.Reconcile(env.TaskID)
	m.autoFollow(env.TaskID)
	m.notify(env.TaskID)
}

// handleLogMessage 日志事件: 终端行始终追加; error 级或超长消息
// 另升级成日志页。
func (m *Monitor) handleLogMessage(env Envelope) {
	message := extractString(env.Payload, "message")
	level := extractString(env.Payload, "level")
	if level == "" {
		level = "info"
	}
	m.terminal(env.TaskID).WriteLine(fmt.Sprintf("%s [%s] %s",
		logLevelPrefix(level), strings.ToUpper(level), message))

	if level == "error" || len(message) > m.opts.LogPageMinChars {
		page := buildLogPage(m.nextPageID("log"), level, message, env.Timestamp)
		m.store.Upsert(env.TaskID, page)
		m.store.Reconcile(env.TaskID)
		m.autoFollow(env.TaskID)
	}
	m.notify(env.TaskID)
}

// handleBrowserVisual 截图事件: 截图环 + 实时预览 + 可视化导航页 + 终端行。
// screenshot_url 优先于 screenshot。
func (m *Monitor) handleBrowserVisual(env Envelope) {
	shot := Screenshot{
		ID:        m.nextPageID("screenshot"),
		Ref:       extractString(env.Payload, "screenshot_url", "screenshot"),
		Step:      extractString(env.Payload, "step"),
		URL:       extractString(env.Payload, "url"),
		Timestamp: env.Timestamp,
	}
	m.screenshots(env.TaskID).Add(shot)

	page := buildBrowserVisualPage(m.nextPageID("browser-visual"), shot)
	m.store.Upsert(env.TaskID, page)
	m.store.Reconcile(env.TaskID)
	m.autoFollow(env.TaskID)

	step := util.FirstNonEmpty(shot.Step, "Screenshot captured")
	m.terminal(env.TaskID).WriteLine(fmt.Sprintf("📸 %s - %s", step, env.Timestamp.Format("15:04:05")))
	m.notify(env.TaskID)
}

// handleTaskUpdate 通用更新事件: 按内层 type 二次分发。
// step_started / step_completed / task_progress 由计划组件消费,
// 这里只记录。
func (m *Monitor) handleTaskUpdate(env Envelope) {
	inner := extractString(env.Payload, "type")
	switch EventKind(inner) {
	case EventBrowserActivity:
		m.handleBrowserActivity(env)
	case EventDataCollection:
		m.handleDataCollection(env)
	case EventReportProgress:
		m.handleReportProgress(env)
	case EventLogMessage:
		m.handleLogMessage(env)
	case "step_started", "step_completed", "task_progress":
		logger.Debug("router: informational update",
			logger.FieldTaskID, env.TaskID, logger.FieldEventType, inner)
	default:
		logger.Debug("router: unknown task update type",
			logger.FieldTaskID, env.TaskID, logger.FieldEventType, inner)
	}
}
