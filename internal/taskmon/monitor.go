// Package taskmon 维护任务执行监控的业务状态: 事件聚合成页面流,
// 页面身份与重排, 分页导航, 步骤计时与完成工作流。
//
// 写路径由单一事件循环串行驱动; 定时器 tick 与报告拉取的续体经由
// 各自的锁安全重入。
package taskmon

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/multi-agent/task-monitor/pkg/logger"
)

// Options 引擎可调参数, 零值字段取内置默认。
type Options struct {
	ScreenshotRingSize int
	TerminalRingBytes  int
	StepTimerTick      time.Duration
	WebSearchTopHits   int
	LogPageMinChars    int
	ReportTimeout      time.Duration
}

func (o Options) withDefaults() Options {
	if o.ScreenshotRingSize <= 0 {
		o.ScreenshotRingSize = 10
	}
	if o.TerminalRingBytes <= 0 {
		o.TerminalRingBytes = 160 * 1024
	}
	if o.StepTimerTick <= 0 {
		o.StepTimerTick = time.Second
	}
	if o.WebSearchTopHits <= 0 {
		o.WebSearchTopHits = 5
	}
	if o.LogPageMinChars <= 0 {
		o.LogPageMinChars = 100
	}
	if o.ReportTimeout <= 0 {
		o.ReportTimeout = 30 * time.Second
	}
	return o
}

// Monitor 任务监控引擎。一次只聚焦一个任务 (currentTask), 其余任务的
// 页面/终端/截图状态按 taskID 隔离保留, 切回时恢复。
type Monitor struct {
	mu sync.Mutex // 保护 currentTask/taskTitle/plans/terms/shots/seq

	opts    Options
	store   *PageStore
	timers  *StepTimerManager
	fetcher ReportFetcher

	presence func(taskID string) bool
	onChange func(taskID string)

	currentTask string
	taskTitle   string
	plans       map[string][]PlanStep
	terms       map[string]*TerminalRing
	shots       map[string]*ScreenshotRing
	seq         uint64
}

// NewMonitor 创建监控引擎。fetcher 可为 nil, 此时最终报告直接走兜底合成。
func NewMonitor(opts Options, fetcher ReportFetcher) *Monitor {
	o := opts.withDefaults()
	return &Monitor{
		opts:    o,
		store:   NewPageStore(),
		timers:  NewStepTimerManager(o.StepTimerTick),
		fetcher: fetcher,
		plans:   map[string][]PlanStep{},
		terms:   map[string]*TerminalRing{},
		shots:   map[string]*ScreenshotRing{},
	}
}

// SetPresence 注入在线判定 (transport 连接态)。未注入时视为在线。
func (m *Monitor) SetPresence(fn func(taskID string) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presence = fn
}

// SetOnChange 注入页面流变更回调 (dashboard SSE 桥)。
func (m *Monitor) SetOnChange(fn func(taskID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// Store 暴露底层页面存储 (只读用途)。
func (m *Monitor) Store() *PageStore { return m.store }

// Timers 暴露步骤计时器管理器。
func (m *Monitor) Timers() *StepTimerManager { return m.timers }

// CurrentTask 返回当前聚焦的任务 ID。
func (m *Monitor) CurrentTask() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTask
}

// SwitchTask 切换聚焦任务: 计时器全部销毁, 游标无条件回到 {首页, LIVE};
// 页面与终端/截图状态按任务隔离保留, 不清空。
func (m *Monitor) SwitchTask(taskID, title string) {
	id := strings.TrimSpace(taskID)
	if id == "" {
		return
	}
	m.mu.Lock()
	same := m.currentTask == id
	m.currentTask = id
	m.taskTitle = title
	m.mu.Unlock()

	if same {
		return
	}
	m.timers.Teardown()
	m.store.ResetCursor(id)
	logger.Info("monitor: task switched", logger.FieldTaskID, id, logger.FieldCount, m.store.Count(id))
	m.notify(id)
}

// Online 返回某任务的系统在线态。
func (m *Monitor) Online(taskID string) bool {
	m.mu.Lock()
	fn := m.presence
	m.mu.Unlock()
	if fn == nil {
		return true
	}
	return fn(taskID)
}

// Snapshot 返回某任务的页面流快照。
func (m *Monitor) Snapshot(taskID string) Snapshot {
	pages := m.store.Pages(taskID)
	c := m.store.Cursor(taskID)
	idx := c.Index
	if idx >= len(pages) {
		idx = len(pages) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return Snapshot{
		Pages:        append([]Page{}, pages...),
		CurrentIndex: idx,
		TotalCount:   len(pages),
		LiveMode:     c.Live,
		SystemOnline: m.Online(taskID),
	}
}

// TerminalLines 返回某任务的终端输出行。
func (m *Monitor) TerminalLines(taskID string) []string {
	m.mu.Lock()
	ring := m.terms[taskID]
	m.mu.Unlock()
	if ring == nil {
		return []string{}
	}
	return ring.Lines()
}

// Screenshots 返回某任务的截图环与实时预览。
func (m *Monitor) Screenshots(taskID string) ([]Screenshot, string) {
	m.mu.Lock()
	ring := m.shots[taskID]
	m.mu.Unlock()
	if ring == nil {
		return []Screenshot{}, ""
	}
	return ring.List(), ring.Current()
}

// UpdatePlan 外部计划组件下发最新步骤标志: 更新 TODO 计划页,
// 对账步骤计时器, 并检查完成条件。
func (m *Monitor) UpdatePlan(taskID string, steps []PlanStep) {
	id := strings.TrimSpace(taskID)
	if id == "" || len(steps) == 0 {
		return
	}
	m.mu.Lock()
	m.plans[id] = append([]PlanStep{}, steps...)
	current := m.currentTask
	m.mu.Unlock()

	m.store.Upsert(id, buildTodoPage(steps, time.Now()))
	m.store.Reconcile(id)
	m.autoFollow(id)
	if current == "" || current == id {
		m.timers.Reconcile(steps)
	}
	m.notify(id)
	m.maybeComplete(id, steps)
}

// ApplyToolResults 实时工具结果批次 → 执行页 (按 ID 幂等 upsert)。
// 深度研究结果附带独立报告页。
func (m *Monitor) ApplyToolResults(taskID string, results []ExecutedTool) {
	id := strings.TrimSpace(taskID)
	if id == "" || len(results) == 0 {
		return
	}
	now := time.Now()
	pages := make([]Page, 0, len(results))
	for i, tool := range results {
		pages = append(pages, buildToolPage(tool, i, m.opts.WebSearchTopHits, now))
		if tool.Tool == "enhanced_deep_research" {
			if report, ok := deepResearchReport(tool); ok {
				pages = append(pages, buildResearchReportPage(report, i, now))
			}
		}
	}
	m.store.UpsertBatch(id, pages)
	m.store.Reconcile(id)
	m.autoFollow(id)
	logger.Debug("monitor: tool pages applied", logger.FieldTaskID, id, logger.FieldCount, len(pages))
	m.notify(id)
}

// ApplyExecutionSnapshot 后端批量快照 → 执行页 + 终端行;
// 快照状态 completed 时触发最终报告工作流。
func (m *Monitor) ApplyExecutionSnapshot(taskID string, snap ExecutionSnapshot) {
	id := strings.TrimSpace(taskID)
	if id == "" {
		return
	}
	now := time.Now()
	pages := make([]Page, 0, len(snap.ExecutedTools))
	for i, tool := range snap.ExecutedTools {
		if tool.Tool == "" || tool.Result == nil {
			continue
		}
		pages = append(pages, buildBackendToolPage(tool, i, now))

		status := "FAILED"
		if tool.Success {
			status = "SUCCESS"
		}
		execTime := tool.ExecutionTime
		if v, ok := tool.Result["execution_time"].(float64); ok {
			execTime = v
		}
		m.terminal(id).WriteLine(fmt.Sprintf("[%s] ✓ %s: %s (%gs)",
			now.Format("15:04:05"), tool.Tool, status, execTime))
	}
	if len(pages) > 0 {
		m.store.UpsertBatch(id, pages)
		m.store.Reconcile(id)
		m.autoFollow(id)
		m.notify(id)
	}
	if snap.Status == "completed" {
		m.triggerFinalReport(id)
	}
}

// ApplyExternalLogs 外部日志行批次: 携带 Markdown 标题的行升级成文件页。
func (m *Monitor) ApplyExternalLogs(taskID string, logs []ExternalLog) {
	id := strings.TrimSpace(taskID)
	if id == "" {
		return
	}
	pages := make([]Page, 0, len(logs))
	for i, entry := range logs {
		if !hasMarkdownHeading(entry.Message) {
			continue
		}
		if entry.Timestamp.IsZero() {
			entry.Timestamp = time.Now()
		}
		pages = append(pages, buildExternalLogPage(fmt.Sprintf("ext-log-%d", i), entry))
	}
	if len(pages) == 0 {
		return
	}
	m.store.UpsertBatch(id, pages)
	m.store.Reconcile(id)
	m.autoFollow(id)
	m.notify(id)
}

// terminal 取某任务的终端环, 不存在则创建。
func (m *Monitor) terminal(taskID string) *TerminalRing {
	m.mu.Lock()
	defer m.mu.Unlock()
	ring := m.terms[taskID]
	if ring == nil {
		ring = NewTerminalRing(m.opts.TerminalRingBytes)
		m.terms[taskID] = ring
	}
	return ring
}

// screenshots 取某任务的截图环, 不存在则创建。
func (m *Monitor) screenshots(taskID string) *ScreenshotRing {
	m.mu.Lock()
	defer m.mu.Unlock()
	ring := m.shots[taskID]
	if ring == nil {
		ring = NewScreenshotRing(m.opts.ScreenshotRingSize)
		m.shots[taskID] = ring
	}
	return ring
}

// nextPageID 生成页面 ID (kind-毫秒-序号, 单调不重复)。
func (m *Monitor) nextPageID(kind string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	if kind == "" {
		kind = "page"
	}
	return fmt.Sprintf("%s-%d-%d", kind, time.Now().UnixMilli(), m.seq)
}

// autoFollow LIVE 模式下把游标对齐到最后一页。
func (m *Monitor) autoFollow(taskID string) {
	c := m.store.Cursor(taskID)
	if !c.Live {
		return
	}
	count := m.store.Count(taskID)
	if count == 0 {
		return
	}
	m.store.SetCursor(taskID, Cursor{Index: count - 1, Live: true})
}

func (m *Monitor) notify(taskID string) {
	m.mu.Lock()
	fn := m.onChange
	m.mu.Unlock()
	if fn != nil {
		fn(taskID)
	}
}
