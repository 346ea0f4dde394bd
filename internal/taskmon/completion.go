// completion.go: 任务完成工作流。计划全部完成 (或后端快照报 completed)
// 时: 先落最终报告占位页并锚定到 HISTORY 模式, 再异步拉取远端报告;
// 三条路径 (远端成功 / 远端非 2xx / 传输异常) 终态一致, 均以
// status=success 的最终报告页收束。
package taskmon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/multi-agent/task-monitor/pkg/errors"
	"github.com/multi-agent/task-monitor/pkg/logger"
	"github.com/multi-agent/task-monitor/pkg/util"
)

// ReportFetcher 远端最终报告拉取接口。
type ReportFetcher interface {
	Generate(ctx context.Context, taskID string) (string, error)
}

// statusCoder 远端可达但响应非 2xx 时由拉取端实现, 用于区分兜底路径。
type statusCoder interface {
	StatusCode() int
}

// maybeComplete 计划驱动的完成检测: 步骤非空且全部 completed,
// 且尚无最终报告页 (一次性门闩, 双触发路径天然去重)。
func (m *Monitor) maybeComplete(taskID string, steps []PlanStep) {
	if len(steps) == 0 {
		return
	}
	for _, step := range steps {
		if !step.Completed {
			return
		}
	}
	m.triggerFinalReport(taskID)
}

// triggerFinalReport 落占位页并启动异步拉取。已有最终报告页时为 no-op。
func (m *Monitor) triggerFinalReport(taskID string) {
	if m.store.IndexOf(taskID, PageIDFinalReport) >= 0 {
		return
	}
	idx := m.store.Upsert(taskID, buildFinalReportPlaceholder(time.Now()))
	m.store.SetCursor(taskID, Cursor{Index: idx, Live: false})
	logger.Info("monitor: final report triggered", logger.FieldTaskID, taskID, logger.FieldIndex, idx)
	m.notify(taskID)

	m.mu.Lock()
	title := m.taskTitle
	steps := append([]PlanStep{}, m.plans[taskID]...)
	fetcher := m.fetcher
	timeout := m.opts.ReportTimeout
	m.mu.Unlock()

	if fetcher == nil {
		m.applyFinalReport(taskID, synthesizeFallbackReport(title, steps))
		return
	}
	util.SafeGo(func() {
		m.fetchFinalReport(taskID, title, steps, fetcher, timeout)
	})
}

// fetchFinalReport 拉取远端报告并落页。远端成功用远端正文;
// 非 2xx 与传输异常走同一兜底合成, 仅日志区分。
func (m *Monitor) fetchFinalReport(taskID, title string, steps []PlanStep, fetcher ReportFetcher, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	text, err := fetcher.Generate(ctx, taskID)
	switch {
	case err == nil && strings.TrimSpace(text) != "":
		m.applyFinalReport(taskID, text)
	case err == nil:
		m.applyFinalReport(taskID, synthesizeFallbackReport(title, steps))
	default:
		var sc statusCoder
		if errors.As(err, &sc) {
			logger.Error("monitor: final report endpoint returned error",
				logger.FieldTaskID, taskID, logger.FieldStatus, sc.StatusCode())
		} else {
			logger.Error("monitor: final report fetch failed",
				logger.FieldTaskID, taskID, logger.FieldError, err)
		}
		m.applyFinalReport(taskID, synthesizeFallbackReport(title, steps))
	}
}

// applyFinalReport 拉取续体。任务已切走时丢弃迟到响应。
func (m *Monitor) applyFinalReport(taskID, content string) {
	m.mu.Lock()
	current := m.currentTask
	m.mu.Unlock()
	if current != "" && current != taskID {
		logger.Warn("monitor: late final report dropped", logger.FieldTaskID, taskID)
		return
	}
	idx := m.store.Upsert(taskID, buildFinalReportPage(content, time.Now()))
	m.store.SetCursor(taskID, Cursor{Index: idx, Live: false})
	logger.Info("monitor: final report ready",
		logger.FieldTaskID, taskID, logger.FieldLen, len(content))
	m.notify(taskID)
}

// synthesizeFallbackReport 本地合成兜底报告 (远端不可用的两条路径共用)。
func synthesizeFallbackReport(taskTitle string, steps []PlanStep) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Final Report - %s\n\n", taskTitle)
	sb.WriteString("## Summary\n\nTask completed successfully.\n\n")
	sb.WriteString("## Executed Steps\n\n")
	if len(steps) == 0 {
		sb.WriteString("No steps recorded")
	} else {
		for i, step := range steps {
			fmt.Fprintf(&sb, "%d. %s ✅\n", i+1, step.Title)
		}
	}
	sb.WriteString("\n## Conclusion\n\nAll steps were executed correctly.\n\n---\n\n*Generated automatically by the task monitor*")
	return sb.String()
}
