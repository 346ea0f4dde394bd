// navigation.go: 分页导航。任何手动移动都退出 LIVE 模式;
// 回到 LIVE 是显式动作, 且要求系统在线并已有页面。
package taskmon

import (
	"github.com/multi-agent/task-monitor/pkg/errors"
	"github.com/multi-agent/task-monitor/pkg/logger"
)

// Previous 上一页, 越界夹紧。
func (m *Monitor) Previous(taskID string) Cursor {
	c := m.store.Cursor(taskID)
	return m.store.SetCursor(taskID, Cursor{Index: c.Index - 1, Live: false})
}

// Next 下一页, 越界夹紧。
func (m *Monitor) Next(taskID string) Cursor {
	c := m.store.Cursor(taskID)
	return m.store.SetCursor(taskID, Cursor{Index: c.Index + 1, Live: false})
}

// GoToStart 跳到第一页 (HISTORY 模式)。
func (m *Monitor) GoToStart(taskID string) Cursor {
	return m.store.SetCursor(taskID, Cursor{Index: 0, Live: false})
}

// GoLive 回到 LIVE 模式并对齐最后一页。系统离线或无页面时拒绝。
func (m *Monitor) GoLive(taskID string) (Cursor, error) {
	if !m.Online(taskID) {
		return m.store.Cursor(taskID), errors.Wrap(errors.ErrOffline, "taskmon.GoLive", "系统离线, 不能回到 LIVE")
	}
	count := m.store.Count(taskID)
	if count == 0 {
		return m.store.Cursor(taskID), errors.Wrap(errors.ErrInvalidInput, "taskmon.GoLive", "暂无页面")
	}
	c := m.store.SetCursor(taskID, Cursor{Index: count - 1, Live: true})
	logger.Debug("monitor: go live", logger.FieldTaskID, taskID, logger.FieldIndex, c.Index)
	return c, nil
}
