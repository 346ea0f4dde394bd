// steptimer.go: 计划步骤活动计时器。声明式对账: 输入是完整计划标志,
// 输出是与之一致的计时器集合, 重复输入幂等。
package taskmon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/multi-agent/task-monitor/pkg/logger"
	"github.com/multi-agent/task-monitor/pkg/util"
)

// StepTimerManager 每个活跃步骤一个计时器, 各自持有独立的取消句柄。
type StepTimerManager struct {
	mu     sync.Mutex // 保护 timers
	tick   time.Duration
	now    func() time.Time
	timers map[string]*stepTimer
}

type stepTimer struct {
	start   time.Time
	running bool
	display string
	cancel  context.CancelFunc
}

// NewStepTimerManager 创建步骤计时器管理器, tick 为刷新周期。
func NewStepTimerManager(tick time.Duration) *StepTimerManager {
	if tick <= 0 {
		tick = time.Second
	}
	return &StepTimerManager{
		tick:   tick,
		now:    time.Now,
		timers: map[string]*stepTimer{},
	}
}

// Reconcile 将计时器集合对齐到计划标志:
//   - 步骤激活且无计时器 → 启动;
//   - 步骤失活且计时器在跑 → 停表; 已完成的保留终值, 未完成的清除显示;
//   - 步骤从计划中消失 → 销毁计时器。
func (m *StepTimerManager) Reconcile(steps []PlanStep) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool, len(steps))
	for _, step := range steps {
		if step.ID == "" {
			continue
		}
		seen[step.ID] = true
		t := m.timers[step.ID]
		switch {
		case step.Active && t == nil:
			m.startLocked(step.ID)
		case !step.Active && t != nil && t.running:
			t.cancel()
			t.running = false
			if !step.Completed {
				delete(m.timers, step.ID)
			}
		}
	}
	for id, t := range m.timers {
		if !seen[id] {
			t.cancel()
			delete(m.timers, id)
		}
	}
}

func (m *StepTimerManager) startLocked(stepID string) {
	ctx, cancel := context.WithCancel(context.Background())
	m.timers[stepID] = &stepTimer{
		start:   m.now(),
		running: true,
		display: "00:00",
		cancel:  cancel,
	}
	logger.Debug("steptimer: started", logger.FieldStepID, stepID)

	util.SafeGo(func() {
		ticker := time.NewTicker(m.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.refresh(stepID)
			}
		}
	})
}

// refresh 单次刷新某步骤的显示值 (tick 回调, 测试可直接调用)。
func (m *StepTimerManager) refresh(stepID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.timers[stepID]
	if t == nil || !t.running {
		return
	}
	t.display = formatElapsed(m.now().Sub(t.start))
}

// Elapsed 返回某步骤当前显示值 (mm:ss)。
func (m *StepTimerManager) Elapsed(stepID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.timers[stepID]
	if !ok {
		return "", false
	}
	return t.display, true
}

// Snapshot 返回所有步骤的显示值副本。
func (m *StepTimerManager) Snapshot() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.timers))
	for id, t := range m.timers {
		out[id] = t.display
	}
	return out
}

// Teardown 取消并清空所有计时器 (任务切换/关停)。
func (m *StepTimerManager) Teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.timers {
		t.cancel()
		delete(m.timers, id)
	}
}

// formatElapsed 将时长格式化为 mm:ss, 分钟数可超过 59 不回绕。
func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
