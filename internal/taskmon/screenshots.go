package taskmon

import "sync"

// ScreenshotRing 保留某任务最近 N 张浏览器截图引用, 以及当前实时预览。
type ScreenshotRing struct {
	mu      sync.Mutex
	max     int
	items   []Screenshot
	current string
}

// NewScreenshotRing 创建容量为 max 的截图环。
func NewScreenshotRing(max int) *ScreenshotRing {
	if max <= 0 {
		max = 10
	}
	return &ScreenshotRing{max: max}
}

// Add 追加一张截图, 超出容量则丢弃最旧的, 并更新实时预览。
func (r *ScreenshotRing) Add(shot Screenshot) {
	if shot.Ref == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	list := append([]Screenshot{}, r.items...)
	list = append(list, shot)
	if len(list) > r.max {
		list = list[len(list)-r.max:]
	}
	r.items = list
	r.current = shot.Ref
}

// List 返回截图列表副本 (旧到新)。
func (r *ScreenshotRing) List() []Screenshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Screenshot{}, r.items...)
}

// Current 返回当前实时预览引用。
func (r *ScreenshotRing) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}
