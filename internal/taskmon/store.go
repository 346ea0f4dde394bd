package taskmon

import (
	"strings"
	"sync"

	"github.com/multi-agent/task-monitor/pkg/util"
)

// PageStore 按 taskID 键控的页面列表与分页游标。
//
// 写路径全部经过单一事件循环串行进入, 锁只用于保护并发读
// (dashboard 快照请求与定时器 goroutine)。列表变更采用 copy-on-write,
// 已发出的快照引用不会被后续变更污染。
type PageStore struct {
	mu      sync.RWMutex // 保护 pages/cursors
	pages   map[string][]Page
	cursors map[string]Cursor
}

// NewPageStore creates an empty page store.
func NewPageStore() *PageStore {
	return &PageStore{
		pages:   map[string][]Page{},
		cursors: map[string]Cursor{},
	}
}

// Pages returns a task's page list (read-only reference).
// Callers must NOT mutate the returned slice.
func (s *PageStore) Pages(taskID string) []Page {
	id := strings.TrimSpace(taskID)
	if id == "" {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.pages[id]
	if len(src) == 0 {
		return []Page{}
	}
	return src
}

// Count returns the number of pages for a task.
func (s *PageStore) Count(taskID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pages[taskID])
}

// Replace 整体替换某任务的页面列表 (输入被复制)。
func (s *PageStore) Replace(taskID string, pages []Page) {
	id := strings.TrimSpace(taskID)
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[id] = append([]Page{}, pages...)
}

// Upsert 按 ID 追加或就地替换一个页面, 返回其最终下标。
//
// 已存在同 ID 页面时保持原有位置; 否则追加到末尾。保留单例 ID
// (todo-plan 等) 的就地替换语义即由此保证。
func (s *PageStore) Upsert(taskID string, page Page) int {
	id := strings.TrimSpace(taskID)
	if id == "" {
		return -1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(id, page)
}

// UpsertBatch 按序 upsert 一批页面, 返回最后一个页面的下标。
func (s *PageStore) UpsertBatch(taskID string, pages []Page) int {
	id := strings.TrimSpace(taskID)
	if id == "" || len(pages) == 0 {
		return -1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	last := -1
	for _, p := range pages {
		last = s.upsertLocked(id, p)
	}
	return last
}

func (s *PageStore) upsertLocked(taskID string, page Page) int {
	list := append([]Page{}, s.pages[taskID]...)
	for i := range list {
		if list[i].ID == page.ID {
			list[i] = page
			s.pages[taskID] = list
			return i
		}
	}
	list = append(list, page)
	s.pages[taskID] = list
	return len(list) - 1
}

// IndexOf returns the index of a page by ID, or -1.
func (s *PageStore) IndexOf(taskID, pageID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i, p := range s.pages[taskID] {
		if p.ID == pageID {
			return i
		}
	}
	return -1
}

// Get returns a page by ID.
func (s *PageStore) Get(taskID, pageID string) (Page, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.pages[taskID] {
		if p.ID == pageID {
			return p, true
		}
	}
	return Page{}, false
}

// Reconcile 重排某任务的页面列表: TODO 计划页 (若存在) 永远固定在
// 首位, 其余页面保持原有相对顺序。幂等。
func (s *PageStore) Reconcile(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.pages[taskID]
	if len(src) == 0 {
		return
	}
	var todo *Page
	rest := make([]Page, 0, len(src))
	for i := range src {
		if src[i].ID == PageIDTodoPlan {
			p := src[i]
			todo = &p
			continue
		}
		rest = append(rest, src[i])
	}
	if todo == nil {
		return
	}
	next := make([]Page, 0, len(src))
	next = append(next, *todo)
	next = append(next, rest...)
	s.pages[taskID] = next
}

// Cursor returns a task's pagination cursor (default: index 0, live on).
func (s *PageStore) Cursor(taskID string) Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cursors[taskID]
	if !ok {
		return Cursor{Index: 0, Live: true}
	}
	return c
}

// SetCursor 写入游标, Index 被夹紧到 [0, max(0, count-1)]。
func (s *PageStore) SetCursor(taskID string, c Cursor) Cursor {
	id := strings.TrimSpace(taskID)
	if id == "" {
		return c
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	max := len(s.pages[id]) - 1
	if max < 0 {
		max = 0
	}
	c.Index = util.ClampInt(c.Index, 0, max)
	s.cursors[id] = c
	return c
}

// ResetCursor 任务切换时恢复初始游标 (首页 + LIVE), 页面本身保留。
func (s *PageStore) ResetCursor(taskID string) {
	id := strings.TrimSpace(taskID)
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[id] = Cursor{Index: 0, Live: true}
}

// DropTask removes all state for a task.
func (s *PageStore) DropTask(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pages, taskID)
	delete(s.cursors, taskID)
}
