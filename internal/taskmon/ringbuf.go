package taskmon

import (
	"strings"
	"sync"
)

// TerminalRing 环形缓冲区, 保留某任务最近的终端输出。
// limit 按字节数控制, 逐出粒度为整行。
type TerminalRing struct {
	mu    sync.Mutex
	data  []byte
	limit int
}

// NewTerminalRing 创建字节上限为 limit 的终端环形缓冲区。
func NewTerminalRing(limit int) *TerminalRing {
	if limit <= 0 {
		limit = 160 * 1024
	}
	return &TerminalRing{
		data:  make([]byte, 0, limit),
		limit: limit,
	}
}

// WriteLine 追加一行输出, 超出容量则按行丢弃最旧数据。
func (rb *TerminalRing) WriteLine(line string) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.data = append(rb.data, line...)
	rb.data = append(rb.data, '\n')
	if len(rb.data) > rb.limit {
		excess := len(rb.data) - rb.limit
		// 推进到下一行边界, 避免留下半行
		for excess < len(rb.data) && rb.data[excess-1] != '\n' {
			excess++
		}
		// copy 左移截断, 复用底层数组
		n := copy(rb.data, rb.data[excess:])
		rb.data = rb.data[:n]
	}
}

// String 返回缓冲区内容的副本。
func (rb *TerminalRing) String() string {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return string(rb.data)
}

// Lines 返回缓冲区按行切分的副本。
func (rb *TerminalRing) Lines() []string {
	s := rb.String()
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return []string{}
	}
	return strings.Split(s, "\n")
}

// Reset 清空缓冲区。
func (rb *TerminalRing) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.data = rb.data[:0]
}
