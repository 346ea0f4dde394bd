// conn.go: WebSocket 连接包装 (gorilla/websocket 不安全并发写)。
package transport

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const connOutboxSize = 256

type wsOutbound struct {
	msgType int
	data    []byte
}

// connEntry WebSocket 连接 + 写锁。
type connEntry struct {
	ws        *websocket.Conn
	wrMu      sync.Mutex // 序列化所有写操作
	outbox    chan wsOutbound
	closeCh   chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex // 保护 joined
	joined map[string]bool
}

func newConnEntry(ws *websocket.Conn) *connEntry {
	return &connEntry{
		ws:      ws,
		outbox:  make(chan wsOutbound, connOutboxSize),
		closeCh: make(chan struct{}),
		joined:  map[string]bool{},
	}
}

// writeMsg 线程安全地写入 WebSocket 消息。
func (c *connEntry) writeMsg(msgType int, data []byte) error {
	c.wrMu.Lock()
	defer c.wrMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteMessage(msgType, data)
}

func (c *connEntry) enqueue(msgType int, data []byte) bool {
	select {
	case <-c.closeCh:
		return false
	default:
	}
	select {
	case c.outbox <- wsOutbound{msgType: msgType, data: data}:
		return true
	default:
		return false
	}
}

func (c *connEntry) closeNow() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		if c.ws != nil {
			_ = c.ws.Close()
		}
	})
}

func (c *connEntry) writeLoop() error {
	for {
		select {
		case <-c.closeCh:
			return nil
		case msg := <-c.outbox:
			if err := c.writeMsg(msg.msgType, msg.data); err != nil {
				return err
			}
		}
	}
}

func (c *connEntry) join(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined[taskID] = true
}

func (c *connEntry) leave(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.joined, taskID)
}

func (c *connEntry) joinedTasks() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.joined))
	for id := range c.joined {
		out = append(out, id)
	}
	return out
}
