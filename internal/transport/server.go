// Package transport 实时事件入口: agent 后端经 WebSocket 推送事件,
// 按 join_task 房间归属任务, 事件原文发布到消息总线。
//
// 在线语义: 某任务的房间里至少有一个活跃连接 = 该任务在线。
package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/multi-agent/task-monitor/internal/bus"
	"github.com/multi-agent/task-monitor/pkg/logger"
	"github.com/multi-agent/task-monitor/pkg/util"
)

// Server WebSocket 事件接入服务。
type Server struct {
	bus      *bus.MessageBus
	upgrader websocket.Upgrader

	mu     sync.RWMutex // 保护 conns/rooms
	conns  map[string]*connEntry
	rooms  map[string]map[string]bool // taskID -> connID 集合
	nextID atomic.Int64

	onPresence func(taskID string, online bool)
}

// NewServer 创建事件接入服务。
func NewServer(b *bus.MessageBus) *Server {
	return &Server{
		bus: b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// 事件源是后端进程, 不做浏览器同源限制
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: map[string]*connEntry{},
		rooms: map[string]map[string]bool{},
	}
}

// SetOnPresence 注入在线状态变更回调 (房间从空到非空或反向时触发)。
func (s *Server) SetOnPresence(fn func(taskID string, online bool)) {
	s.onPresence = fn
}

// Online 某任务的房间里是否有活跃连接。
func (s *Server) Online(taskID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms[taskID]) > 0
}

// ConnCount 当前连接数。
func (s *Server) ConnCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Handler 返回 WebSocket 升级入口。
func (s *Server) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("transport: upgrade failed", logger.FieldError, err, logger.FieldRemote, r.RemoteAddr)
			return
		}
		connID := fmt.Sprintf("conn-%d", s.nextID.Add(1))
		entry := newConnEntry(ws)

		s.mu.Lock()
		s.conns[connID] = entry
		s.mu.Unlock()
		logger.Info("transport: connected", logger.FieldConn, connID, logger.FieldRemote, r.RemoteAddr)

		util.SafeGo(func() {
			if err := entry.writeLoop(); err != nil {
				logger.Debug("transport: write loop ended", logger.FieldConn, connID, logger.FieldError, err)
			}
			s.disconnect(connID)
		})
		util.SafeGo(func() {
			s.readLoop(connID, entry)
			s.disconnect(connID)
		})
	}
}

// inbound 入站消息公共外壳; 其余字段保持原文转发。
type inbound struct {
	Type   string `json:"type"`
	TaskID string `json:"task_id"`
}

func (s *Server) readLoop(connID string, entry *connEntry) {
	for {
		_, data, err := entry.ws.ReadMessage()
		if err != nil {
			logger.Debug("transport: read loop ended", logger.FieldConn, connID, logger.FieldError, err)
			return
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			logger.Warn("transport: malformed message dropped",
				logger.FieldConn, connID, logger.FieldRaw, util.TruncateRunes(string(data), 120))
			continue
		}

		switch msg.Type {
		case "join_task":
			if msg.TaskID == "" {
				continue
			}
			s.joinRoom(connID, entry, msg.TaskID)
			s.ack(entry, "joined", msg.TaskID)
		case "leave_task":
			if msg.TaskID == "" {
				continue
			}
			s.leaveRoom(connID, entry, msg.TaskID)
			s.ack(entry, "left", msg.TaskID)
		case "ping":
			s.ack(entry, "pong", msg.TaskID)
		default:
			if msg.TaskID == "" {
				logger.Warn("transport: event without task_id dropped",
					logger.FieldConn, connID, logger.FieldEventType, msg.Type)
				continue
			}
			s.bus.Publish(bus.Message{
				Topic:   bus.TaskTopic(msg.TaskID),
				TaskID:  msg.TaskID,
				Kind:    msg.Type,
				Payload: json.RawMessage(data),
			})
		}
	}
}

func (s *Server) ack(entry *connEntry, kind, taskID string) {
	payload, err := json.Marshal(map[string]string{"type": kind, "task_id": taskID})
	if err != nil {
		return
	}
	if !entry.enqueue(websocket.TextMessage, payload) {
		logger.Warn("transport: ack dropped, outbox full", logger.FieldKind, kind)
	}
}

func (s *Server) joinRoom(connID string, entry *connEntry, taskID string) {
	entry.join(taskID)

	s.mu.Lock()
	room := s.rooms[taskID]
	if room == nil {
		room = map[string]bool{}
		s.rooms[taskID] = room
	}
	wasEmpty := len(room) == 0
	room[connID] = true
	s.mu.Unlock()

	logger.Info("transport: joined room", logger.FieldConn, connID, logger.FieldTaskID, taskID)
	if wasEmpty && s.onPresence != nil {
		s.onPresence(taskID, true)
	}
}

func (s *Server) leaveRoom(connID string, entry *connEntry, taskID string) {
	entry.leave(taskID)

	s.mu.Lock()
	room, existed := s.rooms[taskID]
	delete(room, connID)
	nowEmpty := existed && len(room) == 0
	if nowEmpty {
		delete(s.rooms, taskID)
	}
	s.mu.Unlock()

	if nowEmpty && s.onPresence != nil {
		s.onPresence(taskID, false)
	}
}

func (s *Server) disconnect(connID string) {
	s.mu.Lock()
	entry, ok := s.conns[connID]
	if ok {
		delete(s.conns, connID)
	}
	s.mu.Unlock()
	if !ok || entry == nil {
		return
	}
	for _, taskID := range entry.joinedTasks() {
		s.leaveRoom(connID, entry, taskID)
	}
	entry.closeNow()
	logger.Info("transport: disconnected", logger.FieldConn, connID)
}
