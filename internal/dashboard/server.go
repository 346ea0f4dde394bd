// Package dashboard 提供监控面板 HTTP 服务: 页面流快照、导航操作、
// 终端与截图查询, 以及 SSE 实时推送。
package dashboard

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/multi-agent/task-monitor/internal/taskmon"
	"github.com/multi-agent/task-monitor/internal/transport"
)

// Server Dashboard HTTP 服务。
type Server struct {
	router    *gin.Engine
	mon       *taskmon.Monitor
	transport *transport.Server
	bus       *EventBus
	keepalive time.Duration
}

// NewServer 创建 Dashboard 服务。ts 可为 nil (测试场景不挂 WebSocket)。
func NewServer(mon *taskmon.Monitor, ts *transport.Server, keepalive time.Duration) *Server {
	if keepalive <= 0 {
		keepalive = 30 * time.Second
	}
	r := gin.Default()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"}
	corsConfig.AllowWebSockets = true
	r.Use(cors.New(corsConfig))

	s := &Server{router: r, mon: mon, transport: ts, bus: NewEventBus(), keepalive: keepalive}
	s.registerRoutes()
	return s
}

// Engine 返回 Gin 引擎。
func (s *Server) Engine() *gin.Engine { return s.router }

// Bus 返回 SSE 事件总线。
func (s *Server) Bus() *EventBus { return s.bus }
