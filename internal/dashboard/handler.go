// handler.go: Dashboard REST API handlers。
package dashboard

import (
	"github.com/gin-gonic/gin"

	"github.com/multi-agent/task-monitor/internal/taskmon"
	"github.com/multi-agent/task-monitor/pkg/errors"
)

// registerRoutes 注册 API 路由。
func (s *Server) registerRoutes() {
	api := s.router.Group("/api")

	tasks := api.Group("/tasks/:id")
	tasks.GET("/pages", s.getPages)
	tasks.GET("/terminal", s.getTerminal)
	tasks.GET("/screenshots", s.getScreenshots)
	tasks.GET("/timers", s.getStepTimers)
	tasks.POST("/navigation", s.navigate)
	tasks.POST("/switch", s.switchTask)
	tasks.POST("/plan", s.updatePlan)
	tasks.POST("/tools", s.applyTools)
	tasks.POST("/execution", s.applyExecution)
	tasks.POST("/logs", s.applyLogs)

	api.GET("/health", s.health)
	api.GET("/events", s.sseHandler)

	if s.transport != nil {
		s.router.GET("/ws", gin.WrapF(s.transport.Handler()))
	}
}

func (s *Server) health(c *gin.Context) {
	conns := 0
	if s.transport != nil {
		conns = s.transport.ConnCount()
	}
	success(c, gin.H{
		"status":       "ok",
		"current_task": s.mon.CurrentTask(),
		"connections":  conns,
	})
}

// ========================================
// 页面流查询
// ========================================

func (s *Server) getPages(c *gin.Context) {
	success(c, s.mon.Snapshot(c.Param("id")))
}

func (s *Server) getTerminal(c *gin.Context) {
	success(c, gin.H{"lines": s.mon.TerminalLines(c.Param("id"))})
}

func (s *Server) getScreenshots(c *gin.Context) {
	shots, current := s.mon.Screenshots(c.Param("id"))
	success(c, gin.H{"screenshots": shots, "current": current})
}

func (s *Server) getStepTimers(c *gin.Context) {
	success(c, s.mon.Timers().Snapshot())
}

// ========================================
// 导航与任务切换
// ========================================

func (s *Server) navigate(c *gin.Context) {
	taskID := c.Param("id")
	var req struct {
		Action string `json:"action" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}
	switch req.Action {
	case "previous":
		success(c, s.mon.Previous(taskID))
	case "next":
		success(c, s.mon.Next(taskID))
	case "start":
		success(c, s.mon.GoToStart(taskID))
	case "live":
		cursor, err := s.mon.GoLive(taskID)
		if err != nil {
			if errors.Is(err, errors.ErrOffline) {
				conflict(c, "offline", "系统离线, 不能回到 LIVE")
				return
			}
			badRequest(c, "no_pages", "暂无页面")
			return
		}
		success(c, cursor)
	default:
		badRequest(c, "unknown_action", "action 须为 previous/next/start/live")
	}
}

func (s *Server) switchTask(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
	}
	_ = c.ShouldBindJSON(&req)
	s.mon.SwitchTask(c.Param("id"), req.Title)
	success(c, gin.H{"current_task": s.mon.CurrentTask()})
}

// ========================================
// 外部组件推送 (计划 / 工具结果 / 后端快照 / 日志)
// ========================================

func (s *Server) updatePlan(c *gin.Context) {
	var req struct {
		Steps []taskmon.PlanStep `json:"steps" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}
	s.mon.UpdatePlan(c.Param("id"), req.Steps)
	success(c, gin.H{"steps": len(req.Steps)})
}

func (s *Server) applyTools(c *gin.Context) {
	var req struct {
		Results []taskmon.ExecutedTool `json:"results" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}
	s.mon.ApplyToolResults(c.Param("id"), req.Results)
	success(c, gin.H{"applied": len(req.Results)})
}

func (s *Server) applyExecution(c *gin.Context) {
	var snap taskmon.ExecutionSnapshot
	if err := c.ShouldBindJSON(&snap); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}
	s.mon.ApplyExecutionSnapshot(c.Param("id"), snap)
	success(c, gin.H{"applied": len(snap.ExecutedTools), "status": snap.Status})
}

func (s *Server) applyLogs(c *gin.Context) {
	var req struct {
		Logs []taskmon.ExternalLog `json:"logs" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}
	s.mon.ApplyExternalLogs(c.Param("id"), req.Logs)
	success(c, gin.H{"applied": len(req.Logs)})
}
