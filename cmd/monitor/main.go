// cmd/monitor: 任务执行监控服务主入口。
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/multi-agent/task-monitor/internal/bus"
	"github.com/multi-agent/task-monitor/internal/config"
	"github.com/multi-agent/task-monitor/internal/dashboard"
	"github.com/multi-agent/task-monitor/internal/report"
	"github.com/multi-agent/task-monitor/internal/taskmon"
	"github.com/multi-agent/task-monitor/internal/transport"
	"github.com/multi-agent/task-monitor/pkg/logger"
	"github.com/multi-agent/task-monitor/pkg/util"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	logger.Init(cfg.Env)
	if cfg.LogDir != "" {
		if err := logger.InitWithFile(cfg.LogDir); err != nil {
			logger.Warn("file logging disabled", logger.FieldError, err)
		}
		defer logger.ShutdownFileHandler()
	}

	fetcher := report.NewClient(cfg.ReportEndpoint, time.Duration(cfg.ReportTimeoutSec)*time.Second)
	mon := taskmon.NewMonitor(taskmon.Options{
		ScreenshotRingSize: cfg.ScreenshotRingSize,
		TerminalRingBytes:  cfg.TerminalRingBytes,
		StepTimerTick:      time.Duration(cfg.StepTimerTickSec) * time.Second,
		WebSearchTopHits:   cfg.WebSearchTopHits,
		LogPageMinChars:    cfg.LogPageMinChars,
		ReportTimeout:      time.Duration(cfg.ReportTimeoutSec) * time.Second,
	}, fetcher)

	mb := bus.NewMessageBus()
	ts := transport.NewServer(mb)
	mon.SetPresence(ts.Online)
	ts.SetOnPresence(func(taskID string, online bool) {
		logger.Info("presence changed", logger.FieldTaskID, taskID, logger.FieldStatus, online)
	})

	srv := dashboard.NewServer(mon, ts, time.Duration(cfg.SSEKeepaliveSec)*time.Second)
	mon.SetOnChange(srv.Bus().PublishPagesChanged)
	// 总线事件原文转发到 SSE, 供面板展示原始事件流
	mb.SetOnPublish(func(msg bus.Message) {
		srv.Bus().Publish(dashboard.Event{Type: "bus_event", Data: msg})
	})

	// 引擎事件循环: 串行消费任务事件, 单任务内处理顺序即发布顺序
	sub := mb.Subscribe("engine", bus.TopicTaskPrefix)
	defer mb.Unsubscribe("engine")
	util.SafeGo(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Ch:
				if !ok {
					return
				}
				mon.Dispatch(taskmon.DecodeEnvelope(msg.Kind, msg.Payload))
			}
		}
	})

	logger.Infow("task monitor starting", logger.FieldListen, cfg.ListenAddr)
	util.SafeGo(func() {
		if err := srv.Engine().Run(cfg.ListenAddr); err != nil {
			logger.Fatal("server failed", logger.FieldError, err)
		}
	})

	<-ctx.Done()
	mon.Timers().Teardown()
	logger.Info("shutting down")
}
