// Package config 全局配置加载与管理。
//
// 所有字段通过 struct tag 声明环境变量映射:
//
//	`env:"VAR_NAME" default:"value" min:"0"`
//
// Load() 使用反射自动填充，无需手动逐行赋值。
package config

import (
	"github.com/multi-agent/task-monitor/pkg/util"
)

// Config 应用全局配置，字段名与 .env 变量一一对应。
type Config struct {
	// 服务监听 (REST + SSE + WebSocket 同端口)
	ListenAddr string `env:"MONITOR_LISTEN_ADDR" default:":8080"`

	// 最终报告生成端点 (外部协作方, POST {base}/api/agent/generate-final-report/{task_id})
	ReportEndpoint   string `env:"REPORT_ENDPOINT" default:"http://localhost:8001"`
	ReportTimeoutSec int    `env:"REPORT_TIMEOUT_SEC" default:"30" min:"1"`

	// 引擎参数
	ScreenshotRingSize int `env:"SCREENSHOT_RING_SIZE" default:"10" min:"1"`
	TerminalRingBytes  int `env:"TERMINAL_RING_BYTES" default:"160000" min:"1024"`
	StepTimerTickSec   int `env:"STEP_TIMER_TICK_SEC" default:"1" min:"1"`
	WebSearchTopHits   int `env:"WEB_SEARCH_TOP_HITS" default:"5" min:"1"`

	// 日志页判定: level==error 或消息长度超过该阈值时建页
	LogPageMinChars int `env:"LOG_PAGE_MIN_CHARS" default:"100" min:"1"`

	// Dashboard SSE
	SSEKeepaliveSec int `env:"SSE_KEEPALIVE_SEC" default:"30" min:"1"`

	// 日志: Env 为 "development"/"dev" 时输出 Text 格式并带 source
	Env    string `env:"MONITOR_ENV" default:"production"`
	LogDir string `env:"LOG_DIR"`
}

// Load 从环境变量加载配置 (通过反射读取 struct tag)。
func Load() *Config {
	var cfg Config
	util.LoadFromEnv(&cfg)
	return &cfg
}
