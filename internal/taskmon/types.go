package taskmon

import "time"

// PageType 监控页类型。
type PageType string

const (
	PageTypePlan           PageType = "plan"
	PageTypeToolExecution  PageType = "tool-execution"
	PageTypeReport         PageType = "report"
	PageTypeFile           PageType = "file"
	PageTypeError          PageType = "error"
	PageTypeWebBrowsing    PageType = "web-browsing"
	PageTypeDataCollection PageType = "data-collection"
	PageTypeLog            PageType = "log"
)

// PageStatus 页面状态标签。
type PageStatus string

const (
	StatusSuccess PageStatus = "success"
	StatusError   PageStatus = "error"
	StatusRunning PageStatus = "running"
)

// 保留单例页 ID, 同 ID 事件就地替换, 不追加副本。
const (
	PageIDTodoPlan          = "todo-plan"
	PageIDIncrementalReport = "incremental-report"
	PageIDFinalReport       = "final-report"
)

// PageMetadata 页面附加元数据 (开放记录, 按类型使用子集)。
type PageMetadata struct {
	LineCount     int        `json:"lineCount,omitempty"`
	ByteSize      int        `json:"byteSize,omitempty"`
	ExecutionTime float64    `json:"executionTime,omitempty"`
	Status        PageStatus `json:"status,omitempty"`
	URL           string     `json:"url,omitempty"`
	ScreenshotURL string     `json:"screenshotUrl,omitempty"`
	DataSummary   string     `json:"dataSummary,omitempty"`
	PartialData   any        `json:"partialData,omitempty"`
	LogLevel      string     `json:"logLevel,omitempty"`
}

// Page 单个监控页, 任务执行流中一个带时间戳的展示单元。
//
// ID 在单个任务内唯一; 保留 ID (todo-plan / incremental-report /
// final-report) 为单例, 追加时就地替换。
type Page struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Content    string         `json:"content"`
	Type       PageType       `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	ToolName   string         `json:"toolName,omitempty"`
	ToolParams map[string]any `json:"toolParams,omitempty"`
	Metadata   PageMetadata   `json:"metadata"`
}

// Cursor 单任务分页游标。
//
// 不变式: 0 <= Index < max(1, pageCount); Live=true 时每次页数变化后
// 重新对齐到最后一页。
type Cursor struct {
	Index int  `json:"currentIndex"`
	Live  bool `json:"liveMode"`
}

// PlanStep 外部计划组件下发的步骤标志 (本引擎只消费 flags)。
type PlanStep struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Active    bool   `json:"active"`
	Completed bool   `json:"completed"`
	Failed    bool   `json:"failed"`
}

// ExecutedTool 单次工具执行记录 (实时流或后端快照)。
type ExecutedTool struct {
	Tool          string         `json:"tool"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	Result        map[string]any `json:"result,omitempty"`
	ExecutionTime float64        `json:"execution_time,omitempty"`
	Success       bool           `json:"success"`
	Timestamp     time.Time      `json:"timestamp,omitempty"`
}

// ExecutionSnapshot 后端同步批量快照: 已执行工具 + 整体状态。
type ExecutionSnapshot struct {
	Status        string         `json:"status"`
	ExecutedTools []ExecutedTool `json:"executed_tools"`
}

// ExternalLog 外部日志行 (非事件流路径)。
type ExternalLog struct {
	Message   string    `json:"message"`
	Level     string    `json:"level"`
	Timestamp time.Time `json:"timestamp"`
}

// Screenshot 浏览器截图引用 (环形缓存条目, 页面列表之外的实时预览)。
type Screenshot struct {
	ID        string    `json:"id"`
	Ref       string    `json:"screenshot"`
	Step      string    `json:"step"`
	URL       string    `json:"url,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot 暴露给展示层的页面列表快照。
type Snapshot struct {
	Pages        []Page `json:"pages"`
	CurrentIndex int    `json:"currentIndex"`
	TotalCount   int    `json:"totalCount"`
	LiveMode     bool   `json:"liveMode"`
	SystemOnline bool   `json:"systemOnline"`
}
