// builder.go: 事件与工具记录到监控页的纯转换, 无状态无锁。
package taskmon

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

func lineCount(s string) int {
	return strings.Count(s, "\n") + 1
}

func jsonBlock(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

// buildTodoPage 由计划标志生成 TODO 计划页 (保留 ID, 就地替换)。
func buildTodoPage(steps []PlanStep, now time.Time) Page {
	var sb strings.Builder
	sb.WriteString("# Action Plan\n\n")
	for i, step := range steps {
		mark := "○"
		if step.Completed {
			mark = "✓"
		}
		fmt.Fprintf(&sb, "%d. %s %s\n", i+1, step.Title, mark)
	}
	sb.WriteString("\n---\n\n*Generated automatically by the task monitor*")
	content := sb.String()
	return Page{
		ID:        PageIDTodoPlan,
		Title:     "TODO.md - Action Plan",
		Content:   content,
		Type:      PageTypePlan,
		Timestamp: now,
		Metadata: PageMetadata{
			LineCount: lineCount(content),
			Status:    StatusSuccess,
		},
	}
}

// buildToolPage 实时工具结果 → 执行页。ID 由 (工具名, 批内下标) 派生,
// 重复应用同一批次按 ID 就地替换, 幂等。
func buildToolPage(tool ExecutedTool, index, topHits int, now time.Time) Page {
	name := strings.TrimSpace(tool.Tool)
	if name == "" {
		name = "unknown"
	}
	content := generateToolContent(name, tool, topHits, now)
	status := StatusSuccess
	if errText, ok := tool.Result["error"]; ok && errText != nil {
		status = StatusError
	}
	return Page{
		ID:         fmt.Sprintf("tool-%s-%d", name, index),
		Title:      fmt.Sprintf("%s - Execution #%d", strings.ToUpper(name), index+1),
		Content:    content,
		Type:       PageTypeToolExecution,
		Timestamp:  now,
		ToolName:   name,
		ToolParams: tool.Parameters,
		Metadata: PageMetadata{
			LineCount:     lineCount(content),
			Status:        status,
			ExecutionTime: tool.ExecutionTime,
		},
	}
}

func generateToolContent(name string, tool ExecutedTool, topHits int, now time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Tool Execution: %s\n\n", strings.ToUpper(name))
	fmt.Fprintf(&sb, "**Timestamp:** %s\n", now.Format(time.RFC3339))
	fmt.Fprintf(&sb, "**Parameters:**\n```json\n%s\n```\n\n", jsonBlock(tool.Parameters))

	switch name {
	case "shell":
		fmt.Fprintf(&sb, "**Command:** `%v`\n\n", tool.Parameters["command"])
		sb.WriteString("**Output:**\n```bash\n")
		if stdout, ok := tool.Result["stdout"].(string); ok {
			sb.WriteString(stdout)
		}
		if stderr, ok := tool.Result["stderr"].(string); ok && stderr != "" {
			fmt.Fprintf(&sb, "\nERROR: %s", stderr)
		}
		sb.WriteString("\n```\n")
	case "web_search":
		fmt.Fprintf(&sb, "**Query:** %v\n\n", tool.Parameters["query"])
		if hits, ok := tool.Result["results"].([]any); ok {
			fmt.Fprintf(&sb, "**Results found:** %d\n\n", len(hits))
			for i, h := range hits {
				if i >= topHits {
					break
				}
				hit, _ := h.(map[string]any)
				fmt.Fprintf(&sb, "### %d. %v\n", i+1, hit["title"])
				fmt.Fprintf(&sb, "**URL:** %v\n", hit["url"])
				fmt.Fprintf(&sb, "**Snippet:** %v\n\n", hit["snippet"])
			}
		}
	case "file_manager":
		fmt.Fprintf(&sb, "**Action:** %v\n", tool.Parameters["action"])
		fmt.Fprintf(&sb, "**Path:** %v\n\n", tool.Parameters["path"])
		if success, ok := tool.Result["success"]; ok && success != nil {
			fmt.Fprintf(&sb, "✓ **Success:** %v\n", success)
		}
		if errText, ok := tool.Result["error"]; ok && errText != nil {
			fmt.Fprintf(&sb, "✗ **Error:** %v\n", errText)
		}
	}
	return sb.String()
}

// deepResearchReport 提取深度研究工具的控制台报告 (顶层或嵌套 result 下)。
func deepResearchReport(tool ExecutedTool) (string, bool) {
	if report, ok := tool.Result["console_report"].(string); ok && report != "" {
		return report, true
	}
	if inner, ok := tool.Result["result"].(map[string]any); ok {
		if report, ok := inner["console_report"].(string); ok && report != "" {
			return report, true
		}
	}
	return "", false
}

func buildResearchReportPage(report string, index int, now time.Time) Page {
	return Page{
		ID:        fmt.Sprintf("report-%d", index),
		Title:     fmt.Sprintf("Research Report - %s", now.Format("2006-01-02")),
		Content:   report,
		Type:      PageTypeReport,
		Timestamp: now,
		Metadata: PageMetadata{
			LineCount: lineCount(report),
			ByteSize:  len(report),
			Status:    StatusSuccess,
		},
	}
}

// buildBackendToolPage 后端快照中的工具记录 → 执行页。
func buildBackendToolPage(tool ExecutedTool, index int, now time.Time) Page {
	name := strings.TrimSpace(tool.Tool)
	if name == "" {
		name = "unknown"
	}
	ts := tool.Timestamp
	if ts.IsZero() {
		ts = now
	}
	content := generateBackendToolContent(name, tool, ts)
	status := StatusError
	if tool.Success {
		status = StatusSuccess
	}
	execTime := tool.ExecutionTime
	if v, ok := tool.Result["execution_time"].(float64); ok {
		execTime = v
	}
	return Page{
		ID:         fmt.Sprintf("backend-tool-%s-%d", name, index),
		Title:      fmt.Sprintf("%s - Executed by Backend", strings.ToUpper(name)),
		Content:    content,
		Type:       PageTypeToolExecution,
		Timestamp:  ts,
		ToolName:   name,
		ToolParams: tool.Parameters,
		Metadata: PageMetadata{
			LineCount:     lineCount(content),
			Status:        status,
			ExecutionTime: execTime,
		},
	}
}

func generateBackendToolContent(name string, tool ExecutedTool, ts time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Backend Execution: %s\n\n", strings.ToUpper(name))
	fmt.Fprintf(&sb, "**Timestamp:** %s\n", ts.Format(time.RFC3339))
	if tool.Success {
		sb.WriteString("**Status:** ✓ SUCCESS\n")
	} else {
		sb.WriteString("**Status:** ✗ FAILED\n")
	}
	execTime := tool.ExecutionTime
	if v, ok := tool.Result["execution_time"].(float64); ok {
		execTime = v
	}
	fmt.Fprintf(&sb, "**Execution time:** %gs\n\n", execTime)

	if len(tool.Parameters) > 0 {
		fmt.Fprintf(&sb, "**Parameters:**\n```json\n%s\n```\n\n", jsonBlock(tool.Parameters))
	}
	if len(tool.Result) > 0 {
		fmt.Fprintf(&sb, "**Result:**\n```json\n%s\n```\n\n", jsonBlock(tool.Result))
	}

	switch name {
	case "web_search":
		if hits, ok := tool.Result["results"].([]any); ok {
			sb.WriteString("**Search results:**\n")
			for i, h := range hits {
				hit, _ := h.(map[string]any)
				fmt.Fprintf(&sb, "%d. **%v**\n", i+1, hit["title"])
				fmt.Fprintf(&sb, "   URL: %v\n", hit["url"])
				snippet := "N/A"
				if s, ok := hit["snippet"].(string); ok && s != "" {
					snippet = s
				}
				fmt.Fprintf(&sb, "   Snippet: %s\n\n", snippet)
			}
		}
	case "shell":
		if stdout, ok := tool.Result["stdout"].(string); ok && stdout != "" {
			fmt.Fprintf(&sb, "**Output:**\n```bash\n%s\n```\n", stdout)
			if stderr, ok := tool.Result["stderr"].(string); ok && stderr != "" {
				fmt.Fprintf(&sb, "**Error:**\n```bash\n%s\n```\n", stderr)
			}
		}
	case "file_manager":
		fmt.Fprintf(&sb, "**Operation:** %s\n", stringOrNA(tool.Parameters, "action"))
		fmt.Fprintf(&sb, "**File:** %s\n", stringOrNA(tool.Parameters, "path"))
		if success, ok := tool.Result["success"].(bool); ok && success {
			sb.WriteString("**Result:** Operation completed successfully\n")
		}
	}
	return sb.String()
}

func stringOrNA(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return "N/A"
}

// buildBrowserPage 浏览器活动事件 → 导航页。URL 不合法时返回错误,
// 调用方丢弃事件并告警。
func buildBrowserPage(id, rawURL, title, activityType, screenshotURL string, ts time.Time) (Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Page{}, err
	}
	if u.Scheme == "" || u.Host == "" {
		return Page{}, fmt.Errorf("url %q 缺少 scheme 或 host", rawURL)
	}
	display := title
	if display == "" {
		display = u.Hostname()
	}
	return Page{
		ID:        id,
		Title:     fmt.Sprintf("🌐 Browsing: %s", display),
		Content:   fmt.Sprintf("**URL:** %s\n**Title:** %s\n**Type:** %s", rawURL, title, activityType),
		Type:      PageTypeWebBrowsing,
		Timestamp: ts,
		Metadata: PageMetadata{
			URL:           rawURL,
			ScreenshotURL: screenshotURL,
			Status:        StatusSuccess,
		},
	}, nil
}

// buildDataCollectionPage 数据采集事件 → 采集页。partial 为空时以摘要兜底。
func buildDataCollectionPage(id, summary string, partial any, ts time.Time) Page {
	content := summary
	if partial != nil {
		content = jsonBlock(partial)
	}
	return Page{
		ID:        id,
		Title:     fmt.Sprintf("📊 %s", summary),
		Content:   content,
		Type:      PageTypeDataCollection,
		Timestamp: ts,
		Metadata: PageMetadata{
			DataSummary: summary,
			PartialData: partial,
			Status:      StatusSuccess,
		},
	}
}

func logLevelPrefix(level string) string {
	switch level {
	case "error":
		return "❌"
	case "warn":
		return "⚠️"
	case "info":
		return "ℹ️"
	default:
		return "🔧"
	}
}

// buildLogPage 日志事件 → 日志页 (仅 error 级或超长消息才成页)。
func buildLogPage(id, level, message string, ts time.Time) Page {
	status := StatusSuccess
	if level == "error" {
		status = StatusError
	}
	return Page{
		ID:        id,
		Title:     fmt.Sprintf("%s Log: %s", logLevelPrefix(level), strings.ToUpper(level)),
		Content:   message,
		Type:      PageTypeLog,
		Timestamp: ts,
		Metadata: PageMetadata{
			LogLevel: level,
			Status:   status,
		},
	}
}

// buildExternalLogPage 外部日志行 (带 Markdown 标题的) → 文件页。
func buildExternalLogPage(id string, log ExternalLog) Page {
	status := StatusSuccess
	if log.Level == "error" {
		status = StatusError
	}
	return Page{
		ID:        id,
		Title:     fmt.Sprintf("System Log - %s", log.Timestamp.Format("15:04:05")),
		Content:   log.Message,
		Type:      PageTypeFile,
		Timestamp: log.Timestamp,
		Metadata: PageMetadata{
			LineCount: lineCount(log.Message),
			Status:    status,
		},
	}
}

// hasMarkdownHeading 判断外部日志行是否携带 Markdown 标题 (成页条件)。
func hasMarkdownHeading(s string) bool {
	return strings.Contains(s, "# ") || strings.Contains(s, "## ") || strings.Contains(s, "### ")
}

// buildBrowserVisualPage 截图事件 → 可视化导航页。
func buildBrowserVisualPage(id string, shot Screenshot) Page {
	step := shot.Step
	if step == "" {
		step = "Web Navigation"
	}
	pageURL := shot.URL
	if pageURL == "" {
		pageURL = "unknown"
	}
	content := fmt.Sprintf(
		"# Live Web Navigation\n\n## %s\n\n**Timestamp:** %s\n**URL:** %s\n\n![Screenshot](%s)\n\n---\n\n*Automatic browser capture*",
		step, shot.Timestamp.Format("15:04:05"), pageURL, shot.Ref,
	)
	return Page{
		ID:        id,
		Title:     fmt.Sprintf("🌐 %s", step),
		Content:   content,
		Type:      PageTypeWebBrowsing,
		Timestamp: shot.Timestamp,
		Metadata: PageMetadata{
			Status:        StatusSuccess,
			URL:           shot.URL,
			ScreenshotURL: shot.Ref,
		},
	}
}

// mergeIncrementalReport 增量报告事件合并到单例构建中报告页。
// full_report_so_far 优先整体替换, 否则在已有内容上追加 delta。
func mergeIncrementalReport(prev Page, exists bool, sectionTitle, fullReport, delta string, ts time.Time) Page {
	if !exists {
		prev = Page{
			ID:       PageIDIncrementalReport,
			Title:    "📄 Report in Progress",
			Content:  "",
			Type:     PageTypeReport,
			Metadata: PageMetadata{Status: StatusRunning},
		}
	}
	content := fullReport
	if content == "" {
		content = prev.Content + delta
	}
	title := prev.Title
	if sectionTitle != "" {
		title = fmt.Sprintf("📄 %s", sectionTitle)
	}
	prev.Title = title
	prev.Content = content
	prev.Timestamp = ts
	prev.Metadata.LineCount = lineCount(content)
	return prev
}

// buildFinalReportPlaceholder 最终报告占位页 (拉取完成前)。
func buildFinalReportPlaceholder(now time.Time) Page {
	return Page{
		ID:        PageIDFinalReport,
		Title:     "📄 FINAL REPORT - Task Completed",
		Content:   "Loading final report...",
		Type:      PageTypeReport,
		Timestamp: now,
		Metadata: PageMetadata{
			LineCount: 1,
			Status:    StatusRunning,
		},
	}
}

// buildFinalReportPage 最终报告页 (三条路径共用, 状态一律 success)。
func buildFinalReportPage(content string, now time.Time) Page {
	return Page{
		ID:        PageIDFinalReport,
		Title:     "📄 FINAL REPORT - Task Completed",
		Content:   content,
		Type:      PageTypeReport,
		Timestamp: now,
		Metadata: PageMetadata{
			LineCount: lineCount(content),
			ByteSize:  len(content),
			Status:    StatusSuccess,
		},
	}
}
