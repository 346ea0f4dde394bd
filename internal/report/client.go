// Package report 封装后端最终报告接口的 HTTP 客户端。
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/multi-agent/task-monitor/pkg/errors"
	"github.com/multi-agent/task-monitor/pkg/logger"
)

// StatusError 远端可达但响应非 2xx。
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("report endpoint returned status %d", e.Code)
}

// StatusCode 返回 HTTP 状态码。
func (e *StatusError) StatusCode() int { return e.Code }

// Client 最终报告拉取客户端。
type Client struct {
	base string
	http *http.Client
}

// NewClient 创建客户端。base 形如 http://localhost:8001。
func NewClient(base string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// Generate 请求后端生成最终报告, 返回报告正文。
//
// 响应 JSON 的 report 字段优先, 其次 content; 两者皆空时返回原始正文。
func (c *Client) Generate(ctx context.Context, taskID string) (string, error) {
	endpoint := fmt.Sprintf("%s/api/agent/generate-final-report/%s", c.base, taskID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", errors.Wrap(err, "report.Generate", "构造请求失败")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", errors.Wrap(errors.ErrTimeout, "report.Generate", "请求最终报告超时")
		}
		return "", errors.Wrap(err, "report.Generate", "请求最终报告失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Error("report: endpoint error",
			logger.FieldTaskID, taskID, logger.FieldStatus, resp.StatusCode)
		return "", &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "report.Generate", "读取响应失败")
	}
	var parsed struct {
		Report  string `json:"report"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Report != "" {
			return parsed.Report, nil
		}
		if parsed.Content != "" {
			return parsed.Content, nil
		}
	}
	return string(body), nil
}
