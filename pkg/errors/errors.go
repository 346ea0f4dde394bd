// Package errors 提供统一错误类型与哨兵错误。
//
// 本包为 task-monitor 精简版:
//   - L1 哨兵错误: ErrInvalidInput / ErrTimeout / ErrOffline 等
//   - L2 AppError: 带 Op + Code + Message 的应用级错误
package errors

import (
	"errors"
	"fmt"
)

// ========================================
// L1 哨兵错误 (Sentinel Errors)
// ========================================

var (
	// ErrInvalidInput 输入参数无效
	ErrInvalidInput = errors.New("invalid input")

	// ErrTimeout 操作超时
	ErrTimeout = errors.New("timeout")

	// ErrTaskMismatch 事件 task_id 与当前任务不一致 (多任务隔离, 静默丢弃)
	ErrTaskMismatch = errors.New("task mismatch")

	// ErrOffline 系统离线 (无活跃传输连接)
	ErrOffline = errors.New("system offline")
)

// ========================================
// L2 AppError (应用级错误)
// ========================================

// AppError 应用级错误，带操作上下文。
type AppError struct {
	Op      string // 操作名，如 "PageStore.Append"
	Code    string // 错误码，如 "VALIDATION"、"REMOTE_ERROR"
	Message string // 人类可读消息
	Err     error  // 原始错误
}

// Error 实现 error 接口。
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap 支持 errors.Is / errors.As 链式查找。
func (e *AppError) Unwrap() error {
	return e.Err
}

// ========================================
// 工厂函数
// ========================================

// New 创建无原因链的应用错误。
func New(op, message string) error {
	return &AppError{Op: op, Message: message}
}

// Newf 创建带格式化消息的应用错误。
func Newf(op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap 包装错误并附加操作上下文。
func Wrap(err error, op string, message string) error {
	return &AppError{Op: op, Message: message, Err: err}
}

// Wrapf 用格式化消息包装错误。
func Wrapf(err error, op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// Is 透传标准库 errors.Is, 调用方无需双导入。
func Is(err, target error) bool { return errors.Is(err, target) }

// As 透传标准库 errors.As。
func As(err error, target any) bool { return errors.As(err, target) }
