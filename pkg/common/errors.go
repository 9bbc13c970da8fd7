package common

import (
	"errors"
	"fmt"
)

// ErrorType 错误类型
type ErrorType uint

const (
	// ErrorTypeInternal 内部错误
	ErrorTypeInternal ErrorType = iota
	// ErrorTypeValidation 配置或参数验证错误
	ErrorTypeValidation
	// ErrorTypeAcmeClient ACME客户端调用错误
	ErrorTypeAcmeClient
	// ErrorTypeDeployment 证书部署错误
	ErrorTypeDeployment
	// ErrorTypeKeystoreSync 密钥库同步错误
	ErrorTypeKeystoreSync
	// ErrorTypeRestart 服务重启错误（非致命，仅记录）
	ErrorTypeRestart
)

// AppError 应用错误
type AppError struct {
	// Type 错误类型
	Type ErrorType
	// Code 错误代码
	Code string
	// Message 错误消息
	Message string
	// Err 原始错误
	Err error
	// Fields 相关字段
	Fields map[string]interface{}
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 实现errors.Unwrap接口
func (e *AppError) Unwrap() error {
	return e.Err
}

// exitCode 返回对应的进程退出码
// 服务重启失败不影响整体结果（证书文件已正确就位），退出码为0
func (e *AppError) exitCode() int {
	switch e.Type {
	case ErrorTypeValidation:
		return 2
	case ErrorTypeAcmeClient:
		return 3
	case ErrorTypeDeployment:
		return 4
	case ErrorTypeKeystoreSync:
		return 5
	case ErrorTypeRestart:
		return 0
	default:
		return 1
	}
}

// WithField 添加字段信息
func (e *AppError) WithField(key string, value interface{}) *AppError {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	e.Fields[key] = value
	return e
}

// NewAppError 创建应用错误
func NewAppError(errType ErrorType, code string, message string, err error) *AppError {
	return &AppError{
		Type:    errType,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsAppError 检查错误是否为AppError类型
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// IsErrorType 检查错误是否为指定类型的AppError
func IsErrorType(err error, errType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errType
	}
	return false
}

// ExitCode 根据错误决定进程退出码
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.exitCode()
	}

	return 1
}

// NewValidationError 创建验证错误
func NewValidationError(message string, err error) *AppError {
	return NewAppError(ErrorTypeValidation, "VALIDATION_ERROR", message, err)
}

// NewAcmeClientError 创建ACME客户端错误
func NewAcmeClientError(message string, err error) *AppError {
	return NewAppError(ErrorTypeAcmeClient, "ACME_CLIENT_FAILURE", message, err)
}

// NewDeploymentError 创建证书部署错误
func NewDeploymentError(message string, err error) *AppError {
	return NewAppError(ErrorTypeDeployment, "DEPLOYMENT_FAILURE", message, err)
}

// NewKeystoreSyncError 创建密钥库同步错误
func NewKeystoreSyncError(message string, err error) *AppError {
	return NewAppError(ErrorTypeKeystoreSync, "KEYSTORE_SYNC_FAILURE", message, err)
}

// NewRestartError 创建服务重启错误
func NewRestartError(message string, err error) *AppError {
	return NewAppError(ErrorTypeRestart, "RESTART_FAILURE", message, err)
}

// NewInternalError 创建内部错误
func NewInternalError(message string, err error) *AppError {
	return NewAppError(ErrorTypeInternal, "INTERNAL_ERROR", message, err)
}
