package errors

import (
	"fmt"
	"time"
)

// ErrorType 错误类型
type ErrorType int

const (
	// 凭证与传输相关错误
	ErrorTypeNoCredentials ErrorType = iota
	ErrorTypeTransport
	ErrorTypeTimeout
	ErrorTypeRateLimit

	// 数据源相关错误
	ErrorTypeProviderUnavailable
	ErrorTypeProviderRejected
	ErrorTypeNoData

	// 输入与配置错误
	ErrorTypeValidation
	ErrorTypeUnsupportedChain
	ErrorTypeConfig

	// 系统相关错误
	ErrorTypeCache
	ErrorTypeSystem
)

// ErrorSeverity 错误严重级别
type ErrorSeverity int

const (
	SeverityLow ErrorSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// ScoreError 评分流程中的自定义错误
type ScoreError struct {
	Type       ErrorType              `json:"type"`
	Severity   ErrorSeverity          `json:"severity"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Timestamp  time.Time              `json:"timestamp"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Cause      error                  `json:"-"`
	Retryable  bool                   `json:"retryable"`
	Component  string                 `json:"component,omitempty"`
	StatusCode int                    `json:"status_code,omitempty"` // 最后一次观察到的HTTP状态码
	Attempts   int                    `json:"attempts,omitempty"`
}

// Error 实现error接口
func (e *ScoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持errors.Unwrap
func (e *ScoreError) Unwrap() error {
	return e.Cause
}

// Is 按错误码匹配，使预定义错误可以配合errors.Is使用
func (e *ScoreError) Is(target error) bool {
	t, ok := target.(*ScoreError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// IsRetryable 判断是否可重试
func (e *ScoreError) IsRetryable() bool {
	return e.Retryable
}

// WithContext 添加上下文信息
func (e *ScoreError) WithContext(key string, value interface{}) *ScoreError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithStatus 记录HTTP状态码
func (e *ScoreError) WithStatus(status int) *ScoreError {
	e.StatusCode = status
	return e
}

// WithAttempts 记录尝试次数
func (e *ScoreError) WithAttempts(attempts int) *ScoreError {
	e.Attempts = attempts
	return e
}

// WithComponent 记录出错组件
func (e *ScoreError) WithComponent(component string) *ScoreError {
	e.Component = component
	return e
}

// NewScoreError 创建新的错误
func NewScoreError(errorType ErrorType, severity ErrorSeverity, code, message string) *ScoreError {
	return &ScoreError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: determineRetryable(errorType),
	}
}

// WrapError 包装现有错误
func WrapError(err error, errorType ErrorType, severity ErrorSeverity, code, message string) *ScoreError {
	return &ScoreError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
		Retryable: determineRetryable(errorType),
	}
}

// determineRetryable 根据错误类型判断是否可重试
func determineRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeTransport, ErrorTypeTimeout, ErrorTypeRateLimit:
		return true
	default:
		return false
	}
}

// 预定义错误，仅用于errors.Is比较，不要直接修改
var (
	ErrNoCredentials = NewScoreError(
		ErrorTypeNoCredentials,
		SeverityHigh,
		"NO_CREDENTIALS",
		"没有可用的API密钥",
	)

	ErrProviderUnavailable = NewScoreError(
		ErrorTypeProviderUnavailable,
		SeverityHigh,
		"PROVIDER_UNAVAILABLE",
		"数据源不可用",
	)

	ErrProviderRejected = NewScoreError(
		ErrorTypeProviderRejected,
		SeverityMedium,
		"PROVIDER_REJECTED",
		"数据源拒绝请求",
	)

	ErrNoProviderData = NewScoreError(
		ErrorTypeNoData,
		SeverityMedium,
		"NO_PROVIDER_DATA",
		"无法从数据源获取任何数据",
	)

	ErrInvalidAddress = NewScoreError(
		ErrorTypeValidation,
		SeverityLow,
		"INVALID_ADDRESS",
		"钱包地址格式无效",
	)

	ErrUnsupportedChain = NewScoreError(
		ErrorTypeUnsupportedChain,
		SeverityLow,
		"UNSUPPORTED_CHAIN",
		"不支持的区块链",
	)

	ErrConfigInvalid = NewScoreError(
		ErrorTypeConfig,
		SeverityCritical,
		"CONFIG_INVALID",
		"配置无效",
	)
)

// NoCredentials 为指定数据源创建凭证耗尽错误
func NoCredentials(provider string) *ScoreError {
	return NewScoreError(ErrorTypeNoCredentials, SeverityHigh, ErrNoCredentials.Code,
		fmt.Sprintf("数据源 %s 没有可用的API密钥", provider)).
		WithContext("provider", provider)
}

// ProviderUnavailable 创建重试耗尽后的数据源不可用错误
func ProviderUnavailable(provider string, status, attempts int, cause error) *ScoreError {
	return WrapError(cause, ErrorTypeProviderUnavailable, SeverityHigh, ErrProviderUnavailable.Code,
		fmt.Sprintf("数据源 %s 在 %d 次尝试后仍不可用", provider, attempts)).
		WithStatus(status).
		WithAttempts(attempts).
		WithContext("provider", provider)
}

// ProviderRejected 创建不可重试的数据源错误
func ProviderRejected(provider string, status int, cause error) *ScoreError {
	return WrapError(cause, ErrorTypeProviderRejected, SeverityMedium, ErrProviderRejected.Code,
		fmt.Sprintf("数据源 %s 拒绝请求 (HTTP %d)", provider, status)).
		WithStatus(status).
		WithContext("provider", provider)
}

// 错误类型字符串映射
var errorTypeNames = map[ErrorType]string{
	ErrorTypeNoCredentials:       "NoCredentials",
	ErrorTypeTransport:           "Transport",
	ErrorTypeTimeout:             "Timeout",
	ErrorTypeRateLimit:           "RateLimit",
	ErrorTypeProviderUnavailable: "ProviderUnavailable",
	ErrorTypeProviderRejected:    "ProviderRejected",
	ErrorTypeNoData:              "NoData",
	ErrorTypeValidation:          "Validation",
	ErrorTypeUnsupportedChain:    "UnsupportedChain",
	ErrorTypeConfig:              "Config",
	ErrorTypeCache:               "Cache",
	ErrorTypeSystem:              "System",
}

// String 返回错误类型的字符串表示
func (et ErrorType) String() string {
	if name, exists := errorTypeNames[et]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", et)
}

// 严重级别字符串映射
var severityNames = map[ErrorSeverity]string{
	SeverityLow:      "Low",
	SeverityMedium:   "Medium",
	SeverityHigh:     "High",
	SeverityCritical: "Critical",
}

// String 返回严重级别的字符串表示
func (es ErrorSeverity) String() string {
	if name, exists := severityNames[es]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", es)
}
