package retry

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"trustscore/internal/errors"
)

// RetryConfig 单个数据源的重试配置（静态配置，不在运行时计算）
type RetryConfig struct {
	Enabled        bool                  `mapstructure:"enabled" json:"enabled"`                 // 是否启用重试
	MaxRetries     int                   `mapstructure:"max_retries" json:"max_retries"`         // 最大尝试次数（含首次调用）
	DefaultBackoff time.Duration         `mapstructure:"default_backoff" json:"default_backoff"` // 默认退避时间
	StatusBackoff  map[int]time.Duration `mapstructure:"status_backoff" json:"status_backoff"`   // 按状态码覆盖的退避时间
}

// DefaultRetryConfig 默认重试配置
var DefaultRetryConfig = &RetryConfig{
	Enabled:        true,
	MaxRetries:     3,
	DefaultBackoff: 500 * time.Millisecond,
	StatusBackoff: map[int]time.Duration{
		http.StatusTooManyRequests: 2 * time.Second,
	},
}

// maxAttempts 计算实际允许的尝试次数
func (c *RetryConfig) maxAttempts() int {
	if c == nil || !c.Enabled || c.MaxRetries < 1 {
		return 1
	}
	return c.MaxRetries
}

// backoffFor 按状态码选择退避时间
func (c *RetryConfig) backoffFor(status int) time.Duration {
	if d, ok := c.StatusBackoff[status]; ok {
		return d
	}
	return c.DefaultBackoff
}

// StatusOf 提取错误携带的HTTP状态码，没有则返回0
func StatusOf(err error) int {
	var scoreErr *errors.ScoreError
	if stderrors.As(err, &scoreErr) {
		return scoreErr.StatusCode
	}
	return 0
}

// IsTransient 判断一次失败是否属于可重试的瞬时故障：超时、429、5xx或显式配置了退避的状态码
func (c *RetryConfig) IsTransient(err error) bool {
	if err == nil {
		return false
	}
	// 调用方自己的取消不是数据源故障
	if stderrors.Is(err, context.Canceled) {
		return false
	}

	if status := StatusOf(err); status != 0 {
		return c.IsTransientStatus(status)
	}

	var scoreErr *errors.ScoreError
	if stderrors.As(err, &scoreErr) {
		return scoreErr.IsRetryable()
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// IsTransientStatus 判断HTTP状态码是否可重试
func (c *RetryConfig) IsTransientStatus(status int) bool {
	if c != nil {
		if _, ok := c.StatusBackoff[status]; ok {
			return true
		}
	}
	return status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500
}

// 常见的网络瞬时错误
var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"i/o timeout",
	"timeout",
	"temporary failure",
	"broken pipe",
	"eof",
}

// Retrier 重试器，每个数据源一个
type Retrier struct {
	provider string
	config   *RetryConfig
	logger   *logrus.Logger
}

// NewRetrier 创建重试器
func NewRetrier(provider string, config *RetryConfig, logger *logrus.Logger) *Retrier {
	if config == nil {
		config = DefaultRetryConfig
	}
	return &Retrier{
		provider: provider,
		config:   config,
		logger:   logger,
	}
}

// ExecuteFunc 单次尝试
type ExecuteFunc func(ctx context.Context) error

// Execute 执行重试逻辑，返回实际尝试次数。
// 不可重试的错误立即返回；重试耗尽后返回携带最后状态码的数据源不可用错误；
// 上下文取消时立即停止，不再执行剩余尝试。
func (r *Retrier) Execute(ctx context.Context, operation string, fn ExecuteFunc) (int, error) {
	maxAttempts := r.config.maxAttempts()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Debugf("操作 '%s' 在第 %d 次尝试后成功", operation, attempt)
			}
			return attempt, nil
		}

		// 等待期间或调用过程中上下文被取消
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt, ctxErr
		}

		if !r.config.IsTransient(err) {
			r.logger.Debugf("操作 '%s' 失败且不可重试: %v", operation, err)
			return attempt, err
		}

		status := StatusOf(err)
		if attempt >= maxAttempts {
			r.logger.WithFields(logrus.Fields{
				"provider":    r.provider,
				"operation":   operation,
				"attempts":    attempt,
				"status_code": status,
			}).Warnf("操作 '%s' 重试耗尽: %v", operation, err)
			return attempt, errors.ProviderUnavailable(r.provider, status, attempt, err)
		}

		delay := r.config.backoffFor(status)
		r.logger.Debugf("操作 '%s' 第 %d 次失败 (HTTP %d): %v，%v 后重试", operation, attempt, status, err, delay)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		}
	}
}

// GetConfig 获取重试配置
func (r *Retrier) GetConfig() *RetryConfig {
	return r.config
}
