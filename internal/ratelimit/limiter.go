// Package ratelimit 按数据源限制每秒调用次数。超出配额的调用会阻塞等待而不是被拒绝。
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Limiter 单个数据源的令牌桶，被所有并发调用方共享
type Limiter struct {
	provider string
	limiter  *rate.Limiter
	logger   *logrus.Logger

	mu      sync.Mutex
	granted uint64
	waited  time.Duration
}

// Stats 限流统计
type Stats struct {
	Provider     string  `json:"provider"`
	CallsPerSec  float64 `json:"calls_per_second"`
	Burst        int     `json:"burst"`
	Granted      uint64  `json:"granted"`
	TotalWaitMs  int64   `json:"total_wait_ms"`
	Unrestricted bool    `json:"unrestricted"`
}

// NewLimiter 创建限流器。callsPerSecond<=0 表示不限流；burst<1 时按1处理
func NewLimiter(provider string, callsPerSecond float64, burst int, logger *logrus.Logger) *Limiter {
	limit := rate.Inf
	if callsPerSecond > 0 {
		limit = rate.Limit(callsPerSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		provider: provider,
		limiter:  rate.NewLimiter(limit, burst),
		logger:   logger,
	}
}

// Wait 阻塞直到获得调用配额。只有上下文取消或截止时间不足以等到配额时才返回错误
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("数据源 %s 等待限流配额失败: %w", l.provider, err)
	}
	waited := time.Since(start)

	l.mu.Lock()
	l.granted++
	l.waited += waited
	l.mu.Unlock()

	if waited > 100*time.Millisecond {
		l.logger.WithFields(logrus.Fields{
			"provider": l.provider,
			"waited":   waited.String(),
		}).Debug("限流等待")
	}
	return nil
}

// Stats 获取统计信息
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	limit := l.limiter.Limit()
	return Stats{
		Provider:     l.provider,
		CallsPerSec:  float64(limit),
		Burst:        l.limiter.Burst(),
		Granted:      l.granted,
		TotalWaitMs:  l.waited.Milliseconds(),
		Unrestricted: limit == rate.Inf,
	}
}

// Registry 按数据源名称管理限流器
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	logger   *logrus.Logger
}

// NewRegistry 创建限流器注册表
func NewRegistry(logger *logrus.Logger) *Registry {
	return &Registry{
		limiters: make(map[string]*Limiter),
		logger:   logger,
	}
}

// GetOrCreate 获取数据源的限流器，不存在时按给定参数创建
func (r *Registry) GetOrCreate(provider string, callsPerSecond float64, burst int) *Limiter {
	r.mu.RLock()
	limiter, ok := r.limiters[provider]
	r.mu.RUnlock()
	if ok {
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if limiter, ok := r.limiters[provider]; ok {
		return limiter
	}
	limiter = NewLimiter(provider, callsPerSecond, burst, r.logger)
	r.limiters[provider] = limiter
	return limiter
}

// Stats 获取所有限流器的统计
func (r *Registry) Stats() []Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make([]Stats, 0, len(r.limiters))
	for _, limiter := range r.limiters {
		stats = append(stats, limiter.Stats())
	}
	return stats
}
