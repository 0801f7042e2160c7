package errors

import (
	stderrors "errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// maxRecentErrors 保留的最近错误数量
const maxRecentErrors = 100

// ErrorStats 错误统计
type ErrorStats struct {
	TotalErrors       int            `json:"total_errors"`
	ErrorsByType      map[string]int `json:"errors_by_type"`
	ErrorsBySeverity  map[string]int `json:"errors_by_severity"`
	ErrorsByComponent map[string]int `json:"errors_by_component"`
	RecentErrors      []*ScoreError  `json:"recent_errors"`
	LastError         *ScoreError    `json:"last_error,omitempty"`
	LastErrorTime     time.Time      `json:"last_error_time"`
}

// NewErrorStats 创建错误统计
func NewErrorStats() *ErrorStats {
	return &ErrorStats{
		ErrorsByType:      make(map[string]int),
		ErrorsBySeverity:  make(map[string]int),
		ErrorsByComponent: make(map[string]int),
		RecentErrors:      make([]*ScoreError, 0),
	}
}

// RecordError 记录错误
func (es *ErrorStats) RecordError(err *ScoreError) {
	es.TotalErrors++
	es.ErrorsByType[err.Type.String()]++
	es.ErrorsBySeverity[err.Severity.String()]++
	if err.Component != "" {
		es.ErrorsByComponent[err.Component]++
	}

	es.LastError = err
	es.LastErrorTime = err.Timestamp

	es.RecentErrors = append(es.RecentErrors, err)
	if len(es.RecentErrors) > maxRecentErrors {
		es.RecentErrors = es.RecentErrors[1:]
	}
}

// GetErrorRate 获取错误率（错误/小时）
func (es *ErrorStats) GetErrorRate(duration time.Duration) float64 {
	if duration <= 0 {
		return 0
	}

	cutoff := time.Now().Add(-duration)
	recentCount := 0
	for _, err := range es.RecentErrors {
		if err.Timestamp.After(cutoff) {
			recentCount++
		}
	}

	return float64(recentCount) / duration.Hours()
}

// Recorder 线程安全的错误记录器，统计评分流程中出现的错误并按严重级别输出日志
type Recorder struct {
	logger *logrus.Logger
	mu     sync.RWMutex
	stats  *ErrorStats
}

// NewRecorder 创建错误记录器
func NewRecorder(logger *logrus.Logger) *Recorder {
	return &Recorder{
		logger: logger,
		stats:  NewErrorStats(),
	}
}

// Record 记录错误并返回其ScoreError形式。传入的错误不会被修改
func (r *Recorder) Record(err error, component string) *ScoreError {
	if err == nil {
		return nil
	}

	var scoreErr *ScoreError
	if !stderrors.As(err, &scoreErr) {
		scoreErr = WrapError(err, ErrorTypeSystem, SeverityMedium, "UNKNOWN_ERROR", "未知错误")
	}
	if scoreErr.Component == "" {
		// 同一个错误可能被多个并发请求共享，只修改副本
		cp := *scoreErr
		cp.Component = component
		scoreErr = &cp
	}

	r.mu.Lock()
	r.stats.RecordError(scoreErr)
	r.mu.Unlock()

	entry := r.logger.WithFields(logrus.Fields{
		"error_type":  scoreErr.Type.String(),
		"error_code":  scoreErr.Code,
		"component":   scoreErr.Component,
		"retryable":   scoreErr.Retryable,
		"status_code": scoreErr.StatusCode,
		"attempts":    scoreErr.Attempts,
	})
	switch scoreErr.Severity {
	case SeverityLow:
		entry.Debug(scoreErr.Error())
	case SeverityMedium:
		entry.Warn(scoreErr.Error())
	default:
		entry.Error(scoreErr.Error())
	}

	return scoreErr
}

// Snapshot 返回统计信息副本
func (r *Recorder) Snapshot() ErrorStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := ErrorStats{
		TotalErrors:       r.stats.TotalErrors,
		ErrorsByType:      make(map[string]int, len(r.stats.ErrorsByType)),
		ErrorsBySeverity:  make(map[string]int, len(r.stats.ErrorsBySeverity)),
		ErrorsByComponent: make(map[string]int, len(r.stats.ErrorsByComponent)),
		RecentErrors:      append([]*ScoreError(nil), r.stats.RecentErrors...),
		LastError:         r.stats.LastError,
		LastErrorTime:     r.stats.LastErrorTime,
	}
	for k, v := range r.stats.ErrorsByType {
		snapshot.ErrorsByType[k] = v
	}
	for k, v := range r.stats.ErrorsBySeverity {
		snapshot.ErrorsBySeverity[k] = v
	}
	for k, v := range r.stats.ErrorsByComponent {
		snapshot.ErrorsByComponent[k] = v
	}
	return snapshot
}

// Clear 清除统计信息
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = NewErrorStats()
}
