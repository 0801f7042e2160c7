package api

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LogEntry 日志条目
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// LogManager 保存最近的日志，容量满后覆盖最旧的条目
type LogManager struct {
	mu    sync.RWMutex
	ring  []LogEntry
	next  int
	count int
}

// NewLogManager 创建日志管理器
func NewLogManager(capacity int) *LogManager {
	if capacity < 1 {
		capacity = 1
	}
	return &LogManager{ring: make([]LogEntry, capacity)}
}

// AddLog 添加日志。字段会被复制，调用方之后修改entry不影响已保存的条目
func (lm *LogManager) AddLog(entry *logrus.Entry) {
	var fields map[string]interface{}
	if len(entry.Data) > 0 {
		fields = make(map[string]interface{}, len(entry.Data))
		for k, v := range entry.Data {
			if err, ok := v.(error); ok {
				v = err.Error()
			}
			fields[k] = v
		}
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.ring[lm.next] = LogEntry{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
		Fields:    fields,
	}
	lm.next = (lm.next + 1) % len(lm.ring)
	if lm.count < len(lm.ring) {
		lm.count++
	}
}

// newestFirst 按时间倒序返回符合级别的日志，调用方持有读锁
func (lm *LogManager) newestFirst(level string) []LogEntry {
	out := make([]LogEntry, 0, lm.count)
	for i := 1; i <= lm.count; i++ {
		e := lm.ring[(lm.next-i+len(lm.ring))%len(lm.ring)]
		if level == "" || e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

// GetLogsWithPagination 分页获取日志，最新的在前
func (lm *LogManager) GetLogsWithPagination(level string, page, pageSize int) ([]LogEntry, int) {
	lm.mu.RLock()
	logs := lm.newestFirst(level)
	lm.mu.RUnlock()

	total := len(logs)
	start := (page - 1) * pageSize
	if start >= total {
		return []LogEntry{}, total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return logs[start:end], total
}

// ClearLogs 清空日志
func (lm *LogManager) ClearLogs() {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.ring = make([]LogEntry, len(lm.ring))
	lm.next = 0
	lm.count = 0
}

// LogHook 把日志同步到LogManager的logrus钩子
type LogHook struct {
	manager *LogManager
}

// NewLogHook 创建日志钩子
func NewLogHook(manager *LogManager) *LogHook {
	return &LogHook{manager: manager}
}

// Fire 实现 logrus.Hook 接口
func (h *LogHook) Fire(entry *logrus.Entry) error {
	h.manager.AddLog(entry)
	return nil
}

// Levels 只保存info及以上级别
func (h *LogHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel, logrus.InfoLevel}
}
