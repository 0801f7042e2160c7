// Package api 运维HTTP服务：健康检查、Prometheus指标、出口池/限流/缓存/错误统计和最近日志。
// 评分请求本身不经过这里对外暴露。
package api

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"trustscore/internal/cache"
	"trustscore/internal/config"
	"trustscore/internal/connection"
	"trustscore/internal/errors"
	"trustscore/internal/metrics"
	"trustscore/internal/ratelimit"
	"trustscore/internal/service"
)

// Deps 运维服务读取的组件
type Deps struct {
	Config     *config.Config
	Scorer     *service.Scorer
	Cache      *cache.ScoreCache
	Transports *connection.Pool
	Limiters   *ratelimit.Registry
	Recorder   *errors.Recorder
	Metrics    *metrics.Metrics
	Logger     *logrus.Logger
}

// Server 运维HTTP服务
type Server struct {
	deps       Deps
	logger     *logrus.Logger
	logManager *LogManager
	router     *gin.Engine
	server     *http.Server
	startedAt  time.Time
	port       int
	mu         sync.Mutex
}

// NewServer 创建运维服务
func NewServer(deps Deps, port int) *Server {
	logManager := NewLogManager(1000)
	deps.Logger.AddHook(NewLogHook(logManager))

	s := &Server{
		deps:       deps,
		logger:     deps.Logger,
		logManager: logManager,
		startedAt:  time.Now(),
		port:       port,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})
	s.setupRoutes(router)
	s.router = router
	return s
}

// Handler 返回路由，便于测试或挂载到其他服务
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 启动服务，阻塞直到服务停止。正常停止时返回nil
func (s *Server) Start() error {
	s.mu.Lock()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.logger.Infof("运维服务启动在端口 %d", s.port)
	if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop 停止接受新请求并等待进行中的请求完成
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) setupRoutes(router *gin.Engine) {
	router.GET("/health", s.healthCheck)
	if s.deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}

	api := router.Group("/api/v1")
	{
		api.GET("/stats", s.getStats)
		api.GET("/chains", s.getChains)
		api.GET("/config", s.getConfig)

		api.GET("/errors", s.getErrors)
		api.DELETE("/errors", s.clearErrors)

		api.DELETE("/cache", s.purgeCache)
		api.DELETE("/cache/:chain/:address", s.invalidateScore)

		api.GET("/logs", s.getLogs)
		api.DELETE("/logs", s.clearLogs)
	}
}

// requestLogger 用logrus记录请求，/health和/metrics只在debug级别输出
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := s.logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).String(),
		})
		switch c.FullPath() {
		case "/health", "/metrics":
			entry.Debug("HTTP请求")
		default:
			entry.Info("HTTP请求")
		}
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"service":   "trustscore",
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// getStats 汇总出口池、限流器、缓存和错误统计
func (s *Server) getStats(c *gin.Context) {
	stats := gin.H{
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.deps.Transports != nil {
		stats["transports"] = s.deps.Transports.Stats()
	}
	if s.deps.Limiters != nil {
		stats["rate_limiters"] = s.deps.Limiters.Stats()
	}
	if s.deps.Cache != nil {
		stats["cache"] = s.deps.Cache.Stats()
	}
	if s.deps.Recorder != nil {
		es := s.deps.Recorder.Snapshot()
		stats["errors"] = gin.H{
			"total":           es.TotalErrors,
			"by_type":         es.ErrorsByType,
			"by_component":    es.ErrorsByComponent,
			"errors_per_hour": es.GetErrorRate(time.Hour),
		}
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) getChains(c *gin.Context) {
	var chains []string
	if s.deps.Scorer != nil {
		chains = s.deps.Scorer.Chains()
	}
	c.JSON(http.StatusOK, gin.H{
		"chains": chains,
		"total":  len(chains),
	})
}

func (s *Server) getErrors(c *gin.Context) {
	if s.deps.Recorder == nil {
		c.JSON(http.StatusOK, gin.H{"total_errors": 0})
		return
	}
	c.JSON(http.StatusOK, s.deps.Recorder.Snapshot())
}

func (s *Server) clearErrors(c *gin.Context) {
	if s.deps.Recorder != nil {
		s.deps.Recorder.Clear()
	}
	c.JSON(http.StatusOK, gin.H{"message": "错误统计已清空"})
}

// purgeCache 清空评分缓存
func (s *Server) purgeCache(c *gin.Context) {
	if s.deps.Cache == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "评分缓存未启用"})
		return
	}
	n, err := s.deps.Cache.Purge()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "清空缓存失败", "message": err.Error()})
		return
	}
	s.logger.Infof("评分缓存已清空，删除 %d 条", n)
	c.JSON(http.StatusOK, gin.H{"message": "评分缓存已清空", "removed": n})
}

// invalidateScore 删除单个地址的缓存评分
func (s *Server) invalidateScore(c *gin.Context) {
	if s.deps.Scorer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "评分服务未启用"})
		return
	}
	chain, address := c.Param("chain"), c.Param("address")
	if err := s.deps.Scorer.Invalidate(address, chain); err != nil {
		status := http.StatusInternalServerError
		if stderrors.Is(err, errors.ErrInvalidAddress) || stderrors.Is(err, errors.ErrUnsupportedChain) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "缓存评分已删除", "chain": chain, "address": address})
}

func (s *Server) getLogs(c *gin.Context) {
	level := c.Query("level")

	page := 1
	if p, err := strconv.Atoi(c.Query("page")); err == nil && p > 0 {
		page = p
	}
	pageSize := 20
	if ps, err := strconv.Atoi(c.Query("pageSize")); err == nil && ps > 0 {
		pageSize = ps
	}

	logs, total := s.logManager.GetLogsWithPagination(level, page, pageSize)
	c.JSON(http.StatusOK, gin.H{
		"logs":     logs,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
		"level":    level,
	})
}

func (s *Server) clearLogs(c *gin.Context) {
	s.logManager.ClearLogs()
	c.JSON(http.StatusOK, gin.H{"message": "日志已清空"})
}
