package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"quant/metrics"
	"quant/task"
)

// Server HTTP服务器
type Server struct {
	engine  *gin.Engine
	server  *http.Server
	manager *task.Manager
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewServer 创建服务器
func NewServer(m *task.Manager, port int, mt *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if mt == nil {
		mt = metrics.New(nil)
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())
	engine.Use(loggerMiddleware(logger, mt))

	s := &Server{
		engine:  engine,
		manager: m,
		metrics: mt,
		logger:  logger,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() {
	handler := NewHandler(s.manager, s.logger)

	api := s.engine.Group("/api")
	{
		bt := api.Group("/backtest")
		bt.POST("/run", handler.RunBacktest)
		bt.GET("/task/:id", handler.GetTask)
		bt.DELETE("/task/:id", handler.DeleteTask)
		bt.GET("/tasks", handler.ListTasks)
		bt.GET("/result/:id", handler.GetResult)
		bt.POST("/optimize", handler.Optimize)
		bt.POST("/multi-strategy", handler.MultiStrategy)

		// 服务状态
		api.GET("/status", handler.GetStatus)
	}

	// 健康检查
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
}

// Handler 暴露路由，测试直接用 httptest 调用
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start 启动服务器
func (s *Server) Start() error {
	s.logger.Info("api server listening", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown 优雅关闭服务器
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// loggerMiddleware 日志中间件
func loggerMiddleware(logger *zap.Logger, mt *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		mt.ObserveHTTP(c.Request.Method, route, status, latency)

		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("latency", latency),
		)
	}
}

// corsMiddleware CORS中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
