package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sshcollectorpro/acsconsole/api/handler"
	"github.com/sshcollectorpro/acsconsole/internal/service"
	"github.com/sshcollectorpro/acsconsole/pkg/logger"
)

// SetupRouter 设置路由，pool 可为 nil
func SetupRouter(mode string, consoleService *service.ConsoleService, pool handler.PoolStats) *gin.Engine {
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware())

	consoleHandler := handler.NewConsoleHandler(consoleService, pool)

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":   "ACS Console",
			"status": "running",
		})
	})

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", consoleHandler.Health)

		consoleGroup := v1.Group("/console")
		{
			consoleGroup.POST("/exec", consoleHandler.Execute)
			consoleGroup.GET("/platforms", consoleHandler.Platforms)
			consoleGroup.GET("/runs", consoleHandler.Runs)
			consoleGroup.GET("/runs/:id", consoleHandler.GetRun)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "NOT_FOUND",
			"message": "接口不存在",
			"path":    c.Request.URL.Path,
		})
	})

	return r
}

// RequestIDMiddleware 请求ID中间件
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

// LoggingMiddleware 日志中间件
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		entry := logger.WithFields(logrus.Fields{
			"request_id": c.GetString("request_id"),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"duration":   time.Since(start).String(),
			"client_ip":  c.ClientIP(),
		})
		if status >= 400 {
			entry.Warn("HTTP request failed")
			return
		}
		entry.Info("HTTP request")
	}
}
