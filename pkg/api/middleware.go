// 文件: pkg/api/middleware.go
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/Gabrielcmunoz/calcula-opcoes/pkg/metrics"
)

// =============================================================================
// zstd 压缩
// =============================================================================

type zstdWriter struct {
	gin.ResponseWriter
	encoder *zstd.Encoder
}

func (w *zstdWriter) Write(b []byte) (int, error) {
	return w.encoder.Write(b)
}

func (w *zstdWriter) WriteString(s string) (int, error) {
	return w.encoder.Write([]byte(s))
}

// Zstd 客户端声明 Accept-Encoding: zstd 时压缩响应体
func Zstd() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !strings.Contains(c.GetHeader("Accept-Encoding"), "zstd") {
			c.Next()
			return
		}

		encoder, err := zstd.NewWriter(c.Writer, zstd.WithEncoderConcurrency(1))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
			return
		}
		defer encoder.Close()

		c.Header("Content-Encoding", "zstd")
		c.Header("Vary", "Accept-Encoding")
		c.Writer = &zstdWriter{ResponseWriter: c.Writer, encoder: encoder}

		c.Next()
	}
}

// =============================================================================
// 指标 / 访问日志
// =============================================================================

// Observe 记录路由级请求数与耗时，未匹配路由归到 "unmatched"
func Observe(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveHTTP(route, c.Writer.Status(), time.Since(start))
	}
}

// AccessLog 5xx 记 warn，其余 debug
func AccessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if status >= http.StatusInternalServerError {
			logger.Warn("http request", fields...)
			return
		}
		logger.Debug("http request", fields...)
	}
}
