// 文件: pkg/api/router.go
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Gabrielcmunoz/calcula-opcoes/pkg/metrics"
)

// NewRouter 组装 gin 引擎。
// /metrics 不经过 zstd 中间件，由 promhttp 自行协商压缩。
func NewRouter(h *Handler, m *metrics.Metrics, gatherer prometheus.Gatherer, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := gin.New()
	e.Use(gin.Recovery(), AccessLog(logger.Named("http")), Observe(m))

	e.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Unix(),
		})
	})
	if gatherer != nil {
		e.GET("/metrics", gin.WrapH(metrics.Handler(gatherer)))
	}

	h.RegisterRoutes(e.Group("", Zstd()))
	return e
}
