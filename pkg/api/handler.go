// 文件: pkg/api/handler.go
// 期权定价 HTTP 接口
//
// /api/v1/options/*  无状态计算 (quote 除外，quote 走完整报价流程: 缓存、落库、事件)
// /api/v1/quotes     历史报价查询

package api

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gabrielcmunoz/calcula-opcoes/pkg/options"
	"github.com/Gabrielcmunoz/calcula-opcoes/pkg/quote"
)

// Handler 定价接口处理器
type Handler struct {
	svc    *quote.Service
	logger *zap.Logger
}

func NewHandler(svc *quote.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger.Named("api")}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	opts := router.Group("/api/v1/options")
	{
		opts.POST("/price", h.Price)
		opts.POST("/simulate", h.Simulate)
		opts.POST("/greeks", h.Greeks)
		opts.POST("/quote", h.Quote)
		opts.POST("/paths", h.Paths)
		opts.POST("/implied-vol", h.ImpliedVol)
		opts.POST("/scenarios", h.Scenarios)
	}

	quotes := router.Group("/api/v1/quotes")
	{
		quotes.GET("", h.ListQuotes)
		quotes.GET("/:id", h.GetQuote)
	}
}

// =============================================================================
// 请求体
// =============================================================================

// MarketRequest 市场参数 + 期权类型
type MarketRequest struct {
	Spot         float64            `json:"spot"`
	Strike       float64            `json:"strike"`
	TimeToExpiry float64            `json:"time_to_expiry"`
	RiskFreeRate float64            `json:"risk_free_rate"`
	Volatility   float64            `json:"volatility"`
	Kind         options.OptionKind `json:"kind"`
}

func (r MarketRequest) params() (options.MarketParameters, error) {
	return options.NewMarketParameters(r.Spot, r.Strike, r.TimeToExpiry, r.RiskFreeRate, r.Volatility)
}

type SimulateRequest struct {
	MarketRequest
	Style      options.InstrumentStyle   `json:"style"` // 缺省 european，可用于与闭式解对照
	Simulation *options.SimulationConfig `json:"simulation"`
}

type PathsRequest struct {
	MarketRequest
	Simulation *options.SimulationConfig `json:"simulation"`
	Count      int                       `json:"count"`
}

type PathsResponse struct {
	Seed  uint64      `json:"seed,string"`
	Paths [][]float64 `json:"paths"`
}

type ImpliedVolRequest struct {
	MarketRequest
	MarketPrice float64 `json:"market_price"`
}

type ScenariosRequest struct {
	MarketRequest
	Shocks []options.Shock `json:"shocks"` // 为空时使用 defaultShocks
}

// defaultShocks 价格 ±10% / ±5%，波动率 ±20%
func defaultShocks() []options.Shock {
	var shocks []options.Shock
	for _, vol := range []float64{-0.2, 0, 0.2} {
		for _, spot := range []float64{-0.1, -0.05, 0, 0.05, 0.1} {
			shocks = append(shocks, options.Shock{SpotChange: spot, VolChange: vol})
		}
	}
	return shocks
}

// =============================================================================
// 计算接口
// =============================================================================

// Price 欧式闭式定价
func (h *Handler) Price(c *gin.Context) {
	var req MarketRequest
	if !h.bind(c, &req) {
		return
	}
	p, err := req.params()
	if err != nil {
		h.fail(c, err)
		return
	}
	res, err := h.svc.Engine().Price(p, req.Kind)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Simulate 蒙特卡洛定价
func (h *Handler) Simulate(c *gin.Context) {
	var req SimulateRequest
	if !h.bind(c, &req) {
		return
	}
	p, err := req.params()
	if err != nil {
		h.fail(c, err)
		return
	}
	if req.Simulation == nil {
		h.fail(c, &options.FieldError{Err: options.ErrMissingConfig, Field: "simulation"})
		return
	}
	cfg, err := h.svc.Limits().Apply(*req.Simulation)
	if err != nil {
		h.fail(c, err)
		return
	}
	style := req.Style
	if style == 0 {
		style = options.European
	}

	res, err := h.svc.Engine().SimulatePrice(c.Request.Context(), p, req.Kind, style, cfg)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Greeks 欧式闭式 Greeks
func (h *Handler) Greeks(c *gin.Context) {
	var req MarketRequest
	if !h.bind(c, &req) {
		return
	}
	p, err := req.params()
	if err != nil {
		h.fail(c, err)
		return
	}
	g, err := h.svc.Engine().Greeks(p, req.Kind)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

// Quote 按行权方式路由的完整报价
func (h *Handler) Quote(c *gin.Context) {
	var req quote.Request
	if !h.bind(c, &req) {
		return
	}
	res, err := h.svc.Price(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Paths 样本路径，未指定种子时生成一个并返回
func (h *Handler) Paths(c *gin.Context) {
	var req PathsRequest
	if !h.bind(c, &req) {
		return
	}
	p, err := req.params()
	if err != nil {
		h.fail(c, err)
		return
	}
	if req.Simulation == nil {
		h.fail(c, &options.FieldError{Err: options.ErrMissingConfig, Field: "simulation"})
		return
	}
	limits := h.svc.Limits()
	cfg, err := limits.Apply(*req.Simulation)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := limits.CheckSamples(req.Count); err != nil {
		h.fail(c, err)
		return
	}
	if cfg.Seed == nil {
		cfg = cfg.WithSeed(rand.Uint64())
	}

	paths, err := h.svc.Engine().SamplePaths(c.Request.Context(), p, cfg, req.Count)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, PathsResponse{Seed: *cfg.Seed, Paths: paths})
}

// ImpliedVol 由市场价格反推波动率，请求中的 volatility 被忽略
func (h *Handler) ImpliedVol(c *gin.Context) {
	var req ImpliedVolRequest
	if !h.bind(c, &req) {
		return
	}
	req.Volatility = 0
	p, err := req.params()
	if err != nil {
		h.fail(c, err)
		return
	}
	vol, err := options.ImpliedVolatility(p, req.Kind, req.MarketPrice)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"implied_volatility": vol})
}

// Scenarios 情景分析
func (h *Handler) Scenarios(c *gin.Context) {
	var req ScenariosRequest
	if !h.bind(c, &req) {
		return
	}
	p, err := req.params()
	if err != nil {
		h.fail(c, err)
		return
	}
	shocks := req.Shocks
	if len(shocks) == 0 {
		shocks = defaultShocks()
	}
	results, err := options.Scenarios(p, req.Kind, shocks)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scenarios": results})
}

// =============================================================================
// 历史报价
// =============================================================================

func (h *Handler) GetQuote(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid quote id", Field: "id"})
		return
	}
	q, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (h *Handler) ListQuotes(c *gin.Context) {
	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit", Field: "limit"})
			return
		}
		limit = n
	}
	quotes, err := h.svc.Recent(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quotes": quotes})
}

// =============================================================================
// 错误处理
// =============================================================================

// ErrorResponse 错误响应体
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func (h *Handler) bind(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		resp := ErrorResponse{Error: err.Error()}
		var fe *options.FieldError
		if errors.As(err, &fe) {
			resp.Field = fe.Field
		}
		c.JSON(http.StatusBadRequest, resp)
		return false
	}
	return true
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := StatusOf(err)
	resp := ErrorResponse{Error: err.Error()}
	var fe *options.FieldError
	if errors.As(err, &fe) {
		resp.Field = fe.Field
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("route", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, resp)
}

// StatusOf 错误 -> HTTP 状态码
func StatusOf(err error) int {
	switch {
	case errors.Is(err, quote.ErrQuoteNotFound):
		return http.StatusNotFound
	case quote.IsClientError(err):
		return http.StatusBadRequest
	case errors.Is(err, options.ErrNumericDomain):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
