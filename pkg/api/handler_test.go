package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gabrielcmunoz/calcula-opcoes/pkg/metrics"
	"github.com/Gabrielcmunoz/calcula-opcoes/pkg/options"
	"github.com/Gabrielcmunoz/calcula-opcoes/pkg/quote"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router  *gin.Engine
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ids, err := quote.NewIDGenerator(3)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg, "test")
	svc := quote.NewService(options.NewEngine(), ids,
		quote.WithRepository(quote.NewMemoryRepository(100)),
		quote.WithMetrics(m),
		quote.WithLimits(quote.Limits{MaxPathCount: 50_000, MaxStepCount: 200, MaxSamplePaths: 50, Workers: 2}),
	)
	return &testServer{router: NewRouter(NewHandler(svc, nil), m, reg, nil), metrics: m}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const atm = `"spot":100,"strike":100,"time_to_expiry":1,"risk_free_rate":0.05,"volatility":0.2`

// =============================================================================
// 计算接口
// =============================================================================

func TestPrice(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/options/price", `{`+atm+`,"kind":"call"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[options.PricingResult](t, rec)
	assert.InDelta(t, 10.450583572185565, res.Price, 1e-9)
	assert.InDelta(t, 0.6368306511756191, res.Delta, 1e-9)
	assert.Equal(t, options.MethodBlackScholes, res.Method)
	assert.Nil(t, res.StandardError)
}

func TestGreeks(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/options/greeks", `{`+atm+`,"kind":"put"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	g := decode[options.Greeks](t, rec)
	assert.InDelta(t, 0.6368306511756191-1, g.Delta, 1e-9)
	assert.InDelta(t, 37.52403469169379, g.Vega, 1e-9)
}

func TestSimulate(t *testing.T) {
	s := newTestServer(t)

	body := `{` + atm + `,"kind":"call","simulation":{"path_count":20000,"step_count":10,"seed":7}}`
	rec := s.do(t, http.MethodPost, "/api/v1/options/simulate", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[options.PricingResult](t, rec)
	require.NotNil(t, res.StandardError)
	assert.Equal(t, options.European, res.Style)
	assert.InDelta(t, 10.450583572185565, res.Price, 4**res.StandardError)

	// 缺少模拟配置
	rec = s.do(t, http.MethodPost, "/api/v1/options/simulate", `{`+atm+`,"kind":"call","style":"asian"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "simulation", decode[ErrorResponse](t, rec).Field)

	// 超出服务端上限
	body = `{` + atm + `,"kind":"call","simulation":{"path_count":100000,"step_count":10}}`
	rec = s.do(t, http.MethodPost, "/api/v1/options/simulate", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "pathCount", decode[ErrorResponse](t, rec).Field)
}

func TestQuote(t *testing.T) {
	s := newTestServer(t)

	body := `{` + atm + `,"kind":"put","style":"american","simulation":{"path_count":5000,"step_count":20,"seed":3}}`
	rec := s.do(t, http.MethodPost, "/api/v1/options/quote", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[quote.Result](t, rec)
	assert.NotZero(t, res.QuoteID)
	assert.Equal(t, options.MethodMonteCarlo, res.Method)
	assert.Equal(t, options.American, res.Style)
	assert.NotEmpty(t, res.Notes)

	// 历史查询
	rec = s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/quotes/%d", res.QuoteID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	q := decode[quote.Quote](t, rec)
	assert.Equal(t, res.QuoteID, q.QuoteID)
	assert.Equal(t, "american", q.Style)

	rec = s.do(t, http.MethodGet, "/api/v1/quotes?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Quotes []quote.Quote `json:"quotes"`
	}](t, rec)
	assert.Len(t, list.Quotes, 1)
}

func TestPaths(t *testing.T) {
	s := newTestServer(t)

	body := `{` + atm + `,"kind":"call","simulation":{"path_count":100,"step_count":12},"count":5}`
	rec := s.do(t, http.MethodPost, "/api/v1/options/paths", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[PathsResponse](t, rec)
	require.Len(t, res.Paths, 5)
	for _, path := range res.Paths {
		require.Len(t, path, 13)
		assert.Equal(t, 100.0, path[0])
	}

	// 用返回的种子复现
	body = fmt.Sprintf(`{`+atm+`,"kind":"call","simulation":{"path_count":100,"step_count":12,"seed":%d},"count":5}`, res.Seed)
	rec = s.do(t, http.MethodPost, "/api/v1/options/paths", body)
	require.Equal(t, http.StatusOK, rec.Code)
	again := decode[PathsResponse](t, rec)
	assert.Equal(t, res.Paths, again.Paths)

	body = `{` + atm + `,"kind":"call","simulation":{"path_count":100,"step_count":12},"count":101}`
	rec = s.do(t, http.MethodPost, "/api/v1/options/paths", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "sampleCount", decode[ErrorResponse](t, rec).Field)
}

func TestPaths_SampleLimit(t *testing.T) {
	s := newTestServer(t)

	// 路径数与步数都在上限内，但返回的样本条数超过 MaxSamplePaths
	body := `{` + atm + `,"kind":"call","simulation":{"path_count":50000,"step_count":200},"count":51}`
	rec := s.do(t, http.MethodPost, "/api/v1/options/paths", body)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, "sampleCount", decode[ErrorResponse](t, rec).Field)

	body = `{` + atm + `,"kind":"call","simulation":{"path_count":50000,"step_count":200},"count":50}`
	rec = s.do(t, http.MethodPost, "/api/v1/options/paths", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode[PathsResponse](t, rec).Paths, 50)
}

func TestImpliedVol(t *testing.T) {
	s := newTestServer(t)

	body := `{"spot":100,"strike":100,"time_to_expiry":1,"risk_free_rate":0.05,"kind":"call","market_price":10.450583572185565}`
	rec := s.do(t, http.MethodPost, "/api/v1/options/implied-vol", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[map[string]float64](t, rec)
	assert.InDelta(t, 0.2, res["implied_volatility"], 1e-6)

	// 超出无套利边界
	body = `{"spot":100,"strike":100,"time_to_expiry":1,"risk_free_rate":0.05,"kind":"call","market_price":150}`
	rec = s.do(t, http.MethodPost, "/api/v1/options/implied-vol", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// 到期日无法反推
	body = `{"spot":100,"strike":100,"time_to_expiry":0,"risk_free_rate":0.05,"kind":"call","market_price":1}`
	rec = s.do(t, http.MethodPost, "/api/v1/options/implied-vol", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestScenarios(t *testing.T) {
	s := newTestServer(t)

	body := `{` + atm + `,"kind":"call","shocks":[{"spot_change":0,"vol_change":0},{"spot_change":0.1,"vol_change":0}]}`
	rec := s.do(t, http.MethodPost, "/api/v1/options/scenarios", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[struct {
		Scenarios []options.ScenarioResult `json:"scenarios"`
	}](t, rec)
	require.Len(t, res.Scenarios, 2)
	assert.InDelta(t, 0, res.Scenarios[0].Change, 1e-12)
	assert.InDelta(t, 110, res.Scenarios[1].Spot, 1e-9)
	assert.Greater(t, res.Scenarios[1].Change, 0.0)

	rec = s.do(t, http.MethodPost, "/api/v1/options/scenarios", `{`+atm+`,"kind":"call"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	res = decode[struct {
		Scenarios []options.ScenarioResult `json:"scenarios"`
	}](t, rec)
	assert.Len(t, res.Scenarios, len(defaultShocks()))
}

// =============================================================================
// 错误映射
// =============================================================================

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		field  string
	}{
		{"negative vol", http.MethodPost, "/api/v1/options/price",
			`{"spot":100,"strike":100,"time_to_expiry":1,"volatility":-0.2,"kind":"call"}`, http.StatusBadRequest, "volatility"},
		{"unknown kind", http.MethodPost, "/api/v1/options/price",
			`{` + atm + `,"kind":"straddle"}`, http.StatusBadRequest, "kind"},
		{"missing kind", http.MethodPost, "/api/v1/options/price",
			`{` + atm + `}`, http.StatusBadRequest, "kind"},
		{"malformed json", http.MethodPost, "/api/v1/options/price",
			`{"spot":`, http.StatusBadRequest, ""},
		{"zero paths", http.MethodPost, "/api/v1/options/quote",
			`{` + atm + `,"kind":"put","style":"asian","simulation":{"path_count":0,"step_count":5}}`, http.StatusBadRequest, "pathCount"},
		{"missing simulation", http.MethodPost, "/api/v1/options/quote",
			`{` + atm + `,"kind":"put","style":"american"}`, http.StatusBadRequest, "simulation"},
		{"quote not found", http.MethodGet, "/api/v1/quotes/42", "", http.StatusNotFound, ""},
		{"bad quote id", http.MethodGet, "/api/v1/quotes/abc", "", http.StatusBadRequest, "id"},
		{"bad limit", http.MethodGet, "/api/v1/quotes?limit=x", "", http.StatusBadRequest, "limit"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, tc.method, tc.path, tc.body)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			resp := decode[ErrorResponse](t, rec)
			assert.NotEmpty(t, resp.Error)
			assert.Equal(t, tc.field, resp.Field)
		})
	}
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusOf(&options.FieldError{Err: options.ErrInvalidConfig}))
	assert.Equal(t, http.StatusBadRequest, StatusOf(fmt.Errorf("wrap: %w", options.ErrMissingConfig)))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusOf(&options.FieldError{Err: options.ErrNumericDomain}))
	assert.Equal(t, http.StatusNotFound, StatusOf(quote.ErrQuoteNotFound))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("boom")))
}

// =============================================================================
// 中间件
// =============================================================================

func TestZstdCompression(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/options/price", strings.NewReader(`{`+atm+`,"kind":"call"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, zstd")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "zstd", rec.Header().Get("Content-Encoding"))

	dec, err := zstd.NewReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer dec.Close()
	plain, err := io.ReadAll(dec)
	require.NoError(t, err)

	var res options.PricingResult
	require.NoError(t, json.Unmarshal(plain, &res))
	assert.InDelta(t, 10.450583572185565, res.Price, 1e-9)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[map[string]any](t, rec)["status"])

	s.do(t, http.MethodPost, "/api/v1/options/price", `{`+atm+`,"kind":"call"}`)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.HTTPRequests.WithLabelValues("/api/v1/options/price", "200")))

	s.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.HTTPRequests.WithLabelValues("unmatched", "404")))

	rec = s.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_http_requests_total")
}
