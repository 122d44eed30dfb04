package backtest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"stock4n/internal/market"
)

// OptimizeStarter 由学习层实现：接收寻优请求并异步运行网格搜索。
type OptimizeStarter interface {
	StartOptimize(req OptimizeRequest) (OptimizationJob, error)
}

// ImportRunner 由行情层实现：把本地 CSV 目录装载进 bar 仓库。
type ImportRunner interface {
	ImportAll(ctx context.Context, symbols []string) ([]market.ImportReport, error)
}

// HTTPServer 提供 Gin 接口：回测任务、寻优任务、评分与建仓建议、行情导入。
type HTTPServer struct {
	addr     string
	sim      *Simulator
	results  *ResultStore
	advisor  *Advisor
	optimize OptimizeStarter
	importer ImportRunner
	coverage CoverageSource
	reports  *ReportRenderer
	universe []string
	router   *gin.Engine
}

type HTTPConfig struct {
	Addr      string
	Simulator *Simulator
	Results   *ResultStore
	Advisor   *Advisor
	Optimizer OptimizeStarter
	Importer  ImportRunner
	Coverage  CoverageSource
	Reports   *ReportRenderer
	Universe  []string
}

func NewHTTPServer(cfg HTTPConfig) (*HTTPServer, error) {
	if cfg.Simulator == nil {
		return nil, errors.New("simulator 不能为空")
	}
	if cfg.Results == nil {
		return nil, errors.New("result store 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8780"
	}
	if cfg.Reports == nil {
		cfg.Reports = NewReportRenderer()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &HTTPServer{
		addr:     cfg.Addr,
		sim:      cfg.Simulator,
		results:  cfg.Results,
		advisor:  cfg.Advisor,
		optimize: cfg.Optimizer,
		importer: cfg.Importer,
		coverage: cfg.Coverage,
		reports:  cfg.Reports,
		universe: cfg.Universe,
		router:   router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *HTTPServer) registerRoutes() {
	bt := s.router.Group("/api/backtest")
	bt.POST("/runs", s.handleRunStart)
	bt.GET("/runs", s.handleRunList)
	bt.GET("/runs/:id", s.handleRunDetail)
	bt.GET("/runs/:id/trades", s.handleRunTrades)
	bt.GET("/runs/:id/equity", s.handleRunEquity)
	bt.GET("/runs/:id/report", s.handleRunReport)

	opt := s.router.Group("/api/optimize")
	opt.POST("", s.handleOptimizeStart)
	opt.GET("", s.handleOptimizeList)
	opt.GET("/:id", s.handleOptimizeDetail)
	opt.GET("/:id/report", s.handleOptimizeReport)

	api := s.router.Group("/api")
	api.GET("/scores", s.handleScores)
	api.GET("/portfolio/plan", s.handlePortfolioPlan)
	api.POST("/market/import", s.handleMarketImport)
	api.GET("/market/coverage", s.handleMarketCoverage)
}

func (s *HTTPServer) handleRunStart(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	run, err := s.sim.StartRun(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run": run})
}

func (s *HTTPServer) handleRunList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.results.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *HTTPServer) handleRunDetail(c *gin.Context) {
	run, err := s.results.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *HTTPServer) handleRunTrades(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "1000"))
	trades, err := s.results.ListTrades(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *HTTPServer) handleRunEquity(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "2000"))
	points, err := s.results.ListEquity(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"equity": points})
}

// handleRunReport 输出自包含 HTML 图表报告；format=png 时经 headless
// Chrome 截图，环境不可用则 503。
func (s *HTTPServer) handleRunReport(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	run, err := s.results.GetRun(ctx, id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	trades, err := s.results.ListTrades(ctx, id, 5000)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	equity, err := s.results.ListEquity(ctx, id, 10000)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	html, err := s.reports.RunReport(run, trades, equity)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.serveReport(c, html, "backtest_"+id)
}

func (s *HTTPServer) handleOptimizeStart(c *gin.Context) {
	if s.optimize == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "寻优器未启用"})
		return
	}
	var req OptimizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job, err := s.optimize.StartOptimize(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (s *HTTPServer) handleOptimizeList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	jobs, err := s.results.ListJobs(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (s *HTTPServer) handleOptimizeDetail(c *gin.Context) {
	job, err := s.results.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (s *HTTPServer) handleOptimizeReport(c *gin.Context) {
	job, err := s.results.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	html, err := s.reports.OptimizeReport(job)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	s.serveReport(c, html, "optimize_"+job.ID)
}

func (s *HTTPServer) handleScores(c *gin.Context) {
	if s.advisor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "advisor 未启用"})
		return
	}
	ctx := c.Request.Context()
	day, err := s.advisor.ResolveDay(ctx, c.Query("day"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	symbols := splitSymbols(c.Query("symbols"))
	cards, err := s.advisor.Scores(ctx, day, symbols)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"day": market.FormatDay(day), "scores": cards})
}

func (s *HTTPServer) handlePortfolioPlan(c *gin.Context) {
	if s.advisor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "advisor 未启用"})
		return
	}
	ctx := c.Request.Context()
	day, err := s.advisor.ResolveDay(ctx, c.Query("day"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	capital, _ := strconv.ParseFloat(c.DefaultQuery("capital", "0"), 64)
	entries, err := s.advisor.Plan(ctx, day, capital)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"day": market.FormatDay(day), "plan": entries})
}

func (s *HTTPServer) handleMarketImport(c *gin.Context) {
	if s.importer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "导入器未启用"})
		return
	}
	var req struct {
		Symbols []string `json:"symbols"`
	}
	// body 允许为空，空请求导入整个股票池
	_ = c.ShouldBindJSON(&req)
	symbols := req.Symbols
	if len(symbols) == 0 {
		symbols = s.universe
	}
	if len(symbols) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbols 不能为空"})
		return
	}
	reports, err := s.importer.ImportAll(c.Request.Context(), symbols)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

func (s *HTTPServer) handleMarketCoverage(c *gin.Context) {
	if s.coverage == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "行情仓库未启用"})
		return
	}
	manifests, err := s.coverage.Coverage(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"coverage": manifests})
}

func (s *HTTPServer) serveReport(c *gin.Context, html []byte, name string) {
	if c.Query("format") == "png" {
		png, err := s.reports.RenderPNG(c.Request.Context(), html)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "PNG 渲染不可用: " + err.Error()})
			return
		}
		c.Header("Content-Disposition", `inline; filename="`+name+`.png"`)
		c.Data(http.StatusOK, "image/png", png)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

func splitSymbols(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *HTTPServer) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
