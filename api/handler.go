package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"quant/backtest"
	"quant/store"
	"quant/task"
	"quant/trading"
)

// Handler API处理器
type Handler struct {
	manager *task.Manager
	logger  *zap.Logger
	started time.Time
}

// NewHandler 创建处理器
func NewHandler(m *task.Manager, logger *zap.Logger) *Handler {
	return &Handler{manager: m, logger: logger, started: time.Now()}
}

// fail 按错误类型选择状态码
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrTaskNotFound):
		status = http.StatusNotFound
	case errors.Is(err, task.ErrNotCompleted):
		status = http.StatusConflict
	case backtest.KindOf(err) == backtest.KindConfig:
		status = http.StatusBadRequest
	case backtest.KindOf(err) == task.KindData:
		status = http.StatusBadGateway
	case backtest.KindOf(err) != "":
		status = http.StatusUnprocessableEntity
	}
	body := gin.H{"code": status, "error": err.Error()}
	if k := backtest.KindOf(err); k != "" {
		body["kind"] = k
	}
	c.JSON(status, body)
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"code": 0, "data": data})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "error": "请求参数错误: " + err.Error()})
}

// RunBacktest 提交单策略回测任务
func (h *Handler) RunBacktest(c *gin.Context) {
	var body runBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	t, err := h.manager.Submit(c.Request.Context(), body.request())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusAccepted, t)
}

// GetTask 查询任务状态
func (h *Handler) GetTask(c *gin.Context) {
	t, err := h.manager.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, t)
}

// DeleteTask 取消并删除任务
func (h *Handler) DeleteTask(c *gin.Context) {
	id := c.Param("id")
	if err := h.manager.Delete(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"task_id": id, "deleted": true})
}

// ListTasks 任务列表，新任务在前
func (h *Handler) ListTasks(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	tasks, err := h.manager.List(c.Request.Context(), limit, offset)
	if err != nil {
		fail(c, err)
		return
	}
	// 列表不带完整结果
	items := make([]*store.Task, len(tasks))
	for i, t := range tasks {
		cp := *t
		cp.Result = nil
		items[i] = &cp
	}
	c.JSON(http.StatusOK, gin.H{
		"code":  0,
		"count": len(items),
		"data":  items,
	})
}

// GetResult 查询回测结果；chart=svg 时返回权益曲线图
func (h *Handler) GetResult(c *gin.Context) {
	t, err := h.manager.Result(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if c.Query("chart") == "svg" {
		svg, err := renderChart(t)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"code": http.StatusUnprocessableEntity, "error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "image/svg+xml", svg)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code": 0,
		"data": gin.H{
			"task_id":    t.ID,
			"kind":       t.Kind,
			"created_at": t.CreatedAt,
			"result":     t.Result,
		},
	})
}

// renderChart 单策略与组合结果直接取曲线，寻优结果取最优组合
func renderChart(t *store.Task) ([]byte, error) {
	var payload struct {
		Strategy    string                 `json:"strategy"`
		EquityCurve []backtest.EquityPoint `json:"equity_curve"`
		Trades      []backtest.Fill        `json:"trading_records"`
		Best        *struct {
			Strategy    string                 `json:"strategy"`
			EquityCurve []backtest.EquityPoint `json:"equity_curve"`
			Trades      []backtest.Fill        `json:"trading_records"`
		} `json:"best_result"`
	}
	if err := json.Unmarshal(t.Result, &payload); err != nil {
		return nil, err
	}
	title, curve, fills := payload.Strategy, payload.EquityCurve, payload.Trades
	if payload.Best != nil {
		title, curve, fills = payload.Best.Strategy, payload.Best.EquityCurve, payload.Best.Trades
	}
	if title == "" {
		title = string(t.Kind)
	}
	return backtest.RenderEquitySVG(t.Symbol+" "+title, curve, fills, backtest.SVGChartOptions{})
}

// Optimize 参数寻优（同步）
func (h *Handler) Optimize(c *gin.Context) {
	var body optimizeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	req, err := body.request()
	if err != nil {
		fail(c, err)
		return
	}
	t, res, err := h.manager.Optimize(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{
		"task_id":      t.ID,
		"metric":       res.Metric,
		"best_params":  res.BestParams,
		"best_score":   res.BestScore,
		"best_metrics": res.Best.Metrics,
		"results":      res.Ranked(),
		"total":        res.Total,
		"successful":   res.Successful,
		"failed":       res.Failed,
		"skipped":      res.Skipped,
		"abandoned":    res.Abandoned,
		"elapsed":      res.Elapsed,
	})
}

// MultiStrategy 多策略组合回测（同步）
func (h *Handler) MultiStrategy(c *gin.Context) {
	var body multiBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	t, res, err := h.manager.RunPortfolio(c.Request.Context(), body.request())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"task_id": t.ID, "result": res})
}

// GetStatus 服务状态
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"code": 0,
		"data": gin.H{
			"is_trading_time": trading.IsStockTradingTime(),
			"server_time":     time.Now().In(trading.CST).Format("2006-01-02 15:04:05"),
			"uptime":          time.Since(h.started).Truncate(time.Second).String(),
			"strategy_types":  backtest.StrategyTypes(),
			"metrics":         backtest.MetricNames(),
		},
	})
}
