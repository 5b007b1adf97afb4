package api

import (
	"fmt"
	"time"

	"quant/backtest"
	"quant/task"
)

// configBody 回测配置，缺省字段取默认值
type configBody struct {
	Symbol    string `json:"symbol"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Period    string `json:"period"`

	InitialCash   *float64 `json:"initial_cash"`
	Commission    *float64 `json:"commission"`
	StampDuty     *float64 `json:"stamp_duty"`
	MinCommission *float64 `json:"min_commission"`
	Slippage      *float64 `json:"slippage"`
	ApplySlippage *bool    `json:"apply_slippage"`

	EnableT1          *bool    `json:"enable_t1"`
	EnablePriceLimit  *bool    `json:"enable_price_limit"`
	PriceLimitPct     *float64 `json:"price_limit_pct"`
	LimitMarketOrders *bool    `json:"limit_market_orders"`
	LotSize           *int64   `json:"lot_size"`
}

func (b configBody) config() backtest.Config {
	cfg := backtest.DefaultConfig()
	cfg.Symbol = b.Symbol
	cfg.StartDate = b.StartDate
	cfg.EndDate = b.EndDate
	if b.Period != "" {
		cfg.Period = b.Period
	}
	setF := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	setB := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	setF(&cfg.InitialCash, b.InitialCash)
	setF(&cfg.CommissionRate, b.Commission)
	setF(&cfg.StampDutyRate, b.StampDuty)
	setF(&cfg.MinCommission, b.MinCommission)
	setF(&cfg.Slippage, b.Slippage)
	setB(&cfg.ApplySlippage, b.ApplySlippage)
	setB(&cfg.EnableT1, b.EnableT1)
	setB(&cfg.EnablePriceLimit, b.EnablePriceLimit)
	setF(&cfg.PriceLimitPct, b.PriceLimitPct)
	setB(&cfg.LimitMarketOrders, b.LimitMarketOrders)
	if b.LotSize != nil {
		cfg.LotSize = *b.LotSize
	}
	return cfg
}

type strategyBody struct {
	Type   string          `json:"strategy_type"`
	Params backtest.Params `json:"strategy_params"`
}

func (s strategyBody) spec() backtest.StrategySpec {
	return backtest.StrategySpec{Type: s.Type, Params: s.Params}
}

type runBody struct {
	configBody
	Strategy strategyBody `json:"strategy"`
}

func (b runBody) request() task.RunRequest {
	return task.RunRequest{Config: b.config(), Strategy: b.Strategy.spec()}
}

type weightedStrategy struct {
	strategyBody
	Weight *float64 `json:"weight"`
}

type multiBody struct {
	configBody
	Strategies []weightedStrategy `json:"strategies"`
}

func (b multiBody) request() task.PortfolioRequest {
	allocs := make([]backtest.Allocation, len(b.Strategies))
	for i, s := range b.Strategies {
		w := 1.0
		if s.Weight != nil {
			w = *s.Weight
		}
		allocs[i] = backtest.Allocation{Strategy: s.spec(), Weight: w}
	}
	return task.PortfolioRequest{Config: b.config(), Allocations: allocs}
}

type optimizeBody struct {
	configBody
	Strategy   string           `json:"strategy_type"`
	BaseParams backtest.Params  `json:"strategy_params"`
	ParamGrid  map[string][]any `json:"param_grid"`
	Metric     string           `json:"metric"`
	Budget     string           `json:"budget"`
}

func (b optimizeBody) request() (task.OptimizeRequest, error) {
	req := task.OptimizeRequest{
		Config:     b.config(),
		Strategy:   b.Strategy,
		BaseParams: b.BaseParams,
		Grid:       backtest.GridFromMap(b.ParamGrid),
		Metric:     b.Metric,
	}
	if b.Budget != "" {
		d, err := time.ParseDuration(b.Budget)
		if err != nil {
			return req, &backtest.RunError{Kind: backtest.KindConfig, Msg: fmt.Sprintf("invalid budget %q", b.Budget), Err: err}
		}
		req.Budget = d
	}
	return req, nil
}
