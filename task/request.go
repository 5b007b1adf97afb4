package task

import (
	"time"

	"quant/backtest"
)

// RunRequest 单策略回测
type RunRequest struct {
	Config   backtest.Config       `json:"config"`
	Strategy backtest.StrategySpec `json:"strategy"`
}

// PortfolioRequest 多策略组合回测
type PortfolioRequest struct {
	Config      backtest.Config       `json:"config"`
	Allocations []backtest.Allocation `json:"strategies"`
}

// OptimizeRequest 参数寻优
type OptimizeRequest struct {
	Config     backtest.Config     `json:"config"`
	Strategy   string              `json:"strategy"`
	BaseParams backtest.Params     `json:"params,omitempty"`
	Grid       []backtest.GridAxis `json:"grid"`
	Metric     string              `json:"metric"`
	Budget     time.Duration       `json:"budget,omitempty"`
}

func (r OptimizeRequest) optimizer() *backtest.Optimizer {
	metric := r.Metric
	if metric == "" {
		metric = "sharpe_ratio"
	}
	return &backtest.Optimizer{
		Config:     r.Config,
		Strategy:   r.Strategy,
		BaseParams: r.BaseParams,
		Grid:       r.Grid,
		Metric:     metric,
		Budget:     r.Budget,
	}
}
