package backtest

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the engine and broker configuration for one run.
type Config struct {
	Symbol    string `json:"symbol"`
	Period    string `json:"period"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`

	InitialCash    float64 `json:"initial_cash"`
	CommissionRate float64 `json:"commission"`
	StampDutyRate  float64 `json:"stamp_duty"`
	MinCommission  float64 `json:"min_commission"`

	// Slippage only moves market-order fills when ApplySlippage is set.
	Slippage      float64 `json:"slippage"`
	ApplySlippage bool    `json:"apply_slippage"`

	EnableT1         bool    `json:"enable_t1"`
	EnablePriceLimit bool    `json:"enable_price_limit"`
	PriceLimitPct    float64 `json:"price_limit_pct"`
	// LimitMarketOrders applies the price band to market orders as well.
	LimitMarketOrders bool `json:"limit_market_orders"`

	LotSize int64 `json:"lot_size"`
}

func DefaultConfig() Config {
	return Config{
		Symbol:           "",
		Period:           "daily",
		InitialCash:      100_000,
		CommissionRate:   0.0003,
		StampDutyRate:    0.001,
		MinCommission:    5.0,
		Slippage:         0.001,
		EnableT1:         true,
		EnablePriceLimit: true,
		PriceLimitPct:    0.10,
		LotSize:          100,
	}
}

func (c Config) Validate() error {
	switch {
	case c.InitialCash <= 0:
		return configError(nil, "initial_cash must be positive, got %v", c.InitialCash)
	case c.CommissionRate < 0 || c.StampDutyRate < 0 || c.MinCommission < 0:
		return configError(nil, "fees must not be negative")
	case c.Slippage < 0:
		return configError(nil, "slippage must not be negative")
	case c.EnablePriceLimit && (c.PriceLimitPct <= 0 || c.PriceLimitPct >= 1):
		return configError(nil, "price_limit_pct must be in (0, 1), got %v", c.PriceLimitPct)
	case c.LotSize < 0:
		return configError(nil, "lot_size must not be negative")
	}
	for _, d := range []string{c.StartDate, c.EndDate} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(dateLayout, d); err != nil {
			return configError(err, "invalid date %q", d)
		}
	}
	return nil
}

// RunFile is a parsed backtest.yaml.
type RunFile struct {
	Config    Config
	Strategy  StrategySpec
	Portfolio []Allocation
	Optimize  *OptimizeSpec
	Data      DataSpec
}

type DataSpec struct {
	Source   string `yaml:"source"`
	Dir      string `yaml:"dir"`
	Encoding string `yaml:"encoding"`
}

type OptimizeSpec struct {
	Grid   []GridAxis
	Metric string
	Budget time.Duration
}

type yamlRunFile struct {
	Backtest struct {
		Symbol            string   `yaml:"symbol"`
		Period            string   `yaml:"period"`
		Start             string   `yaml:"start"`
		End               string   `yaml:"end"`
		InitialCash       *float64 `yaml:"initial_cash"`
		CommissionRate    *float64 `yaml:"commission_rate"`
		StampDutyRate     *float64 `yaml:"stamp_duty_rate"`
		MinCommission     *float64 `yaml:"min_commission"`
		Slippage          *float64 `yaml:"slippage"`
		ApplySlippage     *bool    `yaml:"apply_slippage"`
		EnableT1          *bool    `yaml:"enable_t1"`
		EnablePriceLimit  *bool    `yaml:"enable_price_limit"`
		PriceLimitPct     *float64 `yaml:"price_limit_pct"`
		LimitMarketOrders *bool    `yaml:"limit_market_orders"`
		LotSize           *int64   `yaml:"lot_size"`
	} `yaml:"backtest"`

	Strategy struct {
		Type   string         `yaml:"type"`
		Params map[string]any `yaml:"params"`
	} `yaml:"strategy"`

	Portfolio []struct {
		Type   string         `yaml:"type"`
		Params map[string]any `yaml:"params"`
		Weight *float64       `yaml:"weight"`
	} `yaml:"portfolio"`

	Optimize *struct {
		Grid   yaml.Node `yaml:"grid"`
		Metric string    `yaml:"metric"`
		Budget string    `yaml:"budget"`
	} `yaml:"optimize"`

	Data DataSpec `yaml:"data"`
}

func LoadRunFile(path string) (RunFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return RunFile{}, fmt.Errorf("read config: %w", err)
	}
	return ParseRunFile(raw)
}

func ParseRunFile(raw []byte) (RunFile, error) {
	var yc yamlRunFile
	if err := yaml.Unmarshal(raw, &yc); err != nil {
		return RunFile{}, fmt.Errorf("parse yaml: %w", err)
	}

	cfg := DefaultConfig()
	bt := yc.Backtest
	cfg.Symbol = bt.Symbol
	if bt.Period != "" {
		cfg.Period = bt.Period
	}
	cfg.StartDate = bt.Start
	cfg.EndDate = bt.End
	setFloat(&cfg.InitialCash, bt.InitialCash)
	setFloat(&cfg.CommissionRate, bt.CommissionRate)
	setFloat(&cfg.StampDutyRate, bt.StampDutyRate)
	setFloat(&cfg.MinCommission, bt.MinCommission)
	setFloat(&cfg.Slippage, bt.Slippage)
	setFloat(&cfg.PriceLimitPct, bt.PriceLimitPct)
	setBool(&cfg.ApplySlippage, bt.ApplySlippage)
	setBool(&cfg.EnableT1, bt.EnableT1)
	setBool(&cfg.EnablePriceLimit, bt.EnablePriceLimit)
	setBool(&cfg.LimitMarketOrders, bt.LimitMarketOrders)
	if bt.LotSize != nil {
		cfg.LotSize = *bt.LotSize
	}
	if err := cfg.Validate(); err != nil {
		return RunFile{}, err
	}

	rf := RunFile{Config: cfg, Data: yc.Data}

	rf.Strategy = StrategySpec{Type: yc.Strategy.Type, Params: Params(yc.Strategy.Params)}
	if rf.Strategy.Type == "" {
		rf.Strategy.Type = "sma_cross"
	}
	if _, err := rf.Strategy.Build(); err != nil {
		return RunFile{}, err
	}

	for _, p := range yc.Portfolio {
		w := 1.0
		if p.Weight != nil {
			w = *p.Weight
		}
		rf.Portfolio = append(rf.Portfolio, Allocation{
			Strategy: StrategySpec{Type: p.Type, Params: Params(p.Params)},
			Weight:   w,
		})
	}

	if yc.Optimize != nil {
		grid, err := gridFromNode(&yc.Optimize.Grid)
		if err != nil {
			return RunFile{}, err
		}
		spec := &OptimizeSpec{Grid: grid, Metric: yc.Optimize.Metric}
		if yc.Optimize.Budget != "" {
			d, err := time.ParseDuration(yc.Optimize.Budget)
			if err != nil {
				return RunFile{}, configError(err, "invalid optimize.budget")
			}
			spec.Budget = d
		}
		rf.Optimize = spec
	}

	return rf, nil
}

// gridFromNode keeps the parameter order written in the file.
func gridFromNode(n *yaml.Node) ([]GridAxis, error) {
	if n.Kind == 0 {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, configError(nil, "optimize.grid must be a mapping")
	}
	var axes []GridAxis
	for i := 0; i+1 < len(n.Content); i += 2 {
		var values []any
		if err := n.Content[i+1].Decode(&values); err != nil {
			return nil, configError(err, "optimize.grid.%s", n.Content[i].Value)
		}
		axes = append(axes, GridAxis{Name: n.Content[i].Value, Values: values})
	}
	return axes, nil
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
