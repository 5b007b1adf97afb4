package backtest

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Strategy is called once per bar. Implementations keep their own indicator
// state and must not be shared between runs.
type Strategy interface {
	Name() string
	OnBar(bar Bar, acct AccountSnapshot) ([]Order, error)
}

// Params is the named option map a strategy is built from.
type Params map[string]any

func (p Params) Clone() Params {
	if p == nil {
		return Params{}
	}
	return maps.Clone(p)
}

// Float reads a numeric option. Strings holding numbers are accepted.
func (p Params) Float(name string) (float64, bool) {
	v, ok := p[name]
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	}
	return 0, false
}

func (p Params) Int(name string) (int, bool) {
	f, ok := p.Float(name)
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

func (p Params) String(name string) string {
	if s, ok := p[name].(string); ok {
		return s
	}
	return ""
}

// decode fills dst (a struct with yaml tags) from the map.
func (p Params) decode(dst any) error {
	if len(p) == 0 {
		return nil
	}
	norm := make(map[string]any, len(p))
	for k, v := range p {
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				v = i
			} else if f, err := n.Float64(); err == nil {
				v = f
			}
		}
		norm[k] = v
	}
	b, err := yaml.Marshal(norm)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, dst)
}

type Factory func(Params) (Strategy, error)

var registry = map[string]Factory{
	"sma_cross":      newSMACross,
	"grid":           newGrid,
	"mean_reversion": newMeanReversion,
	"cta_trend":      newCTATrend,
	"buy_hold":       newBuyHold,
	"custom":         newCustom,
}

var aliases = map[string]string{
	"simple_ma": "sma_cross",
	"ma_cross":  "sma_cross",
	"rsi":       "mean_reversion",
	"cta":       "cta_trend",
}

// StrategyTypes lists the registered strategy tags in sorted order.
func StrategyTypes() []string {
	return slices.Sorted(maps.Keys(registry))
}

// StrategySpec names a strategy variant and its options. Runs that need a
// fresh strategy per engine build one from the spec.
type StrategySpec struct {
	Type   string `json:"type" yaml:"type"`
	Params Params `json:"params,omitempty" yaml:"params,omitempty"`
}

func (s StrategySpec) Build() (Strategy, error) {
	return NewStrategy(s.Type, s.Params)
}

func NewStrategy(kind string, params Params) (Strategy, error) {
	if a, ok := aliases[kind]; ok {
		kind = a
	}
	f, ok := registry[kind]
	if !ok {
		return nil, configError(ErrUnknownStrategy, "%q", kind)
	}
	s, err := f(params.Clone())
	if err != nil {
		return nil, configError(err, "strategy %s", kind)
	}
	return s, nil
}

func paramError(format string, args ...any) error {
	return fmt.Errorf("invalid params: "+format, args...)
}

// feeHeadroom keeps percentage-sized buys clear of the commission.
const feeHeadroom = 1.003

func budgetShares(cash, pct, price float64, lot int64) int64 {
	if price <= 0 || pct <= 0 || cash <= 0 {
		return 0
	}
	return lotSize(cash*pct/(price*feeHeadroom), lot)
}

func newOrder(kind string, side Side, size int64, price float64) Order {
	if kind == string(OrderLimit) {
		return LimitOrder(side, size, price)
	}
	return MarketOrder(side, size)
}

func checkOrderType(kind string) error {
	switch kind {
	case "", string(OrderMarket), string(OrderLimit):
		return nil
	}
	return paramError("order_type %q", kind)
}

// crossed compares two series' last two values with a relative tolerance,
// so a flat series never reports a cross.
func crossed(prevFast, prevSlow, fast, slow float64) int {
	eps := 1e-9 * max(math.Abs(slow), 1)
	prev, cur := prevFast-prevSlow, fast-slow
	switch {
	case prev <= eps && cur > eps:
		return 1
	case prev >= -eps && cur < -eps:
		return -1
	}
	return 0
}
