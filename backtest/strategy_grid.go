package backtest

import "fmt"

type GridParams struct {
	GridNum      int     `yaml:"grid_num" json:"grid_num"`
	PriceMin     float64 `yaml:"price_min" json:"price_min"`
	PriceMax     float64 `yaml:"price_max" json:"price_max"`
	StakePerGrid int64   `yaml:"stake_per_grid" json:"stake_per_grid"`
}

func (p GridParams) withDefaults() GridParams {
	if p.GridNum <= 0 {
		p.GridNum = 5
	}
	if p.StakePerGrid <= 0 {
		p.StakePerGrid = 100
	}
	return p
}

// Grid buys one stake for every level the price falls through and sells one
// for every level it rises through. Without an explicit range it spans the
// first close ±10%.
type Grid struct {
	p      GridParams
	levels []float64
	last   float64
}

func NewGrid(p GridParams) (*Grid, error) {
	p = p.withDefaults()
	if p.PriceMin < 0 || p.PriceMax < 0 {
		return nil, paramError("negative price range")
	}
	if (p.PriceMin > 0 || p.PriceMax > 0) && p.PriceMax <= p.PriceMin {
		return nil, paramError("price_max %.4f must exceed price_min %.4f", p.PriceMax, p.PriceMin)
	}
	g := &Grid{p: p}
	if p.PriceMax > 0 {
		g.build(p.PriceMin, p.PriceMax)
	}
	return g, nil
}

func newGrid(params Params) (Strategy, error) {
	var p GridParams
	if err := params.decode(&p); err != nil {
		return nil, err
	}
	return NewGrid(p)
}

func (g *Grid) build(lo, hi float64) {
	step := (hi - lo) / float64(g.p.GridNum)
	g.levels = make([]float64, 0, g.p.GridNum+1)
	for i := 0; i <= g.p.GridNum; i++ {
		g.levels = append(g.levels, lo+float64(i)*step)
	}
}

func (g *Grid) Name() string { return fmt.Sprintf("grid(%d)", g.p.GridNum) }

func (g *Grid) OnBar(bar Bar, acct AccountSnapshot) ([]Order, error) {
	cur := bar.Close
	if g.levels == nil {
		g.build(cur*0.9, cur*1.1)
	}
	if g.last == 0 {
		g.last = cur
		return nil, nil
	}

	var orders []Order
	cash := acct.Cash
	sellable := acct.Holding().Sellable
	stake := g.p.StakePerGrid
	for _, level := range g.levels {
		switch {
		case g.last > level && level >= cur:
			if cash > cur*float64(stake) {
				o := MarketOrder(SideBuy, stake)
				o.Reason = fmt.Sprintf("grid_buy@%.2f", level)
				orders = append(orders, o)
				cash -= cur * float64(stake)
			}
		case g.last < level && level <= cur:
			if sellable >= stake {
				o := MarketOrder(SideSell, stake)
				o.Reason = fmt.Sprintf("grid_sell@%.2f", level)
				orders = append(orders, o)
				sellable -= stake
			}
		}
	}
	g.last = cur
	return orders, nil
}
