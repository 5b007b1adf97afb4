package backtest

import "fmt"

type MeanReversionParams struct {
	RSIPeriod     int     `yaml:"rsi_period" json:"rsi_period"`
	RSIOversold   float64 `yaml:"rsi_oversold" json:"rsi_oversold"`
	RSIOverbought float64 `yaml:"rsi_overbought" json:"rsi_overbought"`
	Stake         int64   `yaml:"stake" json:"stake"`
}

func (p MeanReversionParams) withDefaults() MeanReversionParams {
	if p.RSIPeriod <= 0 {
		p.RSIPeriod = 14
	}
	if p.RSIOversold <= 0 {
		p.RSIOversold = 30
	}
	if p.RSIOverbought <= 0 {
		p.RSIOverbought = 70
	}
	if p.Stake <= 0 {
		p.Stake = 100
	}
	return p
}

// MeanReversion buys when RSI is oversold and exits when it is overbought.
type MeanReversion struct {
	p      MeanReversionParams
	closes []float64
}

func NewMeanReversion(p MeanReversionParams) (*MeanReversion, error) {
	p = p.withDefaults()
	if p.RSIOversold >= p.RSIOverbought {
		return nil, paramError("rsi_oversold %.1f must be below rsi_overbought %.1f", p.RSIOversold, p.RSIOverbought)
	}
	return &MeanReversion{p: p}, nil
}

func newMeanReversion(params Params) (Strategy, error) {
	var p MeanReversionParams
	if err := params.decode(&p); err != nil {
		return nil, err
	}
	return NewMeanReversion(p)
}

func (s *MeanReversion) Name() string { return fmt.Sprintf("mean_reversion(%d)", s.p.RSIPeriod) }

func (s *MeanReversion) OnBar(bar Bar, acct AccountSnapshot) ([]Order, error) {
	s.closes = append(s.closes, bar.Close)
	rsi, ok := rsiLast(s.closes, s.p.RSIPeriod)
	if !ok {
		return nil, nil
	}
	pos := acct.Holding()
	if pos.Size == 0 && rsi < s.p.RSIOversold {
		o := MarketOrder(SideBuy, s.p.Stake)
		o.Reason = fmt.Sprintf("rsi_oversold %.1f", rsi)
		return []Order{o}, nil
	}
	if pos.Size > 0 && rsi > s.p.RSIOverbought {
		o := MarketOrder(SideSell, pos.Size)
		o.Reason = fmt.Sprintf("rsi_overbought %.1f", rsi)
		return []Order{o}, nil
	}
	return nil, nil
}
