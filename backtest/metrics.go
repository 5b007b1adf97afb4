package backtest

import (
	"math"

	"github.com/montanaflynn/stats"
)

const tradingDaysPerYear = 252

// computeMetrics derives the run statistics from the equity curve and the
// fill log. Returns are bar-over-bar changes of the curve.
func computeMetrics(initial float64, curve []EquityPoint, fills []Fill) Metrics {
	m := Metrics{InitialValue: initial, FinalValue: initial, FillCount: len(fills)}
	if len(curve) > 0 {
		m.FinalValue = curve[len(curve)-1].Value
	}
	if initial > 0 {
		m.TotalReturn = (m.FinalValue - initial) / initial
	}

	returns := dailyReturns(curve)
	if len(returns) > 0 {
		mean, _ := stats.Mean(returns)
		sd, _ := stats.StandardDeviationPopulation(returns)
		m.AvgDailyReturn = mean
		m.AnnualReturn = math.Pow(1+mean, tradingDaysPerYear) - 1
		m.Volatility = sd * math.Sqrt(tradingDaysPerYear)
		if m.Volatility > 0 {
			m.SharpeRatio = m.AnnualReturn / m.Volatility
		}
	}
	m.MaxDrawdown = maxDrawdown(initial, curve)

	for _, f := range fills {
		if !f.ClosesTrade {
			continue
		}
		m.TotalTrades++
		if f.TradePnL > 0 {
			m.WonTrades++
		}
	}
	m.LostTrades = m.TotalTrades - m.WonTrades
	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WonTrades) / float64(m.TotalTrades)
	}
	return finite(m)
}

func dailyReturns(curve []EquityPoint) stats.Float64Data {
	if len(curve) < 2 {
		return nil
	}
	out := make(stats.Float64Data, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Value
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (curve[i].Value-prev)/prev)
	}
	return out
}

// maxDrawdown is the largest fractional decline from a running peak,
// with the starting capital as the first peak.
func maxDrawdown(initial float64, curve []EquityPoint) float64 {
	peak := initial
	var dd float64
	for _, p := range curve {
		if p.Value > peak {
			peak = p.Value
		}
		if peak > 0 {
			dd = max(dd, (peak-p.Value)/peak)
		}
	}
	return dd
}

// finite zeroes ratios that overflowed so results always encode as JSON.
func finite(m Metrics) Metrics {
	for _, f := range []*float64{&m.AnnualReturn, &m.SharpeRatio, &m.Volatility, &m.AvgDailyReturn, &m.TotalReturn} {
		if math.IsNaN(*f) || math.IsInf(*f, 0) {
			*f = 0
		}
	}
	return m
}
