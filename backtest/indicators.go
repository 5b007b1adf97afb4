package backtest

import "math"

// Indicator helpers evaluate the latest value over a chronological series.
// ok is false while the series is shorter than the warmup.

func smaLast(x []float64, n int) (float64, bool) {
	if n <= 0 || len(x) < n {
		return 0, false
	}
	var sum float64
	for _, v := range x[len(x)-n:] {
		sum += v
	}
	return sum / float64(n), true
}

func emaLast(x []float64, n int) (float64, bool) {
	if n <= 0 || len(x) < n {
		return 0, false
	}
	seed, _ := smaLast(x[:n], n)
	k := 2.0 / float64(n+1)
	e := seed
	for _, v := range x[n:] {
		e = (v-e)*k + e
	}
	return e, true
}

// stdLast is the population standard deviation over the last n points.
func stdLast(x []float64, n int) (float64, bool) {
	m, ok := smaLast(x, n)
	if !ok {
		return 0, false
	}
	var ss float64
	for _, v := range x[len(x)-n:] {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(n)), true
}

// rsiLast uses Wilder smoothing seeded with the simple average of the first n changes.
func rsiLast(x []float64, n int) (float64, bool) {
	if n <= 0 || len(x) < n+1 {
		return 0, false
	}
	var gain, loss float64
	for i := 1; i <= n; i++ {
		ch := x[i] - x[i-1]
		if ch > 0 {
			gain += ch
		} else {
			loss -= ch
		}
	}
	avgGain := gain / float64(n)
	avgLoss := loss / float64(n)
	for i := n + 1; i < len(x); i++ {
		ch := x[i] - x[i-1]
		g, l := 0.0, 0.0
		if ch > 0 {
			g = ch
		} else {
			l = -ch
		}
		avgGain = (avgGain*float64(n-1) + g) / float64(n)
		avgLoss = (avgLoss*float64(n-1) + l) / float64(n)
	}
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50, true
		}
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// atrLast is Wilder's average true range.
func atrLast(highs, lows, closes []float64, n int) (float64, bool) {
	if n <= 0 || len(closes) < n+1 {
		return 0, false
	}
	tr := func(i int) float64 {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		return math.Max(hl, math.Max(hc, lc))
	}
	var sum float64
	for i := 1; i <= n; i++ {
		sum += tr(i)
	}
	a := sum / float64(n)
	for i := n + 1; i < len(closes); i++ {
		a = (a*float64(n-1) + tr(i)) / float64(n)
	}
	return a, true
}

func highestLast(x []float64, n int) (float64, bool) {
	if n <= 0 || len(x) < n {
		return 0, false
	}
	h := math.Inf(-1)
	for _, v := range x[len(x)-n:] {
		h = math.Max(h, v)
	}
	return h, true
}

func lowestLast(x []float64, n int) (float64, bool) {
	if n <= 0 || len(x) < n {
		return 0, false
	}
	l := math.Inf(1)
	for _, v := range x[len(x)-n:] {
		l = math.Min(l, v)
	}
	return l, true
}

// priceSeries accumulates bar history for a strategy instance.
type priceSeries struct {
	opens, highs, lows, closes, volumes []float64
}

func (s *priceSeries) push(b Bar) {
	s.opens = append(s.opens, b.Open)
	s.highs = append(s.highs, b.High)
	s.lows = append(s.lows, b.Low)
	s.closes = append(s.closes, b.Close)
	s.volumes = append(s.volumes, float64(b.Volume))
}

func (s *priceSeries) len() int { return len(s.closes) }

// lotSize rounds shares down to whole lots.
func lotSize(shares float64, lot int64) int64 {
	if lot <= 0 {
		lot = 100
	}
	if shares <= 0 || math.IsNaN(shares) || math.IsInf(shares, 0) {
		return 0
	}
	return int64(math.Floor(shares/float64(lot))) * lot
}
