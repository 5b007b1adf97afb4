package backtest

// PriceLimit enforces the daily ±Pct band around the previous close.
type PriceLimit struct {
	Pct float64
}

func (p PriceLimit) Band(prevClose float64) (lower, upper float64) {
	return prevClose * (1 - p.Pct), prevClose * (1 + p.Pct)
}

// Clip reports whether price lies inside the band and the price the order
// may execute at. A non-positive prevClose means no reference yet (first bar).
func (p PriceLimit) Clip(price, prevClose float64) (bool, float64) {
	if prevClose <= 0 {
		return true, price
	}
	lower, upper := p.Band(prevClose)
	if price > upper {
		return false, upper
	}
	if price < lower {
		return false, lower
	}
	return true, price
}
