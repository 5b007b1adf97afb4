package backtest

// T1Ledger records shares bought per instrument per trading date.
// Shares bought on a date cannot be sold on that same date.
type T1Ledger struct {
	bought map[string]map[string]int64
}

func NewT1Ledger() *T1Ledger {
	return &T1Ledger{bought: make(map[string]map[string]int64)}
}

func (l *T1Ledger) RecordBuy(instrument, date string, size int64) {
	byDate := l.bought[instrument]
	if byDate == nil {
		byDate = make(map[string]int64)
		l.bought[instrument] = byDate
	}
	byDate[date] += size
}

func (l *T1Ledger) BoughtOn(instrument, date string) int64 {
	return l.bought[instrument][date]
}

func (l *T1Ledger) Sellable(instrument, date string, positionSize int64) int64 {
	n := positionSize - l.BoughtOn(instrument, date)
	if n < 0 {
		return 0
	}
	return n
}

// CheckSell reports whether requested shares may be sold on date and the
// maximum that could be.
func (l *T1Ledger) CheckSell(instrument, date string, requested, positionSize int64) (bool, int64) {
	maxAllowed := l.Sellable(instrument, date, positionSize)
	return requested <= maxAllowed, maxAllowed
}

// Expire drops entries dated before date; they no longer restrict anything.
func (l *T1Ledger) Expire(instrument, date string) {
	byDate := l.bought[instrument]
	for d := range byDate {
		if d < date {
			delete(byDate, d)
		}
	}
}
