package backtest

import (
	"fmt"
	"math"

	"go.uber.org/zap"
)

type holding struct {
	size  int64
	basis float64 // cost of the open shares, buy fees included

	// current round trip
	spent    float64
	proceeds float64
}

// Broker owns cash and positions for one run. It is not safe for
// concurrent use; every run gets its own Broker.
type Broker struct {
	cfg        Config
	instrument string
	commission Commission
	limit      PriceLimit
	ledger     *T1Ledger
	cash       float64
	positions  map[string]*holding
	prevClose  map[string]float64
	logger     *zap.Logger
}

func NewBroker(cfg Config, logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	inst := cfg.Symbol
	if inst == "" {
		inst = defaultInstrument
	}
	return &Broker{
		cfg:        cfg,
		instrument: inst,
		commission: Commission{
			Rate:      cfg.CommissionRate,
			StampDuty: cfg.StampDutyRate,
			Min:       cfg.MinCommission,
		},
		limit:     PriceLimit{Pct: cfg.PriceLimitPct},
		ledger:    NewT1Ledger(),
		cash:      cfg.InitialCash,
		positions: make(map[string]*holding),
		prevClose: make(map[string]float64),
		logger:    logger,
	}
}

func (b *Broker) Cash() float64 { return b.cash }

func (b *Broker) Position(instrument string) PositionView {
	return b.view(instrument, "")
}

func (b *Broker) view(instrument, date string) PositionView {
	h := b.positions[instrument]
	if h == nil || h.size == 0 {
		return PositionView{}
	}
	sellable := h.size
	if b.cfg.EnableT1 && date != "" {
		sellable = b.ledger.Sellable(instrument, date, h.size)
	}
	return PositionView{
		Size:     h.size,
		Sellable: sellable,
		AvgCost:  h.basis / float64(h.size),
	}
}

// Snapshot copies the account state visible to a strategy on date.
func (b *Broker) Snapshot(date string) AccountSnapshot {
	positions := make(map[string]PositionView, len(b.positions))
	for inst, h := range b.positions {
		if h.size == 0 {
			continue
		}
		positions[inst] = b.view(inst, date)
	}
	return AccountSnapshot{Date: date, Cash: b.cash, Positions: positions}
}

// Submit executes o against bar. Exactly one of the results is meaningful:
// a nil Rejection means the Fill happened. Bars belong to the broker's
// instrument; orders for any other instrument are rejected.
func (b *Broker) Submit(o Order, bar Bar) (Fill, *Rejection) {
	date := bar.Date()
	if o.Type == "" {
		o.Type = OrderMarket
	}
	if o.Instrument == "" {
		o.Instrument = b.instrument
	}
	if o.Instrument != b.instrument {
		return Fill{}, b.reject(o, date, RejectInvalidOrder, 0,
			fmt.Sprintf("no bars for %s, running %s", o.Instrument, b.instrument))
	}
	if o.Size <= 0 || (o.Side != SideBuy && o.Side != SideSell) || (o.Type == OrderLimit && o.Price <= 0) {
		return Fill{}, b.reject(o, date, RejectInvalidOrder, 0,
			fmt.Sprintf("invalid %s %s order size=%d price=%.4f", o.Type, o.Side, o.Size, o.Price))
	}

	h := b.positions[o.Instrument]
	if o.Side == SideSell {
		var held int64
		if h != nil {
			held = h.size
		}
		if o.Size > held {
			return Fill{}, b.reject(o, date, RejectInsufficientPosition, held,
				fmt.Sprintf("holding %d shares, requested %d", held, o.Size))
		}
		if b.cfg.EnableT1 {
			if ok, maxAllowed := b.ledger.CheckSell(o.Instrument, date, o.Size, held); !ok {
				return Fill{}, b.reject(o, date, RejectT1, maxAllowed,
					fmt.Sprintf("bought %d today, sellable %d, requested %d",
						b.ledger.BoughtOn(o.Instrument, date), maxAllowed, o.Size))
			}
		}
	}

	price, repriced := b.executionPrice(o, bar)
	notional := price * float64(o.Size)
	fee := b.commission.Cost(o.Side, price, o.Size)

	if o.Side == SideBuy {
		total := notional + fee
		if total > b.cash {
			return Fill{}, b.reject(o, date, RejectInsufficientCash, b.affordable(price),
				fmt.Sprintf("need %.2f, cash %.2f", total, b.cash))
		}
		if h == nil {
			h = &holding{}
			b.positions[o.Instrument] = h
		}
		b.cash -= total
		h.size += o.Size
		h.basis += total
		h.spent += total
		b.ledger.RecordBuy(o.Instrument, date, o.Size)
		return b.fill(o, date, price, repriced, fee, notional), nil
	}

	net := notional - fee
	b.cash += net
	avg := h.basis / float64(h.size)
	h.basis -= avg * float64(o.Size)
	h.size -= o.Size
	h.proceeds += net
	f := b.fill(o, date, price, repriced, fee, notional)
	if h.size == 0 {
		f.ClosesTrade = true
		f.TradePnL = h.proceeds - h.spent
		*h = holding{}
	}
	return f, nil
}

func (b *Broker) fill(o Order, date string, price float64, repriced bool, fee, notional float64) Fill {
	f := Fill{
		Date:       date,
		Instrument: o.Instrument,
		Side:       o.Side,
		Type:       o.Type,
		Price:      price,
		Repriced:   repriced,
		Size:       o.Size,
		Commission: fee,
		Notional:   notional,
		CashAfter:  b.cash,
		Reason:     o.Reason,
	}
	if o.Type == OrderLimit {
		f.RequestedPrice = o.Price
	}
	return f
}

func (b *Broker) executionPrice(o Order, bar Bar) (float64, bool) {
	prev := b.prevClose[o.Instrument]
	if o.Type == OrderLimit {
		if !b.cfg.EnablePriceLimit {
			return o.Price, false
		}
		return b.clip(o, o.Price, prev, bar)
	}

	price := bar.Close
	if b.cfg.ApplySlippage && b.cfg.Slippage > 0 {
		if o.Side == SideBuy {
			price *= 1 + b.cfg.Slippage
		} else {
			price *= 1 - b.cfg.Slippage
		}
	}
	if b.cfg.EnablePriceLimit && b.cfg.LimitMarketOrders {
		return b.clip(o, price, prev, bar)
	}
	return price, false
}

func (b *Broker) clip(o Order, price, prev float64, bar Bar) (float64, bool) {
	ok, eff := b.limit.Clip(price, prev)
	if ok {
		return price, false
	}
	b.logger.Warn("order repriced to price limit",
		zap.String("instrument", o.Instrument),
		zap.String("date", bar.Date()),
		zap.String("side", string(o.Side)),
		zap.Float64("prev_close", prev),
		zap.Float64("requested", price),
		zap.Float64("limit", eff),
	)
	return eff, true
}

// affordable estimates the largest whole-lot buy the current cash covers.
func (b *Broker) affordable(price float64) int64 {
	if price <= 0 {
		return 0
	}
	budget := b.cash - b.cfg.MinCommission
	if budget <= 0 {
		return 0
	}
	n := lotSize(budget/(price*(1+b.cfg.CommissionRate)), b.cfg.LotSize)
	for n > 0 && price*float64(n)+b.commission.Cost(SideBuy, price, n) > b.cash {
		n -= max(b.cfg.LotSize, 1)
	}
	return max(n, 0)
}

func (b *Broker) reject(o Order, date string, reason RejectReason, maxAllowed int64, msg string) *Rejection {
	b.logger.Warn("order rejected",
		zap.String("instrument", o.Instrument),
		zap.String("date", date),
		zap.String("side", string(o.Side)),
		zap.String("reason", string(reason)),
		zap.Int64("requested", o.Size),
		zap.Int64("max_allowed", maxAllowed),
		zap.String("detail", msg),
	)
	return &Rejection{
		Date:       date,
		Instrument: o.Instrument,
		Side:       o.Side,
		Reason:     reason,
		Requested:  o.Size,
		MaxAllowed: maxAllowed,
		Message:    msg,
	}
}

// MarkBarClose must run once per bar after that bar's orders, before the next bar.
func (b *Broker) MarkBarClose(instrument string, bar Bar) {
	b.prevClose[instrument] = bar.Close
	b.ledger.Expire(instrument, bar.Date())
}

// AccountValue marks positions to prices, falling back to the last seen close.
func (b *Broker) AccountValue(prices map[string]float64) float64 {
	v := b.cash
	for inst, h := range b.positions {
		if h.size == 0 {
			continue
		}
		p, ok := prices[inst]
		if !ok {
			p = b.prevClose[inst]
		}
		v += float64(h.size) * p
	}
	return v
}

func (b *Broker) PrevClose(instrument string) (float64, bool) {
	p, ok := b.prevClose[instrument]
	return p, ok && !math.IsNaN(p)
}
