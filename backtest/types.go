package backtest

import "time"

const dateLayout = "2006-01-02"

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

// Bar is one trading day of OHLCV data for a single instrument.
type Bar struct {
	Time   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

func (b Bar) Date() string { return b.Time.Format(dateLayout) }

// Order is consumed by the broker within the bar it was submitted on.
// Price is ignored for market orders.
type Order struct {
	Instrument string    `json:"instrument"`
	Side       Side      `json:"side"`
	Type       OrderType `json:"type"`
	Size       int64     `json:"size"`
	Price      float64   `json:"price,omitempty"`
	SubmitDate string    `json:"submit_date"`
	Reason     string    `json:"reason,omitempty"`
}

func MarketOrder(side Side, size int64) Order {
	return Order{Side: side, Type: OrderMarket, Size: size}
}

func LimitOrder(side Side, size int64, price float64) Order {
	return Order{Side: side, Type: OrderLimit, Size: size, Price: price}
}

type Fill struct {
	Date           string    `json:"date"`
	Instrument     string    `json:"instrument"`
	Side           Side      `json:"action"`
	Type           OrderType `json:"type"`
	Price          float64   `json:"price"`
	RequestedPrice float64   `json:"requested_price,omitempty"`
	Repriced       bool      `json:"repriced,omitempty"`
	Size           int64     `json:"size"`
	Commission     float64   `json:"commission"`
	Notional       float64   `json:"value"`
	CashAfter      float64   `json:"cash_after"`
	ClosesTrade    bool      `json:"closes_trade,omitempty"`
	TradePnL       float64   `json:"trade_pnl,omitempty"`
	Reason         string    `json:"reason,omitempty"`
}

type RejectReason string

const (
	RejectInsufficientCash     RejectReason = "insufficient_cash"
	RejectT1                   RejectReason = "t1_restricted"
	RejectInsufficientPosition RejectReason = "insufficient_position"
	RejectInvalidOrder         RejectReason = "invalid_order"
)

// Rejection is a recoverable business outcome, never an error.
type Rejection struct {
	Date       string       `json:"date"`
	Instrument string       `json:"instrument"`
	Side       Side         `json:"side"`
	Reason     RejectReason `json:"reason"`
	Requested  int64        `json:"requested"`
	MaxAllowed int64        `json:"max_allowed"`
	Message    string       `json:"message"`
}

type PositionView struct {
	Size     int64   `json:"size"`
	Sellable int64   `json:"sellable"`
	AvgCost  float64 `json:"avg_cost"`
}

// AccountSnapshot is the read-only view handed to strategies.
type AccountSnapshot struct {
	Instrument string                  `json:"instrument"`
	Date       string                  `json:"date"`
	Cash       float64                 `json:"cash"`
	Positions  map[string]PositionView `json:"positions"`
}

func (a AccountSnapshot) Position(instrument string) PositionView {
	return a.Positions[instrument]
}

// Holding is the position in the instrument being run.
func (a AccountSnapshot) Holding() PositionView {
	return a.Positions[a.Instrument]
}

type EquityPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
	Cash  float64 `json:"cash"`
}

type Metrics struct {
	InitialValue   float64 `json:"initial_value"`
	FinalValue     float64 `json:"final_value"`
	TotalReturn    float64 `json:"total_return"`
	AnnualReturn   float64 `json:"annual_return"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	Volatility     float64 `json:"volatility"`
	AvgDailyReturn float64 `json:"avg_daily_return"`
	TotalTrades    int     `json:"total_trades"`
	WonTrades      int     `json:"won_trades"`
	LostTrades     int     `json:"lost_trades"`
	WinRate        float64 `json:"win_rate"`
	FillCount      int     `json:"fill_count"`
}

// Result is owned by the caller once Run returns.
type Result struct {
	Config      Config        `json:"config"`
	Strategy    string        `json:"strategy"`
	Params      Params        `json:"params,omitempty"`
	Metrics     Metrics       `json:"metrics"`
	Trades      []Fill        `json:"trading_records"`
	Rejections  []Rejection   `json:"rejections,omitempty"`
	EquityCurve []EquityPoint `json:"equity_curve"`
}

type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)
