package backtest

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type BrokerTestSuite struct {
	suite.Suite
	cfg    Config
	broker *Broker
	bars   []Bar
}

func (s *BrokerTestSuite) SetupTest() {
	s.cfg = DefaultConfig()
	s.cfg.Symbol = "600000"
	s.broker = NewBroker(s.cfg, nil)
	s.bars = makeBars(10, 10.5, 11.55, 11)
}

func TestBrokerTestSuite(t *testing.T) {
	suite.Run(t, new(BrokerTestSuite))
}

func (s *BrokerTestSuite) buy(size int64, bar Bar) (Fill, *Rejection) {
	o := MarketOrder(SideBuy, size)
	o.Instrument = "600000"
	return s.broker.Submit(o, bar)
}

func (s *BrokerTestSuite) sell(size int64, bar Bar) (Fill, *Rejection) {
	o := MarketOrder(SideSell, size)
	o.Instrument = "600000"
	return s.broker.Submit(o, bar)
}

func (s *BrokerTestSuite) TestBuysDeductPriceAndCommission() {
	cash := s.broker.Cash()
	for _, size := range []int64{1000, 2000, 500} {
		f, rej := s.buy(size, s.bars[0])
		s.Require().Nil(rej)
		want := cash - (f.Price*float64(f.Size) + f.Commission)
		s.InDelta(want, s.broker.Cash(), 1e-6)
		s.InDelta(want, f.CashAfter, 1e-6)
		s.GreaterOrEqual(s.broker.Cash(), 0.0)
		cash = s.broker.Cash()
	}
	s.Equal(int64(3500), s.broker.Position("600000").Size)
}

func (s *BrokerTestSuite) TestBuyBeyondCashIsRejectedWhole() {
	before := s.broker.Cash()
	_, rej := s.buy(20000, s.bars[0])
	s.Require().NotNil(rej)
	s.Equal(RejectInsufficientCash, rej.Reason)
	s.Equal(before, s.broker.Cash())
	s.Equal(int64(0), s.broker.Position("600000").Size)
	s.Greater(rej.MaxAllowed, int64(0))
	s.Less(rej.MaxAllowed, int64(10000))
}

func (s *BrokerTestSuite) TestSameDaySellRejectedByT1() {
	_, rej := s.buy(1000, s.bars[0])
	s.Require().Nil(rej)

	_, rej = s.sell(500, s.bars[0])
	s.Require().NotNil(rej)
	s.Equal(RejectT1, rej.Reason)
	s.Equal(int64(0), rej.MaxAllowed)
	s.Equal(int64(1000), s.broker.Position("600000").Size)

	s.broker.MarkBarClose("600000", s.bars[0])
	f, rej := s.sell(500, s.bars[1])
	s.Require().Nil(rej)
	s.Equal(int64(500), f.Size)
	s.Equal(int64(500), s.broker.Position("600000").Size)
}

func (s *BrokerTestSuite) TestPartialT1SellRejectedOutright() {
	_, rej := s.buy(1000, s.bars[0])
	s.Require().Nil(rej)
	s.broker.MarkBarClose("600000", s.bars[0])
	_, rej = s.buy(1000, s.bars[1])
	s.Require().Nil(rej)

	_, rej = s.sell(1500, s.bars[1])
	s.Require().NotNil(rej)
	s.Equal(RejectT1, rej.Reason)
	s.Equal(int64(1000), rej.MaxAllowed)
	s.Equal(int64(2000), s.broker.Position("600000").Size)
}

func (s *BrokerTestSuite) TestT1Disabled() {
	s.cfg.EnableT1 = false
	s.broker = NewBroker(s.cfg, nil)
	_, rej := s.buy(1000, s.bars[0])
	s.Require().Nil(rej)
	f, rej := s.sell(1000, s.bars[0])
	s.Require().Nil(rej)
	s.True(f.ClosesTrade)
}

func (s *BrokerTestSuite) TestOversizedSellRejected() {
	_, rej := s.sell(100, s.bars[0])
	s.Require().NotNil(rej)
	s.Equal(RejectInsufficientPosition, rej.Reason)
}

func (s *BrokerTestSuite) TestInvalidOrder() {
	_, rej := s.buy(0, s.bars[0])
	s.Require().NotNil(rej)
	s.Equal(RejectInvalidOrder, rej.Reason)

	o := LimitOrder(SideBuy, 100, 0)
	_, rej = s.broker.Submit(o, s.bars[0])
	s.Require().NotNil(rej)
	s.Equal(RejectInvalidOrder, rej.Reason)
}

func (s *BrokerTestSuite) TestOrderForOtherInstrumentRejected() {
	before := s.broker.Cash()
	o := MarketOrder(SideBuy, 100)
	o.Instrument = "000001"
	_, rej := s.broker.Submit(o, s.bars[0])
	s.Require().NotNil(rej)
	s.Equal(RejectInvalidOrder, rej.Reason)
	s.Contains(rej.Message, "000001")
	s.Equal(before, s.broker.Cash())
	s.Equal(int64(0), s.broker.Position("000001").Size)

	f, rej := s.broker.Submit(MarketOrder(SideBuy, 100), s.bars[0])
	s.Require().Nil(rej)
	s.Equal("600000", f.Instrument)
	s.Equal(int64(100), s.broker.Position("600000").Size)
}

func (s *BrokerTestSuite) TestLimitOrderClippedToUpperBand() {
	s.broker.MarkBarClose("600000", s.bars[0])
	o := LimitOrder(SideBuy, 100, 12)
	o.Instrument = "600000"
	f, rej := s.broker.Submit(o, s.bars[1])
	s.Require().Nil(rej)
	s.InDelta(11.0, f.Price, 1e-9)
	s.True(f.Repriced)
	s.Equal(12.0, f.RequestedPrice)
}

func (s *BrokerTestSuite) TestLimitOrderBelowLowerBand() {
	s.broker.MarkBarClose("600000", s.bars[0])
	o := LimitOrder(SideBuy, 100, 8)
	o.Instrument = "600000"
	f, rej := s.broker.Submit(o, s.bars[1])
	s.Require().Nil(rej)
	s.InDelta(9.0, f.Price, 1e-9)
}

func (s *BrokerTestSuite) TestLimitOrderUnclippedWhenDisabled() {
	s.cfg.EnablePriceLimit = false
	s.broker = NewBroker(s.cfg, nil)
	s.broker.MarkBarClose("600000", s.bars[0])
	o := LimitOrder(SideBuy, 100, 12)
	o.Instrument = "600000"
	f, rej := s.broker.Submit(o, s.bars[1])
	s.Require().Nil(rej)
	s.Equal(12.0, f.Price)
	s.False(f.Repriced)
}

func (s *BrokerTestSuite) TestMarketOrderBypassesBandByDefault() {
	bar := makeBars(10, 11.5)
	s.broker.MarkBarClose("600000", bar[0])
	f, rej := s.buy(100, bar[1])
	s.Require().Nil(rej)
	s.Equal(11.5, f.Price)
}

func (s *BrokerTestSuite) TestMarketOrderClippedWhenConfigured() {
	s.cfg.LimitMarketOrders = true
	s.broker = NewBroker(s.cfg, nil)
	bar := makeBars(10, 11.5)
	s.broker.MarkBarClose("600000", bar[0])
	f, rej := s.buy(100, bar[1])
	s.Require().Nil(rej)
	s.InDelta(11.0, f.Price, 1e-9)
}

func (s *BrokerTestSuite) TestSlippageAppliedAdversely() {
	s.cfg.ApplySlippage = true
	s.broker = NewBroker(s.cfg, nil)
	f, rej := s.buy(1000, s.bars[0])
	s.Require().Nil(rej)
	s.InDelta(10*1.001, f.Price, 1e-9)

	s.broker.MarkBarClose("600000", s.bars[0])
	f, rej = s.sell(1000, s.bars[1])
	s.Require().Nil(rej)
	s.InDelta(10.5*0.999, f.Price, 1e-9)
}

func (s *BrokerTestSuite) TestRoundTripPnL() {
	cfg := noFees(s.cfg)
	s.broker = NewBroker(cfg, nil)
	_, rej := s.buy(1000, s.bars[0])
	s.Require().Nil(rej)
	s.broker.MarkBarClose("600000", s.bars[0])

	f, rej := s.sell(400, s.bars[1])
	s.Require().Nil(rej)
	s.False(f.ClosesTrade)

	f, rej = s.sell(600, s.bars[1])
	s.Require().Nil(rej)
	s.True(f.ClosesTrade)
	s.InDelta(500.0, f.TradePnL, 1e-6)
	s.InDelta(cfg.InitialCash+500, s.broker.Cash(), 1e-6)
}

func (s *BrokerTestSuite) TestAccountValueMarksToPrice() {
	_, rej := s.buy(1000, s.bars[0])
	s.Require().Nil(rej)
	v := s.broker.AccountValue(map[string]float64{"600000": 12})
	s.InDelta(s.broker.Cash()+12000, v, 1e-9)

	s.broker.MarkBarClose("600000", s.bars[0])
	v = s.broker.AccountValue(nil)
	s.InDelta(s.broker.Cash()+10000, v, 1e-9)
}

func (s *BrokerTestSuite) TestSnapshotSellable() {
	_, rej := s.buy(1000, s.bars[0])
	s.Require().Nil(rej)
	snap := s.broker.Snapshot(s.bars[0].Date())
	s.Equal(int64(1000), snap.Position("600000").Size)
	s.Equal(int64(0), snap.Position("600000").Sellable)

	snap = s.broker.Snapshot(s.bars[1].Date())
	s.Equal(int64(1000), snap.Position("600000").Sellable)
}
