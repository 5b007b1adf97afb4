package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestT1Ledger(t *testing.T) {
	l := NewT1Ledger()
	l.RecordBuy("600000", "2024-01-02", 300)
	l.RecordBuy("600000", "2024-01-02", 200)

	assert.Equal(t, int64(500), l.BoughtOn("600000", "2024-01-02"))
	assert.Equal(t, int64(100), l.Sellable("600000", "2024-01-02", 600))
	assert.Equal(t, int64(600), l.Sellable("600000", "2024-01-03", 600))
	assert.Equal(t, int64(0), l.Sellable("600000", "2024-01-02", 500))

	ok, maxAllowed := l.CheckSell("600000", "2024-01-02", 200, 600)
	assert.False(t, ok)
	assert.Equal(t, int64(100), maxAllowed)

	ok, _ = l.CheckSell("600000", "2024-01-02", 100, 600)
	assert.True(t, ok)

	l.Expire("600000", "2024-01-03")
	assert.Equal(t, int64(0), l.BoughtOn("600000", "2024-01-02"))
	assert.Equal(t, int64(0), l.BoughtOn("000001", "2024-01-02"))
}
