package trading

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	for _, s := range []string{"2024-03-01", "20240301", "2024/03/01"} {
		d, err := ParseDate(s)
		require.NoError(t, err, s)
		assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, CST), d)
	}
	_, err := ParseDate("March 1")
	assert.Error(t, err)
}

func TestIsStockTradingTimeAt(t *testing.T) {
	// 2024-03-01 is a Friday
	assert.True(t, IsStockTradingTimeAt(time.Date(2024, 3, 1, 10, 0, 0, 0, CST)))
	assert.False(t, IsStockTradingTimeAt(time.Date(2024, 3, 1, 12, 0, 0, 0, CST)))
	assert.False(t, IsStockTradingTimeAt(time.Date(2024, 3, 2, 10, 0, 0, 0, CST)))
	// 02:00 UTC is 10:00 in Beijing
	assert.True(t, IsStockTradingTimeAt(time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC)))
}
