package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSide(t *testing.T) {
	for in, want := range map[string]Side{
		"buy":          Buy,
		"BUY":          Buy,
		" Sell ":       Sell,
		"sell_short":   Sell,
		"buy_to_cover": Buy,
	} {
		got, err := ParseSide(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "HOLD", "short", "b"} {
		_, err := ParseSide(bad)
		assert.Error(t, err, bad)
	}
}

func TestOrderValidate(t *testing.T) {
	ok := Order{Kind: Market, Side: Buy, Ticker: "TQQQ", Quantity: d("10")}
	assert.NoError(t, ok.Validate())

	noTicker := ok
	noTicker.Ticker = " "
	assert.Error(t, noTicker.Validate())

	badSide := ok
	badSide.Side = "sideways"
	assert.Error(t, badSide.Validate())

	zeroQty := ok
	zeroQty.Quantity = d("0")
	assert.Error(t, zeroQty.Validate())
}

func TestAccountSnapshot_OpenPositions(t *testing.T) {
	snap := AccountSnapshot{
		Liquidity: d("50"),
		Positions: map[string]Position{
			"TQQQ": {Ticker: "TQQQ", Quantity: d("100"), Side: Long},
			"AAPL": {Ticker: "AAPL", Quantity: d("0"), Side: Long},
			"SQQQ": {Ticker: "SQQQ", Quantity: d("20"), Side: Short},
		},
	}

	open := snap.OpenPositions()
	require.Len(t, open, 2)
	assert.Equal(t, "SQQQ", open[0].Ticker)
	assert.Equal(t, Buy, open[0].CloseSide())
	assert.Equal(t, "TQQQ", open[1].Ticker)
	assert.Equal(t, Sell, open[1].CloseSide())
}

func TestOrderResultStatus(t *testing.T) {
	assert.True(t, OrderResult{BrokerStatus: "filled"}.Filled())
	assert.False(t, OrderResult{BrokerStatus: "partially_filled"}.Filled())
	assert.True(t, OrderResult{BrokerStatus: "rejected"}.Terminated())
	assert.True(t, OrderResult{BrokerStatus: "canceled"}.Terminated())
	assert.False(t, OrderResult{BrokerStatus: "new"}.Terminated())
}

func TestTradesOnly(t *testing.T) {
	txns := []Transaction{
		{ID: "1", Type: Trade},
		{ID: "2", Type: TransactionType("DIVIDEND")},
		{ID: "3", Type: Trade},
	}
	got := TradesOnly(txns)
	require.Len(t, got, 2)
	assert.Equal(t, "3", got[1].ID)
}

func TestNewSessionDay(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	now := time.Date(2024, 3, 15, 19, 45, 0, 0, time.UTC) // 15:45 EDT
	day, err := NewSessionDay(now, ny, "09:30", "16:00", time.Minute)
	require.NoError(t, err)

	assert.Equal(t, "2024-03-15", day.Date)
	assert.Equal(t, 9, day.Open.Hour())
	assert.Equal(t, 30, day.Open.Minute())
	assert.Equal(t, "09:29", day.WindowStart().Format("15:04"))

	assert.True(t, day.Contains(time.Date(2024, 3, 15, 13, 29, 30, 0, time.UTC)))
	assert.True(t, day.Contains(day.Close))
	assert.False(t, day.Contains(time.Date(2024, 3, 15, 13, 28, 0, 0, time.UTC)))
	assert.False(t, day.Contains(day.Close.Add(time.Second)))
}

func TestNewSessionDay_Invalid(t *testing.T) {
	_, err := NewSessionDay(time.Now(), time.UTC, "16:00", "09:30", 0)
	assert.Error(t, err)

	_, err = NewSessionDay(time.Now(), time.UTC, "9h30", "16:00", 0)
	assert.Error(t, err)

	_, err = NewSessionDay(time.Now(), nil, "09:30", "16:00", 0)
	assert.Error(t, err)
}
