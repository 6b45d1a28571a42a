package ledger

import (
	"time"

	"bracket_trader/internal/models"

	"github.com/shopspring/decimal"
)

// Record is a stored transaction plus ledger bookkeeping.
type Record struct {
	models.Transaction
	SessionDate string
	RecordedAt  time.Time
}

// DailySummary is the per-session roll-up. RealizedPnL is sells minus buys, which
// is the day's profit when the session ends flat.
type DailySummary struct {
	SessionDate  string
	Trades       int
	BuyNotional  decimal.Decimal
	SellNotional decimal.Decimal
	RealizedPnL  decimal.Decimal
}

func (d *DailySummary) add(t models.Transaction) {
	d.Trades++
	if t.Side == models.Sell {
		d.SellNotional = d.SellNotional.Add(t.Notional())
	} else {
		d.BuyNotional = d.BuyNotional.Add(t.Notional())
	}
	d.RealizedPnL = d.SellNotional.Sub(d.BuyNotional)
}
