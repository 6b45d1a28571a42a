package models

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or a fill.
// It is a closed set: anything other than BUY or SELL is rejected at the boundary.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// ParseSide normalizes broker/user input ("buy", "SELL", "sell_short") into a Side.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "BUY_TO_COVER":
		return Buy, nil
	case "SELL", "SELL_SHORT":
		return Sell, nil
	}
	return "", fmt.Errorf("invalid side %q", s)
}

// Valid reports whether s is one of the known sides.
func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// Opposite returns the side that closes a position opened with s.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

type OrderKind string

const (
	Market     OrderKind = "MARKET"
	BracketLeg OrderKind = "BRACKET_LEG"
)

// OrderStatus is our view of an order: whether the gateway acknowledged it.
// Fill state is only learned from Transactions.
type OrderStatus string

const (
	Submitted OrderStatus = "SUBMITTED"
	Acked     OrderStatus = "ACKED"
	Failed    OrderStatus = "FAILED"
)

// PositionSide tells whether a held quantity is long or short.
type PositionSide string

const (
	Long  PositionSide = "long"
	Short PositionSide = "short"
)

// Position is a broker-owned holding. Quantity is always the absolute share count;
// the direction lives in Side.
type Position struct {
	Ticker      string          `json:"ticker"`
	Quantity    decimal.Decimal `json:"quantity"`
	Side        PositionSide    `json:"side"`
	MarketValue decimal.Decimal `json:"market_value"`
}

// IsOpen reports whether there is anything left to close.
func (p Position) IsOpen() bool {
	return p.Quantity.GreaterThan(decimal.Zero)
}

// CloseSide is the order side that flattens the position.
func (p Position) CloseSide() Side {
	if p.Side == Short {
		return Buy
	}
	return Sell
}

// AccountSnapshot is a point-in-time read of the account, taken once per run.
type AccountSnapshot struct {
	Liquidity decimal.Decimal     `json:"liquidity"`
	Positions map[string]Position `json:"positions"`
}

// OpenPositions returns the positions with nonzero quantity, ordered by ticker.
func (a AccountSnapshot) OpenPositions() []Position {
	var open []Position
	for _, p := range a.Positions {
		if p.IsOpen() {
			open = append(open, p)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].Ticker < open[j].Ticker })
	return open
}

// Order is an instruction created by the orchestrator. ID stays empty until the
// gateway acknowledges it.
type Order struct {
	ID          string           `json:"id,omitempty"`
	Kind        OrderKind        `json:"kind"`
	Side        Side             `json:"side"`
	Ticker      string           `json:"ticker"`
	Quantity    decimal.Decimal  `json:"quantity"`
	LimitPrice  *decimal.Decimal `json:"limit_price,omitempty"`
	StopTrigger *decimal.Decimal `json:"stop_trigger,omitempty"`
	StopLimit   *decimal.Decimal `json:"stop_limit,omitempty"`
	Status      OrderStatus      `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Validate checks the invariants that must hold before submission.
func (o Order) Validate() error {
	if strings.TrimSpace(o.Ticker) == "" {
		return fmt.Errorf("order has no ticker")
	}
	if !o.Side.Valid() {
		return fmt.Errorf("invalid side %q", o.Side)
	}
	if !o.Quantity.GreaterThan(decimal.Zero) {
		return fmt.Errorf("quantity must be positive, got %s", o.Quantity)
	}
	return nil
}

// OrderResult is what the gateway hands back for a submission or cancel.
type OrderResult struct {
	ID           string          `json:"id"`
	Status       OrderStatus     `json:"status"`
	BrokerStatus string          `json:"broker_status"` // new, accepted, filled, canceled, rejected...
	FilledQty    decimal.Decimal `json:"filled_qty"`
}

// Filled reports whether the broker says the order is completely filled.
func (r OrderResult) Filled() bool {
	return strings.EqualFold(r.BrokerStatus, "filled")
}

// Terminated reports whether the order died without filling.
func (r OrderResult) Terminated() bool {
	switch strings.ToLower(r.BrokerStatus) {
	case "canceled", "cancelled", "rejected", "expired":
		return true
	}
	return false
}

// TransactionType only has TRADE today; other account activity is ignored.
type TransactionType string

const Trade TransactionType = "TRADE"

// Transaction is a settled fill reported by the broker. Immutable once returned.
type Transaction struct {
	ID        string          `json:"id"`
	Ticker    string          `json:"ticker"`
	Quantity  decimal.Decimal `json:"quantity"`
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
	Type      TransactionType `json:"type"`
}

// Notional is quantity times price.
func (t Transaction) Notional() decimal.Decimal {
	return t.Quantity.Mul(t.Price)
}

// TradesOnly filters out anything that is not a TRADE.
func TradesOnly(txns []Transaction) []Transaction {
	out := make([]Transaction, 0, len(txns))
	for _, t := range txns {
		if t.Type == Trade {
			out = append(out, t)
		}
	}
	return out
}
