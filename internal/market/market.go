package market

import (
	"context"
	"errors"

	"bracket_trader/internal/models"

	"github.com/shopspring/decimal"
)

// ErrOrderRejected means the broker (or our own boundary validation) declined a
// specific order. It is scoped to that order only.
var ErrOrderRejected = errors.New("order rejected")

// Broker is the brokerage gateway.
// Interfaces define *behavior*: the orchestrator only sees this, so Alpaca can be
// swapped for another broker, or a fake in tests, without touching the core.
// Implementations do not retry; timeouts and retries belong to the transport.
type Broker interface {
	GetAccountSnapshot(ctx context.Context) (*models.AccountSnapshot, error)
	GetTransactions(ctx context.Context, day models.SessionDay) ([]models.Transaction, error)
	GetOrder(ctx context.Context, orderID string) (*models.OrderResult, error)
	ListOpenOrders(ctx context.Context, ticker string) ([]models.Order, error)
	PlaceMarketOrder(ctx context.Context, ticker string, qty decimal.Decimal, side models.Side) (*models.OrderResult, error)
	PlaceBracketOrder(ctx context.Context, ticker string, qty decimal.Decimal, spec models.BracketSpec) (*models.OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) (*models.OrderResult, error)
}

// PriceFeed supplies quotes from the market data vendor.
type PriceFeed interface {
	CurrentPrice(ctx context.Context, ticker string) (decimal.Decimal, error)
	PriorClose(ctx context.Context, ticker string) (decimal.Decimal, error)
}
