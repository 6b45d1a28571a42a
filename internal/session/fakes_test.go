package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"bracket_trader/internal/auth"
	"bracket_trader/internal/models"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type placedOrder struct {
	Kind    models.OrderKind
	Ticker  string
	Qty     decimal.Decimal
	Side    models.Side
	Bracket *models.BracketSpec
}

// fakeBroker records every call and replays canned answers.
type fakeBroker struct {
	mu sync.Mutex

	snapshot    *models.AccountSnapshot
	snapshotErr error

	txns     [][]models.Transaction // one slice per GetTransactions call; the last repeats
	txnErrs  []error
	txnCalls int

	marketErr   map[string]error // by ticker
	marketState string           // broker status on acknowledgement, default "filled"
	bracketErr  error
	orderStatus []string // GetOrder answers in sequence
	orderFilled decimal.Decimal
	openOrders  map[string][]models.Order
	cancelled   []string

	placed []placedOrder
	nextID int
}

func (b *fakeBroker) GetAccountSnapshot(ctx context.Context) (*models.AccountSnapshot, error) {
	if b.snapshotErr != nil {
		return nil, b.snapshotErr
	}
	if b.snapshot == nil {
		return &models.AccountSnapshot{Positions: map[string]models.Position{}}, nil
	}
	return b.snapshot, nil
}

func (b *fakeBroker) GetTransactions(ctx context.Context, day models.SessionDay) ([]models.Transaction, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.txnCalls
	b.txnCalls++
	if i < len(b.txnErrs) && b.txnErrs[i] != nil {
		return nil, b.txnErrs[i]
	}
	if len(b.txns) == 0 {
		return nil, nil
	}
	if i >= len(b.txns) {
		i = len(b.txns) - 1
	}
	return b.txns[i], nil
}

func (b *fakeBroker) GetOrder(ctx context.Context, orderID string) (*models.OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	status := "filled"
	if len(b.orderStatus) > 0 {
		status = b.orderStatus[0]
		b.orderStatus = b.orderStatus[1:]
	}
	return &models.OrderResult{ID: orderID, Status: models.Acked, BrokerStatus: status, FilledQty: b.orderFilled}, nil
}

func (b *fakeBroker) ListOpenOrders(ctx context.Context, ticker string) ([]models.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.Order(nil), b.openOrders[ticker]...), nil
}

func (b *fakeBroker) PlaceMarketOrder(ctx context.Context, ticker string, qty decimal.Decimal, side models.Side) (*models.OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.marketErr[ticker]; err != nil {
		return nil, err
	}
	b.placed = append(b.placed, placedOrder{Kind: models.Market, Ticker: ticker, Qty: qty, Side: side})
	status := b.marketState
	if status == "" {
		status = "filled"
	}
	return &models.OrderResult{ID: b.id(), Status: models.Acked, BrokerStatus: status, FilledQty: qty}, nil
}

func (b *fakeBroker) PlaceBracketOrder(ctx context.Context, ticker string, qty decimal.Decimal, spec models.BracketSpec) (*models.OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bracketErr != nil {
		return nil, b.bracketErr
	}
	b.placed = append(b.placed, placedOrder{Kind: models.BracketLeg, Ticker: ticker, Qty: qty, Side: spec.ExitSide(), Bracket: &spec})
	return &models.OrderResult{ID: b.id(), Status: models.Acked, BrokerStatus: "new"}, nil
}

func (b *fakeBroker) CancelOrder(ctx context.Context, orderID string) (*models.OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled = append(b.cancelled, orderID)
	for ticker, orders := range b.openOrders {
		kept := orders[:0]
		for _, o := range orders {
			if o.ID != orderID {
				kept = append(kept, o)
			}
		}
		b.openOrders[ticker] = kept
	}
	return &models.OrderResult{ID: orderID, Status: models.Acked, BrokerStatus: "canceled"}, nil
}

func (b *fakeBroker) id() string {
	b.nextID++
	return fmt.Sprintf("ord-%d", b.nextID)
}

type fakePrices struct {
	price decimal.Decimal
	err   error
}

func (p fakePrices) CurrentPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	return p.price, p.err
}

func (p fakePrices) PriorClose(ctx context.Context, ticker string) (decimal.Decimal, error) {
	return p.price, p.err
}

type fakeTokens struct{ err error }

func (f fakeTokens) AccessToken(ctx context.Context) (auth.Token, error) {
	if f.err != nil {
		return auth.Token{}, f.err
	}
	return auth.Token{AccessToken: "tok"}, nil
}

type fakeLedger struct {
	err      error
	onAppend func()
	appended [][]models.Transaction
	seen     map[string]bool
}

func (l *fakeLedger) Append(ctx context.Context, day models.SessionDay, txns []models.Transaction) (int, error) {
	if l.onAppend != nil {
		l.onAppend()
	}
	if l.err != nil {
		return 0, l.err
	}
	if l.seen == nil {
		l.seen = map[string]bool{}
	}
	l.appended = append(l.appended, txns)
	n := 0
	for _, t := range txns {
		if !l.seen[t.ID] {
			l.seen[t.ID] = true
			n++
		}
	}
	return n, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (n *fakeNotifier) Notify(ctx context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, text)
	return n.err
}

type harness struct {
	broker   *fakeBroker
	prices   fakePrices
	tokens   fakeTokens
	ledger   *fakeLedger
	notifier *fakeNotifier
	params   Params
}

func newHarness() *harness {
	return &harness{
		broker:   &fakeBroker{},
		prices:   fakePrices{price: d("100.00")},
		ledger:   &fakeLedger{},
		notifier: &fakeNotifier{},
		params: Params{
			Ticker:           "TQQQ",
			TakeProfitPct:    d("2.5"),
			LossPct:          d("1.0"),
			StopLimitOffset:  d("0.01"),
			FillWaitAttempts: 3,
			FillWaitInterval: time.Millisecond,
		},
	}
}

func (h *harness) orchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	o := New(h.params, Deps{
		Broker:   h.broker,
		Prices:   h.prices,
		Tokens:   h.tokens,
		Ledger:   h.ledger,
		Notifier: h.notifier,
	})
	o.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	o.newRunID = func() string { return "run-1" }
	return o
}

func testDay(t *testing.T) models.SessionDay {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	day, err := models.NewSessionDay(time.Date(2025, 3, 14, 15, 0, 0, 0, loc), loc, "09:30", "16:00", time.Minute)
	if err != nil {
		t.Fatalf("session day: %v", err)
	}
	return day
}

func trade(id, ticker, qty string, side models.Side, price string) models.Transaction {
	return models.Transaction{
		ID:        id,
		Ticker:    ticker,
		Quantity:  d(qty),
		Side:      side,
		Price:     d(price),
		Timestamp: time.Date(2025, 3, 14, 14, 0, 0, 0, time.UTC),
		Type:      models.Trade,
	}
}

var errBoom = errors.New("boom")
