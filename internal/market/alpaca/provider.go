package alpaca

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"bracket_trader/internal/auth"
	"bracket_trader/internal/market"
	"bracket_trader/internal/models"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const activityPageSize = 100

// Provider implements market.Broker and market.PriceFeed on top of the Alpaca SDK.
type Provider struct {
	tokens  auth.Provider
	baseURL string

	mu          sync.Mutex
	fingerprint string
	mdClient    *marketdata.Client
	tradeClient *alpaca.Client
}

// Ensure Provider implements the interfaces
var (
	_ market.Broker    = (*Provider)(nil)
	_ market.PriceFeed = (*Provider)(nil)
)

// NewProvider returns a new Alpaca provider. SDK clients are built lazily from the
// token provider and rebuilt whenever the credential changes.
func NewProvider(tokens auth.Provider) *Provider {
	return &Provider{
		tokens:  tokens,
		baseURL: os.Getenv("APCA_API_BASE_URL"),
	}
}

func (p *Provider) clients(ctx context.Context) (*alpaca.Client, *marketdata.Client, error) {
	tok, err := p.tokens.AccessToken(ctx)
	if err != nil {
		return nil, nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if fp := tok.Fingerprint(); fp != p.fingerprint || p.tradeClient == nil {
		p.tradeClient = alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    tok.APIKey,
			APISecret: tok.APISecret,
			OAuth:     tok.AccessToken,
			BaseURL:   p.baseURL,
		})
		p.mdClient = marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    tok.APIKey,
			APISecret: tok.APISecret,
			OAuth:     tok.AccessToken,
		})
		p.fingerprint = fp
	}
	return p.tradeClient, p.mdClient, nil
}

// --- Account ---

func (p *Provider) GetAccountSnapshot(ctx context.Context) (*models.AccountSnapshot, error) {
	tc, _, err := p.clients(ctx)
	if err != nil {
		return nil, err
	}

	acct, err := tc.GetAccount()
	if err != nil {
		return nil, classify(err, false)
	}
	positions, err := tc.GetPositions()
	if err != nil {
		return nil, classify(err, false)
	}

	// Liquidity is settled cash, capped by what the broker will actually let us spend.
	liquidity := acct.Cash
	if acct.BuyingPower.LessThan(liquidity) {
		liquidity = acct.BuyingPower
	}

	snap := &models.AccountSnapshot{
		Liquidity: liquidity,
		Positions: make(map[string]models.Position, len(positions)),
	}
	for _, x := range positions {
		snap.Positions[x.Symbol] = mapPosition(x)
	}
	return snap, nil
}

// GetTransactions returns today's fills, one Transaction per broker order.
func (p *Provider) GetTransactions(ctx context.Context, day models.SessionDay) ([]models.Transaction, error) {
	tc, _, err := p.clients(ctx)
	if err != nil {
		return nil, err
	}

	var all []alpaca.AccountActivity
	pageToken := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := tc.GetAccountActivities(alpaca.GetAccountActivitiesRequest{
			ActivityTypes: []string{"FILL"},
			After:         day.WindowStart(),
			Until:         day.Close,
			Direction:     "asc",
			PageSize:      activityPageSize,
			PageToken:     pageToken,
		})
		if err != nil {
			return nil, classify(err, false)
		}
		all = append(all, page...)
		if len(page) < activityPageSize {
			break
		}
		pageToken = page[len(page)-1].ID
	}

	return aggregateFills(all, day)
}

// --- Orders ---

func (p *Provider) GetOrder(ctx context.Context, orderID string) (*models.OrderResult, error) {
	tc, _, err := p.clients(ctx)
	if err != nil {
		return nil, err
	}
	o, err := tc.GetOrder(orderID)
	if err != nil {
		return nil, classify(err, false)
	}
	return mapResult(o), nil
}

func (p *Provider) ListOpenOrders(ctx context.Context, ticker string) ([]models.Order, error) {
	tc, _, err := p.clients(ctx)
	if err != nil {
		return nil, err
	}
	orders, err := tc.GetOrders(alpaca.GetOrdersRequest{
		Status:  "open",
		Limit:   100,
		Symbols: []string{ticker},
	})
	if err != nil {
		return nil, classify(err, false)
	}

	var result []models.Order
	for i := range orders {
		o := orders[i]
		// Symbols is a server-side filter; double check in case the broker ignores it.
		if !strings.EqualFold(o.Symbol, ticker) {
			continue
		}
		result = append(result, mapOrder(&o))
	}
	return result, nil
}

func (p *Provider) PlaceMarketOrder(ctx context.Context, ticker string, qty decimal.Decimal, side models.Side) (*models.OrderResult, error) {
	order := models.Order{Kind: models.Market, Side: side, Ticker: ticker, Quantity: qty}
	if err := order.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", market.ErrOrderRejected, err)
	}

	tc, _, err := p.clients(ctx)
	if err != nil {
		return nil, err
	}

	o, err := tc.PlaceOrder(marketOrderRequest(order))
	if err != nil {
		return nil, classify(err, true)
	}
	return mapResult(o), nil
}

func (p *Provider) PlaceBracketOrder(ctx context.Context, ticker string, qty decimal.Decimal, spec models.BracketSpec) (*models.OrderResult, error) {
	req, err := bracketOrderRequest(ticker, qty, spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", market.ErrOrderRejected, err)
	}

	tc, _, err := p.clients(ctx)
	if err != nil {
		return nil, err
	}

	o, err := tc.PlaceOrder(req)
	if err != nil {
		return nil, classify(err, true)
	}
	return mapResult(o), nil
}

func (p *Provider) CancelOrder(ctx context.Context, orderID string) (*models.OrderResult, error) {
	tc, _, err := p.clients(ctx)
	if err != nil {
		return nil, err
	}
	if err := tc.CancelOrder(orderID); err != nil {
		return nil, classify(err, true)
	}
	return &models.OrderResult{ID: orderID, Status: models.Acked, BrokerStatus: "pending_cancel"}, nil
}

// --- Market Data ---

func (p *Provider) CurrentPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	_, md, err := p.clients(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	trade, err := md.GetLatestTrade(ticker, marketdata.GetLatestTradeRequest{})
	if err != nil {
		return decimal.Zero, classify(err, false)
	}
	if trade == nil || trade.Price <= 0 {
		return decimal.Zero, fmt.Errorf("no trade found for %s", ticker)
	}
	return decimal.NewFromFloat(trade.Price), nil
}

// PriorClose returns the close of the last completed daily bar before today.
func (p *Provider) PriorClose(ctx context.Context, ticker string) (decimal.Decimal, error) {
	_, md, err := p.clients(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	bars, err := md.GetBars(ticker, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     today.AddDate(0, 0, -10), // covers long weekends and holidays
		End:       today,
	})
	if err != nil {
		return decimal.Zero, classify(err, false)
	}
	for i := len(bars) - 1; i >= 0; i-- {
		if bars[i].Timestamp.Before(today) && bars[i].Close > 0 {
			return decimal.NewFromFloat(bars[i].Close), nil
		}
	}
	return decimal.Zero, fmt.Errorf("no prior close found for %s", ticker)
}

// --- Helpers ---

func newClientOrderID(kind string) string {
	return "bt-" + kind + "-" + uuid.NewString()
}

func marketOrderRequest(o models.Order) alpaca.PlaceOrderRequest {
	qty := o.Quantity
	return alpaca.PlaceOrderRequest{
		Symbol:        o.Ticker,
		Qty:           &qty,
		Side:          toAlpacaSide(o.Side),
		Type:          alpaca.Market,
		TimeInForce:   alpaca.Day,
		ClientOrderID: newClientOrderID("mkt"),
	}
}

// bracketOrderRequest builds the exit pair as an OCO order: a limit take-profit leg
// and a stop-limit stop-loss leg, both for the full entry quantity.
func bracketOrderRequest(ticker string, qty decimal.Decimal, spec models.BracketSpec) (alpaca.PlaceOrderRequest, error) {
	leg := models.Order{Kind: models.BracketLeg, Side: spec.ExitSide(), Ticker: ticker, Quantity: qty}
	if err := leg.Validate(); err != nil {
		return alpaca.PlaceOrderRequest{}, err
	}
	if err := spec.Validate(); err != nil {
		return alpaca.PlaceOrderRequest{}, err
	}

	tp := spec.TakeProfit
	stop := spec.StopTrigger
	stopLimit := spec.StopLimit
	return alpaca.PlaceOrderRequest{
		Symbol:        ticker,
		Qty:           &qty,
		Side:          toAlpacaSide(spec.ExitSide()),
		Type:          alpaca.Limit,
		TimeInForce:   alpaca.Day,
		OrderClass:    alpaca.OCO,
		ClientOrderID: newClientOrderID("oco"),
		TakeProfit: &alpaca.TakeProfit{
			LimitPrice: &tp,
		},
		StopLoss: &alpaca.StopLoss{
			StopPrice:  &stop,
			LimitPrice: &stopLimit,
		},
	}, nil
}

func toAlpacaSide(s models.Side) alpaca.Side {
	if s == models.Sell {
		return alpaca.Sell
	}
	return alpaca.Buy
}

// classify maps SDK errors onto the gateway's sentinels.
func classify(err error, orderCall bool) error {
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized:
			return fmt.Errorf("%w: %v", auth.ErrAuth, err)
		case orderCall && (apiErr.StatusCode == http.StatusBadRequest ||
			apiErr.StatusCode == http.StatusForbidden ||
			apiErr.StatusCode == http.StatusUnprocessableEntity):
			return fmt.Errorf("%w: %v", market.ErrOrderRejected, err)
		}
	}
	return err
}

func mapPosition(x alpaca.Position) models.Position {
	side := models.Long
	if strings.EqualFold(x.Side, "short") || x.Qty.IsNegative() {
		side = models.Short
	}
	marketValue := decimal.Zero
	if x.MarketValue != nil {
		marketValue = *x.MarketValue
	}
	return models.Position{
		Ticker:      x.Symbol,
		Quantity:    x.Qty.Abs(),
		Side:        side,
		MarketValue: marketValue,
	}
}

func mapResult(o *alpaca.Order) *models.OrderResult {
	if o == nil {
		return &models.OrderResult{Status: models.Failed}
	}
	return &models.OrderResult{
		ID:           o.ID,
		Status:       models.Acked,
		BrokerStatus: o.Status,
		FilledQty:    o.FilledQty,
	}
}

func mapOrder(o *alpaca.Order) models.Order {
	res := models.Order{
		ID:        o.ID,
		Kind:      models.Market,
		Ticker:    o.Symbol,
		Status:    models.Acked,
		CreatedAt: o.CreatedAt,
	}
	if o.Qty != nil {
		res.Quantity = *o.Qty
	}
	if side, err := models.ParseSide(string(o.Side)); err == nil {
		res.Side = side
	}
	if o.OrderClass == alpaca.OCO || o.OrderClass == alpaca.Bracket || o.OrderClass == alpaca.OTO {
		res.Kind = models.BracketLeg
	}
	res.LimitPrice = o.LimitPrice
	res.StopTrigger = o.StopPrice
	return res
}

// aggregateFills folds partial fills of the same order into one TRADE transaction:
// quantities are summed, the price is volume weighted and the timestamp is the last
// fill. Fills outside the session window are dropped.
func aggregateFills(activities []alpaca.AccountActivity, day models.SessionDay) ([]models.Transaction, error) {
	type agg struct {
		txn      models.Transaction
		notional decimal.Decimal
	}
	byOrder := make(map[string]*agg)
	var order []string

	for _, a := range activities {
		if !day.Contains(a.TransactionTime) {
			continue
		}
		side, err := models.ParseSide(a.Side)
		if err != nil {
			return nil, fmt.Errorf("activity %s: %w", a.ID, err)
		}
		key := a.OrderID
		if key == "" {
			key = a.ID
		}

		cur, ok := byOrder[key]
		if !ok {
			cur = &agg{txn: models.Transaction{
				ID:     key,
				Ticker: a.Symbol,
				Side:   side,
				Type:   models.Trade,
			}}
			byOrder[key] = cur
			order = append(order, key)
		}
		cur.txn.Quantity = cur.txn.Quantity.Add(a.Qty)
		cur.notional = cur.notional.Add(a.Qty.Mul(a.Price))
		if a.TransactionTime.After(cur.txn.Timestamp) {
			cur.txn.Timestamp = a.TransactionTime
		}
	}

	result := make([]models.Transaction, 0, len(order))
	for _, key := range order {
		a := byOrder[key]
		if a.txn.Quantity.IsPositive() {
			a.txn.Price = a.notional.Div(a.txn.Quantity).Round(4)
		}
		result = append(result, a.txn)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}
