package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"bracket_trader/internal/auth"
	"bracket_trader/internal/models"

	"github.com/shopspring/decimal"
)

// EntryReport describes how far the morning procedure got.
type EntryReport struct {
	RunID        string
	Ticker       string
	State        EntryState
	Liquidity    decimal.Decimal
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	Bracket      *models.BracketSpec
	EntryOrder   *models.OrderResult
	BracketOrder *models.OrderResult
	Err          error
}

// Entry buys the configured ticker with all available liquidity and protects the
// position with an OCO exit pair.
//
// The returned report is never nil. On failure the error is a *StepError and the
// report's State is FAILED. Once the market order has been submitted the procedure
// ignores cancellation of ctx and runs to its terminal state.
func (o *Orchestrator) Entry(ctx context.Context, log *slog.Logger) (*EntryReport, error) {
	rep := &EntryReport{
		RunID:  o.newRunID(),
		Ticker: o.params.Ticker,
		State:  EntryStart,
	}
	log = log.With("procedure", "entry", "run_id", rep.RunID, "ticker", rep.Ticker)
	log.Info("entry run started")

	fail := func(kind Kind, err error) (*EntryReport, error) {
		stepErr := &StepError{Kind: kind, State: string(rep.State), Err: err}
		rep.State = EntryFailed
		rep.Err = stepErr
		log.Error("entry run failed", "kind", string(kind), "err", err)
		return rep, stepErr
	}

	// START -> FUNDS_CHECKED
	if err := o.checkAuth(ctx); err != nil {
		o.alert(ctx, log, sevWarning, "Entry aborted for %s: credentials unavailable. No orders placed.\n`%v`", rep.Ticker, err)
		return fail(ErrAuth, err)
	}
	snap, err := o.broker.GetAccountSnapshot(ctx)
	if err != nil {
		if errors.Is(err, auth.ErrAuth) {
			o.alert(ctx, log, sevWarning, "Entry aborted for %s: broker refused credentials. No orders placed.\n`%v`", rep.Ticker, err)
			return fail(ErrAuth, err)
		}
		return fail(ErrBrokerUnavailable, err)
	}
	rep.Liquidity = snap.Liquidity
	rep.State = EntryFundsChecked
	log.Info("funds checked", "liquidity", snap.Liquidity.StringFixed(2))

	// FUNDS_CHECKED -> ENTRY_SUBMITTED
	price, err := o.prices.CurrentPrice(ctx, rep.Ticker)
	if err != nil {
		return fail(ErrPriceUnavailable, err)
	}
	if !price.IsPositive() {
		return fail(ErrPriceUnavailable, fmt.Errorf("non-positive price %s", price))
	}
	rep.Price = price
	o.logGap(ctx, log, price)

	qty := models.FloorToTradable(snap.Liquidity, price)
	rep.Quantity = qty
	if !qty.IsPositive() {
		return fail(ErrInsufficientFunds, fmt.Errorf("liquidity %s buys no whole share at %s", snap.Liquidity.StringFixed(2), price))
	}

	// The exit prices come from the same price read; validate them before any money moves.
	spec, err := models.NewBracketSpec(models.Buy, price, o.params.TakeProfitPct, o.params.LossPct, o.params.StopLimitOffset)
	if err != nil {
		return fail(ErrInvalidBracket, err)
	}
	rep.Bracket = &spec

	// Past this point there is no cancellation path.
	ctx = context.WithoutCancel(ctx)

	log.Info("submitting entry", "qty", qty.String(), "price", price.String())
	entry, err := o.broker.PlaceMarketOrder(ctx, rep.Ticker, qty, models.Buy)
	if err != nil {
		o.alert(ctx, log, sevWarning, "Entry order for %s %s rejected; no bracket placed.\n`%v`", qty, rep.Ticker, err)
		return fail(ErrEntryOrderRejected, err)
	}
	rep.EntryOrder = entry
	rep.State = EntrySubmitted
	log.Info("entry order acknowledged", "order_id", entry.ID, "broker_status", entry.BrokerStatus)

	// A bracket on an entry that never filled would be a naked short; one on a
	// partly filled entry must cover only the shares actually held.
	confirmed := o.awaitFill(ctx, log, entry)
	switch {
	case confirmed.Terminated() && !confirmed.FilledQty.IsPositive():
		rep.EntryOrder = confirmed
		o.alert(ctx, log, sevWarning, "Entry order %s for %s ended %s without filling; no bracket placed.", confirmed.ID, rep.Ticker, confirmed.BrokerStatus)
		return fail(ErrEntryOrderRejected, fmt.Errorf("entry order %s ended with status %s", confirmed.ID, confirmed.BrokerStatus))
	case confirmed.Terminated():
		rep.EntryOrder = confirmed
		qty = confirmed.FilledQty
		rep.Quantity = qty
		o.alert(ctx, log, sevWarning, "Entry order %s for %s ended %s after filling %s; bracketing the filled shares only.",
			confirmed.ID, rep.Ticker, confirmed.BrokerStatus, qty)
	case !confirmed.Filled():
		log.Warn("entry fill not confirmed, submitting bracket anyway", "order_id", entry.ID, "broker_status", confirmed.BrokerStatus)
	default:
		rep.EntryOrder = confirmed
	}

	// ENTRY_SUBMITTED -> BRACKET_SUBMITTED
	log.Info("submitting bracket",
		"take_profit", spec.TakeProfit.String(),
		"stop_trigger", spec.StopTrigger.String(),
		"stop_limit", spec.StopLimit.String())
	bracket, err := o.broker.PlaceBracketOrder(ctx, rep.Ticker, qty, spec)
	if err != nil {
		o.alert(ctx, log, sevCritical,
			"UNHEDGED POSITION: bought %s %s @ ~$%s but the OCO exit was rejected.\nClose manually or let Reconciliation force-close today.\n`%v`",
			qty, rep.Ticker, price.StringFixed(2), err)
		return fail(ErrBracketOrderRejected, err)
	}
	rep.BracketOrder = bracket
	rep.State = EntryBracketSubmitted
	log.Info("bracket acknowledged", "order_id", bracket.ID, "broker_status", bracket.BrokerStatus)

	// BRACKET_SUBMITTED -> DONE
	rep.State = EntryDone
	log.Info("entry run complete")
	return rep, nil
}

// logGap records the overnight move for context. It never affects the run.
func (o *Orchestrator) logGap(ctx context.Context, log *slog.Logger, price decimal.Decimal) {
	prior, err := o.prices.PriorClose(ctx, o.params.Ticker)
	if err != nil || !prior.IsPositive() {
		log.Debug("prior close unavailable", "err", err)
		return
	}
	gap := price.Sub(prior).Div(prior).Mul(decimal.NewFromInt(100)).Round(2)
	log.Info("price read", "price", price.String(), "prior_close", prior.String(), "gap_pct", gap.String())
}
