package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"bracket_trader/internal/auth"
	"bracket_trader/internal/models"

	"github.com/shopspring/decimal"
)

// CloseAttempt is one force-close market order.
type CloseAttempt struct {
	Ticker   string
	Side     models.Side
	Quantity decimal.Decimal
	OrderID  string
	Err      error
}

// ReconcileReport describes the afternoon procedure.
type ReconcileReport struct {
	RunID          string
	Day            models.SessionDay
	State          ReconcileState
	Decision       Decision
	InitialCount   int
	Transactions   []models.Transaction
	Closes         []CloseAttempt
	ForceCloseErr  error // the account could not be read, so nothing was closed
	LedgerInserted int
	Err            error
}

// Incomplete reports whether some open position may still be left after the run.
func (r *ReconcileReport) Incomplete() bool {
	if r.ForceCloseErr != nil {
		return true
	}
	for _, c := range r.Closes {
		if c.Err != nil {
			return true
		}
	}
	return false
}

// FailedTickers lists the tickers whose close order failed.
func (r *ReconcileReport) FailedTickers() []string {
	var out []string
	for _, c := range r.Closes {
		if c.Err != nil {
			out = append(out, c.Ticker)
		}
	}
	return out
}

// ClosedTickers lists the tickers whose close order was accepted.
func (r *ReconcileReport) ClosedTickers() []string {
	var out []string
	for _, c := range r.Closes {
		if c.Err == nil {
			out = append(out, c.Ticker)
		}
	}
	return out
}

// Reconcile checks that the day's bracket closed the position, force-closes whatever
// is still open otherwise, and appends the day's transactions to the ledger.
//
// Only a failed transaction fetch (or auth) and a failed ledger write fail the run.
// Force-close problems are alerted and reported through Incomplete.
func (o *Orchestrator) Reconcile(ctx context.Context, day models.SessionDay, log *slog.Logger) (*ReconcileReport, error) {
	rep := &ReconcileReport{
		RunID: o.newRunID(),
		Day:   day,
		State: ReconcileStart,
	}
	log = log.With("procedure", "reconcile", "run_id", rep.RunID, "session", day.Date)
	log.Info("reconciliation run started", "window", day.String())

	fail := func(kind Kind, err error) (*ReconcileReport, error) {
		stepErr := &StepError{Kind: kind, State: string(rep.State), Err: err}
		rep.State = ReconcileFailed
		rep.Err = stepErr
		log.Error("reconciliation run failed", "kind", string(kind), "err", err)
		o.alert(ctx, log, sevWarning, "Reconciliation for %s failed (%s); the scheduler must re-run it.\n`%v`", day.Date, kind, err)
		return rep, stepErr
	}

	// START -> TRANSACTIONS_FETCHED
	if err := o.checkAuth(ctx); err != nil {
		return fail(ErrAuth, err)
	}
	txns, err := o.broker.GetTransactions(ctx, day)
	if err != nil {
		if errors.Is(err, auth.ErrAuth) {
			return fail(ErrAuth, err)
		}
		return fail(ErrTransactionFetch, err)
	}
	txns = models.TradesOnly(txns)
	rep.InitialCount = len(txns)
	rep.Transactions = txns
	rep.State = TransactionsFetched
	log.Info("transactions fetched", "count", len(txns))

	rep.Decision = Decide(len(txns))
	switch rep.Decision {
	case DecisionReconciled:
		rep.State = Reconciled
		log.Info("bracket closed the position as designed")

	case DecisionForceClose, DecisionAnomaly:
		if rep.Decision == DecisionAnomaly {
			o.alert(ctx, log, sevWarning, "Unexpected transaction count for %s: %d (expected 2). Investigate; open positions will be closed.", day.Date, len(txns))
		} else {
			log.Warn("only the entry filled; position left open, force-closing")
		}

		// Force-close runs to completion regardless of cancellation.
		closeCtx := context.WithoutCancel(ctx)
		attempted := o.forceClose(closeCtx, log, rep)
		if attempted {
			rep.State = ForceClosed
			refetched, err := o.broker.GetTransactions(closeCtx, day)
			if err != nil {
				log.Warn("re-fetch after force-close failed, persisting the first list", "err", err)
			} else {
				rep.Transactions = models.TradesOnly(refetched)
				log.Info("transactions re-fetched", "count", len(rep.Transactions))
			}
		} else if rep.ForceCloseErr != nil {
			// Nothing was closed, but nothing was reconciled either.
			rep.State = ForceClosed
		} else {
			rep.State = Reconciled
		}
	}

	// -> PERSISTED
	inserted, err := o.ledger.Append(ctx, day, rep.Transactions)
	if err != nil {
		return fail(ErrLedgerWrite, err)
	}
	rep.LedgerInserted = inserted
	rep.State = Persisted
	log.Info("ledger updated", "transactions", len(rep.Transactions), "new", inserted)

	// -> DONE
	rep.State = ReconcileDone
	if rep.Incomplete() {
		log.Error("reconciliation finished with positions possibly still open", "failed", strings.Join(rep.FailedTickers(), ","))
	} else {
		log.Info("reconciliation run complete")
	}
	return rep, nil
}

// forceClose sends a market order flattening every open position. Each ticker is
// handled independently; a failure on one never stops the others. It returns false
// when nothing was open (or the account could not be read).
func (o *Orchestrator) forceClose(ctx context.Context, log *slog.Logger, rep *ReconcileReport) bool {
	snap, err := o.broker.GetAccountSnapshot(ctx)
	if err != nil {
		rep.ForceCloseErr = err
		o.alert(ctx, log, sevCritical, "Force-close impossible for %s: account snapshot failed. Positions may be open overnight.\n`%v`", rep.Day.Date, err)
		return false
	}

	open := snap.OpenPositions()
	if len(open) == 0 {
		log.Info("no open positions to close")
		return false
	}

	for _, pos := range open {
		attempt := CloseAttempt{Ticker: pos.Ticker, Side: pos.CloseSide(), Quantity: pos.Quantity}
		plog := log.With("close_ticker", pos.Ticker, "qty", pos.Quantity.String(), "side", string(attempt.Side))

		// Resting bracket legs hold the shares; clear them or the close is refused.
		o.cancelOpenOrders(ctx, plog, pos.Ticker)

		res, err := o.broker.PlaceMarketOrder(ctx, pos.Ticker, pos.Quantity, attempt.Side)
		if err != nil {
			attempt.Err = err
			o.alert(ctx, plog, sevCritical, "Force-close of %s %s %s FAILED. Position may stay open overnight.\n`%v`",
				attempt.Side, pos.Quantity, pos.Ticker, err)
			rep.Closes = append(rep.Closes, attempt)
			continue
		}
		attempt.OrderID = res.ID
		rep.Closes = append(rep.Closes, attempt)
		plog.Info("force-close order submitted", "order_id", res.ID)

		if got := o.awaitFill(ctx, plog, res); got.Terminated() {
			o.alert(ctx, plog, sevCritical, "Force-close order %s for %s ended %s.", res.ID, pos.Ticker, got.BrokerStatus)
			rep.Closes[len(rep.Closes)-1].Err = fmt.Errorf("close order %s ended with status %s", res.ID, got.BrokerStatus)
		}
	}
	return true
}

// cancelOpenOrders cancels every open order for ticker and waits until the broker
// stops listing them, so the shares they hold are free for the close order.
func (o *Orchestrator) cancelOpenOrders(ctx context.Context, log *slog.Logger, ticker string) {
	orders, err := o.broker.ListOpenOrders(ctx, ticker)
	if err != nil {
		log.Warn("listing open orders failed, closing anyway", "err", err)
		return
	}
	if len(orders) == 0 {
		return
	}
	for _, ord := range orders {
		if _, err := o.broker.CancelOrder(ctx, ord.ID); err != nil {
			log.Warn("cancel failed", "order_id", ord.ID, "err", err)
			continue
		}
		log.Info("cancelled open order", "order_id", ord.ID)
	}

	for i := 0; i < o.params.FillWaitAttempts; i++ {
		left, err := o.broker.ListOpenOrders(ctx, ticker)
		if err == nil && len(left) == 0 {
			return
		}
		if err := o.sleep(ctx, o.params.FillWaitInterval); err != nil {
			return
		}
	}
	log.Warn("open orders still listed after cancel, closing anyway")
}
