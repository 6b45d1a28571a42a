package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"bracket_trader/internal/auth"
	"bracket_trader/internal/market"
	"bracket_trader/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger is the durable, append-only store of settled transactions.
// Append must be idempotent per transaction id and returns how many were new.
type Ledger interface {
	Append(ctx context.Context, day models.SessionDay, txns []models.Transaction) (int, error)
}

// Notifier delivers operator-visible alerts.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Params are the per-account trading settings.
type Params struct {
	Ticker           string
	TakeProfitPct    decimal.Decimal
	LossPct          decimal.Decimal
	StopLimitOffset  decimal.Decimal
	FillWaitAttempts int
	FillWaitInterval time.Duration
}

// Deps are the external collaborators.
type Deps struct {
	Broker   market.Broker
	Prices   market.PriceFeed
	Tokens   auth.Provider
	Ledger   Ledger
	Notifier Notifier // optional
}

// Orchestrator runs the two daily procedures. It holds no state between runs;
// the broker is the source of truth.
type Orchestrator struct {
	params   Params
	broker   market.Broker
	prices   market.PriceFeed
	tokens   auth.Provider
	ledger   Ledger
	notifier Notifier

	sleep    func(ctx context.Context, d time.Duration) error
	newRunID func() string
}

func New(params Params, deps Deps) *Orchestrator {
	return &Orchestrator{
		params:   params,
		broker:   deps.Broker,
		prices:   deps.Prices,
		tokens:   deps.Tokens,
		ledger:   deps.Ledger,
		notifier: deps.Notifier,
		sleep:    sleepCtx,
		newRunID: uuid.NewString,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// checkAuth runs the TokenProvider capability; everything else is refused without it.
func (o *Orchestrator) checkAuth(ctx context.Context) error {
	if o.tokens == nil {
		return nil
	}
	_, err := o.tokens.AccessToken(ctx)
	return err
}

// awaitFill polls the broker until the order is filled, dies, or attempts run out.
// A poll error is logged and counted as an attempt.
func (o *Orchestrator) awaitFill(ctx context.Context, log *slog.Logger, res *models.OrderResult) *models.OrderResult {
	last := res
	for i := 0; i < o.params.FillWaitAttempts; i++ {
		if last.Filled() || last.Terminated() {
			return last
		}
		if err := o.sleep(ctx, o.params.FillWaitInterval); err != nil {
			return last
		}
		got, err := o.broker.GetOrder(ctx, res.ID)
		if err != nil {
			log.Warn("order status poll failed", "order_id", res.ID, "attempt", i+1, "err", err)
			continue
		}
		last = got
	}
	return last
}

type severity string

const (
	sevWarning  severity = "⚠️ *WARNING*"
	sevCritical severity = "🚨 *CRITICAL*"
)

// alert logs and forwards a message to the operator channel. Delivery problems are
// logged and never change the outcome of a run.
func (o *Orchestrator) alert(ctx context.Context, log *slog.Logger, sev severity, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if sev == sevCritical {
		log.Error("ALERT: "+msg, "severity", "critical")
	} else {
		log.Warn("ALERT: "+msg, "severity", "warning")
	}
	if o.notifier == nil {
		return
	}
	text := fmt.Sprintf("%s\n%s", sev, msg)
	if err := o.notifier.Notify(context.WithoutCancel(ctx), text); err != nil {
		log.Error("alert delivery failed", "err", err)
	}
}
