package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"bracket_trader/internal/auth"
	"bracket_trader/internal/config"
	"bracket_trader/internal/ledger"
	"bracket_trader/internal/logger"
	"bracket_trader/internal/market/alpaca"
	"bracket_trader/internal/models"
	"bracket_trader/internal/session"
	"bracket_trader/internal/storage"
	"bracket_trader/internal/telegram"
)

const VersionFile = "version.latest"

const (
	exitOK         = 0
	exitFailed     = 1
	exitIncomplete = 2
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitFailed)
	}

	cmd := os.Args[1]
	if cmd == "version" {
		fmt.Println(readVersion())
		os.Exit(exitOK)
	}

	load := config.Load
	if cmd == "ledger" || cmd == "summary" {
		// Reporting never trades, so it does not need TICKER.
		load = config.LoadReporting
	}
	cfg, err := load()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(exitFailed)
	}

	log, closer := logger.New(logger.Options{
		Filename:   cfg.LogFile,
		MaxSizeMB:  cfg.MaxLogSizeMB,
		MaxBackups: cfg.MaxLogBackups,
		Level:      cfg.LogLevel,
	})
	defer closer.Close()
	slog.SetDefault(log)
	config.DumpDotEnv(log)

	var code int
	switch cmd {
	case "entry":
		code = runEntry(cfg, log)
	case "reconcile":
		code = runReconcile(cfg, log)
	case "ledger":
		limit := 20
		if len(os.Args) > 2 {
			if n, err := strconv.Atoi(os.Args[2]); err == nil {
				limit = n
			}
		}
		code = runLedger(cfg, log, limit)
	case "summary":
		code = runSummary(cfg, log)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		usage()
		code = exitFailed
	}

	closer.Close()
	os.Exit(code)
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: bracket_trader <command>

Commands:
  entry         Buy TICKER with all liquidity and place the OCO exit pair
  reconcile     Verify the day's bracket, force-close leftovers, update the ledger
  ledger [N]    Show the last N ledger transactions (default 20)
  summary       Show per-session totals and the latest run journal
  version       Print the build version`)
}

// signalContext cancels on SIGINT/SIGTERM. Procedures decide for themselves which
// steps still honour cancellation.
func signalContext(log *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.Warn("received signal, cancelling", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

type app struct {
	orch    *session.Orchestrator
	journal *storage.Journal
	closers []io.Closer
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i].Close()
	}
}

// newApp wires the orchestrator. The ledger is only opened for reconcile.
func newApp(cfg *config.Config, log *slog.Logger, withLedger bool) (*app, error) {
	tokens := auth.NewCachingProvider(auth.EnvProvider{}.AccessToken, time.Minute)
	broker := alpaca.NewProvider(tokens)
	notifier := telegram.NewClient(cfg.TelegramBotToken, cfg.TelegramChatID, log)
	if !notifier.Enabled() {
		log.Warn("telegram credentials missing, alerts are logged only")
	}

	a := &app{journal: storage.NewJournal(cfg.JournalFile, log)}

	var rec session.Ledger
	if withLedger {
		store, err := openLedger(cfg.LedgerDB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store)

		var pub ledger.Publisher
		if cfg.KafkaBrokers != "" {
			// Connected at the ledger step, after any force-close. If Kafka is down
			// the ledger write fails and the scheduler re-runs once it is back.
			kp := ledger.NewKafkaPublisher(ledger.Dial(cfg.KafkaBrokers, 3, 2*time.Second), cfg.LedgerTopic)
			a.closers = append(a.closers, kp)
			pub = kp
		}
		rec = ledger.NewRecorder(store, pub)
	}

	a.orch = session.New(session.Params{
		Ticker:           cfg.Ticker,
		TakeProfitPct:    cfg.TakeProfitPct,
		LossPct:          cfg.LossPct,
		StopLimitOffset:  cfg.StopLimitOffset,
		FillWaitAttempts: cfg.FillWaitAttempts,
		FillWaitInterval: cfg.FillWaitInterval,
	}, session.Deps{
		Broker:   broker,
		Prices:   broker,
		Tokens:   tokens,
		Ledger:   rec,
		Notifier: notifier,
	})
	return a, nil
}

func openLedger(path string) (*ledger.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ledger dir: %w", err)
		}
	}
	return ledger.Open(path)
}

func runEntry(cfg *config.Config, log *slog.Logger) int {
	ctx, cancel := signalContext(log)
	defer cancel()

	a, err := newApp(cfg, log, false)
	if err != nil {
		log.Error("setup failed", "err", err)
		return exitFailed
	}
	defer a.Close()

	day, err := models.NewSessionDay(time.Now(), cfg.ExchangeTZ, cfg.MarketOpen, cfg.MarketClose, cfg.SessionGrace)
	if err != nil {
		log.Error("session day", "err", err)
		return exitFailed
	}
	if prev, ok := loadLastEntry(a.journal, day.Date, log); ok && prev.State == string(session.EntryDone) {
		log.Warn("an entry already completed for this session; running again places new orders",
			"previous_run", prev.RunID, "entry_order", prev.EntryOrderID)
	}

	rep, runErr := a.orch.Entry(ctx, log)
	if err := a.journal.RecordEntry(rep.Record(day.Date, time.Now())); err != nil {
		log.Error("journal write failed", "err", err)
	}
	if runErr != nil {
		return exitFailed
	}
	return exitOK
}

func loadLastEntry(j *storage.Journal, date string, log *slog.Logger) (models.EntryRecord, bool) {
	s, err := j.Load()
	if err != nil {
		log.Warn("journal unreadable", "err", err)
		return models.EntryRecord{}, false
	}
	return s.LastEntry(date)
}

func runReconcile(cfg *config.Config, log *slog.Logger) int {
	ctx, cancel := signalContext(log)
	defer cancel()

	a, err := newApp(cfg, log, true)
	if err != nil {
		log.Error("setup failed", "err", err)
		return exitFailed
	}
	defer a.Close()

	day, err := models.NewSessionDay(time.Now(), cfg.ExchangeTZ, cfg.MarketOpen, cfg.MarketClose, cfg.SessionGrace)
	if err != nil {
		log.Error("session day", "err", err)
		return exitFailed
	}

	rep, runErr := a.orch.Reconcile(ctx, day, log)
	if err := a.journal.RecordReconciliation(rep.Record(time.Now())); err != nil {
		log.Error("journal write failed", "err", err)
	}

	switch {
	case runErr != nil:
		return exitFailed
	case rep.Incomplete():
		// Something may still be open; the scheduler should run us again.
		return exitIncomplete
	}
	return exitOK
}

func runLedger(cfg *config.Config, log *slog.Logger, limit int) int {
	store, err := openLedger(cfg.LedgerDB)
	if err != nil {
		log.Error("opening db", "err", err)
		return exitFailed
	}
	defer store.Close()

	recs, err := store.Recent(context.Background(), limit)
	if err != nil {
		log.Error("query failed", "err", err)
		return exitFailed
	}
	if len(recs) == 0 {
		fmt.Println("No transactions. Run 'bracket_trader reconcile' first.")
		return exitOK
	}

	fmt.Printf("%-20s %-10s %-8s %-5s %10s %10s %12s\n", "Time", "Session", "Ticker", "Side", "Qty", "Price", "Notional")
	fmt.Println(strings.Repeat("-", 81))
	for _, r := range recs {
		fmt.Printf("%-20s %-10s %-8s %-5s %10s %10s %12s\n",
			r.Timestamp.UTC().Format("2006-01-02 15:04:05"),
			r.SessionDate,
			r.Ticker,
			r.Side,
			r.Quantity.String(),
			r.Price.StringFixed(2),
			r.Notional().StringFixed(2),
		)
	}
	return exitOK
}

func runSummary(cfg *config.Config, log *slog.Logger) int {
	store, err := openLedger(cfg.LedgerDB)
	if err != nil {
		log.Error("opening db", "err", err)
		return exitFailed
	}
	defer store.Close()

	rows, err := store.DailySummary(context.Background())
	if err != nil {
		log.Error("query failed", "err", err)
		return exitFailed
	}

	if len(rows) == 0 {
		fmt.Println("No ledger data.")
	} else {
		fmt.Printf("%-12s %6s %12s %12s %10s\n", "Session", "Trades", "Bought", "Sold", "P&L")
		fmt.Println(strings.Repeat("-", 56))
		for _, r := range rows {
			fmt.Printf("%-12s %6d %12s %12s %10s\n",
				r.SessionDate, r.Trades, r.BuyNotional.StringFixed(2), r.SellNotional.StringFixed(2), r.RealizedPnL.StringFixed(2))
		}
	}

	state, err := storage.NewJournal(cfg.JournalFile, log).Load()
	if err != nil {
		log.Error("journal unreadable", "err", err)
		return exitFailed
	}
	fmt.Println()
	if n := len(state.Entries); n > 0 {
		e := state.Entries[n-1]
		fmt.Printf("Last entry:     %s %s %s qty=%s price=%s %s\n", e.SessionDate, e.Ticker, e.State, e.Quantity, e.Price, e.ErrorKind)
	}
	if n := len(state.Reconciliations); n > 0 {
		r := state.Reconciliations[n-1]
		fmt.Printf("Last reconcile: %s %s %s txns=%d new=%d failed=%v %s\n", r.SessionDate, r.State, r.Decision, r.TransactionCount, r.LedgerInserted, r.FailedTickers, r.ErrorKind)
	}
	return exitOK
}

func readVersion() string {
	version, err := os.ReadFile(VersionFile)
	if err != nil {
		return "v0.0.0-dev"
	}
	return strings.TrimSpace(string(version))
}
