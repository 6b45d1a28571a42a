package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bracket_trader/internal/models"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// Store is the append-only SQLite ledger of settled transactions.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}

	// WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema migration: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Append stores txns under the session date. Records whose id is already present are
// skipped. onInserted, if set, runs with the new records before the commit; an error
// from it rolls the whole batch back.
func (s *Store) Append(ctx context.Context, day models.SessionDay, txns []models.Transaction, onInserted func([]models.Transaction) error) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO transactions (id, ticker, side, quantity, price, type,
			executed_at, session_date, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	recordedAt := s.now().UTC()
	var inserted []models.Transaction
	for _, t := range txns {
		res, err := stmt.ExecContext(ctx,
			t.ID, t.Ticker, string(t.Side), t.Quantity.String(), t.Price.String(), string(t.Type),
			t.Timestamp.UTC(), day.Date, recordedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("insert %s: %w", t.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		if n > 0 {
			inserted = append(inserted, t)
		}
	}

	if onInserted != nil && len(inserted) > 0 {
		if err := onInserted(inserted); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(inserted), nil
}

// Recent returns the latest records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ticker, side, quantity, price, type, executed_at, session_date, recorded_at
		FROM transactions
		ORDER BY executed_at DESC, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// DailySummary aggregates every session in the ledger, oldest first.
func (s *Store) DailySummary(ctx context.Context) ([]DailySummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ticker, side, quantity, price, type, executed_at, session_date, recorded_at
		FROM transactions
		ORDER BY session_date, executed_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []DailySummary
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if len(results) == 0 || results[len(results)-1].SessionDate != r.SessionDate {
			results = append(results, DailySummary{SessionDate: r.SessionDate})
		}
		results[len(results)-1].add(r.Transaction)
	}
	return results, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		r                    Record
		side, qty, px, kind  string
		executedAt, recorded time.Time
	)
	if err := row.Scan(&r.ID, &r.Ticker, &side, &qty, &px, &kind, &executedAt, &r.SessionDate, &recorded); err != nil {
		return Record{}, err
	}
	q, err := decimal.NewFromString(qty)
	if err != nil {
		return Record{}, fmt.Errorf("record %s quantity: %w", r.ID, err)
	}
	p, err := decimal.NewFromString(px)
	if err != nil {
		return Record{}, fmt.Errorf("record %s price: %w", r.ID, err)
	}
	r.Side = models.Side(side)
	r.Quantity = q
	r.Price = p
	r.Type = models.TransactionType(kind)
	r.Timestamp = executedAt
	r.RecordedAt = recorded
	return r, nil
}
