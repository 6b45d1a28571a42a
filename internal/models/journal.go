package models

import "github.com/shopspring/decimal"

// EntryRecord is the journal line written after every Entry run.
type EntryRecord struct {
	RunID          string          `json:"run_id"`
	SessionDate    string          `json:"session_date"`
	At             string          `json:"at"`
	Ticker         string          `json:"ticker"`
	State          string          `json:"state"`
	ErrorKind      string          `json:"error_kind,omitempty"`
	Error          string          `json:"error,omitempty"`
	Liquidity      decimal.Decimal `json:"liquidity"`
	Price          decimal.Decimal `json:"price"`
	Quantity       decimal.Decimal `json:"quantity"`
	EntryOrderID   string          `json:"entry_order_id,omitempty"`
	BracketOrderID string          `json:"bracket_order_id,omitempty"`
	Bracket        *BracketSpec    `json:"bracket,omitempty"`
}

// ReconcileRecord is the journal line written after every Reconciliation run.
type ReconcileRecord struct {
	RunID            string   `json:"run_id"`
	SessionDate      string   `json:"session_date"`
	At               string   `json:"at"`
	State            string   `json:"state"`
	Decision         string   `json:"decision"`
	ErrorKind        string   `json:"error_kind,omitempty"`
	Error            string   `json:"error,omitempty"`
	TransactionCount int      `json:"transaction_count"`
	ClosedTickers    []string `json:"closed_tickers,omitempty"`
	FailedTickers    []string `json:"failed_tickers,omitempty"`
	LedgerInserted   int      `json:"ledger_inserted"`
}

// SessionState is the structure of the journal file on disk.
type SessionState struct {
	Version         string            `json:"version"`
	LastSync        string            `json:"last_sync"`
	Entries         []EntryRecord     `json:"entries"`
	Reconciliations []ReconcileRecord `json:"reconciliations"`
}

// LastEntry returns the most recent entry record for a session date, if any.
func (s SessionState) LastEntry(date string) (EntryRecord, bool) {
	for i := len(s.Entries) - 1; i >= 0; i-- {
		if s.Entries[i].SessionDate == date {
			return s.Entries[i], true
		}
	}
	return EntryRecord{}, false
}
