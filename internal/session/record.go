package session

import (
	"time"

	"bracket_trader/internal/models"
)

// Record converts the report into a journal line.
func (r *EntryReport) Record(sessionDate string, at time.Time) models.EntryRecord {
	rec := models.EntryRecord{
		RunID:       r.RunID,
		SessionDate: sessionDate,
		At:          at.Format(time.RFC3339),
		Ticker:      r.Ticker,
		State:       string(r.State),
		Liquidity:   r.Liquidity,
		Price:       r.Price,
		Quantity:    r.Quantity,
		Bracket:     r.Bracket,
	}
	if r.EntryOrder != nil {
		rec.EntryOrderID = r.EntryOrder.ID
	}
	if r.BracketOrder != nil {
		rec.BracketOrderID = r.BracketOrder.ID
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
		if kind, ok := KindOf(r.Err); ok {
			rec.ErrorKind = string(kind)
		}
	}
	return rec
}

// Record converts the report into a journal line.
func (r *ReconcileReport) Record(at time.Time) models.ReconcileRecord {
	rec := models.ReconcileRecord{
		RunID:            r.RunID,
		SessionDate:      r.Day.Date,
		At:               at.Format(time.RFC3339),
		State:            string(r.State),
		Decision:         string(r.Decision),
		TransactionCount: r.InitialCount,
		ClosedTickers:    r.ClosedTickers(),
		FailedTickers:    r.FailedTickers(),
		LedgerInserted:   r.LedgerInserted,
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
		if kind, ok := KindOf(r.Err); ok {
			rec.ErrorKind = string(kind)
		}
	} else if r.ForceCloseErr != nil {
		rec.Error = r.ForceCloseErr.Error()
	}
	return rec
}
