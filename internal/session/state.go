package session

// EntryState is a node of the Entry state machine:
// START -> FUNDS_CHECKED -> ENTRY_SUBMITTED -> BRACKET_SUBMITTED -> DONE | FAILED.
type EntryState string

const (
	EntryStart            EntryState = "START"
	EntryFundsChecked     EntryState = "FUNDS_CHECKED"
	EntrySubmitted        EntryState = "ENTRY_SUBMITTED"
	EntryBracketSubmitted EntryState = "BRACKET_SUBMITTED"
	EntryDone             EntryState = "DONE"
	EntryFailed           EntryState = "FAILED"
)

// ReconcileState is a node of the Reconciliation state machine:
// START -> TRANSACTIONS_FETCHED -> {RECONCILED | FORCE_CLOSED} -> PERSISTED -> DONE | FAILED.
type ReconcileState string

const (
	ReconcileStart      ReconcileState = "START"
	TransactionsFetched ReconcileState = "TRANSACTIONS_FETCHED"
	Reconciled          ReconcileState = "RECONCILED"
	ForceClosed         ReconcileState = "FORCE_CLOSED"
	Persisted           ReconcileState = "PERSISTED"
	ReconcileDone       ReconcileState = "DONE"
	ReconcileFailed     ReconcileState = "FAILED"
)

// Decision is what the day's transaction count says about the bracket.
type Decision string

const (
	// DecisionReconciled: entry fill plus one exit leg fill. Nothing to do.
	DecisionReconciled Decision = "RECONCILED"
	// DecisionForceClose: only the entry filled; the position is still open.
	DecisionForceClose Decision = "FORCE_CLOSE"
	// DecisionAnomaly: any other count. Alerted, and whatever is open gets closed.
	DecisionAnomaly Decision = "ANOMALY"
)

// Decide maps the number of TRADE transactions recorded today to a Decision.
func Decide(count int) Decision {
	switch count {
	case 2:
		return DecisionReconciled
	case 1:
		return DecisionForceClose
	default:
		return DecisionAnomaly
	}
}
