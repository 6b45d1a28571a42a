package session

import (
	"errors"
	"fmt"
)

// Kind classifies why a procedure stopped. Kinds are comparable error values, so
// callers can write errors.Is(err, session.ErrBracketOrderRejected).
type Kind string

func (k Kind) Error() string { return string(k) }

const (
	// ErrAuth: the credential step failed. Fatal, no order is placed.
	ErrAuth Kind = "AuthError"
	// ErrBrokerUnavailable: the account snapshot could not be read.
	ErrBrokerUnavailable Kind = "BrokerUnavailable"
	// ErrPriceUnavailable: no usable price from the feed.
	ErrPriceUnavailable Kind = "PriceUnavailable"
	// ErrInsufficientFunds: floor(liquidity / price) is zero.
	ErrInsufficientFunds Kind = "InsufficientFunds"
	// ErrInvalidBracket: the derived exit prices do not satisfy the ordering.
	ErrInvalidBracket Kind = "InvalidBracket"
	// ErrEntryOrderRejected: the market entry was declined or died unfilled.
	ErrEntryOrderRejected Kind = "EntryOrderRejected"
	// ErrBracketOrderRejected: the entry went through but the exit pair did not.
	// The position is unprotected until someone closes it.
	ErrBracketOrderRejected Kind = "BracketOrderRejected"
	// ErrTransactionFetch: today's transactions could not be read.
	ErrTransactionFetch Kind = "TransactionFetchError"
	// ErrLedgerWrite: the ledger append failed.
	ErrLedgerWrite Kind = "LedgerWriteError"
)

// StepError is returned by Entry and Reconcile. It unwraps to both its Kind and the
// underlying cause.
type StepError struct {
	Kind  Kind
	State string
	Err   error
}

func (e *StepError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s in state %s", e.Kind, e.State)
	}
	return fmt.Sprintf("%s in state %s: %v", e.Kind, e.State, e.Err)
}

func (e *StepError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf extracts the Kind from an error returned by this package.
func KindOf(err error) (Kind, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}
