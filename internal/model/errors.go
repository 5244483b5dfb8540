package model

import "errors"

// Domain errors terminate a command and mark its transaction FAILED.
var (
	ErrValidation             = errors.New("validation error")
	ErrAccountNotFound        = errors.New("account not found")
	ErrAccountInactive        = errors.New("account inactive")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrIdempotencyConflict    = errors.New("idempotency key reused with a different request")
)

// ErrPersistenceConflict covers lock timeouts and write contention. It is retryable.
var ErrPersistenceConflict = errors.New("persistence conflict")

// IsDomainError reports whether err ends a command for good.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrAccountInactive) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrInvalidStateTransition)
}

// IsRetryable reports whether the caller should retry with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistenceConflict)
}

var failureCodes = []struct {
	code string
	err  error
}{
	{"VALIDATION", ErrValidation},
	{"ACCOUNT_NOT_FOUND", ErrAccountNotFound},
	{"ACCOUNT_INACTIVE", ErrAccountInactive},
	{"INSUFFICIENT_FUNDS", ErrInsufficientFunds},
	{"TRANSACTION_NOT_FOUND", ErrTransactionNotFound},
	{"INVALID_STATE_TRANSITION", ErrInvalidStateTransition},
	{"IDEMPOTENCY_CONFLICT", ErrIdempotencyConflict},
	{"PERSISTENCE_CONFLICT", ErrPersistenceConflict},
}

// FailureCode names the taxonomy error wrapped by err, or "INTERNAL".
func FailureCode(err error) string {
	for _, fc := range failureCodes {
		if errors.Is(err, fc.err) {
			return fc.code
		}
	}
	return "INTERNAL"
}

// ErrorForCode is the inverse of FailureCode. Unknown codes yield nil.
func ErrorForCode(code string) error {
	for _, fc := range failureCodes {
		if fc.code == code {
			return fc.err
		}
	}
	return nil
}
