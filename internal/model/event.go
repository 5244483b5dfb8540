package model

import "time"

// CompletionEvent is published after a transaction reaches HELD or a
// terminal status. Delivery is at-least-once; consumers deduplicate by
// TransactionID.
type CompletionEvent struct {
	EventID               string                 `json:"event_id"`
	EventType             string                 `json:"event_type"`
	TransactionID         string                 `json:"transaction_id"`
	IdempotencyKey        string                 `json:"idempotency_key,omitempty"`
	Type                  TransactionType        `json:"type"`
	Status                TransactionStatus      `json:"status"`
	Amount                string                 `json:"amount"`
	Direction             EntrySide              `json:"direction,omitempty"`
	Currency              string                 `json:"currency"`
	AccountID             string                 `json:"account_id"`
	CounterpartyAccountID string                 `json:"counterparty_account_id,omitempty"`
	HoldTransactionID     string                 `json:"hold_transaction_id,omitempty"`
	ParentTransactionID   string                 `json:"parent_transaction_id,omitempty"`
	FailureCode           string                 `json:"failure_code,omitempty"`
	FailureReason         string                 `json:"failure_reason,omitempty"`
	Timestamp             time.Time              `json:"timestamp"`
	Metadata              map[string]interface{} `json:"metadata,omitempty"`
}
