package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

type TransactionStatus string

const (
	TxnPending   TransactionStatus = "pending"
	TxnCompleted TransactionStatus = "completed"
	TxnFailed    TransactionStatus = "failed"
	TxnTimeout   TransactionStatus = "timeout"
)

// TransactionStatusFor maps a withdrawal state onto its ledger movement.
func TransactionStatusFor(s WithdrawalStatus) TransactionStatus {
	switch s {
	case StatusCompleted:
		return TxnCompleted
	case StatusFailed:
		return TxnFailed
	case StatusTimeout:
		return TxnTimeout
	}
	return TxnPending
}

// Transaction is a ledger movement independent of its cause.
type Transaction struct {
	ID          string            `json:"id"`
	AccountID   string            `json:"account_id"`
	Direction   Direction         `json:"direction"`
	Amount      decimal.Decimal   `json:"amount"`
	Status      TransactionStatus `json:"status"`
	ExternalRef string            `json:"external_ref"`
	Metadata    Metadata          `json:"metadata,omitempty"`
	ProcessedAt *time.Time        `json:"processed_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}
