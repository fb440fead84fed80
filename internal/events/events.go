package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

const (
	TopicTransactionCompleted = "transactions.completed"
	TopicAnomalies            = "disbursements.anomalies"
)

type Publisher interface {
	Publish(ctx context.Context, topic, key string, event any) error
}

// TransactionCompleted feeds the fraud scorer.
type TransactionCompleted struct {
	TransactionID string          `json:"transaction_id"`
	AccountID     string          `json:"account_id"`
	Direction     string          `json:"direction"`
	Amount        decimal.Decimal `json:"amount"`
	WithdrawalID  string          `json:"withdrawal_id,omitempty"`
	Reference     string          `json:"reference,omitempty"`
	GatewayTxnID  string          `json:"gateway_txn_id,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// Anomaly is an alert for reconciliation cases that need a human.
type Anomaly struct {
	Kind          string    `json:"kind"`
	WithdrawalID  string    `json:"withdrawal_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Reference     string    `json:"reference,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type Nop struct{}

func (Nop) Publish(context.Context, string, string, any) error { return nil }
