package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type WithdrawalStatus string

const (
	StatusInitiated WithdrawalStatus = "initiated"
	StatusPending   WithdrawalStatus = "pending"
	StatusCompleted WithdrawalStatus = "completed"
	StatusFailed    WithdrawalStatus = "failed"
	StatusTimeout   WithdrawalStatus = "timeout"
)

// Terminal reports whether no further automatic transition can leave s.
func (s WithdrawalStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout:
		return true
	}
	return false
}

func (s WithdrawalStatus) Valid() bool {
	switch s {
	case StatusInitiated, StatusPending, StatusCompleted, StatusFailed, StatusTimeout:
		return true
	}
	return false
}

// Reason doubles as the gateway command id.
type Reason string

const (
	ReasonBusinessPayment  Reason = "BusinessPayment"
	ReasonSalaryPayment    Reason = "SalaryPayment"
	ReasonPromotionPayment Reason = "PromotionPayment"
)

func ParseReason(s string) (Reason, bool) {
	switch r := Reason(s); r {
	case ReasonBusinessPayment, ReasonSalaryPayment, ReasonPromotionPayment:
		return r, true
	}
	return "", false
}

// Initiator identifies a person acting on a withdrawal. OperatorID is taken
// from the authenticated token, never from the request body.
type Initiator struct {
	OperatorID string `json:"operator_id,omitempty"`
	Name       string `json:"name"`
	Phone      string `json:"phone"`
}

type Withdrawal struct {
	ID            string           `json:"id"`
	Reference     string           `json:"reference"`
	AccountID     string           `json:"account_id"`
	Phone         string           `json:"phone"`
	Amount        decimal.Decimal  `json:"amount"`
	Reason        Reason           `json:"reason"`
	Remarks       string           `json:"remarks,omitempty"`
	Initiator     Initiator        `json:"initiator"`
	Status        WithdrawalStatus `json:"status"`
	CorrelationID string           `json:"correlation_id,omitempty"`
	ResultCode    *int             `json:"result_code,omitempty"`
	ResultDesc    string           `json:"result_desc,omitempty"`
	GatewayTxnID  string           `json:"gateway_txn_id,omitempty"`
	TransactionID string           `json:"transaction_id,omitempty"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
	Metadata      Metadata         `json:"metadata,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Settlement is a terminal outcome reported by the gateway for one withdrawal.
type Settlement struct {
	CorrelationID string
	Reference     string
	Outcome       WithdrawalStatus
	ResultCode    *int
	ResultDesc    string
	GatewayTxnID  string
	Callback      CallbackRecord
	At            time.Time
}
