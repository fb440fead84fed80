package model

import (
	"encoding/json"
	"time"
)

type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// MaxCodeAttempts wrong guesses invalidate a code; a fresh one must be
// requested after that.
const MaxCodeAttempts = 5

type WithdrawalApproval struct {
	WithdrawalID    string     `json:"withdrawal_id"`
	ApproverName    string     `json:"approver_name,omitempty"`
	ApproverPhone   string     `json:"approver_phone"`
	CodeHash        []byte     `json:"-"`
	CodeExpiresAt   *time.Time `json:"code_expires_at,omitempty"`
	CodeAttempts    int        `json:"-"`
	CodeVerifiedAt  *time.Time `json:"code_verified_at,omitempty"`
	Decision        Decision   `json:"decision"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	DecidedAt       *time.Time `json:"decided_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// OneTimeCode is the per-phone OTP slot. Only the hash is stored.
type OneTimeCode struct {
	Phone     string
	CodeHash  []byte
	ExpiresAt time.Time
	Attempts  int
}

// Anomaly is a callback that matched nothing local.
type Anomaly struct {
	ID            string          `json:"id"`
	Kind          string          `json:"kind"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Reference     string          `json:"reference,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

const (
	AnomalyUnmatchedCallback = "unmatched_callback"
	AnomalyOrphanSynthesized = "orphan_synthesized"
	AnomalyStalePending      = "stale_pending"
	AnomalyLateSuccess       = "late_success"
)
