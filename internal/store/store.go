package store

import (
	"context"
	"errors"
	"time"

	"chamapay/internal/model"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("already exists")
	ErrStateConflict = errors.New("withdrawal state conflict")
)

type WithdrawalFilter struct {
	Status    model.WithdrawalStatus
	AccountID string
	From      time.Time
	To        time.Time
	Limit     int
}

// Store is the ledger store. Every method that changes a balance or a
// withdrawal status does so in one atomic unit.
type Store interface {
	CreateAccount(ctx context.Context, a *model.Account) error
	GetAccount(ctx context.Context, id string) (model.Account, error)

	CreateOperator(ctx context.Context, op *model.Operator) error
	GetOperatorByLogin(ctx context.Context, login string) (model.Operator, error)

	// CreateWithdrawal stores w in initiated state together with its pending
	// debit transaction and, when non-nil, its approval record.
	CreateWithdrawal(ctx context.Context, w *model.Withdrawal, approval *model.WithdrawalApproval) error
	GetWithdrawal(ctx context.Context, id string) (model.Withdrawal, error)
	ListWithdrawals(ctx context.Context, f WithdrawalFilter) ([]model.Withdrawal, error)

	// MarkSubmitted moves an initiated withdrawal to pending. It returns
	// ErrStateConflict if the withdrawal is no longer initiated.
	MarkSubmitted(ctx context.Context, id, correlationID string, payload any) (model.Withdrawal, error)
	// MarkSubmitFailed moves an initiated withdrawal straight to failed.
	MarkSubmitFailed(ctx context.Context, id, desc string, payload any) (model.Withdrawal, error)

	// Settle applies s to the matching withdrawal if it is still settleable and
	// reports whether it did. The callback is appended to metadata either way.
	Settle(ctx context.Context, s model.Settlement) (model.Withdrawal, bool, error)
	CreateOrphanWithdrawal(ctx context.Context, w *model.Withdrawal) error

	GetTransaction(ctx context.Context, id string) (model.Transaction, error)
	FindTransactionByRef(ctx context.Context, ref string) (model.Transaction, error)

	RecordAnomaly(ctx context.Context, a *model.Anomaly) error

	// PutCode replaces any code held for the phone.
	PutCode(ctx context.Context, code model.OneTimeCode) error
	// ConsumeCode deletes the phone's code if check accepts it. A rejected
	// code counts an attempt and is deleted after model.MaxCodeAttempts.
	ConsumeCode(ctx context.Context, phone string, check func(model.OneTimeCode) bool) (bool, error)
	PurgeExpiredCodes(ctx context.Context, now time.Time) (int64, error)

	GetApproval(ctx context.Context, withdrawalID string) (model.WithdrawalApproval, error)
	// UpdateApproval runs fn on the locked approval record and saves the
	// result when fn returns nil. The withdrawal must still be initiated.
	UpdateApproval(ctx context.Context, withdrawalID string, fn func(*model.WithdrawalApproval) error) (model.WithdrawalApproval, error)

	ListStalePending(ctx context.Context, before time.Time, limit int) ([]model.Withdrawal, error)
}
