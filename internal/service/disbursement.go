package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"chamapay/internal/gateway"
	"chamapay/internal/model"
	"chamapay/internal/notify"
	"chamapay/internal/store"
)

// Disburser sends a withdrawal to the payment gateway.
type Disburser interface {
	Submit(ctx context.Context, w model.Withdrawal) (gateway.Submission, error)
}

// ApprovalPolicy routes large withdrawals through a second person.
// A zero Threshold disables it.
type ApprovalPolicy struct {
	Threshold     decimal.Decimal
	ApproverName  string
	ApproverPhone string
}

func (p ApprovalPolicy) requires(amount decimal.Decimal) bool {
	return p.Threshold.IsPositive() && p.ApproverPhone != "" && amount.GreaterThanOrEqual(p.Threshold)
}

type InitiateRequest struct {
	AccountID string
	Amount    decimal.Decimal
	Phone     string
	Reason    string
	Remarks   string
	Initiator model.Initiator
	OTP       string
}

type DisbursementService struct {
	store    store.Store
	gate     *OTPGate
	gateway  Disburser
	notifier notify.Notifier
	policy   ApprovalPolicy
}

func NewDisbursementService(st store.Store, gate *OTPGate, gw Disburser, n notify.Notifier, policy ApprovalPolicy) *DisbursementService {
	return &DisbursementService{
		store:    st,
		gate:     gate,
		gateway:  gw,
		notifier: n,
		policy:   policy,
	}
}

func (s *DisbursementService) validate(ctx context.Context, req InitiateRequest) (model.Withdrawal, error) {
	reason, ok := model.ParseReason(req.Reason)
	if !ok {
		return model.Withdrawal{}, fmt.Errorf("%w: unknown reason %q", ErrValidation, req.Reason)
	}
	if !req.Amount.IsPositive() {
		return model.Withdrawal{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if !req.Amount.Equal(req.Amount.Truncate(0)) {
		return model.Withdrawal{}, fmt.Errorf("%w: amount must be in whole units", ErrValidation)
	}
	phone, err := NormalizePhone(req.Phone)
	if err != nil {
		return model.Withdrawal{}, err
	}
	name := strings.TrimSpace(req.Initiator.Name)
	if name == "" {
		return model.Withdrawal{}, fmt.Errorf("%w: initiator name required", ErrValidation)
	}
	initiatorPhone, err := NormalizePhone(req.Initiator.Phone)
	if err != nil {
		return model.Withdrawal{}, fmt.Errorf("initiator: %w", err)
	}
	if strings.TrimSpace(req.AccountID) == "" {
		return model.Withdrawal{}, fmt.Errorf("%w: account_id required", ErrValidation)
	}

	acc, err := s.store.GetAccount(ctx, req.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Withdrawal{}, fmt.Errorf("%w: account %s not found", ErrValidation, req.AccountID)
		}
		return model.Withdrawal{}, fmt.Errorf("get account: %w", err)
	}
	if acc.Status != model.AccountActive {
		return model.Withdrawal{}, fmt.Errorf("%w: account %s is %s", ErrValidation, acc.ID, acc.Status)
	}
	if acc.Balance.LessThan(req.Amount) {
		return model.Withdrawal{}, fmt.Errorf("%w: insufficient funds", ErrValidation)
	}

	return model.Withdrawal{
		AccountID: acc.ID,
		Phone:     phone,
		Amount:    req.Amount,
		Reason:    reason,
		Remarks:   strings.TrimSpace(req.Remarks),
		Initiator: model.Initiator{OperatorID: req.Initiator.OperatorID, Name: name, Phone: initiatorPhone},
	}, nil
}

// Initiate validates and authorizes the request, records the withdrawal and,
// unless it needs a second approver, submits it to the gateway. A submission
// failure is not an error: the returned withdrawal is failed.
func (s *DisbursementService) Initiate(ctx context.Context, req InitiateRequest) (model.Withdrawal, error) {
	w, err := s.validate(ctx, req)
	if err != nil {
		return model.Withdrawal{}, err
	}

	ok, err := s.gate.VerifyCode(ctx, w.Initiator.Phone, strings.TrimSpace(req.OTP))
	if err != nil {
		return model.Withdrawal{}, err
	}
	if !ok {
		return model.Withdrawal{}, ErrInvalidOTP
	}

	w.Reference = uuid.NewString()
	var approval *model.WithdrawalApproval
	if s.policy.requires(w.Amount) {
		approval = &model.WithdrawalApproval{
			ApproverName:  s.policy.ApproverName,
			ApproverPhone: s.policy.ApproverPhone,
		}
	}

	if err := s.store.CreateWithdrawal(ctx, &w, approval); err != nil {
		return model.Withdrawal{}, fmt.Errorf("create withdrawal: %w", err)
	}
	slog.Info("withdrawal initiated",
		"withdrawal_id", w.ID, "reference", w.Reference, "account_id", w.AccountID,
		"amount", w.Amount.String(), "approval_required", approval != nil)

	if approval != nil {
		notify.Fanout(ctx, s.notifier, notify.AwaitingApproval(w), w.Initiator.Phone)
		return w, nil
	}
	return s.submit(ctx, w)
}

// submit hands an initiated withdrawal to the gateway and records the outcome.
// State writes ignore caller cancellation so a submitted payout is never left
// initiated.
func (s *DisbursementService) submit(ctx context.Context, w model.Withdrawal) (model.Withdrawal, error) {
	sub, err := s.gateway.Submit(ctx, w)
	ctx = context.WithoutCancel(ctx)

	if err != nil {
		slog.Warn("withdrawal submission failed", "withdrawal_id", w.ID, "reference", w.Reference, "error", err)
		payload := map[string]any{"error": err.Error()}
		var se *gateway.SubmitError
		if errors.As(err, &se) {
			payload["status_code"] = se.StatusCode
			payload["code"] = se.Code
		}
		failed, ferr := s.store.MarkSubmitFailed(ctx, w.ID, err.Error(), payload)
		if errors.Is(ferr, store.ErrStateConflict) {
			slog.Warn("withdrawal settled before submission failure was recorded",
				"withdrawal_id", w.ID, "status", failed.Status)
			return failed, nil
		}
		if ferr != nil {
			return w, fmt.Errorf("mark submit failed: %w", ferr)
		}
		notify.Fanout(ctx, s.notifier, notify.SubmitFailed(failed), failed.Phone, failed.Initiator.Phone)
		return failed, nil
	}

	pending, err := s.store.MarkSubmitted(ctx, w.ID, sub.ConversationID, sub)
	if errors.Is(err, store.ErrStateConflict) {
		slog.Info("callback arrived before submission was recorded",
			"withdrawal_id", w.ID, "status", pending.Status)
		return pending, nil
	}
	if err != nil {
		return w, fmt.Errorf("mark submitted: %w", err)
	}
	slog.Info("withdrawal submitted",
		"withdrawal_id", pending.ID, "reference", pending.Reference, "correlation_id", pending.CorrelationID)
	notify.Fanout(ctx, s.notifier, notify.Initiated(pending), pending.Phone, pending.Initiator.Phone)
	return pending, nil
}

func (s *DisbursementService) Get(ctx context.Context, id string) (model.Withdrawal, error) {
	w, err := s.store.GetWithdrawal(ctx, id)
	if err != nil {
		return model.Withdrawal{}, fmt.Errorf("get withdrawal: %w", err)
	}
	return w, nil
}

func (s *DisbursementService) List(ctx context.Context, f store.WithdrawalFilter) ([]model.Withdrawal, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, f.Status)
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	withdrawals, err := s.store.ListWithdrawals(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list withdrawals: %w", err)
	}
	return withdrawals, nil
}

// Transaction exposes ledger movements to the fraud scorer.
func (s *DisbursementService) Transaction(ctx context.Context, id string) (model.Transaction, error) {
	t, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return model.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}
