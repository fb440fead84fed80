package service

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"chamapay/internal/model"
	"chamapay/internal/notify"
	"chamapay/internal/store"
)

// ApprovalService handles second-person sign-off on withdrawals held in
// initiated state by the approval policy.
type ApprovalService struct {
	store     store.Store
	notifier  notify.Notifier
	disburser *DisbursementService
	ttl       time.Duration
	cost      int
	now       func() time.Time
}

func NewApprovalService(st store.Store, n notify.Notifier, d *DisbursementService, ttl time.Duration) *ApprovalService {
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}
	return &ApprovalService{
		store:     st,
		notifier:  n,
		disburser: d,
		ttl:       ttl,
		cost:      bcrypt.DefaultCost,
		now:       time.Now,
	}
}

// sameActor matches on the operator account first; the phone in a request
// body is not proof of identity.
func sameActor(a, b model.Initiator) bool {
	if a.OperatorID != "" && a.OperatorID == b.OperatorID {
		return true
	}
	return a.Phone != "" && a.Phone == b.Phone
}

func undecided(a *model.WithdrawalApproval) error {
	if a.Decision != model.DecisionPending {
		return fmt.Errorf("%w: approval already %s", ErrStateConflict, a.Decision)
	}
	return nil
}

// RequestCode sends a fresh approval code to the approver's phone.
func (s *ApprovalService) RequestCode(ctx context.Context, withdrawalID string) error {
	w, err := s.store.GetWithdrawal(ctx, withdrawalID)
	if err != nil {
		return fmt.Errorf("get withdrawal: %w", err)
	}

	code, err := generateCode()
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.cost)
	if err != nil {
		return fmt.Errorf("hash code: %w", err)
	}

	expires := s.now().Add(s.ttl)
	a, err := s.store.UpdateApproval(ctx, withdrawalID, func(a *model.WithdrawalApproval) error {
		if err := undecided(a); err != nil {
			return err
		}
		a.CodeHash = hash
		a.CodeExpiresAt = &expires
		a.CodeAttempts = 0
		return nil
	})
	if err != nil {
		return fmt.Errorf("store approval code: %w", err)
	}

	if err := s.notifier.Notify(ctx, a.ApproverPhone, notify.ApprovalCode(w, code, s.ttl)); err != nil {
		return fmt.Errorf("deliver approval code: %w", err)
	}
	slog.Info("approval code issued", "withdrawal_id", withdrawalID, "approver_phone", a.ApproverPhone)
	return nil
}

// Approve verifies the approver's code, records the decision and submits the
// withdrawal. The initiator cannot approve their own withdrawal.
func (s *ApprovalService) Approve(ctx context.Context, withdrawalID string, approver model.Initiator, code string) (model.Withdrawal, error) {
	w, err := s.store.GetWithdrawal(ctx, withdrawalID)
	if err != nil {
		return model.Withdrawal{}, fmt.Errorf("get withdrawal: %w", err)
	}
	if sameActor(approver, w.Initiator) {
		return model.Withdrawal{}, fmt.Errorf("%w: initiator cannot approve", ErrValidation)
	}

	code = strings.TrimSpace(code)
	if !wellFormedCode(code) {
		return model.Withdrawal{}, fmt.Errorf("approve: %w", ErrInvalidOTP)
	}
	issued, err := s.store.GetApproval(ctx, withdrawalID)
	if err != nil {
		return model.Withdrawal{}, fmt.Errorf("get approval: %w", err)
	}
	// Hash comparison happens outside the store's lock.
	matched := codeMatches(issued.CodeHash, code)

	now := s.now()
	_, err = s.store.UpdateApproval(ctx, withdrawalID, func(a *model.WithdrawalApproval) error {
		if err := undecided(a); err != nil {
			return err
		}
		if len(a.CodeHash) == 0 || !bytes.Equal(a.CodeHash, issued.CodeHash) ||
			a.CodeExpiresAt == nil || !now.Before(*a.CodeExpiresAt) {
			return ErrInvalidOTP
		}
		if !matched {
			a.CodeAttempts++
			if a.CodeAttempts >= model.MaxCodeAttempts {
				a.CodeHash = nil
				a.CodeExpiresAt = nil
			}
			return nil
		}
		a.CodeHash = nil
		a.CodeExpiresAt = nil
		a.CodeVerifiedAt = &now
		a.Decision = model.DecisionApproved
		a.DecidedAt = &now
		if approver.Name != "" {
			a.ApproverName = approver.Name
		}
		return nil
	})
	if err != nil {
		return model.Withdrawal{}, fmt.Errorf("approve: %w", err)
	}
	if !matched {
		slog.Warn("approval code rejected", "withdrawal_id", withdrawalID)
		return model.Withdrawal{}, fmt.Errorf("approve: %w", ErrInvalidOTP)
	}

	slog.Info("withdrawal approved", "withdrawal_id", withdrawalID, "approver", approver.Name)
	return s.disburser.submit(ctx, w)
}

// Reject records the decision and fails the withdrawal. No money moves.
func (s *ApprovalService) Reject(ctx context.Context, withdrawalID string, approver model.Initiator, reason string) (model.Withdrawal, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return model.Withdrawal{}, fmt.Errorf("%w: rejection reason required", ErrValidation)
	}

	now := s.now()
	_, err := s.store.UpdateApproval(ctx, withdrawalID, func(a *model.WithdrawalApproval) error {
		if err := undecided(a); err != nil {
			return err
		}
		a.CodeHash = nil
		a.CodeExpiresAt = nil
		a.Decision = model.DecisionRejected
		a.RejectionReason = reason
		a.DecidedAt = &now
		if approver.Name != "" {
			a.ApproverName = approver.Name
		}
		return nil
	})
	if err != nil {
		return model.Withdrawal{}, fmt.Errorf("reject: %w", err)
	}

	w, err := s.store.MarkSubmitFailed(ctx, withdrawalID, "rejected: "+reason, map[string]any{
		"rejected_by": approver.Name,
		"reason":      reason,
	})
	if err != nil {
		return w, fmt.Errorf("mark rejected: %w", err)
	}

	slog.Info("withdrawal rejected", "withdrawal_id", withdrawalID, "approver", approver.Name)
	notify.Fanout(ctx, s.notifier, notify.Rejected(w, reason), w.Phone, w.Initiator.Phone)
	return w, nil
}

func (s *ApprovalService) Get(ctx context.Context, withdrawalID string) (model.WithdrawalApproval, error) {
	a, err := s.store.GetApproval(ctx, withdrawalID)
	if err != nil {
		return model.WithdrawalApproval{}, fmt.Errorf("get approval: %w", err)
	}
	return a, nil
}
