package store

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chamapay/internal/model"
)

// Memory is an in-process Store. A single mutex makes every method atomic,
// which is what the Postgres store gets from row locks.
type Memory struct {
	mu           sync.Mutex
	now          func() time.Time
	accounts     map[string]*model.Account
	operators    map[string]*model.Operator // by login
	withdrawals  map[string]*model.Withdrawal
	byCorrID     map[string]string
	byReference  map[string]string
	transactions map[string]*model.Transaction
	approvals    map[string]*model.WithdrawalApproval
	codes        map[string]model.OneTimeCode
	anomalies    []model.Anomaly
}

func NewMemory() *Memory {
	return &Memory{
		now:          time.Now,
		accounts:     make(map[string]*model.Account),
		operators:    make(map[string]*model.Operator),
		withdrawals:  make(map[string]*model.Withdrawal),
		byCorrID:     make(map[string]string),
		byReference:  make(map[string]string),
		transactions: make(map[string]*model.Transaction),
		approvals:    make(map[string]*model.WithdrawalApproval),
		codes:        make(map[string]model.OneTimeCode),
	}
}

// SetClock replaces the time source used for timestamps.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Memory) CreateAccount(_ context.Context, a *model.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if _, ok := m.accounts[a.ID]; ok {
		return ErrConflict
	}
	if a.Status == "" {
		a.Status = model.AccountActive
	}
	a.CreatedAt = m.now()
	cp := *a
	m.accounts[a.ID] = &cp
	return nil
}

func (m *Memory) GetAccount(_ context.Context, id string) (model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return model.Account{}, ErrNotFound
	}
	return *a, nil
}

func (m *Memory) CreateOperator(_ context.Context, op *model.Operator) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.operators[op.Login]; ok {
		return ErrConflict
	}
	op.ID = uuid.NewString()
	op.CreatedAt = m.now()
	cp := *op
	cp.Capabilities = append([]string(nil), op.Capabilities...)
	m.operators[op.Login] = &cp
	return nil
}

func (m *Memory) GetOperatorByLogin(_ context.Context, login string) (model.Operator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, ok := m.operators[login]
	if !ok {
		return model.Operator{}, ErrNotFound
	}
	return *op, nil
}

func (m *Memory) CreateWithdrawal(_ context.Context, w *model.Withdrawal, approval *model.WithdrawalApproval) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[w.AccountID]; !ok {
		return fmt.Errorf("account %s: %w", w.AccountID, ErrNotFound)
	}
	if _, ok := m.byReference[w.Reference]; ok {
		return ErrConflict
	}

	now := m.now()
	txn := &model.Transaction{
		ID:          uuid.NewString(),
		AccountID:   w.AccountID,
		Direction:   model.DirectionDebit,
		Amount:      w.Amount,
		Status:      model.TxnPending,
		ExternalRef: w.Reference,
		Metadata:    model.Metadata{"withdrawal_reference": w.Reference},
		CreatedAt:   now,
	}
	m.transactions[txn.ID] = txn

	w.ID = uuid.NewString()
	w.Status = model.StatusInitiated
	w.TransactionID = txn.ID
	w.CreatedAt = now
	w.UpdatedAt = now
	if w.Metadata == nil {
		w.Metadata = model.Metadata{}
	}
	m.putWithdrawal(w)

	if approval != nil {
		approval.WithdrawalID = w.ID
		approval.Decision = model.DecisionPending
		approval.CreatedAt = now
		cp := *approval
		m.approvals[w.ID] = &cp
	}
	return nil
}

func (m *Memory) putWithdrawal(w *model.Withdrawal) {
	cp := *w
	cp.Metadata = w.Metadata.Clone()
	m.withdrawals[w.ID] = &cp
	m.byReference[w.Reference] = w.ID
	if w.CorrelationID != "" {
		m.byCorrID[w.CorrelationID] = w.ID
	}
}

func (m *Memory) GetWithdrawal(_ context.Context, id string) (model.Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.withdrawals[id]
	if !ok {
		return model.Withdrawal{}, ErrNotFound
	}
	return copyWithdrawal(w), nil
}

func (m *Memory) ListWithdrawals(_ context.Context, f WithdrawalFilter) ([]model.Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.Withdrawal
	for _, w := range m.withdrawals {
		if f.Status != "" && w.Status != f.Status {
			continue
		}
		if f.AccountID != "" && w.AccountID != f.AccountID {
			continue
		}
		if !f.From.IsZero() && w.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !w.CreatedAt.Before(f.To) {
			continue
		}
		out = append(out, copyWithdrawal(w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) MarkSubmitted(_ context.Context, id, correlationID string, payload any) (model.Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.withdrawals[id]
	if !ok {
		return model.Withdrawal{}, ErrNotFound
	}
	if w.Status != model.StatusInitiated {
		return copyWithdrawal(w), ErrStateConflict
	}
	w.Status = model.StatusPending
	w.CorrelationID = correlationID
	w.Metadata[model.MetaSubmission] = payload
	w.UpdatedAt = m.now()
	m.byCorrID[correlationID] = id
	return copyWithdrawal(w), nil
}

func (m *Memory) MarkSubmitFailed(_ context.Context, id, desc string, payload any) (model.Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.withdrawals[id]
	if !ok {
		return model.Withdrawal{}, ErrNotFound
	}
	if w.Status != model.StatusInitiated {
		return copyWithdrawal(w), ErrStateConflict
	}
	now := m.now()
	w.Status = model.StatusFailed
	w.ResultDesc = desc
	w.CompletedAt = &now
	w.UpdatedAt = now
	if payload != nil {
		w.Metadata[model.MetaSubmitError] = payload
	}
	if txn, ok := m.transactions[w.TransactionID]; ok {
		txn.Status = model.TxnFailed
		txn.ProcessedAt = &now
	}
	return copyWithdrawal(w), nil
}

func (m *Memory) Settle(_ context.Context, s model.Settlement) (model.Withdrawal, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.lookup(s.CorrelationID, s.Reference)
	if w == nil {
		return model.Withdrawal{}, false, ErrNotFound
	}

	if !m.settleable(w) {
		s.Callback.Applied = false
		w.Metadata = w.Metadata.AppendCallback(s.Callback)
		return copyWithdrawal(w), false, nil
	}

	if s.Outcome == model.StatusCompleted {
		acc, ok := m.accounts[w.AccountID]
		if !ok {
			return model.Withdrawal{}, false, fmt.Errorf("account %s: %w", w.AccountID, ErrNotFound)
		}
		acc.Balance = acc.Balance.Sub(w.Amount)
	}

	at := s.At
	w.Status = s.Outcome
	w.ResultCode = s.ResultCode
	w.ResultDesc = s.ResultDesc
	w.GatewayTxnID = s.GatewayTxnID
	w.CompletedAt = &at
	w.UpdatedAt = at
	if w.CorrelationID == "" && s.CorrelationID != "" {
		w.CorrelationID = s.CorrelationID
		m.byCorrID[s.CorrelationID] = w.ID
	}
	s.Callback.Applied = true
	w.Metadata = w.Metadata.AppendCallback(s.Callback)

	if txn, ok := m.transactions[w.TransactionID]; ok {
		txn.Status = model.TransactionStatusFor(s.Outcome)
		txn.ProcessedAt = &at
		if s.GatewayTxnID != "" {
			txn.Metadata = txn.Metadata.Clone()
			txn.Metadata["gateway_txn_id"] = s.GatewayTxnID
		}
	}
	return copyWithdrawal(w), true, nil
}

func (m *Memory) lookup(correlationID, reference string) *model.Withdrawal {
	if id, ok := m.byCorrID[correlationID]; ok && correlationID != "" {
		return m.withdrawals[id]
	}
	if id, ok := m.byReference[reference]; ok && reference != "" {
		return m.withdrawals[id]
	}
	return nil
}

// settleable: pending, or initiated with a submission in flight (no undecided
// approval in front of it).
func (m *Memory) settleable(w *model.Withdrawal) bool {
	switch w.Status {
	case model.StatusPending:
		return true
	case model.StatusInitiated:
		a, ok := m.approvals[w.ID]
		return !ok || a.Decision == model.DecisionApproved
	}
	return false
}

func (m *Memory) CreateOrphanWithdrawal(_ context.Context, w *model.Withdrawal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[w.AccountID]; !ok {
		return fmt.Errorf("account %s: %w", w.AccountID, ErrNotFound)
	}
	if _, ok := m.byCorrID[w.CorrelationID]; ok {
		return ErrConflict
	}
	if _, ok := m.byReference[w.Reference]; ok {
		return ErrConflict
	}
	now := m.now()
	w.ID = uuid.NewString()
	w.Status = model.StatusPending
	w.CreatedAt = now
	w.UpdatedAt = now
	if w.Metadata == nil {
		w.Metadata = model.Metadata{}
	}
	w.Metadata[model.MetaOrphan] = true
	m.putWithdrawal(w)
	return nil
}

func (m *Memory) GetTransaction(_ context.Context, id string) (model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.transactions[id]
	if !ok {
		return model.Transaction{}, ErrNotFound
	}
	return *t, nil
}

func (m *Memory) FindTransactionByRef(_ context.Context, ref string) (model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ref == "" {
		return model.Transaction{}, ErrNotFound
	}
	for _, t := range m.transactions {
		if t.ExternalRef == ref {
			return *t, nil
		}
	}
	return model.Transaction{}, ErrNotFound
}

// AddTransaction stores a ledger movement produced outside the disbursement
// flow, such as an inbound collection.
func (m *Memory) AddTransaction(t model.Transaction) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = m.now()
	m.transactions[t.ID] = &t
	return t.ID
}

func (m *Memory) RecordAnomaly(_ context.Context, a *model.Anomaly) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a.ID = uuid.NewString()
	a.CreatedAt = m.now()
	m.anomalies = append(m.anomalies, *a)
	return nil
}

func (m *Memory) Anomalies() []model.Anomaly {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]model.Anomaly(nil), m.anomalies...)
}

func (m *Memory) PutCode(_ context.Context, code model.OneTimeCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	code.Attempts = 0
	m.codes[code.Phone] = code
	return nil
}

// ConsumeCode runs check without holding the lock. The outcome is recorded
// only if the slot still holds the code that was checked.
func (m *Memory) ConsumeCode(_ context.Context, phone string, check func(model.OneTimeCode) bool) (bool, error) {
	m.mu.Lock()
	code, ok := m.codes[phone]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}

	matched := check(code)

	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.codes[phone]
	if !ok || !sameCode(cur, code) {
		return false, nil
	}
	if matched {
		delete(m.codes, phone)
		return true, nil
	}
	cur.Attempts++
	if cur.Attempts >= model.MaxCodeAttempts {
		delete(m.codes, phone)
	} else {
		m.codes[phone] = cur
	}
	return false, nil
}

func sameCode(a, b model.OneTimeCode) bool {
	return bytes.Equal(a.CodeHash, b.CodeHash) && a.ExpiresAt.Equal(b.ExpiresAt)
}

func (m *Memory) PurgeExpiredCodes(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for phone, c := range m.codes {
		if !now.Before(c.ExpiresAt) {
			delete(m.codes, phone)
			n++
		}
	}
	return n, nil
}

func (m *Memory) GetApproval(_ context.Context, withdrawalID string) (model.WithdrawalApproval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.approvals[withdrawalID]
	if !ok {
		return model.WithdrawalApproval{}, ErrNotFound
	}
	return *a, nil
}

func (m *Memory) UpdateApproval(_ context.Context, withdrawalID string, fn func(*model.WithdrawalApproval) error) (model.WithdrawalApproval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.approvals[withdrawalID]
	if !ok {
		return model.WithdrawalApproval{}, ErrNotFound
	}
	if w := m.withdrawals[withdrawalID]; w == nil || w.Status != model.StatusInitiated {
		return *a, ErrStateConflict
	}
	cp := *a
	if err := fn(&cp); err != nil {
		return *a, err
	}
	m.approvals[withdrawalID] = &cp
	return cp, nil
}

func (m *Memory) ListStalePending(_ context.Context, before time.Time, limit int) ([]model.Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.Withdrawal
	for _, w := range m.withdrawals {
		if w.Status == model.StatusPending && w.UpdatedAt.Before(before) {
			out = append(out, copyWithdrawal(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyWithdrawal(w *model.Withdrawal) model.Withdrawal {
	cp := *w
	cp.Metadata = w.Metadata.Clone()
	return cp
}

var _ Store = (*Memory)(nil)
