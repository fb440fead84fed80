package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chamapay/internal/model"
)

func seedWithdrawal(t *testing.T, m *Memory, approval *model.WithdrawalApproval) (model.Account, model.Withdrawal) {
	t.Helper()
	ctx := context.Background()

	acc := model.Account{Name: "fund", Balance: decimal.NewFromInt(1000)}
	require.NoError(t, m.CreateAccount(ctx, &acc))

	w := model.Withdrawal{
		Reference: "ref-1",
		AccountID: acc.ID,
		Phone:     "254722000002",
		Amount:    decimal.NewFromInt(400),
		Reason:    model.ReasonBusinessPayment,
	}
	require.NoError(t, m.CreateWithdrawal(ctx, &w, approval))
	return acc, w
}

func completed(corrID string) model.Settlement {
	code := 0
	return model.Settlement{
		CorrelationID: corrID,
		Outcome:       model.StatusCompleted,
		ResultCode:    &code,
		GatewayTxnID:  "TX1",
		Callback:      model.CallbackRecord{Kind: "result", ReceivedAt: time.Now()},
		At:            time.Now(),
	}
}

// TestMemory_CreateWithdrawal verifies the withdrawal starts initiated with a pending debit and no balance change.
func TestMemory_CreateWithdrawal(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	acc, w := seedWithdrawal(t, m, nil)

	assert.Equal(t, model.StatusInitiated, w.Status)
	txn, err := m.GetTransaction(context.Background(), w.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.DirectionDebit, txn.Direction)
	assert.Equal(t, model.TxnPending, txn.Status)
	assert.Equal(t, "ref-1", txn.ExternalRef)

	got, err := m.GetAccount(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(1000)))

	dup := w
	assert.ErrorIs(t, m.CreateWithdrawal(context.Background(), &dup, nil), ErrConflict)
}

// TestMemory_SettleIsCheckAndSet verifies only the first terminal outcome is applied.
func TestMemory_SettleIsCheckAndSet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()
	acc, w := seedWithdrawal(t, m, nil)
	_, err := m.MarkSubmitted(ctx, w.ID, "AG_1", map[string]string{"ResponseCode": "0"})
	require.NoError(t, err)

	got, applied, err := m.Settle(ctx, completed("AG_1"))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, model.StatusCompleted, got.Status)

	timedOut := completed("AG_1")
	timedOut.Outcome = model.StatusTimeout
	got, applied, err = m.Settle(ctx, timedOut)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Len(t, got.Metadata.Callbacks(), 2)

	a, err := m.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, a.Balance.Equal(decimal.NewFromInt(600)))
}

// TestMemory_SettleByReference verifies an early callback finds an initiated withdrawal by reference.
func TestMemory_SettleByReference(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()
	_, w := seedWithdrawal(t, m, nil)

	s := completed("AG_1")
	s.Reference = w.Reference
	got, applied, err := m.Settle(ctx, s)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, "AG_1", got.CorrelationID)

	got, err = m.MarkSubmitted(ctx, w.ID, "AG_1", nil)
	assert.ErrorIs(t, err, ErrStateConflict)
	assert.Equal(t, model.StatusCompleted, got.Status)
}

// TestMemory_SettleUnknown verifies unknown callbacks report ErrNotFound.
func TestMemory_SettleUnknown(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	_, _, err := m.Settle(context.Background(), completed("AG_X"))
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestMemory_UndecidedApprovalBlocksSettle verifies a withdrawal awaiting approval cannot be settled.
func TestMemory_UndecidedApprovalBlocksSettle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()
	_, w := seedWithdrawal(t, m, &model.WithdrawalApproval{ApproverPhone: "254733000003"})

	s := completed("")
	s.Reference = w.Reference
	got, applied, err := m.Settle(ctx, s)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, model.StatusInitiated, got.Status)

	_, err = m.UpdateApproval(ctx, w.ID, func(a *model.WithdrawalApproval) error {
		a.Decision = model.DecisionApproved
		return nil
	})
	require.NoError(t, err)

	_, applied, err = m.Settle(ctx, s)
	require.NoError(t, err)
	assert.True(t, applied)

	_, err = m.UpdateApproval(ctx, w.ID, func(a *model.WithdrawalApproval) error { return nil })
	assert.ErrorIs(t, err, ErrStateConflict)
}

// TestMemory_MarkSubmitFailed verifies a refused submission fails both withdrawal and transaction.
func TestMemory_MarkSubmitFailed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()
	_, w := seedWithdrawal(t, m, nil)

	got, err := m.MarkSubmitFailed(ctx, w.ID, "gateway down", map[string]string{"error": "gateway down"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.NotNil(t, got.Metadata[model.MetaSubmitError])

	txn, err := m.GetTransaction(ctx, w.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.TxnFailed, txn.Status)

	_, err = m.MarkSubmitted(ctx, w.ID, "AG_1", nil)
	assert.ErrorIs(t, err, ErrStateConflict)
}

// TestMemory_Codes verifies code replacement, conditional consumption and purge.
func TestMemory_Codes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()
	now := time.Now()

	require.NoError(t, m.PutCode(ctx, model.OneTimeCode{Phone: "p1", CodeHash: []byte("a"), ExpiresAt: now.Add(time.Minute)}))
	require.NoError(t, m.PutCode(ctx, model.OneTimeCode{Phone: "p1", CodeHash: []byte("b"), ExpiresAt: now.Add(time.Minute)}))
	require.NoError(t, m.PutCode(ctx, model.OneTimeCode{Phone: "p2", CodeHash: []byte("c"), ExpiresAt: now.Add(-time.Minute)}))

	ok, err := m.ConsumeCode(ctx, "p1", func(c model.OneTimeCode) bool { return string(c.CodeHash) == "a" })
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = m.ConsumeCode(ctx, "p1", func(c model.OneTimeCode) bool { return string(c.CodeHash) == "b" })
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := m.PurgeExpiredCodes(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

// TestMemory_CodeAttemptLimit verifies repeated misses invalidate a code and a reissue starts a fresh count.
func TestMemory_CodeAttemptLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()
	exp := time.Now().Add(time.Minute)
	right := func(c model.OneTimeCode) bool { return string(c.CodeHash) == "a" }
	wrong := func(model.OneTimeCode) bool { return false }

	require.NoError(t, m.PutCode(ctx, model.OneTimeCode{Phone: "p1", CodeHash: []byte("a"), ExpiresAt: exp}))
	for i := 0; i < model.MaxCodeAttempts; i++ {
		ok, err := m.ConsumeCode(ctx, "p1", wrong)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	ok, err := m.ConsumeCode(ctx, "p1", right)
	require.NoError(t, err)
	assert.False(t, ok, "code survived the attempt limit")

	require.NoError(t, m.PutCode(ctx, model.OneTimeCode{Phone: "p1", CodeHash: []byte("a"), ExpiresAt: exp}))
	for i := 0; i < model.MaxCodeAttempts-1; i++ {
		_, err := m.ConsumeCode(ctx, "p1", wrong)
		require.NoError(t, err)
	}
	ok, err = m.ConsumeCode(ctx, "p1", right)
	require.NoError(t, err)
	assert.True(t, ok)
}

// TestMemory_CodeReissuedDuringCheck verifies a miss against a replaced code neither counts nor consumes the new one.
func TestMemory_CodeReissuedDuringCheck(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()
	exp := time.Now().Add(time.Minute)
	require.NoError(t, m.PutCode(ctx, model.OneTimeCode{Phone: "p1", CodeHash: []byte("a"), ExpiresAt: exp}))

	ok, err := m.ConsumeCode(ctx, "p1", func(model.OneTimeCode) bool {
		// Store calls from inside check must not deadlock.
		require.NoError(t, m.PutCode(ctx, model.OneTimeCode{Phone: "p1", CodeHash: []byte("b"), ExpiresAt: exp}))
		return true
	})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = m.ConsumeCode(ctx, "p1", func(c model.OneTimeCode) bool { return string(c.CodeHash) == "b" })
	require.NoError(t, err)
	assert.True(t, ok)
}

// TestMemory_ListStalePending verifies only old pending withdrawals are returned.
func TestMemory_ListStalePending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return base })
	_, w := seedWithdrawal(t, m, nil)
	_, err := m.MarkSubmitted(ctx, w.ID, "AG_1", nil)
	require.NoError(t, err)

	stale, err := m.ListStalePending(ctx, base.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, w.ID, stale[0].ID)

	stale, err = m.ListStalePending(ctx, base, 10)
	require.NoError(t, err)
	assert.Empty(t, stale)
}
