package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"chamapay/internal/model"
	"chamapay/internal/store"
)

// Store is the PostgreSQL ledger store. Balance and status mutations run in
// one transaction with the withdrawal row locked.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const withdrawalColumns = `id, reference, account_id, phone, amount, reason, remarks, initiator_id, initiator_name,
	initiator_phone, status, correlation_id, result_code, result_desc, gateway_txn_id, transaction_id,
	completed_at, metadata, created_at, updated_at`

const transactionColumns = `id, account_id, direction, amount, status, external_ref, metadata, processed_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWithdrawal(row rowScanner) (model.Withdrawal, error) {
	var (
		w           model.Withdrawal
		corrID      sql.NullString
		resultCode  sql.NullInt64
		txnID       sql.NullString
		completedAt sql.NullTime
		meta        []byte
	)
	err := row.Scan(&w.ID, &w.Reference, &w.AccountID, &w.Phone, &w.Amount, &w.Reason, &w.Remarks,
		&w.Initiator.OperatorID, &w.Initiator.Name, &w.Initiator.Phone, &w.Status, &corrID, &resultCode,
		&w.ResultDesc, &w.GatewayTxnID, &txnID, &completedAt, &meta, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return model.Withdrawal{}, err
	}
	w.CorrelationID = corrID.String
	w.TransactionID = txnID.String
	if resultCode.Valid {
		c := int(resultCode.Int64)
		w.ResultCode = &c
	}
	if completedAt.Valid {
		t := completedAt.Time
		w.CompletedAt = &t
	}
	if w.Metadata, err = decodeMetadata(meta); err != nil {
		return model.Withdrawal{}, err
	}
	return w, nil
}

func scanTransaction(row rowScanner) (model.Transaction, error) {
	var (
		t           model.Transaction
		processedAt sql.NullTime
		meta        []byte
	)
	err := row.Scan(&t.ID, &t.AccountID, &t.Direction, &t.Amount, &t.Status, &t.ExternalRef, &meta,
		&processedAt, &t.CreatedAt)
	if err != nil {
		return model.Transaction{}, err
	}
	if processedAt.Valid {
		p := processedAt.Time
		t.ProcessedAt = &p
	}
	if t.Metadata, err = decodeMetadata(meta); err != nil {
		return model.Transaction{}, err
	}
	return t, nil
}

func decodeMetadata(raw []byte) (model.Metadata, error) {
	md := model.Metadata{}
	if len(raw) == 0 {
		return md, nil
	}
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return md, nil
}

func encodeJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return data, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func (s *Store) CreateAccount(ctx context.Context, a *model.Account) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = model.AccountActive
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO accounts (id, name, balance, status, owner_type) VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		a.ID, a.Name, a.Balance, a.Status, a.OwnerType,
	).Scan(&a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (model.Account, error) {
	var a model.Account
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, balance, status, owner_type, created_at FROM accounts WHERE id = $1`, id,
	).Scan(&a.ID, &a.Name, &a.Balance, &a.Status, &a.OwnerType, &a.CreatedAt)
	if err != nil {
		return model.Account{}, notFound(err)
	}
	return a, nil
}

func (s *Store) CreateOperator(ctx context.Context, op *model.Operator) error {
	op.ID = uuid.NewString()
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO operators (id, login, name, phone, password_hash, capabilities)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`,
		op.ID, op.Login, op.Name, op.Phone, op.PasswordHash, strings.Join(op.Capabilities, ","),
	).Scan(&op.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("insert operator: %w", err)
	}
	return nil
}

func (s *Store) GetOperatorByLogin(ctx context.Context, login string) (model.Operator, error) {
	var (
		op   model.Operator
		caps string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, login, name, phone, password_hash, capabilities, created_at FROM operators WHERE login = $1`, login,
	).Scan(&op.ID, &op.Login, &op.Name, &op.Phone, &op.PasswordHash, &caps, &op.CreatedAt)
	if err != nil {
		return model.Operator{}, notFound(err)
	}
	if caps != "" {
		op.Capabilities = strings.Split(caps, ",")
	}
	return op, nil
}

func (s *Store) CreateWithdrawal(ctx context.Context, w *model.Withdrawal, approval *model.WithdrawalApproval) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	txnID := uuid.NewString()
	txnMeta, err := encodeJSON(model.Metadata{"withdrawal_reference": w.Reference})
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO transactions (id, account_id, direction, amount, status, external_ref, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		txnID, w.AccountID, model.DirectionDebit, w.Amount, model.TxnPending, w.Reference, txnMeta,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	if w.Metadata == nil {
		w.Metadata = model.Metadata{}
	}
	meta, err := encodeJSON(w.Metadata)
	if err != nil {
		return err
	}
	w.ID = uuid.NewString()
	w.Status = model.StatusInitiated
	w.TransactionID = txnID
	err = tx.QueryRowContext(ctx,
		`INSERT INTO withdrawals (id, reference, account_id, phone, amount, reason, remarks, initiator_id,
			initiator_name, initiator_phone, status, transaction_id, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING created_at, updated_at`,
		w.ID, w.Reference, w.AccountID, w.Phone, w.Amount, w.Reason, w.Remarks, w.Initiator.OperatorID,
		w.Initiator.Name, w.Initiator.Phone, w.Status, txnID, meta,
	).Scan(&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("insert withdrawal: %w", err)
	}

	if approval != nil {
		approval.WithdrawalID = w.ID
		approval.Decision = model.DecisionPending
		err = tx.QueryRowContext(ctx,
			`INSERT INTO withdrawal_approvals (withdrawal_id, approver_name, approver_phone, decision)
			 VALUES ($1, $2, $3, $4) RETURNING created_at`,
			w.ID, approval.ApproverName, approval.ApproverPhone, approval.Decision,
		).Scan(&approval.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert approval: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) GetWithdrawal(ctx context.Context, id string) (model.Withdrawal, error) {
	w, err := scanWithdrawal(s.db.QueryRowContext(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`, id))
	if err != nil {
		return model.Withdrawal{}, notFound(err)
	}
	return w, nil
}

func (s *Store) ListWithdrawals(ctx context.Context, f store.WithdrawalFilter) ([]model.Withdrawal, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.AccountID != "" {
		add("account_id = $%d", f.AccountID)
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at < $%d", f.To)
	}

	query := `SELECT ` + withdrawalColumns + ` FROM withdrawals`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query withdrawals: %w", err)
	}
	defer rows.Close()

	var withdrawals []model.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan withdrawal: %w", err)
		}
		withdrawals = append(withdrawals, w)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return withdrawals, nil
}

// lockWithdrawal selects the row FOR UPDATE inside tx.
func lockWithdrawal(ctx context.Context, tx *sql.Tx, where string, args ...any) (model.Withdrawal, error) {
	w, err := scanWithdrawal(tx.QueryRowContext(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE `+where+` LIMIT 1 FOR UPDATE`, args...))
	if err != nil {
		return model.Withdrawal{}, notFound(err)
	}
	return w, nil
}

func (s *Store) MarkSubmitted(ctx context.Context, id, correlationID string, payload any) (model.Withdrawal, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Withdrawal{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	w, err := lockWithdrawal(ctx, tx, "id = $1", id)
	if err != nil {
		return model.Withdrawal{}, err
	}
	if w.Status != model.StatusInitiated {
		return w, store.ErrStateConflict
	}

	w.Metadata[model.MetaSubmission] = payload
	meta, err := encodeJSON(w.Metadata)
	if err != nil {
		return model.Withdrawal{}, err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE withdrawals SET status = $1, correlation_id = $2, metadata = $3, updated_at = NOW()
		 WHERE id = $4 AND status = $5`,
		model.StatusPending, correlationID, meta, id, model.StatusInitiated,
	)
	if err != nil {
		return model.Withdrawal{}, fmt.Errorf("mark submitted: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return w, store.ErrStateConflict
	}

	if err := tx.Commit(); err != nil {
		return model.Withdrawal{}, fmt.Errorf("commit tx: %w", err)
	}
	return s.GetWithdrawal(ctx, id)
}

func (s *Store) MarkSubmitFailed(ctx context.Context, id, desc string, payload any) (model.Withdrawal, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Withdrawal{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	w, err := lockWithdrawal(ctx, tx, "id = $1", id)
	if err != nil {
		return model.Withdrawal{}, err
	}
	if w.Status != model.StatusInitiated {
		return w, store.ErrStateConflict
	}

	if payload != nil {
		w.Metadata[model.MetaSubmitError] = payload
	}
	meta, err := encodeJSON(w.Metadata)
	if err != nil {
		return model.Withdrawal{}, err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE withdrawals SET status = $1, result_desc = $2, completed_at = NOW(), metadata = $3, updated_at = NOW()
		 WHERE id = $4 AND status = $5`,
		model.StatusFailed, desc, meta, id, model.StatusInitiated,
	)
	if err != nil {
		return model.Withdrawal{}, fmt.Errorf("mark submit failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return w, store.ErrStateConflict
	}
	if w.TransactionID != "" {
		_, err = tx.ExecContext(ctx,
			`UPDATE transactions SET status = $1, processed_at = NOW() WHERE id = $2`,
			model.TxnFailed, w.TransactionID,
		)
		if err != nil {
			return model.Withdrawal{}, fmt.Errorf("update transaction: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.Withdrawal{}, fmt.Errorf("commit tx: %w", err)
	}
	return s.GetWithdrawal(ctx, id)
}

func (s *Store) Settle(ctx context.Context, st model.Settlement) (model.Withdrawal, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Withdrawal{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	w, err := lockWithdrawal(ctx, tx,
		`(correlation_id = $1 AND $1 <> '') OR (reference = $2 AND $2 <> '') ORDER BY (correlation_id IS NOT DISTINCT FROM $1) DESC`,
		st.CorrelationID, st.Reference)
	if err != nil {
		return model.Withdrawal{}, false, err
	}

	settleable, err := settleable(ctx, tx, w)
	if err != nil {
		return model.Withdrawal{}, false, err
	}
	st.Callback.Applied = settleable
	meta, err := encodeJSON(w.Metadata.AppendCallback(st.Callback))
	if err != nil {
		return model.Withdrawal{}, false, err
	}

	if !settleable {
		_, err = tx.ExecContext(ctx, `UPDATE withdrawals SET metadata = $1 WHERE id = $2`, meta, w.ID)
		if err != nil {
			return model.Withdrawal{}, false, fmt.Errorf("append callback: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return model.Withdrawal{}, false, fmt.Errorf("commit tx: %w", err)
		}
		w, err = s.GetWithdrawal(ctx, w.ID)
		return w, false, err
	}

	var resultCode sql.NullInt64
	if st.ResultCode != nil {
		resultCode = sql.NullInt64{Int64: int64(*st.ResultCode), Valid: true}
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE withdrawals
		 SET status = $1, result_code = $2, result_desc = $3, gateway_txn_id = $4, completed_at = $5,
		     correlation_id = COALESCE(correlation_id, NULLIF($6, '')), metadata = $7, updated_at = $5
		 WHERE id = $8 AND status IN ($9, $10)`,
		st.Outcome, resultCode, st.ResultDesc, st.GatewayTxnID, st.At, st.CorrelationID, meta, w.ID,
		model.StatusPending, model.StatusInitiated,
	)
	if err != nil {
		return model.Withdrawal{}, false, fmt.Errorf("settle withdrawal: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return model.Withdrawal{}, false, store.ErrStateConflict
	}

	if st.Outcome == model.StatusCompleted {
		res, err = tx.ExecContext(ctx,
			`UPDATE accounts SET balance = balance - $1 WHERE id = $2`, w.Amount, w.AccountID)
		if err != nil {
			return model.Withdrawal{}, false, fmt.Errorf("debit account: %w", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return model.Withdrawal{}, false, fmt.Errorf("account %s: %w", w.AccountID, store.ErrNotFound)
		}
	}

	if w.TransactionID != "" {
		_, err = tx.ExecContext(ctx,
			`UPDATE transactions SET status = $1, processed_at = $2,
			     metadata = CASE WHEN $3 = '' THEN metadata ELSE metadata || jsonb_build_object('gateway_txn_id', $3::text) END
			 WHERE id = $4`,
			model.TransactionStatusFor(st.Outcome), st.At, st.GatewayTxnID, w.TransactionID,
		)
		if err != nil {
			return model.Withdrawal{}, false, fmt.Errorf("update transaction: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.Withdrawal{}, false, fmt.Errorf("commit tx: %w", err)
	}
	w, err = s.GetWithdrawal(ctx, w.ID)
	return w, err == nil, err
}

func settleable(ctx context.Context, tx *sql.Tx, w model.Withdrawal) (bool, error) {
	switch w.Status {
	case model.StatusPending:
		return true, nil
	case model.StatusInitiated:
		var decision model.Decision
		err := tx.QueryRowContext(ctx,
			`SELECT decision FROM withdrawal_approvals WHERE withdrawal_id = $1`, w.ID).Scan(&decision)
		if errors.Is(err, sql.ErrNoRows) {
			return true, nil
		}
		if err != nil {
			return false, fmt.Errorf("get approval: %w", err)
		}
		return decision == model.DecisionApproved, nil
	}
	return false, nil
}

func (s *Store) CreateOrphanWithdrawal(ctx context.Context, w *model.Withdrawal) error {
	if w.Metadata == nil {
		w.Metadata = model.Metadata{}
	}
	w.Metadata[model.MetaOrphan] = true
	meta, err := encodeJSON(w.Metadata)
	if err != nil {
		return err
	}
	w.ID = uuid.NewString()
	w.Status = model.StatusPending
	var txnID sql.NullString
	if w.TransactionID != "" {
		txnID = sql.NullString{String: w.TransactionID, Valid: true}
	}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO withdrawals (id, reference, account_id, phone, amount, reason, remarks, initiator_name,
			initiator_phone, status, correlation_id, transaction_id, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12, $13)
		 RETURNING created_at, updated_at`,
		w.ID, w.Reference, w.AccountID, w.Phone, w.Amount, w.Reason, w.Remarks, w.Initiator.Name,
		w.Initiator.Phone, w.Status, w.CorrelationID, txnID, meta,
	).Scan(&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("insert orphan withdrawal: %w", err)
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (model.Transaction, error) {
	t, err := scanTransaction(s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
	if err != nil {
		return model.Transaction{}, notFound(err)
	}
	return t, nil
}

func (s *Store) FindTransactionByRef(ctx context.Context, ref string) (model.Transaction, error) {
	if ref == "" {
		return model.Transaction{}, store.ErrNotFound
	}
	t, err := scanTransaction(s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE external_ref = $1 ORDER BY created_at DESC LIMIT 1`, ref))
	if err != nil {
		return model.Transaction{}, notFound(err)
	}
	return t, nil
}

func (s *Store) RecordAnomaly(ctx context.Context, a *model.Anomaly) error {
	a.ID = uuid.NewString()
	var payload any
	if len(a.Payload) > 0 {
		payload = []byte(a.Payload)
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO reconciliation_anomalies (id, kind, correlation_id, reference, payload)
		 VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		a.ID, a.Kind, a.CorrelationID, a.Reference, payload,
	).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert anomaly: %w", err)
	}
	return nil
}

func (s *Store) PutCode(ctx context.Context, code model.OneTimeCode) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO otp_codes (phone, code_hash, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (phone) DO UPDATE SET code_hash = EXCLUDED.code_hash, expires_at = EXCLUDED.expires_at, attempts = 0`,
		code.Phone, code.CodeHash, code.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("put code: %w", err)
	}
	return nil
}

func (s *Store) ConsumeCode(ctx context.Context, phone string, check func(model.OneTimeCode) bool) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	code := model.OneTimeCode{Phone: phone}
	err = tx.QueryRowContext(ctx,
		`SELECT code_hash, expires_at, attempts FROM otp_codes WHERE phone = $1 FOR UPDATE`, phone,
	).Scan(&code.CodeHash, &code.ExpiresAt, &code.Attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get code: %w", err)
	}

	// The row lock serializes guesses for this phone only.
	matched := check(code)
	switch {
	case matched || code.Attempts+1 >= model.MaxCodeAttempts:
		_, err = tx.ExecContext(ctx, `DELETE FROM otp_codes WHERE phone = $1`, phone)
	default:
		_, err = tx.ExecContext(ctx, `UPDATE otp_codes SET attempts = attempts + 1 WHERE phone = $1`, phone)
	}
	if err != nil {
		return false, fmt.Errorf("record code attempt: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return matched, nil
}

func (s *Store) PurgeExpiredCodes(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM otp_codes WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge codes: %w", err)
	}
	return res.RowsAffected()
}

const approvalColumns = `withdrawal_id, approver_name, approver_phone, code_hash, code_expires_at, code_attempts,
	code_verified_at, decision, rejection_reason, decided_at, created_at`

func scanApproval(row rowScanner) (model.WithdrawalApproval, error) {
	var (
		a                            model.WithdrawalApproval
		expiresAt, verifiedAt, decAt sql.NullTime
	)
	err := row.Scan(&a.WithdrawalID, &a.ApproverName, &a.ApproverPhone, &a.CodeHash, &expiresAt, &a.CodeAttempts,
		&verifiedAt, &a.Decision, &a.RejectionReason, &decAt, &a.CreatedAt)
	if err != nil {
		return model.WithdrawalApproval{}, err
	}
	for _, p := range []struct {
		src sql.NullTime
		dst **time.Time
	}{{expiresAt, &a.CodeExpiresAt}, {verifiedAt, &a.CodeVerifiedAt}, {decAt, &a.DecidedAt}} {
		if p.src.Valid {
			t := p.src.Time
			*p.dst = &t
		}
	}
	return a, nil
}

func (s *Store) GetApproval(ctx context.Context, withdrawalID string) (model.WithdrawalApproval, error) {
	a, err := scanApproval(s.db.QueryRowContext(ctx,
		`SELECT `+approvalColumns+` FROM withdrawal_approvals WHERE withdrawal_id = $1`, withdrawalID))
	if err != nil {
		return model.WithdrawalApproval{}, notFound(err)
	}
	return a, nil
}

func (s *Store) UpdateApproval(ctx context.Context, withdrawalID string, fn func(*model.WithdrawalApproval) error) (model.WithdrawalApproval, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.WithdrawalApproval{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var status model.WithdrawalStatus
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM withdrawals WHERE id = $1 FOR UPDATE`, withdrawalID).Scan(&status)
	if err != nil {
		return model.WithdrawalApproval{}, notFound(err)
	}

	a, err := scanApproval(tx.QueryRowContext(ctx,
		`SELECT `+approvalColumns+` FROM withdrawal_approvals WHERE withdrawal_id = $1 FOR UPDATE`, withdrawalID))
	if err != nil {
		return model.WithdrawalApproval{}, notFound(err)
	}
	if status != model.StatusInitiated {
		return a, store.ErrStateConflict
	}

	if err := fn(&a); err != nil {
		return a, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE withdrawal_approvals
		 SET approver_name = $1, code_hash = $2, code_expires_at = $3, code_attempts = $4,
		     code_verified_at = $5, decision = $6, rejection_reason = $7, decided_at = $8
		 WHERE withdrawal_id = $9`,
		a.ApproverName, a.CodeHash, nullTime(a.CodeExpiresAt), a.CodeAttempts, nullTime(a.CodeVerifiedAt),
		a.Decision, a.RejectionReason, nullTime(a.DecidedAt), withdrawalID,
	)
	if err != nil {
		return model.WithdrawalApproval{}, fmt.Errorf("update approval: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.WithdrawalApproval{}, fmt.Errorf("commit tx: %w", err)
	}
	return a, nil
}

func (s *Store) ListStalePending(ctx context.Context, before time.Time, limit int) ([]model.Withdrawal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals
		 WHERE status = $1 AND updated_at < $2
		 ORDER BY updated_at ASC
		 LIMIT $3`,
		model.StatusPending, before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query stale: %w", err)
	}
	defer rows.Close()

	var withdrawals []model.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan withdrawal: %w", err)
		}
		withdrawals = append(withdrawals, w)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return withdrawals, nil
}

var _ store.Store = (*Store)(nil)
