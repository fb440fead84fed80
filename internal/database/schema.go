package database

import (
	"database/sql"
	"fmt"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS operators (
    id UUID PRIMARY KEY,
    login TEXT UNIQUE NOT NULL,
    name TEXT NOT NULL,
    phone TEXT NOT NULL,
    password_hash BYTEA NOT NULL,
    capabilities TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS accounts (
    id UUID PRIMARY KEY,
    name TEXT NOT NULL,
    balance NUMERIC(14,2) NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'active',
    owner_type TEXT NOT NULL,
    created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS transactions (
    id UUID PRIMARY KEY,
    account_id UUID NOT NULL REFERENCES accounts(id),
    direction TEXT NOT NULL,
    amount NUMERIC(14,2) NOT NULL,
    status TEXT NOT NULL,
    external_ref TEXT NOT NULL DEFAULT '',
    metadata JSONB NOT NULL DEFAULT '{}',
    processed_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS withdrawals (
    id UUID PRIMARY KEY,
    reference TEXT UNIQUE NOT NULL,
    account_id UUID NOT NULL REFERENCES accounts(id),
    phone TEXT NOT NULL,
    amount NUMERIC(14,2) NOT NULL CHECK (amount > 0),
    reason TEXT NOT NULL,
    remarks TEXT NOT NULL DEFAULT '',
    initiator_id TEXT NOT NULL DEFAULT '',
    initiator_name TEXT NOT NULL,
    initiator_phone TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    correlation_id TEXT UNIQUE,
    result_code INTEGER,
    result_desc TEXT NOT NULL DEFAULT '',
    gateway_txn_id TEXT NOT NULL DEFAULT '',
    transaction_id UUID REFERENCES transactions(id),
    completed_at TIMESTAMPTZ,
    metadata JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS withdrawal_approvals (
    withdrawal_id UUID PRIMARY KEY REFERENCES withdrawals(id),
    approver_name TEXT NOT NULL DEFAULT '',
    approver_phone TEXT NOT NULL,
    code_hash BYTEA,
    code_expires_at TIMESTAMPTZ,
    code_attempts INTEGER NOT NULL DEFAULT 0,
    code_verified_at TIMESTAMPTZ,
    decision TEXT NOT NULL DEFAULT 'pending',
    rejection_reason TEXT NOT NULL DEFAULT '',
    decided_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS otp_codes (
    phone TEXT PRIMARY KEY,
    code_hash BYTEA NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS reconciliation_anomalies (
    id UUID PRIMARY KEY,
    kind TEXT NOT NULL,
    correlation_id TEXT NOT NULL DEFAULT '',
    reference TEXT NOT NULL DEFAULT '',
    payload JSONB,
    created_at TIMESTAMPTZ DEFAULT NOW()
);

ALTER TABLE withdrawals ADD COLUMN IF NOT EXISTS initiator_id TEXT NOT NULL DEFAULT '';
ALTER TABLE withdrawal_approvals ADD COLUMN IF NOT EXISTS code_attempts INTEGER NOT NULL DEFAULT 0;
ALTER TABLE otp_codes ADD COLUMN IF NOT EXISTS attempts INTEGER NOT NULL DEFAULT 0;

CREATE INDEX IF NOT EXISTS idx_withdrawals_account_id ON withdrawals(account_id);
CREATE INDEX IF NOT EXISTS idx_withdrawals_status ON withdrawals(status, updated_at);
CREATE INDEX IF NOT EXISTS idx_transactions_external_ref ON transactions(external_ref);
`

func InitSchema(db *sql.DB) error {
	_, err := db.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}
	return nil
}
