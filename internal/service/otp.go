package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"golang.org/x/crypto/bcrypt"

	"chamapay/internal/model"
	"chamapay/internal/notify"
	"chamapay/internal/store"
)

const (
	DefaultCodeTTL = 10 * time.Minute
	codeDigits     = 6
)

var codeSpace = big.NewInt(1_000_000)

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

func wellFormedCode(code string) bool {
	if len(code) != codeDigits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// codeMatches compares the submitted string, not its numeric value, so
// "012345" and "12345" differ.
func codeMatches(hash []byte, code string) bool {
	return len(hash) > 0 && bcrypt.CompareHashAndPassword(hash, []byte(code)) == nil
}

// OTPGate issues and verifies single-use codes, one live code per phone.
type OTPGate struct {
	store    store.Store
	notifier notify.Notifier
	ttl      time.Duration
	cost     int
	now      func() time.Time
}

func NewOTPGate(st store.Store, n notify.Notifier, ttl time.Duration) *OTPGate {
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}
	return &OTPGate{
		store:    st,
		notifier: n,
		ttl:      ttl,
		cost:     bcrypt.DefaultCost,
		now:      time.Now,
	}
}

// RequestCode replaces any outstanding code for phone and delivers the new one.
func (g *OTPGate) RequestCode(ctx context.Context, phone string) error {
	phone, err := NormalizePhone(phone)
	if err != nil {
		return err
	}

	code, err := generateCode()
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), g.cost)
	if err != nil {
		return fmt.Errorf("hash code: %w", err)
	}

	err = g.store.PutCode(ctx, model.OneTimeCode{
		Phone:     phone,
		CodeHash:  hash,
		ExpiresAt: g.now().Add(g.ttl),
	})
	if err != nil {
		return fmt.Errorf("store code: %w", err)
	}

	if err := g.notifier.Notify(ctx, phone, notify.OTP(code, g.ttl)); err != nil {
		return fmt.Errorf("deliver code: %w", err)
	}
	slog.Info("otp issued", "phone", phone)
	return nil
}

// VerifyCode consumes the phone's code if it is unexpired and matches.
func (g *OTPGate) VerifyCode(ctx context.Context, phone, code string) (bool, error) {
	phone, err := NormalizePhone(phone)
	if err != nil || !wellFormedCode(code) {
		return false, nil
	}

	now := g.now()
	ok, err := g.store.ConsumeCode(ctx, phone, func(c model.OneTimeCode) bool {
		return now.Before(c.ExpiresAt) && codeMatches(c.CodeHash, code)
	})
	if err != nil {
		return false, fmt.Errorf("consume code: %w", err)
	}
	if !ok {
		slog.Warn("otp rejected", "phone", phone)
	}
	return ok, nil
}
