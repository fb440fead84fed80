package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"chamapay/internal/model"
	"chamapay/internal/store"
)

type AuthService struct {
	store store.Store
	cost  int
}

func NewAuthService(st store.Store) *AuthService {
	return &AuthService{store: st, cost: bcrypt.DefaultCost}
}

type RegisterRequest struct {
	Login        string
	Password     string
	Name         string
	Phone        string
	Capabilities []string
}

func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (model.Operator, error) {
	login := strings.TrimSpace(req.Login)
	if login == "" || req.Password == "" {
		return model.Operator{}, fmt.Errorf("%w: login and password required", ErrValidation)
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return model.Operator{}, fmt.Errorf("%w: name required", ErrValidation)
	}
	phone, err := NormalizePhone(req.Phone)
	if err != nil {
		return model.Operator{}, err
	}
	for _, c := range req.Capabilities {
		if !model.KnownCapability(c) {
			return model.Operator{}, fmt.Errorf("%w: unknown capability %q", ErrValidation, c)
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return model.Operator{}, fmt.Errorf("hash password: %w", err)
	}

	op := model.Operator{
		Login:        login,
		Name:         name,
		Phone:        phone,
		PasswordHash: hash,
		Capabilities: req.Capabilities,
	}
	if err := s.store.CreateOperator(ctx, &op); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return model.Operator{}, ErrLoginExists
		}
		return model.Operator{}, fmt.Errorf("insert operator: %w", err)
	}
	return op, nil
}

func (s *AuthService) Authenticate(ctx context.Context, login, password string) (model.Operator, error) {
	op, err := s.store.GetOperatorByLogin(ctx, strings.TrimSpace(login))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Operator{}, ErrInvalidCredentials
		}
		return model.Operator{}, fmt.Errorf("get operator: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword(op.PasswordHash, []byte(password)); err != nil {
		return model.Operator{}, ErrInvalidCredentials
	}
	return op, nil
}

// EnsureAdmin creates the bootstrap operator with every capability unless the
// login is already taken.
func (s *AuthService) EnsureAdmin(ctx context.Context, req RegisterRequest) error {
	req.Capabilities = model.AllCapabilities
	_, err := s.Register(ctx, req)
	if errors.Is(err, ErrLoginExists) {
		return nil
	}
	return err
}
