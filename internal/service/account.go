package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"chamapay/internal/model"
	"chamapay/internal/store"
)

type AccountService struct {
	store store.Store
}

func NewAccountService(st store.Store) *AccountService {
	return &AccountService{store: st}
}

type CreateAccountRequest struct {
	ID        string
	Name      string
	OwnerType string
	Balance   decimal.Decimal
}

func (s *AccountService) Create(ctx context.Context, req CreateAccountRequest) (model.Account, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return model.Account{}, fmt.Errorf("%w: account name required", ErrValidation)
	}
	if req.Balance.IsNegative() {
		return model.Account{}, fmt.Errorf("%w: balance cannot be negative", ErrValidation)
	}
	owner := model.OwnerType(req.OwnerType)
	switch owner {
	case model.OwnerCampaign, model.OwnerTicket, model.OwnerMerchandise, model.OwnerDues:
	case "":
		owner = model.OwnerCampaign
	default:
		return model.Account{}, fmt.Errorf("%w: unknown owner type %q", ErrValidation, req.OwnerType)
	}

	a := model.Account{
		ID:        strings.TrimSpace(req.ID),
		Name:      name,
		Balance:   req.Balance,
		Status:    model.AccountActive,
		OwnerType: owner,
	}
	if err := s.store.CreateAccount(ctx, &a); err != nil {
		return model.Account{}, fmt.Errorf("create account: %w", err)
	}
	return a, nil
}

func (s *AccountService) Get(ctx context.Context, id string) (model.Account, error) {
	a, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return model.Account{}, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}
