package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountSuspended AccountStatus = "suspended"
	AccountClosed    AccountStatus = "closed"
)

// OwnerType classifies what the account collects for.
type OwnerType string

const (
	OwnerCampaign    OwnerType = "campaign"
	OwnerTicket      OwnerType = "ticket"
	OwnerMerchandise OwnerType = "merchandise"
	OwnerDues        OwnerType = "dues"
)

type Account struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Balance   decimal.Decimal `json:"balance"`
	Status    AccountStatus   `json:"status"`
	OwnerType OwnerType       `json:"owner_type"`
	CreatedAt time.Time       `json:"created_at"`
}
