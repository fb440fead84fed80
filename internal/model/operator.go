package model

import "time"

const (
	CapInitiate  = "withdrawals:initiate"
	CapRead      = "withdrawals:read"
	CapApprove   = "withdrawals:approve"
	CapAccounts  = "accounts:manage"
	CapOperators = "operators:manage"
)

// AllCapabilities is granted to the bootstrap administrator.
var AllCapabilities = []string{CapInitiate, CapRead, CapApprove, CapAccounts, CapOperators}

func (o Operator) Can(capability string) bool {
	for _, c := range o.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

func KnownCapability(c string) bool {
	for _, k := range AllCapabilities {
		if k == c {
			return true
		}
	}
	return false
}

// Operator is a platform staff member allowed to move money.
type Operator struct {
	ID           string    `json:"id"`
	Login        string    `json:"login"`
	Name         string    `json:"name"`
	Phone        string    `json:"phone"`
	PasswordHash []byte    `json:"-"`
	Capabilities []string  `json:"capabilities"`
	CreatedAt    time.Time `json:"created_at"`
}
