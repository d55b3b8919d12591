package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountDisabled AccountStatus = "disabled"
)

type Account struct {
	ID             int64           `json:"id"`
	Username       string          `json:"username"`
	Balance        decimal.Decimal `json:"balance"`
	Status         AccountStatus   `json:"status"`
	CredentialHash string          `json:"-"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (a *Account) Active() bool {
	return a.Status == AccountActive
}
