package models

import "github.com/shopspring/decimal"

// SettlementEvent is published to the transactions topic once a record leaves pending.
type SettlementEvent struct {
	EventType      string          `json:"event_type"`
	Reference      string          `json:"reference"`
	AccountID      int64           `json:"account_id"`
	ServiceSlug    string          `json:"service_slug"`
	Outcome        Outcome         `json:"outcome"`
	Reason         FailureReason   `json:"reason,omitempty"`
	CostCharged    decimal.Decimal `json:"cost_charged"`
	UpstreamStatus int             `json:"upstream_status,omitempty"`
	SettledAt      string          `json:"settled_at"`
}

// RechargeEvent is consumed from the recharges topic and credited to the account.
type RechargeEvent struct {
	AccountID int64           `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}
