package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Transaction struct {
	Reference      string          `json:"reference"`
	AccountID      int64           `json:"account_id"`
	ServiceID      int64           `json:"service_id"`
	ServiceSlug    string          `json:"service_slug"`
	InputPayload   string          `json:"input_payload"`
	BillerID       string          `json:"biller_id,omitempty"`
	Outcome        Outcome         `json:"outcome"`
	Reason         FailureReason   `json:"reason,omitempty"`
	CostCharged    decimal.Decimal `json:"cost_charged"`
	UpstreamStatus int             `json:"upstream_status,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	SettledAt      *time.Time      `json:"settled_at,omitempty"`
}

type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

type FailureReason string

const (
	ReasonUpstreamError                 FailureReason = "UpstreamError"
	ReasonTimeout                       FailureReason = "Timeout"
	ReasonNetworkFailure                FailureReason = "NetworkFailure"
	ReasonResponseTooLarge              FailureReason = "ResponseTooLarge"
	ReasonInsufficientFundsAtSettlement FailureReason = "InsufficientFundsAtSettlement"
	ReasonAccountDisabledAtSettlement   FailureReason = "AccountDisabledAtSettlement"
	ReasonUnsettled                     FailureReason = "failed-unsettled"
)

func (t *Transaction) Settled() bool {
	return t.Outcome != OutcomePending
}
