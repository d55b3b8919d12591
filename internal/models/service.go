package models

import "github.com/shopspring/decimal"

// URLMode selects how the outbound URL is assembled from the endpoint template.
type URLMode string

const (
	URLModeStandard      URLMode = "standard"
	URLModeBilledUtility URLMode = "billed-utility"
)

type Service struct {
	ID               int64           `json:"id"`
	Slug             string          `json:"slug"`
	Name             string          `json:"name"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
	EndpointTemplate string          `json:"endpoint_template"`
	URLMode          URLMode         `json:"url_mode"`
	// SuccessField is a gjson path into the provider body. Empty means any 2xx is a success.
	SuccessField string `json:"success_field,omitempty"`
	Enabled      bool   `json:"enabled"`
}
