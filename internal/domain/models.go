// Package domain holds the core types shared by the ledger, price oracle and valuation engine.
package domain

import (
	"fmt"
	"time"
)

// TransactionKind is the direction of a transaction
type TransactionKind string

const (
	KindBuy  TransactionKind = "buy"
	KindSell TransactionKind = "sell"
)

// DateLayout is the wire and storage layout of OccurredOn
const DateLayout = "2006-01-02"

// ParseKind normalises a user supplied kind
func ParseKind(s string) (TransactionKind, error) {
	switch TransactionKind(s) {
	case KindBuy, KindSell:
		return TransactionKind(s), nil
	}
	return "", fmt.Errorf("%w: kind must be %q or %q, got %q", ErrValidation, KindBuy, KindSell, s)
}

// Transaction is a single buy or sell recorded in a portfolio ledger
type Transaction struct {
	ID                string          `json:"id" msgpack:"id"`
	PortfolioID       string          `json:"portfolio_id" msgpack:"-"`
	AssetID           string          `json:"asset_id" msgpack:"asset_id"`
	AssetName         string          `json:"asset_name" msgpack:"asset_name"`
	Quantity          float64         `json:"quantity" msgpack:"quantity"`
	UnitPriceUSD      float64         `json:"unit_price_usd" msgpack:"unit_price_usd"`
	Kind              TransactionKind `json:"kind" msgpack:"kind"`
	Venue             string          `json:"venue" msgpack:"venue"`
	OccurredOn        string          `json:"occurred_on" msgpack:"occurred_on"` // YYYY-MM-DD
	CostBasisPriceUSD float64         `json:"cost_basis_price_usd" msgpack:"cost_basis_price_usd"`
	CreatedAt         time.Time       `json:"created_at" msgpack:"created_at"`
}

// Validate checks the invariants every stored transaction must satisfy
func (t Transaction) Validate() error {
	if t.AssetID == "" {
		return fmt.Errorf("%w: asset id is required", ErrValidation)
	}
	if !(t.Quantity > 0) {
		return fmt.Errorf("%w: quantity must be positive, got %v", ErrValidation, t.Quantity)
	}
	if !(t.UnitPriceUSD >= 0) {
		return fmt.Errorf("%w: unit price must not be negative, got %v", ErrValidation, t.UnitPriceUSD)
	}
	if !(t.CostBasisPriceUSD >= 0) {
		return fmt.Errorf("%w: cost basis price must not be negative, got %v", ErrValidation, t.CostBasisPriceUSD)
	}
	if _, err := ParseKind(string(t.Kind)); err != nil {
		return err
	}
	if _, err := time.Parse(DateLayout, t.OccurredOn); err != nil {
		return fmt.Errorf("%w: occurred_on must be YYYY-MM-DD, got %q", ErrValidation, t.OccurredOn)
	}
	return nil
}

// SignedQuantity returns the quantity with the sign of its effect on holdings
func (t Transaction) SignedQuantity() float64 {
	if t.Kind == KindSell {
		return -t.Quantity
	}
	return t.Quantity
}

// TrackedAsset is an asset a portfolio is configured to watch
type TrackedAsset struct {
	PortfolioID string    `json:"portfolio_id" msgpack:"-"`
	AssetID     string    `json:"asset_id" msgpack:"asset_id"`
	DisplayName string    `json:"display_name" msgpack:"display_name"`
	AddedAt     time.Time `json:"added_at" msgpack:"added_at"`
}

// PriceCacheEntry is the latest known USD price of an asset
type PriceCacheEntry struct {
	AssetID   string    `json:"asset_id"`
	PriceUSD  float64   `json:"price_usd"`
	FetchedAt time.Time `json:"fetched_at"`
}

// ValuationSnapshot is a derived, never stored, valuation of one asset or a whole portfolio
type ValuationSnapshot struct {
	AssetID         string     `json:"asset_id,omitempty"`
	AssetName       string     `json:"asset_name,omitempty"`
	QuantityHeld    float64    `json:"quantity_held"`
	InvestmentUSD   float64    `json:"investment_usd"`
	CurrentPriceUSD float64    `json:"current_price_usd,omitempty"`
	CurrentValueUSD float64    `json:"current_value_usd"`
	ProfitLossUSD   float64    `json:"profit_loss_usd"`
	ProfitLossPct   float64    `json:"profit_loss_pct"`
	PriceAvailable  bool       `json:"price_available"`
	PriceFetchedAt  *time.Time `json:"price_fetched_at,omitempty"`
}

// PortfolioValuation is the per-asset breakdown plus the aggregate summary
type PortfolioValuation struct {
	PortfolioID string              `json:"portfolio_id"`
	PerAsset    []ValuationSnapshot `json:"per_asset"`
	Summary     ValuationSnapshot   `json:"summary"`
}
