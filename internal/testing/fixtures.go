package testing

import (
	"time"

	"github.com/aristath/cryptofolio/internal/domain"
)

// NewTransactionFixture returns a valid transaction that tests can tweak
func NewTransactionFixture(assetID string, kind domain.TransactionKind, quantity, unitPrice float64) domain.Transaction {
	return domain.Transaction{
		AssetID:           assetID,
		AssetName:         assetID,
		Quantity:          quantity,
		UnitPriceUSD:      unitPrice,
		Kind:              kind,
		Venue:             "test-exchange",
		OccurredOn:        "2024-01-15",
		CostBasisPriceUSD: unitPrice,
	}
}

// NewBitcoinFixtures returns the canonical two-trade bitcoin history:
// buy 2 @ 10000 then sell 1 @ 15000
func NewBitcoinFixtures() []domain.Transaction {
	buy := NewTransactionFixture("bitcoin", domain.KindBuy, 2, 10000)
	buy.AssetName = "Bitcoin"
	buy.OccurredOn = "2024-01-01"

	sell := NewTransactionFixture("bitcoin", domain.KindSell, 1, 15000)
	sell.AssetName = "Bitcoin"
	sell.OccurredOn = "2024-02-01"

	return []domain.Transaction{buy, sell}
}

// NewTrackedAssetFixtures returns a few tracked assets added a second apart
func NewTrackedAssetFixtures() []domain.TrackedAsset {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return []domain.TrackedAsset{
		{AssetID: "bitcoin", DisplayName: "Bitcoin", AddedAt: base},
		{AssetID: "ethereum", DisplayName: "Ethereum", AddedAt: base.Add(time.Second)},
		{AssetID: "solana", DisplayName: "Solana", AddedAt: base.Add(2 * time.Second)},
	}
}
