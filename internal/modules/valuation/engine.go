// Package valuation computes holdings, investment and profit/loss from a
// portfolio's transactions and the price oracle. Nothing is cached between calls.
package valuation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/aristath/cryptofolio/internal/config"
	"github.com/aristath/cryptofolio/internal/domain"
	"github.com/aristath/cryptofolio/internal/utils"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
)

// LedgerReader gives read access to a portfolio's transactions in insertion order
type LedgerReader interface {
	ListTransactions(portfolioID string) ([]domain.Transaction, error)
}

// PriceSource returns the current price of an asset
type PriceSource interface {
	GetCurrentPrice(ctx context.Context, assetID string) (domain.PriceCacheEntry, error)
}

// Engine is the valuation engine
type Engine struct {
	ledger LedgerReader
	prices PriceSource
	mode   string
	log    zerolog.Logger
}

// NewEngine creates a valuation engine. An empty mode means cashflow accounting.
func NewEngine(ledger LedgerReader, prices PriceSource, mode string, log zerolog.Logger) *Engine {
	if mode == "" {
		mode = config.AccountingCashFlow
	}
	return &Engine{
		ledger: ledger,
		prices: prices,
		mode:   mode,
		log:    log.With().Str("component", "valuation").Logger(),
	}
}

// Mode returns the accounting mode in use
func (e *Engine) Mode() string {
	return e.mode
}

// ComputePortfolioValuation values every asset of a portfolio plus the summary.
// Assets appear in the order of their first transaction.
func (e *Engine) ComputePortfolioValuation(ctx context.Context, portfolioID string) (*domain.PortfolioValuation, error) {
	defer utils.OperationTimer("portfolio_valuation", 10*time.Second, e.log)()

	txs, err := e.ledger.ListTransactions(portfolioID)
	if err != nil {
		return nil, err
	}

	positions := Aggregate(txs, e.mode)
	perAsset := make([]domain.ValuationSnapshot, 0, len(positions))
	for _, p := range positions {
		perAsset = append(perAsset, e.valuePosition(ctx, portfolioID, p))
	}

	return &domain.PortfolioValuation{
		PortfolioID: portfolioID,
		PerAsset:    perAsset,
		Summary:     Summarize(perAsset),
	}, nil
}

// ComputeAssetValuation values a single asset. An asset without transactions values to zero.
func (e *Engine) ComputeAssetValuation(ctx context.Context, portfolioID, assetID string) (*domain.ValuationSnapshot, error) {
	txs, err := e.ledger.ListTransactions(portfolioID)
	if err != nil {
		return nil, err
	}

	assetTxs := make([]domain.Transaction, 0)
	for _, tx := range txs {
		if tx.AssetID == assetID {
			assetTxs = append(assetTxs, tx)
		}
	}

	positions := Aggregate(assetTxs, e.mode)
	if len(positions) == 0 {
		return &domain.ValuationSnapshot{AssetID: assetID}, nil
	}
	snap := e.valuePosition(ctx, portfolioID, positions[0])
	return &snap, nil
}

func (e *Engine) valuePosition(ctx context.Context, portfolioID string, p Position) domain.ValuationSnapshot {
	snap := domain.ValuationSnapshot{
		AssetID:       p.AssetID,
		AssetName:     p.AssetName,
		QuantityHeld:  p.QuantityHeld,
		InvestmentUSD: p.InvestmentUSD,
	}

	// Nothing held means nothing to price
	if p.QuantityHeld != 0 {
		entry, err := e.prices.GetCurrentPrice(ctx, p.AssetID)
		if err != nil {
			level := e.log.Warn()
			if errors.Is(err, context.Canceled) {
				level = e.log.Debug()
			}
			level.Err(err).
				Str("portfolio", portfolioID).
				Str("asset", p.AssetID).
				Msg("Current price unavailable, valuing at zero")
		} else {
			fetchedAt := entry.FetchedAt
			snap.CurrentPriceUSD = entry.PriceUSD
			snap.PriceAvailable = true
			snap.PriceFetchedAt = &fetchedAt
		}
	} else {
		snap.PriceAvailable = true
	}

	snap.CurrentValueUSD = p.QuantityHeld * snap.CurrentPriceUSD
	snap.ProfitLossUSD = snap.CurrentValueUSD - snap.InvestmentUSD
	snap.ProfitLossPct = percent(snap.ProfitLossUSD, snap.InvestmentUSD)
	return snap
}

// Summarize sums investment and current value across assets and re-derives P/L from the sums
func Summarize(perAsset []domain.ValuationSnapshot) domain.ValuationSnapshot {
	investments := make([]float64, len(perAsset))
	values := make([]float64, len(perAsset))
	available := true
	for i, s := range perAsset {
		investments[i] = s.InvestmentUSD
		values[i] = s.CurrentValueUSD
		available = available && s.PriceAvailable
	}

	summary := domain.ValuationSnapshot{
		InvestmentUSD:   floats.Sum(investments),
		CurrentValueUSD: floats.Sum(values),
		PriceAvailable:  available,
	}
	summary.ProfitLossUSD = summary.CurrentValueUSD - summary.InvestmentUSD
	summary.ProfitLossPct = percent(summary.ProfitLossUSD, summary.InvestmentUSD)
	return summary
}

// percent is part/whole*100, defined as 0 when whole is 0
func percent(part, whole float64) float64 {
	if whole == 0 {
		return 0
	}
	pct := part / whole * 100
	if math.IsNaN(pct) || math.IsInf(pct, 0) {
		return 0
	}
	return pct
}

// Position is the replayed state of one asset
type Position struct {
	AssetID       string
	AssetName     string
	QuantityHeld  float64
	InvestmentUSD float64
}

// Aggregate replays transactions in order and returns one position per asset,
// ordered by first appearance.
//
// In cashflow mode investment is Σ buy unit×qty − Σ sell unit×qty.
// In average_cost mode a sell removes the running average cost of the units sold,
// capped at the quantity held.
func Aggregate(txs []domain.Transaction, mode string) []Position {
	index := make(map[string]int)
	positions := make([]Position, 0)

	for _, tx := range txs {
		i, ok := index[tx.AssetID]
		if !ok {
			i = len(positions)
			index[tx.AssetID] = i
			positions = append(positions, Position{AssetID: tx.AssetID, AssetName: tx.AssetName})
		}
		p := &positions[i]
		if p.AssetName == "" {
			p.AssetName = tx.AssetName
		}

		switch tx.Kind {
		case domain.KindBuy:
			p.InvestmentUSD += tx.UnitPriceUSD * tx.Quantity
			p.QuantityHeld += tx.Quantity
		case domain.KindSell:
			if mode == config.AccountingAverageCost {
				if p.QuantityHeld > 0 {
					sold := math.Min(tx.Quantity, p.QuantityHeld)
					p.InvestmentUSD -= p.InvestmentUSD / p.QuantityHeld * sold
				}
			} else {
				p.InvestmentUSD -= tx.UnitPriceUSD * tx.Quantity
			}
			p.QuantityHeld -= tx.Quantity
		}
	}

	return positions
}

// CheckRunningBalance replays an asset's transactions in order and fails if
// the held quantity ever drops below zero
func CheckRunningBalance(txs []domain.Transaction) error {
	balances := make(map[string]float64)
	for _, tx := range txs {
		balances[tx.AssetID] += tx.SignedQuantity()
		// Tolerate float noise from fractional quantities
		if balances[tx.AssetID] < -1e-9 {
			return fmt.Errorf("%w: selling %v %s on %s would leave a negative balance of %v",
				domain.ErrValidation, tx.Quantity, tx.AssetID, tx.OccurredOn, balances[tx.AssetID])
		}
	}
	return nil
}
