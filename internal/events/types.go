// Package events provides the in-process event bus used to fan out price and ledger changes.
package events

import "time"

// EventType identifies a kind of event
type EventType string

const (
	// PriceUpdated is emitted when the price cache accepts a new price
	PriceUpdated EventType = "PRICE_UPDATED"
	// PriceRefreshCompleted is emitted after a scheduled or manual refresh run
	PriceRefreshCompleted EventType = "PRICE_REFRESH_COMPLETED"
	// LedgerChanged is emitted after any successful ledger write
	LedgerChanged EventType = "LEDGER_CHANGED"
	// PortfolioCreated is emitted when a portfolio ledger is first created
	PortfolioCreated EventType = "PORTFOLIO_CREATED"
	// PortfolioDestroyed is emitted when a portfolio ledger is removed
	PortfolioDestroyed EventType = "PORTFOLIO_DESTROYED"
	// BackupCompleted is emitted after a portfolio export is uploaded
	BackupCompleted EventType = "BACKUP_COMPLETED"
	// ErrorOccurred is emitted by the scheduler when a job run fails
	ErrorOccurred EventType = "ERROR"
)

// Event is a single emitted event
type Event struct {
	Type      EventType `json:"type"`
	Module    string    `json:"module"`
	Timestamp time.Time `json:"timestamp"`
	Data      EventData `json:"data"`
}
