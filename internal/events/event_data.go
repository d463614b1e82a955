package events

import "time"

// EventData is the interface that all event data types must implement
// This allows for type-safe event data while maintaining flexibility
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// PriceUpdatedData contains data for PriceUpdated events
type PriceUpdatedData struct {
	AssetID   string    `json:"asset_id"`
	PriceUSD  float64   `json:"price_usd"`
	FetchedAt time.Time `json:"fetched_at"`
}

// EventType returns the event type for PriceUpdatedData
func (d *PriceUpdatedData) EventType() EventType {
	return PriceUpdated
}

// PriceRefreshCompletedData contains data for PriceRefreshCompleted events
type PriceRefreshCompletedData struct {
	Requested int      `json:"requested"`
	Updated   int      `json:"updated"`
	Failed    []string `json:"failed,omitempty"`
}

// EventType returns the event type for PriceRefreshCompletedData
func (d *PriceRefreshCompletedData) EventType() EventType {
	return PriceRefreshCompleted
}

// LedgerChangedData contains data for LedgerChanged events
type LedgerChangedData struct {
	PortfolioID   string `json:"portfolio_id"`
	Action        string `json:"action"` // transaction_added, transaction_updated, ...
	AssetID       string `json:"asset_id,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// EventType returns the event type for LedgerChangedData
func (d *LedgerChangedData) EventType() EventType {
	return LedgerChanged
}

// PortfolioLifecycleData contains data for PortfolioCreated and PortfolioDestroyed events
type PortfolioLifecycleData struct {
	PortfolioID string `json:"portfolio_id"`
	Destroyed   bool   `json:"destroyed"`
}

// EventType returns the event type for PortfolioLifecycleData
func (d *PortfolioLifecycleData) EventType() EventType {
	if d.Destroyed {
		return PortfolioDestroyed
	}
	return PortfolioCreated
}

// BackupCompletedData contains data for BackupCompleted events
type BackupCompletedData struct {
	PortfolioID string `json:"portfolio_id"`
	Key         string `json:"key"`
	SizeBytes   int    `json:"size_bytes"`
}

// EventType returns the event type for BackupCompletedData
func (d *BackupCompletedData) EventType() EventType {
	return BackupCompleted
}

// ErrorEventData contains data for ERROR events
type ErrorEventData struct {
	Error   string `json:"error"`
	Context string `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}
