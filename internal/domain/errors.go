package domain

import "errors"

// Error kinds shared across the ledger, oracle and valuation layers.
// Packages wrap these with fmt.Errorf("%w: ...") and callers match with errors.Is.
var (
	// ErrValidation marks malformed input (non-positive quantity, negative price, bad kind)
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks an unknown portfolio, transaction or asset
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists marks a duplicate tracked asset
	ErrAlreadyExists = errors.New("already exists")
	// ErrProvider marks a market-data provider failure after retries were exhausted
	ErrProvider = errors.New("market data provider error")
	// ErrRateLimited marks a provider that kept answering 429; callers should retry later
	ErrRateLimited = errors.New("market data provider rate limited")
	// ErrPriceUnavailable marks that no price (current or historical) could be obtained
	ErrPriceUnavailable = errors.New("price unavailable")
	// ErrBackupsDisabled marks a backup operation on a server with no bucket configured
	ErrBackupsDisabled = errors.New("backups are not configured")
	// ErrJobRunning marks a manual job run requested while the job is still running
	ErrJobRunning = errors.New("job is already running")
)
