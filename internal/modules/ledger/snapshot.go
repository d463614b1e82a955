package ledger

import (
	"fmt"
	"time"

	"github.com/aristath/cryptofolio/internal/domain"
	"github.com/vmihailenco/msgpack/v5"
)

// SnapshotVersion is the export format version written by EncodeSnapshot
const SnapshotVersion = 1

// Snapshot is the portable form of a whole portfolio ledger
type Snapshot struct {
	Version       int                   `msgpack:"version"`
	PortfolioID   string                `msgpack:"portfolio_id"`
	ExportedAt    time.Time             `msgpack:"exported_at"`
	TrackedAssets []domain.TrackedAsset `msgpack:"tracked_assets"`
	Transactions  []domain.Transaction  `msgpack:"transactions"`
}

// EncodeSnapshot serializes a snapshot to msgpack
func EncodeSnapshot(s *Snapshot) ([]byte, error) {
	if s.Version == 0 {
		s.Version = SnapshotVersion
	}
	data, err := msgpack.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses an export blob. Corrupt blobs and unknown
// versions are validation errors.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty snapshot", domain.ErrValidation)
	}

	var s Snapshot
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: corrupt snapshot: %v", domain.ErrValidation, err)
	}
	if s.Version < 1 || s.Version > SnapshotVersion {
		return nil, fmt.Errorf("%w: unsupported snapshot version %d", domain.ErrValidation, s.Version)
	}
	return &s, nil
}
