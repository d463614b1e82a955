package ledger

import (
	"testing"
	"time"

	"github.com/aristath/cryptofolio/internal/domain"
	testingpkg "github.com/aristath/cryptofolio/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestSnapshot_EncodeDecode(t *testing.T) {
	snap := &Snapshot{
		PortfolioID:   "main",
		ExportedAt:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		TrackedAssets: testingpkg.NewTrackedAssetFixtures(),
		Transactions:  testingpkg.NewBitcoinFixtures(),
	}

	data, err := EncodeSnapshot(snap)
	require.NoError(t, err)

	decoded, err := DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, SnapshotVersion, decoded.Version)
	assert.Equal(t, "main", decoded.PortfolioID)
	assert.True(t, snap.ExportedAt.Equal(decoded.ExportedAt))
	require.Len(t, decoded.Transactions, 2)
	assert.Equal(t, domain.KindSell, decoded.Transactions[1].Kind)
	assert.Equal(t, 15000.0, decoded.Transactions[1].UnitPriceUSD)
}

func TestDecodeSnapshot_Rejects(t *testing.T) {
	future, err := msgpack.Marshal(&Snapshot{Version: SnapshotVersion + 1})
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"garbage", []byte("definitely not msgpack")},
		{"future version", future},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSnapshot(tt.data)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}
