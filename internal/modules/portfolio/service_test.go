package portfolio

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aristath/cryptofolio/internal/domain"
	"github.com/aristath/cryptofolio/internal/events"
	"github.com/aristath/cryptofolio/internal/modules/ledger"
	"github.com/aristath/cryptofolio/internal/modules/prices"
	"github.com/aristath/cryptofolio/internal/modules/valuation"
	"github.com/aristath/cryptofolio/internal/reliability"
	testingpkg "github.com/aristath/cryptofolio/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) ResolveAssetID(ctx context.Context, nameOrID string) (prices.AssetRef, error) {
	args := m.Called(nameOrID)
	return args.Get(0).(prices.AssetRef), args.Error(1)
}

func (m *mockResolver) GetHistoricalPrice(ctx context.Context, assetID string, date time.Time) (float64, error) {
	args := m.Called(assetID, date.Format(domain.DateLayout))
	return args.Get(0).(float64), args.Error(1)
}

var (
	bitcoinRef  = prices.AssetRef{ID: "bitcoin", Name: "Bitcoin", Symbol: "btc"}
	ethereumRef = prices.AssetRef{ID: "ethereum", Name: "Ethereum", Symbol: "eth"}
)

type testEnv struct {
	svc      *Service
	resolver *mockResolver
	manager  *ledger.Manager
	bus      *events.Bus
	changes  []events.LedgerChangedData
}

func newTestEnv(t *testing.T, opts Options, backups BackupStore) *testEnv {
	t.Helper()
	log := testingpkg.NewTestLogger(t)

	manager, err := ledger.NewManager(t.TempDir(), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	env := &testEnv{
		resolver: &mockResolver{},
		manager:  manager,
		bus:      events.NewBus(log),
	}
	env.bus.Subscribe(events.LedgerChanged, func(e *events.Event) {
		env.changes = append(env.changes, *e.Data.(*events.LedgerChangedData))
	})
	env.svc = NewService(manager, env.resolver, backups, env.bus, opts, log)

	_, err = env.svc.Initialize("main")
	require.NoError(t, err)
	return env
}

func buyInput(asset string, qty, price float64, date string) TransactionInput {
	return TransactionInput{Asset: asset, Quantity: qty, UnitPriceUSD: price, Kind: "buy", Venue: "kraken", OccurredOn: date}
}

func sellInput(asset string, qty, price float64, date string) TransactionInput {
	in := buyInput(asset, qty, price, date)
	in.Kind = "sell"
	return in
}

func TestService_AddTransactionSnapshotsCostBasis(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)
	env.resolver.On("ResolveAssetID", "Bitcoin").Return(bitcoinRef, nil)
	env.resolver.On("GetHistoricalPrice", "bitcoin", "2024-01-01").Return(9500.0, nil)

	tx, err := env.svc.AddTransaction(context.Background(), "main", buyInput("Bitcoin", 2, 10000, "2024-01-01"))
	require.NoError(t, err)

	assert.NotEmpty(t, tx.ID)
	assert.Equal(t, "bitcoin", tx.AssetID)
	assert.Equal(t, "Bitcoin", tx.AssetName)
	assert.Equal(t, 10000.0, tx.UnitPriceUSD)
	assert.Equal(t, 9500.0, tx.CostBasisPriceUSD)

	require.Len(t, env.changes, 1)
	assert.Equal(t, ActionTransactionAdded, env.changes[0].Action)
	assert.Equal(t, tx.ID, env.changes[0].TransactionID)
}

func TestService_AddTransactionFallsBackToUnitPrice(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)
	env.resolver.On("ResolveAssetID", "bitcoin").Return(bitcoinRef, nil)
	env.resolver.On("GetHistoricalPrice", "bitcoin", "2024-01-01").
		Return(0.0, fmt.Errorf("%w: provider down", domain.ErrPriceUnavailable))

	tx, err := env.svc.AddTransaction(context.Background(), "main", buyInput("bitcoin", 1, 42000, "2024-01-01"))
	require.NoError(t, err)
	assert.Equal(t, 42000.0, tx.CostBasisPriceUSD)
}

func TestService_AddTransactionExplicitCostBasis(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)
	env.resolver.On("ResolveAssetID", "bitcoin").Return(bitcoinRef, nil)

	in := buyInput("bitcoin", 1, 42000, "2024-01-01")
	basis := 41000.0
	in.CostBasisPriceUSD = &basis

	tx, err := env.svc.AddTransaction(context.Background(), "main", in)
	require.NoError(t, err)
	assert.Equal(t, 41000.0, tx.CostBasisPriceUSD)
	env.resolver.AssertNotCalled(t, "GetHistoricalPrice", mock.Anything, mock.Anything)
}

func TestService_AddTransactionValidatesBeforeResolving(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)

	tests := []struct {
		name string
		in   TransactionInput
	}{
		{"zero quantity", buyInput("bitcoin", 0, 1, "2024-01-01")},
		{"negative quantity", buyInput("bitcoin", -1, 1, "2024-01-01")},
		{"negative price", buyInput("bitcoin", 1, -1, "2024-01-01")},
		{"bad kind", TransactionInput{Asset: "bitcoin", Quantity: 1, Kind: "gift", OccurredOn: "2024-01-01"}},
		{"bad date", buyInput("bitcoin", 1, 1, "01/02/2024")},
		{"missing asset", buyInput("  ", 1, 1, "2024-01-01")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.AddTransaction(context.Background(), "main", tt.in)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
	env.resolver.AssertNotCalled(t, "ResolveAssetID", mock.Anything)
}

func TestService_AddTransactionPropagatesResolutionErrors(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)
	env.resolver.On("ResolveAssetID", "notacoin").
		Return(prices.AssetRef{}, fmt.Errorf("%w: no asset matches %q", domain.ErrNotFound, "notacoin"))
	env.resolver.On("ResolveAssetID", "bitcoin").
		Return(prices.AssetRef{}, fmt.Errorf("%w: search", domain.ErrRateLimited))

	_, err := env.svc.AddTransaction(context.Background(), "main", buyInput("notacoin", 1, 1, "2024-01-01"))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = env.svc.AddTransaction(context.Background(), "main", buyInput("bitcoin", 1, 1, "2024-01-01"))
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	txs, err := env.svc.ListTransactions("main")
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestService_AddTransactionUnknownPortfolio(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)

	_, err := env.svc.AddTransaction(context.Background(), "nope", buyInput("bitcoin", 1, 1, "2024-01-01"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestService_TrackedAssetsResolveLocally(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)
	env.resolver.On("ResolveAssetID", "Bitcoin").Return(bitcoinRef, nil).Once()
	env.resolver.On("GetHistoricalPrice", "bitcoin", mock.Anything).Return(100.0, nil)

	_, err := env.svc.AddTrackedAsset(context.Background(), "main", "Bitcoin")
	require.NoError(t, err)

	for _, name := range []string{"bitcoin", "BITCOIN", "Bitcoin"} {
		tx, err := env.svc.AddTransaction(context.Background(), "main", buyInput(name, 1, 100, "2024-01-01"))
		require.NoError(t, err)
		assert.Equal(t, "bitcoin", tx.AssetID)
	}
	env.resolver.AssertNumberOfCalls(t, "ResolveAssetID", 1)
}

func TestService_OversellPolicy(t *testing.T) {
	for _, reject := range []bool{false, true} {
		t.Run(fmt.Sprintf("reject=%v", reject), func(t *testing.T) {
			env := newTestEnv(t, Options{RejectOversell: reject}, nil)
			env.resolver.On("ResolveAssetID", "bitcoin").Return(bitcoinRef, nil)
			env.resolver.On("GetHistoricalPrice", "bitcoin", mock.Anything).Return(0.0, domain.ErrPriceUnavailable)

			_, err := env.svc.AddTransaction(context.Background(), "main", buyInput("bitcoin", 1, 100, "2024-01-01"))
			require.NoError(t, err)

			_, err = env.svc.AddTransaction(context.Background(), "main", sellInput("bitcoin", 2, 100, "2024-01-02"))
			if reject {
				assert.ErrorIs(t, err, domain.ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestService_UpdateTransaction(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)
	env.resolver.On("ResolveAssetID", "bitcoin").Return(bitcoinRef, nil)
	env.resolver.On("ResolveAssetID", "ethereum").Return(ethereumRef, nil)
	env.resolver.On("GetHistoricalPrice", "bitcoin", "2024-01-01").Return(9000.0, nil)
	env.resolver.On("GetHistoricalPrice", "bitcoin", "2024-03-01").Return(11000.0, nil)
	env.resolver.On("GetHistoricalPrice", "ethereum", "2024-03-01").Return(3000.0, nil)

	tx, err := env.svc.AddTransaction(context.Background(), "main", buyInput("bitcoin", 1, 10000, "2024-01-01"))
	require.NoError(t, err)

	t.Run("same asset and date keeps cost basis", func(t *testing.T) {
		updated, err := env.svc.UpdateTransaction(context.Background(), "main", tx.ID, buyInput("Bitcoin", 3, 10500, "2024-01-01"))
		require.NoError(t, err)
		assert.Equal(t, 3.0, updated.Quantity)
		assert.Equal(t, 10500.0, updated.UnitPriceUSD)
		assert.Equal(t, 9000.0, updated.CostBasisPriceUSD)
		assert.Equal(t, tx.CreatedAt.UnixNano(), updated.CreatedAt.UnixNano())
	})

	t.Run("date change re-snapshots", func(t *testing.T) {
		updated, err := env.svc.UpdateTransaction(context.Background(), "main", tx.ID, buyInput("bitcoin", 3, 10500, "2024-03-01"))
		require.NoError(t, err)
		assert.Equal(t, 11000.0, updated.CostBasisPriceUSD)
	})

	t.Run("asset change re-resolves", func(t *testing.T) {
		updated, err := env.svc.UpdateTransaction(context.Background(), "main", tx.ID, buyInput("ethereum", 3, 2900, "2024-03-01"))
		require.NoError(t, err)
		assert.Equal(t, "ethereum", updated.AssetID)
		assert.Equal(t, "Ethereum", updated.AssetName)
		assert.Equal(t, 3000.0, updated.CostBasisPriceUSD)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := env.svc.UpdateTransaction(context.Background(), "main", "missing", buyInput("bitcoin", 1, 1, "2024-01-01"))
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	txs, err := env.svc.ListTransactions("main")
	require.NoError(t, err)
	require.Len(t, txs, 1)
}

func TestService_DeleteTransaction(t *testing.T) {
	env := newTestEnv(t, Options{RejectOversell: true}, nil)
	env.resolver.On("ResolveAssetID", "bitcoin").Return(bitcoinRef, nil)
	env.resolver.On("GetHistoricalPrice", "bitcoin", mock.Anything).Return(100.0, nil)

	buy, err := env.svc.AddTransaction(context.Background(), "main", buyInput("bitcoin", 2, 100, "2024-01-01"))
	require.NoError(t, err)
	sell, err := env.svc.AddTransaction(context.Background(), "main", sellInput("bitcoin", 1, 150, "2024-02-01"))
	require.NoError(t, err)

	// the sell depends on the buy
	assert.ErrorIs(t, env.svc.DeleteTransaction("main", buy.ID), domain.ErrValidation)

	require.NoError(t, env.svc.DeleteTransaction("main", sell.ID))
	require.NoError(t, env.svc.DeleteTransaction("main", buy.ID))
	assert.ErrorIs(t, env.svc.DeleteTransaction("main", buy.ID), domain.ErrNotFound)

	txs, err := env.svc.ListTransactions("main")
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestService_TrackedAssetLifecycle(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)
	env.resolver.On("ResolveAssetID", "Bitcoin").Return(bitcoinRef, nil)
	env.resolver.On("ResolveAssetID", "dogecoin").
		Return(prices.AssetRef{}, fmt.Errorf("%w: dogecoin", domain.ErrNotFound))
	env.resolver.On("GetHistoricalPrice", "bitcoin", mock.Anything).Return(100.0, nil)

	asset, err := env.svc.AddTrackedAsset(context.Background(), "main", "Bitcoin")
	require.NoError(t, err)
	assert.Equal(t, "bitcoin", asset.AssetID)
	assert.Equal(t, "Bitcoin", asset.DisplayName)

	_, err = env.svc.AddTrackedAsset(context.Background(), "main", "Bitcoin")
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	_, err = env.svc.AddTrackedAsset(context.Background(), "main", "dogecoin")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = env.svc.AddTransaction(context.Background(), "main", buyInput("bitcoin", 1, 100, "2024-01-01"))
	require.NoError(t, err)
	_, err = env.svc.AddTransaction(context.Background(), "main", buyInput("bitcoin", 1, 100, "2024-01-02"))
	require.NoError(t, err)

	removed, err := env.svc.RemoveTrackedAsset("main", "bitcoin")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	txs, err := env.svc.ListTransactions("main")
	require.NoError(t, err)
	assert.Empty(t, txs)

	_, err = env.svc.RemoveTrackedAsset("main", "bitcoin")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestService_RemovedAssetLeavesValuation(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)
	env.resolver.On("ResolveAssetID", "Bitcoin").Return(bitcoinRef, nil)
	env.resolver.On("ResolveAssetID", "Ethereum").Return(ethereumRef, nil)
	env.resolver.On("GetHistoricalPrice", mock.Anything, mock.Anything).Return(0.0, domain.ErrPriceUnavailable)

	for _, name := range []string{"Bitcoin", "Ethereum"} {
		_, err := env.svc.AddTrackedAsset(context.Background(), "main", name)
		require.NoError(t, err)
	}
	for _, in := range []TransactionInput{
		buyInput("bitcoin", 2, 10000, "2024-01-01"),
		buyInput("ethereum", 3, 1800, "2024-01-02"),
		sellInput("bitcoin", 1, 15000, "2024-02-01"),
	} {
		_, err := env.svc.AddTransaction(context.Background(), "main", in)
		require.NoError(t, err)
	}

	engine := valuation.NewEngine(env.svc,
		testingpkg.NewStaticPriceSource(map[string]float64{"bitcoin": 20000, "ethereum": 2000}), "", testingpkg.NewTestLogger(t))

	before, err := engine.ComputePortfolioValuation(context.Background(), "main")
	require.NoError(t, err)
	require.Len(t, before.PerAsset, 2)

	removed, err := env.svc.RemoveTrackedAsset("main", "bitcoin")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	after, err := engine.ComputePortfolioValuation(context.Background(), "main")
	require.NoError(t, err)
	require.Len(t, after.PerAsset, 1)

	eth := after.PerAsset[0]
	assert.Equal(t, "ethereum", eth.AssetID)
	assert.InDelta(t, 5400, eth.InvestmentUSD, 1e-9)
	assert.InDelta(t, 6000, eth.CurrentValueUSD, 1e-9)

	assert.InDelta(t, eth.InvestmentUSD, after.Summary.InvestmentUSD, 1e-9)
	assert.InDelta(t, eth.CurrentValueUSD, after.Summary.CurrentValueUSD, 1e-9)
	assert.InDelta(t, eth.ProfitLossUSD, after.Summary.ProfitLossUSD, 1e-9)
	assert.InDelta(t, eth.ProfitLossPct, after.Summary.ProfitLossPct, 1e-9)
}

func TestService_ResolvesTrackedAssetIgnoringCase(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)
	env.resolver.On("ResolveAssetID", "Bitcoin").Return(bitcoinRef, nil).Once()
	env.resolver.On("GetHistoricalPrice", "bitcoin", mock.Anything).Return(0.0, domain.ErrPriceUnavailable)

	_, err := env.svc.AddTrackedAsset(context.Background(), "main", "Bitcoin")
	require.NoError(t, err)

	for _, name := range []string{"BITCOIN", "bitcoin", "bItCoIn"} {
		tx, err := env.svc.AddTransaction(context.Background(), "main", buyInput(name, 1, 100, "2024-01-01"))
		require.NoError(t, err)
		assert.Equal(t, "bitcoin", tx.AssetID)
	}
	env.resolver.AssertNumberOfCalls(t, "ResolveAssetID", 1)
}

func TestService_ExportImportRoundTrip(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)
	env.resolver.On("ResolveAssetID", "Bitcoin").Return(bitcoinRef, nil)
	env.resolver.On("GetHistoricalPrice", "bitcoin", mock.Anything).Return(0.0, domain.ErrPriceUnavailable)

	_, err := env.svc.AddTrackedAsset(context.Background(), "main", "Bitcoin")
	require.NoError(t, err)
	for _, in := range []TransactionInput{
		buyInput("bitcoin", 2, 10000, "2024-01-01"),
		sellInput("bitcoin", 1, 15000, "2024-02-01"),
	} {
		_, err := env.svc.AddTransaction(context.Background(), "main", in)
		require.NoError(t, err)
	}

	blob, err := env.svc.Export("main")
	require.NoError(t, err)

	result, err := env.svc.Import("copy", blob)
	require.NoError(t, err)
	assert.Equal(t, ImportStatusOK, result.Status)
	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, 1, result.TrackedAssets)
	assert.Empty(t, result.MissingAssets)
	assert.Empty(t, result.SkippedTransactions)

	original, err := env.svc.ListTransactions("main")
	require.NoError(t, err)
	copied, err := env.svc.ListTransactions("copy")
	require.NoError(t, err)
	require.Len(t, copied, len(original))
	for i := range original {
		assert.Equal(t, original[i].ID, copied[i].ID)
		assert.Equal(t, original[i].Kind, copied[i].Kind)
		assert.Equal(t, original[i].Quantity, copied[i].Quantity)
		assert.Equal(t, "copy", copied[i].PortfolioID)
	}
}

func TestService_ImportPartial(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)

	good := testingpkg.NewTransactionFixture("bitcoin", domain.KindBuy, 1, 100)
	good.ID = "tx-1"
	untracked := testingpkg.NewTransactionFixture("ethereum", domain.KindBuy, 1, 100)
	untracked.ID = "tx-2"
	invalid := testingpkg.NewTransactionFixture("bitcoin", domain.KindBuy, 0, 100)
	invalid.ID = "tx-3"
	duplicate := good

	blob, err := ledger.EncodeSnapshot(&ledger.Snapshot{
		PortfolioID:   "elsewhere",
		TrackedAssets: testingpkg.NewTrackedAssetFixtures()[:1],
		Transactions:  []domain.Transaction{good, untracked, invalid, duplicate},
	})
	require.NoError(t, err)

	result, err := env.svc.Import("main", blob)
	require.NoError(t, err)
	assert.Equal(t, ImportStatusPartial, result.Status)
	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, []string{"ethereum"}, result.MissingAssets)
	require.Len(t, result.SkippedTransactions, 2)
	assert.Equal(t, 2, result.SkippedTransactions[0].Index)
	assert.Equal(t, "duplicate transaction id", result.SkippedTransactions[1].Reason)

	assets, err := env.svc.ListTrackedAssets("main")
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, "bitcoin", assets[0].AssetID)
}

func TestService_ImportCorruptBlobLeavesLedgerUntouched(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)
	env.resolver.On("ResolveAssetID", "bitcoin").Return(bitcoinRef, nil)
	env.resolver.On("GetHistoricalPrice", "bitcoin", mock.Anything).Return(100.0, nil)

	_, err := env.svc.AddTransaction(context.Background(), "main", buyInput("bitcoin", 1, 100, "2024-01-01"))
	require.NoError(t, err)

	_, err = env.svc.Import("main", []byte("definitely not msgpack"))
	assert.ErrorIs(t, err, domain.ErrValidation)

	txs, err := env.svc.ListTransactions("main")
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestService_InitializeAndDestroy(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)

	var lifecycle []events.EventType
	env.bus.Subscribe(events.PortfolioCreated, func(e *events.Event) { lifecycle = append(lifecycle, e.Type) })
	env.bus.Subscribe(events.PortfolioDestroyed, func(e *events.Event) { lifecycle = append(lifecycle, e.Type) })

	created, err := env.svc.Initialize("main")
	require.NoError(t, err)
	assert.False(t, created)

	created, err = env.svc.Initialize("second")
	require.NoError(t, err)
	assert.True(t, created)

	ids, err := env.svc.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"main", "second"}, ids)

	require.NoError(t, env.svc.Destroy("second"))
	assert.ErrorIs(t, env.svc.Destroy("second"), domain.ErrNotFound)
	assert.Equal(t, []events.EventType{events.PortfolioCreated, events.PortfolioDestroyed}, lifecycle)

	_, err = env.svc.Initialize("../escape")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

// memObjectStore keeps backup objects in memory
type memObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memObjectStore) Upload(_ context.Context, key string, body io.Reader, _ int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memObjectStore) List(_ context.Context, prefix string) ([]reliability.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []reliability.ObjectInfo
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, reliability.ObjectInfo{Key: k, Size: int64(len(v))})
		}
	}
	return out, nil
}

func (m *memObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, key)
	}
	return data, nil
}

func (m *memObjectStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func TestService_BackupsDisabled(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)

	assert.False(t, env.svc.BackupsEnabled())
	_, err := env.svc.Backup(context.Background(), "main")
	assert.ErrorIs(t, err, domain.ErrBackupsDisabled)
	_, err = env.svc.ListBackups(context.Background(), "main")
	assert.ErrorIs(t, err, domain.ErrBackupsDisabled)
	_, err = env.svc.Restore(context.Background(), "main", "key")
	assert.ErrorIs(t, err, domain.ErrBackupsDisabled)
}

func TestService_BackupAndRestore(t *testing.T) {
	store := &memObjectStore{objects: make(map[string][]byte)}
	backups := reliability.NewR2BackupService(store, "cryptofolio", testingpkg.NewTestLogger(t))
	env := newTestEnv(t, Options{BackupRetentionDays: 30}, backups)
	env.resolver.On("ResolveAssetID", "bitcoin").Return(bitcoinRef, nil)
	env.resolver.On("GetHistoricalPrice", "bitcoin", mock.Anything).Return(100.0, nil)

	tx, err := env.svc.AddTransaction(context.Background(), "main", buyInput("bitcoin", 1, 100, "2024-01-01"))
	require.NoError(t, err)

	info, err := env.svc.Backup(context.Background(), "main")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(info.Key, "cryptofolio/main/main-"))

	list, err := env.svc.ListBackups(context.Background(), "main")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, info.Key, list[0].Key)

	require.NoError(t, env.svc.DeleteTransaction("main", tx.ID))

	result, err := env.svc.Restore(context.Background(), "main", info.Key)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)

	txs, err := env.svc.ListTransactions("main")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, tx.ID, txs[0].ID)
}
