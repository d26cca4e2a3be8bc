package ledgerwatch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/aurumvault/metalex_unified/internal/database"
	"github.com/aurumvault/metalex_unified/internal/reconcile"
	"github.com/aurumvault/metalex_unified/pkg/models"
)

// fakeSource serves confirmation statuses from a map and counts lookups.
type fakeSource struct {
	network  string
	statuses map[string]string
	lookups  int
}

func (s *fakeSource) Network() string { return s.network }

func (s *fakeSource) TransactionStatus(_ context.Context, txHash string) (reconcile.ConfirmationUpdate, error) {
	s.lookups++
	status, ok := s.statuses[txHash]
	if !ok {
		return reconcile.ConfirmationUpdate{}, fmt.Errorf("unknown transaction %s", txHash)
	}
	return reconcile.ConfirmationUpdate{TxHash: txHash, Status: status}, nil
}

type nopPublisher struct{}

func (nopPublisher) WriteMessages(context.Context, ...kafka.Message) error { return nil }

func newTestWatcher(t *testing.T, source ConfirmationSource) (*Watcher, *reconcile.Store) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	logger := zap.NewNop()
	store := reconcile.NewStore(db, nil, time.Hour, logger)
	resolver := reconcile.NewResolver(store, decimal.RequireFromString("0.01"), 24*time.Hour, logger)
	engine := reconcile.NewEngine(store, 3, logger)
	dispatcher := reconcile.NewDispatcher(store, nopPublisher{}, "settlement.notifications", logger)
	unmatched := reconcile.NewUnmatchedLedger(db, logger)
	processor := reconcile.NewProcessor(store, resolver, engine, dispatcher, unmatched, logger)
	normalizer := reconcile.NewNormalizer(nil, time.Minute, logger)

	watcher := NewWatcher(store, normalizer, processor, []ConfirmationSource{source}, time.Second, logger)
	return watcher, store
}

func seedWatched(t *testing.T, store *reconcile.Store, network, txHash, status string) *models.SettlementRecord {
	t.Helper()
	record := &models.SettlementRecord{
		ID:            uuid.New(),
		OwnerID:       uuid.New(),
		Kind:          models.KindPurchase,
		Asset:         models.AssetGold,
		Network:       network,
		Quantity:      decimal.RequireFromString("1"),
		MonetaryValue: decimal.RequireFromString("100.00"),
		Status:        status,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	if txHash != "" {
		record.ExternalReference = &txHash
	}
	require.NoError(t, store.CreateRecord(t.Context(), record))
	return record
}

func TestWatcher_ConfirmationCompletesRecord(t *testing.T) {
	source := &fakeSource{
		network:  models.NetworkEVMPublic,
		statuses: map[string]string{"0xabc": "confirmed"},
	}
	watcher, store := newTestWatcher(t, source)
	record := seedWatched(t, store, models.NetworkEVMPublic, "0xabc", models.StatusProcessing)

	watcher.pollSource(t.Context(), source)

	reloaded, err := store.GetRecord(t.Context(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, reloaded.Status)
	assert.True(t, reloaded.Notified)
}

func TestWatcher_RepeatedPendingIsIdempotent(t *testing.T) {
	source := &fakeSource{
		network:  models.NetworkEVMPublic,
		statuses: map[string]string{"0xabc": "pending"},
	}
	watcher, store := newTestWatcher(t, source)
	record := seedWatched(t, store, models.NetworkEVMPublic, "0xabc", models.StatusPending)

	watcher.pollSource(t.Context(), source)
	watcher.pollSource(t.Context(), source)
	watcher.pollSource(t.Context(), source)

	reloaded, err := store.GetRecord(t.Context(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, reloaded.Status)
	// Only the first observation applied a transition; the rest deduplicated.
	assert.Equal(t, int64(1), reloaded.StatusVersion)
	assert.Equal(t, 3, source.lookups)
}

func TestWatcher_FailedTransactionFailsRecord(t *testing.T) {
	source := &fakeSource{
		network:  models.NetworkEVMPublic,
		statuses: map[string]string{"0xdead": "failed"},
	}
	watcher, store := newTestWatcher(t, source)
	record := seedWatched(t, store, models.NetworkEVMPublic, "0xdead", models.StatusProcessing)

	watcher.pollSource(t.Context(), source)

	reloaded, err := store.GetRecord(t.Context(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, reloaded.Status)
}

func TestWatcher_SkipsOtherRailsAndUnreferencedRecords(t *testing.T) {
	source := &fakeSource{
		network:  models.NetworkEVMPublic,
		statuses: map[string]string{},
	}
	watcher, store := newTestWatcher(t, source)
	seedWatched(t, store, models.NetworkSecondChain, "0xother", models.StatusProcessing)
	seedWatched(t, store, models.NetworkEVMPublic, "", models.StatusPending)

	watcher.pollSource(t.Context(), source)

	assert.Zero(t, source.lookups)
}

func TestWatcher_LookupErrorDoesNotStallBatch(t *testing.T) {
	source := &fakeSource{
		network:  models.NetworkEVMPublic,
		statuses: map[string]string{"0xgood": "confirmed"},
	}
	watcher, store := newTestWatcher(t, source)
	seedWatched(t, store, models.NetworkEVMPublic, "0xbroken", models.StatusProcessing)
	good := seedWatched(t, store, models.NetworkEVMPublic, "0xgood", models.StatusProcessing)

	watcher.pollSource(t.Context(), source)

	reloaded, err := store.GetRecord(t.Context(), good.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, reloaded.Status)
	assert.Equal(t, 2, source.lookups)
}
