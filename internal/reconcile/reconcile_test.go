package reconcile

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/aurumvault/metalex_unified/internal/database"
	"github.com/aurumvault/metalex_unified/pkg/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(newTestDB(t), nil, time.Hour, zap.NewNop())
}

func newTestRecord(t *testing.T, store *Store, kind, status string) *models.SettlementRecord {
	t.Helper()
	now := time.Now()
	record := &models.SettlementRecord{
		ID:            uuid.New(),
		OwnerID:       uuid.New(),
		Kind:          kind,
		Asset:         models.AssetGold,
		Network:       models.NetworkEVMPublic,
		Quantity:      decimal.RequireFromString("1.5"),
		MonetaryValue: decimal.RequireFromString("100.00"),
		FeeValue:      decimal.RequireFromString("2.50"),
		Status:        status,
		StatusVersion: 0,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, store.CreateRecord(t.Context(), record))
	return record
}

func fiatEvent(eventID string, status CanonicalStatus, reference string) SettlementEvent {
	return SettlementEvent{
		SourceKind:         SourceFiatProvider,
		Provider:           "paystream",
		SourceEventID:      eventID,
		CandidateReference: reference,
		ReportedStatus:     status,
		RawStatus:          string(status),
		ReceivedAt:         time.Now(),
	}
}
