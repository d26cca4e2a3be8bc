package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aurumvault/metalex_unified/pkg/models"
)

// ErrRecordNotFound is returned when a settlement record does not exist.
var ErrRecordNotFound = errors.New("settlement record not found")

// ErrReferenceTaken is returned when a conditional write would assign an
// external reference already held by another record of the same kind.
var ErrReferenceTaken = errors.New("external reference already assigned to another record")

// Store is the settlement record access layer. All writes that race with the
// reconciliation engine go through conditional updates; the store never takes
// locks. Redis is an optional fast path for the processed-event check and is
// never authoritative.
type Store struct {
	db      *gorm.DB
	redis   *redis.Client
	seenTTL time.Duration
	logger  *zap.Logger
}

// NewStore creates a settlement record store. redisClient may be nil; the
// durable processed-events table then serves every dedup check.
func NewStore(db *gorm.DB, redisClient *redis.Client, seenTTL time.Duration, logger *zap.Logger) *Store {
	return &Store{
		db:      db,
		redis:   redisClient,
		seenTTL: seenTTL,
		logger:  logger,
	}
}

// DB exposes the underlying connection for read-only query surfaces.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// GetRecord loads a settlement record by id.
func (s *Store) GetRecord(ctx context.Context, id uuid.UUID) (*models.SettlementRecord, error) {
	var record models.SettlementRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to load settlement record: %w", err)
	}
	return &record, nil
}

// FindByReference returns every record holding the given external reference.
// The uniqueness constraint is per kind, so distinct kinds may in principle
// share a reference; the resolver decides what to do with multiple hits.
func (s *Store) FindByReference(ctx context.Context, reference string) ([]models.SettlementRecord, error) {
	var records []models.SettlementRecord
	if err := s.db.WithContext(ctx).
		Where("external_reference = ?", reference).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to look up reference: %w", err)
	}
	return records, nil
}

// FindHeuristicCandidates returns the owner's in-flight records that carry
// no external reference yet, whose monetary value lies within tolerance of
// amount, and which were created inside the lookback window. Records that
// already own a reference are excluded: once a reference exists, the exact
// path is the only safe way to reach the record.
func (s *Store) FindHeuristicCandidates(ctx context.Context, owner uuid.UUID, amount, tolerance decimal.Decimal, window time.Duration) ([]models.SettlementRecord, error) {
	var records []models.SettlementRecord
	cutoff := time.Now().Add(-window)
	if err := s.db.WithContext(ctx).
		Where("owner_id = ? AND status IN ? AND external_reference IS NULL",
			owner, []string{models.StatusPending, models.StatusProcessing}).
		Where("monetary_value BETWEEN ? AND ?", amount.Sub(tolerance), amount.Add(tolerance)).
		Where("created_at >= ?", cutoff).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to search heuristic candidates: %w", err)
	}
	return records, nil
}

// WasProcessed reports whether the source event id has already been applied
// to the record. Redis answers first; a miss falls through to the table.
func (s *Store) WasProcessed(ctx context.Context, recordID uuid.UUID, sourceEventID string) (bool, error) {
	if s.redis != nil {
		n, err := s.redis.Exists(ctx, seenKey(recordID, sourceEventID)).Result()
		if err == nil && n > 0 {
			return true, nil
		}
		if err != nil {
			s.logger.Warn("redis dedup check failed, falling back to store", zap.Error(err))
		}
	}

	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.ProcessedSourceEvent{}).
		Where("record_id = ? AND source_event_id = ?", recordID, sourceEventID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check processed events: %w", err)
	}
	return count > 0, nil
}

// MarkProcessed records the source event id as seen for the record. Safe to
// call repeatedly; the (record_id, source_event_id) pair is unique.
func (s *Store) MarkProcessed(ctx context.Context, recordID uuid.UUID, sourceEventID string, sourceKind SourceKind) error {
	row := models.ProcessedSourceEvent{
		RecordID:      recordID,
		SourceEventID: sourceEventID,
		SourceKind:    string(sourceKind),
		SeenAt:        time.Now(),
	}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error; err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("failed to record processed event: %w", err)
	}

	if s.redis != nil {
		if err := s.redis.Set(ctx, seenKey(recordID, sourceEventID), 1, s.seenTTL).Err(); err != nil {
			s.logger.Warn("redis dedup mark failed", zap.Error(err))
		}
	}
	return nil
}

// ApplyTransition is the conditional-update-by-version primitive. It writes
// the new status (and the external reference when newReference is non-nil)
// only if the stored status_version still equals expectedVersion. It returns
// false when another writer advanced the record first.
func (s *Store) ApplyTransition(ctx context.Context, recordID uuid.UUID, expectedVersion int64, newStatus string, newReference *string) (bool, error) {
	updates := map[string]interface{}{
		"status":         newStatus,
		"status_version": expectedVersion + 1,
		"updated_at":     time.Now(),
	}
	if newReference != nil {
		updates["external_reference"] = *newReference
	}

	res := s.db.WithContext(ctx).
		Model(&models.SettlementRecord{}).
		Where("id = ? AND status_version = ?", recordID, expectedVersion).
		Updates(updates)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			// The (kind, external_reference) uniqueness constraint fired:
			// some other record of the same kind already owns the reference.
			return false, ErrReferenceTaken
		}
		return false, fmt.Errorf("conditional status update failed: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkNotified flips notified false -> true, returning true only for the
// single caller that wins. This is the at-most-once guard for side effects.
func (s *Store) MarkNotified(ctx context.Context, recordID uuid.UUID) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.SettlementRecord{}).
		Where("id = ? AND notified = ?", recordID, false).
		Updates(map[string]interface{}{
			"notified":   true,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("conditional notified update failed: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// CreateRecord inserts a new settlement record. Used by the position
// creation surface, never by the engine.
func (s *Store) CreateRecord(ctx context.Context, record *models.SettlementRecord) error {
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrReferenceTaken
		}
		return fmt.Errorf("failed to create settlement record: %w", err)
	}
	return nil
}

// ListRecords returns records filtered by owner and optional kind/status,
// newest first, with the total count for pagination.
func (s *Store) ListRecords(ctx context.Context, owner uuid.UUID, kind, status string, limit, offset int) ([]models.SettlementRecord, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.SettlementRecord{}).Where("owner_id = ?", owner)
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count settlement records: %w", err)
	}

	var records []models.SettlementRecord
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&records).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list settlement records: %w", err)
	}
	return records, total, nil
}

// FindWatchable returns non-terminal records on the given network that carry
// an external reference, for the ledger confirmation poller.
func (s *Store) FindWatchable(ctx context.Context, network string, limit int) ([]models.SettlementRecord, error) {
	var records []models.SettlementRecord
	if err := s.db.WithContext(ctx).
		Where("network = ? AND status IN ? AND external_reference IS NOT NULL",
			network, []string{models.StatusPending, models.StatusProcessing}).
		Order("created_at ASC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list watchable records: %w", err)
	}
	return records, nil
}

func seenKey(recordID uuid.UUID, sourceEventID string) string {
	return "metalex:seen:" + recordID.String() + ":" + sourceEventID
}
