package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aurumvault/metalex_unified/pkg/metrics"
	"github.com/aurumvault/metalex_unified/pkg/models"
)

// UnmatchedLedger is the append-only store of events the resolver could not
// correlate. Rows are written once and surfaced for operational
// reconciliation; nothing here is retried or deleted automatically.
type UnmatchedLedger struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewUnmatchedLedger creates the unmatched-event ledger.
func NewUnmatchedLedger(db *gorm.DB, logger *zap.Logger) *UnmatchedLedger {
	return &UnmatchedLedger{db: db, logger: logger}
}

// Append records an unresolvable event with its resolver diagnostics.
func (u *UnmatchedLedger) Append(ctx context.Context, event SettlementEvent, diag ResolveDiagnostics) error {
	rawEvent, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	rawDiag, err := json.Marshal(diag)
	if err != nil {
		return fmt.Errorf("failed to serialize diagnostics: %w", err)
	}

	row := models.UnmatchedEvent{
		SourceKind:     string(event.SourceKind),
		SourceEventID:  event.SourceEventID,
		ReportedStatus: string(event.ReportedStatus),
		RawEvent:       string(rawEvent),
		Diagnostics:    string(rawDiag),
		ReceivedAt:     event.ReceivedAt,
		CreatedAt:      time.Now(),
	}
	if event.CandidateReference != "" {
		ref := event.CandidateReference
		row.CandidateReference = &ref
	}
	if event.OwnerID != nil {
		owner := event.OwnerID.String()
		row.OwnerID = &owner
	}
	if event.Amount != nil {
		amount := event.Amount.String()
		row.Amount = &amount
	}

	if err := u.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to append unmatched event: %w", err)
	}

	metrics.UnmatchedEvents.WithLabelValues(string(event.SourceKind)).Inc()
	u.logger.Warn("event routed to unmatched ledger",
		zap.String("source_kind", string(event.SourceKind)),
		zap.String("source_event_id", event.SourceEventID),
		zap.String("reason", diag.Reason))
	return nil
}

// List returns unmatched events newest first for the operator surface.
func (u *UnmatchedLedger) List(ctx context.Context, limit, offset int) ([]models.UnmatchedEvent, int64, error) {
	var total int64
	if err := u.db.WithContext(ctx).Model(&models.UnmatchedEvent{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count unmatched events: %w", err)
	}

	var rows []models.UnmatchedEvent
	if err := u.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list unmatched events: %w", err)
	}
	return rows, total, nil
}
