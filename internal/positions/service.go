// Package positions provides the user-facing settlement record surfaces:
// creation of purchase/redemption/gift intents, the redemption cancel
// action, and the read-only query endpoints.
package positions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aurumvault/metalex_unified/internal/reconcile"
	"github.com/aurumvault/metalex_unified/pkg/models"
)

// Cancel errors surfaced to the handler layer.
var (
	ErrNotCancellable = errors.New("only pending redemptions can be cancelled")
	ErrNotOwner       = errors.New("record does not belong to the requesting user")
	ErrKYCRequired    = errors.New("KYC approval required")
)

// Service implements the position lifecycle outside the reconciliation core.
type Service struct {
	store      *reconcile.Store
	dispatcher *reconcile.Dispatcher
	logger     *zap.Logger
}

// NewService creates a positions service.
func NewService(store *reconcile.Store, dispatcher *reconcile.Dispatcher, logger *zap.Logger) *Service {
	return &Service{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Create inserts a new pending settlement record. kycApproved is the
// boolean gate supplied by the (external) KYC orchestration; nothing more
// of KYC is modelled here.
func (s *Service) Create(ctx context.Context, owner uuid.UUID, kind, asset, network string, quantity, monetaryValue, feeValue decimal.Decimal, kycApproved bool) (*models.SettlementRecord, error) {
	if !kycApproved {
		return nil, ErrKYCRequired
	}
	if quantity.Cmp(decimal.Zero) <= 0 || monetaryValue.Cmp(decimal.Zero) <= 0 {
		return nil, fmt.Errorf("quantity and monetary value must be positive")
	}
	if feeValue.Cmp(decimal.Zero) < 0 {
		return nil, fmt.Errorf("fee value must not be negative")
	}

	now := time.Now()
	record := &models.SettlementRecord{
		ID:            uuid.New(),
		OwnerID:       owner,
		Kind:          kind,
		Asset:         asset,
		Network:       network,
		Quantity:      quantity,
		MonetaryValue: monetaryValue,
		FeeValue:      feeValue,
		Status:        models.StatusPending,
		StatusVersion: 0,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateRecord(ctx, record); err != nil {
		return nil, err
	}

	s.logger.Info("settlement record created",
		zap.String("record_id", record.ID.String()),
		zap.String("owner_id", owner.String()),
		zap.String("kind", kind),
		zap.String("asset", asset),
		zap.String("network", network))
	return record, nil
}

// Cancel moves a pending redemption to cancelled on behalf of its owner.
// It uses the same conditional write as the engine, so it cannot race past
// a settlement event that is completing the redemption concurrently.
func (s *Service) Cancel(ctx context.Context, owner, recordID uuid.UUID) (*models.SettlementRecord, error) {
	for attempt := 0; attempt < 2; attempt++ {
		record, err := s.store.GetRecord(ctx, recordID)
		if err != nil {
			return nil, err
		}
		if record.OwnerID != owner {
			return nil, ErrNotOwner
		}
		if record.Kind != models.KindRedemption || record.Status != models.StatusPending {
			return nil, ErrNotCancellable
		}

		applied, err := s.store.ApplyTransition(ctx, recordID, record.StatusVersion, models.StatusCancelled, nil)
		if err != nil {
			return nil, err
		}
		if !applied {
			continue
		}

		cancelled, err := s.store.GetRecord(ctx, recordID)
		if err != nil {
			return nil, err
		}
		if err := s.dispatcher.Dispatch(ctx, cancelled); err != nil {
			s.logger.Error("cancel side effect failed",
				zap.String("record_id", recordID.String()), zap.Error(err))
		}
		return cancelled, nil
	}
	return nil, ErrNotCancellable
}

// Get loads one record scoped to its owner.
func (s *Service) Get(ctx context.Context, owner, recordID uuid.UUID) (*models.SettlementRecord, error) {
	record, err := s.store.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if record.OwnerID != owner {
		return nil, ErrNotOwner
	}
	return record, nil
}

// List returns the owner's records filtered by kind/status.
func (s *Service) List(ctx context.Context, owner uuid.UUID, kind, status string, limit, offset int) ([]models.SettlementRecord, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.store.ListRecords(ctx, owner, kind, status, limit, offset)
}
