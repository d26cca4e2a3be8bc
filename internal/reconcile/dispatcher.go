package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/aurumvault/metalex_unified/pkg/metrics"
	"github.com/aurumvault/metalex_unified/pkg/models"
)

// Publisher is the outbound message sink. *kafka.Writer satisfies it.
type Publisher interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// SettlementNotice is the message published when a settlement reaches a
// terminal status. Downstream consumers handle user notification and, for
// completed purchases and gifts, the ledger mint confirmation.
type SettlementNotice struct {
	RecordID      string    `json:"record_id"`
	OwnerID       string    `json:"owner_id"`
	Kind          string    `json:"kind"`
	Asset         string    `json:"asset"`
	Network       string    `json:"network"`
	Status        string    `json:"status"`
	Quantity      string    `json:"quantity"`
	MonetaryValue string    `json:"monetary_value"`
	Reference     string    `json:"reference,omitempty"`
	MintRequired  bool      `json:"mint_required"`
	SettledAt     time.Time `json:"settled_at"`
}

// Dispatcher performs the one-time terminal side effect. The notified CAS in
// the store is what makes it at most once: the dispatcher only publishes
// after winning the false -> true flip, and losers do no work at all.
type Dispatcher struct {
	store  *Store
	pub    Publisher
	topic  string
	logger *zap.Logger
}

// NewDispatcher creates a side-effect dispatcher publishing to topic.
func NewDispatcher(store *Store, pub Publisher, topic string, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:  store,
		pub:    pub,
		topic:  topic,
		logger: logger,
	}
}

// Dispatch fires the record's terminal side effect if no other process has
// fired it yet. Callers invoke it only after an applied transition reached a
// terminal status.
func (d *Dispatcher) Dispatch(ctx context.Context, record *models.SettlementRecord) error {
	won, err := d.store.MarkNotified(ctx, record.ID)
	if err != nil {
		return fmt.Errorf("notified guard failed: %w", err)
	}
	if !won {
		// Another process already owns the side effect.
		return nil
	}

	notice := SettlementNotice{
		RecordID:      record.ID.String(),
		OwnerID:       record.OwnerID.String(),
		Kind:          record.Kind,
		Asset:         record.Asset,
		Network:       record.Network,
		Status:        record.Status,
		Quantity:      record.Quantity.String(),
		MonetaryValue: record.MonetaryValue.String(),
		MintRequired:  record.Status == models.StatusCompleted && record.Kind != models.KindRedemption,
		SettledAt:     time.Now(),
	}
	if record.ExternalReference != nil {
		notice.Reference = *record.ExternalReference
	}

	payload, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("failed to serialize settlement notice: %w", err)
	}

	if err := d.pub.WriteMessages(ctx, kafka.Message{
		Topic: d.topic,
		Key:   []byte(record.ID.String()),
		Value: payload,
	}); err != nil {
		// The notified flag stays set: a lost publish is an operational
		// problem to replay, never a reason to risk a duplicate side effect.
		d.logger.Error("failed to publish settlement notice",
			zap.String("record_id", record.ID.String()),
			zap.Error(err))
		return fmt.Errorf("failed to publish settlement notice: %w", err)
	}

	metrics.NotificationsDispatched.WithLabelValues(record.Kind).Inc()
	d.logger.Info("settlement notice dispatched",
		zap.String("record_id", record.ID.String()),
		zap.String("status", record.Status),
		zap.Bool("mint_required", notice.MintRequired))
	return nil
}
