// Package models defines the persisted types shared across the platform.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Settlement kinds
const (
	KindPurchase   = "purchase"
	KindRedemption = "redemption"
	KindGift       = "gift"
)

// Supported metals
const (
	AssetGold   = "gold"
	AssetSilver = "silver"
)

// Settlement rails
const (
	NetworkEVMPublic     = "evm-public"
	NetworkSecondChain   = "second-chain"
	NetworkPrivateLedger = "private-ledger"
)

// Settlement statuses
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// IsTerminalStatus reports whether no further transition is permitted.
func IsTerminalStatus(status string) bool {
	return status == StatusCompleted || status == StatusFailed || status == StatusCancelled
}

// SettlementRecord is the durable record of a purchase, redemption, or gift
// intent and its lifecycle status. It is the only shared mutable resource in
// the reconciliation path; all mutation goes through a conditional update on
// StatusVersion.
type SettlementRecord struct {
	ID            uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	OwnerID       uuid.UUID       `json:"owner_id" gorm:"type:uuid;index" validate:"required,uuid"`
	Kind          string          `json:"kind" gorm:"index:idx_settlement_kind_ref,priority:1" validate:"required,oneof=purchase redemption gift"`
	Asset         string          `json:"asset" validate:"required,oneof=gold silver"`
	Network       string          `json:"network" validate:"required,oneof=evm-public second-chain private-ledger"`
	Quantity      decimal.Decimal `json:"quantity" gorm:"type:decimal(20,8)"`
	MonetaryValue decimal.Decimal `json:"monetary_value" gorm:"type:decimal(20,8)"`
	FeeValue      decimal.Decimal `json:"fee_value" gorm:"type:decimal(20,8)"`

	// ExternalReference is null until an event supplies it. Once set it is
	// immutable and unique per kind (partial unique index, see database pkg).
	ExternalReference *string `json:"external_reference" gorm:"index:idx_settlement_kind_ref,priority:2"`

	Status        string `json:"status" gorm:"index" validate:"required,oneof=pending processing completed failed cancelled"`
	StatusVersion int64  `json:"status_version"`
	Notified      bool   `json:"notified"`

	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProcessedSourceEvent records a source event id already applied to a record,
// giving durable source-level idempotency across processes. Rows are pruned
// by age, never by the engine.
type ProcessedSourceEvent struct {
	ID            uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	RecordID      uuid.UUID `json:"record_id" gorm:"type:uuid;uniqueIndex:idx_processed_record_event,priority:1"`
	SourceEventID string    `json:"source_event_id" gorm:"uniqueIndex:idx_processed_record_event,priority:2"`
	SourceKind    string    `json:"source_kind"`
	SeenAt        time.Time `json:"seen_at"`
}

// UnmatchedEvent is an append-only row for events the resolver could not
// correlate. Surfaced to operators; never retried automatically and never
// deleted by the engine.
type UnmatchedEvent struct {
	ID                 uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	SourceKind         string    `json:"source_kind"`
	SourceEventID      string    `json:"source_event_id" gorm:"index"`
	CandidateReference *string   `json:"candidate_reference"`
	ReportedStatus     string    `json:"reported_status"`
	OwnerID            *string   `json:"owner_id"`
	Amount             *string   `json:"amount"`
	RawEvent           string    `json:"raw_event" gorm:"type:text"`
	Diagnostics        string    `json:"diagnostics" gorm:"type:text"`
	ReceivedAt         time.Time `json:"received_at"`
	CreatedAt          time.Time `json:"created_at"`
}
