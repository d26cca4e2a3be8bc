// Package reconcile implements the settlement reconciliation core: event
// normalization, correlation, the status state machine, one-time side
// effects, and the unmatched-event ledger.
package reconcile

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aurumvault/metalex_unified/pkg/models"
)

// SourceKind identifies the class of external source an event came from.
type SourceKind string

const (
	SourceFiatProvider       SourceKind = "fiat-provider"
	SourceLedgerConfirmation SourceKind = "ledger-confirmation"
)

// CanonicalStatus is the source-agnostic status vocabulary every provider's
// native status is mapped into.
type CanonicalStatus string

const (
	EventCreated    CanonicalStatus = "created"
	EventProcessing CanonicalStatus = "processing"
	EventCompleted  CanonicalStatus = "completed"
	EventFailed     CanonicalStatus = "failed"
)

// SettlementEvent is the canonical representation of one external completion
// signal, produced by the Normalizer. It carries no provider-specific shape.
type SettlementEvent struct {
	SourceKind SourceKind `json:"source_kind"`
	// Provider is the fiat provider name, or the network name for ledger
	// confirmations.
	Provider      string `json:"provider"`
	SourceEventID string `json:"source_event_id"`
	// CandidateReference is the best available correlation key. Empty for
	// early provider events that carry no usable reference yet.
	CandidateReference string          `json:"candidate_reference,omitempty"`
	ReportedStatus     CanonicalStatus `json:"reported_status"`
	RawStatus          string          `json:"raw_status"`
	// OwnerID and Amount are used only by the heuristic fallback matcher.
	OwnerID    *uuid.UUID       `json:"owner_id,omitempty"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	ReceivedAt time.Time        `json:"received_at"`
}

// Normalization errors. Stale signing timestamps are an authentication
// failure, not a parse failure, so they surface as ErrInvalidSignature.
var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrUnknownProvider  = errors.New("unknown provider")
)

// RejectReason classifies a rejected transition.
type RejectReason string

const (
	RejectInvalidTransition RejectReason = "invalid_transition"
	RejectReferenceMismatch RejectReason = "reference_mismatch"
	RejectContention        RejectReason = "contention"
)

// OutcomeKind enumerates the possible results of applying an event.
type OutcomeKind string

const (
	OutcomeApplied                  OutcomeKind = "applied"
	OutcomeNoOpAlreadyTerminal      OutcomeKind = "noop_already_terminal"
	OutcomeNoOpDuplicateSourceEvent OutcomeKind = "noop_duplicate_source_event"
	OutcomeRejected                 OutcomeKind = "rejected"
)

// TransitionOutcome is the result of Engine.Apply. Rejections are outcomes,
// not errors; errors are reserved for storage failures.
type TransitionOutcome struct {
	Kind         OutcomeKind  `json:"kind"`
	NewStatus    string       `json:"new_status,omitempty"`
	RejectReason RejectReason `json:"reject_reason,omitempty"`
}

// Terminal reports whether the outcome committed a terminal status.
func (o TransitionOutcome) Terminal() bool {
	return o.Kind == OutcomeApplied && models.IsTerminalStatus(o.NewStatus)
}
