package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aurumvault/metalex_unified/pkg/metrics"
	"github.com/aurumvault/metalex_unified/pkg/models"
)

// transitionTable is the status state machine: current record status ->
// canonical event status -> next record status. Pairs absent from the table
// are rejected. Cancellation is deliberately missing: it is only ever driven
// by an explicit user action, never by an external source event.
var transitionTable = map[string]map[CanonicalStatus]string{
	models.StatusPending: {
		EventCreated:    models.StatusProcessing,
		EventProcessing: models.StatusProcessing,
		EventCompleted:  models.StatusCompleted,
		EventFailed:     models.StatusFailed,
	},
	models.StatusProcessing: {
		EventCompleted: models.StatusCompleted,
		EventFailed:    models.StatusFailed,
	},
}

// Engine applies settlement events to records under optimistic concurrency.
// It is safe to invoke from any number of concurrent handlers across
// processes; correctness rests entirely on the store's conditional writes.
type Engine struct {
	store      *Store
	maxRetries int
	logger     *zap.Logger
}

// NewEngine creates a reconciliation engine. maxRetries bounds how many
// times a contended conditional write is retried before the caller is told
// to rely on source-side redelivery.
func NewEngine(store *Store, maxRetries int, logger *zap.Logger) *Engine {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Engine{
		store:      store,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// Apply advances the record's status for the event exactly once. Duplicate
// deliveries, events for terminal records, and impossible transitions all
// come back as outcomes without mutating the record; errors are storage
// failures only.
func (e *Engine) Apply(ctx context.Context, recordID uuid.UUID, event SettlementEvent) (TransitionOutcome, error) {
	// Source-level dedup first: a redelivered event must not even reach the
	// transition logic.
	seen, err := e.store.WasProcessed(ctx, recordID, event.SourceEventID)
	if err != nil {
		return TransitionOutcome{}, fmt.Errorf("dedup check failed: %w", err)
	}
	if seen {
		metrics.TransitionNoOps.WithLabelValues("duplicate").Inc()
		return TransitionOutcome{Kind: OutcomeNoOpDuplicateSourceEvent}, nil
	}

	for attempt := 0; attempt < e.maxRetries; attempt++ {
		record, err := e.store.GetRecord(ctx, recordID)
		if err != nil {
			return TransitionOutcome{}, err
		}

		if models.IsTerminalStatus(record.Status) {
			// Terminal states are final. Mark the event seen so repeated
			// deliveries stay cheap no-ops.
			if err := e.store.MarkProcessed(ctx, recordID, event.SourceEventID, event.SourceKind); err != nil {
				return TransitionOutcome{}, err
			}
			metrics.TransitionNoOps.WithLabelValues("terminal").Inc()
			return TransitionOutcome{Kind: OutcomeNoOpAlreadyTerminal}, nil
		}

		nextStatus, ok := transitionTable[record.Status][event.ReportedStatus]
		if !ok {
			e.logger.Warn("rejected invalid settlement transition",
				zap.String("record_id", recordID.String()),
				zap.String("current_status", record.Status),
				zap.String("event_status", string(event.ReportedStatus)),
				zap.String("source_event_id", event.SourceEventID))
			metrics.TransitionsRejected.WithLabelValues(string(RejectInvalidTransition)).Inc()
			return TransitionOutcome{Kind: OutcomeRejected, RejectReason: RejectInvalidTransition}, nil
		}

		// First writer wins on the external reference; a differing value
		// signals an upstream correlation error and must never be silently
		// overwritten.
		var newReference *string
		if event.CandidateReference != "" {
			if record.ExternalReference == nil {
				ref := event.CandidateReference
				newReference = &ref
			} else if *record.ExternalReference != event.CandidateReference {
				e.logger.Error("rejected settlement reference mismatch",
					zap.String("record_id", recordID.String()),
					zap.String("existing_reference", *record.ExternalReference),
					zap.String("event_reference", event.CandidateReference),
					zap.String("source_event_id", event.SourceEventID))
				metrics.TransitionsRejected.WithLabelValues(string(RejectReferenceMismatch)).Inc()
				return TransitionOutcome{Kind: OutcomeRejected, RejectReason: RejectReferenceMismatch}, nil
			}
		}

		applied, err := e.store.ApplyTransition(ctx, recordID, record.StatusVersion, nextStatus, newReference)
		if err != nil {
			if errors.Is(err, ErrReferenceTaken) {
				e.logger.Error("rejected settlement reference already assigned elsewhere",
					zap.String("record_id", recordID.String()),
					zap.String("event_reference", event.CandidateReference))
				metrics.TransitionsRejected.WithLabelValues(string(RejectReferenceMismatch)).Inc()
				return TransitionOutcome{Kind: OutcomeRejected, RejectReason: RejectReferenceMismatch}, nil
			}
			return TransitionOutcome{}, err
		}
		if !applied {
			// Another writer advanced the record between the read and the
			// conditional write; re-read and try again.
			continue
		}

		if err := e.store.MarkProcessed(ctx, recordID, event.SourceEventID, event.SourceKind); err != nil {
			return TransitionOutcome{}, err
		}

		metrics.TransitionsApplied.WithLabelValues(nextStatus).Inc()
		e.logger.Info("settlement transition applied",
			zap.String("record_id", recordID.String()),
			zap.String("from", record.Status),
			zap.String("to", nextStatus),
			zap.Int64("version", record.StatusVersion+1),
			zap.String("source_event_id", event.SourceEventID))
		return TransitionOutcome{Kind: OutcomeApplied, NewStatus: nextStatus}, nil
	}

	metrics.TransitionsRejected.WithLabelValues(string(RejectContention)).Inc()
	return TransitionOutcome{Kind: OutcomeRejected, RejectReason: RejectContention}, nil
}
