package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ResolveDiagnostics explains why each resolution step did or did not match.
// It travels with the event to the unmatched-event ledger when resolution
// fails, so operators can see what the resolver saw.
type ResolveDiagnostics struct {
	ExactAttempted      bool   `json:"exact_attempted"`
	ExactMatches        int    `json:"exact_matches"`
	HeuristicAttempted  bool   `json:"heuristic_attempted"`
	HeuristicCandidates int    `json:"heuristic_candidates"`
	Reason              string `json:"reason"`
}

// Resolver matches an incoming event to the settlement record it pertains
// to. Exact reference lookup is authoritative; the heuristic fallback exists
// because some fiat providers report an order before they report any stable
// correlating id. Ambiguity is never resolved by guessing.
type Resolver struct {
	store     *Store
	tolerance decimal.Decimal
	window    time.Duration
	logger    *zap.Logger
}

// NewResolver creates a resolver. tolerance is an absolute monetary
// tolerance for the heuristic amount match; window bounds how far back the
// heuristic searches.
func NewResolver(store *Store, tolerance decimal.Decimal, window time.Duration, logger *zap.Logger) *Resolver {
	return &Resolver{
		store:     store,
		tolerance: tolerance,
		window:    window,
		logger:    logger,
	}
}

// Resolve returns the matched record id, or found=false with diagnostics
// when the event cannot be safely correlated.
func (r *Resolver) Resolve(ctx context.Context, event SettlementEvent) (uuid.UUID, ResolveDiagnostics, bool, error) {
	diag := ResolveDiagnostics{}

	if event.CandidateReference != "" {
		diag.ExactAttempted = true
		records, err := r.store.FindByReference(ctx, event.CandidateReference)
		if err != nil {
			return uuid.Nil, diag, false, fmt.Errorf("exact lookup failed: %w", err)
		}
		diag.ExactMatches = len(records)
		if len(records) == 1 {
			return records[0].ID, diag, true, nil
		}
		if len(records) > 1 {
			// The same reference on multiple kinds cannot be disambiguated
			// from the event alone.
			diag.Reason = "reference matched multiple records across kinds"
			return uuid.Nil, diag, false, nil
		}
	}

	if event.OwnerID == nil || event.Amount == nil {
		diag.Reason = "no reference match and event lacks owner/amount for heuristic"
		return uuid.Nil, diag, false, nil
	}

	diag.HeuristicAttempted = true
	candidates, err := r.store.FindHeuristicCandidates(ctx, *event.OwnerID, *event.Amount, r.tolerance, r.window)
	if err != nil {
		return uuid.Nil, diag, false, fmt.Errorf("heuristic lookup failed: %w", err)
	}
	diag.HeuristicCandidates = len(candidates)

	switch len(candidates) {
	case 1:
		r.logger.Debug("heuristic correlation matched",
			zap.String("record_id", candidates[0].ID.String()),
			zap.String("source_event_id", event.SourceEventID))
		return candidates[0].ID, diag, true, nil
	case 0:
		diag.Reason = "no in-flight record matches owner/amount within window"
	default:
		diag.Reason = fmt.Sprintf("%d pending records match owner/amount, refusing to guess", len(candidates))
	}
	return uuid.Nil, diag, false, nil
}
