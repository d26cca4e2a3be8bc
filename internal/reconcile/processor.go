package reconcile

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProcessResult describes what happened to one normalized event.
type ProcessResult struct {
	Matched  bool
	RecordID uuid.UUID
	Outcome  TransitionOutcome
}

// Processor composes resolver, engine, dispatcher, and unmatched ledger into
// the single path every normalized event takes, whether it arrived over a
// webhook or from a ledger confirmation poll.
type Processor struct {
	resolver   *Resolver
	engine     *Engine
	dispatcher *Dispatcher
	unmatched  *UnmatchedLedger
	store      *Store
	logger     *zap.Logger
}

// NewProcessor wires the reconciliation pipeline.
func NewProcessor(store *Store, resolver *Resolver, engine *Engine, dispatcher *Dispatcher, unmatched *UnmatchedLedger, logger *zap.Logger) *Processor {
	return &Processor{
		resolver:   resolver,
		engine:     engine,
		dispatcher: dispatcher,
		unmatched:  unmatched,
		store:      store,
		logger:     logger,
	}
}

// Process correlates and applies one event. Uncorrelated events land in the
// unmatched ledger and are reported as Matched=false, not as errors.
func (p *Processor) Process(ctx context.Context, event SettlementEvent) (ProcessResult, error) {
	recordID, diag, found, err := p.resolver.Resolve(ctx, event)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("correlation failed: %w", err)
	}
	if !found {
		if err := p.unmatched.Append(ctx, event, diag); err != nil {
			return ProcessResult{}, err
		}
		return ProcessResult{Matched: false}, nil
	}

	outcome, err := p.engine.Apply(ctx, recordID, event)
	if err != nil {
		return ProcessResult{}, err
	}

	if outcome.Terminal() {
		record, err := p.store.GetRecord(ctx, recordID)
		if err != nil {
			return ProcessResult{}, err
		}
		if err := p.dispatcher.Dispatch(ctx, record); err != nil {
			// The transition is committed; a failed side effect must not
			// make the provider redeliver and re-run the pipeline.
			p.logger.Error("terminal side effect failed",
				zap.String("record_id", recordID.String()),
				zap.Error(err))
		}
	}

	return ProcessResult{Matched: true, RecordID: recordID, Outcome: outcome}, nil
}
