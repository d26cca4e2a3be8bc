package ledgerwatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aurumvault/metalex_unified/internal/reconcile"
	"github.com/aurumvault/metalex_unified/pkg/metrics"
)

const watchBatchSize = 200

// Watcher polls every configured confirmation source for the non-terminal
// records on its rail and routes each observation through the same pipeline
// webhook events take. A repeated "pending" observation deduplicates into a
// no-op inside the engine, so polling is safe at any frequency.
type Watcher struct {
	store      *reconcile.Store
	normalizer *reconcile.Normalizer
	processor  *reconcile.Processor
	sources    []ConfirmationSource
	interval   time.Duration
	logger     *zap.Logger
}

// NewWatcher creates a confirmation watcher over the given sources.
func NewWatcher(store *reconcile.Store, normalizer *reconcile.Normalizer, processor *reconcile.Processor, sources []ConfirmationSource, interval time.Duration, logger *zap.Logger) *Watcher {
	return &Watcher{
		store:      store,
		normalizer: normalizer,
		processor:  processor,
		sources:    sources,
		interval:   interval,
		logger:     logger,
	}
}

// Run polls until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, source := range w.sources {
				w.pollSource(ctx, source)
			}
		}
	}
}

func (w *Watcher) pollSource(ctx context.Context, source ConfirmationSource) {
	network := source.Network()
	records, err := w.store.FindWatchable(ctx, network, watchBatchSize)
	if err != nil {
		w.logger.Error("failed to list watchable records",
			zap.String("network", network), zap.Error(err))
		metrics.LedgerPolls.WithLabelValues(network, "list_error").Inc()
		return
	}

	for _, record := range records {
		txHash := *record.ExternalReference
		update, err := source.TransactionStatus(ctx, txHash)
		if err != nil {
			w.logger.Warn("confirmation lookup failed",
				zap.String("network", network),
				zap.String("tx_hash", txHash),
				zap.Error(err))
			metrics.LedgerPolls.WithLabelValues(network, "lookup_error").Inc()
			continue
		}

		event, err := w.normalizer.NormalizeLedger(network, update)
		if err != nil {
			w.logger.Error("failed to normalize confirmation",
				zap.String("network", network),
				zap.String("tx_hash", txHash),
				zap.Error(err))
			continue
		}

		if _, err := w.processor.Process(ctx, event); err != nil {
			w.logger.Error("failed to process confirmation event",
				zap.String("network", network),
				zap.String("tx_hash", txHash),
				zap.Error(err))
			metrics.LedgerPolls.WithLabelValues(network, "process_error").Inc()
			continue
		}
		metrics.LedgerPolls.WithLabelValues(network, "ok").Inc()
	}
}
