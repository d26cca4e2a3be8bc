// Package fiat exposes the inbound webhook endpoints for the fiat on/off-ramp
// providers and maps reconciliation outcomes onto provider acknowledgments.
package fiat

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aurumvault/metalex_unified/internal/reconcile"
	"github.com/aurumvault/metalex_unified/pkg/metrics"
)

// Handler processes provider webhook deliveries.
type Handler struct {
	normalizer *reconcile.Normalizer
	processor  *reconcile.Processor
	logger     *zap.Logger
}

// NewHandler creates a webhook handler.
func NewHandler(normalizer *reconcile.Normalizer, processor *reconcile.Processor, logger *zap.Logger) *Handler {
	return &Handler{
		normalizer: normalizer,
		processor:  processor,
		logger:     logger,
	}
}

// WebhookHandler handles a signed webhook delivery from one fiat provider.
// Only signature failures are rejected; every other outcome is acknowledged
// so the provider does not retry a delivery that can never succeed.
func (h *Handler) WebhookHandler(c *gin.Context) {
	provider := c.Param("provider")

	traceID := c.GetHeader("X-Trace-ID")
	if traceID == "" {
		traceID = uuid.New().String()
		c.Header("X-Trace-ID", traceID)
	}

	logger := h.logger.With(
		zap.String("trace_id", traceID),
		zap.String("provider", provider),
		zap.String("client_ip", c.ClientIP()),
	)

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		logger.Error("failed to read webhook body", zap.Error(err))
		metrics.WebhookRequests.WithLabelValues(provider, "read_error").Inc()
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "UNREADABLE_BODY",
			"trace_id": traceID,
		})
		return
	}

	event, err := h.normalizer.NormalizeFiat(provider, payload, c.GetHeader("X-Webhook-Signature"))
	if err != nil {
		status, code := ackForNormalizeError(err)
		if status == http.StatusUnauthorized {
			logger.Warn("webhook signature rejected", zap.Error(err))
		} else {
			logger.Error("webhook payload rejected", zap.Error(err))
		}
		metrics.WebhookRequests.WithLabelValues(provider, code).Inc()
		c.JSON(status, gin.H{
			"error":    code,
			"trace_id": traceID,
		})
		return
	}

	result, err := h.processor.Process(c.Request.Context(), event)
	if err != nil {
		logger.Error("webhook processing failed", zap.Error(err))
		metrics.WebhookRequests.WithLabelValues(provider, "internal_error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":    "PROCESSING_FAILED",
			"trace_id": traceID,
		})
		return
	}

	status, body := ackForResult(result)
	body["trace_id"] = traceID
	metrics.WebhookRequests.WithLabelValues(provider, body["result"].(string)).Inc()
	logger.Info("webhook processed",
		zap.String("source_event_id", event.SourceEventID),
		zap.String("result", body["result"].(string)))
	c.JSON(status, body)
}

// ackForNormalizeError maps a normalization error to the HTTP response the
// provider should see. Malformed payloads are acknowledged: redelivering a
// permanently broken payload helps nobody.
func ackForNormalizeError(err error) (int, string) {
	switch {
	case errors.Is(err, reconcile.ErrInvalidSignature):
		return http.StatusUnauthorized, "INVALID_SIGNATURE"
	case errors.Is(err, reconcile.ErrUnknownProvider):
		return http.StatusNotFound, "UNKNOWN_PROVIDER"
	case errors.Is(err, reconcile.ErrMalformedPayload):
		return http.StatusOK, "MALFORMED_ACKNOWLEDGED"
	default:
		return http.StatusInternalServerError, "NORMALIZATION_FAILED"
	}
}

// ackForResult maps a pipeline result to the provider acknowledgment. Only
// contention asks the provider to redeliver; invalid transitions and
// reference mismatches are operator problems, not provider problems.
func ackForResult(result reconcile.ProcessResult) (int, gin.H) {
	if !result.Matched {
		return http.StatusOK, gin.H{"result": "unmatched"}
	}
	switch result.Outcome.Kind {
	case reconcile.OutcomeApplied:
		return http.StatusOK, gin.H{
			"result":    "applied",
			"record_id": result.RecordID.String(),
			"status":    result.Outcome.NewStatus,
		}
	case reconcile.OutcomeNoOpAlreadyTerminal:
		return http.StatusOK, gin.H{"result": "noop_terminal", "record_id": result.RecordID.String()}
	case reconcile.OutcomeNoOpDuplicateSourceEvent:
		return http.StatusOK, gin.H{"result": "noop_duplicate", "record_id": result.RecordID.String()}
	case reconcile.OutcomeRejected:
		if result.Outcome.RejectReason == reconcile.RejectContention {
			return http.StatusInternalServerError, gin.H{"result": "contention"}
		}
		return http.StatusOK, gin.H{
			"result": "rejected",
			"reason": string(result.Outcome.RejectReason),
		}
	default:
		return http.StatusInternalServerError, gin.H{"result": "unknown_outcome"}
	}
}
