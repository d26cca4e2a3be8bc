package positions

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aurumvault/metalex_unified/internal/reconcile"
)

// CreatePositionRequest is the body of POST /positions. Amounts travel as
// decimal strings; floats are never accepted.
type CreatePositionRequest struct {
	Kind          string `json:"kind" binding:"required,oneof=purchase redemption gift"`
	Asset         string `json:"asset" binding:"required,oneof=gold silver"`
	Network       string `json:"network" binding:"required,oneof=evm-public second-chain private-ledger"`
	Quantity      string `json:"quantity" binding:"required,decimal_amount"`
	MonetaryValue string `json:"monetary_value" binding:"required,decimal_amount"`
	FeeValue      string `json:"fee_value" binding:"omitempty,decimal_amount"`
}

// Handler provides the HTTP surface over the positions service.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a positions handler and registers the decimal_amount
// validation rule on gin's binding engine.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("decimal_amount", func(fl validator.FieldLevel) bool {
			_, err := decimal.NewFromString(fl.Field().String())
			return err == nil
		})
	}
	return &Handler{service: service, logger: logger}
}

// CreateHandler creates a new pending settlement record for the caller.
func (h *Handler) CreateHandler(c *gin.Context) {
	owner, ok := requestOwner(c)
	if !ok {
		return
	}

	var req CreatePositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "INVALID_REQUEST",
			"message": err.Error(),
		})
		return
	}

	quantity, _ := decimal.NewFromString(req.Quantity)
	monetaryValue, _ := decimal.NewFromString(req.MonetaryValue)
	feeValue := decimal.Zero
	if req.FeeValue != "" {
		feeValue, _ = decimal.NewFromString(req.FeeValue)
	}

	record, err := h.service.Create(
		c.Request.Context(), owner,
		req.Kind, req.Asset, req.Network,
		quantity, monetaryValue, feeValue,
		kycApproved(c),
	)
	if err != nil {
		if errors.Is(err, ErrKYCRequired) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "KYC_REQUIRED",
				"message": "KYC approval is required before settling positions",
			})
			return
		}
		h.logger.Error("failed to create settlement record", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "CREATE_FAILED",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, record)
}

// CancelHandler cancels a pending redemption.
func (h *Handler) CancelHandler(c *gin.Context) {
	owner, ok := requestOwner(c)
	if !ok {
		return
	}

	recordID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_RECORD_ID"})
		return
	}

	record, err := h.service.Cancel(c.Request.Context(), owner, recordID)
	if err != nil {
		switch {
		case errors.Is(err, reconcile.ErrRecordNotFound), errors.Is(err, ErrNotOwner):
			c.JSON(http.StatusNotFound, gin.H{"error": "RECORD_NOT_FOUND"})
		case errors.Is(err, ErrNotCancellable):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "NOT_CANCELLABLE",
				"message": err.Error(),
			})
		default:
			h.logger.Error("failed to cancel redemption", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "CANCEL_FAILED"})
		}
		return
	}

	c.JSON(http.StatusOK, record)
}

// GetHandler returns one of the caller's records.
func (h *Handler) GetHandler(c *gin.Context) {
	owner, ok := requestOwner(c)
	if !ok {
		return
	}

	recordID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_RECORD_ID"})
		return
	}

	record, err := h.service.Get(c.Request.Context(), owner, recordID)
	if err != nil {
		if errors.Is(err, reconcile.ErrRecordNotFound) || errors.Is(err, ErrNotOwner) {
			c.JSON(http.StatusNotFound, gin.H{"error": "RECORD_NOT_FOUND"})
			return
		}
		h.logger.Error("failed to load settlement record", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "LOOKUP_FAILED"})
		return
	}

	c.JSON(http.StatusOK, record)
}

// ListHandler returns the caller's records with pagination.
func (h *Handler) ListHandler(c *gin.Context) {
	owner, ok := requestOwner(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	records, total, err := h.service.List(
		c.Request.Context(), owner,
		c.Query("kind"), c.Query("status"),
		limit, offset,
	)
	if err != nil {
		h.logger.Error("failed to list settlement records", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "LIST_FAILED"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

// requestOwner reads the authenticated user id set by the (external) auth
// middleware. The platform's session layer is out of scope here; this
// surface only trusts the header contract it is given.
func requestOwner(c *gin.Context) (uuid.UUID, bool) {
	owner, err := uuid.Parse(c.GetHeader("X-User-ID"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "MISSING_USER"})
		return uuid.Nil, false
	}
	return owner, true
}

// kycApproved reads the KYC gate decided upstream of this service.
func kycApproved(c *gin.Context) bool {
	return c.GetHeader("X-KYC-Approved") == "true"
}
