package escrow

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/escrowd/internal/pagination"
	"github.com/mbd888/escrowd/internal/validation"
)

// Handler provides HTTP endpoints for transaction lifecycle operations.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new transaction handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes sets up transaction routes. All routes require a resolved
// actor (the actor middleware runs before these).
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/transactions", h.InitiateTransaction)
	r.GET("/transactions", h.ListTransactions)

	withID := r.Group("/transactions/:id", validation.IDParamMiddleware())
	withID.GET("", h.GetTransaction)
	withID.POST("/ship", h.MarkShipped)
	withID.POST("/accept", h.AcceptItem)
	withID.POST("/dispute", h.RaiseDispute)
}

// RegisterAdminRoutes sets up admin-only transaction routes. The admin
// middleware runs before these.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	withID := r.Group("/transactions/:id", validation.IDParamMiddleware())
	withID.GET("/actions", h.ListActions)
	withID.POST("/override", h.OverrideTransaction)
	withID.POST("/reverse", h.ReverseAction)
}

// RegisterInternalRoutes sets up the gateway callback route. In production
// this is where the payment provider's webhook lands; the capture
// simulator calls the engine directly instead.
func (h *Handler) RegisterInternalRoutes(r *gin.RouterGroup) {
	withID := r.Group("/transactions/:id", validation.IDParamMiddleware())
	withID.POST("/capture-result", h.CaptureResult)
}

// InitiateTransaction handles POST /v1/transactions
func (h *Handler) InitiateTransaction(c *gin.Context) {
	var req struct {
		ListingID string `json:"listingId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if errs := validation.Validate(
		validation.Required("listingId", req.ListingID),
		validation.ValidID("listingId", req.ListingID),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	t, fee, err := h.engine.Initiate(c.Request.Context(), c.GetString("actorID"), req.ListingID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"transaction":    t,
		"platformFee":    fee,
		"sellerReceives": t.Amount - fee,
	})
}

// GetTransaction handles GET /v1/transactions/:id
func (h *Handler) GetTransaction(c *gin.Context) {
	t, err := h.engine.Get(c.Request.Context(), c.Param("id"), c.GetString("actorID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": t})
}

// ListTransactions handles GET /v1/transactions
func (h *Handler) ListTransactions(c *gin.Context) {
	f := Filter{
		UserID: c.Query("userId"),
		Status: Status(c.Query("status")),
		Limit:  50,
	}
	if f.Status != "" && !f.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "unknown status",
		})
		return
	}
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			f.Limit = parsed
			if f.Limit > 200 {
				f.Limit = 200
			}
		}
	}
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "invalid cursor",
		})
		return
	}
	f.After = cursor

	// Fetch one extra row to learn whether a next page exists.
	pageSize := f.Limit
	f.Limit = pageSize + 1
	txns, err := h.engine.List(c.Request.Context(), c.GetString("actorID"), f)
	if err != nil {
		respondError(c, err)
		return
	}
	txns, next, hasMore := pagination.ComputePage(txns, pageSize, func(t *Transaction) (time.Time, string) {
		return t.CreatedAt, t.ID
	})
	resp := gin.H{
		"transactions": txns,
		"count":        len(txns),
		"hasMore":      hasMore,
	}
	if next != "" {
		resp["nextCursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

// MarkShipped handles POST /v1/transactions/:id/ship
func (h *Handler) MarkShipped(c *gin.Context) {
	var req struct {
		TrackingNumber string `json:"trackingNumber"`
		ShippingProof  string `json:"shippingProof"`
		ExpectedStatus Status `json:"expectedStatus"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	t, err := h.engine.MarkShipped(c.Request.Context(), c.Param("id"), c.GetString("actorID"),
		validation.SanitizeString(req.TrackingNumber, 100),
		validation.SanitizeString(req.ShippingProof, 500),
		req.ExpectedStatus)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": t})
}

// AcceptItem handles POST /v1/transactions/:id/accept
func (h *Handler) AcceptItem(c *gin.Context) {
	var req struct {
		ExpectedStatus Status `json:"expectedStatus"`
	}
	// Body is optional for acceptance.
	_ = c.ShouldBindJSON(&req)

	t, err := h.engine.AcceptItem(c.Request.Context(), c.Param("id"), c.GetString("actorID"), req.ExpectedStatus)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": t})
}

// RaiseDispute handles POST /v1/transactions/:id/dispute
func (h *Handler) RaiseDispute(c *gin.Context) {
	var req struct {
		Reason         string `json:"reason"`
		ExpectedStatus Status `json:"expectedStatus"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if errs := validation.Validate(
		validation.Required("reason", req.Reason),
		validation.MaxLength("reason", req.Reason, validation.MaxReasonLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	t, disputeID, err := h.engine.RaiseDispute(c.Request.Context(), c.Param("id"), c.GetString("actorID"),
		validation.SanitizeString(req.Reason, validation.MaxReasonLength), req.ExpectedStatus)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transaction": t,
		"disputeId":   disputeID,
	})
}

// CaptureResult handles POST /v1/internal/transactions/:id/capture-result
func (h *Handler) CaptureResult(c *gin.Context) {
	var req struct {
		Success bool   `json:"success"`
		Reason  string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	t, err := h.engine.CompleteCapture(c.Request.Context(), c.Param("id"), req.Success,
		validation.SanitizeString(req.Reason, validation.MaxReasonLength))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": t})
}

// ListActions handles GET /v1/admin/transactions/:id/actions
func (h *Handler) ListActions(c *gin.Context) {
	actions, err := h.engine.ListActions(c.Request.Context(), c.Param("id"), c.GetString("actorID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"actions": actions,
		"count":   len(actions),
	})
}

// OverrideTransaction handles POST /v1/admin/transactions/:id/override
func (h *Handler) OverrideTransaction(c *gin.Context) {
	var req OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	req.Details = validation.SanitizeString(req.Details, validation.MaxReasonLength)

	t, err := h.engine.Override(c.Request.Context(), c.Param("id"), c.GetString("actorID"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": t})
}

// ReverseAction handles POST /v1/admin/transactions/:id/reverse
func (h *Handler) ReverseAction(c *gin.Context) {
	var req struct {
		ActionID string `json:"actionId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if errs := validation.Validate(
		validation.Required("actionId", req.ActionID),
		validation.ValidID("actionId", req.ActionID),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	t, err := h.engine.ReverseAdminAction(c.Request.Context(), c.Param("id"), c.GetString("actorID"), req.ActionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": t})
}

// respondError maps engine errors onto HTTP responses.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrTransactionNotFound), errors.Is(err, ErrActionNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": err.Error(),
		})
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrSelfReversal):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": err.Error(),
		})
	case errors.Is(err, ErrIllegalTransition):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "illegal_transition",
			"message": err.Error(),
		})
	case errors.Is(err, ErrConflict), errors.Is(err, ErrDisputeOpen),
		errors.Is(err, ErrAlreadyReversed), errors.Is(err, ErrNotReversible):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "conflict",
			"message": err.Error(),
		})
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrMissingTracking),
		errors.Is(err, ErrMissingReason), errors.Is(err, ErrNoShippingAddress),
		errors.Is(err, ErrSelfPurchase), errors.Is(err, ErrListingUnavailable):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "unprocessable",
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Internal server error",
		})
	}
}
