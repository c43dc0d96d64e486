package dispute

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/escrowd/internal/escrow"
	"github.com/mbd888/escrowd/internal/validation"
)

// Handler provides HTTP endpoints for dispute case management.
type Handler struct {
	service *Service
}

// NewHandler creates a new dispute handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up dispute routes for participants.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/disputes", h.ListDisputes)

	withID := r.Group("/disputes/:id", validation.IDParamMiddleware())
	withID.GET("", h.GetDispute)
	withID.GET("/messages", h.GetThread)
	withID.POST("/messages", h.PostMessage)
}

// RegisterAdminRoutes sets up the escalation and ruling routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	withID := r.Group("/disputes/:id", validation.IDParamMiddleware())
	withID.POST("/escalate", h.Escalate)
	withID.POST("/resolve", h.ResolveDispute)
}

// GetDispute handles GET /v1/disputes/:id
func (h *Handler) GetDispute(c *gin.Context) {
	d, err := h.service.Get(c.Request.Context(), c.Param("id"), c.GetString("actorID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// ListDisputes handles GET /v1/disputes
func (h *Handler) ListDisputes(c *gin.Context) {
	f := Filter{
		UserID: c.Query("userId"),
		Status: Status(c.Query("status")),
		Limit:  50,
	}
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			f.Limit = parsed
			if f.Limit > 200 {
				f.Limit = 200
			}
		}
	}

	disputes, err := h.service.List(c.Request.Context(), c.GetString("actorID"), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"disputes": disputes,
		"count":    len(disputes),
	})
}

// GetThread handles GET /v1/disputes/:id/messages
func (h *Handler) GetThread(c *gin.Context) {
	messages, err := h.service.Thread(c.Request.Context(), c.Param("id"), c.GetString("actorID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"messages": messages,
		"count":    len(messages),
	})
}

// PostMessage handles POST /v1/disputes/:id/messages. Text and evidence
// are each optional; the service rejects a message carrying neither.
func (h *Handler) PostMessage(c *gin.Context) {
	var req struct {
		Body        string `json:"body"`
		EvidenceRef string `json:"evidenceRef"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if errs := validation.Validate(
		validation.MaxLength("body", req.Body, validation.MaxReasonLength),
		validation.MaxLength("evidenceRef", req.EvidenceRef, 500),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	m, err := h.service.AddMessage(c.Request.Context(), c.Param("id"), c.GetString("actorID"),
		validation.SanitizeString(req.Body, validation.MaxReasonLength),
		validation.SanitizeString(req.EvidenceRef, 500))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": m})
}

// Escalate handles POST /v1/admin/disputes/:id/escalate
func (h *Handler) Escalate(c *gin.Context) {
	d, err := h.service.Escalate(c.Request.Context(), c.Param("id"), c.GetString("actorID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// ResolveDispute handles POST /v1/admin/disputes/:id/resolve
func (h *Handler) ResolveDispute(c *gin.Context) {
	var req escrow.OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	req.Details = validation.SanitizeString(req.Details, validation.MaxReasonLength)
	req.Resolution = validation.SanitizeString(req.Resolution, validation.MaxReasonLength)

	d, err := h.service.Settle(c.Request.Context(), c.Param("id"), c.GetString("actorID"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// respondError maps dispute errors onto HTTP responses. Settlement errors
// surface from the engine and keep its mapping.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": err.Error(),
		})
	case errors.Is(err, ErrUnauthorized), errors.Is(err, escrow.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": err.Error(),
		})
	case errors.Is(err, ErrClosed), errors.Is(err, ErrAlreadyEscalated),
		errors.Is(err, ErrActiveExists), errors.Is(err, escrow.ErrIllegalTransition):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "conflict",
			"message": err.Error(),
		})
	case errors.Is(err, ErrEmptyMessage), errors.Is(err, escrow.ErrInvalidAmount):
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
