package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/escrowd/internal/dispute"
	"github.com/mbd888/escrowd/internal/escrow"
	"github.com/mbd888/escrowd/internal/health"
	"github.com/mbd888/escrowd/internal/listing"
	"github.com/mbd888/escrowd/internal/metrics"
	"github.com/mbd888/escrowd/internal/money"
	"github.com/mbd888/escrowd/internal/party"
	"github.com/mbd888/escrowd/internal/validation"
)

func (s *Server) setupRoutes() {
	escrowHandler := escrow.NewHandler(s.engine)
	disputeHandler := dispute.NewHandler(s.disputes)

	// Operational endpoints, no actor required.
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", health.LiveHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")

	// Registration is the one identified route that must work before the
	// actor exists in the directory.
	v1.POST("/parties", s.registerParty)

	// Everything else requires a resolvable actor.
	actor := v1.Group("")
	actor.Use(s.actorMiddleware())

	actor.GET("/parties/me", s.getSelf)

	actor.POST("/listings", s.createListing)
	actor.GET("/listings", s.listListings)
	actor.GET("/listings/:id", s.getListing)

	escrowHandler.RegisterRoutes(actor)
	disputeHandler.RegisterRoutes(actor)

	if s.events != nil {
		actor.GET("/events", s.listEvents)
	}

	// Gateway callback surface. The simulator reports in-process, so in
	// demo mode this is only exercised by tests and manual poking; a real
	// provider's webhook authenticates with a shared secret in front of
	// this group.
	internal := v1.Group("/internal")
	internal.Use(s.actorMiddleware(), s.requireAdmin())
	escrowHandler.RegisterInternalRoutes(internal)

	admin := v1.Group("/admin")
	admin.Use(s.actorMiddleware(), s.requireAdmin())
	escrowHandler.RegisterAdminRoutes(admin)
	disputeHandler.RegisterAdminRoutes(admin)
	admin.POST("/scan", s.triggerScan)
}

// actorMiddleware resolves X-Actor-ID to a directory entry and stashes the
// identity on the request. Authentication proper (sessions, signatures)
// belongs to the surrounding app; this service trusts the header the same
// way it would trust a gateway-injected principal.
func (s *Server) actorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID := c.GetHeader("X-Actor-ID")
		if actorID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "missing_actor",
				"message": "X-Actor-ID header is required",
			})
			return
		}

		actor, err := s.parties.Resolve(c.Request.Context(), actorID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unknown_actor",
				"message": "actor is not registered",
			})
			return
		}

		c.Set("actorID", actor.ID)
		c.Set("actorRole", string(actor.Role))
		c.Next()
	}
}

// requireAdmin gates a route group to admin and super-admin actors.
func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !party.Role(c.GetString("actorRole")).IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "admin role required",
			})
			return
		}
		c.Next()
	}
}

// registerParty handles POST /v1/parties
func (s *Server) registerParty(c *gin.Context) {
	actorID := c.GetHeader("X-Actor-ID")
	if actorID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "missing_actor",
			"message": "X-Actor-ID header is required",
		})
		return
	}

	var req struct {
		DisplayName        string `json:"displayName"`
		HasShippingAddress bool   `json:"hasShippingAddress"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	// Self-registration never grants privileges; admins are provisioned
	// out of band. Re-registering keeps an existing elevated role.
	role := party.RoleMember
	if existing, err := s.parties.Resolve(c.Request.Context(), actorID); err == nil {
		role = existing.Role
	}

	actor := &party.Actor{
		ID:                 actorID,
		DisplayName:        validation.SanitizeString(req.DisplayName, 100),
		Role:               role,
		HasShippingAddress: req.HasShippingAddress,
	}
	if err := s.parties.Upsert(c.Request.Context(), actor); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to register",
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"party": actor})
}

// getSelf handles GET /v1/parties/me
func (s *Server) getSelf(c *gin.Context) {
	actor, err := s.parties.Resolve(c.Request.Context(), c.GetString("actorID"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "party not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"party": actor})
}

// createListing handles POST /v1/listings
func (s *Server) createListing(c *gin.Context) {
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Price       string `json:"price"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if errs := validation.Validate(
		validation.Required("title", req.Title),
		validation.MaxLength("title", req.Title, 200),
		validation.Required("price", req.Price),
		validation.ValidAmount("price", req.Price),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	price, err := money.Parse(req.Price)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "invalid price",
		})
		return
	}

	l := &listing.Listing{
		SellerID:    c.GetString("actorID"),
		Title:       validation.SanitizeString(req.Title, 200),
		Description: validation.SanitizeString(req.Description, validation.MaxReasonLength),
		Price:       price,
		Available:   true,
	}
	if err := s.listings.Create(c.Request.Context(), l); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create listing",
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"listing": l})
}

// listListings handles GET /v1/listings
func (s *Server) listListings(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}
	listings, err := s.listings.List(c.Request.Context(), c.Query("sellerId"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list listings",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"listings": listings,
		"count":    len(listings),
	})
}

// getListing handles GET /v1/listings/:id
func (s *Server) getListing(c *gin.Context) {
	l, err := s.listings.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "listing not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"listing": l})
}

// listEvents handles GET /v1/events: recent notifications for the caller.
// Demo mode only; production deployments push through a real channel.
func (s *Server) listEvents(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	events := s.events.Recent(c.GetString("actorID"), limit)
	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}

// triggerScan handles POST /v1/admin/scan: runs one lifecycle sweep
// immediately instead of waiting for the next tick.
func (s *Server) triggerScan(c *gin.Context) {
	s.scanner.Scan(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": "scan completed"})
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, checks := s.healthReg.CheckAll(c.Request.Context())
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"healthy": healthy,
		"checks":  checks,
	})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
		return
	}
	s.healthReg.ReadyHandler(c)
}
