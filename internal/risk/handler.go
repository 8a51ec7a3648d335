package risk

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dgc-backbone/dgc/internal/apperrors"
	"github.com/dgc-backbone/dgc/internal/model"
)

// Handler exposes the risk engine's HTTP surface per §6.
type Handler struct {
	svc *Service
}

// NewHandler wraps svc for gin route registration.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Register mounts the risk engine's routes onto r.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/ingest/ledger-event", h.ingestLedgerEvent)
	r.POST("/ingest/listing-audit-event", h.ingestListingAuditEvent)
	r.POST("/ingest/reconciliation-alert", h.ingestReconciliationAlert)
	r.GET("/risk/certificates/:id", h.certificateProfile)
	r.GET("/risk/listings/:id", h.listingProfile)
	r.GET("/risk/summary", h.summary)
	r.GET("/risk/alerts", h.alerts)
	r.GET("/health", h.health)
}

func (h *Handler) ingestLedgerEvent(c *gin.Context) {
	var event model.LedgerEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.Error(apperrors.New(apperrors.CodeInvalidRequest, err.Error(), err))
		return
	}
	if err := h.svc.IngestLedgerEvent(c.Request.Context(), event); err != nil {
		c.Error(apperrors.New(apperrors.CodeInvalidRequest, err.Error(), err))
		return
	}
	c.Status(http.StatusAccepted)
}

type reconciliationAlertRequest struct {
	RunID           string  `json:"runId" binding:"required"`
	AbsMismatchGram float64 `json:"absMismatchGram"`
	ThresholdGram   float64 `json:"thresholdGram"`
}

func (h *Handler) ingestListingAuditEvent(c *gin.Context) {
	var event model.ListingAuditEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.Error(apperrors.New(apperrors.CodeInvalidRequest, err.Error(), err))
		return
	}
	if err := h.svc.IngestListingAuditEvent(c.Request.Context(), event); err != nil {
		c.Error(apperrors.New(apperrors.CodeInvalidRequest, err.Error(), err))
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *Handler) ingestReconciliationAlert(c *gin.Context) {
	var req reconciliationAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.New(apperrors.CodeInvalidRequest, err.Error(), err))
		return
	}
	if err := h.svc.IngestReconciliationAlert(c.Request.Context(), req.RunID, req.AbsMismatchGram, req.ThresholdGram); err != nil {
		c.Error(apperrors.New(apperrors.CodeInternal, "failed to ingest reconciliation alert", err))
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *Handler) certificateProfile(c *gin.Context) {
	profile, err := h.svc.GetCertificateProfile(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		c.Error(apperrors.New(apperrors.CodeNotFound, "no risk profile for this certificate", nil))
		return
	}
	if err != nil {
		c.Error(apperrors.New(apperrors.CodeInternal, "failed to load certificate risk profile", err))
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *Handler) listingProfile(c *gin.Context) {
	profile, err := h.svc.GetListingProfile(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		c.Error(apperrors.New(apperrors.CodeNotFound, "no risk profile for this listing", nil))
		return
	}
	if err != nil {
		c.Error(apperrors.New(apperrors.CodeInternal, "failed to load listing risk profile", err))
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *Handler) summary(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 20)
	certs, listings, err := h.svc.Summary(c.Request.Context(), limit)
	if err != nil {
		c.Error(apperrors.New(apperrors.CodeInternal, "failed to load risk summary", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"certificates": certs, "listings": listings})
}

func (h *Handler) alerts(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 50)
	alerts, err := h.svc.Alerts(c.Request.Context(), limit)
	if err != nil {
		c.Error(apperrors.New(apperrors.CodeInternal, "failed to load risk alerts", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func parseLimit(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
