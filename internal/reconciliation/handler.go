package reconciliation

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dgc-backbone/dgc/internal/apperrors"
	"github.com/dgc-backbone/dgc/internal/middleware"
)

// Handler exposes the reconciliation controller's HTTP surface per §6.
type Handler struct {
	svc           *Service
	unfreezeRoles middleware.RoleSet
}

// NewHandler wraps svc with the governance role set gating unfreeze.
func NewHandler(svc *Service, unfreezeRoles middleware.RoleSet) *Handler {
	return &Handler{svc: svc, unfreezeRoles: unfreezeRoles}
}

// Register mounts the reconciliation controller's routes onto r.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/reconcile/run", h.run)
	r.GET("/reconcile/latest", h.latest)
	r.GET("/reconcile/history", h.history)
	r.POST("/freeze/unfreeze", middleware.RequireGovernanceRole(h.unfreezeRoles), h.unfreeze)
	r.GET("/freeze/overrides", h.overrides)
	r.GET("/health", h.health)
}

type runRequest struct {
	InventoryTotalGram *string `json:"inventoryTotalGram,omitempty"`
}

func (h *Handler) run(c *gin.Context) {
	var req runRequest
	_ = c.ShouldBindJSON(&req)
	run, err := h.svc.Run(c.Request.Context(), RunRequest{InventoryTotalGram: req.InventoryTotalGram})
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *Handler) latest(c *gin.Context) {
	run, state, err := h.svc.Latest(c.Request.Context())
	if err != nil {
		c.Error(apperrors.New(apperrors.CodeInternal, "failed to load latest run", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run, "freezeState": state})
}

func (h *Handler) history(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 20)
	runs, err := h.svc.History(c.Request.Context(), limit)
	if err != nil {
		c.Error(apperrors.New(apperrors.CodeInternal, "failed to load history", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

type unfreezeRequest struct {
	Actor  string `json:"actor" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

func (h *Handler) unfreeze(c *gin.Context) {
	var req unfreezeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.New(apperrors.CodeInvalidRequest, err.Error(), err))
		return
	}
	if appErr := middleware.CheckActorConsistency(c, req.Actor); appErr != nil {
		c.Error(appErr)
		return
	}
	state, err := h.svc.Unfreeze(c.Request.Context(), req.Actor, req.Reason)
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *Handler) overrides(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 20)
	overrides, err := h.svc.Overrides(c.Request.Context(), limit)
	if err != nil {
		c.Error(apperrors.New(apperrors.CodeInternal, "failed to load overrides", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"overrides": overrides})
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) mapError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrCertificateServiceUnreachable):
		c.Error(apperrors.New(apperrors.CodeCertificateServiceUnreachable, "certificate service unreachable", err))
	case errors.Is(err, ErrCertificateServiceError):
		c.Error(apperrors.New(apperrors.CodeCertificateServiceError, "certificate service returned an error", err))
	case errors.Is(err, ErrNotFrozen):
		c.Error(apperrors.New(apperrors.CodeStateConflict, "freeze state is not active", nil))
	default:
		c.Error(apperrors.New(apperrors.CodeInternal, "reconciliation operation failed", err))
	}
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
