package dispute

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dgc-backbone/dgc/internal/apperrors"
	"github.com/dgc-backbone/dgc/internal/middleware"
	"github.com/dgc-backbone/dgc/internal/model"
)

// Handler exposes the dispute orchestrator's HTTP surface per §6.
type Handler struct {
	svc           *Service
	assignRoles   middleware.RoleSet
	resolveRoles  middleware.RoleSet
}

// NewHandler wraps svc with the governance role sets §4.I defaults for
// assign/resolve.
func NewHandler(svc *Service, assignRoles, resolveRoles middleware.RoleSet) *Handler {
	return &Handler{svc: svc, assignRoles: assignRoles, resolveRoles: resolveRoles}
}

// Register mounts the dispute orchestrator's routes onto r.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/disputes/open", h.open)
	r.POST("/disputes/:id/assign", middleware.RequireGovernanceRole(h.assignRoles), h.assign)
	r.POST("/disputes/:id/resolve", middleware.RequireGovernanceRole(h.resolveRoles), h.resolve)
	r.GET("/disputes/:id", h.get)
	r.GET("/disputes", h.list)
	r.GET("/health", h.health)
}

type openRequest struct {
	ListingID string  `json:"listingId" binding:"required"`
	CertID    string  `json:"certId" binding:"required"`
	OpenedBy  string  `json:"openedBy" binding:"required"`
	Reason    string  `json:"reason" binding:"required"`
	Evidence  *string `json:"evidence,omitempty"`
}

func (h *Handler) open(c *gin.Context) {
	var req openRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.New(apperrors.CodeInvalidRequest, err.Error(), err))
		return
	}
	record, err := h.svc.Open(c.Request.Context(), req.ListingID, req.CertID, req.OpenedBy, req.Reason, req.Evidence)
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

type assignRequest struct {
	AssignedBy string `json:"assignedBy" binding:"required"`
	Assignee   string `json:"assignee" binding:"required"`
}

func (h *Handler) assign(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.New(apperrors.CodeInvalidRequest, err.Error(), err))
		return
	}
	if appErr := middleware.CheckActorConsistency(c, req.AssignedBy); appErr != nil {
		c.Error(appErr)
		return
	}
	record, err := h.svc.Assign(c.Request.Context(), c.Param("id"), req.Assignee)
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

type resolveRequest struct {
	ResolvedBy      string                  `json:"resolvedBy" binding:"required"`
	Resolution      model.DisputeResolution `json:"resolution" binding:"required"`
	ResolutionNotes *string                 `json:"resolutionNotes,omitempty"`
}

func (h *Handler) resolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.New(apperrors.CodeInvalidRequest, err.Error(), err))
		return
	}
	if appErr := middleware.CheckActorConsistency(c, req.ResolvedBy); appErr != nil {
		c.Error(appErr)
		return
	}
	record, err := h.svc.Resolve(c.Request.Context(), c.Param("id"), req.ResolvedBy, req.Resolution, req.ResolutionNotes)
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *Handler) get(c *gin.Context) {
	record, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		c.Error(apperrors.New(apperrors.CodeNotFound, "dispute not found", nil))
		return
	}
	if err != nil {
		c.Error(apperrors.New(apperrors.CodeInternal, "failed to load dispute", err))
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *Handler) list(c *gin.Context) {
	status := model.DisputeStatus(c.Query("status"))
	records, err := h.svc.List(c.Request.Context(), status)
	if err != nil {
		c.Error(apperrors.New(apperrors.CodeInternal, "failed to list disputes", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"disputes": records})
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) mapError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.Error(apperrors.New(apperrors.CodeNotFound, "dispute not found", nil))
	case errors.Is(err, ErrAlreadyResolved):
		c.Error(apperrors.New(apperrors.CodeStateConflict, "dispute is already resolved", nil))
	default:
		c.Error(apperrors.New(apperrors.CodeInternal, "dispute operation failed", err))
	}
}
