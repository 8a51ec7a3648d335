package ledger

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dgc-backbone/dgc/internal/apperrors"
	"github.com/dgc-backbone/dgc/internal/model"
)

// Handler exposes the ledger adapter's HTTP surface per §6.
type Handler struct {
	svc *Service
}

// NewHandler wraps svc for gin route registration.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Register mounts the ledger adapter's routes onto r.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/proofs/anchor", h.anchor)
	r.GET("/proofs/:certId", h.getProof)
	r.POST("/events/record", h.record)
	r.GET("/events/:certId", h.timeline)
	r.GET("/chain/status", h.chainStatus)
	r.GET("/health", h.health)
}

type anchorRequest struct {
	CertID      string `json:"certId" binding:"required"`
	PayloadHash string `json:"payloadHash" binding:"required"`
	OccurredAt  string `json:"occurredAt" binding:"required"`
}

func (h *Handler) anchor(c *gin.Context) {
	var req anchorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.New(apperrors.CodeInvalidRequest, err.Error(), err))
		return
	}
	anchor, err := h.svc.Anchor(c.Request.Context(), req.CertID, req.PayloadHash, req.OccurredAt)
	if err != nil {
		c.Error(apperrors.New(apperrors.CodeInternal, "failed to anchor proof", err))
		return
	}
	c.JSON(http.StatusOK, anchor)
}

func (h *Handler) getProof(c *gin.Context) {
	certID := c.Param("certId")
	anchor, err := h.svc.GetProof(c.Request.Context(), certID)
	if errors.Is(err, ErrNotFound) {
		c.Error(apperrors.New(apperrors.CodeNotFound, "no proof anchor for this certificate", nil))
		return
	}
	if err != nil {
		c.Error(apperrors.New(apperrors.CodeInternal, "failed to load proof anchor", err))
		return
	}
	c.JSON(http.StatusOK, anchor)
}

func (h *Handler) record(c *gin.Context) {
	var event model.LedgerEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.Error(apperrors.New(apperrors.CodeInvalidRequest, err.Error(), err))
		return
	}
	if !event.Valid() {
		c.Error(apperrors.New(apperrors.CodeInvalidRequest, "event is missing fields required by its type", nil))
		return
	}
	result, err := h.svc.Record(c.Request.Context(), event)
	if err != nil {
		if result.ChainFailed {
			c.Error(apperrors.New(apperrors.CodeChainWriteFailed, "chain write failed; event was not recorded", err).WithStatusCode(http.StatusBadGateway))
			return
		}
		c.Error(apperrors.New(apperrors.CodeInternal, "failed to record event", err))
		return
	}
	c.JSON(http.StatusOK, result.Recorded)
}

func (h *Handler) timeline(c *gin.Context) {
	certID := c.Param("certId")
	events, err := h.svc.Timeline(c.Request.Context(), certID)
	if err != nil {
		c.Error(apperrors.New(apperrors.CodeInternal, "failed to load timeline", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"certId": certID, "events": events})
}

func (h *Handler) chainStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.ChainStatus(c.Request.Context()))
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
