package certauth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dgc-backbone/dgc/internal/apperrors"
	"github.com/dgc-backbone/dgc/internal/model"
)

// Handler exposes the certificate authority's HTTP surface per §6.
type Handler struct {
	svc *Service
}

// NewHandler wraps svc for gin route registration.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Register mounts the certificate authority's routes onto r.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/certificates/issue", h.issue)
	r.POST("/certificates/verify", h.verify)
	r.POST("/certificates/transfer", h.transfer)
	r.POST("/certificates/split", h.split)
	r.POST("/certificates/status", h.status)
	r.GET("/certificates/:id", h.get)
	r.GET("/certificates", h.list)
	r.GET("/certificates/:id/timeline", h.timeline)
	r.GET("/openapi.json", h.openAPI)
	r.GET("/health", h.health)
}

type issueRequest struct {
	Owner      string                 `json:"owner" binding:"required"`
	AmountGram string                 `json:"amountGram" binding:"required"`
	Purity     string                 `json:"purity" binding:"required"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

func (h *Handler) issue(c *gin.Context) {
	var req issueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.New(apperrors.CodeInvalidRequest, err.Error(), err))
		return
	}
	result, err := h.svc.Issue(c.Request.Context(), req.Owner, req.AmountGram, req.Purity, req.Metadata)
	if err != nil {
		h.mapMutationError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

type verifyRequest struct {
	CertID      string                    `json:"certId,omitempty"`
	Certificate *model.SignedCertificate `json:"certificate,omitempty"`
}

func (h *Handler) verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.New(apperrors.CodeInvalidRequest, err.Error(), err))
		return
	}
	if req.CertID == "" && req.Certificate == nil {
		c.Error(apperrors.New(apperrors.CodeInvalidRequest, "either certId or certificate is required", nil))
		return
	}
	result, err := h.svc.Verify(c.Request.Context(), req.CertID, req.Certificate)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.Error(apperrors.New(apperrors.CodeNotFound, "certificate not found", nil))
			return
		}
		c.Error(apperrors.New(apperrors.CodeInternal, "failed to verify certificate", err))
		return
	}
	c.JSON(http.StatusOK, result)
}

type transferRequest struct {
	CertID  string  `json:"certId" binding:"required"`
	ToOwner string  `json:"toOwner" binding:"required"`
	Price   *string `json:"price,omitempty"`
}

func (h *Handler) transfer(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.New(apperrors.CodeInvalidRequest, err.Error(), err))
		return
	}
	result, err := h.svc.Transfer(c.Request.Context(), req.CertID, req.ToOwner, req.Price)
	if err != nil {
		h.mapMutationError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type splitRequest struct {
	ParentCertID    string  `json:"parentCertId" binding:"required"`
	ToOwner         string  `json:"toOwner" binding:"required"`
	AmountChildGram string  `json:"amountChildGram" binding:"required"`
	Price           *string `json:"price,omitempty"`
}

func (h *Handler) split(c *gin.Context) {
	var req splitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.New(apperrors.CodeInvalidRequest, err.Error(), err))
		return
	}
	result, err := h.svc.Split(c.Request.Context(), req.ParentCertID, req.ToOwner, req.AmountChildGram, req.Price)
	if err != nil {
		h.mapMutationError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type statusRequest struct {
	CertID string            `json:"certId" binding:"required"`
	Next   model.CertStatus `json:"next" binding:"required"`
}

func (h *Handler) status(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.New(apperrors.CodeInvalidRequest, err.Error(), err))
		return
	}
	result, err := h.svc.Status(c.Request.Context(), req.CertID, req.Next)
	if err != nil {
		h.mapMutationError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) get(c *gin.Context) {
	cert, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		c.Error(apperrors.New(apperrors.CodeNotFound, "certificate not found", nil))
		return
	}
	if err != nil {
		c.Error(apperrors.New(apperrors.CodeInternal, "failed to load certificate", err))
		return
	}
	c.JSON(http.StatusOK, cert)
}

func (h *Handler) list(c *gin.Context) {
	certs, err := h.svc.List(c.Request.Context())
	if err != nil {
		c.Error(apperrors.New(apperrors.CodeInternal, "failed to list certificates", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"certificates": certs})
}

func (h *Handler) timeline(c *gin.Context) {
	events, err := h.svc.Timeline(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, ErrLedgerNotConfigured):
		c.Error(apperrors.New(apperrors.CodeLedgerAdapterNotConfigured, "ledger adapter is not configured", err))
		return
	case errors.Is(err, ErrLedgerUnreachable):
		c.Error(apperrors.New(apperrors.CodeLedgerAdapterUnreachable, "ledger adapter is unreachable", err))
		return
	case errors.Is(err, ErrLedgerError):
		c.Error(apperrors.New(apperrors.CodeLedgerAdapterError, "ledger adapter returned an error", err))
		return
	case err != nil:
		c.Error(apperrors.New(apperrors.CodeInternal, "failed to load timeline", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"certId": c.Param("id"), "events": events})
}

func (h *Handler) openAPI(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"openapi": "3.0.3",
		"info":    gin.H{"title": "DGC Certificate Authority", "version": "1.0.0"},
		"paths": gin.H{
			"/certificates/issue":            gin.H{"post": gin.H{"summary": "Issue a certificate"}},
			"/certificates/verify":           gin.H{"post": gin.H{"summary": "Verify a certificate"}},
			"/certificates/transfer":         gin.H{"post": gin.H{"summary": "Transfer ownership"}},
			"/certificates/split":            gin.H{"post": gin.H{"summary": "Split into a child certificate"}},
			"/certificates/status":           gin.H{"post": gin.H{"summary": "Transition certificate status"}},
			"/certificates/{id}":             gin.H{"get": gin.H{"summary": "Fetch a certificate"}},
			"/certificates":                  gin.H{"get": gin.H{"summary": "List certificates"}},
			"/certificates/{id}/timeline":    gin.H{"get": gin.H{"summary": "Fetch a certificate's lineage timeline"}},
		},
	})
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// mapMutationError maps Service's sentinel/typed errors onto the status
// contract in §6/§7.
func (h *Handler) mapMutationError(c *gin.Context, err error) {
	var stateConflict *StateConflictError
	switch {
	case errors.Is(err, ErrNotFound):
		c.Error(apperrors.New(apperrors.CodeNotFound, "certificate not found", nil))
	case errors.As(err, &stateConflict):
		c.Error(apperrors.New(apperrors.CodeStateConflict, stateConflict.Error(), nil))
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrSplitTooLarge), errors.Is(err, ErrSplitNonPositive):
		c.Error(apperrors.New(apperrors.CodeInvalidAmount, err.Error(), nil))
	case errors.Is(err, ErrInvalidPurity):
		c.Error(apperrors.New(apperrors.CodeInvalidRequest, err.Error(), nil))
	default:
		c.Error(apperrors.New(apperrors.CodeInternal, "certificate authority operation failed", err))
	}
}
