package marketplace

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dgc-backbone/dgc/internal/apperrors"
	"github.com/dgc-backbone/dgc/internal/middleware"
	"github.com/dgc-backbone/dgc/internal/model"
)

// Handler exposes the marketplace engine's HTTP surface per §6.
type Handler struct {
	svc   *Service
	store *Store
}

// NewHandler wraps svc for gin route registration. store additionally
// backs the idempotency middleware for mutating routes.
func NewHandler(svc *Service, store *Store) *Handler {
	return &Handler{svc: svc, store: store}
}

// Register mounts the marketplace engine's routes onto r.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/listings/create", h.create)
	r.POST("/escrow/lock", middleware.Idempotency("lockEscrow", h.store), h.lock)
	r.POST("/escrow/settle", middleware.Idempotency("settleEscrow", h.store), h.settle)
	r.POST("/escrow/cancel", middleware.Idempotency("cancelEscrow", h.store), h.cancel)
	r.POST("/listings/:id/dispute/open", h.openDispute)
	r.GET("/listings/:id", h.get)
	r.GET("/listings", h.list)
	r.GET("/listings/:id/audit", h.audit)
	r.GET("/health", h.health)
}

type createRequest struct {
	CertID   string `json:"certId" binding:"required"`
	Seller   string `json:"seller" binding:"required"`
	AskPrice string `json:"askPrice" binding:"required"`
}

func (h *Handler) create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.New(apperrors.CodeInvalidRequest, err.Error(), err))
		return
	}
	listing, err := h.svc.CreateListing(c.Request.Context(), req.CertID, req.Seller, req.AskPrice)
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusCreated, listing)
}

type lockRequest struct {
	ListingID string `json:"listingId" binding:"required"`
	Buyer     string `json:"buyer" binding:"required"`
}

func (h *Handler) lock(c *gin.Context) {
	var req lockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.New(apperrors.CodeInvalidRequest, err.Error(), err))
		return
	}
	idemKey, requestHash, _ := middleware.IdempotencyKey(c)
	listing, err := h.svc.LockEscrow(c.Request.Context(), req.ListingID, req.Buyer, IdempotencyContext{
		Action: "lockEscrow", Key: idemKey, RequestHash: requestHash,
	})
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

type settleRequest struct {
	ListingID    string  `json:"listingId" binding:"required"`
	Buyer        string  `json:"buyer" binding:"required"`
	SettledPrice *string `json:"settledPrice,omitempty"`
}

func (h *Handler) settle(c *gin.Context) {
	var req settleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.New(apperrors.CodeInvalidRequest, err.Error(), err))
		return
	}
	idemKey, requestHash, _ := middleware.IdempotencyKey(c)
	listing, transferred, err := h.svc.SettleEscrow(c.Request.Context(), req.ListingID, req.Buyer, req.SettledPrice, IdempotencyContext{
		Action: "settleEscrow", Key: idemKey, RequestHash: requestHash,
	})
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listing": listing, "transfer": transferred})
}

type cancelRequest struct {
	ListingID string  `json:"listingId" binding:"required"`
	Reason    *string `json:"reason,omitempty"`
}

func (h *Handler) cancel(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.New(apperrors.CodeInvalidRequest, err.Error(), err))
		return
	}
	idemKey, requestHash, _ := middleware.IdempotencyKey(c)
	listing, err := h.svc.CancelEscrow(c.Request.Context(), req.ListingID, req.Reason, IdempotencyContext{
		Action: "cancelEscrow", Key: idemKey, RequestHash: requestHash,
	})
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

type openDisputeRequest struct {
	OpenedBy string  `json:"openedBy" binding:"required"`
	Reason   string  `json:"reason" binding:"required"`
	Evidence *string `json:"evidence,omitempty"`
}

func (h *Handler) openDispute(c *gin.Context) {
	var req openDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.New(apperrors.CodeInvalidRequest, err.Error(), err))
		return
	}
	listing, err := h.svc.OpenDispute(c.Request.Context(), c.Param("id"), req.OpenedBy, req.Reason, req.Evidence)
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

func (h *Handler) get(c *gin.Context) {
	listing, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		c.Error(apperrors.New(apperrors.CodeNotFound, "listing not found", nil))
		return
	}
	if err != nil {
		c.Error(apperrors.New(apperrors.CodeInternal, "failed to load listing", err))
		return
	}
	c.JSON(http.StatusOK, listing)
}

func (h *Handler) list(c *gin.Context) {
	status := model.ListingStatus(c.Query("status"))
	listings, err := h.svc.List(c.Request.Context(), status)
	if err != nil {
		c.Error(apperrors.New(apperrors.CodeInternal, "failed to list listings", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings})
}

func (h *Handler) audit(c *gin.Context) {
	events, err := h.svc.Audit(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(apperrors.New(apperrors.CodeInternal, "failed to load audit trail", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"listingId": c.Param("id"), "events": events})
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) mapError(c *gin.Context, err error) {
	var stateErr *ListingStateError
	var downstream *DownstreamError
	var unreachable *ErrCollaboratorUnreachable
	var frozen *FrozenError

	switch {
	case errors.Is(err, ErrNotFound):
		c.Error(apperrors.New(apperrors.CodeNotFound, "listing not found", nil))
	case errors.Is(err, ErrOwnerMismatch):
		c.Error(apperrors.New(apperrors.CodeOwnerMismatch, err.Error(), nil))
	case errors.Is(err, ErrBuyerMismatch):
		c.Error(apperrors.New(apperrors.CodeBuyerMismatch, err.Error(), nil))
	case errors.Is(err, ErrListingTerminal), errors.As(err, &stateErr):
		c.Error(apperrors.New(apperrors.CodeStateConflict, err.Error(), nil))
	case errors.Is(err, ErrAlreadyUnderDispute), errors.Is(err, ErrListingNotSettled):
		c.Error(apperrors.New(apperrors.CodeStateConflict, err.Error(), nil))
	case errors.As(err, &frozen):
		c.JSON(http.StatusLocked, gin.H{
			"error":       apperrors.CodeMarketplaceFrozen,
			"message":     "marketplace is frozen pending reconciliation",
			"freezeState": frozen.State,
		})
	case errors.As(err, &downstream):
		switch downstream.StatusCode {
		case http.StatusNotFound:
			c.Error(apperrors.New(apperrors.CodeNotFound, downstream.Message, nil))
		case http.StatusConflict:
			c.Error(apperrors.New(apperrors.CodeStateConflict, downstream.Message, nil))
		default:
			c.Error(apperrors.New(apperrors.CodeCertificateServiceError, downstream.Error(), nil))
		}
	case errors.As(err, &unreachable):
		c.Error(apperrors.New(apperrors.CodeCertificateServiceUnreachable, unreachable.Error(), nil))
	default:
		c.Error(apperrors.New(apperrors.CodeInternal, "marketplace operation failed", err))
	}
}
