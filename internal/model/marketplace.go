package model

// ListingStatus is the lifecycle state of a MarketplaceListing.
type ListingStatus string

const (
	ListingOpen      ListingStatus = "OPEN"
	ListingLocked    ListingStatus = "LOCKED"
	ListingSettled   ListingStatus = "SETTLED"
	ListingCancelled ListingStatus = "CANCELLED"
)

var listingTransitions = map[ListingStatus]map[ListingStatus]bool{
	ListingOpen:   {ListingLocked: true, ListingCancelled: true},
	ListingLocked: {ListingSettled: true, ListingCancelled: true},
}

// ListingTransitionAllowed reports whether next is a legal successor of cur.
func ListingTransitionAllowed(cur, next ListingStatus) bool {
	allowed, ok := listingTransitions[cur]
	if !ok {
		return false
	}
	return allowed[next]
}

// MarketplaceListing is an off-chain escrow listing over one certificate.
type MarketplaceListing struct {
	ListingID string        `json:"listingId" db:"listing_id"`
	CertID    string        `json:"certId" db:"cert_id"`
	Seller    string        `json:"seller" db:"seller"`
	AskPrice  string        `json:"askPrice" db:"ask_price"`
	Status    ListingStatus `json:"status" db:"status"`
	CreatedAt string        `json:"createdAt" db:"created_at"`
	UpdatedAt string        `json:"updatedAt" db:"updated_at"`

	LockedBy *string `json:"lockedBy,omitempty" db:"locked_by"`
	LockedAt *string `json:"lockedAt,omitempty" db:"locked_at"`

	SettledAt     *string `json:"settledAt,omitempty" db:"settled_at"`
	SettledPrice  *string `json:"settledPrice,omitempty" db:"settled_price"`

	CancelledAt   *string `json:"cancelledAt,omitempty" db:"cancelled_at"`
	CancelReason  *string `json:"cancelReason,omitempty" db:"cancel_reason"`

	UnderDispute       bool    `json:"underDispute" db:"under_dispute"`
	DisputeID          *string `json:"disputeId,omitempty" db:"dispute_id"`
	DisputeStatus      *string `json:"disputeStatus,omitempty" db:"dispute_status"`
	DisputeOpenedAt    *string `json:"disputeOpenedAt,omitempty" db:"dispute_opened_at"`
	DisputeResolvedAt  *string `json:"disputeResolvedAt,omitempty" db:"dispute_resolved_at"`
}

// ListingAuditType discriminates ListingAuditEvent.
type ListingAuditType string

const (
	AuditCreated        ListingAuditType = "CREATED"
	AuditLocked         ListingAuditType = "LOCKED"
	AuditSettled        ListingAuditType = "SETTLED"
	AuditCancelled      ListingAuditType = "CANCELLED"
	AuditDisputeOpened  ListingAuditType = "DISPUTE_OPENED"
)

// ListingAuditEvent is one append-only audit row for a listing.
type ListingAuditEvent struct {
	EventID    string           `json:"eventId" db:"event_id"`
	ListingID  string           `json:"listingId" db:"listing_id"`
	CertID     string           `json:"certId" db:"cert_id"`
	Type       ListingAuditType `json:"type" db:"type"`
	Actor      string           `json:"actor,omitempty" db:"actor"`
	OccurredAt string           `json:"occurredAt" db:"occurred_at"`
	Details    map[string]interface{} `json:"details,omitempty" db:"-"`
	DetailsRaw string           `json:"-" db:"details"`
}

// IdempotencyRecord dedupes a mutating marketplace action.
type IdempotencyRecord struct {
	Action         string `db:"action"`
	Key            string `db:"key"`
	RequestHash    string `db:"request_hash"`
	ResponseStatus int    `db:"response_status"`
	ResponseBody   []byte `db:"response_body"`
	CreatedAt      string `db:"created_at"`
}
