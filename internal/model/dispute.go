package model

// DisputeStatus is the lifecycle state of a DisputeRecord.
type DisputeStatus string

const (
	DisputeOpen     DisputeStatus = "OPEN"
	DisputeAssigned DisputeStatus = "ASSIGNED"
	DisputeResolved DisputeStatus = "RESOLVED"
)

// DisputeResolution is the outcome recorded when a dispute is resolved.
type DisputeResolution string

const (
	ResolutionRefundBuyer   DisputeResolution = "REFUND_BUYER"
	ResolutionReleaseSeller DisputeResolution = "RELEASE_SELLER"
	ResolutionManualReview  DisputeResolution = "MANUAL_REVIEW"
)

// DisputeRecord tracks one marketplace dispute end to end.
type DisputeRecord struct {
	DisputeID       string             `json:"disputeId" db:"dispute_id"`
	ListingID       string             `json:"listingId" db:"listing_id"`
	CertID          string             `json:"certId" db:"cert_id"`
	Status          DisputeStatus      `json:"status" db:"status"`
	OpenedBy        string             `json:"openedBy" db:"opened_by"`
	Reason          string             `json:"reason" db:"reason"`
	Evidence        *string            `json:"evidence,omitempty" db:"evidence"`
	OpenedAt        string             `json:"openedAt" db:"opened_at"`
	AssignedTo      *string            `json:"assignedTo,omitempty" db:"assigned_to"`
	AssignedAt      *string            `json:"assignedAt,omitempty" db:"assigned_at"`
	ResolvedBy      *string            `json:"resolvedBy,omitempty" db:"resolved_by"`
	ResolvedAt      *string            `json:"resolvedAt,omitempty" db:"resolved_at"`
	Resolution      *DisputeResolution `json:"resolution,omitempty" db:"resolution"`
	ResolutionNotes *string            `json:"resolutionNotes,omitempty" db:"resolution_notes"`
}
