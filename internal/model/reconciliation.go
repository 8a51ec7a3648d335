package model

// ReconciliationRun is one snapshot of custody-vs-claims reconciliation.
type ReconciliationRun struct {
	RunID                 string `json:"runId" db:"run_id"`
	CreatedAt             string `json:"createdAt" db:"created_at"`
	CustodyTotalGram      string `json:"custodyTotalGram" db:"custody_total_gram"`
	OutstandingTotalGram  string `json:"outstandingTotalGram" db:"outstanding_total_gram"`
	MismatchGram          string `json:"mismatchGram" db:"mismatch_gram"`
	AbsMismatchGram       string `json:"absMismatchGram" db:"abs_mismatch_gram"`
	ThresholdGram         string `json:"thresholdGram" db:"threshold_gram"`
	FreezeTriggered       bool   `json:"freezeTriggered" db:"freeze_triggered"`
	CertificatesEvaluated int    `json:"certificatesEvaluated" db:"certificates_evaluated"`
	ActiveCertificates    int    `json:"activeCertificates" db:"active_certificates"`
	LockedCertificates    int    `json:"lockedCertificates" db:"locked_certificates"`
}

// FreezeState is the singleton marketplace freeze flag.
type FreezeState struct {
	Active    bool    `json:"active" db:"active"`
	Reason    *string `json:"reason,omitempty" db:"reason"`
	UpdatedAt string  `json:"updatedAt" db:"updated_at"`
	LastRunID *string `json:"lastRunId,omitempty" db:"last_run_id"`
}

// FreezeOverride is an append-only governance action on the freeze state.
type FreezeOverride struct {
	OverrideID     string `json:"overrideId" db:"override_id"`
	Action         string `json:"action" db:"action"`
	Actor          string `json:"actor" db:"actor"`
	Reason         string `json:"reason" db:"reason"`
	PreviousActive bool   `json:"previousActive" db:"previous_active"`
	NextActive     bool   `json:"nextActive" db:"next_active"`
	CreatedAt      string `json:"createdAt" db:"created_at"`
	RunID          *string `json:"runId,omitempty" db:"run_id"`
}
