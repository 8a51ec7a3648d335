package model

// LedgerEventType discriminates the LedgerEvent tagged union.
type LedgerEventType string

const (
	EventIssued        LedgerEventType = "ISSUED"
	EventTransfer      LedgerEventType = "TRANSFER"
	EventSplit         LedgerEventType = "SPLIT"
	EventStatusChanged LedgerEventType = "STATUS_CHANGED"
)

// LedgerEvent is the tagged union over §3's four lineage event variants.
// Fields not relevant to Type are left zero; encode/decode by discriminator.
type LedgerEvent struct {
	Type       LedgerEventType `json:"type"`
	CertID     string          `json:"certId"`
	OccurredAt string          `json:"occurredAt"`
	ProofHash  string          `json:"proofHash,omitempty"`

	// ISSUED
	Owner      string `json:"owner,omitempty"`
	AmountGram string `json:"amountGram,omitempty"`
	Purity     string `json:"purity,omitempty"`

	// TRANSFER
	From  string `json:"from,omitempty"`
	To    string `json:"to,omitempty"`
	Price string `json:"price,omitempty"`

	// SPLIT
	ParentCertID     string `json:"parentCertId,omitempty"`
	ChildCertID      string `json:"childCertId,omitempty"`
	AmountChildGram  string `json:"amountChildGram,omitempty"`

	// STATUS_CHANGED
	Status CertStatus `json:"status,omitempty"`
}

// Valid reports whether the event carries the fields its Type requires.
func (e LedgerEvent) Valid() bool {
	if e.CertID == "" || e.OccurredAt == "" {
		return false
	}
	switch e.Type {
	case EventIssued:
		return e.Owner != "" && e.AmountGram != "" && e.Purity != ""
	case EventTransfer:
		return e.From != "" && e.To != "" && e.AmountGram != ""
	case EventSplit:
		return e.ParentCertID != "" && e.ChildCertID != "" && e.From != "" && e.To != "" && e.AmountChildGram != ""
	case EventStatusChanged:
		return e.Status != ""
	default:
		return false
	}
}

// RecordedEvent is the ledger adapter's response to a successful record().
type RecordedEvent struct {
	Event       LedgerEvent `json:"event"`
	EventHash   string      `json:"eventHash"`
	LedgerTxRef string      `json:"ledgerTxRef,omitempty"`
}

// ChainStatus reports the configuration and health of the chain sink.
type ChainStatus struct {
	Configured       bool   `json:"configured"`
	RPCURL           string `json:"rpcUrl,omitempty"`
	RegistryAddress  string `json:"registryAddress,omitempty"`
	SignerAddress    string `json:"signerAddress,omitempty"`
	LatestBlock      uint64 `json:"latestBlock,omitempty"`
	Error            string `json:"error,omitempty"`
}
