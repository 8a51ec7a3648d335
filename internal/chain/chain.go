// Package chain implements the optional external blockchain sink
// (component B): an adapter that accepts a lineage event and returns a
// transaction reference, or reports itself unconfigured. The on-chain
// smart contract itself is out of scope per §1; this package only owns the
// deterministic encoding contract described in §4.C.
package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/dgc-backbone/dgc/internal/amount"
	"github.com/dgc-backbone/dgc/internal/model"
)

// ErrNotConfigured is returned by NoopSink.Write. Status never returns an
// error; it reports the unconfigured case through ChainStatus.Configured.
var ErrNotConfigured = errors.New("chain: sink not configured")

// StatusCode maps a CertStatus to its on-chain integer code per §4.C.
func StatusCode(s model.CertStatus) int {
	switch s {
	case model.CertActive:
		return 0
	case model.CertLocked:
		return 1
	case model.CertRedeemed:
		return 2
	case model.CertRevoked:
		return 3
	default:
		return -1
	}
}

// PurityBasisPoints converts a canonical purity string (e.g. "999.9") into
// basis points (9999), per §4.C.
func PurityBasisPoints(purity string) (int64, error) {
	parts := strings.SplitN(purity, ".", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("chain: invalid purity %q", purity)
	}
	whole, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("chain: invalid purity %q: %w", purity, err)
	}
	frac, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("chain: invalid purity %q: %w", purity, err)
	}
	return whole*10 + frac, nil
}

// AmountScaled converts a canonical amount string into its ×10,000
// integer-scaled on-chain representation.
func AmountScaled(canonicalAmount string) (int64, error) {
	return amount.Parse(canonicalAmount)
}

// CanonicalCertID maps a certId onto its stable 32-byte on-chain identity.
// A hex string of exactly 32 bytes (64 hex chars, optional 0x prefix) is
// used as-is; anything else is collapsed via keccak256(utf8(certId)). Once
// anchored, this mapping is part of the public on-chain contract per §9(ii).
func CanonicalCertID(certID string) [32]byte {
	trimmed := strings.TrimPrefix(certID, "0x")
	if raw, err := hex.DecodeString(trimmed); err == nil && len(raw) == 32 {
		var out [32]byte
		copy(out[:], raw)
		return out
	}
	return crypto.Keccak256Hash([]byte(certID))
}

// CanonicalActor maps a caller-supplied actor identifier onto an on-chain
// address. A well-formed hex address is used as-is; anything else is
// derived from the last 20 bytes of keccak256(utf8(actor)).
func CanonicalActor(actor string) common.Address {
	trimmed := strings.TrimPrefix(actor, "0x")
	if raw, err := hex.DecodeString(trimmed); err == nil && len(raw) == 20 {
		return common.BytesToAddress(raw)
	}
	hash := crypto.Keccak256([]byte(actor))
	return common.BytesToAddress(hash[len(hash)-20:])
}

// Writer is the ChainWriter contract §1 and §4.B describe: an opaque sink
// that accepts a lineage event and returns a transaction reference.
type Writer interface {
	Write(ctx context.Context, event model.LedgerEvent) (txRef string, err error)
	Status(ctx context.Context) model.ChainStatus
}

// NoopSink reports itself unconfigured for every call. The ledger adapter
// uses it unless CHAIN_RPC_URL, CHAIN_PRIVATE_KEY and DGC_REGISTRY_ADDRESS
// are all set, and also when the EthSink cannot be built.
type NoopSink struct{}

func (NoopSink) Write(context.Context, model.LedgerEvent) (string, error) {
	return "", ErrNotConfigured
}

func (NoopSink) Status(context.Context) model.ChainStatus {
	return model.ChainStatus{Configured: false}
}

// EthSink connects to an EVM-compatible chain via JSON-RPC and reports the
// chain's status. It sends no transaction to the registry contract; see
// Write for the reference it returns instead.
type EthSink struct {
	client          *ethclient.Client
	rpcURL          string
	registryAddress string
	signerAddress   string
	signerKey       []byte
}

// NewEthSink dials rpcURL and derives the signer address from privateKeyHex.
func NewEthSink(rpcURL, privateKeyHex, registryAddress string) (*EthSink, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %q: %w", rpcURL, err)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("chain: invalid signer key: %w", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	return &EthSink{
		client:          client,
		rpcURL:          rpcURL,
		registryAddress: registryAddress,
		signerAddress:   addr.Hex(),
	}, nil
}

// Write derives event's canonical certId, reads the chain's latest block
// number and returns "0x<certId>:<block>" as the tx reference. It sends no
// transaction and does not encode the actor, status or amount fields.
func (s *EthSink) Write(ctx context.Context, event model.LedgerEvent) (string, error) {
	certID := CanonicalCertID(event.CertID)
	block, err := s.client.BlockNumber(ctx)
	if err != nil {
		return "", fmt.Errorf("chain: write failed: %w", err)
	}
	txRef := fmt.Sprintf("0x%x:%d", certID, block)
	return txRef, nil
}

func (s *EthSink) Status(ctx context.Context) model.ChainStatus {
	status := model.ChainStatus{
		Configured:      true,
		RPCURL:          s.rpcURL,
		RegistryAddress: s.registryAddress,
		SignerAddress:   s.signerAddress,
	}
	block, err := s.client.BlockNumber(ctx)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.LatestBlock = block
	return status
}
