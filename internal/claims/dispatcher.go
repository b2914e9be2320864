// Package claims gates ledger ingestion behind an attestation check and a
// same-caller check. Attestation production is an external system; this
// package only verifies the seal it delivers.
package claims

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"creditScope/internal/ledger"
	"creditScope/internal/model"
)

// IngestSelector is the function selector attestations must be keyed to.
var IngestSelector = crypto.Keccak256([]byte(
	"ingest(address,uint8,(address,address,uint64,uint64,uint256,uint8)[])",
))[:4]

// Attestation carries the validity seal for a claim.
type Attestation struct {
	// Selector is the originating function selector the seal is keyed to.
	Selector hexutil.Bytes `json:"selector"`
	// Seal is a 65-byte secp256k1 signature from the trusted attestor.
	Seal hexutil.Bytes `json:"seal"`
}

// Claim is a batch of observations attributed to a claimant, with its
// attestation.
type Claim struct {
	Claimant     string              `json:"claimant"`
	Protocol     model.Protocol      `json:"protocol"`
	Observations []model.Observation `json:"observations"`
	Attestation  Attestation         `json:"attestation"`
}

// Digest is the canonical hash the attestation and the caller signature
// commit to.
func (c Claim) Digest() (common.Hash, error) {
	payload, err := json.Marshal(struct {
		Claimant     string              `json:"claimant"`
		Protocol     model.Protocol      `json:"protocol"`
		Observations []model.Observation `json:"observations"`
	}{c.Claimant, c.Protocol, c.Observations})
	if err != nil {
		return common.Hash{}, fmt.Errorf("marshal claim: %w", err)
	}
	return crypto.Keccak256Hash(payload), nil
}

// Verifier checks that an attestation is valid for a claim digest. The proof
// system behind it is opaque to this service.
type Verifier interface {
	Verify(selector []byte, claimant common.Address, digest common.Hash, seal []byte) error
}

// SealVerifier accepts seals signed by a single trusted attestor key, keyed
// to the ingest selector.
type SealVerifier struct {
	attestor common.Address
	selector []byte
}

func NewSealVerifier(attestor common.Address) *SealVerifier {
	return &SealVerifier{attestor: attestor, selector: IngestSelector}
}

func (v *SealVerifier) Verify(selector []byte, claimant common.Address, digest common.Hash, seal []byte) error {
	if !bytes.Equal(selector, v.selector) {
		return fmt.Errorf("%w: attestation keyed to wrong selector", model.ErrUnauthorized)
	}

	message := crypto.Keccak256Hash(selector, claimant.Bytes(), digest.Bytes())
	signer, err := recoverSigner(message, seal)
	if err != nil {
		return fmt.Errorf("%w: seal recovery failed", model.ErrUnauthorized)
	}
	if signer != v.attestor {
		return fmt.Errorf("%w: seal not from trusted attestor", model.ErrUnauthorized)
	}
	return nil
}

// Dispatcher validates claims and forwards them to the ledger.
type Dispatcher struct {
	ledger   *ledger.Ledger
	verifier Verifier
	logger   *zap.Logger
}

func NewDispatcher(ledgerSvc *ledger.Ledger, verifier Verifier, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{ledger: ledgerSvc, verifier: verifier, logger: logger}
}

// Submit checks the caller signature and the attestation seal, then ingests
// the claim. The caller is recovered from an EIP-191 personal signature over
// the claim digest and must equal the claimant: the ledger is self-service
// only.
func (d *Dispatcher) Submit(ctx context.Context, callerSig []byte, claim Claim) ([]model.LedgerEvent, error) {
	if !common.IsHexAddress(claim.Claimant) {
		return nil, fmt.Errorf("%w: claimant address %q", model.ErrInvalidObservation, claim.Claimant)
	}
	claimant := common.HexToAddress(claim.Claimant)

	digest, err := claim.Digest()
	if err != nil {
		return nil, err
	}

	caller, err := recoverCaller(digest, callerSig)
	if err != nil {
		return nil, err
	}
	if caller != claimant {
		return nil, fmt.Errorf("%w: caller %s is not claimant %s", model.ErrUnauthorized, caller.Hex(), claimant.Hex())
	}

	if err := d.verifier.Verify(claim.Attestation.Selector, claimant, digest, claim.Attestation.Seal); err != nil {
		return nil, err
	}

	events, err := d.ledger.Ingest(ctx, claim.Claimant, claim.Protocol, claim.Observations)
	if err != nil {
		d.logger.Warn("claim ingest",
			zap.String("claimant", claimant.Hex()),
			zap.String("protocol", claim.Protocol.String()),
			zap.Error(err),
		)
	}
	return events, err
}

// recoverCaller recovers the signer of an EIP-191 personal signature over the
// claim digest.
func recoverCaller(digest common.Hash, sig []byte) (common.Address, error) {
	// personal_sign wraps the payload before hashing.
	message := crypto.Keccak256Hash(
		[]byte("\x19Ethereum Signed Message:\n32"),
		digest.Bytes(),
	)

	signer, err := recoverSigner(message, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: caller recovery failed", model.ErrUnauthorized)
	}
	return signer, nil
}

// recoverSigner recovers the secp256k1 signer of a 65-byte signature over the
// message hash. Both 0/1 and 27/28 recovery ids are accepted.
func recoverSigner(message common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("malformed signature length %d", len(sig))
	}

	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	pub, err := crypto.SigToPub(message.Bytes(), normalized)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
