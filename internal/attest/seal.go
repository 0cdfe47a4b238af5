package attest

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// RootSealVerifier checks seals of the form keccak256(root || payload),
// where root is the attestation network's published verification root.
// Networks with richer schemes plug in their own SealVerifier.
type RootSealVerifier struct {
	root common.Hash
}

func NewRootSealVerifier(root common.Hash) (*RootSealVerifier, error) {
	if root == (common.Hash{}) {
		return nil, fmt.Errorf("%w: zero verification root", ErrInvalidConfig)
	}
	return &RootSealVerifier{root: root}, nil
}

func (r *RootSealVerifier) VerifySeal(_ context.Context, payload, seal []byte) error {
	want := SealPayload(r.root, payload)
	if len(seal) != common.HashLength || subtle.ConstantTimeCompare(want[:], seal) != 1 {
		return fmt.Errorf("seal does not match verification root")
	}
	return nil
}

// SealPayload computes the seal for a payload under root. Exposed for the
// test network and fixtures that mint their own proofs.
func SealPayload(root common.Hash, payload []byte) common.Hash {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write(root[:])
	_, _ = h.Write(payload)
	return common.BytesToHash(h.Sum(nil))
}

var _ SealVerifier = (*RootSealVerifier)(nil)
