package attest

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// RequestIDV1 computes the deterministic attestation request id:
// keccak256(domain || job_id_be8 || commitment). Re-requesting the same
// job with the same commitment yields the same id, so the network can
// dedupe retries.
func RequestIDV1(jobID uint64, commitment common.Hash) common.Hash {
	var idBytes [8]byte
	binary.BigEndian.PutUint64(idBytes[:], jobID)

	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte("GIGMESH_ATTEST_REQUEST_V1"))
	_, _ = h.Write(idBytes[:])
	_, _ = h.Write(commitment[:])
	return common.BytesToHash(h.Sum(nil))
}
