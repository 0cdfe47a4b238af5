package attest

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidConfig  = errors.New("attest: invalid config")
	ErrInvalidProof   = errors.New("attest: invalid proof")
	ErrJobIDMismatch  = errors.New("attest: job id mismatch")
	ErrNotDelivered   = errors.New("attest: proof does not attest delivery")
	ErrNotFound       = errors.New("attest: record not found")
	ErrNotOperator    = errors.New("attest: caller is not the operator")
	ErrInvalidMessage = errors.New("attest: invalid message")
)

// Record is the confirmation state for one job. Confirmed is monotonic:
// once true it is never reverted.
type Record struct {
	JobID      uint64
	Confirmed  bool
	AttestedAt time.Time
}

// Store owns Record persistence. Confirm is idempotent; the bool result
// reports whether this call performed the confirmation.
type Store interface {
	Confirm(ctx context.Context, jobID uint64, at time.Time) (Record, bool, error)
	Get(ctx context.Context, jobID uint64) (Record, error)
}

// Proof is an attestation produced by the external verification network:
// an opaque payload plus a seal binding it to the network's verification
// root.
type Proof struct {
	Payload []byte
	Seal    []byte
}

// Claim is the decoded content of a verified proof payload.
type Claim struct {
	JobID     uint64
	Delivered bool
}

// SealVerifier checks a proof seal against the known verification root.
// It is the cryptographic half of verification; payload decoding and the
// job-id cross-check happen in the Verifier.
type SealVerifier interface {
	VerifySeal(ctx context.Context, payload, seal []byte) error
}

// RequestPublisher forwards attestation requests toward the external
// network. Satisfied by queue.Producer.
type RequestPublisher interface {
	Publish(ctx context.Context, topic string, key, payload []byte) error
}
