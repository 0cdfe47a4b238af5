package attest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Queue topics for the attestation round trip: requests go out on the
// request topic, finished proofs come back on the proof topic.
const (
	DefaultRequestTopic = "settlement.attest.requests"
	DefaultProofTopic   = "settlement.attest.proofs"
)

type VerifierConfig struct {
	Store Store
	Seals SealVerifier

	// Requests may be nil when no outbound request path is wired (e.g. a
	// read-only deployment); RequestAttestation then fails cleanly.
	Requests     RequestPublisher
	RequestTopic string

	// Operator is the only caller allowed to use ManualConfirmDelivery.
	// Intended for non-production environments.
	Operator common.Address

	Now func() time.Time
	Log *slog.Logger
}

// Verifier records confirmed delivery facts keyed by job id. Confirmation
// is monotonic: no call sequence can un-confirm a job.
type Verifier struct {
	store        Store
	seals        SealVerifier
	requests     RequestPublisher
	requestTopic string
	operator     common.Address

	now func() time.Time
	log *slog.Logger
}

func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if cfg.Seals == nil {
		return nil, fmt.Errorf("%w: nil seal verifier", ErrInvalidConfig)
	}
	topic := cfg.RequestTopic
	if topic == "" {
		topic = DefaultRequestTopic
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Verifier{
		store:        cfg.Store,
		seals:        cfg.Seals,
		requests:     cfg.Requests,
		requestTopic: topic,
		operator:     cfg.Operator,
		now:          now,
		log:          log,
	}, nil
}

// RequestAttestation forwards a request for the claim "job jobID was
// delivered" to the external attestation network, carrying the job's
// stored proof commitment.
func (v *Verifier) RequestAttestation(ctx context.Context, jobID uint64, commitment common.Hash) (common.Hash, error) {
	if v.requests == nil {
		return common.Hash{}, fmt.Errorf("%w: no request publisher wired", ErrInvalidConfig)
	}
	if jobID == 0 {
		return common.Hash{}, fmt.Errorf("%w: missing job id", ErrInvalidMessage)
	}

	requestID := RequestIDV1(jobID, commitment)
	payload, err := EncodeRequestMessage(RequestMessage{
		RequestID:  requestID,
		JobID:      jobID,
		Commitment: commitment,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("attest: encode request: %w", err)
	}
	if err := v.requests.Publish(ctx, v.requestTopic, requestID.Bytes(), payload); err != nil {
		return common.Hash{}, fmt.Errorf("attest: publish request: %w", err)
	}

	v.log.Info("attestation requested", "job_id", jobID, "request_id", requestID.Hex())
	return requestID, nil
}

// VerifyDelivery verifies a proof against the verification root, decodes
// the attested claim, and confirms the job on success. Re-verifying an
// already-confirmed job is a no-op, not an error.
func (v *Verifier) VerifyDelivery(ctx context.Context, jobID uint64, proof Proof) error {
	if len(proof.Payload) == 0 || len(proof.Seal) == 0 {
		return fmt.Errorf("%w: empty payload or seal", ErrInvalidProof)
	}

	if err := v.seals.VerifySeal(ctx, proof.Payload, proof.Seal); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}

	claim, err := decodeClaimPayload(proof.Payload)
	if err != nil {
		return err
	}
	if claim.JobID != jobID {
		return fmt.Errorf("%w: proof attests job %d, want %d", ErrJobIDMismatch, claim.JobID, jobID)
	}
	if !claim.Delivered {
		return ErrNotDelivered
	}

	_, confirmed, err := v.store.Confirm(ctx, jobID, v.now())
	if err != nil {
		return err
	}
	if confirmed {
		v.log.Info("delivery confirmed", "job_id", jobID)
	}
	return nil
}

// IsDeliveryConfirmed is a pure read.
func (v *Verifier) IsDeliveryConfirmed(ctx context.Context, jobID uint64) (bool, error) {
	rec, err := v.store.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return rec.Confirmed, nil
}

// ManualConfirmDelivery is the privileged test-environment path. It stays
// idempotent and monotonic, and every use is logged.
func (v *Verifier) ManualConfirmDelivery(ctx context.Context, caller common.Address, jobID uint64) error {
	if v.operator == (common.Address{}) || caller != v.operator {
		return ErrNotOperator
	}

	_, confirmed, err := v.store.Confirm(ctx, jobID, v.now())
	if err != nil {
		return err
	}
	v.log.Warn("manual delivery confirmation",
		"job_id", jobID,
		"operator", caller.Hex(),
		"newly_confirmed", confirmed,
	)
	return nil
}
