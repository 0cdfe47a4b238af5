package attest

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const (
	requestMessageVersion = "attest.request.v1"
	proofMessageVersion   = "attest.proof.v1"
)

// RequestMessage is the queue record asking the external network to attest
// the claim "job JobID was delivered", against the job's stored proof
// commitment.
type RequestMessage struct {
	RequestID  common.Hash
	JobID      uint64
	Commitment common.Hash
}

func EncodeRequestMessage(msg RequestMessage) ([]byte, error) {
	out := struct {
		Version    string `json:"version"`
		RequestID  string `json:"request_id"`
		JobID      uint64 `json:"job_id"`
		Commitment string `json:"commitment"`
	}{
		Version:    requestMessageVersion,
		RequestID:  msg.RequestID.Hex(),
		JobID:      msg.JobID,
		Commitment: msg.Commitment.Hex(),
	}
	return json.Marshal(out)
}

// ProofMessage is the queue record carrying a finished attestation back
// from the external network.
type ProofMessage struct {
	RequestID common.Hash
	JobID     uint64
	Proof     Proof
}

func EncodeProofMessage(msg ProofMessage) ([]byte, error) {
	out := struct {
		Version   string `json:"version"`
		RequestID string `json:"request_id"`
		JobID     uint64 `json:"job_id"`
		Payload   string `json:"payload"`
		Seal      string `json:"seal"`
	}{
		Version:   proofMessageVersion,
		RequestID: msg.RequestID.Hex(),
		JobID:     msg.JobID,
		Payload:   "0x" + hex.EncodeToString(msg.Proof.Payload),
		Seal:      "0x" + hex.EncodeToString(msg.Proof.Seal),
	}
	return json.Marshal(out)
}

func DecodeProofMessage(payload []byte) (ProofMessage, error) {
	var raw struct {
		Version   string `json:"version"`
		RequestID string `json:"request_id"`
		JobID     uint64 `json:"job_id"`
		Payload   string `json:"payload"`
		Seal      string `json:"seal"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return ProofMessage{}, fmt.Errorf("%w: decode: %v", ErrInvalidMessage, err)
	}
	if raw.Version != proofMessageVersion {
		return ProofMessage{}, fmt.Errorf("%w: unsupported version %q", ErrInvalidMessage, raw.Version)
	}
	if raw.JobID == 0 {
		return ProofMessage{}, fmt.Errorf("%w: missing job_id", ErrInvalidMessage)
	}

	requestID, err := decodeHash32(raw.RequestID)
	if err != nil {
		return ProofMessage{}, err
	}
	proofPayload, err := decodeHexBytes(raw.Payload)
	if err != nil {
		return ProofMessage{}, err
	}
	seal, err := decodeHexBytes(raw.Seal)
	if err != nil {
		return ProofMessage{}, err
	}

	return ProofMessage{
		RequestID: requestID,
		JobID:     raw.JobID,
		Proof:     Proof{Payload: proofPayload, Seal: seal},
	}, nil
}

// Payload wire format used by the attestation network for delivery claims.
type claimPayload struct {
	JobID     uint64 `json:"job_id"`
	Delivered bool   `json:"delivered"`
}

// EncodeClaimPayload builds the payload half of a Proof. The relayer test
// network and fixtures use it; production payloads arrive pre-built.
func EncodeClaimPayload(c Claim) ([]byte, error) {
	return json.Marshal(claimPayload{JobID: c.JobID, Delivered: c.Delivered})
}

func decodeClaimPayload(payload []byte) (Claim, error) {
	var raw claimPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Claim{}, fmt.Errorf("%w: decode payload: %v", ErrInvalidProof, err)
	}
	if raw.JobID == 0 {
		return Claim{}, fmt.Errorf("%w: missing job_id in payload", ErrInvalidProof)
	}
	return Claim{JobID: raw.JobID, Delivered: raw.Delivered}, nil
}

func decodeHash32(v string) (common.Hash, error) {
	s := strings.TrimSpace(v)
	if !strings.HasPrefix(s, "0x") || len(s) != 66 {
		return common.Hash{}, fmt.Errorf("%w: hash must be 32-byte 0x hex", ErrInvalidMessage)
	}
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: invalid hash", ErrInvalidMessage)
	}
	return common.BytesToHash(b), nil
}

func decodeHexBytes(v string) ([]byte, error) {
	s := strings.TrimSpace(strings.TrimPrefix(v, "0x"))
	if s == "" {
		return nil, fmt.Errorf("%w: empty hex bytes", ErrInvalidMessage)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex bytes", ErrInvalidMessage)
	}
	return b, nil
}
