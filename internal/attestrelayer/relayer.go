// Package attestrelayer consumes finished attestation proofs from the
// queue, archives the raw payloads for dispute replay, and feeds them to
// the delivery verifier.
package attestrelayer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gigmesh/settlement/internal/attest"
	"github.com/gigmesh/settlement/internal/blobstore"
	"github.com/gigmesh/settlement/internal/queue"
)

var ErrInvalidConfig = errors.New("attestrelayer: invalid config")

// DeliveryVerifier is the slice of attest.Verifier the relayer needs.
type DeliveryVerifier interface {
	VerifyDelivery(ctx context.Context, jobID uint64, proof attest.Proof) error
}

type Config struct {
	MaxInflight int
	AckTimeout  time.Duration
}

// Relayer drains the proof topic. Each message is archived before
// verification so rejected proofs stay inspectable, then verified and
// acked. Poison messages (undecodable or failing verification for a
// non-transient reason) are acked so they do not wedge the partition;
// transient failures are left unacked for redelivery.
type Relayer struct {
	cfg Config

	verifier DeliveryVerifier
	archive  blobstore.Store
	consumer queue.Consumer
	log      *slog.Logger

	inflight      atomic.Int64
	verifiedCount atomic.Uint64
	rejectedCount atomic.Uint64
}

func New(cfg Config, verifier DeliveryVerifier, archive blobstore.Store, consumer queue.Consumer, log *slog.Logger) (*Relayer, error) {
	if verifier == nil || archive == nil || consumer == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidConfig)
	}
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = 1
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Relayer{
		cfg:      cfg,
		verifier: verifier,
		archive:  archive,
		consumer: consumer,
		log:      log,
	}, nil
}

func (r *Relayer) Run(ctx context.Context) error {
	sem := make(chan struct{}, r.cfg.MaxInflight)
	var wg sync.WaitGroup

	msgCh := r.consumer.Messages()
	errCh := r.consumer.Errors()

	var firstErr error
	var firstErrMu sync.Mutex
	setFirstErr := func(err error) {
		if err == nil {
			return
		}
		firstErrMu.Lock()
		defer firstErrMu.Unlock()
		if firstErr == nil {
			firstErr = err
		}
	}

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return firstErr
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				r.log.Error("attest-relayer queue consume error", "err", err)
				setFirstErr(err)
			}
		case msg, ok := <-msgCh:
			if !ok {
				wg.Wait()
				return firstErr
			}
			sem <- struct{}{}
			wg.Add(1)
			go func(qmsg queue.Message) {
				defer wg.Done()
				defer func() { <-sem }()

				r.inflight.Add(1)
				defer r.inflight.Add(-1)
				if err := r.handleMessage(ctx, qmsg); err != nil {
					setFirstErr(err)
					r.log.Error("attest-relayer handle message", "err", err)
				}
			}(msg)
		}
	}
}

func (r *Relayer) handleMessage(ctx context.Context, msg queue.Message) error {
	proofMsg, err := attest.DecodeProofMessage(msg.Value)
	if err != nil {
		r.log.Warn("attest-relayer dropping undecodable proof message", "err", err)
		r.rejectedCount.Add(1)
		r.emitMetrics(msg.Timestamp, false)
		ackMessage(msg, r.cfg.AckTimeout, r.log)
		return nil
	}

	key := blobstore.ProofKey(proofMsg.RequestID)
	if err := r.archive.Put(ctx, key, msg.Value, blobstore.PutOptions{
		ContentType: blobstore.ProofContentType,
		Metadata: map[string]string{
			"job_id":     strconv.FormatUint(proofMsg.JobID, 10),
			"request_id": proofMsg.RequestID.Hex(),
		},
	}); err != nil {
		return fmt.Errorf("archive proof %s: %w", key, err)
	}

	if err := r.verifier.VerifyDelivery(ctx, proofMsg.JobID, proofMsg.Proof); err != nil {
		if errors.Is(err, attest.ErrInvalidProof) ||
			errors.Is(err, attest.ErrJobIDMismatch) ||
			errors.Is(err, attest.ErrNotDelivered) {
			r.log.Warn("attest-relayer rejected proof",
				"job_id", proofMsg.JobID,
				"request_id", proofMsg.RequestID.Hex(),
				"err", err,
			)
			r.rejectedCount.Add(1)
			r.emitMetrics(msg.Timestamp, false)
			ackMessage(msg, r.cfg.AckTimeout, r.log)
			return nil
		}
		return fmt.Errorf("verify delivery for job %d: %w", proofMsg.JobID, err)
	}

	r.verifiedCount.Add(1)
	r.emitMetrics(msg.Timestamp, true)
	ackMessage(msg, r.cfg.AckTimeout, r.log)
	return nil
}

func (r *Relayer) emitMetrics(ts time.Time, verified bool) {
	lagSeconds := float64(0)
	if !ts.IsZero() {
		lag := time.Since(ts)
		if lag > 0 {
			lagSeconds = lag.Seconds()
		}
	}
	r.log.Info("attest-relayer metrics",
		"queue_lag_seconds", lagSeconds,
		"in_flight_messages", r.inflight.Load(),
		"verified_count", r.verifiedCount.Load(),
		"rejected_count", r.rejectedCount.Load(),
		"verified", verified,
	)
}

func ackMessage(msg queue.Message, timeout time.Duration, log *slog.Logger) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := msg.Ack(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("attest-relayer ack message", "err", err)
	}
}
