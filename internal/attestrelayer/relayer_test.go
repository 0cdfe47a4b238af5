package attestrelayer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gigmesh/settlement/internal/attest"
	"github.com/gigmesh/settlement/internal/blobstore"
	"github.com/gigmesh/settlement/internal/queue"
)

type fakeConsumer struct {
	msgs chan queue.Message
	errs chan error
}

func newFakeConsumer() *fakeConsumer {
	return &fakeConsumer{
		msgs: make(chan queue.Message, 16),
		errs: make(chan error, 4),
	}
}

func (c *fakeConsumer) Messages() <-chan queue.Message { return c.msgs }
func (c *fakeConsumer) Errors() <-chan error           { return c.errs }
func (c *fakeConsumer) Close() error {
	close(c.msgs)
	close(c.errs)
	return nil
}

type relayerFixture struct {
	root     common.Hash
	verifier *attest.Verifier
	store    *attest.MemoryStore
	archive  blobstore.Store
	consumer *fakeConsumer
	relayer  *Relayer
}

func newRelayerFixture(t *testing.T) *relayerFixture {
	t.Helper()

	root := common.HexToHash("0x00000000000000000000000000000000000000000000000000000000000000aa")
	seals, err := attest.NewRootSealVerifier(root)
	if err != nil {
		t.Fatalf("NewRootSealVerifier: %v", err)
	}
	store := attest.NewMemoryStore()
	verifier, err := attest.NewVerifier(attest.VerifierConfig{
		Store: store,
		Seals: seals,
	})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	archive, err := blobstore.New(blobstore.Config{Driver: blobstore.DriverMemory})
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}
	consumer := newFakeConsumer()
	relayer, err := New(Config{MaxInflight: 4}, verifier, archive, consumer, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &relayerFixture{
		root:     root,
		verifier: verifier,
		store:    store,
		archive:  archive,
		consumer: consumer,
		relayer:  relayer,
	}
}

func (f *relayerFixture) proofMessage(t *testing.T, jobID uint64, delivered bool) ([]byte, common.Hash) {
	t.Helper()
	payload, err := attest.EncodeClaimPayload(attest.Claim{JobID: jobID, Delivered: delivered})
	if err != nil {
		t.Fatalf("EncodeClaimPayload: %v", err)
	}
	seal := attest.SealPayload(f.root, payload)
	requestID := attest.RequestIDV1(jobID, common.BytesToHash(payload))
	raw, err := attest.EncodeProofMessage(attest.ProofMessage{
		RequestID: requestID,
		JobID:     jobID,
		Proof:     attest.Proof{Payload: payload, Seal: seal.Bytes()},
	})
	if err != nil {
		t.Fatalf("EncodeProofMessage: %v", err)
	}
	return raw, requestID
}

func (f *relayerFixture) runAndDrain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = f.consumer.Close()
	if err := f.relayer.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRelayerVerifiesAndArchivesProof(t *testing.T) {
	t.Parallel()

	f := newRelayerFixture(t)
	raw, requestID := f.proofMessage(t, 7, true)
	f.consumer.msgs <- queue.Message{Topic: attest.DefaultProofTopic, Value: raw, Timestamp: time.Now()}
	f.runAndDrain(t)

	ctx := context.Background()
	confirmed, err := f.verifier.IsDeliveryConfirmed(ctx, 7)
	if err != nil {
		t.Fatalf("IsDeliveryConfirmed: %v", err)
	}
	if !confirmed {
		t.Fatal("expected job 7 confirmed")
	}

	obj, err := f.archive.Get(ctx, blobstore.ProofKey(requestID))
	if err != nil {
		t.Fatalf("archive Get: %v", err)
	}
	if string(obj.Data) != string(raw) {
		t.Fatal("archived payload does not match queue message")
	}
	if obj.Metadata["job_id"] != "7" {
		t.Fatalf("job_id metadata = %q, want 7", obj.Metadata["job_id"])
	}
}

func TestRelayerAcksUndecodableMessage(t *testing.T) {
	t.Parallel()

	f := newRelayerFixture(t)
	f.consumer.msgs <- queue.Message{Topic: attest.DefaultProofTopic, Value: []byte("not json")}
	f.runAndDrain(t)

	if got := f.relayer.rejectedCount.Load(); got != 1 {
		t.Fatalf("rejectedCount = %d, want 1", got)
	}
}

func TestRelayerArchivesRejectedProof(t *testing.T) {
	t.Parallel()

	f := newRelayerFixture(t)
	raw, requestID := f.proofMessage(t, 9, false)
	f.consumer.msgs <- queue.Message{Topic: attest.DefaultProofTopic, Value: raw}
	f.runAndDrain(t)

	ctx := context.Background()
	confirmed, err := f.verifier.IsDeliveryConfirmed(ctx, 9)
	if err != nil {
		t.Fatalf("IsDeliveryConfirmed: %v", err)
	}
	if confirmed {
		t.Fatal("non-delivery proof must not confirm the job")
	}
	exists, err := f.archive.Exists(ctx, blobstore.ProofKey(requestID))
	if err != nil {
		t.Fatalf("archive Exists: %v", err)
	}
	if !exists {
		t.Fatal("rejected proof should still be archived")
	}
	if got := f.relayer.rejectedCount.Load(); got != 1 {
		t.Fatalf("rejectedCount = %d, want 1", got)
	}
}

func TestRelayerRejectsForgedSeal(t *testing.T) {
	t.Parallel()

	f := newRelayerFixture(t)
	payload, err := attest.EncodeClaimPayload(attest.Claim{JobID: 11, Delivered: true})
	if err != nil {
		t.Fatalf("EncodeClaimPayload: %v", err)
	}
	forged := attest.SealPayload(common.HexToHash("0xdead"), payload)
	raw, err := attest.EncodeProofMessage(attest.ProofMessage{
		RequestID: attest.RequestIDV1(11, common.BytesToHash(payload)),
		JobID:     11,
		Proof:     attest.Proof{Payload: payload, Seal: forged.Bytes()},
	})
	if err != nil {
		t.Fatalf("EncodeProofMessage: %v", err)
	}
	f.consumer.msgs <- queue.Message{Topic: attest.DefaultProofTopic, Value: raw}
	f.runAndDrain(t)

	confirmed, err := f.verifier.IsDeliveryConfirmed(context.Background(), 11)
	if err != nil {
		t.Fatalf("IsDeliveryConfirmed: %v", err)
	}
	if confirmed {
		t.Fatal("forged seal must not confirm the job")
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	f := newRelayerFixture(t)
	if _, err := New(Config{}, nil, f.archive, f.consumer, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("nil verifier err = %v, want ErrInvalidConfig", err)
	}
	if _, err := New(Config{}, f.verifier, nil, f.consumer, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("nil archive err = %v, want ErrInvalidConfig", err)
	}
	if _, err := New(Config{}, f.verifier, f.archive, nil, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("nil consumer err = %v, want ErrInvalidConfig", err)
	}
}
