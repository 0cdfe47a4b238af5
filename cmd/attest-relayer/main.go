package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gigmesh/settlement/internal/attest"
	attestpg "github.com/gigmesh/settlement/internal/attest/postgres"
	"github.com/gigmesh/settlement/internal/attestrelayer"
	"github.com/gigmesh/settlement/internal/blobstore"
	"github.com/gigmesh/settlement/internal/leases"
	leasespg "github.com/gigmesh/settlement/internal/leases/postgres"
	"github.com/gigmesh/settlement/internal/queue"
)

func main() {
	var (
		postgresDSN = flag.String("postgres-dsn", "", "Postgres DSN; empty runs with in-memory stores")

		verifyRoot = flag.String("attest-root", "", "attestation verification root (32-byte hex, required)")
		proofTopic = flag.String("attest-proof-topic", attest.DefaultProofTopic, "queue topic carrying finished proofs")

		queueDriver  = flag.String("queue-driver", queue.DriverKafka, "queue driver: kafka|stdio")
		queueBrokers = flag.String("queue-brokers", "", "comma-separated queue brokers (required for kafka)")
		queueGroup   = flag.String("queue-group", "attest-relayer", "queue consumer group")
		maxLineBytes = flag.Int("max-line-bytes", 1<<20, "max stdin line bytes for stdio driver")
		maxMsgBytes  = flag.Int("queue-max-bytes", 10<<20, "max kafka message size to consume")

		blobDriver      = flag.String("blob-driver", blobstore.DriverS3, "proof archive driver: s3|memory")
		blobBucket      = flag.String("blob-bucket", "", "proof archive S3 bucket (required for s3)")
		blobPrefix      = flag.String("blob-prefix", "", "proof archive key prefix")
		blobMaxGetBytes = flag.Int64("blob-max-get-bytes", 16<<20, "max archived object size to read back")

		leaseOwner = flag.String("lease-owner", "", "unique relayer instance id; defaults to hostname-pid")
		leaseTTL   = flag.Duration("lease-ttl", 30*time.Second, "relayer lease TTL")
		leaseRetry = flag.Duration("lease-retry-interval", 10*time.Second, "wait between failed lease acquisitions")

		maxInflight = flag.Int("max-inflight-messages", 64, "maximum concurrent proof verifications")
		ackTimeout  = flag.Duration("queue-ack-timeout", 5*time.Second, "queue message ack timeout")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root, ok := parseHash32(*verifyRoot)
	if !ok {
		fmt.Fprintln(os.Stderr, "error: --attest-root must be a 32-byte hex value")
		os.Exit(2)
	}
	if strings.TrimSpace(*proofTopic) == "" {
		fmt.Fprintln(os.Stderr, "error: --attest-proof-topic must be non-empty")
		os.Exit(2)
	}
	if *maxInflight <= 0 || *maxLineBytes <= 0 || *maxMsgBytes <= 0 || *blobMaxGetBytes <= 0 {
		fmt.Fprintln(os.Stderr, "error: --max-inflight-messages, --max-line-bytes, --queue-max-bytes, and --blob-max-get-bytes must be > 0")
		os.Exit(2)
	}
	if *leaseTTL <= 0 || *leaseRetry <= 0 || *ackTimeout <= 0 {
		fmt.Fprintln(os.Stderr, "error: lease/ack durations must be > 0")
		os.Exit(2)
	}

	owner := strings.TrimSpace(*leaseOwner)
	if owner == "" {
		host, err := os.Hostname()
		if err != nil || strings.TrimSpace(host) == "" {
			host = "attest-relayer"
		}
		owner = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		attestStore attest.Store = attest.NewMemoryStore()
		leaseStore  leases.Store = leases.NewMemoryStore(time.Now)
	)
	if strings.TrimSpace(*postgresDSN) != "" {
		pool, err := pgxpool.New(ctx, *postgresDSN)
		if err != nil {
			log.Error("init pgx pool", "err", err)
			os.Exit(2)
		}
		defer pool.Close()

		attestPG, err := attestpg.New(pool)
		if err != nil {
			log.Error("init attest store", "err", err)
			os.Exit(2)
		}
		if err := attestPG.EnsureSchema(ctx); err != nil {
			log.Error("ensure attest schema", "err", err)
			os.Exit(2)
		}
		leasePG, err := leasespg.New(pool)
		if err != nil {
			log.Error("init lease store", "err", err)
			os.Exit(2)
		}
		if err := leasePG.EnsureSchema(ctx); err != nil {
			log.Error("ensure lease schema", "err", err)
			os.Exit(2)
		}
		attestStore, leaseStore = attestPG, leasePG
	} else {
		log.Warn("running with in-memory stores; confirmations and the lease are lost on restart")
	}

	seals, err := attest.NewRootSealVerifier(root)
	if err != nil {
		log.Error("init seal verifier", "err", err)
		os.Exit(2)
	}
	verifier, err := attest.NewVerifier(attest.VerifierConfig{
		Store: attestStore,
		Seals: seals,
		Log:   log,
	})
	if err != nil {
		log.Error("init attestation verifier", "err", err)
		os.Exit(2)
	}

	archive, err := newBlobStore(ctx, *blobDriver, *blobBucket, *blobPrefix, *blobMaxGetBytes)
	if err != nil {
		log.Error("init proof archive", "err", err)
		os.Exit(2)
	}

	consumer, err := queue.NewConsumer(ctx, queue.ConsumerConfig{
		Driver:       *queueDriver,
		Brokers:      queue.SplitCommaList(*queueBrokers),
		Group:        *queueGroup,
		Topics:       []string{strings.TrimSpace(*proofTopic)},
		MaxBytes:     *maxMsgBytes,
		MaxLineBytes: *maxLineBytes,
	})
	if err != nil {
		log.Error("init queue consumer", "err", err)
		os.Exit(2)
	}
	defer func() { _ = consumer.Close() }()

	relayer, err := attestrelayer.New(attestrelayer.Config{
		MaxInflight: *maxInflight,
		AckTimeout:  *ackTimeout,
	}, verifier, archive, consumer, log)
	if err != nil {
		log.Error("init relayer", "err", err)
		os.Exit(2)
	}

	keeper, err := leases.NewKeeper(leases.KeeperConfig{
		Store:         leaseStore,
		Name:          "attest-relayer",
		Owner:         owner,
		TTL:           *leaseTTL,
		RetryInterval: *leaseRetry,
		Log:           log,
	})
	if err != nil {
		log.Error("init lease keeper", "err", err)
		os.Exit(2)
	}

	log.Info("attest-relayer started",
		"owner", owner,
		"proof_topic", *proofTopic,
		"queue_driver", *queueDriver,
		"blob_driver", *blobDriver,
		"max_inflight_messages", *maxInflight,
		"lease_ttl", leaseTTL.String(),
	)

	if err := keeper.Run(ctx, relayer.Run); err != nil && ctx.Err() == nil {
		log.Error("attest-relayer exited with error", "err", err)
		os.Exit(1)
	}
}

func newBlobStore(ctx context.Context, driver string, bucket string, prefix string, maxGetSize int64) (blobstore.Store, error) {
	cfg := blobstore.Config{
		Driver:     strings.ToLower(strings.TrimSpace(driver)),
		Bucket:     strings.TrimSpace(bucket),
		Prefix:     strings.TrimSpace(prefix),
		MaxGetSize: maxGetSize,
	}
	if cfg.Driver == "" || cfg.Driver == blobstore.DriverS3 {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		cfg.S3Client = awss3.NewFromConfig(awsCfg)
	}
	return blobstore.New(cfg)
}

func parseHash32(s string) (common.Hash, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) != 64 {
		return common.Hash{}, false
	}
	h := common.HexToHash(s)
	if h == (common.Hash{}) {
		return common.Hash{}, false
	}
	return h, true
}
