package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gigmesh/settlement/internal/attest"
	attestpg "github.com/gigmesh/settlement/internal/attest/postgres"
	"github.com/gigmesh/settlement/internal/escrow"
	escrowpg "github.com/gigmesh/settlement/internal/escrow/postgres"
	"github.com/gigmesh/settlement/internal/gamble"
	gamblepg "github.com/gigmesh/settlement/internal/gamble/postgres"
	"github.com/gigmesh/settlement/internal/ledger"
	"github.com/gigmesh/settlement/internal/oracle"
	"github.com/gigmesh/settlement/internal/oracle/chainlink"
	"github.com/gigmesh/settlement/internal/orderbook"
	orderbookpg "github.com/gigmesh/settlement/internal/orderbook/postgres"
	"github.com/gigmesh/settlement/internal/queue"
	"github.com/gigmesh/settlement/internal/randomness"
	"github.com/gigmesh/settlement/internal/settleapi"
)

func main() {
	var (
		listenAddr = flag.String("listen", "127.0.0.1:8080", "HTTP listen address")

		postgresDSN = flag.String("postgres-dsn", "", "Postgres DSN; empty runs with in-memory stores")

		feedRPCURL   = flag.String("feed-rpc-url", "", "EVM RPC URL for the price feed aggregator")
		feedAddress  = flag.String("feed-address", "", "price feed aggregator contract address")
		staticFeed   = flag.String("static-feed-value", "", "fixed feed value for development; overrides the aggregator")
		feedDecimals = flag.Uint("static-feed-decimals", 8, "decimals for --static-feed-value")
		maxStaleness = flag.Duration("max-feed-staleness", oracle.DefaultMaxStaleness, "reject feed samples older than this")

		operatorAddr = flag.String("operator", "", "operator address for refunds and manual confirmations (required)")
		minimumStake = flag.String("minimum-stake", "0", "minimum provider stake in native base units")

		slippageBps        = flag.Uint("slippage-bps", escrow.DefaultSlippageBps, "funding slippage tolerance in bps")
		feeBps             = flag.Uint("fee-bps", escrow.DefaultFeeBps, "release fee in bps")
		houseFeeBps        = flag.Uint("house-fee-bps", gamble.DefaultHouseFeeBps, "cashout house fee in bps")
		safeWithdrawFeeBps = flag.Uint("safe-withdraw-fee-bps", gamble.DefaultSafeWithdrawFeeBps, "safe withdraw fee in bps")

		beaconURL    = flag.String("beacon-url", "", "randomness beacon base URL; empty uses local randomness")
		maxRandomAge = flag.Duration("max-random-age", gamble.DefaultMaxRandomAge, "reject randomness samples older than this")

		verifyRoot   = flag.String("attest-root", "", "attestation verification root (32-byte hex, required)")
		queueDriver  = flag.String("queue-driver", queue.DriverKafka, "queue driver for attestation requests (kafka|stdio)")
		queueBrokers = flag.String("queue-brokers", "", "queue brokers (comma-separated); empty disables request publishing")
		requestTopic = flag.String("attest-request-topic", attest.DefaultRequestTopic, "queue topic for attestation requests")

		rateLimitPerSecond = flag.Float64("rate-limit-per-ip-per-second", 20, "per-IP refill rate for API rate limiting")
		rateLimitBurst     = flag.Int("rate-limit-burst", 40, "per-IP burst capacity for API rate limiting")
		rateLimitMaxIPs    = flag.Int("rate-limit-max-tracked-ips", 10000, "maximum tracked client IP entries in rate limiter")

		readHeaderTimeout = flag.Duration("read-header-timeout", 5*time.Second, "http.Server ReadHeaderTimeout")
		readTimeout       = flag.Duration("read-timeout", 10*time.Second, "http.Server ReadTimeout")
		writeTimeout      = flag.Duration("write-timeout", 10*time.Second, "http.Server WriteTimeout")
		idleTimeout       = flag.Duration("idle-timeout", 60*time.Second, "http.Server IdleTimeout")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if !common.IsHexAddress(strings.TrimSpace(*operatorAddr)) {
		fmt.Fprintln(os.Stderr, "error: --operator must be a valid hex address")
		os.Exit(2)
	}
	root, ok := parseHash32(*verifyRoot)
	if !ok {
		fmt.Fprintln(os.Stderr, "error: --attest-root must be a 32-byte hex value")
		os.Exit(2)
	}
	if strings.TrimSpace(*staticFeed) == "" && (strings.TrimSpace(*feedRPCURL) == "" || !common.IsHexAddress(strings.TrimSpace(*feedAddress))) {
		fmt.Fprintln(os.Stderr, "error: either --static-feed-value or both --feed-rpc-url and --feed-address are required")
		os.Exit(2)
	}
	minStake, ok := sdkmath.NewIntFromString(strings.TrimSpace(*minimumStake))
	if !ok || minStake.IsNegative() {
		fmt.Fprintln(os.Stderr, "error: --minimum-stake must be a non-negative integer")
		os.Exit(2)
	}
	if *listenAddr == "" {
		fmt.Fprintln(os.Stderr, "error: --listen must be non-empty")
		os.Exit(2)
	}
	if *readHeaderTimeout <= 0 || *readTimeout <= 0 || *writeTimeout <= 0 || *idleTimeout <= 0 {
		fmt.Fprintln(os.Stderr, "error: timeouts must be > 0")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var feedSource oracle.FeedSource
	if strings.TrimSpace(*staticFeed) != "" {
		value, ok := sdkmath.NewIntFromString(strings.TrimSpace(*staticFeed))
		if !ok {
			fmt.Fprintln(os.Stderr, "error: --static-feed-value must be an integer")
			os.Exit(2)
		}
		src, err := oracle.NewStaticSource(value, uint8(*feedDecimals), time.Now)
		if err != nil {
			log.Error("init static feed", "err", err)
			os.Exit(2)
		}
		feedSource = src
		log.Warn("using static price feed", "value", value.String(), "decimals", *feedDecimals)
	} else {
		client, err := ethclient.DialContext(ctx, strings.TrimSpace(*feedRPCURL))
		if err != nil {
			log.Error("dial feed rpc", "err", err)
			os.Exit(2)
		}
		defer client.Close()
		src, err := chainlink.NewSource(client, common.HexToAddress(strings.TrimSpace(*feedAddress)))
		if err != nil {
			log.Error("init feed source", "err", err)
			os.Exit(2)
		}
		feedSource = src
	}

	orc, err := oracle.New(oracle.Config{Source: feedSource, MaxStaleness: *maxStaleness})
	if err != nil {
		log.Error("init oracle", "err", err)
		os.Exit(2)
	}

	var (
		jobStore    orderbook.Store = orderbook.NewMemoryStore()
		escrowStore escrow.Store    = escrow.NewMemoryStore()
		attestStore attest.Store    = attest.NewMemoryStore()
		gambleStore gamble.Store    = gamble.NewMemoryStore()
	)
	if strings.TrimSpace(*postgresDSN) != "" {
		pool, err := pgxpool.New(ctx, *postgresDSN)
		if err != nil {
			log.Error("init pgx pool", "err", err)
			os.Exit(2)
		}
		defer pool.Close()

		jobsPG, err := orderbookpg.New(pool)
		if err != nil {
			log.Error("init orderbook store", "err", err)
			os.Exit(2)
		}
		escrowPG, err := escrowpg.New(pool)
		if err != nil {
			log.Error("init escrow store", "err", err)
			os.Exit(2)
		}
		attestPG, err := attestpg.New(pool)
		if err != nil {
			log.Error("init attest store", "err", err)
			os.Exit(2)
		}
		gamblePG, err := gamblepg.New(pool)
		if err != nil {
			log.Error("init gamble store", "err", err)
			os.Exit(2)
		}
		for name, ensure := range map[string]func(context.Context) error{
			"orderbook": jobsPG.EnsureSchema,
			"escrow":    escrowPG.EnsureSchema,
			"attest":    attestPG.EnsureSchema,
			"gamble":    gamblePG.EnsureSchema,
		} {
			if err := ensure(ctx); err != nil {
				log.Error("ensure schema", "store", name, "err", err)
				os.Exit(2)
			}
		}
		jobStore, escrowStore, attestStore, gambleStore = jobsPG, escrowPG, attestPG, gamblePG
	} else {
		log.Warn("running with in-memory stores; state is lost on restart")
	}

	ledg := ledger.New()
	operator := common.HexToAddress(strings.TrimSpace(*operatorAddr))

	book, err := orderbook.NewBook(orderbook.BookConfig{Store: jobStore, Oracle: orc, Log: log})
	if err != nil {
		log.Error("init order book", "err", err)
		os.Exit(2)
	}

	seals, err := attest.NewRootSealVerifier(root)
	if err != nil {
		log.Error("init seal verifier", "err", err)
		os.Exit(2)
	}

	var requests attest.RequestPublisher
	if strings.TrimSpace(*queueBrokers) != "" || *queueDriver == queue.DriverStdio {
		producer, err := queue.NewProducer(queue.ProducerConfig{
			Driver:  *queueDriver,
			Brokers: queue.SplitCommaList(*queueBrokers),
		})
		if err != nil {
			log.Error("init queue producer", "err", err)
			os.Exit(2)
		}
		defer producer.Close()
		requests = producer
		log.Info("attestation request publishing enabled", "driver", *queueDriver, "topic", *requestTopic)
	}

	verifier, err := attest.NewVerifier(attest.VerifierConfig{
		Store:        attestStore,
		Seals:        seals,
		Requests:     requests,
		RequestTopic: *requestTopic,
		Operator:     operator,
		Log:          log,
	})
	if err != nil {
		log.Error("init attestation verifier", "err", err)
		os.Exit(2)
	}

	var random randomness.Source
	if strings.TrimSpace(*beaconURL) != "" {
		random, err = randomness.NewBeaconClient(strings.TrimSpace(*beaconURL))
		if err != nil {
			log.Error("init beacon client", "err", err)
			os.Exit(2)
		}
	} else {
		random = randomness.NewLocalSource(false, time.Now)
		log.Warn("using local randomness; cashout will reject draws as insecure")
	}

	staking, err := gamble.NewEngine(gamble.EngineConfig{
		Store:              gambleStore,
		Ledger:             ledg,
		Random:             random,
		Vault:              ledger.ModuleAccount("stake-vault"),
		LossPool:           ledger.ModuleAccount("loss-pool"),
		FeeCollector:       ledger.ModuleAccount("fee-collector"),
		MinimumStake:       minStake,
		HouseFeeBps:        uint32(*houseFeeBps),
		SafeWithdrawFeeBps: uint32(*safeWithdrawFeeBps),
		MaxRandomAge:       *maxRandomAge,
		Log:                log,
	})
	if err != nil {
		log.Error("init staking engine", "err", err)
		os.Exit(2)
	}

	esc, err := escrow.NewEngine(escrow.EngineConfig{
		Store:        escrowStore,
		Book:         book,
		Oracle:       orc,
		Ledger:       ledg,
		Attestations: verifier,
		Creditor:     staking,
		Vault:        ledger.ModuleAccount("escrow-vault"),
		StakeVault:   ledger.ModuleAccount("stake-vault"),
		FeeCollector: ledger.ModuleAccount("fee-collector"),
		Operator:     operator,
		SlippageBps:  uint32(*slippageBps),
		FeeBps:       uint32(*feeBps),
		Log:          log,
	})
	if err != nil {
		log.Error("init escrow engine", "err", err)
		os.Exit(2)
	}

	handler, err := settleapi.NewHandler(settleapi.Config{
		Book:                    book,
		Escrow:                  esc,
		Staking:                 staking,
		Attest:                  verifier,
		Ledger:                  ledg,
		FeeBps:                  uint32(*feeBps),
		HouseFeeBps:             uint32(*houseFeeBps),
		SafeWithdrawFeeBps:      uint32(*safeWithdrawFeeBps),
		RateLimitPerIPPerSecond: *rateLimitPerSecond,
		RateLimitBurst:          *rateLimitBurst,
		RateLimitMaxTrackedIPs:  *rateLimitMaxIPs,
		Now:                     time.Now,
	})
	if err != nil {
		log.Error("init api handler", "err", err)
		os.Exit(2)
	}

	srv := &http.Server{
		Addr:              *listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: *readHeaderTimeout,
		ReadTimeout:       *readTimeout,
		WriteTimeout:      *writeTimeout,
		IdleTimeout:       *idleTimeout,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("settlementd listening", "addr", *listenAddr, "operator", operator.Hex())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown", "reason", ctx.Err())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Error("server error", "err", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
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
