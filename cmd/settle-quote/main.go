// settle-quote is an offline helper around the settlement conversion and
// identity rules: price conversions against a pinned feed, module account
// derivation, and attestation request ids.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/gigmesh/settlement/internal/attest"
	"github.com/gigmesh/settlement/internal/ledger"
	"github.com/gigmesh/settlement/internal/oracle"
)

func main() {
	if err := runMain(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runMain(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errors.New("subcommand is required: convert|accounts|request-id")
	}
	subcommand := strings.TrimSpace(args[0])
	switch subcommand {
	case "convert":
		return runConvert(args[1:], stdout)
	case "accounts":
		return runAccounts(args[1:], stdout)
	case "request-id":
		return runRequestID(args[1:], stdout)
	default:
		return fmt.Errorf("unsupported subcommand %q (want convert|accounts|request-id)", subcommand)
	}
}

func runConvert(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("settle-quote convert", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	usdAmount := fs.String("usd", "", "USD amount in 18-decimal fixed point")
	nativeAmount := fs.String("native", "", "native amount in base units")
	feedValue := fs.String("feed-value", "", "native-per-USD feed value (required)")
	feedDecimals := fs.Uint("feed-decimals", 8, "feed value decimals")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if (*usdAmount == "") == (*nativeAmount == "") {
		return errors.New("exactly one of --usd or --native is required")
	}

	value, ok := sdkmath.NewIntFromString(strings.TrimSpace(*feedValue))
	if !ok || !value.IsPositive() {
		return errors.New("--feed-value must be a positive integer")
	}
	src, err := oracle.NewStaticSource(value, uint8(*feedDecimals), time.Now)
	if err != nil {
		return err
	}
	orc, err := oracle.New(oracle.Config{Source: src})
	if err != nil {
		return err
	}

	ctx := context.Background()
	if *usdAmount != "" {
		amount, ok := sdkmath.NewIntFromString(strings.TrimSpace(*usdAmount))
		if !ok {
			return errors.New("--usd must be an integer")
		}
		native, err := orc.UsdToNative(ctx, amount)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(stdout, "%s\n", native.String())
		return err
	}

	amount, ok := sdkmath.NewIntFromString(strings.TrimSpace(*nativeAmount))
	if !ok {
		return errors.New("--native must be an integer")
	}
	usd, err := orc.NativeToUsd(ctx, amount)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "%s\n", usd.String())
	return err
}

func runAccounts(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("settle-quote accounts", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		return err
	}
	names := fs.Args()
	if len(names) == 0 {
		names = []string{"escrow-vault", "stake-vault", "fee-collector", "loss-pool"}
	}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			return errors.New("account name must be non-empty")
		}
		if _, err := fmt.Fprintf(stdout, "%s\t%s\n", name, ledger.ModuleAccount(name).Hex()); err != nil {
			return err
		}
	}
	return nil
}

func runRequestID(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("settle-quote request-id", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	jobID := fs.Uint64("job-id", 0, "job id")
	commitmentHex := fs.String("commitment", "", "proof commitment bytes32 hex")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *jobID == 0 {
		return errors.New("--job-id is required")
	}
	commitment, err := parseFixedHex(*commitmentHex, 32)
	if err != nil {
		return fmt.Errorf("--commitment: %w", err)
	}

	requestID := attest.RequestIDV1(*jobID, common.BytesToHash(commitment))
	_, err = fmt.Fprintf(stdout, "%s\n", requestID.Hex())
	return err
}

func parseFixedHex(raw string, wantLen int) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "0x")
	raw = strings.TrimPrefix(raw, "0X")
	if raw == "" {
		return nil, errors.New("value is required")
	}
	if len(raw)%2 != 0 {
		return nil, errors.New("hex length must be even")
	}
	out, err := hex.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	if len(out) != wantLen {
		return nil, fmt.Errorf("must be %d bytes", wantLen)
	}
	return out, nil
}
