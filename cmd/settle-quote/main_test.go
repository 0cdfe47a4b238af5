package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRunMain_ConvertUsdToNative(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	err := runMain([]string{
		"convert",
		"--usd", "50000000000000000000", // 50 USD
		"--feed-value", "4000000000", // 40 native per USD at 8 decimals
		"--feed-decimals", "8",
	}, &out)
	if err != nil {
		t.Fatalf("runMain convert: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "2000000000000000000000" {
		t.Fatalf("native amount = %s, want 2000000000000000000000", got)
	}
}

func TestRunMain_ConvertNativeToUsd(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	err := runMain([]string{
		"convert",
		"--native", "2000000000000000000000",
		"--feed-value", "4000000000",
		"--feed-decimals", "8",
	}, &out)
	if err != nil {
		t.Fatalf("runMain convert: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "50000000000000000000" {
		t.Fatalf("usd amount = %s, want 50000000000000000000", got)
	}
}

func TestRunMain_ConvertRejectsBothDirections(t *testing.T) {
	t.Parallel()

	err := runMain([]string{
		"convert",
		"--usd", "1",
		"--native", "1",
		"--feed-value", "4000000000",
	}, &bytes.Buffer{})
	if err == nil {
		t.Fatal("expected error when both --usd and --native are set")
	}
}

func TestRunMain_Accounts(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	if err := runMain([]string{"accounts"}, &out); err != nil {
		t.Fatalf("runMain accounts: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4", len(lines))
	}
	if !strings.HasPrefix(lines[0], "escrow-vault\t0x") {
		t.Fatalf("unexpected first line %q", lines[0])
	}
}

func TestRunMain_RequestIDDeterministic(t *testing.T) {
	t.Parallel()

	args := []string{
		"request-id",
		"--job-id", "42",
		"--commitment", "0x000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f",
	}
	var first, second bytes.Buffer
	if err := runMain(args, &first); err != nil {
		t.Fatalf("runMain request-id: %v", err)
	}
	if err := runMain(args, &second); err != nil {
		t.Fatalf("runMain request-id: %v", err)
	}
	got := strings.TrimSpace(first.String())
	if got != strings.TrimSpace(second.String()) {
		t.Fatal("request id must be deterministic")
	}
	if !strings.HasPrefix(got, "0x") || len(got) != 66 {
		t.Fatalf("request id %q is not a bytes32 hex value", got)
	}
}

func TestRunMain_UnknownSubcommand(t *testing.T) {
	t.Parallel()

	if err := runMain([]string{"bogus"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unknown subcommand")
	}
}
