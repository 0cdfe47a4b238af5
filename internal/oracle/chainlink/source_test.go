package chainlink

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

type fakeCallClient struct {
	answers map[[4]byte][]byte
	err     error
}

func (f *fakeCallClient) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	var sel [4]byte
	copy(sel[:], msg.Data)
	out, ok := f.answers[sel]
	if !ok {
		return nil, errors.New("unexpected selector")
	}
	return out, nil
}

func word(v *big.Int) []byte {
	out := make([]byte, 32)
	v.FillBytes(out)
	return out
}

func roundData(answer *big.Int, updatedAt int64) []byte {
	out := make([]byte, 0, 5*32)
	out = append(out, word(big.NewInt(1))...) // roundId
	out = append(out, word(answer)...)
	out = append(out, word(big.NewInt(updatedAt-10))...) // startedAt
	out = append(out, word(big.NewInt(updatedAt))...)
	out = append(out, word(big.NewInt(1))...) // answeredInRound
	return out
}

func TestFetchFeed_DecodesAggregatorAnswer(t *testing.T) {
	t.Parallel()

	updatedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	client := &fakeCallClient{answers: map[[4]byte][]byte{
		selDecimals:        word(big.NewInt(8)),
		selLatestRoundData: roundData(big.NewInt(4_000_000_000), updatedAt.Unix()),
	}}

	src, err := NewSource(client, common.HexToAddress("0x0000000000000000000000000000000000000feed"))
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}

	feed, err := src.FetchFeed(context.Background())
	if err != nil {
		t.Fatalf("FetchFeed: %v", err)
	}
	if feed.Value.String() != "4000000000" {
		t.Fatalf("value: got %s", feed.Value)
	}
	if feed.Decimals != 8 {
		t.Fatalf("decimals: got %d", feed.Decimals)
	}
	if !feed.ObservedAt.Equal(updatedAt) {
		t.Fatalf("observedAt: got %s want %s", feed.ObservedAt, updatedAt)
	}
}

func TestFetchFeed_RetriesDecimalsAfterFailure(t *testing.T) {
	t.Parallel()

	updatedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	client := &fakeCallClient{
		answers: map[[4]byte][]byte{
			selDecimals:        word(big.NewInt(8)),
			selLatestRoundData: roundData(big.NewInt(4_000_000_000), updatedAt.Unix()),
		},
		err: errors.New("connection refused"),
	}
	src, err := NewSource(client, common.HexToAddress("0x0000000000000000000000000000000000000feed"))
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}

	if _, err := src.FetchFeed(context.Background()); err == nil {
		t.Fatalf("expected fetch error while RPC is down")
	}

	// The RPC recovers; a failed decimals read must not stick.
	client.err = nil
	feed, err := src.FetchFeed(context.Background())
	if err != nil {
		t.Fatalf("FetchFeed after recovery: %v", err)
	}
	if feed.Decimals != 8 {
		t.Fatalf("decimals: got %d", feed.Decimals)
	}
}

func TestFetchFeed_RejectsNegativeAnswer(t *testing.T) {
	t.Parallel()

	neg := make([]byte, 32)
	for i := range neg {
		neg[i] = 0xff // -1 as int256
	}
	data := make([]byte, 0, 5*32)
	data = append(data, word(big.NewInt(1))...)
	data = append(data, neg...)
	data = append(data, word(big.NewInt(1))...)
	data = append(data, word(big.NewInt(1))...)
	data = append(data, word(big.NewInt(1))...)

	client := &fakeCallClient{answers: map[[4]byte][]byte{
		selDecimals:        word(big.NewInt(8)),
		selLatestRoundData: data,
	}}
	src, err := NewSource(client, common.HexToAddress("0x0000000000000000000000000000000000000feed"))
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	if _, err := src.FetchFeed(context.Background()); !errors.Is(err, ErrBadAnswer) {
		t.Fatalf("expected ErrBadAnswer, got %v", err)
	}
}

func TestFetchFeed_RejectsShortReturn(t *testing.T) {
	t.Parallel()

	client := &fakeCallClient{answers: map[[4]byte][]byte{
		selDecimals:        word(big.NewInt(8)),
		selLatestRoundData: word(big.NewInt(1)),
	}}
	src, err := NewSource(client, common.HexToAddress("0x0000000000000000000000000000000000000feed"))
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	if _, err := src.FetchFeed(context.Background()); !errors.Is(err, ErrBadAnswer) {
		t.Fatalf("expected ErrBadAnswer, got %v", err)
	}
}
