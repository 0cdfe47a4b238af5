// Package chainlink reads a Chainlink-style aggregator contract as an
// oracle feed source. The aggregator is expected to answer in native units
// per USD with its reported decimals.
package chainlink

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/gigmesh/settlement/internal/oracle"
)

var (
	ErrInvalidConfig = errors.New("chainlink: invalid config")
	ErrBadAnswer     = errors.New("chainlink: bad aggregator answer")
)

var (
	// latestRoundData() -> (uint80,int256,uint256,uint256,uint80)
	selLatestRoundData = [4]byte{0xfe, 0xaf, 0x96, 0x8c}
	// decimals() -> uint8
	selDecimals = [4]byte{0x31, 0x3c, 0xe5, 0x67}
)

// CallClient is the subset of ethclient.Client the source needs.
type CallClient interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

type Source struct {
	client     CallClient
	aggregator common.Address

	// decimals is immutable on deployed aggregators, so a successful read
	// is kept for the life of the source. A failed read is not: the next
	// call retries. The answer itself is never cached.
	decMu       sync.Mutex
	decimals    uint8
	decResolved bool
}

func NewSource(client CallClient, aggregator common.Address) (*Source, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: nil call client", ErrInvalidConfig)
	}
	if aggregator == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero aggregator address", ErrInvalidConfig)
	}
	return &Source{client: client, aggregator: aggregator}, nil
}

func (s *Source) FetchFeed(ctx context.Context) (oracle.Feed, error) {
	decimals, err := s.fetchDecimals(ctx)
	if err != nil {
		return oracle.Feed{}, err
	}

	out, err := s.client.CallContract(ctx, ethereum.CallMsg{
		To:   &s.aggregator,
		Data: selLatestRoundData[:],
	}, nil)
	if err != nil {
		return oracle.Feed{}, fmt.Errorf("chainlink: latestRoundData: %w", err)
	}
	if len(out) < 5*32 {
		return oracle.Feed{}, fmt.Errorf("%w: short return data (%d bytes)", ErrBadAnswer, len(out))
	}

	answer := new(big.Int).SetBytes(out[32:64])
	// int256 negative answers have the top bit set; they are never valid
	// prices.
	if out[32]&0x80 != 0 || answer.Sign() <= 0 {
		return oracle.Feed{}, fmt.Errorf("%w: non-positive answer", ErrBadAnswer)
	}

	updatedAt := new(big.Int).SetBytes(out[96:128])
	if !updatedAt.IsInt64() || updatedAt.Sign() <= 0 {
		return oracle.Feed{}, fmt.Errorf("%w: invalid updatedAt", ErrBadAnswer)
	}

	return oracle.Feed{
		Value:      sdkmath.NewIntFromBigInt(answer),
		Decimals:   decimals,
		ObservedAt: time.Unix(updatedAt.Int64(), 0).UTC(),
	}, nil
}

func (s *Source) fetchDecimals(ctx context.Context) (uint8, error) {
	s.decMu.Lock()
	defer s.decMu.Unlock()

	if s.decResolved {
		return s.decimals, nil
	}

	out, err := s.client.CallContract(ctx, ethereum.CallMsg{
		To:   &s.aggregator,
		Data: selDecimals[:],
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("chainlink: decimals: %w", err)
	}
	if len(out) < 32 {
		return 0, fmt.Errorf("%w: short decimals return", ErrBadAnswer)
	}
	d := new(big.Int).SetBytes(out[:32])
	if !d.IsUint64() || d.Uint64() > 18 {
		return 0, fmt.Errorf("%w: decimals out of range", ErrBadAnswer)
	}

	s.decimals = uint8(d.Uint64())
	s.decResolved = true
	return s.decimals, nil
}
