package gamble

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/gigmesh/settlement/internal/ledger"
	"github.com/gigmesh/settlement/internal/randomness"
)

type fakeRandom struct {
	sample randomness.Sample
	err    error
}

func (f *fakeRandom) Draw(context.Context) (randomness.Sample, error) {
	if f.err != nil {
		return randomness.Sample{}, f.err
	}
	return f.sample, nil
}

type gambleFixture struct {
	engine *Engine
	ledg   *ledger.Ledger
	random *fakeRandom

	vault        common.Address
	lossPool     common.Address
	feeCollector common.Address
	provider     common.Address

	now time.Time
}

func newGambleFixture(t *testing.T) *gambleFixture {
	t.Helper()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fx := &gambleFixture{
		ledg:         ledger.New(),
		random:       &fakeRandom{},
		vault:        ledger.ModuleAccount("stake-vault"),
		lossPool:     ledger.ModuleAccount("loss-pool"),
		feeCollector: ledger.ModuleAccount("fee-collector"),
		provider:     common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		now:          now,
	}
	fx.random.sample = randomness.Sample{
		Value:      big.NewInt(2),
		Secure:     true,
		ObservedAt: now,
	}

	engine, err := NewEngine(EngineConfig{
		Store:        NewMemoryStore(),
		Ledger:       fx.ledg,
		Random:       fx.random,
		Vault:        fx.vault,
		LossPool:     fx.lossPool,
		FeeCollector: fx.feeCollector,
		MinimumStake: units(1),
		Now:          func() time.Time { return fx.now },
		Log:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	fx.engine = engine
	return fx
}

func units(n int64) sdkmath.Int {
	return sdkmath.NewIntWithDecimal(n, 18)
}

func (fx *gambleFixture) mustStake(t *testing.T, amount sdkmath.Int) {
	t.Helper()
	if err := fx.ledg.Mint(fx.provider, amount); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := fx.engine.Stake(context.Background(), fx.provider, amount); err != nil {
		t.Fatalf("stake: %v", err)
	}
}

func (fx *gambleFixture) mustCredit(t *testing.T, amount sdkmath.Int) {
	t.Helper()
	if err := fx.ledg.Mint(fx.vault, amount); err != nil {
		t.Fatalf("mint earnings: %v", err)
	}
	credited, err := fx.engine.CreditEarnings(context.Background(), fx.provider, amount)
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if !credited {
		t.Fatal("expected earnings to be credited")
	}
}

func TestCashoutWin(t *testing.T) {
	t.Parallel()

	fx := newGambleFixture(t)
	fx.mustStake(t, units(100))
	fx.mustCredit(t, units(10))

	before := fx.ledg.Total()

	outcome, payout, err := fx.engine.Cashout(context.Background(), fx.provider)
	if err != nil {
		t.Fatalf("cashout: %v", err)
	}
	if outcome != OutcomeWin {
		t.Fatalf("outcome = %d, want win", outcome)
	}

	fee := units(10).MulRaw(DefaultHouseFeeBps).QuoRaw(maxBps)
	net := units(10).Sub(fee)
	if !payout.Equal(net) {
		t.Fatalf("payout = %s, want %s (empty loss pool, no bonus)", payout, net)
	}
	if got := fx.ledg.Balance(fx.provider); !got.Equal(net) {
		t.Fatalf("provider balance = %s, want %s", got, net)
	}
	if got := fx.ledg.Balance(fx.feeCollector); !got.Equal(fee) {
		t.Fatalf("fee collector = %s, want %s", got, fee)
	}
	if got := fx.ledg.Balance(fx.vault); !got.Equal(units(100)) {
		t.Fatalf("vault = %s, want staked principal only", got)
	}
	if !fx.ledg.Total().Equal(before) {
		t.Fatalf("total supply changed: %s -> %s", before, fx.ledg.Total())
	}

	pos, err := fx.engine.GetStakeInfo(context.Background(), fx.provider)
	if err != nil {
		t.Fatalf("get stake info: %v", err)
	}
	if pos.Wins != 1 || pos.Losses != 0 {
		t.Fatalf("counters = %d/%d, want 1/0", pos.Wins, pos.Losses)
	}
	if !pos.AccumulatedEarnings.IsZero() {
		t.Fatalf("earnings not reset: %s", pos.AccumulatedEarnings)
	}
}

func TestCashoutWinBonusCappedByLossPool(t *testing.T) {
	t.Parallel()

	fx := newGambleFixture(t)
	fx.mustStake(t, units(100))
	fx.mustCredit(t, units(10))

	poolFunds := units(3)
	if err := fx.ledg.Mint(fx.lossPool, poolFunds); err != nil {
		t.Fatalf("mint pool: %v", err)
	}

	_, payout, err := fx.engine.Cashout(context.Background(), fx.provider)
	if err != nil {
		t.Fatalf("cashout: %v", err)
	}

	net := units(10).Sub(units(10).MulRaw(DefaultHouseFeeBps).QuoRaw(maxBps))
	want := net.Add(poolFunds)
	if !payout.Equal(want) {
		t.Fatalf("payout = %s, want net %s + pool %s", payout, net, poolFunds)
	}
	if got := fx.ledg.Balance(fx.lossPool); !got.IsZero() {
		t.Fatalf("loss pool not drained: %s", got)
	}
}

func TestCashoutLoss(t *testing.T) {
	t.Parallel()

	fx := newGambleFixture(t)
	fx.mustStake(t, units(100))
	fx.mustCredit(t, units(10))
	fx.random.sample.Value = big.NewInt(7)

	outcome, payout, err := fx.engine.Cashout(context.Background(), fx.provider)
	if err != nil {
		t.Fatalf("cashout: %v", err)
	}
	if outcome != OutcomeLoss {
		t.Fatalf("outcome = %d, want loss", outcome)
	}
	if !payout.IsZero() {
		t.Fatalf("payout = %s, want 0", payout)
	}

	fee := units(10).MulRaw(DefaultHouseFeeBps).QuoRaw(maxBps)
	net := units(10).Sub(fee)
	if got := fx.ledg.Balance(fx.lossPool); !got.Equal(net) {
		t.Fatalf("loss pool = %s, want %s", got, net)
	}
	if got := fx.ledg.Balance(fx.provider); !got.IsZero() {
		t.Fatalf("provider balance = %s, want 0", got)
	}

	pos, _ := fx.engine.GetStakeInfo(context.Background(), fx.provider)
	if pos.Wins != 0 || pos.Losses != 1 {
		t.Fatalf("counters = %d/%d, want 0/1", pos.Wins, pos.Losses)
	}
}

func TestCashoutRejectsInsecureRandomness(t *testing.T) {
	t.Parallel()

	fx := newGambleFixture(t)
	fx.mustStake(t, units(100))
	fx.mustCredit(t, units(10))
	fx.random.sample.Secure = false

	if _, _, err := fx.engine.Cashout(context.Background(), fx.provider); !errors.Is(err, ErrInsecureRandom) {
		t.Fatalf("err = %v, want ErrInsecureRandom", err)
	}

	pos, _ := fx.engine.GetStakeInfo(context.Background(), fx.provider)
	if !pos.AccumulatedEarnings.Equal(units(10)) {
		t.Fatalf("earnings mutated on rejected draw: %s", pos.AccumulatedEarnings)
	}
}

func TestCashoutRejectsStaleRandomness(t *testing.T) {
	t.Parallel()

	fx := newGambleFixture(t)
	fx.mustStake(t, units(100))
	fx.mustCredit(t, units(10))
	fx.random.sample.ObservedAt = fx.now.Add(-DefaultMaxRandomAge - time.Second)

	if _, _, err := fx.engine.Cashout(context.Background(), fx.provider); !errors.Is(err, ErrStaleRandom) {
		t.Fatalf("err = %v, want ErrStaleRandom", err)
	}
}

func TestCashoutRejectsUndatedRandomness(t *testing.T) {
	t.Parallel()

	fx := newGambleFixture(t)
	fx.mustStake(t, units(100))
	fx.mustCredit(t, units(10))
	fx.random.sample.ObservedAt = time.Time{}

	if _, _, err := fx.engine.Cashout(context.Background(), fx.provider); !errors.Is(err, ErrStaleRandom) {
		t.Fatalf("err = %v, want ErrStaleRandom", err)
	}

	pos, _ := fx.engine.GetStakeInfo(context.Background(), fx.provider)
	if !pos.AccumulatedEarnings.Equal(units(10)) {
		t.Fatalf("earnings mutated on rejected draw: %s", pos.AccumulatedEarnings)
	}
}

func TestCashoutWithoutEarnings(t *testing.T) {
	t.Parallel()

	fx := newGambleFixture(t)
	fx.mustStake(t, units(100))

	if _, _, err := fx.engine.Cashout(context.Background(), fx.provider); !errors.Is(err, ErrNoEarnings) {
		t.Fatalf("err = %v, want ErrNoEarnings", err)
	}
}

func TestSafeWithdraw(t *testing.T) {
	t.Parallel()

	fx := newGambleFixture(t)
	fx.mustStake(t, units(100))
	fx.mustCredit(t, units(10))

	net, err := fx.engine.SafeWithdraw(context.Background(), fx.provider)
	if err != nil {
		t.Fatalf("safe withdraw: %v", err)
	}

	fee := units(10).MulRaw(DefaultSafeWithdrawFeeBps).QuoRaw(maxBps)
	want := units(10).Sub(fee)
	if !net.Equal(want) {
		t.Fatalf("net = %s, want %s", net, want)
	}
	if got := fx.ledg.Balance(fx.provider); !got.Equal(want) {
		t.Fatalf("provider balance = %s, want %s", got, want)
	}
	if got := fx.ledg.Balance(fx.feeCollector); !got.Equal(fee) {
		t.Fatalf("fee collector = %s, want %s", got, fee)
	}

	pos, _ := fx.engine.GetStakeInfo(context.Background(), fx.provider)
	if pos.Wins != 0 || pos.Losses != 0 {
		t.Fatalf("safe withdraw touched counters: %d/%d", pos.Wins, pos.Losses)
	}
}

func TestUnstakeKeepsEarnings(t *testing.T) {
	t.Parallel()

	fx := newGambleFixture(t)
	fx.mustStake(t, units(100))
	fx.mustCredit(t, units(10))

	pos, err := fx.engine.Unstake(context.Background(), fx.provider)
	if err != nil {
		t.Fatalf("unstake: %v", err)
	}
	if pos.IsStaked {
		t.Fatal("position still staked")
	}
	if !pos.AccumulatedEarnings.Equal(units(10)) {
		t.Fatalf("earnings = %s, want retained", pos.AccumulatedEarnings)
	}
	if got := fx.ledg.Balance(fx.provider); !got.Equal(units(100)) {
		t.Fatalf("provider balance = %s, want principal back", got)
	}

	// Earnings routing stops, resolution still works.
	credited, err := fx.engine.CreditEarnings(context.Background(), fx.provider, units(1))
	if err != nil {
		t.Fatalf("credit after unstake: %v", err)
	}
	if credited {
		t.Fatal("credited earnings to inactive stake")
	}
	if _, err := fx.engine.SafeWithdraw(context.Background(), fx.provider); err != nil {
		t.Fatalf("safe withdraw after unstake: %v", err)
	}
}

func TestStakeGuards(t *testing.T) {
	t.Parallel()

	fx := newGambleFixture(t)
	ctx := context.Background()

	if _, err := fx.engine.Stake(ctx, fx.provider, units(100)); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("unfunded stake err = %v, want ErrInsufficientBalance", err)
	}

	if err := fx.ledg.Mint(fx.provider, units(200)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := fx.engine.Stake(ctx, fx.provider, sdkmath.NewInt(5)); !errors.Is(err, ErrBelowMinimumStake) {
		t.Fatalf("tiny stake err = %v, want ErrBelowMinimumStake", err)
	}

	if _, err := fx.engine.Stake(ctx, fx.provider, units(100)); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if _, err := fx.engine.Stake(ctx, fx.provider, units(50)); !errors.Is(err, ErrAlreadyStaked) {
		t.Fatalf("second stake err = %v, want ErrAlreadyStaked", err)
	}
}

func TestCreditEarningsUnknownProvider(t *testing.T) {
	t.Parallel()

	fx := newGambleFixture(t)
	credited, err := fx.engine.CreditEarnings(context.Background(), fx.provider, units(1))
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if credited {
		t.Fatal("credited earnings to unknown provider")
	}
}

func TestPreviewCashout(t *testing.T) {
	t.Parallel()

	fx := newGambleFixture(t)
	fx.mustStake(t, units(100))
	fx.mustCredit(t, units(10))
	if err := fx.ledg.Mint(fx.lossPool, units(50)); err != nil {
		t.Fatalf("mint pool: %v", err)
	}

	fee, net, bonus, err := fx.engine.PreviewCashout(context.Background(), fx.provider)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	wantFee := units(10).MulRaw(DefaultHouseFeeBps).QuoRaw(maxBps)
	if !fee.Equal(wantFee) {
		t.Fatalf("fee = %s, want %s", fee, wantFee)
	}
	if !net.Equal(units(10).Sub(wantFee)) {
		t.Fatalf("net = %s", net)
	}
	if !bonus.Equal(net) {
		t.Fatalf("bonus = %s, want capped at net %s", bonus, net)
	}

	// A preview never resolves earnings.
	pos, _ := fx.engine.GetStakeInfo(context.Background(), fx.provider)
	if !pos.AccumulatedEarnings.Equal(units(10)) {
		t.Fatalf("preview mutated earnings: %s", pos.AccumulatedEarnings)
	}
}
