package ledger

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInvalidAmount       = errors.New("ledger: invalid amount")
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrSameAccount         = errors.New("ledger: transfer to self")
)

// ModuleAccount derives a stable address for an engine-owned singleton
// balance (escrow vault, fee collector, loss pool). Module accounts have no
// key material behind them; they exist only as ledger entries.
func ModuleAccount(name string) common.Address {
	h := crypto.Keccak256([]byte("gigmesh/settlement/module/" + name))
	return common.BytesToAddress(h[12:])
}

// Ledger tracks native-unit balances by account and applies atomic
// transfers. It models the value-transfer primitive of the execution
// environment: a transfer either fully applies or fails with no effect,
// and no balance ever goes negative.
type Ledger struct {
	mu       sync.Mutex
	balances map[common.Address]sdkmath.Int
}

func New() *Ledger {
	return &Ledger{balances: make(map[common.Address]sdkmath.Int)}
}

// Mint credits amount to acct out of thin air. It exists for funding test
// fixtures and explicit house seeding of the loss pool.
func (l *Ledger) Mint(acct common.Address, amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return fmt.Errorf("%w: mint amount must be > 0", ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.balances[acct] = l.balanceLocked(acct).Add(amount)
	return nil
}

// Transfer moves amount from one account to another. A zero amount is a
// no-op so fee legs computed as zero do not need special-casing by callers.
func (l *Ledger) Transfer(from, to common.Address, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return fmt.Errorf("%w: transfer amount must be >= 0", ErrInvalidAmount)
	}
	if from == to {
		return ErrSameAccount
	}
	if amount.IsZero() {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	fromBal := l.balanceLocked(from)
	if fromBal.LT(amount) {
		return fmt.Errorf("%w: %s has %s, need %s", ErrInsufficientBalance, from.Hex(), fromBal, amount)
	}
	l.balances[from] = fromBal.Sub(amount)
	l.balances[to] = l.balanceLocked(to).Add(amount)
	return nil
}

func (l *Ledger) Balance(acct common.Address) sdkmath.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceLocked(acct)
}

// Snapshot returns a copy of all non-zero balances, for deterministic
// before/after diffs in tests.
func (l *Ledger) Snapshot() map[common.Address]sdkmath.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[common.Address]sdkmath.Int, len(l.balances))
	for acct, bal := range l.balances {
		if bal.IsZero() {
			continue
		}
		out[acct] = bal
	}
	return out
}

// Total returns the sum of all balances. The ledger conserves Total across
// transfers; only Mint changes it.
func (l *Ledger) Total() sdkmath.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := sdkmath.ZeroInt()
	for _, bal := range l.balances {
		total = total.Add(bal)
	}
	return total
}

func (l *Ledger) balanceLocked(acct common.Address) sdkmath.Int {
	if bal, ok := l.balances[acct]; ok {
		return bal
	}
	return sdkmath.ZeroInt()
}
