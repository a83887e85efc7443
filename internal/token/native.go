package token

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/mintmarket/internal/domain"
)

// NativeLedger tracks native-value balances. Unlike a fungible token it has no
// allowance concept: value moves only on the holder's authority, the way an
// attached transaction value would.
type NativeLedger struct {
	mu       sync.Mutex
	balances map[common.Address]*big.Int
}

// NewNativeLedger creates an empty native-value ledger.
func NewNativeLedger() *NativeLedger {
	return &NativeLedger{balances: make(map[common.Address]*big.Int)}
}

// Fund credits amount to addr. Used at wiring and in tests to endow accounts.
func (n *NativeLedger) Fund(addr common.Address, amount *big.Int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if b, ok := n.balances[addr]; ok {
		n.balances[addr] = b.Add(b, amount)
		return
	}
	n.balances[addr] = new(big.Int).Set(amount)
}

// BalanceOf returns a copy of addr's balance.
func (n *NativeLedger) BalanceOf(addr common.Address) *big.Int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if b, ok := n.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Transfer moves amount between accounts, failing when from is short.
func (n *NativeLedger) Transfer(from, to common.Address, amount *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	bal := new(big.Int)
	if b, ok := n.balances[from]; ok {
		bal.Set(b)
	}
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("native: transfer from %s: %w", from.Hex(), domain.ErrInsufficientBalance)
	}
	n.balances[from] = bal.Sub(bal, amount)
	if b, ok := n.balances[to]; ok {
		n.balances[to] = b.Add(b, amount)
	} else {
		n.balances[to] = new(big.Int).Set(amount)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ValueLedger = (*NativeLedger)(nil)
