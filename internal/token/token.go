// Package token provides in-memory value ledgers implementing the payment
// interfaces the market engine consumes: an ERC20-style fungible token with
// balances and allowances, and a plain native-value ledger.
package token

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/mintmarket/internal/domain"
)

// Token is an in-memory fungible token ledger. The deployer becomes the owner
// and is the only account allowed to mint.
type Token struct {
	mu sync.Mutex

	name     string
	symbol   string
	decimals uint8
	owner    common.Address

	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

// New creates a Token owned by owner with zero initial supply.
func New(name, symbol string, decimals uint8, owner common.Address) *Token {
	return &Token{
		name:       name,
		symbol:     symbol,
		decimals:   decimals,
		owner:      owner,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Name returns the token name.
func (t *Token) Name() string { return t.name }

// Symbol returns the token symbol.
func (t *Token) Symbol() string { return t.symbol }

// Decimals returns the token's display decimals.
func (t *Token) Decimals() uint8 { return t.decimals }

// MintTo credits amount to addr. Owner only.
func (t *Token) MintTo(caller, addr common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if caller != t.owner {
		return fmt.Errorf("token %s: mint: %w", t.symbol, domain.ErrNotOwner)
	}
	t.credit(addr, amount)
	return nil
}

// BalanceOf returns a copy of addr's balance.
func (t *Token) BalanceOf(addr common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balanceLocked(addr)
}

// Transfer moves amount from one account to another on the sender's own
// authority.
func (t *Token) Transfer(from, to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transferLocked(from, to, amount)
}

// Approve sets spender's allowance over owner's balance to amount.
func (t *Token) Approve(owner, spender common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[common.Address]*big.Int)
	}
	t.allowances[owner][spender] = new(big.Int).Set(amount)
	return nil
}

// Allowance returns a copy of the remaining allowance spender holds over
// owner's balance.
func (t *Token) Allowance(owner, spender common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.allowanceLocked(owner, spender))
}

// TransferFrom moves amount from from to to, consuming spender's allowance.
func (t *Token) TransferFrom(spender, from, to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	allowed := t.allowanceLocked(from, spender)
	if allowed.Cmp(amount) < 0 {
		return fmt.Errorf("token %s: transferFrom %s: %w", t.symbol, from.Hex(), domain.ErrInsufficientAllowance)
	}
	if err := t.transferLocked(from, to, amount); err != nil {
		return err
	}
	if t.allowances[from] == nil {
		t.allowances[from] = make(map[common.Address]*big.Int)
	}
	t.allowances[from][spender] = new(big.Int).Sub(allowed, amount)
	return nil
}

func (t *Token) balanceLocked(addr common.Address) *big.Int {
	if b, ok := t.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (t *Token) allowanceLocked(owner, spender common.Address) *big.Int {
	if m, ok := t.allowances[owner]; ok {
		if a, ok := m[spender]; ok {
			return a
		}
	}
	return new(big.Int)
}

func (t *Token) transferLocked(from, to common.Address, amount *big.Int) error {
	bal := t.balanceLocked(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("token %s: transfer from %s: %w", t.symbol, from.Hex(), domain.ErrInsufficientBalance)
	}
	t.balances[from] = bal.Sub(bal, amount)
	t.credit(to, amount)
	return nil
}

func (t *Token) credit(addr common.Address, amount *big.Int) {
	if b, ok := t.balances[addr]; ok {
		t.balances[addr] = b.Add(b, amount)
		return
	}
	t.balances[addr] = new(big.Int).Set(amount)
}

// Compile-time interface check.
var _ domain.FungibleToken = (*Token)(nil)
