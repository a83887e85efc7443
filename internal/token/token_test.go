package token

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mintmarket/internal/domain"
)

var (
	owner = common.HexToAddress("0xa0")
	alice = common.HexToAddress("0xa1")
	bob   = common.HexToAddress("0xa2")
	carol = common.HexToAddress("0xa3")
)

func TestMintToOwnerOnly(t *testing.T) {
	tok := New("Mock Token", "MOCK", 18, owner)

	require.NoError(t, tok.MintTo(owner, alice, big.NewInt(100)))
	assert.Equal(t, big.NewInt(100), tok.BalanceOf(alice))

	err := tok.MintTo(alice, alice, big.NewInt(100))
	assert.ErrorIs(t, err, domain.ErrNotOwner)
	assert.Equal(t, big.NewInt(100), tok.BalanceOf(alice))
}

func TestTransfer(t *testing.T) {
	tok := New("Mock Token", "MOCK", 18, owner)
	require.NoError(t, tok.MintTo(owner, alice, big.NewInt(50)))

	require.NoError(t, tok.Transfer(alice, bob, big.NewInt(20)))
	assert.Equal(t, big.NewInt(30), tok.BalanceOf(alice))
	assert.Equal(t, big.NewInt(20), tok.BalanceOf(bob))

	err := tok.Transfer(alice, bob, big.NewInt(31))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	tok := New("Mock Token", "MOCK", 18, owner)
	require.NoError(t, tok.MintTo(owner, alice, big.NewInt(100)))

	// No allowance yet.
	err := tok.TransferFrom(carol, alice, bob, big.NewInt(10))
	assert.ErrorIs(t, err, domain.ErrInsufficientAllowance)

	require.NoError(t, tok.Approve(alice, carol, big.NewInt(40)))
	require.NoError(t, tok.TransferFrom(carol, alice, bob, big.NewInt(30)))
	assert.Equal(t, big.NewInt(70), tok.BalanceOf(alice))
	assert.Equal(t, big.NewInt(30), tok.BalanceOf(bob))
	assert.Equal(t, big.NewInt(10), tok.Allowance(alice, carol))

	err = tok.TransferFrom(carol, alice, bob, big.NewInt(11))
	assert.ErrorIs(t, err, domain.ErrInsufficientAllowance)
}

func TestTransferFromZeroAmountWithoutApproval(t *testing.T) {
	tok := New("Mock Token", "MOCK", 18, owner)
	require.NoError(t, tok.MintTo(owner, alice, big.NewInt(100)))

	// A zero-amount transferFrom needs no prior approval.
	require.NoError(t, tok.TransferFrom(carol, alice, bob, big.NewInt(0)))
	assert.Equal(t, big.NewInt(100), tok.BalanceOf(alice))
	assert.Equal(t, big.NewInt(0), tok.BalanceOf(bob))
	assert.Equal(t, big.NewInt(0), tok.Allowance(alice, carol))
}

func TestNativeLedger(t *testing.T) {
	n := NewNativeLedger()
	n.Fund(alice, big.NewInt(5))

	require.NoError(t, n.Transfer(alice, bob, big.NewInt(3)))
	assert.Equal(t, big.NewInt(2), n.BalanceOf(alice))
	assert.Equal(t, big.NewInt(3), n.BalanceOf(bob))

	err := n.Transfer(alice, bob, big.NewInt(3))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	assert.Equal(t, big.NewInt(0), n.BalanceOf(carol))
}

func TestBalanceCopiesAreIndependent(t *testing.T) {
	tok := New("Mock Token", "MOCK", 18, owner)
	require.NoError(t, tok.MintTo(owner, alice, big.NewInt(10)))

	b := tok.BalanceOf(alice)
	b.SetInt64(0)
	assert.Equal(t, big.NewInt(10), tok.BalanceOf(alice))
}
