package registry

import (
	"context"
	"crypto/ecdsa"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mintmarket/internal/domain"
)

const testURI = "ipfs://QmQFcbsk1Vjt1n361MceM5iNeMTuFzuVUZ1hKFWD7ZCpuC"

var (
	registryAddr = common.HexToAddress("0x1000")
	marketAddr   = common.HexToAddress("0x2000")
)

type capturedEvents struct {
	events []domain.Event
}

func (c *capturedEvents) Emit(_ context.Context, ev domain.Event) error {
	c.events = append(c.events, ev)
	return nil
}

func (c *capturedEvents) names() []string {
	out := make([]string, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.Name)
	}
	return out
}

func newTestRegistry(t *testing.T) (*Registry, *capturedEvents) {
	t.Helper()
	sink := &capturedEvents{}
	r := New(Config{
		Name:    "Pharma Trace",
		Symbol:  "PTNFT",
		Address: registryAddr,
		Market:  marketAddr,
		ChainID: 1337,
	}, sink, slog.Default())
	return r, sink
}

func newAccount(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return key, ethcrypto.PubkeyToAddress(key.PublicKey)
}

func signedVoucher(t *testing.T, r *Registry, key *ecdsa.PrivateKey, tokenID uint64, fixed bool) domain.Voucher {
	t.Helper()
	v := domain.Voucher{
		TokenID:      tokenID,
		URI:          testURI,
		Currency:     domain.NativeCurrency,
		MinPrice:     big.NewInt(10),
		IsFixedPrice: fixed,
	}
	signed, err := r.Signer().Sign(v, key)
	require.NoError(t, err)
	return signed
}

func TestRedeemOnlyMarketplace(t *testing.T) {
	r, _ := newTestRegistry(t)
	key, issuer := newAccount(t)
	v := signedVoucher(t, r, key, 1, false)

	err := r.Redeem(issuer, issuer, v)
	assert.ErrorIs(t, err, domain.ErrOnlyMarketplace)
	assert.False(t, r.Exists(1))
}

func TestVerifySignature(t *testing.T) {
	r, _ := newTestRegistry(t)
	key, issuer := newAccount(t)
	v := signedVoucher(t, r, key, 1, false)

	signer, err := r.VerifySignature(v)
	require.NoError(t, err)
	assert.Equal(t, issuer, signer)
}

func TestRedeem(t *testing.T) {
	r, sink := newTestRegistry(t)
	key, _ := newAccount(t)
	_, buyer := newAccount(t)
	v := signedVoucher(t, r, key, 1, false)

	require.NoError(t, r.Redeem(marketAddr, buyer, v))

	owner, err := r.OwnerOf(1)
	require.NoError(t, err)
	assert.Equal(t, buyer, owner)

	uri, err := r.TokenURI(1)
	require.NoError(t, err)
	assert.Equal(t, testURI, uri)

	assert.Contains(t, sink.names(), domain.EventRedeemVoucher)
}

func TestRedeemTwiceFails(t *testing.T) {
	r, _ := newTestRegistry(t)
	key, _ := newAccount(t)
	_, buyer := newAccount(t)
	v := signedVoucher(t, r, key, 1, false)

	require.NoError(t, r.Redeem(marketAddr, buyer, v))
	err := r.Redeem(marketAddr, buyer, v)
	assert.ErrorIs(t, err, domain.ErrAlreadyMinted)
}

func TestApproveAndTransfer(t *testing.T) {
	r, _ := newTestRegistry(t)
	key, _ := newAccount(t)
	_, ownerAddr := newAccount(t)
	_, other := newAccount(t)
	v := signedVoucher(t, r, key, 5, true)
	require.NoError(t, r.Redeem(marketAddr, ownerAddr, v))

	// Non-owner cannot approve.
	err := r.Approve(other, other, 5)
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	require.NoError(t, r.Approve(ownerAddr, marketAddr, 5))
	approved, err := r.GetApproved(5)
	require.NoError(t, err)
	assert.Equal(t, marketAddr, approved)

	// Unapproved caller cannot transfer.
	err = r.TransferFrom(other, ownerAddr, other, 5)
	assert.ErrorIs(t, err, domain.ErrNotApproved)

	// Approved caller can, and the approval is cleared by the transfer.
	require.NoError(t, r.TransferFrom(marketAddr, ownerAddr, other, 5))
	got, err := r.OwnerOf(5)
	require.NoError(t, err)
	assert.Equal(t, other, got)

	approved, err = r.GetApproved(5)
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, approved)
}

func TestOperatorApproval(t *testing.T) {
	r, _ := newTestRegistry(t)
	key, _ := newAccount(t)
	_, ownerAddr := newAccount(t)
	_, operator := newAccount(t)
	_, dest := newAccount(t)
	v := signedVoucher(t, r, key, 9, true)
	require.NoError(t, r.Redeem(marketAddr, ownerAddr, v))

	r.SetApprovalForAll(ownerAddr, operator, true)
	assert.True(t, r.IsApprovedForAll(ownerAddr, operator))

	require.NoError(t, r.TransferFrom(operator, ownerAddr, dest, 9))

	r.SetApprovalForAll(ownerAddr, operator, false)
	assert.False(t, r.IsApprovedForAll(ownerAddr, operator))
}

func TestSupportsInterface(t *testing.T) {
	r, _ := newTestRegistry(t)

	assert.True(t, r.SupportsInterface(InterfaceIDERC165))
	assert.True(t, r.SupportsInterface(InterfaceIDERC721))
	assert.True(t, r.SupportsInterface(InterfaceIDERC721Metadata))
	assert.False(t, r.SupportsInterface([4]byte{0x12, 0x34, 0x56, 0x78}))
}

func TestOwnerOfUnknownToken(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.OwnerOf(404)
	assert.ErrorIs(t, err, domain.ErrNoSuchToken)
}
