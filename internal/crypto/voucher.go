// Package crypto implements the EIP-712 structured-data scheme used to sign
// and verify lazy-issuance vouchers. The digest is a pure function of the
// voucher fields and a domain separator bound to one registry instance and one
// network, so a voucher cannot be replayed against another collection or chain.
package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/mintmarket/internal/domain"
)

// --------------------------------------------------------------------------
// EIP-712 type hashes (pre-computed keccak256 of the canonical type strings).
// --------------------------------------------------------------------------

var (
	// EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)

	// NFTVoucher(uint256 tokenId,string uri,address currency,uint256 minPrice,bool isFixedPrice)
	voucherTypeHash = ethcrypto.Keccak256(
		[]byte("NFTVoucher(uint256 tokenId,string uri,address currency,uint256 minPrice,bool isFixedPrice)"),
	)
)

// Default signing domain parameters used by the reference deployment.
const (
	DefaultSigningDomain    = "PT-Voucher"
	DefaultSignatureVersion = "1"
)

// VoucherSigner computes EIP-712 voucher digests for one registry instance and
// signs or recovers voucher signatures against them.
type VoucherSigner struct {
	name      string
	version   string
	chainID   int64
	registry  common.Address
	domainSep []byte // cached EIP-712 domain separator hash
}

// NewVoucherSigner creates a VoucherSigner whose domain separator binds the
// given signing-domain name and version to the registry address on chainID.
func NewVoucherSigner(name, version string, chainID int64, registry common.Address) *VoucherSigner {
	s := &VoucherSigner{
		name:     name,
		version:  version,
		chainID:  chainID,
		registry: registry,
	}
	s.domainSep = ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(name)),
			ethcrypto.Keccak256([]byte(version)),
			bigIntTo32Bytes(big.NewInt(chainID)),
			common.LeftPadBytes(registry.Bytes(), 32),
		),
	)
	return s
}

// Digest computes the final EIP-712 digest for the voucher:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func (s *VoucherSigner) Digest(v domain.Voucher) []byte {
	structHash := ethcrypto.Keccak256(
		concatBytes(
			voucherTypeHash,
			bigIntTo32Bytes(new(big.Int).SetUint64(v.TokenID)),
			ethcrypto.Keccak256([]byte(v.URI)),
			common.LeftPadBytes(v.Currency.Bytes(), 32),
			bigIntTo32Bytes(minPriceOrZero(v)),
			bigIntTo32Bytes(boolToBig(v.IsFixedPrice)),
		),
	)

	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			s.domainSep,
			structHash,
		),
	)
}

// Sign returns a copy of the voucher carrying a 65-byte signature
// (r || s || v, with v in {27,28}) produced by the given secp256k1 key.
func (s *VoucherSigner) Sign(v domain.Voucher, key *ecdsa.PrivateKey) (domain.Voucher, error) {
	sig, err := ethcrypto.Sign(s.Digest(v), key)
	if err != nil {
		return domain.Voucher{}, fmt.Errorf("crypto: sign voucher %d: %w", v.TokenID, err)
	}

	// go-ethereum returns the recovery id in {0,1}; EIP-712 expects {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}

	v.Signature = sig
	return v, nil
}

// Recover returns the address that signed the voucher. It makes no judgement
// about whether that address is the expected issuer; callers compare it.
func (s *VoucherSigner) Recover(v domain.Voucher) (common.Address, error) {
	if len(v.Signature) != ethcrypto.SignatureLength {
		return common.Address{}, fmt.Errorf("crypto: voucher %d: %w", v.TokenID, domain.ErrInvalidSignature)
	}

	sig := make([]byte, ethcrypto.SignatureLength)
	copy(sig, v.Signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(s.Digest(v), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover voucher %d: %w", v.TokenID, domain.ErrInvalidSignature)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func minPriceOrZero(v domain.Voucher) *big.Int {
	if v.MinPrice == nil {
		return new(big.Int)
	}
	return v.MinPrice
}

func boolToBig(b bool) *big.Int {
	if b {
		return big.NewInt(1)
	}
	return big.NewInt(0)
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
