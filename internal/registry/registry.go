// Package registry implements the asset registry: asset identity, ownership,
// approvals, and the guarded voucher-redemption primitive that materializes a
// lazily-issued asset on its first trade. The registry never initiates a
// trade; the only privileged caller of Redeem is the registered market.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/mintmarket/internal/crypto"
	"github.com/alanyoungcy/mintmarket/internal/domain"
)

// ERC165-style capability identifiers answered by SupportsInterface.
var (
	InterfaceIDERC165         = [4]byte{0x01, 0xff, 0xc9, 0xa7}
	InterfaceIDERC721         = [4]byte{0x80, 0xac, 0x58, 0xcd}
	InterfaceIDERC721Metadata = [4]byte{0x5b, 0x5e, 0x13, 0x9f}
)

// Config holds the constructor parameters for a Registry.
type Config struct {
	Name    string
	Symbol  string
	Address common.Address

	// Market is the sole address allowed to call Redeem.
	Market common.Address

	ChainID          int64
	SigningDomain    string
	SignatureVersion string
}

// Registry is one asset collection: token ownership, approvals, metadata, and
// the voucher verification/redemption primitive.
type Registry struct {
	mu sync.Mutex

	name   string
	symbol string
	addr   common.Address
	market common.Address

	signer *crypto.VoucherSigner
	sink   domain.EventSink
	logger *slog.Logger

	owners    map[uint64]common.Address
	approvals map[uint64]common.Address
	operators map[common.Address]map[common.Address]bool
	uris      map[uint64]string
}

// New creates an empty Registry. The signing domain in cfg is bound to the
// registry's own address and chain id, so vouchers cannot cross instances.
func New(cfg Config, sink domain.EventSink, logger *slog.Logger) *Registry {
	name := cfg.SigningDomain
	if name == "" {
		name = crypto.DefaultSigningDomain
	}
	version := cfg.SignatureVersion
	if version == "" {
		version = crypto.DefaultSignatureVersion
	}

	return &Registry{
		name:      cfg.Name,
		symbol:    cfg.Symbol,
		addr:      cfg.Address,
		market:    cfg.Market,
		signer:    crypto.NewVoucherSigner(name, version, cfg.ChainID, cfg.Address),
		sink:      sink,
		logger:    logger.With(slog.String("component", "registry"), slog.String("collection", cfg.Address.Hex())),
		owners:    make(map[uint64]common.Address),
		approvals: make(map[uint64]common.Address),
		operators: make(map[common.Address]map[common.Address]bool),
		uris:      make(map[uint64]string),
	}
}

// Name returns the collection name.
func (r *Registry) Name() string { return r.name }

// Symbol returns the collection symbol.
func (r *Registry) Symbol() string { return r.symbol }

// Address returns the registry's own address.
func (r *Registry) Address() common.Address { return r.addr }

// Signer exposes the registry's voucher signer so off-ledger issuers can
// produce vouchers bound to this instance.
func (r *Registry) Signer() *crypto.VoucherSigner { return r.signer }

// Exists reports whether tokenID has been issued.
func (r *Registry) Exists(tokenID uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.owners[tokenID]
	return ok
}

// OwnerOf returns the current owner of tokenID.
func (r *Registry) OwnerOf(tokenID uint64) (common.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[tokenID]
	if !ok {
		return common.Address{}, fmt.Errorf("registry: ownerOf %d: %w", tokenID, domain.ErrNoSuchToken)
	}
	return owner, nil
}

// TokenURI returns the metadata descriptor assigned at issuance.
func (r *Registry) TokenURI(tokenID uint64) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	uri, ok := r.uris[tokenID]
	if !ok {
		return "", fmt.Errorf("registry: tokenURI %d: %w", tokenID, domain.ErrNoSuchToken)
	}
	return uri, nil
}

// Approve grants to the right to transfer tokenID. Callable by the owner or
// an approved operator.
func (r *Registry) Approve(caller, to common.Address, tokenID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, ok := r.owners[tokenID]
	if !ok {
		return fmt.Errorf("registry: approve %d: %w", tokenID, domain.ErrNoSuchToken)
	}
	if caller != owner && !r.operators[owner][caller] {
		return fmt.Errorf("registry: approve %d by %s: %w", tokenID, caller.Hex(), domain.ErrNotOwner)
	}
	r.approvals[tokenID] = to
	return nil
}

// GetApproved returns the single address approved for tokenID, or the zero
// address when none is set.
func (r *Registry) GetApproved(tokenID uint64) (common.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.owners[tokenID]; !ok {
		return common.Address{}, fmt.Errorf("registry: getApproved %d: %w", tokenID, domain.ErrNoSuchToken)
	}
	return r.approvals[tokenID], nil
}

// SetApprovalForAll grants or revokes operator over all of caller's assets.
func (r *Registry) SetApprovalForAll(caller, operator common.Address, approved bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.operators[caller] == nil {
		r.operators[caller] = make(map[common.Address]bool)
	}
	if approved {
		r.operators[caller][operator] = true
	} else {
		delete(r.operators[caller], operator)
	}
}

// IsApprovedForAll reports whether operator may act on all of owner's assets.
func (r *Registry) IsApprovedForAll(owner, operator common.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.operators[owner][operator]
}

// TransferFrom moves tokenID from from to to. The caller must be the owner,
// the approved address, or an approved operator. Any single-token approval is
// cleared by the transfer.
func (r *Registry) TransferFrom(caller, from, to common.Address, tokenID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, ok := r.owners[tokenID]
	if !ok {
		return fmt.Errorf("registry: transfer %d: %w", tokenID, domain.ErrNoSuchToken)
	}
	if owner != from {
		return fmt.Errorf("registry: transfer %d from %s: %w", tokenID, from.Hex(), domain.ErrNotOwner)
	}
	if caller != owner && caller != r.approvals[tokenID] && !r.operators[owner][caller] {
		return fmt.Errorf("registry: transfer %d by %s: %w", tokenID, caller.Hex(), domain.ErrNotApproved)
	}

	delete(r.approvals, tokenID)
	r.owners[tokenID] = to
	return nil
}

// VerifySignature recovers the voucher's signer. Read-only; callers compare
// the result against the issuer they expect.
func (r *Registry) VerifySignature(v domain.Voucher) (common.Address, error) {
	return r.signer.Recover(v)
}

// Redeem issues the voucher's asset directly to buyer. Only the registered
// market may call it, and an assetId can never be redeemed twice. Callers must
// treat Redeem plus the accompanying value transfer as one atomic unit: on
// error no escrow may have been released.
func (r *Registry) Redeem(caller, buyer common.Address, v domain.Voucher) error {
	signer, err := r.signer.Recover(v)
	if err != nil {
		return fmt.Errorf("registry: redeem %d: %w", v.TokenID, err)
	}

	r.mu.Lock()
	if caller != r.market {
		r.mu.Unlock()
		return fmt.Errorf("registry: redeem %d by %s: %w", v.TokenID, caller.Hex(), domain.ErrOnlyMarketplace)
	}
	if _, ok := r.owners[v.TokenID]; ok {
		r.mu.Unlock()
		return fmt.Errorf("registry: redeem %d: %w", v.TokenID, domain.ErrAlreadyMinted)
	}

	r.owners[v.TokenID] = buyer
	r.uris[v.TokenID] = v.URI
	r.mu.Unlock()

	r.emit(domain.EventRedeemVoucher, map[string]any{
		"collection": r.addr.Hex(),
		"token_id":   v.TokenID,
		"signer":     signer.Hex(),
		"redeemer":   buyer.Hex(),
		"uri":        v.URI,
	})
	return nil
}

// SupportsInterface answers capability probes. Unknown identifiers return
// false rather than failing.
func (r *Registry) SupportsInterface(id [4]byte) bool {
	switch id {
	case InterfaceIDERC165, InterfaceIDERC721, InterfaceIDERC721Metadata:
		return true
	default:
		return false
	}
}

func (r *Registry) emit(name string, attrs map[string]any) {
	if r.sink == nil {
		return
	}
	ev := domain.Event{
		ID:    uuid.NewString(),
		Name:  name,
		At:    time.Now().UTC(),
		Attrs: attrs,
	}
	if err := r.sink.Emit(context.Background(), ev); err != nil {
		r.logger.Warn("event sink failed",
			slog.String("event", name),
			slog.String("error", err.Error()),
		)
	}
}

// Compile-time interface check.
var _ domain.AssetCollection = (*Registry)(nil)
