package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/mintmarket/internal/domain"
	"github.com/alanyoungcy/mintmarket/internal/server"
	"github.com/alanyoungcy/mintmarket/internal/server/handler"
	"github.com/alanyoungcy/mintmarket/internal/server/ws"
)

// ServeMode runs the marketplace daemon: it bootstraps the allow-lists,
// starts the HTTP + WebSocket API, and runs the history archival loop. It
// blocks until the context is cancelled.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	if err := a.bootstrap(ctx, deps); err != nil {
		return fmt.Errorf("serve mode: bootstrap: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	// WebSocket hub — requires the Redis event bus.
	var hub *ws.Hub
	if deps.Bus != nil {
		hub = ws.NewHub(deps.Bus, a.logger, ws.Config{
			Mode:      a.cfg.Mode,
			StartedAt: time.Now().UTC(),
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	// HTTP API.
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, hub)
	}

	// History archival loop.
	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		g.Go(func() error {
			return a.archiveLoop(ctx, deps)
		})
	}

	return g.Wait()
}

// bootstrap seeds the engine allow-lists as the owner: the native currency,
// the configured payment token, and the asset collection.
func (a *App) bootstrap(ctx context.Context, deps *Dependencies) error {
	owner := a.cfg.OwnerAddress()

	if err := deps.Engine.WhitelistCurrency(ctx, owner, domain.NativeCurrency, true); err != nil {
		return err
	}
	if err := deps.Engine.WhitelistCurrency(ctx, owner, a.cfg.TokenAddress(), true); err != nil {
		return err
	}
	if err := deps.Engine.WhitelistCollection(ctx, owner, a.cfg.RegistryAddress(), true); err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "allow-lists bootstrapped",
		slog.String("token", a.cfg.TokenAddress().Hex()),
		slog.String("collection", a.cfg.RegistryAddress().Hex()),
	)
	return nil
}

// startHTTPServer builds the handler set and runs the API server until the
// context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, hub *ws.Hub) {
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.logger),
		Market: handler.NewMarketHandler(deps.Engine, a.logger),
		Ops:    handler.NewOpsHandler(deps.Engine, a.logger),
	}
	if deps.TradeStore != nil {
		handlers.Trades = handler.NewTradeHandler(deps.TradeStore, a.logger)
	}
	if deps.EventStore != nil {
		handlers.Events = handler.NewEventHandler(deps.EventStore, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimiter:     deps.RateLimiter,
		RateLimit:       a.cfg.Server.RateLimitPerMin,
		RateLimitWindow: time.Minute,
	}, handlers, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// archiveLoop periodically uploads trade and event history older than the
// retention window to object storage, then prunes the uploaded rows. Rows are
// deleted only after their archive upload succeeded.
func (a *App) archiveLoop(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Archive.Interval.Duration
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	logger := a.logger.With(slog.String("component", "archive"))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	run := func() {
		cutoff := time.Now().UTC().Add(-retention)

		if n, err := deps.Archiver.ArchiveTrades(ctx, cutoff); err != nil {
			logger.ErrorContext(ctx, "trade archival failed", slog.String("error", err.Error()))
		} else if n > 0 {
			deleted, err := deps.TradeStore.DeleteBefore(ctx, cutoff)
			if err != nil {
				logger.ErrorContext(ctx, "trade prune failed", slog.String("error", err.Error()))
			}
			logger.InfoContext(ctx, "trades archived",
				slog.Int64("archived", n),
				slog.Int64("pruned", deleted),
			)
		}

		if n, err := deps.Archiver.ArchiveEvents(ctx, cutoff); err != nil {
			logger.ErrorContext(ctx, "event archival failed", slog.String("error", err.Error()))
		} else if n > 0 {
			deleted, err := deps.EventStore.DeleteBefore(ctx, cutoff)
			if err != nil {
				logger.ErrorContext(ctx, "event prune failed", slog.String("error", err.Error()))
			}
			logger.InfoContext(ctx, "events archived",
				slog.Int64("archived", n),
				slog.Int64("pruned", deleted),
			)
		}
	}

	run()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			run()
		}
	}
}

// SimulateMode runs a scripted end-to-end scenario through the ledger: lazy
// voucher offers with withdrawal and overwrite, an accepted resale listing, a
// fixed-price lazy purchase, and allow-list revocation. It exists to exercise
// the full engine surface against an in-process world and logs every step and
// the final balances.
func (a *App) SimulateMode(ctx context.Context, deps *Dependencies) error {
	logger := a.logger.With(slog.String("component", "simulate"))
	logger.InfoContext(ctx, "starting simulate mode")

	if err := a.bootstrap(ctx, deps); err != nil {
		return fmt.Errorf("simulate mode: bootstrap: %w", err)
	}

	owner := a.cfg.OwnerAddress()
	engineAddr := a.cfg.MarketAddress()
	tokenAddr := a.cfg.TokenAddress()
	collection := a.cfg.RegistryAddress()

	// Participants: the artist signs vouchers, alice and bob trade.
	artistKey, err := ethcrypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("simulate mode: generate key: %w", err)
	}
	artist := ethcrypto.PubkeyToAddress(artistKey.PublicKey)
	aliceKey, err := ethcrypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("simulate mode: generate key: %w", err)
	}
	alice := ethcrypto.PubkeyToAddress(aliceKey.PublicKey)
	bobKey, err := ethcrypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("simulate mode: generate key: %w", err)
	}
	bob := ethcrypto.PubkeyToAddress(bobKey.PublicKey)

	// Fund both buyers in the token and in native value, and let the engine
	// pull token escrow on their behalf.
	grant := big.NewInt(1_000_000)
	for _, buyer := range []common.Address{alice, bob} {
		if err := deps.Token.MintTo(owner, buyer, grant); err != nil {
			return fmt.Errorf("simulate mode: fund: %w", err)
		}
		if err := deps.Token.Approve(buyer, engineAddr, grant); err != nil {
			return fmt.Errorf("simulate mode: approve: %w", err)
		}
		deps.Native.Fund(buyer, new(big.Int).Set(grant))
	}

	step := func(name string, fn func() error) error {
		if err := fn(); err != nil {
			logger.ErrorContext(ctx, "step failed",
				slog.String("step", name),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("simulate mode: %s: %w", name, err)
		}
		logger.InfoContext(ctx, "step completed", slog.String("step", name))
		return nil
	}

	// An auction voucher for an unissued asset, denominated in the token.
	auctionVoucher, err := deps.Registry.Signer().Sign(domain.Voucher{
		TokenID:  1,
		URI:      "ipfs://QmQFcbsk1Vjt1n361MceM5iNeMTuFzuVUZ1hKFWD7ZCpuC",
		Currency: tokenAddr,
		MinPrice: big.NewInt(100),
	}, artistKey)
	if err != nil {
		return fmt.Errorf("simulate mode: sign voucher: %w", err)
	}

	zero := new(big.Int)

	if err := step("alice opens a lazy offer", func() error {
		return deps.Engine.CreateLazyOffer(ctx, alice, collection, auctionVoucher, big.NewInt(110), zero)
	}); err != nil {
		return err
	}

	if err := step("alice withdraws her offer", func() error {
		return deps.Engine.WithdrawOffer(ctx, alice, collection, 1)
	}); err != nil {
		return err
	}

	if err := step("alice reopens her lazy offer", func() error {
		return deps.Engine.CreateLazyOffer(ctx, alice, collection, auctionVoucher, big.NewInt(110), zero)
	}); err != nil {
		return err
	}

	if err := step("bob overwrites with a higher bid", func() error {
		return deps.Engine.CreateLazyOffer(ctx, bob, collection, auctionVoucher, big.NewInt(120), zero)
	}); err != nil {
		return err
	}

	if err := step("artist accepts; asset issued to bob", func() error {
		return deps.Engine.AcceptOffer(ctx, artist, collection, 1, true)
	}); err != nil {
		return err
	}

	// Bob resells the issued asset through a regular auction listing.
	if err := step("bob approves the marketplace", func() error {
		return deps.Registry.Approve(bob, engineAddr, 1)
	}); err != nil {
		return err
	}

	expiry := time.Now().Add(24 * time.Hour)
	if err := step("bob lists the asset for auction", func() error {
		return deps.Engine.ListItem(ctx, bob, collection, 1, tokenAddr, big.NewInt(200), expiry, false)
	}); err != nil {
		return err
	}

	if err := step("bob unlists and relists", func() error {
		if err := deps.Engine.UnlistItem(ctx, bob, collection, 1); err != nil {
			return err
		}
		return deps.Engine.ListItem(ctx, bob, collection, 1, tokenAddr, big.NewInt(200), expiry, false)
	}); err != nil {
		return err
	}

	if err := step("alice bids on the listing", func() error {
		return deps.Engine.CreateOffer(ctx, alice, collection, 1, big.NewInt(210), zero)
	}); err != nil {
		return err
	}

	if err := step("bob accepts; asset sold to alice", func() error {
		return deps.Engine.AcceptOffer(ctx, bob, collection, 1, true)
	}); err != nil {
		return err
	}

	// A fixed-price voucher bought outright with native value.
	fixedVoucher, err := deps.Registry.Signer().Sign(domain.Voucher{
		TokenID:      2,
		URI:          "ipfs://QmPK1s3pNYLi9ERiq3BDxKa4XosgWwFRQUydHUtz4YgpqB",
		Currency:     domain.NativeCurrency,
		MinPrice:     big.NewInt(150),
		IsFixedPrice: true,
	}, artistKey)
	if err != nil {
		return fmt.Errorf("simulate mode: sign voucher: %w", err)
	}

	if err := step("alice buys a fixed-price voucher", func() error {
		return deps.Engine.BuyLazyNFT(ctx, alice, collection, fixedVoucher, big.NewInt(150))
	}); err != nil {
		return err
	}

	// Revoking the token currency blocks further token-denominated activity.
	if err := step("owner revokes the payment token", func() error {
		return deps.Engine.WhitelistCurrency(ctx, owner, tokenAddr, false)
	}); err != nil {
		return err
	}
	if err := deps.Engine.ListItem(ctx, alice, collection, 1, tokenAddr, big.NewInt(300), expiry, false); err != nil {
		logger.InfoContext(ctx, "listing in revoked currency refused as expected",
			slog.String("error", err.Error()),
		)
	}

	for _, p := range []struct {
		name string
		addr common.Address
	}{
		{"owner", owner},
		{"artist", artist},
		{"alice", alice},
		{"bob", bob},
	} {
		logger.InfoContext(ctx, "final balances",
			slog.String("account", p.name),
			slog.String("address", p.addr.Hex()),
			slog.String("token", deps.Token.BalanceOf(p.addr).String()),
			slog.String("native", deps.Native.BalanceOf(p.addr).String()),
		)
	}

	logger.InfoContext(ctx, "simulation complete")
	return nil
}
