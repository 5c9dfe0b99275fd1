package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/shproduct/internal/config"
	"github.com/alanyoungcy/shproduct/internal/crypto"
	"github.com/alanyoungcy/shproduct/internal/domain"
	"github.com/alanyoungcy/shproduct/internal/notify"
	"github.com/alanyoungcy/shproduct/internal/server"
	"github.com/alanyoungcy/shproduct/internal/server/handler"
	"github.com/alanyoungcy/shproduct/internal/server/ws"
	"github.com/alanyoungcy/shproduct/internal/service"
)

// ServerMode runs the ledger in memory behind the HTTP API. State lasts as
// long as the process.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode (in-memory ledger)")
	return a.runLedger(ctx, deps)
}

// FullMode runs the ledger with the durable call log, distributed locks, the
// Redis event bus and the statement archive.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	return a.runLedger(ctx, deps)
}

func (a *App) runLedger(ctx context.Context, deps *Dependencies) error {
	signer, err := crypto.LoadSigner(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	}, a.cfg.Chain.ChainID)
	if err != nil {
		return fmt.Errorf("app: load deployer key: %w", err)
	}

	ledger := a.buildLedger(deps, signer)

	// Relay and archive capture skip replayed blocks, so they can attach
	// before the call log is rebuilt.
	notifier := a.buildNotifier(deps, ledger)
	var eventNotifier service.EventNotifier
	if notifier != nil {
		eventNotifier = notifier
	}
	relay := service.NewEventRelay(deps.SignalBus, eventNotifier, a.logger)
	relay.Attach(ledger)

	var archive *service.ArchiveService
	if deps.Archiver != nil {
		archive = service.NewArchiveService(ledger, deps.Archiver, 0, a.logger)
		archive.Attach()
	}

	n, err := ledger.Replay(ctx)
	if err != nil {
		return fmt.Errorf("app: replay call log: %w", err)
	}
	a.logger.InfoContext(ctx, "ledger ready",
		slog.Int("replayed_calls", n),
		slog.Uint64("block", ledger.Block()),
		slog.String("deployer", signer.Address().Hex()),
	)

	genesis, err := genesisFrom(a.cfg, signer)
	if err != nil {
		return fmt.Errorf("app: genesis: %w", err)
	}
	if applied, err := ledger.Bootstrap(ctx, genesis); err != nil {
		return fmt.Errorf("app: bootstrap: %w", err)
	} else if !applied {
		a.logger.InfoContext(ctx, "genesis skipped, ledger already has blocks")
	}

	if notifier != nil {
		msg := fmt.Sprintf("mode %s, block %d, %d product(s)", a.cfg.Mode, ledger.Block(), len(ledger.Products()))
		if err := notifier.NotifyAll(ctx, "shproduct started", msg); err != nil {
			a.logger.WarnContext(ctx, "startup notification failed", slog.String("error", err.Error()))
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	if archive != nil {
		g.Go(func() error {
			return archive.Run(ctx)
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, ledger, archive)
	}

	g.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})

	return g.Wait()
}

// buildLedger creates the ledger service and attaches the stores present in
// deps.
func (a *App) buildLedger(deps *Dependencies, signer *crypto.Signer) *service.LedgerService {
	ledger := service.NewLedgerService(service.LedgerConfig{
		ChainID:        a.cfg.Chain.ChainID,
		Deployer:       signer.Address(),
		CurrencyName:   a.cfg.Chain.CurrencyName,
		CurrencySymbol: a.cfg.Chain.CurrencySymbol,
		Insecure:       a.cfg.Server.Insecure,
	}, a.logger)

	if deps.CallStore != nil {
		ledger.WithCallStore(deps.CallStore)
	}
	if deps.EventStore != nil {
		ledger.WithEventStore(deps.EventStore)
	}
	if deps.AuditStore != nil {
		ledger.WithAudit(deps.AuditStore)
	}
	if deps.LockManager != nil {
		ledger.WithLocks(deps.LockManager, a.cfg.LockTTL())
	}
	if a.cfg.Server.Insecure {
		a.logger.Warn("unsigned calls are accepted (server.insecure)")
	}
	return ledger
}

// buildNotifier returns the notifier, or nil when no channel is configured.
func (a *App) buildNotifier(deps *Dependencies, ledger *service.LedgerService) *notify.Notifier {
	if len(deps.Senders) == 0 {
		return nil
	}
	n := notify.NewNotifier(deps.Senders, a.cfg.Notify.Events, notify.Formatter{
		Symbol:   ledger.CurrencySymbol(),
		Decimals: ledger.CurrencyDecimals(),
		Names:    ledger.ProductName,
	}, a.logger)
	if deps.NotifyLimiter != nil {
		n.WithLimiter(deps.NotifyLimiter)
	}
	return n
}

// startHTTPServer registers the HTTP server, the WebSocket hub and their
// shutdown on g.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	ledger *service.LedgerService,
	archive *service.ArchiveService,
) {
	hub := ws.NewHub(deps.SignalBus, service.EventsChannel, ledger.Block, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	// A nil *ArchiveService must reach the handler as a nil interface.
	var statements handler.StatementService
	if archive != nil {
		statements = archive
	}

	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(ledger.Block, deps.Checks, a.logger),
		Chain:      handler.NewChainHandler(ledger, a.logger),
		Products:   handler.NewProductHandler(ledger, a.logger),
		Statements: handler.NewStatementHandler(statements, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.RateWindow(),
		Block:       ledger.Block,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// genesisFrom translates the chain and product sections into the genesis
// calls signed by signer.
func genesisFrom(cfg *config.Config, signer *crypto.Signer) (service.Genesis, error) {
	g := service.Genesis{Signer: signer}
	for _, f := range cfg.Chain.Faucet {
		if !common.IsHexAddress(f.Address) {
			return g, fmt.Errorf("faucet address %q is not hex", f.Address)
		}
		g.Faucet = append(g.Faucet, service.Grant{To: common.HexToAddress(f.Address), Amount: f.Amount})
	}

	p := cfg.Product
	if !p.Enabled {
		return g, nil
	}
	spec := &service.ProductSpec{
		Name:        p.Name,
		Underlying:  p.Underlying,
		Manager:     optionalAddress(p.Manager),
		ExWallet:    optionalAddress(p.ExWallet),
		Router:      optionalAddress(p.Router),
		Market:      optionalAddress(p.Market),
		MaxCapacity: p.MaxCapacity,
		Cycle: domain.IssuanceCycle{
			Coupon:             p.Cycle.Coupon,
			StrikePrice1:       p.Cycle.StrikePrice1,
			StrikePrice2:       p.Cycle.StrikePrice2,
			StrikePrice3:       p.Cycle.StrikePrice3,
			StrikePrice4:       p.Cycle.StrikePrice4,
			TR1:                p.Cycle.TR1,
			TR2:                p.Cycle.TR2,
			IssuanceDate:       p.Cycle.IssuanceDate,
			MaturityDate:       p.Cycle.MaturityDate,
			APY:                p.Cycle.APY,
			UnderlyingSpotRef:  p.Cycle.UnderlyingSpotRef,
			OptionMinOrderSize: p.Cycle.OptionMinOrderSize,
			SubAccountID:       p.Cycle.SubAccountID,
			Participation:      p.Cycle.Participation,
		},
	}
	for _, w := range p.Whitelist {
		if !common.IsHexAddress(w) {
			return g, fmt.Errorf("whitelist address %q is not hex", w)
		}
		spec.Whitelist = append(spec.Whitelist, common.HexToAddress(w))
	}
	g.Product = spec
	return g, nil
}

// optionalAddress parses an address setting; empty means the zero address.
func optionalAddress(v string) common.Address {
	if v == "" {
		return common.Address{}
	}
	return common.HexToAddress(v)
}
