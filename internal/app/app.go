package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"optionsfi-keeper/internal/alerts"
	"optionsfi-keeper/internal/config"
	"optionsfi-keeper/internal/guard"
	"optionsfi-keeper/internal/keeper"
	"optionsfi-keeper/internal/metrics"
	"optionsfi-keeper/internal/pricefeed"
	"optionsfi-keeper/internal/pricing"
	"optionsfi-keeper/internal/rfq"
	"optionsfi-keeper/internal/settle"
	"optionsfi-keeper/internal/solvency"
	"optionsfi-keeper/internal/state"
	"optionsfi-keeper/internal/state/sqlite"
	"optionsfi-keeper/internal/timescale"
	"optionsfi-keeper/internal/vault"
	"optionsfi-keeper/internal/volatility"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

type telegramClient interface {
	Send(ctx context.Context, message string) error
	GetUpdates(ctx context.Context, offset int64, wait time.Duration) ([]alerts.Update, error)
}

type App struct {
	cfg       *config.Config
	log       *zap.Logger
	store     state.Store
	closer    func() error
	vault     vault.Client
	scheduler *keeper.Scheduler
	sampler   *pricefeed.Sampler
	prom      *metrics.Prometheus
	alerts    telegramClient
	timescale *timescale.Writer

	operatorWarned bool
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	a, err := build(cfg, store, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func build(cfg *config.Config, store *sqlite.Store, log *zap.Logger) (*App, error) {
	var prom *metrics.Prometheus
	m := metrics.NewNoop()
	if cfg.Metrics.EnabledValue() {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}

	vaultClient := vault.NewHTTPClient(cfg.Chain.BaseURL, cfg.Chain.Timeout, log)
	hermes := pricefeed.NewHermes(cfg.PriceFeed.HermesURL, cfg.PriceFeed.Timeout, cfg.PriceFeed.Retries, cfg.PriceFeed.RetryDelay, log)
	yahoo := pricefeed.NewYahoo(cfg.PriceFeed.YahooURL, cfg.PriceFeed.Timeout, log)
	volEngine := volatility.NewEngine(pricefeed.NewHistory(store), yahoo, volatility.Options{
		OnChainWeight:     cfg.Volatility.OnChainWeight,
		OffChainWeight:    cfg.Volatility.OffChainWeight,
		MinSamples:        cfg.Volatility.MinSamples,
		OnChainAdjustment: cfg.Volatility.OnChainAdjustment,
	}, log)
	pricer := pricing.NewEngine(cfg.Keeper.RiskFreeRate, cfg.Keeper.StrikeDeltaBps, cfg.Keeper.EpochDurationDays)

	coordinator, err := newCoordinator(cfg, m, log)
	if err != nil {
		return nil, err
	}

	runtime := keeper.NewRuntime(guard.NewRateLimiter(cfg.Keeper.RateLimitInterval, nil))
	submitter := settle.NewSubmitter(vaultClient, store, settle.Options{
		MaxAttempts: cfg.Settlement.MaxAttempts,
		BackoffBase: cfg.Settlement.BackoffBase,
		BackoffMax:  cfg.Settlement.BackoffMax,
	}, m, log)
	expiry := settle.NewExpiry(vaultClient, store, settle.ExpiryOptions{
		TokenDecimals:   cfg.Keeper.TokenDecimals,
		PremiumDecimals: cfg.Keeper.PremiumDecimals,
	}, m, log)
	pipeline := keeper.NewPipeline(
		vaultClient,
		vault.NewCapacityEvaluator(cfg.Keeper.UtilizationSafetyMarginBps, cfg.Keeper.MinTradeableNotional),
		hermes,
		volEngine,
		pricer,
		coordinator,
		submitter,
		expiry,
		runtime,
		keeper.PipelineOptions{
			LookbackDays:     cfg.Keeper.VolatilityLookbackDays,
			MaxDivergence:    cfg.Keeper.MaxDivergence,
			HaltOnDivergence: cfg.Keeper.HaltOnDivergenceValue(),
			MaxRollFraction:  cfg.Keeper.MaxRollFraction,
			TokenDecimals:    cfg.Keeper.TokenDecimals,
			PremiumDecimals:  cfg.Keeper.PremiumDecimals,
		},
		log,
	)
	reconciler := solvency.NewReconciler(vaultClient, runtime, solvency.Options{
		AutoReconcile:  cfg.Keeper.AutoReconcileValue(),
		FundingAccount: cfg.Keeper.FundingAccount,
	}, m, log)

	ts, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		return nil, fmt.Errorf("timescale: %w", err)
	}
	telegram := alerts.NewTelegram(cfg.Telegram, log)

	vaults := make([]keeper.Vault, 0, len(cfg.Vaults))
	targets := make([]pricefeed.Target, 0, len(cfg.Vaults))
	for _, v := range cfg.Vaults {
		vaults = append(vaults, keeper.Vault{
			AssetID:     v.AssetID,
			Address:     v.Address,
			Ticker:      v.Ticker,
			Mint:        v.Mint,
			PriceFeedID: v.PriceFeedID,
		})
		if v.PriceFeedID != "" && v.Mint != "" {
			targets = append(targets, pricefeed.Target{Symbol: v.Mint, FeedID: v.PriceFeedID})
		}
	}

	scheduler := keeper.NewScheduler(
		vaults,
		runtime,
		pipeline,
		reconciler,
		telegram,
		&recorder{store: store, timescale: ts, log: log},
		keeper.NewEvents(100),
		m,
		keeper.SchedulerOptions{
			TickInterval:           cfg.Keeper.TickInterval,
			ReconcileInterval:      cfg.Keeper.ReconcileInterval,
			MaxConsecutiveFailures: cfg.Keeper.MaxConsecutiveFailures,
		},
		log,
	)
	return &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		closer:    store.Close,
		vault:     vaultClient,
		scheduler: scheduler,
		sampler:   pricefeed.NewSampler(hermes, store, targets, cfg.PriceFeed.SampleInterval, cfg.PriceFeed.Retention, log),
		prom:      prom,
		alerts:    telegram,
		timescale: ts,
	}, nil
}

func newCoordinator(cfg *config.Config, m *metrics.Metrics, log *zap.Logger) (*rfq.Coordinator, error) {
	var signer *rfq.Signer
	if key := strings.TrimSpace(os.Getenv(cfg.Keeper.SigningKeyEnv)); key != "" {
		s, err := rfq.NewSigner(key)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", cfg.Keeper.SigningKeyEnv, err)
		}
		signer = s
		log.Info("rfq signing enabled", zap.String("keeper", s.Address().Hex()))
	}
	makerHTTP := &http.Client{Timeout: cfg.RFQ.Timeout}
	makers := make([]rfq.Maker, 0, len(cfg.RFQ.Makers))
	addresses := make(map[string]common.Address)
	for _, mc := range cfg.RFQ.Makers {
		switch mc.Transport {
		case "http":
			makers = append(makers, rfq.NewHTTPMaker(mc.ID, mc.URL, mc.APIKey(), makerHTTP))
		default:
			makers = append(makers, rfq.NewWSMaker(mc.ID, mc.URL, mc.APIKey(), log))
		}
		if mc.Address != "" {
			if !common.IsHexAddress(mc.Address) {
				return nil, fmt.Errorf("maker %s: invalid address %q", mc.ID, mc.Address)
			}
			addresses[mc.ID] = common.HexToAddress(mc.Address)
		}
	}
	return rfq.NewCoordinator(makers, rfq.Options{
		Timeout: cfg.RFQ.Timeout,
		Bounds: guard.QuoteBounds{
			MaxMultiple: cfg.RFQ.MaxPremiumMultiple,
			MinRatio:    cfg.RFQ.MinPremiumRatioValue(),
		},
		MakerAddresses: addresses,
		Signer:         signer,
	}, m, log), nil
}

// Run starts the keeper loops and blocks until ctx is done.
func (a *App) Run(ctx context.Context) error {
	defer a.close()
	a.timescale.Start(ctx)
	a.checkTickInterval(ctx)
	a.startOperator(ctx)

	g, gctx := errgroup.WithContext(ctx)
	if a.cfg.Metrics.EnabledValue() {
		srv := &http.Server{
			Addr:              a.cfg.Metrics.Address,
			Handler:           a.handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			a.log.Info("ops server listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("ops server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		return a.sampler.Run(gctx)
	})
	g.Go(func() error {
		return a.scheduler.Run(gctx)
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// checkTickInterval warns when a vault's epoch is shorter than the roll tick.
func (a *App) checkTickInterval(ctx context.Context) {
	for _, v := range a.scheduler.Vaults() {
		st, err := a.vault.GetVaultState(ctx, v.AssetID)
		if err != nil {
			a.log.Warn("initial vault state read failed", zap.String("asset", v.AssetID), zap.Error(err))
			continue
		}
		if st.MinEpochDuration > 0 && a.cfg.Keeper.TickInterval >= st.MinEpochDuration {
			a.log.Warn("tick interval is not shorter than vault epoch",
				zap.String("asset", v.AssetID),
				zap.Duration("tick_interval", a.cfg.Keeper.TickInterval),
				zap.Duration("min_epoch_duration", st.MinEpochDuration))
		}
		a.log.Info("vault loaded",
			zap.String("asset", v.AssetID),
			zap.Uint64("epoch", st.Epoch),
			zap.Uint64("total_assets", st.TotalAssets),
			zap.Bool("paused", st.IsPaused))
	}
}

func (a *App) close() {
	if err := a.timescale.Close(); err != nil {
		a.log.Warn("timescale close failed", zap.Error(err))
	}
	if a.closer != nil {
		if err := a.closer(); err != nil {
			a.log.Warn("state store close failed", zap.Error(err))
		}
	}
}
