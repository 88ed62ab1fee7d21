package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/gridlens/gridlens/internal/config"
	"github.com/gridlens/gridlens/internal/core/cache"
	"github.com/gridlens/gridlens/internal/core/engine"
	"github.com/gridlens/gridlens/internal/core/store"
	"github.com/gridlens/gridlens/internal/core/tibber"
	"github.com/gridlens/gridlens/internal/observability"
)

// app bundles the wired components shared by every command: config, logger,
// the optional snapshot store, and the API client.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
	client *tibber.Client
}

// newApp loads configuration and wires the client stack. A store open
// failure is downgraded to a warning: the limiter then starts at full
// capacity instead of resuming from a snapshot.
func newApp(ctx context.Context, forServer bool) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if cfg.Account.Email == "" || cfg.Account.Password == "" {
		return nil, fmt.Errorf("missing credentials: set account.email and account.password (or GRIDLENS_ACCOUNT_EMAIL / GRIDLENS_ACCOUNT_PASSWORD)")
	}

	var logger *zap.Logger
	if forServer {
		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, err = observability.NewServerLogger(level)
	} else {
		logger, err = observability.NewCLILogger(verbose)
	}
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	var snapshots engine.Snapshotter
	var st *store.Store
	if cfg.Store.Path != "" || cfg.Store.URL != "" {
		st, err = store.Open(ctx, cfg.Store)
		if err == nil {
			err = st.Migrate(ctx)
		}
		if err != nil {
			logger.Warn("limiter snapshot store unavailable, continuing without persistence", zap.Error(err))
		} else {
			snapshots = store.NewSnapshotStore(st, cfg.Account.Email)
		}
	}

	limiter := engine.NewMultiTierLimiter(engine.LimiterConfig{
		HourlyLimit:  cfg.Rate.HourlyLimit,
		HourlyWindow: cfg.Rate.HourlyWindow,
		BurstLimit:   cfg.Rate.BurstLimit,
		BurstWindow:  cfg.Rate.BurstWindow,
		SaveInterval: cfg.Rate.SaveInterval,
	}, snapshots, logger)

	client := tibber.New(tibber.Config{
		Email:          cfg.Account.Email,
		Password:       cfg.Account.Password,
		AuthURL:        cfg.API.AuthURL,
		GraphQLURL:     cfg.API.GraphQLURL,
		Limiter:        limiter,
		Cache:          cache.New(logger),
		Logger:         logger,
		MaxRetries:     cfg.API.MaxRetries,
		BaseDelay:      cfg.API.BaseDelay,
		MaxDelay:       cfg.API.MaxDelay,
		AuthTimeout:    cfg.API.AuthTimeout,
		RequestTimeout: cfg.API.RequestTimeout,
	})

	return &app{cfg: cfg, logger: logger, store: st, client: client}, nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close snapshot store", zap.Error(err))
		}
	}
	_ = a.logger.Sync() // nolint:errcheck // stderr sync failure is benign
}

// homeID resolves the home to operate on: the --home flag if given,
// otherwise the configured default, otherwise the account's only home.
func (a *app) homeID(ctx context.Context, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if a.cfg.Account.HomeID != "" {
		return a.cfg.Account.HomeID, nil
	}
	homes, err := a.client.GetHomes(ctx)
	if err != nil {
		return "", err
	}
	switch len(homes) {
	case 0:
		return "", fmt.Errorf("account has no homes")
	case 1:
		return homes[0].ID, nil
	default:
		return "", fmt.Errorf("account has %d homes, pick one with --home or account.home_id", len(homes))
	}
}
