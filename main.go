package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"resilient-trading-bot/config"
	"resilient-trading-bot/internal/alert"
	"resilient-trading-bot/internal/api"
	"resilient-trading-bot/internal/bot"
	"resilient-trading-bot/internal/database"
	"resilient-trading-bot/internal/events"
	"resilient-trading-bot/internal/logging"
	"resilient-trading-bot/internal/market"
	"resilient-trading-bot/internal/metrics"
	"resilient-trading-bot/internal/resilience"
	"resilient-trading-bot/internal/risk"
	"resilient-trading-bot/internal/state"
	"resilient-trading-bot/internal/vault"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "generate-config" {
		if err := config.GenerateSampleConfig("config.json"); err != nil {
			fmt.Fprintf(os.Stderr, "failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("sample config written to config.json")
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	appLogger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		Component:   "main",
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
	})
	logging.SetDefault(appLogger)

	zlog := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if level, parseErr := zerolog.ParseLevel(strings.ToLower(cfg.LoggingConfig.Level)); parseErr == nil {
		zlog = zlog.Level(level)
	}

	appLogger.Info("starting resilient trading bot",
		"symbols", strings.Join(cfg.TradingConfig.Symbols, ","),
		"strategy", cfg.TradingConfig.Strategy,
		"mock_mode", cfg.BinanceConfig.MockMode)

	bus := events.NewEventBus()

	promMetrics := metrics.New()
	promMetrics.ObserveBus(bus)

	alerts := alert.NewDispatcher(
		cfg.AlertConfig.HistorySize,
		time.Duration(cfg.AlertConfig.RateLimitWindow)*time.Second,
		appLogger,
	)
	if cfg.AlertConfig.Enabled {
		alerts.AddNotifier(alert.NewTelegramNotifier(cfg.AlertConfig.Telegram))
		alerts.AddNotifier(alert.NewDiscordNotifier(cfg.AlertConfig.Discord))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Credentials: Vault when enabled, configured env keys otherwise
	vaultClient, err := vault.NewClient(cfg.VaultConfig, vault.Credentials{
		APIKey:    cfg.BinanceConfig.APIKey,
		SecretKey: cfg.BinanceConfig.SecretKey,
		IsTestnet: cfg.BinanceConfig.TestNet,
	}, zlog)
	if err != nil {
		appLogger.Fatal("failed to create vault client", "error", err)
	}
	creds, err := vaultClient.LoadCredentials(ctx)
	if err != nil {
		appLogger.Fatal("failed to load exchange credentials", "error", err)
	}
	cfg.BinanceConfig.APIKey = creds.APIKey
	cfg.BinanceConfig.SecretKey = creds.SecretKey

	stateManager := state.NewManager(cfg.StateConfig, bus, zlog)
	if mirror := state.NewMirror(cfg.RedisConfig, zlog); mirror != nil {
		stateManager.SetMirror(mirror)
		defer mirror.Close()
	}
	stateManager.Load()
	stateManager.StartAutoSave(ctx)

	// Crash safety net: persist state before dying on a panic
	defer func() {
		if r := recover(); r != nil {
			appLogger.Error("panic, saving state before exit", "panic", fmt.Sprintf("%v", r))
			stateManager.EmergencySave()
			panic(r)
		}
	}()

	registry := resilience.NewBreakerRegistry(resilience.BreakerConfig{
		FailureThreshold: cfg.CircuitBreakerConfig.FailureThreshold,
		RecoveryTimeout:  cfg.CircuitBreakerConfig.RecoveryDuration(),
		SuccessThreshold: cfg.CircuitBreakerConfig.SuccessThreshold,
	}, zlog)
	registry.OnTransition(func(key string, from, to resilience.BreakerState) {
		bus.PublishBreakerUpdate(key, string(from), string(to))
		alerts.BreakerTripped(key, string(from), string(to))
	})
	retryExecutor := resilience.NewExecutor(registry, retryPolicies(cfg.RetryConfig), zlog)

	gate := risk.NewGate(risk.RiskLimits{
		MaxPositionSize: cfg.RiskConfig.MaxPositionSize,
		MaxDailyTrades:  cfg.RiskConfig.MaxDailyTrades,
		MaxDailyLoss:    cfg.RiskConfig.MaxDailyLoss,
		MaxDrawdown:     cfg.RiskConfig.MaxDrawdown,
		MinConfidence:   cfg.RiskConfig.MinConfidence,
		MaxVolatility:   cfg.RiskConfig.MaxVolatility,
		MinVolumeRatio:  cfg.RiskConfig.MinVolumeRatio,
		MaxCorrelation:  cfg.RiskConfig.MaxCorrelation,
	}, bus, appLogger)

	// Market data: simulated in mock mode, REST klines + websocket
	// ticker stream otherwise
	var source market.Source
	var stream *market.Stream
	if cfg.BinanceConfig.MockMode {
		appLogger.Warn("mock mode enabled, using simulated market data")
		source = market.NewMockSource()
	} else {
		cache := market.NewPriceCache()
		source = market.NewClient(cfg.BinanceConfig, cache, zlog)
		stream = market.NewStream(cfg.BinanceConfig.WSBaseURL, cfg.TradingConfig.Symbols,
			cache, stateManager.SetWebsocketStatus, zlog)
		stream.Start()
		defer stream.Stop()
	}

	// Optional trade journal; the bot runs without it
	var db *database.DB
	var journal *database.Journal
	if cfg.DatabaseConfig.Enabled {
		db, err = database.NewDB(cfg.DatabaseConfig, zlog)
		if err != nil {
			appLogger.Warn("trade journal unavailable", "error", err)
		} else {
			defer db.Close()
			if err := db.RunMigrations(ctx); err != nil {
				appLogger.Warn("journal migrations failed", "error", err)
			} else {
				journal = database.NewJournal(db)
			}
		}
	}

	tradingBot := bot.New(bot.Deps{
		Config:   cfg,
		Market:   source,
		Gate:     gate,
		State:    stateManager,
		Retry:    retryExecutor,
		Executor: bot.NewPaperExecutor(zlog),
		Alerts:   alerts,
		Events:   bus,
		Journal:  journal,
		DB:       db,
		Logger:   zlog,
	})
	if err := tradingBot.Start(); err != nil {
		appLogger.Fatal("failed to start bot", "error", err)
	}

	var server *api.Server
	if cfg.ServerConfig.Enabled {
		server = api.NewServer(cfg.ServerConfig, tradingBot, stateManager,
			gate, retryExecutor, alerts, promMetrics, zlog)
		server.Start()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	appLogger.Info("shutdown signal received", "signal", sig.String())

	tradingBot.Stop(fmt.Sprintf("signal %s", sig))
	if server != nil {
		if err := server.Shutdown(); err != nil {
			appLogger.Error("api shutdown error", "error", err)
		}
	}
	cancel()
	appLogger.Info("shutdown complete")
}

// retryPolicies applies configured per-category overrides on top of the
// built-in budgets. SYSTEM and CONFIG are not overridable.
func retryPolicies(cfg config.RetryConfig) map[resilience.Category]resilience.RetryPolicy {
	policies := resilience.DefaultRetryPolicies()
	apply := func(category resilience.Category, override config.RetryPolicyConfig) {
		if override.MaxRetries <= 0 && override.BaseDelay <= 0 {
			return
		}
		policy := policies[category]
		if override.MaxRetries > 0 {
			policy.MaxRetries = override.MaxRetries
		}
		if override.BaseDelay > 0 {
			policy.BaseDelay = time.Duration(override.BaseDelay * float64(time.Second))
		}
		policies[category] = policy
	}
	apply(resilience.CategoryNetwork, cfg.Network)
	apply(resilience.CategoryAPI, cfg.API)
	apply(resilience.CategoryData, cfg.Data)
	apply(resilience.CategoryTrading, cfg.Trading)
	return policies
}
