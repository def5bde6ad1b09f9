package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"costcontrol/internal/app"
	"costcontrol/internal/domain/netstats"
	"costcontrol/internal/infra/config"
	idb "costcontrol/internal/infra/database"
	"costcontrol/internal/infra/httpapi"
	"costcontrol/internal/infra/logger"
	"costcontrol/internal/infra/scheduler"
	"costcontrol/internal/infra/telegram"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Could not load application configuration: %v", err)
	}

	logger.Init(cfg)
	mainLogger := logger.Component("main")
	mainLogger.WithFields(logrus.Fields{
		"environment": cfg.Environment,
		"timezone":    cfg.Location.String(),
		"http_addr":   cfg.HTTPAddr,
	}).Info("Cost control service starting...")

	version, err := idb.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not apply database migrations")
	}
	mainLogger.WithField("schema_version", version).Info("Database migrations applied.")

	db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not connect to database")
	}
	defer db.Close()
	mainLogger.Info("Database connection established successfully.")

	subscriberRepo := idb.NewPostgresSubscriberRepository(db)
	settingsRepo := idb.NewPostgresSettingsRepository(db)
	statsRepo := idb.NewPostgresNetstatsRepository(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := netstats.NewRegistry(statsRepo)
	if err := registry.Load(ctx); err != nil {
		// Data resets answer ErrNotLoaded until the refresh job succeeds.
		mainLogger.WithError(err).Warn("Initial network interface load failed")
	}

	resetScheduler := scheduler.NewResetScheduler(cfg.Location, scheduler.Specs{
		UsageCheck:       cfg.CronSpecUsageCheck,
		ResetSweep:       cfg.CronSpecResetSweep,
		InterfaceRefresh: cfg.CronSpecInterfaceRefresh,
	}, logger.Component("scheduler"))

	botLogger := logger.Component("telegram")
	bot, err := telebot.NewBot(telebot.Settings{
		Token:  cfg.TelegramToken,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) {
			logCtx := botLogger.WithError(err)
			if c != nil && c.Sender() != nil {
				logCtx = logCtx.WithField("sender_id", c.Sender().ID)
			}
			logCtx.Error("Telegram handler error")
		},
	})
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not create Telegram bot")
	}
	notifier := telegram.NewTelebotAdapter(bot)

	subscriberService := app.NewSubscriberService(subscriberRepo, settingsRepo, logger.Component("subscribers"))
	resetService := app.NewResetService(settingsRepo, subscriberRepo, statsRepo, registry, resetScheduler, logger.Component("resets"), cfg.Location)
	usageService := app.NewUsageService(settingsRepo, subscriberRepo, statsRepo, notifier, logger.Component("usage"))

	if err := resetScheduler.Start(scheduler.Jobs{
		Resets:     resetService,
		Usage:      usageService,
		Interfaces: registry,
	}); err != nil {
		mainLogger.WithError(err).Fatal("Could not start reset scheduler")
	}
	if _, err := resetService.RestoreAlarms(ctx); err != nil {
		mainLogger.WithError(err).Error("Could not restore reset alarms")
	}
	if done, err := resetService.SweepDueResets(ctx); err != nil {
		mainLogger.WithError(err).Error("Startup reset sweep failed")
	} else if done > 0 {
		mainLogger.WithField("resets", done).Info("Resets missed while stopped were handled")
	}

	handlers := telegram.NewHandlers(subscriberService, resetService, statsRepo, cfg, botLogger)
	handlers.Register(ctx, bot)
	go bot.Start()
	mainLogger.Info("Telegram bot started.")

	apiHandler := httpapi.NewHandler(resetService, usageService, statsRepo, cfg.Location, logger.Component("http"))
	server := httpapi.NewServer(cfg.HTTPAddr, httpapi.NewRouter(apiHandler, cfg.CORSAllowedOrigins))
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			mainLogger.WithError(err).Fatal("HTTP server failed")
		}
	}()
	mainLogger.WithField("addr", cfg.HTTPAddr).Info("HTTP API listening.")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	mainLogger.Info("Shutting down application...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		mainLogger.WithError(err).Warn("HTTP server shutdown incomplete")
	}
	bot.Stop()
	resetScheduler.Stop()
	cancel()
	mainLogger.Info("Application shut down gracefully.")
}
