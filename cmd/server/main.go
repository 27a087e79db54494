package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/branchdesk/branchdesk/internal/api"
	"github.com/branchdesk/branchdesk/internal/app"
	"github.com/branchdesk/branchdesk/internal/app/maintenance"
	"github.com/branchdesk/branchdesk/internal/audit"
	iauth "github.com/branchdesk/branchdesk/internal/auth"
	"github.com/branchdesk/branchdesk/internal/database"
	"github.com/branchdesk/branchdesk/internal/notify"
	"github.com/branchdesk/branchdesk/internal/services"
	"github.com/branchdesk/branchdesk/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("branchdesk-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	if err := ensureSecretsPresent(cfg); err != nil {
		return err
	}

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db, log)

	if cfg.Auth.Bootstrap.Password != "" {
		if err := database.EnsureRootUser(db, cfg.Auth.Bootstrap.Username, cfg.Auth.Bootstrap.Password); err != nil {
			return fmt.Errorf("ensure root user: %w", err)
		}
	}

	auditSvc, err := audit.NewService(db)
	if err != nil {
		return fmt.Errorf("initialise audit service: %w", err)
	}

	sessionSvc, err := iauth.NewSessionService(db, iauth.SessionConfig{
		TTL:         cfg.Auth.Session.TTL,
		TokenLength: cfg.Auth.Session.TokenLength,
	})
	if err != nil {
		return fmt.Errorf("initialise session service: %w", err)
	}

	linkSvc, err := iauth.NewLinkTokenService(iauth.LinkTokenConfig{
		Secret: cfg.Auth.Confirmation.Secret,
		Issuer: cfg.Auth.Confirmation.Issuer,
		TTL:    cfg.Auth.Confirmation.TTL,
	})
	if err != nil {
		return fmt.Errorf("initialise link token service: %w", err)
	}

	var notifier notify.Notifier
	if cfg.Telegram.Enabled {
		notifier, err = notify.NewTelegram(notify.TelegramSettings{
			Enabled:    true,
			BotToken:   cfg.Telegram.BotToken,
			APIBaseURL: cfg.Telegram.APIBaseURL,
			Timeout:    cfg.Telegram.Timeout,
		})
		if err != nil {
			return fmt.Errorf("initialise telegram notifier: %w", err)
		}
		log.Info("telegram notifier enabled")
	}

	loginSvc, err := iauth.NewLoginService(db, sessionSvc, linkSvc, notifier, auditSvc, iauth.LoginConfig{
		MaxAttempts:    cfg.Auth.Login.MaxAttempts,
		ConfirmBaseURL: cfg.Auth.Confirmation.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("initialise login service: %w", err)
	}

	refresher, err := iauth.NewRefresher(db)
	if err != nil {
		return fmt.Errorf("initialise session refresher: %w", err)
	}

	userSvc, err := services.NewUserService(db, sessionSvc, refresher, auditSvc)
	if err != nil {
		return fmt.Errorf("initialise user service: %w", err)
	}

	roleSvc, err := services.NewRoleService(db, refresher, auditSvc)
	if err != nil {
		return fmt.Errorf("initialise role service: %w", err)
	}

	locationSvc, err := services.NewLocationService(db, refresher)
	if err != nil {
		return fmt.Errorf("initialise location service: %w", err)
	}

	if cfg.Maintenance.Enabled {
		cleaner := maintenance.NewCleaner(db, sessionSvc, auditSvc,
			maintenance.WithAuditRetentionDays(cfg.Maintenance.AuditRetentionDays),
			maintenance.WithSessionSchedule(cfg.Maintenance.Schedule),
			maintenance.WithChallengeSchedule(cfg.Maintenance.Schedule),
		)
		if err := cleaner.Start(); err != nil {
			return fmt.Errorf("start maintenance jobs: %w", err)
		}
		defer func() {
			stopCtx := cleaner.Stop()
			if err := cleaner.RunOnce(stopCtx); err != nil {
				log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
			}
		}()
	}

	router, err := api.NewRouter(api.Dependencies{
		DB:        db,
		Login:     loginSvc,
		Sessions:  sessionSvc,
		Users:     userSvc,
		Roles:     roleSvc,
		Locations: locationSvc,
		Audit:     auditSvc,
	})
	if err != nil {
		return fmt.Errorf("build api router: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func ensureSecretsPresent(cfg *app.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Auth.Confirmation.Secret = strings.TrimSpace(cfg.Auth.Confirmation.Secret)
	if cfg.Auth.Confirmation.Secret == "" {
		return errors.New("auth.confirmation.secret must be configured")
	}

	if cfg.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.BotToken) == "" {
		return errors.New("telegram.bot_token must be configured when telegram is enabled")
	}

	return nil
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = cfg.Database.Postgres.Password
	case "mysql", "mariadb":
		dbCfg.Driver = "mysql"
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = cfg.Database.MySQL.Password
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("access underlying database handle", zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn("close database", zap.Error(err))
	}
}
