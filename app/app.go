package app

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"os/signal"
	"secure-ledger/audit"
	"secure-ledger/common"
	"secure-ledger/config"
	"secure-ledger/db"
	"secure-ledger/handler"
	"secure-ledger/logger"
	"secure-ledger/repository"
	"secure-ledger/router"
	"secure-ledger/service"
	"secure-ledger/vault"
	"syscall"

	"github.com/spf13/afero"
)

// ticketKeyPurpose separates the approval ticket key from the field key.
const ticketKeyPurpose = "secure-ledger approval tickets"

// Run executes the command line and returns the process exit code.
func Run() int {
	logger.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := router.NewRouter(Boot).ExecuteContext(ctx); err != nil {
		logger.Log.WithError(err).Error("Command failed")
		return 1
	}
	return 0
}

// Boot loads configuration and wires every layer for one console session.
func Boot(ctx context.Context, configPath string) (*handler.ConsoleHandler, func(), error) {
	if err := config.LoadConfig(configPath); err != nil {
		return nil, nil, err
	}
	cfg := config.AppConfig
	logger.Configure(cfg.Log.Level, cfg.Log.Format)
	logger.Log.Info("Configuration loaded successfully")

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*handler.ConsoleHandler, func(), error) {
		cleanup()
		return nil, nil, err
	}

	database, err := db.Connect()
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func() { _ = database.Close() })
	if err := db.Migrate(database, cfg.Database.Driver); err != nil {
		return fail(err)
	}

	fs := afero.NewOsFs()
	protector, err := vault.NewPlatformProtector(cfg.Vault.Entropy)
	if err != nil {
		return fail(common.NewKeyUnavailableError("platform protection unavailable", err))
	}
	masterKey, err := vault.NewKeyVault(fs, cfg.Vault.KeyFile, protector).LoadOrCreateMasterKey()
	if err != nil {
		return fail(err)
	}
	cipher, err := vault.NewFieldCipher(masterKey, vault.Mode(cfg.Vault.CipherMode))
	if err != nil {
		return fail(common.NewKeyUnavailableError("field cipher unavailable", err))
	}
	ticketKey, err := vault.DeriveKey(masterKey, ticketKeyPurpose)
	if err != nil {
		return fail(err)
	}

	sink, closeSink, err := openSink(ctx, fs, database)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, closeSink)
	trail := audit.NewTrail(sink, audit.Policy{
		MaterialityThreshold: cfg.Audit.MaterialityThreshold,
		FailClosed:           cfg.Audit.FailClosed,
	})

	// Layers for identity
	userRepo := repository.NewUserRepository(database)
	directory := service.NewDirectoryProvider(userRepo)
	gate := service.NewAuthService(directory, trail, service.AuthConfig{
		OperatorGroup: cfg.Auth.OperatorGroup,
		AdminGroup:    cfg.Auth.AdminGroup,
		ApprovalTTL:   cfg.Auth.ApprovalTTL,
		TicketKey:     ticketKey,
	})

	users := service.NewUserService(directory, trail, gate)

	// Layers for accounts
	accountRepo := repository.NewAccountRepository(database)
	store := service.NewAccountService(accountRepo, cipher, trail, gate)
	if err := store.Load(ctx); err != nil {
		if errors.Is(err, common.ErrPersistence) {
			return fail(err)
		}
		logger.Log.WithError(err).Warn("Some accounts could not be loaded")
	}

	h := handler.NewConsoleHandler(gate, store, users, trail,
		handler.NewConsolePrompter(os.Stdin, os.Stdout), os.Stdout, cfg.Auth.MaxAttempts)
	return h, cleanup, nil
}

// openSink returns the configured audit sink and a function that closes it.
func openSink(ctx context.Context, fs afero.Fs, database *sql.DB) (audit.Sink, func(), error) {
	cfg := config.AppConfig
	switch cfg.Audit.Sink {
	case "redis":
		client, err := db.ConnectRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return audit.NewRedisSink(client, cfg.Redis.Stream), func() { _ = client.Close() }, nil
	case "database":
		return repository.NewAuditRepository(database), func() {}, nil
	default:
		sink, err := audit.NewFileSink(fs, cfg.Audit.FilePath)
		if err != nil {
			return nil, nil, err
		}
		return sink, func() { _ = sink.Close() }, nil
	}
}
