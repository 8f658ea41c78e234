package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sage-x-project/kds/api"
	"github.com/sage-x-project/kds/config"
	kdscrypto "github.com/sage-x-project/kds/crypto"
	"github.com/sage-x-project/kds/groupkey"
	"github.com/sage-x-project/kds/internal/kdserrors"
	"github.com/sage-x-project/kds/internal/logger"
	"github.com/sage-x-project/kds/internal/metrics"
	"github.com/sage-x-project/kds/keystore"
	"github.com/sage-x-project/kds/keystore/memory"
	"github.com/sage-x-project/kds/keystore/postgres"
	"github.com/sage-x-project/kds/replay"
	"github.com/sage-x-project/kds/storage"
	"github.com/sage-x-project/kds/ticket"
	"github.com/sage-x-project/kds/validator"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log := logger.NewDefaultLogger()
	log.SetLevel(logger.ParseLevel(cfg.Logging.Level))

	engine, err := kdscrypto.LoadOrCreate(cfg.Crypto.MasterKeyFile, cfg.Crypto.EncType, cfg.Crypto.HashType, log)
	if err != nil {
		return fmt.Errorf("bootstrapping crypto engine: %w", err)
	}

	store, err := newKeyStore(cmd.Context(), cfg.KeyStore)
	if err != nil {
		return fmt.Errorf("opening keystore: %w", err)
	}
	defer store.Close()

	mgr := storage.New(store, engine, storage.Config{
		StaleWindow: cfg.Policy.StaleWindow,
		GraceWindow: cfg.Policy.GraceWindow,
		GroupKeyTTL: cfg.Policy.GroupKeyTTL,
	}, log)

	nonceCache := replay.New(cfg.Policy.NonceCacheTTL)
	defer nonceCache.Close()

	v := validator.New(mgr, engine, nonceCache, cfg.Policy.TicketLifetime, log)
	tickets := ticket.New(mgr, engine, cfg.Policy.TicketLifetime, log)
	groups := groupkey.New(engine, cfg.Policy.TicketLifetime, log)

	srv := api.New(mgr, v, tickets, groups, log)

	addr := net.JoinHostPort(cfg.Server.BindAddress, fmt.Sprintf("%d", cfg.Server.Port))
	httpServer := &http.Server{Addr: addr, Handler: srv.Handler()}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, metrics.Handler())
		metricsServer = &http.Server{Addr: fmt.Sprintf(":%d", cfg.Metrics.Port), Handler: metricsMux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", logger.Error(err))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("kdsd listening", logger.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", logger.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	return nil
}

// loadConfig builds the Config the teacher's way: the --config flag
// path, if given, is loaded as the base; otherwise config.Load's
// environment-detection convention (config/<env>.yaml,
// config/default.yaml, config/config.yaml, or built-in defaults)
// supplies it. Finally the viper-bound flags/KDS_* environment
// variables registered in init() override individual fields. This
// mirrors kgiusti-go-fdo-server's cmd/root.go: bind flags into viper,
// let viper.GetString report what the operator actually passed, and
// only override a field when the operator set something.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error

	if path := viper.GetString("config"); path != "" {
		cfg, err = config.LoadFromFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	config.SubstituteEnvVarsInConfig(cfg)

	if v := viper.GetString("master-key-file"); v != "" {
		cfg.Crypto.MasterKeyFile = v
	}
	if v := viper.GetString("bind-address"); v != "" {
		cfg.Server.BindAddress = v
	}
	if v := viper.GetInt("port"); v != 0 {
		cfg.Server.Port = v
	}
	if v := viper.GetString("keystore-backend"); v != "" {
		cfg.KeyStore.Backend = v
	}

	return cfg, nil
}

func newKeyStore(ctx context.Context, cfg *config.KeyStoreConfig) (keystore.Store, error) {
	switch cfg.Backend {
	case "", "kv":
		return memory.New(), nil
	case "sql":
		if cfg.Postgres == nil {
			return nil, kdserrors.NewBadRequestError("keystore.postgres", fmt.Errorf("sql backend requires postgres config"))
		}
		store, err := postgres.New(ctx, &postgres.Config{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			Database: cfg.Postgres.Database,
			SSLMode:  cfg.Postgres.SSLMode,
		})
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, kdserrors.NewBadRequestError("keystore.backend", fmt.Errorf("unknown backend %q", cfg.Backend))
	}
}
