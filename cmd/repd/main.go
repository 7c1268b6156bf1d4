package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"repcollateral/cmd/internal/passphrase"
	"repcollateral/config"
	"repcollateral/core"
	"repcollateral/crypto"
	"repcollateral/observability/logging"
	"repcollateral/observability/metrics"
	telemetry "repcollateral/observability/otel"
	"repcollateral/rpc"
	"repcollateral/storage"
)

const defaultPassphraseEnv = "REP_OPERATOR_PASSPHRASE"

func main() {
	var cfgPath string
	var passEnv string
	flag.StringVar(&cfgPath, "config", "repd.toml", "path to repd config (TOML or YAML)")
	flag.StringVar(&passEnv, "passphrase-env", defaultPassphraseEnv, "environment variable holding the operator keystore passphrase")
	flag.Parse()

	source := passphrase.NewSource(passEnv, "operator keystore")
	pass, err := source.Get()
	if err != nil {
		log.Fatalf("operator passphrase: %v", err)
	}

	cfg, err := config.Load(cfgPath, config.WithKeystorePassphrase(pass))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	env := strings.TrimSpace(cfg.Telemetry.Environment)
	if env == "" {
		env = strings.TrimSpace(os.Getenv("REP_ENV"))
	}
	logger := logging.Setup(cfg.Telemetry.ServiceName, env, logging.Options{
		Level: cfg.Telemetry.LogLevel,
		File:  cfg.Telemetry.LogFile,
	})

	if err := run(cfg, env, pass, logger); err != nil {
		logger.Error("repd exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, env, pass string, logger *slog.Logger) error {
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Environment: env,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.OTLPHeaders),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	operator, err := crypto.LoadFromKeystore(cfg.OperatorKeystorePath, pass)
	if err != nil {
		return fmt.Errorf("unlock operator keystore: %w", err)
	}
	operatorAddr := operator.PubKey().Address()
	logger.Info("operator keystore unlocked", slog.String("operator", operatorAddr.String()))

	opts, err := nodeOptions(cfg, operatorAddr.Raw(), logger)
	if err != nil {
		return err
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return err
	}
	node, err := core.NewNode(db, opts)
	if err != nil {
		db.Close()
		return err
	}
	defer node.Close()

	server := rpc.NewServer(node, rpc.ServerConfig{
		AuthToken:       cfg.RPCAuthToken(),
		RateLimitPerMin: cfg.RPCRateLimitPerMin,
		ServiceName:     cfg.Telemetry.ServiceName,
		LogRequests:     strings.EqualFold(cfg.Telemetry.LogLevel, "debug"),
		Logger:          logger,
		Metrics:         opts.Metrics,
	})
	if cfg.RPCAuthToken() == "" {
		logger.Warn("RPC auth token not set; mutating methods are disabled", slog.String("env", cfg.RPCAuthTokenEnv))
	} else {
		logger.Info("RPC auth configured", logging.MaskField("token", cfg.RPCAuthToken()))
	}

	listener, err := net.Listen("tcp", cfg.RPCAddress)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", slog.Any("error", err))
		}
		return nil
	case err := <-serverErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func nodeOptions(cfg *config.Config, operator [20]byte, logger *slog.Logger) (core.Options, error) {
	owner, err := cfg.OwnerAddress(operator)
	if err != nil {
		return core.Options{}, err
	}
	scorers, err := cfg.ScorerAddresses()
	if err != nil {
		return core.Options{}, err
	}
	coordinator, err := cfg.CoordinatorAddress()
	if err != nil {
		return core.Options{}, err
	}
	keeper, err := cfg.KeeperAddress()
	if err != nil {
		return core.Options{}, err
	}
	lendingCfg, err := cfg.LendingParams()
	if err != nil {
		return core.Options{}, err
	}
	return core.Options{
		Owner:       owner,
		Scorers:     scorers,
		Coordinator: coordinator,
		Keeper:      keeper,
		BaseRateBps: cfg.Access.BaseRateBps,
		Lending:     lendingCfg,
		ScorerQuota: cfg.ScorerQuota(),
		Paused:      cfg.Paused,
		Logger:      logger,
		Metrics:     metrics.Reputation(),
	}, nil
}
