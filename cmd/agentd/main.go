package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/agentmesh/agentmesh-go/pkg/config"
	"github.com/agentmesh/agentmesh-go/pkg/httpapi"
	"github.com/agentmesh/agentmesh-go/pkg/node"
)

const shutdownGrace = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		envFile    string
	)
	cmd := &cobra.Command{
		Use:           "agentd",
		Short:         "Run one mesh agent node",
		Long:          "agentd runs a single mesh agent: the peer transport listener, the skill dispatcher, payment channel engines and the HTTP control surface.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath, envFile)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file overlaid on the environment")
	cmd.Flags().StringVar(&envFile, "env-file", "", "dotenv file loaded before reading the environment")
	return cmd
}

func run(ctx context.Context, configPath, envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else {
		// Best effort: a .env next to the binary is a convenience, not a requirement.
		_ = godotenv.Load()
	}

	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if configPath != "" {
		if err := cfg.LoadFile(configPath); err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := buildLogger(cfg.Debug)
	if err != nil {
		return err
	}
	defer logger.Sync()
	undo := zap.ReplaceGlobals(logger)
	defer undo()

	n, err := node.New(cfg, node.Options{})
	if err != nil {
		return err
	}
	if err := n.Start(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, cfg.Timeouts.Dial)
	configureChains(startCtx, n, cfg)
	cancel()

	api := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: httpapi.New(n).Handler(),
	}
	apiErr := make(chan error, 1)
	go func() {
		if err := api.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			apiErr <- err
		}
	}()

	zap.L().Info("agent is up",
		zap.String("agentId", cfg.AgentID),
		zap.String("address", cfg.Address),
		zap.Int("httpPort", cfg.HTTPPort),
		zap.Int("btpPort", cfg.BTPPort))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		zap.L().Info("shutting down", zap.String("signal", s.String()))
	case err := <-apiErr:
		zap.L().Error("control surface failed", zap.Error(err))
		stop(n, api)
		return err
	case <-ctx.Done():
	}
	return stop(n, api)
}

// configureChains dials the settlement substrates named in the config.
// A chain that cannot be reached at boot is logged and left for the
// configure endpoints; the node runs without it.
func configureChains(ctx context.Context, n *node.Node, cfg *config.Config) {
	if cfg.EVM.RPCAddr != "" && cfg.EVM.TokenNetwork != "" {
		if err := n.ConfigureEVM(ctx, cfg.EVM); err != nil {
			zap.L().Warn("settlement chain unavailable", zap.String("rpc", cfg.EVM.RPCAddr), zap.Error(err))
		}
	}
	if cfg.XRP.Enabled {
		if err := n.ConfigureXRP(ctx, cfg.XRP); err != nil {
			zap.L().Warn("ledger unavailable", zap.String("wss", cfg.XRP.WSSURL), zap.Error(err))
		}
	}
}

func stop(n *node.Node, api *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	apiErr := api.Shutdown(ctx)
	nodeErr := n.Stop(ctx)
	if apiErr != nil {
		return apiErr
	}
	return nodeErr
}

func buildLogger(debug bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	if debug {
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return zc.Build()
}
