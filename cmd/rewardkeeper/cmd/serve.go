package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/solatis/rewardkeeper/internal/core/api"
	"github.com/solatis/rewardkeeper/internal/core/auth"
	"github.com/solatis/rewardkeeper/internal/core/config"
	"github.com/solatis/rewardkeeper/internal/core/server"
	"github.com/solatis/rewardkeeper/internal/rules"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version is the release version reported at startup.
const Version = "0.1.0"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start gRPC reward service",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "0.0.0.0", "gRPC server host")
	serveCmd.Flags().Int("port", 50061, "gRPC server port")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	database, store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	secrets, err := config.HMACSecrets()
	if err != nil {
		return fmt.Errorf("failed to load HMAC secrets: %w", err)
	}
	if len(secrets) == 0 {
		return fmt.Errorf("no HMAC secrets configured (set RK_HMAC_SECRET environment variable)")
	}

	authenticator := auth.NewAuthenticator(secrets, store.Queries(), log)

	service, err := api.NewRewardService(store, rules.NewEngine(log), log)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	grpcServer, err := server.NewGRPCServer(cfg, service, authenticator, log)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	log.Info("starting rewardkeeper",
		zap.String("version", Version),
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.Int("secrets", len(secrets)))

	errChan := make(chan error, 1)
	go func() {
		errChan <- grpcServer.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		log.Info("shutting down", zap.String("signal", sig.String()))
		return grpcServer.Shutdown(ctx)
	}
}
