// Command gateway runs the Portal-backed EVM JSON-RPC gateway (spec.md
// §6), and offers a capabilities subcommand that prints the configured
// chain table and gateway limits from the local configuration.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/rodaine/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sqd-community/portal-evm-gateway/internal/chainmap"
	"github.com/sqd-community/portal-evm-gateway/internal/config"
	"github.com/sqd-community/portal-evm-gateway/internal/env"
	"github.com/sqd-community/portal-evm-gateway/internal/ndjson"
	"github.com/sqd-community/portal-evm-gateway/internal/portal"
	"github.com/sqd-community/portal-evm-gateway/internal/rpcserver"
	"github.com/sqd-community/portal-evm-gateway/internal/upstream"
)

func main() {
	root := &cobra.Command{
		Use:   "gateway",
		Short: "Portal-backed EVM JSON-RPC gateway",
	}
	root.AddCommand(serveCmd(), capabilitiesCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func loadEverything() (*config.Config, *chainmap.Table, *portal.Client, *upstream.Client, *zap.Logger, error) {
	env.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("building logger: %w", err)
	}

	chains, err := chainmap.Load(chainmap.Options{
		Mode:               cfg.ServiceMode,
		PortalBaseURL:       cfg.PortalBaseURL,
		ChainID:             cfg.PortalChainID,
		Dataset:             cfg.PortalDataset,
		DatasetMapJSON:      cfg.PortalDatasetMap,
		DatasetMapFile:      cfg.PortalDatasetMapFile,
		UseDefaultDatasets:  cfg.UseDefaultDatasets,
	})
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("loading chain table: %w", err)
	}

	portalClient := portal.New(portal.Config{
		APIKey:       cfg.PortalAPIKey,
		APIKeyHeader: cfg.PortalAPIKeyHeader,
		HTTPTimeout:  cfg.HTTPTimeout,
		NDJSONLimits: ndjson.Limits{MaxLineBytes: cfg.MaxNDJSONLineBytes, MaxBytes: cfg.MaxNDJSONBytes},
		NegotiableFields: cfg.NegotiableFields,
		Logger:       logger,
	})

	var upstreamClient *upstream.Client
	if cfg.UpstreamMethodsEnabled {
		upstreamClient = upstream.New(upstream.Config{
			URLMap:      cfg.UpstreamRPCURLMap,
			DefaultURL:  cfg.UpstreamRPCURL,
			HTTPTimeout: cfg.HTTPTimeout,
		})
	}

	return cfg, chains, portalClient, upstreamClient, logger, nil
}

func runServe() error {
	cfg, chains, portalClient, upstreamClient, logger, err := loadEverything()
	if err != nil {
		return err
	}
	defer logger.Sync()

	gw := rpcserver.New(cfg, chains, portalClient, upstreamClient, logger)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      gw.Router(),
		ReadTimeout:  cfg.HTTPTimeout,
		WriteTimeout: cfg.HTTPTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", zap.String("addr", cfg.ListenAddr), zap.String("mode", cfg.ServiceMode))
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server exited", zap.Error(err))
			return err
		}
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("graceful shutdown failed", zap.Error(err))
			return err
		}
	}
	return nil
}

func capabilitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "capabilities",
		Short: "Print the configured chains and gateway limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, chains, _, _, _, err := loadEverything()
			if err != nil {
				return err
			}
			printCapabilities(cfg, chains)
			return nil
		},
	}
}

func printCapabilities(cfg *config.Config, chains *chainmap.Table) {
	headerFmt := color.New(color.FgGreen, color.Underline).SprintfFunc()
	columnFmt := color.New(color.FgYellow).SprintfFunc()

	fmt.Println(color.New(color.Bold).Sprint("Service"))
	tbl := table.New("Field", "Value")
	tbl.WithHeaderFormatter(headerFmt).WithFirstColumnFormatter(columnFmt)
	tbl.AddRow("mode", cfg.ServiceMode)
	tbl.AddRow("listenAddr", cfg.ListenAddr)
	tbl.AddRow("maxLogBlockRange", cfg.MaxLogBlockRange)
	tbl.AddRow("maxLogAddresses", cfg.MaxLogAddresses)
	tbl.AddRow("maxConcurrent", cfg.MaxConcurrent)
	tbl.AddRow("upstreamEnabled", cfg.UpstreamMethodsEnabled)
	tbl.Print()

	fmt.Println()
	fmt.Println(color.New(color.Bold).Sprint("Chains"))
	chainTbl := table.New("Chain ID", "Dataset", "Base URL")
	chainTbl.WithHeaderFormatter(headerFmt).WithFirstColumnFormatter(columnFmt)
	for _, c := range chains.All() {
		chainTbl.AddRow(c.ChainID, c.Dataset, c.BaseURL)
	}
	chainTbl.Print()
}
