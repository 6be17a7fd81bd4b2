package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/solatis/aem/internal/aem"
	"github.com/solatis/aem/internal/core/api"
	"github.com/solatis/aem/internal/core/auth"
	"github.com/solatis/aem/internal/core/config"
	"github.com/solatis/aem/internal/core/server"
	"github.com/solatis/aem/internal/kvstore"
	"github.com/solatis/aem/internal/reporter"
	"github.com/solatis/aem/internal/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reporter and its local HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "127.0.0.1", "HTTP API host")
	serveCmd.Flags().Int("port", 8080, "HTTP API port")
	serveCmd.Flags().String("app-id", "", "app id used for graph API calls")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		host, _ := cmd.Flags().GetString("host")
		cfg.API.Host = host
	}
	if cmd.Flags().Changed("port") {
		port, _ := cmd.Flags().GetInt("port")
		cfg.API.Port = port
	}
	if cmd.Flags().Changed("app-id") {
		appID, _ := cmd.Flags().GetString("app-id")
		cfg.App.ID = appID
	}
	if cfg.App.ID == "" {
		return fmt.Errorf("app id required (set app.id, AEM_APP_ID or --app-id)")
	}

	secrets, err := config.LoadSecrets()
	if err != nil {
		return fmt.Errorf("failed to load secrets: %w", err)
	}

	log := newLogger(cmd, cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := kvstore.Open(ctx, cfg.Storage.URL)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	graph := transport.New(transport.Config{
		GraphURL:    cfg.App.GraphURL,
		AppID:       cfg.App.ID,
		ClientToken: secrets.ClientToken,
		Timeout:     cfg.App.RequestTimeout,
	}, log)

	rep := reporter.New(log, reporter.Options{
		AggregationDelay:    cfg.Reporter.AggregationDelay,
		RefreshInterval:     cfg.Reporter.RefreshInterval,
		CacheClearInterval:  cfg.Reporter.CacheClearInterval,
		RequestTimeout:      cfg.App.RequestTimeout,
		ConversionFiltering: cfg.Reporter.ConversionFiltering,
		CatalogMatching:     cfg.Reporter.CatalogMatching,
		ServerRuleMatch:     cfg.Reporter.ServerRuleMatch,
		Tuning: aem.Tuning{
			PriorityBoost:  cfg.Reporter.PriorityBoost,
			CatalogModulus: cfg.Reporter.CatalogModulus,
		},
	}, graph, store)

	authenticator := auth.NewAuthenticator(secrets.APIToken)
	if !authenticator.Enabled() {
		log.Warn("API authentication disabled", slog.String("hint", "set "+config.EnvAPIToken))
	}

	httpServer, err := server.NewHTTPServer(cfg.API, api.NewAPI(log, rep, authenticator).Router, log)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	repCtx, cancelReporter := context.WithCancel(context.Background())
	repDone := make(chan error, 1)
	go func() { repDone <- rep.Run(repCtx) }()

	log.Info("starting aem reporter",
		slog.String("version", Version),
		slog.String("addr", cfg.API.Addr()),
		slog.String("app_id", cfg.App.ID),
	)
	errChan := make(chan error, 1)
	go func() {
		errChan <- httpServer.Start(ctx)
	}()

	var serveErr error
	select {
	case serveErr = <-errChan:
	case <-ctx.Done():
		log.Info("shutting down gracefully")
		serveErr = httpServer.Shutdown(context.Background())
	}

	// The API is closed before the reporter so no request is left waiting.
	cancelReporter()
	if err := <-repDone; err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}
