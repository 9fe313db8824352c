// Package main provides the m365proxy CLI entry point.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/m365proxy/m365proxy/internal/config"
	"github.com/m365proxy/m365proxy/internal/convstore"
	"github.com/m365proxy/m365proxy/internal/graph"
	"github.com/m365proxy/m365proxy/internal/logger"
	"github.com/m365proxy/m365proxy/internal/orchestrator"
	"github.com/m365proxy/m365proxy/internal/responsestore"
	"github.com/m365proxy/m365proxy/internal/substrate"
	"github.com/m365proxy/m365proxy/internal/tokenprovider"
	"github.com/spf13/cobra"
)

var listenOverride string

func main() {
	rootCmd := &cobra.Command{
		Use:   "m365proxy",
		Short: "OpenAI-compatible proxy in front of M365 Copilot",
	}
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	cmd.Flags().StringVar(&listenOverride, "listen", "", "Override M365PROXY_LISTEN_URL")
	return cmd
}

func runServe() error {
	cfg := config.Load()
	if listenOverride != "" {
		cfg.ListenURL = listenOverride
	}

	log := logger.FromConfig(cfg.LogLevel)

	convs := convstore.New()
	responses := responsestore.New(0)
	defer responses.Close()

	graphClient := graph.New(cfg.Graph, log)
	substrateClient := substrate.New(cfg.Substrate, log)

	var acquirer tokenprovider.TokenAcquirer
	if cfg.TokenAcquireCommand != "" {
		acquirer = &tokenprovider.CommandAcquirer{Command: cfg.TokenAcquireCommand, Path: cfg.TokenFilePath}
	}
	tokens := tokenprovider.New(cfg.TokenFilePath, cfg.IgnoreIncomingAuthorizationHeader, acquirer)

	orch := orchestrator.New(cfg, log, tokens, convs, responses, graphClient, substrateClient)

	mux := http.NewServeMux()
	orch.RegisterRoutes(mux)

	log.Info().Str("listen", cfg.ListenURL).Str("transport", cfg.Transport).Msg("starting m365proxy")
	return http.ListenAndServe(cfg.ListenURL, orch.LoggingMiddleware(mux))
}
