// Package cli implements the ragapi command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"ragapi/internal/app"
	"ragapi/internal/client"
	"ragapi/internal/config"
	"ragapi/internal/domain"
	"ragapi/internal/logger"
)

var version = "dev"

var (
	configPath string
	envFile    string
	logLevel   string
	serverURL  string
)

var rootCmd = &cobra.Command{
	Use:   "ragapi",
	Short: "Document question answering over a vector index",
	Long: `ragapi indexes documents into a vector store and answers questions
about them.

Run "ragapi serve" to start the HTTP API, or use ingest and query directly
against the configured store. Commands that accept --server talk to a
running API instead.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		if envFile != "" {
			config.LoadDotEnv(envFile)
		} else {
			config.LoadDotEnv()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (YAML or TOML; defaults to ./config.yaml or ~/.config/ragapi/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default .env)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.AppConfig, error) {
	var (
		cfg *config.AppConfig
		err error
	)
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		var path string
		cfg, path, err = config.LoadDefault()
		if err == nil {
			logger.Debug("Using config %s", path)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	lvl, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(lvl)
	return cfg, nil
}

// openPipeline returns a remote client when --server is set and a locally
// built pipeline otherwise. The returned func releases its resources.
func openPipeline(ctx context.Context) (domain.Pipeline, string, func(), error) {
	if serverURL != "" {
		return client.New(serverURL, 5*time.Minute), "server " + serverURL, func() {}, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", nil, err
	}
	a, err := app.Build(ctx, cfg)
	if err != nil {
		return nil, "", nil, err
	}
	closeFn := func() {
		if err := a.Close(); err != nil {
			logger.Warn("Closing store: %v", err)
		}
	}
	desc := fmt.Sprintf("%s store, %s embedder", cfg.VectorStore.Type, a.Embedder.Name())
	return a.Service, desc, closeFn, nil
}

func addServerFlag(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&serverURL, "server", "s", "", "address of a running ragapi server (e.g. localhost:8001)")
}
