package cli

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ragapi/internal/app"
	"ragapi/internal/httpapi"
	"ragapi/internal/logger"
	"ragapi/internal/watcher"
)

var (
	serveAddr     string
	serveWatchDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API with the upload, query and index endpoints.

With --watch (or watch.dir in the config) files written to the directory
are ingested as well.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().StringVar(&serveWatchDir, "watch", "", "directory to watch for new documents")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if serveWatchDir != "" {
		cfg.Watch.Dir = serveWatchDir
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpapi.New(a.Service, cfg.Server).Run(gctx)
	})
	if cfg.Watch.Dir != "" {
		w := watcher.New(cfg.Watch.Dir, time.Duration(cfg.Watch.DebounceMs)*time.Millisecond, a.Service)
		g.Go(func() error {
			if err := w.Scan(gctx); err != nil {
				logger.Warn("Initial scan failed: %v", err)
			}
			return w.Run(gctx)
		})
	}
	return g.Wait()
}
