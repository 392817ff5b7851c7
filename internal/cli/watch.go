package cli

import (
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ragapi/internal/watcher"
)

var watchScan bool

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Ingest files written to a directory",
	Long: `Watch a directory and index every file created or modified in it.

Each file's source ID is derived from its name, so saving a file again
overwrites its earlier units. If the file got shorter, units past its new
end stay in the index until the next reset.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchScan, "scan", true, "ingest files already present before watching")
	addServerFlag(watchCmd)
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dir := cfg.Watch.Dir
	if len(args) == 1 {
		dir = args[0]
	}
	if dir == "" {
		return errors.New("a directory argument or watch.dir is required")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline, _, closeFn, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	w := watcher.New(dir, time.Duration(cfg.Watch.DebounceMs)*time.Millisecond, pipeline)
	if watchScan {
		if err := w.Scan(ctx); err != nil {
			return err
		}
	}
	cmd.Printf("Watching %s (Ctrl+C to stop)\n", dir)
	return w.Run(ctx)
}
