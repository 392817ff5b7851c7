package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"ragapi/internal/domain"
)

var ingestSourceID string

var ingestCmd = &cobra.Command{
	Use:   "ingest [files...]",
	Short: "Index one or more documents",
	Long: `Extract, chunk, embed and store the given files.

Supported formats are plain text, Markdown, HTML and DOCX. Without --server
the files are written to the configured vector store directly.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestSourceID, "source-id", "", "source ID for the document (single file only)")
	addServerFlag(ingestCmd)
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if ingestSourceID != "" && len(args) > 1 {
		return errors.New("--source-id requires exactly one file")
	}
	ctx := cmd.Context()
	pipeline, _, closeFn, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	var failed int
	for _, path := range args {
		res, err := ingestPath(ctx, pipeline, path)
		if err != nil {
			cmd.PrintErrf("%s: %v\n", path, err)
			failed++
			continue
		}
		cmd.Printf("Indexed %s as %s (%d units, %d new)\n", path, res.SourceID, res.UnitsWritten, res.UnitsCreated)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(args))
	}
	return nil
}

func ingestPath(ctx context.Context, pipeline domain.Pipeline, path string) (domain.IngestResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.IngestResult{}, err
	}
	defer f.Close()
	return pipeline.IngestFile(ctx, domain.FileInput{
		Filename: filepath.Base(path),
		SourceID: ingestSourceID,
		Body:     f,
	})
}
