package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ragapi/internal/domain"
)

var (
	queryTopK int
	queryJSON bool
)

type sourceJSON struct {
	Text     string  `json:"text"`
	Score    float64 `json:"score"`
	SourceID string  `json:"source_id"`
	Index    int     `json:"index"`
}

type answerJSON struct {
	Response string       `json:"response"`
	Sources  []sourceJSON `json:"sources"`
}

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Ask a question about the indexed documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of source passages (0 = configured default)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output the answer as JSON")
	addServerFlag(queryCmd)
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	pipeline, _, closeFn, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	ans, err := pipeline.Query(ctx, domain.Query{Text: strings.Join(args, " ")}, queryTopK)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	if queryJSON {
		out := answerJSON{Response: ans.Response, Sources: make([]sourceJSON, len(ans.Matches))}
		for i, m := range ans.Matches {
			out.Sources[i] = sourceJSON{Text: m.Text, Score: m.Score, SourceID: m.SourceID, Index: m.Index}
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal answer: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Println(ans.Response)
	cmd.Println()
	cmd.Println("Sources:")
	for i, m := range ans.Matches {
		cmd.Printf("[%d] %s#%d (%.3f) %s\n", i+1, m.SourceID, m.Index, m.Score, snippet(m.Text, 120))
	}
	return nil
}

func snippet(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}
