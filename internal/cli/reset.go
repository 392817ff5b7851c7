package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove every indexed document",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !resetYes {
			return errors.New("refusing to clear the index without --yes")
		}
		ctx := cmd.Context()
		pipeline, _, closeFn, err := openPipeline(ctx)
		if err != nil {
			return err
		}
		defer closeFn()
		if err := pipeline.Reset(ctx); err != nil {
			return err
		}
		cmd.Println("Index cleared")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "confirm clearing the index")
	addServerFlag(resetCmd)
	rootCmd.AddCommand(resetCmd)
}
