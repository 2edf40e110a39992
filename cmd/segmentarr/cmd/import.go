package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Create videos from every source file in a directory",
	Long: `Create one video per file in dir with an accepted video extension.

Files whose title (the file name without extension) is already taken are
skipped, so the command can be re-run over the same directory.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		return withApp(ctx, func(a *app) error {
			result, err := a.videos.Import(ctx, args[0])
			if err != nil {
				return fmt.Errorf("importing %s: %w", args[0], err)
			}
			out := cmd.OutOrStdout()
			for _, name := range result.Created {
				fmt.Fprintf(out, "created\t%s\n", name)
			}
			for _, name := range result.Skipped {
				fmt.Fprintf(out, "skipped\t%s\n", name)
			}
			fmt.Fprintf(out, "%d created, %d skipped\n", len(result.Created), len(result.Skipped))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}
