package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var enqueueTitle string

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <file|url>",
	Short: "Add a video to the conversion queue",
	Long: `Add a video from a local file or an http(s) link.

Local files are copied into the media root. Links are downloaded by the
download queue before conversion. The title defaults to the file name
without its extension and must be unique.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		return withApp(ctx, func(a *app) error {
			v, err := a.videos.Enqueue(ctx, enqueueTitle, args[0])
			if err != nil {
				return fmt.Errorf("enqueueing %s: %w", args[0], err)
			}
			source := v.FilePath()
			if source == "" {
				source = v.Link()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", v.ID, v.Title, source)
			return nil
		})
	},
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueTitle, "title", "", "title of the video (default: file name)")
	rootCmd.AddCommand(enqueueCmd)
}
