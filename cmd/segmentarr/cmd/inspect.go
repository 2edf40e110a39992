package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/segmentarr/internal/inspect"
	"github.com/jmylchreest/segmentarr/internal/models"
	"github.com/jmylchreest/segmentarr/pkg/format"
)

var inspectJSON bool

var inspectCmd = &cobra.Command{
	Use:   "inspect <id>",
	Short: "Check the HLS output of a video",
	Long: `Read back the HLS output of a video: the master playlist, every variant
playlist and the streams found in the first segment of each variant.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := models.ParseULID(args[0])
		if err != nil {
			return fmt.Errorf("invalid id %q: %w", args[0], err)
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		return withApp(ctx, func(a *app) error {
			video, err := a.videos.GetByID(ctx, id)
			if err != nil {
				return err
			}
			report, err := inspect.New().WithLogger(logger).Inspect(ctx, a.layout.MasterPath(video))
			if err != nil {
				return fmt.Errorf("inspecting %s: %w", video.Title, err)
			}
			if inspectJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			printReport(cmd.OutOrStdout(), video, report, a.layout.ManifestPath(video))
			return nil
		})
	},
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "output the report as JSON")
	rootCmd.AddCommand(inspectCmd)
}

func printReport(out io.Writer, v *models.VideoStream, r *inspect.Report, manifest string) {
	fmt.Fprintf(out, "%s (%s)\n", v.Title, v.ID)
	fmt.Fprintf(out, "master: %s (version %d)\n", r.MasterPath, r.Version)
	for _, variant := range r.Variants {
		fmt.Fprintf(out, "  %s  %s  %s/s\n", variant.URI, variant.Resolution, format.Bytes(int64(variant.Bandwidth/8)))
		if variant.Error != "" {
			fmt.Fprintf(out, "    error: %s\n", variant.Error)
			continue
		}
		state := "incomplete"
		if variant.Complete {
			state = "complete"
		}
		fmt.Fprintf(out, "    %d segments, %s, %s\n",
			variant.Segments, format.Clock(variant.Duration.Seconds()), state)
		codecs := make([]string, 0, len(variant.Tracks))
		for _, t := range variant.Tracks {
			codecs = append(codecs, fmt.Sprintf("%s[%d]", t.Codec, t.Samples))
		}
		if len(codecs) > 0 {
			fmt.Fprintf(out, "    streams: %s\n", strings.Join(codecs, " "))
		}
	}
	if _, err := os.Stat(manifest); err == nil {
		fmt.Fprintf(out, "dash: %s\n", manifest)
	} else {
		fmt.Fprintln(out, "dash: missing")
	}
}
