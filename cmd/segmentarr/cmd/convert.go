package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/segmentarr/internal/models"
)

var convertCmd = &cobra.Command{
	Use:   "convert <id>",
	Short: "Convert one video now, in the foreground",
	Long: `Convert the video with the given ID without going through the queue
workers. Link-only videos are downloaded first. The command refuses to start
while another conversion holds a running process.

Interrupting the command stops ffmpeg.`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

func init() {
	rootCmd.AddCommand(convertCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	id, err := models.ParseULID(args[0])
	if err != nil {
		return fmt.Errorf("invalid id %q: %w", args[0], err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return withApp(ctx, func(a *app) error {
		video, err := a.videos.GetByID(ctx, id)
		if err != nil {
			return err
		}

		ongoing, err := a.conversions.Ongoing(ctx)
		if err != nil {
			return err
		}
		if ongoing != nil && ongoing.ID != id {
			return fmt.Errorf("video %s (%s) is being converted", ongoing.ID, ongoing.Title)
		}

		if !video.HasFile() {
			if !video.HasLink() {
				return models.ErrSourceRequired
			}
			logger.Info("downloading source", slog.String("link", video.Link()))
			if err := a.executor.DownloadVideo(ctx, id); err != nil {
				return fmt.Errorf("downloading: %w", err)
			}
			if video, err = a.videos.GetByID(ctx, id); err != nil {
				return err
			}
			if !video.HasFile() {
				return fmt.Errorf("download failed: %s", video.Remarks)
			}
		}

		if err := a.executor.ConvertVideo(ctx, id); err != nil {
			return fmt.Errorf("converting: %w", err)
		}

		video, err = a.videos.GetByID(ctx, id)
		if err != nil {
			return err
		}
		printConversion(cmd, video)
		if !video.HLSReady && !video.DASHReady {
			return fmt.Errorf("conversion of %s produced no output", video.Title)
		}
		return nil
	})
}

func printConversion(cmd *cobra.Command, v *models.VideoStream) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\t%s\n", v.ID, v.Title)
	fmt.Fprintf(out, "  hls:  %t\n", v.HLSReady)
	fmt.Fprintf(out, "  dash: %t\n", v.DASHReady)
	if v.Width > 0 {
		fmt.Fprintf(out, "  size: %dx%d\n", v.Width, v.Height)
	}
	if v.Remarks != "" {
		fmt.Fprintf(out, "  remarks: %s\n", v.Remarks)
	}
}
