package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/esplayer/internal/player"
)

var playCmd = &cobra.Command{
	Use:   "play <file.ts|url>",
	Short: "Play a transport stream file",
	Long: `Play demultiplexes a transport stream and feeds its first video and
first audio stream to the player until the end of stream. The input is a
local file or an http(s) URL, optionally gzip, bzip2, xz or brotli
compressed.

The decode and render stages run on the built-in pipeline simulator.
Player events are printed as they arrive.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

func init() {
	addPlaybackFlags(playCmd)
	playCmd.Flags().Duration("stats", 0, "log process and player statistics at this interval (0 disables)")
	rootCmd.AddCommand(playCmd)
}

// addPlaybackFlags adds the flags shared by play and serve.
func addPlaybackFlags(c *cobra.Command) {
	c.Flags().Int("rate", 1000, "playback rate in thousandths of normal speed")
	c.Flags().Bool("trick-mode", false, "present video frames without audio sync")
	c.Flags().String("pts-unit", "ticks", "timestamp unit fed to the player (ticks, microseconds)")
	c.Flags().String("app-id", "esplayer", "application id recorded on the resource session")
	c.Flags().String("database", "", "session database DSN (default from config)")
}

// bindPlaybackFlags binds the running command's flags. Binding happens at
// run time because play and serve share the same keys.
func bindPlaybackFlags(c *cobra.Command) {
	mustBindPFlag("player.playback_rate", c.Flags().Lookup("rate"))
	mustBindPFlag("player.trick_mode", c.Flags().Lookup("trick-mode"))
	mustBindPFlag("player.pts_unit", c.Flags().Lookup("pts-unit"))
	mustBindPFlag("player.app_id", c.Flags().Lookup("app-id"))
	if c.Flags().Changed("database") {
		mustBindPFlag("database.dsn", c.Flags().Lookup("database"))
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runPlay(cmd *cobra.Command, args []string) error {
	bindPlaybackFlags(cmd)
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	out := cmd.OutOrStdout()
	printEvent := func(e player.Event, data any) {
		if data != nil {
			fmt.Fprintf(out, "event %s %+v\n", e, data)
			return
		}
		fmt.Fprintf(out, "event %s\n", e)
	}

	pb, err := openPlayback(ctx, cfg, args[0], printEvent)
	if err != nil {
		return err
	}
	defer pb.close()

	if interval, _ := cmd.Flags().GetDuration("stats"); interval > 0 {
		go reportStats(ctx, pb, interval)
	}

	start := time.Now()
	if err := pb.run(ctx); err != nil {
		return err
	}
	slog.Info("played", slog.String("file", args[0]), slog.Duration("elapsed", time.Since(start)))
	return nil
}
