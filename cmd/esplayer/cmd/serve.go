package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	internalhttp "github.com/jmylchreest/esplayer/internal/http"
	"github.com/jmylchreest/esplayer/internal/http/handlers"
	"github.com/jmylchreest/esplayer/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve <file.ts|url>",
	Short: "Play a transport stream file behind the control API",
	Long: `Serve plays a transport stream file like play and exposes an HTTP API
while it runs.

The API provides:
- Player status, transport controls, playback rate and volume
- Resource session listing
- Health check endpoint
- OpenAPI documentation at /docs`,
	Args: cobra.ExactArgs(1),
	RunE: runServe,
}

func init() {
	addPlaybackFlags(serveCmd)
	serveCmd.Flags().String("host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().Int("port", 8090, "Port to listen on")
	serveCmd.Flags().Bool("exit-on-eos", false, "stop serving once playback finishes")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	bindPlaybackFlags(cmd)
	mustBindPFlag("server.host", cmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", cmd.Flags().Lookup("port"))

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	pb, err := openPlayback(ctx, cfg, args[0], nil)
	if err != nil {
		return err
	}
	defer pb.close()

	server := internalhttp.NewServer(cfg.Server, logger, version.Short(),
		internalhttp.WithConnectionID(pb.player.ConnectionID))
	api := server.API()
	handlers.NewHealthHandler().
		WithDB(pb.db.DB).
		WithPlayer(pb.player.Status).
		WithResources(pb.manager.Usage).
		Register(api)
	handlers.NewPlayerHandler(pb.player).WithFeedStats(pb.feeder.Stats).Register(api)
	handlers.NewSessionHandler(pb.manager).Register(api)

	exitOnEOS, _ := cmd.Flags().GetBool("exit-on-eos")

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServing := context.WithCancel(gctx)
	defer stopServing()

	g.Go(func() error {
		return server.ListenAndServe(serveCtx)
	})
	g.Go(func() error {
		err := pb.run(gctx)
		if err != nil {
			return err
		}
		if exitOnEOS {
			stopServing()
			return nil
		}
		logger.Info("playback finished, API still serving",
			slog.String("address", cfg.Server.Address()))
		return nil
	})

	return g.Wait()
}
