package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/esplayer/internal/clock"
	"github.com/jmylchreest/esplayer/internal/config"
	"github.com/jmylchreest/esplayer/internal/database"
	"github.com/jmylchreest/esplayer/internal/ingest"
	"github.com/jmylchreest/esplayer/internal/observability"
	"github.com/jmylchreest/esplayer/internal/omx"
	"github.com/jmylchreest/esplayer/internal/omx/omxsim"
	"github.com/jmylchreest/esplayer/internal/player"
	"github.com/jmylchreest/esplayer/internal/resource"
)

// errRevoked is returned when the resource manager reclaims the decoders.
var errRevoked = errors.New("resources released by policy")

// playerConfig maps the application configuration onto the player's.
func playerConfig(cfg *config.Config) (player.Config, error) {
	unit, err := player.ParsePTSUnit(strings.ToLower(cfg.Player.PTSUnit))
	if err != nil {
		return player.Config{}, err
	}

	c := cfg.Component
	comp := omx.Config{
		StateTimeout:      c.StateTimeout,
		PortTimeout:       c.PortTimeout,
		FlushTimeout:      c.FlushTimeout,
		FreeBufferTimeout: c.FreeBufferTimeout,
		EventQueueSize:    cfg.Looper.EventQueueSize,
		VideoInput:        geometry(c.VideoInput),
		VideoOutput:       geometry(c.VideoOutput),
		AudioInput:        geometry(c.AudioInput),
		AudioOutput:       geometry(c.AudioOutput),
		AudioRenderer:     geometry(c.AudioRenderer),
	}

	s := cfg.Sync
	return player.Config{
		AppID:              cfg.Player.AppID,
		PTSUnit:            unit,
		PlaybackRate:       cfg.Player.PlaybackRate,
		TrickMode:          cfg.Player.TrickMode,
		AudioDestination:   cfg.Player.AudioDestination,
		RetryBackoff:       cfg.Looper.RetryBackoff,
		QueueWarnThreshold: cfg.Looper.QueueWarnThreshold,
		Component:          comp,
		Clock:              clock.Config{Preroll: cfg.Clock.Preroll, Component: comp},
		Sync: player.SyncConfig{
			SkipThreshold:  s.SkipThreshold,
			LowThreshold:   s.LowThreshold,
			HighThreshold:  s.HighThreshold,
			VideoHighCount: s.VideoHighCount,
			VideoLowCount:  s.VideoLowCount,
			AudioLowCount:  s.AudioLowCount,
		},
	}, nil
}

// fetchConfig maps the ingest settings onto the reader's fetch options.
func fetchConfig(cfg *config.Config) ingest.FetchConfig {
	fc := ingest.DefaultFetchConfig()
	fc.Timeout = cfg.Ingest.HTTPTimeout
	fc.Retries = cfg.Ingest.HTTPRetries
	fc.UserAgent = cfg.Ingest.UserAgent
	fc.Logger = observability.WithComponent(slog.Default(), "fetch")
	return fc
}

func geometry(b config.BufferConfig) omx.BufferGeometry {
	return omx.BufferGeometry{Count: b.Count, Size: b.Size.Int()}
}

// playback owns one player session fed from a transport stream or an HLS
// playlist.
type playback struct {
	logger  *slog.Logger
	db      *database.DB
	manager *resource.Manager
	janitor *resource.Janitor
	player  *player.Player
	source  ingest.MediaSource
	feeder  *ingest.Feeder
	meta    player.Metadata
	unit    player.PTSUnit

	done     chan struct{}
	doneOnce sync.Once
	doneErr  error

	onEvent player.EventHandler
}

// openPlayback wires the session database, resource manager, pipeline
// runtime and player, then loads the player with the input's metadata.
// onEvent, when set, sees every player event.
func openPlayback(ctx context.Context, cfg *config.Config, path string, onEvent player.EventHandler) (_ *playback, err error) {
	logger := slog.Default()
	pb := &playback{
		logger:  logger,
		done:    make(chan struct{}),
		onEvent: onEvent,
	}
	defer func() {
		if err != nil {
			pb.close()
		}
	}()

	pcfg, err := playerConfig(cfg)
	if err != nil {
		return nil, err
	}
	pb.unit = pcfg.PTSUnit

	pb.db, err = database.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	pb.manager = resource.NewManager(pb.db.DB, resource.Config{
		MaxVideoDecoders: cfg.Resource.MaxVideoDecoders,
		MaxAudioDecoders: cfg.Resource.MaxAudioDecoders,
	}, resource.WithLogger(logger))

	if cfg.Resource.PruneSchedule != "" {
		pb.janitor = resource.NewJanitor(pb.manager, cfg.Resource.PruneSchedule, cfg.Resource.SessionRetention).
			WithLogger(logger)
		if err := pb.janitor.Start(ctx); err != nil {
			return nil, fmt.Errorf("starting session janitor: %w", err)
		}
	}

	rq, err := pb.manager.NewRequestor(ctx, cfg.Player.AppID)
	if err != nil {
		return nil, fmt.Errorf("registering session: %w", err)
	}

	core := omxsim.New(omxsim.WithLogger(observability.WithComponent(logger, "omxsim")))
	pb.player = player.New(pcfg, core, rq,
		player.WithLogger(logger),
		player.WithEventHandler(pb.handleEvent),
	)

	pb.source, err = ingest.OpenSource(ctx, path, fetchConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	pb.meta, err = pb.source.Metadata()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := pb.player.LoadEx(pb.meta, pb.unit); err != nil {
		return nil, fmt.Errorf("loading player: %w", err)
	}
	if pcfg.TrickMode {
		if err := pb.player.SetTrickMode(true); err != nil {
			return nil, fmt.Errorf("enabling trick mode: %w", err)
		}
	}

	fcfg := ingest.FeederConfig{
		Streams:      ingest.StreamsOf(pb.meta),
		Unit:         pb.unit,
		MaxQueued:    cfg.Ingest.MaxQueued,
		RetryBackoff: cfg.Ingest.RetryBackoff,
		ChannelSize:  cfg.Ingest.ReadAhead,
		Logger:       logger,
	}
	pb.feeder = ingest.NewFeeder(pb.source, pb.player, fcfg)

	logger.Info("player loaded",
		slog.String("file", path),
		slog.String("connection_id", pb.player.ConnectionID()),
		slog.String("video_codec", pb.meta.VideoCodec.String()),
		slog.String("audio_codec", pb.meta.AudioCodec.String()),
	)
	return pb, nil
}

func (pb *playback) handleEvent(e player.Event, data any) {
	switch e {
	case player.EventEndOfStream:
		pb.finish(nil)
	case player.EventResourceReleasedByPolicy:
		pb.finish(errRevoked)
	case player.EventVideoInfo:
		if info, ok := data.(player.VideoInfo); ok {
			pb.logger.Info("video info",
				slog.Int("width", info.Width),
				slog.Int("height", info.Height),
			)
		}
	}
	if pb.onEvent != nil {
		pb.onEvent(e, data)
	}
}

func (pb *playback) finish(err error) {
	pb.doneOnce.Do(func() {
		pb.doneErr = err
		close(pb.done)
	})
}

// run starts playback and feeds the file until the player reports the end
// of stream, the resources are revoked or ctx is cancelled.
func (pb *playback) run(ctx context.Context) error {
	if err := pb.player.Play(); err != nil {
		return fmt.Errorf("starting playback: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	feedCtx, stopFeed := context.WithCancel(ctx)
	defer stopFeed()

	g.Go(func() error {
		err := pb.feeder.Run(feedCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		defer stopFeed()
		select {
		case <-pb.done:
			return pb.doneErr
		case <-ctx.Done():
			return nil
		}
	})

	err := g.Wait()
	stats := pb.feeder.Stats()
	pb.logger.Info("playback finished",
		slog.Int64("video_buffers", stats.VideoBuffers),
		slog.Int64("audio_buffers", stats.AudioBuffers),
		slog.Int64("frames", pb.player.FrameCount()),
		slog.Int64("retries", stats.Retries),
	)
	return err
}

// close tears the session down in reverse order of openPlayback.
func (pb *playback) close() {
	if pb.player != nil {
		if err := pb.player.Close(); err != nil {
			pb.logger.Warn("closing player", slog.String("error", err.Error()))
		}
	}
	if pb.source != nil {
		pb.source.Close()
	}
	if pb.janitor != nil {
		pb.janitor.Stop()
	}
	if pb.manager != nil {
		pb.manager.Wait()
	}
	if pb.db != nil {
		if err := pb.db.Close(); err != nil {
			pb.logger.Warn("closing database", slog.String("error", err.Error()))
		}
	}
}
