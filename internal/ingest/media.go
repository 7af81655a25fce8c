package ingest

import (
	"context"
	"io"
	"log/slog"

	"github.com/jmylchreest/esplayer/internal/player"
)

// MediaSource is an opened input the player can be loaded and fed from.
type MediaSource interface {
	Source
	Metadata() (player.Metadata, error)
	Tracks() []Track
	Close() error
}

// tsInput is a TSSource over an opened file or response body.
type tsInput struct {
	*TSSource
	io.Closer
}

// OpenSource opens location as an HLS playlist when IsHLS reports so, and
// as a transport stream otherwise.
func OpenSource(ctx context.Context, location string, cfg FetchConfig) (MediaSource, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if IsHLS(location) {
		return NewHLSSource(location, cfg.Client, logger)
	}

	rc, err := Open(ctx, location, cfg)
	if err != nil {
		return nil, err
	}
	src, err := NewTSSource(rc, logger)
	if err != nil {
		rc.Close()
		return nil, err
	}
	return &tsInput{TSSource: src, Closer: rc}, nil
}
