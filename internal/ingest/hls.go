package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	gohlslib "github.com/bluenviron/gohlslib/v2"
	"github.com/bluenviron/gohlslib/v2/pkg/codecs"

	"github.com/jmylchreest/esplayer/internal/codec"
	"github.com/jmylchreest/esplayer/internal/player"
)

// ErrSourceClosed is returned by a closed HLSSource.
var ErrSourceClosed = errors.New("ingest: source closed")

const hlsQueueSize = 64

// IsHLS reports whether location names an HLS playlist.
func IsHLS(location string) bool {
	if i := strings.IndexAny(location, "?#"); i >= 0 {
		location = location[:i]
	}
	return (strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")) &&
		strings.HasSuffix(strings.ToLower(location), ".m3u8")
}

// HLSSource plays an HLS stream through gohlslib. The first video and the
// first audio rendition are selected. Timestamps are converted to 90 kHz
// ticks.
type HLSSource struct {
	client *gohlslib.Client
	logger *slog.Logger

	ready     chan struct{}
	readyOnce sync.Once
	meta      player.Metadata
	tracks    []Track

	out       chan *player.StreamBuffer
	closed    chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	doneErr   error
}

// NewHLSSource starts downloading the playlist at uri.
func NewHLSSource(uri string, httpClient *http.Client, logger *slog.Logger) (*HLSSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &HLSSource{
		logger: logger.With(slog.String("component", "hls_source")),
		ready:  make(chan struct{}),
		out:    make(chan *player.StreamBuffer, hlsQueueSize),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
		meta: player.Metadata{
			VideoCodec: codec.VideoNone,
			AudioCodec: codec.AudioNone,
		},
	}
	s.client = &gohlslib.Client{
		URI:        uri,
		HTTPClient: httpClient,
		OnTracks:   s.onTracks,
	}
	if err := s.client.Start(); err != nil {
		return nil, fmt.Errorf("starting HLS client: %w", err)
	}
	go s.watch()
	return s, nil
}

func (s *HLSSource) watch() {
	err := s.client.Wait2()
	if errors.Is(err, gohlslib.ErrClientEOS) || errors.Is(err, context.Canceled) {
		err = nil
	}
	s.doneErr = err
	close(s.done)
	s.markReady()
}

func (s *HLSSource) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

func (s *HLSSource) onTracks(tracks []*gohlslib.Track) error {
	var haveVideo, haveAudio bool
	for _, track := range tracks {
		switch c := track.Codec.(type) {
		case *codecs.H264:
			if haveVideo {
				continue
			}
			haveVideo = true
			s.meta.VideoCodec = codec.VideoH264
			if c.SPS != nil {
				applyH264Params(&s.meta, c.SPS, c.PPS)
			}
			s.client.OnDataH26x(track, func(pts, _ int64, au [][]byte) {
				if data := marshalAnnexB(au); data != nil {
					s.push(player.StreamVideo, pts, data)
				}
			})

		case *codecs.H265:
			if haveVideo {
				continue
			}
			haveVideo = true
			s.meta.VideoCodec = codec.VideoH265
			s.client.OnDataH26x(track, func(pts, _ int64, au [][]byte) {
				if data := marshalAnnexB(au); data != nil {
					s.push(player.StreamVideo, pts, data)
				}
			})

		case *codecs.MPEG4Audio:
			if haveAudio {
				continue
			}
			haveAudio = true
			conf := c.Config
			s.meta.AudioCodec = codec.AudioAAC
			s.meta.SampleRate = conf.SampleRate
			s.meta.Channels = conf.ChannelCount
			rate := int64(conf.SampleRate)
			s.client.OnDataMPEG4Audio(track, func(pts int64, aus [][]byte) {
				data, err := marshalADTS(&conf, aus)
				if err != nil || data == nil {
					return
				}
				s.push(player.StreamAudio, rescale(pts, rate), data)
			})

		case *codecs.Opus:
			if haveAudio {
				continue
			}
			haveAudio = true
			s.meta.AudioCodec = codec.AudioOpus
			s.meta.SampleRate = 48000
			s.meta.Channels = c.ChannelCount
			s.client.OnDataOpus(track, func(pts int64, packets [][]byte) {
				step := int64(codec.AudioOpus.FrameSamples())
				for _, pkt := range packets {
					s.push(player.StreamAudio, rescale(pts, 48000), pkt)
					pts += step
				}
			})

		default:
			s.logger.Debug("skipping unsupported rendition",
				slog.String("type", fmt.Sprintf("%T", track.Codec)))
		}
	}

	if haveVideo {
		s.tracks = append(s.tracks, Track{Stream: player.StreamVideo, Video: s.meta.VideoCodec})
	}
	if haveAudio {
		s.tracks = append(s.tracks, Track{Stream: player.StreamAudio, Audio: s.meta.AudioCodec})
	}
	s.logger.Debug("HLS tracks selected",
		slog.String("video_codec", s.meta.VideoCodec.String()),
		slog.String("audio_codec", s.meta.AudioCodec.String()))
	s.markReady()

	if !haveVideo && !haveAudio {
		return ErrNoTracks
	}
	return nil
}

// rescale converts a timestamp in a clock of rate Hz to 90 kHz ticks.
func rescale(pts, rate int64) int64 {
	if rate <= 0 || rate == 90000 {
		return pts
	}
	return pts * 90000 / rate
}

// push blocks until the feeder takes the buffer or the source is closed.
func (s *HLSSource) push(stream player.Stream, pts int64, data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case s.out <- &player.StreamBuffer{Data: buf, Stream: stream, Timestamp: pts}:
	case <-s.closed:
	}
}

// Metadata waits until the renditions are known.
func (s *HLSSource) Metadata() (player.Metadata, error) {
	<-s.ready
	if len(s.tracks) == 0 {
		<-s.done
		if s.doneErr != nil {
			return player.Metadata{}, s.doneErr
		}
		return player.Metadata{}, ErrNoTracks
	}
	return s.meta, nil
}

// Tracks returns the selected renditions. PIDs are zero.
func (s *HLSSource) Tracks() []Track {
	<-s.ready
	return s.tracks
}

// Next returns the next buffer, or io.EOF once the stream has ended.
func (s *HLSSource) Next() (*player.StreamBuffer, error) {
	select {
	case buf := <-s.out:
		return buf, nil
	case <-s.closed:
		return nil, ErrSourceClosed
	case <-s.done:
	}
	select {
	case buf := <-s.out:
		return buf, nil
	default:
	}
	if s.doneErr != nil {
		return nil, fmt.Errorf("reading HLS stream: %w", s.doneErr)
	}
	return nil, io.EOF
}

// Close stops the download.
func (s *HLSSource) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.client.Close()
	})
	return nil
}
