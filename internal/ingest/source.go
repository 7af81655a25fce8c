// Package ingest turns MPEG-TS input into the elementary stream buffers and
// metadata the player consumes.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/asticode/go-astits"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/esplayer/internal/codec"
	"github.com/jmylchreest/esplayer/internal/player"
)

// ErrNoTracks is returned when the transport stream has no playable track.
var ErrNoTracks = errors.New("ingest: no supported tracks")

// maxProbeReads bounds how many TS reads Metadata performs looking for
// codec parameters.
const maxProbeReads = 4096

// Track is a selected elementary stream of the transport stream.
type Track struct {
	PID    uint16        `json:"pid"`
	Stream player.Stream `json:"stream"`
	Video  codec.Video   `json:"video,omitempty"`
	Audio  codec.Audio   `json:"audio,omitempty"`
}

// TSSource demuxes an MPEG-TS stream with mediacommon and yields one
// player buffer per access unit. The first video and the first audio track
// are selected. Timestamps are 90 kHz ticks.
type TSSource struct {
	reader *mpegts.Reader
	logger *slog.Logger

	video *Track
	audio *Track
	meta  player.Metadata

	// Set once the metadata needs nothing more from the stream.
	videoReady bool
	audioReady bool

	pending []*player.StreamBuffer
	eof     bool
}

// NewTSSource reads the PAT and PMT from r and selects the tracks.
func NewTSSource(r io.Reader, logger *slog.Logger) (*TSSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &TSSource{
		reader: &mpegts.Reader{R: r},
		logger: logger.With(slog.String("component", "ts_source")),
		meta: player.Metadata{
			VideoCodec: codec.VideoNone,
			AudioCodec: codec.AudioNone,
		},
	}
	if err := s.reader.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing mpegts reader: %w", err)
	}

	for _, track := range s.reader.Tracks() {
		s.setupTrack(track)
	}
	if s.video == nil && s.audio == nil {
		return nil, ErrNoTracks
	}
	s.videoReady = s.video == nil
	s.audioReady = s.audio == nil

	s.reader.OnDecodeError(func(err error) {
		s.logger.Debug("MPEG-TS decode error", slog.String("error", err.Error()))
	})

	s.logger.Debug("MPEG-TS source initialized",
		slog.String("video_codec", s.meta.VideoCodec.String()),
		slog.String("audio_codec", s.meta.AudioCodec.String()))
	return s, nil
}

func (s *TSSource) setupTrack(track *mpegts.Track) {
	switch c := track.Codec.(type) {
	case *mpegts.CodecH264:
		if !s.selectVideo(track, codec.VideoH264) {
			return
		}
		s.reader.OnDataH264(track, func(pts, _ int64, au [][]byte) error {
			return s.handleH264(pts, au)
		})

	case *mpegts.CodecH265:
		if !s.selectVideo(track, codec.VideoH265) {
			return
		}
		s.reader.OnDataH265(track, func(pts, _ int64, au [][]byte) error {
			// H.265 shares the Annex B start code layout.
			s.videoReady = true
			return s.emitAnnexB(pts, au)
		})

	case *mpegts.CodecMPEG1Video:
		if !s.selectVideo(track, codec.VideoH262) {
			return
		}
		s.reader.OnDataMPEGxVideo(track, func(pts int64, frame []byte) error {
			s.videoReady = true
			s.emit(player.StreamVideo, pts, frame)
			return nil
		})

	case *mpegts.CodecMPEG4Audio:
		if !s.selectAudio(track, codec.AudioAAC) {
			return
		}
		conf := c.Config
		s.meta.SampleRate = conf.SampleRate
		s.meta.Channels = conf.ChannelCount
		s.reader.OnDataMPEG4Audio(track, func(pts int64, aus [][]byte) error {
			return s.handleAAC(pts, &conf, aus)
		})

	case *mpegts.CodecAC3:
		if !s.selectAudio(track, codec.AudioAC3) {
			return
		}
		s.meta.SampleRate = c.SampleRate
		s.meta.Channels = c.ChannelCount
		s.reader.OnDataAC3(track, func(pts int64, frame []byte) error {
			s.audioReady = true
			s.emit(player.StreamAudio, pts, frame)
			return nil
		})

	case *mpegts.CodecMPEG1Audio:
		if !s.selectAudio(track, codec.AudioMP3) {
			return
		}
		s.reader.OnDataMPEG1Audio(track, func(pts int64, frames [][]byte) error {
			return s.handleFrames(pts, codec.AudioMP3, frames)
		})

	case *mpegts.CodecOpus:
		if !s.selectAudio(track, codec.AudioOpus) {
			return
		}
		s.meta.SampleRate = 48000
		s.meta.Channels = c.ChannelCount
		s.reader.OnDataOpus(track, func(pts int64, packets [][]byte) error {
			return s.handleFrames(pts, codec.AudioOpus, packets)
		})

	default:
		s.logger.Debug("skipping unsupported track",
			slog.Uint64("pid", uint64(track.PID)),
			slog.String("type", fmt.Sprintf("%T", track.Codec)))
	}
}

func (s *TSSource) selectVideo(track *mpegts.Track, v codec.Video) bool {
	if s.video != nil {
		s.logger.Debug("ignoring extra video track", slog.Uint64("pid", uint64(track.PID)))
		return false
	}
	s.video = &Track{PID: track.PID, Stream: player.StreamVideo, Video: v}
	s.meta.VideoCodec = v
	s.logger.Debug("selected video track",
		slog.Uint64("pid", uint64(track.PID)),
		slog.String("codec", v.String()))
	return true
}

func (s *TSSource) selectAudio(track *mpegts.Track, a codec.Audio) bool {
	if s.audio != nil {
		s.logger.Debug("ignoring extra audio track", slog.Uint64("pid", uint64(track.PID)))
		return false
	}
	s.audio = &Track{PID: track.PID, Stream: player.StreamAudio, Audio: a}
	s.meta.AudioCodec = a
	s.logger.Debug("selected audio track",
		slog.Uint64("pid", uint64(track.PID)),
		slog.String("codec", a.String()))
	return true
}

// handleH264 records the first SPS and PPS as extradata and emits the
// access unit in Annex B form.
func (s *TSSource) handleH264(pts int64, au [][]byte) error {
	if !s.videoReady {
		if sps, pps := codec.H264ParameterSets(au); sps != nil {
			applyH264Params(&s.meta, sps, pps)
			s.videoReady = true
		} else if h264.IsRandomAccess(au) {
			// A keyframe without parameter sets: play on without extradata.
			s.videoReady = true
		}
	}
	return s.emitAnnexB(pts, au)
}

func (s *TSSource) emitAnnexB(pts int64, au [][]byte) error {
	if data := marshalAnnexB(au); data != nil {
		s.emit(player.StreamVideo, pts, data)
	}
	return nil
}

// handleAAC re-frames raw access units as ADTS, one buffer per PES.
func (s *TSSource) handleAAC(pts int64, conf *mpeg4audio.AudioSpecificConfig, aus [][]byte) error {
	data, err := marshalADTS(conf, aus)
	if err != nil {
		s.logger.Debug("dropping AAC access units", slog.String("error", err.Error()))
		return nil
	}
	if data == nil {
		return nil
	}
	s.audioReady = true
	s.emit(player.StreamAudio, pts, data)
	return nil
}

// applyH264Params records the parameter sets as extradata and the geometry
// they describe.
func applyH264Params(meta *player.Metadata, sps, pps []byte) {
	extradata, err := codec.H264Extradata(sps, pps)
	if err != nil {
		return
	}
	meta.Extradata = extradata
	if geo, err := codec.ParseVideoGeometry(codec.VideoH264, extradata); err == nil {
		meta.Width, meta.Height = geo.Width, geo.Height
		meta.Framerate = int(geo.FrameRate)
	}
}

// marshalAnnexB joins NAL units with start codes. It returns nil for an
// empty or malformed access unit.
func marshalAnnexB(au [][]byte) []byte {
	if len(au) == 0 {
		return nil
	}
	data, err := h264.AnnexB(au).Marshal()
	if err != nil || len(data) == 0 {
		return nil
	}
	return data
}

// marshalADTS frames raw AAC access units as ADTS packets.
func marshalADTS(conf *mpeg4audio.AudioSpecificConfig, aus [][]byte) ([]byte, error) {
	pkts := make(mpeg4audio.ADTSPackets, 0, len(aus))
	for _, au := range aus {
		if len(au) == 0 {
			continue
		}
		pkts = append(pkts, &mpeg4audio.ADTSPacket{
			Type:         conf.Type,
			SampleRate:   conf.SampleRate,
			ChannelCount: conf.ChannelCount,
			AU:           au,
		})
	}
	if len(pkts) == 0 {
		return nil, nil
	}
	return pkts.Marshal()
}

// handleFrames emits each frame with its own timestamp derived from the
// codec's frame duration.
func (s *TSSource) handleFrames(pts int64, a codec.Audio, frames [][]byte) error {
	rate := s.meta.SampleRate
	if rate <= 0 {
		rate = 48000
	}
	step := int64(a.FrameSamples()) * 90000 / int64(rate)
	for _, frame := range frames {
		if len(frame) == 0 {
			continue
		}
		s.audioReady = true
		s.emit(player.StreamAudio, pts, frame)
		pts += step
	}
	return nil
}

func (s *TSSource) emit(stream player.Stream, pts int64, data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	s.pending = append(s.pending, &player.StreamBuffer{
		Data:      buf,
		Stream:    stream,
		Timestamp: pts,
	})
}

// read performs one demuxer read, returning io.EOF at the end of input.
func (s *TSSource) read() error {
	if s.eof {
		return io.EOF
	}
	err := s.reader.Read()
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, astits.ErrNoMorePackets) {
		s.eof = true
		return io.EOF
	}
	return fmt.Errorf("reading transport stream: %w", err)
}

// Metadata reads ahead until the codec parameters of every selected track
// are known. Buffers read meanwhile are kept for Next.
func (s *TSSource) Metadata() (player.Metadata, error) {
	for i := 0; !(s.videoReady && s.audioReady) && i < maxProbeReads; i++ {
		if err := s.read(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return player.Metadata{}, err
		}
	}
	if !s.videoReady {
		s.logger.Warn("no video parameters found", slog.String("codec", s.meta.VideoCodec.String()))
	}
	return s.meta, nil
}

// Tracks returns the selected tracks.
func (s *TSSource) Tracks() []Track {
	var out []Track
	if s.video != nil {
		out = append(out, *s.video)
	}
	if s.audio != nil {
		out = append(out, *s.audio)
	}
	return out
}

// Next returns the next buffer, or io.EOF once the input is exhausted.
func (s *TSSource) Next() (*player.StreamBuffer, error) {
	for len(s.pending) == 0 {
		if err := s.read(); err != nil {
			return nil, err
		}
	}
	buf := s.pending[0]
	s.pending[0] = nil
	s.pending = s.pending[1:]
	return buf, nil
}
