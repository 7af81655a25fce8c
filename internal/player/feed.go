package player

import (
	"errors"
	"log/slog"

	"github.com/jmylchreest/esplayer/internal/looper"
	"github.com/jmylchreest/esplayer/internal/omx"
)

// FeedData queues buf for its stream and schedules the write on the
// stream's render looper. It reports the whole buffer as accepted; a full
// decoder delays the write rather than rejecting it. The player keeps
// buf.Data until the buffer has been written, flushed or unloaded.
func (p *Player) FeedData(buf *StreamBuffer) (int, error) {
	if buf == nil {
		return 0, wrap(ErrFeedInvalidInput, "nil buffer")
	}
	if buf.Offset < 0 || len(buf.Data) < buf.Offset {
		return 0, wrap(ErrFeedInvalidInput, "offset %d beyond length %d", buf.Offset, len(buf.Data))
	}
	if buf.Stream != StreamAudio && buf.Stream != StreamVideo {
		return 0, wrap(ErrFeedInvalidInput, "unknown stream %d", int(buf.Stream))
	}
	switch st := p.state.get(); {
	case !p.loaded.Load(), st == StateIdle, st == StateUnloaded, st == StateFlushing:
		return 0, wrap(ErrFeedInvalidState, "feed in state %s", st)
	}

	b := *buf
	s := b.Stream
	p.queues[s].push(&b)

	l := p.audioRender
	if s == StreamVideo {
		l = p.videoRender
	}
	l.AppendFunc(func() looper.Status { return p.feedTask(s) })
	return len(b.Data), nil
}

// feedTask writes the head of stream s's queue. A full decoder leaves the
// head in place and asks the looper to retry.
func (p *Player) feedTask(s Stream) looper.Status {
	p.unloadMu.Lock()
	defer p.unloadMu.Unlock()

	pl := p.pl.Load()
	if pl == nil {
		p.clearBufQueue(s)
		return looper.Done
	}

	var err error
	if s == StreamVideo {
		_, err = p.feedVideo(pl)
	} else {
		_, err = p.feedAudio(pl)
	}
	switch {
	case err == nil:
		return looper.Done
	case errors.Is(err, ErrFeedFull):
		return looper.Retry
	default:
		p.logger.Error("feed write failed",
			slog.String("stream", s.String()),
			slog.String("error", err.Error()))
		return looper.Retry
	}
}

func translateFlags(f BufferFlag) omx.BufferFlags {
	var out omx.BufferFlags
	if f&FlagEndOfStream != 0 {
		out |= omx.BufferFlagEOS
	}
	return out
}

// syncFlags runs the sync gate for one sample and posts any Hold/Allow
// crossing on the video message looper.
func (p *Player) syncFlags(pl *pipeline, s Stream, pts int64, flags omx.BufferFlags) omx.BufferFlags {
	used := 0
	if pl.vcodec != nil {
		used = pl.vcodec.UsedBufferCount()
	}
	flags, ev, notify := p.sync.Flags(s, pts, flags, used)
	if notify {
		p.post(p.videoMsg, ev, nil)
	}
	return flags
}

func (p *Player) feedVideo(pl *pipeline) (int, error) {
	q := &p.queues[StreamVideo]
	if pl.vcodec == nil || !pl.vcodec.Created() {
		p.clearBufQueue(StreamVideo)
		return 0, nil
	}
	buf := q.head()
	if buf == nil {
		return 0, nil
	}
	if pl.vcodec.FreeBufferCount() == 0 {
		p.logger.Debug("video input full", slog.Int("used", pl.vcodec.UsedBufferCount()))
		return 0, ErrFeedFull
	}

	fp, started := q.progress()
	if !started {
		fp = feedProgress{
			data: buf.Data[buf.Offset:],
			pts:  p.pts.Adjust(StreamVideo, buf.Timestamp),
		}
		fp.flags = translateFlags(buf.Flags)
		if len(fp.data) > 0 {
			fp.flags = p.syncFlags(pl, StreamVideo, fp.pts, fp.flags)
		}
	}
	return p.writeHead(pl.vcodec, StreamVideo, fp)
}

func (p *Player) feedAudio(pl *pipeline) (int, error) {
	q := &p.queues[StreamAudio]
	if pl.acodec == nil || !pl.acodec.Created() {
		p.clearBufQueue(StreamAudio)
		return 0, nil
	}
	if pl.acodec.FreeBufferCount() == 0 {
		p.logger.Debug("audio input full", slog.Int("used", pl.acodec.UsedBufferCount()))
		return 0, ErrFeedFull
	}
	buf := q.head()
	if buf == nil {
		return 0, nil
	}

	consumed := 0
	fp, started := q.progress()
	if !started {
		fp = feedProgress{data: buf.Data[buf.Offset:]}
		if pl.video {
			fp.pts = p.pts.Adjust(StreamAudio, buf.Timestamp)
		}
		fp.flags = translateFlags(buf.Flags) | omx.BufferFlagEndOfFrame
		if len(fp.data) > 0 {
			fp.flags = p.syncFlags(pl, StreamAudio, fp.pts, fp.flags)
			if pl.swdec != nil {
				pcm, n, err := pl.swdec.Decode(fp.data, fp.pts)
				if err != nil {
					q.pop()
					return 0, wrapErr(ErrFeedCodec, err, "decoding audio")
				}
				fp.data, consumed = pcm, n
			} else {
				p.logger.Debug("no software audio decoder, writing input as is")
			}
		}
	}

	n, err := p.writeHead(pl.acodec, StreamAudio, fp)
	if pl.acodec.UsedBufferCount() >= p.cfg.Sync.AudioLowCount {
		p.audioLowArmed.Store(true)
	}
	if err == nil && consumed > 0 {
		n = consumed
	}
	return n, err
}

// writeHead writes the rest of the head of stream s to comp in chunks of
// the decoder's input buffer size. Only the last chunk carries
// end-of-frame. The head is popped once it is fully written or fails; a
// full decoder keeps it with its progress.
func (p *Player) writeHead(comp *omx.Component, s Stream, fp feedProgress) (int, error) {
	q := &p.queues[s]
	base := fp.flags &^ omx.BufferFlagEndOfFrame
	size := comp.InputBufferSize()
	if size <= 0 {
		size = len(fp.data)
	}

	total := 0
	for {
		chunk := fp.data[fp.written:]
		last := len(chunk) <= size
		flags := base
		if last {
			flags |= omx.BufferFlagEndOfFrame
		} else {
			chunk = chunk[:size]
		}

		n, err := comp.WriteToFreeBuffer(chunk, fp.pts, flags)
		if errors.Is(err, omx.ErrNoFreeBuffer) {
			q.setProgress(fp)
			return total, ErrFeedFull
		}
		if err != nil {
			q.pop()
			return total, wrapErr(ErrFail, err, "writing %s buffer", s)
		}
		fp.written += n
		total += n
		if last || n == 0 {
			break
		}
	}
	q.pop()
	return total, nil
}
