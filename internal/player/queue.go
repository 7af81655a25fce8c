package player

import (
	"log/slog"
	"sync"

	"github.com/jmylchreest/esplayer/internal/omx"
)

// streamQueue holds the client buffers of one stream that have been
// accepted but not yet fully written to the decoder. The head is popped
// only once all of it is written.
type streamQueue struct {
	mu   sync.Mutex
	bufs []*StreamBuffer

	started bool
	prog    feedProgress
}

// feedProgress is the write state of a partially written head. data is
// the payload being written, which differs from the head's data once it
// has been decoded.
type feedProgress struct {
	data    []byte
	written int
	pts     int64
	flags   omx.BufferFlags
}

func (q *streamQueue) push(b *StreamBuffer) {
	q.mu.Lock()
	q.bufs = append(q.bufs, b)
	q.mu.Unlock()
}

func (q *streamQueue) head() *StreamBuffer {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.bufs) == 0 {
		return nil
	}
	return q.bufs[0]
}

// progress returns the write state of the head. ok is false when nothing
// of the head has been written yet.
func (q *streamQueue) progress() (feedProgress, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.prog, q.started
}

func (q *streamQueue) setProgress(fp feedProgress) {
	q.mu.Lock()
	q.started = true
	q.prog = fp
	q.mu.Unlock()
}

func (q *streamQueue) pop() {
	q.mu.Lock()
	if len(q.bufs) > 0 {
		q.bufs[0] = nil
		q.bufs = q.bufs[1:]
	}
	q.started, q.prog = false, feedProgress{}
	q.mu.Unlock()
}

func (q *streamQueue) clear() int {
	q.mu.Lock()
	n := len(q.bufs)
	q.bufs = nil
	q.started, q.prog = false, feedProgress{}
	q.mu.Unlock()
	return n
}

func (q *streamQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.bufs)
}

func (p *Player) clearBufQueue(s Stream) {
	if n := p.queues[s].clear(); n > 0 {
		p.logger.Debug("stream queue cleared", slog.String("stream", s.String()), slog.Int("count", n))
	}
}

// QueueLen returns the number of buffers of stream s waiting to be written.
func (p *Player) QueueLen(s Stream) int { return p.queues[s].len() }
