// Package looper provides a time-ordered task queue drained by a single
// goroutine. Handlers can ask to be retried, which leaves their message at
// the head of the queue and stalls only that looper.
package looper

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Status is the result of running a Handler.
type Status int

const (
	// Done pops the message.
	Done Status = iota
	// Retry leaves the message at the head and runs it again after the
	// retry backoff.
	Retry
)

// Handler runs one unit of work on the looper goroutine.
type Handler func() Status

// Message is a scheduled unit of work.
type Message struct {
	// RunAt is when the handler becomes due. The zero value means now.
	RunAt time.Time
	// Timestamp is the source media timestamp in microseconds, or 0.
	// Reschedule uses it to keep relative spacing after a pause.
	Timestamp int64
	Handler   Handler
	// Cancel runs instead of Handler when the message is cancelled.
	Cancel func()

	quit bool
}

const (
	DefaultRetryBackoff  = 100 * time.Millisecond
	DefaultWarnThreshold = 50
)

// Looper runs messages in order on its own goroutine.
type Looper struct {
	name          string
	logger        *slog.Logger
	retryBackoff  time.Duration
	warnThreshold int
	now           func() time.Time

	mu       sync.Mutex
	queue    []*Message
	running  bool
	pausedAt time.Time
	closed   bool

	wake    chan struct{}
	closing chan struct{}
	done    chan struct{}
}

// Option configures a Looper.
type Option func(*Looper)

// WithLogger sets the looper's logger.
func WithLogger(l *slog.Logger) Option {
	return func(lp *Looper) {
		if l != nil {
			lp.logger = l
		}
	}
}

// WithRetryBackoff sets the sleep between retries of a handler.
func WithRetryBackoff(d time.Duration) Option {
	return func(lp *Looper) {
		if d > 0 {
			lp.retryBackoff = d
		}
	}
}

// WithWarnThreshold sets the queue depth above which inserts log a warning.
func WithWarnThreshold(n int) Option {
	return func(lp *Looper) {
		if n > 0 {
			lp.warnThreshold = n
		}
	}
}

// WithClock replaces the looper's time source. A zero time from the clock
// is treated as a failed read and due messages fire immediately.
func WithClock(now func() time.Time) Option {
	return func(lp *Looper) {
		if now != nil {
			lp.now = now
		}
	}
}

// New starts a running looper.
func New(name string, opts ...Option) *Looper {
	l := &Looper{
		name:          name,
		logger:        slog.Default(),
		retryBackoff:  DefaultRetryBackoff,
		warnThreshold: DefaultWarnThreshold,
		now:           time.Now,
		running:       true,
		wake:          make(chan struct{}, 1),
		closing:       make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(slog.String("looper", name))
	go l.loop()
	return l
}

// Name returns the looper's name.
func (l *Looper) Name() string { return l.name }

func (l *Looper) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Looper) loop() {
	defer close(l.done)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		l.mu.Lock()
		if !l.running {
			l.mu.Unlock()
			<-l.wake
			continue
		}
		if len(l.queue) == 0 {
			l.mu.Unlock()
			<-l.wake
			continue
		}

		msg := l.queue[0]
		if msg.quit {
			l.mu.Unlock()
			l.logger.Debug("looper quit")
			return
		}

		now := l.now()
		if !now.IsZero() && msg.RunAt.After(now) {
			d := msg.RunAt.Sub(now)
			l.mu.Unlock()
			if timer == nil {
				timer = time.NewTimer(d)
			} else {
				timer.Reset(d)
			}
			select {
			case <-timer.C:
			case <-l.wake:
				timer.Stop()
			}
			continue
		}
		l.mu.Unlock()

		status := Done
		if msg.Handler != nil {
			status = msg.Handler()
		}

		if status == Done {
			l.mu.Lock()
			// ClearAll may have emptied the queue while the handler ran.
			if len(l.queue) > 0 && l.queue[0] == msg {
				l.queue = l.queue[1:]
			}
			l.mu.Unlock()
			continue
		}

		l.logger.Log(context.Background(), levelTrace, "handler asked for retry", slog.Duration("backoff", l.retryBackoff))
		select {
		case <-time.After(l.retryBackoff):
		case <-l.closing:
		}
	}
}

const levelTrace = slog.LevelDebug - 4

func (l *Looper) prepare(msg *Message) {
	if msg.RunAt.IsZero() {
		msg.RunAt = l.now()
	}
}

func (l *Looper) warnDepthLocked() {
	if n := len(l.queue); n > l.warnThreshold {
		l.logger.Warn("message queue above threshold",
			slog.Int("size", n),
			slog.Int("threshold", l.warnThreshold))
	}
}

// Post inserts msg in RunAt order, after any message due at the same time.
func (l *Looper) Post(msg *Message) {
	if msg == nil {
		return
	}
	l.prepare(msg)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.logger.Debug("post after close dropped")
		return
	}
	i := 0
	for i < len(l.queue) && !l.queue[i].quit && !l.queue[i].RunAt.After(msg.RunAt) {
		i++
	}
	l.queue = append(l.queue, nil)
	copy(l.queue[i+1:], l.queue[i:])
	l.queue[i] = msg
	l.warnDepthLocked()
	l.mu.Unlock()

	l.signal()
}

// PostFunc posts fn to run after delay. ts is the source timestamp in
// microseconds, or 0.
func (l *Looper) PostFunc(delay time.Duration, ts int64, fn Handler) {
	l.Post(&Message{RunAt: l.now().Add(delay), Timestamp: ts, Handler: fn})
}

// Append pushes msg to the tail regardless of its RunAt.
func (l *Looper) Append(msg *Message) {
	if msg == nil {
		return
	}
	l.prepare(msg)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.logger.Debug("append after close dropped")
		return
	}
	l.queue = append(l.queue, msg)
	l.warnDepthLocked()
	l.mu.Unlock()

	l.signal()
}

// AppendFunc appends fn to the tail.
func (l *Looper) AppendFunc(fn Handler) {
	l.Append(&Message{Handler: fn})
}

// SetRunning pauses or resumes dispatch. Resuming shifts pending messages
// by the time spent paused.
func (l *Looper) SetRunning(run bool) {
	l.mu.Lock()
	switch {
	case run && !l.running:
		l.rescheduleLocked()
		l.running = true
		l.pausedAt = time.Time{}
	case !run && l.running:
		l.running = false
		l.pausedAt = l.now()
	}
	l.mu.Unlock()

	l.signal()
}

// Running reports whether the looper is dispatching.
func (l *Looper) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Reschedule shifts pending messages by the time elapsed since the looper
// was paused. Messages carrying a Timestamp keep their spacing relative to
// the head message.
func (l *Looper) Reschedule() {
	l.mu.Lock()
	l.rescheduleLocked()
	l.mu.Unlock()
	l.signal()
}

func (l *Looper) rescheduleLocked() {
	if len(l.queue) == 0 {
		l.pausedAt = time.Time{}
		return
	}
	if l.running || l.pausedAt.IsZero() {
		return
	}

	paused := l.now().Sub(l.pausedAt)
	head := l.queue[0]
	head.RunAt = head.RunAt.Add(paused)
	baseRunAt, baseTs := head.RunAt, head.Timestamp

	for _, msg := range l.queue[1:] {
		if msg.quit {
			continue
		}
		if msg.Timestamp > 0 {
			msg.RunAt = baseRunAt.Add(time.Duration(msg.Timestamp-baseTs) * time.Microsecond)
		} else {
			msg.RunAt = msg.RunAt.Add(paused)
		}
	}
	l.pausedAt = time.Time{}
	l.logger.Debug("messages rescheduled",
		slog.Duration("paused", paused),
		slog.Int("size", len(l.queue)))
}

// ClearAll drops every pending message without running it.
func (l *Looper) ClearAll() {
	l.mu.Lock()
	n := len(l.queue)
	kept := l.queue[:0]
	for _, msg := range l.queue {
		if msg.quit {
			kept = append(kept, msg)
		}
	}
	l.queue = kept
	l.mu.Unlock()

	if n > 0 {
		l.logger.Debug("messages cleared", slog.Int("count", n))
	}
	l.signal()
}

// CancelAll pops every pending message and runs its Cancel hook instead of
// its handler.
func (l *Looper) CancelAll() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 || l.queue[0].quit {
			l.mu.Unlock()
			break
		}
		msg := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()

		if msg.Cancel != nil {
			msg.Cancel()
		}
	}
	l.signal()
}

// Len returns the number of pending messages.
func (l *Looper) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, msg := range l.queue {
		if !msg.quit {
			n++
		}
	}
	return n
}

// Close stops the looper after the running handler, if any, returns.
// Pending messages are dropped.
func (l *Looper) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done
		return nil
	}
	l.closed = true
	l.running = true
	if n := len(l.queue); n > 0 {
		l.logger.Debug("pending messages dropped on close", slog.Int("count", n))
	}
	l.queue = []*Message{{quit: true}}
	l.mu.Unlock()

	close(l.closing)
	l.signal()
	<-l.done
	return nil
}
