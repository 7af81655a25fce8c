package player

import (
	"log/slog"
	"sync"
)

const (
	ptsMax           int64 = 1<<33 - 1
	ptsWrapThreshold int64 = 1<<32 - 1
	ptsDropThreshold       = 10
)

// ptsCorrector unwraps 33-bit stream timestamps and converts them to
// microseconds. A single large regression is first treated as a glitch and
// only promoted to a wraparound after ptsDropThreshold consecutive drops.
type ptsCorrector struct {
	unit   PTSUnit
	logger *slog.Logger

	mu       sync.Mutex
	base     [2]int64
	previous [2]int64
	drops    [2]int
}

func newPTSCorrector(unit PTSUnit, logger *slog.Logger) *ptsCorrector {
	c := &ptsCorrector{unit: unit, logger: logger}
	c.Reset()
	return c
}

// Reset clears the wraparound state of both streams.
func (c *ptsCorrector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.base = [2]int64{}
	c.previous = [2]int64{-1, -1}
	c.drops = [2]int{}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// SetUnit changes the unit of incoming timestamps.
func (c *ptsCorrector) SetUnit(u PTSUnit) {
	c.mu.Lock()
	c.unit = u
	c.mu.Unlock()
}

// Adjust returns the corrected timestamp of pts on stream s in microseconds.
func (c *ptsCorrector) Adjust(s Stream, pts int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := int(s)
	other := 1 - i

	if c.previous[i] == -1 && c.previous[other] != -1 && abs64(c.previous[other]-pts) >= ptsWrapThreshold {
		// The streams wrapped at different times before this one started.
		wrapped := other
		if c.previous[other] > pts {
			wrapped = i
		}
		c.base[wrapped] += ptsMax
		c.logger.Info("pts wrapped before stream start",
			slog.String("stream", s.String()),
			slog.Int64("other_previous", c.previous[other]),
			slog.Int64("pts", pts))
	}

	if c.previous[i]-pts > ptsWrapThreshold {
		if c.drops[i] < ptsDropThreshold {
			c.drops[i]++
			c.logger.Info("pts drop",
				slog.String("stream", s.String()),
				slog.Int("count", c.drops[i]),
				slog.Int64("previous", c.previous[i]),
				slog.Int64("pts", pts))
			pts += ptsMax
		} else {
			c.drops[i] = 0
			c.base[i] += ptsMax
			c.logger.Info("pts wraparound",
				slog.String("stream", s.String()),
				slog.Int64("previous", c.previous[i]),
				slog.Int64("pts", pts),
				slog.Int64("base", c.base[i]))
			c.previous[i] = pts
		}
	} else {
		c.drops[i] = 0
		c.previous[i] = pts
	}

	if c.unit == PTSTicks {
		return (pts + c.base[i]) * 100 / 9
	}
	return pts + c.base[i]
}

// Base returns the accumulated wraparound offset of stream s.
func (c *ptsCorrector) Base(s Stream) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.base[s]
}
