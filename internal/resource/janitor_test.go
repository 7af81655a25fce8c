package resource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/esplayer/internal/models"
)

func TestValidateSchedule(t *testing.T) {
	assert.NoError(t, ValidateSchedule("0 */10 * * * *"))
	assert.NoError(t, ValidateSchedule("*/1 * * * * *"))
	assert.Error(t, ValidateSchedule("*/10 * * * *"), "five fields lack seconds")
	assert.Error(t, ValidateSchedule("not a schedule"))
}

func TestJanitor_RunOnce(t *testing.T) {
	m := setupManager(t, DefaultConfig())
	ctx := context.Background()

	done, err := m.NewRequestor(ctx, "done")
	require.NoError(t, err)
	_, err = done.AcquireResources(ctx, avRequest())
	require.NoError(t, err)
	require.NoError(t, done.ReleaseResource(ctx))

	live, err := m.NewRequestor(ctx, "live")
	require.NoError(t, err)

	j := NewJanitor(m, "0 0 * * * *", time.Hour)

	// Released just now, so inside the retention window.
	assert.Zero(t, j.RunOnce(ctx))

	j.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.Equal(t, int64(1), j.RunOnce(ctx))

	_, err = m.Store().Get(ctx, done.ConnectionID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, ok := m.Snapshot(done.ConnectionID())
	assert.False(t, ok)

	row, err := m.Store().Get(ctx, live.ConnectionID())
	require.NoError(t, err)
	assert.Equal(t, models.SessionIdle, row.State)
	_, ok = m.Snapshot(live.ConnectionID())
	assert.True(t, ok)
}

func TestJanitor_StartStop(t *testing.T) {
	m := setupManager(t, DefaultConfig())
	ctx := context.Background()

	r, err := m.NewRequestor(ctx, "app")
	require.NoError(t, err)
	_, err = r.AcquireResources(ctx, avRequest())
	require.NoError(t, err)
	require.NoError(t, r.ReleaseResource(ctx))

	j := NewJanitor(m, "* * * * * *", 0)
	require.NoError(t, j.Start(ctx))
	assert.Error(t, j.Start(ctx), "already started")

	assert.Eventually(t, func() bool {
		_, err := m.Store().Get(ctx, r.ConnectionID())
		return err != nil
	}, 3*time.Second, 50*time.Millisecond)

	j.Stop()
	j.Stop()
}

func TestJanitor_StartInvalidSchedule(t *testing.T) {
	m := setupManager(t, DefaultConfig())
	j := NewJanitor(m, "bogus", time.Hour)
	assert.Error(t, j.Start(context.Background()))
}

func TestJanitor_StopsWithContext(t *testing.T) {
	m := setupManager(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())

	j := NewJanitor(m, "0 0 * * * *", time.Hour)
	require.NoError(t, j.Start(ctx))
	cancel()

	assert.Eventually(t, func() bool {
		j.mu.Lock()
		defer j.mu.Unlock()
		return j.cron == nil
	}, time.Second, 10*time.Millisecond)
}
