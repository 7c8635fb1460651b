package ratelimit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCooldownDenyThenAllow(t *testing.T) {
	l := New(30 * time.Second)

	res, _, ok := l.CheckAndReserve(1, t0)
	require.True(t, ok)
	res.Commit()

	_, wait, ok := l.CheckAndReserve(1, t0.Add(10*time.Second))
	assert.False(t, ok)
	assert.Equal(t, 20*time.Second, wait)
	assert.Positive(t, wait)

	res, _, ok = l.CheckAndReserve(1, t0.Add(30*time.Second))
	require.True(t, ok, "allowed once the window elapsed")
	res.Commit()
}

func TestReleaseDoesNotConsumeCooldown(t *testing.T) {
	l := New(30 * time.Second)

	res, _, ok := l.CheckAndReserve(1, t0)
	require.True(t, ok)
	res.Release()

	res, _, ok = l.CheckAndReserve(1, t0.Add(time.Second))
	require.True(t, ok, "failed attempt leaves no cooldown")
	res.Commit()

	last, ok := l.LastStart(1)
	require.True(t, ok)
	assert.Equal(t, t0.Add(time.Second), last)
}

func TestReleaseRestoresPreviousAnchor(t *testing.T) {
	l := New(30 * time.Second)

	res, _, _ := l.CheckAndReserve(1, t0)
	res.Commit()

	res, _, ok := l.CheckAndReserve(1, t0.Add(40*time.Second))
	require.True(t, ok)
	res.Release()

	last, _ := l.LastStart(1)
	assert.Equal(t, t0, last)
}

func TestPendingReservationBlocksSecondStart(t *testing.T) {
	l := New(30 * time.Second)

	res, _, ok := l.CheckAndReserve(1, t0)
	require.True(t, ok)

	_, wait, ok := l.CheckAndReserve(1, t0.Add(5*time.Second))
	assert.False(t, ok)
	assert.Positive(t, wait)

	_, _, ok = l.CheckAndReserve(2, t0.Add(5*time.Second))
	assert.True(t, ok, "other users are independent")

	res.Release()
	_, _, ok = l.CheckAndReserve(1, t0.Add(6*time.Second))
	assert.True(t, ok)
}

func TestFinishIsIdempotent(t *testing.T) {
	l := New(30 * time.Second)

	res, _, _ := l.CheckAndReserve(1, t0)
	res.Commit()
	res.Release()
	res.Commit()

	last, ok := l.LastStart(1)
	require.True(t, ok)
	assert.Equal(t, t0, last)

	var nilRes *Reservation
	assert.NotPanics(t, func() { nilRes.Release() })
}

func TestZeroWindowDisablesCooldown(t *testing.T) {
	l := New(0)
	for i := 0; i < 3; i++ {
		res, _, ok := l.CheckAndReserve(1, t0)
		require.True(t, ok)
		res.Commit()
	}
}

func TestReserveReturnsRateLimitError(t *testing.T) {
	l := New(30 * time.Second)
	res, err := l.Reserve(1, t0)
	require.NoError(t, err)
	res.Commit()

	_, err = l.Reserve(1, t0.Add(29500*time.Millisecond))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)

	var rle *RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, 500*time.Millisecond, rle.RetryAfter)
	assert.Equal(t, 1, rle.RetryAfterSeconds())
}

func TestPrune(t *testing.T) {
	l := New(30 * time.Second)

	res, _, _ := l.CheckAndReserve(1, t0)
	res.Commit()
	res, _, _ = l.CheckAndReserve(2, t0.Add(20*time.Second))
	res.Commit()
	_, _, _ = l.CheckAndReserve(3, t0)

	removed := l.Prune(t0.Add(31 * time.Second))
	assert.Equal(t, 1, removed)

	_, ok := l.LastStart(1)
	assert.False(t, ok)
	_, ok = l.LastStart(2)
	assert.True(t, ok)
}
