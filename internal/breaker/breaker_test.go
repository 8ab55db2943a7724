package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

var errPartner = errors.New("partner 503")

func newTestBreaker(clock *fakeClock) *Breaker {
	return New(Config{
		Name:             "test",
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          2 * time.Minute,
	}, nil, WithClock(clock.Now))
}

func fail() error    { return errPartner }
func succeed() error { return nil }

func TestBreaker_TripsAfterFailureThreshold(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	b := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		err := b.Execute(fail)
		require.ErrorIs(t, err, errPartner)
	}
	assert.Equal(t, Open, b.State())

	calls := 0
	err := b.Execute(func() error {
		calls++
		return nil
	})
	require.Error(t, err)
	assert.True(t, IsOpen(err))
	assert.Equal(t, 0, calls, "open breaker must not invoke the call")

	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, clock.t.Add(2*time.Minute), openErr.RetryAt)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	b := newTestBreaker(clock)

	require.Error(t, b.Execute(fail))
	require.Error(t, b.Execute(fail))
	require.NoError(t, b.Execute(succeed))
	require.Error(t, b.Execute(fail))
	require.Error(t, b.Execute(fail))

	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenProbeRecovery(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	b := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		_ = b.Execute(fail)
	}

	clock.Advance(2*time.Minute - time.Second)
	assert.True(t, IsOpen(b.Execute(succeed)))

	clock.Advance(time.Second)
	calls := 0
	require.NoError(t, b.Execute(func() error {
		calls++
		return nil
	}))
	assert.Equal(t, 1, calls)
	assert.Equal(t, HalfOpen, b.State(), "one success is below the success threshold")

	require.NoError(t, b.Execute(succeed))
	assert.Equal(t, Closed, b.State())

	snap := b.Snapshot()
	assert.Equal(t, 0, snap.SuccessCount)
	assert.Equal(t, 0, snap.FailureCount)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	b := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		_ = b.Execute(fail)
	}
	clock.Advance(2 * time.Minute)

	require.ErrorIs(t, b.Execute(fail), errPartner)
	assert.Equal(t, Open, b.State())

	snap := b.Snapshot()
	assert.Equal(t, clock.t.Add(2*time.Minute), snap.NextAttemptAt)
	assert.True(t, IsOpen(b.Execute(succeed)))
}

func TestBreaker_HalfOpenAdmitsSingleProbe(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	b := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		_ = b.Execute(fail)
	}
	clock.Advance(2 * time.Minute)

	var inner error
	err := b.Execute(func() error {
		inner = b.Execute(succeed)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, IsOpen(inner), "a second call during the probe must be rejected")
}

func TestBreaker_Defaults(t *testing.T) {
	b := New(Config{}, nil)
	assert.Equal(t, DefaultFailureThreshold, b.cfg.FailureThreshold)
	assert.Equal(t, DefaultSuccessThreshold, b.cfg.SuccessThreshold)
	assert.Equal(t, DefaultTimeout, b.cfg.Timeout)
	assert.Equal(t, "CLOSED", b.Snapshot().State)
}

func TestBreaker_FilteredErrorsAreNotCounted(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	b := newTestBreaker(clock)
	errCallerGone := errors.New("caller gone")
	notCallerGone := func(err error) bool { return !errors.Is(err, errCallerGone) }

	for i := 0; i < 5; i++ {
		err := b.ExecuteFiltered(func() error { return errCallerGone }, notCallerGone)
		require.ErrorIs(t, err, errCallerGone)
	}
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, 0, b.Snapshot().FailureCount)

	for i := 0; i < 3; i++ {
		_ = b.ExecuteFiltered(fail, notCallerGone)
	}
	assert.Equal(t, Open, b.State())
}
