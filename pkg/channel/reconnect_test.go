package channel

import (
	"testing"
	"time"

	"github.com/aretw0/prdflow/internal/testutils"
	"github.com/aretw0/prdflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestReconnector_DelaySequence(t *testing.T) {
	clock := testutils.NewFakeClock(epoch)
	r := NewReconnector(Policy{Base: time.Second, Max: 10 * time.Second}, clock)

	var got []time.Duration
	for i := 0; i < 6; i++ {
		delay, ok := r.Closed(CloseAbnormal, func() {})
		require.True(t, ok)
		got = append(got, delay)
		clock.Advance(delay)
	}

	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second,
		8 * time.Second, 10 * time.Second, 10 * time.Second,
	}, got)
	assert.Equal(t, 6, r.Attempts())
}

func TestReconnector_ResetOnConnected(t *testing.T) {
	clock := testutils.NewFakeClock(epoch)
	r := NewReconnector(Policy{Base: time.Second, Max: 10 * time.Second}, clock)

	for i := 0; i < 3; i++ {
		d, _ := r.Closed(CloseAbnormal, func() {})
		clock.Advance(d)
	}
	r.Connected()
	assert.Equal(t, 0, r.Attempts())

	d, ok := r.Closed(CloseAbnormal, func() {})
	require.True(t, ok)
	assert.Equal(t, time.Second, d)
}

func TestReconnector_DeliberateCloseNeverReconnects(t *testing.T) {
	clock := testutils.NewFakeClock(epoch)
	r := NewReconnector(DefaultPolicy(), clock)

	_, ok := r.Closed(CloseNormal, func() { t.Fatal("dial must not run") })
	assert.False(t, ok)
	assert.Equal(t, 0, clock.Pending())
}

func TestReconnector_CooldownPushesScheduledAttempt(t *testing.T) {
	clock := testutils.NewFakeClock(epoch)
	r := NewReconnector(DefaultPolicy(), clock)

	require.NoError(t, r.BeginAttempt())
	clock.Advance(500 * time.Millisecond)

	d, ok := r.Closed(CloseAbnormal, func() {})
	require.True(t, ok)
	assert.Equal(t, 2500*time.Millisecond, d)
}

func TestReconnector_ManualAttemptInsideCooldown(t *testing.T) {
	clock := testutils.NewFakeClock(epoch)
	r := NewReconnector(DefaultPolicy(), clock)

	require.NoError(t, r.BeginAttempt())
	clock.Advance(2 * time.Second)
	assert.ErrorIs(t, r.BeginAttempt(), domain.ErrCooldown)

	clock.Advance(time.Second)
	assert.NoError(t, r.BeginAttempt())
}

func TestReconnector_OnlyOnePendingRetry(t *testing.T) {
	clock := testutils.NewFakeClock(epoch)
	r := NewReconnector(DefaultPolicy(), clock)

	_, ok := r.Closed(CloseAbnormal, func() {})
	require.True(t, ok)
	_, ok = r.Closed(CloseAbnormal, func() {})
	assert.False(t, ok)
	assert.Equal(t, 1, clock.Pending())
}

func TestReconnector_StopCancelsAndIsIdempotent(t *testing.T) {
	clock := testutils.NewFakeClock(epoch)
	r := NewReconnector(DefaultPolicy(), clock)

	fired := false
	_, ok := r.Closed(CloseAbnormal, func() { fired = true })
	require.True(t, ok)
	require.True(t, r.Pending())

	r.Stop()
	r.Stop()

	assert.False(t, r.Pending())
	assert.Equal(t, 0, clock.Pending())
	clock.Advance(time.Minute)
	assert.False(t, fired)

	_, ok = r.Closed(CloseAbnormal, func() {})
	assert.False(t, ok)
	assert.ErrorIs(t, r.BeginAttempt(), ErrReconnectStopped)
}

func TestReconnector_ScheduleHook(t *testing.T) {
	clock := testutils.NewFakeClock(epoch)
	var attempts []int
	r := NewReconnector(Policy{Base: time.Second, Max: 4 * time.Second}, clock,
		WithScheduleHook(func(attempt int, _ time.Duration) { attempts = append(attempts, attempt) }))

	for i := 0; i < 2; i++ {
		d, _ := r.Closed(CloseAbnormal, func() {})
		clock.Advance(d)
	}
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestPolicy_Defaults(t *testing.T) {
	p := Policy{}.withDefaults()
	assert.Equal(t, time.Second, p.Base)
	assert.Equal(t, 10*time.Second, p.Max)
	assert.Equal(t, time.Duration(0), p.Cooldown)
}
