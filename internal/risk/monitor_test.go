package risk

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMonitor(t *testing.T, l Limits) (*Monitor, *CircuitBreaker) {
	t.Helper()
	breaker := NewCircuitBreaker(nil, zerolog.Nop())
	m, err := NewMonitor(l, breaker, nil, zerolog.Nop())
	require.NoError(t, err)
	return m, breaker
}

func TestLimitsValidate(t *testing.T) {
	require.NoError(t, DefaultLimits().Validate())

	bad := DefaultLimits()
	bad.MaxDrawdownPct = 0
	assert.Error(t, bad.Validate())

	bad = DefaultLimits()
	bad.MaxExposure = -1
	assert.Error(t, bad.Validate())

	_, err := NewMonitor(Limits{}, NewCircuitBreaker(nil, zerolog.Nop()), nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestSmallDrawdownStaysSafe(t *testing.T) {
	m, breaker := newTestMonitor(t, DefaultLimits()) // 2% drawdown limit

	m.OnAccountUpdate(100_000, 100_000, 0)
	for i := 0; i < 10; i++ {
		// Oscillate under 1% drawdown from the 100k peak.
		equity := 100_000 - float64(i%3)*300
		snap := m.OnAccountUpdate(100_000, equity, 0)
		assert.True(t, m.IsSafe(), "tick %d must stay safe", i)
		assert.Less(t, snap.DrawdownPct, 1.0)
		assert.Equal(t, AlertNormal, snap.Alert)
	}
	assert.False(t, breaker.State().Engaged)
	assert.Equal(t, 0, breaker.State().Engagements)
}

func TestDrawdownBreachEngagesOnFirstTick(t *testing.T) {
	m, breaker := newTestMonitor(t, DefaultLimits()) // 2% drawdown limit

	m.OnAccountUpdate(100_000, 100_000, 0)
	require.True(t, m.IsSafe())

	snap := m.OnAccountUpdate(100_000, 97_500, 0) // 2.5% from peak
	assert.InDelta(t, 2.5, snap.DrawdownPct, 1e-9)
	assert.False(t, m.IsSafe(), "first breaching tick must halt trading")
	assert.Equal(t, AlertCritical, snap.Alert)

	state := breaker.State()
	assert.True(t, state.Engaged)
	assert.Contains(t, state.Reason, "drawdown")
	assert.Equal(t, "drawdown", state.Metadata["metric"])
}

func TestLeverageBreachCarriesLeverageReason(t *testing.T) {
	m, breaker := newTestMonitor(t, DefaultLimits()) // 5x leverage limit

	// 450k exposure on an 80k balance is 5.625x, under the exposure limit.
	snap := m.OnAccountUpdate(80_000, 80_000, 450_000)
	assert.InDelta(t, 5.625, snap.Leverage, 1e-9)
	assert.False(t, m.IsSafe())

	state := breaker.State()
	assert.Contains(t, state.Reason, "leverage")
	assert.NotContains(t, state.Reason, "drawdown")
	assert.Equal(t, "leverage", state.Metadata["metric"])
}

func TestBreakerLatchesUntilDisengaged(t *testing.T) {
	m, breaker := newTestMonitor(t, DefaultLimits())

	m.OnAccountUpdate(100_000, 100_000, 0)
	m.OnAccountUpdate(100_000, 97_000, 0) // breach
	require.False(t, m.IsSafe())

	// Healthy ticks must not clear the latch.
	for i := 0; i < 5; i++ {
		m.OnAccountUpdate(100_000, 100_000, 0)
		assert.False(t, m.IsSafe(), "good tick %d must not clear the breaker", i)
	}

	require.NoError(t, breaker.Disengage("ops-alice"))
	assert.True(t, m.IsSafe())
	assert.Equal(t, "ops-alice", breaker.State().ClearedBy)

	for i := 0; i < 5; i++ {
		snap := m.OnAccountUpdate(100_000, 100_000, 0)
		assert.True(t, m.IsSafe())
		assert.Equal(t, AlertNormal, snap.Alert)
	}
}

func TestDisengageWhenNotEngaged(t *testing.T) {
	breaker := NewCircuitBreaker(nil, zerolog.Nop())
	assert.ErrorIs(t, breaker.Disengage("ops"), ErrNotEngaged)
}

func TestRepeatedEngageKeepsFirstReason(t *testing.T) {
	breaker := NewCircuitBreaker(nil, zerolog.Nop())
	breaker.Engage("first breach", map[string]string{"metric": "drawdown"})
	breaker.Engage("second breach", map[string]string{"metric": "leverage"})

	state := breaker.State()
	assert.Equal(t, "first breach", state.Reason)
	assert.Equal(t, "drawdown", state.Metadata["metric"])
	assert.Equal(t, 2, state.Engagements)
}

func TestWarningLevelBeforeBreach(t *testing.T) {
	m, breaker := newTestMonitor(t, DefaultLimits()) // warns above 1.6% drawdown

	m.OnAccountUpdate(100_000, 100_000, 0)
	snap := m.OnAccountUpdate(100_000, 98_200, 0) // 1.8%
	assert.Equal(t, AlertWarning, snap.Alert)
	assert.True(t, m.IsSafe(), "a warning is not a halt")
	assert.False(t, breaker.State().Engaged)

	snap = m.OnAccountUpdate(100_000, 99_900, 0) // back under the warning band
	assert.Equal(t, AlertNormal, snap.Alert)
}

func TestPositionSizeLimit(t *testing.T) {
	m, breaker := newTestMonitor(t, DefaultLimits()) // 100k per position

	m.OnPositionUpdate("BTCUSDT", 90_000)
	assert.True(t, m.IsSafe())

	m.OnPositionUpdate("BTCUSDT", 150_000)
	assert.False(t, m.IsSafe())
	assert.Contains(t, breaker.State().Reason, "position size")
	assert.Equal(t, "BTCUSDT", breaker.State().Metadata["symbol"])
}

func TestValidateNotional(t *testing.T) {
	m, _ := newTestMonitor(t, DefaultLimits())
	assert.NoError(t, m.ValidateNotional(99_999))
	assert.Error(t, m.ValidateNotional(100_001))
}

func TestFailSafeOnZeroBalanceExposure(t *testing.T) {
	m, breaker := newTestMonitor(t, DefaultLimits())

	snap := m.OnAccountUpdate(0, 0, 10_000)
	assert.Equal(t, AlertCritical, snap.Alert)
	assert.False(t, m.IsSafe())
	assert.Contains(t, breaker.State().Reason, "zero balance")
}

func TestSignatureRoundTrip(t *testing.T) {
	sig := Sign("order-1", "BTCUSDT", "BUY", 0.5, 50_000)
	assert.Len(t, sig.Hash, 64)

	encoded := sig.Encode()
	back, err := DecodeSignature(encoded)
	require.NoError(t, err)
	assert.Equal(t, sig.Hash, back.Hash)
	assert.Equal(t, sig.IssuedAt.UnixMilli(), back.IssuedAt.UnixMilli())
}

func TestDecodeSignatureRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "nodot", ".123", "abc.", "abc.xyz"} {
		_, err := DecodeSignature(in)
		assert.Error(t, err, fmt.Sprintf("input %q", in))
	}
}
