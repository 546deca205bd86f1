package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/batmon/internal/config"
	"github.com/srg/batmon/internal/radio"
	"github.com/srg/batmon/internal/registry"
	"github.com/srg/batmon/internal/testutils"
)

func newTestPlugin(mock *testutils.MockRadio) *Plugin {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	p := New(config.Default(), mock, logger)
	p.retry = retryPolicy{attempts: 3, delay: 5 * time.Millisecond}
	return p
}

// forceDue back-dates the last cycle start so the next RunCycle is not gated
func forceDue(p *Plugin) {
	p.mu.Lock()
	p.lastCycleStart = time.Now().Add(-time.Hour)
	p.mu.Unlock()
}

// assertLinkInvariant checks that a connected-family status and a cached link
// always appear together.
func assertLinkInvariant(t *testing.T, p *Plugin) {
	t.Helper()
	for _, id := range p.registry.IDs() {
		rec, ok := p.registry.Get(id)
		require.True(t, ok)

		connected := rec.Status == registry.StatusConnected || rec.Status == registry.StatusConnectedNoBatteryService
		if connected {
			assert.NotNil(t, rec.Link, "device %s: connected status requires a cached link", id)
		} else {
			assert.Nil(t, rec.Link, "device %s: status %s must not cache a link", id, rec.Status)
		}
	}
}

func TestPlugin_EndToEnd(t *testing.T) {
	// Headset exposes the battery service at 73%, Mouse is connectable but
	// has no battery profile.
	headsetLink := &testutils.MockLink{HasBatteryService: true, HasBatteryLevel: true, Battery: 73}
	mouseLink := &testutils.MockLink{}

	mock := testutils.NewMockRadio()
	mock.AddPeripheral("A1", "Headset", "aa:bb:cc:dd:ee:01", headsetLink)
	mock.AddPeripheral("B2", "Mouse", "aa:bb:cc:dd:ee:02", mouseLink)

	p := newTestPlugin(mock)
	ctx := context.Background()

	require.NoError(t, p.Initialize(ctx))
	require.NoError(t, p.RunCycle(ctx))

	rec, ok := p.registry.Get("A1")
	require.True(t, ok)
	assert.Equal(t, registry.StatusConnected, rec.Status)
	assert.Equal(t, 73, rec.BatteryPercent)
	assert.NotNil(t, rec.Link)

	rec, ok = p.registry.Get("B2")
	require.True(t, ok)
	assert.Equal(t, registry.StatusConnectedNoBatteryService, rec.Status)
	assert.Equal(t, 0, rec.BatteryPercent)
	assert.NotNil(t, rec.Link, "a missing battery profile must not drop the link")
	assert.Equal(t, 0, mouseLink.CloseCalls)
	assert.Equal(t, 1, mouseLink.DiscoverServicesCalls, "link-preserving failure is not retried")

	// Outcomes are published to the display fields in registry order
	assert.Equal(t, []string{"A1", "B2"}, p.Sensors().IDs())
	fields, _ := p.Sensors().Get("A1")
	assert.Equal(t, "Headset", fields.Name)
	assert.Equal(t, "Connected", fields.Status)
	assert.Equal(t, 73, fields.Battery)

	fields, _ = p.Sensors().Get("B2")
	assert.Equal(t, "ConnectedNoBatteryService", fields.Status)
	assert.Equal(t, 0, fields.Battery)

	assertLinkInvariant(t, p)
}

func TestPlugin_IntervalGating(t *testing.T) {
	link := &testutils.MockLink{HasBatteryService: true, HasBatteryLevel: true, Battery: 50}
	mock := testutils.NewMockRadio()
	mock.AddPeripheral("A1", "Headset", "aa:bb:cc:dd:ee:01", link)

	p := newTestPlugin(mock)
	ctx := context.Background()
	require.NoError(t, p.Initialize(ctx))
	require.NoError(t, p.RunCycle(ctx))

	callsAfterFirst := mock.PlatformCalls()
	readsAfterFirst := link.ReadCalls
	recBefore, _ := p.registry.Get("A1")

	// A second cycle before the interval elapses must be a no-op
	require.NoError(t, p.RunCycle(ctx))

	assert.Equal(t, callsAfterFirst, mock.PlatformCalls(), "gated cycle performs zero platform calls")
	assert.Equal(t, readsAfterFirst, link.ReadCalls)
	recAfter, _ := p.registry.Get("A1")
	assert.Equal(t, recBefore, recAfter, "gated cycle leaves records unchanged")
}

func TestPlugin_RetryExhaustion(t *testing.T) {
	mock := testutils.NewMockRadio()
	mock.AddPeripheral("A1", "Headset", "aa:bb:cc:dd:ee:01", nil)
	mock.DialErr["aa:bb:cc:dd:ee:01"] = radio.NewError(radio.CategoryLinkFailed, "LE session refused", nil)

	p := newTestPlugin(mock)
	ctx := context.Background()
	require.NoError(t, p.Initialize(ctx))

	start := time.Now()
	require.NoError(t, p.RunCycle(ctx))
	elapsed := time.Since(start)

	rec, ok := p.registry.Get("A1")
	require.True(t, ok)
	assert.Equal(t, registry.StatusDisconnected, rec.Status)
	assert.Equal(t, 0, rec.BatteryPercent)
	assert.Nil(t, rec.Link)

	assert.Equal(t, 3, mock.DialCalls, "exactly three connection attempts")
	assert.GreaterOrEqual(t, elapsed, 2*p.retry.delay, "attempts are spaced by the retry delay")

	assertLinkInvariant(t, p)
}

func TestPlugin_ReconnectionAfterLinkBreak(t *testing.T) {
	link := &testutils.MockLink{HasBatteryService: true, HasBatteryLevel: true, Battery: 61}
	link.ReadErr = radio.NewError(radio.CategoryReadFailed, "ATT timeout", nil)

	mock := testutils.NewMockRadio()
	mock.AddPeripheral("A1", "Headset", "aa:bb:cc:dd:ee:01", link)

	p := newTestPlugin(mock)
	ctx := context.Background()
	require.NoError(t, p.Initialize(ctx))

	// First cycle: the read keeps failing, the link is discarded.
	require.NoError(t, p.RunCycle(ctx))

	rec, _ := p.registry.Get("A1")
	assert.Equal(t, registry.StatusUnreachable, rec.Status)
	assert.Nil(t, rec.Link)
	assert.Equal(t, 1, mock.DialCalls, "retries within a cycle reuse the live link")
	assert.Equal(t, 3, link.ReadCalls)
	assert.Equal(t, 1, link.CloseCalls)

	// Second cycle: the peripheral recovered; a full resolve+dial sequence
	// must run, nothing may assume the stale link was still valid.
	link.ReadErr = nil
	forceDue(p)
	require.NoError(t, p.RunCycle(ctx))

	rec, _ = p.registry.Get("A1")
	assert.Equal(t, registry.StatusConnected, rec.Status)
	assert.Equal(t, 61, rec.BatteryPercent)
	assert.Equal(t, 2, mock.ResolveCalls)
	assert.Equal(t, 2, mock.DialCalls)

	assertLinkInvariant(t, p)
}

func TestPlugin_StaleLinkReverifiedBeforeReuse(t *testing.T) {
	link := &testutils.MockLink{HasBatteryService: true, HasBatteryLevel: true, Battery: 88}
	mock := testutils.NewMockRadio()
	mock.AddPeripheral("A1", "Headset", "aa:bb:cc:dd:ee:01", link)

	p := newTestPlugin(mock)
	ctx := context.Background()
	require.NoError(t, p.Initialize(ctx))
	require.NoError(t, p.RunCycle(ctx))
	require.Equal(t, 1, mock.DialCalls)

	// The peer silently dropped the session between cycles
	link.SetAlive(false)

	forceDue(p)
	require.NoError(t, p.RunCycle(ctx))

	rec, _ := p.registry.Get("A1")
	assert.Equal(t, registry.StatusConnected, rec.Status)
	assert.Equal(t, 2, mock.DialCalls, "stale cached link forces a reconnect")
	assert.GreaterOrEqual(t, link.CloseCalls, 1, "stale handle is disposed before redialing")

	assertLinkInvariant(t, p)
}

func TestPlugin_CancelledCycleStartsNoWork(t *testing.T) {
	link := &testutils.MockLink{HasBatteryService: true, HasBatteryLevel: true, Battery: 50}
	mock := testutils.NewMockRadio()
	mock.AddPeripheral("A1", "Headset", "aa:bb:cc:dd:ee:01", link)

	p := newTestPlugin(mock)
	require.NoError(t, p.Initialize(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.RunCycle(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, mock.PlatformCalls(), "no device work after cancellation is observed")

	rec, _ := p.registry.Get("A1")
	assert.Equal(t, registry.StatusUnknown, rec.Status, "cancelled cycle leaves records untouched")
}

func TestPlugin_ShutdownReleasesLinks(t *testing.T) {
	link := &testutils.MockLink{HasBatteryService: true, HasBatteryLevel: true, Battery: 50}
	mock := testutils.NewMockRadio()
	mock.AddPeripheral("A1", "Headset", "aa:bb:cc:dd:ee:01", link)

	p := newTestPlugin(mock)
	ctx := context.Background()
	require.NoError(t, p.Initialize(ctx))
	require.NoError(t, p.RunCycle(ctx))

	rec, _ := p.registry.Get("A1")
	require.NotNil(t, rec.Link)

	require.NoError(t, p.Shutdown(ctx))

	assert.Equal(t, 1, link.CloseCalls)
	rec, _ = p.registry.Get("A1")
	assert.Nil(t, rec.Link)

	assert.ErrorIs(t, p.RunCycle(ctx), ErrShutDown)
}

func TestPlugin_AccessDeniedSurfacedFromRead(t *testing.T) {
	link := &testutils.MockLink{HasBatteryService: true, HasBatteryLevel: true, Battery: 50}
	link.ReadErr = radio.NewError(radio.CategoryAccessDenied, "insufficient authentication", nil)

	mock := testutils.NewMockRadio()
	mock.AddPeripheral("A1", "Headset", "aa:bb:cc:dd:ee:01", link)

	p := newTestPlugin(mock)
	ctx := context.Background()
	require.NoError(t, p.Initialize(ctx))
	require.NoError(t, p.RunCycle(ctx))

	rec, ok := p.registry.Get("A1")
	require.True(t, ok)
	assert.Equal(t, registry.StatusAccessDenied, rec.Status, "a denied read surfaces as AccessDenied, not a read failure")
	assert.Nil(t, rec.Link)

	fields, _ := p.Sensors().Get("A1")
	assert.Equal(t, "AccessDenied", fields.Status)

	assertLinkInvariant(t, p)
}

func TestPlugin_ShutdownDuringDialLeaksNoLink(t *testing.T) {
	link := &testutils.MockLink{HasBatteryService: true, HasBatteryLevel: true, Battery: 50}
	mouseLink := &testutils.MockLink{HasBatteryService: true, HasBatteryLevel: true, Battery: 30}
	mock := testutils.NewMockRadio()
	mock.AddPeripheral("A1", "Headset", "aa:bb:cc:dd:ee:01", link)
	mock.AddPeripheral("B2", "Mouse", "aa:bb:cc:dd:ee:02", mouseLink)

	dialEntered := make(chan struct{})
	releaseDial := make(chan struct{})
	mock.DialHook = func(addr string) {
		close(dialEntered)
		<-releaseDial
	}

	p := newTestPlugin(mock)
	ctx := context.Background()
	require.NoError(t, p.Initialize(ctx))

	cycleErr := make(chan error, 1)
	go func() {
		cycleErr <- p.RunCycle(ctx)
	}()

	// Shut down while the dial is still in flight; the dial completes only
	// after shutdown has started tearing links down.
	<-dialEntered
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(releaseDial)
	}()
	require.NoError(t, p.Shutdown(context.Background()))

	err := <-cycleErr
	assert.ErrorIs(t, err, context.Canceled)

	rec, ok := p.registry.Get("A1")
	require.True(t, ok)
	assert.Nil(t, rec.Link, "a dial completing mid-shutdown must not install a surviving link")
	assert.Equal(t, 1, link.CloseCalls, "the late link is released exactly once")

	rec, ok = p.registry.Get("B2")
	require.True(t, ok)
	assert.Equal(t, registry.StatusUnknown, rec.Status, "no new device work starts after shutdown")
	assert.Equal(t, 1, mock.DialCalls)

	assert.ErrorIs(t, p.RunCycle(ctx), ErrShutDown)
}

func TestPlugin_DiscoveryFailureIsNonFatal(t *testing.T) {
	mock := testutils.NewMockRadio()
	mock.EnumerateErr = radio.NewError(radio.CategoryDiscoveryFailure, "bluetoothd unavailable", nil)

	p := newTestPlugin(mock)
	ctx := context.Background()

	require.NoError(t, p.Initialize(ctx), "discovery failure must never abort plugin load")
	assert.Empty(t, p.registry.IDs())
	require.NoError(t, p.RunCycle(ctx))
}

func TestPlugin_RescanReplacesDeviceSet(t *testing.T) {
	link := &testutils.MockLink{HasBatteryService: true, HasBatteryLevel: true, Battery: 50}
	mock := testutils.NewMockRadio()
	mock.AddPeripheral("A1", "Headset", "aa:bb:cc:dd:ee:01", link)

	p := newTestPlugin(mock)
	ctx := context.Background()
	require.NoError(t, p.Initialize(ctx))
	require.NoError(t, p.RunCycle(ctx))

	// The Headset is unpaired and a Keyboard shows up instead.
	keyboardLink := &testutils.MockLink{HasBatteryService: true, HasBatteryLevel: true, Battery: 90}
	mock.Peripherals = []radio.Peripheral{{ID: "C3", Name: "Keyboard"}}
	mock.Addresses["C3"] = "aa:bb:cc:dd:ee:03"
	mock.Links["aa:bb:cc:dd:ee:03"] = keyboardLink

	require.NoError(t, p.Rescan(ctx))

	assert.Equal(t, []string{"C3"}, p.registry.IDs())
	assert.Equal(t, 1, link.CloseCalls, "links of dropped devices are released on rescan")
	assert.Equal(t, []string{"C3"}, p.Sensors().IDs())

	forceDue(p)
	require.NoError(t, p.RunCycle(ctx))

	rec, _ := p.registry.Get("C3")
	assert.Equal(t, registry.StatusConnected, rec.Status)
	assert.Equal(t, 90, rec.BatteryPercent)

	assertLinkInvariant(t, p)
}

func TestPlugin_UnnamedPeripheralsIgnored(t *testing.T) {
	link := &testutils.MockLink{HasBatteryService: true, HasBatteryLevel: true, Battery: 40}
	mock := testutils.NewMockRadio()
	mock.AddPeripheral("A1", "", "aa:bb:cc:dd:ee:01", nil)
	mock.AddPeripheral("B2", "Mouse", "aa:bb:cc:dd:ee:02", link)

	p := newTestPlugin(mock)
	require.NoError(t, p.Initialize(context.Background()))

	assert.Equal(t, []string{"B2"}, p.registry.IDs())
}
