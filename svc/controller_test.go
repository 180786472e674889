package svc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetModeSameModeIsNoOpAndReturnsTrue(t *testing.T) {
	c := NewContainer(Config{Workers: 2})
	defer c.Shutdown()

	name := NewName("a")
	ctrl, err := c.NewBuilder().Provides(name).Mode(ModeActive).Instance(newFakeService()).Install()
	require.NoError(t, err)
	awaitStable(t, c)

	assert.True(t, ctrl.SetMode(ModeActive))
	assert.Equal(t, ModeActive, ctrl.Mode())
}

func TestSetModeAfterRemoveIsRejected(t *testing.T) {
	c := NewContainer(Config{Workers: 2})
	defer c.Shutdown()

	name := NewName("a")
	ctrl, err := c.NewBuilder().Provides(name).Mode(ModeActive).Instance(newFakeService()).Install()
	require.NoError(t, err)
	awaitStable(t, c)

	ctrl.SetMode(ModeRemove)
	awaitStable(t, c)

	assert.False(t, ctrl.SetMode(ModeActive), "mode can never move away from REMOVE")
}

func TestRetryRestartsAFailedService(t *testing.T) {
	c := NewContainer(Config{Workers: 2})
	defer c.Shutdown()

	name := NewName("flaky")
	svc := newFakeService().withStartErr(assertErr)
	ctrl, err := c.NewBuilder().Provides(name).Mode(ModeActive).Instance(svc).Install()
	require.NoError(t, err)

	awaitStable(t, c)
	require.Equal(t, StartFailed, ctrl.State())
	require.Error(t, ctrl.Reason())

	svc.mu.Lock()
	svc.startErr = nil
	svc.mu.Unlock()

	ctrl.Retry()
	awaitStable(t, c)

	assert.Equal(t, Up, ctrl.State())
	assert.NoError(t, ctrl.Reason())
}

func TestLateJoiningListenerReceivesSyntheticReplay(t *testing.T) {
	c := NewContainer(Config{Workers: 2})
	defer c.Shutdown()

	name := NewName("a")
	ctrl, err := c.NewBuilder().Provides(name).Mode(ModeActive).Instance(newFakeService()).Install()
	require.NoError(t, err)
	awaitStable(t, c)
	require.Equal(t, Up, ctrl.State())

	l := &recordingListener{}
	ctrl.AddListener(l)

	assert.Equal(t, []EventKind{EventUp}, l.snapshot())
}

func TestOptionalDependencyNeverBlocksStart(t *testing.T) {
	c := NewContainer(Config{Workers: 2})
	defer c.Shutdown()

	missing := NewName("missing-thing")
	name := NewName("a")
	ctrl, err := c.NewBuilder().
		Provides(name).
		RequiresOptional(missing).
		Mode(ModeActive).
		Instance(newFakeService()).
		Install()
	require.NoError(t, err)

	awaitStable(t, c)

	assert.Equal(t, Up, ctrl.State(), "an optional dependency's absence must never force PROBLEM")
	assert.Contains(t, ctrl.Requires(), missing)
}

// A failed optional dependency must never force PROBLEM either — only
// a missing one is covered by TestOptionalDependencyNeverBlocksStart.
// §3: "optional masks the provider's existence... missing is equivalent
// to present-but-DOWN"; a failed provider behind an optional link is
// still just DOWN from this dependent's point of view.
func TestOptionalDependencyFailureNeverBlocksStart(t *testing.T) {
	c := NewContainer(Config{Workers: 2})
	defer c.Shutdown()

	b := NewName("b")
	bSvc := newFakeService().withStartErr(assertErr)
	bCtrl, err := c.NewBuilder().Provides(b).Mode(ModeActive).Instance(bSvc).Install()
	require.NoError(t, err)

	a := NewName("a")
	aCtrl, err := c.NewBuilder().
		Provides(a).
		RequiresOptional(b).
		Mode(ModeActive).
		Instance(newFakeService()).
		Install()
	require.NoError(t, err)

	awaitStable(t, c)

	assert.Equal(t, StartFailed, bCtrl.State())
	assert.Equal(t, Up, aCtrl.State(), "a failed optional dependency must never force PROBLEM")
}

func TestProvideOutsideStartWindowIsIllegalState(t *testing.T) {
	c := NewContainer(Config{Workers: 2})
	defer c.Shutdown()

	name := NewName("a")
	ctrl, err := c.NewBuilder().Provides(name).Mode(ModeActive).Instance(newFakeService()).Install()
	require.NoError(t, err)
	awaitStable(t, c)
	require.Equal(t, Up, ctrl.State())

	err = ctrl.provide(name, "too-late")
	require.Error(t, err)
	var ise *IllegalStateError
	assert.ErrorAs(t, err, &ise)
}

func TestAsyncStartOnlyCompletesOnExplicitComplete(t *testing.T) {
	c := NewContainer(Config{Workers: 2})
	defer c.Shutdown()

	name := NewName("a")
	svc := newFakeService()
	svc.async = true
	svc.startGate = make(chan struct{})

	ctrl, err := c.NewBuilder().Provides(name).Mode(ModeActive).Instance(svc).Install()
	require.NoError(t, err)

	// The controller must not reach UP while the async start is pending.
	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		if ctrl.State() == Up {
			t.Fatal("controller reached UP before the async start was completed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, Starting, ctrl.State())

	close(svc.startGate)
	awaitStable(t, c)
	assert.Equal(t, Up, ctrl.State())
}

func TestControllerOfValueUnknownNameReturnsFalse(t *testing.T) {
	c := NewContainer(Config{Workers: 2})
	defer c.Shutdown()

	_, ok := c.ControllerOfValue(NewName("nope"))
	assert.False(t, ok)
}

func TestSnapshotReportsCountersAndMissing(t *testing.T) {
	c := NewContainer(Config{Workers: 2})
	defer c.Shutdown()

	missing := NewName("x")
	name := NewName("a")
	ctrl, err := c.NewBuilder().Provides(name).Requires(missing).Mode(ModeActive).Instance(newFakeService()).Install()
	require.NoError(t, err)

	awaitStable(t, c)

	snap := ctrl.Snapshot()
	assert.Equal(t, Problem, snap.State)
	assert.Equal(t, []Name{missing}, snap.Missing)
	assert.Equal(t, 1, snap.UnavailableDependencies)
	assert.Equal(t, ModeActive, snap.Mode)
}

// assertErr is a sentinel start failure used across tests in this file.
var assertErr = context.DeadlineExceeded
