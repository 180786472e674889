package svc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeStabilityReportsTransitions(t *testing.T) {
	c := NewContainer(Config{Workers: 2})
	defer c.Shutdown()

	events := c.SubscribeStability()

	name := NewName("a")
	_, err := c.NewBuilder().Provides(name).Mode(ModeActive).Instance(newFakeService()).Install()
	require.NoError(t, err)

	awaitStable(t, c)

	sawUnstable, sawStable := false, false
	deadline := time.Now().Add(time.Second)
	for (!sawUnstable || !sawStable) && time.Now().Before(deadline) {
		select {
		case ev := <-events:
			if ev.Stable {
				sawStable = true
			} else {
				sawUnstable = true
			}
		case <-time.After(10 * time.Millisecond):
		}
	}
	assert.True(t, sawUnstable, "expected at least one unstable event while installing")
	assert.True(t, sawStable, "expected a stable event once the controller settles")
}

func TestSubscribeControllerEventsReportsUp(t *testing.T) {
	c := NewContainer(Config{Workers: 2})
	defer c.Shutdown()

	events := c.SubscribeControllerEvents()

	name := NewName("a")
	_, err := c.NewBuilder().Provides(name).Mode(ModeActive).Instance(newFakeService()).Install()
	require.NoError(t, err)

	awaitStable(t, c)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-events:
			if ev.Kind == EventUp {
				assert.Equal(t, []Name{name}, ev.Provides)
				return
			}
		case <-time.After(10 * time.Millisecond):
		}
	}
	t.Fatal("never observed an UP controller event")
}

func TestEnsureInstalledDeduplicatesConcurrentCallers(t *testing.T) {
	c := NewContainer(Config{Workers: 4})
	defer c.Shutdown()

	name := NewName("shared")
	var mu sync.Mutex
	builds := 0

	build := func() *Builder {
		mu.Lock()
		builds++
		mu.Unlock()
		return c.NewBuilder().Provides(name).Mode(ModeActive).Instance(newFakeService())
	}

	const n = 8
	results := make(chan *Controller, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			ctrl, err := c.EnsureInstalled(name, build)
			results <- ctrl
			errs <- err
		}()
	}

	var first *Controller
	for i := 0; i < n; i++ {
		ctrl := <-results
		err := <-errs
		require.NoError(t, err)
		if first == nil {
			first = ctrl
		} else {
			assert.Same(t, first, ctrl, "every caller must observe the same installed controller")
		}
	}

	assert.Equal(t, 1, builds, "the builder factory must run exactly once")
}

func TestValueNamesAndControllerOfValue(t *testing.T) {
	c := NewContainer(Config{Workers: 2})
	defer c.Shutdown()

	name := NewName("a")
	ctrl, err := c.NewBuilder().Provides(name).Mode(ModeActive).Instance(newFakeService()).Install()
	require.NoError(t, err)
	awaitStable(t, c)

	assert.Contains(t, c.ValueNames(), name)
	got, ok := c.ControllerOfValue(name)
	assert.True(t, ok)
	assert.Same(t, ctrl, got)
}

func TestIsStableReflectsContainerState(t *testing.T) {
	c := NewContainer(Config{Workers: 2})
	defer c.Shutdown()

	name := NewName("a")
	_, err := c.NewBuilder().Provides(name).Mode(ModeActive).Instance(newFakeService()).Install()
	require.NoError(t, err)

	awaitStable(t, c)
	assert.True(t, c.IsStable())
}

// Config's zero value defaults to a usable container (a Workers of 0
// still gets at least one worker goroutine, DefaultMode defaults to
// ACTIVE, StabilityTimeout defaults to 30s).
func TestNewContainerDefaultsZeroConfig(t *testing.T) {
	c := NewContainer(Config{})
	defer c.Shutdown()

	assert.Equal(t, ModeActive, c.config.DefaultMode)
	assert.Equal(t, 30*time.Second, c.config.StabilityTimeout)
	assert.GreaterOrEqual(t, c.config.Workers, 1)
}

// A builder's initial mode follows Config.DefaultMode unless overridden
// by an explicit Mode() call.
func TestBuilderDefaultModeFollowsContainerConfig(t *testing.T) {
	c := NewContainer(Config{Workers: 2, DefaultMode: ModeOnDemand})
	defer c.Shutdown()

	name := NewName("a")
	ctrl, err := c.NewBuilder().Provides(name).Instance(newFakeService()).Install()
	require.NoError(t, err)

	assert.Equal(t, ModeOnDemand, ctrl.Mode())
}

func TestAwaitStabilityDefaultUsesConfiguredTimeout(t *testing.T) {
	c := NewContainer(Config{Workers: 2, StabilityTimeout: 2 * time.Second})
	defer c.Shutdown()

	name := NewName("a")
	_, err := c.NewBuilder().Provides(name).Mode(ModeActive).Instance(newFakeService()).Install()
	require.NoError(t, err)

	require.NoError(t, c.AwaitStabilityDefault())
	assert.True(t, c.IsStable())
}
