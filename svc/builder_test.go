package svc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstallRejectsNilService(t *testing.T) {
	c := NewContainer(Config{Workers: 2})
	defer c.Shutdown()

	_, err := c.NewBuilder().Provides(NewName("a")).Install()
	require.Error(t, err)
	assert.True(t, IsConfigError(err, "nil_argument"))
}

func TestInstallRejectsSameNameRequiredAndProvided(t *testing.T) {
	c := NewContainer(Config{Workers: 2})
	defer c.Shutdown()

	name := NewName("a")
	_, err := c.NewBuilder().Provides(name).Requires(name).Instance(newFakeService()).Install()
	require.Error(t, err)
	assert.True(t, IsConfigError(err, "require_provide_same_name"))
}

func TestInstallRejectsDuplicateProvider(t *testing.T) {
	c := NewContainer(Config{Workers: 2})
	defer c.Shutdown()

	name := NewName("a")
	_, err := c.NewBuilder().Provides(name).Mode(ModeActive).Instance(newFakeService()).Install()
	require.NoError(t, err)

	_, err = c.NewBuilder().Provides(name).Mode(ModeActive).Instance(newFakeService()).Install()
	require.Error(t, err)
	assert.True(t, IsConfigError(err, "duplicate_provider"))
}

func TestInstallIsSingleUse(t *testing.T) {
	c := NewContainer(Config{Workers: 2})
	defer c.Shutdown()

	b := c.NewBuilder().Provides(NewName("a")).Mode(ModeActive).Instance(newFakeService())
	_, err := b.Install()
	require.NoError(t, err)

	_, err = b.Install()
	require.Error(t, err)
	assert.True(t, IsConfigError(err, "already_installed"))
}

// §6/§7: a Builder touched from a goroutine other than the one that
// created it is a configuration error, not a race to paper over.
func TestInstallRejectsForeignThreadBuilder(t *testing.T) {
	c := NewContainer(Config{Workers: 2})
	defer c.Shutdown()

	b := c.NewBuilder().Provides(NewName("a")).Mode(ModeActive).Instance(newFakeService())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.AddListener(ListenerFunc(func(EventKind, *Controller) {}))
	}()
	wg.Wait()

	_, err := b.Install()
	require.Error(t, err)
	assert.True(t, IsConfigError(err, "foreign_thread_builder"))
}

func TestAggregationServiceProvidesNothing(t *testing.T) {
	c := NewContainer(Config{Workers: 2})
	defer c.Shutdown()

	dep := NewName("dep")
	_, err := c.NewBuilder().Provides(dep).Mode(ModeActive).Instance(newFakeService()).Install()
	require.NoError(t, err)

	aggregator, err := c.NewBuilder().Requires(dep).Mode(ModeActive).Instance(newFakeService()).Install()
	require.NoError(t, err)

	awaitStable(t, c)

	assert.Empty(t, aggregator.Provides())
	assert.Equal(t, Up, aggregator.State())
}
