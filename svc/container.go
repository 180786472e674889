package svc

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"svccontainer/internal/worker"
	"svccontainer/pkg/logging"
)

// Container is the top-level orchestrator (§4.6): it owns the registry
// map exclusively, runs one worker pool for all fan-out in the graph,
// tracks global stability, and coordinates installation and shutdown.
type Container struct {
	mu       sync.Mutex // the "container intrinsic lock" of §5, held only briefly
	cond     *sync.Cond
	registry map[string]*registration

	config Config
	pool   *worker.Pool

	unstableServices int
	shutdownStarted  bool
	shutdownDone     bool
	remaining        int // controllers not yet REMOVED, tracked during shutdown

	listeners []ContainerListener

	// stabilitySubscribers/controllerSubscribers back SubscribeStability
	// and SubscribeControllerEvents: channel-based fan-out sugar over
	// the same events §4.5 already requires, generalized from
	// Orchestrator.SubscribeToStateChanges/publishStateChangeEvent
	// (internal/orchestrator/orchestrator.go) — a non-blocking send with
	// a buffered channel and drop-if-full policy, adding no new state.
	stabilitySubscribers  []chan StabilityEvent
	controllerSubscribers []chan ControllerEvent

	// ensureGroup backs EnsureInstalled, deduplicating concurrent
	// attempts to lazily install the same name the way the teacher's
	// oauth client deduplicates concurrent metadata fetches for the
	// same issuer (pkg/oauth/client.go's metadataGroup).
	ensureGroup singleflight.Group
}

// StabilityEvent reports a change in the container's unstable-controller
// counter (§4.6, §8).
type StabilityEvent struct {
	Stable    bool
	Unstable  int
	Timestamp time.Time
}

// ControllerEvent is a container-wide lifecycle notification, fanned
// out from every installed controller's own listener stream (§4.5,
// §6).
type ControllerEvent struct {
	Provides  []Name
	Kind      EventKind
	Timestamp time.Time
}

// ContainerListener observes container-wide events; currently only
// shutdown completion is exposed.
type ContainerListener interface {
	OnShutdownComplete()
}

// Config configures a Container, in the style of the teacher's
// reconciler.ManagerConfig: a caller fills in only the fields it cares
// about and NewContainer defaults the rest.
type Config struct {
	// Workers is the fan-out worker pool's goroutine count. Defaults to
	// 4 if not specified.
	Workers int

	// DefaultMode is the mode a Builder starts with unless its own
	// Mode() call overrides it. Defaults to ModeActive if not
	// specified — ModeRemove, the zero Mode, would never let a newly
	// installed service start, so it is never treated as an explicit
	// default.
	DefaultMode Mode

	// StabilityTimeout is the timeout AwaitStabilityDefault applies.
	// Defaults to 30 seconds if not specified.
	StabilityTimeout time.Duration
}

// withDefaults fills in zero fields, mirroring NewManager's
// apply-defaults block (internal/reconciler/manager.go).
func (cfg Config) withDefaults() Config {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.DefaultMode == ModeRemove {
		cfg.DefaultMode = ModeActive
	}
	if cfg.StabilityTimeout <= 0 {
		cfg.StabilityTimeout = 30 * time.Second
	}
	return cfg
}

// NewContainer creates a container configured by cfg, defaulting any
// zero fields (§6's Configuration surface; SPEC_FULL.md's Configuration
// section).
func NewContainer(cfg Config) *Container {
	cfg = cfg.withDefaults()
	c := &Container{
		registry: make(map[string]*registration),
		pool:     worker.New(cfg.Workers),
		config:   cfg,
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// getOrCreateRegistration implements §4.1's get_or_create: it either
// returns the existing live registration for name or inserts a fresh
// one, retrying once if the existing entry was already permanently
// removed, then marks a pending installation on the result.
func (container *Container) getOrCreateRegistration(name Name) *registration {
	key := name.String()
	container.mu.Lock()
	defer container.mu.Unlock()

	reg, ok := container.registry[key]
	if ok && reg.isRemoved() {
		ok = false
	}
	if !ok {
		reg = newRegistration(name)
		container.registry[key] = reg
	}
	reg.markPendingInstallation()
	return reg
}

func (container *Container) lookupRegistration(name Name) (*registration, bool) {
	container.mu.Lock()
	defer container.mu.Unlock()
	reg, ok := container.registry[name.String()]
	if !ok || reg.isRemoved() {
		return nil, false
	}
	return reg, true
}

// adjustStability applies delta to the unstable-controller counter and
// wakes any stability waiters once it returns to zero (§4.6, §8).
func (container *Container) adjustStability(delta int) {
	container.mu.Lock()
	container.unstableServices += delta
	unstable := container.unstableServices
	if unstable == 0 {
		container.cond.Broadcast()
	}
	container.mu.Unlock()

	container.publishStabilityEvent(unstable)
}

// SubscribeStability returns a channel that receives an event every
// time the container's unstable-controller counter changes. The
// channel is buffered; a slow subscriber has events dropped rather
// than blocking fan-out, mirroring the teacher's
// SubscribeToStateChanges policy.
func (container *Container) SubscribeStability() <-chan StabilityEvent {
	ch := make(chan StabilityEvent, 100)
	container.mu.Lock()
	container.stabilitySubscribers = append(container.stabilitySubscribers, ch)
	container.mu.Unlock()
	return ch
}

func (container *Container) publishStabilityEvent(unstable int) {
	container.mu.Lock()
	subs := append([]chan StabilityEvent(nil), container.stabilitySubscribers...)
	container.mu.Unlock()
	if len(subs) == 0 {
		return
	}
	event := StabilityEvent{Stable: unstable == 0, Unstable: unstable, Timestamp: time.Now()}
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			logging.Debug("Container", "stability subscriber blocked, dropping event")
		}
	}
}

// SubscribeControllerEvents returns a channel that receives one
// ControllerEvent for every UP/DOWN/FAILED/REMOVED transition of every
// controller installed against this container, from the moment of
// subscription on. Earlier events are not replayed, and the channel is
// buffered: a slow subscriber has events dropped rather than blocking
// fan-out.
func (container *Container) SubscribeControllerEvents() <-chan ControllerEvent {
	ch := make(chan ControllerEvent, 100)
	container.mu.Lock()
	container.controllerSubscribers = append(container.controllerSubscribers, ch)
	container.mu.Unlock()
	return ch
}

func (container *Container) publishControllerEvent(kind EventKind, c *Controller) {
	container.mu.Lock()
	subs := append([]chan ControllerEvent(nil), container.controllerSubscribers...)
	container.mu.Unlock()
	if len(subs) == 0 {
		return
	}
	event := ControllerEvent{Provides: c.Provides(), Kind: kind, Timestamp: time.Now()}
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			logging.Debug("Container", "controller-event subscriber blocked, dropping event")
		}
	}
}

// EnsureInstalled installs build's result unless a controller already
// provides name, deduplicating concurrent callers racing to lazily
// install the same service the way the teacher's oauth client
// deduplicates concurrent metadata fetches for the same issuer
// (singleflight.Group.Do in pkg/oauth/client.go).
func (container *Container) EnsureInstalled(name Name, build func() *Builder) (*Controller, error) {
	v, err, _ := container.ensureGroup.Do(name.String(), func() (interface{}, error) {
		if c, ok := container.ControllerOfValue(name); ok {
			return c, nil
		}
		return build().Install()
	})
	if err != nil {
		return nil, err
	}
	return v.(*Controller), nil
}

// AwaitStability blocks until every controller is at rest with no
// pending fan-out, or ctx is done.
func (container *Container) AwaitStability(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		container.mu.Lock()
		for container.unstableServices != 0 {
			container.cond.Wait()
		}
		container.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AwaitStabilityDefault calls AwaitStability with a context timed out
// after cfg.StabilityTimeout (§6's `awaitStability([timeout])`), for
// callers that don't need to supply their own context.
func (container *Container) AwaitStabilityDefault() error {
	ctx, cancel := context.WithTimeout(context.Background(), container.config.StabilityTimeout)
	defer cancel()
	return container.AwaitStability(ctx)
}

// IsStable reports whether the container is currently stable.
func (container *Container) IsStable() bool {
	container.mu.Lock()
	defer container.mu.Unlock()
	return container.unstableServices == 0
}

// ValueNames enumerates every name currently registered (removed
// registrations are excluded).
func (container *Container) ValueNames() []Name {
	container.mu.Lock()
	defer container.mu.Unlock()
	out := make([]Name, 0, len(container.registry))
	for _, reg := range container.registry {
		if !reg.isRemoved() {
			out = append(out, reg.name)
		}
	}
	return out
}

// ControllerOfValue returns the controller currently providing name, if
// any.
func (container *Container) ControllerOfValue(name Name) (*Controller, bool) {
	reg, ok := container.lookupRegistration(name)
	if !ok {
		return nil, false
	}
	p := reg.getProvider()
	return p, p != nil
}

// IsShutdown reports whether Shutdown has been called.
func (container *Container) IsShutdown() bool {
	container.mu.Lock()
	defer container.mu.Unlock()
	return container.shutdownStarted
}

// IsShutdownComplete reports whether every provider controller found by
// Shutdown has reached REMOVED. Controllers that provide no names are
// not removed by Shutdown and are not waited for.
func (container *Container) IsShutdownComplete() bool {
	container.mu.Lock()
	defer container.mu.Unlock()
	return container.shutdownDone
}

// AddListener registers a container-wide listener.
func (container *Container) AddListener(l ContainerListener) {
	container.mu.Lock()
	container.listeners = append(container.listeners, l)
	container.mu.Unlock()
}

// Shutdown is monotonic (§4.6): it collects every registration's
// provider under the intrinsic lock, then forces REMOVE on each of them
// outside it, and shuts the worker pool down once the last of those
// providers reaches REMOVED.
func (container *Container) Shutdown() {
	container.mu.Lock()
	if container.shutdownStarted {
		container.mu.Unlock()
		return
	}
	container.shutdownStarted = true
	var providers []*Controller
	seen := make(map[*Controller]bool)
	for _, reg := range container.registry {
		if p := reg.getProvider(); p != nil && !seen[p] {
			seen[p] = true
			providers = append(providers, p)
		}
	}
	container.remaining = len(providers)
	allDown := container.remaining == 0
	container.mu.Unlock()

	logging.Info("Container", "shutdown initiated, %d providers to remove", len(providers))

	if allDown {
		container.finishShutdown()
		return
	}
	for _, p := range providers {
		p.AddListener(ListenerFunc(func(kind EventKind, _ *Controller) {
			if kind != EventRemoved {
				return
			}
			container.mu.Lock()
			container.remaining--
			done := container.remaining <= 0
			container.mu.Unlock()
			if done {
				container.finishShutdown()
			}
		}))
		p.SetMode(ModeRemove)
	}
}

// finishShutdown may be invoked from a worker-pool goroutine (the last
// controller's REMOVED listener is itself dispatched through the pool),
// so the actual pool.Shutdown()/wg.Wait() must not run on the calling
// goroutine: a worker blocked waiting for every worker to exit,
// including itself, would never unblock. Finishing on a plain goroutine
// avoids that self-deadlock; AwaitTermination's condvar wait already
// tolerates the signal arriving slightly later.
func (container *Container) finishShutdown() {
	container.mu.Lock()
	if container.shutdownDone {
		container.mu.Unlock()
		return
	}
	container.shutdownDone = true
	listeners := append([]ContainerListener(nil), container.listeners...)
	container.mu.Unlock()

	go func() {
		container.pool.Shutdown()

		container.mu.Lock()
		container.cond.Broadcast()
		container.mu.Unlock()

		for _, l := range listeners {
			l.OnShutdownComplete()
		}
		logging.Info("Container", "shutdown complete")
	}()
}

// AwaitTermination blocks until shutdown has completed, or ctx is done.
func (container *Container) AwaitTermination(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		container.mu.Lock()
		for !container.shutdownDone {
			container.cond.Wait()
		}
		container.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
