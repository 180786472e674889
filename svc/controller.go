package svc

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"svccontainer/pkg/logging"
)

// Controller is the per-service state machine described in §3/§4.2. It
// is the hardest piece of the engine: every neighbor notification
// mutates its counters under c.mu, then collectTransitionTasks selects
// the next legal transition (chaining further ones only while no fan-out
// is produced) and the fan-out it requires. Requires
// and Provides reference registrations directly rather than by name,
// which is why Controller and registration share this package instead
// of being split across an import boundary — the graph they form is
// genuinely cyclic (a registration points at its dependents'
// controllers; a dependent controller points back at the registration
// through its dependency link) and Go forbids that across packages.
type Controller struct {
	mu sync.Mutex

	id        uuid.UUID
	container *Container
	service   Service

	mode  Mode
	state Substate

	requires []*dependencyLink
	provides map[*registration]*valueCell

	unavailableDependencies int
	stoppingDependencies    int
	runningDependents       int
	demandedByCount         int
	failCount               int
	dependenciesDemanded    bool
	startException          error

	asyncTasks int
	execFlags  [numExecFlags]execFlagState

	listenerTransitionTasks []func()
	listeners               []Listener

	committed bool
}

func newController(container *Container, service Service, mode Mode) *Controller {
	return &Controller{
		id:        uuid.New(),
		container: container,
		service:   service,
		mode:      mode,
		state:     New,
		provides:  make(map[*registration]*valueCell),
	}
}

// commitInstallation marks the controller committed (§4.6's
// commitInstallation) and drives it out of NEW. Existing dependents
// that attached before commit — and were synchronously told
// dependencyUnavailable by registration.addDependent — now see the
// committed provider via a DependencyAvailable fan-out.
//
// Before this runs, Builder.Install has already synchronously attached
// every required link (registration.addDependent's newDependent replay
// calls straight into onDependencyStarted/onDependencyUnavailable/etc.
// on this very controller), so each link's l.up already reflects
// whether its target was already UP at attach time. The transition
// selector itself stays inert until c.committed flips true
// (collectTransitionTasks' guard), so none of those pre-commit
// notifications could have moved c out of NEW early; they only updated
// counters. Seeding stoppingDependencies here must therefore count only
// the direct links that are NOT already up — seeding it from the raw
// link count would overcount an already-satisfied dependency and the
// controller would never see stoppingDependencies reach zero.
//
// This does not call collectTransitionTasks itself: the availability
// fan-out below is dispatched through the worker pool, and its
// completion (dispatch's own wrapper) calls drainAndUnlock once
// asyncTasks drops back to zero — that is what takes the now-committed
// controller through its very first transition (NEW -> DOWN and
// whatever chains after it).
func (c *Controller) commitInstallation() {
	c.mu.Lock()
	c.committed = true
	c.seedStoppingDependenciesLocked()

	tasks := []pendingTask{c.dependentsTask(flagAvailable, func(dep *Controller, link *dependencyLink) {
		link.notifyAvailable(dep)
	})}
	c.asyncTasks += len(tasks)
	unstable := c.isUnstableLocked()
	c.mu.Unlock()

	if unstable {
		c.container.adjustStability(1)
	}
	c.dispatch(tasks)
}

func (c *Controller) seedStoppingDependenciesLocked() {
	n := 0
	for _, l := range c.requires {
		if l.kind == linkDirect && !l.up {
			n++
		}
	}
	c.stoppingDependencies = n
}

// providesRegistrations returns the registrations this controller
// provides, for cycle detection's dependent-direction DFS (§4.6).
func (c *Controller) providesRegistrations() []*registration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*registration, 0, len(c.provides))
	for reg := range c.provides {
		out = append(out, reg)
	}
	return out
}

func (c *Controller) isAggregationService() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.provides) == 0
}

// --- Public API (§6) ---

// Mode returns the controller's current mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetMode changes the controller's mode and re-evaluates its
// transitions. Setting the current mode is a no-op that returns true,
// matching §8's idempotence property. REMOVE is terminal: once set, it
// can never be changed away from.
func (c *Controller) SetMode(mode Mode) bool {
	c.mu.Lock()
	if c.mode == mode {
		c.mu.Unlock()
		return true
	}
	if c.mode == ModeRemove {
		c.mu.Unlock()
		return false
	}
	c.mode = mode
	c.drainAndUnlock()
	return true
}

// State returns the controller's current substate.
func (c *Controller) State() Substate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Requires returns the names this controller depends on.
func (c *Controller) Requires() []Name {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Name, len(c.requires))
	for i, l := range c.requires {
		out[i] = l.name
	}
	return out
}

// Provides returns the names this controller provides.
func (c *Controller) Provides() []Name {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Name, 0, len(c.provides))
	for reg := range c.provides {
		out = append(out, reg.name)
	}
	return out
}

// Missing returns the subset of required names currently unavailable.
func (c *Controller) Missing() []Name {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Name
	for _, l := range c.requires {
		if !l.available {
			out = append(out, l.name)
		}
	}
	return out
}

// Reason returns the cause of the last start failure, or nil.
func (c *Controller) Reason() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startException
}

// AddListener registers l. If the controller has already settled into
// a rest state with a corresponding event (DOWN/UP/FAILED/REMOVED), l
// immediately receives one synthetic replay of it (§6).
func (c *Controller) AddListener(l Listener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	kind, ok := c.syntheticEventLocked()
	c.mu.Unlock()
	if ok {
		l.Notify(kind, c)
	}
}

// RemoveListener unregisters l.
func (c *Controller) RemoveListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.listeners {
		if existing == l {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return
		}
	}
}

func (c *Controller) syntheticEventLocked() (EventKind, bool) {
	switch c.state {
	case Up:
		return EventUp, true
	case Down, Problem:
		return EventDown, true
	case StartFailed:
		return EventFailed, true
	case Removed:
		return EventRemoved, true
	default:
		return 0, false
	}
}

// Retry clears a START_FAILED controller's recorded cause and schedules
// a retry attempt (§7, §9's explicit-retry-only resolution).
func (c *Controller) Retry() {
	c.mu.Lock()
	if c.state != StartFailed {
		c.mu.Unlock()
		return
	}
	before := c.isUnstableLocked()
	c.startException = nil
	c.resetExecFlags()
	// Retrying fans out to dependents (the DEPENDENCY_RETRYING member of
	// §4.5's dependents-task family) and forces STARTING directly,
	// bypassing the ordinary selector's START_FAILED branch, which only
	// ever reaches DOWN on its own (§9's explicit-retry-only resolution).
	retryFanout := c.dependentsTask(flagRetrying, func(dep *Controller, link *dependencyLink) {
		link.notifyRetrying(dep)
	})
	tasks := append([]pendingTask{retryFanout}, c.enterState(Starting)...)
	c.asyncTasks += len(tasks)
	after := c.isUnstableLocked()
	c.mu.Unlock()

	if before != after {
		if after {
			c.container.adjustStability(1)
		} else {
			c.container.adjustStability(-1)
		}
	}
	c.dispatch(tasks)
}

// --- Neighbor notifications (§4.1, §4.2) ---

func (c *Controller) onDemandAdded() {
	c.mu.Lock()
	c.demandedByCount++
	c.drainAndUnlock()
}

func (c *Controller) onDemandRemoved() {
	c.mu.Lock()
	if c.demandedByCount > 0 {
		c.demandedByCount--
	}
	c.drainAndUnlock()
}

func (c *Controller) onDependentStarted() {
	c.mu.Lock()
	c.runningDependents++
	c.drainAndUnlock()
}

func (c *Controller) onDependentStopped() {
	c.mu.Lock()
	if c.runningDependents > 0 {
		c.runningDependents--
	}
	c.drainAndUnlock()
}

// onDependencyUnavailable fires the 0→N style boundary for a direct
// required link whose registration lost its provider. It also owns the
// write to l.available for both link kinds: that flag is read by
// Missing() under this same lock from other goroutines, so it must
// never be written outside of it.
func (c *Controller) onDependencyUnavailable(l *dependencyLink) {
	c.mu.Lock()
	l.available = false
	if l.kind == linkDirect {
		c.unavailableDependencies++
		if l.up {
			l.up = false
			c.stoppingDependencies++
		}
	}
	c.drainAndUnlock()
}

func (c *Controller) onDependencyAvailable(l *dependencyLink) {
	c.mu.Lock()
	l.available = true
	if l.kind == linkDirect {
		if c.unavailableDependencies > 0 {
			c.unavailableDependencies--
		}
	}
	c.drainAndUnlock()
}

func (c *Controller) onDependencyStarted(l *dependencyLink) {
	c.mu.Lock()
	if !l.up {
		l.up = true
		if c.stoppingDependencies > 0 {
			c.stoppingDependencies--
		}
	}
	c.drainAndUnlock()
}

func (c *Controller) onDependencyStopped(l *dependencyLink) {
	c.mu.Lock()
	if l.up {
		l.up = false
		c.stoppingDependencies++
	}
	c.drainAndUnlock()
}

// onDependencyFailed counts a direct link's provider failing toward
// fail_count, which forces DOWN->PROBLEM (§4.2). An optional link never
// touches fail_count, so a failed optional dependency leaves this
// controller's counters and Missing() unchanged and can never block its
// own dependent's start (§3).
func (c *Controller) onDependencyFailed(l *dependencyLink) {
	c.mu.Lock()
	if l.kind == linkDirect && !l.failedCounted {
		l.failedCounted = true
		c.failCount++
	}
	c.drainAndUnlock()
}

func (c *Controller) onDependencyRetrying(l *dependencyLink) {
	c.mu.Lock()
	if l.kind == linkDirect && l.failedCounted {
		l.failedCounted = false
		if c.failCount > 0 {
			c.failCount--
		}
	}
	c.drainAndUnlock()
}

// --- Start/Stop execution (§4.4) ---

func (c *Controller) startTask() pendingTask {
	return pendingTask{selfManaged: true, run: func() {
		ctx := &StartContext{c: c}
		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("svc: start panicked: %v", r)
				}
			}()
			err = c.service.Start(ctx)
		}()
		if !ctx.isAsync() {
			ctx.resolve(err, false)
		}
	}}
}

func (c *Controller) stopTask() pendingTask {
	return pendingTask{selfManaged: true, run: func() {
		ctx := &StopContext{c: c}
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.Error("Controller", fmt.Errorf("%v", r), "stop panicked for %s", c.id)
				}
			}()
			if err := c.service.Stop(ctx); err != nil {
				logging.Error("Controller", err, "stop returned an error for %s", c.id)
			}
		}()
		if !ctx.isAsync() {
			ctx.resolve(false)
		}
	}}
}

func (c *Controller) provide(name Name, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Starting && c.state != Stopping {
		return errIllegalState("svc: Provide called outside the start/stop window")
	}
	for reg, cell := range c.provides {
		if reg.name.Equal(name) {
			cell.set(value)
			return nil
		}
	}
	return errNotFound(name)
}

// completeStart finishes the STARTING window: on success it verifies
// every provided cell is defined (converting a missing one to a
// failure, §4.4), on failure it clears every cell before fan-out.
func (c *Controller) completeStart(err error) {
	c.mu.Lock()
	if err == nil {
		for _, cell := range c.provides {
			if _, ok := cell.get(); !ok {
				err = errIllegalState("svc: start completed without providing every declared value")
				break
			}
		}
	}
	if err != nil {
		c.clearProvidedValuesLocked()
	}
	c.startException = err
	if c.asyncTasks > 0 {
		c.asyncTasks--
	}
	c.drainAndUnlock()
}

func (c *Controller) completeStop() {
	c.mu.Lock()
	if c.asyncTasks > 0 {
		c.asyncTasks--
	}
	c.drainAndUnlock()
}
