package svc

import "svccontainer/pkg/logging"

// execFlagKind indexes the exec_flags bitset (§4.2, §4.3): one
// scheduled/completed pair per dependents-task kind this controller can
// fan out to its own dependents when acting as their dependency.
type execFlagKind int

const (
	flagAvailable execFlagKind = iota
	flagUnavailable
	flagStarted
	flagStopped
	flagFailed
	flagRetrying
	numExecFlags
)

type execFlagState struct {
	scheduled bool
	completed bool
}

// pendingTask is one unit of fan-out generated while the controller
// lock is held; run executes outside every lock, and flag/hasFlag (when
// set) is marked completed by the dispatch loop once run returns, per
// the exec_flags discipline in §4.3.
type pendingTask struct {
	run     func()
	flag    execFlagKind
	hasFlag bool
	// selfManaged is set on the Starting/Stopping tasks, whose
	// completion may arrive long after run() returns (the Service
	// called Asynchronous()). Such tasks decrement asyncTasks and
	// re-drain themselves via completeStart/completeStop instead of
	// letting the dispatch loop do it immediately after run() returns.
	selfManaged bool
}

// resetExecFlags clears the bitset at the start of each transition
// cycle (§4.3's closing sentence).
func (c *Controller) resetExecFlags() {
	for i := range c.execFlags {
		c.execFlags[i] = execFlagState{}
	}
}

func (c *Controller) scheduleFlag(kind execFlagKind) {
	c.execFlags[kind].scheduled = true
	c.execFlags[kind].completed = false
}

// shouldStart implements §4.2's shouldStart().
func (c *Controller) shouldStart() bool {
	switch c.mode {
	case ModeActive:
		return true
	case ModePassive:
		return c.stoppingDependencies == 0
	case ModeOnDemand, ModeLazy:
		return c.demandedByCount > 0
	default:
		return false
	}
}

// shouldStop implements §4.2's shouldStop().
func (c *Controller) shouldStop() bool {
	switch c.mode {
	case ModeRemove, ModeNever:
		return true
	case ModeOnDemand:
		return c.demandedByCount == 0
	default:
		return false
	}
}

// desiredDemand reports whether this controller should currently be
// propagating demand to its required links (§4.2's demand-propagation
// paragraph).
func (c *Controller) desiredDemand() bool {
	switch c.mode {
	case ModeActive:
		return true
	case ModeOnDemand, ModePassive:
		return c.demandedByCount > 0
	case ModeLazy:
		return c.state == Up || c.demandedByCount > 0
	default: // NEVER, REMOVE
		return false
	}
}

// reconcileDemand raises or drops demand on every required link when
// the desired state differs from what was last propagated, appending a
// Demand/Undemand dependencies-task per link. It must run before
// transition selection on every pass (§4.2).
func (c *Controller) reconcileDemand(tasks *[]pendingTask) {
	want := c.desiredDemand()
	if want == c.dependenciesDemanded {
		return
	}
	c.dependenciesDemanded = want
	links := append([]*dependencyLink(nil), c.requires...)
	if want {
		*tasks = append(*tasks, pendingTask{run: func() {
			for _, l := range links {
				l.target.addDemand()
			}
		}})
	} else {
		*tasks = append(*tasks, pendingTask{run: func() {
			for _, l := range links {
				l.target.removeDemand()
			}
		}})
	}
}

// selectTransition is the pure function of (state, mode, counters,
// start_exception) described in §4.2's transition table.
func (c *Controller) selectTransition() (Substate, bool) {
	switch c.state {
	case New:
		return Down, true
	case Down:
		if c.mode == ModeRemove {
			return Removing, true
		}
		if c.shouldStart() && (c.unavailableDependencies > 0 || c.failCount > 0) {
			return Problem, true
		}
		if c.shouldStart() && c.stoppingDependencies == 0 {
			return StartRequested, true
		}
		return 0, false
	case Problem:
		if !c.shouldStart() || (c.unavailableDependencies == 0 && c.failCount == 0) {
			return Down, true
		}
		return 0, false
	case StartRequested:
		if c.shouldStart() && c.stoppingDependencies == 0 {
			return Starting, true
		}
		return Down, true
	case Starting:
		if c.startException == nil {
			return Up, true
		}
		return StartFailed, true
	case Up:
		if c.shouldStop() || c.stoppingDependencies > 0 {
			return StopRequested, true
		}
		return 0, false
	case StopRequested:
		if c.shouldStart() && c.stoppingDependencies == 0 {
			return Up, true
		}
		if c.runningDependents == 0 {
			return Stopping, true
		}
		return 0, false
	case Stopping:
		return Down, true
	case StartFailed:
		if c.stoppingDependencies > 0 || c.mode == ModeRemove {
			return Down, true
		}
		return 0, false
	case Removing:
		return Removed, true
	default:
		return 0, false
	}
}

// snapshotDependentLinks collects every (dependent, link) pair across
// all of this controller's provided registrations, taken under each
// registration's own read lock (§4.5's dependents-task family).
func (c *Controller) snapshotDependentLinks() map[*Controller]*dependencyLink {
	out := make(map[*Controller]*dependencyLink)
	for reg := range c.provides {
		for dep, link := range reg.snapshotDependents() {
			out[dep] = link
		}
	}
	return out
}

func (c *Controller) dependentsTask(kind execFlagKind, deliver func(dep *Controller, link *dependencyLink)) pendingTask {
	c.scheduleFlag(kind)
	pairs := c.snapshotDependentLinks()
	return pendingTask{
		flag:    kind,
		hasFlag: true,
		run: func() {
			for dep, link := range pairs {
				deliver(dep, link)
			}
		},
	}
}

// enterState applies the side effects of one transition: local field
// updates plus whatever fan-out it enqueues. It must run with c.mu
// held and assumes resetExecFlags was just called by the caller.
func (c *Controller) enterState(next Substate) []pendingTask {
	prev := c.state
	c.state = next
	logging.Debug("Controller", "[%s] %s -> %s", c.id, prev, next)

	var tasks []pendingTask

	switch next {
	case Down:
		c.clearProvidedValuesLocked()
		c.queueListenerEvent(EventDown)

	case Problem:
		// No dependents fan-out: a provider stuck on its own blocked
		// dependencies is still attached, just not started.

	case StartRequested:
		// No fan-out; entering Starting (chained, no tasks) follows
		// immediately since requires are already satisfied.

	case Starting:
		tasks = append(tasks, c.startTask())

	case Up:
		c.startException = nil
		tasks = append(tasks, c.dependentsTask(flagStarted, func(dep *Controller, link *dependencyLink) {
			link.notifyStarted(dep)
		}))
		tasks = append(tasks, c.dependencyStartedTask())
		c.queueListenerEvent(EventUp)

	case StopRequested:
		tasks = append(tasks, c.dependentsTask(flagStopped, func(dep *Controller, link *dependencyLink) {
			link.notifyStopped(dep)
		}))

	case Stopping:
		tasks = append(tasks, c.dependencyStoppedTask())
		tasks = append(tasks, c.stopTask())

	case StartFailed:
		c.recordFailureLocked()
		tasks = append(tasks, c.dependentsTask(flagFailed, func(dep *Controller, link *dependencyLink) {
			link.notifyFailed(dep)
		}))
		c.queueListenerEvent(EventFailed)

	case Removing:
		c.clearProvidedValuesLocked()
		tasks = append(tasks, c.dependentsTask(flagUnavailable, func(dep *Controller, link *dependencyLink) {
			link.notifyUnavailable(dep)
		}))
		tasks = append(tasks, c.detachTask())

	case Removed:
		c.queueListenerEvent(EventRemoved)
	}

	return tasks
}

// dependencyStartedTask tells each required registration that this
// controller, as a dependent, has entered the UP..STOP_REQUESTED span
// (DependentStarted, §4.5).
func (c *Controller) dependencyStartedTask() pendingTask {
	links := append([]*dependencyLink(nil), c.requires...)
	return pendingTask{run: func() {
		for _, l := range links {
			l.target.dependentStarted()
		}
	}}
}

// dependencyStoppedTask is the matching DependentStopped notification,
// fired when leaving that span (entering STOPPING).
func (c *Controller) dependencyStoppedTask() pendingTask {
	links := append([]*dependencyLink(nil), c.requires...)
	return pendingTask{run: func() {
		for _, l := range links {
			l.target.dependentStopped()
		}
	}}
}

// detachTask clears this controller as the provider of every
// registration it provides, and removes it as a dependent of every
// registration it requires, finishing the ownership teardown described
// in §3's registration invariants.
func (c *Controller) detachTask() pendingTask {
	provides := make([]*registration, 0, len(c.provides))
	for reg := range c.provides {
		provides = append(provides, reg)
	}
	requires := append([]*dependencyLink(nil), c.requires...)
	return pendingTask{run: func() {
		for _, reg := range provides {
			reg.clearProvider(c)
		}
		for _, l := range requires {
			l.target.removeDependent(c)
		}
	}}
}

// clearProvidedValuesLocked resets every provided value cell to
// undefined, required before PROBLEM-adjacent states and on any start
// failure or stop (§4.4).
func (c *Controller) clearProvidedValuesLocked() {
	for _, cell := range c.provides {
		cell.clear()
	}
}

// recordFailureLocked remembers that this controller's own start
// attempt failed; fail_count on the *dependent* side is maintained by
// dependencyLink, not here — this just captures the cause for reason().
func (c *Controller) recordFailureLocked() {
	if c.startException == nil {
		c.startException = errIllegalState("start failed with no recorded cause")
	}
}

// queueListenerEvent appends a postponed lifecycle-event task; it is
// only drained to the executor once a transition chain produces no
// further fan-out (§4.5's "postponed" lifecycle-event family).
func (c *Controller) queueListenerEvent(kind EventKind) {
	listeners := append([]Listener(nil), c.listeners...)
	c.listenerTransitionTasks = append(c.listenerTransitionTasks, func() {
		for _, l := range listeners {
			l.Notify(kind, c)
		}
	})
}

// drainListenerTasks hands the postponed lifecycle-event queue to the
// executor once the trailing edge of a transition chain is reached.
func (c *Controller) drainListenerTasks(tasks *[]pendingTask) {
	if len(c.listenerTransitionTasks) == 0 {
		return
	}
	pending := c.listenerTransitionTasks
	c.listenerTransitionTasks = nil
	for _, fn := range pending {
		fn := fn
		*tasks = append(*tasks, pendingTask{run: fn})
	}
}

// collectTransitionTasks runs the selector loop described in §4.2: it
// must be called with c.mu held and returns with the lock still held;
// the caller is responsible for unlocking before dispatch. It stops as
// soon as a round produces any tasks (the spec's async_tasks==0 gate)
// or as soon as a round produces neither a transition nor tasks.
//
// Before commitInstallation runs, the controller is inert: installation
// synchronously wires every required link before commit (§4.6), and
// each wiring can deliver a dependency notification straight into this
// controller (registration.addDependent's newDependent replay) that
// ends in drainAndUnlock/collectTransitionTasks. Those pre-commit calls
// must only update counters (already done by the caller) and never
// select or enter a transition — NEW's selection to DOWN, and anything
// chained after it, is reserved for the explicit commitInstallation
// call so that installation finishes wiring every link (and seeding
// stoppingDependencies from their settled state) before the state
// machine takes its first step.
func (c *Controller) collectTransitionTasks() []pendingTask {
	if !c.committed {
		return nil
	}
	var tasks []pendingTask
	for c.asyncTasks == 0 {
		var round []pendingTask
		c.reconcileDemand(&round)
		if next, ok := c.selectTransition(); ok {
			c.resetExecFlags()
			round = append(round, c.enterState(next)...)
		} else if len(round) == 0 {
			c.drainListenerTasks(&round)
			tasks = append(tasks, round...)
			c.asyncTasks += len(round)
			break
		}
		tasks = append(tasks, round...)
		c.asyncTasks += len(round)
		if len(round) != 0 {
			break
		}
	}
	return tasks
}

// drainAndUnlock must be called with c.mu held; it computes the next
// batch of fan-out, updates the container's stability counter for the
// net change, releases the lock, and submits every task to the worker
// pool. Each task's own completion re-enters this same loop.
func (c *Controller) drainAndUnlock() {
	before := c.isUnstableLocked()
	tasks := c.collectTransitionTasks()
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

// dispatch submits tasks to the worker pool. Ordinary tasks are
// resolved as soon as run() returns; selfManaged tasks (Starting,
// Stopping) instead rely on completeStart/completeStop to decrement
// asyncTasks and re-drain, since their actual completion may be
// deferred past run() returning (§4.4's asynchronous() contract).
func (c *Controller) dispatch(tasks []pendingTask) {
	for _, t := range tasks {
		t := t
		c.container.pool.Submit(func() {
			t.run()
			if t.selfManaged {
				return
			}
			c.mu.Lock()
			if c.asyncTasks > 0 {
				c.asyncTasks--
			}
			if t.hasFlag {
				c.execFlags[t.flag].completed = true
			}
			c.drainAndUnlock()
		})
	}
}

func (c *Controller) isUnstableLocked() bool {
	return !c.state.IsRest() || c.asyncTasks != 0
}

// isFailedVisible/isUnavailableVisible/isUpVisible implement §4.3's
// late-join visibility predicates verbatim.
func (c *Controller) isFailedVisible() bool {
	if c.state == StartFailed && c.execFlags[flagFailed].completed {
		return true
	}
	if (c.state == Starting || c.state == Down) &&
		c.execFlags[flagRetrying].scheduled && !c.execFlags[flagRetrying].completed {
		return true
	}
	return false
}

func (c *Controller) isUnavailableVisible() bool {
	switch c.state {
	case New, Problem, Removing, Removed:
		return true
	}
	if c.state == Down && c.execFlags[flagUnavailable].completed {
		return true
	}
	if c.state == StartRequested &&
		c.execFlags[flagAvailable].scheduled && !c.execFlags[flagAvailable].completed {
		return true
	}
	return false
}

func (c *Controller) isUpVisible() bool {
	if c.state == Up && c.execFlags[flagStarted].completed {
		return true
	}
	if c.state == StopRequested &&
		c.execFlags[flagStopped].scheduled && !c.execFlags[flagStopped].completed {
		return true
	}
	return false
}

// replayVisibleStatusTo delivers the "newDependent" replay described in
// §4.1: a freshly attached dependent synchronously observes whatever
// this controller's current visible status is, without waiting for any
// in-flight fan-out.
func (c *Controller) replayVisibleStatusTo(dep *Controller, link *dependencyLink) {
	c.mu.Lock()
	unavailable := c.isUnavailableVisible()
	failed := c.isFailedVisible()
	up := c.isUpVisible()
	c.mu.Unlock()

	if unavailable {
		link.notifyUnavailable(dep)
		return
	}
	link.notifyAvailable(dep)
	if failed {
		link.notifyFailed(dep)
	}
	if up {
		link.notifyStarted(dep)
	}
}

func (c *Controller) isCommitted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.committed
}
