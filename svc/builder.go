package svc

import (
	"bytes"
	"runtime"
	"strconv"
)

// Builder is the fluent installation surface (§6). It is not
// thread-safe across goroutines by contract (foreign-thread access is
// one of the documented configuration errors) and is single-use: a
// second call to Install after success, or after any failure other than
// the foreign-goroutine rejection, returns already-installed. Every
// fluent method stamps the calling goroutine
// against the one that created the Builder; a mismatch is recorded and
// Install() rejects it rather than silently racing the builder's own
// unsynchronized fields.
type Builder struct {
	container *Container

	creatorGoroutine uint64
	foreignThread    bool

	provideNames []Name
	requireNames []Name
	optional     map[string]bool

	service   Service
	mode      Mode
	listeners []Listener

	installed bool
}

// NewBuilder starts a fresh installation against this container. The
// builder's initial mode is the container's configured DefaultMode
// (§6, Config.DefaultMode) unless overridden by a later Mode() call.
func (container *Container) NewBuilder() *Builder {
	return &Builder{
		container:        container,
		optional:         make(map[string]bool),
		mode:             container.config.DefaultMode,
		creatorGoroutine: currentGoroutineID(),
	}
}

// currentGoroutineID extracts the calling goroutine's runtime ID from
// its own stack trace header ("goroutine 123 [running]: ..."), the
// standard trick for goroutine-confinement checks since the runtime
// exposes no public goroutine-ID API.
func currentGoroutineID() uint64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	buf = buf[:bytes.IndexByte(buf, ' ')]
	id, _ := strconv.ParseUint(string(buf), 10, 64)
	return id
}

// checkThread stamps b.foreignThread once a method is called from a
// goroutine other than the one that created the Builder (§6, §7).
func (b *Builder) checkThread() {
	if currentGoroutineID() != b.creatorGoroutine {
		b.foreignThread = true
	}
}

// Provides declares the names this service will provide.
func (b *Builder) Provides(names ...Name) *Builder {
	b.checkThread()
	b.provideNames = append(b.provideNames, names...)
	return b
}

// Requires declares required (direct) dependency names.
func (b *Builder) Requires(names ...Name) *Builder {
	b.checkThread()
	b.requireNames = append(b.requireNames, names...)
	return b
}

// RequiresOptional declares optional dependency names: their absence
// never forces PROBLEM and never blocks this service from starting
// (§3).
func (b *Builder) RequiresOptional(names ...Name) *Builder {
	b.checkThread()
	for _, n := range names {
		b.optional[n.String()] = true
	}
	b.requireNames = append(b.requireNames, names...)
	return b
}

// Instance sets the user service implementation.
func (b *Builder) Instance(s Service) *Builder {
	b.checkThread()
	b.service = s
	return b
}

// Mode sets the initial mode (default: the container's
// Config.DefaultMode).
func (b *Builder) Mode(m Mode) *Builder {
	b.checkThread()
	b.mode = m
	return b
}

// AddListener registers a lifecycle listener before install, so it
// never misses the controller's very first transitions.
func (b *Builder) AddListener(l Listener) *Builder {
	b.checkThread()
	b.listeners = append(b.listeners, l)
	return b
}

// Install commits the builder: it wires registrations for every
// provided and required name, runs cycle detection, and drives the new
// controller out of NEW (§4.6). On any error the partial wiring is
// rolled back and the registrations return to their pre-install shape.
func (b *Builder) Install() (*Controller, error) {
	b.checkThread()
	if b.foreignThread {
		return nil, errForeignThreadBuilder()
	}
	if b.installed {
		return nil, errAlreadyInstalled()
	}
	b.installed = true

	if b.service == nil {
		return nil, errNilArgument("service")
	}
	for _, p := range b.provideNames {
		for _, r := range b.requireNames {
			if p.Equal(r) {
				return nil, errSameNameRequiredAndProvided(p)
			}
		}
	}

	c := newController(b.container, b.service, b.mode)
	container := b.container
	c.listeners = append(c.listeners, ListenerFunc(func(kind EventKind, ctl *Controller) {
		container.publishControllerEvent(kind, ctl)
	}))
	c.listeners = append(c.listeners, b.listeners...)

	var provideRegs []*registration

	rollback := func() {
		for _, reg := range provideRegs {
			reg.clearProvider(c)
		}
		for _, l := range c.requires {
			l.target.removeDependent(c)
		}
	}

	// startInstallation: bind this controller as provider of every
	// provided name.
	for _, name := range b.provideNames {
		reg := b.container.getOrCreateRegistration(name)
		if err := reg.setProvider(c); err != nil {
			reg.releasePendingInstallation()
			rollback()
			return nil, err
		}
		provideRegs = append(provideRegs, reg)
		c.provides[reg] = &valueCell{}
	}

	// startConfiguration: attach as a dependent of every required name.
	for _, name := range b.requireNames {
		reg := b.container.getOrCreateRegistration(name)
		kind := linkDirect
		if b.optional[name.String()] {
			kind = linkOptional
		}
		link := newDependencyLink(c, name, reg, kind)
		c.requires = append(c.requires, link)
		reg.addDependent(c, link)
		reg.releasePendingInstallation()
	}

	if cycle, found := b.container.detectCycle(c); found {
		rollback()
		return nil, errCycleDetected(cycle)
	}

	c.commitInstallation()
	return c, nil
}

// detectCycle runs the install-time DFS described in §4.6: starting
// from the candidate controller's provided registrations, it follows
// dependents transitively; re-encountering the candidate means a service
// that (transitively) depends on what the candidate provides is itself
// required by the candidate, which closes a cycle.
func (container *Container) detectCycle(candidate *Controller) ([]Name, bool) {
	visited := make(map[*Controller]bool)

	var visit func(c *Controller, path []Name) ([]Name, bool)
	visit = func(c *Controller, path []Name) ([]Name, bool) {
		if c == candidate {
			return path, true
		}
		if visited[c] {
			return nil, false
		}
		visited[c] = true
		if c.isAggregationService() || c.State() == Removed {
			return nil, false
		}
		for _, reg := range c.providesRegistrations() {
			nextPath := append(append([]Name(nil), path...), reg.name)
			for dep := range reg.snapshotDependents() {
				if cycle, found := visit(dep, nextPath); found {
					return cycle, true
				}
			}
		}
		return nil, false
	}

	for _, reg := range candidate.providesRegistrations() {
		for dep := range reg.snapshotDependents() {
			if cycle, found := visit(dep, []Name{reg.name}); found {
				return cycle, true
			}
		}
	}
	return nil, false
}
