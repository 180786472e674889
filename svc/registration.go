package svc

import "sync"

// registration is the per-name slot mediating a provider and its
// dependents (§3, §4.1). At most one controller is its provider at any
// moment; it reports removed permanently only once it has no provider,
// no dependents, and no pending installations.
type registration struct {
	mu sync.RWMutex

	name Name

	provider *Controller
	// dependents maps each dependent controller to the link it uses to
	// reach this registration, so fan-out can mask notifications
	// through the optional-link translation (§3) when delivering them.
	dependents map[*Controller]*dependencyLink

	demandedByCount        int
	dependentsStartedCount int
	pendingInstallations   int
	removed                bool
}

func newRegistration(name Name) *registration {
	return &registration{
		name:       name,
		dependents: make(map[*Controller]*dependencyLink),
	}
}

// markPendingInstallation increments the pending-installation counter
// under the registration's own write lock (get-or-create in the
// container calls it while holding the container lock, after deciding
// whether to reuse or replace a removed registration).
func (r *registration) markPendingInstallation() {
	r.mu.Lock()
	r.pendingInstallations++
	r.mu.Unlock()
}

// setProvider installs c as this registration's provider. It fails if a
// provider is already present. Any demand and started-dependent counts
// accumulated while the registration had no provider are replayed onto
// c so a late-installing provider observes the same net state as if it
// had been first (§4.1).
func (r *registration) setProvider(c *Controller) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.provider != nil {
		return errDuplicateProvider(r.name)
	}

	r.provider = c
	if r.pendingInstallations > 0 {
		r.pendingInstallations--
	}

	for i := 0; i < r.demandedByCount; i++ {
		c.onDemandAdded()
	}
	for i := 0; i < r.dependentsStartedCount; i++ {
		c.onDependentStarted()
	}
	return nil
}

// clearProvider removes c as this registration's provider; only the
// current provider may do so. The registration becomes permanently
// removed once it has no provider, no dependents, and no pending
// installations (§3 invariant ii).
func (r *registration) clearProvider(c *Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.provider != c {
		return
	}
	r.provider = nil
	r.maybeMarkRemovedLocked()
}

func (r *registration) maybeMarkRemovedLocked() {
	if r.provider == nil && len(r.dependents) == 0 && r.pendingInstallations == 0 {
		r.removed = true
	}
}

// isRemoved reports whether the registration has been permanently
// retired (so the container must mint a fresh one for the same Name).
func (r *registration) isRemoved() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.removed
}

// addDependent attaches dep via link. If no committed provider is
// present yet, dep is told synchronously that the dependency is
// unavailable; otherwise it receives a newDependent replay of the
// provider's current visible status (§4.1, §4.3).
func (r *registration) addDependent(dep *Controller, link *dependencyLink) {
	r.mu.Lock()
	r.dependents[dep] = link
	provider := r.provider
	r.removed = false
	r.mu.Unlock()

	if provider == nil || !provider.isCommitted() {
		link.notifyUnavailable(dep)
		return
	}
	provider.replayVisibleStatusTo(dep, link)
}

// removeDependent detaches dep and re-evaluates removal.
func (r *registration) removeDependent(dep *Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.dependents, dep)
	r.maybeMarkRemovedLocked()
}

// snapshotDependents returns a stable copy of the dependent set taken
// under a read lock, for fan-out tasks (§4.5 dependents-task family)
// that must not hold the registration lock while re-entering each
// dependent's own controller lock.
func (r *registration) snapshotDependents() map[*Controller]*dependencyLink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[*Controller]*dependencyLink, len(r.dependents))
	for c, l := range r.dependents {
		out[c] = l
	}
	return out
}

func (r *registration) getProvider() *Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.provider
}

// releasePendingInstallation decrements the pending-installation
// counter claimed by get_or_create for a required (not provided)
// registration, mirroring the decrement setProvider performs for a
// provided one.
func (r *registration) releasePendingInstallation() {
	r.mu.Lock()
	if r.pendingInstallations > 0 {
		r.pendingInstallations--
	}
	r.maybeMarkRemovedLocked()
	r.mu.Unlock()
}

// addDemand/removeDemand/dependentStarted/dependentStopped buffer the
// corresponding notification to the provider if one is attached, and
// otherwise latch it on the registration for replay at setProvider time.
func (r *registration) addDemand() {
	r.mu.Lock()
	r.demandedByCount++
	p := r.provider
	r.mu.Unlock()
	if p != nil {
		p.onDemandAdded()
	}
}

func (r *registration) removeDemand() {
	r.mu.Lock()
	if r.demandedByCount > 0 {
		r.demandedByCount--
	}
	p := r.provider
	r.mu.Unlock()
	if p != nil {
		p.onDemandRemoved()
	}
}

func (r *registration) dependentStarted() {
	r.mu.Lock()
	r.dependentsStartedCount++
	p := r.provider
	r.mu.Unlock()
	if p != nil {
		p.onDependentStarted()
	}
}

func (r *registration) dependentStopped() {
	r.mu.Lock()
	if r.dependentsStartedCount > 0 {
		r.dependentsStartedCount--
	}
	p := r.provider
	r.mu.Unlock()
	if p != nil {
		p.onDependentStopped()
	}
}
