package svc

// linkKind distinguishes a direct dependency link, which participates
// in unavailable_dependencies and stopping_dependencies bookkeeping,
// from an optional link, which is invisible to both counters and can
// never force PROBLEM or block a start — it only affects what Missing()
// and the late-join visibility checks in §4.3 report (§3).
type linkKind int

const (
	linkDirect linkKind = iota
	linkOptional
)

// dependencyLink is one dependent's edge to a registration. A
// dependent holds exactly one link per required Name; the link is the
// translation point between what the registration/provider reports and
// what the dependent's counters actually observe, per the optional-link
// masking rule in §3.
type dependencyLink struct {
	kind   linkKind
	target *registration
	owner  *Controller
	name   Name

	// available mirrors whether a provider is currently attached and
	// committed — consulted by Controller.Missing() for both link
	// kinds, independent of whatever counter effects the kind implies.
	available bool
	// up tracks whether this link currently counts its target as UP,
	// so stopping_dependencies only moves by exactly one per real
	// Started/Stopped transition (no double counting).
	up bool
	// failedCounted tracks whether this link currently counts toward
	// the owner's fail_count, enforcing the 0↔1/1↔0 boundary rule.
	failedCounted bool
}

func newDependencyLink(owner *Controller, name Name, target *registration, kind linkKind) *dependencyLink {
	return &dependencyLink{kind: kind, target: target, owner: owner, name: name}
}

// notifyUnavailable is delivered when the link's registration loses its
// committed provider (or never had one). A direct link counts this
// against the dependent's unavailable_dependencies; an optional link
// only clears its availability flag, never reaching the counter that
// would force PROBLEM (§3, §9 open-question resolution in DESIGN.md).
// The available flag itself is written inside onDependencyUnavailable,
// under the dependent's own lock, for both link kinds — it must never
// be written outside that lock, since Missing() reads it under the
// same lock from a different goroutine.
func (l *dependencyLink) notifyUnavailable(dep *Controller) {
	dep.onDependencyUnavailable(l)
}

// notifyAvailable is delivered when a provider commits to the
// registration. It does not by itself mean the provider is started —
// only that start attempts are now meaningful — so it clears the
// unavailable bookkeeping for a direct link and is otherwise a
// flag-only update for an optional one.
func (l *dependencyLink) notifyAvailable(dep *Controller) {
	dep.onDependencyAvailable(l)
}

// notifyStarted/notifyStopped deliver the provider's UP/not-UP
// transitions (the DependencyStarted/DependencyStopped members of the
// dependents-task family, §4.5). Only a direct link's target
// contributes to stopping_dependencies; an optional link's target
// coming up or down is not part of its dependent's own ordering
// guarantee.
func (l *dependencyLink) notifyStarted(dep *Controller) {
	if l.kind == linkDirect {
		dep.onDependencyStarted(l)
	}
}

func (l *dependencyLink) notifyStopped(dep *Controller) {
	if l.kind == linkDirect {
		dep.onDependencyStopped(l)
	}
}

// notifyFailed/notifyRetrying forward a provider's START_FAILED/retry
// lifecycle regardless of link kind; the receiving controller counts it
// only for a direct link, so a failed optional dependency never blocks
// its dependent's own start. notifyRetrying also carries the 1→0
// fail_count boundary (§4.2's "dependencySucceeded" case): retrying a
// previously failed provider is this link's only route back to zero.
func (l *dependencyLink) notifyFailed(dep *Controller) {
	dep.onDependencyFailed(l)
}

func (l *dependencyLink) notifyRetrying(dep *Controller) {
	dep.onDependencyRetrying(l)
}
