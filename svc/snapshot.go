package svc

// Snapshot is a point-in-time, data-only view of a controller's mode,
// state, and counters, generalized from the teacher's
// Orchestrator.GetServiceStatus/ServiceStatus (internal/orchestrator).
// It is a plain getter, not a management/JMX surface (§1 places those
// out of scope) — useful for tests and any future debug tooling built
// on top of this package.
type Snapshot struct {
	Mode                    Mode
	State                   Substate
	Requires                []Name
	Provides                []Name
	Missing                 []Name
	Reason                  error
	UnavailableDependencies int
	StoppingDependencies    int
	RunningDependents       int
	DemandedByCount         int
	FailCount               int
}

// Snapshot returns a copy of the controller's current mode, state, and
// counters, taken atomically under its lock.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	requires := make([]Name, len(c.requires))
	var missing []Name
	for i, l := range c.requires {
		requires[i] = l.name
		if !l.available {
			missing = append(missing, l.name)
		}
	}
	provides := make([]Name, 0, len(c.provides))
	for reg := range c.provides {
		provides = append(provides, reg.name)
	}

	return Snapshot{
		Mode:                    c.mode,
		State:                   c.state,
		Requires:                requires,
		Provides:                provides,
		Missing:                 missing,
		Reason:                  c.startException,
		UnavailableDependencies: c.unavailableDependencies,
		StoppingDependencies:    c.stoppingDependencies,
		RunningDependents:       c.runningDependents,
		DemandedByCount:         c.demandedByCount,
		FailCount:               c.failCount,
	}
}
