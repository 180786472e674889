package svc

// Mode governs when a controller wants to be started or stopped (§4.2).
type Mode int

const (
	// ModeRemove is terminal: the controller drives to REMOVING/REMOVED
	// and never starts again.
	ModeRemove Mode = iota
	// ModeNever never starts on its own and stops as soon as it is up.
	ModeNever
	// ModeOnDemand starts only while demanded and stops once demand
	// drops to zero.
	ModeOnDemand
	// ModeLazy starts while demanded but, once up, stays up until
	// REMOVE or NEVER is set (demand is consulted to start, never to
	// stop — see the Open Question resolution in DESIGN.md).
	ModeLazy
	// ModePassive starts whenever its dependencies are satisfied,
	// demand or not, but yields to REMOVE/NEVER like any other mode.
	ModePassive
	// ModeActive always wants to be started.
	ModeActive
)

// String renders the mode's canonical name.
func (m Mode) String() string {
	switch m {
	case ModeRemove:
		return "REMOVE"
	case ModeNever:
		return "NEVER"
	case ModeOnDemand:
		return "ON_DEMAND"
	case ModeLazy:
		return "LAZY"
	case ModePassive:
		return "PASSIVE"
	case ModeActive:
		return "ACTIVE"
	default:
		return "UNKNOWN"
	}
}
