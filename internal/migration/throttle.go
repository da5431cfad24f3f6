package migration

// Unlimited is the throttle budget of a pass with no ceiling.
const Unlimited = -1

// Throttle bounds how many migrations may be in flight at once.
type Throttle struct {
	ceiling int
	tracker *Tracker
}

// NewThrottle creates a throttle. A ceiling of zero or less disables it.
func NewThrottle(ceiling int, tracker *Tracker) *Throttle {
	return &Throttle{ceiling: ceiling, tracker: tracker}
}

// CalculateMaxVMMigrations returns how many new migrations may be planned: Unlimited for
// manual passes or when no ceiling is set, otherwise the ceiling minus the VMs already
// migrating, never below zero.
func (t *Throttle) CalculateMaxVMMigrations(isManual bool) int {
	if isManual || t.ceiling <= 0 {
		return Unlimited
	}
	return max(t.ceiling-len(t.tracker.ListMigratingVMs()), 0)
}
