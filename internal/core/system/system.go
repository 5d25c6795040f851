package system

import "time"

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhaseInput      Phase = iota // 0: admit sessions, drain inbound queues, dispatch
	PhaseStructural              // 1: pending-apply queue, spawn/despawn, last tick's events
	PhaseTimers                  // 2: buff expiry, regen, corpse and respawn timers
	PhaseAI                      // 3: script-driven decisions for non-player entities
	PhaseResolve                 // 4: movement and combat intents in arrival order
	PhasePostUpdate              // 5: heartbeat sweep
	PhaseOutput                  // 6: per-session deltas, flush outbound queues
	PhasePersist                 // 7: enqueue dirty saves
	PhaseCleanup                 // 8: detach closed sessions, release despawned ids
)

var phaseNames = [...]string{"input", "structural", "timers", "ai", "resolve", "post_update", "output", "persist", "cleanup"}

func (p Phase) String() string {
	if int(p) >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "unknown"
}

// System is the interface every tick system implements. tick is strictly
// increasing; dt is the configured period.
type System interface {
	Phase() Phase
	Update(tick uint64, dt time.Duration)
}
