package system

import (
	"time"

	coresys "github.com/l1jgo/realm/internal/core/system"
	"github.com/l1jgo/realm/internal/world"
)

// BuffTickSystem removes expired buffs. The removals are reported to
// clients by the output phase. Phase 2 (Timers).
type BuffTickSystem struct {
	world *world.Manager
}

func NewBuffTickSystem(w *world.Manager) *BuffTickSystem {
	return &BuffTickSystem{world: w}
}

func (s *BuffTickSystem) Phase() coresys.Phase { return coresys.PhaseTimers }

func (s *BuffTickSystem) Update(tick uint64, _ time.Duration) {
	s.world.ExpireBuffs(tick)
}
