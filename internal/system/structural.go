package system

import (
	"time"

	"github.com/l1jgo/realm/internal/core/event"
	coresys "github.com/l1jgo/realm/internal/core/system"
	"github.com/l1jgo/realm/internal/world"
	"go.uber.org/zap"
)

// StructuralSystem applies work handed back from other goroutines (DB
// completions, script spawns) and delivers last tick's events. Phase 1.
type StructuralSystem struct {
	world *world.Manager
	bus   *event.Bus
	log   *zap.Logger
}

func NewStructuralSystem(w *world.Manager, bus *event.Bus, log *zap.Logger) *StructuralSystem {
	return &StructuralSystem{world: w, bus: bus, log: log}
}

func (s *StructuralSystem) Phase() coresys.Phase { return coresys.PhaseStructural }

func (s *StructuralSystem) Update(tick uint64, _ time.Duration) {
	applied := s.world.DrainPending()
	s.bus.SwapBuffers()
	delivered := s.bus.DispatchAll()
	if applied > 0 || delivered > 0 {
		s.log.Debug("結構變更",
			zap.Uint64("tick", tick),
			zap.Int("applied", applied),
			zap.Int("events", delivered),
		)
	}
}
