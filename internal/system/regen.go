package system

import (
	"time"

	"github.com/l1jgo/realm/internal/core/event"
	coresys "github.com/l1jgo/realm/internal/core/system"
	"github.com/l1jgo/realm/internal/handler"
	"github.com/l1jgo/realm/internal/world"
)

// RegenSystem restores HP and MP every RegenInterval ticks and applies
// regen and poison buffs. Monsters chasing a target do not regenerate.
// Phase 2 (Timers).
type RegenSystem struct {
	deps     *handler.Deps
	interval uint64
}

func NewRegenSystem(deps *handler.Deps) *RegenSystem {
	interval := deps.Config.World.RegenInterval
	if interval <= 0 {
		interval = 5
	}
	return &RegenSystem{deps: deps, interval: uint64(interval)}
}

func (s *RegenSystem) Phase() coresys.Phase { return coresys.PhaseTimers }

func (s *RegenSystem) Update(tick uint64, _ time.Duration) {
	if tick%s.interval != 0 {
		return
	}
	ws := s.deps.World
	for _, id := range ws.IDs(world.KindPlayer) {
		s.regen(id, true)
	}
	for _, id := range ws.IDs(world.KindMonster) {
		mo, _ := ws.Monster(id)
		s.regen(id, mo.Target == 0)
	}
}

func (s *RegenSystem) regen(id world.EntityID, natural bool) {
	ws := s.deps.World
	e, err := ws.Get(id)
	if err != nil || !e.Alive() {
		return
	}

	var hp, mp int32
	if natural {
		hp = 1 + e.MaxHP/50
		mp = 1 + e.MaxMP/50
	}
	hp += e.BuffPower(world.BuffRegen) - e.BuffPower(world.BuffPoison)

	if clampPool(e.HP+hp, e.MaxHP) == e.HP && clampPool(e.MP+mp, e.MaxMP) == e.MP {
		return
	}
	if err := ws.ApplyDelta(id, world.Heal(hp, mp)); err != nil {
		return
	}
	if after, err := ws.Get(id); err == nil && !after.Alive() {
		event.Emit(s.deps.Bus, event.EntityDied{ID: id, Killer: poisoner(&e)})
	}
}

// poisoner is the source of the first poison buff on e.
func poisoner(e *world.Entity) world.EntityID {
	for _, b := range e.Buffs {
		if b.Kind == world.BuffPoison {
			return b.Source
		}
	}
	return 0
}

func clampPool(v, ceiling int32) int32 {
	switch {
	case v < 0:
		return 0
	case v > ceiling:
		return ceiling
	}
	return v
}
