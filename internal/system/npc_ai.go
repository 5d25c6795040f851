package system

import (
	"context"
	"sort"
	"time"

	coresys "github.com/l1jgo/realm/internal/core/system"
	"github.com/l1jgo/realm/internal/handler"
	"github.com/l1jgo/realm/internal/scripting"
	"github.com/l1jgo/realm/internal/world"
)

// AggroRange is how far an aggressive monster looks for a player.
const AggroRange = 8

// AISystem runs the AI script of every live scripted non-player entity.
// A failing script costs only that entity its action for the tick; the
// fault is recorded by the script engine. Phase 3 (AI).
type AISystem struct {
	deps *handler.Deps
}

func NewAISystem(deps *handler.Deps) *AISystem {
	return &AISystem{deps: deps}
}

func (s *AISystem) Phase() coresys.Phase { return coresys.PhaseAI }

func (s *AISystem) Update(tick uint64, _ time.Duration) {
	ws := s.deps.World
	ids := ws.IDs(world.KindMonster)
	ids = append(ids, ws.IDs(world.KindNPC)...)
	ids = append(ids, ws.IDs(world.KindPet)...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		s.think(id, tick)
	}
}

func (s *AISystem) think(id world.EntityID, tick uint64) {
	ws := s.deps.World
	e, err := ws.Get(id)
	if err != nil || !e.Alive() {
		return
	}

	var script string
	var target world.EntityID
	switch e.Kind {
	case world.KindMonster:
		mo, ok := ws.Monster(id)
		if !ok || mo.Script == "" {
			return
		}
		script = mo.Script
		target = s.acquire(&e, mo)
	case world.KindNPC:
		n, ok := ws.NPC(id)
		if !ok || n.Script == "" {
			return
		}
		script = n.Script
	case world.KindPet:
		p, ok := ws.Pet(id)
		if !ok || p.Script == "" {
			return
		}
		script, target = p.Script, p.Owner
	default:
		return
	}

	c := scripting.NewContext(scripting.KindAI, id, ws).
		WithTarget(target).
		WithTick(tick)
	res, err := s.deps.Scripts.Invoke(context.Background(), scripting.ScriptRef(script), c)
	if err != nil {
		return
	}
	handler.ApplyEffects(s.deps, id, res.Effects)
}

// acquire keeps a monster's current target while it is alive and in
// range, otherwise an aggressive monster picks the nearest live player.
func (s *AISystem) acquire(e *world.Entity, mo world.Monster) world.EntityID {
	ws := s.deps.World
	target := mo.Target
	if target != 0 {
		t, err := ws.Get(target)
		if err != nil || !t.Alive() || t.Zone != e.Zone || t.Pos.Dist(e.Pos) > 2*AggroRange {
			target = 0
		}
	}
	if target == 0 && mo.Aggro {
		if id, ok := ws.Nearest(e.Zone, e.Pos, AggroRange, func(o *world.Entity) bool {
			return o.Kind == world.KindPlayer && o.Alive()
		}); ok {
			target = id
		}
	}
	if target != mo.Target {
		ws.UpdateMonster(e.ID, func(m *world.Monster) { m.Target = target })
	}
	return target
}
