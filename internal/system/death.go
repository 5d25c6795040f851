package system

import (
	"math/rand"

	"github.com/l1jgo/realm/internal/core/event"
	"github.com/l1jgo/realm/internal/handler"
	"github.com/l1jgo/realm/internal/world"
	"go.uber.org/zap"
)

// DeathHandler reacts to EntityDied events at the structural phase after
// the killing blow.
//
// Monsters leave a corpse for CorpseTicks and award experience and loot
// to the player (or the pet's owner) that killed them. Players lose their buffs
// and are carried back to their zone's spawn point and revived.
type DeathHandler struct {
	deps *handler.Deps
	rng  *rand.Rand
}

// NewDeathHandler subscribes the handler to the bus.
func NewDeathHandler(deps *handler.Deps, seed int64) *DeathHandler {
	h := &DeathHandler{deps: deps, rng: rand.New(rand.NewSource(seed))}
	event.Subscribe(deps.Bus, h.onDied)
	return h
}

func (h *DeathHandler) onDied(ev event.EntityDied) {
	ws := h.deps.World
	e, err := ws.Get(ev.ID)
	if err != nil {
		return
	}

	switch e.Kind {
	case world.KindMonster:
		h.monsterDied(&e, ev.Killer)
	case world.KindPlayer:
		z, ok := ws.Zone(e.Zone)
		if !ok {
			return
		}
		for _, b := range e.Buffs {
			ws.CancelBuff(e.ID, b.ID)
		}
		ws.ApplyDelta(e.ID, world.Teleport(z.ID, z.Spawn))
		ws.ApplyDelta(e.ID, world.Revive(e.MaxHP, e.MaxMP))
		h.deps.Log.Info("玩家復活",
			zap.String("character", e.Name),
			zap.Uint64("killer", uint64(ev.Killer)),
		)
	case world.KindPet:
		ws.Despawn(e.ID)
	}
}

func (h *DeathHandler) monsterDied(e *world.Entity, killer world.EntityID) {
	ws := h.deps.World
	corpse := h.deps.Config.World.CorpseTicks
	if corpse < 1 {
		corpse = 1
	}
	var first bool
	var reward int32
	ws.UpdateMonster(e.ID, func(m *world.Monster) {
		if m.CorpseAt != 0 {
			return
		}
		first = true
		m.CorpseAt = ws.Tick() + uint64(corpse)
		m.Target = 0
		reward = m.ExpReward
	})
	if !first || killer == 0 {
		return
	}
	if pet, ok := ws.Pet(killer); ok {
		killer = pet.Owner
	}
	loot := h.deps.Data.Drops.Roll(e.Template, h.rng)
	if reward <= 0 && len(loot) == 0 {
		return
	}
	err := ws.UpdatePlayer(killer, func(p *world.Player) {
		p.Exp += int64(reward)
		p.Inventory = addItems(p.Inventory, loot)
	})
	if err != nil {
		return
	}
	for _, it := range loot {
		h.deps.Log.Debug("掉落物品",
			zap.Uint64("player", uint64(killer)),
			zap.Uint32("item", it.ItemID),
			zap.Int32("count", it.Count),
		)
	}
}

// addItems merges items into inv, stacking by item id.
func addItems(inv []world.Item, items []world.Item) []world.Item {
next:
	for _, it := range items {
		for i := range inv {
			if inv[i].ItemID == it.ItemID {
				inv[i].Count += it.Count
				continue next
			}
		}
		inv = append(inv, it)
	}
	return inv
}
