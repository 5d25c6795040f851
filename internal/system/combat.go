package system

import (
	"context"
	"errors"
	"time"

	"github.com/l1jgo/realm/internal/core/event"
	coresys "github.com/l1jgo/realm/internal/core/system"
	"github.com/l1jgo/realm/internal/handler"
	"github.com/l1jgo/realm/internal/net/packet"
	"github.com/l1jgo/realm/internal/scripting"
	"github.com/l1jgo/realm/internal/world"
	"go.uber.org/zap"
)

// AttackCooldown is the number of ticks between two attacks by one entity.
const AttackCooldown = 2

// ResolveSystem applies the tick's movement, combat and item-use intents
// in the order they were recorded. A Move recorded before an Attack by the
// same actor is applied first, so the attack's range check sees the new
// position. Phase 4 (Resolve).
type ResolveSystem struct {
	deps       *handler.Deps
	nextAttack map[world.EntityID]uint64
}

func NewResolveSystem(deps *handler.Deps) *ResolveSystem {
	return &ResolveSystem{deps: deps, nextAttack: make(map[world.EntityID]uint64)}
}

func (s *ResolveSystem) Phase() coresys.Phase { return coresys.PhaseResolve }

func (s *ResolveSystem) Update(tick uint64, _ time.Duration) {
	for _, in := range s.deps.World.TakeIntents() {
		switch in.Kind {
		case world.IntentMove:
			s.resolveMove(in)
		case world.IntentAttack:
			s.resolveAttack(in, tick)
		case world.IntentUseItem:
			s.resolveUseItem(in, tick)
		}
	}
	if tick%64 == 0 {
		for id, next := range s.nextAttack {
			if next <= tick || !s.deps.World.Exists(id) {
				delete(s.nextAttack, id)
			}
		}
	}
}

// ==================== Movement ====================

func (s *ResolveSystem) resolveMove(in world.Intent) {
	ws := s.deps.World
	e, err := ws.Get(in.Actor)
	if err != nil {
		return
	}
	if !e.Alive() {
		s.correct(in, &e)
		return
	}
	to := e.Pos.Step(in.Heading)
	d := world.MoveTo(to, in.Heading)
	d.BaseVersion = e.Version
	if err := ws.ApplyDelta(in.Actor, d); err != nil {
		if errors.Is(err, world.ErrConflict) {
			s.correct(in, &e)
			return
		}
		s.deps.Log.Debug("移動被拒", zap.Uint64("entity", uint64(in.Actor)), zap.Error(err))
		return
	}
	if e.Kind == world.KindPlayer {
		s.enterPortal(in.Actor, e.Zone, to)
	}
}

// enterPortal carries a player who stepped onto a portal tile to its
// destination.
func (s *ResolveSystem) enterPortal(id world.EntityID, zone world.ZoneID, at world.Pos) {
	p := s.deps.Data.Portals.Get(zone, at)
	if p == nil {
		return
	}
	d := world.Teleport(p.DstZone, p.Dest())
	d.Heading = &p.DstHeading
	if err := s.deps.World.ApplyDelta(id, d); err != nil {
		s.deps.Log.Warn("傳送門傳送失敗", zap.Uint64("entity", uint64(id)), zap.Uint32("zone", uint32(zone)), zap.Error(err))
		return
	}
	s.deps.Log.Debug("傳送門傳送",
		zap.Uint64("entity", uint64(id)),
		zap.Uint32("from", uint32(zone)),
		zap.Uint32("to", uint32(p.DstZone)),
	)
}

// correct sends the authoritative state back to a client whose move was
// refused, so it snaps to where the server has it.
func (s *ResolveSystem) correct(in world.Intent, e *world.Entity) {
	if in.Session == 0 {
		return
	}
	if sess := s.deps.Sessions.Get(in.Session); sess != nil {
		sess.Send(handler.DeltaOf(e))
	}
}

// ==================== Melee ====================

func (s *ResolveSystem) resolveAttack(in world.Intent, tick uint64) {
	ws := s.deps.World
	a, err := ws.Get(in.Actor)
	if err != nil || !a.Alive() {
		return
	}
	t, err := ws.Get(in.Target)
	if err != nil || !t.Alive() {
		s.refuse(in, packet.TypeAttack, "no target")
		return
	}
	if t.Kind == world.KindNPC || t.ID == a.ID {
		s.refuse(in, packet.TypeAttack, "cannot attack that")
		return
	}
	if t.Zone != a.Zone {
		s.refuse(in, packet.TypeAttack, "no target")
		return
	}
	if z, ok := ws.Zone(a.Zone); ok && z.Safe {
		s.refuse(in, packet.TypeAttack, "safe zone")
		return
	}
	reach := a.Stats.Reach
	if reach < 1 {
		reach = 1
	}
	if a.Pos.Dist(t.Pos) > reach {
		s.refuse(in, packet.TypeAttack, "out of range")
		return
	}
	if next, ok := s.nextAttack[a.ID]; ok && tick < next {
		return
	}
	s.nextAttack[a.ID] = tick + AttackCooldown

	hit, dmg := s.melee(&a, &t)

	heading := a.Pos.HeadingTo(t.Pos)
	act := world.ActionAttack
	ws.ApplyDelta(a.ID, world.Delta{Heading: &heading, Action: &act})
	if !hit {
		return
	}
	if err := ws.ApplyDelta(t.ID, world.Damage(dmg)); err != nil {
		return
	}

	after, err := ws.Get(t.ID)
	if err != nil {
		return
	}
	if !after.Alive() {
		event.Emit(s.deps.Bus, event.EntityDied{ID: t.ID, Killer: a.ID})
		return
	}
	if t.Kind == world.KindMonster {
		ws.UpdateMonster(t.ID, func(m *world.Monster) {
			if m.Target == 0 {
				m.Target = a.ID
			}
		})
	}
}

// melee asks the calc_melee hook first and falls back to the built-in
// formula when scripts do not define it or it faults.
func (s *ResolveSystem) melee(a, t *world.Entity) (bool, int32) {
	res, err := s.deps.Scripts.CalcMelee(context.Background(), *a, *t)
	if err == nil {
		return res.Hit, res.Damage
	}
	return true, BaseMelee(a, t)
}

// BaseMelee is attack plus attack buffs against defense plus defense
// buffs, never less than 1.
func BaseMelee(a, t *world.Entity) int32 {
	dmg := a.Stats.Attack + a.BuffPower(world.BuffAttack) - t.Stats.Defense - t.BuffPower(world.BuffDefense)
	if dmg < 1 {
		dmg = 1
	}
	return dmg
}

// ==================== Items ====================

func (s *ResolveSystem) resolveUseItem(in world.Intent, tick uint64) {
	ws := s.deps.World
	info := s.deps.Data.Items.Get(in.ItemID)
	if info == nil {
		return
	}
	a, err := ws.Get(in.Actor)
	if err != nil || !a.Alive() {
		return
	}
	p, ok := ws.Player(in.Actor)
	if !ok || carried(p.Inventory, in.ItemID) <= 0 {
		s.refuse(in, packet.TypeUseItem, "not carried")
		return
	}
	target := in.Target
	if target == 0 {
		target = in.Actor
	}
	t, err := ws.Get(target)
	if err != nil || !t.Alive() || t.Zone != a.Zone || t.Pos.Dist(a.Pos) > handler.InteractRange {
		s.refuse(in, packet.TypeUseItem, "no target")
		return
	}

	if info.Script != "" {
		c := scripting.NewContext(scripting.KindItemUse, in.Actor, ws).
			WithTarget(target).
			WithTick(tick)
		res, err := s.deps.Scripts.Invoke(context.Background(), scripting.ScriptRef(info.Script), c)
		if err != nil {
			s.refuse(in, packet.TypeUseItem, "nothing happens")
			return
		}
		handler.ApplyEffects(s.deps, in.Actor, res.Effects)
	} else if info.Heal != 0 || info.Mana != 0 {
		ws.ApplyDelta(target, world.Heal(info.Heal, info.Mana))
	}

	if info.Consumable {
		ws.UpdatePlayer(in.Actor, func(p *world.Player) {
			p.Inventory = takeOne(p.Inventory, in.ItemID)
		})
	}
}

func carried(inv []world.Item, itemID uint32) int32 {
	var n int32
	for _, it := range inv {
		if it.ItemID == itemID {
			n += it.Count
		}
	}
	return n
}

// takeOne removes one of itemID, dropping the stack when it empties.
func takeOne(inv []world.Item, itemID uint32) []world.Item {
	for i := range inv {
		if inv[i].ItemID != itemID || inv[i].Count <= 0 {
			continue
		}
		inv[i].Count--
		if inv[i].Count == 0 {
			inv = append(inv[:i], inv[i+1:]...)
		}
		return inv
	}
	return inv
}

func (s *ResolveSystem) refuse(in world.Intent, t packet.MsgType, reason string) {
	if in.Session == 0 {
		return
	}
	if sess := s.deps.Sessions.Get(in.Session); sess != nil {
		sess.Send(&packet.ProtocolError{Code: packet.ErrCodeRejected, Offender: t, Message: reason})
	}
}
