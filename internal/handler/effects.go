package handler

import (
	"github.com/l1jgo/realm/internal/net/packet"
	"github.com/l1jgo/realm/internal/scripting"
	"github.com/l1jgo/realm/internal/world"
	"go.uber.org/zap"
)

// ApplyEffects commits the effects of a successful script call made on
// behalf of actor. Moves and attacks become intents resolved with the
// rest of the tick; spawns are queued for the next structural drain.
func ApplyEffects(deps *Deps, actor world.EntityID, effects []scripting.Effect) {
	for _, fx := range effects {
		applyEffect(deps, actor, fx)
	}
}

func applyEffect(deps *Deps, actor world.EntityID, fx scripting.Effect) {
	switch fx.Kind {
	case scripting.EffectBuff:
		target := fx.Target
		if target == 0 {
			target = actor
		}
		if !withinReach(deps, actor, target) {
			deps.Log.Warn("腳本 buff 目標超出範圍", zap.Uint64("actor", uint64(actor)), zap.Uint64("target", uint64(target)))
			return
		}
		b := world.Buff{ID: fx.BuffID, Kind: fx.BuffKind, Power: fx.Power, Source: actor}
		if fx.Ticks > 0 {
			b.Expires = deps.World.Tick() + fx.Ticks
		}
		if err := deps.World.ApplyBuff(target, b, false); err != nil {
			deps.Log.Debug("腳本 buff 目標不存在", zap.Uint64("target", uint64(target)), zap.Error(err))
		}

	case scripting.EffectSay:
		e, err := deps.World.Get(actor)
		if err != nil {
			return
		}
		BroadcastNearby(deps, e.Zone, e.Pos, &packet.Chat{From: uint64(actor), Name: e.Name, Text: fx.Text})

	case scripting.EffectMove:
		deps.World.RecordIntent(world.Intent{Kind: world.IntentMove, Actor: actor, Heading: fx.Heading})

	case scripting.EffectAttack:
		deps.World.RecordIntent(world.Intent{Kind: world.IntentAttack, Actor: actor, Target: fx.Target})

	case scripting.EffectSpawn:
		e, err := deps.World.Get(actor)
		if err != nil {
			return
		}
		zone, template, pos := e.Zone, fx.Template, fx.Pos
		deps.World.Post(func() {
			spec, err := deps.Data.Templates.Spec(template, zone, pos, 0, -1)
			if err != nil {
				deps.Log.Warn("腳本生成失敗", zap.Uint64("actor", uint64(actor)), zap.Error(err))
				return
			}
			if _, err := deps.World.Spawn(spec); err != nil {
				deps.Log.Warn("腳本生成失敗", zap.Uint64("actor", uint64(actor)), zap.Error(err))
			}
		})

	case scripting.EffectDialogue:
		SendTo(deps, fx.Target, &packet.Dialogue{From: uint64(actor), Text: fx.Text, Options: fx.Options})
	}
}

// withinReach reports whether target is actor itself or shares its zone
// within the range scripts may reach.
func withinReach(deps *Deps, actor, target world.EntityID) bool {
	if actor == target {
		return true
	}
	a, err := deps.World.Get(actor)
	if err != nil {
		return false
	}
	t, err := deps.World.Get(target)
	if err != nil {
		return false
	}
	return a.Zone == t.Zone && a.Pos.Dist(t.Pos) <= scripting.MaxNearbyRange
}
