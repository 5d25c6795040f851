package handler

import (
	"context"

	"github.com/l1jgo/realm/internal/net"
	"github.com/l1jgo/realm/internal/net/packet"
	"github.com/l1jgo/realm/internal/scripting"
	"github.com/l1jgo/realm/internal/world"
)

// InteractRange is how close a player must stand to talk to an NPC.
const InteractRange = 3

// HandleInteract runs the NPC's dialogue script with the player as target.
// The script answers through ctx:dialogue, delivered to this session only.
func HandleInteract(sess *net.Session, msg *packet.Interact, deps *Deps) {
	id, ok := inWorld(sess, msg.Type())
	if !ok {
		return
	}
	npcID := world.EntityID(msg.Target)
	npc, ok := deps.World.NPC(npcID)
	if !ok || npc.DialogueScript == "" {
		reject(sess, msg.Type(), "nothing to talk to")
		return
	}
	me, err := deps.World.Get(id)
	if err != nil {
		return
	}
	them, err := deps.World.Get(npcID)
	if err != nil || them.Zone != me.Zone || them.Pos.Dist(me.Pos) > InteractRange {
		reject(sess, msg.Type(), "too far away")
		return
	}

	c := scripting.NewContext(scripting.KindDialogue, npcID, deps.World).
		WithTarget(id).
		WithTick(deps.World.Tick()).
		WithOption(msg.Option)
	res, err := deps.Scripts.Invoke(context.Background(), scripting.ScriptRef(npc.DialogueScript), c)
	if err != nil {
		// The fault is already recorded; the player just gets no answer.
		reject(sess, msg.Type(), "no answer")
		return
	}
	ApplyEffects(deps, npcID, res.Effects)
}
