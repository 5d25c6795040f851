package handler

import (
	"github.com/l1jgo/realm/internal/net"
	"github.com/l1jgo/realm/internal/net/packet"
	"github.com/l1jgo/realm/internal/world"
)

// HandleAttack records a melee intent. Range and liveness are checked when
// it resolves, after any earlier move in the same tick.
func HandleAttack(sess *net.Session, msg *packet.Attack, deps *Deps) {
	id, ok := inWorld(sess, msg.Type())
	if !ok {
		return
	}
	target := world.EntityID(msg.Target)
	if target == 0 || target == id {
		reject(sess, msg.Type(), "invalid target")
		return
	}
	deps.World.RecordIntent(world.Intent{
		Kind:    world.IntentAttack,
		Actor:   id,
		Session: sess.ID,
		Target:  target,
	})
}
