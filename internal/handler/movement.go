package handler

import (
	"github.com/l1jgo/realm/internal/net"
	"github.com/l1jgo/realm/internal/net/packet"
	"github.com/l1jgo/realm/internal/world"
)

// HandleMove records a one-tile step. It is resolved with every other
// intent of the tick, in arrival order.
func HandleMove(sess *net.Session, msg *packet.Move, deps *Deps) {
	id, ok := inWorld(sess, msg.Type())
	if !ok {
		return
	}
	if msg.Heading > 7 {
		reject(sess, msg.Type(), "heading out of range")
		return
	}
	deps.World.RecordIntent(world.Intent{
		Kind:    world.IntentMove,
		Actor:   id,
		Session: sess.ID,
		Heading: msg.Heading,
	})
}
