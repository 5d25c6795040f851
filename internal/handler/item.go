package handler

import (
	"github.com/l1jgo/realm/internal/net"
	"github.com/l1jgo/realm/internal/net/packet"
	"github.com/l1jgo/realm/internal/world"
)

// HandleUseItem records an item-use intent for an item type the world
// defines. Ownership is checked at resolution.
func HandleUseItem(sess *net.Session, msg *packet.UseItem, deps *Deps) {
	id, ok := inWorld(sess, msg.Type())
	if !ok {
		return
	}
	if deps.Data.Items.Get(msg.ItemID) == nil {
		reject(sess, msg.Type(), "unknown item")
		return
	}
	target := world.EntityID(msg.Target)
	if target == 0 {
		target = id
	}
	deps.World.RecordIntent(world.Intent{
		Kind:    world.IntentUseItem,
		Actor:   id,
		Session: sess.ID,
		Target:  target,
		ItemID:  msg.ItemID,
	})
}
