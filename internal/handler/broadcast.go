package handler

import (
	"github.com/l1jgo/realm/internal/net/packet"
	"github.com/l1jgo/realm/internal/world"
	"go.uber.org/zap"
)

// BroadcastNearby encodes msg once and buffers it for every player within
// view range of pos. It returns how many sessions received it.
func BroadcastNearby(deps *Deps, zone world.ZoneID, pos world.Pos, msg packet.Message) int {
	frame, err := deps.Codec.Marshal(msg)
	if err != nil {
		deps.Log.Error("編碼廣播失敗", zap.Stringer("type", msg.Type()), zap.Error(err))
		return 0
	}
	ids := deps.World.Range(zone, pos, deps.Config.World.ViewRange, func(e *world.Entity) bool {
		return e.Kind == world.KindPlayer
	})
	n := 0
	for _, id := range ids {
		if s := SessionOf(deps, id); s != nil {
			s.SendFrame(frame)
			n++
		}
	}
	return n
}

// SendTo buffers msg for the session controlling player id, if any.
func SendTo(deps *Deps, id world.EntityID, msg packet.Message) bool {
	s := SessionOf(deps, id)
	if s == nil {
		return false
	}
	s.Send(msg)
	return true
}

// AppearOf describes e to a client that has not seen it.
func AppearOf(e *world.Entity) *packet.EntityAppear {
	return &packet.EntityAppear{
		ID:       uint64(e.ID),
		Kind:     byte(e.Kind),
		Template: e.Template,
		Name:     e.Name,
		X:        e.Pos.X,
		Y:        e.Pos.Y,
		Heading:  e.Heading,
		HP:       e.HP,
		MaxHP:    e.MaxHP,
	}
}

// DeltaOf is e's current state for clients that already see it.
func DeltaOf(e *world.Entity) *packet.EntityDelta {
	return &packet.EntityDelta{
		ID:      uint64(e.ID),
		X:       e.Pos.X,
		Y:       e.Pos.Y,
		Heading: e.Heading,
		HP:      e.HP,
		MP:      e.MP,
		Action:  byte(e.Action),
	}
}
