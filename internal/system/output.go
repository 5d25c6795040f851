package system

import (
	"sort"
	"time"

	"github.com/l1jgo/realm/internal/core/event"
	coresys "github.com/l1jgo/realm/internal/core/system"
	"github.com/l1jgo/realm/internal/handler"
	"github.com/l1jgo/realm/internal/net"
	"github.com/l1jgo/realm/internal/net/packet"
	"github.com/l1jgo/realm/internal/world"
	"go.uber.org/zap"
)

type knownSet map[world.EntityID]struct{}

// OutputSystem sends every in-world session what changed within its view
// range, then flushes all output buffers. Phase 6 (Output).
//
// The whole pass runs inside one World.View, so every session's deltas are
// computed against the same registry state. Each session keeps the set of
// entities its client knows: new ones get EntityAppear, known ones that
// changed get EntityDelta, and ones that left the view get
// EntityDisappear. Frames are encoded once per entity per tick.
type OutputSystem struct {
	deps  *handler.Deps
	known map[uint64]knownSet
}

func NewOutputSystem(deps *handler.Deps) *OutputSystem {
	s := &OutputSystem{deps: deps, known: make(map[uint64]knownSet)}
	event.Subscribe(deps.Bus, func(ev event.PlayerLeft) {
		delete(s.known, ev.SessionID)
	})
	return s
}

func (s *OutputSystem) Phase() coresys.Phase { return coresys.PhaseOutput }

func (s *OutputSystem) Update(uint64, time.Duration) {
	frames := &frameCache{
		codec:   s.deps.Codec,
		log:     s.deps.Log,
		appear:  make(map[world.EntityID][]byte),
		delta:   make(map[world.EntityID][]byte),
		vanish:  make(map[world.EntityID][]byte),
		buffOut: make(map[int][]byte),
	}
	viewRange := s.deps.Config.World.ViewRange

	s.deps.World.View(func(v world.View) {
		buffs := v.BuffEvents()
		s.deps.Sessions.Each(func(sess *net.Session) {
			if sess.IsClosed() || sess.EntityID == 0 {
				delete(s.known, sess.ID)
				return
			}
			self, ok := v.Get(world.EntityID(sess.EntityID))
			if !ok {
				delete(s.known, sess.ID)
				return
			}
			s.session(sess, v, self, viewRange, buffs, frames)
		})
	})
	s.deps.World.TakeChanges()

	s.deps.Sessions.Each(func(sess *net.Session) {
		sess.FlushOutput()
	})
}

func (s *OutputSystem) session(sess *net.Session, v world.View, self *world.Entity, viewRange int32, buffs []world.BuffEvent, frames *frameCache) {
	old := s.known[sess.ID]
	next := make(knownSet, len(old))

	for _, id := range v.Query(self.Zone, world.Around(self.Pos, viewRange)) {
		e, _ := v.Get(id)
		next[id] = struct{}{}
		if _, seen := old[id]; !seen {
			frames.send(sess, frames.appear, e, func() packet.Message { return handler.AppearOf(e) })
		} else if v.Changed(id) {
			frames.send(sess, frames.delta, e, func() packet.Message { return handler.DeltaOf(e) })
		}
	}

	if len(old) > 0 {
		gone := make([]world.EntityID, 0)
		for id := range old {
			if _, still := next[id]; !still {
				gone = append(gone, id)
			}
		}
		sort.Slice(gone, func(i, j int) bool { return gone[i] < gone[j] })
		for _, id := range gone {
			id := id
			frames.sendID(sess, frames.vanish, id, func() packet.Message {
				return &packet.EntityDisappear{ID: uint64(id)}
			})
		}
	}

	for i, ev := range buffs {
		if _, visible := next[ev.Entity]; !visible {
			continue
		}
		if f := frames.buff(i, ev); f != nil {
			sess.SendFrame(f)
		}
	}
	s.known[sess.ID] = next
}

// Known reports how many entities session id's client currently sees.
func (s *OutputSystem) Known(id uint64) int { return len(s.known[id]) }

// frameCache encodes each outbound message once per tick.
type frameCache struct {
	codec   *packet.Codec
	log     *zap.Logger
	appear  map[world.EntityID][]byte
	delta   map[world.EntityID][]byte
	vanish  map[world.EntityID][]byte
	buffOut map[int][]byte
}

func (c *frameCache) send(sess *net.Session, cache map[world.EntityID][]byte, e *world.Entity, build func() packet.Message) {
	c.sendID(sess, cache, e.ID, build)
}

func (c *frameCache) sendID(sess *net.Session, cache map[world.EntityID][]byte, id world.EntityID, build func() packet.Message) {
	f, ok := cache[id]
	if !ok {
		msg := build()
		var err error
		if f, err = c.codec.Marshal(msg); err != nil {
			c.log.Error("編碼輸出失敗", zap.Stringer("type", msg.Type()), zap.Error(err))
		}
		cache[id] = f
	}
	if f != nil {
		sess.SendFrame(f)
	}
}

func (c *frameCache) buff(i int, ev world.BuffEvent) []byte {
	if f, ok := c.buffOut[i]; ok {
		return f
	}
	msg := &packet.BuffUpdate{
		Entity:    uint64(ev.Entity),
		BuffID:    ev.BuffID,
		Remaining: uint32(ev.Remaining),
		Removed:   ev.Removed,
	}
	f, err := c.codec.Marshal(msg)
	if err != nil {
		c.log.Error("編碼輸出失敗", zap.Stringer("type", msg.Type()), zap.Error(err))
	}
	c.buffOut[i] = f
	return f
}
