package handler

import (
	"github.com/l1jgo/realm/internal/config"
	"github.com/l1jgo/realm/internal/core/event"
	"github.com/l1jgo/realm/internal/data"
	"github.com/l1jgo/realm/internal/dbproxy"
	"github.com/l1jgo/realm/internal/faultlog"
	"github.com/l1jgo/realm/internal/net"
	"github.com/l1jgo/realm/internal/net/packet"
	"github.com/l1jgo/realm/internal/scripting"
	"github.com/l1jgo/realm/internal/world"
	"go.uber.org/zap"
)

// Deps holds shared dependencies injected into all message handlers and
// the tick systems that reuse them.
type Deps struct {
	Config   *config.Config
	Log      *zap.Logger
	World    *world.Manager
	Sessions *net.SessionStore
	Scripts  *scripting.Engine
	DB       *dbproxy.Queue
	Data     *data.World
	Bus      *event.Bus
	Codec    *packet.Codec
	Faults   *faultlog.Log
}

var (
	preAuth = []packet.SessionState{packet.StateAuthenticating}
	active  = []packet.SessionState{packet.StateActive}
	anyOpen = []packet.SessionState{packet.StateAuthenticating, packet.StateActive}
)

// RegisterAll registers every message handler into the registry. This is
// the only registration table.
func RegisterAll(reg *packet.Registry, deps *Deps) {
	reg.Register(packet.TypePing, anyOpen, func(p packet.Peer, m packet.Message) {
		HandlePing(p.(*net.Session), m.(*packet.Ping), deps)
	})
	reg.Register(packet.TypeLogout, anyOpen, func(p packet.Peer, m packet.Message) {
		HandleLogout(p.(*net.Session), deps)
	})

	reg.Register(packet.TypeLogin, preAuth, func(p packet.Peer, m packet.Message) {
		HandleLogin(p.(*net.Session), m.(*packet.Login), deps)
	})

	reg.Register(packet.TypeEnterWorld, active, func(p packet.Peer, m packet.Message) {
		HandleEnterWorld(p.(*net.Session), m.(*packet.EnterWorld), deps)
	})
	reg.Register(packet.TypeMove, active, func(p packet.Peer, m packet.Message) {
		HandleMove(p.(*net.Session), m.(*packet.Move), deps)
	})
	reg.Register(packet.TypeAttack, active, func(p packet.Peer, m packet.Message) {
		HandleAttack(p.(*net.Session), m.(*packet.Attack), deps)
	})
	reg.Register(packet.TypeUseItem, active, func(p packet.Peer, m packet.Message) {
		HandleUseItem(p.(*net.Session), m.(*packet.UseItem), deps)
	})
	reg.Register(packet.TypeSay, active, func(p packet.Peer, m packet.Message) {
		HandleSay(p.(*net.Session), m.(*packet.Say), deps)
	})
	reg.Register(packet.TypeInteract, active, func(p packet.Peer, m packet.Message) {
		HandleInteract(p.(*net.Session), m.(*packet.Interact), deps)
	})
}

// inWorld returns the session's player entity, or rejects the message when
// the session has not entered the world yet.
func inWorld(sess *net.Session, t packet.MsgType) (world.EntityID, bool) {
	if sess.EntityID == 0 {
		reject(sess, t, "not in world")
		return 0, false
	}
	return world.EntityID(sess.EntityID), true
}

func reject(sess *net.Session, t packet.MsgType, reason string) {
	sess.Send(&packet.ProtocolError{Code: packet.ErrCodeRejected, Offender: t, Message: reason})
}

// SessionOf returns the live session controlling player id.
func SessionOf(deps *Deps, id world.EntityID) *net.Session {
	p, ok := deps.World.Player(id)
	if !ok {
		return nil
	}
	s := deps.Sessions.Get(p.SessionID)
	if s == nil || s.IsClosed() {
		return nil
	}
	return s
}
