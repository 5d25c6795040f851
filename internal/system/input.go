package system

import (
	"errors"
	"fmt"
	"time"

	coresys "github.com/l1jgo/realm/internal/core/system"
	"github.com/l1jgo/realm/internal/faultlog"
	"github.com/l1jgo/realm/internal/handler"
	"github.com/l1jgo/realm/internal/net"
	"github.com/l1jgo/realm/internal/net/packet"
	"go.uber.org/zap"
)

// SessionSource hands over sessions that completed the handshake.
// *net.Server satisfies it.
type SessionSource interface {
	NewSessions() <-chan *net.Session
}

// InputSystem admits new sessions, then drains each session's inbound queue
// and dispatches through the packet registry. Phase 0 (Input).
//
// Sessions are visited in ascending id order and each session's messages
// in arrival order, so handler side effects (intents) are recorded in a
// deterministic order.
type InputSystem struct {
	source     SessionSource
	registry   *packet.Registry
	deps       *handler.Deps
	maxPerTick int
}

func NewInputSystem(source SessionSource, registry *packet.Registry, deps *handler.Deps) *InputSystem {
	limit := deps.Config.Network.MaxPacketsPerTick
	if limit <= 0 {
		limit = 32
	}
	return &InputSystem{source: source, registry: registry, deps: deps, maxPerTick: limit}
}

func (s *InputSystem) Phase() coresys.Phase { return coresys.PhaseInput }

func (s *InputSystem) Update(tick uint64, _ time.Duration) {
	s.deps.World.SetTick(tick)
	s.admit()

	s.deps.Sessions.Each(func(sess *net.Session) {
		if sess.IsClosed() {
			return
		}
		s.drain(sess)
	})
}

func (s *InputSystem) admit() {
	if s.source == nil {
		return
	}
	ch := s.source.NewSessions()
	for {
		select {
		case sess, ok := <-ch:
			if !ok {
				return
			}
			if s.refuseDuplicate(sess) {
				continue
			}
			s.deps.Sessions.Add(sess)
			sess.Log().Debug("連線已加入")
		default:
			return
		}
	}
}

// refuseDuplicate closes a session that arrived already logged in (through
// a pre-auth token) as an account another live session holds, the same
// answer a second Login gets.
func (s *InputSystem) refuseDuplicate(sess *net.Session) bool {
	if sess.AccountName == "" {
		return false
	}
	other := s.deps.Sessions.ByAccount(sess.AccountName)
	if other == nil || other == sess {
		return false
	}
	sess.Log().Info("帳號已在線上，拒絕連線", zap.String("account", sess.AccountName), zap.Uint64("online", other.ID))
	sess.Send(&packet.LoginResult{Code: packet.LoginInUse})
	sess.FlushOutput()
	sess.Close()
	return true
}

func (s *InputSystem) drain(sess *net.Session) {
	for i := 0; i < s.maxPerTick; i++ {
		var in net.Inbound
		select {
		case in = <-sess.InQueue:
		default:
			return
		}

		if !sess.InOrder(in.Seq) {
			s.deps.Faults.Fault(faultlog.KindProtocolState, sess.ID, sess.EntityID,
				fmt.Errorf("message %d out of order", in.Seq))
			sess.Close()
			return
		}
		if err := s.registry.Dispatch(sess, in.Msg); err != nil {
			s.dispatchFailed(sess, in.Msg, err)
			return
		}
		if sess.IsClosed() {
			return
		}
	}
}

// dispatchFailed closes the session. A state violation is answered before
// the socket goes away; the answer is best effort.
func (s *InputSystem) dispatchFailed(sess *net.Session, msg packet.Message, err error) {
	var stateErr *packet.ProtocolStateError
	var panicErr *packet.HandlerPanicError
	switch {
	case errors.As(err, &stateErr):
		s.deps.Faults.Fault(faultlog.KindProtocolState, sess.ID, sess.EntityID, err)
		sess.Send(&packet.ProtocolError{
			Code:     packet.ErrCodeBadState,
			Offender: msg.Type(),
			Message:  "not allowed in " + stateErr.State.String(),
		})
		sess.FlushOutput()
	case errors.As(err, &panicErr):
		s.deps.Faults.Fault(faultlog.KindHandlerPanic, sess.ID, sess.EntityID, err)
	default:
		sess.Log().Warn("封包分派錯誤", zap.Stringer("type", msg.Type()), zap.Error(err))
	}
	sess.Close()
}
