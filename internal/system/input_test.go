package system

import (
	"testing"

	"github.com/l1jgo/realm/internal/config"
	"github.com/l1jgo/realm/internal/faultlog"
	"github.com/l1jgo/realm/internal/net"
	"github.com/l1jgo/realm/internal/net/packet"
	"github.com/l1jgo/realm/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInputAnswersInArrivalOrder(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	sess := h.session(t, packet.StateAuthenticating)

	for i := uint32(1); i <= 5; i++ {
		push(sess, uint64(i), &packet.Ping{Nonce: i})
	}
	h.step()

	msgs := received(t, sess)
	require.Len(t, msgs, 5)
	for i, m := range msgs {
		assert.Equal(t, uint32(i+1), m.(*packet.Pong).Nonce)
	}
}

func TestInputRespectsPerTickLimit(t *testing.T) {
	h := newHarness(t, harnessOpts{tweak: func(c *config.Config) { c.Network.MaxPacketsPerTick = 2 }})
	sess := h.session(t, packet.StateAuthenticating)

	for i := uint32(1); i <= 5; i++ {
		push(sess, uint64(i), &packet.Ping{Nonce: i})
	}
	h.step()
	assert.Len(t, received(t, sess), 2)
	h.step()
	assert.Len(t, received(t, sess), 2)
	h.step()
	assert.Len(t, received(t, sess), 1)
}

func TestInputStateViolationClosesSession(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	sess := h.session(t, packet.StateAuthenticating)

	push(sess, 1, &packet.Move{Heading: 2})
	push(sess, 2, &packet.Ping{Nonce: 9})
	h.step()

	assert.True(t, sess.IsClosed())
	assert.Equal(t, packet.StateClosed, sess.State())
	assert.Nil(t, h.deps.Sessions.Get(sess.ID))
	assert.Equal(t, uint64(1), h.faults.Count(faultlog.KindProtocolState))

	msgs := received(t, sess)
	require.Len(t, msgs, 1, "the ping after the violation is never dispatched")
	pe := msgs[0].(*packet.ProtocolError)
	assert.Equal(t, packet.ErrCodeBadState, pe.Code)
	assert.Equal(t, packet.TypeMove, pe.Offender)
}

func TestInputUnregisteredTypeKeepsSession(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	sess := h.session(t, packet.StateAuthenticating)

	push(sess, 1, &packet.Pong{Nonce: 1})
	push(sess, 2, &packet.Ping{Nonce: 2})
	h.step()

	assert.False(t, sess.IsClosed())
	msgs := received(t, sess)
	require.Len(t, msgs, 2)
	assert.Equal(t, packet.ErrCodeUnknownType, msgs[0].(*packet.ProtocolError).Code)
	assert.Equal(t, uint32(2), msgs[1].(*packet.Pong).Nonce)
}

func TestInputOutOfOrderClosesSession(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	sess := h.session(t, packet.StateAuthenticating)

	push(sess, 2, &packet.Ping{Nonce: 2})
	h.step()

	assert.True(t, sess.IsClosed())
	assert.Empty(t, received(t, sess))
	assert.Equal(t, uint64(1), h.faults.Count(faultlog.KindProtocolState))
}

type chanSource struct {
	ch chan *net.Session
}

func (s *chanSource) NewSessions() <-chan *net.Session { return s.ch }

func TestInputAdmitsNewSessions(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	src := &chanSource{ch: make(chan *net.Session, 2)}
	h.set.Input.source = src

	sess := h.session(t, packet.StateAuthenticating)
	h.deps.Sessions.Remove(sess.ID)
	src.ch <- sess
	h.step()

	assert.Same(t, sess, h.deps.Sessions.Get(sess.ID))
}

func TestInputRefusesTokenSessionForOnlineAccount(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	src := &chanSource{ch: make(chan *net.Session, 2)}
	h.set.Input.source = src
	first, hero := h.player(t, "hero", 1, world.Pos{X: 10, Y: 10})

	second := h.session(t, packet.StateActive)
	h.deps.Sessions.Remove(second.ID)
	second.AccountName = "hero"
	src.ch <- second
	h.step()

	assert.True(t, second.IsClosed())
	assert.Nil(t, h.deps.Sessions.Get(second.ID))
	var refused bool
	for _, m := range received(t, second) {
		if r, ok := m.(*packet.LoginResult); ok {
			refused = r.Code == packet.LoginInUse
		}
	}
	assert.True(t, refused)

	assert.False(t, first.IsClosed())
	assert.Same(t, first, h.deps.Sessions.ByAccount("hero"))
	assert.True(t, h.deps.World.Exists(hero))
}
