package packet

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePeer struct {
	state SessionState
	sent  []Message
}

func (p *fakePeer) State() SessionState { return p.state }
func (p *fakePeer) Send(msg Message)    { p.sent = append(p.sent, msg) }

func TestDispatchPreservesArrivalOrder(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	var order []uint32
	reg.Register(TypePing, []SessionState{StateActive}, func(_ Peer, msg Message) {
		order = append(order, msg.(*Ping).Nonce)
	})

	peer := &fakePeer{state: StateActive}
	for i := uint32(0); i < 100; i++ {
		require.NoError(t, reg.Dispatch(peer, &Ping{Nonce: i}))
	}
	require.Len(t, order, 100)
	for i, n := range order {
		assert.Equal(t, uint32(i), n)
	}
}

func TestDispatchUnregisteredRepliesAndContinues(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	peer := &fakePeer{state: StateActive}

	err := reg.Dispatch(peer, &EntityDelta{ID: 1})
	require.NoError(t, err)
	require.Len(t, peer.sent, 1)

	pe, ok := peer.sent[0].(*ProtocolError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeUnknownType, pe.Code)
	assert.Equal(t, TypeEntityDelta, pe.Offender)
}

func TestDispatchWrongStateIsFatal(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	called := false
	reg.Register(TypeMove, []SessionState{StateActive}, func(Peer, Message) { called = true })

	err := reg.Dispatch(&fakePeer{state: StateAuthenticating}, &Move{})
	var pse *ProtocolStateError
	require.True(t, errors.As(err, &pse))
	assert.Equal(t, TypeMove, pse.Type)
	assert.Equal(t, StateAuthenticating, pse.State)
	assert.False(t, called)
}

func TestDispatchRecoversPanic(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	reg.Register(TypeSay, []SessionState{StateActive}, func(Peer, Message) { panic("boom") })
	reg.Register(TypePing, []SessionState{StateActive}, func(Peer, Message) {})

	peer := &fakePeer{state: StateActive}
	err := reg.Dispatch(peer, &Say{Text: "x"})
	var hp *HandlerPanicError
	require.ErrorAs(t, err, &hp)
	assert.Equal(t, "boom", hp.Value)

	assert.NoError(t, reg.Dispatch(peer, &Ping{}))
}

func TestRegisterDuplicatePanics(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	reg.Register(TypePing, []SessionState{StateActive}, func(Peer, Message) {})
	assert.Panics(t, func() {
		reg.Register(TypePing, []SessionState{StateActive}, func(Peer, Message) {})
	})
}
