package handler

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/l1jgo/realm/internal/core/event"
	"github.com/l1jgo/realm/internal/dbproxy"
	"github.com/l1jgo/realm/internal/net/packet"
	"github.com/l1jgo/realm/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnterWorldCreatesCharacter(t *testing.T) {
	f := newFixture(t)
	var entered []event.PlayerEntered
	event.Subscribe(f.deps.Bus, func(ev event.PlayerEntered) { entered = append(entered, ev) })

	sess := f.session(t, packet.StateActive)
	f.deps.Sessions.BindAccount(sess, "alice")
	HandleEnterWorld(sess, &packet.EnterWorld{Character: "Ayla"}, f.deps)
	f.settle(t, func() bool { return sess.EntityID != 0 })

	msgs := drain(t, sess)
	require.Len(t, msgs, 1)
	res := msgs[0].(*packet.EnterWorldResult)
	assert.Equal(t, packet.EnterOK, res.Code)
	assert.Equal(t, sess.EntityID, res.EntityID)
	assert.Equal(t, int32(50), res.X)
	assert.Equal(t, int32(100), res.MaxHP)

	raw, ok := f.mem.Value(dbproxy.TableCharacters, "Ayla")
	require.True(t, ok)
	var cs world.CharacterState
	require.NoError(t, json.Unmarshal(raw, &cs))
	assert.Equal(t, "alice", cs.Account)

	id, online := f.deps.World.PlayerByCharacter("Ayla")
	require.True(t, online)
	assert.Equal(t, world.EntityID(sess.EntityID), id)

	f.deps.Bus.SwapBuffers()
	f.deps.Bus.DispatchAll()
	require.Len(t, entered, 1)
	assert.Equal(t, "Ayla", entered[0].Character)
}

func TestEnterWorldLoadsSavedState(t *testing.T) {
	f := newFixture(t)
	raw, err := json.Marshal(world.CharacterState{
		Name: "Bram", Account: "bob", Zone: 1, X: 12, Y: 34,
		Level: 4, HP: 0, MaxHP: 120, MP: 5, MaxMP: 30, Exp: 900,
	})
	require.NoError(t, err)
	f.mem.Put(dbproxy.TableCharacters, "Bram", raw)

	sess := f.session(t, packet.StateActive)
	f.deps.Sessions.BindAccount(sess, "bob")
	HandleEnterWorld(sess, &packet.EnterWorld{Character: "Bram"}, f.deps)
	f.settle(t, func() bool { return sess.EntityID != 0 })

	e, err := f.deps.World.Get(world.EntityID(sess.EntityID))
	require.NoError(t, err)
	// dead characters come back at the zone spawn with full health
	assert.Equal(t, world.Pos{X: 50, Y: 50}, e.Pos)
	assert.Equal(t, int32(120), e.HP)
	assert.Equal(t, uint16(4), e.Level)

	p, ok := f.deps.World.Player(world.EntityID(sess.EntityID))
	require.True(t, ok)
	assert.Equal(t, int64(900), p.Exp)
}

func TestEnterWorldRefusals(t *testing.T) {
	f := newFixture(t)
	raw, err := json.Marshal(world.CharacterState{Name: "Cass", Account: "carol", Zone: 1, X: 1, Y: 1, HP: 10, MaxHP: 10})
	require.NoError(t, err)
	f.mem.Put(dbproxy.TableCharacters, "Cass", raw)

	thief := f.session(t, packet.StateActive)
	f.deps.Sessions.BindAccount(thief, "mallory")
	HandleEnterWorld(thief, &packet.EnterWorld{Character: "Cass"}, f.deps)
	f.settle(t, func() bool { return !thief.Pending })
	msgs := drain(t, thief)
	require.Len(t, msgs, 1)
	assert.Equal(t, packet.EnterNotOwner, msgs[0].(*packet.EnterWorldResult).Code)
	assert.Zero(t, thief.EntityID)

	HandleEnterWorld(thief, &packet.EnterWorld{Character: "   "}, f.deps)
	msgs = drain(t, thief)
	require.Len(t, msgs, 1)
	assert.Equal(t, packet.EnterNoCharacter, msgs[0].(*packet.EnterWorldResult).Code)

	owner, _ := f.inWorld(t, "Dana")
	HandleEnterWorld(owner, &packet.EnterWorld{Character: "Other"}, f.deps)
	msgs = drain(t, owner)
	require.Len(t, msgs, 1)
	assert.Equal(t, packet.EnterBusy, msgs[0].(*packet.EnterWorldResult).Code)

	again := f.session(t, packet.StateActive)
	f.deps.Sessions.BindAccount(again, "Dana2")
	HandleEnterWorld(again, &packet.EnterWorld{Character: "Dana"}, f.deps)
	msgs = drain(t, again)
	require.Len(t, msgs, 1)
	assert.Equal(t, packet.EnterBusy, msgs[0].(*packet.EnterWorldResult).Code, "already online")
}

func TestEnterWorldLoadFailure(t *testing.T) {
	f := newFixture(t)
	f.mem.FailNext(dbproxy.TableCharacters, "Eve", assert.AnError)

	sess := f.session(t, packet.StateActive)
	f.deps.Sessions.BindAccount(sess, "eve")
	HandleEnterWorld(sess, &packet.EnterWorld{Character: "Eve"}, f.deps)
	f.settle(t, func() bool { return !sess.Pending })

	msgs := drain(t, sess)
	require.Len(t, msgs, 1)
	assert.Equal(t, packet.EnterFailed, msgs[0].(*packet.EnterWorldResult).Code)
	_, online := f.deps.World.PlayerByCharacter("Eve")
	assert.False(t, online)
}
