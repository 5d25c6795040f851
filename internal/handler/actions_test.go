package handler

import (
	"strings"
	"testing"

	"github.com/l1jgo/realm/internal/faultlog"
	"github.com/l1jgo/realm/internal/net/packet"
	"github.com/l1jgo/realm/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionsBecomeIntentsInOrder(t *testing.T) {
	f := newFixture(t)
	sess, id := f.inWorld(t, "hero")

	HandleMove(sess, &packet.Move{Heading: 2}, f.deps)
	HandleAttack(sess, &packet.Attack{Target: 99}, f.deps)
	HandleUseItem(sess, &packet.UseItem{ItemID: 40010}, f.deps)

	got := f.deps.World.TakeIntents()
	require.Len(t, got, 3)
	assert.Equal(t, world.IntentMove, got[0].Kind)
	assert.Equal(t, byte(2), got[0].Heading)
	assert.Equal(t, world.IntentAttack, got[1].Kind)
	assert.Equal(t, world.EntityID(99), got[1].Target)
	assert.Equal(t, world.IntentUseItem, got[2].Kind)
	assert.Equal(t, id, got[2].Target, "defaults to self")
	for i, in := range got {
		assert.Equal(t, id, in.Actor)
		assert.Equal(t, sess.ID, in.Session)
		if i > 0 {
			assert.Greater(t, in.Seq, got[i-1].Seq)
		}
	}
	assert.Empty(t, drain(t, sess))
}

func TestActionsRejectedBeforeAnyIntent(t *testing.T) {
	f := newFixture(t)
	sess, id := f.inWorld(t, "hero")
	lobby := f.session(t, packet.StateActive)

	HandleMove(lobby, &packet.Move{Heading: 1}, f.deps)
	HandleMove(sess, &packet.Move{Heading: 8}, f.deps)
	HandleAttack(sess, &packet.Attack{Target: uint64(id)}, f.deps)
	HandleUseItem(sess, &packet.UseItem{ItemID: 1}, f.deps)

	assert.Empty(t, f.deps.World.TakeIntents())

	reasons := func(msgs []packet.Message) []string {
		var out []string
		for _, m := range msgs {
			out = append(out, m.(*packet.ProtocolError).Message)
		}
		return out
	}
	assert.Equal(t, []string{"not in world"}, reasons(drain(t, lobby)))
	assert.Equal(t, []string{"heading out of range", "invalid target", "unknown item"}, reasons(drain(t, sess)))
}

func TestSayReachesPlayersInView(t *testing.T) {
	f := newFixture(t)
	a, aid := f.inWorld(t, "ann")
	b, _ := f.inWorld(t, "ben")
	c, cid := f.inWorld(t, "cal")
	far := world.Pos{X: 50 + f.deps.Config.World.ViewRange + 5, Y: 50}
	require.NoError(t, f.deps.World.ApplyDelta(cid, world.Delta{Pos: &far}))

	HandleSay(a, &packet.Say{Text: "  hello  "}, f.deps)

	for _, s := range []struct {
		name  string
		hears bool
		msgs  []packet.Message
	}{
		{"speaker", true, drain(t, a)},
		{"neighbour", true, drain(t, b)},
		{"distant", false, drain(t, c)},
	} {
		if !s.hears {
			assert.Empty(t, s.msgs, s.name)
			continue
		}
		require.Len(t, s.msgs, 1, s.name)
		chat := s.msgs[0].(*packet.Chat)
		assert.Equal(t, "hello", chat.Text)
		assert.Equal(t, uint64(aid), chat.From)
		assert.Equal(t, "ann", chat.Name)
	}

	HandleSay(a, &packet.Say{Text: strings.Repeat("x", maxChatLength+1)}, f.deps)
	msgs := drain(t, a)
	require.Len(t, msgs, 1)
	assert.Equal(t, "message too long", msgs[0].(*packet.ProtocolError).Message)
	assert.Empty(t, drain(t, b))
}

func TestInteractRunsDialogue(t *testing.T) {
	f := newFixture(t)
	sess, _ := f.inWorld(t, "hero")
	spec, err := f.deps.Data.Templates.Spec(50001, 1, world.Pos{X: 51, Y: 50}, 0, -1)
	require.NoError(t, err)
	keeper, err := f.deps.World.Spawn(spec)
	require.NoError(t, err)

	HandleInteract(sess, &packet.Interact{Target: uint64(keeper)}, f.deps)
	msgs := drain(t, sess)
	require.Len(t, msgs, 1)
	d := msgs[0].(*packet.Dialogue)
	assert.Equal(t, uint64(keeper), d.From)
	assert.Equal(t, "Halt.", d.Text)
	assert.Equal(t, []string{"pass", "leave"}, d.Options)

	HandleInteract(sess, &packet.Interact{Target: uint64(keeper), Option: "pass"}, f.deps)
	msgs = drain(t, sess)
	require.Len(t, msgs, 1)
	assert.Equal(t, "You chose pass", msgs[0].(*packet.Dialogue).Text)
}

func TestInteractRefusals(t *testing.T) {
	f := newFixture(t)
	sess, hero := f.inWorld(t, "hero")
	spec, err := f.deps.Data.Templates.Spec(50001, 1, world.Pos{X: 60, Y: 60}, 0, -1)
	require.NoError(t, err)
	spec.NPC.DialogueScript = "keeper_silent"
	far, err := f.deps.World.Spawn(spec)
	require.NoError(t, err)

	HandleInteract(sess, &packet.Interact{Target: uint64(hero)}, f.deps)
	HandleInteract(sess, &packet.Interact{Target: uint64(far)}, f.deps)

	pos := world.Pos{X: 59, Y: 60}
	require.NoError(t, f.deps.World.ApplyDelta(hero, world.Delta{Pos: &pos}))
	HandleInteract(sess, &packet.Interact{Target: uint64(far)}, f.deps)

	var reasons []string
	for _, m := range drain(t, sess) {
		reasons = append(reasons, m.(*packet.ProtocolError).Message)
	}
	assert.Equal(t, []string{"nothing to talk to", "too far away", "no answer"}, reasons)
	assert.Equal(t, uint64(1), f.deps.Faults.Count(faultlog.KindScript))
}
