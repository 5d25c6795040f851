package system

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/l1jgo/realm/internal/config"
	"github.com/l1jgo/realm/internal/core/event"
	"github.com/l1jgo/realm/internal/dbproxy"
	"github.com/l1jgo/realm/internal/net/packet"
	"github.com/l1jgo/realm/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputAppearDeltaDisappear(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	sess, hero := h.player(t, "hero", 1, world.Pos{X: 10, Y: 10})
	gob := h.monster(t, "", 1, world.Pos{X: 15, Y: 10})
	h.monster(t, "", 1, world.Pos{X: 90, Y: 90})

	h.step()
	appeared := map[uint64]bool{}
	for _, m := range received(t, sess) {
		if a, ok := m.(*packet.EntityAppear); ok {
			appeared[a.ID] = true
		}
	}
	assert.Equal(t, map[uint64]bool{uint64(hero): true, uint64(gob): true}, appeared)
	assert.Equal(t, 2, h.set.Output.Known(sess.ID))

	h.step()
	assert.Empty(t, received(t, sess), "nothing changed")

	require.NoError(t, h.deps.World.ApplyDelta(gob, world.Damage(5)))
	h.step()
	msgs := received(t, sess)
	require.Len(t, msgs, 1)
	d := msgs[0].(*packet.EntityDelta)
	assert.Equal(t, uint64(gob), d.ID)
	assert.Equal(t, int32(35), d.HP)

	far := world.Pos{X: 60, Y: 60}
	require.NoError(t, h.deps.World.ApplyDelta(gob, world.Delta{Pos: &far}))
	h.step()
	msgs = received(t, sess)
	require.Len(t, msgs, 1)
	assert.Equal(t, uint64(gob), msgs[0].(*packet.EntityDisappear).ID)
	assert.Equal(t, 1, h.set.Output.Known(sess.ID))
}

func TestOutputReportsBuffChanges(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	sess, hero := h.player(t, "hero", 1, world.Pos{X: 10, Y: 10})
	h.step()
	received(t, sess)

	require.NoError(t, h.deps.World.ApplyBuff(hero, world.Buff{ID: 7, Kind: world.BuffAttack, Power: 3, Expires: h.tick + 2}, false))
	h.step()
	var got []*packet.BuffUpdate
	for _, m := range received(t, sess) {
		if b, ok := m.(*packet.BuffUpdate); ok {
			got = append(got, b)
		}
	}
	require.Len(t, got, 1)
	assert.False(t, got[0].Removed)

	h.step() // expires at this tick
	got = nil
	for _, m := range received(t, sess) {
		if b, ok := m.(*packet.BuffUpdate); ok {
			got = append(got, b)
		}
	}
	require.Len(t, got, 1)
	assert.True(t, got[0].Removed)
	assert.Equal(t, uint32(7), got[0].BuffID)
}

func TestCleanupSavesAndDespawns(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	sess, hero := h.player(t, "hero", 1, world.Pos{X: 10, Y: 10})
	watcher, _ := h.player(t, "watcher", 1, world.Pos{X: 12, Y: 10})

	var left []event.PlayerLeft
	event.Subscribe(h.deps.Bus, func(ev event.PlayerLeft) { left = append(left, ev) })

	h.step()
	received(t, watcher)

	push(sess, 1, &packet.Logout{})
	h.step()

	assert.False(t, h.deps.World.Exists(hero))
	assert.Nil(t, h.deps.Sessions.Get(sess.ID))
	assert.Equal(t, packet.StateClosed, sess.State())
	assert.Equal(t, uint64(0), sess.EntityID)

	require.Eventually(t, func() bool {
		_, ok := h.mem.Value(dbproxy.TableCharacters, "hero")
		return ok
	}, time.Second, 5*time.Millisecond)
	raw, _ := h.mem.Value(dbproxy.TableCharacters, "hero")
	var cs world.CharacterState
	require.NoError(t, json.Unmarshal(raw, &cs))
	assert.Equal(t, int32(10), cs.X)

	h.step()
	require.Len(t, left, 1)
	assert.Equal(t, "hero", left[0].Character)
	assert.Equal(t, sess.ID, left[0].SessionID)
	assert.NotEmpty(t, left[0].Snapshot)

	var gone bool
	for _, m := range received(t, watcher) {
		if d, ok := m.(*packet.EntityDisappear); ok && d.ID == uint64(hero) {
			gone = true
		}
	}
	assert.True(t, gone)
}

func TestAutosaveOnlyDirtyPlayers(t *testing.T) {
	h := newHarness(t, harnessOpts{tweak: func(c *config.Config) { c.World.SaveInterval = 2 }})
	_, hero := h.player(t, "hero", 1, world.Pos{X: 10, Y: 10})
	h.player(t, "idle", 1, world.Pos{X: 20, Y: 20})

	require.NoError(t, h.deps.World.ApplyDelta(hero, world.Damage(1)))
	h.steps(2)

	require.Eventually(t, func() bool {
		_, ok := h.mem.Value(dbproxy.TableCharacters, "hero")
		return ok
	}, time.Second, 5*time.Millisecond)
	_, saved := h.mem.Value(dbproxy.TableCharacters, "idle")
	assert.False(t, saved)

	require.Eventually(t, func() bool {
		h.step()
		return len(h.deps.World.DirtyPlayers()) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestSaveAllWaitsForWrites(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.player(t, "a", 1, world.Pos{X: 10, Y: 10})
	h.player(t, "b", 1, world.Pos{X: 20, Y: 20})

	require.NoError(t, h.set.Persist.SaveAll(context.Background()))
	_, okA := h.mem.Value(dbproxy.TableCharacters, "a")
	_, okB := h.mem.Value(dbproxy.TableCharacters, "b")
	assert.True(t, okA)
	assert.True(t, okB)
}

func TestRegenAndPoison(t *testing.T) {
	h := newHarness(t, harnessOpts{tweak: func(c *config.Config) { c.World.RegenInterval = 1 }})
	_, hero := h.player(t, "hero", 1, world.Pos{X: 10, Y: 10})
	_, sick := h.player(t, "sick", 1, world.Pos{X: 30, Y: 30})
	require.NoError(t, h.deps.World.ApplyDelta(hero, world.Damage(50)))
	require.NoError(t, h.deps.World.ApplyDelta(sick, world.Damage(97)))
	require.NoError(t, h.deps.World.ApplyBuff(sick, world.Buff{ID: 3, Kind: world.BuffPoison, Power: 10}, false))

	h.step()
	// 1 + 100/50 per step
	assert.Equal(t, int32(53), entity(t, h, hero).HP)
	sickNow := entity(t, h, sick)
	assert.False(t, sickNow.Alive())

	h.step() // death is handled at the next structural phase
	e := entity(t, h, sick)
	assert.Equal(t, world.Pos{X: 50, Y: 50}, e.Pos)
	assert.Equal(t, e.MaxHP, e.HP)
}

func TestHeartbeatClosesSilentSession(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	quiet, id := h.player(t, "quiet", 1, world.Pos{X: 10, Y: 10})
	h.set.Heartbeat.now = func() time.Time { return time.Now().Add(time.Hour) }

	h.step()

	assert.True(t, quiet.IsClosed())
	assert.False(t, h.deps.World.Exists(id))
}
