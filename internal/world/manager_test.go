package world

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testZones() []Zone {
	return []Zone{
		{ID: 1, Name: "field", Bounds: Area{Min: Pos{0, 0}, Max: Pos{199, 199}}, Spawn: Pos{10, 10}},
		{ID: 2, Name: "town", Bounds: Area{Min: Pos{0, 0}, Max: Pos{49, 49}}, Spawn: Pos{5, 5}, Safe: true},
	}
}

func newTestManager() *Manager {
	return NewManager(testZones(), zap.NewNop())
}

func monster(zone ZoneID, x, y int32) SpawnSpec {
	return SpawnSpec{
		Entity:  Entity{Kind: KindMonster, Name: "orc", Zone: zone, Pos: Pos{x, y}, MaxHP: 50, Stats: Stats{Attack: 5, Reach: 1}},
		Monster: &Monster{SpawnID: -1},
	}
}

func player(name string, zone ZoneID, x, y int32) SpawnSpec {
	return SpawnSpec{
		Entity: Entity{Kind: KindPlayer, Name: name, Zone: zone, Pos: Pos{x, y}, MaxHP: 100, MaxMP: 20},
		Player: &Player{CharName: name, Account: name + "-acct"},
	}
}

func TestSpawnGetDespawn(t *testing.T) {
	m := newTestManager()
	id, err := m.Spawn(monster(1, 5, 5))
	require.NoError(t, err)

	e, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, id, e.ID)
	assert.Equal(t, int32(50), e.HP, "spawn fills HP")
	assert.Equal(t, uint64(1), e.Version)
	_, ok := m.Monster(id)
	assert.True(t, ok)

	require.NoError(t, m.Despawn(id))
	_, err = m.Get(id)
	assert.ErrorIs(t, err, ErrNotFound)
	_, ok = m.Monster(id)
	assert.False(t, ok, "extras go with the envelope")
	assert.Empty(t, m.QueryRegion(1, Around(Pos{5, 5}, 3)))
	assert.ErrorIs(t, m.Despawn(id), ErrNotFound)
}

func TestSpawnValidatesPlacement(t *testing.T) {
	m := newTestManager()
	_, err := m.Spawn(monster(9, 0, 0))
	assert.ErrorIs(t, err, ErrUnknownZone)
	_, err = m.Spawn(monster(2, 60, 0))
	assert.ErrorIs(t, err, ErrOutOfBounds)

	_, err = m.Spawn(player("alia", 1, 1, 1))
	require.NoError(t, err)
	_, err = m.Spawn(player("alia", 1, 2, 2))
	assert.Error(t, err, "a character is in the world at most once")
}

func TestApplyDeltaVersionConflict(t *testing.T) {
	m := newTestManager()
	id, _ := m.Spawn(monster(1, 5, 5))
	e, _ := m.Get(id)

	d := MoveTo(Pos{6, 5}, 2)
	d.BaseVersion = e.Version
	require.NoError(t, m.ApplyDelta(id, d))

	stale := Damage(1)
	stale.BaseVersion = e.Version
	err := m.ApplyDelta(id, stale)
	assert.ErrorIs(t, err, ErrConflict)

	after, _ := m.Get(id)
	assert.Equal(t, Pos{6, 5}, after.Pos)
	assert.Equal(t, int32(50), after.HP, "rejected delta changes nothing")
	assert.Equal(t, e.Version+1, after.Version)
}

func TestApplyDeltaRejectsInvalidMove(t *testing.T) {
	m := newTestManager()
	id, _ := m.Spawn(monster(2, 49, 49))

	err := m.ApplyDelta(id, MoveTo(Pos{50, 49}, 2))
	assert.ErrorIs(t, err, ErrConflict)
	assert.ErrorContains(t, err, "outside zone bounds")

	err = m.ApplyDelta(id, Teleport(7, Pos{1, 1}))
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, m.ApplyDelta(id, Teleport(1, Pos{150, 150})))
	assert.Equal(t, []EntityID{id}, m.QueryRegion(1, Around(Pos{150, 150}, 0)))
	assert.Empty(t, m.QueryRegion(2, Around(Pos{49, 49}, 1)))
}

func TestApplyDeltaClampsAndKills(t *testing.T) {
	m := newTestManager()
	id, _ := m.Spawn(monster(1, 5, 5))

	require.NoError(t, m.ApplyDelta(id, Heal(500, 0)))
	e, _ := m.Get(id)
	assert.Equal(t, int32(50), e.HP)

	require.NoError(t, m.ApplyDelta(id, Damage(80)))
	e, _ = m.Get(id)
	assert.Equal(t, int32(0), e.HP)
	assert.Equal(t, ActionDead, e.Action)
	assert.False(t, e.Alive())
}

func TestRegionQueries(t *testing.T) {
	m := newTestManager()
	near, _ := m.Spawn(monster(1, 12, 10))
	far, _ := m.Spawn(monster(1, 40, 40))
	other, _ := m.Spawn(monster(2, 10, 10))
	me, _ := m.Spawn(player("alia", 1, 10, 10))

	assert.Equal(t, []EntityID{near, me}, m.QueryRegion(1, Around(Pos{10, 10}, 5)))
	assert.NotContains(t, m.QueryRegion(1, Around(Pos{10, 10}, 50)), other)

	id, ok := m.Nearest(1, Pos{10, 10}, 50, func(e *Entity) bool { return e.Kind == KindMonster })
	require.True(t, ok)
	assert.Equal(t, near, id)

	all := m.Range(1, Pos{10, 10}, 40, func(e *Entity) bool { return e.Kind == KindMonster })
	assert.Equal(t, []EntityID{near, far}, all)

	_, ok = m.Nearest(1, Pos{100, 100}, 3, nil)
	assert.False(t, ok)
}

func TestDespawnAtomicWithQueries(t *testing.T) {
	m := newTestManager()
	area := Area{Min: Pos{0, 0}, Max: Pos{199, 199}}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				m.View(func(v View) {
					for _, id := range v.Query(1, area) {
						e, ok := v.Get(id)
						if !ok {
							t.Errorf("query returned %d but registry has no entity", id)
							return
						}
						if !area.Contains(e.Pos) || e.Zone != 1 {
							t.Errorf("entity %d indexed at a stale position", id)
							return
						}
					}
				})
			}
		}()
	}

	var live []EntityID
	for i := 0; i < 3000; i++ {
		id, err := m.Spawn(monster(1, int32(i%200), int32((i*7)%200)))
		require.NoError(t, err)
		live = append(live, id)
		if i%3 == 0 {
			require.NoError(t, m.ApplyDelta(live[0], MoveTo(Pos{int32(i % 199), 3}, 1)))
		}
		if i%2 == 0 {
			require.NoError(t, m.Despawn(live[0]))
			live = live[1:]
		}
	}
	close(stop)
	wg.Wait()
	assert.Equal(t, len(live), m.Count())
}

func TestPendingQueueOrder(t *testing.T) {
	m := newTestManager()
	var trace []int
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 3; i++ {
			i := i
			m.Post(func() { trace = append(trace, i) })
		}
	}()
	wg.Wait()

	m.Post(func() {
		trace = append(trace, 99)
		m.Post(func() { trace = append(trace, 100) })
	})
	m.Post(func() { panic("bad completion") })

	assert.Equal(t, 5, m.DrainPending())
	assert.Equal(t, []int{0, 1, 2, 99}, trace)
	assert.Equal(t, 1, m.PendingLen(), "work posted while draining waits a tick")
	m.DrainPending()
	assert.Equal(t, []int{0, 1, 2, 99, 100}, trace)
}

func TestIntentsKeepRecordingOrder(t *testing.T) {
	m := newTestManager()
	m.RecordIntent(Intent{Kind: IntentMove, Actor: 1})
	m.RecordIntent(Intent{Kind: IntentAttack, Actor: 1, Target: 2})
	m.RecordIntent(Intent{Kind: IntentMove, Actor: 3})

	got := m.TakeIntents()
	require.Len(t, got, 3)
	assert.Equal(t, IntentMove, got[0].Kind)
	assert.Equal(t, IntentAttack, got[1].Kind)
	assert.Less(t, got[0].Seq, got[1].Seq)
	assert.Less(t, got[1].Seq, got[2].Seq)
	assert.Empty(t, m.TakeIntents())
}

func TestDirtyTracking(t *testing.T) {
	m := newTestManager()
	id, _ := m.Spawn(player("alia", 1, 1, 1))
	mon, _ := m.Spawn(monster(1, 3, 3))
	assert.Empty(t, m.DirtyPlayers(), "fresh spawn matches its stored row")

	require.NoError(t, m.ApplyDelta(id, MoveTo(Pos{2, 1}, 2)))
	require.NoError(t, m.ApplyDelta(mon, Damage(1)))
	assert.Equal(t, []EntityID{id}, m.DirtyPlayers())

	_, version, err := m.CharacterState(id)
	require.NoError(t, err)
	require.NoError(t, m.UpdatePlayer(id, func(p *Player) { p.Exp += 10 }))
	m.MarkClean(id, version)
	assert.Equal(t, []EntityID{id}, m.DirtyPlayers(), "changed after the snapshot")

	_, version, _ = m.CharacterState(id)
	m.MarkClean(id, version)
	assert.Empty(t, m.DirtyPlayers())
}

func TestCharacterStateRestores(t *testing.T) {
	m := newTestManager()
	m.SetTick(100)
	spec := player("alia", 1, 7, 8)
	spec.Player.Inventory = []Item{{ItemID: 40010, Count: 3}}
	id, _ := m.Spawn(spec)
	require.NoError(t, m.ApplyBuff(id, Buff{ID: 1, Kind: BuffAttack, Power: 2, Expires: 130}, false))

	cs, _, err := m.CharacterState(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), cs.Buffs[0].Remaining)

	require.NoError(t, m.Despawn(id))
	restored := PlayerSpec(cs, 5, Stats{}, 1000)
	id2, err := m.Spawn(restored)
	require.NoError(t, err)
	e, _ := m.Get(id2)
	assert.Equal(t, uint64(1030), e.Buffs[0].Expires)
	p, _ := m.Player(id2)
	assert.Equal(t, []Item{{ItemID: 40010, Count: 3}}, p.Inventory)
	assert.Equal(t, uint64(5), p.SessionID)
	assert.True(t, errors.Is(m.Despawn(id), ErrNotFound))
}
