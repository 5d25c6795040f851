package system

import (
	"math/rand"
	"sort"
	"time"

	coresys "github.com/l1jgo/realm/internal/core/system"
	"github.com/l1jgo/realm/internal/handler"
	"github.com/l1jgo/realm/internal/world"
	"go.uber.org/zap"
)

type respawnTimer struct {
	due     uint64
	spawnID int
}

// RespawnSystem populates the spawn list on its first tick, removes
// corpses whose delay has passed and brings spawn-list monsters back after
// their respawn delay. Phase 2 (Timers).
//
// Flow: monster dies → CorpseAt set by the death handler → corpse removed
// here → respawn timer counts down → respawn around the spawn point.
type RespawnSystem struct {
	deps      *handler.Deps
	rng       *rand.Rand
	timers    []respawnTimer
	populated bool
}

func NewRespawnSystem(deps *handler.Deps, seed int64) *RespawnSystem {
	return &RespawnSystem{deps: deps, rng: rand.New(rand.NewSource(seed))}
}

func (s *RespawnSystem) Phase() coresys.Phase { return coresys.PhaseTimers }

func (s *RespawnSystem) Update(tick uint64, _ time.Duration) {
	if !s.populated {
		s.populate()
		s.populated = true
	}
	s.removeCorpses(tick)
	s.respawnDue(tick)
}

// Pending is the number of respawns waiting on their timer.
func (s *RespawnSystem) Pending() int { return len(s.timers) }

func (s *RespawnSystem) populate() {
	total := 0
	for i, entry := range s.deps.Data.Spawns {
		for n := 0; n < entry.Count; n++ {
			if s.spawn(i) {
				total++
			}
		}
	}
	s.deps.Log.Info("怪物生成完成", zap.Int("entities", total), zap.Int("entries", len(s.deps.Data.Spawns)))
}

func (s *RespawnSystem) removeCorpses(tick uint64) {
	ws := s.deps.World
	for _, id := range ws.IDs(world.KindMonster) {
		mo, ok := ws.Monster(id)
		if !ok || mo.CorpseAt == 0 || mo.CorpseAt > tick {
			continue
		}
		if err := ws.Despawn(id); err != nil {
			continue
		}
		if mo.SpawnID < 0 || mo.SpawnID >= len(s.deps.Data.Spawns) {
			continue
		}
		delay := s.deps.Data.Spawns[mo.SpawnID].RespawnTicks
		if delay <= 0 {
			continue
		}
		s.timers = append(s.timers, respawnTimer{due: tick + uint64(delay), spawnID: mo.SpawnID})
	}
}

func (s *RespawnSystem) respawnDue(tick uint64) {
	if len(s.timers) == 0 {
		return
	}
	sort.SliceStable(s.timers, func(i, j int) bool { return s.timers[i].due < s.timers[j].due })
	n := 0
	for n < len(s.timers) && s.timers[n].due <= tick {
		s.spawn(s.timers[n].spawnID)
		n++
	}
	s.timers = append(s.timers[:0], s.timers[n:]...)
}

// spawn places one monster of entry i at a random tile within its spread,
// clamped to the zone.
func (s *RespawnSystem) spawn(i int) bool {
	entry := s.deps.Data.Spawns[i]
	zone, ok := s.deps.World.Zone(world.ZoneID(entry.Zone))
	if !ok {
		return false
	}
	pos := world.Pos{X: entry.X + s.spread(entry.RandomX), Y: entry.Y + s.spread(entry.RandomY)}
	pos.X = clampCoord(pos.X, zone.Bounds.Min.X, zone.Bounds.Max.X)
	pos.Y = clampCoord(pos.Y, zone.Bounds.Min.Y, zone.Bounds.Max.Y)

	spec, err := s.deps.Data.Templates.Spec(entry.Template, zone.ID, pos, entry.Heading, i)
	if err != nil {
		s.deps.Log.Warn("生成: 項目錯誤", zap.Int("entry", i), zap.Error(err))
		return false
	}
	if _, err := s.deps.World.Spawn(spec); err != nil {
		s.deps.Log.Warn("生成: 放置怪物失敗", zap.Int("entry", i), zap.Error(err))
		return false
	}
	return true
}

func (s *RespawnSystem) spread(r int32) int32 {
	if r <= 0 {
		return 0
	}
	return s.rng.Int31n(2*r+1) - r
}

func clampCoord(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
