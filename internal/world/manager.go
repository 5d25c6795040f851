package world

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/l1jgo/realm/internal/core/ecs"
	"go.uber.org/zap"
)

var (
	ErrNotFound    = errors.New("entity not found")
	ErrConflict    = errors.New("delta conflict")
	ErrUnknownZone = errors.New("unknown zone")
	ErrOutOfBounds = errors.New("position outside zone bounds")
)

// Manager owns the canonical entity registry and its spatial index. Every
// method takes the registry lock, so a region query sees the registry
// either before or after a despawn, never between. Callers get copies.
//
// Mutation happens on the tick goroutine; other goroutines hand work to it
// through Post.
type Manager struct {
	mu sync.RWMutex

	ecs      *ecs.World
	entities *ecs.PtrComponentStore[Entity]
	players  *ecs.PtrComponentStore[Player]
	monsters *ecs.PtrComponentStore[Monster]
	npcs     *ecs.PtrComponentStore[NPC]
	pets     *ecs.PtrComponentStore[Pet]
	grid     *Grid
	zones    map[ZoneID]*Zone
	tick     uint64

	byCharacter map[string]EntityID
	buffed      map[EntityID]struct{}
	changed     map[EntityID]struct{}
	buffEvents  []BuffEvent

	intents   []Intent
	intentSeq uint64

	pendMu  sync.Mutex
	pending []func()

	log *zap.Logger
}

func NewManager(zones []Zone, log *zap.Logger) *Manager {
	m := &Manager{
		ecs:         ecs.NewWorld(),
		entities:    ecs.NewPtrComponentStore[Entity](),
		players:     ecs.NewPtrComponentStore[Player](),
		monsters:    ecs.NewPtrComponentStore[Monster](),
		npcs:        ecs.NewPtrComponentStore[NPC](),
		pets:        ecs.NewPtrComponentStore[Pet](),
		grid:        NewGrid(),
		zones:       make(map[ZoneID]*Zone, len(zones)),
		byCharacter: make(map[string]EntityID),
		buffed:      make(map[EntityID]struct{}),
		changed:     make(map[EntityID]struct{}),
		log:         log,
	}
	reg := m.ecs.Registry()
	reg.Register(m.entities)
	reg.Register(m.players)
	reg.Register(m.monsters)
	reg.Register(m.npcs)
	reg.Register(m.pets)
	for i := range zones {
		z := zones[i]
		m.zones[z.ID] = &z
	}
	return m
}

// ── Zones and tick ───────────────────────────────────────────────

func (m *Manager) Zone(id ZoneID) (Zone, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	z, ok := m.zones[id]
	if !ok {
		return Zone{}, false
	}
	return *z, true
}

// SetTick records the tick being simulated. Called by the loop before systems run.
func (m *Manager) SetTick(t uint64) {
	m.mu.Lock()
	m.tick = t
	m.mu.Unlock()
}

func (m *Manager) Tick() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tick
}

// ── Contract: spawn / despawn / get / applyDelta / queryRegion ──

// Spawn registers a new entity and returns its id.
func (m *Manager) Spawn(spec SpawnSpec) (EntityID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := spec.Entity.clone()
	z, ok := m.zones[e.Zone]
	if !ok {
		return 0, fmt.Errorf("spawn %s in zone %d: %w", e.Kind, e.Zone, ErrUnknownZone)
	}
	if !z.Bounds.Contains(e.Pos) {
		return 0, fmt.Errorf("spawn %s at (%d,%d): %w", e.Kind, e.Pos.X, e.Pos.Y, ErrOutOfBounds)
	}
	if e.Kind == KindPlayer {
		if spec.Player == nil {
			return 0, fmt.Errorf("spawn player without player data")
		}
		if _, dup := m.byCharacter[spec.Player.CharName]; dup {
			return 0, fmt.Errorf("character %q already in world", spec.Player.CharName)
		}
	}

	id := m.ecs.CreateEntity()
	e.ID = id
	e.Version = 1
	if e.HP <= 0 {
		e.HP = e.MaxHP
	}
	sortBuffs(e.Buffs)
	m.entities.Set(id, &e)
	m.grid.Add(id, e.Zone, e.Pos)
	if len(e.Buffs) > 0 {
		m.buffed[id] = struct{}{}
	}

	switch {
	case spec.Player != nil:
		p := spec.Player.clone()
		m.players.Set(id, &p)
		m.byCharacter[p.CharName] = id
	case spec.Monster != nil:
		mo := *spec.Monster
		m.monsters.Set(id, &mo)
	case spec.NPC != nil:
		n := *spec.NPC
		m.npcs.Set(id, &n)
	case spec.Pet != nil:
		p := *spec.Pet
		m.pets.Set(id, &p)
	}
	m.changed[id] = struct{}{}
	return id, nil
}

// Despawn removes id from the registry, every component store and the
// spatial index in one critical section. The id itself is released at the
// cleanup phase.
func (m *Manager) Despawn(id EntityID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entities.Get(id)
	if !ok {
		return fmt.Errorf("despawn %d: %w", id, ErrNotFound)
	}
	m.grid.Remove(id, e.Zone, e.Pos)
	if p, ok := m.players.Get(id); ok && m.byCharacter[p.CharName] == id {
		delete(m.byCharacter, p.CharName)
	}
	m.ecs.Remove(id)
	delete(m.buffed, id)
	delete(m.changed, id)
	return nil
}

// ReleaseDespawned returns despawned ids to the pool.
func (m *Manager) ReleaseDespawned() {
	m.mu.Lock()
	m.ecs.FlushReleaseQueue()
	m.mu.Unlock()
}

// Get returns a copy of the entity.
func (m *Manager) Get(id EntityID) (Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities.Get(id)
	if !ok {
		return Entity{}, fmt.Errorf("entity %d: %w", id, ErrNotFound)
	}
	return e.clone(), nil
}

// Exists reports whether id is live.
func (m *Manager) Exists(id EntityID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entities.Has(id)
}

// ApplyDelta mutates one entity. It fails with ErrConflict when the delta
// was computed against a stale version or would leave the entity outside
// its zone.
func (m *Manager) ApplyDelta(id EntityID, d Delta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyLocked(id, d)
}

func (m *Manager) applyLocked(id EntityID, d Delta) error {
	e, ok := m.entities.Get(id)
	if !ok {
		return fmt.Errorf("apply delta to %d: %w", id, ErrNotFound)
	}
	if d.BaseVersion != 0 && d.BaseVersion != e.Version {
		return fmt.Errorf("%w: entity %d is at version %d, delta based on %d", ErrConflict, id, e.Version, d.BaseVersion)
	}

	zone, pos := e.Zone, e.Pos
	if d.Zone != nil {
		zone = *d.Zone
	}
	if d.Pos != nil {
		pos = *d.Pos
	}
	if zone != e.Zone || pos != e.Pos {
		z, ok := m.zones[zone]
		if !ok {
			return fmt.Errorf("%w: entity %d to zone %d: %v", ErrConflict, id, zone, ErrUnknownZone)
		}
		if !z.Bounds.Contains(pos) {
			return fmt.Errorf("%w: entity %d to (%d,%d): %v", ErrConflict, id, pos.X, pos.Y, ErrOutOfBounds)
		}
		m.grid.Move(id, e.Zone, e.Pos, zone, pos)
		e.Zone, e.Pos = zone, pos
	}

	if d.Heading != nil {
		e.Heading = *d.Heading % 8
	}
	if d.SetHP != nil {
		e.HP = *d.SetHP
	}
	if d.SetMP != nil {
		e.MP = *d.SetMP
	}
	if d.Action != nil {
		e.Action = *d.Action
	}
	if e.MaxHP > 0 {
		e.HP = clamp(e.HP+d.HP, 0, e.MaxHP)
		if e.HP == 0 {
			e.Action = ActionDead
		}
	}
	e.MP = clamp(e.MP+d.MP, 0, e.MaxMP)

	m.touchLocked(e)
	return nil
}

func (m *Manager) touchLocked(e *Entity) {
	e.Version++
	if e.Kind == KindPlayer {
		e.Dirty = true
	}
	m.changed[e.ID] = struct{}{}
}

func clamp(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// QueryRegion returns the ids in zone whose position lies in area, ascending.
func (m *Manager) QueryRegion(zone ZoneID, area Area) []EntityID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queryLocked(zone, area)
}

func (m *Manager) queryLocked(zone ZoneID, area Area) []EntityID {
	var out []EntityID
	for _, id := range m.grid.Candidates(zone, area) {
		e, ok := m.entities.Get(id)
		if ok && e.Zone == zone && area.Contains(e.Pos) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Nearest returns the closest entity within r of pos that satisfies keep.
// keep sees the live entity under the read lock and must not retain it.
// Ties go to the lower id.
func (m *Manager) Nearest(zone ZoneID, pos Pos, r int32, keep func(*Entity) bool) (EntityID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best EntityID
	bestDist := int32(-1)
	for _, id := range m.queryLocked(zone, Around(pos, r)) {
		e, _ := m.entities.Get(id)
		if keep != nil && !keep(e) {
			continue
		}
		if d := e.Pos.Dist(pos); bestDist < 0 || d < bestDist {
			best, bestDist = id, d
		}
	}
	return best, bestDist >= 0
}

// Range returns every entity within r of pos that satisfies keep.
func (m *Manager) Range(zone ZoneID, pos Pos, r int32, keep func(*Entity) bool) []EntityID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.queryLocked(zone, Around(pos, r))
	if keep == nil {
		return ids
	}
	out := ids[:0]
	for _, id := range ids {
		e, _ := m.entities.Get(id)
		if keep(e) {
			out = append(out, id)
		}
	}
	return out
}

// ── Variant extras ───────────────────────────────────────────────

func (m *Manager) Player(id EntityID) (Player, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.players.Get(id)
	if !ok {
		return Player{}, false
	}
	return p.clone(), true
}

// PlayerByCharacter finds an in-world character by name.
func (m *Manager) PlayerByCharacter(name string) (EntityID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byCharacter[name]
	return id, ok
}

// UpdatePlayer mutates player extras and marks the entity dirty.
func (m *Manager) UpdatePlayer(id EntityID, fn func(*Player)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players.Get(id)
	if !ok {
		return fmt.Errorf("player %d: %w", id, ErrNotFound)
	}
	fn(p)
	if e, ok := m.entities.Get(id); ok {
		m.touchLocked(e)
	}
	return nil
}

func (m *Manager) Monster(id EntityID) (Monster, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mo, ok := m.monsters.Get(id)
	if !ok {
		return Monster{}, false
	}
	return *mo, true
}

func (m *Manager) UpdateMonster(id EntityID, fn func(*Monster)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mo, ok := m.monsters.Get(id)
	if !ok {
		return fmt.Errorf("monster %d: %w", id, ErrNotFound)
	}
	fn(mo)
	return nil
}

func (m *Manager) NPC(id EntityID) (NPC, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.npcs.Get(id)
	if !ok {
		return NPC{}, false
	}
	return *n, true
}

func (m *Manager) Pet(id EntityID) (Pet, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pets.Get(id)
	if !ok {
		return Pet{}, false
	}
	return *p, true
}

// IDs returns the live ids of kind in ascending order.
func (m *Manager) IDs(kind Kind) []EntityID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch kind {
	case KindPlayer:
		return m.players.IDs()
	case KindMonster:
		return m.monsters.IDs()
	case KindNPC:
		return m.npcs.IDs()
	case KindPet:
		return m.pets.IDs()
	}
	return nil
}

// Count returns the number of live entities.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entities.Len()
}

// ── Consistent read view ─────────────────────────────────────────

// View gives read access to the registry under one read lock, so
// everything fn observes belongs to a single registry state.
type View struct {
	m *Manager
}

// View runs fn while holding the read lock. fn must not call other Manager
// methods or retain pointers it obtains.
func (m *Manager) View(fn func(View)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn(View{m: m})
}

func (v View) Get(id EntityID) (*Entity, bool) {
	return v.m.entities.Get(id)
}

func (v View) Player(id EntityID) (*Player, bool) {
	return v.m.players.Get(id)
}

func (v View) Query(zone ZoneID, area Area) []EntityID {
	return v.m.queryLocked(zone, area)
}

func (v View) Tick() uint64 { return v.m.tick }

// ── Output bookkeeping ───────────────────────────────────────────

// Changes is what changed since the last TakeChanges.
type Changes struct {
	Entities map[EntityID]struct{}
	Buffs    []BuffEvent
}

// TakeChanges returns and resets the change set. Called once per tick by
// the output phase after it has built its deltas.
func (m *Manager) TakeChanges() Changes {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := Changes{Entities: m.changed, Buffs: m.buffEvents}
	m.changed = make(map[EntityID]struct{}, len(c.Entities))
	m.buffEvents = nil
	return c
}

// Changed reports whether id changed since the last TakeChanges.
func (v View) Changed(id EntityID) bool {
	_, ok := v.m.changed[id]
	return ok
}

// BuffEvents returns buff changes recorded since the last TakeChanges.
func (v View) BuffEvents() []BuffEvent {
	return v.m.buffEvents
}

// ── Dirty tracking ───────────────────────────────────────────────

// DirtyPlayers returns players changed since their last save.
func (m *Manager) DirtyPlayers() []EntityID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []EntityID
	for _, id := range m.players.IDs() {
		if e, ok := m.entities.Get(id); ok && e.Dirty {
			out = append(out, id)
		}
	}
	return out
}

// MarkClean clears the dirty flag if the entity has not changed since
// version was captured.
func (m *Manager) MarkClean(id EntityID, version uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entities.Get(id); ok && e.Version == version {
		e.Dirty = false
	}
}

// ── Pending-apply queue ──────────────────────────────────────────

// Post queues fn to run on the tick goroutine at the next structural phase.
// Safe for concurrent use; this is how DB completions and other
// asynchronous results re-enter the simulation.
func (m *Manager) Post(fn func()) {
	m.pendMu.Lock()
	m.pending = append(m.pending, fn)
	m.pendMu.Unlock()
}

// DrainPending runs queued work in post order and returns how many ran.
// Work posted while draining waits for the next tick.
func (m *Manager) DrainPending() int {
	m.pendMu.Lock()
	batch := m.pending
	m.pending = nil
	m.pendMu.Unlock()

	for _, fn := range batch {
		m.runPending(fn)
	}
	return len(batch)
}

func (m *Manager) runPending(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			m.log.Error("延遲工作 panic 已恢復", zap.Any("panic", rec))
		}
	}()
	fn()
}

// PendingLen is the queued work count.
func (m *Manager) PendingLen() int {
	m.pendMu.Lock()
	defer m.pendMu.Unlock()
	return len(m.pending)
}
