package world

import (
	"fmt"

	"github.com/l1jgo/realm/internal/core/ecs"
)

type EntityID = ecs.EntityID

type ZoneID uint32

// Kind is the entity variant.
type Kind byte

const (
	KindPlayer Kind = iota + 1
	KindMonster
	KindNPC
	KindPet
)

func (k Kind) String() string {
	switch k {
	case KindPlayer:
		return "player"
	case KindMonster:
		return "monster"
	case KindNPC:
		return "npc"
	case KindPet:
		return "pet"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// Action is the entity's current action state, echoed in deltas.
type Action byte

const (
	ActionIdle Action = iota
	ActionMove
	ActionAttack
	ActionCast
	ActionTalk
	ActionDead
)

type Pos struct {
	X, Y int32
}

// Dist is the Chebyshev distance, the same metric clients use for tiles.
func (p Pos) Dist(o Pos) int32 {
	dx := p.X - o.X
	if dx < 0 {
		dx = -dx
	}
	dy := p.Y - o.Y
	if dy < 0 {
		dy = -dy
	}
	if dx > dy {
		return dx
	}
	return dy
}

// headingDelta maps headings 0-7 (clockwise from north) to tile steps.
var headingDelta = [8]Pos{
	{0, -1}, {1, -1}, {1, 0}, {1, 1},
	{0, 1}, {-1, 1}, {-1, 0}, {-1, -1},
}

// Step returns the tile one step from p in heading h.
func (p Pos) Step(h byte) Pos {
	d := headingDelta[h%8]
	return Pos{X: p.X + d.X, Y: p.Y + d.Y}
}

// HeadingTo returns the heading that best points from p to o.
func (p Pos) HeadingTo(o Pos) byte {
	sx := sign(o.X - p.X)
	sy := sign(o.Y - p.Y)
	for h, d := range headingDelta {
		if d.X == sx && d.Y == sy {
			return byte(h)
		}
	}
	return 0
}

func sign(v int32) int32 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// Stats are the combat numbers shared by every kind.
type Stats struct {
	Attack  int32
	Defense int32
	Reach   int32 // attack range in tiles
}

// BuffKind selects what a buff modifies.
type BuffKind byte

const (
	BuffAttack  BuffKind = iota + 1 // +Power attack
	BuffDefense                     // +Power defense
	BuffRegen                       // +Power HP per regen step
	BuffPoison                      // -Power HP per regen step
)

// Buff is an active timed effect. Expires is the tick it ends on; 0 means
// it lasts until cancelled.
type Buff struct {
	ID      uint32
	Kind    BuffKind
	Power   int32
	Expires uint64
	Source  EntityID
}

// Entity is the envelope shared by all variants. Values returned by the
// Manager are copies.
type Entity struct {
	ID       EntityID
	Kind     Kind
	Template uint32
	Name     string
	Zone     ZoneID
	Pos      Pos
	Heading  byte
	Level    uint16
	HP       int32
	MaxHP    int32
	MP       int32
	MaxMP    int32
	Stats    Stats
	Action   Action
	Buffs    []Buff // ordered by expiry; permanent buffs last
	Version  uint64
	Dirty    bool
}

func (e *Entity) Alive() bool { return e.HP > 0 && e.Action != ActionDead }

// BuffPower sums the power of active buffs of kind.
func (e *Entity) BuffPower(kind BuffKind) int32 {
	var n int32
	for _, b := range e.Buffs {
		if b.Kind == kind {
			n += b.Power
		}
	}
	return n
}

func (e *Entity) clone() Entity {
	c := *e
	if e.Buffs != nil {
		c.Buffs = append([]Buff(nil), e.Buffs...)
	}
	return c
}

// Item is an inventory stack.
type Item struct {
	ItemID uint32 `json:"item_id"`
	Count  int32  `json:"count"`
}

// Player holds the extras of a player-controlled entity.
type Player struct {
	SessionID uint64
	Account   string
	CharName  string
	Exp       int64
	Inventory []Item
	Skills    []uint32
	Faction   string
	Guild     string
}

func (p *Player) clone() Player {
	c := *p
	c.Inventory = append([]Item(nil), p.Inventory...)
	c.Skills = append([]uint32(nil), p.Skills...)
	return c
}

// Monster holds the extras of a hostile non-player entity.
type Monster struct {
	SpawnID   int // index into the spawn list; -1 for script-spawned monsters
	Script    string
	Aggro     bool
	ExpReward int32
	Target    EntityID
	CorpseAt  uint64 // tick the corpse is removed; 0 while alive
}

// NPC holds the extras of a non-hostile scripted entity.
type NPC struct {
	Script         string
	DialogueScript string
}

// Pet holds the extras of a player-owned companion.
type Pet struct {
	Owner  EntityID
	Script string
}

// SpawnSpec describes a new entity. Exactly one of the extras matching
// Entity.Kind should be set.
type SpawnSpec struct {
	Entity  Entity
	Player  *Player
	Monster *Monster
	NPC     *NPC
	Pet     *Pet
}
