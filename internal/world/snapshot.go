package world

import "fmt"

// SavedBuff is a buff as persisted: remaining ticks instead of an absolute expiry.
type SavedBuff struct {
	ID        uint32   `json:"id"`
	Kind      BuffKind `json:"kind"`
	Power     int32    `json:"power"`
	Remaining uint64   `json:"remaining"` // 0 = permanent
}

// CharacterState is the persisted form of a player character.
type CharacterState struct {
	Name      string      `json:"name"`
	Account   string      `json:"account"`
	Zone      ZoneID      `json:"zone"`
	X         int32       `json:"x"`
	Y         int32       `json:"y"`
	Heading   byte        `json:"heading"`
	Level     uint16      `json:"level"`
	HP        int32       `json:"hp"`
	MaxHP     int32       `json:"max_hp"`
	MP        int32       `json:"mp"`
	MaxMP     int32       `json:"max_mp"`
	Exp       int64       `json:"exp"`
	Inventory []Item      `json:"inventory"`
	Skills    []uint32    `json:"skills"`
	Faction   string      `json:"faction,omitempty"`
	Guild     string      `json:"guild,omitempty"`
	Buffs     []SavedBuff `json:"buffs,omitempty"`
}

// CharacterState captures player id for saving, with the version it was taken at.
func (m *Manager) CharacterState(id EntityID) (CharacterState, uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entities.Get(id)
	if !ok {
		return CharacterState{}, 0, fmt.Errorf("character state %d: %w", id, ErrNotFound)
	}
	p, ok := m.players.Get(id)
	if !ok {
		return CharacterState{}, 0, fmt.Errorf("character state %d: not a player", id)
	}
	cs := CharacterState{
		Name:      p.CharName,
		Account:   p.Account,
		Zone:      e.Zone,
		X:         e.Pos.X,
		Y:         e.Pos.Y,
		Heading:   e.Heading,
		Level:     e.Level,
		HP:        e.HP,
		MaxHP:     e.MaxHP,
		MP:        e.MP,
		MaxMP:     e.MaxMP,
		Exp:       p.Exp,
		Inventory: append([]Item(nil), p.Inventory...),
		Skills:    append([]uint32(nil), p.Skills...),
		Faction:   p.Faction,
		Guild:     p.Guild,
	}
	for _, b := range e.Buffs {
		sb := SavedBuff{ID: b.ID, Kind: b.Kind, Power: b.Power}
		if b.Expires != 0 {
			sb.Remaining = b.Expires - m.tick
		}
		cs.Buffs = append(cs.Buffs, sb)
	}
	return cs, e.Version, nil
}

// PlayerSpec turns a loaded character into a spawn request at tick now.
func PlayerSpec(cs CharacterState, sessionID uint64, stats Stats, now uint64) SpawnSpec {
	e := Entity{
		Kind:    KindPlayer,
		Name:    cs.Name,
		Zone:    cs.Zone,
		Pos:     Pos{X: cs.X, Y: cs.Y},
		Heading: cs.Heading,
		Level:   cs.Level,
		HP:      cs.HP,
		MaxHP:   cs.MaxHP,
		MP:      cs.MP,
		MaxMP:   cs.MaxMP,
		Stats:   stats,
	}
	for _, sb := range cs.Buffs {
		b := Buff{ID: sb.ID, Kind: sb.Kind, Power: sb.Power}
		if sb.Remaining != 0 {
			b.Expires = now + sb.Remaining
		}
		e.Buffs = append(e.Buffs, b)
	}
	return SpawnSpec{
		Entity: e,
		Player: &Player{
			SessionID: sessionID,
			Account:   cs.Account,
			CharName:  cs.Name,
			Exp:       cs.Exp,
			Inventory: cs.Inventory,
			Skills:    cs.Skills,
			Faction:   cs.Faction,
			Guild:     cs.Guild,
		},
	}
}
