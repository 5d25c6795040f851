package world

import (
	"fmt"
	"sort"
)

// BuffEvent reports a buff being applied, refreshed or removed.
type BuffEvent struct {
	Entity    EntityID
	BuffID    uint32
	Remaining uint64 // ticks left; 0 for permanent or removed
	Removed   bool
}

// expiresBefore orders buffs by expiry with permanent buffs last.
func expiresBefore(a, b Buff) bool {
	switch {
	case a.Expires == 0:
		return false
	case b.Expires == 0:
		return true
	}
	return a.Expires < b.Expires
}

func sortBuffs(bs []Buff) {
	sort.SliceStable(bs, func(i, j int) bool { return expiresBefore(bs[i], bs[j]) })
}

// ApplyBuff adds b to id. Re-applying a buff keeps the later expiry unless
// refresh is set, in which case the new expiry replaces the old one.
func (m *Manager) ApplyBuff(id EntityID, b Buff, refresh bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entities.Get(id)
	if !ok {
		return fmt.Errorf("apply buff %d to %d: %w", b.ID, id, ErrNotFound)
	}
	if b.Expires != 0 && b.Expires <= m.tick {
		return nil
	}

	replaced := false
	for i := range e.Buffs {
		if e.Buffs[i].ID != b.ID {
			continue
		}
		old := e.Buffs[i]
		if !refresh && expiresBefore(b, old) {
			b.Expires = old.Expires
		}
		e.Buffs[i] = b
		replaced = true
		break
	}
	if !replaced {
		e.Buffs = append(e.Buffs, b)
	}
	sortBuffs(e.Buffs)
	m.buffed[id] = struct{}{}
	m.touchLocked(e)

	remaining := uint64(0)
	if b.Expires != 0 {
		remaining = b.Expires - m.tick
	}
	m.buffEvents = append(m.buffEvents, BuffEvent{Entity: id, BuffID: b.ID, Remaining: remaining})
	return nil
}

// CancelBuff removes buffID from id. It reports false when the buff was
// not active, so a buff is removed at most once.
func (m *Manager) CancelBuff(id EntityID, buffID uint32) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entities.Get(id)
	if !ok {
		return false, fmt.Errorf("cancel buff %d on %d: %w", buffID, id, ErrNotFound)
	}
	for i := range e.Buffs {
		if e.Buffs[i].ID == buffID {
			e.Buffs = append(e.Buffs[:i], e.Buffs[i+1:]...)
			if len(e.Buffs) == 0 {
				delete(m.buffed, id)
			}
			m.touchLocked(e)
			m.buffEvents = append(m.buffEvents, BuffEvent{Entity: id, BuffID: buffID, Removed: true})
			return true, nil
		}
	}
	return false, nil
}

// ExpireBuffs removes every buff whose expiry is at or before tick and
// returns one event per removed buff.
func (m *Manager) ExpireBuffs(tick uint64) []BuffEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]EntityID, 0, len(m.buffed))
	for id := range m.buffed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []BuffEvent
	for _, id := range ids {
		e, ok := m.entities.Get(id)
		if !ok {
			delete(m.buffed, id)
			continue
		}
		n := 0
		for n < len(e.Buffs) && e.Buffs[n].Expires != 0 && e.Buffs[n].Expires <= tick {
			out = append(out, BuffEvent{Entity: id, BuffID: e.Buffs[n].ID, Removed: true})
			n++
		}
		if n == 0 {
			continue
		}
		e.Buffs = append(e.Buffs[:0], e.Buffs[n:]...)
		if len(e.Buffs) == 0 {
			delete(m.buffed, id)
		}
		m.touchLocked(e)
	}
	m.buffEvents = append(m.buffEvents, out...)
	return out
}
