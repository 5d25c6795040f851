package world

// Delta is a partial update to an entity envelope. Nil fields are left
// alone; HP and MP are relative and clamped to [0, max].
type Delta struct {
	BaseVersion uint64 // 0 applies unconditionally
	Zone        *ZoneID
	Pos         *Pos
	Heading     *byte
	HP          int32
	MP          int32
	SetHP       *int32
	SetMP       *int32
	Action      *Action
}

// MoveTo builds a position update facing heading.
func MoveTo(p Pos, heading byte) Delta {
	a := ActionMove
	return Delta{Pos: &p, Heading: &heading, Action: &a}
}

// Teleport builds a zone change.
func Teleport(zone ZoneID, p Pos) Delta {
	a := ActionIdle
	return Delta{Zone: &zone, Pos: &p, Action: &a}
}

// Damage builds an HP loss.
func Damage(n int32) Delta {
	return Delta{HP: -n}
}

// Heal builds an HP gain.
func Heal(hp, mp int32) Delta {
	return Delta{HP: hp, MP: mp}
}

// WithAction sets the action state on d.
func (d Delta) WithAction(a Action) Delta {
	d.Action = &a
	return d
}

// Revive restores full pools.
func Revive(hp, mp int32) Delta {
	a := ActionIdle
	return Delta{SetHP: &hp, SetMP: &mp, Action: &a}
}
