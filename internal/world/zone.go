package world

// Area is an inclusive rectangle of tiles.
type Area struct {
	Min, Max Pos
}

// Around returns the square of radius r centred on p.
func Around(p Pos, r int32) Area {
	return Area{
		Min: Pos{X: p.X - r, Y: p.Y - r},
		Max: Pos{X: p.X + r, Y: p.Y + r},
	}
}

func (a Area) Contains(p Pos) bool {
	return p.X >= a.Min.X && p.X <= a.Max.X && p.Y >= a.Min.Y && p.Y <= a.Max.Y
}

// Zone is a map partition with walkable bounds.
type Zone struct {
	ID     ZoneID
	Name   string
	Bounds Area
	Spawn  Pos  // where players enter and revive
	Safe   bool // no combat
}
