package world

// cellSize is chosen so that a 3x3 neighbourhood of cells covers the
// default view range.
const cellSize = 20

type cellKey struct {
	zone ZoneID
	cx   int32
	cy   int32
}

func toCellCoord(v int32) int32 {
	if v < 0 {
		return (v - cellSize + 1) / cellSize
	}
	return v / cellSize
}

// Grid is the per-zone cell index used for region queries. It is guarded by
// the Manager's lock.
type Grid struct {
	cells map[cellKey]map[EntityID]struct{}
}

func NewGrid() *Grid {
	return &Grid{
		cells: make(map[cellKey]map[EntityID]struct{}),
	}
}

func key(zone ZoneID, p Pos) cellKey {
	return cellKey{zone: zone, cx: toCellCoord(p.X), cy: toCellCoord(p.Y)}
}

func (g *Grid) Add(id EntityID, zone ZoneID, p Pos) {
	k := key(zone, p)
	cell := g.cells[k]
	if cell == nil {
		cell = make(map[EntityID]struct{})
		g.cells[k] = cell
	}
	cell[id] = struct{}{}
}

func (g *Grid) Remove(id EntityID, zone ZoneID, p Pos) {
	k := key(zone, p)
	cell := g.cells[k]
	if cell != nil {
		delete(cell, id)
		if len(cell) == 0 {
			delete(g.cells, k)
		}
	}
}

// Move updates an entity's cell when its position or zone changes.
func (g *Grid) Move(id EntityID, oldZone ZoneID, oldPos Pos, newZone ZoneID, newPos Pos) {
	if key(oldZone, oldPos) == key(newZone, newPos) {
		return
	}
	g.Remove(id, oldZone, oldPos)
	g.Add(id, newZone, newPos)
}

// Candidates returns ids in every cell overlapping area. Callers filter by
// exact position.
func (g *Grid) Candidates(zone ZoneID, a Area) []EntityID {
	var out []EntityID
	for cx := toCellCoord(a.Min.X); cx <= toCellCoord(a.Max.X); cx++ {
		for cy := toCellCoord(a.Min.Y); cy <= toCellCoord(a.Max.Y); cy++ {
			for id := range g.cells[cellKey{zone: zone, cx: cx, cy: cy}] {
				out = append(out, id)
			}
		}
	}
	return out
}

// Cells returns the number of non-empty cells.
func (g *Grid) Cells() int { return len(g.cells) }
