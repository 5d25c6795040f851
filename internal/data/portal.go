package data

import (
	"fmt"
	"os"

	"github.com/l1jgo/realm/internal/world"
	"gopkg.in/yaml.v3"
)

// PortalEntry is a tile that carries a player stepping onto it to another
// zone.
type PortalEntry struct {
	Zone       world.ZoneID `yaml:"zone"`
	X          int32        `yaml:"x"`
	Y          int32        `yaml:"y"`
	DstZone    world.ZoneID `yaml:"dst_zone"`
	DstX       int32        `yaml:"dst_x"`
	DstY       int32        `yaml:"dst_y"`
	DstHeading byte         `yaml:"dst_heading"`
	Note       string       `yaml:"note"`
}

func (p *PortalEntry) Dest() world.Pos { return world.Pos{X: p.DstX, Y: p.DstY} }

type portalKey struct {
	zone world.ZoneID
	x, y int32
}

type portalListFile struct {
	Portals []PortalEntry `yaml:"portals"`
}

// PortalTable looks portals up by source tile.
type PortalTable struct {
	portals map[portalKey]*PortalEntry
}

// LoadPortalTable reads the portal list. An empty path yields an empty table.
func LoadPortalTable(path string) (*PortalTable, error) {
	if path == "" {
		return &PortalTable{portals: map[portalKey]*PortalEntry{}}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read portal list %s: %w", path, err)
	}
	return parsePortals(raw)
}

func parsePortals(raw []byte) (*PortalTable, error) {
	var f portalListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse portal list: %w", err)
	}
	t := &PortalTable{portals: make(map[portalKey]*PortalEntry, len(f.Portals))}
	for i := range f.Portals {
		e := &f.Portals[i]
		if e.DstHeading > 7 {
			return nil, fmt.Errorf("portal list: portal %d: heading %d out of range", i, e.DstHeading)
		}
		key := portalKey{zone: e.Zone, x: e.X, y: e.Y}
		if _, dup := t.portals[key]; dup {
			return nil, fmt.Errorf("portal list: two portals at zone %d (%d,%d)", e.Zone, e.X, e.Y)
		}
		t.portals[key] = e
	}
	return t, nil
}

// Get returns the portal on a tile, or nil if none.
func (t *PortalTable) Get(zone world.ZoneID, pos world.Pos) *PortalEntry {
	if t == nil {
		return nil
	}
	return t.portals[portalKey{zone: zone, x: pos.X, y: pos.Y}]
}

func (t *PortalTable) Count() int {
	if t == nil {
		return 0
	}
	return len(t.portals)
}
