package data

import (
	"fmt"
	"os"
	"sort"

	"github.com/l1jgo/realm/internal/world"
	"github.com/pixil98/go-errors"
	"gopkg.in/yaml.v3"
)

// ZoneInfo is one map partition as written in zones.yaml.
type ZoneInfo struct {
	ID     uint32 `yaml:"id"`
	Name   string `yaml:"name"`
	MinX   int32  `yaml:"min_x"`
	MinY   int32  `yaml:"min_y"`
	MaxX   int32  `yaml:"max_x"`
	MaxY   int32  `yaml:"max_y"`
	SpawnX int32  `yaml:"spawn_x"`
	SpawnY int32  `yaml:"spawn_y"`
	Safe   bool   `yaml:"safe"`
}

func (z ZoneInfo) Zone() world.Zone {
	return world.Zone{
		ID:     world.ZoneID(z.ID),
		Name:   z.Name,
		Bounds: world.Area{Min: world.Pos{X: z.MinX, Y: z.MinY}, Max: world.Pos{X: z.MaxX, Y: z.MaxY}},
		Spawn:  world.Pos{X: z.SpawnX, Y: z.SpawnY},
		Safe:   z.Safe,
	}
}

type zoneListFile struct {
	Zones []ZoneInfo `yaml:"zones"`
}

// ZoneTable holds the zone topology indexed by id.
type ZoneTable struct {
	zones map[uint32]*ZoneInfo
}

// LoadZoneTable reads and validates zones.yaml.
func LoadZoneTable(path string) (*ZoneTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read zone list %s: %w", path, err)
	}
	return parseZones(raw)
}

func parseZones(raw []byte) (*ZoneTable, error) {
	var f zoneListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse zone list: %w", err)
	}

	el := errors.NewErrorList()
	t := &ZoneTable{zones: make(map[uint32]*ZoneInfo, len(f.Zones))}
	for i := range f.Zones {
		z := &f.Zones[i]
		if _, dup := t.zones[z.ID]; dup {
			el.Add(fmt.Errorf("zone %d: duplicate id", z.ID))
			continue
		}
		if z.MaxX < z.MinX || z.MaxY < z.MinY {
			el.Add(fmt.Errorf("zone %d: empty bounds", z.ID))
			continue
		}
		if !z.Zone().Bounds.Contains(world.Pos{X: z.SpawnX, Y: z.SpawnY}) {
			el.Add(fmt.Errorf("zone %d: spawn point (%d,%d) outside bounds", z.ID, z.SpawnX, z.SpawnY))
			continue
		}
		t.zones[z.ID] = z
	}
	if len(f.Zones) == 0 {
		el.Add(fmt.Errorf("no zones defined"))
	}
	if err := el.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

// Get returns a zone by id, or nil if not found.
func (t *ZoneTable) Get(id uint32) *ZoneInfo {
	return t.zones[id]
}

func (t *ZoneTable) Count() int {
	return len(t.zones)
}

// Zones converts the table for world.NewManager, ordered by id.
func (t *ZoneTable) Zones() []world.Zone {
	out := make([]world.Zone, 0, len(t.zones))
	for _, z := range t.zones {
		out = append(out, z.Zone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
