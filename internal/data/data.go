// Package data loads the static world definition: zone topology, monster
// and NPC templates, spawn lists, item types, monster loot and zone portals.
package data

import (
	"fmt"

	"github.com/l1jgo/realm/internal/world"
	"github.com/pixil98/go-errors"
)

// Paths names the YAML files of one world definition.
type Paths struct {
	Zones     string
	Templates string
	Spawns    string
	Items     string
	Drops     string // optional
	Portals   string // optional
}

// World is a loaded, cross-checked world definition.
type World struct {
	Zones     *ZoneTable
	Templates *TemplateTable
	Spawns    []SpawnEntry
	Items     *ItemTable
	Drops     *DropTable
	Portals   *PortalTable
}

// Load reads every table and checks that spawns and the player base refer
// to zones and templates that exist.
func Load(p Paths) (*World, error) {
	zones, err := LoadZoneTable(p.Zones)
	if err != nil {
		return nil, err
	}
	templates, err := LoadTemplateTable(p.Templates)
	if err != nil {
		return nil, err
	}
	spawns, err := LoadSpawnList(p.Spawns)
	if err != nil {
		return nil, err
	}
	items, err := LoadItemTable(p.Items)
	if err != nil {
		return nil, err
	}
	drops, err := LoadDropTable(p.Drops)
	if err != nil {
		return nil, err
	}
	portals, err := LoadPortalTable(p.Portals)
	if err != nil {
		return nil, err
	}
	w := &World{Zones: zones, Templates: templates, Spawns: spawns, Items: items, Drops: drops, Portals: portals}
	if err := w.check(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *World) check() error {
	el := errors.NewErrorList()
	if w.Zones.Get(w.Templates.Player.Zone) == nil {
		el.Add(fmt.Errorf("player start zone %d is not defined", w.Templates.Player.Zone))
	}
	for i, s := range w.Spawns {
		z := w.Zones.Get(s.Zone)
		if z == nil {
			el.Add(fmt.Errorf("spawn %d: unknown zone %d", i, s.Zone))
			continue
		}
		if w.Templates.Get(s.Template) == nil {
			el.Add(fmt.Errorf("spawn %d: unknown template %d", i, s.Template))
			continue
		}
		if !z.Zone().Bounds.Contains(world.Pos{X: s.X, Y: s.Y}) {
			el.Add(fmt.Errorf("spawn %d: (%d,%d) outside zone %d", i, s.X, s.Y, s.Zone))
		}
	}
	for template, items := range w.Drops.drops {
		if w.Templates.Get(template) == nil {
			el.Add(fmt.Errorf("drops: unknown template %d", template))
		}
		for _, d := range items {
			if w.Items.Get(d.ItemID) == nil {
				el.Add(fmt.Errorf("drops: template %d: unknown item %d", template, d.ItemID))
			}
		}
	}
	for _, p := range w.Portals.portals {
		src, dst := w.Zones.Get(uint32(p.Zone)), w.Zones.Get(uint32(p.DstZone))
		switch {
		case src == nil:
			el.Add(fmt.Errorf("portal at (%d,%d): unknown zone %d", p.X, p.Y, p.Zone))
		case !src.Zone().Bounds.Contains(world.Pos{X: p.X, Y: p.Y}):
			el.Add(fmt.Errorf("portal at (%d,%d): outside zone %d", p.X, p.Y, p.Zone))
		}
		switch {
		case dst == nil:
			el.Add(fmt.Errorf("portal at (%d,%d): unknown destination zone %d", p.X, p.Y, p.DstZone))
		case !dst.Zone().Bounds.Contains(p.Dest()):
			el.Add(fmt.Errorf("portal at (%d,%d): destination outside zone %d", p.X, p.Y, p.DstZone))
		}
	}
	return el.Err()
}
