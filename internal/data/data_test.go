package data

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/l1jgo/realm/internal/world"
	"github.com/pixil98/go-testutil"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const zonesYAML = `
zones:
  - {id: 2, name: square, min_x: 0, min_y: 0, max_x: 63, max_y: 63, spawn_x: 32, spawn_y: 32, safe: true}
  - {id: 1, name: island, min_x: 0, min_y: 0, max_x: 255, max_y: 255, spawn_x: 128, spawn_y: 128}
`

const templatesYAML = `
player: {zone: 1, level: 1, hp: 120, mp: 30, attack: 8, defense: 2}
templates:
  - {id: 45001, name: goblin, kind: monster, hp: 40, attack: 6, exp: 12, aggro: true, script: goblin_ai}
  - {id: 50001, name: gatekeeper, kind: npc, hp: 1000, dialogue: gatekeeper_talk}
`

func TestParseZones(t *testing.T) {
	zt, err := parseZones([]byte(zonesYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	zones := zt.Zones()
	testutil.AssertEqual(t, "zone count", len(zones), 2)
	testutil.AssertEqual(t, "first zone", zones[0].ID, world.ZoneID(1))
	testutil.AssertEqual(t, "spawn", zones[0].Spawn, world.Pos{X: 128, Y: 128})
	testutil.AssertEqual(t, "safe", zones[1].Safe, true)
	testutil.AssertEqual(t, "bounds max", zones[1].Bounds.Max, world.Pos{X: 63, Y: 63})
}

func TestParseZonesRejectsBadTopology(t *testing.T) {
	tests := map[string]struct {
		body   string
		expErr string
	}{
		"duplicate": {
			body: `
zones:
  - {id: 1, max_x: 10, max_y: 10}
  - {id: 1, max_x: 10, max_y: 10}
`,
			expErr: "duplicate id",
		},
		"empty bounds": {
			body: `
zones:
  - {id: 1, min_x: 10, max_x: 5, max_y: 10}
`,
			expErr: "empty bounds",
		},
		"spawn outside": {
			body: `
zones:
  - {id: 1, max_x: 10, max_y: 10, spawn_x: 11}
`,
			expErr: "outside bounds",
		},
		"no zones": {
			body:   `zones: []`,
			expErr: "no zones defined",
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parseZones([]byte(tt.body))
			testutil.AssertErrorContains(t, err, tt.expErr)
		})
	}
}

func TestTemplateSpec(t *testing.T) {
	tt, err := parseTemplates([]byte(templatesYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "count", tt.Count(), 2)
	testutil.AssertEqual(t, "player hp", tt.Player.HP, int32(120))

	spec, err := tt.Spec(45001, 1, world.Pos{X: 5, Y: 6}, 10, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "kind", spec.Entity.Kind, world.KindMonster)
	testutil.AssertEqual(t, "max hp", spec.Entity.MaxHP, int32(40))
	testutil.AssertEqual(t, "default reach", spec.Entity.Stats.Reach, int32(1))
	testutil.AssertEqual(t, "heading wraps", spec.Entity.Heading, byte(2))
	testutil.AssertEqual(t, "spawn id", spec.Monster.SpawnID, 3)
	testutil.AssertEqual(t, "script", spec.Monster.Script, "goblin_ai")

	spec, err = tt.Spec(50001, 2, world.Pos{X: 1, Y: 1}, 0, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "npc kind", spec.Entity.Kind, world.KindNPC)
	testutil.AssertEqual(t, "dialogue", spec.NPC.DialogueScript, "gatekeeper_talk")

	_, err = tt.Spec(1, 1, world.Pos{}, 0, -1)
	testutil.AssertErrorContains(t, err, "unknown template 1")
}

func TestParseTemplatesRejects(t *testing.T) {
	tests := map[string]struct {
		template string
		expErr   string
	}{
		"unknown kind": {template: `{id: 1, kind: dragon, hp: 10}`, expErr: `unknown kind "dragon"`},
		"no hp":        {template: `{id: 2, kind: monster, hp: 0}`, expErr: "template 2: hp must be positive"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parseTemplates([]byte("player: {zone: 1, hp: 10}\ntemplates:\n  - " + tt.template + "\n"))
			testutil.AssertErrorContains(t, err, tt.expErr)
		})
	}
}

func TestLoadCrossChecks(t *testing.T) {
	dir := t.TempDir()
	p := Paths{
		Zones:     writeFile(t, dir, "zones.yaml", zonesYAML),
		Templates: writeFile(t, dir, "templates.yaml", templatesYAML),
		Items:     writeFile(t, dir, "items.yaml", `items: [{id: 40010, name: red potion, heal: 30}]`),
	}

	tests := map[string]struct {
		spawn  string
		expErr string
	}{
		"unknown template": {spawn: `{template: 99999, zone: 1, x: 10, y: 10}`, expErr: "spawn 0: unknown template 99999"},
		"unknown zone":     {spawn: `{template: 45001, zone: 7, x: 10, y: 10}`, expErr: "spawn 0: unknown zone 7"},
		"outside zone":     {spawn: `{template: 45001, zone: 2, x: 100, y: 10}`, expErr: "spawn 0: (100,10) outside zone 2"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			p := p
			p.Spawns = writeFile(t, t.TempDir(), "spawns.yaml", "spawns: ["+tt.spawn+"]")
			_, err := Load(p)
			testutil.AssertErrorContains(t, err, tt.expErr)
		})
	}

	p.Spawns = writeFile(t, dir, "spawns.yaml", `spawns: [{template: 45001, zone: 1, x: 10, y: 10}]`)
	w, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "default count", w.Spawns[0].Count, 1)
	testutil.AssertEqual(t, "item heal", w.Items.Get(40010).Heal, int32(30))
}

func TestShippedWorldLoads(t *testing.T) {
	root := filepath.Join("..", "..", "data", "yaml")
	w, err := Load(Paths{
		Zones:     filepath.Join(root, "zones.yaml"),
		Templates: filepath.Join(root, "templates.yaml"),
		Spawns:    filepath.Join(root, "spawns.yaml"),
		Items:     filepath.Join(root, "items.yaml"),
		Drops:     filepath.Join(root, "drops.yaml"),
		Portals:   filepath.Join(root, "portals.yaml"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "zones", w.Zones.Count(), 2)
	testutil.AssertEqual(t, "drops", w.Drops.Count() > 0, true)
	testutil.AssertEqual(t, "portals", w.Portals.Count(), 2)
}

func TestDropRoll(t *testing.T) {
	dt, err := parseDrops([]byte(`
drops:
  - template: 45001
    items:
      - {item_id: 40010, min: 1, max: 3, chance: 1000000}
      - {item_id: 40020, chance: 1}
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "count", dt.Count(), 1)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		loot := dt.Roll(45001, rng)
		if len(loot) == 0 || loot[0].ItemID != 40010 {
			t.Fatalf("certain drop missing: %v", loot)
		}
		if n := loot[0].Count; n < 1 || n > 3 {
			t.Fatalf("count %d outside 1..3", n)
		}
	}
	testutil.AssertEqual(t, "no loot for others", len(dt.Roll(50001, rng)), 0)

	_, err = parseDrops([]byte(`drops: [{template: 1, items: [{item_id: 2, chance: 0}]}]`))
	testutil.AssertErrorContains(t, err, "chance 0 outside")
}

func TestLoadCrossChecksDrops(t *testing.T) {
	dir := t.TempDir()
	p := Paths{
		Zones:     writeFile(t, dir, "zones.yaml", zonesYAML),
		Templates: writeFile(t, dir, "templates.yaml", templatesYAML),
		Spawns:    writeFile(t, dir, "spawns.yaml", "spawns: []"),
		Items:     writeFile(t, dir, "items.yaml", `items: [{id: 40010, name: red potion, heal: 30}]`),
		Drops: writeFile(t, dir, "drops.yaml", `
drops:
  - {template: 45001, items: [{item_id: 777, chance: 10}]}
  - {template: 12345, items: [{item_id: 40010, chance: 10}]}
`),
	}
	_, err := Load(p)
	testutil.AssertErrorContains(t, err, "drops: template 45001: unknown item 777")
	testutil.AssertErrorContains(t, err, "drops: unknown template 12345")
}

func TestPortals(t *testing.T) {
	pt, err := parsePortals([]byte(`
portals:
  - {zone: 1, x: 128, y: 120, dst_zone: 2, dst_x: 32, dst_y: 60, dst_heading: 4, note: to the square}
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := pt.Get(1, world.Pos{X: 128, Y: 120})
	if p == nil {
		t.Fatalf("portal not found")
	}
	testutil.AssertEqual(t, "dest", p.Dest(), world.Pos{X: 32, Y: 60})
	testutil.AssertEqual(t, "other tile", pt.Get(1, world.Pos{X: 128, Y: 121}) == nil, true)

	_, err = parsePortals([]byte(`portals: [{zone: 1, x: 1, y: 1}, {zone: 1, x: 1, y: 1}]`))
	testutil.AssertErrorContains(t, err, "two portals")

	dir := t.TempDir()
	_, err = Load(Paths{
		Zones:     writeFile(t, dir, "zones.yaml", zonesYAML),
		Templates: writeFile(t, dir, "templates.yaml", templatesYAML),
		Spawns:    writeFile(t, dir, "spawns.yaml", "spawns: []"),
		Items:     writeFile(t, dir, "items.yaml", "items: []"),
		Portals:   writeFile(t, dir, "portals.yaml", `portals: [{zone: 1, x: 5, y: 5, dst_zone: 2, dst_x: 99, dst_y: 5}]`),
	})
	testutil.AssertErrorContains(t, err, "destination outside zone 2")
}
