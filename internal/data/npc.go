package data

import (
	"fmt"
	"os"

	"github.com/l1jgo/realm/internal/world"
	"github.com/pixil98/go-errors"
	"gopkg.in/yaml.v3"
)

// Template is the static data for a monster or NPC type.
type Template struct {
	ID       uint32 `yaml:"id"`
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"` // "monster" or "npc"
	Level    uint16 `yaml:"level"`
	HP       int32  `yaml:"hp"`
	MP       int32  `yaml:"mp"`
	Attack   int32  `yaml:"attack"`
	Defense  int32  `yaml:"defense"`
	Reach    int32  `yaml:"reach"`
	Exp      int32  `yaml:"exp"`
	Aggro    bool   `yaml:"aggro"`
	Script   string `yaml:"script"`   // AI function name
	Dialogue string `yaml:"dialogue"` // dialogue function name (NPCs)
}

// PlayerBase is the starting envelope for new characters.
type PlayerBase struct {
	Zone    uint32 `yaml:"zone"`
	Level   uint16 `yaml:"level"`
	HP      int32  `yaml:"hp"`
	MP      int32  `yaml:"mp"`
	Attack  int32  `yaml:"attack"`
	Defense int32  `yaml:"defense"`
	Reach   int32  `yaml:"reach"`
}

// Stats returns the combat numbers every player starts from.
func (p PlayerBase) Stats() world.Stats {
	return world.Stats{Attack: p.Attack, Defense: p.Defense, Reach: p.Reach}
}

// SpawnEntry places Count copies of a template around (X,Y).
type SpawnEntry struct {
	Template     uint32 `yaml:"template"`
	Zone         uint32 `yaml:"zone"`
	X            int32  `yaml:"x"`
	Y            int32  `yaml:"y"`
	Count        int    `yaml:"count"`
	RandomX      int32  `yaml:"randomx"`
	RandomY      int32  `yaml:"randomy"`
	Heading      byte   `yaml:"heading"`
	RespawnTicks int    `yaml:"respawn_ticks"`
}

type templateListFile struct {
	Player    PlayerBase `yaml:"player"`
	Templates []Template `yaml:"templates"`
}

type spawnListFile struct {
	Spawns []SpawnEntry `yaml:"spawns"`
}

// TemplateTable holds all templates indexed by id.
type TemplateTable struct {
	Player    PlayerBase
	templates map[uint32]*Template
}

// LoadTemplateTable loads monster and NPC templates from a YAML file.
func LoadTemplateTable(path string) (*TemplateTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template list %s: %w", path, err)
	}
	return parseTemplates(raw)
}

func parseTemplates(raw []byte) (*TemplateTable, error) {
	var f templateListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse template list: %w", err)
	}

	el := errors.NewErrorList()
	if f.Player.HP <= 0 {
		el.Add(fmt.Errorf("player: hp must be positive"))
	}
	t := &TemplateTable{Player: f.Player, templates: make(map[uint32]*Template, len(f.Templates))}
	for i := range f.Templates {
		tp := &f.Templates[i]
		if _, dup := t.templates[tp.ID]; dup {
			el.Add(fmt.Errorf("template %d: duplicate id", tp.ID))
			continue
		}
		if tp.Kind != "monster" && tp.Kind != "npc" {
			el.Add(fmt.Errorf("template %d: unknown kind %q", tp.ID, tp.Kind))
			continue
		}
		if tp.HP <= 0 {
			el.Add(fmt.Errorf("template %d: hp must be positive", tp.ID))
			continue
		}
		if tp.Reach <= 0 {
			tp.Reach = 1
		}
		t.templates[tp.ID] = tp
	}
	if err := el.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

// Get returns a template by id, or nil if not found.
func (t *TemplateTable) Get(id uint32) *Template {
	return t.templates[id]
}

func (t *TemplateTable) Count() int {
	return len(t.templates)
}

// Spec builds a spawn request for template id at pos. spawnID is the index
// of the spawn entry that owns it, or -1.
func (t *TemplateTable) Spec(id uint32, zone world.ZoneID, pos world.Pos, heading byte, spawnID int) (world.SpawnSpec, error) {
	tp := t.templates[id]
	if tp == nil {
		return world.SpawnSpec{}, fmt.Errorf("unknown template %d", id)
	}
	e := world.Entity{
		Template: tp.ID,
		Name:     tp.Name,
		Zone:     zone,
		Pos:      pos,
		Heading:  heading % 8,
		Level:    tp.Level,
		HP:       tp.HP,
		MaxHP:    tp.HP,
		MP:       tp.MP,
		MaxMP:    tp.MP,
		Stats:    world.Stats{Attack: tp.Attack, Defense: tp.Defense, Reach: tp.Reach},
	}
	if tp.Kind == "npc" {
		e.Kind = world.KindNPC
		return world.SpawnSpec{Entity: e, NPC: &world.NPC{Script: tp.Script, DialogueScript: tp.Dialogue}}, nil
	}
	e.Kind = world.KindMonster
	return world.SpawnSpec{Entity: e, Monster: &world.Monster{
		SpawnID:   spawnID,
		Script:    tp.Script,
		Aggro:     tp.Aggro,
		ExpReward: tp.Exp,
	}}, nil
}

// LoadSpawnList loads spawn entries from a YAML file.
func LoadSpawnList(path string) ([]SpawnEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spawn list %s: %w", path, err)
	}
	return parseSpawns(raw)
}

func parseSpawns(raw []byte) ([]SpawnEntry, error) {
	var f spawnListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse spawn list: %w", err)
	}
	for i := range f.Spawns {
		if f.Spawns[i].Count <= 0 {
			f.Spawns[i].Count = 1
		}
	}
	return f.Spawns, nil
}
