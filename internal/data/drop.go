package data

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/l1jgo/realm/internal/world"
	"gopkg.in/yaml.v3"
)

// ChanceScale is a certain drop. Chances are parts per million.
const ChanceScale = 1_000_000

// DropItem is one possible drop from a monster.
type DropItem struct {
	ItemID uint32 `yaml:"item_id"`
	Min    int32  `yaml:"min"`
	Max    int32  `yaml:"max"`
	Chance int    `yaml:"chance"`
}

type dropEntry struct {
	Template uint32     `yaml:"template"`
	Items    []DropItem `yaml:"items"`
}

type dropListFile struct {
	Drops []dropEntry `yaml:"drops"`
}

// DropTable holds monster loot indexed by template id.
type DropTable struct {
	drops map[uint32][]DropItem
}

// Get returns the drop list for a template, or nil if none is defined.
func (t *DropTable) Get(template uint32) []DropItem {
	if t == nil {
		return nil
	}
	return t.drops[template]
}

func (t *DropTable) Count() int {
	if t == nil {
		return 0
	}
	return len(t.drops)
}

// Roll picks the loot of one kill. Each entry is rolled on its own.
func (t *DropTable) Roll(template uint32, rng *rand.Rand) []world.Item {
	var out []world.Item
	for _, d := range t.Get(template) {
		if d.Chance < ChanceScale && rng.Intn(ChanceScale) >= d.Chance {
			continue
		}
		n := d.Min
		if d.Max > d.Min {
			n += rng.Int31n(d.Max - d.Min + 1)
		}
		if n > 0 {
			out = append(out, world.Item{ItemID: d.ItemID, Count: n})
		}
	}
	return out
}

// LoadDropTable reads the loot list. An empty path yields an empty table.
func LoadDropTable(path string) (*DropTable, error) {
	if path == "" {
		return &DropTable{drops: map[uint32][]DropItem{}}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read drop list %s: %w", path, err)
	}
	return parseDrops(raw)
}

func parseDrops(raw []byte) (*DropTable, error) {
	var f dropListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse drop list: %w", err)
	}
	t := &DropTable{drops: make(map[uint32][]DropItem, len(f.Drops))}
	for _, entry := range f.Drops {
		for _, d := range entry.Items {
			if d.Min < 1 {
				d.Min = 1
			}
			if d.Max < d.Min {
				d.Max = d.Min
			}
			if d.Chance <= 0 || d.Chance > ChanceScale {
				return nil, fmt.Errorf("drop list: template %d item %d: chance %d outside 1..%d",
					entry.Template, d.ItemID, d.Chance, ChanceScale)
			}
			t.drops[entry.Template] = append(t.drops[entry.Template], d)
		}
	}
	return t, nil
}
