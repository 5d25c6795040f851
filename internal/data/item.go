package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ItemInfo is a usable item type. Script names the item-use function; items
// without one fall back to the built-in heal.
type ItemInfo struct {
	ID         uint32 `yaml:"id"`
	Name       string `yaml:"name"`
	Script     string `yaml:"script"`
	Heal       int32  `yaml:"heal"`
	Mana       int32  `yaml:"mana"`
	Consumable bool   `yaml:"consumable"`
}

type itemListFile struct {
	Items []ItemInfo `yaml:"items"`
}

// ItemTable holds item types indexed by id.
type ItemTable struct {
	items map[uint32]*ItemInfo
}

// LoadItemTable loads item types from a YAML file.
func LoadItemTable(path string) (*ItemTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read item list %s: %w", path, err)
	}
	var f itemListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse item list: %w", err)
	}
	t := &ItemTable{items: make(map[uint32]*ItemInfo, len(f.Items))}
	for i := range f.Items {
		it := &f.Items[i]
		t.items[it.ID] = it
	}
	return t, nil
}

// Get returns an item by id, or nil if not found.
func (t *ItemTable) Get(id uint32) *ItemInfo {
	return t.items[id]
}

func (t *ItemTable) Count() int {
	return len(t.items)
}
