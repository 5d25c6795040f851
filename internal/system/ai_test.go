package system

import (
	"testing"

	"github.com/l1jgo/realm/internal/faultlog"
	"github.com/l1jgo/realm/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const aiScripts = `
function broken_ai(ctx)
  ctx:move(1, 0)
  error("bad state")
end

function walker_ai(ctx)
  ctx:move(1, 0)
end

function hunter_ai(ctx)
  local t = ctx:target()
  if t ~= nil then
    ctx:attack(t.id)
  end
end
`

func TestAIFaultDoesNotStopOthers(t *testing.T) {
	h := newHarness(t, harnessOpts{scripts: map[string]string{"ai.lua": aiScripts}})
	m := h.monster(t, "broken_ai", 1, world.Pos{X: 20, Y: 20})
	n := h.monster(t, "walker_ai", 1, world.Pos{X: 40, Y: 40})

	h.step()

	assert.Equal(t, world.Pos{X: 20, Y: 20}, entity(t, h, m).Pos, "faulting entity skips its action")
	assert.Equal(t, world.Pos{X: 41, Y: 40}, entity(t, h, n).Pos)
	assert.Equal(t, uint64(1), h.faults.Count(faultlog.KindScript))

	h.step()
	assert.Equal(t, world.Pos{X: 42, Y: 40}, entity(t, h, n).Pos)
	assert.Equal(t, uint64(2), h.faults.Count(faultlog.KindScript))
}

func TestAggroMonsterAttacksNearestPlayer(t *testing.T) {
	h := newHarness(t, harnessOpts{scripts: map[string]string{"ai.lua": aiScripts}})
	_, hero := h.player(t, "hero", 1, world.Pos{X: 10, Y: 10})
	_, far := h.player(t, "far", 1, world.Pos{X: 10, Y: 15})
	gob := h.monster(t, "hunter_ai", 1, world.Pos{X: 11, Y: 10})
	require.NoError(t, h.deps.World.UpdateMonster(gob, func(m *world.Monster) { m.Aggro = true }))

	h.step()

	mo, _ := h.deps.World.Monster(gob)
	assert.Equal(t, hero, mo.Target)
	// 6 attack against 2 defense
	assert.Equal(t, int32(96), entity(t, h, hero).HP)
	assert.Equal(t, int32(100), entity(t, h, far).HP)
}

func TestMissingScriptIsAFault(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	m := h.monster(t, "nobody_home", 1, world.Pos{X: 20, Y: 20})

	h.step()

	assert.True(t, h.deps.World.Exists(m))
	assert.Equal(t, uint64(1), h.faults.Count(faultlog.KindScript))
}

func TestAIScriptCannotReplaceAnother(t *testing.T) {
	h := newHarness(t, harnessOpts{scripts: map[string]string{"ai.lua": aiScripts + `
function usurper_ai(ctx)
  walker_ai = function(c) c:move(-1, 0) end
end
`}})
	u := h.monster(t, "usurper_ai", 1, world.Pos{X: 20, Y: 20})
	n := h.monster(t, "walker_ai", 1, world.Pos{X: 40, Y: 40})

	h.steps(2)

	assert.Equal(t, world.Pos{X: 20, Y: 20}, entity(t, h, u).Pos)
	assert.Equal(t, world.Pos{X: 42, Y: 40}, entity(t, h, n).Pos)
	assert.Equal(t, uint64(2), h.faults.Count(faultlog.KindScript))
}
