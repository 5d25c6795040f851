package scripting

import (
	"fmt"

	"github.com/l1jgo/realm/internal/world"
	lua "github.com/yuin/gopher-lua"
)

// Kind is the kind of script being called. It picks the capability set.
type Kind int

const (
	KindAI Kind = iota + 1
	KindDialogue
	KindItemUse
	KindActivity
	KindFormula
)

func (k Kind) String() string {
	switch k {
	case KindAI:
		return "ai"
	case KindDialogue:
		return "dialogue"
	case KindItemUse:
		return "item_use"
	case KindActivity:
		return "activity"
	case KindFormula:
		return "formula"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Capability is one operation a script may perform through its context.
type Capability uint16

const (
	CapSelf Capability = 1 << iota
	CapNearby
	CapApplyBuff
	CapSay
	CapMove
	CapAttack
	CapSpawn
	CapDialogue
)

var capNames = map[Capability]string{
	CapSelf:      "self",
	CapNearby:    "nearby",
	CapApplyBuff: "apply_buff",
	CapSay:       "say",
	CapMove:      "move",
	CapAttack:    "attack",
	CapSpawn:     "spawn",
	CapDialogue:  "dialogue",
}

func (c Capability) String() string {
	if n, ok := capNames[c]; ok {
		return n
	}
	return fmt.Sprintf("cap(%#x)", uint16(c))
}

var kindCaps = map[Kind]Capability{
	KindAI:       CapSelf | CapNearby | CapApplyBuff | CapSay | CapMove | CapAttack | CapSpawn,
	KindDialogue: CapSelf | CapNearby | CapApplyBuff | CapSay | CapDialogue,
	KindItemUse:  CapSelf | CapApplyBuff | CapSay,
	KindActivity: CapSelf | CapNearby | CapApplyBuff | CapSay | CapMove | CapAttack | CapSpawn | CapDialogue,
	KindFormula:  0,
}

// MaxNearbyRange bounds nearby(range) so a script cannot scan a whole zone.
// It is also the reach of every effect aimed at another entity or cell.
const MaxNearbyRange = 32

// Limits cap what a single call may ask for. Exceeding one is a
// capability fault.
type Limits struct {
	MaxEffects   int    // effects buffered per call
	MaxSpawns    int    // spawn effects per call
	MaxBuffTicks uint64 // longest buff; 0 ticks (permanent) is refused
	MaxBuffPower int32  // largest buff power, either sign
}

// DefaultLimits are used for every zero field of Options.Limits.
func DefaultLimits() Limits {
	return Limits{MaxEffects: 16, MaxSpawns: 2, MaxBuffTicks: 6000, MaxBuffPower: 100}
}

func (l Limits) orDefault() Limits {
	d := DefaultLimits()
	if l.MaxEffects <= 0 {
		l.MaxEffects = d.MaxEffects
	}
	if l.MaxSpawns <= 0 {
		l.MaxSpawns = d.MaxSpawns
	}
	if l.MaxBuffTicks == 0 {
		l.MaxBuffTicks = d.MaxBuffTicks
	}
	if l.MaxBuffPower <= 0 {
		l.MaxBuffPower = d.MaxBuffPower
	}
	return l
}

// Reader is the read side of the world a context may look at.
// *world.Manager satisfies it.
type Reader interface {
	Get(id world.EntityID) (world.Entity, error)
	Range(zone world.ZoneID, pos world.Pos, r int32, keep func(*world.Entity) bool) []world.EntityID
}

// EffectKind is a buffered world change requested by a script.
type EffectKind int

const (
	EffectBuff EffectKind = iota + 1
	EffectSay
	EffectMove
	EffectAttack
	EffectSpawn
	EffectDialogue
)

// Effect is applied by the caller after a successful invocation.
type Effect struct {
	Kind     EffectKind
	Target   world.EntityID
	BuffID   uint32
	BuffKind world.BuffKind
	Power    int32
	Ticks    uint64
	Text     string
	Heading  byte
	Template uint32
	Pos      world.Pos
	Options  []string
}

// Context is the only handle a script gets. It is built fresh for each
// call, buffers every effect, and is dead once the call returns.
type Context struct {
	kind   Kind
	caps   Capability
	self   world.EntityID
	target world.EntityID
	tick   uint64
	option string
	world  Reader
	limits Limits

	effects []Effect
	spawns  int
	fault   *ScriptFault
	done    bool
}

// NewContext builds a context for one call by self.
func NewContext(kind Kind, self world.EntityID, r Reader) *Context {
	return &Context{kind: kind, caps: kindCaps[kind], self: self, world: r, limits: DefaultLimits()}
}

// WithTarget sets the entity the call is about: the aggro target of a
// monster, the player talking to an NPC, the player using an item.
func (c *Context) WithTarget(id world.EntityID) *Context {
	c.target = id
	return c
}

// WithTick exposes the current tick to the script.
func (c *Context) WithTick(t uint64) *Context {
	c.tick = t
	return c
}

// Restrict removes capabilities from the context.
func (c *Context) Restrict(caps Capability) *Context {
	c.caps &^= caps
	return c
}

// WithOption passes the dialogue option the player picked; empty for the
// opening line.
func (c *Context) WithOption(opt string) *Context {
	c.option = opt
	return c
}

func (c *Context) Kind() Kind                  { return c.kind }
func (c *Context) Self() world.EntityID        { return c.self }
func (c *Context) Allows(want Capability) bool { return c.caps&want != 0 }

// Effects returns what the script asked for. Empty unless the call succeeded.
func (c *Context) Effects() []Effect { return c.effects }

// ── Lua surface ──────────────────────────────────────────────────

const contextTypeName = "realm.context"

var contextMethods = map[string]lua.LGFunction{
	"self":       ctxSelf,
	"target":     ctxTarget,
	"tick":       ctxTick,
	"nearby":     ctxNearby,
	"apply_buff": ctxApplyBuff,
	"say":        ctxSay,
	"move":       ctxMove,
	"attack":     ctxAttack,
	"spawn":      ctxSpawn,
	"dialogue":   ctxDialogue,
	"option":     ctxOption,
}

func registerContextType(L *lua.LState) {
	mt := L.NewTypeMetatable(contextTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), contextMethods))
	L.SetField(mt, "__metatable", lua.LString("locked"))
}

func (c *Context) bind(L *lua.LState) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = c
	L.SetMetatable(ud, L.GetTypeMetatable(contextTypeName))
	return ud
}

// invalidate ends the context's life. Calls through a retained handle
// fail from here on.
func (c *Context) invalidate(ok bool) {
	c.done = true
	if !ok {
		c.effects = nil
	}
}

// checkContext returns the live context in argument 1 after verifying want.
func checkContext(L *lua.LState, want Capability) *Context {
	ud := L.CheckUserData(1)
	c, ok := ud.Value.(*Context)
	if !ok {
		L.ArgError(1, "context expected")
		return nil
	}
	if c.done {
		L.RaiseError("context used after its call returned")
		return nil
	}
	if !c.Allows(want) {
		c.deny(L, fmt.Errorf("%s not permitted for %s scripts", want, c.kind))
		return nil
	}
	return c
}

// deny fails the whole call with a capability fault, even if the script
// catches the raised error.
func (c *Context) deny(L *lua.LState, err error) {
	if c.fault == nil {
		c.fault = &ScriptFault{Kind: FaultCapability, Entity: c.self, Err: err}
	}
	L.RaiseError("%v", err)
}

// push buffers fx unless the call already asked for its share.
func (c *Context) push(L *lua.LState, fx Effect) {
	if len(c.effects) >= c.limits.MaxEffects {
		c.deny(L, fmt.Errorf("more than %d effects in one call", c.limits.MaxEffects))
		return
	}
	c.effects = append(c.effects, fx)
}

func (c *Context) selfEntity() (world.Entity, bool) {
	if c.world == nil {
		return world.Entity{}, false
	}
	e, err := c.world.Get(c.self)
	return e, err == nil
}

// reaches reports whether id is the caller, the entity the call is about,
// or a live entity in the caller's zone within MaxNearbyRange.
func (c *Context) reaches(id world.EntityID) bool {
	if id == c.self || (id != 0 && id == c.target) {
		return true
	}
	self, ok := c.selfEntity()
	if !ok {
		return false
	}
	o, err := c.world.Get(id)
	if err != nil || !o.Alive() {
		return false
	}
	return o.Zone == self.Zone && self.Pos.Dist(o.Pos) <= MaxNearbyRange
}

func entityTable(L *lua.LState, e *world.Entity) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("id", lua.LNumber(e.ID))
	t.RawSetString("kind", lua.LString(e.Kind.String()))
	t.RawSetString("template", lua.LNumber(e.Template))
	t.RawSetString("name", lua.LString(e.Name))
	t.RawSetString("zone", lua.LNumber(e.Zone))
	t.RawSetString("x", lua.LNumber(e.Pos.X))
	t.RawSetString("y", lua.LNumber(e.Pos.Y))
	t.RawSetString("heading", lua.LNumber(e.Heading))
	t.RawSetString("level", lua.LNumber(e.Level))
	t.RawSetString("hp", lua.LNumber(e.HP))
	t.RawSetString("max_hp", lua.LNumber(e.MaxHP))
	t.RawSetString("mp", lua.LNumber(e.MP))
	t.RawSetString("max_mp", lua.LNumber(e.MaxMP))
	t.RawSetString("attack", lua.LNumber(e.Stats.Attack+e.BuffPower(world.BuffAttack)))
	t.RawSetString("defense", lua.LNumber(e.Stats.Defense+e.BuffPower(world.BuffDefense)))
	t.RawSetString("reach", lua.LNumber(e.Stats.Reach))
	t.RawSetString("alive", lua.LBool(e.Alive()))
	return t
}

func (c *Context) pushEntity(L *lua.LState, id world.EntityID) int {
	if id == 0 {
		L.Push(lua.LNil)
		return 1
	}
	e, err := c.world.Get(id)
	if err != nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(entityTable(L, &e))
	return 1
}

func ctxSelf(L *lua.LState) int {
	c := checkContext(L, CapSelf)
	return c.pushEntity(L, c.self)
}

func ctxTarget(L *lua.LState) int {
	c := checkContext(L, CapSelf)
	return c.pushEntity(L, c.target)
}

func ctxTick(L *lua.LState) int {
	c := checkContext(L, CapSelf)
	L.Push(lua.LNumber(c.tick))
	return 1
}

func ctxNearby(L *lua.LState) int {
	c := checkContext(L, CapNearby)
	r := int32(L.OptInt(2, 8))
	if r < 0 {
		r = 0
	}
	if r > MaxNearbyRange {
		r = MaxNearbyRange
	}
	self, err := c.world.Get(c.self)
	out := L.NewTable()
	if err != nil {
		L.Push(out)
		return 1
	}
	ids := c.world.Range(self.Zone, self.Pos, r, func(e *world.Entity) bool {
		return e.ID != c.self && e.Alive()
	})
	for _, id := range ids {
		e, err := c.world.Get(id)
		if err != nil {
			continue
		}
		out.Append(entityTable(L, &e))
	}
	L.Push(out)
	return 1
}

func ctxApplyBuff(L *lua.LState) int {
	c := checkContext(L, CapApplyBuff)
	target := world.EntityID(L.CheckNumber(2))
	id := uint32(L.CheckInt(3))
	ticks := L.CheckInt(4)
	if ticks < 0 {
		L.ArgError(4, "ticks must not be negative")
	}
	kind := world.BuffKind(L.OptInt(5, int(world.BuffAttack)))
	if kind < world.BuffAttack || kind > world.BuffPoison {
		L.ArgError(5, "unknown buff kind")
	}
	power := L.OptInt(6, 1)
	if target == 0 {
		target = c.self
	}
	switch {
	case !c.reaches(target):
		c.deny(L, fmt.Errorf("buff target %d out of reach", target))
	case ticks == 0 || uint64(ticks) > c.limits.MaxBuffTicks:
		c.deny(L, fmt.Errorf("buff lasts %d ticks, want 1..%d", ticks, c.limits.MaxBuffTicks))
	case power > int(c.limits.MaxBuffPower) || power < -int(c.limits.MaxBuffPower):
		c.deny(L, fmt.Errorf("buff power %d beyond %d", power, c.limits.MaxBuffPower))
	}
	c.push(L, Effect{
		Kind:     EffectBuff,
		Target:   target,
		BuffID:   id,
		BuffKind: kind,
		Power:    int32(power),
		Ticks:    uint64(ticks),
	})
	return 0
}

func ctxSay(L *lua.LState) int {
	c := checkContext(L, CapSay)
	c.push(L, Effect{Kind: EffectSay, Text: L.CheckString(2)})
	return 0
}

func ctxMove(L *lua.LState) int {
	c := checkContext(L, CapMove)
	dx, dy := int32(L.CheckInt(2)), int32(L.CheckInt(3))
	if dx == 0 && dy == 0 {
		L.ArgError(2, "move needs a direction")
	}
	h := world.Pos{}.HeadingTo(world.Pos{X: dx, Y: dy})
	c.push(L, Effect{Kind: EffectMove, Heading: h})
	return 0
}

func ctxAttack(L *lua.LState) int {
	c := checkContext(L, CapAttack)
	target := world.EntityID(L.CheckNumber(2))
	if target == c.self || !c.reaches(target) {
		c.deny(L, fmt.Errorf("attack target %d out of reach", target))
	}
	c.push(L, Effect{Kind: EffectAttack, Target: target})
	return 0
}

func ctxSpawn(L *lua.LState) int {
	c := checkContext(L, CapSpawn)
	template := uint32(L.CheckInt(2))
	pos := world.Pos{X: int32(L.CheckInt(3)), Y: int32(L.CheckInt(4))}
	if c.spawns >= c.limits.MaxSpawns {
		c.deny(L, fmt.Errorf("more than %d spawns in one call", c.limits.MaxSpawns))
	}
	if self, ok := c.selfEntity(); !ok || self.Pos.Dist(pos) > MaxNearbyRange {
		c.deny(L, fmt.Errorf("spawn at %d,%d out of reach", pos.X, pos.Y))
	}
	c.spawns++
	c.push(L, Effect{Kind: EffectSpawn, Template: template, Pos: pos})
	return 0
}

func ctxDialogue(L *lua.LState) int {
	c := checkContext(L, CapDialogue)
	text := L.CheckString(2)
	var opts []string
	if t, ok := L.Get(3).(*lua.LTable); ok {
		n := t.Len()
		for i := 1; i <= n && i <= 255; i++ {
			opts = append(opts, lua.LVAsString(t.RawGetInt(i)))
		}
	}
	c.push(L, Effect{Kind: EffectDialogue, Target: c.target, Text: text, Options: opts})
	return 0
}

func ctxOption(L *lua.LState) int {
	c := checkContext(L, CapDialogue)
	L.Push(lua.LString(c.option))
	return 1
}
