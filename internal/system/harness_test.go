package system

import (
	"context"
	gonet "net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/l1jgo/realm/internal/config"
	"github.com/l1jgo/realm/internal/core/event"
	coresys "github.com/l1jgo/realm/internal/core/system"
	"github.com/l1jgo/realm/internal/data"
	"github.com/l1jgo/realm/internal/dbproxy"
	"github.com/l1jgo/realm/internal/faultlog"
	"github.com/l1jgo/realm/internal/handler"
	"github.com/l1jgo/realm/internal/net"
	"github.com/l1jgo/realm/internal/net/packet"
	"github.com/l1jgo/realm/internal/scripting"
	"github.com/l1jgo/realm/internal/world"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testZones = `zones:
  - id: 1
    name: field
    min_x: 0
    min_y: 0
    max_x: 99
    max_y: 99
    spawn_x: 50
    spawn_y: 50
  - id: 2
    name: town
    min_x: 0
    min_y: 0
    max_x: 19
    max_y: 19
    spawn_x: 10
    spawn_y: 10
    safe: true
`

const testTemplates = `player:
  zone: 1
  level: 1
  hp: 100
  mp: 20
  attack: 8
  defense: 2
  reach: 1
templates:
  - id: 45001
    name: goblin
    kind: monster
    level: 3
    hp: 40
    attack: 6
    defense: 1
    reach: 1
    exp: 12
  - id: 50001
    name: keeper
    kind: npc
    level: 10
    hp: 500
`

const testItems = `items:
  - id: 40010
    name: red potion
    heal: 30
    consumable: true
`

type harness struct {
	deps   *handler.Deps
	mem    *dbproxy.Memory
	faults *faultlog.Log
	runner *coresys.Runner
	set    *Set
	tick   uint64
	nextID uint64
}

type harnessOpts struct {
	scripts map[string]string
	spawns  string
	drops   string
	portals string
	tweak   func(*config.Config)
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()
	log := zap.NewNop()
	dir := t.TempDir()

	spawns := opts.spawns
	if spawns == "" {
		spawns = "spawns: []\n"
	}
	var drops, portals string
	if opts.drops != "" {
		drops = writeFile(t, dir, "drops.yaml", opts.drops)
	}
	if opts.portals != "" {
		portals = writeFile(t, dir, "portals.yaml", opts.portals)
	}
	dw, err := data.Load(data.Paths{
		Zones:     writeFile(t, dir, "zones.yaml", testZones),
		Templates: writeFile(t, dir, "templates.yaml", testTemplates),
		Spawns:    writeFile(t, dir, "spawns.yaml", spawns),
		Items:     writeFile(t, dir, "items.yaml", testItems),
		Drops:     drops,
		Portals:   portals,
	})
	require.NoError(t, err)

	scriptDir := filepath.Join(dir, "scripts")
	require.NoError(t, os.MkdirAll(scriptDir, 0o755))
	for name, src := range opts.scripts {
		writeFile(t, scriptDir, name, src)
	}

	cfg := config.Defaults()
	cfg.World.RegenInterval = 1000
	cfg.World.SaveInterval = 1000
	cfg.World.CorpseTicks = 2
	if opts.tweak != nil {
		opts.tweak(cfg)
	}

	faults := faultlog.New(log, 64)
	wm := world.NewManager(dw.Zones.Zones(), log)
	eng, err := scripting.NewEngine(scripting.Options{Dir: scriptDir, CallTimeout: time.Second, PoolSize: 1}, faults, log)
	require.NoError(t, err)
	t.Cleanup(eng.Close)

	mem := dbproxy.NewMemory()
	q := dbproxy.NewQueue(mem, nil, dbproxy.Options{Workers: 2, BackoffBase: time.Millisecond}, wm, faults, log)
	q.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		q.Close(ctx)
	})

	deps := &handler.Deps{
		Config:   cfg,
		Log:      log,
		World:    wm,
		Sessions: net.NewSessionStore(),
		Scripts:  eng,
		DB:       q,
		Data:     dw,
		Bus:      event.NewBus(),
		Codec:    packet.DefaultCodec(),
		Faults:   faults,
	}
	reg := packet.NewRegistry(log)
	handler.RegisterAll(reg, deps)

	runner := coresys.NewRunner()
	set := Register(runner, nil, reg, deps)
	return &harness{deps: deps, mem: mem, faults: faults, runner: runner, set: set, nextID: 1}
}

func (h *harness) step() {
	h.tick++
	h.runner.Tick(h.tick, time.Millisecond)
}

func (h *harness) steps(n int) {
	for i := 0; i < n; i++ {
		h.step()
	}
}

// session adds an unstarted session; frames flushed to it stay in OutQueue.
func (h *harness) session(t *testing.T, state packet.SessionState) *net.Session {
	t.Helper()
	server, client := gonet.Pipe()
	sess := net.NewSession(server, h.nextID, h.deps.Codec,
		net.SessionOptions{InQueueSize: 16, OutQueueSize: 256}, h.faults, zap.NewNop())
	h.nextID++
	sess.SetState(state)
	h.deps.Sessions.Add(sess)
	t.Cleanup(func() {
		client.Close()
		sess.Close()
	})
	return sess
}

// player spawns a character bound to a fresh Active session.
func (h *harness) player(t *testing.T, name string, zone world.ZoneID, pos world.Pos) (*net.Session, world.EntityID) {
	t.Helper()
	sess := h.session(t, packet.StateActive)
	cs := world.CharacterState{
		Name: name, Account: name, Zone: zone, X: pos.X, Y: pos.Y,
		Level: 1, HP: 100, MaxHP: 100, MP: 20, MaxMP: 20,
	}
	id, err := h.deps.World.Spawn(world.PlayerSpec(cs, sess.ID, h.deps.Data.Templates.Player.Stats(), h.deps.World.Tick()))
	require.NoError(t, err)
	sess.EntityID = uint64(id)
	sess.CharName = name
	h.deps.Sessions.BindAccount(sess, name)
	return sess, id
}

func (h *harness) monster(t *testing.T, script string, zone world.ZoneID, pos world.Pos) world.EntityID {
	t.Helper()
	spec, err := h.deps.Data.Templates.Spec(45001, zone, pos, 0, -1)
	require.NoError(t, err)
	spec.Monster.Script = script
	id, err := h.deps.World.Spawn(spec)
	require.NoError(t, err)
	return id
}

func push(sess *net.Session, seq uint64, msg packet.Message) {
	sess.InQueue <- net.Inbound{Seq: seq, Msg: msg}
}

// received decodes every frame flushed to sess so far.
func received(t *testing.T, sess *net.Session) []packet.Message {
	t.Helper()
	codec := packet.DefaultCodec()
	var out []packet.Message
	for {
		select {
		case frame := <-sess.OutQueue:
			msg, err := codec.Unmarshal(frame)
			require.NoError(t, err)
			out = append(out, msg)
		default:
			return out
		}
	}
}

func entity(t *testing.T, h *harness, id world.EntityID) world.Entity {
	t.Helper()
	e, err := h.deps.World.Get(id)
	require.NoError(t, err)
	return e
}
