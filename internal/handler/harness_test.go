package handler

import (
	"context"
	gonet "net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/l1jgo/realm/internal/config"
	"github.com/l1jgo/realm/internal/core/event"
	"github.com/l1jgo/realm/internal/data"
	"github.com/l1jgo/realm/internal/dbproxy"
	"github.com/l1jgo/realm/internal/faultlog"
	"github.com/l1jgo/realm/internal/net"
	"github.com/l1jgo/realm/internal/net/packet"
	"github.com/l1jgo/realm/internal/scripting"
	"github.com/l1jgo/realm/internal/world"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const fixtureZones = `zones:
  - id: 1
    name: field
    min_x: 0
    min_y: 0
    max_x: 99
    max_y: 99
    spawn_x: 50
    spawn_y: 50
`

const fixtureTemplates = `player:
  zone: 1
  level: 1
  hp: 100
  mp: 20
  attack: 8
  defense: 2
  reach: 1
templates:
  - id: 50001
    name: keeper
    kind: npc
    level: 10
    hp: 500
    dialogue: keeper_talk
`

const fixtureItems = `items:
  - id: 40010
    name: red potion
    heal: 30
    consumable: true
`

const fixtureScripts = `
function keeper_talk(ctx)
  local opt = ctx:option()
  if opt == "" then
    ctx:dialogue("Halt.", {"pass", "leave"})
  else
    ctx:dialogue("You chose " .. opt)
  end
end
`

type fixture struct {
	deps   *Deps
	mem    *dbproxy.Memory
	nextID uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zap.NewNop()
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		return path
	}
	dw, err := data.Load(data.Paths{
		Zones:     write("zones.yaml", fixtureZones),
		Templates: write("templates.yaml", fixtureTemplates),
		Spawns:    write("spawns.yaml", "spawns: []\n"),
		Items:     write("items.yaml", fixtureItems),
	})
	require.NoError(t, err)
	write("scripts/npc.lua", fixtureScripts)

	faults := faultlog.New(log, 16)
	wm := world.NewManager(dw.Zones.Zones(), log)
	eng, err := scripting.NewEngine(scripting.Options{Dir: filepath.Join(dir, "scripts"), CallTimeout: time.Second, PoolSize: 1}, faults, log)
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

	return &fixture{
		deps: &Deps{
			Config:   config.Defaults(),
			Log:      log,
			World:    wm,
			Sessions: net.NewSessionStore(),
			Scripts:  eng,
			DB:       q,
			Data:     dw,
			Bus:      event.NewBus(),
			Codec:    packet.DefaultCodec(),
			Faults:   faults,
		},
		mem:    mem,
		nextID: 1,
	}
}

func (f *fixture) session(t *testing.T, state packet.SessionState) *net.Session {
	t.Helper()
	server, client := gonet.Pipe()
	sess := net.NewSession(server, f.nextID, f.deps.Codec,
		net.SessionOptions{InQueueSize: 8, OutQueueSize: 64}, f.deps.Faults, zap.NewNop())
	f.nextID++
	sess.SetState(state)
	f.deps.Sessions.Add(sess)
	t.Cleanup(func() {
		client.Close()
		sess.Close()
	})
	return sess
}

// settle drains posted completions until cond holds, as the structural
// phase would.
func (f *fixture) settle(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		f.deps.World.DrainPending()
		return cond()
	}, 5*time.Second, 5*time.Millisecond)
}

// inWorld enters a fresh character named name and returns its session.
func (f *fixture) inWorld(t *testing.T, name string) (*net.Session, world.EntityID) {
	t.Helper()
	sess := f.session(t, packet.StateActive)
	f.deps.Sessions.BindAccount(sess, name)
	HandleEnterWorld(sess, &packet.EnterWorld{Character: name}, f.deps)
	f.settle(t, func() bool { return sess.EntityID != 0 })
	drain(t, sess)
	return sess, world.EntityID(sess.EntityID)
}

// drain flushes and decodes everything sent to sess so far.
func drain(t *testing.T, sess *net.Session) []packet.Message {
	t.Helper()
	sess.FlushOutput()
	var out []packet.Message
	for {
		select {
		case frame := <-sess.OutQueue:
			msg, err := packet.DefaultCodec().Unmarshal(frame)
			require.NoError(t, err)
			out = append(out, msg)
		default:
			return out
		}
	}
}
