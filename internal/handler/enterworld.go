package handler

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/l1jgo/realm/internal/core/event"
	"github.com/l1jgo/realm/internal/dbproxy"
	"github.com/l1jgo/realm/internal/net"
	"github.com/l1jgo/realm/internal/net/packet"
	"github.com/l1jgo/realm/internal/world"
	"go.uber.org/zap"
)

const maxCharacterName = 16

// HandleEnterWorld loads the named character through the command queue and
// spawns it when the load completes. A character that does not exist yet
// is created for the session's account.
func HandleEnterWorld(sess *net.Session, msg *packet.EnterWorld, deps *Deps) {
	if sess.Pending || sess.EntityID != 0 {
		sendEnterResult(sess, packet.EnterBusy)
		return
	}
	name := strings.TrimSpace(msg.Character)
	if name == "" || utf8.RuneCountInString(name) > maxCharacterName {
		sendEnterResult(sess, packet.EnterNoCharacter)
		return
	}
	if _, online := deps.World.PlayerByCharacter(name); online {
		sendEnterResult(sess, packet.EnterBusy)
		return
	}

	sess.Pending = true
	deps.DB.EnqueueThen(dbproxy.Command{
		Table: dbproxy.TableCharacters,
		Key:   name,
		Kind:  dbproxy.KindQuery,
	}, func(res dbproxy.Result, err error) {
		characterLoaded(sess, name, res, err, deps)
	})
}

// characterLoaded runs on the tick goroutine.
func characterLoaded(sess *net.Session, name string, res dbproxy.Result, err error, deps *Deps) {
	if sess.IsClosed() {
		sess.Pending = false
		return
	}
	switch {
	case errors.Is(err, dbproxy.ErrNotFound):
		createCharacter(sess, name, deps)
		return
	case err != nil:
		sess.Pending = false
		sess.Log().Warn("進入世界: 載入角色失敗", zap.String("character", name), zap.Error(err))
		sendEnterResult(sess, packet.EnterFailed)
		return
	}

	sess.Pending = false
	var cs world.CharacterState
	if err := json.Unmarshal(res.Payload, &cs); err != nil {
		sess.Log().Error("進入世界: 解碼角色失敗", zap.String("character", name), zap.Error(err))
		sendEnterResult(sess, packet.EnterFailed)
		return
	}
	if cs.Account != sess.AccountName {
		sess.Log().Warn("進入世界: 帳號不符",
			zap.String("character", name), zap.String("owner", cs.Account))
		sendEnterResult(sess, packet.EnterNotOwner)
		return
	}
	spawnCharacter(sess, cs, deps)
}

func createCharacter(sess *net.Session, name string, deps *Deps) {
	cs := NewCharacter(name, sess.AccountName, deps)
	payload, err := json.Marshal(cs)
	if err != nil {
		sess.Pending = false
		sendEnterResult(sess, packet.EnterFailed)
		return
	}
	deps.DB.EnqueueThen(dbproxy.Command{
		Table:   dbproxy.TableCharacters,
		Key:     name,
		Kind:    dbproxy.KindCreate,
		Payload: payload,
	}, func(_ dbproxy.Result, err error) {
		sess.Pending = false
		if sess.IsClosed() {
			return
		}
		switch {
		case errors.Is(err, dbproxy.ErrConflict):
			sendEnterResult(sess, packet.EnterNotOwner)
		case err != nil:
			sess.Log().Warn("進入世界: 建立角色失敗", zap.String("character", name), zap.Error(err))
			sendEnterResult(sess, packet.EnterFailed)
		default:
			sess.Log().Info("進入世界: 角色已建立", zap.String("character", name))
			spawnCharacter(sess, cs, deps)
		}
	})
}

// NewCharacter is a fresh level-one character at the start zone's spawn point.
func NewCharacter(name, account string, deps *Deps) world.CharacterState {
	base := deps.Data.Templates.Player
	z := deps.Data.Zones.Get(base.Zone)
	return world.CharacterState{
		Name:    name,
		Account: account,
		Zone:    world.ZoneID(base.Zone),
		X:       z.SpawnX,
		Y:       z.SpawnY,
		Heading: 4,
		Level:   base.Level,
		HP:      base.HP,
		MaxHP:   base.HP,
		MP:      base.MP,
		MaxMP:   base.MP,
	}
}

// spawnCharacter places cs in the world and binds it to sess. A position
// that no longer fits the zone topology, or a dead character, comes back
// at the zone's spawn point.
func spawnCharacter(sess *net.Session, cs world.CharacterState, deps *Deps) {
	if _, online := deps.World.PlayerByCharacter(cs.Name); online {
		sendEnterResult(sess, packet.EnterBusy)
		return
	}
	z, ok := deps.World.Zone(cs.Zone)
	if !ok {
		base := deps.Data.Templates.Player
		cs.Zone = world.ZoneID(base.Zone)
		z, _ = deps.World.Zone(cs.Zone)
	}
	if !z.Bounds.Contains(world.Pos{X: cs.X, Y: cs.Y}) || cs.HP <= 0 {
		cs.X, cs.Y = z.Spawn.X, z.Spawn.Y
	}
	if cs.HP <= 0 {
		cs.HP = cs.MaxHP
	}

	spec := world.PlayerSpec(cs, sess.ID, deps.Data.Templates.Player.Stats(), deps.World.Tick())
	id, err := deps.World.Spawn(spec)
	if err != nil {
		sess.Log().Error("進入世界: 生成角色失敗", zap.String("character", cs.Name), zap.Error(err))
		sendEnterResult(sess, packet.EnterFailed)
		return
	}
	sess.EntityID = uint64(id)
	sess.CharName = cs.Name

	e, _ := deps.World.Get(id)
	sess.Send(&packet.EnterWorldResult{
		Code:     packet.EnterOK,
		EntityID: uint64(id),
		Zone:     uint32(e.Zone),
		X:        e.Pos.X,
		Y:        e.Pos.Y,
		HP:       e.HP,
		MaxHP:    e.MaxHP,
		MP:       e.MP,
		MaxMP:    e.MaxMP,
		Level:    e.Level,
	})
	event.Emit(deps.Bus, event.PlayerEntered{ID: id, SessionID: sess.ID, Character: cs.Name})
	sess.Log().Info("進入世界",
		zap.String("character", cs.Name),
		zap.Uint64("entity", uint64(id)),
		zap.Uint32("zone", uint32(e.Zone)),
	)
}

func sendEnterResult(sess *net.Session, code byte) {
	sess.Send(&packet.EnterWorldResult{Code: code})
}
