package handler

import (
	"github.com/goccy/go-json"
	"github.com/l1jgo/realm/internal/dbproxy"
	"github.com/l1jgo/realm/internal/world"
	"go.uber.org/zap"
)

// SaveCharacter enqueues a save of player id. The entity is marked clean
// only if nothing changed it between the snapshot and the completed write.
func SaveCharacter(deps *Deps, id world.EntityID) *dbproxy.Ticket {
	cs, version, err := deps.World.CharacterState(id)
	if err != nil {
		deps.Log.Debug("略過存檔", zap.Uint64("entity", uint64(id)), zap.Error(err))
		return nil
	}
	return saveState(deps, cs, func(err error) {
		if err == nil {
			deps.World.MarkClean(id, version)
		}
	})
}

// SaveState enqueues a save of a character that is no longer in the world.
func SaveState(deps *Deps, cs world.CharacterState) *dbproxy.Ticket {
	return saveState(deps, cs, nil)
}

func saveState(deps *Deps, cs world.CharacterState, done func(error)) *dbproxy.Ticket {
	payload, err := json.Marshal(cs)
	if err != nil {
		deps.Log.Error("編碼角色失敗", zap.String("character", cs.Name), zap.Error(err))
		return nil
	}
	cmd := dbproxy.Command{
		Table:   dbproxy.TableCharacters,
		Key:     cs.Name,
		Kind:    dbproxy.KindUpdate,
		Payload: payload,
	}
	return deps.DB.EnqueueThen(cmd, func(_ dbproxy.Result, err error) {
		if err != nil {
			deps.Log.Warn("存檔角色失敗", zap.String("character", cs.Name), zap.Error(err))
		}
		if done != nil {
			done(err)
		}
	})
}
