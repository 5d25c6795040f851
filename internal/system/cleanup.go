package system

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/l1jgo/realm/internal/core/event"
	coresys "github.com/l1jgo/realm/internal/core/system"
	"github.com/l1jgo/realm/internal/handler"
	"github.com/l1jgo/realm/internal/world"
	"go.uber.org/zap"
)

// CleanupSystem detaches closing sessions from the world and releases the
// ids of entities despawned this tick. Phase 8 (Cleanup).
//
// A closing session's character gets a final save, its pets and its
// entity are despawned, and PlayerLeft is emitted with the saved snapshot.
// Only then is the session marked Closed and dropped from the store.
type CleanupSystem struct {
	deps *handler.Deps
}

func NewCleanupSystem(deps *handler.Deps) *CleanupSystem {
	return &CleanupSystem{deps: deps}
}

func (s *CleanupSystem) Phase() coresys.Phase { return coresys.PhaseCleanup }

func (s *CleanupSystem) Update(uint64, time.Duration) {
	for _, sess := range s.deps.Sessions.Closing() {
		if sess.EntityID != 0 {
			s.detach(sess.ID, world.EntityID(sess.EntityID))
			sess.EntityID = 0
		}
		s.deps.Sessions.Remove(sess.ID)
		sess.MarkClosed()
	}
	s.deps.World.ReleaseDespawned()
}

func (s *CleanupSystem) detach(sessionID uint64, id world.EntityID) {
	ws := s.deps.World
	cs, _, err := ws.CharacterState(id)
	if err != nil {
		s.deps.Log.Warn("斷線時無角色狀態", zap.Uint64("entity", uint64(id)), zap.Error(err))
		ws.Despawn(id)
		return
	}
	handler.SaveState(s.deps, cs)

	for _, pid := range ws.IDs(world.KindPet) {
		if pet, ok := ws.Pet(pid); ok && pet.Owner == id {
			ws.Despawn(pid)
		}
	}
	if err := ws.Despawn(id); err != nil {
		s.deps.Log.Warn("斷線移除實體失敗", zap.String("character", cs.Name), zap.Error(err))
	}

	snapshot, err := json.Marshal(cs)
	if err != nil {
		s.deps.Log.Error("編碼角色快照失敗", zap.String("character", cs.Name), zap.Error(err))
	}
	event.Emit(s.deps.Bus, event.PlayerLeft{
		ID:        id,
		SessionID: sessionID,
		Character: cs.Name,
		Snapshot:  snapshot,
	})
	s.deps.Log.Info("離開世界",
		zap.Uint64("session", sessionID),
		zap.String("character", cs.Name),
	)
}
