package system

import (
	"context"
	"fmt"
	"time"

	coresys "github.com/l1jgo/realm/internal/core/system"
	"github.com/l1jgo/realm/internal/dbproxy"
	"github.com/l1jgo/realm/internal/handler"
	"github.com/l1jgo/realm/internal/world"
	"go.uber.org/zap"
)

// PersistenceSystem enqueues a save for every dirty player each
// SaveInterval ticks. The tick never waits on the writes. Phase 7 (Persist).
type PersistenceSystem struct {
	deps     *handler.Deps
	interval uint64
}

func NewPersistenceSystem(deps *handler.Deps) *PersistenceSystem {
	interval := deps.Config.World.SaveInterval
	if interval <= 0 {
		interval = 1500
	}
	return &PersistenceSystem{deps: deps, interval: uint64(interval)}
}

func (s *PersistenceSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *PersistenceSystem) Update(tick uint64, _ time.Duration) {
	if tick%s.interval != 0 {
		return
	}
	dirty := s.deps.World.DirtyPlayers()
	for _, id := range dirty {
		handler.SaveCharacter(s.deps, id)
	}
	if len(dirty) > 0 {
		s.deps.Log.Debug("自動存檔", zap.Uint64("tick", tick), zap.Int("players", len(dirty)))
	}
}

// SaveAll saves every player in the world, dirty or not, and waits for the
// writes. Called once the tick loop has stopped, before the queue closes.
func (s *PersistenceSystem) SaveAll(ctx context.Context) error {
	ids := s.deps.World.IDs(world.KindPlayer)
	tickets := make([]*dbproxy.Ticket, 0, len(ids))
	for _, id := range ids {
		if t := handler.SaveCharacter(s.deps, id); t != nil {
			tickets = append(tickets, t)
		}
	}
	failed := 0
	for _, t := range tickets {
		if _, err := t.Await(ctx); err != nil {
			failed++
		}
	}
	s.deps.Log.Info("全部玩家已存檔", zap.Int("players", len(tickets)), zap.Int("failed", failed))
	if failed > 0 {
		return fmt.Errorf("save all: %d of %d saves failed", failed, len(tickets))
	}
	return nil
}
