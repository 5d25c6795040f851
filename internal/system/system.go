// Package system holds the tick systems that run the world. All of them
// run on the tick goroutine, in phase order, once per tick.
package system

import (
	"time"

	coresys "github.com/l1jgo/realm/internal/core/system"
	"github.com/l1jgo/realm/internal/handler"
	"github.com/l1jgo/realm/internal/net/packet"
)

// Set is every registered system, for callers that need one directly.
type Set struct {
	Input      *InputSystem
	Structural *StructuralSystem
	Buffs      *BuffTickSystem
	Regen      *RegenSystem
	Respawn    *RespawnSystem
	AI         *AISystem
	Resolve    *ResolveSystem
	Heartbeat  *HeartbeatSystem
	Output     *OutputSystem
	Persist    *PersistenceSystem
	Cleanup    *CleanupSystem
	Death      *DeathHandler
}

// Register builds the full system set over deps and registers it with r.
func Register(r *coresys.Runner, source SessionSource, reg *packet.Registry, deps *handler.Deps) *Set {
	seed := time.Now().UnixNano()
	s := &Set{
		Input:      NewInputSystem(source, reg, deps),
		Structural: NewStructuralSystem(deps.World, deps.Bus, deps.Log),
		Buffs:      NewBuffTickSystem(deps.World),
		Regen:      NewRegenSystem(deps),
		Respawn:    NewRespawnSystem(deps, seed),
		AI:         NewAISystem(deps),
		Resolve:    NewResolveSystem(deps),
		Heartbeat:  NewHeartbeatSystem(deps.Sessions, deps.Config.Network.HeartbeatWindow),
		Output:     NewOutputSystem(deps),
		Persist:    NewPersistenceSystem(deps),
		Cleanup:    NewCleanupSystem(deps),
		Death:      NewDeathHandler(deps, seed+1),
	}
	for _, sys := range []coresys.System{
		s.Input, s.Structural, s.Buffs, s.Regen, s.Respawn, s.AI,
		s.Resolve, s.Heartbeat, s.Output, s.Persist, s.Cleanup,
	} {
		r.Register(sys)
	}
	return s
}
