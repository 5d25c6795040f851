package event

import "github.com/l1jgo/realm/internal/core/ecs"

// EntityDied is emitted when an entity's HP reaches zero.
type EntityDied struct {
	ID     ecs.EntityID
	Killer ecs.EntityID
}

// PlayerEntered is emitted once a character is bound to a session in-world.
type PlayerEntered struct {
	ID        ecs.EntityID
	SessionID uint64
	Character string
}

// PlayerLeft is emitted after a player entity is despawned on logout or disconnect.
// Snapshot holds the final state to persist.
type PlayerLeft struct {
	ID        ecs.EntityID
	SessionID uint64
	Character string
	Snapshot  []byte
}
