package system

import (
	"time"

	coresys "github.com/l1jgo/realm/internal/core/system"
	"github.com/l1jgo/realm/internal/net"
)

// HeartbeatSystem closes sessions that sent nothing for a full heartbeat
// window. Their entities are detached at the cleanup phase of the same
// tick. Phase 5 (PostUpdate).
type HeartbeatSystem struct {
	store  *net.SessionStore
	window time.Duration
	now    func() time.Time
}

func NewHeartbeatSystem(store *net.SessionStore, window time.Duration) *HeartbeatSystem {
	return &HeartbeatSystem{store: store, window: window, now: time.Now}
}

func (s *HeartbeatSystem) Phase() coresys.Phase { return coresys.PhasePostUpdate }

func (s *HeartbeatSystem) Update(uint64, time.Duration) {
	s.store.HeartbeatSweep(s.now(), s.window)
}
