package system

import (
	"sort"
	"time"
)

// Runner executes systems in phase order each tick. Systems in the same
// phase run in registration order.
type Runner struct {
	systems []System
	sorted  bool
	timing  func(Phase, time.Duration)
}

func NewRunner() *Runner {
	return &Runner{
		systems: make([]System, 0, 16),
	}
}

func (r *Runner) Register(s System) {
	r.systems = append(r.systems, s)
	r.sorted = false
}

// OnPhaseTiming installs a hook that receives each phase's duration.
func (r *Runner) OnPhaseTiming(fn func(Phase, time.Duration)) {
	r.timing = fn
}

func (r *Runner) Tick(tick uint64, dt time.Duration) {
	r.ensureSorted()
	if r.timing == nil {
		for _, s := range r.systems {
			s.Update(tick, dt)
		}
		return
	}

	i := 0
	for i < len(r.systems) {
		phase := r.systems[i].Phase()
		start := time.Now()
		for ; i < len(r.systems) && r.systems[i].Phase() == phase; i++ {
			r.systems[i].Update(tick, dt)
		}
		r.timing(phase, time.Since(start))
	}
}

// TickPhase runs only the systems of one phase.
func (r *Runner) TickPhase(phase Phase, tick uint64, dt time.Duration) {
	r.ensureSorted()
	for _, s := range r.systems {
		if s.Phase() == phase {
			s.Update(tick, dt)
		}
	}
}

func (r *Runner) ensureSorted() {
	if !r.sorted {
		sort.SliceStable(r.systems, func(i, j int) bool {
			return r.systems[i].Phase() < r.systems[j].Phase()
		})
		r.sorted = true
	}
}
