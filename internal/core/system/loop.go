package system

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Overrun describes a tick that took longer than its period.
type Overrun struct {
	Tick   uint64
	Took   time.Duration
	Period time.Duration
}

// Loop drives a Runner at a fixed period. Tick numbers start at 1 and are
// strictly increasing. A tick that overruns is reported and the next tick
// starts immediately; the schedule then restarts from that moment, so a long
// stall yields one catch-up tick rather than a burst.
type Loop struct {
	runner *Runner
	period time.Duration
	tick   uint64
	log    *zap.Logger

	onOverrun  func(Overrun)
	onTick     func(tick uint64, took time.Duration)
	beforeTick func(tick uint64)
}

func NewLoop(runner *Runner, period time.Duration, log *zap.Logger) *Loop {
	return &Loop{runner: runner, period: period, log: log}
}

// OnOverrun installs the latency-fault hook.
func (l *Loop) OnOverrun(fn func(Overrun)) { l.onOverrun = fn }

// OnTick installs a hook called after every tick with its duration.
func (l *Loop) OnTick(fn func(tick uint64, took time.Duration)) { l.onTick = fn }

// BeforeTick installs a hook called with the tick number before systems run.
func (l *Loop) BeforeTick(fn func(tick uint64)) { l.beforeTick = fn }

// Current returns the last tick number run.
func (l *Loop) Current() uint64 { return l.tick }

// Step runs exactly one tick and returns its duration.
func (l *Loop) Step() time.Duration {
	l.tick++
	if l.beforeTick != nil {
		l.beforeTick(l.tick)
	}
	start := time.Now()
	l.runner.Tick(l.tick, l.period)
	took := time.Since(start)

	if l.onTick != nil {
		l.onTick(l.tick, took)
	}
	if took > l.period {
		l.log.Warn("tick 超時",
			zap.Uint64("tick", l.tick),
			zap.Duration("took", took),
			zap.Duration("period", l.period),
		)
		if l.onOverrun != nil {
			l.onOverrun(Overrun{Tick: l.tick, Took: took, Period: l.period})
		}
	}
	return took
}

// Run ticks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	timer := time.NewTimer(l.period)
	defer timer.Stop()
	next := time.Now().Add(l.period)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		l.Step()

		next = next.Add(l.period)
		now := time.Now()
		wait := next.Sub(now)
		if wait <= 0 {
			next = now
			wait = 0
		}
		timer.Reset(wait)
	}
}
