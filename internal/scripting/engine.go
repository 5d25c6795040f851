package scripting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/l1jgo/realm/internal/faultlog"
	"github.com/l1jgo/realm/internal/world"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// ScriptRef names a global function defined by the loaded scripts.
type ScriptRef string

// Result is what a successful call produced.
type Result struct {
	Effects []Effect
	Version uint64
}

type Options struct {
	Dir         string
	CallTimeout time.Duration
	PoolSize    int // Lua states kept per table
	Limits      Limits
}

// Stats are cumulative counters since start.
type Stats struct {
	Invocations uint64
	Faults      uint64
	Reloads     uint64
}

// Engine is the script bridge. Invoke is safe for concurrent use; each
// call borrows its own Lua state from the current table.
type Engine struct {
	opts   Options
	table  atomic.Pointer[Table]
	faults *faultlog.Log
	log    *zap.Logger

	reloadMu sync.Mutex
	version  uint64

	invocations atomic.Uint64
	faultCount  atomic.Uint64
	reloads     atomic.Uint64
}

// NewEngine compiles every script under opts.Dir.
func NewEngine(opts Options, faults *faultlog.Log, log *zap.Logger) (*Engine, error) {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 50 * time.Millisecond
	}
	opts.Limits = opts.Limits.orDefault()
	e := &Engine{opts: opts, faults: faults, log: log.Named("script")}
	if _, err := e.Reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload compiles the script directory into a new table and makes it the
// one later calls use. Calls already running finish against the old table.
// On error the current table stays in place.
func (e *Engine) Reload() (uint64, error) {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	t, err := newTable(e.version+1, e.opts.Dir, e.opts.PoolSize)
	if err != nil {
		return e.version, fmt.Errorf("load scripts: %w", err)
	}
	e.version = t.Version
	if old := e.table.Swap(t); old != nil {
		old.retire()
	}
	e.reloads.Add(1)
	e.log.Info("scripts loaded", zap.Uint64("version", t.Version), zap.Int("files", t.Len()))
	return t.Version, nil
}

// Version is the current table version.
func (e *Engine) Version() uint64 {
	return e.table.Load().Version
}

// Has reports whether the current table defines ref.
func (e *Engine) Has(ref ScriptRef) bool {
	return e.table.Load().Has(ref)
}

func (e *Engine) Stats() Stats {
	return Stats{
		Invocations: e.invocations.Load(),
		Faults:      e.faultCount.Load(),
		Reloads:     e.reloads.Load(),
	}
}

// Invoke calls ref with c as its only argument. On any failure the
// context's buffered effects are discarded and a *ScriptFault is returned
// and recorded; the caller skips the entity's action.
func (e *Engine) Invoke(ctx context.Context, ref ScriptRef, c *Context) (Result, error) {
	var version uint64
	err := e.call(ctx, ref, c, &version, func(L *lua.LState) []lua.LValue {
		return []lua.LValue{c.bind(L)}
	}, nil)
	if err != nil {
		return Result{Version: version}, err
	}
	return Result{Effects: c.effects, Version: version}, nil
}

// MeleeResult is the outcome of the calc_melee formula hook.
type MeleeResult struct {
	Hit    bool
	Damage int32
}

// ErrNoFormula means the loaded scripts do not override the formula.
var ErrNoFormula = errors.New("formula not defined")

const meleeFormula ScriptRef = "calc_melee"

// CalcMelee runs the optional calc_melee(attacker, target) hook. It returns
// ErrNoFormula when scripts do not define it and a *ScriptFault when it
// fails; either way the caller falls back to the built-in formula.
func (e *Engine) CalcMelee(ctx context.Context, attacker, target world.Entity) (MeleeResult, error) {
	if !e.Has(meleeFormula) {
		return MeleeResult{}, ErrNoFormula
	}
	c := NewContext(KindFormula, attacker.ID, nil)
	var out MeleeResult
	var version uint64
	err := e.call(ctx, meleeFormula, c, &version, func(L *lua.LState) []lua.LValue {
		return []lua.LValue{entityTable(L, &attacker), entityTable(L, &target)}
	}, func(ret lua.LValue) error {
		switch v := ret.(type) {
		case lua.LNumber:
			out = MeleeResult{Hit: v > 0, Damage: int32(v)}
		case *lua.LTable:
			dmg, ok := v.RawGetString("damage").(lua.LNumber)
			if !ok {
				return fmt.Errorf("damage is %s, want number", v.RawGetString("damage").Type())
			}
			out = MeleeResult{Hit: lua.LVAsBool(v.RawGetString("hit")), Damage: int32(dmg)}
		default:
			return fmt.Errorf("returned %s, want table or number", ret.Type())
		}
		if out.Damage < 0 {
			return fmt.Errorf("negative damage %d", out.Damage)
		}
		return nil
	})
	return out, err
}

func (e *Engine) call(ctx context.Context, ref ScriptRef, c *Context, version *uint64,
	args func(*lua.LState) []lua.LValue, decode func(lua.LValue) error) error {
	e.invocations.Add(1)
	t := e.table.Load()
	*version = t.Version
	c.limits = e.opts.Limits

	fail := func(kind FaultKind, cause error) error {
		c.invalidate(false)
		f := &ScriptFault{Kind: kind, Script: ref, Entity: c.self, Version: t.Version, Err: cause}
		e.recordFault(f)
		return f
	}

	st, lerr := t.acquire()
	if lerr != nil {
		return fail(FaultRuntime, lerr)
	}
	L := st.L
	st.cur = c
	healthy := false
	defer func() {
		if healthy {
			t.release(st)
		} else {
			L.Close()
		}
	}()

	fn := L.GetGlobal(string(ref))
	if fn.Type() != lua.LTFunction {
		healthy = true
		return fail(FaultMissing, fmt.Errorf("%s is %s", ref, fn.Type()))
	}

	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()
	L.SetContext(callCtx)
	defer L.RemoveContext()

	callErr := e.protect(func() error {
		return L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args(L)...)
	})
	switch {
	case c.fault != nil:
		f := c.fault
		f.Script, f.Version = ref, t.Version
		c.invalidate(false)
		e.recordFault(f)
		return f
	case callErr != nil && callCtx.Err() != nil:
		return fail(FaultTimeout, fmt.Errorf("exceeded %s: %w", e.opts.CallTimeout, callErr))
	case callErr != nil:
		return fail(FaultRuntime, callErr)
	}

	ret := L.Get(-1)
	L.Pop(1)
	healthy = true
	if decode != nil {
		if derr := decode(ret); derr != nil {
			return fail(FaultBadResult, derr)
		}
	}
	c.invalidate(true)
	return nil
}

// protect turns a Go panic escaping the VM into an error.
func (e *Engine) protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func (e *Engine) recordFault(f *ScriptFault) {
	e.faultCount.Add(1)
	e.faults.Record(faultlog.Entry{
		Kind:    faultlog.KindScript,
		Entity:  uint64(f.Entity),
		Key:     string(f.Script),
		Message: f.Error(),
		Attrs: map[string]string{
			"fault":   f.Kind.String(),
			"version": fmt.Sprint(f.Version),
		},
	})
}

// Close releases the current table's Lua states.
func (e *Engine) Close() {
	if t := e.table.Load(); t != nil {
		t.retire()
	}
}
