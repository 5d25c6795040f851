package scripting

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// APIVersion is the bridge surface scripts are written against, exposed to
// them as the API_VERSION global.
const APIVersion = 1

// Table is one immutable compiled script set. Each table owns a pool of
// Lua states with every chunk already run; a reload builds a new table and
// leaves the old one to finish its in-flight calls.
type Table struct {
	Version uint64
	Files   []string

	protos []*lua.FunctionProto

	mu      sync.Mutex
	pool    []*state
	size    int
	retired bool
}

// state is one pooled Lua state. cur is the context of the call it is
// serving; roots are the read-only tables that must stay raw-empty.
type state struct {
	L     *lua.LState
	cur   *Context
	roots []*lua.LTable
}

// compileDir compiles every .lua file under dir, in path order.
func compileDir(dir string) ([]string, []*lua.FunctionProto, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".lua" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("scan scripts %s: %w", dir, err)
	}
	sort.Strings(files)

	protos := make([]*lua.FunctionProto, 0, len(files))
	for _, path := range files {
		p, err := compileFile(path)
		if err != nil {
			return nil, nil, err
		}
		protos = append(protos, p)
	}
	return files, protos, nil
}

func compileFile(path string) (*lua.FunctionProto, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open script: %w", err)
	}
	defer f.Close()
	chunk, err := parse.Parse(bufio.NewReader(f), path)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	proto, err := lua.Compile(chunk, path)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", path, err)
	}
	return proto, nil
}

func newTable(version uint64, dir string, poolSize int) (*Table, error) {
	files, protos, err := compileDir(dir)
	if err != nil {
		return nil, err
	}
	if poolSize <= 0 {
		poolSize = 4
	}
	t := &Table{Version: version, Files: files, protos: protos, size: poolSize}

	// Run the chunks once now so a broken top level fails the load, not a call.
	st, err := t.newState()
	if err != nil {
		return nil, err
	}
	t.pool = append(t.pool, st)
	return t, nil
}

// Has reports whether the chunks define a global function named ref.
func (t *Table) Has(ref ScriptRef) bool {
	st, err := t.acquire()
	if err != nil {
		return false
	}
	defer t.release(st)
	return st.L.GetGlobal(string(ref)).Type() == lua.LTFunction
}

// Len is the number of compiled files.
func (t *Table) Len() int { return len(t.protos) }

// unsafeGlobals are stripped from the base library.
var unsafeGlobals = []string{
	"dofile", "loadfile", "load", "loadstring", "require", "module",
	"collectgarbage", "getfenv", "setfenv", "rawset", "_printregs", "print",
}

func newSandbox() *lua.LState {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		CallStackSize:       256,
		RegistrySize:        1024 * 16,
		IncludeGoStackTrace: false,
	})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range unsafeGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetGlobal("API_VERSION", lua.LNumber(APIVersion))
	registerContextType(L)
	return L
}

func (t *Table) newState() (*state, error) {
	L := newSandbox()
	for i, p := range t.protos {
		L.Push(L.NewFunctionFromProto(p))
		if err := L.PCall(0, lua.MultRet, nil); err != nil {
			L.Close()
			return nil, fmt.Errorf("run %s: %w", t.Files[i], err)
		}
		L.SetTop(0)
	}
	st := &state{L: L}
	st.freeze()
	return st, nil
}

// freeze makes the globals namespace and the standard libraries read-only
// once the chunks have run. Lookups fall through to private backing tables;
// a write from any script is a capability fault.
func (s *state) freeze() {
	L := s.L
	g := L.G.Global
	backing := L.NewTable()
	var keys []lua.LValue
	g.ForEach(func(k, v lua.LValue) {
		keys = append(keys, k)
		backing.RawSet(k, v)
	})
	for _, k := range keys {
		g.RawSet(k, lua.LNil)
	}
	for _, name := range []string{lua.TabLibName, lua.StringLibName, lua.MathLibName} {
		lib, ok := backing.RawGetString(name).(*lua.LTable)
		if !ok {
			continue
		}
		// the string library doubles as the string metatable
		lib.RawSetString("__index", lua.LNil)
		if name == lua.MathLibName {
			lib.RawSetString("randomseed", lua.LNil)
		}
		proxy := L.NewTable()
		s.guard(proxy, lib)
		backing.RawSetString(name, proxy)
	}
	s.guard(g, backing)

	smt := L.NewTable()
	smt.RawSetString("__index", backing.RawGetString(lua.StringLibName))
	smt.RawSetString("__metatable", lua.LString("locked"))
	L.SetMetatable(lua.LString(""), smt)
}

func (s *state) guard(t, backing *lua.LTable) {
	mt := s.L.NewTable()
	mt.RawSetString("__index", backing)
	mt.RawSetString("__newindex", s.L.NewFunction(s.denyWrite))
	mt.RawSetString("__metatable", lua.LString("locked"))
	s.L.SetMetatable(t, mt)
	s.roots = append(s.roots, t)
}

func (s *state) denyWrite(L *lua.LState) int {
	key := L.Get(2)
	if c := s.cur; c != nil && c.fault == nil {
		c.fault = &ScriptFault{
			Kind:   FaultCapability,
			Entity: c.self,
			Err:    fmt.Errorf("write to shared global %s", key),
		}
	}
	L.RaiseError("shared global %s is read-only", key)
	return 0
}

// clean reports whether no script has stored anything in the guarded tables
// (table.insert and friends write raw and skip __newindex).
func (s *state) clean() bool {
	for _, t := range s.roots {
		if k, _ := t.Next(lua.LNil); k != lua.LNil {
			return false
		}
	}
	return true
}

func (t *Table) acquire() (*state, error) {
	t.mu.Lock()
	if n := len(t.pool); n > 0 {
		st := t.pool[n-1]
		t.pool = t.pool[:n-1]
		t.mu.Unlock()
		return st, nil
	}
	t.mu.Unlock()
	return t.newState()
}

// release returns a clean state to the pool, or closes it when the pool
// is full, the table has been replaced, or a script left something behind
// in the shared tables.
func (t *Table) release(st *state) {
	st.cur = nil
	st.L.SetTop(0)
	if !st.clean() {
		st.L.Close()
		return
	}
	t.mu.Lock()
	if !t.retired && len(t.pool) < t.size {
		t.pool = append(t.pool, st)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	st.L.Close()
}

// retire closes pooled states. States still out on a call are closed
// when they come back.
func (t *Table) retire() {
	t.mu.Lock()
	pool := t.pool
	t.pool = nil
	t.retired = true
	t.mu.Unlock()
	for _, st := range pool {
		st.L.Close()
	}
}

func (t *Table) String() string {
	names := make([]string, len(t.Files))
	for i, f := range t.Files {
		names[i] = filepath.Base(f)
	}
	return fmt.Sprintf("v%d[%s]", t.Version, strings.Join(names, ","))
}
