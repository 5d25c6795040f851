package dbproxy

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Executor with the same command semantics as
// the PostgreSQL store. realmd uses it when no dbproxy address is
// configured; tests use its hooks to inject failures.
type Memory struct {
	mu      sync.Mutex
	tables  map[string]map[string][]byte
	applied map[uuid.UUID]struct{}
	fail    map[string][]error
	calls   []Command

	// Hook, when set, runs before every attempt. A non-nil error fails
	// the attempt without touching stored data.
	Hook func(ctx context.Context, cmd Command) error
}

func NewMemory() *Memory {
	return &Memory{
		tables:  make(map[string]map[string][]byte),
		applied: make(map[uuid.UUID]struct{}),
		fail:    make(map[string][]error),
	}
}

// FailNext makes the next len(errs) attempts on table/key fail in turn.
func (m *Memory) FailNext(table, key string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lane := table + "/" + key
	m.fail[lane] = append(m.fail[lane], errs...)
}

// Put seeds a row.
func (m *Memory) Put(table, key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.row(table)[key] = value
}

// Value reads a row directly.
func (m *Memory) Value(table, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.tables[table][key]
	return v, ok
}

// Calls returns every attempt seen, in order.
func (m *Memory) Calls() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Command(nil), m.calls...)
}

func (m *Memory) row(table string) map[string][]byte {
	t, ok := m.tables[table]
	if !ok {
		t = make(map[string][]byte)
		m.tables[table] = t
	}
	return t
}

func (m *Memory) Execute(ctx context.Context, cmd Command) ([]byte, error) {
	m.mu.Lock()
	m.calls = append(m.calls, cmd)
	hook := m.Hook
	var injected error
	if errs := m.fail[cmd.Lane()]; len(errs) > 0 {
		injected = errs[0]
		m.fail[cmd.Lane()] = errs[1:]
	}
	m.mu.Unlock()

	if injected != nil {
		return nil, injected
	}
	if hook != nil {
		if err := hook(ctx, cmd); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, Transient(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.row(cmd.Table)
	if cmd.Kind.IsWrite() {
		if _, dup := m.applied[cmd.ID]; dup {
			return nil, nil
		}
	}
	switch cmd.Kind {
	case KindQuery:
		v, ok := rows[cmd.Key]
		if !ok {
			return nil, fmt.Errorf("%s/%s: %w", cmd.Table, cmd.Key, ErrNotFound)
		}
		return v, nil
	case KindCreate:
		if _, ok := rows[cmd.Key]; ok {
			return nil, fmt.Errorf("%s/%s: %w", cmd.Table, cmd.Key, ErrConflict)
		}
		rows[cmd.Key] = cmd.Payload
	case KindUpdate:
		rows[cmd.Key] = cmd.Payload
	case KindDelete:
		delete(rows, cmd.Key)
	default:
		return nil, fmt.Errorf("unknown command kind %s", cmd.Kind)
	}
	m.applied[cmd.ID] = struct{}{}
	return nil, nil
}
