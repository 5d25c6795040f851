// Package dbproxy serializes persistence work. The realm enqueues
// Commands and keeps ticking; a worker pool executes them against an
// Executor (the TCP link to dbproxyd, or an in-process store) with
// per-key ordering, retries and a read-through cache for reference data.
package dbproxy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Well-known tables.
const (
	TableAccounts   = "accounts"
	TableCharacters = "characters"
	TableReference  = "reference"
)

// Kind is the operation a command performs.
type Kind byte

const (
	KindQuery Kind = iota + 1
	KindCreate
	KindUpdate
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindQuery:
		return "query"
	case KindCreate:
		return "create"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

// IsWrite reports whether k changes stored data.
func (k Kind) IsWrite() bool { return k == KindCreate || k == KindUpdate || k == KindDelete }

// Command is one unit of persistence work. ID is the idempotency key: a
// retried write carries the same ID and is applied at most once.
type Command struct {
	ID         uuid.UUID
	Key        string
	Table      string
	Kind       Kind
	Payload    []byte
	EnqueuedAt time.Time
	Retries    int
}

// Lane is the ordering key: commands sharing it run one at a time, in
// enqueue order.
func (c Command) Lane() string { return c.Table + "/" + c.Key }

func (c Command) String() string {
	return fmt.Sprintf("%s %s/%s (%s)", c.Kind, c.Table, c.Key, c.ID)
}

// Result is a completed command.
type Result struct {
	Payload  []byte
	Attempts int
	Cached   bool
}

// Executor runs a single attempt of a command.
type Executor interface {
	Execute(ctx context.Context, cmd Command) ([]byte, error)
}

var (
	ErrNotFound  = errors.New("record not found")
	ErrConflict  = errors.New("record already exists")
	ErrTransient = errors.New("transient persistence failure")
	ErrLinkDown  = errors.New("dbproxy link down")
	ErrClosed    = errors.New("command queue closed")
)

// TransientError is a failure worth retrying: a dropped link, a remote
// timeout, a pool exhausted for a moment.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string        { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error        { return e.Err }
func (e *TransientError) Is(target error) bool { return target == ErrTransient }

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}

// FatalError is a command that kept failing past the retry ceiling. The
// world keeps its in-memory state; only durability is lost.
type FatalError struct {
	Command  Command
	Attempts int
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Command, e.Attempts, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// expected errors are outcomes, not faults.
func expected(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict)
}
