package scripting

import (
	"fmt"

	"github.com/l1jgo/realm/internal/world"
)

// FaultKind classifies a failed script invocation.
type FaultKind int

const (
	FaultRuntime    FaultKind = iota + 1 // script raised an error
	FaultTimeout                         // call deadline exceeded
	FaultCapability                      // capability not granted for this script kind
	FaultMissing                         // no such function in the loaded table
	FaultBadResult                       // function returned an unusable value
)

func (k FaultKind) String() string {
	switch k {
	case FaultRuntime:
		return "runtime"
	case FaultTimeout:
		return "timeout"
	case FaultCapability:
		return "capability"
	case FaultMissing:
		return "missing"
	case FaultBadResult:
		return "bad_result"
	}
	return fmt.Sprintf("fault(%d)", int(k))
}

// ScriptFault is returned by every failed invocation. It is scoped to one
// entity for one tick.
type ScriptFault struct {
	Kind    FaultKind
	Script  ScriptRef
	Entity  world.EntityID
	Version uint64 // script table the call ran against
	Err     error
}

func (f *ScriptFault) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("script %s: %s fault (entity %d)", f.Script, f.Kind, f.Entity)
	}
	return fmt.Sprintf("script %s: %s fault (entity %d): %v", f.Script, f.Kind, f.Entity, f.Err)
}

func (f *ScriptFault) Unwrap() error { return f.Err }
