package packet

import (
	"fmt"

	"go.uber.org/zap"
)

// Peer is the dispatcher's view of a session.
type Peer interface {
	State() SessionState
	Send(Message)
}

// HandlerFunc is the callback signature for message handlers. The peer is
// the concrete session type; handlers assert it to avoid an import cycle.
type HandlerFunc func(sess Peer, msg Message)

type handlerEntry struct {
	fn            HandlerFunc
	allowedStates map[SessionState]bool
}

// Registry maps message types to handlers with state-based access control.
// Registration happens once at startup; Dispatch is called only from the
// tick goroutine.
type Registry struct {
	handlers map[MsgType]*handlerEntry
	log      *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		handlers: make(map[MsgType]*handlerEntry),
		log:      log,
	}
}

// Register maps a message type to a handler, restricted to the given session states.
// Registering the same type twice panics.
func (reg *Registry) Register(t MsgType, states []SessionState, fn HandlerFunc) {
	if _, dup := reg.handlers[t]; dup {
		panic(fmt.Sprintf("packet: duplicate handler for %s", t))
	}
	allowed := make(map[SessionState]bool, len(states))
	for _, s := range states {
		allowed[s] = true
	}
	reg.handlers[t] = &handlerEntry{
		fn:            fn,
		allowedStates: allowed,
	}
}

// Registered reports whether t has a handler.
func (reg *Registry) Registered(t MsgType) bool {
	_, ok := reg.handlers[t]
	return ok
}

// Dispatch routes msg to its handler.
//
// An unregistered type is answered with a ProtocolError and returns nil: the
// session continues. A registered type in a disallowed state returns a
// *ProtocolStateError and the caller must close the session. A handler panic
// is recovered and returned as an error.
func (reg *Registry) Dispatch(sess Peer, msg Message) error {
	t := msg.Type()
	state := sess.State()

	entry, ok := reg.handlers[t]
	if !ok {
		reg.log.Warn("未知訊息類型",
			zap.Stringer("type", t),
			zap.Stringer("state", state),
		)
		sess.Send(&ProtocolError{
			Code:     ErrCodeUnknownType,
			Offender: t,
			Message:  "unsupported message type",
		})
		return nil
	}

	if !entry.allowedStates[state] {
		reg.log.Warn("訊息在此狀態下不允許",
			zap.Stringer("type", t),
			zap.Stringer("state", state),
		)
		return &ProtocolStateError{Type: t, State: state}
	}

	return reg.safeCall(entry.fn, sess, msg)
}

// safeCall executes a handler with panic recovery so a single bad message
// cannot take down the tick goroutine.
func (reg *Registry) safeCall(fn HandlerFunc, sess Peer, msg Message) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			reg.log.Error("處理器 panic 已恢復",
				zap.Stringer("type", msg.Type()),
				zap.Any("panic", rec),
			)
			err = &HandlerPanicError{Type: msg.Type(), Value: rec}
		}
	}()
	fn(sess, msg)
	return nil
}

// HandlerPanicError wraps a recovered handler panic.
type HandlerPanicError struct {
	Type  MsgType
	Value any
}

func (e *HandlerPanicError) Error() string {
	return fmt.Sprintf("handler panic for %s: %v", e.Type, e.Value)
}
