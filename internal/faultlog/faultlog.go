// Package faultlog is the operator-visible record of contained failures:
// frame errors, protocol-state violations, script faults, persistence
// failures and tick overruns. Each entry is logged, kept in a bounded ring
// for the admin endpoint, and optionally published to NATS.
package faultlog

import (
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Kind string

const (
	KindFrame         Kind = "frame"
	KindProtocolState Kind = "protocol_state"
	KindHandshake     Kind = "handshake"
	KindHandlerPanic  Kind = "handler_panic"
	KindScript        Kind = "script"
	KindPersistence   Kind = "persistence"
	KindTickOverrun   Kind = "tick_overrun"
	KindBackpressure  Kind = "backpressure"
)

type Entry struct {
	ID      string            `json:"id"`
	Time    time.Time         `json:"time"`
	Kind    Kind              `json:"kind"`
	Session uint64            `json:"session,omitempty"`
	Entity  uint64            `json:"entity,omitempty"`
	Key     string            `json:"key,omitempty"`
	Message string            `json:"message"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Log records faults. A nil *Log discards everything.
type Log struct {
	log *zap.Logger

	mu     sync.Mutex
	ring   []Entry
	next   int
	full   bool
	counts map[Kind]uint64

	pub     Publisher
	subject string
}

func New(log *zap.Logger, recent int) *Log {
	if recent <= 0 {
		recent = 256
	}
	return &Log{
		log:    log.Named("fault"),
		ring:   make([]Entry, recent),
		counts: make(map[Kind]uint64),
	}
}

// SetPublisher forwards every later entry to subject.<kind>.
func (l *Log) SetPublisher(p Publisher, subject string) {
	l.mu.Lock()
	l.pub = p
	l.subject = subject
	l.mu.Unlock()
}

// Record stamps and stores e. Safe for concurrent use.
func (l *Log) Record(e Entry) {
	if l == nil {
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	fields := []zap.Field{
		zap.String("id", e.ID),
		zap.String("kind", string(e.Kind)),
	}
	if e.Session != 0 {
		fields = append(fields, zap.Uint64("session", e.Session))
	}
	if e.Entity != 0 {
		fields = append(fields, zap.Uint64("entity", e.Entity))
	}
	if e.Key != "" {
		fields = append(fields, zap.String("key", e.Key))
	}
	for k, v := range e.Attrs {
		fields = append(fields, zap.String(k, v))
	}
	l.log.Warn(e.Message, fields...)

	l.mu.Lock()
	l.ring[l.next] = e
	l.next = (l.next + 1) % len(l.ring)
	if l.next == 0 {
		l.full = true
	}
	l.counts[e.Kind]++
	pub, subject := l.pub, l.subject
	l.mu.Unlock()

	if pub != nil {
		data, err := json.Marshal(e)
		if err != nil {
			l.log.Error("encode fault", zap.Error(err))
			return
		}
		if err := pub.Publish(fmt.Sprintf("%s.%s", subject, e.Kind), data); err != nil {
			l.log.Debug("publish fault", zap.Error(err))
		}
	}
}

// Fault records err under kind with an optional session/entity scope.
func (l *Log) Fault(kind Kind, session, entity uint64, err error) {
	l.Record(Entry{Kind: kind, Session: session, Entity: entity, Message: err.Error()})
}

// Recent returns the retained entries, oldest first.
func (l *Log) Recent() []Entry {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.full {
		return append([]Entry(nil), l.ring[:l.next]...)
	}
	out := make([]Entry, 0, len(l.ring))
	out = append(out, l.ring[l.next:]...)
	return append(out, l.ring[:l.next]...)
}

// Count returns how many entries of kind were recorded since start.
func (l *Log) Count(kind Kind) uint64 {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[kind]
}
