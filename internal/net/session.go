package net

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/l1jgo/realm/internal/faultlog"
	"github.com/l1jgo/realm/internal/net/packet"
	"go.uber.org/zap"
)

// Inbound is one decoded client message tagged with its arrival sequence.
type Inbound struct {
	Seq uint64
	Msg packet.Message
}

// Process-wide frame totals for the metrics collector.
var (
	framesIn  atomic.Uint64
	framesOut atomic.Uint64
)

func FramesIn() uint64  { return framesIn.Load() }
func FramesOut() uint64 { return framesOut.Load() }

// SessionOptions sizes a session's queues and limits.
type SessionOptions struct {
	InQueueSize      int
	OutQueueSize     int
	PacketsPerSecond int // 0 = unlimited
	WriteTimeout     time.Duration
}

// Session represents a single client connection. Network I/O runs in
// dedicated goroutines; game state is accessed only from the tick goroutine.
type Session struct {
	ID      uint64
	Version uint16
	conn    net.Conn
	codec   *packet.Codec

	state atomic.Int32 // packet.SessionState

	InQueue  chan Inbound // tick goroutine reads decoded messages from here
	OutQueue chan []byte  // writer goroutine reads frames from here

	IP          string
	AccountName string
	CharName    string
	EntityID    uint64 // bound player entity; 0 until in-world (tick goroutine only)
	Pending     bool   // an async login/enter-world is outstanding (tick goroutine only)

	readSeq     uint64       // readLoop only
	lastSeq     uint64       // tick goroutine only
	lastInbound atomic.Int64 // unix nanos of the last decoded frame

	outBuf [][]byte // buffered frames, flushed by the output phase (tick goroutine only)

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
	onClose   func()

	// Per-second packet rate limiter (readLoop goroutine only, no lock needed)
	pktPerSec  int
	pktCount   int
	pktResetAt int64

	writeTimeout time.Duration
	faults       *faultlog.Log
	log          *zap.Logger
}

func NewSession(conn net.Conn, id uint64, codec *packet.Codec, opts SessionOptions, faults *faultlog.Log, log *zap.Logger) *Session {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	s := &Session{
		ID:           id,
		conn:         conn,
		codec:        codec,
		InQueue:      make(chan Inbound, opts.InQueueSize),
		OutQueue:     make(chan []byte, opts.OutQueueSize),
		IP:           conn.RemoteAddr().String(),
		closeCh:      make(chan struct{}),
		pktPerSec:    opts.PacketsPerSecond,
		writeTimeout: opts.WriteTimeout,
		faults:       faults,
		log:          log.With(zap.Uint64("session", id)),
	}
	s.state.Store(int32(packet.StateAuthenticating))
	s.lastInbound.Store(time.Now().UnixNano())
	return s
}

func (s *Session) State() packet.SessionState {
	return packet.SessionState(s.state.Load())
}

// SetState moves the session forward. Backward transitions are ignored so a
// late Active never resurrects a Closing session.
func (s *Session) SetState(st packet.SessionState) {
	for {
		cur := s.state.Load()
		if int32(st) <= cur {
			return
		}
		if s.state.CompareAndSwap(cur, int32(st)) {
			return
		}
	}
}

// Log returns the session-scoped logger.
func (s *Session) Log() *zap.Logger { return s.log }

// LastInbound is when the most recent frame was decoded.
func (s *Session) LastInbound() time.Time {
	return time.Unix(0, s.lastInbound.Load())
}

func (s *Session) touch(now time.Time) {
	s.lastInbound.Store(now.UnixNano())
}

// InOrder reports whether seq directly follows the last processed message
// and records it. Called by the tick goroutine for every drained message.
func (s *Session) InOrder(seq uint64) bool {
	if seq != s.lastSeq+1 {
		return false
	}
	s.lastSeq = seq
	return true
}

// Start launches the reader and writer goroutines.
func (s *Session) Start() {
	go s.readLoop()
	go s.writeLoop()
}

// Send encodes msg and buffers it. The frame is not written to TCP until
// FlushOutput is called by the output phase. Tick goroutine only.
func (s *Session) Send(msg packet.Message) {
	if s.closed.Load() {
		return
	}
	frame, err := s.codec.Marshal(msg)
	if err != nil {
		s.log.Error("編碼輸出封包失敗", zap.Stringer("type", msg.Type()), zap.Error(err))
		return
	}
	s.outBuf = append(s.outBuf, frame)
}

// SendFrame buffers an already-encoded frame (broadcasts encode once).
func (s *Session) SendFrame(frame []byte) {
	if s.closed.Load() {
		return
	}
	s.outBuf = append(s.outBuf, frame)
}

// Pending outbound frames not yet flushed.
func (s *Session) Buffered() int { return len(s.outBuf) }

// FlushOutput drains the output buffer to OutQueue for the writeLoop goroutine.
// Non-blocking: if OutQueue is full, the session is disconnected (backpressure).
func (s *Session) FlushOutput() {
	for _, frame := range s.outBuf {
		select {
		case s.OutQueue <- frame:
		default:
			s.log.Warn("輸出佇列已滿，斷開慢速連線")
			s.faults.Record(faultlog.Entry{
				Kind:    faultlog.KindBackpressure,
				Session: s.ID,
				Message: "output queue full",
			})
			s.Close()
			s.outBuf = s.outBuf[:0]
			return
		}
	}
	s.outBuf = s.outBuf[:0]
}

// Close moves the session to Closing, cancels pending outbound sends and
// closes the socket. The tick goroutine detaches it from the world at the
// next cleanup phase and marks it Closed.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.SetState(packet.StateClosing)
		close(s.closeCh)
		s.conn.Close()
		if s.onClose != nil {
			s.onClose()
		}
	})
}

// MarkClosed is the terminal transition, after the world has let go.
func (s *Session) MarkClosed() {
	s.Close()
	s.SetState(packet.StateClosed)
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// Done is closed when the session starts closing.
func (s *Session) Done() <-chan struct{} {
	return s.closeCh
}

// readLoop runs in its own goroutine. It reads frames, decodes them, and
// pushes them onto InQueue in arrival order for the tick goroutine.
func (s *Session) readLoop() {
	defer s.Close()

	maxFrame := s.codec.MaxFrame()
	for {
		frame, err := ReadFrame(s.conn, maxFrame)
		if err != nil {
			s.readFailed(err)
			return
		}
		msg, err := s.codec.Unmarshal(frame)
		if err != nil {
			s.readFailed(err)
			return
		}
		framesIn.Add(1)
		s.touch(time.Now())

		if s.pktPerSec > 0 {
			now := time.Now().Unix()
			if now != s.pktResetAt {
				s.pktCount = 0
				s.pktResetAt = now
			}
			s.pktCount++
			if s.pktCount > s.pktPerSec {
				s.log.Warn("封包速率超限，斷開連線", zap.Int("pps", s.pktCount))
				return
			}
		}

		s.log.Debug("收到封包", zap.Stringer("type", msg.Type()), zap.Int("len", len(frame)))

		// Block until InQueue has space or the session closes. Dropping here
		// would break per-session ordering.
		s.readSeq++
		select {
		case s.InQueue <- Inbound{Seq: s.readSeq, Msg: msg}:
		case <-s.closeCh:
			return
		}
	}
}

func (s *Session) readFailed(err error) {
	if s.closed.Load() {
		return
	}
	var fe *packet.FrameError
	if errors.As(err, &fe) {
		s.faults.Fault(faultlog.KindFrame, s.ID, 0, fe)
		return
	}
	s.log.Debug("讀取錯誤", zap.Error(err))
}

// writeLoop runs in its own goroutine and writes queued frames in order.
func (s *Session) writeLoop() {
	defer s.Close()

	for {
		select {
		case frame := <-s.OutQueue:
			if !s.writeOne(frame) {
				return
			}
		case <-s.closeCh:
			return
		}
	}
}

func (s *Session) writeOne(frame []byte) bool {
	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := WriteFrame(s.conn, frame); err != nil {
		if !s.closed.Load() {
			s.log.Debug("寫入錯誤", zap.Error(err))
		}
		return false
	}
	framesOut.Add(1)
	return true
}
