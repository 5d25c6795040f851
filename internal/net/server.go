package net

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/l1jgo/realm/internal/faultlog"
	"github.com/l1jgo/realm/internal/net/packet"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ServerOptions configures admission.
type ServerOptions struct {
	MaxConnections   int
	AcceptRate       float64 // per second; 0 = unlimited
	AcceptBurst      int
	HandshakeTimeout time.Duration
	ProtocolVersion  uint16
	TickRate         time.Duration // advertised in HelloAck
	Session          SessionOptions
}

// Server accepts TCP connections, runs the handshake and creates Sessions.
// Admitted sessions are handed to the tick goroutine via a channel.
type Server struct {
	listener net.Listener
	codec    *packet.Codec
	opts     ServerOptions
	tokens   *TokenVerifier
	limiter  *rate.Limiter

	nextID   atomic.Uint64
	active   atomic.Int64 // connections holding a slot (handshaking or admitted)
	newConns chan *Session

	faults  *faultlog.Log
	log     *zap.Logger
	closeCh chan struct{}
}

func NewServer(bindAddr string, codec *packet.Codec, opts ServerOptions, tokens *TokenVerifier, faults *faultlog.Log, log *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 5 * time.Second
	}
	s := &Server{
		listener: ln,
		codec:    codec,
		opts:     opts,
		tokens:   tokens,
		newConns: make(chan *Session, 256),
		faults:   faults,
		log:      log,
		closeCh:  make(chan struct{}),
	}
	if opts.AcceptRate > 0 {
		burst := opts.AcceptBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.AcceptRate), burst)
	}
	return s, nil
}

// AcceptLoop runs in its own goroutine. Connections beyond the ceiling or
// the accept rate are closed at once; the rest handshake concurrently.
func (s *Server) AcceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closeCh:
				return // server shutting down
			default:
			}
			s.log.Error("連線接受失敗", zap.Error(err))
			continue
		}

		if s.limiter != nil && !s.limiter.Allow() {
			s.log.Debug("連線速率超限，拒絕新連線", zap.String("ip", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}
		if s.active.Add(1) > int64(s.opts.MaxConnections) {
			s.active.Add(-1)
			s.log.Warn("連線數已達上限，拒絕新連線", zap.String("ip", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}

		go s.admit(conn)
	}
}

// admit performs the handshake and, on success, hands the session to the tick loop.
func (s *Server) admit(conn net.Conn) {
	sess, err := s.handshake(conn)
	if err != nil {
		s.active.Add(-1)
		conn.Close()
		s.log.Debug("握手失敗", zap.String("ip", conn.RemoteAddr().String()), zap.Error(err))
		return
	}

	sess.onClose = func() { s.active.Add(-1) }
	sess.Start()
	s.log.Info("連線已接受",
		zap.Uint64("session", sess.ID),
		zap.String("ip", sess.IP),
		zap.Stringer("state", sess.State()),
	)

	select {
	case s.newConns <- sess:
	case <-s.closeCh:
		sess.Close()
	default:
		s.log.Warn("連線佇列已滿，拒絕新連線", zap.Uint64("session", sess.ID))
		sess.Close()
	}
}

var (
	errVersionMismatch = errors.New("protocol version mismatch")
	errNotHello        = errors.New("first frame is not Hello")
)

func (s *Server) handshake(conn net.Conn) (*Session, error) {
	conn.SetDeadline(time.Now().Add(s.opts.HandshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	msg, err := ReadMessage(conn, s.codec)
	if err != nil {
		var fe *packet.FrameError
		if errors.As(err, &fe) {
			s.faults.Record(faultlog.Entry{Kind: faultlog.KindHandshake, Message: err.Error(),
				Attrs: map[string]string{"ip": conn.RemoteAddr().String()}})
		}
		return nil, fmt.Errorf("read hello: %w", err)
	}
	hello, ok := msg.(*packet.Hello)
	if !ok {
		s.reject(conn, packet.RejectProtocol)
		return nil, fmt.Errorf("%w: got %s", errNotHello, msg.Type())
	}
	if hello.Version != s.opts.ProtocolVersion {
		s.reject(conn, packet.RejectVersion)
		return nil, fmt.Errorf("%w: client %d, server %d", errVersionMismatch, hello.Version, s.opts.ProtocolVersion)
	}

	var account string
	if hello.Token != "" {
		if s.tokens == nil {
			s.reject(conn, packet.RejectToken)
			return nil, errors.New("pre-auth tokens disabled")
		}
		account, err = s.tokens.Verify(hello.Token)
		if err != nil {
			s.reject(conn, packet.RejectToken)
			return nil, err
		}
	}

	id := s.nextID.Add(1)
	sess := NewSession(conn, id, s.codec, s.opts.Session, s.faults, s.log)
	sess.Version = hello.Version
	if account != "" {
		sess.AccountName = account
		sess.SetState(packet.StateActive)
	}

	ack := &packet.HelloAck{
		SessionID:     id,
		TickMillis:    uint32(s.opts.TickRate / time.Millisecond),
		ServerTime:    time.Now().UnixMilli(),
		Authenticated: account != "",
	}
	if err := WriteMessage(conn, s.codec, ack); err != nil {
		return nil, fmt.Errorf("write hello ack: %w", err)
	}
	return sess, nil
}

func (s *Server) reject(conn net.Conn, reason byte) {
	_ = WriteMessage(conn, s.codec, &packet.HelloReject{Reason: reason, Expected: s.opts.ProtocolVersion})
}

// NewSessions returns the channel of admitted sessions.
func (s *Server) NewSessions() <-chan *Session {
	return s.newConns
}

// Active returns the number of connections holding an admission slot.
func (s *Server) Active() int {
	return int(s.active.Load())
}

// Shutdown stops accepting new connections.
func (s *Server) Shutdown() {
	close(s.closeCh)
	s.listener.Close()
}

// Addr returns the listener's address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
