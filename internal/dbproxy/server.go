package dbproxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	rnet "github.com/l1jgo/realm/internal/net"
	"github.com/l1jgo/realm/internal/net/packet"
	"go.uber.org/zap"
)

// Server is dbproxyd's listener. It executes each DbRequest against an
// Executor and answers on the same connection; requests on one
// connection may complete out of order.
type Server struct {
	exec    Executor
	codec   *packet.Codec
	timeout time.Duration
	log     *zap.Logger

	ln    net.Listener
	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func NewServer(exec Executor, codec *packet.Codec, timeout time.Duration, log *zap.Logger) *Server {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Server{
		exec:    exec,
		codec:   codec,
		timeout: timeout,
		log:     log.Named("dbproxy"),
		conns:   make(map[net.Conn]struct{}),
	}
}

// Listen binds addr. Use ":0" in tests and read Addr.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.ln = ln
	s.log.Info("persistence proxy listening", zap.String("addr", ln.Addr().String()))
	return nil
}

func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve accepts links until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
		s.CloseConnections()
	}()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go s.serveConn(ctx, conn)
	}
}

// CloseConnections drops every open link. Clients redial on next use.
func (s *Server) CloseConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	log := s.log.With(zap.String("peer", conn.RemoteAddr().String()))
	log.Info("realm linked")

	var writeMu sync.Mutex
	var reqs sync.WaitGroup
	defer func() {
		reqs.Wait()
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		log.Info("realm unlinked")
	}()

	for {
		msg, err := rnet.ReadMessage(conn, s.codec)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Debug("link read ended", zap.Error(err))
			}
			return
		}
		req, ok := msg.(*packet.DbRequest)
		if !ok {
			log.Warn("unexpected message on persistence link", zap.Stringer("type", msg.Type()))
			return
		}
		reqs.Add(1)
		go func() {
			defer reqs.Done()
			resp := s.handle(ctx, req)
			writeMu.Lock()
			defer writeMu.Unlock()
			conn.SetWriteDeadline(time.Now().Add(s.timeout))
			if err := rnet.WriteMessage(conn, s.codec, resp); err != nil {
				log.Debug("response dropped", zap.Error(err))
			}
		}()
	}
}

func (s *Server) handle(ctx context.Context, req *packet.DbRequest) *packet.DbResponse {
	cmd := Command{
		ID:      uuid.UUID(req.RequestID),
		Kind:    Kind(req.Kind),
		Table:   req.Table,
		Key:     req.Key,
		Payload: req.Payload,
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	payload, err := s.exec.Execute(cctx, cmd)
	resp := &packet.DbResponse{RequestID: req.RequestID, Status: encodeStatus(err), Payload: payload}
	if err != nil {
		resp.Error = err.Error()
		if !expected(err) {
			s.log.Warn("command failed", zap.Stringer("cmd", cmd), zap.Error(err))
		}
	}
	return resp
}
