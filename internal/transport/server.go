package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"chordkv/internal/netaddr"
)

// Handler serves the eight RPCs of the wire protocol against a peer's
// ring/store state. RingEngine implements this interface; Server never
// needs to import it to be wired against it (structural typing).
type Handler interface {
	HandleStoreKey(ctx context.Context, key, value string) (status, message string)
	HandleRetrieveKey(ctx context.Context, key string) (status, value, message string)
	HandleDeleteKey(ctx context.Context, key string) (status, message string)
	HandleFindSuccessor(ctx context.Context, id uint64) netaddr.Address
	HandleGetPredecessor(ctx context.Context) *netaddr.Address
	HandleGetSuccessorList(ctx context.Context) []netaddr.Address
	HandleNotify(ctx context.Context, candidate netaddr.Address) (status string, old *netaddr.Address)
	HandlePing(ctx context.Context) string
}

// Server accepts raw TCP connections, each carrying one JSON request and
// one JSON response, bounded to MaxConcurrentHandlers in flight.
type Server struct {
	addr     netaddr.Address
	handler  Handler
	sem      *semaphore.Weighted
	deadline time.Duration
	logger   *slog.Logger

	mu sync.Mutex
	ln net.Listener
}

// NewServer builds a Server. maxConcurrent bounds in-flight handlers;
// connections beyond that are closed immediately with no response.
// handlerDeadline bounds how long a single request/response exchange,
// including any handler work, may take.
func NewServer(addr netaddr.Address, handler Handler, maxConcurrent int64, handlerDeadline time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:     addr,
		handler:  handler,
		sem:      semaphore.NewWeighted(maxConcurrent),
		deadline: handlerDeadline,
		logger:   logger,
	}
}

// ListenAndServe binds the listener and serves until ctx is canceled or
// a non-temporary accept error occurs.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr.String())
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				continue
			}
			return fmt.Errorf("transport: accept: %w", err)
		}

		if !s.sem.TryAcquire(1) {
			s.logger.Warn("handler pool full, dropping connection", "remote", conn.RemoteAddr())
			conn.Close()
			continue
		}

		go func() {
			defer s.sem.Release(1)
			s.handle(ctx, conn)
		}()
	}
}

// Close closes the listener, unblocking Accept.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(s.deadline))

	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		return
	}

	var req Request
	if err := json.Unmarshal(buf[:n], &req); err != nil {
		writeJSON(conn, ErrorResponse{Status: "error", Message: msgInvalidCommand})
		return
	}

	reqCtx, cancel := context.WithDeadline(ctx, time.Now().Add(s.deadline))
	defer cancel()

	writeJSON(conn, s.dispatch(reqCtx, req))
}

func (s *Server) dispatch(ctx context.Context, req Request) any {
	switch req.Command {
	case CmdStoreKey:
		status, msg := s.handler.HandleStoreKey(ctx, req.Key, req.Value)
		return StoreKeyResponse{Status: status, Message: msg}

	case CmdRetrieveKey:
		status, value, msg := s.handler.HandleRetrieveKey(ctx, req.Key)
		return RetrieveKeyResponse{Status: status, Value: value, Message: msg}

	case CmdDeleteKey:
		status, msg := s.handler.HandleDeleteKey(ctx, req.Key)
		return DeleteKeyResponse{Status: status, Message: msg}

	case CmdFindSuccessor:
		succ := s.handler.HandleFindSuccessor(ctx, req.ID)
		return FindSuccessorResponse{Successor: succ}

	case CmdGetPredecessor:
		pred := s.handler.HandleGetPredecessor(ctx)
		return GetPredecessorResponse{Predecessor: pred}

	case CmdGetSuccessorList:
		list := s.handler.HandleGetSuccessorList(ctx)
		if list == nil {
			list = []netaddr.Address{}
		}
		return GetSuccessorListResponse{SuccessorList: list}

	case CmdNotify:
		if req.Predecessor == nil {
			return ErrorResponse{Status: "error", Message: msgInvalidCommand}
		}
		status, old := s.handler.HandleNotify(ctx, *req.Predecessor)
		return NotifyResponse{Status: status, OldPredecessor: old}

	case CmdPing:
		return PingResponse{Status: s.handler.HandlePing(ctx)}

	default:
		return ErrorResponse{Status: "error", Message: msgInvalidCommand}
	}
}

func writeJSON(conn net.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = conn.Write(data)
}
