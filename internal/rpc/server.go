package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"
)

// Server dispatches incoming send/call requests by function name, using
// an explicit registry of name -> HandlerFunc rather than a dotted-path
// plug-in loader. A call to an unknown name gets a NotFound reply; a send to
// one is logged and dropped.
type Server struct {
	handlers map[string]HandlerFunc
	log      zerolog.Logger

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

func NewServer(log zerolog.Logger) *Server {
	return &Server{
		handlers: make(map[string]HandlerFunc),
		log:      log.With().Str("component", "rpc").Logger(),
		conns:    make(map[net.Conn]struct{}),
	}
}

// Register binds name to fn. Registering the same name twice panics: this
// is a startup-time programming error, not a runtime condition.
func (s *Server) Register(name string, fn HandlerFunc) {
	if _, exists := s.handlers[name]; exists {
		panic("rpc: method already registered: " + name)
	}

	s.handlers[name] = fn
}

// Serve accepts connections on ln until it returns an error (typically from
// ln.Close on shutdown), handling each on its own goroutine.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		go s.handleConn(conn)
	}
}

// Shutdown closes every connection currently being served, causing their
// per-connection goroutines to return. Serve itself returns only when its
// listener is closed.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for conn := range s.conns {
		_ = conn.Close()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		var env envelope

		if err := readFrame(conn, &env); err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug().Err(err).Msg("rpc connection closed")
			}

			return
		}

		switch env.Kind {
		case kindSend:
			s.dispatchSend(env)
		case kindCall:
			if err := s.dispatchCall(conn, env); err != nil {
				s.log.Debug().Err(err).Str("func", env.Func).Msg("write call reply")
				return
			}
		default:
			s.log.Error().Str("kind", string(env.Kind)).Msg("rpc: unknown frame kind")
			return
		}
	}
}

func (s *Server) dispatchSend(env envelope) {
	fn, ok := s.handlers[env.Func]
	if !ok {
		s.log.Error().Str("func", env.Func).Msg("send: unknown method")
		return
	}

	go func() {
		// Detached from the connection: the caller isn't waiting.
		if _, err := fn(context.Background(), env.Ctx, env.Args); err != nil {
			s.log.Error().Err(err).Str("func", env.Func).Msg("send handler failed")
		}
	}()
}

func (s *Server) dispatchCall(conn net.Conn, env envelope) error {
	fn, ok := s.handlers[env.Func]
	if !ok {
		return writeFrame(conn, reply{Kind: "NotFound", Error: "unknown method: " + env.Func})
	}

	result, err := fn(context.Background(), env.Ctx, env.Args)
	if err != nil {
		return writeFrame(conn, reply{Kind: kindOf(err), Error: err.Error()})
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return writeFrame(conn, reply{Kind: kindOf(err), Error: err.Error()})
	}

	return writeFrame(conn, reply{Result: resultJSON})
}
