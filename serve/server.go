package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"

	wayfindr "github.com/Paranoid-AF/wayfindr"
	"github.com/Paranoid-AF/wayfindr/engine"
)

// sessionTTL is how long an idle session keeps its bookkeeping.
const sessionTTL = 10 * time.Minute

// Server listens on a Unix domain socket for query requests.
type Server struct {
	listener net.Listener
	sockPath string
	load     func() *engine.Runtime

	mu       sync.Mutex
	rt       *engine.Runtime
	sessions *ttlcache.Cache[string, *engine.Session]
	closed   atomic.Bool
}

// NewServer creates a new IPC server bound to the given socket path, loading
// configuration and providers from disk.
func NewServer(sockPath string) (*Server, error) {
	return NewServerWithLoader(sockPath, engine.LoadRuntime)
}

// NewServerWithLoader creates a new IPC server whose runtime comes from load.
// load is called once now and again on every reload.
func NewServerWithLoader(sockPath string, load func() *engine.Runtime) (*Server, error) {
	// Remove stale socket file if it exists
	if err := os.Remove(sockPath); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, err
	}

	sessions := ttlcache.New[string, *engine.Session](
		ttlcache.WithTTL[string, *engine.Session](sessionTTL),
	)
	sessions.OnEviction(func(_ context.Context, _ ttlcache.EvictionReason, item *ttlcache.Item[string, *engine.Session]) {
		item.Value().Cancel()
	})
	go sessions.Start()

	return &Server{
		listener: listener,
		sockPath: sockPath,
		load:     load,
		rt:       load(),
		sessions: sessions,
	}, nil
}

// Serve accepts connections and handles requests. It returns nil once the
// server is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

// Close shuts down the server, cancels in-flight queries, and removes the
// socket file.
func (s *Server) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.listener.Close()
	s.sessions.DeleteAll()
	s.sessions.Stop()
	os.Remove(s.sockPath)
}

func (s *Server) runtime() *engine.Runtime {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rt
}

// session returns the session for sid. Requests without a session id get a
// throwaway session and are never superseded.
func (s *Server) session(sid string, q engine.Querier) *engine.Session {
	if sid == "" {
		return engine.NewSession(q)
	}
	item, _ := s.sessions.GetOrSetFunc(sid, func() *engine.Session {
		return engine.NewSession(q)
	})
	return item.Value()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		return
	}

	raw := scanner.Bytes()
	slog.Debug("request", "data", string(raw))

	// Check if this is a config request (has "action" field)
	var cfgReq wayfindr.ConfigRequest
	if err := json.Unmarshal(raw, &cfgReq); err == nil && cfgReq.Action != "" {
		s.handleConfigRequest(conn, &cfgReq)
		return
	}

	var req wayfindr.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		slog.Warn("invalid request", "error", err)
		return
	}

	rt := s.runtime()
	var caller map[string]string
	if req.Location != "" {
		caller = map[string]string{engine.KeyLocation: req.Location}
	}

	res, current := s.session(req.SessionID, rt.Engine).Query(context.Background(), req.Input, caller)

	// A superseded request gets no response; the client has moved on.
	if !current {
		slog.Debug("request superseded", "session", req.SessionID, "request_id", req.RequestID)
		return
	}

	writeJSON(conn, toResponse(req.RequestID, res))
}

func toResponse(id int, res engine.Result) *wayfindr.Response {
	resp := &wayfindr.Response{
		RequestID: id,
		Matched:   res.Matched,
		Provider:  res.Provider,
		Command:   res.Command,
		Query:     res.Query,
		Text:      res.Text,
	}
	if res.Err != nil {
		resp.Error = &wayfindr.Error{Code: errorCode(res.Err), Message: res.Err.Error()}
	}
	return resp
}

func errorCode(err error) string {
	var re *engine.RenderError
	switch {
	case errors.Is(err, engine.ErrTimeout):
		return "timeout"
	case errors.As(err, &re):
		return "render_error"
	case errors.Is(err, engine.ErrNetwork):
		return "network_error"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal_error"
	}
}

func (s *Server) handleConfigRequest(conn net.Conn, req *wayfindr.ConfigRequest) {
	var resp wayfindr.ConfigResponse

	switch req.Action {
	case "get":
		resp.Config = s.runtime().Config

	case "reload":
		rt := s.reload()
		resp.Config = rt.Config
		resp.Warnings = rt.Warnings

	case "defaults":
		resp.Config = wayfindr.DefaultConfig()

	case "validate":
		resp.Warnings = s.runtime().Warnings

	case "providers":
		resp.Providers = s.runtime().Providers()

	default:
		resp.Error = &wayfindr.Error{
			Code:    "unknown_action",
			Message: "unknown config action: " + req.Action,
		}
	}

	writeJSON(conn, resp)
}

// reload rebuilds the runtime and drops every session, cancelling queries
// still running against the old engine.
func (s *Server) reload() *engine.Runtime {
	rt := s.load()

	s.mu.Lock()
	s.rt = rt
	s.mu.Unlock()

	s.sessions.DeleteAll()
	slog.Info("runtime reloaded", "providers", len(rt.Providers()), "warnings", len(rt.Warnings))
	return rt
}

func writeJSON(conn net.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}

	slog.Debug("response", "data", string(data))

	conn.Write(append(data, '\n'))
}
