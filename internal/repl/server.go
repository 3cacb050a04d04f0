package repl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Request is one line-delimited JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is the matching reply.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// ResponseError carries a JSON-RPC error object.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JSON-RPC error codes used by the server.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// evalParams is the parameter shape of the eval method.
type evalParams struct {
	Line string `json:"line"`
}

// Server speaks line-delimited JSON-RPC 2.0 over a reader/writer pair,
// dispatching the same verbs as the interactive prompt. Sessions are
// keyed by the request's session id; idle sessions expire after the
// configured TTL, and the session count is capped.
type Server struct {
	session     *Session
	logger      *slog.Logger
	idleTimeout time.Duration
	maxSessions int

	mu       sync.Mutex
	lastSeen map[string]time.Time
	writeMu  sync.Mutex
}

// ServerConfig bounds the server's sessions.
type ServerConfig struct {
	IdleTimeout time.Duration
	MaxSessions int
	Logger      *slog.Logger
}

// NewServer creates a JSON-RPC server over one loaded repository.
func NewServer(session *Session, cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 8
	}
	return &Server{
		session:     session,
		logger:      logger,
		idleTimeout: cfg.IdleTimeout,
		maxSessions: cfg.MaxSessions,
		lastSeen:    map[string]time.Time{},
	}
}

// Run reads requests line by line until EOF or cancellation.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	s.logger.Info("REPL server started", "idle_timeout", s.idleTimeout, "max_sessions", s.maxSessions)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.reply(w, Response{JSONRPC: "2.0", Error: &ResponseError{Code: codeParseError, Message: err.Error()}})
			continue
		}
		s.reply(w, s.handle(ctx, &req))
	}
	return scanner.Err()
}

func (s *Server) handle(ctx context.Context, req *Request) Response {
	resp := Response{JSONRPC: "2.0", ID: req.ID}

	sessionID := "default"
	var withSession struct {
		Session string `json:"session,omitempty"`
	}
	if len(req.Params) > 0 {
		_ = json.Unmarshal(req.Params, &withSession)
		if withSession.Session != "" {
			sessionID = withSession.Session
		}
	}
	if err := s.touch(sessionID); err != nil {
		resp.Error = &ResponseError{Code: codeInternalError, Message: err.Error()}
		return resp
	}

	switch req.Method {
	case "eval":
		var params evalParams
		if err := json.Unmarshal(req.Params, &params); err != nil || params.Line == "" {
			resp.Error = &ResponseError{Code: codeInvalidParams, Message: "eval requires a line parameter"}
			return resp
		}
		reply, err := s.session.Eval(ctx, params.Line)
		if err != nil {
			resp.Error = &ResponseError{Code: codeInternalError, Message: err.Error()}
			return resp
		}
		resp.Result = reply
	case "ping":
		resp.Result = "pong"
	case "shutdown":
		resp.Result = "ok"
	default:
		resp.Error = &ResponseError{Code: codeMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)}
	}
	return resp
}

// touch registers activity for a session, expiring idle ones and
// enforcing the cap.
func (s *Server) touch(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for sid, seen := range s.lastSeen {
		if now.Sub(seen) > s.idleTimeout {
			delete(s.lastSeen, sid)
			s.logger.Debug("session expired", "session", sid)
		}
	}
	if _, known := s.lastSeen[id]; !known && len(s.lastSeen) >= s.maxSessions {
		return fmt.Errorf("session limit reached (%d)", s.maxSessions)
	}
	s.lastSeen[id] = now
	return nil
}

func (s *Server) reply(w io.Writer, resp Response) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to marshal response", "error", err)
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		s.logger.Error("failed to write response", "error", err)
	}
}
