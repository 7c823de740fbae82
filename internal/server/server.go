// Package server provides the ingest/command adapter of the statistics
// recorder.
//
// The messaging substrate that authenticates senders and decrypts payloads
// lives outside this process; this adapter accepts its newline-delimited
// JSON envelopes over TCP, rejects replays via the checkpoint, feeds events
// to the recorder, and answers text commands with rendered reports.
package server

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/xtxerr/statbot/internal/checkpoint"
	"github.com/xtxerr/statbot/internal/config"
	"github.com/xtxerr/statbot/internal/event"
	"github.com/xtxerr/statbot/internal/handler"
	"github.com/xtxerr/statbot/internal/logging"
	"github.com/xtxerr/statbot/internal/recorder"
)

var log = logging.Component("server")

// Envelope is one inbound line.
//
// Types:
//   - "auth":    {"type":"auth","token":...} - must be the first line
//   - "event":   {"type":"event","sender":...,"signature":...,"content":{...}}
//   - "command": {"type":"command","sender":...,"text":"users 2026-09-01"}
type Envelope struct {
	Type      string          `json:"type"`
	Token     string          `json:"token,omitempty"`
	Sender    string          `json:"sender,omitempty"`
	Signature string          `json:"signature,omitempty"`
	Text      string          `json:"text,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

// Reply is one outbound line.
type Reply struct {
	Type   string `json:"type"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Text   string `json:"text,omitempty"`
	Format string `json:"format,omitempty"`
}

// Config holds server configuration.
type Config struct {
	// Listen is the address to listen on.
	Listen string

	// App is the application namespace expected on event contents.
	App string

	// Tokens are the accepted auth tokens.
	Tokens []config.TokenConfig

	// AuthTimeout bounds the wait for the auth line after connect.
	AuthTimeout time.Duration

	// RateLimit / RateWindow bound FAILED auth attempts per IP.
	RateLimit  int
	RateWindow time.Duration

	Recorder   *recorder.Recorder
	Checkpoint *checkpoint.Checkpoint
	Handler    *handler.Handler
}

// Server accepts connections from the messaging collaborator.
type Server struct {
	cfg     *Config
	tokens  map[string]string // token → token ID
	limiter *authLimiter

	listener net.Listener
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// New creates a server.
func New(cfg *Config) *Server {
	tokens := make(map[string]string, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		tokens[t.Token] = t.ID
	}

	return &Server{
		cfg:      cfg,
		tokens:   tokens,
		limiter:  newAuthLimiter(cfg.RateLimit, cfg.RateWindow),
		shutdown: make(chan struct{}),
	}
}

// Run starts the server and blocks until shutdown.
func (s *Server) Run() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln
	log.Info("listening", "address", s.cfg.Listen)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				s.wg.Wait()
				return nil
			default:
				log.Error("accept error", "error", err)
				continue
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Shutdown stops the server and waits for open connections to finish.
func (s *Server) Shutdown() {
	log.Info("shutting down")
	close(s.shutdown)
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	log.Info("shutdown complete")
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	remoteIP := extractIP(remote)

	if s.limiter.blocked(remoteIP) {
		log.Warn("blocked due to failed auth attempts", "remote", remote)
		return
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	enc := json.NewEncoder(conn)

	// Auth-first: the opening line must carry a valid token.
	conn.SetReadDeadline(time.Now().Add(s.cfg.AuthTimeout))

	if !scanner.Scan() {
		return
	}
	var auth Envelope
	if err := json.Unmarshal(scanner.Bytes(), &auth); err != nil || auth.Type != "auth" {
		s.limiter.fail(remoteIP)
		enc.Encode(Reply{Type: "auth", Error: "first message must be auth"})
		return
	}
	tokenID, ok := s.tokens[auth.Token]
	if !ok {
		s.limiter.fail(remoteIP)
		enc.Encode(Reply{Type: "auth", Error: "invalid token"})
		log.Warn("auth failed", "remote", remote)
		return
	}
	s.limiter.reset(remoteIP)
	conn.SetReadDeadline(time.Time{})
	enc.Encode(Reply{Type: "auth", OK: true})
	log.Info("session authenticated", "remote", remote, "token_id", tokenID)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			enc.Encode(Reply{Type: "error", Error: "bad envelope"})
			continue
		}

		switch env.Type {
		case "event":
			enc.Encode(s.handleEvent(&env))
		case "command":
			enc.Encode(s.handleCommand(&env))
		default:
			enc.Encode(Reply{Type: "error", Error: fmt.Sprintf("unknown envelope type: %q", env.Type)})
		}
	}
}

// handleEvent checks the envelope against the checkpoint and enqueues the
// decoded event. Replays and malformed contents are acknowledged but
// dropped; the sender cannot act on the distinction anyway.
func (s *Server) handleEvent(env *Envelope) Reply {
	if env.Signature != "" && s.cfg.Checkpoint.Seen(env.Signature) {
		log.Debug("duplicate event dropped", "sender", env.Sender)
		return Reply{Type: "event", OK: true}
	}

	ev, err := event.Parse(env.Content, s.cfg.App)
	if err != nil {
		log.Warn("bad event content", "sender", env.Sender, "error", err)
		return Reply{Type: "event", Error: err.Error()}
	}

	s.cfg.Recorder.Add(ev)
	return Reply{Type: "event", OK: true}
}

func (s *Server) handleCommand(env *Envelope) Reply {
	text := s.cfg.Handler.Handle(env.Sender, env.Text)
	if text == "" {
		return Reply{Type: "command", OK: true}
	}
	return Reply{Type: "command", OK: true, Text: text, Format: "markdown"}
}

// extractIP extracts the IP address from a remote address string.
func extractIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}

// =============================================================================
// Failed-auth rate limiting
// =============================================================================

// authLimiter counts FAILED auth attempts per IP in a sliding window.
// Successful authentication resets the counter. Expired entries are purged
// lazily on access.
type authLimiter struct {
	mu       sync.Mutex
	failures map[string]*limiterEntry
	limit    int
	window   time.Duration
}

type limiterEntry struct {
	count     int
	resetTime time.Time
}

func newAuthLimiter(limit int, window time.Duration) *authLimiter {
	return &authLimiter{
		failures: make(map[string]*limiterEntry),
		limit:    limit,
		window:   window,
	}
}

func (l *authLimiter) blocked(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.failures[ip]
	if !ok {
		return false
	}
	if time.Now().After(entry.resetTime) {
		delete(l.failures, ip)
		return false
	}
	return entry.count >= l.limit
}

func (l *authLimiter) fail(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	entry, ok := l.failures[ip]
	if !ok || now.After(entry.resetTime) {
		l.failures[ip] = &limiterEntry{count: 1, resetTime: now.Add(l.window)}
		return
	}
	entry.count++
}

func (l *authLimiter) reset(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, ip)
}
