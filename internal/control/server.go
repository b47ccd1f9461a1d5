package control

import (
	"bufio"
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"strings"

	"github.com/relaymesh/relayd/internal/event"
)

// InfoFunc answers one GETINFO key. Multi-line values (anything containing
// a newline) are sent as an escaped data block.
type InfoFunc func() (string, error)

// Server accepts management sessions on a line-oriented TCP port and
// dispatches their commands. The WebSocket bridge feeds the same dispatch
// through HandleLine.
type Server struct {
	sessions  *Sessions
	registry  *event.Registry
	authToken string
	buffer    int

	info map[string]InfoFunc
}

// NewServer returns a server managing the given session registry. If
// authToken is non-empty, sessions must AUTHENTICATE before any other
// command.
func NewServer(sessions *Sessions, registry *event.Registry, authToken string, sessionBuffer int) *Server {
	if sessionBuffer <= 0 {
		sessionBuffer = 256
	}
	return &Server{
		sessions:  sessions,
		registry:  registry,
		authToken: authToken,
		buffer:    sessionBuffer,
		info:      make(map[string]InfoFunc),
	}
}

// RegisterInfo installs the handler for one GETINFO key. The built-in
// "events/names" key is registered at construction by Attach callers'
// wiring; collisions overwrite.
func (s *Server) RegisterInfo(key string, fn InfoFunc) {
	s.info[key] = fn
}

// Attach registers a new session speaking through sink and returns it.
func (s *Server) Attach(sink frameSink) *Session {
	return s.sessions.add(sink, s.buffer, s.authToken != "", func(sess *Session) {
		s.sessions.remove(sess)
		// A detached session no longer contributes interest.
		s.registry.Recompute(s.sessions.Subscribers())
	})
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	logger.Infof("control port listening on %s", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("control accept: %w", err)
		}
		go s.serveConn(conn)
	}
}

type tcpSink struct {
	conn net.Conn
}

func (t tcpSink) WriteFrame(data []byte) error {
	_, err := t.conn.Write(data)
	return err
}

func (t tcpSink) Close() error {
	return t.conn.Close()
}

func (s *Server) serveConn(conn net.Conn) {
	sess := s.Attach(tcpSink{conn})
	logger.Infof("session %d attached from %s", sess.ID(), conn.RemoteAddr())
	defer func() {
		sess.Detach()
		logger.Infof("session %d detached", sess.ID())
	}()

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if !s.HandleLine(sess, line) {
			return
		}
	}
}

// HandleLine dispatches one command line. It returns false when the
// session asked to close.
func (s *Server) HandleLine(sess *Session, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}
	cmd := strings.ToUpper(fields[0])
	args := fields[1:]

	if sess.needsAuth() && cmd != "AUTHENTICATE" && cmd != "QUIT" {
		sess.WriteOneReply(514, "Authentication required")
		return true
	}

	switch cmd {
	case "SETEVENTS":
		s.handleSetEvents(sess, args)
	case "GETINFO":
		s.handleGetInfo(sess, args)
	case "AUTHENTICATE":
		s.handleAuthenticate(sess, strings.TrimSpace(line[len(fields[0]):]))
	case "QUIT":
		sess.WriteOneReply(250, "closing connection")
		return false
	default:
		sess.WriteOneReplyf(510, "Unrecognized command \"%s\"", fields[0])
	}
	return true
}

// handleSetEvents replaces the session's interest mask from a list of
// event names and recomputes the global mask. Legacy names warn and
// contribute nothing; any unrecognized name fails the whole command and
// leaves the mask untouched.
func (s *Server) handleSetEvents(sess *Session, names []string) {
	var mask event.Mask
	for _, name := range names {
		if event.IsLegacyName(name) {
			logger.Warningf("the %q SETEVENTS argument is no longer supported", name)
			continue
		}
		k, ok := event.KindByName(name)
		if !ok {
			sess.WriteOneReplyf(552, "Unrecognized event \"%s\"", name)
			return
		}
		mask |= event.MaskOf(k)
	}
	sess.SetEventMask(mask)
	s.registry.Recompute(s.sessions.Subscribers())
	sess.WriteOneReply(250, "OK")
}

// handleGetInfo answers each requested key with a mid reply for one-line
// values or an escaped data block for multi-line ones, then closes with
// 250 OK. An unrecognized key fails the whole command.
func (s *Server) handleGetInfo(sess *Session, keys []string) {
	if len(keys) == 0 {
		sess.WriteOneReply(512, "Missing argument to GETINFO")
		return
	}
	type answer struct {
		key   string
		value string
	}
	answers := make([]answer, 0, len(keys))
	for _, key := range keys {
		fn, ok := s.info[key]
		if !ok {
			sess.WriteOneReplyf(552, "Unrecognized key \"%s\"", key)
			return
		}
		value, err := fn()
		if err != nil {
			logger.Warningf("GETINFO %s failed: %v", key, err)
			sess.WriteOneReplyf(551, "Internal error answering \"%s\"", key)
			return
		}
		answers = append(answers, answer{key, value})
	}
	for _, a := range answers {
		if strings.ContainsAny(a.value, "\r\n") {
			sess.WriteDataReply(250, a.key+"=")
			sess.WriteData([]byte(a.value))
		} else {
			sess.WriteMidReply(250, a.key+"="+a.value)
		}
	}
	sess.WriteOneReply(250, "OK")
}

// handleAuthenticate checks the shared token. The argument may be given
// bare or as a backslash-escaped quoted string.
func (s *Server) handleAuthenticate(sess *Session, arg string) {
	token := arg
	if strings.HasPrefix(arg, `"`) {
		decoded, rest, err := DecodeQuotedString([]byte(arg))
		if err != nil || strings.TrimSpace(string(rest)) != "" {
			sess.WriteOneReply(515, "Malformed authentication string")
			return
		}
		token = string(decoded)
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		sess.WriteOneReply(515, "Authentication failed")
		sess.Detach()
		return
	}
	if !sess.authenticated() {
		return
	}
	sess.WriteOneReply(250, "OK")
}

// EventNamesInfo returns the InfoFunc for the "events/names" key: every
// known event name, space-joined.
func EventNamesInfo() InfoFunc {
	return func() (string, error) {
		return strings.Join(event.KindNames(), " "), nil
	}
}
