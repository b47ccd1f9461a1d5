package control

import (
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// WSBridge serves the control protocol over WebSocket text frames: each
// inbound frame is one command line, each outbound frame one reply line or
// escaped block. Intended for local web tooling that cannot open a raw
// TCP session.
type WSBridge struct {
	server *Server
}

// NewWSBridge returns a bridge feeding commands into server's dispatch.
// Sessions attached here authenticate the same way TCP sessions do.
func NewWSBridge(server *Server) *WSBridge {
	return &WSBridge{server: server}
}

// SetupRoutes installs the bridge endpoint on mux.
func (b *WSBridge) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/control", b.handleControl)
}

type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsSink) WriteFrame(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsSink) Close() error {
	return w.conn.Close()
}

func (b *WSBridge) handleControl(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: checkLocalOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Infof("ws upgrade error: %v", err)
		return
	}

	sess := b.server.Attach(&wsSink{conn: conn})
	logger.Infof("session %d attached over websocket from %s", sess.ID(), r.RemoteAddr)

	go func() {
		defer func() {
			sess.Detach()
			logger.Infof("session %d detached", sess.ID())
		}()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			line := strings.TrimRight(string(msg), "\r\n")
			if !b.server.HandleLine(sess, line) {
				return
			}
		}
	}()
}

// checkLocalOrigin accepts requests with no Origin header (non-browser
// clients) or a loopback origin. The control channel is a local management
// surface, never a public one.
func checkLocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := parsed.Host
	if host == r.Host {
		return true
	}
	switch {
	case host == "localhost" || strings.HasPrefix(host, "localhost:"):
		return true
	case host == "127.0.0.1" || strings.HasPrefix(host, "127.0.0.1:"):
		return true
	case host == "[::1]" || strings.HasPrefix(host, "[::1]:"):
		return true
	}
	return false
}
