// server.go implements the relay server.
//
// This file provides:
//   - Websocket endpoint with registration as the mandatory first frame
//   - Identity-addressed forwarding of opaque payloads
//   - Presence broadcast of the full user list on every join and leave
//   - Ping/pong liveness and idle-connection reaping
//   - Per-IP connection caps and a registration token bucket
package relay

import (
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sara-star-quant/qkd-go/internal/constants"
	qerrors "github.com/sara-star-quant/qkd-go/internal/errors"
)

// Observer receives relay server events.
type Observer interface {
	// OnClientRegistered is called after an identity joins; total is the
	// connected-client count including it.
	OnClientRegistered(clientID string, total int)
	// OnClientDisconnected is called after an identity leaves.
	OnClientDisconnected(clientID string, total int)
	// OnFrameRelayed is called for each forwarded payload.
	OnFrameRelayed(from, to string, payloadBytes int)
	// OnRelayError is called when a frame cannot be delivered and the
	// sender is notified.
	OnRelayError(clientID, message string)
	// OnConnectionRateLimit is called when a connection is refused by the
	// per-IP cap.
	OnConnectionRateLimit(ip string)
	// OnRegisterRateLimit is called when a registration is refused by the
	// token bucket.
	OnRegisterRateLimit(ip string)
}

// NopObserver ignores every relay event.
type NopObserver struct{}

func (NopObserver) OnClientRegistered(string, int)     {}
func (NopObserver) OnClientDisconnected(string, int)   {}
func (NopObserver) OnFrameRelayed(string, string, int) {}
func (NopObserver) OnRelayError(string, string)        {}
func (NopObserver) OnConnectionRateLimit(string)       {}
func (NopObserver) OnRegisterRateLimit(string)         {}

// ServerConfig holds relay server settings. Zero values select defaults;
// negative limits disable the corresponding check.
type ServerConfig struct {
	// MaxConnsPerIP caps concurrent connections per source address.
	MaxConnsPerIP int

	// RegisterRate is the sustained registration rate in registrations
	// per second; RegisterBurst is the token-bucket size.
	RegisterRate  float64
	RegisterBurst int

	// Observer receives server events. Nil disables.
	Observer Observer
}

// Server is the relay rendezvous point. It owns the client registry; two
// servers in one process do not share state. Server implements
// http.Handler, so it can be mounted on any mux or served directly.
type Server struct {
	upgrader      websocket.Upgrader
	conns         *ConnLimiter
	registrations *RegisterLimiter
	observer      Observer

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool

	httpServer *http.Server
}

// client is one registered connection.
type client struct {
	id      string
	ip      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// send writes one frame with the write deadline applied.
func (c *client) send(f *Frame) error {
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(constants.RelayWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// closeWithReason sends a close frame and drops the connection.
func (c *client) closeWithReason(code int, reason string) {
	deadline := time.Now().Add(constants.RelayWriteTimeout)
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = c.conn.Close()
}

// NewServer creates a relay server. Zero config fields select the default
// limits; negative values disable them.
func NewServer(config ServerConfig) *Server {
	maxPerIP := config.MaxConnsPerIP
	if maxPerIP == 0 {
		maxPerIP = constants.DefaultMaxConnsPerIP
	}
	rate := config.RegisterRate
	if rate == 0 {
		rate = constants.DefaultRegisterRate
	}
	burst := config.RegisterBurst
	if burst == 0 {
		burst = constants.DefaultRegisterBurst
	}
	observer := config.Observer
	if observer == nil {
		observer = NopObserver{}
	}

	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Peers are command-line clients, not browsers; origin
			// checks do not apply.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns:         NewConnLimiter(maxPerIP),
		registrations: NewRegisterLimiter(rate, burst),
		observer:      observer,
		clients:       make(map[string]*client),
	}
}

// ServeHTTP upgrades the connection and serves it until it drops.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		http.Error(w, "relay shutting down", http.StatusServiceUnavailable)
		return
	}

	ip := remoteIP(r)
	if !s.conns.Acquire(ip) {
		s.observer.OnConnectionRateLimit(ip)
		http.Error(w, "connection limit reached", http.StatusTooManyRequests)
		return
	}
	defer s.conns.Release(ip)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // the upgrader already replied
	}
	defer func() { _ = conn.Close() }()
	conn.SetReadLimit(constants.MaxFrameSize)

	c, err := s.register(conn, ip)
	if err != nil {
		return
	}
	defer s.unregister(c)

	s.serveClient(c)
}

// register reads the mandatory registration frame and adds the client to
// the registry. A reconnecting identity replaces its old connection.
func (s *Server) register(conn *websocket.Conn, ip string) (*client, error) {
	_ = conn.SetReadDeadline(time.Now().Add(constants.RelayRegisterTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	f, err := decodeFrame(raw)
	if err != nil || f.Type != FrameRegister {
		writeError(conn, "first frame must be a registration")
		return nil, qerrors.ErrNotRegistered
	}
	if !s.registrations.Allow() {
		s.observer.OnRegisterRateLimit(ip)
		writeError(conn, "registration rate limited")
		return nil, qerrors.ErrRateLimited
	}

	c := &client{id: f.ClientID, ip: ip, conn: conn}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		writeError(conn, "relay shutting down")
		return nil, qerrors.ErrRelayClosed
	}
	old := s.clients[c.id]
	s.clients[c.id] = c
	total := len(s.clients)
	s.mu.Unlock()

	if old != nil {
		old.closeWithReason(websocket.ClosePolicyViolation, "identity reconnected elsewhere")
	}

	s.observer.OnClientRegistered(c.id, total)
	s.broadcastUsers()

	if err := c.send(&Frame{Type: FrameWelcome, Message: "welcome " + c.id}); err != nil {
		s.unregister(c)
		return nil, err
	}
	return c, nil
}

// unregister removes the client if it still owns its identity slot. A
// replaced connection must not evict its successor.
func (s *Server) unregister(c *client) {
	s.mu.Lock()
	current, ok := s.clients[c.id]
	owned := ok && current == c
	if owned {
		delete(s.clients, c.id)
	}
	total := len(s.clients)
	s.mu.Unlock()

	_ = c.conn.Close()
	if owned {
		s.observer.OnClientDisconnected(c.id, total)
		s.broadcastUsers()
	}
}

// serveClient runs the read loop, forwarding relay frames until the
// connection drops or idles out.
func (s *Server) serveClient(c *client) {
	_ = c.conn.SetReadDeadline(time.Now().Add(constants.RelayPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(constants.RelayPongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go s.pingLoop(c, done)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(constants.RelayPongWait))

		f, err := decodeFrame(raw)
		if err != nil {
			continue // tolerate malformed frames from a live client
		}
		if f.Type != FrameRelay {
			continue
		}

		if err := s.route(c, f); err != nil {
			msg := "delivery failed"
			if qerrors.Is(err, qerrors.ErrUnknownPeer) {
				msg = "user " + f.To + " not found"
			}
			s.observer.OnRelayError(c.id, msg)
			_ = c.send(&Frame{Type: FrameError, Message: msg})
		}
	}
}

// route forwards a relay frame to the addressed client, stamping the
// sender's verified identity.
func (s *Server) route(from *client, f *Frame) error {
	if f.To == "" {
		return qerrors.ErrInvalidFrame
	}

	s.mu.RLock()
	target, ok := s.clients[f.To]
	s.mu.RUnlock()
	if !ok {
		return qerrors.ErrUnknownPeer
	}

	out := &Frame{Type: FrameRelay, From: from.id, Payload: f.Payload}
	if err := target.send(out); err != nil {
		return err
	}
	s.observer.OnFrameRelayed(from.id, f.To, len(f.Payload))
	return nil
}

// pingLoop keeps the connection alive until done closes or a ping fails.
func (s *Server) pingLoop(c *client, done <-chan struct{}) {
	ticker := time.NewTicker(constants.RelayPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(constants.RelayWriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// broadcastUsers sends the sorted identity list to every client.
func (s *Server) broadcastUsers() {
	s.mu.RLock()
	users := make([]string, 0, len(s.clients))
	targets := make([]*client, 0, len(s.clients))
	for id, c := range s.clients {
		users = append(users, id)
		targets = append(targets, c)
	}
	s.mu.RUnlock()
	sort.Strings(users)

	f := &Frame{Type: FrameUsers, Users: users}
	for _, c := range targets {
		_ = c.send(f) // a dead client is reaped by its own read loop
	}
}

// Clients returns the sorted identities currently connected.
func (s *Server) Clients() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// ListenAndServe serves the relay on addr until Close. The caller filters
// http.ErrServerClosed if shutdown is expected.
func (s *Server) ListenAndServe(addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: constants.RelayRegisterTimeout,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return qerrors.ErrRelayClosed
	}
	s.httpServer = httpServer
	s.mu.Unlock()

	return httpServer.ListenAndServe()
}

// Close disconnects every client and stops the listener, if any.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[string]*client)
	httpServer := s.httpServer
	s.mu.Unlock()

	for _, c := range clients {
		c.closeWithReason(websocket.CloseGoingAway, "relay shutting down")
	}
	if httpServer != nil {
		return httpServer.Close()
	}
	return nil
}

// writeError reports a failure to a connection that never registered.
func writeError(conn *websocket.Conn, msg string) {
	data, err := encodeFrame(&Frame{Type: FrameError, Message: msg})
	if err != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(constants.RelayWriteTimeout))
	_ = conn.WriteMessage(websocket.TextMessage, data)
}

// remoteIP extracts the source address without the port.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
