// client.go implements the relay client used by peers.
//
// A Client registers one identity with a relay server, sends protocol
// envelopes to peers by identity, and surfaces inbound envelopes plus
// presence updates. The relay carries envelopes as opaque payloads; all
// protocol handling stays on the peers.
package relay

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sara-star-quant/qkd-go/internal/constants"
	qerrors "github.com/sara-star-quant/qkd-go/internal/errors"
	"github.com/sara-star-quant/qkd-go/pkg/protocol"
)

// clientLivenessWindow is how long the client read loop tolerates silence.
// The server pings every RelayPingInterval, so this spans two missed pings.
const clientLivenessWindow = constants.RelayPongWait + constants.RelayPingInterval

// ClientConfig holds relay client settings.
type ClientConfig struct {
	// URL is the websocket endpoint, e.g. ws://host:8765/.
	URL string

	// ClientID is the identity to register. Peers address envelopes to it.
	ClientID string

	// HandshakeTimeout bounds the websocket dial. Zero selects the default.
	HandshakeTimeout time.Duration

	// WelcomeTimeout bounds the wait for the registration reply. Zero
	// selects the default.
	WelcomeTimeout time.Duration

	// InboundBuffer is the inbound envelope queue size. Zero selects 64.
	InboundBuffer int

	// OnServerError, when set, receives relay error notices such as
	// delivery failures.
	OnServerError func(message string)

	// OnUsers, when set, receives each presence update.
	OnUsers func(users []string)
}

// Client is a registered relay connection. Send and Receive may be used
// from different goroutines; Receive must not be called concurrently with
// itself.
type Client struct {
	id    string
	conn  *websocket.Conn
	codec *protocol.Codec

	writeMu sync.Mutex

	mu      sync.Mutex
	users   []string
	closed  bool
	readErr error

	inbound chan *protocol.Envelope
	done    chan struct{}

	onServerError func(string)
	onUsers       func([]string)
}

// Dial connects to a relay server and registers the configured identity.
// It returns once the relay confirms the registration.
func Dial(ctx context.Context, config ClientConfig) (*Client, error) {
	if config.URL == "" || config.ClientID == "" {
		return nil, fmt.Errorf("relay: URL and ClientID are required")
	}
	handshakeTimeout := config.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = constants.RelayRegisterTimeout
	}
	welcomeTimeout := config.WelcomeTimeout
	if welcomeTimeout <= 0 {
		welcomeTimeout = constants.RelayWelcomeTimeout
	}
	buffer := config.InboundBuffer
	if buffer <= 0 {
		buffer = 64
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, config.URL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return nil, qerrors.ErrRateLimited
		}
		return nil, fmt.Errorf("relay: dial %s: %w", config.URL, err)
	}
	conn.SetReadLimit(constants.MaxFrameSize)

	c := &Client{
		id:            config.ClientID,
		conn:          conn,
		codec:         protocol.NewCodec(),
		inbound:       make(chan *protocol.Envelope, buffer),
		done:          make(chan struct{}),
		onServerError: config.OnServerError,
		onUsers:       config.OnUsers,
	}

	if err := c.writeFrame(&Frame{Type: FrameRegister, ClientID: c.id}); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := c.awaitWelcome(welcomeTimeout); err != nil {
		_ = conn.Close()
		return nil, err
	}

	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(clientLivenessWindow))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(constants.RelayWriteTimeout))
	})

	go c.readPump()
	return c, nil
}

// awaitWelcome reads until the relay confirms or rejects the registration.
// Presence updates may arrive first and are recorded.
func (c *Client) awaitWelcome(timeout time.Duration) error {
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: %v", qerrors.ErrRegistrationFailed, err)
		}
		f, err := decodeFrame(raw)
		if err != nil {
			continue
		}
		switch f.Type {
		case FrameWelcome:
			_ = c.conn.SetReadDeadline(time.Now().Add(clientLivenessWindow))
			return nil
		case FrameUsers:
			c.setUsers(f.Users)
		case FrameError:
			return fmt.Errorf("%w: %s", qerrors.ErrRegistrationFailed, f.Message)
		}
	}
}

// readPump decodes inbound frames until the connection drops. Closing the
// inbound channel releases any blocked Receive.
func (c *Client) readPump() {
	defer close(c.inbound)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(clientLivenessWindow))

		f, err := decodeFrame(raw)
		if err != nil {
			continue
		}
		switch f.Type {
		case FrameRelay:
			env, err := c.codec.Decode(f.Payload)
			if err != nil {
				continue // not a protocol envelope; nothing to deliver
			}
			select {
			case c.inbound <- env:
			case <-c.done:
				return
			}
		case FrameUsers:
			c.setUsers(f.Users)
			if c.onUsers != nil {
				c.onUsers(f.Users)
			}
		case FrameError:
			if c.onServerError != nil {
				c.onServerError(f.Message)
			}
		}
	}
}

// Send encodes the envelope and submits it to the relay, addressed by the
// envelope's To field.
func (c *Client) Send(env *protocol.Envelope) error {
	if env == nil {
		return qerrors.ErrInvalidEnvelope
	}
	if c.isClosed() {
		return qerrors.ErrRelayClosed
	}
	data, err := c.codec.Encode(env)
	if err != nil {
		return err
	}
	return c.writeFrame(&Frame{Type: FrameRelay, To: env.To, Payload: data})
}

// Receive blocks until an envelope arrives or the connection ends.
func (c *Client) Receive() (*protocol.Envelope, error) {
	env, ok := <-c.inbound
	if !ok {
		c.mu.Lock()
		err := c.readErr
		closed := c.closed
		c.mu.Unlock()
		if closed || err == nil {
			return nil, qerrors.ErrRelayClosed
		}
		return nil, fmt.Errorf("relay: connection lost: %w", err)
	}
	return env, nil
}

// ID returns the registered identity.
func (c *Client) ID() string {
	return c.id
}

// Users returns the last presence snapshot from the relay.
func (c *Client) Users() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	users := make([]string, len(c.users))
	copy(users, c.users)
	return users
}

// Close tells the relay we are leaving and drops the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	deadline := time.Now().Add(constants.RelayWriteTimeout)
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "leaving"), deadline)
	return c.conn.Close()
}

func (c *Client) writeFrame(f *Frame) error {
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(constants.RelayWriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("relay: write: %w", err)
	}
	return nil
}

func (c *Client) setUsers(users []string) {
	snapshot := make([]string, len(users))
	copy(snapshot, users)
	c.mu.Lock()
	c.users = snapshot
	c.mu.Unlock()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
