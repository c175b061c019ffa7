package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voiceguard/platform/internal/audio"
	"github.com/voiceguard/platform/internal/trace"
)

// HandshakeTimeout bounds the websocket dial; a backend that cannot
// complete the handshake in this window is treated as down.
const HandshakeTimeout = 10 * time.Second

// Events receives decoded inbound traffic. All callbacks run on the
// read-loop goroutine, in arrival order; nil callbacks are skipped.
type Events struct {
	OnUpdate func(Message)     // every analysis_update, final or not
	OnError  func(msg string)  // normalized backend error, non-fatal
	OnRaw    func(raw string)  // unparsable or unrecognized payloads
	OnClosed func(err error)   // read loop ended (nil on clean close)
}

// Channel is the persistent full-duplex connection to the analysis
// backend: binary audio frames out, JSON events in. One channel per
// session; not reusable after Close.
type Channel struct {
	events Events

	mu     sync.Mutex
	conn   *websocket.Conn
	open   bool
	closed bool
}

// NewChannel creates an unopened channel.
func NewChannel(events Events) *Channel {
	return &Channel{events: events}
}

// Open dials the backend and starts the read loop. It fails if the
// handshake does not complete within HandshakeTimeout, or on any
// transport error before the handshake; the attempt is torn down
// either way.
func (c *Channel) Open(ctx context.Context, url string) error {
	c.mu.Lock()
	if c.open || c.closed {
		c.mu.Unlock()
		return fmt.Errorf("channel not in openable state")
	}
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		return fmt.Errorf("analysis backend handshake: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.open = true
	c.mu.Unlock()

	go c.readLoop(ctx)
	return nil
}

// Send transmits one audio frame as a binary message. A frame offered
// to a channel that is not open is silently discarded; real-time audio
// is never queued for later retry.
func (c *Channel) Send(frame audio.Frame) {
	c.mu.Lock()
	conn, open := c.conn, c.open
	c.mu.Unlock()

	if !open || conn == nil {
		return
	}

	if err := conn.Write(context.Background(), websocket.MessageBinary, frame.Bytes()); err != nil {
		trace.Logger(context.Background()).Debug("frame dropped on write error", "error", err)
	}
}

// IsOpen reports whether the channel currently accepts frames.
func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Close shuts the connection down. Idempotent; safe on a never-opened
// channel; close errors from the underlying socket are swallowed.
func (c *Channel) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.open = false
	c.closed = true
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
}

func (c *Channel) readLoop(ctx context.Context) {
	for {
		typ, data, err := c.readOne(ctx)
		if err != nil {
			c.mu.Lock()
			wasOpen := c.open
			c.open = false
			c.mu.Unlock()

			if c.events.OnClosed != nil {
				if wasOpen {
					c.events.OnClosed(err)
				} else {
					c.events.OnClosed(nil)
				}
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		c.dispatch(data)
	}
}

func (c *Channel) readOne(ctx context.Context) (websocket.MessageType, []byte, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return 0, nil, fmt.Errorf("connection gone")
	}
	return conn.Read(ctx)
}

// dispatch routes one inbound text message. Nothing is ever silently
// dropped: messages that fail to parse, and messages with a type we do
// not recognize, surface as raw entries.
func (c *Channel) dispatch(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		if c.events.OnRaw != nil {
			c.events.OnRaw(string(data))
		}
		return
	}

	switch msg.Type {
	case TypeAnalysisUpdate:
		if c.events.OnUpdate != nil {
			c.events.OnUpdate(msg)
		}
	case TypeError:
		if c.events.OnError != nil {
			c.events.OnError(NormalizeError(msg))
		}
	default:
		if c.events.OnRaw != nil {
			c.events.OnRaw(string(data))
		}
	}
}
