package capture

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Frame track tags: first byte of each binary WebSocket frame.
const (
	frameAudio = 0x01
	frameVideo = 0x02
)

// WSBridge implements Source over WebSocket. Browser clients connect and wait
// to be claimed; Acquire claims a connection, pushes the capture constraints,
// and waits for the client's permission verdict. Chunk frames then flow as
// binary messages tagged with a track byte.
type WSBridge struct {
	upgrader websocket.Upgrader
	pending  chan *wsConn
	log      zerolog.Logger
}

type wsConn struct {
	conn *websocket.Conn
}

// NewWSBridge creates a WebSocket capture bridge.
func NewWSBridge(log zerolog.Logger) *WSBridge {
	return &WSBridge{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		pending: make(chan *wsConn, 4),
		log:     log.With().Str("component", "capture-ws").Logger(),
	}
}

// HandleConn upgrades an HTTP request and parks the connection until a
// capture claims it. Unclaimed connections are dropped when the buffer fills.
func (b *WSBridge) HandleConn(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	select {
	case b.pending <- &wsConn{conn: conn}:
		b.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("capture client connected")
	default:
		b.log.Warn().Msg("too many pending capture clients, dropping connection")
		conn.Close()
	}
}

// controlMessage is the text-frame handshake between bridge and client.
type controlMessage struct {
	Event       string       `json:"event"` // "constraints", "ready", "permission_denied", "device_unavailable"
	Constraints *Constraints `json:"constraints,omitempty"`
}

// Acquire claims a connected client and performs the permission handshake.
// It blocks until a client is available and has answered, potentially
// indefinitely pending user permission, and honors ctx cancellation.
func (b *WSBridge) Acquire(ctx context.Context, c Constraints) (Stream, error) {
	var wc *wsConn
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case wc = <-b.pending:
	}

	msg := controlMessage{Event: "constraints", Constraints: &c}
	if err := wc.conn.WriteJSON(msg); err != nil {
		wc.conn.Close()
		return nil, fmt.Errorf("send constraints: %w", ErrDeviceUnavailable)
	}

	verdict := make(chan controlMessage, 1)
	readErr := make(chan error, 1)
	go func() {
		var reply controlMessage
		if err := wc.conn.ReadJSON(&reply); err != nil {
			readErr <- err
			return
		}
		verdict <- reply
	}()

	select {
	case <-ctx.Done():
		wc.conn.Close()
		return nil, ctx.Err()
	case err := <-readErr:
		wc.conn.Close()
		return nil, fmt.Errorf("handshake read: %v: %w", err, ErrDeviceUnavailable)
	case reply := <-verdict:
		switch reply.Event {
		case "ready":
		case "permission_denied":
			wc.conn.Close()
			return nil, ErrPermissionDenied
		default:
			wc.conn.Close()
			return nil, ErrDeviceUnavailable
		}
	}

	s := newWSStream(wc.conn, b.log)
	go s.readLoop()
	return s, nil
}

// wsStream adapts a claimed WebSocket connection to the Stream interface.
type wsStream struct {
	conn    *websocket.Conn
	audio   chan []byte
	video   chan []byte
	closed  chan struct{}
	closeMu sync.Once
	log     zerolog.Logger
}

func newWSStream(conn *websocket.Conn, log zerolog.Logger) *wsStream {
	return &wsStream{
		conn:   conn,
		audio:  make(chan []byte, 64),
		video:  make(chan []byte, 64),
		closed: make(chan struct{}),
		log:    log,
	}
}

func (s *wsStream) Audio() <-chan []byte { return s.audio }
func (s *wsStream) Video() <-chan []byte { return s.video }

// Close releases the connection. The read loop then drains out and closes
// both chunk channels.
func (s *wsStream) Close() {
	s.closeMu.Do(func() {
		close(s.closed)
		deadline := time.Now().Add(time.Second)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		s.conn.Close()
	})
}

// readLoop pumps binary frames into the per-track channels, preserving
// arrival order within each track.
func (s *wsStream) readLoop() {
	defer close(s.audio)
	defer close(s.video)
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closed:
			default:
				s.log.Debug().Err(err).Msg("capture stream read ended")
			}
			return
		}
		if msgType != websocket.BinaryMessage || len(data) < 2 {
			continue
		}
		payload := data[1:]
		switch data[0] {
		case frameAudio:
			s.deliver(s.audio, payload)
		case frameVideo:
			s.deliver(s.video, payload)
		}
	}
}

func (s *wsStream) deliver(ch chan []byte, payload []byte) {
	select {
	case ch <- payload:
	case <-s.closed:
	}
}
