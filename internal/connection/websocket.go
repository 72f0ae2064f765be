package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"nhooyr.io/websocket"

	"github.com/codewiresh/cadwire/internal/protocol"
)

// WSReader reads message payloads from a WebSocket connection. Each text
// message carries exactly one payload; the WebSocket framing replaces the
// length prefix.
type WSReader struct {
	conn *websocket.Conn
	ctx  context.Context
}

// NewWSReader creates a new WSReader wrapping the given WebSocket connection.
func NewWSReader(ctx context.Context, conn *websocket.Conn) *WSReader {
	conn.SetReadLimit(protocol.MaxPayload)
	return &WSReader{conn: conn, ctx: ctx}
}

// ReadFrame reads a single text message from the WebSocket.
// Returns (nil, nil) on normal close.
func (r *WSReader) ReadFrame() ([]byte, error) {
	msgType, data, err := r.conn.Read(r.ctx)
	if err != nil {
		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) {
			return nil, nil
		}
		return nil, err
	}
	if msgType != websocket.MessageText {
		return nil, protocol.Errorf(protocol.KindMalformedMessage, "unexpected websocket message type: %d", msgType)
	}
	return data, nil
}

// Close sends a normal closure message and closes the WebSocket.
func (r *WSReader) Close() error {
	return r.conn.Close(websocket.StatusNormalClosure, "")
}

// WSWriter writes message payloads to a WebSocket connection.
// It is safe for concurrent use.
type WSWriter struct {
	conn *websocket.Conn
	ctx  context.Context
	mu   sync.Mutex
}

// NewWSWriter creates a new WSWriter wrapping the given WebSocket connection.
func NewWSWriter(ctx context.Context, conn *websocket.Conn) *WSWriter {
	return &WSWriter{conn: conn, ctx: ctx}
}

// WriteFrame sends payload as one text message.
func (w *WSWriter) WriteFrame(payload []byte) error {
	if len(payload) > protocol.MaxPayload {
		return fmt.Errorf("frame payload too large: %d bytes", len(payload))
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.Write(w.ctx, websocket.MessageText, payload)
}

// SendResponse encodes a response and sends it as one text message.
func (w *WSWriter) SendResponse(resp protocol.CommandResponse) error {
	return encodeResponse(w, resp)
}

// SendRequest encodes a request and sends it as one text message.
func (w *WSWriter) SendRequest(req protocol.CommandRequest) error {
	return encodeRequest(w, req)
}

// Close sends a normal closure message and closes the WebSocket.
func (w *WSWriter) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "")
}
