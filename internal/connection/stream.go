package connection

import (
	"bufio"
	"net"
	"sync"

	"github.com/codewiresh/cadwire/internal/protocol"
)

// StreamReader reads length-prefixed frames from a TCP connection.
type StreamReader struct {
	conn net.Conn
	br   *bufio.Reader
}

// NewStreamReader creates a new StreamReader wrapping the given connection.
func NewStreamReader(conn net.Conn) *StreamReader {
	return &StreamReader{conn: conn, br: bufio.NewReader(conn)}
}

// ReadFrame reads a single frame from the underlying connection.
// Returns (nil, nil) on clean EOF.
func (r *StreamReader) ReadFrame() ([]byte, error) {
	return protocol.ReadFrame(r.br)
}

// Close closes the underlying connection.
func (r *StreamReader) Close() error {
	return r.conn.Close()
}

// StreamWriter writes length-prefixed frames to a TCP connection.
// It is safe for concurrent use.
type StreamWriter struct {
	conn net.Conn
	mu   sync.Mutex
}

// NewStreamWriter creates a new StreamWriter wrapping the given connection.
func NewStreamWriter(conn net.Conn) *StreamWriter {
	return &StreamWriter{conn: conn}
}

// WriteFrame writes one frame with a single Write call so a frame is never
// interleaved with another writer's.
func (w *StreamWriter) WriteFrame(payload []byte) error {
	frame := make(bytesWriter, 0, len(payload)+12)
	if err := protocol.WriteFrame(&frame, payload); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.conn.Write(frame)
	return err
}

// SendResponse encodes a response and writes it as one frame.
func (w *StreamWriter) SendResponse(resp protocol.CommandResponse) error {
	return encodeResponse(w, resp)
}

// SendRequest encodes a request and writes it as one frame.
func (w *StreamWriter) SendRequest(req protocol.CommandRequest) error {
	return encodeRequest(w, req)
}

// Close closes the underlying connection.
func (w *StreamWriter) Close() error {
	return w.conn.Close()
}

type bytesWriter []byte

func (b *bytesWriter) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}
