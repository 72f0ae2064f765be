package connection

import (
	"log/slog"

	"github.com/codewiresh/cadwire/internal/protocol"
)

// FrameReader reads message payloads from a transport.
type FrameReader interface {
	// ReadFrame returns the next payload, or (nil, nil) on clean EOF.
	ReadFrame() ([]byte, error)
	Close() error
}

// FrameWriter writes message payloads to a transport.
type FrameWriter interface {
	WriteFrame(payload []byte) error
	SendResponse(resp protocol.CommandResponse) error
	SendRequest(req protocol.CommandRequest) error
	Close() error
}

// ReadResponse reads and decodes one response. Returns a zero response and
// a nil error on clean EOF; callers check ok.
func ReadResponse(r FrameReader) (resp protocol.CommandResponse, ok bool, err error) {
	payload, err := r.ReadFrame()
	if err != nil || payload == nil {
		return protocol.CommandResponse{}, false, err
	}
	resp, err = protocol.DecodeResponse(payload)
	if err != nil {
		return protocol.CommandResponse{}, false, err
	}
	return resp, true, nil
}

// encodeResponse writes resp as one frame. A response whose payload would
// exceed MaxPayload is replaced by an InternalError carrying the same id, so
// the peer still gets an answer and the connection stays usable.
func encodeResponse(w FrameWriter, resp protocol.CommandResponse) error {
	data, err := protocol.EncodeResponse(resp)
	if err != nil {
		return err
	}
	if n := len(data); n > protocol.MaxPayload {
		slog.Warn("response too large, replacing with error", "id", resp.ID, "bytes", n)
		data, err = protocol.EncodeResponse(protocol.Fail(resp.ID,
			protocol.Errorf(protocol.KindInternal, "response too large: %d bytes exceeds %d", n, protocol.MaxPayload)))
		if err != nil {
			return err
		}
	}
	return w.WriteFrame(data)
}

func encodeRequest(w FrameWriter, req protocol.CommandRequest) error {
	data, err := protocol.EncodeRequest(req)
	if err != nil {
		return err
	}
	return w.WriteFrame(data)
}
