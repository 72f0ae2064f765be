package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"unicode/utf8"
)

// Socket framing: <decimal length>\n<payload bytes>.
const (
	MaxPayload      = 16 * 1024 * 1024 // 16 MB
	maxPrefixDigits = 10
)

// ReadFrame reads one length-prefixed payload from r. Bytes are consumed
// exactly; nothing past the payload is read. Returns (nil, nil) on clean EOF
// before the first prefix byte. Framing violations come back as *Error with
// KindMalformedMessage; other read failures are wrapped I/O errors.
func ReadFrame(r io.Reader) ([]byte, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = byteReader{r}
	}

	var length int
	digits := 0
	for {
		c, err := br.ReadByte()
		if err != nil {
			if err == io.EOF {
				if digits == 0 {
					return nil, nil
				}
				return nil, Errorf(KindMalformedMessage, "connection closed inside length prefix")
			}
			return nil, fmt.Errorf("reading frame prefix: %w", err)
		}
		if c == '\n' {
			break
		}
		if c < '0' || c > '9' {
			return nil, Errorf(KindMalformedMessage, "invalid byte 0x%02x in length prefix", c)
		}
		digits++
		if digits > maxPrefixDigits {
			return nil, Errorf(KindMalformedMessage, "length prefix longer than %d digits", maxPrefixDigits)
		}
		length = length*10 + int(c-'0')
	}
	if digits == 0 {
		return nil, Errorf(KindMalformedMessage, "empty length prefix")
	}
	if length > MaxPayload {
		return nil, Errorf(KindMalformedMessage, "frame payload too large: %d bytes", length)
	}

	payload := make([]byte, length)
	if length > 0 {
		n, err := io.ReadFull(r, payload)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, Errorf(KindMalformedMessage, "length prefix says %d bytes, read %d", length, n)
			}
			return nil, fmt.Errorf("reading frame payload: %w", err)
		}
	}
	return payload, nil
}

// WriteFrame writes payload with its length prefix.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("frame payload too large: %d bytes", len(payload))
	}
	header := strconv.AppendInt(nil, int64(len(payload)), 10)
	header = append(header, '\n')
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("writing frame payload: %w", err)
		}
	}
	return nil
}

type byteReader struct{ r io.Reader }

func (b byteReader) ReadByte() (byte, error) {
	var one [1]byte
	_, err := io.ReadFull(b.r, one[:])
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return one[0], err
}

// EncodeRequest renders a request payload.
func EncodeRequest(req CommandRequest) ([]byte, error) {
	return req.MarshalJSON()
}

// EncodeResponse renders a response payload.
func EncodeResponse(resp CommandResponse) ([]byte, error) {
	return resp.MarshalJSON()
}

// DecodeRequest parses a request payload. Any defect yields a
// KindMalformedMessage error and a zero request.
func DecodeRequest(payload []byte) (CommandRequest, error) {
	m, err := decodeEnvelope(payload)
	if err != nil {
		return CommandRequest{}, err
	}
	id, err := envelopeID(m)
	if err != nil {
		return CommandRequest{}, err
	}
	name, ok := m.Get("name")
	if !ok {
		return CommandRequest{}, Errorf(KindMalformedMessage, "missing name")
	}
	ns, ok := name.(String)
	if !ok || ns == "" {
		return CommandRequest{}, Errorf(KindMalformedMessage, "name must be a non-empty string")
	}
	params := NewMap()
	if pv, ok := m.Get("params"); ok {
		switch p := pv.(type) {
		case *Map:
			params = p
		case Null:
		default:
			return CommandRequest{}, Errorf(KindMalformedMessage, "params must be an object, got %s", pv.Kind())
		}
	}
	return CommandRequest{ID: id, Name: string(ns), Params: params}, nil
}

// DecodeResponse parses a response payload.
func DecodeResponse(payload []byte) (CommandResponse, error) {
	m, err := decodeEnvelope(payload)
	if err != nil {
		return CommandResponse{}, err
	}
	id, err := envelopeID(m)
	if err != nil {
		return CommandResponse{}, err
	}
	sv, _ := m.Get("status")
	status, _ := sv.(String)
	result, hasResult := m.Get("result")
	errVal, hasErr := m.Get("error")

	switch Status(status) {
	case StatusOK:
		if !hasResult || hasErr {
			return CommandResponse{}, Errorf(KindMalformedMessage, "ok response must carry result only")
		}
		return CommandResponse{ID: id, Status: StatusOK, Result: result}, nil
	case StatusError:
		if !hasErr || hasResult {
			return CommandResponse{}, Errorf(KindMalformedMessage, "error response must carry error only")
		}
		em, ok := errVal.(*Map)
		if !ok {
			return CommandResponse{}, Errorf(KindMalformedMessage, "error must be an object")
		}
		kind, _ := em.Get("kind")
		ks, ok := kind.(String)
		if !ok || ks == "" {
			return CommandResponse{}, Errorf(KindMalformedMessage, "error.kind must be a non-empty string")
		}
		msg, _ := em.Get("message")
		ms, _ := msg.(String)
		e := &Error{Kind: ErrorKind(ks), Message: string(ms)}
		if d, ok := em.Get("detail"); ok {
			e.Detail = d
		}
		return CommandResponse{ID: id, Status: StatusError, Err: e}, nil
	default:
		return CommandResponse{}, Errorf(KindMalformedMessage, "unknown status %q", string(status))
	}
}

// PeekID extracts the id from a payload that may otherwise be malformed, so
// the error response can still be correlated. Returns "" when no id is
// recoverable.
func PeekID(payload []byte) string {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil || len(probe.ID) == 0 {
		return ""
	}
	v, err := ParseValue(probe.ID)
	if err != nil {
		return ""
	}
	id, _ := idString(v)
	return id
}

func decodeEnvelope(payload []byte) (*Map, error) {
	if !utf8.Valid(payload) {
		return nil, Errorf(KindMalformedMessage, "payload is not valid UTF-8")
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, Errorf(KindMalformedMessage, "empty payload")
	}
	v, err := ParseValue(payload)
	if err != nil {
		return nil, Errorf(KindMalformedMessage, "invalid JSON: %v", err)
	}
	m, ok := v.(*Map)
	if !ok {
		return nil, Errorf(KindMalformedMessage, "payload must be an object, got %s", v.Kind())
	}
	return m, nil
}

func envelopeID(m *Map) (string, error) {
	v, ok := m.Get("id")
	if !ok {
		return "", Errorf(KindMalformedMessage, "missing id")
	}
	id, ok := idString(v)
	if !ok || id == "" {
		return "", Errorf(KindMalformedMessage, "id must be a non-empty string or number")
	}
	return id, nil
}

// idString normalizes an id to a string. A numeric id keeps its digits but
// is echoed back as a JSON string.
func idString(v Value) (string, bool) {
	switch x := v.(type) {
	case String:
		return string(x), true
	case Number:
		b, err := x.MarshalJSON()
		if err != nil {
			return "", false
		}
		return string(b), true
	}
	return "", false
}

// AsError returns err as a *Error, classifying anything else as internal.
func AsError(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Kind: KindInternal, Message: err.Error()}
}
