package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Status is the outcome tag of a CommandResponse.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// ErrorKind classifies a failed command.
type ErrorKind string

const (
	KindMalformedMessage ErrorKind = "MalformedMessage"
	KindValidation       ErrorKind = "ValidationError"
	KindHandler          ErrorKind = "HandlerError"
	KindInternal         ErrorKind = "InternalError"
	KindTimeout          ErrorKind = "Timeout"
)

// Error is a classified command failure. It is both a Go error and the
// payload of a status=error response.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Detail  Value     `json:"detail,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Errorf builds an Error of the given kind.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithDetail attaches structured detail to the error.
func (e *Error) WithDetail(detail Value) *Error {
	e.Detail = detail
	return e
}

func (e *Error) MarshalJSON() ([]byte, error) {
	type wire struct {
		Kind    ErrorKind `json:"kind"`
		Message string    `json:"message"`
		Detail  Value     `json:"detail,omitempty"`
	}
	return json.Marshal(wire{Kind: e.Kind, Message: e.Message, Detail: e.Detail})
}

// CommandRequest asks a host to run the command Name with Params. ID
// correlates the response.
type CommandRequest struct {
	ID     string
	Name   string
	Params *Map
}

// CommandResponse answers the request with the same ID. Exactly one of
// Result (status ok) or Err (status error) is set.
type CommandResponse struct {
	ID     string
	Status Status
	Result Value
	Err    *Error
}

// OK builds a successful response. A nil result is sent as null.
func OK(id string, result Value) CommandResponse {
	if result == nil {
		result = Null{}
	}
	return CommandResponse{ID: id, Status: StatusOK, Result: result}
}

// Fail builds an error response.
func Fail(id string, err *Error) CommandResponse {
	return CommandResponse{ID: id, Status: StatusError, Err: err}
}

// MarshalJSON writes the request as {"id","name","params"}.
func (r CommandRequest) MarshalJSON() ([]byte, error) {
	params := r.Params
	if params == nil {
		params = NewMap()
	}
	var buf bytes.Buffer
	buf.WriteString(`{"id":`)
	idb, err := json.Marshal(r.ID)
	if err != nil {
		return nil, err
	}
	buf.Write(idb)
	buf.WriteString(`,"name":`)
	nb, err := json.Marshal(r.Name)
	if err != nil {
		return nil, err
	}
	buf.Write(nb)
	buf.WriteString(`,"params":`)
	pb, err := params.MarshalJSON()
	if err != nil {
		return nil, err
	}
	buf.Write(pb)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON writes the response as {"id","status","result"|"error"}.
func (r CommandResponse) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"id":`)
	idb, err := json.Marshal(r.ID)
	if err != nil {
		return nil, err
	}
	buf.Write(idb)
	buf.WriteString(`,"status":`)
	sb, err := json.Marshal(r.Status)
	if err != nil {
		return nil, err
	}
	buf.Write(sb)
	switch r.Status {
	case StatusOK:
		buf.WriteString(`,"result":`)
		b, err := marshalValue(r.Result)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	case StatusError:
		if r.Err == nil {
			return nil, fmt.Errorf("error response %q without error payload", r.ID)
		}
		buf.WriteString(`,"error":`)
		b, err := r.Err.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	default:
		return nil, fmt.Errorf("unknown response status %q", r.Status)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
