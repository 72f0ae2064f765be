package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/codewiresh/cadwire/internal/connection"
	"github.com/codewiresh/cadwire/internal/host"
	"github.com/codewiresh/cadwire/internal/protocol"
	"github.com/codewiresh/cadwire/internal/registry"
)

// DefaultTimeout bounds one Dispatch when the caller's context has no
// deadline.
const DefaultTimeout = 30 * time.Second

// Dispatcher sends one request and returns its response. An error means
// no response was received; protocol failures come back as a response
// with status error.
type Dispatcher interface {
	Dispatch(ctx context.Context, req protocol.CommandRequest) (protocol.CommandResponse, error)
	Close() error
}

// NewRequest builds a request with a fresh correlation id.
func NewRequest(name string, params *protocol.Map) protocol.CommandRequest {
	if params == nil {
		params = protocol.NewMap()
	}
	return protocol.CommandRequest{ID: uuid.NewString(), Name: name, Params: params}
}

func withID(req protocol.CommandRequest) protocol.CommandRequest {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Params == nil {
		req.Params = protocol.NewMap()
	}
	return req
}

// ---------------------------------------------------------------------------
// Socket
// ---------------------------------------------------------------------------

// SocketClient talks to the CAD host over one persistent TCP connection.
// A fault drops the connection; the next Dispatch reconnects. Requests
// are serialized since the host answers strictly in turn.
type SocketClient struct {
	addr    string
	timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
	r    *connection.StreamReader
	w    *connection.StreamWriter
}

// NewSocketClient returns a client for addr. Nothing is dialed until the
// first Dispatch.
func NewSocketClient(addr string, timeout time.Duration) *SocketClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &SocketClient{addr: addr, timeout: timeout}
}

// Dispatch sends req and waits for the matching response. A request sent
// on a connection the host has since closed is retried once on a fresh
// connection.
func (c *SocketClient) Dispatch(ctx context.Context, req protocol.CommandRequest) (protocol.CommandResponse, error) {
	req = withID(req)
	c.mu.Lock()
	defer c.mu.Unlock()

	reused := c.conn != nil
	resp, err := c.roundTrip(ctx, req)
	if err != nil && reused && ctx.Err() == nil && isStale(err) {
		resp, err = c.roundTrip(ctx, req)
	}
	return resp, err
}

func (c *SocketClient) roundTrip(ctx context.Context, req protocol.CommandRequest) (protocol.CommandResponse, error) {
	if err := c.connect(ctx); err != nil {
		return protocol.CommandResponse{}, err
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn := c.conn
	conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	if err := c.w.SendRequest(req); err != nil {
		c.drop()
		return protocol.CommandResponse{}, &staleError{fmt.Errorf("sending request: %w", err)}
	}
	resp, ok, err := connection.ReadResponse(c.r)
	if err != nil {
		c.drop()
		return protocol.CommandResponse{}, fmt.Errorf("reading response: %w", err)
	}
	if !ok {
		c.drop()
		return protocol.CommandResponse{}, &staleError{errors.New("connection closed before response")}
	}
	if resp.ID != req.ID {
		c.drop()
		return protocol.CommandResponse{}, fmt.Errorf("response id %q does not match request id %q", resp.ID, req.ID)
	}
	return resp, nil
}

func (c *SocketClient) connect(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("connecting to cad host at %s: %w", c.addr, err)
	}
	c.conn = conn
	c.r = connection.NewStreamReader(conn)
	c.w = connection.NewStreamWriter(conn)
	return nil
}

func (c *SocketClient) drop() {
	if c.conn != nil {
		c.conn.Close()
		c.conn, c.r, c.w = nil, nil, nil
	}
}

// Close closes the connection if one is open.
func (c *SocketClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drop()
	return nil
}

// staleError marks a failure that means the connection was already dead
// before the host could have executed anything.
type staleError struct{ err error }

func (e *staleError) Error() string { return e.err.Error() }
func (e *staleError) Unwrap() error { return e.err }

func isStale(err error) bool {
	var se *staleError
	return errors.As(err, &se)
}

// ---------------------------------------------------------------------------
// HTTP
// ---------------------------------------------------------------------------

// HTTPClient talks to the canvas host with one POST per request.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPClient returns a client for baseURL ("http://127.0.0.1:9999").
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// Dispatch posts req to /command. A 504 carries the host's Timeout
// response and is returned as such.
func (c *HTTPClient) Dispatch(ctx context.Context, req protocol.CommandRequest) (protocol.CommandResponse, error) {
	req = withID(req)
	body, err := protocol.EncodeRequest(req)
	if err != nil {
		return protocol.CommandResponse{}, err
	}
	data, status, err := c.do(ctx, http.MethodPost, "/command", body)
	if err != nil {
		return protocol.CommandResponse{}, err
	}
	if status != http.StatusOK && status != http.StatusGatewayTimeout {
		return protocol.CommandResponse{}, fmt.Errorf("canvas host returned %d: %s", status, bytes.TrimSpace(data))
	}
	resp, err := protocol.DecodeResponse(data)
	if err != nil {
		return protocol.CommandResponse{}, fmt.Errorf("parsing response: %w", err)
	}
	return resp, nil
}

// Commands fetches the command listing.
func (c *HTTPClient) Commands(ctx context.Context) ([]registry.Summary, error) {
	data, status, err := c.do(ctx, http.MethodGet, "/commands", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("canvas host returned %d: %s", status, bytes.TrimSpace(data))
	}
	var out []registry.Summary
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parsing command list: %w", err)
	}
	return out, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	res, err := c.http.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("contacting canvas host: %w", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(io.LimitReader(res.Body, protocol.MaxPayload+1))
	if err != nil {
		return nil, 0, fmt.Errorf("reading response: %w", err)
	}
	return data, res.StatusCode, nil
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// ---------------------------------------------------------------------------
// WebSocket
// ---------------------------------------------------------------------------

// WSClient multiplexes requests to the canvas host over one WebSocket.
// Responses may arrive in any order; the id routes each to its caller.
type WSClient struct {
	reader *connection.WSReader
	writer *connection.WSWriter
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[string]chan protocol.CommandResponse
	err     error
	done    chan struct{}
}

// DialWS connects to baseURL's /ws endpoint.
func DialWS(ctx context.Context, baseURL, token string) (*WSClient, error) {
	wsURL := baseURL
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	case !strings.Contains(wsURL, "://"):
		wsURL = "ws://" + wsURL
	}
	wsURL = strings.TrimSuffix(wsURL, "/")
	if !strings.HasSuffix(wsURL, "/ws") {
		wsURL += "/ws"
	}

	// Send token via Authorization header only (not in URL query to avoid log exposure).
	opts := &websocket.DialOptions{}
	if token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + token}}
	}
	conn, _, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		return nil, fmt.Errorf("connecting to canvas host: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &WSClient{
		reader:  connection.NewWSReader(connCtx, conn),
		writer:  connection.NewWSWriter(connCtx, conn),
		cancel:  cancel,
		pending: make(map[string]chan protocol.CommandResponse),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *WSClient) readLoop() {
	defer close(c.done)
	for {
		resp, ok, err := connection.ReadResponse(c.reader)
		if err != nil || !ok {
			if err == nil {
				err = errors.New("connection closed")
			}
			c.mu.Lock()
			c.err = err
			for id, ch := range c.pending {
				close(ch)
				delete(c.pending, id)
			}
			c.mu.Unlock()
			return
		}
		c.mu.Lock()
		ch, found := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if found {
			ch <- resp
		}
	}
}

// Dispatch sends req and waits for the response with the same id.
func (c *WSClient) Dispatch(ctx context.Context, req protocol.CommandRequest) (protocol.CommandResponse, error) {
	req = withID(req)
	ch := make(chan protocol.CommandResponse, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return protocol.CommandResponse{}, err
	}
	if _, dup := c.pending[req.ID]; dup {
		c.mu.Unlock()
		return protocol.CommandResponse{}, fmt.Errorf("request id %q already in flight", req.ID)
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}

	if err := c.writer.SendRequest(req); err != nil {
		forget()
		return protocol.CommandResponse{}, fmt.Errorf("sending request: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}
	select {
	case resp, ok := <-ch:
		if !ok {
			c.mu.Lock()
			err := c.err
			c.mu.Unlock()
			return protocol.CommandResponse{}, fmt.Errorf("reading response: %w", err)
		}
		return resp, nil
	case <-ctx.Done():
		forget()
		return protocol.CommandResponse{}, ctx.Err()
	}
}

// Close closes the WebSocket and fails any outstanding requests.
func (c *WSClient) Close() error {
	err := c.writer.Close()
	c.cancel()
	<-c.done
	return err
}

// ---------------------------------------------------------------------------
// Routing
// ---------------------------------------------------------------------------

// Router sends each command to the dispatcher of the host that serves it.
type Router struct {
	hosts  map[string]host.Kind
	routes map[host.Kind]Dispatcher
}

// NewRouter routes the commands in descs. A nil dispatcher leaves that
// host unreachable.
func NewRouter(descs []registry.Descriptor, cad, canvas Dispatcher) *Router {
	r := &Router{
		hosts:  make(map[string]host.Kind, len(descs)),
		routes: map[host.Kind]Dispatcher{},
	}
	for _, d := range descs {
		r.hosts[d.Name] = d.Host
	}
	if cad != nil {
		r.routes[host.CAD] = cad
	}
	if canvas != nil {
		r.routes[host.Canvas] = canvas
	}
	return r
}

// HostOf reports which host serves name.
func (r *Router) HostOf(name string) (host.Kind, bool) {
	k, ok := r.hosts[name]
	return k, ok
}

// Dispatch forwards req by its command's host. An unknown name is
// answered locally with a ValidationError.
func (r *Router) Dispatch(ctx context.Context, req protocol.CommandRequest) (protocol.CommandResponse, error) {
	req = withID(req)
	k, ok := r.hosts[req.Name]
	if !ok {
		return protocol.Fail(req.ID, protocol.Errorf(protocol.KindValidation, "unknown command %q", req.Name)), nil
	}
	d, ok := r.routes[k]
	if !ok {
		return protocol.CommandResponse{}, fmt.Errorf("no transport configured for the %s host", k)
	}
	return d.Dispatch(ctx, req)
}

// Close closes every route.
func (r *Router) Close() error {
	var errs []error
	for _, d := range r.routes {
		if err := d.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
