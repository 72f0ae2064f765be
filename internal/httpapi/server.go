// Package httpapi serves the canvas host over HTTP. Handlers never touch
// host state: they enqueue the request and wait for the host goroutine to
// fill the response slot.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"nhooyr.io/websocket"

	"github.com/codewiresh/cadwire/internal/auth"
	"github.com/codewiresh/cadwire/internal/connection"
	"github.com/codewiresh/cadwire/internal/protocol"
	"github.com/codewiresh/cadwire/internal/queue"
	"github.com/codewiresh/cadwire/internal/registry"
)

// DefaultWaitBound is how long a request waits for the host when Options
// leaves WaitBound unset.
const DefaultWaitBound = 30 * time.Second

// Options configure a Server.
type Options struct {
	// Token, when set, must be presented as "Authorization: Bearer <token>"
	// or ?token=<token>.
	Token string
	// WaitBound caps how long a request waits for its response.
	WaitBound time.Duration
	// Commands is what GET /commands lists.
	Commands []registry.Summary
}

// Server is the HTTP transport adapter.
type Server struct {
	q      *queue.Queue
	opts   Options
	engine *gin.Engine
}

// New builds the router over q.
func New(q *queue.Queue, opts Options) *Server {
	if opts.WaitBound <= 0 {
		opts.WaitBound = DefaultWaitBound
	}
	s := &Server{q: q, opts: opts, engine: gin.New()}
	s.engine.Use(gin.Recovery(), requestLogger())
	s.setupRoutes()
	return s
}

// Handler returns the router for use with an http.Server or httptest.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.handleHealth)

	api := s.engine.Group("/")
	api.Use(s.authMiddleware())
	api.POST("/command", s.handleCommand)
	api.GET("/commands", s.handleCommands)
	api.GET("/ws", s.handleWS)
}

// Run listens on addr and serves until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run over an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("http transport listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !auth.Valid(s.opts.Token, auth.FromRequest(c.Request)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "queued": s.q.Len()})
}

func (s *Server) handleCommands(c *gin.Context) {
	c.JSON(http.StatusOK, s.opts.Commands)
}

// handleCommand answers one request per HTTP exchange. Every outcome except
// a wait timeout is a 200 carrying a CommandResponse.
func (s *Server) handleCommand(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, protocol.MaxPayload))
	if err != nil {
		writeResponse(c, protocol.Fail("", protocol.Errorf(protocol.KindMalformedMessage, "reading body: %v", err)))
		return
	}
	writeResponse(c, s.dispatch(c.Request.Context(), body))
}

// dispatch decodes payload, queues it for the host and waits for the
// response.
func (s *Server) dispatch(ctx context.Context, payload []byte) protocol.CommandResponse {
	req, err := protocol.DecodeRequest(payload)
	if err != nil {
		return protocol.Fail(protocol.PeekID(payload), protocol.AsError(err))
	}
	item, err := s.q.Enqueue(req)
	if err != nil {
		return protocol.Fail(req.ID, protocol.AsError(err))
	}
	return s.q.Wait(ctx, item, s.opts.WaitBound)
}

func writeResponse(c *gin.Context, resp protocol.CommandResponse) {
	data, err := protocol.EncodeResponse(resp)
	if err != nil {
		slog.Error("encoding response", "id", resp.ID, "err", err)
		data, _ = protocol.EncodeResponse(protocol.Fail(resp.ID, protocol.Errorf(protocol.KindInternal, "encoding response: %v", err)))
	}
	status := http.StatusOK
	if resp.Err != nil && resp.Err.Kind == protocol.KindTimeout {
		status = http.StatusGatewayTimeout
	}
	c.Data(status, "application/json", data)
}

// handleWS treats each text message as a request. Responses are written as
// their slots fill, so they may arrive out of request order.
func (s *Server) handleWS(c *gin.Context) {
	wsConn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("websocket accept error", "err", err)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	reader := connection.NewWSReader(ctx, wsConn)
	writer := connection.NewWSWriter(ctx, wsConn)

	// Outstanding waiters give up once the client is gone.
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		writer.Close()
	}()

	for {
		payload, err := reader.ReadFrame()
		if err != nil {
			var pe *protocol.Error
			if errors.As(err, &pe) {
				if sendErr := writer.SendResponse(protocol.Fail("", pe)); sendErr != nil {
					return
				}
				continue
			}
			if ctx.Err() == nil {
				slog.Debug("websocket read error", "err", err)
			}
			return
		}
		if payload == nil {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := s.dispatch(ctx, payload)
			if err := writer.SendResponse(resp); err != nil {
				slog.Debug("websocket write error", "id", resp.ID, "err", err)
			}
		}()
	}
}
