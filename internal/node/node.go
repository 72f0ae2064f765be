// Package node is the daemon. It owns both host goroutines: the CAD host
// serves the socket transport inline, and the canvas host drains the HTTP
// request queue on a fixed cycle.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/codewiresh/cadwire/internal/canvas"
	"github.com/codewiresh/cadwire/internal/commands"
	"github.com/codewiresh/cadwire/internal/config"
	"github.com/codewiresh/cadwire/internal/executor"
	"github.com/codewiresh/cadwire/internal/host"
	"github.com/codewiresh/cadwire/internal/httpapi"
	"github.com/codewiresh/cadwire/internal/protocol"
	"github.com/codewiresh/cadwire/internal/queue"
	"github.com/codewiresh/cadwire/internal/registry"
	"github.com/codewiresh/cadwire/internal/scene"
	"github.com/codewiresh/cadwire/internal/socket"
	"github.com/codewiresh/cadwire/internal/store"
)

// Node is the daemon serving the CAD host over a socket and the canvas host
// over HTTP.
type Node struct {
	config  *config.Config
	dataDir string
	pidPath string

	cadHost    *host.Context
	canvasHost *host.Context
	cadExec    *executor.Executor
	canvasExec *executor.Executor

	queue   *queue.Queue
	socket  *socket.Server
	http    *httpapi.Server
	journal store.Journal

	httpLn net.Listener
	ready  chan struct{}
}

// NewNode builds a Node rooted at dataDir from cfg. It constructs both
// registries, failing on a duplicate command name, and opens the journal
// when enabled.
func NewNode(dataDir string, cfg *config.Config) (*Node, error) {
	cadReg, err := registry.New(commands.CAD()...)
	if err != nil {
		return nil, fmt.Errorf("building cad registry: %w", err)
	}
	canvasReg, err := registry.New(commands.Canvas()...)
	if err != nil {
		return nil, fmt.Errorf("building canvas registry: %w", err)
	}

	n := &Node{
		config:  cfg,
		dataDir: dataDir,
		pidPath: filepath.Join(dataDir, "cadwire.pid"),
		cadHost: host.NewCAD(scene.NewDocument(), host.NewConsole(
			host.NewLogWriter(host.CAD, "stdout"), host.NewLogWriter(host.CAD, "stderr"))),
		canvasHost: host.NewCanvas(canvas.NewGraph(), host.NewConsole(
			host.NewLogWriter(host.Canvas, "stdout"), host.NewLogWriter(host.Canvas, "stderr"))),
		queue: queue.New(),
		ready: make(chan struct{}),
	}

	var cadOpts, canvasOpts []executor.Option
	if cfg.Journal.Enabled {
		j, err := store.NewSQLiteJournal(cfg.Journal.Path, cfg.Journal.Retention.Duration)
		if err != nil {
			return nil, fmt.Errorf("opening journal: %w", err)
		}
		n.journal = j
		cadOpts = append(cadOpts, executor.WithRecorder(store.Recorder{Journal: j, Host: host.CAD}))
		canvasOpts = append(canvasOpts, executor.WithRecorder(store.Recorder{Journal: j, Host: host.Canvas}))
		slog.Info("command journal enabled", "path", cfg.Journal.Path)
	}
	n.cadExec = executor.New(cadReg, cadOpts...)
	n.canvasExec = executor.New(canvasReg, canvasOpts...)

	n.socket = socket.New(cfg.Socket.Addr, n.cadExec, n.cadHost, socket.Options{
		IdleTimeout: cfg.Socket.IdleTimeout.Duration,
	})

	all := append(cadReg.Summaries(), canvasReg.Summaries()...)
	n.http = httpapi.New(n.queue, httpapi.Options{
		Token:     cfg.HTTP.Token,
		WaitBound: cfg.HTTP.WaitBound.Duration,
		Commands:  all,
	})
	return n, nil
}

// Ready is closed once both transports are bound.
func (n *Node) Ready() <-chan struct{} { return n.ready }

// SocketAddr returns the bound socket address. Valid after Ready.
func (n *Node) SocketAddr() string { return n.socket.Addr().String() }

// HTTPAddr returns the bound HTTP address. Valid after Ready.
func (n *Node) HTTPAddr() string { return n.httpLn.Addr().String() }

// Run starts the node daemon. It writes a PID file, binds both transports,
// starts the HTTP server and the canvas cycle, and serves the socket on the
// calling goroutine. It blocks until ctx is cancelled.
func (n *Node) Run(ctx context.Context) error {
	if err := os.MkdirAll(n.dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	pid := os.Getpid()
	if err := os.WriteFile(n.pidPath, []byte(fmt.Sprintf("%d", pid)), 0o644); err != nil {
		return fmt.Errorf("writing pid file: %w", err)
	}
	defer n.Cleanup()

	if err := n.socket.Listen(); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", n.config.HTTP.Addr)
	if err != nil {
		n.socket.Stop()
		return fmt.Errorf("listening on %s: %w", n.config.HTTP.Addr, err)
	}
	n.httpLn = ln

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if httpErr := n.http.Serve(ctx, ln); httpErr != nil {
			slog.Error("http server error", "err", httpErr)
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		n.runCanvas(ctx)
	}()

	close(n.ready)

	// The calling goroutine is the CAD host from here on.
	err = n.socket.Serve(ctx)
	cancel()
	wg.Wait()

	// Anything still queued will never run.
	n.queue.Drain(func(r protocol.CommandRequest) protocol.CommandResponse {
		return protocol.Fail(r.ID, protocol.Errorf(protocol.KindInternal, "host shutting down"))
	})
	return err
}

// runCanvas is the canvas host goroutine.
func (n *Node) runCanvas(ctx context.Context) {
	ticker := time.NewTicker(n.config.HTTP.CycleInterval.Duration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.Cycle(ctx)
		}
	}
}

// Cycle runs every request queued so far through the canvas executor, in
// arrival order. It must only be called from the canvas host goroutine.
func (n *Node) Cycle(ctx context.Context) int {
	return n.queue.Drain(func(r protocol.CommandRequest) protocol.CommandResponse {
		return n.canvasExec.Execute(ctx, n.canvasHost, r)
	})
}

// Cleanup removes the PID file and closes the journal.
func (n *Node) Cleanup() {
	_ = os.Remove(n.pidPath)
	if n.journal != nil {
		if err := n.journal.Close(); err != nil {
			slog.Warn("closing journal", "err", err)
		}
		n.journal = nil
	}
}
