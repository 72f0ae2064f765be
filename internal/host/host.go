// Package host defines the handle every command handler receives. It holds
// the live document of one host and the console that scripts print to.
package host

import (
	"bytes"
	"io"
	"log/slog"

	"github.com/codewiresh/cadwire/internal/canvas"
	"github.com/codewiresh/cadwire/internal/scene"
)

// Kind names one of the two hosts.
type Kind string

const (
	// CAD is the geometry host reached over the socket transport.
	CAD Kind = "cad"
	// Canvas is the visual-programming host reached over HTTP.
	Canvas Kind = "canvas"
)

// Context is the explicit handle to host state. Only the host's own
// goroutine may use it. Scene is set on the CAD host and Canvas on the
// canvas host.
type Context struct {
	Kind    Kind
	Scene   *scene.Document
	Canvas  *canvas.Graph
	Console *Console
}

// NewCAD returns a handle for the CAD host.
func NewCAD(doc *scene.Document, console *Console) *Context {
	return &Context{Kind: CAD, Scene: doc, Console: console}
}

// NewCanvas returns a handle for the canvas host.
func NewCanvas(g *canvas.Graph, console *Console) *Context {
	return &Context{Kind: Canvas, Canvas: g, Console: console}
}

// Console is the host's standard output and standard error.
type Console struct {
	stdout io.Writer
	stderr io.Writer
}

// NewConsole returns a console writing to stdout and stderr. Nil writers
// discard.
func NewConsole(stdout, stderr io.Writer) *Console {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	return &Console{stdout: stdout, stderr: stderr}
}

// Stdout returns the current standard output.
func (c *Console) Stdout() io.Writer { return c.stdout }

// Stderr returns the current standard error.
func (c *Console) Stderr() io.Writer { return c.stderr }

// Redirect swaps both streams and returns the function that restores the
// previous ones. Callers defer the restore.
func (c *Console) Redirect(stdout, stderr io.Writer) (restore func()) {
	prevOut, prevErr := c.stdout, c.stderr
	c.stdout, c.stderr = stdout, stderr
	return func() {
		c.stdout, c.stderr = prevOut, prevErr
	}
}

// LogWriter forwards complete lines to slog at debug level, tagged with the
// host and stream. Partial lines are held until the newline arrives.
type LogWriter struct {
	host   Kind
	stream string
	buf    bytes.Buffer
}

// NewLogWriter returns a LogWriter for one console stream.
func NewLogWriter(host Kind, stream string) *LogWriter {
	return &LogWriter{host: host, stream: stream}
}

func (w *LogWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadBytes('\n')
		if err != nil {
			// Put the partial line back.
			rest := append([]byte(nil), line...)
			w.buf.Reset()
			w.buf.Write(rest)
			break
		}
		slog.Debug("console", "host", w.host, "stream", w.stream, "line", plainText(string(bytes.TrimRight(line, "\n"))))
	}
	return len(p), nil
}
