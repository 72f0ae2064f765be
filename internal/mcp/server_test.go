package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/codewiresh/cadwire/internal/commands"
	"github.com/codewiresh/cadwire/internal/executor"
	"github.com/codewiresh/cadwire/internal/host"
	"github.com/codewiresh/cadwire/internal/protocol"
	"github.com/codewiresh/cadwire/internal/registry"
	"github.com/codewiresh/cadwire/internal/scene"
)

// localCAD executes commands in-process against a fresh document.
type localCAD struct {
	exec *executor.Executor
	hc   *host.Context
}

func newLocalCAD() *localCAD {
	return &localCAD{
		exec: executor.New(registry.MustNew(commands.CAD()...)),
		hc:   host.NewCAD(scene.NewDocument(), host.NewConsole(nil, nil)),
	}
}

func (l *localCAD) Dispatch(ctx context.Context, req protocol.CommandRequest) (protocol.CommandResponse, error) {
	return l.exec.Execute(ctx, l.hc, req), nil
}

func (l *localCAD) Close() error { return nil }

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("first content is %T", res.Content[0])
	}
	return tc.Text
}

func TestCallToolOK(t *testing.T) {
	res, err := callTool(context.Background(), newLocalCAD(), "layer-list", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", textOf(t, res))
	}
	if !strings.Contains(textOf(t, res), `"name": "Default"`) {
		t.Fatalf("text = %s", textOf(t, res))
	}
}

func TestCallToolValidationError(t *testing.T) {
	res, err := callTool(context.Background(), newLocalCAD(), "object-delete", map[string]any{"id": 7})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.HasPrefix(textOf(t, res), "ValidationError") {
		t.Fatalf("result = %+v", res)
	}
}

func TestCallToolSnapshotImage(t *testing.T) {
	res, err := callTool(context.Background(), newLocalCAD(), "scene-snapshot", map[string]any{
		"capture_image": true,
		"max_size":      32,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError || len(res.Content) != 2 {
		t.Fatalf("result = %+v", res)
	}
	img, ok := res.Content[1].(mcp.ImageContent)
	if !ok || img.MIMEType != "image/png" || img.Data == "" {
		t.Fatalf("image content = %+v", res.Content[1])
	}
	if strings.Contains(textOf(t, res), img.Data) {
		t.Fatal("image data duplicated in text")
	}
}

func TestToolsList(t *testing.T) {
	s := NewServer(newLocalCAD(), commands.All())
	msg := s.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range commands.All() {
		if !strings.Contains(string(data), `"`+d.Name+`"`) {
			t.Fatalf("tool %s not listed: %s", d.Name, data)
		}
	}
}
