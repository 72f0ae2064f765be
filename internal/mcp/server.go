// Package mcp exposes the command catalog of both hosts as MCP tools over
// stdio. Each tool call is forwarded through a client.Dispatcher.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/codewiresh/cadwire/internal/client"
	"github.com/codewiresh/cadwire/internal/protocol"
	"github.com/codewiresh/cadwire/internal/registry"
)

// Version is reported to MCP clients during initialization.
var Version = "0.1.0"

// NewServer registers one tool per descriptor. Calls go to d.
func NewServer(d client.Dispatcher, descs []registry.Descriptor) *server.MCPServer {
	s := server.NewMCPServer("cadwire", Version, server.WithToolCapabilities(true))
	for i := range descs {
		desc := &descs[i]
		tool := mcp.NewToolWithRawSchema(desc.Name, desc.Description, desc.JSONSchema())
		name := desc.Name
		s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return callTool(ctx, d, name, req.GetArguments())
		})
	}
	return s
}

// Serve runs the MCP server on stdin/stdout until the client disconnects.
func Serve(ctx context.Context, d client.Dispatcher, descs []registry.Descriptor) error {
	s := NewServer(d, descs)
	slog.Info("mcp server starting", "tools", len(descs))
	return server.ServeStdio(s, server.WithStdioContextFunc(func(context.Context) context.Context {
		return ctx
	}))
}

func callTool(ctx context.Context, d client.Dispatcher, name string, args map[string]any) (*mcp.CallToolResult, error) {
	params, err := paramsOf(args)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("MalformedMessage: %v", err)), nil
	}
	resp, err := d.Dispatch(ctx, client.NewRequest(name, params))
	if err != nil {
		// Transport failures are reported to the model, not the MCP session.
		return mcp.NewToolResultError(fmt.Sprintf("transport error: %v", err)), nil
	}
	if resp.Status == protocol.StatusError {
		return mcp.NewToolResultError(resp.Err.Error()), nil
	}
	return resultOf(resp.Result)
}

func paramsOf(args map[string]any) (*protocol.Map, error) {
	if len(args) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	v, err := protocol.ParseValue(data)
	if err != nil {
		return nil, err
	}
	m, ok := v.(*protocol.Map)
	if !ok {
		return nil, fmt.Errorf("arguments must be an object")
	}
	return m, nil
}

// resultOf renders a result as JSON text. A scene snapshot's PNG becomes
// an image content block and is dropped from the text.
func resultOf(result protocol.Value) (*mcp.CallToolResult, error) {
	text, image, mediaType := splitImage(result)
	data, err := json.MarshalIndent(text, "", "  ")
	if err != nil {
		return nil, err
	}
	if image == "" {
		return mcp.NewToolResultText(string(data)), nil
	}
	return mcp.NewToolResultImage(string(data), image, mediaType), nil
}

func splitImage(result protocol.Value) (protocol.Value, string, string) {
	if result == nil {
		return protocol.Null{}, "", ""
	}
	m, ok := result.(*protocol.Map)
	if !ok {
		return result, "", ""
	}
	v, ok := m.Get("image")
	if !ok {
		return result, "", ""
	}
	im, ok := v.(*protocol.Map)
	if !ok {
		return result, "", ""
	}
	data, _ := im.Get("data")
	s, ok := data.(protocol.String)
	if !ok {
		return result, "", ""
	}
	mediaType := "image/png"
	if mt, ok := im.Get("media_type"); ok {
		if str, ok := mt.(protocol.String); ok {
			mediaType = string(str)
		}
	}

	rest := protocol.NewMap()
	for _, k := range m.Keys() {
		if k == "image" {
			continue
		}
		e, _ := m.Get(k)
		rest.Set(k, e)
	}
	meta := protocol.NewMap()
	for _, k := range im.Keys() {
		if k == "data" {
			continue
		}
		e, _ := im.Get(k)
		meta.Set(k, e)
	}
	rest.Set("image", meta)
	return rest, string(s), mediaType
}
