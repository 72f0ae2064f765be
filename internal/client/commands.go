package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/codewiresh/cadwire/internal/protocol"
	"github.com/codewiresh/cadwire/internal/registry"
	"github.com/codewiresh/cadwire/internal/store"
	"github.com/codewiresh/cadwire/internal/terminal"
)

// Output formats.
const (
	FormatAuto  = "auto"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
	FormatTable = "table"
)

// ParseFormat validates an --output value.
func ParseFormat(s string) (string, error) {
	switch s {
	case "", FormatAuto:
		return FormatAuto, nil
	case FormatJSON, FormatYAML, FormatTable:
		return s, nil
	}
	return "", fmt.Errorf("unknown output format %q (want json, yaml or table)", s)
}

// CommandError is returned by Call when the host answered with status
// error. The response has already been printed.
type CommandError struct {
	Err *protocol.Error
}

func (e *CommandError) Error() string { return e.Err.Error() }

// ---------------------------------------------------------------------------
// Call
// ---------------------------------------------------------------------------

// Call dispatches one command and prints the full response.
func Call(ctx context.Context, d Dispatcher, w io.Writer, name string, params *protocol.Map, format string) (protocol.CommandResponse, error) {
	resp, err := d.Dispatch(ctx, NewRequest(name, params))
	if err != nil {
		return resp, err
	}
	if err := printValue(w, resp, format); err != nil {
		return resp, err
	}
	if resp.Status == protocol.StatusError {
		return resp, &CommandError{Err: resp.Err}
	}
	return resp, nil
}

// SaveSnapshotImage writes the PNG carried by a scene-snapshot result to
// path. It reports false when the result holds no image.
func SaveSnapshotImage(result protocol.Value, path string) (bool, error) {
	m, ok := result.(*protocol.Map)
	if !ok {
		return false, nil
	}
	img, ok := m.Get("image")
	if !ok {
		return false, nil
	}
	im, ok := img.(*protocol.Map)
	if !ok {
		return false, nil
	}
	data, _ := im.Get("data")
	s, ok := data.(protocol.String)
	if !ok {
		return false, fmt.Errorf("snapshot image has no data")
	}
	raw, err := base64.StdEncoding.DecodeString(string(s))
	if err != nil {
		return false, fmt.Errorf("decoding snapshot image: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return false, fmt.Errorf("writing %s: %w", path, err)
	}
	return true, nil
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

// PrintCommands lists command summaries. The table form fits the
// terminal width.
func PrintCommands(w io.Writer, cmds []registry.Summary, format string) error {
	sort.Slice(cmds, func(i, j int) bool {
		if cmds[i].Host != cmds[j].Host {
			return cmds[i].Host < cmds[j].Host
		}
		return cmds[i].Name < cmds[j].Name
	})
	if format == FormatTable || (format == FormatAuto && terminal.IsTerminal(os.Stdout)) {
		return printCommandTable(w, cmds, terminal.Width())
	}
	return printJSONOrYAML(w, cmds, format)
}

func printCommandTable(w io.Writer, cmds []registry.Summary, width int) error {
	nameW := len("COMMAND")
	for _, c := range cmds {
		if len(c.Name) > nameW {
			nameW = len(c.Name)
		}
	}
	const hostW = 6
	descW := width - nameW - hostW - 4
	if descW < 20 {
		descW = 20
	}
	fmt.Fprintf(w, "%-*s  %-*s  %s\n", nameW, "COMMAND", hostW, "HOST", "DESCRIPTION")
	for _, c := range cmds {
		desc := strings.SplitN(c.Description, ". ", 2)[0]
		fmt.Fprintf(w, "%-*s  %-*s  %s\n", nameW, c.Name, hostW, c.Host, terminal.Truncate(desc, descW))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Journal
// ---------------------------------------------------------------------------

// PrintJournal lists journal entries, newest first.
func PrintJournal(w io.Writer, entries []store.Entry, format string) error {
	if format == FormatTable || (format == FormatAuto && terminal.IsTerminal(os.Stdout)) {
		if len(entries) == 0 {
			fmt.Fprintln(w, "No journal entries")
			return nil
		}
		fmt.Fprintf(w, "%-6s  %-19s  %-6s  %-24s  %-6s  %-9s  %s\n", "SEQ", "TIME", "HOST", "COMMAND", "STATUS", "ELAPSED", "ERROR")
		for _, e := range entries {
			errText := ""
			if e.ErrorKind != "" {
				errText = terminal.Truncate(e.ErrorKind+": "+e.Message, 60)
			}
			fmt.Fprintf(w, "%-6d  %-19s  %-6s  %-24s  %-6s  %-9s  %s\n",
				e.Seq, e.At.Local().Format("2006-01-02 15:04:05"), e.Host, e.Name, e.Status,
				e.Elapsed.Round(time.Microsecond), errText)
		}
		return nil
	}
	return printJSONOrYAML(w, entries, format)
}

// ---------------------------------------------------------------------------
// Formatting
// ---------------------------------------------------------------------------

func printJSONOrYAML(w io.Writer, v any, format string) error {
	if format == FormatYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	var data []byte
	var err error
	if format == FormatJSON || terminal.IsTerminal(os.Stdout) {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// printValue prints a response. YAML keeps map key order.
func printValue(w io.Writer, resp protocol.CommandResponse, format string) error {
	if format != FormatYAML {
		return printJSONOrYAML(w, resp, format)
	}
	data, err := protocol.EncodeResponse(resp)
	if err != nil {
		return err
	}
	v, err := protocol.ParseValue(data)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(yamlNode(v)); err != nil {
		return err
	}
	return enc.Close()
}

// yamlNode converts a Value into a YAML node tree so mappings keep their
// insertion order.
func yamlNode(v protocol.Value) *yaml.Node {
	switch x := v.(type) {
	case nil, protocol.Null:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	case protocol.Bool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: fmt.Sprint(bool(x))}
	case protocol.Number:
		data, _ := x.MarshalJSON()
		tag := "!!float"
		if _, ok := x.Int(); ok {
			tag = "!!int"
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: string(data)}
	case protocol.String:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: string(x)}
	case protocol.List:
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, e := range x {
			n.Content = append(n.Content, yamlNode(e))
		}
		return n
	case *protocol.Map:
		n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, k := range x.Keys() {
			e, _ := x.Get(k)
			n.Content = append(n.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
				yamlNode(e))
		}
		return n
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
}
