package registry

import (
	"encoding/json"
)

// JSONSchema renders the descriptor's parameters as a JSON Schema object,
// the shape MCP tool definitions and the /commands listing use.
func (d *Descriptor) JSONSchema() json.RawMessage {
	props := make(map[string]any, len(d.Params))
	required := []string{}
	for _, p := range d.Params {
		prop := map[string]any{}
		if p.Kind != KindAny {
			prop["type"] = string(p.Kind)
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	data, err := json.Marshal(schema)
	if err != nil {
		// Only strings and maps of strings go in; Marshal cannot fail.
		panic(err)
	}
	return data
}

// Summary is the listing form of a command.
type Summary struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Host        string          `json:"host"`
	Params      json.RawMessage `json:"params"`
}

// Summaries lists every command, sorted by name.
func (r *Registry) Summaries() []Summary {
	out := make([]Summary, 0, len(r.names))
	for _, d := range r.Descriptors() {
		out = append(out, Summary{
			Name:        d.Name,
			Description: d.Description,
			Host:        string(d.Host),
			Params:      d.JSONSchema(),
		})
	}
	return out
}
