package main

import (
	"strings"
	"testing"
)

func TestParseParams(t *testing.T) {
	m, err := parseParams(`{"name":"Walls","visible":false}`, nil)
	if err != nil {
		t.Fatalf("parseParams: %v", err)
	}
	if strings.Join(m.Keys(), ",") != "name,visible" {
		t.Fatalf("keys = %v", m.Keys())
	}

	m, err = parseParams("-", strings.NewReader(`{"code":"print(1)"}`))
	if err != nil || m.Len() != 1 {
		t.Fatalf("stdin params: %v %v", m, err)
	}

	for _, bad := range []string{`[1,2]`, `{"a":`, `"x"`} {
		if _, err := parseParams(bad, nil); err == nil {
			t.Errorf("parseParams(%q) succeeded", bad)
		}
	}
}

func TestHTTPURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"127.0.0.1:9999", "http://127.0.0.1:9999"},
		{"http://host:1/", "http://host:1"},
		{"https://canvas.example", "https://canvas.example"},
	}
	for _, tt := range tests {
		if got := httpURL(tt.in); got != tt.want {
			t.Errorf("httpURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
