// Package store keeps an operator journal of executed commands. The default
// implementation uses SQLite (pure Go, no CGO). The journal is write-only
// from the protocol's point of view: nothing it holds feeds back into a
// command.
package store

import (
	"context"
	"time"
)

// Entry is one executed command.
type Entry struct {
	Seq       int64         `json:"seq" yaml:"seq"`
	At        time.Time     `json:"at" yaml:"at"`
	Host      string        `json:"host" yaml:"host"`
	ID        string        `json:"id" yaml:"id"`
	Name      string        `json:"name" yaml:"name"`
	Params    string        `json:"params" yaml:"params"` // JSON object
	Status    string        `json:"status" yaml:"status"`
	ErrorKind string        `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Message   string        `json:"message,omitempty" yaml:"message,omitempty"`
	Elapsed   time.Duration `json:"elapsed" yaml:"elapsed"`
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Host   string
	Name   string
	Status string
	Since  time.Time
	// Limit caps the number of entries, newest first. Zero means 100.
	Limit int
}

// Journal stores entries. All methods are safe for concurrent use.
type Journal interface {
	Append(ctx context.Context, e Entry) (int64, error)
	List(ctx context.Context, f Filter) ([]Entry, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
	Close() error
}
