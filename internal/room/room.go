// Package room models the remote broadcast room: its status snapshot, the
// provider that produces it, room id parsing and the local roster.
package room

import (
	"context"
	"errors"
	"fmt"
)

// Status is a single poll result. It is never persisted.
type Status struct {
	IsLive       bool   `json:"is_live"`
	StreamURL    string `json:"stream_url,omitempty"`
	Title        string `json:"title,omitempty"`
	SessionToken string `json:"-"`
	DisplayName  string `json:"display_name,omitempty"`
}

// Resolvable reports whether the room is live and has a playable URL.
// Live without a URL means "unknown", not offline.
func (s Status) Resolvable() bool {
	return s.IsLive && s.StreamURL != ""
}

// Provider answers whether a room is live. Offline is a Status with
// IsLive=false, never an error.
type Provider interface {
	Query(ctx context.Context, roomID string) (Status, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, roomID string) (Status, error)

func (f ProviderFunc) Query(ctx context.Context, roomID string) (Status, error) {
	return f(ctx, roomID)
}

// TransientQueryError is a network or parse failure; callers retry.
type TransientQueryError struct {
	RoomID string
	Err    error
}

func (e *TransientQueryError) Error() string {
	return fmt.Sprintf("query room %s: %v", e.RoomID, e.Err)
}

func (e *TransientQueryError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientQueryError.
func IsTransient(err error) bool {
	var te *TransientQueryError
	return errors.As(err, &te)
}
