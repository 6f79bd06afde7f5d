// Package transport defines the platform-neutral seam between the relay
// core and the chat framework. The core only needs a direct-message
// primitive and a stable classification of its failure modes.
package transport

import (
	"context"
	"errors"
)

// Deliverer sends one direct message to a user. Implementations must wrap
// platform failures with ErrRateLimited / ErrForbidden where they apply so
// callers can classify with errors.Is.
type Deliverer interface {
	SendDM(ctx context.Context, userID int64, text string) error
}

// Delivery failure classes. Anything not wrapped with one of these is
// treated as a generic transport error.
var (
	ErrRateLimited = errors.New("delivery rate limited")
	ErrForbidden   = errors.New("recipient unreachable")
)

// MessageRef identifies a sent message for later edits.
type MessageRef struct {
	ChatID    int64
	MessageID int
}
