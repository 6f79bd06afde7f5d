// Package relay implements the repeated-send confirmation flow: a small
// state machine per request, a throttled sequential send loop with
// abort-on-first-error semantics, and a registry of pending confirmations.
// It is transport-agnostic; the Telegram glue lives in
// internal/transport/telegram.
package relay

import (
	"errors"
	"fmt"
	"time"
)

const (
	// MaxSendCount bounds the repeat count of one request.
	MaxSendCount = 10
	// ConfirmTimeout is how long a confirmation prompt stays actionable.
	ConfirmTimeout = 60 * time.Second
	// DefaultText is sent when the requester gives no message.
	DefaultText = "Hello! You have a new message from the server."
)

var ErrCountOutOfRange = fmt.Errorf("send count must be between 1 and %d", MaxSendCount)

// Request captures one relay invocation. It lives for the duration of the
// confirmation flow and is discarded afterwards.
type Request struct {
	AuthorID int64
	TargetID int64
	Text     string
	Count    int
}

// Validate checks bounds and fills the default text. Authorization is the
// caller's job (it needs the settings store).
func (r *Request) Validate() error {
	if r.TargetID == 0 {
		return errors.New("missing target user")
	}
	if r.Count < 1 || r.Count > MaxSendCount {
		return ErrCountOutOfRange
	}
	if r.Text == "" {
		r.Text = DefaultText
	}
	return nil
}

// NeedsConfirmation reports whether the request must pass the confirm
// prompt before sending. Single sends bypass the state machine entirely.
func (r Request) NeedsConfirmation() bool { return r.Count > 1 }
