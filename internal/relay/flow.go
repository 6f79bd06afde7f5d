package relay

import (
	"errors"
	"sync"
	"time"

	"dmrelay/internal/transport"
)

// State of one confirmation flow.
type State int

const (
	StateAwaitingConfirm State = iota
	StateSending
	StateCompleted
	StateAborted
	StateCancelled
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateAwaitingConfirm:
		return "awaiting_confirm"
	case StateSending:
		return "sending"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	case StateCancelled:
		return "cancelled"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateAborted, StateCancelled, StateTimedOut:
		return true
	}
	return false
}

// Event is a named trigger on a pending flow.
type Event int

const (
	EventConfirm Event = iota
	EventCancel
	EventTimeout
)

// Action tells the UI layer what side effect a transition demands. The
// transition logic itself stays free of framework calls so it can be
// tested in isolation.
type Action int

const (
	ActionNone Action = iota
	ActionStartSend
	ActionEditCancelled
	ActionEditTimedOut
)

var (
	// ErrNotRequester rejects confirm/cancel events from anyone but the
	// original requester.
	ErrNotRequester = errors.New("not your prompt")
	// ErrResolved rejects events on a flow that already left
	// AwaitingConfirm (double presses, presses after timeout).
	ErrResolved = errors.New("prompt already resolved")
)

// Flow is one in-flight confirmation. Created only for Count > 1.
type Flow struct {
	Req Request

	mu      sync.Mutex
	prompt  transport.MessageRef
	state   State
	created time.Time
}

func NewFlow(req Request) *Flow {
	return &Flow{Req: req, state: StateAwaitingConfirm, created: time.Now()}
}

// SetPrompt records where the confirmation prompt was posted. It is set
// once the prompt message exists, before any callback can reference it.
func (f *Flow) SetPrompt(ref transport.MessageRef) {
	f.mu.Lock()
	f.prompt = ref
	f.mu.Unlock()
}

func (f *Flow) PromptRef() transport.MessageRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompt
}

// armed reports whether the prompt message ref has been recorded. Pending
// hides unarmed flows from Get: a callback must never act on a flow whose
// prompt message does not exist yet.
func (f *Flow) armed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompt != (transport.MessageRef{})
}

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Handle applies ev on behalf of actor and returns the side effect the
// caller must perform. Timeout events carry the requester's own identity
// (they originate from the timer, not a user).
func (f *Flow) Handle(actor int64, ev Event) (Action, error) {
	if ev != EventTimeout && actor != f.Req.AuthorID {
		return ActionNone, ErrNotRequester
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateAwaitingConfirm {
		return ActionNone, ErrResolved
	}

	switch ev {
	case EventConfirm:
		f.state = StateSending
		return ActionStartSend, nil
	case EventCancel:
		f.state = StateCancelled
		return ActionEditCancelled, nil
	case EventTimeout:
		f.state = StateTimedOut
		return ActionEditTimedOut, nil
	default:
		return ActionNone, ErrResolved
	}
}

// Finish records the send loop's outcome. It is a no-op unless the flow is
// currently Sending.
func (f *Flow) Finish(outcome State) {
	if outcome != StateCompleted && outcome != StateAborted {
		return
	}
	f.mu.Lock()
	if f.state == StateSending {
		f.state = outcome
	}
	f.mu.Unlock()
}

func (f *Flow) age() time.Duration { return time.Since(f.created) }
