package relay

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
)

// Pending tracks flows awaiting confirmation, keyed by a short token that
// fits Telegram's 64-byte callback_data limit. Tokens never contain ':'.
type Pending struct {
	mu    sync.Mutex
	flows map[string]*Flow
}

func NewPending() *Pending {
	return &Pending{flows: map[string]*Flow{}}
}

// Add registers f and returns its token.
func (p *Pending) Add(f *Flow) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		tok := newToken()
		if _, exists := p.flows[tok]; exists {
			continue
		}
		p.flows[tok] = f
		return tok
	}
}

// Get returns the flow registered under tok. Flows whose prompt message
// has not been recorded yet are invisible; a press racing the prompt send
// is answered as expired and retried by the user.
func (p *Pending) Get(tok string) (*Flow, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.flows[tok]
	if !ok || !f.armed() {
		return nil, false
	}
	return f, true
}

func (p *Pending) Remove(tok string) {
	p.mu.Lock()
	delete(p.flows, tok)
	p.mu.Unlock()
}

func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.flows)
}

// Sweep drops terminal flows and, as a backstop, anything far older than
// the confirmation timeout (the timers normally resolve those). Returns
// the number of entries removed.
func (p *Pending) Sweep() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for tok, f := range p.flows {
		if f.State().Terminal() || f.age() > 2*ConfirmTimeout {
			delete(p.flows, tok)
			n++
		}
	}
	return n
}

// token format: "~" + base64url(6 random bytes) => 9 chars
func newToken() string {
	var buf [6]byte
	_, _ = rand.Read(buf[:])
	return "~" + base64.RawURLEncoding.EncodeToString(buf[:])
}
