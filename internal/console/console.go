// Package console implements the operator command loop. It reads
// line-oriented commands from an abstract input stream (stdin in
// production) and mutates the settings store. The loop never terminates on
// a bad command; every line is processed under a panic guard.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"dmrelay/internal/metrics"
	"dmrelay/internal/settings"
	"dmrelay/pkg/logx"
)

type handlerFunc func(args []string)

type Processor struct {
	log   logx.Logger
	store *settings.Store
	out   io.Writer

	handlers map[string]handlerFunc
}

func New(store *settings.Store, out io.Writer, log logx.Logger) *Processor {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Processor{log: log, store: store, out: out}
	p.handlers = map[string]handlerFunc{
		"add_user":    p.addUser,
		"remove_user": p.removeUser,
		"set_speed":   p.setSpeed,
		"status":      p.status,
		"list_users":  p.listUsers,
		"help":        p.help,
	}
	return p
}

// Run reads lines from r until EOF or ctx cancellation. It is meant to be
// run as a long-lived goroutine; with stdin it will block in Scan until
// the process exits, which is fine for a daemon.
func (p *Processor) Run(ctx context.Context, r io.Reader) {
	p.printf("console ready; type 'help' for commands")
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		p.handleLine(sc.Text())
	}
	if err := sc.Err(); err != nil {
		p.log.Warn("console input closed", logx.Err(err))
	}
}

// handleLine dispatches one input line. Panics are contained here so a
// broken handler cannot kill the loop.
func (p *Processor) handleLine(line string) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("console command panicked",
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			p.printf("error processing command: %v", r)
		}
	}()

	parts := strings.Fields(line)
	if len(parts) == 0 {
		return
	}
	cmd := strings.ToLower(parts[0])

	h, ok := p.handlers[cmd]
	if !ok {
		// Lines starting with '[' are most likely our own log lines echoed
		// back into the console stream; stay quiet for those.
		if !strings.HasPrefix(line, "[") {
			metrics.ConsoleCommands.WithLabelValues("unknown").Inc()
			p.printf("unknown command %q; type 'help' for commands", cmd)
		}
		return
	}
	metrics.ConsoleCommands.WithLabelValues(cmd).Inc()
	h(parts[1:])
}

func (p *Processor) addUser(args []string) {
	if len(args) < 1 || !isDigits(args[0]) {
		p.printf("usage: add_user <user-id>")
		return
	}
	id := args[0]
	if p.store.AddUser(id) {
		p.printf("added user id %s", id)
	} else {
		p.printf("user id %s already in list", id)
	}
}

func (p *Processor) removeUser(args []string) {
	if len(args) < 1 || !isDigits(args[0]) {
		p.printf("usage: remove_user <user-id>")
		return
	}
	id := args[0]
	if p.store.RemoveUser(id) {
		p.printf("removed user id %s", id)
	} else {
		p.printf("user id %s not in list", id)
	}
}

func (p *Processor) setSpeed(args []string) {
	if len(args) < 1 {
		p.printf("usage: set_speed <seconds>")
		return
	}
	secs, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		p.printf("invalid number %q", args[0])
		return
	}
	d := time.Duration(secs * float64(time.Second))
	if err := p.store.SetDelay(d); err != nil {
		p.printf("rejected: %v", err)
		return
	}
	p.printf("send delay set to %s", p.store.Delay())
}

func (p *Processor) status(args []string) {
	p.printf("send delay: %s | authorized users: %d", p.store.Delay(), p.store.Count())
}

func (p *Processor) listUsers(args []string) {
	users := p.store.Users()
	if len(users) == 0 {
		p.printf("authorized users: (empty)")
		return
	}
	p.printf("authorized users:")
	for _, id := range users {
		p.printf("- %s", id)
	}
}

func (p *Processor) help(args []string) {
	p.printf("commands:")
	p.printf("  add_user <user-id>    add an authorized user")
	p.printf("  remove_user <user-id> remove an authorized user")
	p.printf("  list_users            show all authorized users")
	p.printf("  set_speed <seconds>   set the delay between sends")
	p.printf("  status                show current settings")
}

func (p *Processor) printf(format string, a ...any) {
	fmt.Fprintf(p.out, "[console] "+format+"\n", a...)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
