// Package telegram glues the relay core to telebot: the /dm command, the
// confirm/cancel inline keyboard, and the DM delivery primitive with
// classified failures.
package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"dmrelay/internal/audit"
	"dmrelay/internal/metrics"
	"dmrelay/internal/relay"
	"dmrelay/internal/settings"
	"dmrelay/internal/transport"
	"dmrelay/pkg/logx"
	"dmrelay/pkg/tgui"
)

const callbackScope = "relay"

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Bot struct {
	cfg   Config
	log   logx.Logger
	store *settings.Store
	audit audit.Store // nil when auditing is disabled

	bot     *tele.Bot
	pending *relay.Pending

	runMu   sync.Mutex
	runCtx  context.Context
	running atomic.Bool
}

func New(cfg Config, store *settings.Store, auditor audit.Store, log logx.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	b := &Bot{
		cfg:     cfg,
		log:     log,
		store:   store,
		audit:   auditor,
		pending: relay.NewPending(),
	}

	tb, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		OnError: func(err error, c tele.Context) {
			b.log.Error("handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	b.bot = tb

	tb.Handle("/dm", b.handleDM)
	tb.Handle(tele.OnCallback, b.handleCallback)
	return b, nil
}

// Start launches long polling. It returns once polling is running; ctx
// cancellation stops the bot.
func (b *Bot) Start(ctx context.Context) {
	b.runMu.Lock()
	b.runCtx = ctx
	b.runMu.Unlock()
	b.running.Store(true)

	// Best-effort: publish the command in Telegram's menu.
	if err := b.bot.SetCommands([]tele.Command{
		{Text: "dm", Description: "Relay a direct message to a user (authorized only)"},
	}); err != nil {
		b.log.Warn("setMyCommands failed", logx.Err(err))
	}

	go func() {
		<-ctx.Done()
		b.running.Store(false)
		b.bot.Stop()
	}()
	go func() {
		b.log.Info("polling started", logx.String("bot", b.bot.Me.Username))
		b.bot.Start()
		b.log.Info("polling stopped")
		b.running.Store(false)
	}()
}

// Ready reports whether the bot is polling (used by the ops health check).
func (b *Bot) Ready() bool { return b.running.Load() }

// SweepPending drops resolved confirmation flows; wired to a cron job.
func (b *Bot) SweepPending() {
	if n := b.pending.Sweep(); n > 0 {
		b.log.Debug("pending flows swept", logx.Int("count", n))
	}
}

// SendDM implements transport.Deliverer. In Telegram a "DM" is a message
// to the private chat whose id equals the user id.
func (b *Bot) SendDM(ctx context.Context, userID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.bot.Send(&tele.Chat{ID: userID}, text)
	return classifyTeleError(err)
}

func (b *Bot) handleDM(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	req, reject := checkRequest(b.store, sender.ID, c.Message().Payload)
	if reject != "" {
		return c.Reply("❌ " + reject)
	}

	b.log.Info("dm command",
		logx.Int64("from", sender.ID),
		logx.String("from_username", sender.Username),
		logx.Int64("target", req.TargetID),
		logx.Int("count", req.Count),
	)

	if !req.NeedsConfirmation() {
		return b.sendSingle(c, req)
	}
	return b.promptConfirmation(c, req)
}

// checkRequest gates one /dm invocation: authorization strictly first, so
// unauthorized callers get nothing but the rejection, then argument
// parsing and bounds. A non-empty reject message means the request must
// not proceed; rejections have no side effects.
func checkRequest(store *settings.Store, senderID int64, payload string) (relay.Request, string) {
	if !store.Authorized(senderID) {
		metrics.Rejections.WithLabelValues("unauthorized").Inc()
		return relay.Request{}, "You are not authorized to use this command."
	}

	target, count, text, err := parseDMArgs(payload)
	if err != nil {
		return relay.Request{}, err.Error()
	}

	req := relay.Request{AuthorID: senderID, TargetID: target, Text: text, Count: count}
	if err := req.Validate(); err != nil {
		metrics.Rejections.WithLabelValues("bounds").Inc()
		return relay.Request{}, err.Error()
	}
	return req, ""
}

// sendSingle is the count==1 fast path: one synchronous attempt, immediate
// response, no state machine.
func (b *Bot) sendSingle(c tele.Context, req relay.Request) error {
	ctx, cancel := context.WithTimeout(b.runContext(), 30*time.Second)
	defer cancel()

	rep := relay.Send(ctx, b, b.store, req, b.log)
	b.finishJob(req, rep)

	if rep.Completed() {
		return c.Reply("✅ Message delivered.")
	}
	return c.Reply(fmt.Sprintf("⚠️ Delivery failed (%s).", rep.Cause))
}

func (b *Bot) promptConfirmation(c tele.Context, req relay.Request) error {
	flow := relay.NewFlow(req)
	tok := b.pending.Add(flow)

	kb := tgui.ConfirmInline(
		tgui.Btn("I agree, send", tgui.Data(callbackScope, "confirm", tok)),
		tgui.Btn("Cancel", tgui.Data(callbackScope, "cancel", tok)),
	)
	prompt := fmt.Sprintf(
		"⚠️ Repeated send warning\n\nYou are about to send %d messages to user %d.\nYou alone are responsible for the consequences.\n\nThis prompt expires in %d seconds.",
		req.Count, req.TargetID, int(relay.ConfirmTimeout.Seconds()),
	)

	msg, err := b.bot.Reply(c.Message(), prompt, kb.Markup())
	if err != nil {
		b.pending.Remove(tok)
		return err
	}
	flow.SetPrompt(transport.MessageRef{ChatID: msg.Chat.ID, MessageID: msg.ID})

	time.AfterFunc(relay.ConfirmTimeout, func() {
		act, err := flow.Handle(req.AuthorID, relay.EventTimeout)
		if err != nil || act != relay.ActionEditTimedOut {
			return
		}
		b.pending.Remove(tok)
		metrics.SendJobs.WithLabelValues(relay.StateTimedOut.String()).Inc()
		b.editPrompt(flow, "⌛ Confirmation timed out; nothing was sent.")
	})
	return nil
}

func (b *Bot) handleCallback(c tele.Context) error {
	cb := c.Callback()
	sender := c.Sender()
	if cb == nil || sender == nil {
		return nil
	}

	scope, action, tok := tgui.SplitData(cb.Data)
	if scope != callbackScope {
		return c.Respond(&tele.CallbackResponse{})
	}

	flow, ok := b.pending.Get(tok)
	if !ok {
		return c.Respond(&tele.CallbackResponse{Text: "This prompt has expired."})
	}

	var ev relay.Event
	switch action {
	case "confirm":
		ev = relay.EventConfirm
	case "cancel":
		ev = relay.EventCancel
	default:
		return c.Respond(&tele.CallbackResponse{})
	}

	act, err := flow.Handle(sender.ID, ev)
	switch err {
	case nil:
	case relay.ErrNotRequester:
		return c.Respond(&tele.CallbackResponse{Text: "This is not your prompt!"})
	case relay.ErrResolved:
		return c.Respond(&tele.CallbackResponse{Text: "This prompt is no longer active."})
	default:
		return c.Respond(&tele.CallbackResponse{Text: "Something went wrong."})
	}

	switch act {
	case relay.ActionEditCancelled:
		b.pending.Remove(tok)
		metrics.SendJobs.WithLabelValues(relay.StateCancelled.String()).Inc()
		b.editPrompt(flow, "❌ Operation cancelled.")
		return c.Respond(&tele.CallbackResponse{Text: "Cancelled."})

	case relay.ActionStartSend:
		b.editPrompt(flow, fmt.Sprintf("✅ Confirmed. Sending %d messages to user %d…", flow.Req.Count, flow.Req.TargetID))
		// The loop runs on its own goroutine so other interactions stay
		// responsive; only this flow is busy until it finishes.
		go b.runSend(flow, tok)
		return c.Respond(&tele.CallbackResponse{Text: "Sending…"})
	}
	return c.Respond(&tele.CallbackResponse{})
}

func (b *Bot) runSend(flow *relay.Flow, tok string) {
	defer b.pending.Remove(tok)

	rep := relay.Send(b.runContext(), b, b.store, flow.Req, b.log)
	if rep.Completed() {
		flow.Finish(relay.StateCompleted)
	} else {
		flow.Finish(relay.StateAborted)
	}
	b.finishJob(flow.Req, rep)

	report := fmt.Sprintf(
		"📬 Send report\n\nTarget user: %d\nDelivered: %d\nFailed: %d",
		rep.Target, rep.Sent, rep.Failed,
	)
	if rep.Cause == relay.CauseRateLimited {
		report += "\n\n⚠️ The bot was rate limited; raise the delay with set_speed before retrying."
	}
	ref := flow.PromptRef()
	if _, err := b.bot.Send(&tele.Chat{ID: ref.ChatID}, report); err != nil {
		b.log.Warn("report send failed", logx.Err(err))
	}
}

// finishJob records metrics and the audit entry for a finished job.
func (b *Bot) finishJob(req relay.Request, rep relay.Report) {
	outcome := relay.StateCompleted.String()
	if !rep.Completed() {
		outcome = relay.StateAborted.String()
	}
	metrics.SendJobs.WithLabelValues(outcome).Inc()

	if b.audit == nil {
		return
	}
	e := audit.Entry{
		At:        time.Now(),
		ActorID:   req.AuthorID,
		TargetID:  req.TargetID,
		Requested: rep.Requested,
		Sent:      rep.Sent,
		Failed:    rep.Failed,
		Outcome:   outcome,
		Cause:     string(rep.Cause),
		TookMS:    rep.Took.Milliseconds(),
	}
	if rep.Err != nil {
		e.Error = rep.Err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.audit.Append(ctx, e); err != nil {
		b.log.Warn("audit append failed", logx.Err(err))
	}
}

// editPrompt replaces the prompt text and drops the inline keyboard.
func (b *Bot) editPrompt(flow *relay.Flow, text string) {
	ref := flow.PromptRef()
	if ref.ChatID == 0 {
		return
	}
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	if _, err := b.bot.Edit(m, text); err != nil {
		b.log.Warn("prompt edit failed", logx.Err(err))
	}
}

func (b *Bot) runContext() context.Context {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.runCtx != nil {
		return b.runCtx
	}
	return context.Background()
}
