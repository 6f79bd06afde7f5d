// Package app wires the bot together: settings store, console loop,
// Telegram transport, audit store, cron maintenance and the ops server.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"dmrelay/internal/audit"
	"dmrelay/internal/config"
	"dmrelay/internal/console"
	"dmrelay/internal/settings"
	"dmrelay/internal/transport/telegram"
	"dmrelay/pkg/logx"
)

type App struct {
	cfg *config.Config
	log logx.Logger

	store   *settings.Store
	auditor audit.Store
	bot     *telegram.Bot
	cron    *cron.Cron
}

// New builds the app from the config file and the BOT_TOKEN environment
// variable. A missing token is the one startup condition treated as fatal.
func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	log, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		return nil, err
	}

	token := strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	if token == "" {
		token = strings.TrimSpace(cfg.Telegram.Token)
	}
	if token == "" {
		return nil, fmt.Errorf("BOT_TOKEN environment variable is not set")
	}

	store, err := settings.Open(cfg.Settings.Path, log.With(logx.String("comp", "settings")))
	if err != nil {
		return nil, err
	}

	auditor, err := audit.Open(audit.Config{
		Driver: cfg.Audit.Driver,
		Path:   cfg.Audit.Path,
	}, log.With(logx.String("comp", "audit")))
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}

	pollTimeout, err := parseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}

	bot, err := telegram.New(telegram.Config{
		Token:       token,
		PollTimeout: pollTimeout,
	}, store, auditor, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	return &App{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "app")),
		store:   store,
		auditor: auditor,
		bot:     bot,
		cron:    cron.New(),
	}, nil
}

// Ready reports whether the Telegram connection is polling.
func (a *App) Ready() bool { return a.bot.Ready() }

// OpsAddr returns the configured ops listener address ("" = disabled).
func (a *App) OpsAddr() string { return a.cfg.Ops.Addr }

// Logger exposes the root logger for the process entry point.
func (a *App) Logger() logx.Logger { return a.log }

// Start launches all long-lived workers. They stop when ctx is cancelled.
func (a *App) Start(ctx context.Context) error {
	a.bot.Start(ctx)

	go console.New(a.store, os.Stdout, a.log.With(logx.String("comp", "console"))).Run(ctx, os.Stdin)

	if a.cfg.Settings.Watch {
		go a.store.Watch(ctx)
	}

	if _, err := a.cron.AddFunc("@every 1m", a.bot.SweepPending); err != nil {
		return err
	}
	if a.auditor != nil && a.cfg.Audit.RetainDays > 0 {
		retain := a.cfg.Audit.RetainDays
		if _, err := a.cron.AddFunc("@daily", func() { a.pruneAudit(retain) }); err != nil {
			return err
		}
	}
	a.cron.Start()

	a.log.Info("started",
		logx.Int("authorized_users", a.store.Count()),
		logx.Duration("send_delay", a.store.Delay()),
		logx.String("audit_driver", a.cfg.Audit.Driver),
	)
	return nil
}

func (a *App) pruneAudit(retainDays int) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	cutoff := time.Now().AddDate(0, 0, -retainDays)
	n, err := a.auditor.Prune(ctx, cutoff)
	if err != nil {
		a.log.Warn("audit prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		a.log.Info("audit pruned", logx.Int64("dropped", n))
	}
}

// Stop releases resources after the run context is cancelled.
func (a *App) Stop() {
	stopCtx := a.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
	}
	if a.auditor != nil {
		_ = a.auditor.Close()
	}
	_ = a.log.Close()
}

func parseDurationOrDefault(field, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
