// Package bot wires the application: config, logging, storage, the
// Telegram adapter, and the bot's services (admission, fan-out, stats).
package bot

import (
	"context"
	"fmt"
	"time"

	"joinbot/internal/admission"
	"joinbot/internal/config"
	"joinbot/internal/directory"
	"joinbot/internal/fanout"
	"joinbot/internal/invites"
	"joinbot/internal/media"
	rtsup "joinbot/internal/runtime/supervisor"
	"joinbot/internal/stats"
	"joinbot/internal/storage"
	kit "joinbot/internal/transport"
	"joinbot/internal/transport/telegram"
	"joinbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	adapter kit.Adapter
	store   storage.Store
	dir     *directory.Directory
	links   *invites.Cache
	engine  *fanout.Engine
	adm     *admission.Controller
	stats   *stats.Service
	router  *Router

	sup     *rtsup.Supervisor
	updates chan kit.Update

	welcomeVideoURL string
	videoPath       string
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(logs.Logger().With(logx.String("comp", "config")))

	pollTimeout, err := config.ParseDuration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		RatePerSec:  cfg.Telegram.RatePerSec,
	}, logs.Logger().With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	busyTimeout, err := config.ParseDuration("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, logs.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	dir, err := directory.Open(context.Background(), store, logs.Logger().With(logx.String("comp", "directory")))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("directory: %w", err)
	}

	links := invites.New(store, adapter, logs.Logger().With(logx.String("comp", "invites")))

	reporter := NewReporter(adapter, cfg.Telegram.AdminChat, logs.Logger().With(logx.String("comp", "reporter")))

	historyTTL, err := config.ParseDuration("broadcast.history_ttl", cfg.Broadcast.HistoryTTL, 0)
	if err != nil {
		return nil, err
	}
	engine := fanout.New(fanout.Config{
		HistoryMax: cfg.Broadcast.HistoryMax,
		HistoryTTL: historyTTL,
	}, dir, adapter, reporter, logs.Logger().With(logx.String("comp", "fanout")))

	greeter := admission.NewGreeter(admission.WelcomeConfig{
		VideoPath:   cfg.Welcome.VideoPath,
		PromoHandle: cfg.Welcome.PromoHandle,
	}, links, adapter, logs.Logger().With(logx.String("comp", "welcome")))

	adm := admission.New(adapter, dir, greeter, logs.Logger().With(logx.String("comp", "admission")))

	statsSvc := stats.New(stats.Config{
		Enabled:   cfg.Stats.Enabled,
		Schedule:  cfg.Stats.Schedule,
		Timezone:  cfg.Stats.Timezone,
		AdminChat: cfg.Telegram.AdminChat,
	}, dir, adapter, logs.Logger().With(logx.String("comp", "stats")))

	cmds := NewCommands(cfg.Telegram, cfg.Welcome, adapter, links, statsSvc, engine,
		logs.Logger().With(logx.String("comp", "commands")))
	router := NewRouter(cfg.Telegram, adapter, dir, adm, engine, cmds,
		logs.Logger().With(logx.String("comp", "router")))

	return &App{
		cfgm:            cfgm,
		logs:            logs,
		log:             log,
		adapter:         adapter,
		store:           store,
		dir:             dir,
		links:           links,
		engine:          engine,
		adm:             adm,
		stats:           statsSvc,
		router:          router,
		updates:         make(chan kit.Update, 256),
		welcomeVideoURL: cfg.Welcome.VideoURL,
		videoPath:       cfg.Welcome.VideoPath,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))
	sup := a.sup

	// Welcome video: fetch once if missing. A failed fetch degrades
	// welcome delivery but must not keep the bot down.
	if a.videoPath != "" {
		if err := media.Ensure(sup.Context(), a.videoPath, a.welcomeVideoURL, a.log); err != nil {
			a.log.Warn("welcome video unavailable", logx.Err(err))
		}
	}

	// Detached welcome tasks run under the app supervisor so panics are
	// recovered and shutdown waits for them.
	a.adm.SetSpawner(func(name string, fn func(ctx context.Context)) {
		sup.Go(name, fn)
	})

	if err := a.stats.Start(sup.Context()); err != nil {
		return err
	}

	if err := a.adapter.Start(sup.Context(), a.updates); err != nil {
		return err
	}

	// Update pump: each update runs in its own supervised goroutine so a
	// long fan-out never blocks join admissions behind it.
	sup.Go("updates.pump", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case up := <-a.updates:
				sup.Go("updates.dispatch", func(ctx context.Context) {
					a.router.Dispatch(ctx, up)
				})
			}
		}
	})

	// Config hot reload: logging is the only live-tunable section; the
	// rest requires a restart.
	sup.Go("config.watch", func(ctx context.Context) {
		if err := a.cfgm.Watch(ctx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	})
	sub := a.cfgm.Subscribe(1)
	sup.Go("config.apply", func(ctx context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case cfg := <-sub:
				if cfg == nil {
					continue
				}
				a.logs.Apply(logx.Config{
					Level:   cfg.Logging.Level,
					Console: cfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: cfg.Logging.File.Enabled,
						Path:    cfg.Logging.File.Path,
					},
				})
				a.log.Info("logging config applied", logx.String("level", cfg.Logging.Level))
			}
		}
	})

	a.log.Info("bot started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.stats.Stop(ctx)
	if err := a.adapter.Stop(ctx); err != nil {
		a.log.Warn("adapter stop", logx.Err(err))
	}
	var err error
	if a.sup != nil {
		err = a.sup.Stop(ctx)
	}
	if cerr := a.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	_ = a.logs.Close()
	return err
}
