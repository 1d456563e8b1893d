// Package app assembles the pieces: config, logging, storage, prompts,
// notification pipeline, the decision engine, and the optional digest and
// metrics endpoints. It owns startup order and graceful shutdown.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"heartbeat/internal/config"
	"heartbeat/internal/engine"
	"heartbeat/internal/event"
	"heartbeat/internal/metrics"
	"heartbeat/internal/notify"
	"heartbeat/internal/prompts"
	"heartbeat/internal/store"
	"heartbeat/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service

	store    store.Store
	rawStore *store.SQLite
	prompts  *prompts.Library
	met      *metrics.Metrics

	notif  *notify.Service
	engine *engine.Engine
	digest *engine.Digest
	msrv   *metrics.Server

	handler event.Handler
	owner   *ownerMarker
	source  event.Source

	watchCancel context.CancelFunc
	watchDone   chan struct{}
}

// New builds the full pipeline from the config file. A store that cannot be
// opened is fatal; optional pieces (telegram sink, digest, metrics) degrade
// to disabled with a warning.
func New(cfgPath string, src event.Source) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.NewConsole("INFO"))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config %q: %w", cfgPath, err)
	}

	logSvc, root := logx.New(mapLoggingConfig(cfg))
	log := root.With(logx.String("comp", "app"))

	met := metrics.New()

	busy, err := config.DurationOr("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(store.Config{
		Path:            cfg.Storage.Path,
		BusyTimeout:     busy,
		RegularStreams:  cfg.Thresholds.RegularViewerStreams,
		RegularAwayDays: cfg.Thresholds.RegularAwayDays,
	}, root.With(logx.String("comp", "store")))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	mst := &meteredStore{Store: st, met: met}

	lib := prompts.New(cfg.Prompts.File, root.With(logx.String("comp", "prompts")))

	sinks, err := buildSinks(cfg, log)
	if err != nil {
		st.Close()
		return nil, err
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}
	notifSvc := notify.New(ncfg, sinks, root.With(logx.String("comp", "notify")))
	mn := &meteredNotifier{notifier: notifSvc, met: met}

	ecfg, err := mapEngineConfig(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}
	eng := engine.New(ecfg, mst, lib, mn, log)

	dig, err := engine.NewDigest(engine.DigestConfig{
		Enabled:    cfg.Digest.Enabled,
		Schedule:   cfg.Digest.Schedule,
		MinStreams: cfg.Digest.MinStreams,
		TopN:       cfg.Digest.TopN,
	}, mst, mn, log)
	if err != nil {
		st.Close()
		return nil, err
	}

	a := &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		store:    mst,
		rawStore: st,
		prompts:  lib,
		met:      met,
		notif:    notifSvc,
		engine:   eng,
		digest:   dig,
		source:   src,
	}
	a.owner = newOwnerMarker(eng, cfg.Channel.Owner)
	a.handler = &meteredHandler{next: a.owner, met: met}

	if cfg.Metrics.Enabled {
		addr := cfg.Metrics.Addr
		if addr == "" {
			addr = "127.0.0.1:9190"
		}
		a.msrv = metrics.NewServer(addr, met, a.refreshGauges, log)
	}
	return a, nil
}

// Handler is the event entry point sources deliver to.
func (a *App) Handler() event.Handler { return a.handler }

func (a *App) Start(ctx context.Context) error {
	a.cfgm.SetLogger(a.log)

	a.notif.Start(ctx)
	a.engine.Start(ctx)
	a.digest.Start()
	if a.msrv != nil {
		a.msrv.Start()
	}

	watchCtx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel
	a.watchDone = make(chan struct{})
	sub := a.cfgm.Subscribe(4)
	go func() {
		defer close(a.watchDone)
		defer a.cfgm.Unsubscribe(sub)
		go func() {
			if err := a.cfgm.Watch(watchCtx); err != nil {
				a.log.Warn("config watch unavailable", logx.Err(err))
			}
		}()
		for {
			select {
			case <-watchCtx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	}()

	if a.source != nil {
		go func() {
			if err := a.source.Run(ctx, a.handler); err != nil && ctx.Err() == nil {
				a.log.Warn("event source stopped", logx.Err(err))
			}
		}()
	}

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify ready failed", logx.Err(err))
	}
	a.log.Info("heartbeat started")
	return nil
}

// Stop tears the pipeline down in reverse start order, bounded by ctx.
func (a *App) Stop(ctx context.Context) error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	if a.watchCancel != nil {
		a.watchCancel()
		<-a.watchDone
	}
	if a.msrv != nil {
		a.msrv.Stop(ctx)
	}
	a.digest.Stop(ctx)
	if err := a.engine.Stop(ctx); err != nil {
		a.log.Warn("engine stop", logx.Err(err))
	}
	a.notif.Stop(ctx)
	if err := a.rawStore.Close(); err != nil {
		a.log.Warn("store close", logx.Err(err))
	}
	a.log.Info("heartbeat stopped")
	return a.logs.Close()
}

// applyConfig pushes hot-reloadable settings into running components.
// Storage, sinks, digest schedule, and the metrics listener need a restart;
// a change there is logged and ignored.
func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(mapLoggingConfig(cfg))
	a.owner.SetOwner(cfg.Channel.Owner)
	a.rawStore.SetRegularThresholds(cfg.Thresholds.RegularViewerStreams, cfg.Thresholds.RegularAwayDays)

	if ecfg, err := mapEngineConfig(cfg); err != nil {
		a.log.Warn("invalid engine config, keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(ecfg)
	}
	if ncfg, err := mapNotifierConfig(cfg); err != nil {
		a.log.Warn("invalid notifier config, keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}
	a.log.Info("runtime config applied")
}

func (a *App) refreshGauges() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if n, err := a.store.Count(ctx); err == nil {
		a.met.SetTrackedViewers(n)
	}
}

func buildSinks(cfg *config.Config, log logx.Logger) ([]notify.Sink, error) {
	var sinks []notify.Sink
	if cfg.Sinks.Console.Enabled {
		sinks = append(sinks, notify.NewConsoleSink(log))
	}
	if cfg.Sinks.Telegram.Enabled {
		token := strings.TrimSpace(os.Getenv("HEARTBEAT_TELEGRAM_TOKEN"))
		if token == "" {
			token = cfg.Sinks.Telegram.Token
		}
		tg, err := notify.NewTelegramSink(notify.TelegramConfig{
			Token:  token,
			ChatID: cfg.Sinks.Telegram.ChatID,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, tg)
	}
	if len(sinks) == 0 {
		// Never run completely silent; notifications are the whole point.
		log.Warn("no sinks enabled, falling back to console")
		sinks = append(sinks, notify.NewConsoleSink(log))
	}
	return sinks, nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	tick, err := config.DurationOr("engine.check_interval", cfg.Engine.CheckInterval, 30*time.Second)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		QuietAfter:          time.Duration(cfg.Thresholds.ChatQuietMinutes) * time.Minute,
		QuietCooldown:       time.Duration(cfg.Cooldowns.ChatQuietCooldown) * time.Minute,
		WelcomeCooldown:     time.Duration(cfg.Cooldowns.ViewerWelcomeCooldown) * time.Minute,
		Milestones:          cfg.Thresholds.LoyaltyMilestones,
		CheckInterval:       tick,
		NotifyRaids:         cfg.Notifications.Raids,
		NotifySubscriptions: cfg.Notifications.Subscriptions,
		NotifyMilestones:    cfg.Notifications.LoyaltyMilestones,
		NotifyWatchStreaks:  cfg.Notifications.WatchStreaks,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notify.Config, error) {
	window, err := config.Duration("notifier.dedup_window", cfg.Notifier.DedupWindow)
	if err != nil {
		return notify.Config{}, err
	}
	return notify.Config{
		QueueSize:   cfg.Notifier.QueueSize,
		RatePerSec:  cfg.Notifier.RatePerSec,
		DedupWindow: window,
	}, nil
}
