// Package app wires configuration, logging, storage, the broadcast engine
// and the HTTP server into one runnable unit.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"mailcast/internal/broadcast"
	"mailcast/internal/config"
	"mailcast/internal/httpapi"
	"mailcast/internal/mailer"
	"mailcast/internal/storage"
	logx "mailcast/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	store  storage.Store
	svc    *broadcast.Service
	server *httpapi.Server
	sweep  *cron.Cron

	shutdownTimeout time.Duration
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(mapLogxConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(func(_ context.Context, c *config.Config) error { return c.Validate() })

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	mailCfg, err := mapMailerConfig(cfg)
	if err != nil {
		return nil, err
	}
	deliverer, err := mailer.New(mailCfg, log.With(logx.String("comp", "mailer")))
	if err != nil {
		return nil, fmt.Errorf("mailer: %w", err)
	}

	bcCfg, err := mapBroadcastConfig(cfg)
	if err != nil {
		return nil, err
	}
	svc := broadcast.New(bcCfg, deliverer, log.With(logx.String("comp", "broadcast")))
	if store != nil {
		svc.SetCompletionHook(persistSummary(store, log))
	}

	srvCfg, err := mapServerConfig(cfg)
	if err != nil {
		return nil, err
	}
	server := httpapi.New(srvCfg, svc, store, log.With(logx.String("comp", "http")))

	a := &App{
		cfgm:            cfgm,
		logs:            logSvc,
		log:             log,
		store:           store,
		svc:             svc,
		server:          server,
		shutdownTimeout: srvCfg.ShutdownTimeout,
	}
	if err := a.scheduleSweep(cfg); err != nil {
		return nil, err
	}
	return a, nil
}

// scheduleSweep installs the retention sweep: completed job statuses older
// than status_ttl are evicted, and status_max bounds the registry size.
func (a *App) scheduleSweep(cfg *config.Config) error {
	every, err := config.ParseDurationOrDefault("broadcast.sweep_every", cfg.Broadcast.SweepEvery, 10*time.Minute)
	if err != nil {
		return err
	}
	ttl, err := config.ParseDurationOrDefault("broadcast.status_ttl", cfg.Broadcast.StatusTTL, 24*time.Hour)
	if err != nil {
		return err
	}
	maxEntries := cfg.Broadcast.StatusMax

	c := cron.New()
	_, err = c.AddFunc(fmt.Sprintf("@every %s", every), func() {
		if removed := a.svc.Registry().Prune(time.Now(), ttl, maxEntries); removed > 0 {
			a.log.Debug("status sweep", logx.Int("removed", removed))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	a.sweep = c
	return nil
}

// Run starts everything and blocks until ctx is canceled, then shuts down
// gracefully. sd_notify marks readiness for systemd-managed deployments and
// is a silent no-op elsewhere.
func (a *App) Run(ctx context.Context) error {
	a.svc.Start(ctx)
	a.sweep.Start()

	updates := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(updates)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.server.Start()
	})
	g.Go(func() error {
		return a.cfgm.Watch(gctx)
	})
	g.Go(func() error {
		a.applyUpdates(gctx, updates)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.shutdown()
		return nil
	})

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify unavailable", logx.Err(err))
	}
	a.log.Info("mailcast started")

	err := g.Wait()
	a.log.Info("mailcast stopped")
	return err
}

// applyUpdates handles config hot reload: logging and engine tunables swap
// live; SMTP and server settings need a restart (they are bound at startup).
func (a *App) applyUpdates(ctx context.Context, updates <-chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok || cfg == nil {
				return
			}
			a.logs.Apply(mapLogxConfig(cfg))
			if bc, err := mapBroadcastConfig(cfg); err == nil {
				a.svc.Apply(bc)
			} else {
				a.log.Warn("reload: broadcast config rejected", logx.Err(err))
			}
			a.log.Info("config applied (smtp/server changes need restart)")
		}
	}
}

func (a *App) shutdown() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	timeout := a.shutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := a.server.Stop(sctx); err != nil {
		a.log.Warn("http shutdown", logx.Err(err))
	}
	a.sweep.Stop()
	a.svc.Stop(sctx)
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.logs.Close()
}

// persistSummary appends one audit record per finished job. Failures to
// persist never affect the job outcome.
func persistSummary(store storage.Store, log logx.Logger) broadcast.CompletionHook {
	return func(st broadcast.Status) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rec := storage.BroadcastRecord{
			JobID:     st.ID,
			Subject:   st.Subject,
			Total:     st.Total,
			Succeeded: st.Succeeded,
			Failed:    st.Failed,
			StartedAt: st.StartedAt,
			TookMS:    st.FinishedAt.Sub(st.StartedAt).Milliseconds(),
		}
		if err := store.AppendBroadcast(ctx, rec); err != nil {
			log.Warn("broadcast record not persisted", logx.String("job", st.ID), logx.Err(err))
		}
	}
}
