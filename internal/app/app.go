package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"narrator/internal/config"
	"narrator/internal/eventbus"
	"narrator/internal/httpapi"
	"narrator/internal/runtime/supervisor"
	"narrator/internal/task/scheduler"
	logx "narrator/pkg/logx"
)

// App runs the scheduler, the HTTP surface and config hot reload around one
// set of Components.
type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	comps *Components

	mu      sync.Mutex
	sched   *scheduler.Scheduler
	http    *httpapi.Server
	applied *config.Config
}

// NewApp loads the config at cfgPath and opens every component. Nothing runs
// until Start.
func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLogConfig(cfg))
	log := root.With(logx.String("comp", "app"))
	bus := eventbus.New()

	comps, err := Open(ctx, cfg, root, bus)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		comps:   comps,
		applied: cfg,
	}
	if a.sched, err = a.buildScheduler(cfg); err != nil {
		_ = comps.Close()
		_ = logSvc.Close()
		return nil, err
	}
	srvCfg, err := mapServerConfig(cfg)
	if err != nil {
		_ = comps.Close()
		_ = logSvc.Close()
		return nil, err
	}
	a.http = httpapi.NewServer(srvCfg, nil, root)
	cfgm.SetLogger(root.With(logx.String("comp", "config")))
	return a, nil
}

func (a *App) Components() *Components { return a.comps }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) buildScheduler(cfg *config.Config) (*scheduler.Scheduler, error) {
	sc, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	log := a.logs.Logger().With(logx.String("comp", "scheduler"))
	s := scheduler.New(sc, log, a.bus)
	if err := registerJobs(s, cfg.Jobs, a.comps.Pipeline, a.comps.DB, log); err != nil {
		return nil, err
	}
	return s, nil
}

func (a *App) router(cfg *config.Config, sched *scheduler.Scheduler) http.Handler {
	deps := httpapi.Deps{
		Pipeline: adminPipeline{a.comps.Pipeline},
		Jobs:     sched,
		Store:    a.comps.DB,
		Runtime:  a.sup,
		Log:      a.logs.Logger().With(logx.String("comp", "httpapi")),
		Async: func(name string, fn func(ctx context.Context)) {
			a.sup.Go0(name, fn)
		},
	}
	if cfg.Artifacts.Driver == "fs" {
		deps.Media = a.comps.Store
	}
	return httpapi.NewRouter(deps, mapRouterOptions(cfg))
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
			}
		}
		return nil
	})

	a.mu.Lock()
	cfg, sched := a.applied, a.sched
	a.mu.Unlock()

	if cfg.Scheduler.Enabled {
		sched.Start(runCtx)
	} else {
		a.log.Info("scheduler disabled; jobs run only on demand")
	}

	a.http.SetHandler(a.router(cfg, sched))
	a.http.Start(runCtx)

	a.sup.Go0("audit.record", func(c context.Context) {
		recordAudit(c, a.bus, a.comps.DB, a.log)
	})
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		runWatchdog(c, a.log)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.apply(c, newCfg)
			}
		}
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch)

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started", logx.String("config", a.cfgm.Path()))
	return nil
}

// apply hot-reloads the sections that can change at runtime. Storage,
// speech, artifacts and pipeline settings take effect on restart.
func (a *App) apply(ctx context.Context, newCfg *config.Config) {
	a.mu.Lock()
	prev := a.applied
	a.mu.Unlock()

	sections := config.ChangedSections(prev, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := map[string]bool{}
	for _, s := range sections {
		changed[s] = true
	}

	if changed["logging"] {
		a.logs.Apply(mapLogConfig(newCfg))
	}
	for _, s := range []string{"storage", "speech", "artifacts", "pipeline"} {
		if changed[s] {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	a.mu.Lock()
	sched := a.sched
	a.mu.Unlock()
	if changed["scheduler"] || changed["jobs"] {
		if ns, err := a.buildScheduler(newCfg); err != nil {
			a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		} else {
			a.swapScheduler(ns, newCfg.Scheduler.Enabled)
			sched = ns
		}
	}

	if changed["http"] || changed["scheduler"] || changed["jobs"] || changed["artifacts"] {
		a.http.SetHandler(a.router(newCfg, sched))
	}
	if changed["http"] {
		if sc, err := mapServerConfig(newCfg); err != nil {
			a.log.Warn("invalid http config; keeping previous", logx.Err(err))
		} else {
			a.http.Reconfigure(ctx, sc)
		}
	}

	a.mu.Lock()
	a.applied = newCfg
	a.mu.Unlock()
	a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
}

// swapScheduler stops the current scheduler and starts ns once the old
// one's in-flight runs finish, so a job never overlaps itself across the
// handover.
func (a *App) swapScheduler(ns *scheduler.Scheduler, enabled bool) {
	a.mu.Lock()
	old := a.sched
	a.sched = ns
	a.mu.Unlock()

	old.Stop()
	a.sup.Go0("scheduler.handover", func(c context.Context) {
		if err := old.Wait(c); err != nil {
			return
		}
		a.mu.Lock()
		current := a.sched == ns
		a.mu.Unlock()
		if current && enabled {
			ns.Start(c)
		}
	})
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return a.comps.Close()
	}
	a.log.Info("stopping")
	sdNotify(a.log, daemon.SdNotifyStopping)

	a.mu.Lock()
	sched := a.sched
	a.mu.Unlock()

	// Scheduler first so no new run starts while the rest unwinds.
	sched.Stop()
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped: deadline reached", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("http", 10*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	step("jobs", 30*time.Second, func(c context.Context) error { return sched.Wait(c) })
	step("supervisor", 5*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 2*time.Second, func(context.Context) error { return a.comps.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
