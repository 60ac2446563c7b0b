package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clawinfra/opsguardian/internal/agent"
	"github.com/clawinfra/opsguardian/internal/api"
	"github.com/clawinfra/opsguardian/internal/approval"
	"github.com/clawinfra/opsguardian/internal/audit"
	"github.com/clawinfra/opsguardian/internal/channels"
	"github.com/clawinfra/opsguardian/internal/config"
	"github.com/clawinfra/opsguardian/internal/guardrail"
	"github.com/clawinfra/opsguardian/internal/monitor"
	"github.com/clawinfra/opsguardian/internal/pipeline"
	"github.com/clawinfra/opsguardian/internal/scheduler"
	"github.com/clawinfra/opsguardian/internal/security"
	"github.com/clawinfra/opsguardian/internal/watchdog"
	"github.com/clawinfra/opsguardian/internal/workspace"
)

// App holds all the runtime components
type App struct {
	Store     *config.Store
	Logger    *slog.Logger
	LogLevel  *slog.LevelVar
	Queue     *approval.Queue
	Guardrail *guardrail.Guardrail
	Workspace *workspace.Workspace
	Checker   *monitor.Checker
	Decision  *agent.SwappableService
	Session   *agent.Session
	Hub       *channels.Hub
	MQTT      *channels.MQTTPublisher
	Audit     *audit.Store
	Scheduler *scheduler.Scheduler
	Watchdog  *watchdog.Watchdog
	API       *api.Server
}

// newApp wires every component from the current configuration.
func newApp(ctx context.Context, store *config.Store, logger *slog.Logger, level *slog.LevelVar) (*App, error) {
	cfg := store.Get()
	app := &App{Store: store, Logger: logger, LogLevel: level}

	runner := pipeline.New(seconds(cfg.Guardrail.CommandTimeoutSec), logger)

	ws, err := workspace.New(cfg.Workspace.Root, workspace.Options{
		MaxContextFiles: cfg.Workspace.MaxContextFiles,
		MaxExtraFiles:   cfg.Workspace.MaxExtraFiles,
	}, logger)
	if err != nil {
		return nil, err
	}
	app.Workspace = ws

	app.Queue = approval.NewQueue(logger)
	app.Hub = channels.NewHub(logger, originHosts(cfg.Server.AllowedOrigins)...)

	notifiers := []channels.Notifier{
		channels.NewWebhookNotifier(store.WebhookURLs, logger),
		app.Hub,
	}
	if mq := cfg.Notifications.MQTT; mq.Enabled {
		app.MQTT = channels.NewMQTTPublisher(channels.MQTTOptions{
			Broker:      mq.Broker,
			Port:        mq.Port,
			Username:    mq.Username,
			Password:    mq.Password,
			ClientID:    mq.ClientID,
			TopicPrefix: mq.TopicPrefix,
		}, logger)
		notifiers = append(notifiers, app.MQTT)
	}

	app.Guardrail = guardrail.New(guardrail.Options{
		SafeCommands: cfg.Guardrail.SafeCommands,
		Runner:       runner,
		Queue:        app.Queue,
		Notifier:     channels.NewMulti(logger, notifiers...),
		Scripts:      guardrail.NewScriptRunner(ws, cfg.Guardrail.ScriptInterpreter, seconds(cfg.Guardrail.ScriptTimeoutSec), logger),
		Restarter:    guardrail.NewCommandRestarter(runner, store.RestartCommand, logger),
		FrontendURL:  store.FrontendURL,
		Logger:       logger,
	})

	app.Checker = monitor.NewChecker(runner, store, 0, logger)
	resources := func(ctx context.Context) (monitor.Resources, error) {
		return monitor.ReadResources(ctx, ws.Root(), 0)
	}

	if cfg.Audit.Enabled {
		app.Audit, err = audit.Open(cfg.Audit.DBPath, logger)
		if err != nil {
			return nil, err
		}
		app.Queue.Subscribe(app.Audit.Subscriber())
	}
	app.Queue.Subscribe(app.broadcastEvent)

	if err := app.setupAgent(ctx, cfg, resources); err != nil {
		app.Close()
		return nil, err
	}

	if cfg.Scheduler.Enabled {
		app.Scheduler = scheduler.NewScheduler(&jobExecutor{guard: app.Guardrail, session: app.Session, mqtt: app.MQTT}, nil, logger)
		app.Scheduler.LoadJobs(cfg.Scheduler.Jobs)
	}

	if cfg.Watchdog.Enabled {
		app.Watchdog = watchdog.New(watchdog.Options{
			Prober:    app.Checker,
			Escalator: app.Session,
			Interval:  store.WatchdogInterval,
			Logger:    logger,
		})
	}

	apiOpts := api.Options{
		Port:           cfg.Server.Port,
		Queue:          app.Queue,
		Approver:       app.Guardrail,
		Files:          ws,
		Monitors:       app.Checker,
		Resources:      resources,
		Config:         store,
		Chat:           app.Session,
		Scheduler:      app.Scheduler,
		Events:         app.Hub,
		JWTSecret:      security.JWTSecret(cfg.Auth.JWTSecret),
		TokenTTL:       cfg.Auth.TokenTTL(),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	}
	if app.Audit != nil {
		apiOpts.History = app.Audit
	}
	app.API = api.NewServer(apiOpts)

	store.OnReload(app.applyReload)
	return app, nil
}

// setupAgent builds the decision service, registers the agent tools and
// keeps the system instruction in step with the workspace.
func (a *App) setupAgent(ctx context.Context, cfg *config.Config, resources func(context.Context) (monitor.Resources, error)) error {
	a.Decision = agent.NewSwappableService(newDecisionService(ctx, cfg.Agent, a.Store.AgentModel))
	if !a.Decision.Available() {
		a.Logger.Warn("decision service unavailable, chat and escalation will fail until an API key is configured")
	}

	registry := agent.NewRegistry()
	guardrail.RegisterTools(registry, guardrail.ToolDeps{
		Guardrail: a.Guardrail,
		Workspace: a.Workspace,
		Monitors:  a.Checker,
		Resources: resources,
	})
	a.Session = agent.NewSession(a.Decision, registry, agent.SessionOptions{
		MaxIterations: cfg.Agent.MaxIterations,
		MaxParallel:   cfg.Agent.MaxParallelTools,
	}, a.Logger)

	snap, err := a.Workspace.Snapshot()
	if err != nil {
		return fmt.Errorf("read workspace: %w", err)
	}
	a.Session.SetSystemInstruction(agent.BuildSystemInstruction(snap))
	a.Workspace.OnChange(func(snap workspace.Snapshot) {
		a.Session.SetSystemInstruction(agent.BuildSystemInstruction(snap))
	})
	return nil
}

// newDecisionService builds the configured provider client. A nil service
// comes back with the reason it could not be built.
func newDecisionService(ctx context.Context, cfg config.AgentConfig, model func() string) (agent.DecisionService, error) {
	switch cfg.Provider {
	case "", "gemini":
		client, err := agent.NewGeminiClient(ctx, cfg.APIKey, model)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported agent provider %q", cfg.Provider)
	}
}

// broadcastEvent forwards approval transitions to dashboards and MQTT. It
// runs inside the queue's subscriber fan-out, so both hand-offs are
// non-blocking.
func (a *App) broadcastEvent(ev approval.Event) {
	a.Hub.Broadcast(ev)
	if a.MQTT != nil {
		a.MQTT.EnqueueEvent(ev.Type, ev.Request)
	}
}

// applyReload pushes hot-reloadable settings into running components.
func (a *App) applyReload(cfg *config.Config, res *config.ReloadResult) {
	if res.Has("Server.LogLevel") {
		a.LogLevel.Set(parseLogLevel(cfg.Server.LogLevel))
	}
	if res.Has("Guardrail.SafeCommands") {
		a.Guardrail.SetSafeCommands(cfg.Guardrail.SafeCommands)
	}
	if res.Has("Agent.APIKey") {
		svc, err := newDecisionService(context.Background(), cfg.Agent, a.Store.AgentModel)
		a.Decision.Set(svc, err)
		if err != nil {
			a.Logger.Warn("decision service unavailable after reload", "error", err)
		} else {
			a.Logger.Info("decision service credentials rotated")
		}
	}
}

// reload re-reads the config file and logs the outcome.
func (a *App) reload() {
	res, err := a.Store.Reload()
	if err != nil {
		a.Logger.Error("config reload failed", "error", err)
		return
	}
	res.LogResult(a.Logger)
}

// Run starts every long-running component and blocks until ctx is
// cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.API.Start(gctx) })
	g.Go(func() error { return workspace.NewWatcher(a.Workspace).Run(gctx) })
	g.Go(func() error { return config.NewWatcher(a.Store.Path(), 0, a.Logger, a.reload).Run(gctx) })
	g.Go(func() error { return a.watchReloadSignals(gctx) })

	if a.Watchdog != nil {
		g.Go(func() error { return a.Watchdog.Run(gctx) })
	}
	if a.Scheduler != nil {
		g.Go(func() error { return a.Scheduler.Run(gctx) })
	}
	if a.MQTT != nil {
		g.Go(func() error {
			if err := a.MQTT.Start(gctx); err != nil {
				a.Logger.Warn("mqtt unavailable, continuing without it", "error", err)
				return nil
			}
			<-gctx.Done()
			return a.MQTT.Stop()
		})
		g.Go(func() error { return a.MQTT.RunEvents(gctx) })
	}

	return g.Wait()
}

func (a *App) watchReloadSignals(ctx context.Context) error {
	sigs := reloadSignals()
	if len(sigs) == 0 {
		return nil
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-ch:
			a.Logger.Info("reload signal received", "signal", sig.String())
			a.reload()
		}
	}
}

// Close releases resources that outlive Run.
func (a *App) Close() {
	if a.Audit != nil {
		if err := a.Audit.Close(); err != nil {
			a.Logger.Error("failed to close audit store", "error", err)
		}
	}
}

// originHosts converts CORS origins into the host patterns the websocket
// hub matches against.
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			hosts = append(hosts, o)
			continue
		}
		hosts = append(hosts, u.Host)
	}
	return hosts
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
