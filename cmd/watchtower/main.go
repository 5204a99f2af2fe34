// Command watchtower is the composition root: it wires the ingress
// client, rule engine, alert manager, and notification dispatcher
// together behind the shared metrics/history/logging dependencies,
// following a "load config, build components, run until signalled"
// shape.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hasip-timurtas/solana-watchtower/internal/alerts"
	"github.com/hasip-timurtas/solana-watchtower/internal/auth"
	"github.com/hasip-timurtas/solana-watchtower/internal/config"
	"github.com/hasip-timurtas/solana-watchtower/internal/events"
	watchtowergrpc "github.com/hasip-timurtas/solana-watchtower/internal/grpc"
	"github.com/hasip-timurtas/solana-watchtower/internal/history"
	"github.com/hasip-timurtas/solana-watchtower/internal/ingress"
	"github.com/hasip-timurtas/solana-watchtower/internal/logging"
	"github.com/hasip-timurtas/solana-watchtower/internal/metrics"
	"github.com/hasip-timurtas/solana-watchtower/internal/notify"
	"github.com/hasip-timurtas/solana-watchtower/internal/rules"
	"github.com/hasip-timurtas/solana-watchtower/internal/status"
)

func main() {
	startedAt := time.Now()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize structured logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	met := metrics.New()
	h := history.New(history.Config{
		MaxEvents:    cfg.Engine.MaxHistoryEvents,
		MaxAgeSecond: cfg.Engine.MaxHistoryAgeSeconds,
	}, met)
	go h.RunEvictionLoop(ctx)

	engine := rules.New(rules.Config{
		MaxConcurrentEvaluations: cfg.Engine.MaxConcurrentEvaluations,
		RuleTimeout:              time.Duration(cfg.Engine.RuleTimeoutSeconds) * time.Second,
	}, h, met, logger.WithComponent("rules"))

	programNames := make(map[events.ProgramID]string, len(cfg.Programs))
	for _, p := range cfg.Programs {
		registerBuiltinRules(engine, p, logger)
		programNames[events.ProgramIDFromString(p.ID)] = p.Name
	}
	namer := func(id events.ProgramID) string {
		if name, ok := programNames[id]; ok && name != "" {
			return name
		}
		return id.String()
	}

	channelHealth := status.NewChannelHealth(5 * time.Minute)

	minSeverity, _ := alerts.ParseSeverity(cfg.Global.MinSeverity)
	var filters []notify.GlobalFilter
	for _, f := range cfg.Global.Filters {
		filters = append(filters, toGlobalFilter(f))
	}
	dispatcher := notify.NewDispatcher(met, logger.WithComponent("dispatcher"),
		channelHealth, cfg.Rate.MaxMessagesPerMinute, cfg.Rate.BurstSize, minSeverity, filters)
	dispatchCtx, cancelDispatch := context.WithCancel(ctx)
	dispatcher.WithCancel(cancelDispatch)
	registerConfiguredChannels(dispatchCtx, dispatcher, cfg, logger)

	manager := alerts.New(met, logger.WithComponent("alerts"), namer, alerts.AutoResolvePolicy{
		Default:   time.Duration(config.DefaultAutoResolveAfterHours) * time.Hour,
		Retention: time.Duration(config.DefaultResolvedRetentionSecs) * time.Second,
	})
	go manager.RunAutoResolveLoop(ctx, time.Minute)

	go bridgeAlerts(ctx, engine, manager, dispatcher)

	if cfg.Metrics.Enabled {
		go serveMetrics(ctx, met, cfg.Metrics.PrometheusPort, logger)
	}

	subs := make([]ingress.Subscription, 0, len(cfg.Programs))
	for _, p := range cfg.Programs {
		subs = append(subs, ingress.Subscription{
			ProgramID:           p.ID,
			MonitorAccounts:     p.MonitorAccounts,
			MonitorTransactions: p.MonitorTransactions,
			MonitorLogs:         p.MonitorLogs,
		})
	}
	in := ingress.New(ingress.Config{
		WSURL:                 cfg.Network.WSURL,
		TimeoutSeconds:        cfg.Network.TimeoutSeconds,
		MaxReconnectAttempts:  cfg.Network.MaxReconnectAttempts,
		ReconnectDelaySeconds: cfg.Network.ReconnectDelaySeconds,
		EventBufferSize:       cfg.Engine.EventBufferSize,
		IncludeFailed:         cfg.Filters.IncludeFailed,
		IncludeVotes:          cfg.Filters.IncludeVotes,
	}, subs, met, logger.WithComponent("ingress"))

	healthServer := watchtowergrpc.NewHealthServer("watchtower")
	go runEngineStatusLoop(ctx, healthServer, channelHealth, in)

	events := in.Start(ctx)
	logger.Info("watchtower started",
		logging.String("ws_url", cfg.Network.WSURL),
		logging.Int("programs", len(cfg.Programs)),
		logging.Int64("startup_ms", time.Since(startedAt).Milliseconds()))

	for ev := range events {
		ev := ev
		go engine.Process(ctx, ev)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	engine.Shutdown(shutdownCtx)
	dispatcher.Shutdown(shutdownCtx)
	healthServer.GracefulStop()
	logger.Info("watchtower stopped")
}

func bridgeAlerts(ctx context.Context, engine *rules.Engine, manager *alerts.Manager, dispatcher *notify.Dispatcher) {
	alertCh := engine.SubscribeAlerts()
	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-alertCh:
			if !ok {
				return
			}
			stored := manager.Submit(a)
			if stored.OccurrenceCount == 1 {
				dispatcher.Notify(stored)
			}
		}
	}
}

func runEngineStatusLoop(ctx context.Context, hs *watchtowergrpc.HealthServer, health *status.ChannelHealth, in *ingress.Ingress) {
	lis, err := net.Listen("tcp", ":9091")
	if err == nil {
		go hs.Serve(lis)
	}
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hs.SetEngineStatus(status.Derive(mapIngressStatus(in.Status()), health))
		}
	}
}

// mapIngressStatus translates ingress's connection state enum onto
// status.IngressStatus; the two are kept separate to avoid a
// status<->ingress import cycle (see internal/status/health.go).
func mapIngressStatus(s ingress.Status) status.IngressStatus {
	switch s {
	case ingress.StatusConnecting:
		return status.IngressConnecting
	case ingress.StatusConnected:
		return status.IngressConnected
	case ingress.StatusReconnecting:
		return status.IngressReconnecting
	case ingress.StatusFailed:
		return status.IngressFailed
	default:
		return status.IngressDisconnected
	}
}

func serveMetrics(ctx context.Context, met *metrics.Registry, port int, logger *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", met.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server terminated", logging.Error(err))
	}
}

func registerBuiltinRules(engine *rules.Engine, p config.ProgramConfig, logger *logging.Logger) {
	programID := events.ProgramIDFromString(p.ID)
	if err := engine.Register(rules.NewLargeTransaction(rules.LargeTransactionConfig{
		ProgramID:       programID,
		AmountThreshold: 500_000,
	})); err != nil {
		logger.Warn("rule registration failed", logging.String("rule", "LargeTransaction"), logging.Error(err))
	}
	if err := engine.Register(rules.NewHighFailureRate(rules.HighFailureRateConfig{
		ProgramID:           programID,
		WindowSeconds:       300,
		MinTransactionCount: 10,
		MaxFailureRatePct:   50,
	})); err != nil {
		logger.Warn("rule registration failed", logging.String("rule", "HighFailureRate"), logging.Error(err))
	}
	if err := engine.Register(rules.NewLiquidityDrop(rules.LiquidityDropConfig{
		ProgramID:     programID,
		ThresholdPct:  30,
		WindowSeconds: 300,
		MinLiquidity:  1_000,
	})); err != nil {
		logger.Warn("rule registration failed", logging.String("rule", "LiquidityDrop"), logging.Error(err))
	}
}

func toGlobalFilter(f config.AlertFilterConfig) notify.GlobalFilter {
	severities := make(map[rules.Severity]struct{}, len(f.Severities))
	for _, s := range f.Severities {
		if sev, ok := alerts.ParseSeverity(s); ok {
			severities[sev] = struct{}{}
		}
	}
	channels := make(map[string]struct{}, len(f.Channels))
	for _, c := range f.Channels {
		channels[strings.ToLower(c)] = struct{}{}
	}
	return notify.GlobalFilter{
		Name:       f.Name,
		Severities: severities,
		Channels:   channels,
		Include:    f.Include,
	}
}

func registerConfiguredChannels(ctx context.Context, d *notify.Dispatcher, cfg *config.Config, logger *logging.Logger) {
	base := notify.ChannelConfig{
		Template:            notify.DefaultTemplate,
		MaxMessagesPerMin:   cfg.Rate.MaxMessagesPerMinute,
		BurstSize:           cfg.Rate.BurstSize,
		EnableBatching:      cfg.Global.EnableBatching,
		BatchSize:           cfg.Global.BatchSize,
		BatchTimeoutSeconds: cfg.Global.BatchTimeoutSeconds,
	}

	consoleCfg := base
	consoleCfg.Channel = notify.NewConsoleChannel("console", os.Stdout)
	d.RegisterChannel(ctx, consoleCfg)

	var signer *auth.WebhookSigner
	if secret := strings.TrimSpace(os.Getenv("WATCHTOWER_WEBHOOK_SECRET")); secret != "" {
		s, err := auth.NewWebhookSigner(secret)
		if err != nil {
			logger.Warn("webhook signing disabled", logging.Error(err))
		} else {
			signer = s
		}
	}

	if slackURL := strings.TrimSpace(os.Getenv("WATCHTOWER_SLACK_WEBHOOK_URL")); slackURL != "" {
		ch, err := notify.NewSlackChannel("slack", slackURL, http.DefaultClient)
		if err != nil {
			logger.Warn("slack channel disabled", logging.Error(err))
		} else {
			slackCfg := base
			slackCfg.Channel = ch.WithSigner(signer)
			d.RegisterChannel(ctx, slackCfg)
		}
	}

	if discordURL := strings.TrimSpace(os.Getenv("WATCHTOWER_DISCORD_WEBHOOK_URL")); discordURL != "" {
		ch, err := notify.NewDiscordChannel("discord", discordURL, http.DefaultClient)
		if err != nil {
			logger.Warn("discord channel disabled", logging.Error(err))
		} else {
			discordCfg := base
			discordCfg.Channel = ch.WithSigner(signer)
			d.RegisterChannel(ctx, discordCfg)
		}
	}
}
