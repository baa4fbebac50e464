package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/ligai/internal/api/router"
	"github.com/wolfman30/ligai/internal/app/bootstrap"
	"github.com/wolfman30/ligai/internal/audio"
	"github.com/wolfman30/ligai/internal/call"
	"github.com/wolfman30/ligai/internal/callrecords"
	"github.com/wolfman30/ligai/internal/campaign"
	appconfig "github.com/wolfman30/ligai/internal/config"
	"github.com/wolfman30/ligai/internal/dialer"
	"github.com/wolfman30/ligai/internal/esl"
	"github.com/wolfman30/ligai/internal/events"
	"github.com/wolfman30/ligai/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/ligai/internal/http/middleware"
	"github.com/wolfman30/ligai/internal/observability/metrics"
	"github.com/wolfman30/ligai/internal/prompts"
	"github.com/wolfman30/ligai/internal/schedule"
	"github.com/wolfman30/ligai/internal/speech"
	"github.com/wolfman30/ligai/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting ligai", "port", cfg.Port, "env", cfg.Env)

	if missing := cfg.MissingCredentials(); len(missing) > 0 {
		logger.Error("missing provider credentials", "keys", missing)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("ligai exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("ligai stopped")
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	callMetrics := metrics.NewCallMetrics(reg)

	var (
		pool          *pgxpool.Pool
		campaignStore campaign.Store
		scheduleStore schedule.Store
		webhookStore  events.WebhookStore
		webhookRepo   *events.PostgresWebhookStore
		promptRepo    *prompts.Repository
		recorder      *callrecords.Recorder
	)
	if cfg.DatabaseURL != "" {
		var err error
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			return err
		}
		campaignStore = campaign.NewPostgresStore(pool)
		scheduleStore = schedule.NewPostgresStore(pool)
		webhookRepo = events.NewPostgresWebhookStore(pool, logger)
		webhookStore = webhookRepo
		promptRepo = prompts.NewRepository(pool)
		recorder = callrecords.NewRecorder(pool)
		logger.Info("connected to postgres")
	} else {
		logger.Warn("DATABASE_URL not set; campaigns and schedules are kept in memory and call history is disabled")
		campaignStore = campaign.NewMemoryStore()
		scheduleStore = schedule.NewMemoryStore()
	}

	rdb := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}
	pending := bootstrap.BuildPendingStore(rdb, cfg)

	sw, err := esl.NewClient(esl.Config{
		Addr:           cfg.ESLAddr(),
		Password:       cfg.ESLPassword,
		ConnectTimeout: cfg.ESLConnectTimeout,
		ReadTimeout:    cfg.ESLReadTimeout,
		Gateway:        cfg.SIPGateway,
		TechPrefix:     cfg.SIPTechPrefix,
	}, logger, esl.WithMetrics(callMetrics))
	if err != nil {
		return err
	}

	recognizer, err := speech.NewDeepgramRecognizer(speech.DeepgramConfig{
		APIKey:   cfg.DeepgramAPIKey,
		URL:      cfg.DeepgramURL,
		Model:    cfg.DeepgramModel,
		Language: cfg.DeepgramLanguage,
	}, logger)
	if err != nil {
		return err
	}
	synth, err := speech.NewHTTPSynthesizer(speech.SynthesizerConfig{
		APIKey:   cfg.TTSAPIKey,
		BaseURL:  cfg.TTSBaseURL,
		VoiceID:  cfg.TTSVoiceID,
		ModelID:  cfg.TTSModelID,
		Language: cfg.TTSLanguage,
		Timeout:  cfg.TTSTimeout,
	}, &http.Client{Timeout: cfg.TTSTimeout})
	if err != nil {
		return err
	}

	awsCfg, err := bootstrap.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return err
	}
	responder, err := bootstrap.BuildResponder(ctx, cfg, awsCfg, logger)
	if err != nil {
		return err
	}

	clips, err := audio.NewFileStore(cfg.AudioDirApp, cfg.AudioDirSwitch)
	if err != nil {
		return err
	}
	fillers := audio.NewFillerCache(clips, nil, logger)
	warmCtx, cancelWarm := context.WithTimeout(ctx, time.Minute)
	logger.Info("filler clips ready", "count", fillers.Warm(warmCtx, synth))
	cancelWarm()

	notifiers := bootstrap.BuildNotifiers(cfg, webhookStore, bootstrap.BuildSQSClient(awsCfg, cfg), callMetrics, logger)
	defer notifiers.Close()

	svc := &call.Services{
		Switch:       sw,
		Recognizer:   recognizer,
		Synth:        synth,
		Replier:      responder,
		Clips:        clips,
		Fillers:      fillers,
		Notifier:     notifiers.Multi,
		Mirror:       bootstrap.BuildStateMirror(rdb),
		Metrics:      callMetrics,
		Logger:       logger,
		Greeting:     cfg.GreetingText,
		Apology:      cfg.ApologyText,
		SystemPrompt: cfg.DefaultSystemMsg,
		FillerWait:   cfg.FillerPlayback,
		PlaybackPad:  cfg.PlaybackPad,
	}
	if recorder != nil {
		svc.Recorder = recorder
	}
	if archiver := bootstrap.BuildArchiver(awsCfg, cfg, logger); archiver != nil {
		svc.Archiver = archiver
	}

	registry := call.NewRegistry(callMetrics)
	var activeProfiles call.ProfileSource
	var profiles campaign.ProfileSource
	if promptRepo != nil {
		activeProfiles = promptRepo
		profiles = promptRepo
	}
	bridge := call.NewHandler(registry, pending, activeProfiles, svc, cfg.FirstMsgTimeout, logger)

	d := dialer.New(sw, pending, dialer.Config{
		BridgeURL:   cfg.PublicWSBaseURL,
		CountryCode: cfg.DefaultCountry,
	}, callMetrics, logger)

	engine := campaign.NewEngine(campaignStore, registry, d, sw, profiles, notifiers.Multi, campaign.EngineConfig{
		GlobalLimit:   cfg.MaxConcurrent,
		DefaultLimit:  cfg.CampaignDefaultMaxConcurrent,
		PollDelay:     cfg.CampaignPollDelay,
		Backoff:       cfg.CampaignBackoff,
		WatchInterval: cfg.CallWatchInterval,
		WatchMax:      cfg.CallWatchMax,
	}, logger)
	defer engine.Close()
	manager := campaign.NewManager(campaignStore, engine, logger)
	if n, err := manager.Recover(ctx); err != nil {
		logger.Warn("campaign recovery failed", "error", err)
	} else if n > 0 {
		logger.Info("resumed running campaigns", "count", n)
	}

	scheduler := schedule.NewScheduler(scheduleStore, d, profiles, registry, cfg.MaxConcurrent, logger).
		WithInterval(cfg.SchedulerEvery).
		WithLookahead(cfg.SchedulerWindow)

	dialLimiter := httpmiddleware.NewRateLimiter(1, 5)

	routerCfg := &router.Config{
		Logger:          logger,
		AudioBridge:     bridge,
		MetricsHandler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		AdminAuthSecret: cfg.AdminJWTSecret,
		DialLimiter:     dialLimiter,
		ActiveCalls:     registry,
		Campaigns:       handlers.NewCampaignsHandler(campaignStore, manager, cfg.CampaignDefaultMaxConcurrent, logger),
	}
	if promptRepo != nil {
		routerCfg.Calls = handlers.NewCallsHandler(registry, d, promptRepo, recorder, logger)
		routerCfg.Schedules = handlers.NewSchedulesHandler(scheduleStore, promptRepo, logger)
		routerCfg.Prompts = handlers.NewPromptsHandler(promptRepo, logger)
	} else {
		routerCfg.Calls = handlers.NewCallsHandler(registry, d, nil, nil, logger)
		routerCfg.Schedules = handlers.NewSchedulesHandler(scheduleStore, nil, logger)
	}
	if webhookRepo != nil {
		routerCfg.Webhooks = handlers.NewWebhooksHandler(webhookRepo, logger)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router.New(routerCfg),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		pending.Run(gctx)
		return nil
	})
	g.Go(func() error {
		scheduler.Run(gctx)
		return nil
	})
	g.Go(func() error {
		dialLimiter.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.ShutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if err != nil {
			logger.Error("http server shutdown failed", "error", err)
		}
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Warn("campaign loops did not stop in time", "error", err)
		}
		registry.StopAll()
		return err
	})
	return g.Wait()
}
