package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/BTreeMap/CadencePipe/internal/api"
	"github.com/BTreeMap/CadencePipe/internal/cache"
	"github.com/BTreeMap/CadencePipe/internal/clock"
	"github.com/BTreeMap/CadencePipe/internal/content"
	"github.com/BTreeMap/CadencePipe/internal/directory"
	"github.com/BTreeMap/CadencePipe/internal/engine"
	"github.com/BTreeMap/CadencePipe/internal/enrollment"
	"github.com/BTreeMap/CadencePipe/internal/genai"
	"github.com/BTreeMap/CadencePipe/internal/lockfile"
	"github.com/BTreeMap/CadencePipe/internal/mailer"
	"github.com/BTreeMap/CadencePipe/internal/maintenance"
	"github.com/BTreeMap/CadencePipe/internal/messaging"
	"github.com/BTreeMap/CadencePipe/internal/models"
	"github.com/BTreeMap/CadencePipe/internal/outcome"
	"github.com/BTreeMap/CadencePipe/internal/pacing"
	"github.com/BTreeMap/CadencePipe/internal/recovery"
	"github.com/BTreeMap/CadencePipe/internal/sequences"
	"github.com/BTreeMap/CadencePipe/internal/store"
	"github.com/BTreeMap/CadencePipe/internal/telemetry"
	"github.com/BTreeMap/CadencePipe/internal/twilio"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, no-show detector and HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, loadConfig(viper.GetViper()))
	},
}

func init() {
	f := serveCmd.Flags()
	f.String("addr", ":8080", "HTTP API listen address")
	f.Duration("interval", engine.DefaultInterval, "scheduler polling interval")
	f.Int("batch-size", engine.DefaultBatchSize, "maximum due actions fetched per cycle")
	f.String("recovery-sequence", "", "sequence no-show leads are enrolled in")
	bindFlag(keyAPIAddr, f.Lookup("addr"))
	bindFlag(keyInterval, f.Lookup("interval"))
	bindFlag(keyBatchSize, f.Lookup("batch-size"))
	bindFlag(keyRecoverySequence, f.Lookup("recovery-sequence"))
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, cfg Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	lock, err := lockfile.Acquire(cfg.StateDir, a.scheduler.Config().InstanceID)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			slog.Warn("runServe: failed to release lock", "error", err)
		}
	}()

	return a.run(ctx)
}

// app holds the wired engine for one process.
type app struct {
	cfg       Config
	store     store.Store
	leads     directory.Directory
	enroller  *enrollment.Service
	scheduler *engine.Scheduler
	detector  *engine.NoShowDetector
	recovery  *recovery.Manager
	cron      *maintenance.Cron
	server    *api.Server
	closers   []func() error
	flush     func()
}

// newApp opens storage and wires every component. Optional integrations that are not
// configured are left out; their channels report skipped_unconfigured.
func newApp(ctx context.Context, cfg Config) (*app, error) {
	a := &app{cfg: cfg, flush: func() {}}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()
	clk := clock.System{}

	if err := os.MkdirAll(cfg.StateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", cfg.StateDir, err)
	}

	st, err := openStore(cfg, store.WithClock(clk))
	if err != nil {
		return nil, err
	}
	a.store = st
	a.closers = append(a.closers, st.Close)

	if cfg.SequencesDir != "" {
		n, err := sequences.Sync(cfg.SequencesDir, st)
		if err != nil {
			return nil, fmt.Errorf("sync sequences: %w", err)
		}
		slog.Info("newApp: sequences synced", "count", n, "dir", cfg.SequencesDir)
	}

	if a.leads, err = openDirectory(cfg); err != nil {
		return nil, err
	}
	if c, isCloser := a.leads.(interface{ Close() error }); isCloser {
		a.closers = append(a.closers, c.Close)
	}

	reporter, flush, err := telemetry.Init(cfg.SentryDSN, cfg.Environment, version)
	if err != nil {
		slog.Warn("newApp: telemetry disabled", "error", err)
	}
	a.flush = flush

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb, err = cache.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
	}

	sinks := outcome.MultiSink{outcome.NewStoreSink(st)}
	var calls pacing.CallCounter
	var memCalls *pacing.MemoryCallCounter
	if rdb != nil {
		sinks = append(sinks, outcome.NewRedisSink(rdb, cfg.OutcomeStream))
		calls = pacing.NewRedisCallCounter(rdb)
	} else {
		memCalls = pacing.NewMemoryCallCounter()
		calls = memCalls
	}
	activities := outcome.NewActivityLog(st, clk)

	router := messaging.NewRouter(st,
		messaging.WithDispatcher(models.ChannelEmail, messaging.NewEmailDispatcher(emailTransport())),
		messaging.WithDispatcher(models.ChannelVoice, messaging.NewVoiceDispatcher(voiceProvider(), cfg.DefaultAgent)),
		messaging.WithDispatcher(models.ChannelSMS, messaging.NewSMSDispatcher(smsProvider())),
		messaging.WithOutcomeSink(sinks),
		messaging.WithActivityLog(activities),
		messaging.WithClock(clk),
	)
	retry := engine.NewRetryController(st, clk,
		engine.WithRetryBackoff(cfg.RetryBackoff),
		engine.WithFallbackDelay(cfg.FallbackDelay),
		engine.WithRetrySink(sinks),
		engine.WithRetryActivityLog(activities),
		engine.WithReporter(reporter),
	)
	resolver := content.NewResolver(st, generator(cfg))
	governor := pacing.NewGovernor(st, calls)

	a.enroller = enrollment.NewService(st, a.leads, clk)
	a.scheduler = engine.NewScheduler(cfg.Engine, st, a.leads, governor, resolver, router, retry, clk)
	a.detector = engine.NewNoShowDetector(engine.NoShowConfig{
		Interval:           cfg.NoShowInterval,
		Grace:              cfg.NoShowGrace,
		RecoverySequenceID: cfg.RecoverySequence,
	}, st, a.enroller, activities, clk)

	a.recovery = recovery.NewManager(clk)
	a.recovery.Register(recovery.ExpiredClaims{Store: st})
	a.recovery.Register(recovery.Func{Label: "overdue_sessions", Fn: func(ctx context.Context, _ time.Time) error {
		if rep := a.detector.Tick(ctx); rep.Errors > 0 {
			return fmt.Errorf("no-show sweep finished with %d errors", rep.Errors)
		}
		return nil
	}})

	a.cron = maintenance.New(ctx)
	if err := a.cron.AddJob("sweep_claims", maintenance.ClaimSweepSchedule, maintenance.SweepClaims(st, clk.Now)); err != nil {
		return nil, err
	}
	if memCalls != nil {
		if err := a.cron.AddJob("prune_call_counts", maintenance.CounterPruneSchedule, maintenance.PruneCounters(memCalls, clk.Now)); err != nil {
			return nil, err
		}
	}

	a.server = api.NewServer(st, a.enroller)
	ok = true
	return a, nil
}

// run recovers interrupted work, then runs every loop until ctx is cancelled.
func (a *app) run(ctx context.Context) error {
	if err := a.recovery.RecoverAll(ctx); err != nil {
		slog.Warn("app.run: startup recovery incomplete", "error", err)
	}

	a.cron.Start()
	defer a.cron.Stop()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(runCtx); err != nil && runCtx.Err() == nil {
				slog.Error("app.run: component stopped", "component", name, "error", err)
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	start("scheduler", a.scheduler.Run)
	start("noshow", a.detector.Run)
	start("api", func(ctx context.Context) error { return a.server.ListenAndServe(ctx, a.cfg.APIAddr) })

	slog.Info("CadencePipe started", "version", version, "api", a.cfg.APIAddr, "instance", a.scheduler.Config().InstanceID)

	var runErr error
	select {
	case <-runCtx.Done():
	case runErr = <-errCh:
		cancel()
	}
	wg.Wait()
	slog.Info("CadencePipe stopped")
	return runErr
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("app.close: close failed", "error", err)
		}
	}
	a.closers = nil
	a.flush()
}

func openDirectory(cfg Config) (directory.Directory, error) {
	switch {
	case cfg.LeadsDSN != "":
		d, err := directory.NewGormDirectory(cfg.LeadsDSN)
		if err != nil {
			return nil, fmt.Errorf("open lead directory: %w", err)
		}
		return d, nil
	case cfg.LeadsFile != "":
		d, err := directory.LoadFile(cfg.LeadsFile)
		if err != nil {
			return nil, fmt.Errorf("load leads file: %w", err)
		}
		return d, nil
	default:
		slog.Warn("openDirectory: no lead source configured, using an empty directory")
		return directory.NewMemoryDirectory(), nil
	}
}

// emailTransport returns nil when SMTP is not configured.
func emailTransport() messaging.EmailTransport {
	t, err := mailer.New()
	if err != nil {
		if !errors.Is(err, mailer.ErrNotConfigured) {
			slog.Warn("emailTransport: SMTP disabled", "error", err)
		}
		return nil
	}
	return t
}

var twilioClient = sync.OnceValue(func() *twilio.Client {
	c, err := twilio.NewClient()
	if err != nil {
		slog.Info("twilio: voice and SMS providers disabled", "reason", err)
		return nil
	}
	return c
})

// voiceProvider returns nil without Twilio credentials; voice actions are then skipped.
func voiceProvider() messaging.VoiceProvider {
	if c := twilioClient(); c != nil {
		return c
	}
	return nil
}

// smsProvider returns nil without Twilio credentials; the SMS dispatcher then uses its stub.
func smsProvider() messaging.SMSProvider {
	if c := twilioClient(); c != nil {
		return c
	}
	return nil
}

// generator returns nil without an OpenAI key; template content is used instead.
func generator(cfg Config) content.Generator {
	if cfg.OpenAIKey == "" {
		slog.Info("generator: OPENAI_API_KEY not set, content generation disabled")
		return nil
	}
	opts := []genai.Option{genai.WithAPIKey(cfg.OpenAIKey), genai.WithDebugMode(cfg.GenAIDebug, cfg.StateDir)}
	if cfg.OpenAIModel != "" {
		opts = append(opts, genai.WithModel(cfg.OpenAIModel))
	}
	client, err := genai.NewClient(opts...)
	if err != nil {
		slog.Warn("generator: content generation disabled", "error", err)
		return nil
	}
	return content.NewLLMGenerator(client, cfg.SenderName)
}
