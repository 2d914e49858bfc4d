package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/snapvault/snapvault/pkg/classify"
	"github.com/snapvault/snapvault/pkg/config"
	"github.com/snapvault/snapvault/pkg/digest"
	"github.com/snapvault/snapvault/pkg/engine"
	"github.com/snapvault/snapvault/pkg/notify"
	"github.com/snapvault/snapvault/pkg/secrets"
	"github.com/snapvault/snapvault/pkg/stores"
	"github.com/snapvault/snapvault/pkg/tasks"
	"github.com/snapvault/snapvault/pkg/telemetry"
	"github.com/snapvault/snapvault/pkg/vault"
)

// app is the wired pipeline shared by the run, digest, and serve commands.
// It implements server.Runner.
type app struct {
	cfg       config.Config
	tel       *telemetry.Telemetry
	journal   *stores.SQLiteJournal
	store     engine.DocumentStore
	processor *engine.Processor
	digester  *digest.Runner
	notifier  engine.Notifier
	chatID    string

	closers []func() error
}

// buildApp loads configuration, resolves secrets, and wires every component.
// logFormat selects console output for one-shot commands and json for serve.
func buildApp(ctx context.Context, version, logFormat string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.LogLevel = "debug"
	}

	tel, err := buildTelemetry(cfg, version, logFormat)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, tel: tel}
	ctx = tel.WithContext(ctx)

	source, err := a.buildSecretSource(ctx)
	if err != nil {
		return nil, err
	}

	if err := a.buildJournal(ctx); err != nil {
		return nil, err
	}
	if err := a.buildStore(ctx, source); err != nil {
		return nil, err
	}

	tz := cfg.Location()
	layout := engine.VaultLayout{
		RootID:           cfg.Vault.RootID,
		InboxID:          cfg.Vault.InboxID,
		ArchiveID:        cfg.Vault.ArchiveID,
		ClaimsID:         cfg.Vault.ClaimsID,
		DailyNotesFolder: cfg.Vault.DailyNotesFolder,
	}

	geminiKey, err := source.Get(ctx, "gemini-api-key")
	if err != nil {
		return nil, fmt.Errorf("resolving classifier credentials: %w", err)
	}
	analyzer, err := classify.NewGeminiAnalyzer(ctx, geminiKey, cfg.Classify.Model)
	if err != nil {
		return nil, err
	}

	ticktickToken, err := source.Get(ctx, "ticktick-access-token")
	if err != nil {
		return nil, fmt.Errorf("resolving task-list credentials: %w", err)
	}
	taskClient, err := tasks.NewClient(cfg.TickTick.BaseURL, ticktickToken)
	if err != nil {
		return nil, err
	}

	a.buildNotifier(ctx, source)

	claims := engine.NewClaimManager(a.store, layout.ClaimsID, engine.DefaultClaimTTL)
	lister := engine.NewLister(a.store, a.journal, claims, layout.InboxID, cfg.BatchSize)
	router := engine.NewRouter(tz)
	mutator := engine.NewMutator(a.store, a.journal, taskClient, layout)
	archiver := engine.NewArchiver(a.store, layout, tz)

	a.processor = engine.NewProcessor(a.store, a.journal, lister, claims, analyzer, router, mutator, archiver)
	a.digester = digest.NewRunner(digest.NewScanner(a.store, taskClient, layout, tz), a.notifier, a.chatID)
	return a, nil
}

func buildTelemetry(cfg config.Config, version, logFormat string) (*telemetry.Telemetry, error) {
	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = version
	tcfg.Logging.Level = cfg.Telemetry.LogLevel
	tcfg.Logging.Format = logFormat
	if cfg.Telemetry.OTLPEndpoint != "" {
		tcfg.Tracing.Enabled = true
		tcfg.Tracing.Exporter = "otlp"
		tcfg.Tracing.Endpoint = cfg.Telemetry.OTLPEndpoint
	} else if cfg.Telemetry.StdoutTraces {
		tcfg.Tracing.Enabled = true
		tcfg.Tracing.Exporter = "stdout"
	}
	return telemetry.New(tcfg)
}

func (a *app) buildSecretSource(ctx context.Context) (engine.SecretSource, error) {
	layered := secrets.Layered{secrets.EnvSource{}}
	if a.cfg.GCP.ProjectID != "" {
		manager, err := secrets.NewManagerSource(ctx, a.cfg.GCP.ProjectID)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, manager.Close)
		layered = append(layered, manager)
	}
	return layered, nil
}

func (a *app) buildJournal(ctx context.Context) error {
	journal, err := stores.NewSQLiteJournal(stores.Config{Path: a.cfg.Journal.Path})
	if err != nil {
		return err
	}
	if err := journal.Init(ctx); err != nil {
		return err
	}
	if err := journal.Migrate(ctx); err != nil {
		journal.Close()
		return err
	}
	a.journal = journal
	a.closers = append(a.closers, journal.Close)
	return nil
}

func (a *app) buildStore(ctx context.Context, source engine.SecretSource) error {
	switch a.cfg.Vault.Backend {
	case "local":
		store, err := vault.NewLocalStore(a.cfg.Vault.RootID)
		if err != nil {
			return err
		}
		a.store = store
		return nil
	case "drive":
		user, err := a.driveUserCredentials(ctx, source)
		if err != nil {
			return err
		}
		store, err := vault.NewDriveStore(ctx, user)
		if err != nil {
			return err
		}
		a.store = store
		return nil
	default:
		return fmt.Errorf("unknown vault backend %q", a.cfg.Vault.Backend)
	}
}

// driveUserCredentials resolves the OAuth user identity used for document
// creation, so created files are owned by the user rather than the service
// account.
func (a *app) driveUserCredentials(ctx context.Context, source engine.SecretSource) (vault.UserCredentials, error) {
	var user vault.UserCredentials
	var err error
	if user.ClientID, err = source.Get(ctx, "oauth-client-id"); err != nil {
		return user, fmt.Errorf("resolving drive user credentials: %w", err)
	}
	if user.ClientSecret, err = source.Get(ctx, "oauth-client-secret"); err != nil {
		return user, fmt.Errorf("resolving drive user credentials: %w", err)
	}
	if user.RefreshToken, err = source.Get(ctx, "oauth-refresh-token"); err != nil {
		return user, fmt.Errorf("resolving drive user credentials: %w", err)
	}
	return user, nil
}

// buildNotifier is tolerant of missing Telegram configuration: the pipeline
// runs without notifications, and only the digest commands hard-require them.
func (a *app) buildNotifier(ctx context.Context, source engine.SecretSource) {
	log := a.tel.Logger
	if a.cfg.Telegram.ChatID == "" {
		log.Info("telegram chat id not configured, notifications disabled")
		return
	}
	token, err := source.Get(ctx, "telegram-bot-token")
	if err != nil {
		log.WithError(err).Warn("telegram token unavailable, notifications disabled")
		return
	}
	notifier, err := notify.NewTelegramNotifier("", token)
	if err != nil {
		log.WithError(err).Warn("telegram setup failed, notifications disabled")
		return
	}
	a.notifier = notifier
	a.chatID = a.cfg.Telegram.ChatID
}

// RunBatch runs one processing batch and sends the post-batch notification
// when anything was touched.
func (a *app) RunBatch(ctx context.Context) (*engine.BatchSummary, error) {
	ctx = a.tel.WithContext(ctx)
	summary, err := a.processor.Run(ctx)
	if err != nil {
		return summary, err
	}

	if a.notifier != nil {
		if text := notify.BatchMessage(summary); text != "" {
			if err := a.notifier.Send(ctx, a.chatID, text); err != nil {
				a.tel.Logger.WithError(err).Warn("failed to send batch notification")
			}
		}
	}
	return summary, nil
}

// RunDigest fires one digest action.
func (a *app) RunDigest(ctx context.Context, kind engine.DigestKind) error {
	if a.notifier == nil {
		return errors.New("telegram is not configured; digests need a chat id and bot token")
	}
	ctx = a.tel.WithContext(ctx)
	_, err := a.digester.Run(ctx, kind)
	return err
}

// HealthCheck reports journal reachability for the /healthz probe.
func (a *app) HealthCheck(ctx context.Context) error {
	return a.journal.HealthCheck(ctx)
}

// Close releases held resources and flushes telemetry. It runs on a fresh
// context so a cancelled signal context cannot cut the flush short.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.tel.Logger.WithError(err).Warn("close failed")
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tel.Shutdown(shutdownCtx); err != nil {
		a.tel.Logger.WithError(err).Warn("telemetry shutdown failed")
	}
}
