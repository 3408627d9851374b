package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/BTreeMap/TrialRelay/internal/genai"
	"github.com/BTreeMap/TrialRelay/internal/intent"
	"github.com/BTreeMap/TrialRelay/internal/messaging"
	"github.com/BTreeMap/TrialRelay/internal/relay"
	"github.com/BTreeMap/TrialRelay/internal/reminder"
	"github.com/BTreeMap/TrialRelay/internal/scheduler"
	"github.com/BTreeMap/TrialRelay/internal/store"
	"github.com/BTreeMap/TrialRelay/internal/util"
	"github.com/BTreeMap/TrialRelay/internal/whatsapp"
	"github.com/BTreeMap/TrialRelay/internal/workflow"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for TrialRelay state data
	DefaultStateDir = "/var/lib/trialrelay"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "trialrelay.db"
	// DefaultPurgeCron is the default schedule for the terminal-reminder sweep
	DefaultPurgeCron = "30 3 * * *"
	// DefaultRetention is how long terminal reminders are kept before the sweep removes them
	DefaultRetention = 30 * 24 * time.Hour
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	if err := workflow.ValidateRoutes(); err != nil {
		slog.Error("Workflow routing table is invalid", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping TrialRelay with configured modules")
	if err := run(config, flags); err != nil {
		slog.Error("TrialRelay failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("TrialRelay exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL      string
	StateDir         string
	OpenAIKey        string
	MessagingBackend string
	PollInterval     time.Duration
	BatchLimit       int
	PurgeCron        string
	Retention        time.Duration
}

// Flags holds command line flag values
type Flags struct {
	qrOutput *string
	numeric  *bool
	stateDir *string
	dbDSN    *string
	backend  *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		StateDir:         os.Getenv("TRIALRELAY_STATE_DIR"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		MessagingBackend: os.Getenv("MESSAGING_BACKEND"),
		PollInterval:     util.ParseDurationEnv("REMINDER_POLL_INTERVAL", reminder.DefaultPollInterval),
		BatchLimit:       util.ParseIntEnv("REMINDER_BATCH_LIMIT", reminder.DefaultBatchLimit),
		PurgeCron:        os.Getenv("REMINDER_PURGE_SCHEDULE"),
		Retention:        util.ParseDurationEnv("REMINDER_RETENTION", DefaultRetention),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No TRIALRELAY_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.MessagingBackend == "" {
		config.MessagingBackend = "whatsapp"
	}
	if config.PurgeCron == "" {
		config.PurgeCron = DefaultPurgeCron
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"TRIALRELAY_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"MESSAGING_BACKEND", config.MessagingBackend,
		"REMINDER_POLL_INTERVAL", config.PollInterval,
		"REMINDER_BATCH_LIMIT", config.BatchLimit,
		"REMINDER_PURGE_SCHEDULE", config.PurgeCron,
		"REMINDER_RETENTION", config.Retention)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput: flag.String("qr-output", "", "path to write login QR code"),
		numeric:  flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir: flag.String("state-dir", config.StateDir, "state directory for TrialRelay data (overrides $TRIALRELAY_STATE_DIR)"),
		dbDSN:    flag.String("db-dsn", config.DatabaseURL, "database DSN (overrides $DATABASE_URL)"),
		backend:  flag.String("messaging-backend", config.MessagingBackend, "messaging backend: whatsapp, twilio, or mock (overrides $MESSAGING_BACKEND)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"backend", *flags.backend)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// buildStore constructs the durable store matching the DSN type.
func buildStore(dsn string) (store.Store, error) {
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
}

// buildMessaging constructs the messaging backend. For the whatsapp backend
// the returned client is non-nil and can receive inbound messages.
func buildMessaging(flags Flags) (messaging.Service, *whatsapp.Client, error) {
	switch *flags.backend {
	case "twilio":
		svc, err := messaging.NewTwilioService()
		return svc, nil, err
	case "mock":
		slog.Warn("Using mock messaging backend; no messages will be delivered")
		return messaging.NewMockService(), nil, nil
	default:
		var waOpts []whatsapp.Option
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.dbDSN))
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, nil, err
		}
		return messaging.NewWhatsAppService(client), client, nil
	}
}

// buildClassifier constructs the intent classifier, with the GenAI fallback
// attached when an API key is configured.
func buildClassifier(config Config) *intent.Classifier {
	if config.OpenAIKey == "" {
		slog.Debug("No OpenAI API key configured, intent classification uses keyword rules only")
		return intent.NewClassifier(nil)
	}
	client, err := genai.NewClient(genai.WithAPIKey(config.OpenAIKey))
	if err != nil {
		slog.Warn("GenAI client unavailable, intent classification uses keyword rules only", "error", err)
		return intent.NewClassifier(nil)
	}
	return intent.NewClassifier(client)
}

func run(config Config, flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStore(*flags.dbDSN)
	if err != nil {
		return err
	}
	defer st.Close()

	msgService, waClient, err := buildMessaging(flags)
	if err != nil {
		return err
	}
	if err := msgService.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := msgService.Stop(); err != nil {
			slog.Error("Messaging service stop failed", "error", err)
		}
	}()

	engine := workflow.NewEngine(st)
	classifier := buildClassifier(config)
	rel := relay.NewRelay(engine, classifier, st, msgService)
	if waClient != nil {
		waClient.OnMessage(func(from, body string) {
			rel.HandleInbound(ctx, from, body)
		})
	}

	dispatcher := reminder.NewDispatcher(st, st, msgService, config.PollInterval, config.BatchLimit)
	if err := dispatcher.RecoverStaleReminders(); err != nil {
		slog.Error("Stale reminder recovery failed", "error", err)
	}

	cronScheduler := scheduler.NewScheduler()
	defer cronScheduler.Stop()
	if err := cronScheduler.AddJob(config.PurgeCron, func() {
		n, err := st.PurgeTerminalReminders(time.Now().Add(-config.Retention))
		if err != nil {
			slog.Error("Terminal reminder purge failed", "error", err)
			return
		}
		slog.Info("Terminal reminder purge completed", "removed", n)
	}); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		dispatcher.Run(ctx)
		close(done)
	}()

	slog.Info("TrialRelay running", "backend", *flags.backend, "pollInterval", config.PollInterval, "batchLimit", config.BatchLimit)
	<-ctx.Done()
	slog.Info("Shutdown signal received, draining")
	<-done
	return nil
}
