package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pharmflow/pharmflow/internal/api"
	"github.com/pharmflow/pharmflow/internal/enquiry"
	"github.com/pharmflow/pharmflow/internal/flow"
	"github.com/pharmflow/pharmflow/internal/lockfile"
	"github.com/pharmflow/pharmflow/internal/messaging"
	"github.com/pharmflow/pharmflow/internal/notify"
	"github.com/pharmflow/pharmflow/internal/ordercache"
	"github.com/pharmflow/pharmflow/internal/scheduler"
	"github.com/pharmflow/pharmflow/internal/store"
	"github.com/pharmflow/pharmflow/internal/twiliowhatsapp"
	"github.com/pharmflow/pharmflow/internal/util"
	"github.com/pharmflow/pharmflow/internal/whatsapp"
)

// Default configuration constants.
const (
	// DefaultStateDir is the default directory for PharmFlow state data.
	DefaultStateDir = "/var/lib/pharmflow"
	// DefaultDBFileName is the default SQLite database filename.
	DefaultDBFileName = "pharmflow.db"
	// DefaultWhatsmeowDBFileName holds the WhatsApp session state.
	DefaultWhatsmeowDBFileName = "whatsmeow.db"
	// DefaultSweepCron runs the conversation staleness sweep hourly.
	DefaultSweepCron = "0 * * * *"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := run(config, flags); err != nil {
		slog.Error("PharmFlow failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("PharmFlow exited successfully")
}

// Config holds environment configuration.
type Config struct {
	StateDir       string
	DatabaseURL    string
	WhatsAppDSN    string
	NATSURL        string
	OpenAIKey      string
	APIAddr        string
	SweepCron      string
	UseTwilio      bool
	TwilioFrom     string
	SessionTimeout time.Duration
	StalenessBound time.Duration
}

// Flags holds command line flag values.
type Flags struct {
	qrOutput  *string
	numeric   *bool
	stateDir  *string
	dbDSN     *string
	natsURL   *string
	openaiKey *string
	apiAddr   *string
	sweepCron *string
	useTwilio *bool
}

// initializeLogger sets up structured logging with debug level.
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and a
// .env file.
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:       os.Getenv("PHARMFLOW_STATE_DIR"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		WhatsAppDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		NATSURL:        os.Getenv("NATS_URL"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		APIAddr:        os.Getenv("API_ADDR"),
		SweepCron:      os.Getenv("SWEEP_SCHEDULE"),
		UseTwilio:      util.ParseBoolEnv("USE_TWILIO", false),
		TwilioFrom:     os.Getenv("TWILIO_FROM_NUMBER"),
		SessionTimeout: util.ParseDurationEnv("SESSION_TIMEOUT", flow.DefaultSessionTimeout),
		StalenessBound: util.ParseDurationEnv("STALENESS_BOUND", flow.DefaultStalenessBound),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No PHARMFLOW_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, DefaultWhatsmeowDBFileName)
	}
	if config.SweepCron == "" {
		config.SweepCron = DefaultSweepCron
	}

	slog.Debug("environment variables loaded",
		"PHARMFLOW_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"NATS_URL_SET", config.NATSURL != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"SWEEP_SCHEDULE", config.SweepCron,
		"USE_TWILIO", config.UseTwilio)

	return config
}

// parseCommandLineFlags parses command line arguments with environment
// defaults.
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:  flag.String("qr-output", "", "path to write login QR code"),
		numeric:   flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:  flag.String("state-dir", config.StateDir, "state directory for PharmFlow data (overrides $PHARMFLOW_STATE_DIR)"),
		dbDSN:     flag.String("db-dsn", config.DatabaseURL, "database DSN for the contact and order store (overrides $DATABASE_URL)"),
		natsURL:   flag.String("nats-url", config.NATSURL, "NATS server URL for staff notifications (overrides $NATS_URL)"),
		openaiKey: flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key for the enquiry assistant (overrides $OPENAI_API_KEY)"),
		apiAddr:   flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		sweepCron: flag.String("sweep-cron", config.SweepCron, "cron schedule for the staleness sweep (overrides $SWEEP_SCHEDULE)"),
		useTwilio: flag.Bool("use-twilio", config.UseTwilio, "use Twilio as the primary channel instead of the native WhatsApp client (overrides $USE_TWILIO)"),
	}
	flag.Parse()

	if *flags.stateDir != config.StateDir && *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated db-dsn based on state directory", "new_state_dir", *flags.stateDir)
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"natsURL_set", *flags.natsURL != "",
		"apiAddr", *flags.apiAddr,
		"sweepCron", *flags.sweepCron,
		"useTwilio", *flags.useTwilio)

	return flags
}

// openStore selects the storage backend from the DSN shape.
func openStore(dsn string) (store.Store, error) {
	if store.DetectDSNType(dsn) == "postgres" {
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	}
	return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
}

// buildNotifier connects to NATS when a URL is configured, otherwise staff
// notifications are disabled.
func buildNotifier(natsURL string) (interface {
	flow.OrderNotifier
	flow.ConsultationNotifier
	Close()
}, error) {
	if natsURL == "" {
		slog.Info("No NATS URL configured, staff notifications disabled")
		return notify.NewNoopNotifier(), nil
	}
	return notify.NewNATSNotifier(notify.WithURL(natsURL))
}

// buildMessagingServices constructs the primary channel and, when possible, a
// fallback. The native WhatsApp client is the default primary with Twilio as
// fallback; -use-twilio swaps Twilio into the primary slot.
func buildMessagingServices(config Config, flags Flags) (primary, fallback messaging.Service, err error) {
	var twilioSvc *messaging.TwilioService
	twilioClient, twilioErr := twiliowhatsapp.NewClient()
	if twilioErr == nil {
		twilioSvc = messaging.NewTwilioService(twilioClient)
	} else {
		slog.Info("Twilio channel unavailable", "reason", twilioErr)
	}

	if *flags.useTwilio {
		if twilioSvc == nil {
			return nil, nil, twilioErr
		}
		return twilioSvc, nil, nil
	}

	var waOpts []whatsapp.Option
	waOpts = append(waOpts, whatsapp.WithDBDSN(config.WhatsAppDSN))
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	waClient, err := whatsapp.NewClient(waOpts...)
	if err != nil {
		return nil, nil, err
	}
	if twilioSvc != nil {
		return messaging.NewWhatsAppService(waClient), twilioSvc, nil
	}
	return messaging.NewWhatsAppService(waClient), nil, nil
}

func run(config Config, flags Flags) error {
	// Ensure the state directory exists before anything writes into it.
	if !strings.Contains(*flags.dbDSN, "postgres://") && !strings.Contains(*flags.dbDSN, "host=") {
		if err := os.MkdirAll(filepath.Dir(*flags.dbDSN), 0o755); err != nil {
			return err
		}
	}

	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := openStore(*flags.dbDSN)
	if err != nil {
		return err
	}
	defer st.Close()

	notifier, err := buildNotifier(*flags.natsURL)
	if err != nil {
		return err
	}
	defer notifier.Close()

	// The enquiry assistant is optional; without an API key the flow serves
	// its canned fallback reply.
	var answerer flow.Answerer
	if assistant, err := enquiry.NewAssistant(enquiry.WithAPIKey(*flags.openaiKey)); err == nil {
		answerer = assistant
	} else {
		slog.Info("Enquiry assistant unavailable", "reason", err)
		answerer = enquiry.Unavailable{}
	}

	cache := ordercache.New(st)
	finalizer := flow.NewFinalizer(st, notifier, cache)

	catalog, err := flow.BuildCatalog(flow.Config{}, flow.Dependencies{
		Finalizer: finalizer,
		Orders:    cache,
		Notifier:  notifier,
		Answerer:  answerer,
	})
	if err != nil {
		return err
	}

	engine := flow.NewEngine(catalog)
	governor := flow.NewGovernor(engine, catalog, st,
		flow.WithSessionTimeout(config.SessionTimeout),
		flow.WithStalenessBound(config.StalenessBound),
	)

	primary, fallback, err := buildMessagingServices(config, flags)
	if err != nil {
		return err
	}
	defer primary.Stop()
	if fallback != nil {
		defer fallback.Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := primary.Start(ctx); err != nil {
		return err
	}
	if fallback != nil {
		if err := fallback.Start(ctx); err != nil {
			return err
		}
	}

	dispatcher := messaging.NewDispatcher(primary, fallback, governor, st)
	dispatcher.Start(ctx)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddJob(*flags.sweepCron, func() {
		if _, err := governor.Sweep(context.Background(), time.Now()); err != nil {
			slog.Error("Staleness sweep failed", "error", err)
		}
	}); err != nil {
		return err
	}

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	server := api.NewServer(dispatcher, st, apiOpts...)

	slog.Info("PharmFlow running", "state_dir", *flags.stateDir, "sweep_cron", *flags.sweepCron)
	if err := server.Run(ctx); err != nil {
		return err
	}

	dispatcher.Wait()
	return nil
}
