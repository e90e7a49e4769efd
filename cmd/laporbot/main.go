package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/LaporKota/LaporBot/internal/api"
	"github.com/LaporKota/LaporBot/internal/classifier"
	"github.com/LaporKota/LaporBot/internal/flow"
	"github.com/LaporKota/LaporBot/internal/lockfile"
	"github.com/LaporKota/LaporBot/internal/messaging"
	"github.com/LaporKota/LaporBot/internal/mode"
	"github.com/LaporKota/LaporBot/internal/notify"
	"github.com/LaporKota/LaporBot/internal/region"
	"github.com/LaporKota/LaporBot/internal/store"
	"github.com/LaporKota/LaporBot/internal/twiliowhatsapp"
	"github.com/LaporKota/LaporBot/internal/util"
	"github.com/LaporKota/LaporBot/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for LaporBot state data
	DefaultStateDir = "/var/lib/laporbot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "laporbot.db"
)

// Channel identifiers for the citizen-facing transport.
const (
	ChannelWhatsmeow = "whatsmeow"
	ChannelTwilio    = "twilio"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	if err := run(flags); err != nil {
		slog.Error("LaporBot failed to run", "error", err)
		lock.Release()
		os.Exit(1)
	}
	slog.Info("LaporBot exited successfully")
}

// run wires the store, engine, arbiter, messaging channel and admin API, then
// blocks until an interrupt arrives.
func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(*flags.dbDSN)
	if err != nil {
		return err
	}
	defer st.Close()

	var notifier notify.Notifier = notify.LogNotifier{}
	if *flags.webhookURL != "" {
		notifier = notify.NewWebhookNotifier(*flags.webhookURL)
		slog.Info("Webhook notifier configured", "url", *flags.webhookURL)
	}

	regions, err := buildRegionResolver(flags)
	if err != nil {
		return err
	}
	cls := buildClassifier(flags)

	engine := flow.NewEngine(st, regions, cls, notifier)
	arbiter := mode.NewArbiter(st, notifier)

	msgService, apiOpts, err := buildMessagingService(flags)
	if err != nil {
		return err
	}
	if err := msgService.Start(ctx); err != nil {
		return err
	}
	defer msgService.Stop()

	router := messaging.NewRouter(msgService, engine, arbiter)
	go router.Run(ctx)

	sweeper := mode.NewSweeper(arbiter, 0)
	go sweeper.Start(ctx)

	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	server := api.NewServer(st, arbiter, engine, msgService, notifier, apiOpts...)

	slog.Info("LaporBot running", "channel", *flags.channel, "api_addr", *flags.apiAddr)
	return server.Run(ctx)
}

// openStore selects the SQL backend from the DSN shape.
func openStore(dsn string) (store.Store, error) {
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Info("Using PostgreSQL store")
		return store.NewPostgresStore(store.WithDSN(dsn))
	}
	slog.Info("Using SQLite store", "path", dsn)
	return store.NewSQLiteStore(store.WithDSN(dsn))
}

// buildRegionResolver loads the service-area boundaries. Without a GeoJSON
// file every shared location is accepted, with no region attribution.
func buildRegionResolver(flags Flags) (region.Resolver, error) {
	if *flags.geojsonPath == "" {
		slog.Warn("No service-area GeoJSON configured, accepting all locations")
		return nil, nil
	}
	resolver, err := region.NewGeoJSONResolver(*flags.geojsonPath)
	if err != nil {
		return nil, err
	}
	slog.Info("Service-area boundaries loaded", "path", *flags.geojsonPath)
	return resolver, nil
}

// buildClassifier prefers the LLM-backed intent classifier and falls back to
// keyword matching when no API key is configured or the client fails to build.
func buildClassifier(flags Flags) classifier.Classifier {
	if *flags.openaiKey == "" {
		slog.Info("No OpenAI API key configured, using keyword intent classifier")
		return classifier.KeywordClassifier{}
	}
	client, err := classifier.NewClient(*flags.openaiKey)
	if err != nil {
		slog.Warn("Failed to build LLM classifier, falling back to keywords", "error", err)
		return classifier.KeywordClassifier{}
	}
	slog.Info("LLM intent classifier configured")
	return client
}

// buildMessagingService constructs the citizen-facing channel. The Twilio
// channel additionally contributes its inbound webhook to the API server.
func buildMessagingService(flags Flags) (messaging.Service, []api.Option, error) {
	switch *flags.channel {
	case ChannelTwilio:
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, nil, err
		}
		svc := messaging.NewTwilioService(client)
		return svc, []api.Option{api.WithTwilioWebhook(svc.TwilioWebhookHandler)}, nil

	default:
		waOpts := buildWhatsAppOptions(flags)
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, nil, err
		}
		return messaging.NewWhatsAppService(client), nil, nil
	}
}

// Config holds environment configuration
type Config struct {
	DatabaseDSN string
	StateDir    string
	OpenAIKey   string
	APIAddr     string
	GeoJSONPath string
	WebhookURL  string
	Channel     string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput    *string
	numeric     *bool
	stateDir    *string
	dbDSN       *string
	openaiKey   *string
	apiAddr     *string
	geojsonPath *string
	webhookURL  *string
	channel     *string
}

// initializeLogger sets up structured logging; LAPORBOT_DEBUG raises the level.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("LAPORBOT_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
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
		DatabaseDSN: os.Getenv("DATABASE_URL"),
		StateDir:    os.Getenv("LAPORBOT_STATE_DIR"),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		APIAddr:     os.Getenv("API_ADDR"),
		GeoJSONPath: os.Getenv("SERVICE_AREA_GEOJSON"),
		WebhookURL:  os.Getenv("NOTIFY_WEBHOOK_URL"),
		Channel:     os.Getenv("LAPORBOT_CHANNEL"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No LAPORBOT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseDSN == "" {
		config.DatabaseDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseDSN)
	}
	if config.Channel == "" {
		config.Channel = ChannelWhatsmeow
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseDSN != "",
		"LAPORBOT_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"SERVICE_AREA_GEOJSON", config.GeoJSONPath,
		"NOTIFY_WEBHOOK_URL_SET", config.WebhookURL != "",
		"LAPORBOT_CHANNEL", config.Channel)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:    flag.String("qr-output", "", "path to write login QR code"),
		numeric:     flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:    flag.String("state-dir", config.StateDir, "state directory for LaporBot data (overrides $LAPORBOT_STATE_DIR)"),
		dbDSN:       flag.String("db-dsn", config.DatabaseDSN, "database DSN for sessions, reports and WhatsApp state (overrides $DATABASE_URL)"),
		openaiKey:   flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key for intent classification (overrides $OPENAI_API_KEY)"),
		apiAddr:     flag.String("api-addr", config.APIAddr, "admin API server address (overrides $API_ADDR)"),
		geojsonPath: flag.String("service-area", config.GeoJSONPath, "GeoJSON file with service-area boundaries (overrides $SERVICE_AREA_GEOJSON)"),
		webhookURL:  flag.String("notify-webhook", config.WebhookURL, "webhook URL for report/mode events (overrides $NOTIFY_WEBHOOK_URL)"),
		channel:     flag.String("channel", config.Channel, "citizen messaging channel: whatsmeow or twilio (overrides $LAPORBOT_CHANNEL)"),
	}

	flag.Parse()

	// Moving the state directory moves the default SQLite file with it.
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"channel", *flags.channel)

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if err := os.MkdirAll(*flags.stateDir, 0755); err != nil {
		return err
	}
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		dbDir := filepath.Dir(*flags.dbDSN)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// buildWhatsAppOptions constructs WhatsApp client configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.dbDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.dbDSN))
	}
	return waOpts
}
