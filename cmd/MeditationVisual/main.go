package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/MeditationVisual/internal/api"
	"github.com/BTreeMap/MeditationVisual/internal/flow"
	"github.com/BTreeMap/MeditationVisual/internal/gateway"
	"github.com/BTreeMap/MeditationVisual/internal/genai"
	"github.com/BTreeMap/MeditationVisual/internal/lockfile"
	"github.com/BTreeMap/MeditationVisual/internal/messaging"
	"github.com/BTreeMap/MeditationVisual/internal/models"
	"github.com/BTreeMap/MeditationVisual/internal/scheduler"
	"github.com/BTreeMap/MeditationVisual/internal/store"
	"github.com/BTreeMap/MeditationVisual/internal/twiliowhatsapp"
	"github.com/BTreeMap/MeditationVisual/internal/util"
	"github.com/joho/godotenv"
	"github.com/mdp/qrterminal/v3"
)

// Default configuration constants
const (
	// DefaultDBFileName is the SQLite database filename used inside the state directory
	DefaultDBFileName = "meditationvisual.db"
	// gatewayClientSlack is added to the generate timeout for the flow's HTTP client
	gatewayClientSlack = 30 * time.Second
)

func main() {
	config := loadEnvironmentConfig()

	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}
	initializeLogger(os.Stdout, flags.logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags); err != nil {
		slog.Error("MeditationVisual failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("MeditationVisual exited successfully")
}

// Config holds environment configuration
type Config struct {
	APIAddr         string
	PublicURL       string
	GatewayURL      string
	Provider        string
	ReplicateToken  string
	OpenAIKey       string
	DatabaseURL     string
	StateDir        string
	CatalogFile     string
	GenerateTimeout time.Duration
	PollInterval    time.Duration
	SessionTTL      time.Duration
	ProviderRate    float64
	Retention       time.Duration
	TwilioSID       string
	TwilioToken     string
	TwilioFrom      string
	LogLevel        string
	ShowQR          bool
}

// Flags holds command line flag values
type Flags struct {
	apiAddr         string
	publicURL       string
	gatewayURL      string
	provider        string
	replicateToken  string
	openaiKey       string
	dbDSN           string
	stateDir        string
	catalogFile     string
	generateTimeout time.Duration
	pollInterval    time.Duration
	sessionTTL      time.Duration
	providerRate    float64
	retention       time.Duration
	twilioSID       string
	twilioToken     string
	twilioFrom      string
	logLevel        string
	showQR          bool
}

// initializeLogger sets up structured logging at the configured level
func initializeLogger(w io.Writer, level string) {
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

func parseLogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		APIAddr:         os.Getenv("API_ADDR"),
		PublicURL:       os.Getenv("PUBLIC_URL"),
		GatewayURL:      os.Getenv("GATEWAY_URL"),
		Provider:        os.Getenv("IMAGE_PROVIDER"),
		ReplicateToken:  os.Getenv("REPLICATE_API_TOKEN"),
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		StateDir:        os.Getenv("MEDITATION_STATE_DIR"),
		CatalogFile:     os.Getenv("CATALOG_FILE"),
		GenerateTimeout: util.ParseDurationEnv("GENERATE_TIMEOUT", gateway.DefaultTimeout),
		PollInterval:    util.ParseDurationEnv("POLL_INTERVAL", genai.DefaultPollInterval),
		SessionTTL:      util.ParseDurationEnv("SESSION_TTL", flow.DefaultSessionTTL),
		ProviderRate:    util.ParseFloatEnv("PROVIDER_RATE", gateway.DefaultRate),
		Retention:       util.ParseDurationEnv("RECEIPT_RETENTION", 0),
		TwilioSID:       os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:     os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:      os.Getenv("TWILIO_FROM_NUMBER"),
		LogLevel:        os.Getenv("LOG_LEVEL"),
		ShowQR:          util.ParseBoolEnv("SHOW_QR", false),
	}
	if config.APIAddr == "" {
		config.APIAddr = api.DefaultAddr
	}
	if config.Provider == "" {
		config.Provider = genai.ProviderReplicate
	}

	slog.Debug("environment variables loaded",
		"API_ADDR", config.APIAddr,
		"PUBLIC_URL", config.PublicURL,
		"IMAGE_PROVIDER", config.Provider,
		"REPLICATE_API_TOKEN_SET", config.ReplicateToken != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"MEDITATION_STATE_DIR", config.StateDir,
		"TWILIO_ACCOUNT_SID_SET", config.TwilioSID != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	var f Flags
	fs.StringVar(&f.apiAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&f.publicURL, "public-url", config.PublicURL, "public URL of this service, shown as a QR code (overrides $PUBLIC_URL)")
	fs.StringVar(&f.gatewayURL, "gateway-url", config.GatewayURL, "generation gateway URL used by sessions (overrides $GATEWAY_URL; default is this server)")
	fs.StringVar(&f.provider, "provider", config.Provider, "image provider: replicate or openai (overrides $IMAGE_PROVIDER)")
	fs.StringVar(&f.replicateToken, "replicate-api-token", config.ReplicateToken, "Replicate API token (overrides $REPLICATE_API_TOKEN)")
	fs.StringVar(&f.openaiKey, "openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.StringVar(&f.dbDSN, "db-dsn", config.DatabaseURL, "receipt database DSN, Postgres URL or SQLite path (overrides $DATABASE_URL)")
	fs.StringVar(&f.stateDir, "state-dir", config.StateDir, "state directory for the SQLite receipt database (overrides $MEDITATION_STATE_DIR)")
	fs.StringVar(&f.catalogFile, "catalog", config.CatalogFile, "JSON emotion catalog file (overrides $CATALOG_FILE)")
	fs.DurationVar(&f.generateTimeout, "generate-timeout", config.GenerateTimeout, "maximum wait for one image generation (overrides $GENERATE_TIMEOUT)")
	fs.DurationVar(&f.pollInterval, "poll-interval", config.PollInterval, "provider job poll interval (overrides $POLL_INTERVAL)")
	fs.DurationVar(&f.sessionTTL, "session-ttl", config.SessionTTL, "idle session expiry (overrides $SESSION_TTL)")
	fs.Float64Var(&f.providerRate, "provider-rate", config.ProviderRate, "provider calls per second, 0 disables limiting (overrides $PROVIDER_RATE)")
	fs.DurationVar(&f.retention, "receipt-retention", config.Retention, "delete receipts older than this, 0 keeps all (overrides $RECEIPT_RETENTION)")
	fs.StringVar(&f.twilioSID, "twilio-account-sid", config.TwilioSID, "Twilio account SID for sharing (overrides $TWILIO_ACCOUNT_SID)")
	fs.StringVar(&f.twilioToken, "twilio-auth-token", config.TwilioToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)")
	fs.StringVar(&f.twilioFrom, "twilio-from", config.TwilioFrom, "Twilio WhatsApp sender number (overrides $TWILIO_FROM_NUMBER)")
	fs.StringVar(&f.logLevel, "log-level", config.LogLevel, "log level: debug, info, warn, error (overrides $LOG_LEVEL)")
	fs.BoolVar(&f.showQR, "qr", config.ShowQR, "print a QR code of the public URL at startup (overrides $SHOW_QR)")

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	if f.provider != genai.ProviderReplicate && f.provider != genai.ProviderOpenAI {
		return Flags{}, fmt.Errorf("unknown provider %q", f.provider)
	}
	if f.dbDSN == "" && f.stateDir != "" {
		f.dbDSN = filepath.Join(f.stateDir, DefaultDBFileName)
	}
	if f.gatewayURL == "" {
		f.gatewayURL = localGatewayURL(f.apiAddr)
	}

	slog.Debug("flags parsed",
		"apiAddr", f.apiAddr,
		"provider", f.provider,
		"dbDSN_set", f.dbDSN != "",
		"gatewayURL", f.gatewayURL,
		"generateTimeout", f.generateTimeout,
		"pollInterval", f.pollInterval,
		"sessionTTL", f.sessionTTL)
	return f, nil
}

// localGatewayURL points at this server's generate endpoint.
func localGatewayURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://127.0.0.1:8080/api/generate"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/api/generate"
}

// buildProvider constructs the configured image provider.
func buildProvider(f Flags) genai.ImageProvider {
	switch f.provider {
	case genai.ProviderOpenAI:
		return genai.NewOpenAIProvider(genai.WithOpenAIKey(f.openaiKey))
	default:
		return genai.NewReplicateProvider(
			genai.WithReplicateToken(f.replicateToken),
			genai.WithPollInterval(f.pollInterval),
		)
	}
}

// buildSharer returns nil when Twilio is not configured.
func buildSharer(f Flags) messaging.Sharer {
	if f.twilioSID == "" {
		slog.Debug("Twilio not configured, sharing disabled")
		return nil
	}
	client, err := twiliowhatsapp.NewClient(
		twiliowhatsapp.WithAccountSID(f.twilioSID),
		twiliowhatsapp.WithAuthToken(f.twilioToken),
		twiliowhatsapp.WithFromWhats(f.twilioFrom),
	)
	if err != nil {
		slog.Warn("Twilio configuration incomplete, sharing disabled", "error", err)
		return nil
	}
	return messaging.NewShareService(client)
}

// printQRCode writes the public URL as a terminal QR code.
func printQRCode(w io.Writer, url string) {
	fmt.Fprintf(w, "Open %s or scan:\n", url)
	qrterminal.GenerateHalfBlock(url, qrterminal.L, w)
}

func run(ctx context.Context, f Flags) error {
	catalog, err := models.LoadCatalog(f.catalogFile)
	if err != nil {
		return err
	}

	if f.stateDir != "" {
		lock, err := lockfile.AcquireLock(f.stateDir)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	st, err := store.Open(f.dbDSN)
	if err != nil {
		return err
	}
	defer st.Close()

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.ScheduleReceiptPruning(scheduler.DefaultPruneSchedule, st, f.retention); err != nil {
		return fmt.Errorf("failed to schedule receipt pruning: %w", err)
	}

	service := gateway.NewService(buildProvider(f),
		gateway.WithTimeout(f.generateTimeout),
		gateway.WithRateLimit(f.providerRate, gateway.DefaultBurst))

	client := gateway.NewClient(f.gatewayURL, &http.Client{Timeout: f.generateTimeout + gatewayClientSlack})
	registry := flow.NewRegistry(catalog, client,
		flow.WithSessionTTL(f.sessionTTL),
		flow.WithRegistryRecorder(st),
		flow.WithRegistryFetcher(flow.NewDownloader(nil, nil, 0)))

	apiOpts := []api.Option{
		api.WithAddr(f.apiAddr),
		api.WithGenerator(service),
		api.WithRegistry(registry),
		api.WithCatalog(catalog),
		api.WithStore(st),
	}
	if sharer := buildSharer(f); sharer != nil {
		apiOpts = append(apiOpts, api.WithSharer(sharer))
	}

	if f.showQR && f.publicURL != "" {
		printQRCode(os.Stdout, f.publicURL)
	}

	slog.Info("Bootstrapping MeditationVisual", "provider", service.Provider(), "emotions", catalog.Len(), "addr", f.apiAddr)
	return api.NewServer(apiOpts...).Run(ctx)
}
