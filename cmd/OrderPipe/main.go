package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/OrderPipe/internal/api"
	"github.com/BTreeMap/OrderPipe/internal/catalog"
	"github.com/BTreeMap/OrderPipe/internal/conversation"
	"github.com/BTreeMap/OrderPipe/internal/intent"
	"github.com/BTreeMap/OrderPipe/internal/lockfile"
	"github.com/BTreeMap/OrderPipe/internal/messaging"
	"github.com/BTreeMap/OrderPipe/internal/notify"
	"github.com/BTreeMap/OrderPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/OrderPipe/internal/util"
	"github.com/BTreeMap/OrderPipe/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for OrderPipe state data
	DefaultStateDir = "/var/lib/orderpipe"
	// DefaultWhatsAppDBFileName is the default SQLite database filename for the WhatsApp session
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultAPIAddr is the default listen address of the HTTP server
	DefaultAPIAddr = ":3000"
)

// Transport names accepted by -transport.
const (
	TransportWhatsApp = "whatsapp"
	TransportTwilio   = "twilio"
)

func main() {
	// Load environment configuration
	config := loadEnvironmentConfig()

	// Initialize structured logger
	initializeLogger(config.LogLevel)

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to lock state directory", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	slog.Info("Bootstrapping OrderPipe", "transport", *flags.transport, "state_dir", *flags.stateDir, "api_addr", *flags.apiAddr)
	err = run(ctx, flags)
	stop()

	if releaseErr := lock.Release(); releaseErr != nil {
		slog.Warn("Failed to release state directory lock", "error", releaseErr)
	}
	if err != nil {
		slog.Error("OrderPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("OrderPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir         string
	WhatsAppDSN      string
	APIAddr          string
	AdminNumber      string
	ResendAPIKey     string
	ClientEmail      string
	EmailFrom        string
	CatalogPath      string
	MessageGap       time.Duration
	Transport        string
	TwilioWebhookURL string
	NumericCode      bool
	LogLevel         string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput         *string
	numeric          *bool
	stateDir         *string
	dbDSN            *string
	apiAddr          *string
	adminNumber      *string
	resendAPIKey     *string
	emailTo          *string
	emailFrom        *string
	catalogPath      *string
	messageGap       *time.Duration
	transport        *string
	twilioWebhookURL *string
}

// initializeLogger sets up structured logging; the level defaults to debug.
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:         os.Getenv("ORDERPIPE_STATE_DIR"),
		WhatsAppDSN:      os.Getenv("WHATSAPP_DB_DSN"),
		APIAddr:          os.Getenv("API_ADDR"),
		AdminNumber:      os.Getenv("ADMIN_NUMBER"),
		ResendAPIKey:     os.Getenv("RESEND_API_KEY"),
		ClientEmail:      os.Getenv("CLIENT_EMAIL"),
		EmailFrom:        os.Getenv("EMAIL_FROM"),
		CatalogPath:      os.Getenv("ORDERPIPE_CATALOG"),
		MessageGap:       util.ParseDurationEnv("MESSAGE_GAP", conversation.DefaultMessageGap),
		Transport:        strings.ToLower(os.Getenv("TRANSPORT")),
		TwilioWebhookURL: os.Getenv("TWILIO_WEBHOOK_URL"),
		NumericCode:      util.ParseBoolEnv("NUMERIC_CODE", false),
		LogLevel:         os.Getenv("LOG_LEVEL"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No ORDERPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = os.Getenv("DATABASE_URL")
		if config.WhatsAppDSN != "" {
			slog.Debug("Using DATABASE_URL as WHATSAPP_DB_DSN", "dsn_set", true)
		}
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = defaultWhatsAppDSN(config.StateDir)
		slog.Debug("No database DSN provided, defaulting to SQLite", "dsn", config.WhatsAppDSN)
	}
	if config.APIAddr == "" {
		config.APIAddr = DefaultAPIAddr
	}
	if config.Transport == "" {
		config.Transport = TransportWhatsApp
	}

	slog.Debug("environment variables loaded",
		"ORDERPIPE_STATE_DIR", config.StateDir,
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"API_ADDR", config.APIAddr,
		"ADMIN_NUMBER_SET", config.AdminNumber != "",
		"RESEND_API_KEY_SET", config.ResendAPIKey != "",
		"CLIENT_EMAIL", config.ClientEmail,
		"ORDERPIPE_CATALOG", config.CatalogPath,
		"MESSAGE_GAP", config.MessageGap,
		"TRANSPORT", config.Transport)

	return config
}

func defaultWhatsAppDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:         flag.String("qr-output", "", "path to write login QR code"),
		numeric:          flag.Bool("numeric-code", config.NumericCode, "print the raw login code instead of a QR code (overrides $NUMERIC_CODE)"),
		stateDir:         flag.String("state-dir", config.StateDir, "state directory for OrderPipe data (overrides $ORDERPIPE_STATE_DIR)"),
		dbDSN:            flag.String("db-dsn", config.WhatsAppDSN, "database DSN for the WhatsApp session (overrides $WHATSAPP_DB_DSN or $DATABASE_URL)"),
		apiAddr:          flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		adminNumber:      flag.String("admin-number", config.AdminNumber, "phone number receiving a copy of each order (overrides $ADMIN_NUMBER)"),
		resendAPIKey:     flag.String("resend-api-key", config.ResendAPIKey, "Resend API key for order emails (overrides $RESEND_API_KEY)"),
		emailTo:          flag.String("email-to", config.ClientEmail, "address receiving order emails (overrides $CLIENT_EMAIL)"),
		emailFrom:        flag.String("email-from", config.EmailFrom, "sender of order emails (overrides $EMAIL_FROM)"),
		catalogPath:      flag.String("catalog", config.CatalogPath, "YAML catalog replacing the built-in one (overrides $ORDERPIPE_CATALOG)"),
		messageGap:       flag.Duration("message-gap", config.MessageGap, "pause between the summary and the menu (overrides $MESSAGE_GAP)"),
		transport:        flag.String("transport", config.Transport, "chat transport: whatsapp or twilio (overrides $TRANSPORT)"),
		twilioWebhookURL: flag.String("twilio-webhook-url", config.TwilioWebhookURL, "public URL of /twilio/inbound used to verify signatures (overrides $TWILIO_WEBHOOK_URL)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"catalog", *flags.catalogPath,
		"messageGap", *flags.messageGap,
		"transport", *flags.transport)

	// Follow -state-dir when the DSN is still the default one
	if *flags.dbDSN == defaultWhatsAppDSN(config.StateDir) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = defaultWhatsAppDSN(*flags.stateDir)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates the directory of a file-based WhatsApp database.
func ensureDirectoriesExist(flags Flags) error {
	if *flags.transport != TransportWhatsApp || whatsapp.DetectDSNType(*flags.dbDSN) == "postgres" {
		return nil
	}
	path := strings.TrimPrefix(*flags.dbDSN, "file:")
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	dir := filepath.Dir(path)
	slog.Debug("Creating directory for file-based database", "dir", dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return nil
}

// run wires the modules together and serves until ctx is cancelled.
func run(ctx context.Context, flags Flags) error {
	cat, err := loadCatalog(*flags.catalogPath)
	if err != nil {
		return err
	}

	msgService, apiOpts, err := buildMessagingService(ctx, flags)
	if err != nil {
		return err
	}

	ctrlOpts, err := buildControllerOptions(flags, msgService)
	if err != nil {
		return err
	}
	controller := conversation.NewController(conversation.NewStore(), cat, intent.Default(), msgService, ctrlOpts...)

	apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	return api.NewServer(msgService, controller, apiOpts...).Run(ctx)
}

// loadCatalog returns the catalog at path, or the built-in one when path is empty.
func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default(), nil
	}
	cat, err := catalog.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	slog.Info("Catalog loaded", "path", path, "version", cat.Version())
	return cat, nil
}

// buildMessagingService creates the selected transport and the API options it needs.
func buildMessagingService(ctx context.Context, flags Flags) (messaging.Service, []api.Option, error) {
	switch *flags.transport {
	case TransportWhatsApp:
		waClient, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(flags)...)
		if err != nil {
			return nil, nil, err
		}
		return messaging.NewWhatsAppService(waClient), nil, nil

	case TransportTwilio:
		twClient, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, nil, err
		}
		svc := messaging.NewTwilioService(twClient)
		return svc, []api.Option{api.WithTwilioInbound(svc, twClient, *flags.twilioWebhookURL)}, nil

	default:
		return nil, nil, fmt.Errorf("unknown transport %q (want %s or %s)", *flags.transport, TransportWhatsApp, TransportTwilio)
	}
}

// buildWhatsAppOptions constructs WhatsApp configuration options
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

// buildControllerOptions constructs conversation controller options. The admin number is
// canonicalized by the transport so the forward goes to the same kind of identity as customers.
func buildControllerOptions(flags Flags, msgService messaging.Service) ([]conversation.Option, error) {
	opts := []conversation.Option{conversation.WithMessageGap(*flags.messageGap)}

	if *flags.adminNumber != "" {
		admin, err := msgService.ValidateAndCanonicalizeRecipient(*flags.adminNumber)
		if err != nil {
			return nil, fmt.Errorf("invalid admin number: %w", err)
		}
		opts = append(opts, conversation.WithAdminRecipient(admin))
	} else {
		slog.Warn("No ADMIN_NUMBER set, orders will not be forwarded")
	}

	notifier, err := buildNotifier(flags)
	if err != nil {
		return nil, err
	}
	if notifier != nil {
		opts = append(opts, conversation.WithNotifier(notifier))
	}
	return opts, nil
}

// buildNotifier returns nil when email notifications are not configured.
func buildNotifier(flags Flags) (*notify.EmailNotifier, error) {
	if *flags.resendAPIKey == "" || *flags.emailTo == "" {
		slog.Info("Email notifications disabled", "api_key_set", *flags.resendAPIKey != "", "recipient_set", *flags.emailTo != "")
		return nil, nil
	}
	notifier, err := notify.NewEmailNotifier(
		notify.WithAPIKey(*flags.resendAPIKey),
		notify.WithRecipient(*flags.emailTo),
		notify.WithFrom(*flags.emailFrom),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create email notifier: %w", err)
	}
	return notifier, nil
}
