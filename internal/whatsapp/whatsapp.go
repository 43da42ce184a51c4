// Package whatsapp wraps the Whatsmeow client for WhatsApp integration in OrderPipe.
//
// It handles the device store and QR login, sends text messages and exposes the client's
// event stream to the messaging layer.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for WhatsApp client configuration
const (
	// DefaultSQLitePath is the default path for the whatsmeow device database
	DefaultSQLitePath = "/var/lib/orderpipe/whatsmeow.db"
	// JIDSuffix is the WhatsApp JID suffix for regular users
	JIDSuffix = "@" + types.DefaultUserServer
)

// WhatsAppSender is the client surface used by the messaging service (real or mock).
type WhatsAppSender interface {
	SendMessage(ctx context.Context, to string, body string) error
	IsReady() bool
	AddEventHandler(handler whatsmeow.EventHandler) uint32
}

// Opts holds configuration options for the WhatsApp client.
type Opts struct {
	DBDSN       string // whatsmeow device database connection string
	QRPath      string // path to write login QR code
	NumericCode bool   // print the raw pairing code instead of a QR code
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the whatsmeow database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithQRCodeOutput writes the login QR code to path instead of stdout.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) {
		o.QRPath = path
	}
}

// WithNumericCode prints the raw code instead of rendering a QR code.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

// DetectDSNType returns "postgres" for PostgreSQL DSNs and "sqlite3" for everything else.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	// key=value connection strings: "host=... user=..."
	if strings.Contains(dsn, "host=") || (strings.Count(dsn, "=") >= 2 && strings.Contains(dsn, " ")) {
		return "postgres"
	}
	return "sqlite3"
}

// Client wraps the Whatsmeow client.
type Client struct {
	waClient *whatsmeow.Client
	cfg      Opts
}

// NewClient opens the device store and prepares a client. It does not connect; call Connect.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("WhatsApp NewClient options set", "DBDSN_set", cfg.DBDSN != "", "QRPath_set", cfg.QRPath != "", "NumericCode", cfg.NumericCode)

	dbDSN := cfg.DBDSN
	if dbDSN == "" {
		dbDSN = DefaultSQLitePath
		slog.Debug("No WhatsApp database DSN provided, using default SQLite path", "default_path", dbDSN)
	}
	dbDriver := DetectDSNType(dbDSN)
	if dbDriver == "sqlite3" && !strings.Contains(dbDSN, "foreign_keys") {
		slog.Warn("SQLite database for WhatsApp does not enable foreign keys, which whatsmeow requires for integrity",
			"dsn_example", "file:"+dbDSN+"?_foreign_keys=on")
	}

	container, err := sqlstore.New(ctx, dbDriver, dbDSN, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}
	slog.Debug("WhatsApp device store ready", "driver", dbDriver, "logged_in", deviceStore.ID != nil)

	waClient := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "INFO", true))
	return &Client{waClient: waClient, cfg: cfg}, nil
}

// Connect connects to WhatsApp. When the device is not paired yet, login codes are printed as
// they arrive and pairing completes in the background; IsReady turns true once logged in.
func (c *Client) Connect(ctx context.Context) error {
	if c.waClient.Store.ID != nil {
		slog.Debug("WhatsApp already paired, connecting to server")
		if err := c.waClient.Connect(); err != nil {
			return fmt.Errorf("failed to connect to WhatsApp server: %w", err)
		}
		slog.Info("WhatsApp client connected")
		return nil
	}

	slog.Info("WhatsApp login required; starting QR code flow")
	qrChan, err := c.waClient.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("failed to get WhatsApp QR channel: %w", err)
	}
	if err := c.waClient.Connect(); err != nil {
		return fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
	}
	go c.printLoginCodes(qrChan)
	return nil
}

func (c *Client) printLoginCodes(qrChan <-chan whatsmeow.QRChannelItem) {
	writer := io.Writer(os.Stdout)
	if c.cfg.QRPath != "" {
		f, err := os.Create(c.cfg.QRPath)
		if err != nil {
			slog.Error("Failed to create QR file, using stdout", "error", err)
		} else {
			defer f.Close()
			writer = f
		}
	}

	for evt := range qrChan {
		switch evt.Event {
		case "code":
			slog.Info("QR code received - scan with WhatsApp to authenticate")
			if c.cfg.NumericCode {
				fmt.Fprintln(writer, evt.Code)
			} else {
				qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
			}
		case "success":
			slog.Info("WhatsApp authenticated successfully")
		default:
			slog.Warn("WhatsApp login event", "event", evt.Event, "error", evt.Error)
		}
	}
}

// SendMessage sends a text message to a JID ("33612345678@s.whatsapp.net") and returns after
// the server acknowledged it.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	if c.waClient == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}
	if to == "" {
		return fmt.Errorf("recipient cannot be empty")
	}
	if body == "" {
		return fmt.Errorf("message body cannot be empty")
	}

	jid, err := types.ParseJID(to)
	if err != nil {
		return fmt.Errorf("invalid recipient %q: %w", to, err)
	}

	slog.Debug("Sending WhatsApp message", "to", to, "body_length", len(body))
	if _, err := c.waClient.SendMessage(ctx, jid, &waE2E.Message{Conversation: &body}); err != nil {
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	slog.Debug("WhatsApp message sent successfully", "to", to)
	return nil
}

// IsReady reports whether the client is connected and logged in.
func (c *Client) IsReady() bool {
	return c.waClient != nil && c.waClient.IsConnected() && c.waClient.IsLoggedIn()
}

// AddEventHandler registers a handler for whatsmeow events.
func (c *Client) AddEventHandler(handler whatsmeow.EventHandler) uint32 {
	return c.waClient.AddEventHandler(handler)
}

// Disconnect closes the connection.
func (c *Client) Disconnect() {
	if c.waClient != nil {
		c.waClient.Disconnect()
	}
}
