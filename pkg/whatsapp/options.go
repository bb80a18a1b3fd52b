package whatsapp

import (
	"time"

	"github.com/entrhq/waweb/pkg/browser"
	"github.com/entrhq/waweb/pkg/logging"
)

// Selectors lists the DOM markers of the web client. Every list is ordered;
// the first selector that works wins.
type Selectors struct {
	// Authenticated markers appear only once the chat list is rendered
	Authenticated []string

	// ScanCode markers match the canvas holding the scan code
	ScanCode []string

	// Compose markers match the message input of an open chat
	Compose []string

	// Attach markers match the attachment button
	Attach []string

	// FileInput markers match the hidden file input opened by Attach
	FileInput []string

	// Send markers match the send button of the media preview
	Send []string
}

// DefaultSelectors returns the markers known to work with the web client.
func DefaultSelectors() Selectors {
	return Selectors{
		Authenticated: []string{
			`div[data-testid="chat-list"]`,
			`div[aria-label="Chat list"]`,
			`div[data-testid="side"]`,
			`header[data-testid="chatlist-header"]`,
		},
		ScanCode: []string{
			`canvas[aria-label="Scan me!"]`,
			`div[data-ref] canvas`,
			`canvas[aria-label*="QR"]`,
		},
		Compose: []string{
			`div[data-testid="conversation-compose-box-input"]`,
			`div[contenteditable="true"][data-tab="10"]`,
			`div[role="textbox"]`,
		},
		Attach: []string{
			`div[data-testid="clip"]`,
			`span[data-testid="clip"]`,
			`div[title="Attach"]`,
		},
		FileInput: []string{
			`input[accept*="image"]`,
			`input[type="file"]`,
		},
		Send: []string{
			`span[data-testid="send"]`,
			`div[data-testid="send"]`,
			`button[data-testid="send"]`,
		},
	}
}

// Options configures sessions created by a Registry.
type Options struct {
	// SessionsDir holds one directory per device; the browser profile lives in
	// <SessionsDir>/<device>/profile
	SessionsDir string

	// QRDir holds captured scan codes as <device>_qr.png
	QRDir string

	// ServiceURL is the web client entry point
	ServiceURL string

	// CountryCode is prepended to 10-digit numbers without one
	CountryCode string

	// Browser launch settings
	Headless        bool
	UserAgent       string
	PageLoadTimeout time.Duration
	ElementTimeout  time.Duration

	// SettleDelay is waited after loading the web client
	SettleDelay time.Duration

	// AuthProbeTimeout bounds a single check for the chat list
	AuthProbeTimeout time.Duration

	// QRTimeout bounds the wait for a scan code to be rendered
	QRTimeout time.Duration

	// AuthTimeout bounds the wait for a human to scan the code
	AuthTimeout time.Duration

	// AuthPollInterval is the interval between authentication checks
	AuthPollInterval time.Duration

	// ChatLoadTimeout bounds the wait for the compose box of a chat
	ChatLoadTimeout time.Duration

	// ElementWait bounds the wait for each selector of an element lookup
	ElementWait time.Duration

	// PollInterval is the interval of element polls
	PollInterval time.Duration

	// ActionDelay is the pause between UI actions
	ActionDelay time.Duration

	// UploadDelay is the pause after injecting and after sending an attachment
	UploadDelay time.Duration

	Selectors Selectors

	Logger *logging.Logger

	// Now returns the current time (defaults to time.Now)
	Now func() time.Time
}

// Default values for session options
const (
	DefaultServiceURL       = "https://web.whatsapp.com/"
	DefaultCountryCode      = "91"
	DefaultSettleDelay      = 3 * time.Second
	DefaultAuthProbeTimeout = 5 * time.Second
	DefaultQRTimeout        = 30 * time.Second
	DefaultAuthTimeout      = 300 * time.Second
	DefaultAuthPollInterval = 2 * time.Second
	DefaultChatLoadTimeout  = 30 * time.Second
	DefaultElementWait      = 10 * time.Second
	DefaultPollInterval     = 250 * time.Millisecond
	DefaultActionDelay      = 500 * time.Millisecond
	DefaultUploadDelay      = 2 * time.Second
)

// DefaultOptions returns options matching the behavior of the web client.
func DefaultOptions() Options {
	return Options{
		SessionsDir:      "sessions",
		QRDir:            "qr_codes",
		ServiceURL:       DefaultServiceURL,
		CountryCode:      DefaultCountryCode,
		Headless:         true,
		SettleDelay:      DefaultSettleDelay,
		AuthProbeTimeout: DefaultAuthProbeTimeout,
		QRTimeout:        DefaultQRTimeout,
		AuthTimeout:      DefaultAuthTimeout,
		AuthPollInterval: DefaultAuthPollInterval,
		ChatLoadTimeout:  DefaultChatLoadTimeout,
		ElementWait:      DefaultElementWait,
		PollInterval:     DefaultPollInterval,
		ActionDelay:      DefaultActionDelay,
		UploadDelay:      DefaultUploadDelay,
		Selectors:        DefaultSelectors(),
	}
}

// InitializeBudget returns the longest Initialize can take once the browser
// is running: page load, settle, the first probe, the scan code wait and
// capture, the auth wait with its last poll overshooting, and the final
// probe.
func (o Options) InitializeBudget() time.Duration {
	pageLoad := o.PageLoadTimeout
	if pageLoad <= 0 {
		pageLoad = browser.DefaultPageLoadTimeout
	}
	element := o.ElementTimeout
	if element <= 0 {
		element = browser.DefaultElementTimeout
	}
	return pageLoad + o.SettleDelay + o.AuthProbeTimeout +
		o.QRTimeout + element +
		o.AuthTimeout + o.AuthPollInterval + o.AuthProbeTimeout +
		o.AuthProbeTimeout
}

// withDefaults fills the fields a caller must not leave empty. Durations are
// kept as given so callers can disable delays with zero.
func (o Options) withDefaults() Options {
	if o.SessionsDir == "" {
		o.SessionsDir = "sessions"
	}
	if o.QRDir == "" {
		o.QRDir = "qr_codes"
	}
	if o.ServiceURL == "" {
		o.ServiceURL = DefaultServiceURL
	}
	if o.CountryCode == "" {
		o.CountryCode = DefaultCountryCode
	}
	if o.Selectors.Authenticated == nil {
		o.Selectors = DefaultSelectors()
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
