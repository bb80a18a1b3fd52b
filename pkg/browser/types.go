package browser

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDriverUnavailable is returned when the browser executable or the
	// automation driver cannot be found or started.
	ErrDriverUnavailable = errors.New("browser driver unavailable")

	// ErrNoMatch is returned when none of the selectors of a lookup matched.
	ErrNoMatch = errors.New("no selector matched")

	// ErrTimeout is returned when a poll deadline passes without success.
	ErrTimeout = errors.New("timed out")
)

// Driver is one running browser bound to one device profile.
//
// Implementations are not safe for concurrent use; callers serialize access
// per device.
type Driver interface {
	// Navigate loads url in the active page.
	Navigate(url string) error

	// Exists reports whether an element matching selector is attached.
	Exists(selector string) (bool, error)

	// Clickable reports whether an element matching selector is visible and enabled.
	Clickable(selector string) (bool, error)

	// Click clicks the first element matching selector.
	Click(selector string) error

	// Type types text into the element matching selector, key by key.
	Type(selector, text string) error

	// Press presses a key or key combination ("Enter", "Shift+Enter") on the
	// element matching selector.
	Press(selector, key string) error

	// SetInputFiles injects file paths into a file input matching selector.
	SetInputFiles(selector string, paths ...string) error

	// CanvasDataURL serializes the canvas matching selector as a PNG data URL.
	CanvasDataURL(selector string) (string, error)

	// Close terminates the browser process. Safe to call multiple times.
	Close() error
}

// Launcher starts drivers.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Driver, error)
}

// LaunchOptions configures a single browser launch.
type LaunchOptions struct {
	// DeviceID selects the preferred debug port and labels log lines
	DeviceID string

	// DebugPort overrides the remote debugging port derived from DeviceID
	DebugPort int

	// ProfileDir is the persistent user data directory, owned by one device
	ProfileDir string

	// Headless controls whether the browser runs without a visible window
	Headless bool

	// UserAgent overrides the browser user agent when set
	UserAgent string

	// PageLoadTimeout bounds navigations (0 means DefaultPageLoadTimeout)
	PageLoadTimeout time.Duration

	// ElementTimeout bounds element actions (0 means DefaultElementTimeout)
	ElementTimeout time.Duration

	// ExtraArgs are appended to the default Chromium arguments
	ExtraArgs []string
}

// Default values for launches
const (
	DefaultPageLoadTimeout = 30 * time.Second
	DefaultElementTimeout  = 5 * time.Second
	DefaultViewportWidth   = 1920
	DefaultViewportHeight  = 1080
	DefaultUserAgent       = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// BaseDebugPort is the first port of the per-device debug port range
	BaseDebugPort = 9222
	// DebugPortRange is the number of ports devices are spread across
	DebugPortRange = 1000
)

// DefaultExecutablePaths are the well-known Chromium installation paths,
// checked in order before falling back to a PATH lookup.
var DefaultExecutablePaths = []string{
	"/usr/bin/google-chrome",
	"/usr/bin/google-chrome-stable",
	"/usr/bin/chromium-browser",
	"/usr/bin/chromium",
	"/opt/google/chrome/chrome",
}

// DefaultExecutableNames are looked up on PATH when no well-known path exists.
var DefaultExecutableNames = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
}

// DefaultDriverDirs are the well-known Playwright driver directories.
var DefaultDriverDirs = []string{
	"/opt/playwright-driver",
	"/usr/local/share/playwright-driver",
	"/app/playwright-driver",
}
