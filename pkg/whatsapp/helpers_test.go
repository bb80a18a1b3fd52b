package whatsapp

import (
	"encoding/base64"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/entrhq/waweb/pkg/browser"
	"github.com/entrhq/waweb/pkg/browser/browsertest"
)

var sel = DefaultSelectors()

// pngBytes stands in for a captured scan code.
var pngBytes = []byte("\x89PNG\r\n\x1a\nfake-scan-code")

func pngDataURL() string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testOptions returns options with delays removed and short bounded waits.
func testOptions(t *testing.T) Options {
	t.Helper()
	dir := t.TempDir()

	opts := DefaultOptions()
	opts.SessionsDir = filepath.Join(dir, "sessions")
	opts.QRDir = filepath.Join(dir, "qr_codes")
	opts.SettleDelay = 0
	opts.ActionDelay = 0
	opts.UploadDelay = 0
	opts.AuthProbeTimeout = 0
	opts.PollInterval = time.Millisecond
	opts.AuthPollInterval = time.Millisecond
	opts.QRTimeout = 20 * time.Millisecond
	opts.AuthTimeout = 50 * time.Millisecond
	opts.ChatLoadTimeout = 20 * time.Millisecond
	opts.ElementWait = 2 * time.Millisecond
	return opts
}

// launcherFor always hands out d.
func launcherFor(d *browsertest.Driver) *browsertest.Launcher {
	return &browsertest.Launcher{
		NewDriver: func(browser.LaunchOptions) *browsertest.Driver { return d },
	}
}

// authenticatedDriver shows the chat list and opens a ready chat on every
// deep link.
func authenticatedDriver() *browsertest.Driver {
	d := browsertest.NewDriver()
	d.SetPresent(sel.Authenticated[0])
	d.OnNavigate = func(d *browsertest.Driver, url string) {
		if strings.Contains(url, "/send?") {
			d.SetClickable(sel.Compose[0])
		}
	}
	return d
}

func newTestSession(t *testing.T, launcher browser.Launcher, opts Options) *Session {
	t.Helper()
	s, err := newSession("device-1", launcher, opts.withDefaults())
	if err != nil {
		t.Fatalf("newSession: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func typed(d *browsertest.Driver) []string {
	var out []string
	for _, c := range d.CallsOf(browsertest.OpType) {
		out = append(out, c.Arg)
	}
	return out
}

func pressed(d *browsertest.Driver) []string {
	var out []string
	for _, c := range d.CallsOf(browsertest.OpPress) {
		out = append(out, c.Arg)
	}
	return out
}
