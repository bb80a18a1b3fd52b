package browser

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/entrhq/waweb/pkg/logging"
	"github.com/playwright-community/playwright-go"
)

// stealthScript hides the navigator.webdriver flag from page scripts.
const stealthScript = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined})`

// LauncherConfig configures how executables are located.
type LauncherConfig struct {
	// ExecutablePaths are checked in order for a Chromium binary
	ExecutablePaths []string

	// ExecutableNames are looked up on PATH when no ExecutablePaths entry exists
	ExecutableNames []string

	// DriverDirs are checked in order for an installed Playwright driver
	DriverDirs []string

	// InstallDriver downloads the Playwright driver into the first DriverDirs
	// entry when none of them holds one. Browsers are never downloaded.
	InstallDriver bool

	// Logger receives launch diagnostics (optional)
	Logger *logging.Logger
}

// PlaywrightLauncher launches persistent Chromium contexts through a single
// shared Playwright driver process.
type PlaywrightLauncher struct {
	cfg LauncherConfig

	mu         sync.Mutex
	pw         *playwright.Playwright
	executable string

	ports debugPorts
}

// NewPlaywrightLauncher creates a launcher. The Playwright driver is started
// lazily on the first Launch.
func NewPlaywrightLauncher(cfg LauncherConfig) *PlaywrightLauncher {
	if len(cfg.ExecutablePaths) == 0 {
		cfg.ExecutablePaths = DefaultExecutablePaths
	}
	if len(cfg.ExecutableNames) == 0 {
		cfg.ExecutableNames = DefaultExecutableNames
	}
	if len(cfg.DriverDirs) == 0 {
		cfg.DriverDirs = DefaultDriverDirs
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &PlaywrightLauncher{cfg: cfg}
}

// ensureRunning locates the executables and starts the Playwright driver once.
func (l *PlaywrightLauncher) ensureRunning() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pw != nil {
		return nil
	}

	executable, err := FindExecutable(l.cfg.ExecutablePaths, l.cfg.ExecutableNames)
	if err != nil {
		l.cfg.Logger.Errorf("Chrome executable not found: %v", err)
		return err
	}
	l.cfg.Logger.Infof("Found Chrome at: %s", executable)

	driverDir, err := FindDriverDir(l.cfg.DriverDirs)
	if err != nil {
		if !l.cfg.InstallDriver {
			l.cfg.Logger.Errorf("Playwright driver not found: %v", err)
			return err
		}
		driverDir = l.cfg.DriverDirs[0]
		l.cfg.Logger.Infof("Installing Playwright driver into %s", driverDir)
		if installErr := playwright.Install(l.runOptions(driverDir)); installErr != nil {
			return fmt.Errorf("%w: failed to install playwright driver: %w", ErrDriverUnavailable, installErr)
		}
	}
	l.cfg.Logger.Infof("Found Playwright driver at: %s", driverDir)

	pw, err := playwright.Run(l.runOptions(driverDir))
	if err != nil {
		return fmt.Errorf("%w: failed to start playwright: %w", ErrDriverUnavailable, err)
	}

	l.pw = pw
	l.executable = executable
	return nil
}

// runOptions keeps driver output off the service logs and never downloads
// browsers, since a system Chromium is used.
func (l *PlaywrightLauncher) runOptions(driverDir string) *playwright.RunOptions {
	return &playwright.RunOptions{
		DriverDirectory:     driverDir,
		SkipInstallBrowsers: true,
		Verbose:             false,
		Stdout:              io.Discard,
		Stderr:              io.Discard,
	}
}

// Launch starts a browser bound to opts.ProfileDir and returns its driver.
func (l *PlaywrightLauncher) Launch(ctx context.Context, opts LaunchOptions) (Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.ProfileDir == "" {
		return nil, fmt.Errorf("profile directory is required")
	}
	if err := l.ensureRunning(); err != nil {
		return nil, err
	}
	if err := PrepareProfile(opts.ProfileDir); err != nil {
		return nil, err
	}

	if opts.PageLoadTimeout <= 0 {
		opts.PageLoadTimeout = DefaultPageLoadTimeout
	}
	if opts.ElementTimeout <= 0 {
		opts.ElementTimeout = DefaultElementTimeout
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	l.mu.Lock()
	pw, executable := l.pw, l.executable
	l.mu.Unlock()
	if pw == nil {
		return nil, fmt.Errorf("%w: launcher stopped", ErrDriverUnavailable)
	}

	port, err := l.ports.acquire(opts.DeviceID)
	if err != nil {
		return nil, err
	}
	opts.DebugPort = port

	launchOpts := playwright.BrowserTypeLaunchPersistentContextOptions{
		ExecutablePath:    playwright.String(executable),
		Headless:          playwright.Bool(opts.Headless),
		ChromiumSandbox:   playwright.Bool(false),
		Args:              ChromiumArgs(opts),
		IgnoreDefaultArgs: []string{"--enable-automation"},
		UserAgent:         playwright.String(userAgent),
		Viewport: &playwright.Size{
			Width:  DefaultViewportWidth,
			Height: DefaultViewportHeight,
		},
	}
	bctx, err := pw.Chromium.LaunchPersistentContext(opts.ProfileDir, launchOpts)
	if err != nil {
		l.ports.release(port)
		return nil, fmt.Errorf("failed to launch browser for device %s: %w", opts.DeviceID, err)
	}

	page, err := firstPage(bctx)
	if err != nil {
		_ = bctx.Close()
		l.ports.release(port)
		return nil, err
	}

	if err := bctx.AddInitScript(playwright.Script{Content: playwright.String(stealthScript)}); err != nil {
		l.cfg.Logger.Warnf("Failed to install init script for device %s: %v", opts.DeviceID, err)
	}

	page.SetDefaultNavigationTimeout(millis(opts.PageLoadTimeout))
	page.SetDefaultTimeout(millis(opts.ElementTimeout))

	l.cfg.Logger.Infof("Browser launched for device %s (headless=%v, debug port %d)",
		opts.DeviceID, opts.Headless, port)

	return &pageDriver{
		context:        bctx,
		page:           page,
		elementTimeout: millis(opts.ElementTimeout),
		onClose:        func() { l.ports.release(port) },
	}, nil
}

// firstPage reuses the page a persistent context opens with, or creates one.
func firstPage(bctx playwright.BrowserContext) (playwright.Page, error) {
	if pages := bctx.Pages(); len(pages) > 0 {
		return pages[0], nil
	}
	page, err := bctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	return page, nil
}

// Stop shuts down the Playwright driver. Browsers launched through it must be
// closed first.
func (l *PlaywrightLauncher) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pw == nil {
		return nil
	}
	err := l.pw.Stop()
	l.pw = nil
	if err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}

// ChromiumArgs returns the command line used for unattended, isolated operation.
func ChromiumArgs(opts LaunchOptions) []string {
	port := opts.DebugPort
	if port <= 0 {
		port = DebugPort(opts.DeviceID)
	}
	args := []string{
		"--no-sandbox",
		"--disable-dev-shm-usage",
		"--disable-gpu",
		"--disable-extensions",
		"--disable-plugins",
		"--disable-background-timer-throttling",
		"--disable-backgrounding-occluded-windows",
		"--disable-renderer-backgrounding",
		"--disable-features=TranslateUI,VizDisplayCompositor",
		"--disable-ipc-flooding-protection",
		"--disable-background-networking",
		"--disable-default-apps",
		"--disable-sync",
		"--disable-translate",
		"--hide-scrollbars",
		"--metrics-recording-only",
		"--mute-audio",
		"--no-first-run",
		"--safebrowsing-disable-auto-update",
		"--disable-blink-features=AutomationControlled",
		"--disable-infobars",
		"--disable-notifications",
		"--disable-session-crashed-bubble",
		"--disable-password-generation",
		"--profile-directory=Default",
		fmt.Sprintf("--remote-debugging-port=%d", port),
		fmt.Sprintf("--window-size=%d,%d", DefaultViewportWidth, DefaultViewportHeight),
	}
	if opts.Headless {
		args = append(args, "--headless=new")
	}
	return append(args, opts.ExtraArgs...)
}

// DebugPort derives the preferred remote debugging port of a device id.
// Distinct ids may share a port; the launcher resolves collisions between
// running browsers.
func DebugPort(deviceID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(deviceID))
	return BaseDebugPort + int(h.Sum32()%DebugPortRange)
}

// FindExecutable returns the first executable file among paths, falling back to
// a PATH lookup of names.
func FindExecutable(paths, names []string) (string, error) {
	for _, p := range paths {
		if isExecutable(p) {
			return p, nil
		}
	}
	for _, name := range names {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: no browser executable in %v or on PATH as %v", ErrDriverUnavailable, paths, names)
}

// FindDriverDir returns the first directory holding a Playwright driver
// (a node binary next to the driver package).
func FindDriverDir(dirs []string) (string, error) {
	for _, dir := range dirs {
		if !isExecutable(filepath.Join(dir, "node")) {
			continue
		}
		if info, err := os.Stat(filepath.Join(dir, "package")); err == nil && info.IsDir() {
			return dir, nil
		}
	}
	return "", fmt.Errorf("%w: no playwright driver in %v", ErrDriverUnavailable, dirs)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0111 != 0
}
