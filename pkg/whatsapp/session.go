package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/entrhq/waweb/pkg/browser"
	"github.com/entrhq/waweb/pkg/logging"
)

// AuthState is the authentication phase of a session.
type AuthState int

const (
	StateUninitialized AuthState = iota
	StateLoading
	StateAwaitingScan
	StateAuthenticated
	StateTimedOut
	StateUnknown
)

// String returns the status name reported over HTTP.
func (s AuthState) String() string {
	switch s {
	case StateUninitialized:
		return "not_initialized"
	case StateLoading:
		return "loading"
	case StateAwaitingScan:
		return "qr_required"
	case StateAuthenticated:
		return "authenticated"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Session is one device: a profile directory plus at most one running browser.
//
// Automation on a session is serialized; state accessors never wait for a
// running operation, so status and scan code requests stay responsive while an
// authentication wait is in progress.
type Session struct {
	deviceID   string
	profileDir string
	qrPath     string
	createdAt  time.Time

	opts     Options
	launcher browser.Launcher
	log      *logging.Logger

	// ctx is cancelled by Close to abort in-flight waits
	ctx    context.Context
	cancel context.CancelFunc

	// opMu serializes automation
	opMu sync.Mutex
	// pending counts operations running or waiting for opMu
	pending atomic.Int32

	mu            sync.RWMutex
	driver        browser.Driver
	state         AuthState
	authenticated bool
	lastActivity  time.Time
	qrImagePath   string
	closed        bool
}

// SessionInfo contains metadata about a device session.
type SessionInfo struct {
	DeviceID      string    `json:"device_id"`
	Status        string    `json:"status"`
	Authenticated bool      `json:"authenticated"`
	QRAvailable   bool      `json:"qr_available"`
	CreatedAt     time.Time `json:"created_at"`
	LastActivity  time.Time `json:"last_activity"`
}

// newSession creates the on-disk layout of a device. No browser is started.
func newSession(deviceID string, launcher browser.Launcher, opts Options) (*Session, error) {
	if err := ValidateDeviceID(deviceID); err != nil {
		return nil, err
	}

	sessionDir := filepath.Join(opts.SessionsDir, deviceID)
	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	if err := os.Chmod(sessionDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to secure session directory: %w", err)
	}
	if err := os.MkdirAll(opts.QRDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create qr directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := opts.Now()
	s := &Session{
		deviceID:     deviceID,
		profileDir:   filepath.Join(sessionDir, "profile"),
		qrPath:       filepath.Join(opts.QRDir, deviceID+"_qr.png"),
		createdAt:    now,
		opts:         opts,
		launcher:     launcher,
		log:          opts.Logger.With("session:" + deviceID),
		ctx:          ctx,
		cancel:       cancel,
		lastActivity: now,
	}
	s.log.Infof("Session created for device: %s", deviceID)
	return s, nil
}

// DeviceID returns the stable key of the session.
func (s *Session) DeviceID() string {
	return s.deviceID
}

// ProfileDir returns the browser profile directory owned by the session.
func (s *Session) ProfileDir() string {
	return s.profileDir
}

// IsAuthenticated reports whether the chat list has been seen since launch.
func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// State returns the tracked authentication state.
func (s *Session) State() AuthState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastActivity returns the time of the last successful operation.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// QRImagePath returns the captured scan code, or "" when none is available.
func (s *Session) QRImagePath() string {
	s.mu.RLock()
	path := s.qrImagePath
	s.mu.RUnlock()

	if path == "" {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// HasDriver reports whether a browser is running for the session.
func (s *Session) HasDriver() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.driver != nil
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	qr := s.QRImagePath()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionInfo{
		DeviceID:      s.deviceID,
		Status:        s.state.String(),
		Authenticated: s.authenticated,
		QRAvailable:   qr != "",
		CreatedAt:     s.createdAt,
		LastActivity:  s.lastActivity,
	}
}

// StatusReport is the result of a status probe.
type StatusReport struct {
	State AuthState

	// Busy is set when another operation held the session, in which case
	// State is the tracked state and the page was not probed
	Busy bool
}

// Status reports the authentication state, probing the page when no other
// operation is running on the session.
func (s *Session) Status(ctx context.Context) StatusReport {
	if !s.opMu.TryLock() {
		return StatusReport{State: s.State(), Busy: true}
	}
	defer s.opMu.Unlock()

	s.mu.RLock()
	driver, closed := s.driver, s.closed
	s.mu.RUnlock()
	if closed || driver == nil {
		return StatusReport{State: StateUninitialized}
	}

	if s.checkAuthenticated(ctx, driver) {
		return StatusReport{State: StateAuthenticated}
	}
	if s.waitForScanCode(ctx, driver, s.opts.AuthProbeTimeout) {
		s.setState(StateAwaitingScan)
		return StatusReport{State: StateAwaitingScan}
	}
	return StatusReport{State: StateUnknown}
}

// begin acquires the session for one operation. The returned context is
// cancelled when ctx is done or the session is closed.
func (s *Session) begin(ctx context.Context) (context.Context, func(), error) {
	s.pending.Add(1)
	s.opMu.Lock()

	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		s.opMu.Unlock()
		s.pending.Add(-1)
		return nil, nil, ErrSessionClosed
	}

	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
		s.opMu.Unlock()
		s.pending.Add(-1)
	}, nil
}

// Busy reports whether an operation is running on the session or waiting to.
func (s *Session) Busy() bool {
	return s.pending.Load() > 0
}

// ensureDriver launches the browser when none is running. Callers hold opMu.
func (s *Session) ensureDriver(ctx context.Context) (browser.Driver, error) {
	s.mu.RLock()
	driver := s.driver
	s.mu.RUnlock()
	if driver != nil {
		return driver, nil
	}

	driver, err := s.launcher.Launch(ctx, browser.LaunchOptions{
		DeviceID:        s.deviceID,
		ProfileDir:      s.profileDir,
		Headless:        s.opts.Headless,
		UserAgent:       s.opts.UserAgent,
		PageLoadTimeout: s.opts.PageLoadTimeout,
		ElementTimeout:  s.opts.ElementTimeout,
	})
	if err != nil {
		s.log.Errorf("Failed to setup browser for device %s: %v", s.deviceID, err)
		return nil, err
	}

	s.mu.Lock()
	s.driver = driver
	s.mu.Unlock()
	return driver, nil
}

func (s *Session) currentDriver() browser.Driver {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.driver
}

func (s *Session) setState(state AuthState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Session) setAuthenticated() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authenticated = true
	s.state = StateAuthenticated
}

func (s *Session) touch() {
	now := s.opts.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = now
}

// MarkActive records a use of the session that needed no browser work.
func (s *Session) MarkActive() {
	s.touch()
}

// Touch marks the session as active at the given time. Used to restore
// activity timestamps and by tests.
func (s *Session) Touch(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = at
}

// removeScanCode deletes the captured scan code, if any.
func (s *Session) removeScanCode() error {
	s.mu.Lock()
	s.qrImagePath = ""
	s.mu.Unlock()

	if err := os.Remove(s.qrPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove scan code: %w", err)
	}
	return nil
}

// Close quits the browser, clears the authenticated flag and deletes the
// captured scan code. The profile directory stays on disk. In-flight waits are
// aborted first; Close returns once the running operation has let go of the
// browser. Safe to call multiple times.
func (s *Session) Close() error {
	s.cancel()

	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.shutdown()
}

// CloseIfIdle closes the session unless an operation is running or waiting on
// it, and reports whether it did.
func (s *Session) CloseIfIdle() (bool, error) {
	if s.Busy() || !s.opMu.TryLock() {
		return false, nil
	}
	defer s.opMu.Unlock()
	if s.Busy() {
		return false, nil
	}

	s.cancel()
	return true, s.shutdown()
}

// shutdown releases the browser and scan code. Callers hold opMu.
func (s *Session) shutdown() error {
	s.mu.Lock()
	driver := s.driver
	wasClosed := s.closed
	s.driver = nil
	s.authenticated = false
	s.state = StateUninitialized
	s.closed = true
	s.mu.Unlock()

	var errs []error
	if driver != nil {
		s.log.Infof("Closing session for device: %s", s.deviceID)
		if err := driver.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.removeScanCode(); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		s.log.Errorf("Error closing session for device %s: %v", s.deviceID, err)
		return err
	}
	if !wasClosed {
		s.log.Debugf("Session closed for device: %s", s.deviceID)
	}
	return nil
}

// sleep pauses for d unless ctx is done first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
