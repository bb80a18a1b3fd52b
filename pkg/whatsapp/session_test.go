package whatsapp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/entrhq/waweb/pkg/browser"
	"github.com/entrhq/waweb/pkg/browser/browsertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSession_Layout(t *testing.T) {
	opts := testOptions(t)
	s := newTestSession(t, &browsertest.Launcher{}, opts)

	assert.Equal(t, "device-1", s.DeviceID())
	assert.Equal(t, filepath.Join(opts.SessionsDir, "device-1", "profile"), s.ProfileDir())
	assert.Equal(t, StateUninitialized, s.State())
	assert.False(t, s.IsAuthenticated())
	assert.False(t, s.HasDriver())
	assert.Empty(t, s.QRImagePath())

	info, err := os.Stat(filepath.Join(opts.SessionsDir, "device-1"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
}

func TestInitialize_AlreadyAuthenticated(t *testing.T) {
	d := authenticatedDriver()
	launcher := launcherFor(d)
	s := newTestSession(t, launcher, testOptions(t))

	result, err := s.Initialize(context.Background())
	require.NoError(t, err)
	assert.False(t, result.QRRequired)
	assert.True(t, s.IsAuthenticated())
	assert.Equal(t, StateAuthenticated, s.State())

	navs := d.CallsOf(browsertest.OpNavigate)
	require.Len(t, navs, 1)
	assert.Equal(t, DefaultServiceURL, navs[0].Arg)

	launches := launcher.Launches()
	require.Len(t, launches, 1)
	assert.Equal(t, s.ProfileDir(), launches[0].ProfileDir)
	assert.Equal(t, "device-1", launches[0].DeviceID)
	assert.True(t, launches[0].Headless)
}

func TestInitialize_ScanThenAuthenticated(t *testing.T) {
	d := browsertest.NewDriver()
	d.SetCanvas(sel.ScanCode[0], pngDataURL())

	opts := testOptions(t)
	opts.AuthTimeout = 5 * time.Second
	s := newTestSession(t, launcherFor(d), opts)

	type outcome struct {
		result InitResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := s.Initialize(context.Background())
		done <- outcome{result, err}
	}()

	// The scan code is served while Initialize is still waiting.
	require.Eventually(t, func() bool { return s.QRImagePath() != "" }, 2*time.Second, time.Millisecond)
	assert.Equal(t, StateAwaitingScan, s.State())
	data, err := os.ReadFile(s.QRImagePath())
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)
	assert.Equal(t, filepath.Join(opts.QRDir, "device-1_qr.png"), s.QRImagePath())

	d.Remove(sel.ScanCode[0])
	d.SetPresent(sel.Authenticated[2])

	select {
	case out := <-done:
		require.NoError(t, out.err)
		assert.True(t, out.result.QRRequired)
	case <-time.After(5 * time.Second):
		t.Fatal("Initialize did not return after authentication")
	}

	assert.True(t, s.IsAuthenticated())
	assert.Empty(t, s.QRImagePath(), "scan code is only kept while awaiting a scan")
}

func TestInitialize_AuthTimeout(t *testing.T) {
	d := browsertest.NewDriver()
	d.SetCanvas(sel.ScanCode[1], pngDataURL())
	s := newTestSession(t, launcherFor(d), testOptions(t))

	result, err := s.Initialize(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthTimeout)
	assert.True(t, result.QRRequired)
	assert.Equal(t, StateTimedOut, s.State())

	// The session stays live for a retry.
	assert.True(t, s.HasDriver())
	assert.Equal(t, 0, d.Closes())
	assert.NotEmpty(t, s.QRImagePath())
}

func TestInitialize_CaptureUnavailableStillWaits(t *testing.T) {
	d := browsertest.NewDriver()
	d.SetPresent(sel.ScanCode[0])
	s := newTestSession(t, launcherFor(d), testOptions(t))

	_, err := s.Initialize(context.Background())
	assert.ErrorIs(t, err, ErrAuthTimeout)
	assert.Empty(t, s.QRImagePath())
	assert.Len(t, d.CallsOf(browsertest.OpCanvas), len(sel.ScanCode))
}

func TestInitialize_PageUnusable(t *testing.T) {
	d := browsertest.NewDriver()
	s := newTestSession(t, launcherFor(d), testOptions(t))

	_, err := s.Initialize(context.Background())
	assert.ErrorIs(t, err, ErrPageUnusable)
	assert.False(t, s.IsAuthenticated())
}

func TestInitialize_DriverUnavailable(t *testing.T) {
	launcher := &browsertest.Launcher{Err: fmt.Errorf("%w: chrome missing", browser.ErrDriverUnavailable)}
	s := newTestSession(t, launcher, testOptions(t))

	_, err := s.Initialize(context.Background())
	assert.ErrorIs(t, err, browser.ErrDriverUnavailable)
	assert.False(t, s.HasDriver())
}

func TestInitialize_ReusesRunningBrowser(t *testing.T) {
	d := authenticatedDriver()
	launcher := launcherFor(d)
	s := newTestSession(t, launcher, testOptions(t))

	_, err := s.Initialize(context.Background())
	require.NoError(t, err)
	_, err = s.Initialize(context.Background())
	require.NoError(t, err)

	assert.Len(t, launcher.Launches(), 1)
	assert.Len(t, d.CallsOf(browsertest.OpNavigate), 2)
}

func TestClose(t *testing.T) {
	d := browsertest.NewDriver()
	d.SetCanvas(sel.ScanCode[0], pngDataURL())
	s := newTestSession(t, launcherFor(d), testOptions(t))

	_, err := s.Initialize(context.Background())
	require.ErrorIs(t, err, ErrAuthTimeout)
	qr := s.QRImagePath()
	require.NotEmpty(t, qr)

	require.NoError(t, s.Close())
	assert.Equal(t, 1, d.Closes())
	assert.False(t, s.HasDriver())
	assert.False(t, s.IsAuthenticated())
	_, statErr := os.Stat(qr)
	assert.True(t, os.IsNotExist(statErr), "scan code must be deleted on close")

	// Profile survives.
	_, statErr = os.Stat(filepath.Dir(s.ProfileDir()))
	assert.NoError(t, statErr)

	// Idempotent.
	require.NoError(t, s.Close())
	assert.Equal(t, 1, d.Closes())

	_, err = s.Initialize(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, s.Send(context.Background(), Message{Phone: "9876543210", Text: "hi"}), ErrSessionClosed)
}

func TestClose_ReportsDriverError(t *testing.T) {
	d := authenticatedDriver()
	d.FailOn(browsertest.OpClose, fmt.Errorf("browser hung"))
	s := newTestSession(t, launcherFor(d), testOptions(t))

	_, err := s.Initialize(context.Background())
	require.NoError(t, err)

	err = s.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "browser hung")
	assert.False(t, s.HasDriver())
}

func TestClose_AbortsPendingAuthentication(t *testing.T) {
	d := browsertest.NewDriver()
	d.SetCanvas(sel.ScanCode[0], pngDataURL())

	opts := testOptions(t)
	opts.AuthTimeout = time.Minute
	s := newTestSession(t, launcherFor(d), opts)

	done := make(chan error, 1)
	go func() {
		_, err := s.Initialize(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool { return s.QRImagePath() != "" }, 2*time.Second, time.Millisecond)

	require.NoError(t, s.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Initialize kept waiting after Close")
	}
	assert.Equal(t, 1, d.Closes())
}

func TestStatus(t *testing.T) {
	opts := testOptions(t)

	t.Run("not initialized", func(t *testing.T) {
		s := newTestSession(t, &browsertest.Launcher{}, opts)
		assert.Equal(t, StateUninitialized, s.Status(context.Background()).State)
	})

	t.Run("authenticated", func(t *testing.T) {
		s := newTestSession(t, launcherFor(authenticatedDriver()), testOptions(t))
		_, err := s.Initialize(context.Background())
		require.NoError(t, err)

		report := s.Status(context.Background())
		assert.Equal(t, StateAuthenticated, report.State)
		assert.False(t, report.Busy)
		assert.Equal(t, "authenticated", report.State.String())
	})

	t.Run("busy while awaiting scan", func(t *testing.T) {
		d := browsertest.NewDriver()
		d.SetCanvas(sel.ScanCode[0], pngDataURL())
		o := testOptions(t)
		o.AuthTimeout = time.Minute
		s := newTestSession(t, launcherFor(d), o)

		go func() { _, _ = s.Initialize(context.Background()) }()
		require.Eventually(t, func() bool { return s.QRImagePath() != "" }, 2*time.Second, time.Millisecond)

		report := s.Status(context.Background())
		assert.True(t, report.Busy)
		assert.Equal(t, StateAwaitingScan, report.State)
		assert.Equal(t, "qr_required", report.State.String())
	})
}

func TestDecodeDataURL(t *testing.T) {
	data, err := decodeDataURL(pngDataURL())
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)

	for _, bad := range []string{"", "data:image/png,abc", "image/png;base64,abc", "data:image/png;base64,!!", "data:image/png;base64,"} {
		_, err := decodeDataURL(bad)
		assert.Error(t, err, bad)
	}
}
