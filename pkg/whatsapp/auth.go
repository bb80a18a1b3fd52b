package whatsapp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/entrhq/waweb/pkg/browser"
	"github.com/entrhq/waweb/pkg/metrics"
)

// InitResult describes how a session reached the authenticated state.
type InitResult struct {
	// QRRequired is set when a scan code had to be scanned
	QRRequired bool
}

// Initialize launches the browser if needed, loads the web client and brings
// the session to the authenticated state. When a scan code is shown it is
// captured and Initialize blocks, bounded by the auth timeout, until a human
// scans it.
func (s *Session) Initialize(ctx context.Context) (InitResult, error) {
	opCtx, done, err := s.begin(ctx)
	if err != nil {
		return InitResult{}, err
	}
	defer done()

	return s.initialize(opCtx)
}

// initialize runs the initialization protocol. Callers hold opMu.
func (s *Session) initialize(ctx context.Context) (InitResult, error) {
	result, err := s.runInitialize(ctx)
	switch {
	case err == nil:
		metrics.SessionInitializations.WithLabelValues(metrics.ResultSuccess).Inc()
	case errors.Is(err, ErrAuthTimeout):
		metrics.SessionInitializations.WithLabelValues(metrics.ResultTimeout).Inc()
	default:
		metrics.SessionInitializations.WithLabelValues(metrics.ResultFailure).Inc()
	}
	return result, err
}

func (s *Session) runInitialize(ctx context.Context) (InitResult, error) {
	driver, err := s.ensureDriver(ctx)
	if err != nil {
		return InitResult{}, fmt.Errorf("failed to setup browser: %w", err)
	}

	s.setState(StateLoading)
	s.log.Infof("Loading web client for device: %s", s.deviceID)
	if err := driver.Navigate(s.opts.ServiceURL); err != nil {
		return InitResult{}, fmt.Errorf("%w: %w", ErrPageUnusable, err)
	}
	if err := sleep(ctx, s.opts.SettleDelay); err != nil {
		return InitResult{}, err
	}

	if s.checkAuthenticated(ctx, driver) {
		s.log.Infof("Device %s already authenticated", s.deviceID)
		s.touch()
		return InitResult{}, nil
	}

	if s.waitForScanCode(ctx, driver, s.opts.QRTimeout) {
		s.log.Infof("Scan code detected for device: %s", s.deviceID)
		s.setState(StateAwaitingScan)

		if _, err := s.captureScanCode(driver); err != nil {
			s.log.Warnf("Could not save scan code for device %s: %v", s.deviceID, err)
		}

		if s.awaitAuthentication(ctx, driver, s.opts.AuthTimeout) {
			s.log.Infof("Authentication successful for device: %s", s.deviceID)
			if err := s.removeScanCode(); err != nil {
				s.log.Warnf("%v", err)
			}
			s.touch()
			return InitResult{QRRequired: true}, nil
		}
		if err := ctx.Err(); err != nil {
			return InitResult{QRRequired: true}, err
		}

		s.log.Warnf("Authentication timeout for device: %s", s.deviceID)
		s.setState(StateTimedOut)
		return InitResult{QRRequired: true}, ErrAuthTimeout
	}
	if err := ctx.Err(); err != nil {
		return InitResult{}, err
	}

	// Restored profiles can reach the chat list late without ever showing a code.
	if s.checkAuthenticated(ctx, driver) {
		s.log.Infof("Device %s authenticated without scan", s.deviceID)
		s.touch()
		return InitResult{}, nil
	}

	s.setState(StateUnknown)
	return InitResult{}, ErrPageUnusable
}

// checkAuthenticated waits briefly for any chat list marker. On success the
// session is marked authenticated.
func (s *Session) checkAuthenticated(ctx context.Context, driver browser.Driver) bool {
	_, err := browser.WaitAny(ctx, s.opts.Selectors.Authenticated,
		s.opts.PollInterval, s.opts.AuthProbeTimeout, driver.Exists)
	if err != nil {
		return false
	}
	s.setAuthenticated()
	return true
}

// waitForScanCode reports whether a scan code canvas appeared within timeout.
func (s *Session) waitForScanCode(ctx context.Context, driver browser.Driver, timeout time.Duration) bool {
	_, err := browser.WaitAny(ctx, s.opts.Selectors.ScanCode, s.opts.PollInterval, timeout, driver.Exists)
	return err == nil
}

// captureScanCode serializes the scan code canvas to <QRDir>/<device>_qr.png.
// Selectors are tried in order; the first canvas that yields an image wins.
func (s *Session) captureScanCode(driver browser.Driver) (string, error) {
	var image []byte
	_, err := browser.First(s.opts.Selectors.ScanCode, func(sel string) (bool, error) {
		dataURL, err := driver.CanvasDataURL(sel)
		if err != nil {
			return false, err
		}
		decoded, err := decodeDataURL(dataURL)
		if err != nil {
			return false, err
		}
		image = decoded
		return true, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
	}

	if err := os.WriteFile(s.qrPath, image, 0600); err != nil {
		return "", fmt.Errorf("%w: failed to write scan code: %w", ErrCaptureUnavailable, err)
	}

	s.mu.Lock()
	s.qrImagePath = s.qrPath
	s.mu.Unlock()

	s.log.Infof("Scan code saved for device: %s", s.deviceID)
	return s.qrPath, nil
}

// awaitAuthentication re-checks the chat list every AuthPollInterval until it
// appears, timeout elapses or ctx is done.
func (s *Session) awaitAuthentication(ctx context.Context, driver browser.Driver, timeout time.Duration) bool {
	start := time.Now()
	defer func() {
		metrics.AuthWaitSeconds.Observe(time.Since(start).Seconds())
	}()

	err := browser.Poll(ctx, s.opts.AuthPollInterval, timeout, func() (bool, error) {
		return s.checkAuthenticated(ctx, driver), nil
	})
	return err == nil
}

// decodeDataURL extracts the bytes of a base64 data URL.
func decodeDataURL(dataURL string) ([]byte, error) {
	header, payload, ok := strings.Cut(dataURL, ",")
	if !ok || !strings.HasPrefix(header, "data:") || !strings.HasSuffix(header, ";base64") {
		return nil, fmt.Errorf("not a base64 data URL")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid data URL payload: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	return data, nil
}
