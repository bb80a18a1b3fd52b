// Package browser provides the browser automation layer used by device sessions.
//
// The package is built around three concepts:
//
//  1. Launcher: locates a Chromium executable and the Playwright driver, then
//     starts a persistent browser context bound to a per-device profile directory
//  2. Driver: the narrow set of page operations the messaging flows need
//     (navigate, probe, click, type, press, upload, read a canvas)
//  3. Poll and Lookup: the bounded-retry and "first selector that works"
//     primitives every wait in the messaging flows is expressed with
//
// # Profiles
//
// Each device owns one profile directory. The profile carries the authenticated
// state of the remote web client, so a restarted process reuses it without a new
// scan. Profile directories are created with 0700 permissions before the first
// launch, and seeded with content-setting preferences that block notifications,
// popups and media permissions.
//
// # Debug Ports
//
// Every launched browser gets a remote debugging port derived from the device id
// (see DebugPort). Distinct ids can hash to the same port, so the launcher
// tracks the ports of running browsers and moves a colliding launch to the next
// free port in the range.
//
// # Example Usage
//
//	launcher := browser.NewPlaywrightLauncher(browser.LauncherConfig{
//	    ExecutablePaths: browser.DefaultExecutablePaths,
//	    DriverDirs:      []string{"/opt/playwright-driver"},
//	})
//	defer launcher.Stop()
//
//	driver, err := launcher.Launch(ctx, browser.LaunchOptions{
//	    DeviceID:   "default",
//	    ProfileDir: "sessions/default/profile",
//	    Headless:   true,
//	})
//	if err != nil {
//	    return err
//	}
//	defer driver.Close()
package browser
