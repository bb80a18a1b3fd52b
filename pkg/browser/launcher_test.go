package browser

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeExecutable(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0755))
}

func TestFindExecutable_FirstExistingPathWins(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing-chrome")
	second := filepath.Join(dir, "chromium")
	third := filepath.Join(dir, "chrome")
	writeExecutable(t, second)
	writeExecutable(t, third)

	got, err := FindExecutable([]string{missing, second, third}, nil)
	require.NoError(t, err)
	assert.Equal(t, second, got)
}

func TestFindExecutable_SkipsNonExecutableFiles(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "chrome")
	require.NoError(t, os.WriteFile(plain, []byte("data"), 0644))

	_, err := FindExecutable([]string{plain, dir}, []string{"waweb-no-such-binary"})
	assert.ErrorIs(t, err, ErrDriverUnavailable)
}

func TestFindExecutable_FallsBackToPath(t *testing.T) {
	binDir := t.TempDir()
	writeExecutable(t, filepath.Join(binDir, "waweb-test-chrome"))
	t.Setenv("PATH", binDir)

	got, err := FindExecutable([]string{filepath.Join(binDir, "absent")}, []string{"waweb-test-chrome"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(binDir, "waweb-test-chrome"), got)
}

func TestFindDriverDir(t *testing.T) {
	empty := t.TempDir()
	onlyNode := t.TempDir()
	writeExecutable(t, filepath.Join(onlyNode, "node"))
	complete := t.TempDir()
	writeExecutable(t, filepath.Join(complete, "node"))
	require.NoError(t, os.MkdirAll(filepath.Join(complete, "package"), 0755))

	got, err := FindDriverDir([]string{empty, onlyNode, complete})
	require.NoError(t, err)
	assert.Equal(t, complete, got)

	_, err = FindDriverDir([]string{empty, onlyNode})
	assert.ErrorIs(t, err, ErrDriverUnavailable)
}

func TestPlaywrightLauncher_MissingExecutable(t *testing.T) {
	launcher := NewPlaywrightLauncher(LauncherConfig{
		ExecutablePaths: []string{filepath.Join(t.TempDir(), "chrome")},
		ExecutableNames: []string{"waweb-no-such-binary"},
	})

	_, err := launcher.Launch(context.Background(), LaunchOptions{
		DeviceID:   "dev",
		ProfileDir: filepath.Join(t.TempDir(), "profile"),
	})
	assert.ErrorIs(t, err, ErrDriverUnavailable)
	assert.NoError(t, launcher.Stop())
}

func TestPlaywrightLauncher_MissingDriver(t *testing.T) {
	chrome := filepath.Join(t.TempDir(), "chrome")
	writeExecutable(t, chrome)

	launcher := NewPlaywrightLauncher(LauncherConfig{
		ExecutablePaths: []string{chrome},
		DriverDirs:      []string{t.TempDir()},
	})

	_, err := launcher.Launch(context.Background(), LaunchOptions{
		DeviceID:   "dev",
		ProfileDir: filepath.Join(t.TempDir(), "profile"),
	})
	assert.ErrorIs(t, err, ErrDriverUnavailable)
}

func TestPlaywrightLauncher_RequiresProfile(t *testing.T) {
	launcher := NewPlaywrightLauncher(LauncherConfig{})
	_, err := launcher.Launch(context.Background(), LaunchOptions{DeviceID: "dev"})
	assert.Error(t, err)
}

func TestDebugPort(t *testing.T) {
	for _, id := range []string{"default", "device-1", "device-2", "", "a-very-long-device-identifier"} {
		port := DebugPort(id)
		assert.GreaterOrEqual(t, port, BaseDebugPort, id)
		assert.Less(t, port, BaseDebugPort+DebugPortRange, id)
		assert.Equal(t, port, DebugPort(id), "port must be stable for %q", id)
	}
	assert.NotEqual(t, DebugPort("device-1"), DebugPort("device-2"))
}

func TestChromiumArgs(t *testing.T) {
	args := ChromiumArgs(LaunchOptions{DeviceID: "default", Headless: true, ExtraArgs: []string{"--lang=en"}})

	assert.Contains(t, args, "--no-sandbox")
	assert.Contains(t, args, "--disable-notifications")
	assert.Contains(t, args, "--disable-blink-features=AutomationControlled")
	assert.Contains(t, args, "--headless=new")
	assert.Equal(t, "--lang=en", args[len(args)-1])

	headed := ChromiumArgs(LaunchOptions{DeviceID: "default"})
	assert.NotContains(t, headed, "--headless=new")
}

func TestPrepareProfile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sessions", "dev", "profile")

	require.NoError(t, PrepareProfile(dir))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())

	data, err := os.ReadFile(filepath.Join(dir, "Default", "Preferences"))
	require.NoError(t, err)

	var prefs map[string]map[string]map[string]int
	require.NoError(t, json.Unmarshal(data, &prefs))
	values := prefs["profile"]["default_content_setting_values"]
	assert.Equal(t, settingBlock, values["notifications"])
	assert.Equal(t, settingBlock, values["media_stream_camera"])
}

func TestPrepareProfile_KeepsExistingPreferences(t *testing.T) {
	dir := t.TempDir()
	prefsPath := filepath.Join(dir, "Default", "Preferences")
	require.NoError(t, os.MkdirAll(filepath.Dir(prefsPath), 0700))
	require.NoError(t, os.WriteFile(prefsPath, []byte(`{"authenticated":true}`), 0600))

	require.NoError(t, PrepareProfile(dir))

	data, err := os.ReadFile(prefsPath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"authenticated":true}`, string(data))
}
