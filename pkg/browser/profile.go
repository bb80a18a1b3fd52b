package browser

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Content setting values understood by Chromium.
const (
	settingAllow = 1
	settingBlock = 2
)

// defaultPreferences blocks notifications, popups and media permissions.
func defaultPreferences() map[string]interface{} {
	return map[string]interface{}{
		"profile": map[string]interface{}{
			"default_content_setting_values": map[string]interface{}{
				"notifications":        settingBlock,
				"popups":               settingBlock,
				"media_stream_mic":     settingBlock,
				"media_stream_camera":  settingBlock,
				"geolocation":          settingBlock,
				"automatic_downloads":  settingAllow,
				"desktop_notification": settingBlock,
			},
		},
	}
}

// PrepareProfile creates the profile directory with 0700 permissions and seeds
// Default/Preferences when the profile has never been used. An existing
// Preferences file is left alone since it belongs to the authenticated profile.
func PrepareProfile(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create profile directory: %w", err)
	}
	if err := os.Chmod(dir, 0700); err != nil {
		return fmt.Errorf("failed to secure profile directory: %w", err)
	}

	defaultDir := filepath.Join(dir, "Default")
	prefsPath := filepath.Join(defaultDir, "Preferences")
	if _, err := os.Stat(prefsPath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat preferences: %w", err)
	}

	if err := os.MkdirAll(defaultDir, 0700); err != nil {
		return fmt.Errorf("failed to create default profile: %w", err)
	}

	data, err := json.Marshal(defaultPreferences())
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}
	if err := os.WriteFile(prefsPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	return nil
}
