package whatsapp

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// NormalizePhone strips every non-digit character and prepends countryCode to
// 10-digit numbers that do not already start with it.
//
// Only a single default country is supported; numbers of other lengths are
// passed through as digits.
func NormalizePhone(phone, countryCode string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 10 && !strings.HasPrefix(digits, countryCode) {
		digits = countryCode + digits
	}
	return digits
}

// chatURL returns the deep link that opens the chat with phone.
func chatURL(serviceURL, phone string) (string, error) {
	u, err := url.Parse(serviceURL)
	if err != nil {
		return "", fmt.Errorf("invalid service URL: %w", err)
	}
	u.Path = "/send"
	u.RawQuery = url.Values{"phone": []string{phone}}.Encode()
	return u.String(), nil
}

var deviceIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// ValidateDeviceID rejects ids that cannot safely name a directory.
func ValidateDeviceID(deviceID string) error {
	if !deviceIDPattern.MatchString(deviceID) || strings.Contains(deviceID, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidDeviceID, deviceID)
	}
	return nil
}
