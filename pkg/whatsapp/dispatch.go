package whatsapp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/entrhq/waweb/pkg/browser"
	"github.com/entrhq/waweb/pkg/logging"
	"github.com/entrhq/waweb/pkg/metrics"
)

// Message is one outgoing send.
type Message struct {
	// Phone is the recipient in any formatting; see NormalizePhone
	Phone string

	// Text is sent after the media, if any. Lines are kept as soft line breaks.
	Text string

	// MediaPath is an optional file attached before the text. A missing file
	// is skipped.
	MediaPath string
}

// Send opens the chat with msg.Phone and sends the media and text of msg.
//
// A session without a browser, or one never confirmed authenticated, is
// initialized first. Media failures are logged and do not fail the send; text
// failures do.
func (s *Session) Send(ctx context.Context, msg Message) error {
	opCtx, done, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	if err := s.send(opCtx, msg); err != nil {
		metrics.MessagesSent.WithLabelValues(metrics.ResultFailure).Inc()
		s.log.Errorf("Error sending message to %s: %v", logging.MaskPhone(msg.Phone), err)
		return err
	}
	metrics.MessagesSent.WithLabelValues(metrics.ResultSuccess).Inc()
	return nil
}

func (s *Session) send(ctx context.Context, msg Message) error {
	if !s.HasDriver() {
		if _, err := s.initialize(ctx); err != nil {
			return fmt.Errorf("session initialization failed: %w", err)
		}
	}

	driver := s.currentDriver()
	if !s.IsAuthenticated() && !s.checkAuthenticated(ctx, driver) {
		if _, err := s.initialize(ctx); err != nil {
			return fmt.Errorf("session initialization failed: %w", err)
		}
		driver = s.currentDriver()
	}

	phone := NormalizePhone(msg.Phone, s.opts.CountryCode)
	if phone == "" {
		return fmt.Errorf("%w: %q", ErrInvalidPhone, msg.Phone)
	}
	target, err := chatURL(s.opts.ServiceURL, phone)
	if err != nil {
		return err
	}

	s.log.Infof("Navigating to chat for number: %s", logging.MaskPhone(msg.Phone))
	if err := driver.Navigate(target); err != nil {
		return fmt.Errorf("%w: %w", ErrChatLoad, err)
	}
	if err := s.waitForChat(ctx, driver); err != nil {
		return err
	}

	if msg.MediaPath != "" {
		if _, statErr := os.Stat(msg.MediaPath); statErr == nil {
			if err := s.sendMedia(ctx, driver, msg.MediaPath); err != nil {
				metrics.MediaFailures.Inc()
				s.log.Warnf("Failed to send media, continuing with text message: %v", err)
			}
		} else {
			s.log.Warnf("Media %s not found, skipping attachment", msg.MediaPath)
		}
	}

	if msg.Text != "" {
		if err := s.sendText(ctx, driver, msg.Text); err != nil {
			return err
		}
	}

	s.touch()
	s.log.Infof("Message sent successfully to %s", logging.MaskPhone(msg.Phone))
	return nil
}

// waitForChat waits for the compose box of the opened chat.
func (s *Session) waitForChat(ctx context.Context, driver browser.Driver) error {
	if _, err := browser.WaitAny(ctx, s.opts.Selectors.Compose,
		s.opts.PollInterval, s.opts.ChatLoadTimeout, driver.Exists); err != nil {
		return fmt.Errorf("%w: %w", ErrChatLoad, err)
	}
	return sleep(ctx, 2*s.opts.ActionDelay)
}

// sendMedia attaches path to the open chat and sends it.
func (s *Session) sendMedia(ctx context.Context, driver browser.Driver, path string) error {
	attach, err := browser.WaitFirst(ctx, s.opts.Selectors.Attach,
		s.opts.PollInterval, s.opts.ElementWait, driver.Clickable)
	if err != nil {
		return fmt.Errorf("%w: attachment button: %w", ErrMediaSend, err)
	}
	if err := driver.Click(attach); err != nil {
		return fmt.Errorf("%w: %w", ErrMediaSend, err)
	}
	if err := sleep(ctx, 2*s.opts.ActionDelay); err != nil {
		return err
	}

	input, err := browser.First(s.opts.Selectors.FileInput, driver.Exists)
	if err != nil {
		return fmt.Errorf("%w: file input: %w", ErrMediaSend, err)
	}
	absolute, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMediaSend, err)
	}
	if err := driver.SetInputFiles(input, absolute); err != nil {
		return fmt.Errorf("%w: %w", ErrMediaSend, err)
	}
	if err := sleep(ctx, s.opts.UploadDelay); err != nil {
		return err
	}

	send, err := browser.WaitFirst(ctx, s.opts.Selectors.Send,
		s.opts.PollInterval, s.opts.ElementWait, driver.Clickable)
	if err != nil {
		return fmt.Errorf("%w: send button: %w", ErrMediaSend, err)
	}
	if err := driver.Click(send); err != nil {
		return fmt.Errorf("%w: %w", ErrMediaSend, err)
	}
	return sleep(ctx, s.opts.UploadDelay)
}

// sendText types text into the compose box, one line at a time joined by soft
// line breaks, and submits it.
func (s *Session) sendText(ctx context.Context, driver browser.Driver, text string) error {
	box, err := browser.WaitFirst(ctx, s.opts.Selectors.Compose,
		s.opts.PollInterval, s.opts.ElementWait, driver.Clickable)
	if err != nil {
		return fmt.Errorf("%w: message input: %w", ErrTextSend, err)
	}

	if err := driver.Click(box); err != nil {
		return fmt.Errorf("%w: %w", ErrTextSend, err)
	}
	if err := sleep(ctx, s.opts.ActionDelay); err != nil {
		return err
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if line != "" {
			if err := driver.Type(box, line); err != nil {
				return fmt.Errorf("%w: %w", ErrTextSend, err)
			}
		}
		if i < len(lines)-1 {
			if err := driver.Press(box, "Shift+Enter"); err != nil {
				return fmt.Errorf("%w: %w", ErrTextSend, err)
			}
		}
	}

	if err := sleep(ctx, s.opts.ActionDelay); err != nil {
		return err
	}
	if err := driver.Press(box, "Enter"); err != nil {
		return fmt.Errorf("%w: %w", ErrTextSend, err)
	}
	return sleep(ctx, 2*s.opts.ActionDelay)
}
