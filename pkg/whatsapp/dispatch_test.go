package whatsapp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/entrhq/waweb/pkg/browser"
	"github.com/entrhq/waweb/pkg/browser/browsertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mediaReadyDriver is an authenticated page whose chats accept attachments.
func mediaReadyDriver() *browsertest.Driver {
	d := authenticatedDriver()
	d.OnNavigate = func(d *browsertest.Driver, url string) {
		if strings.Contains(url, "/send?") {
			d.SetClickable(sel.Compose[0], sel.Attach[1], sel.Send[0])
			d.SetPresent(sel.FileInput[1])
		}
	}
	return d
}

func writeMedia(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "photo.png")
	require.NoError(t, os.WriteFile(path, pngBytes, 0600))
	return path
}

func TestSend_LazilyInitializesAndSendsText(t *testing.T) {
	clock := newFakeClock()
	opts := testOptions(t)
	opts.Now = clock.Now

	d := authenticatedDriver()
	launcher := launcherFor(d)
	s := newTestSession(t, launcher, opts)
	created := s.LastActivity()

	clock.Advance(time.Minute)
	err := s.Send(context.Background(), Message{Phone: "+91 98765 43210", Text: "hello\nworld"})
	require.NoError(t, err)

	assert.Len(t, launcher.Launches(), 1)
	navs := d.CallsOf(browsertest.OpNavigate)
	require.Len(t, navs, 2)
	assert.Equal(t, DefaultServiceURL, navs[0].Arg)
	assert.Equal(t, "https://web.whatsapp.com/send?phone=919876543210", navs[1].Arg)

	assert.Equal(t, []string{"hello", "world"}, typed(d))
	assert.Equal(t, []string{"Shift+Enter", "Enter"}, pressed(d))
	for _, c := range d.CallsOf(browsertest.OpType) {
		assert.Equal(t, sel.Compose[0], c.Selector)
	}

	assert.True(t, s.LastActivity().After(created))
	assert.Equal(t, clock.Now(), s.LastActivity())
}

func TestSend_KeepsEmptyLines(t *testing.T) {
	d := authenticatedDriver()
	s := newTestSession(t, launcherFor(d), testOptions(t))

	require.NoError(t, s.Send(context.Background(), Message{Phone: "9876543210", Text: "a\n\nb"}))

	assert.Equal(t, []string{"a", "b"}, typed(d))
	assert.Equal(t, []string{"Shift+Enter", "Shift+Enter", "Enter"}, pressed(d))
}

func TestSend_MissingMediaIsSkipped(t *testing.T) {
	d := mediaReadyDriver()
	s := newTestSession(t, launcherFor(d), testOptions(t))

	err := s.Send(context.Background(), Message{
		Phone:     "9876543210",
		Text:      "caption",
		MediaPath: filepath.Join(t.TempDir(), "missing.png"),
	})
	require.NoError(t, err)

	assert.Empty(t, d.CallsOf(browsertest.OpSetInputFiles))
	for _, c := range d.CallsOf(browsertest.OpClick) {
		assert.NotEqual(t, sel.Attach[1], c.Selector)
	}
	assert.Equal(t, []string{"caption"}, typed(d))
}

func TestSend_MediaThenText(t *testing.T) {
	d := mediaReadyDriver()
	s := newTestSession(t, launcherFor(d), testOptions(t))
	media := writeMedia(t)

	err := s.Send(context.Background(), Message{Phone: "9876543210", Text: "see attached", MediaPath: media})
	require.NoError(t, err)

	uploads := d.CallsOf(browsertest.OpSetInputFiles)
	require.Len(t, uploads, 1)
	assert.Equal(t, sel.FileInput[1], uploads[0].Selector)
	abs, _ := filepath.Abs(media)
	assert.Equal(t, abs, uploads[0].Arg)

	var clicked []string
	for _, c := range d.CallsOf(browsertest.OpClick) {
		clicked = append(clicked, c.Selector)
	}
	assert.Equal(t, []string{sel.Attach[1], sel.Send[0], sel.Compose[0]}, clicked)
	assert.Equal(t, []string{"see attached"}, typed(d))
}

func TestSend_MediaFailureIsNotFatal(t *testing.T) {
	// No attachment button on the page.
	d := authenticatedDriver()
	s := newTestSession(t, launcherFor(d), testOptions(t))

	err := s.Send(context.Background(), Message{Phone: "9876543210", Text: "still sent", MediaPath: writeMedia(t)})
	require.NoError(t, err)
	assert.Empty(t, d.CallsOf(browsertest.OpSetInputFiles))
	assert.Equal(t, []string{"still sent"}, typed(d))
}

func TestSend_TextFailureIsFatalEvenAfterMedia(t *testing.T) {
	d := mediaReadyDriver()
	d.FailOn(browsertest.OpType, fmt.Errorf("compose box detached"))
	s := newTestSession(t, launcherFor(d), testOptions(t))

	err := s.Send(context.Background(), Message{Phone: "9876543210", Text: "lost", MediaPath: writeMedia(t)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTextSend)
	assert.Len(t, d.CallsOf(browsertest.OpSetInputFiles), 1, "media was sent before the text failed")
}

func TestSend_NoComposeBox(t *testing.T) {
	// The chat renders a compose box that never becomes interactive.
	d := authenticatedDriver()
	d.OnNavigate = func(d *browsertest.Driver, url string) {
		if strings.Contains(url, "/send?") {
			d.SetPresent(sel.Compose[2])
		}
	}
	clock := newFakeClock()
	opts := testOptions(t)
	opts.Now = clock.Now
	s := newTestSession(t, launcherFor(d), opts)
	_, err := s.Initialize(context.Background())
	require.NoError(t, err)
	before := s.LastActivity()
	clock.Advance(time.Minute)

	err = s.Send(context.Background(), Message{Phone: "9876543210", Text: "hi"})
	assert.ErrorIs(t, err, ErrTextSend)
	assert.Equal(t, before, s.LastActivity(), "failed sends do not count as activity")
}

func TestSend_ChatLoadFailure(t *testing.T) {
	d := browsertest.NewDriver()
	d.SetPresent(sel.Authenticated[0])
	s := newTestSession(t, launcherFor(d), testOptions(t))

	err := s.Send(context.Background(), Message{Phone: "9876543210", Text: "hi"})
	assert.ErrorIs(t, err, ErrChatLoad)
	assert.Empty(t, typed(d))
}

func TestSend_InitializationFailurePropagates(t *testing.T) {
	launcher := &browsertest.Launcher{Err: fmt.Errorf("%w: no chrome", browser.ErrDriverUnavailable)}
	s := newTestSession(t, launcher, testOptions(t))

	err := s.Send(context.Background(), Message{Phone: "9876543210", Text: "hi"})
	assert.ErrorIs(t, err, browser.ErrDriverUnavailable)
}

func TestSend_RechecksUnauthenticatedSession(t *testing.T) {
	d := browsertest.NewDriver()
	d.SetCanvas(sel.ScanCode[0], pngDataURL())
	d.OnNavigate = func(d *browsertest.Driver, url string) {
		if strings.Contains(url, "/send?") {
			d.SetClickable(sel.Compose[0])
		}
	}
	launcher := launcherFor(d)
	s := newTestSession(t, launcher, testOptions(t))

	_, err := s.Initialize(context.Background())
	require.ErrorIs(t, err, ErrAuthTimeout)
	require.False(t, s.IsAuthenticated())

	// The code was scanned after the wait gave up.
	d.Remove(sel.ScanCode[0])
	d.SetPresent(sel.Authenticated[1])

	require.NoError(t, s.Send(context.Background(), Message{Phone: "9876543210", Text: "hi"}))
	assert.True(t, s.IsAuthenticated())
	assert.Len(t, launcher.Launches(), 1)
	assert.Len(t, d.CallsOf(browsertest.OpNavigate), 2, "no re-initialization needed")
}

func TestSend_InvalidPhone(t *testing.T) {
	d := authenticatedDriver()
	s := newTestSession(t, launcherFor(d), testOptions(t))

	err := s.Send(context.Background(), Message{Phone: "n/a", Text: "hi"})
	assert.ErrorIs(t, err, ErrInvalidPhone)
}
