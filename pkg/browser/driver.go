package browser

import (
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// canvasScript serializes the first canvas matching the selector argument.
const canvasScript = `(selector) => {
	const canvas = document.querySelector(selector);
	return canvas ? canvas.toDataURL('image/png') : null;
}`

// pageDriver implements Driver on top of one persistent Playwright context.
type pageDriver struct {
	context        playwright.BrowserContext
	page           playwright.Page
	elementTimeout float64

	// onClose runs once the context is closed
	onClose func()

	closeOnce sync.Once
	closeErr  error
}

// Navigate loads url and waits for the DOM to be parsed.
func (d *pageDriver) Navigate(url string) error {
	waitUntil := playwright.WaitUntilState("domcontentloaded")
	if _, err := d.page.Goto(url, playwright.PageGotoOptions{WaitUntil: &waitUntil}); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (d *pageDriver) Exists(selector string) (bool, error) {
	element, err := d.page.QuerySelector(selector)
	if err != nil {
		return false, fmt.Errorf("selector query failed: %w", err)
	}
	return element != nil, nil
}

func (d *pageDriver) Clickable(selector string) (bool, error) {
	element, err := d.page.QuerySelector(selector)
	if err != nil {
		return false, fmt.Errorf("selector query failed: %w", err)
	}
	if element == nil {
		return false, nil
	}
	visible, err := element.IsVisible()
	if err != nil || !visible {
		return false, err
	}
	return element.IsEnabled()
}

func (d *pageDriver) Click(selector string) error {
	if err := d.page.Click(selector, playwright.PageClickOptions{Timeout: &d.elementTimeout}); err != nil {
		return fmt.Errorf("click failed: %w", err)
	}
	return nil
}

func (d *pageDriver) Type(selector, text string) error {
	if err := d.page.Type(selector, text, playwright.PageTypeOptions{Timeout: &d.elementTimeout}); err != nil {
		return fmt.Errorf("type failed: %w", err)
	}
	return nil
}

func (d *pageDriver) Press(selector, key string) error {
	if err := d.page.Press(selector, key, playwright.PagePressOptions{Timeout: &d.elementTimeout}); err != nil {
		return fmt.Errorf("press %q failed: %w", key, err)
	}
	return nil
}

func (d *pageDriver) SetInputFiles(selector string, paths ...string) error {
	if err := d.page.SetInputFiles(selector, paths); err != nil {
		return fmt.Errorf("set input files failed: %w", err)
	}
	return nil
}

func (d *pageDriver) CanvasDataURL(selector string) (string, error) {
	result, err := d.page.Evaluate(canvasScript, selector)
	if err != nil {
		return "", fmt.Errorf("canvas evaluation failed: %w", err)
	}
	dataURL, ok := result.(string)
	if !ok || dataURL == "" {
		return "", fmt.Errorf("no canvas matching selector: %s", selector)
	}
	return dataURL, nil
}

// Close closes the persistent context, which terminates the browser process.
func (d *pageDriver) Close() error {
	d.closeOnce.Do(func() {
		if err := d.context.Close(); err != nil {
			d.closeErr = fmt.Errorf("failed to close browser: %w", err)
		}
		if d.onClose != nil {
			d.onClose()
		}
	})
	return d.closeErr
}

// millis converts a duration to the float milliseconds Playwright expects.
func millis(d time.Duration) float64 {
	return float64(d.Milliseconds())
}
