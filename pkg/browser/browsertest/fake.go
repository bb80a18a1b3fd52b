// Package browsertest provides in-memory browser.Driver and browser.Launcher
// implementations for tests.
package browsertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/entrhq/waweb/pkg/browser"
)

// Operation names recorded in Calls and accepted by FailOn.
const (
	OpNavigate      = "navigate"
	OpClick         = "click"
	OpType          = "type"
	OpPress         = "press"
	OpSetInputFiles = "set_input_files"
	OpCanvas        = "canvas"
	OpClose         = "close"
)

// Call is one recorded driver operation.
type Call struct {
	Op       string
	Selector string
	Arg      string
}

// Driver is a scriptable page. Elements are selectors marked present and
// optionally clickable; hooks let a test change the page when it is navigated.
type Driver struct {
	mu        sync.Mutex
	present   map[string]bool
	clickable map[string]bool
	canvas    map[string]string
	failures  map[string]error
	calls     []Call
	closes    int

	// OnNavigate runs after every successful Navigate with the driver unlocked.
	OnNavigate func(d *Driver, url string)
}

// NewDriver returns an empty page.
func NewDriver() *Driver {
	return &Driver{
		present:   make(map[string]bool),
		clickable: make(map[string]bool),
		canvas:    make(map[string]string),
		failures:  make(map[string]error),
	}
}

// SetPresent marks selectors as attached (but not clickable).
func (d *Driver) SetPresent(selectors ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, sel := range selectors {
		d.present[sel] = true
	}
}

// SetClickable marks selectors as attached and clickable.
func (d *Driver) SetClickable(selectors ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, sel := range selectors {
		d.present[sel] = true
		d.clickable[sel] = true
	}
}

// Remove detaches selectors.
func (d *Driver) Remove(selectors ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, sel := range selectors {
		delete(d.present, sel)
		delete(d.clickable, sel)
	}
}

// SetCanvas makes the canvas at selector serialize to dataURL.
func (d *Driver) SetCanvas(selector, dataURL string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.present[selector] = true
	d.canvas[selector] = dataURL
}

// FailOn makes every operation op return err.
func (d *Driver) FailOn(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[op] = err
}

// Calls returns the recorded operations.
func (d *Driver) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// CallsOf returns the recorded operations named op.
func (d *Driver) CallsOf(op string) []Call {
	var out []Call
	for _, c := range d.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Closes returns how many times Close was called.
func (d *Driver) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

func (d *Driver) record(op, selector, arg string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, Call{Op: op, Selector: selector, Arg: arg})
	return d.failures[op]
}

func (d *Driver) Navigate(url string) error {
	if err := d.record(OpNavigate, "", url); err != nil {
		return err
	}
	if d.OnNavigate != nil {
		d.OnNavigate(d, url)
	}
	return nil
}

func (d *Driver) Exists(selector string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.present[selector], nil
}

func (d *Driver) Clickable(selector string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clickable[selector], nil
}

func (d *Driver) Click(selector string) error {
	if err := d.record(OpClick, selector, ""); err != nil {
		return err
	}
	if ok, _ := d.Clickable(selector); !ok {
		return fmt.Errorf("element not clickable: %s", selector)
	}
	return nil
}

func (d *Driver) Type(selector, text string) error {
	return d.record(OpType, selector, text)
}

func (d *Driver) Press(selector, key string) error {
	return d.record(OpPress, selector, key)
}

func (d *Driver) SetInputFiles(selector string, paths ...string) error {
	arg := ""
	if len(paths) > 0 {
		arg = paths[0]
	}
	return d.record(OpSetInputFiles, selector, arg)
}

func (d *Driver) CanvasDataURL(selector string) (string, error) {
	if err := d.record(OpCanvas, selector, ""); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	url, ok := d.canvas[selector]
	if !ok {
		return "", fmt.Errorf("no canvas matching selector: %s", selector)
	}
	return url, nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	d.closes++
	d.mu.Unlock()
	return d.record(OpClose, "", "")
}

// Launcher hands out fake drivers and records every launch.
type Launcher struct {
	mu       sync.Mutex
	launches []browser.LaunchOptions
	drivers  []*Driver

	// NewDriver builds the driver of each launch (defaults to NewDriver)
	NewDriver func(opts browser.LaunchOptions) *Driver

	// Err, when set, fails every launch
	Err error
}

func (l *Launcher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.launches = append(l.launches, opts)
	if l.Err != nil {
		return nil, l.Err
	}
	build := l.NewDriver
	if build == nil {
		build = func(browser.LaunchOptions) *Driver { return NewDriver() }
	}
	d := build(opts)
	l.drivers = append(l.drivers, d)
	return d, nil
}

// Launches returns the options of every launch attempt.
func (l *Launcher) Launches() []browser.LaunchOptions {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]browser.LaunchOptions(nil), l.launches...)
}

// Drivers returns every driver handed out.
func (l *Launcher) Drivers() []*Driver {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Driver(nil), l.drivers...)
}
