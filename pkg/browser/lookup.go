package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Probe tests a single selector against the page.
type Probe func(selector string) (bool, error)

// LookupError reports an ordered lookup in which no selector matched.
type LookupError struct {
	// Selectors lists every selector that was tried, in order
	Selectors []string

	// Last is the last probe error seen, if any
	Last error
}

func (e *LookupError) Error() string {
	msg := fmt.Sprintf("no selector matched [%s]", strings.Join(e.Selectors, ", "))
	if e.Last != nil {
		msg += ": " + e.Last.Error()
	}
	return msg
}

// Unwrap lets callers match the error with errors.Is(err, ErrNoMatch).
func (e *LookupError) Unwrap() error {
	return ErrNoMatch
}

// First returns the first selector, in order, for which probe reports true.
// Probe errors count as a miss.
func First(selectors []string, probe Probe) (string, error) {
	var last error
	for _, sel := range selectors {
		ok, err := probe(sel)
		if err != nil {
			last = err
			continue
		}
		if ok {
			return sel, nil
		}
	}
	return "", &LookupError{Selectors: selectors, Last: last}
}

// WaitFirst tries selectors in order, giving each up to perSelector to satisfy
// probe before moving to the next one. The first selector that matches wins.
func WaitFirst(ctx context.Context, selectors []string, interval, perSelector time.Duration, probe Probe) (string, error) {
	var last error
	for _, sel := range selectors {
		err := Poll(ctx, interval, perSelector, func() (bool, error) {
			return probe(sel)
		})
		if err == nil {
			return sel, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if !errors.Is(err, ErrTimeout) {
			last = err
		}
	}
	return "", &LookupError{Selectors: selectors, Last: last}
}

// WaitAny polls every selector on each tick until one satisfies probe or
// timeout elapses. It returns the selector that matched.
func WaitAny(ctx context.Context, selectors []string, interval, timeout time.Duration, probe Probe) (string, error) {
	var matched string
	err := Poll(ctx, interval, timeout, func() (bool, error) {
		sel, err := First(selectors, probe)
		if err != nil {
			return false, nil
		}
		matched = sel
		return true, nil
	})
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			return "", fmt.Errorf("%w: %w", err, &LookupError{Selectors: selectors})
		}
		return "", err
	}
	return matched, nil
}
