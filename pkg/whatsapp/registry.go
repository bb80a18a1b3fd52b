package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/entrhq/waweb/pkg/browser"
	"github.com/entrhq/waweb/pkg/logging"
	"github.com/entrhq/waweb/pkg/metrics"
)

// Registry maps device ids to sessions.
//
// Operations on the same device id are serialized, so a device never has more
// than one running browser. Operations on different devices run in parallel.
type Registry struct {
	launcher browser.Launcher
	opts     Options
	log      *logging.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	devices keyedMutex
}

// NewRegistry creates an empty registry whose sessions launch browsers with
// launcher.
func NewRegistry(launcher browser.Launcher, opts Options) *Registry {
	opts = opts.withDefaults()
	return &Registry{
		launcher: launcher,
		opts:     opts,
		log:      opts.Logger.With("registry"),
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns the session of deviceID, creating it on first use. With
// forceNew the existing session, if any, is closed and replaced.
func (r *Registry) GetOrCreate(deviceID string, forceNew bool) (*Session, error) {
	if err := ValidateDeviceID(deviceID); err != nil {
		return nil, err
	}

	unlock := r.devices.Lock(deviceID)
	defer unlock()

	r.mu.RLock()
	existing, ok := r.sessions[deviceID]
	r.mu.RUnlock()

	if ok && !forceNew {
		return existing, nil
	}
	if ok {
		r.log.Infof("Replacing session for device: %s", deviceID)
		if err := existing.Close(); err != nil {
			r.log.Warnf("Error closing replaced session for %s: %v", deviceID, err)
		}
	}

	session, err := newSession(deviceID, r.launcher, r.opts)
	if err != nil {
		if ok {
			r.remove(deviceID, existing)
		}
		return nil, err
	}

	r.mu.Lock()
	r.sessions[deviceID] = session
	metrics.SessionsActive.Set(float64(len(r.sessions)))
	r.mu.Unlock()
	return session, nil
}

// Get returns the session of deviceID without creating one.
func (r *Registry) Get(deviceID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[deviceID]
	return session, ok
}

// Delete closes and removes the session of deviceID regardless of idle time.
// It reports whether a session existed.
func (r *Registry) Delete(deviceID string) (bool, error) {
	unlock := r.devices.Lock(deviceID)
	defer unlock()

	r.mu.RLock()
	session, ok := r.sessions[deviceID]
	r.mu.RUnlock()
	if !ok {
		return false, nil
	}

	err := session.Close()
	r.remove(deviceID, session)
	if err != nil {
		return true, fmt.Errorf("session %s removed with errors: %w", deviceID, err)
	}
	return true, nil
}

// EvictIdle closes and removes every session idle for at least timeout and
// returns the evicted device ids. Sessions with an operation running or
// waiting are not idle. A failing close is logged and the session is removed
// anyway.
func (r *Registry) EvictIdle(timeout time.Duration) []string {
	now := r.opts.Now()

	r.mu.RLock()
	candidates := make([]string, 0, len(r.sessions))
	for id, session := range r.sessions {
		if now.Sub(session.LastActivity()) >= timeout && !session.Busy() {
			candidates = append(candidates, id)
		}
	}
	r.mu.RUnlock()
	sort.Strings(candidates)

	var evicted []string
	for _, id := range candidates {
		if r.evict(id, now, timeout) {
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// evict removes one idle session. The idle check is repeated under the device
// lock since the session may have been used or replaced in the meantime, and
// the close itself backs off when an operation has started on the session.
func (r *Registry) evict(deviceID string, now time.Time, timeout time.Duration) (evicted bool) {
	unlock := r.devices.Lock(deviceID)
	defer unlock()

	defer func() {
		if p := recover(); p != nil {
			r.log.Errorf("Panic cleaning up session for %s: %v", deviceID, p)
		}
	}()

	r.mu.RLock()
	session, ok := r.sessions[deviceID]
	r.mu.RUnlock()
	if !ok || now.Sub(session.LastActivity()) < timeout {
		return false
	}

	closed, err := session.CloseIfIdle()
	if !closed {
		r.log.Debugf("Session for %s became busy, skipping cleanup", deviceID)
		return false
	}
	r.log.Infof("Cleaned up idle session for device: %s", deviceID)
	r.remove(deviceID, session)
	metrics.SessionEvictions.Inc()
	if err != nil {
		r.log.Errorf("Error cleaning up session for %s: %v", deviceID, err)
	}
	return true
}

// remove deletes deviceID from the map if it still maps to session.
func (r *Registry) remove(deviceID string, session *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[deviceID] == session {
		delete(r.sessions, deviceID)
	}
	metrics.SessionsActive.Set(float64(len(r.sessions)))
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns information about all sessions, ordered by device id.
func (r *Registry) List() []SessionInfo {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, session.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].DeviceID < infos[j].DeviceID
	})
	return infos
}

// RunSweeper evicts sessions idle for timeout every interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval, timeout time.Duration) error {
	if interval <= 0 || timeout <= 0 {
		return fmt.Errorf("sweep interval and idle timeout must be positive")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if evicted := r.EvictIdle(timeout); len(evicted) > 0 {
				r.log.Infof("Evicted %d idle session(s): %v", len(evicted), evicted)
			}
		}
	}
}

// Shutdown closes and removes every session.
func (r *Registry) Shutdown() error {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		if _, err := r.Delete(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// keyedMutex provides one mutex per key, dropped once nobody holds or waits
// for it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Lock locks key and returns the matching unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
