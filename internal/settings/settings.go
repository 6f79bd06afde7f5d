// Package settings owns the process-wide mutable bot settings: the
// authorized-user set and the send delay. Both the console loop and the
// Telegram handlers read and mutate it concurrently; every mutation is
// serialized through one lock and persisted synchronously.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"dmrelay/pkg/logx"
)

const (
	// DefaultDelay is the pause between consecutive sends of one job.
	DefaultDelay = 1 * time.Second
	// MinDelay is the floor for set_speed; lower values invite API throttling.
	MinDelay = 250 * time.Millisecond
)

// ErrBelowMinimum is returned by SetDelay for values under MinDelay.
var ErrBelowMinimum = fmt.Errorf("delay below minimum %s", MinDelay)

// fileState is the on-disk shape: a flat JSON document rewritten in full
// on every save.
type fileState struct {
	UserIDs   []string `json:"user_ids"`
	SendDelay float64  `json:"send_delay"` // seconds
}

// Store holds the settings in memory and mirrors them to a JSON file.
//
// The store also owns the send-loop throttle: a rate.Limiter tuned to one
// event per delay. SetDelay retunes the limiter in place, so in-flight
// send loops pick up speed changes on their next Wait without snapshotting.
type Store struct {
	log  logx.Logger
	path string

	mu      sync.Mutex
	users   map[string]struct{}
	delay   time.Duration
	limiter *rate.Limiter
}

// Open loads settings from path. Missing file: defaults are written back.
// Malformed file: defaults are used and a warning is logged. Only a
// failure to create the data directory is fatal.
func Open(path string, log logx.Logger) (*Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("settings dir: %w", err)
	}

	s := &Store{
		log:     log,
		path:    path,
		users:   map[string]struct{}{},
		delay:   DefaultDelay,
		limiter: rate.NewLimiter(rate.Every(DefaultDelay), 1),
	}

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.mu.Lock()
		s.saveLocked()
		s.mu.Unlock()
		log.Info("settings file not found; created with defaults", logx.String("path", path))
	case err != nil:
		log.Warn("settings file unreadable; using defaults", logx.String("path", path), logx.Err(err))
	default:
		if err := s.apply(b); err != nil {
			log.Warn("settings file malformed; using defaults", logx.String("path", path), logx.Err(err))
		} else {
			s.mu.Lock()
			n := len(s.users)
			d := s.delay
			s.mu.Unlock()
			log.Info("settings loaded", logx.Int("authorized_users", n), logx.Duration("send_delay", d))
		}
	}
	return s, nil
}

// apply replaces in-memory state from raw file bytes.
func (s *Store) apply(b []byte) error {
	var st fileState
	if err := json.Unmarshal(b, &st); err != nil {
		return err
	}
	users := make(map[string]struct{}, len(st.UserIDs))
	for _, id := range st.UserIDs {
		if id != "" {
			users[id] = struct{}{}
		}
	}
	delay := time.Duration(st.SendDelay * float64(time.Second))
	if delay < MinDelay {
		delay = DefaultDelay
	}

	s.mu.Lock()
	s.users = users
	s.delay = delay
	s.limiter.SetLimit(rate.Every(delay))
	s.mu.Unlock()
	return nil
}

// Reload re-reads the file, replacing in-memory state wholesale.
// Used by the file watcher; last writer wins.
func (s *Store) Reload() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	return s.apply(b)
}

// Authorized reports whether the given platform user may use the relay
// command. Membership is exact-string equality on the decimal id.
func (s *Store) Authorized(userID int64) bool {
	id := strconv.FormatInt(userID, 10)
	s.mu.Lock()
	_, ok := s.users[id]
	s.mu.Unlock()
	return ok
}

// AddUser adds id to the authorized set and persists. Returns false if the
// id was already present (no-op, no rewrite).
func (s *Store) AddUser(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; ok {
		return false
	}
	s.users[id] = struct{}{}
	s.saveLocked()
	return true
}

// RemoveUser removes id from the authorized set and persists. Returns
// false if the id was not present.
func (s *Store) RemoveUser(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return false
	}
	delete(s.users, id)
	s.saveLocked()
	return true
}

// SetDelay updates the send delay and retunes the throttle. Values below
// MinDelay are rejected and leave the current delay unchanged.
func (s *Store) SetDelay(d time.Duration) error {
	if d < MinDelay {
		return ErrBelowMinimum
	}
	s.mu.Lock()
	s.delay = d
	s.limiter.SetLimit(rate.Every(d))
	s.saveLocked()
	s.mu.Unlock()
	return nil
}

func (s *Store) Delay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delay
}

// Users returns the authorized ids, sorted.
func (s *Store) Users() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.users))
	for id := range s.users {
		out = append(out, id)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}

func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// Wait blocks until the throttle admits the next send. The limiter reads
// the current limit, not a snapshot, so set_speed applies immediately.
func (s *Store) Wait(ctx context.Context) error {
	return s.limiter.Wait(ctx)
}

// saveLocked rewrites the settings file in full (tmp + rename). Failures
// are logged and otherwise ignored; in-memory state stays authoritative.
func (s *Store) saveLocked() {
	st := fileState{
		UserIDs:   make([]string, 0, len(s.users)),
		SendDelay: s.delay.Seconds(),
	}
	for id := range s.users {
		st.UserIDs = append(st.UserIDs, id)
	}
	sort.Strings(st.UserIDs)

	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		s.log.Error("settings marshal failed", logx.Err(err))
		return
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0o600); err != nil {
		s.log.Error("settings save failed", logx.String("path", s.path), logx.Err(err))
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.log.Error("settings save failed", logx.String("path", s.path), logx.Err(err))
	}
}
