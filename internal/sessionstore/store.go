// Package sessionstore keeps a local journal of build sessions: one
// directory per session holding its latest state and every lifecycle event.
package sessionstore

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/antonkrylov/htzbuild/internal/events"
)

// ErrNotFound is returned for unknown session ids.
var ErrNotFound = errors.New("session not found")

// Session is the summary kept in session.json.
type Session struct {
	ID         string    `json:"id"`
	Profile    string    `json:"profile"`
	State      string    `json:"state"`
	InstanceID string    `json:"instance,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Finished reports whether the session reached its final state.
func (s Session) Finished() bool { return s.State == "Done" }

// Orphaned reports whether the session recorded a server but never
// finished, which happens when the process was killed.
func (s Session) Orphaned() bool { return !s.Finished() && s.InstanceID != "" }

// Store implements events.Publisher on top of a directory tree.
type Store struct {
	rootDir string

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	metaPath   string
	eventsPath string
	meta       Session
	file       *os.File
}

func New(rootDir string) *Store {
	return &Store{rootDir: rootDir, sessions: make(map[string]*session)}
}

// Publish records ev and updates the session summary.
func (s *Store) Publish(_ context.Context, ev events.Event) error {
	if ev.Session == "" {
		return fmt.Errorf("session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.openLocked(ev)
	if err != nil {
		return err
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := sess.file.Write(append(line, '\n')); err != nil {
		return err
	}
	sess.meta.State = ev.State
	sess.meta.UpdatedAt = ev.At
	if ev.InstanceID != "" {
		sess.meta.InstanceID = ev.InstanceID
	}
	if ev.Error != "" {
		sess.meta.Error = ev.Error
	}
	if err := writeJSONFile(sess.metaPath, sess.meta); err != nil {
		return err
	}
	if sess.meta.Finished() {
		delete(s.sessions, ev.Session)
		return sess.file.Close()
	}
	return nil
}

// Close releases open event files.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		_ = sess.file.Close()
		delete(s.sessions, id)
	}
}

func (s *Store) openLocked(ev events.Event) (*session, error) {
	if sess := s.sessions[ev.Session]; sess != nil {
		return sess, nil
	}
	dir := filepath.Join(s.rootDir, ev.Session)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	sess := &session{
		metaPath:   filepath.Join(dir, "session.json"),
		eventsPath: filepath.Join(dir, "events.jsonl"),
	}
	if err := readJSONFile(sess.metaPath, &sess.meta); errors.Is(err, os.ErrNotExist) {
		sess.meta = Session{ID: ev.Session, Profile: ev.Profile, CreatedAt: ev.At}
	} else if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(sess.eventsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	sess.file = f
	s.sessions[ev.Session] = sess
	return sess, nil
}

// List returns every recorded session, newest first.
func (s *Store) List() ([]Session, error) {
	entries, err := os.ReadDir(s.rootDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]Session, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var meta Session
		if err := readJSONFile(filepath.Join(s.rootDir, e.Name(), "session.json"), &meta); err != nil {
			continue
		}
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) Get(id string) (Session, error) {
	var meta Session
	err := readJSONFile(filepath.Join(s.rootDir, id, "session.json"), &meta)
	if errors.Is(err, os.ErrNotExist) {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return meta, err
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess := s.sessions[id]; sess != nil {
		_ = sess.file.Close()
		delete(s.sessions, id)
	}
	return os.RemoveAll(filepath.Join(s.rootDir, id))
}

// Replay calls send for every recorded event of a session in order.
func (s *Store) Replay(id string, send func(events.Event) error) error {
	f, err := os.Open(filepath.Join(s.rootDir, id, "events.jsonl"))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev events.Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			return err
		}
		if err := send(ev); err != nil {
			return err
		}
	}
	return sc.Err()
}

func writeJSONFile(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSONFile(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
