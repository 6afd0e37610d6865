// Package cfgstore manages a directory of detector calibration files.
//
// A calibration is saved under a prefix as two files: <prefix>.cfg holds the
// global registers and <prefix>.cfl the local configuration of every pixel.
// The files themselves are written by the camera.
package cfgstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.jpl.nasa.gov/bdube/xpad/logging"
)

const (
	// GlobalExt is the extension of global configuration files
	GlobalExt = ".cfg"

	// LocalExt is the extension of local configuration files
	LocalExt = ".cfl"
)

// ErrBadPrefix is returned for prefixes that are empty or would leave the directory
type ErrBadPrefix struct {
	Prefix string
	Reason string
}

func (e ErrBadPrefix) Error() string {
	return fmt.Sprintf("cfgstore: bad configuration name %q: %s", e.Prefix, e.Reason)
}

// InvalidArgument marks the error as the caller's fault
func (e ErrBadPrefix) InvalidArgument() bool { return true }

// Store is a directory of calibration files
type Store struct {
	dir string
	log zerolog.Logger

	mu     sync.Mutex
	names  []string
	cached bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New returns a Store rooted at dir.  The directory need not exist yet.
func New(dir string) *Store {
	return &Store{
		dir: dir,
		log: logging.WithComponent("cfgstore").With().Str("dir", dir).Logger(),
	}
}

// Dir is the directory of the store
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the path of the file for prefix with extension ext.
// The prefix must name a file directly inside the directory.
func (s *Store) Path(prefix, ext string) (string, error) {
	switch {
	case strings.TrimSpace(prefix) == "":
		return "", ErrBadPrefix{Prefix: prefix, Reason: "empty"}
	case strings.ContainsAny(prefix, `/\`):
		return "", ErrBadPrefix{Prefix: prefix, Reason: "contains a path separator"}
	case prefix == "." || prefix == "..":
		return "", ErrBadPrefix{Prefix: prefix, Reason: "not a file name"}
	}
	return filepath.Join(s.dir, prefix+ext), nil
}

// GlobalPath is Path(prefix, GlobalExt)
func (s *Store) GlobalPath(prefix string) (string, error) {
	return s.Path(prefix, GlobalExt)
}

// LocalPath is Path(prefix, LocalExt)
func (s *Store) LocalPath(prefix string) (string, error) {
	return s.Path(prefix, LocalExt)
}

// Names returns the prefixes of the global configuration files, sorted.
// A missing directory has no names.
func (s *Store) Names() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached {
		return clone(s.names), nil
	}
	names, err := s.scan()
	if err != nil {
		return nil, err
	}
	// only a watched directory can trust its cache
	if s.watcher != nil {
		s.names = names
		s.cached = true
	}
	return clone(names), nil
}

func clone(ss []string) []string {
	out := make([]string, len(ss))
	copy(out, ss)
	return out
}

func (s *Store) scan() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	names := []string{}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || filepath.Ext(e.Name()) != GlobalExt {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), GlobalExt))
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = false
	s.names = nil
}

// Watch keeps the name cache current with fsnotify until ctx is done or
// Stop is called
func (s *Store) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(s.dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}
	s.mu.Lock()
	s.watcher = w
	s.done = make(chan struct{})
	s.cached = false
	s.mu.Unlock()
	s.log.Info().Msg("watching configuration directory")
	go s.watchLoop(ctx, w, s.done)
	return nil
}

func (s *Store) watchLoop(ctx context.Context, w *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			w.Close()
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Ext(ev.Name) == GlobalExt {
				s.log.Debug().Str("file", ev.Name).Str("op", ev.Op.String()).Msg("configuration changed")
				s.invalidate()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.log.Error().Err(err).Msg("configuration watcher error")
			s.invalidate()
		}
	}
}

// Stop ends Watch and waits for it to return
func (s *Store) Stop() {
	s.mu.Lock()
	w, done := s.watcher, s.done
	s.watcher = nil
	s.cached = false
	s.mu.Unlock()
	if w == nil {
		return
	}
	w.Close()
	<-done
}
