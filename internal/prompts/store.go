// Package prompts holds the system prompts askd sends to the reasoning service.
//
// Built-in defaults can be overridden from a YAML file:
//
//	version: "2"
//	planner: |
//	  ...
//	response: |
//	  ...
//
// Keys missing from the file keep their defaults. With watching enabled the
// file is reloaded when it changes; a file that fails to parse leaves the
// previous prompts in place.
package prompts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const maxPromptFileSize = 256 * 1024

// ErrWatcherFailed indicates the filesystem watcher could not start.
var ErrWatcherFailed = errors.New("failed to initialize prompt watcher")

// Set is one complete collection of prompts.
type Set struct {
	Version  string `yaml:"version"`
	Planner  string `yaml:"planner"`
	Response string `yaml:"response"`
	Summary  string `yaml:"summary"`
	Diagnose string `yaml:"diagnose"`
}

// merge fills empty fields of s from base.
func (s Set) merge(base Set) Set {
	if s.Version == "" {
		s.Version = base.Version
	}
	if s.Planner == "" {
		s.Planner = base.Planner
	}
	if s.Response == "" {
		s.Response = base.Response
	}
	if s.Summary == "" {
		s.Summary = base.Summary
	}
	if s.Diagnose == "" {
		s.Diagnose = base.Diagnose
	}
	return s
}

// Store serves the current prompt set. It is safe for concurrent use.
type Store struct {
	path    string
	current atomic.Pointer[Set]
	logger  *zap.Logger

	watcher  *fsnotify.Watcher
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	reloaded chan struct{}
}

// New returns a store with the built-in defaults.
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{logger: logger.Named("prompts"), reloaded: make(chan struct{}, 1)}
	def := Default()
	s.current.Store(&def)
	return s
}

// Load creates a store from path. An empty path yields the defaults.
func Load(path string, logger *zap.Logger) (*Store, error) {
	s := New(logger)
	if path == "" {
		return s, nil
	}
	s.path = path
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the prompt file.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	set, err := readFile(s.path)
	if err != nil {
		return err
	}
	merged := set.merge(Default())
	s.current.Store(&merged)
	s.logger.Info("prompts loaded", zap.String("path", s.path), zap.String("version", merged.Version))
	return nil
}

func readFile(path string) (Set, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Set{}, fmt.Errorf("stat prompt file: %w", err)
	}
	if info.Size() > maxPromptFileSize {
		return Set{}, fmt.Errorf("prompt file too large: %d bytes (max %d)", info.Size(), maxPromptFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Set{}, fmt.Errorf("read prompt file: %w", err)
	}
	// Truncate-then-write saves show up as an empty file first.
	if len(data) == 0 {
		return Set{}, fmt.Errorf("prompt file %s is empty", path)
	}
	var set Set
	if err := yaml.Unmarshal(data, &set); err != nil {
		return Set{}, fmt.Errorf("parse prompt file %s: %w", path, err)
	}
	return set, nil
}

// Current returns a copy of the active prompt set.
func (s *Store) Current() Set { return *s.current.Load() }

// Planner returns the planning system prompt.
func (s *Store) Planner() string { return s.current.Load().Planner }

// Response returns the response-generation system prompt.
func (s *Store) Response() string { return s.current.Load().Response }

// Summary returns the summarization system prompt.
func (s *Store) Summary() string { return s.current.Load().Summary }

// Diagnose returns the tool-repair system prompt.
func (s *Store) Diagnose() string { return s.current.Load().Diagnose }

// Watch reloads the prompt file whenever it changes until ctx ends or Close
// is called. The parent directory is watched so editor rename-on-save is seen.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}
	s.watcher = w
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(ctx)
	return nil
}

func (s *Store) loop(ctx context.Context) {
	defer close(s.done)
	target := filepath.Clean(s.path)
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if err := s.Reload(); err != nil {
				s.logger.Warn("prompt reload failed, keeping previous prompts", zap.Error(err))
				continue
			}
			select {
			case s.reloaded <- struct{}{}:
			default:
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("prompt watcher error", zap.Error(err))
		}
	}
}

// Reloaded signals after each successful reload triggered by Watch.
func (s *Store) Reloaded() <-chan struct{} { return s.reloaded }

// Close stops watching.
func (s *Store) Close() error {
	if s.watcher == nil {
		return nil
	}
	var err error
	s.stopOnce.Do(func() {
		close(s.stop)
		err = s.watcher.Close()
		<-s.done
	})
	return err
}
