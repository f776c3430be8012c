package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// FileSignal feeds a Monitor from a status file maintained by the platform
// (for example a network-manager hook). The file holds a single word:
// "online" or "offline". A missing file means offline.
//
// The parent directory is watched rather than the file itself so that
// atomic replace-by-rename updates are seen.
type FileSignal struct {
	path    string
	monitor *Monitor
	logger  *slog.Logger
}

// NewFileSignal creates a signal source for path feeding m.
func NewFileSignal(path string, m *Monitor, logger *slog.Logger) *FileSignal {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSignal{path: path, monitor: m, logger: logger}
}

// ParseStatus interprets the status file body.
func ParseStatus(body string) (reachable bool, err error) {
	switch strings.ToLower(strings.TrimSpace(body)) {
	case "online", "up", "1", "true":
		return true, nil
	case "offline", "down", "0", "false", "":
		return false, nil
	default:
		return false, fmt.Errorf("unrecognized connectivity status %q", strings.TrimSpace(body))
	}
}

// Poll reads the file once and feeds the result to the monitor.
func (s *FileSignal) Poll() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.monitor.Observe(false)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read connectivity status: %w", err)
	}
	reachable, err := ParseStatus(string(data))
	if err != nil {
		return err
	}
	s.monitor.Observe(reachable)
	return nil
}

// Run polls once, then watches the file until ctx is cancelled.
// Read errors are logged and watching continues.
func (s *FileSignal) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	if err := s.Poll(); err != nil {
		s.logger.Warn("connectivity status unreadable", "path", s.path, "error", err)
	}

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := s.Poll(); err != nil {
				s.logger.Warn("connectivity status unreadable", "path", s.path, "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("connectivity watcher error", "error", err)
		}
	}
}
