package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Discovered is a session advertised by a file in the discovery directory.
type Discovered struct {
	Config
	Path string `json:"path"`
}

// Scan reads session files (*.json, *.session) from dir. A missing
// directory yields no sessions; unreadable or malformed files are skipped.
func Scan(dir, defaultHost string) ([]Discovered, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read discovery dir: %w", err)
	}

	var found []Discovered
	for _, entry := range entries {
		if entry.IsDir() || !isSessionFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var legacy struct {
			Name string `json:"name"`
			Port int    `json:"port"`
		}
		if err := json.Unmarshal(data, &legacy); err != nil || legacy.Name == "" || legacy.Port <= 0 {
			continue
		}
		found = append(found, Discovered{
			Config: Config{Name: legacy.Name, Host: defaultHost, Port: legacy.Port},
			Path:   path,
		})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Name < found[j].Name })
	return found, nil
}

func isSessionFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".json" || ext == ".session"
}

// Diagnostics returns a human-readable report about the discovery directory.
func Diagnostics(dir string) string {
	var b strings.Builder
	info, err := os.Stat(dir)
	fmt.Fprintf(&b, "Temp Dir: %s\nSession Dir: %s\nExists: %t\n", os.TempDir(), dir, err == nil && info.IsDir())

	entries, err := os.ReadDir(dir)
	if err != nil {
		b.WriteString("Could not read directory (Permission/IO Error)\n")
		return b.String()
	}
	b.WriteString("Files found:\n")
	for _, e := range entries {
		fmt.Fprintf(&b, " - %s\n", e.Name())
	}
	return b.String()
}

// Watch rescans dir whenever a session file changes and calls onChange with
// the result. It blocks until ctx is done.
func Watch(ctx context.Context, dir, defaultHost string, logger *slog.Logger, onChange func([]Discovered)) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create discovery dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	// Editors write in bursts; rescan once things settle.
	const settle = 200 * time.Millisecond
	timer := time.NewTimer(settle)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if isSessionFile(ev.Name) {
				timer.Reset(settle)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("discovery watcher error", "error", err)
		case <-timer.C:
			found, err := Scan(dir, defaultHost)
			if err != nil {
				logger.Warn("discovery scan failed", "error", err)
				continue
			}
			onChange(found)
		}
	}
}
