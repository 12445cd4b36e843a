/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package mcplogs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
)

// cacheDirName is the directory the agent CLI keeps its caches under.
const cacheDirName = "claude-cli-nodejs"

// ErrNoLogs indicates that no log file exists for the requested workspace
// and server. Callers treat this as absence, not failure.
var ErrNoLogs = errors.New("no MCP logs found")

// Entry is a single record from an MCP server log.
type Entry struct {
	Error     string `json:"error,omitempty"`
	Debug     string `json:"debug,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	CWD       string `json:"cwd,omitempty"`
}

// Logs is the content of the newest log file for a workspace and server.
type Logs struct {
	// Path is the file the entries were read from.
	Path string
	// Entries holds the parsed records.
	Entries []Entry
	// Raw holds the file contents when they could not be parsed as a JSON
	// array; empty otherwise.
	Raw string
}

// Errors returns only the entries carrying an error message.
func (l *Logs) Errors() []Entry {
	var out []Entry
	for _, e := range l.Entries {
		if e.Error != "" {
			out = append(out, e)
		}
	}
	return out
}

// Option configures a Finder.
type Option func(*Finder) error

// WithCacheRoot overrides the platform cache directory, primarily for tests.
func WithCacheRoot(dir string) Option {
	return func(f *Finder) error {
		if dir == "" {
			return errors.New("cache root must not be empty")
		}
		f.cacheRoot = dir
		return nil
	}
}

// Finder reads MCP server logs out of the agent CLI's cache directory.
type Finder struct {
	cacheRoot string
}

// New creates a Finder rooted at the platform cache directory unless
// overridden.
func New(opts ...Option) (*Finder, error) {
	f := &Finder{}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	if f.cacheRoot == "" {
		root, err := defaultCacheRoot()
		if err != nil {
			return nil, err
		}
		f.cacheRoot = root
	}
	return f, nil
}

// defaultCacheRoot resolves the agent CLI's cache directory.
//
// Resolution:
//   - ~/Library/Caches/claude-cli-nodejs on macOS
//   - $XDG_CACHE_HOME/claude-cli-nodejs if set
//   - ~/.cache/claude-cli-nodejs otherwise
func defaultCacheRoot() (string, error) {
	if runtime.GOOS == "darwin" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, "Library", "Caches", cacheDirName), nil
	}
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, cacheDirName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".cache", cacheDirName), nil
}

// SanitizePath flattens a workspace path into the directory key the CLI
// uses: every character outside [A-Za-z0-9] becomes '-'.
func SanitizePath(p string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		}
		return '-'
	}, p)
}

// Lookup returns the newest MCP log for the given workspace and server.
// Files that are not a JSON array of entries are returned as raw text
// rather than rejected, since older CLI versions wrote plain text logs.
func (f *Finder) Lookup(ctx context.Context, workspace, server string) (*Logs, error) {
	log := clog.FromContext(ctx)

	dir := filepath.Join(f.cacheRoot, SanitizePath(workspace), "mcp-logs-"+server)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoLogs, dir)
		}
		return nil, fmt.Errorf("reading log directory: %w", err)
	}

	newest := newestFile(entries)
	if newest == "" {
		return nil, fmt.Errorf("%w: %s is empty", ErrNoLogs, dir)
	}

	path := filepath.Join(dir, newest)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading log file: %w", err)
	}

	logs := &Logs{Path: path}
	if err := json.Unmarshal(data, &logs.Entries); err != nil {
		log.With("path", path).Debugf("MCP log is not a JSON array, returning raw text: %v", err)
		logs.Entries = nil
		logs.Raw = string(data)
	}
	log.With("path", path, "entries", len(logs.Entries)).Debug("Loaded MCP logs")
	return logs, nil
}

// newestFile returns the name of the most recently modified regular file,
// breaking ties by name so the choice is deterministic.
func newestFile(entries []fs.DirEntry) string {
	var (
		name string
		mod  time.Time
	)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		switch {
		case name == "",
			info.ModTime().After(mod),
			info.ModTime().Equal(mod) && e.Name() > name:
			name = e.Name()
			mod = info.ModTime()
		}
	}
	return name
}
