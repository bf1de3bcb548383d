package watcher

import (
	"path/filepath"
	"strings"
	"time"
)

// Options configures the watcher.
type Options struct {
	IgnorePatterns []string
	SettleDelay    time.Duration
	IgnoreHidden   bool
}

// setDefaults applies default values to unset options.
func (o *Options) setDefaults() {
	if o.SettleDelay == 0 {
		o.SettleDelay = 100 * time.Millisecond
	}

	// Nil means "use defaults"; an explicit empty slice disables pattern matching.
	if o.IgnorePatterns == nil {
		o.IgnorePatterns = []string{
			"*.tmp.*", // in-progress conversion outputs
			".DS_Store",
			"Thumbs.db",
		}
		o.IgnoreHidden = true
	}
}

// shouldIgnore checks if a path matches ignore patterns.
func (o *Options) shouldIgnore(path string) bool {
	base := filepath.Base(path)

	if o.IgnoreHidden && strings.HasPrefix(base, ".") && base != "." && base != ".." {
		return true
	}

	for _, pattern := range o.IgnorePatterns {
		if matched, err := filepath.Match(pattern, base); err == nil && matched {
			return true
		}
	}
	return false
}
