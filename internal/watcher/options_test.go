package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOptions_Defaults(t *testing.T) {
	opts := Options{}
	opts.setDefaults()

	assert.True(t, opts.IgnoreHidden, "Should ignore hidden files by default")
	assert.Equal(t, 100*time.Millisecond, opts.SettleDelay)
	assert.Contains(t, opts.IgnorePatterns, "*.tmp.*", "Should ignore in-progress outputs by default")
}

func TestOptions_CustomValues(t *testing.T) {
	opts := Options{
		IgnoreHidden:   false,
		SettleDelay:    200 * time.Millisecond,
		IgnorePatterns: []string{"*.bak"},
	}
	opts.setDefaults()

	assert.False(t, opts.IgnoreHidden, "Custom ignore hidden should be preserved")
	assert.Equal(t, 200*time.Millisecond, opts.SettleDelay)
	assert.Equal(t, []string{"*.bak"}, opts.IgnorePatterns)
}

func TestOptions_ShouldIgnore(t *testing.T) {
	opts := Options{}
	opts.setDefaults()

	tests := []struct {
		name   string
		path   string
		expect bool
	}{
		{"temp output", "/cache/42.0f8e2c1a-7b1d.tmp.mp4", true},
		{"hidden file", "/cache/.hidden", true},
		{"DS_Store", "/cache/.DS_Store", true},
		{"final output", "/cache/42.mp4", false},
		{"hidden parent is not checked", "/home/.config/cache/42.mp4", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, opts.shouldIgnore(tt.path))
		})
	}
}

func TestOptions_ShouldIgnore_NoIgnoreHidden(t *testing.T) {
	opts := Options{IgnorePatterns: []string{}}
	opts.setDefaults()

	assert.False(t, opts.shouldIgnore("/cache/.hidden"))
	assert.False(t, opts.shouldIgnore("/cache/1.tmp.mp4"))
}
