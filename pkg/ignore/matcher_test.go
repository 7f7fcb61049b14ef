package ignore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldIgnore(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		path     string
		ignored  bool
	}{
		{name: "simple wildcard match", patterns: []string{"*.tmp"}, path: "scratch.tmp", ignored: true},
		{name: "wildcard in subdirectory", patterns: []string{"*.tmp"}, path: "songs/scratch.tmp", ignored: true},
		{name: "no match", patterns: []string{"*.tmp"}, path: "notes.txt", ignored: false},
		{name: "question mark", patterns: []string{"rev?.txt"}, path: "rev1.txt", ignored: true},
		{name: "character class", patterns: []string{"rev[0-9].txt"}, path: "rev7.txt", ignored: true},
		{name: "character class miss", patterns: []string{"rev[0-9].txt"}, path: "revX.txt", ignored: false},
		{name: "component name anywhere", patterns: []string{"backups"}, path: "songs/backups/old.pro", ignored: true},
		{name: "anchored path", patterns: []string{"songs/*.pro"}, path: "songs/hymn.pro", ignored: true},
		{name: "anchored path wrong dir", patterns: []string{"songs/*.pro"}, path: "slides/hymn.pro", ignored: false},
		{name: "anchored prefix covers subtree", patterns: []string{"songs/old"}, path: "songs/old/hymn.pro", ignored: true},
		{name: "blank and comment lines skipped", patterns: []string{"", "# temp files", "*.tmp"}, path: "a.tmp", ignored: true},
		{name: "negation wins when last", patterns: []string{"*.tmp", "!keep.tmp"}, path: "keep.tmp", ignored: false},
		{name: "negation only for its match", patterns: []string{"*.tmp", "!keep.tmp"}, path: "other.tmp", ignored: true},
		{name: "later ignore overrides negation", patterns: []string{"!keep.tmp", "*.tmp"}, path: "keep.tmp", ignored: true},
		{name: "directory pattern matches contents", patterns: []string{"cache/"}, path: "cache/blob.bin", ignored: true},
		{name: "directory pattern spares same-named file", patterns: []string{"cache/"}, path: "cache", ignored: false},
		{name: "directory pattern nested", patterns: []string{"cache/"}, path: "songs/cache/blob.bin", ignored: true},
		{name: "no patterns", patterns: nil, path: "anything.txt", ignored: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMatcher(tt.patterns)
			assert.Equal(t, tt.ignored, m.ShouldIgnore(tt.path))
		})
	}
}

func TestFilter(t *testing.T) {
	m := NewMatcher([]string{"*.tmp", "secrets/"})
	paths := []string{
		"notes.txt",
		"scratch.tmp",
		"secrets/key.pem",
		"songs/hymn.pro",
	}
	assert.Equal(t, []string{"notes.txt", "songs/hymn.pro"}, m.Filter(paths))
}

func TestWindowsSeparatorsNormalized(t *testing.T) {
	m := NewMatcher([]string{"songs/*.pro"})
	assert.True(t, m.ShouldIgnore("songs\\hymn.pro"))
}
