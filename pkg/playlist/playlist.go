// Package playlist provides ordered and shuffled cursors over song paths.
package playlist

import (
	"errors"
	"math/rand"

	"github.com/zurustar/smfplay/pkg/fileutil"
)

// ErrEmpty is returned when a playlist would contain no songs.
var ErrEmpty = errors.New("playlist is empty")

// Playlist is a cursor over song paths.
type Playlist interface {
	// Current returns the song under the cursor. It reports false past the
	// end.
	Current() (string, bool)
	// GoNext moves forward. Moving past the last song leaves the cursor at
	// the end and reports false.
	GoNext() bool
	// GoPrevious moves back, reporting false at the first song.
	GoPrevious() bool
	AtEnd() bool
	Len() int
	// Rewind moves the cursor to the first song.
	Rewind()
}

// Linear plays songs in the given order.
type Linear struct {
	paths []string
	pos   int
}

// NewLinear returns a playlist of paths.
func NewLinear(paths []string) *Linear {
	return &Linear{paths: append([]string(nil), paths...)}
}

func (l *Linear) Current() (string, bool) {
	if l.pos >= len(l.paths) {
		return "", false
	}
	return l.paths[l.pos], true
}

func (l *Linear) GoNext() bool {
	if l.pos >= len(l.paths) {
		return false
	}
	l.pos++
	return l.pos < len(l.paths)
}

func (l *Linear) GoPrevious() bool {
	if l.pos == 0 {
		return false
	}
	l.pos = min(l.pos, len(l.paths)) - 1
	return true
}

func (l *Linear) AtEnd() bool { return l.pos >= len(l.paths) }
func (l *Linear) Len() int    { return len(l.paths) }
func (l *Linear) Rewind()     { l.pos = 0 }

// Paths returns the songs in play order.
func (l *Linear) Paths() []string { return append([]string(nil), l.paths...) }

// Shuffled plays songs in a random order drawn from seed. Rewind draws a new
// order.
type Shuffled struct {
	Linear
	rng *rand.Rand
}

// NewShuffled returns a shuffled playlist of paths.
func NewShuffled(paths []string, seed int64) *Shuffled {
	s := &Shuffled{Linear: *NewLinear(paths), rng: rand.New(rand.NewSource(seed))}
	s.shuffle()
	return s
}

func (s *Shuffled) shuffle() {
	s.rng.Shuffle(len(s.paths), func(i, j int) {
		s.paths[i], s.paths[j] = s.paths[j], s.paths[i]
	})
}

func (s *Shuffled) Rewind() {
	s.Linear.Rewind()
	s.shuffle()
}

// FromArgs builds the song list from command line arguments. Directories are
// scanned recursively for MIDI files; other arguments are taken as files.
// Returned paths are relative to the base of fsys.
func FromArgs(fsys fileutil.FileSystem, args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := fsys.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		files, err := fileutil.ScanMIDIFiles(fsys, arg)
		if err != nil {
			return nil, err
		}
		paths = append(paths, files...)
	}
	if len(paths) == 0 {
		return nil, ErrEmpty
	}
	return paths, nil
}
