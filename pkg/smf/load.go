package smf

import (
	"fmt"

	"github.com/zurustar/smfplay/pkg/fileutil"
)

// LoadFile reads path through fsys and decodes it. The size ceiling is
// checked with Stat before anything is read.
func LoadFile(fsys fileutil.FileSystem, path string) (*Score, error) {
	info, err := fsys.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrIO, path, err)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, path, info.Size())
	}
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrIO, path, err)
	}
	score, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return score, nil
}
