// Package fileutil provides case-insensitive file lookup and directory
// scanning over real and fs.FS backed file systems.
package fileutil

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
)

// midiExtensions lists the file extensions the player recognizes.
var midiExtensions = []string{".mid", ".midi", ".smf", ".kar", ".rmi", ".xmi"}

// FindFileCaseInsensitive searches dir for filename ignoring case.
// Song collections copied from DOS and Windows media rarely agree with the
// case used in playlists, so an exact match is not required.
//
// Example:
//
//	path, err := FindFileCaseInsensitive("/music", "CANYON.MID")
//	// finds "canyon.mid", "Canyon.Mid", ...
func FindFileCaseInsensitive(dir, filename string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	if name, ok := matchEntry(entries, filename); ok {
		return filepath.Join(dir, name), nil
	}
	return "", fmt.Errorf("file not found: %s (searched in %s): %w", filename, dir, fs.ErrNotExist)
}

// FindFileCaseInsensitiveFS is FindFileCaseInsensitive for an fs.FS.
// The returned path uses forward slashes.
func FindFileCaseInsensitiveFS(fsys fs.FS, dir, filename string) (string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return "", fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	if name, ok := matchEntry(entries, filename); ok {
		return path.Join(dir, name), nil
	}
	return "", fmt.Errorf("file not found: %s (searched in %s): %w", filename, dir, fs.ErrNotExist)
}

func matchEntry(entries []fs.DirEntry, filename string) (string, bool) {
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(entry.Name(), filename) {
			return entry.Name(), true
		}
	}
	return "", false
}

// IsMIDIFile reports whether name has a MIDI-like extension.
func IsMIDIFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return slices.Contains(midiExtensions, ext)
}

// ScanMIDIFiles walks root and returns the MIDI files found, sorted by path.
// Unreadable subdirectories are skipped.
func ScanMIDIFiles(fsys FileSystem, root string) ([]string, error) {
	var files []string
	err := WalkDir(fsys, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && p != root {
				return fs.SkipDir
			}
			return err
		}
		if !d.IsDir() && IsMIDIFile(d.Name()) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	slices.Sort(files)
	return files, nil
}
