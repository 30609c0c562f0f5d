package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/zurustar/smfplay/pkg/cli"
	"github.com/zurustar/smfplay/pkg/fileutil"
	"github.com/zurustar/smfplay/pkg/instrument"
)

// SoundFontLocation represents the location of a SoundFont file.
type SoundFontLocation struct {
	// Path is the path to the SoundFont file within FileSystem
	Path string
	// FileSystem is the FileSystem to use for loading
	FileSystem fileutil.FileSystem
	// Explicit indicates whether the path came from --soundfont or SOUNDFONT
	Explicit bool
}

// DefaultSoundFontName is the default SoundFont filename to search for.
const DefaultSoundFontName = "GeneralUser-GS.sf2"

// findSoundFont searches for a SoundFont file in the following order:
// 1. Explicit path (flag or environment)
// 2. Current directory
// 3. Each search directory, in order (song directories, then the user config directory)
//
// Names are matched case-insensitively, so GENERALUSER-GS.SF2 copied from
// a FAT volume is found as well.
//
// Returns nil if no SoundFont is found.
func findSoundFont(fsys fileutil.FileSystem, explicit string, dirs []string) *SoundFontLocation {
	// 1. 明示的に指定されたファイル（存在しなければ読み込み時にエラー）
	if explicit != "" {
		return &SoundFontLocation{Path: explicit, FileSystem: fsys, Explicit: true}
	}

	// 2. カレントディレクトリ
	// 3. 曲のディレクトリと設定ディレクトリ
	for _, dir := range append([]string{"."}, dirs...) {
		if dir == "" {
			continue
		}
		if path, err := fsys.FindFile(dir, DefaultSoundFontName); err == nil {
			return &SoundFontLocation{Path: path, FileSystem: fsys}
		}
	}

	return nil
}

// soundFontDirs returns the directories searched for the default SoundFont
// besides the current directory.
func soundFontDirs(fsys fileutil.FileSystem, paths []string) []string {
	var dirs []string
	for _, p := range paths {
		if info, err := fsys.Stat(p); err == nil && info.IsDir() {
			dirs = append(dirs, p)
		} else {
			dirs = append(dirs, filepath.Dir(p))
		}
	}
	if config, err := os.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(config, "smfplay"))
	}
	return dirs
}

// synthOption is one MeltySynth setting taken from the command line.
type synthOption struct {
	name, value string
}

// synthOptions converts the synthesizer flags into MeltySynth options.
// Settings left at their defaults are omitted.
func synthOptions(cfg *cli.Config) []synthOption {
	var opts []synthOption
	if cfg.Gain != 1 {
		opts = append(opts, synthOption{"gain", strconv.FormatFloat(cfg.Gain, 'g', -1, 64)})
	}
	if cfg.Polyphony > 0 {
		opts = append(opts, synthOption{"polyphony", strconv.Itoa(cfg.Polyphony)})
	}
	return opts
}

// configureSynth applies opts to m. It must run before m is activated, since
// polyphony only takes effect on Activate.
func configureSynth(m *instrument.MeltySynth, opts []synthOption) error {
	for _, o := range opts {
		if err := m.SetOption(o.name, o.value); err != nil {
			return err
		}
	}
	return nil
}

// loadSoundFont reads and parses the SoundFont at loc and returns a factory
// for synth outputs configured with opts.
func loadSoundFont(loc *SoundFontLocation, opts []synthOption) (func() (instrument.Output, error), error) {
	if err := configureSynth(instrument.NewMeltySynth(nil), opts); err != nil {
		return nil, err
	}
	data, err := loc.FileSystem.ReadFile(loc.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read SoundFont: %w", err)
	}
	sf, err := instrument.LoadSoundFont(data)
	if err != nil {
		return nil, err
	}

	return func() (instrument.Output, error) {
		synth := instrument.NewMeltySynth(sf)
		if err := configureSynth(synth, opts); err != nil {
			return nil, err
		}
		out, err := instrument.NewSynthInstrument(synth, instrument.AudioContext())
		if err != nil {
			return nil, err
		}
		return out, nil
	}, nil
}
