// Command smftool inspects and converts MIDI files.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/zurustar/smfplay/pkg/fileutil"
	"github.com/zurustar/smfplay/pkg/logger"
	"github.com/zurustar/smfplay/pkg/seq"
	"github.com/zurustar/smfplay/pkg/smf"
)

var errUsage = errors.New("usage")

const usage = `smftool - inspect and convert MIDI files

Usage:
  smftool dump <file>                   list every event
  smftool info <file>...                show header, metadata and duration
  smftool convert [-o out.mid] <file>   write an XMI or RMID file as a Standard MIDI File

Options:
  -l, --log-level <level>   debug, info, warn, error (default: warn)
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, args := args[0], args[1:]

	fs := flag.NewFlagSet("smftool "+cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var level, out string
	fs.StringVar(&level, "log-level", "warn", "")
	fs.StringVar(&level, "l", "warn", "")
	if cmd == "convert" {
		fs.StringVar(&out, "o", "", "")
	}
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	if err := logger.InitLoggerWithWriter(level, os.Stderr); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errUsage
	}

	fsys := fileutil.NewRealFS("")
	switch cmd {
	case "dump":
		score, err := load(fsys, fs.Arg(0))
		if err != nil {
			return err
		}
		return smf.Describe(stdout, score)

	case "info":
		for i, path := range fs.Args() {
			if i > 0 {
				fmt.Fprintln(stdout)
			}
			score, err := load(fsys, path)
			if err != nil {
				return err
			}
			writeInfo(stdout, path, score)
		}
		return nil

	case "convert":
		path := fs.Arg(0)
		if out == "" {
			out = strings.TrimSuffix(path, filepath.Ext(path)) + ".mid"
		}
		if out == path {
			return fmt.Errorf("refusing to overwrite %s", path)
		}
		score, err := load(fsys, path)
		if err != nil {
			return err
		}
		data, err := smf.Encode(score)
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, data, 0644); err != nil {
			return err
		}
		logger.GetLogger().Info("Converted", "from", path, "to", out, "bytes", len(data))
		fmt.Fprintf(stdout, "%s -> %s\n", path, out)
		return nil
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

func load(fsys fileutil.FileSystem, path string) (*smf.Score, error) {
	score, err := smf.LoadFile(fsys, path)
	if err != nil {
		return nil, err
	}
	for _, r := range score.Repairs {
		logger.GetLogger().Warn("Decoder repair", "path", path, "track", r.Track, "repair", r.Kind.String())
	}
	return score, nil
}

// initialTempo returns the tempo in effect once every event at time zero
// has been applied.
func initialTempo(score *smf.Score) seq.TempoMap {
	s := seq.New(score)
	for {
		ev, ok := s.Peek()
		if !ok || ev.Time > 0 {
			break
		}
		s.Next()
	}
	return s.Tempo(0)
}

func writeInfo(w io.Writer, path string, score *smf.Score) {
	md := score.Metadata()
	tempo := initialTempo(score)

	fmt.Fprintf(w, "file:      %s\n", path)
	fmt.Fprintf(w, "format:    %d\n", score.Format)
	fmt.Fprintf(w, "tracks:    %d\n", score.TrackCount())
	fmt.Fprintf(w, "division:  %s\n", score.Division)
	fmt.Fprintf(w, "tempo:     %.2f bpm\n", 60e6/float64(tempo.Tempo))
	fmt.Fprintf(w, "duration:  %.3f s\n", seq.Duration(score))
	if md.Title != "" {
		fmt.Fprintf(w, "title:     %s\n", md.Title)
	}
	if md.Copyright != "" {
		fmt.Fprintf(w, "copyright: %s\n", md.Copyright)
	}
	for _, text := range md.Texts {
		fmt.Fprintf(w, "text:      %s\n", text)
	}
	for _, r := range score.Repairs {
		fmt.Fprintf(w, "repair:    track %d: %s\n", r.Track, r.Kind)
	}
}
