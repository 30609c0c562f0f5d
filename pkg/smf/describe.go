package smf

import (
	"fmt"
	"io"
	"strings"

	gomidi "gitlab.com/gomidi/midi/v2"
)

var metaNames = map[byte]string{
	MetaSequenceNumber: "sequence-number",
	MetaText:           "text",
	MetaCopyright:      "copyright",
	MetaTrackName:      "track-name",
	MetaInstrument:     "instrument",
	MetaLyric:          "lyric",
	MetaMarker:         "marker",
	MetaCuePoint:       "cue-point",
	MetaChannelPrefix:  "channel-prefix",
	MetaPort:           "port",
	MetaEndOfTrack:     "end-of-track",
	MetaTempo:          "tempo",
	MetaSMPTEOffset:    "smpte-offset",
	MetaTimeSignature:  "time-signature",
	MetaKeySignature:   "key-signature",
	MetaSequencer:      "sequencer-specific",
}

// DescribeEvent formats a single event without its timing.
func DescribeEvent(ev Event) string {
	switch ev.Kind {
	case KindMessage:
		if len(ev.Data) == 0 {
			return "message (empty)"
		}
		return gomidi.Message(ev.Data).String()
	case KindMeta:
		name, ok := metaNames[ev.MetaType()]
		if !ok {
			name = fmt.Sprintf("meta-%02X", ev.MetaType())
		}
		payload := ev.MetaPayload()
		switch t := ev.MetaType(); {
		case t >= MetaText && t <= MetaCuePoint:
			return fmt.Sprintf("%-16s %q", name, DecodeText(payload))
		case t == MetaTempo:
			us, _ := ev.Tempo()
			return fmt.Sprintf("%-16s %d us/qn (%.2f bpm)", name, us, 60e6/float64(max(us, 1)))
		}
		return fmt.Sprintf("%-16s % X", name, payload)
	case KindEscape:
		if len(ev.Data) > 0 && ev.Data[0] == 0xF0 {
			return fmt.Sprintf("%-16s % X", "sysex", ev.Data)
		}
		return fmt.Sprintf("%-16s % X", "escape", ev.Data)
	case KindXMITimbre:
		if len(ev.Data) == 2 {
			return fmt.Sprintf("%-16s patch=%d bank=%d", "xmi-timbre", ev.Data[0], ev.Data[1])
		}
	case KindXMIBranch:
		if id, ok := ev.BranchID(); ok {
			return fmt.Sprintf("%-16s id=%d", "xmi-branch", id)
		}
	}
	return fmt.Sprintf("%-16s % X", ev.Kind, ev.Data)
}

// Describe writes a human readable listing of s: the header, the repairs
// applied by the decoder and every event with its absolute tick.
func Describe(w io.Writer, s *Score) error {
	var b strings.Builder
	fmt.Fprintf(&b, "format %d, %d track(s), %s\n", s.Format, len(s.Tracks), s.Division)
	for _, r := range s.Repairs {
		fmt.Fprintf(&b, "repair: track %d: %s\n", r.Track, r.Kind)
	}
	for i, t := range s.Tracks {
		fmt.Fprintf(&b, "track %d: %d event(s), %d byte(s)\n", i, t.Len(), t.Size())
		var tick uint64
		for ev := range t.Events() {
			tick += uint64(ev.Delta)
			fmt.Fprintf(&b, "%10d  %s\n", tick, DescribeEvent(ev))
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
