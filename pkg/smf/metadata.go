package smf

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

// Metadata is the descriptive text found in a score.
type Metadata struct {
	Title     string
	Copyright string
	Texts     []string
}

// Metadata collects the title (first track name of the first track), the
// first copyright notice and every text event of the score.
func (s *Score) Metadata() Metadata {
	var md Metadata
	for i, t := range s.Tracks {
		for ev := range t.Events() {
			if ev.Kind != KindMeta {
				continue
			}
			switch ev.MetaType() {
			case MetaTrackName:
				if i == 0 && md.Title == "" {
					md.Title = DecodeText(ev.MetaPayload())
				}
			case MetaCopyright:
				if md.Copyright == "" {
					md.Copyright = DecodeText(ev.MetaPayload())
				}
			case MetaText:
				if txt := DecodeText(ev.MetaPayload()); txt != "" {
					md.Texts = append(md.Texts, txt)
				}
			}
		}
	}
	return md
}

// DecodeText converts meta event text to a Go string. Valid UTF-8 is kept
// as is; otherwise Shift_JIS is tried, then ISO 8859-1.
func DecodeText(b []byte) string {
	if utf8.Valid(b) {
		return strings.TrimRight(string(b), "\x00")
	}
	if s, _, err := transform.Bytes(japanese.ShiftJIS.NewDecoder(), b); err == nil && utf8.Valid(s) && !strings.ContainsRune(string(s), utf8.RuneError) {
		return strings.TrimRight(string(s), "\x00")
	}
	s, _ := charmap.ISO8859_1.NewDecoder().Bytes(b)
	return strings.TrimRight(string(s), "\x00")
}
