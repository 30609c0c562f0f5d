package smf

import (
	"encoding/binary"
	"errors"
	"strings"
	"testing"
)

// iff builds a padded IFF chunk.
func iff(id string, body ...[]byte) []byte {
	b := join(body...)
	out := append([]byte(id), binary.BigEndian.AppendUint32(nil, uint32(len(b)))...)
	out = append(out, b...)
	if len(b)%2 == 1 {
		out = append(out, 0)
	}
	return out
}

func xmiFile(forms ...[]byte) []byte {
	info := iff("INFO", []byte{byte(len(forms)), 0})
	return join(
		iff("FORM", []byte("XDIR"), info),
		iff("CAT ", append([]byte("XMID"), join(forms...)...)),
	)
}

func testXMIForm() []byte {
	evnt := []byte{
		0xFF, 0x51, 0x03, 0x0F, 0x42, 0x40, // tempo 1000000
		0x90, 0x3C, 0x64, 0x20, // note on, 32 ticks
		0x10,                   // delay 16
		0x91, 0x40, 0x50, 0x05, // note on, 5 ticks
		0x20, 0x10, // delay 16+32
		0xFF, 0x2F, 0x00,
	}
	timb := []byte{0x01, 0x00, 0x10, 0x00}
	rbrn := []byte{0x01, 0x00, 0x07, 0x00, 0x00, 0x00, 0x00, 0x00}
	return iff("FORM", []byte("XMID"), iff("TIMB", timb), iff("RBRN", rbrn), iff("EVNT", evnt))
}

func TestDecodeXMI(t *testing.T) {
	s, err := Decode(xmiFile(testXMIForm()))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if s.Format != 2 || s.TrackCount() != 1 {
		t.Fatalf("format=%d tracks=%d", s.Format, s.TrackCount())
	}
	if got := s.Division.TicksPerQuarter(); got != 120 {
		t.Errorf("expected 120 ticks per quarter, got %d", got)
	}
	assertEvents(t, events(s.Tracks[0]), []Event{
		{Kind: KindXMITimbre, Data: []byte{0x10, 0x00}},
		{Kind: KindXMIBranch, Data: []byte{0x07, 0x00}},
		TempoEvent(0, 1000000),
		MessageEvent(0, 0x90, 0x3C, 0x64),
		MessageEvent(16, 0x91, 0x40, 0x50),
		MessageEvent(5, 0x81, 0x40, 0x00),
		MessageEvent(11, 0x80, 0x3C, 0x00),
		EndOfTrack(32),
	})
}

func TestDecodeXMINoteOffOrdering(t *testing.T) {
	// Note-offs due before a later event are emitted ahead of it, and a
	// note-off at the same tick as a new note-on comes first.
	evnt := []byte{
		0x90, 0x3C, 0x64, 0x10, // off at 16
		0x90, 0x3E, 0x64, 0x08, // off at 8
		0x10,                   // t=16
		0x90, 0x3C, 0x64, 0x01, // retrigger at 16, off at 17
		0xFF, 0x2F, 0x00,
	}
	s, err := DecodeXMI(iff("FORM", []byte("XMID"), iff("EVNT", evnt)))
	if err != nil {
		t.Fatalf("DecodeXMI failed: %v", err)
	}
	assertEvents(t, events(s.Tracks[0]), []Event{
		MessageEvent(0, 0x90, 0x3C, 0x64),
		MessageEvent(0, 0x90, 0x3E, 0x64),
		MessageEvent(8, 0x80, 0x3E, 0x00),
		MessageEvent(8, 0x80, 0x3C, 0x00),
		MessageEvent(0, 0x90, 0x3C, 0x64),
		MessageEvent(1, 0x80, 0x3C, 0x00),
		EndOfTrack(0),
	})
	if s.Division.TicksPerQuarter() != 60 {
		t.Errorf("default division: expected 60, got %d", s.Division.TicksPerQuarter())
	}
}

func TestDecodeXMIWideBranchID(t *testing.T) {
	rbrn := []byte{0x01, 0x00, 0x23, 0x01, 0x02, 0x00, 0x00, 0x00}
	evnt := []byte{0xC0, 0x05, 0xFF, 0x2F, 0x00}
	s, err := DecodeXMI(iff("FORM", []byte("XMID"), iff("RBRN", rbrn), iff("EVNT", evnt)))
	if err != nil {
		t.Fatalf("DecodeXMI failed: %v", err)
	}
	evs := events(s.Tracks[0])
	assertEvents(t, evs, []Event{
		MessageEvent(0, 0xC0, 0x05),
		{Kind: KindXMIBranch, Data: []byte{0x23, 0x01}},
		EndOfTrack(0),
	})
	if id, ok := evs[1].BranchID(); !ok || id != 0x0123 {
		t.Errorf("BranchID() = %#x, %v", id, ok)
	}
	if !strings.Contains(DescribeEvent(evs[1]), "id=291") {
		t.Errorf("DescribeEvent = %q", DescribeEvent(evs[1]))
	}
}

func TestDecodeXMIMultipleSequences(t *testing.T) {
	second := iff("FORM", []byte("XMID"), iff("EVNT", []byte{0xC0, 0x05, 0xFF, 0x2F, 0x00}))
	s, err := Decode(xmiFile(testXMIForm(), second))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if s.TrackCount() != 2 {
		t.Fatalf("expected 2 tracks, got %d", s.TrackCount())
	}
	assertEvents(t, events(s.Tracks[1]), []Event{MessageEvent(0, 0xC0, 0x05), EndOfTrack(0)})
}

func TestDecodeXMIErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{name: "truncated", data: []byte("FORM\x00\x00"), wantErr: ErrEOF},
		{name: "directory only", data: iff("FORM", []byte("XDIR"), iff("INFO", []byte{0, 0})), wantErr: ErrFormat},
		{name: "sequence without events", data: iff("FORM", []byte("XMID"), iff("TIMB", []byte{0, 0})), wantErr: ErrFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.data); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}
