package smf

import (
	"bytes"
	"testing"

	midi "gitlab.com/gomidi/midi/v2"
	gmsmf "gitlab.com/gomidi/midi/v2/smf"
)

// gomidiFile writes a two-track file with an independent SMF writer.
func gomidiFile(t *testing.T) []byte {
	t.Helper()
	s := gmsmf.New()
	s.TimeFormat = gmsmf.MetricTicks(480)

	var conductor gmsmf.Track
	conductor.Add(0, gmsmf.Message([]byte{0xFF, 0x03, 0x04, 'S', 'o', 'n', 'g'}))
	conductor.Add(0, gmsmf.Message([]byte{0xFF, 0x51, 0x03, 0x07, 0xA1, 0x20}))
	conductor.Add(960, gmsmf.Message([]byte{0xFF, 0x51, 0x03, 0x03, 0xD0, 0x90}))
	conductor.Close(0)

	var piano gmsmf.Track
	piano.Add(0, midi.ProgramChange(0, 5))
	piano.Add(0, midi.NoteOn(0, 60, 100))
	piano.Add(480, midi.NoteOff(0, 60))
	piano.Add(0, midi.NoteOn(0, 62, 100))
	piano.Add(480, midi.NoteOff(0, 62))
	piano.Close(0)

	if err := s.Add(conductor); err != nil {
		t.Fatalf("gomidi Add: %v", err)
	}
	if err := s.Add(piano); err != nil {
		t.Fatalf("gomidi Add: %v", err)
	}
	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		t.Fatalf("gomidi WriteTo: %v", err)
	}
	return buf.Bytes()
}

func isNoteOff(data []byte, key byte) bool {
	if len(data) != 3 || data[1] != key {
		return false
	}
	return data[0]&0xF0 == 0x80 || (data[0]&0xF0 == 0x90 && data[2] == 0)
}

func TestDecodeGomidiFixture(t *testing.T) {
	s, err := Decode(gomidiFile(t))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if s.Format != 1 || s.TrackCount() != 2 || s.Division.TicksPerQuarter() != 480 {
		t.Fatalf("format=%d tracks=%d division=%v", s.Format, s.TrackCount(), s.Division)
	}
	if len(s.Repairs) != 0 {
		t.Errorf("expected a clean decode, got repairs %v", s.Repairs)
	}
	if md := s.Metadata(); md.Title != "Song" {
		t.Errorf("expected title Song, got %q", md.Title)
	}

	var tempos []uint32
	for ev := range s.Tracks[0].Events() {
		if tempo, ok := ev.Tempo(); ok {
			tempos = append(tempos, tempo)
		}
	}
	if len(tempos) != 2 || tempos[0] != 500000 || tempos[1] != 250000 {
		t.Errorf("unexpected tempos %v", tempos)
	}

	var msgs []Event
	var ticks []uint64
	var tick uint64
	for ev := range s.Tracks[1].Events() {
		tick += uint64(ev.Delta)
		if ev.Kind == KindMessage {
			msgs = append(msgs, ev)
			ticks = append(ticks, tick)
		}
	}
	if len(msgs) != 5 {
		t.Fatalf("expected 5 channel messages, got %d", len(msgs))
	}
	if !bytes.Equal(msgs[0].Data, []byte{0xC0, 0x05}) || !bytes.Equal(msgs[1].Data, []byte{0x90, 60, 100}) {
		t.Errorf("unexpected leading messages % X, % X", msgs[0].Data, msgs[1].Data)
	}
	if !isNoteOff(msgs[2].Data, 60) || !isNoteOff(msgs[4].Data, 62) {
		t.Errorf("unexpected note-offs % X, % X", msgs[2].Data, msgs[4].Data)
	}
	if ticks[2] != 480 || ticks[3] != 480 || ticks[4] != 960 {
		t.Errorf("unexpected ticks %v", ticks)
	}
	if last, ok := s.Tracks[1].Last(); !ok || !last.IsMeta(MetaEndOfTrack) {
		t.Errorf("track does not end with end-of-track: %v", last)
	}
}

func TestEncodeReadableByGomidi(t *testing.T) {
	s, err := Decode(gomidiFile(t))
	if err != nil {
		t.Fatal(err)
	}
	data, err := Encode(s)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	back, err := gmsmf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("gomidi ReadFrom: %v", err)
	}
	if len(back.Tracks) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(back.Tracks))
	}
	mt, ok := back.TimeFormat.(gmsmf.MetricTicks)
	if !ok || mt.Resolution() != 480 {
		t.Errorf("unexpected time format %v", back.TimeFormat)
	}
	notes := 0
	for _, ev := range back.Tracks[1] {
		var ch, key, vel uint8
		if ev.Message.GetNoteStart(&ch, &key, &vel) {
			notes++
		}
	}
	if notes != 2 {
		t.Errorf("expected 2 note starts, got %d", notes)
	}
}
