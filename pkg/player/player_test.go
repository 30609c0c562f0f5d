package player

import (
	"bytes"
	"math"
	"testing"

	"github.com/zurustar/smfplay/pkg/seq"
	"github.com/zurustar/smfplay/pkg/smf"
)

// testScore is a format 1 score at 96 PPQN and 120 BPM, so one tick lasts
// 1/192 s.
func testScore() *smf.Score {
	conductor := smf.NewTrack(
		smf.TempoEvent(0, 500000),
		smf.EndOfTrack(384),
	)
	music := smf.NewTrack(
		smf.MessageEvent(0, 0xC0, 0x05),
		smf.MessageEvent(0, 0xB0, 0x07, 0x50),
		smf.MessageEvent(0, 0x90, 0x3C, 0x64),
		smf.MessageEvent(96, 0x80, 0x3C, 0x00),
		smf.MessageEvent(0, 0xB0, 0x07, 0x60),
		smf.Event{Kind: smf.KindEscape, Data: []byte{0xF0, 0x7E, 0x7F, 0x09, 0x01, 0xF7}},
		smf.MessageEvent(96, 0xE0, 0x00, 0x50),
		smf.MessageEvent(0, 0x90, 0x40, 0x64),
		smf.MessageEvent(96, 0x80, 0x40, 0x00),
		smf.EndOfTrack(0),
	)
	return &smf.Score{Format: 1, Division: 96, Tracks: []*smf.Track{conductor, music}}
}

type recorder struct {
	events []seq.Event
}

func (r *recorder) add(ev seq.Event) {
	ev.Event.Data = append([]byte(nil), ev.Event.Data...)
	r.events = append(r.events, ev)
}

func (r *recorder) messages() [][]byte {
	var out [][]byte
	for _, ev := range r.events {
		if ev.Event.Kind != smf.KindMeta {
			out = append(out, ev.Event.Data)
		}
	}
	return out
}

func TestTick(t *testing.T) {
	p := New(testScore())
	var rec recorder
	p.OnEvent(rec.add)

	p.Tick(1)
	if len(rec.events) != 0 {
		t.Fatal("stopped player delivered events")
	}

	p.Start()
	p.Tick(0)
	if got := len(rec.messages()); got != 3 {
		t.Fatalf("expected 3 messages at time 0, got %d", got)
	}

	p.Tick(0.4)
	if got := len(rec.messages()); got != 3 {
		t.Errorf("expected no new messages before 0.5s, got %d", got)
	}
	p.Tick(0.1)
	if got := len(rec.messages()); got != 6 {
		t.Errorf("expected 6 messages at 0.5s, got %d", got)
	}
	if math.Abs(p.Position()-0.5) > 1e-12 {
		t.Errorf("Position = %v", p.Position())
	}
}

func TestSpeed(t *testing.T) {
	p := New(testScore())
	p.SetSpeed(2)
	p.Start()
	p.Tick(0.25)
	if p.Position() != 0.5 {
		t.Errorf("Position = %v, want 0.5", p.Position())
	}

	tests := []struct {
		in, want float64
	}{
		{0, MinSpeed},
		{-3, MinSpeed},
		{100, MaxSpeed},
		{1.5, 1.5},
	}
	for _, tt := range tests {
		p.SetSpeed(tt.in)
		if p.Speed() != tt.want {
			t.Errorf("SetSpeed(%v): Speed() = %v, want %v", tt.in, p.Speed(), tt.want)
		}
	}
	p.SetSpeed(math.NaN())
	if p.Speed() != 1.5 {
		t.Errorf("NaN changed speed to %v", p.Speed())
	}
}

func TestFinish(t *testing.T) {
	p := New(testScore())
	if p.Duration() != 2 {
		t.Fatalf("Duration = %v, want 2", p.Duration())
	}
	finished := 0
	p.OnFinish(func() { finished++ })

	p.Start()
	p.Tick(1.9)
	if p.Finished() || !p.Running() {
		t.Fatal("finished early")
	}
	p.Tick(0.2)
	if !p.Finished() || p.Running() {
		t.Fatal("expected finished and stopped")
	}
	p.Start()
	p.Tick(1)
	if finished != 1 {
		t.Errorf("OnFinish fired %d times", finished)
	}

	p.Rewind()
	if p.Finished() || p.Position() != 0 {
		t.Error("Rewind did not reset the transport")
	}
}

func TestGotoTime(t *testing.T) {
	p := New(testScore())
	var rec recorder
	p.OnEvent(rec.add)
	p.Start()

	p.GotoTime(0.75)
	if p.Running() {
		t.Error("GotoTime left the clock running")
	}
	if p.Position() != 0.75 {
		t.Errorf("Position = %v", p.Position())
	}
	want := [][]byte{
		{0xB0, 0x07, 0x60},
		{0xC0, 0x05},
		{0xF0, 0x7E, 0x7F, 0x09, 0x01, 0xF7},
	}
	got := rec.messages()
	if len(got) != len(want) {
		t.Fatalf("expected %d messages, got % X", len(want), got)
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Errorf("message %d: expected % X, got % X", i, want[i], got[i])
		}
	}
	for _, ev := range rec.events {
		if ev.Track != seq.NoTrack || ev.Time != 0.75 {
			t.Errorf("synthetic event has track %d time %v", ev.Track, ev.Time)
		}
	}

	rec.events = nil
	p.Start()
	p.Tick(0.25)
	got = rec.messages()
	if len(got) != 2 || !bytes.Equal(got[0], []byte{0xE0, 0x00, 0x50}) {
		t.Errorf("unexpected messages after seek: % X", got)
	}
	for _, ev := range rec.events {
		if ev.Track == seq.NoTrack {
			t.Error("live event marked as synthetic")
		}
	}
}

func TestGotoTimeZeroRewinds(t *testing.T) {
	p := New(testScore())
	var rec recorder
	p.OnEvent(rec.add)
	p.Start()
	p.Tick(1)
	rec.events = nil

	p.GotoTime(0)
	if len(rec.events) != 0 {
		t.Errorf("rewind delivered % X", rec.messages())
	}
	if p.Position() != 0 {
		t.Errorf("Position = %v", p.Position())
	}
}
