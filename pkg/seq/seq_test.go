package seq

import (
	"math"
	"testing"

	"github.com/zurustar/smfplay/pkg/smf"
)

func noteOn(delta uint32, key byte) smf.Event { return smf.MessageEvent(delta, 0x90, key, 0x64) }

func collect(s *Sequencer) []Event {
	var out []Event
	for {
		ev, ok := s.Next()
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}

func TestSequencerConcreteScenario(t *testing.T) {
	// PPQN 480 at 500000 us/qn: tick 480 is 480 * 0.5 / 480 = 0.5 s.
	score := &smf.Score{Format: 1, Division: 480, Tracks: []*smf.Track{
		smf.NewTrack(smf.TempoEvent(0, 500000), smf.EndOfTrack(0)),
		smf.NewTrack(noteOn(480, 60), smf.EndOfTrack(0)),
	}}
	for _, ev := range collect(New(score)) {
		if ev.Track == 1 && ev.Event.Kind == smf.KindMessage {
			if ev.Time != 0.5 {
				t.Fatalf("note-on at %v, want exactly 0.5", ev.Time)
			}
			return
		}
	}
	t.Fatal("note-on not found")
}

func TestSequencerTempoChanges(t *testing.T) {
	tests := []struct {
		name  string
		score *smf.Score
		want  map[byte]float64
	}{
		{
			name: "single track",
			score: &smf.Score{Format: 0, Division: 480, Tracks: []*smf.Track{smf.NewTrack(
				smf.TempoEvent(0, 500000),
				noteOn(480, 60),
				smf.TempoEvent(0, 250000),
				noteOn(480, 62),
				noteOn(480, 64),
				smf.EndOfTrack(0),
			)}},
			want: map[byte]float64{60: 0.5, 62: 0.75, 64: 1.0},
		},
		{
			name: "tempo track drives other tracks",
			score: &smf.Score{Format: 1, Division: 480, Tracks: []*smf.Track{
				smf.NewTrack(smf.TempoEvent(480, 250000), smf.EndOfTrack(0)),
				smf.NewTrack(noteOn(240, 60), noteOn(720, 62), smf.EndOfTrack(0)),
			}},
			want: map[byte]float64{60: 0.25, 62: 0.75},
		},
		{
			name: "format 2 tracks are independent",
			score: &smf.Score{Format: 2, Division: 480, Tracks: []*smf.Track{
				smf.NewTrack(smf.TempoEvent(0, 250000), noteOn(480, 60), smf.EndOfTrack(0)),
				smf.NewTrack(noteOn(480, 62), smf.EndOfTrack(0)),
			}},
			want: map[byte]float64{60: 0.25, 62: 0.5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := map[byte]float64{}
			for _, ev := range collect(New(tt.score)) {
				if ev.Event.Kind == smf.KindMessage {
					got[ev.Event.Data[1]] = ev.Time
				}
			}
			for key, want := range tt.want {
				if got[key] != want {
					t.Errorf("key %d at %v, want %v", key, got[key], want)
				}
			}
		})
	}
}

func TestSequencerTieBreak(t *testing.T) {
	score := &smf.Score{Format: 1, Division: 96, Tracks: []*smf.Track{
		smf.NewTrack(noteOn(10, 1), smf.EndOfTrack(0)),
		smf.NewTrack(noteOn(10, 2), smf.EndOfTrack(0)),
		smf.NewTrack(noteOn(5, 3), noteOn(5, 4), smf.EndOfTrack(0)),
	}}
	var keys []byte
	for _, ev := range collect(New(score)) {
		if ev.Event.Kind == smf.KindMessage {
			keys = append(keys, ev.Event.Data[1])
		}
	}
	want := []byte{3, 1, 2, 4}
	if string(keys) != string(want) {
		t.Errorf("order %v, want %v", keys, want)
	}
}

func TestSequencerSMPTE(t *testing.T) {
	// 25 fps, 40 ticks per frame: 1000 ticks per second.
	score := &smf.Score{Format: 0, Division: 0xE728, Tracks: []*smf.Track{smf.NewTrack(
		smf.TempoEvent(0, 250000),
		noteOn(1500, 60),
		smf.EndOfTrack(0),
	)}}
	evs := collect(New(score))
	if len(evs) != 3 {
		t.Fatalf("expected 3 events, got %d", len(evs))
	}
	if math.Abs(evs[1].Time-1.5) > 1e-9 {
		t.Errorf("note at %v, want 1.5 regardless of tempo", evs[1].Time)
	}
}

func TestSequencerPeekRewindTempo(t *testing.T) {
	score := &smf.Score{Format: 0, Division: 480, Tracks: []*smf.Track{smf.NewTrack(
		smf.TempoEvent(0, 400000),
		smf.MetaEvent(0, smf.MetaSMPTEOffset, []byte{0x21, 0x02, 0x03, 0x00, 0x00}),
		noteOn(480, 60),
		smf.EndOfTrack(0),
	)}}
	s := New(score)

	first, ok := s.Peek()
	if !ok {
		t.Fatal("Peek on fresh sequencer returned nothing")
	}
	again, _ := s.Peek()
	if first.Time != again.Time || first.Track != again.Track || first.Event.Kind != again.Event.Kind {
		t.Error("Peek consumed the event")
	}
	if s.Tempo(0).Tempo != DefaultTempo {
		t.Errorf("initial tempo %d, want %d", s.Tempo(0).Tempo, DefaultTempo)
	}

	evs := collect(s)
	if len(evs) != 4 || !s.Done() {
		t.Fatalf("expected 4 events and Done, got %d events", len(evs))
	}
	if tm := s.Tempo(0); tm.Tempo != 400000 || tm.Offset != 3723 {
		t.Errorf("tempo map %+v", tm)
	}
	if math.Abs(evs[2].Time-0.4) > 1e-12 {
		t.Errorf("note at %v, want 0.4", evs[2].Time)
	}
	if _, ok := s.Next(); ok {
		t.Error("Next after exhaustion returned an event")
	}

	s.Rewind()
	if s.Done() || s.Tempo(0).Tempo != DefaultTempo {
		t.Error("Rewind did not restore the initial state")
	}
	if ev, _ := s.Next(); ev.Time != 0 || !ev.Event.IsMeta(smf.MetaTempo) {
		t.Errorf("first event after Rewind: %+v", ev)
	}
}

func TestDuration(t *testing.T) {
	score := &smf.Score{Format: 1, Division: 480, Tracks: []*smf.Track{
		smf.NewTrack(smf.TempoEvent(0, 500000), smf.EndOfTrack(0)),
		smf.NewTrack(noteOn(480, 60), smf.EndOfTrack(960)),
	}}
	if d := Duration(score); d != 1.5 {
		t.Errorf("Duration = %v, want 1.5", d)
	}
	if d := Duration(&smf.Score{Division: 96}); d != 0 {
		t.Errorf("Duration of empty score = %v", d)
	}
}
