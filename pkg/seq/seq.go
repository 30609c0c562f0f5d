// Package seq merges the tracks of a Score into a single stream of events
// ordered by absolute time in seconds.
package seq

import (
	"math"

	"github.com/zurustar/smfplay/pkg/smf"
)

// NoTrack marks events that do not come from a track, such as the state
// burst produced by a seek.
const NoTrack = -1

// DefaultTempo is the tempo in effect before the first tempo event.
const DefaultTempo = 500000

// Event is a track event with its absolute time.
type Event struct {
	Time  float64
	Track int
	Event smf.Event
}

// TempoMap holds the tempo state of a group of tracks. Tracks of format 0
// and 1 scores share one map, format 2 tracks each own one.
type TempoMap struct {
	// Tempo is in microseconds per quarter note, never below 1.
	Tempo uint32
	// Offset is the SMPTE start offset in seconds.
	Offset float64
}

// group anchors tick to time conversion at the last tempo change so that a
// change never acts on ticks that were already played.
type group struct {
	tempo      TempoMap
	anchorTick uint64
	anchorTime float64
}

type cursor struct {
	it    *smf.TrackIterator
	group *group
	next  smf.Event
	tick  uint64
	ok    bool
}

func (c *cursor) load() {
	ev, ok := c.it.Next()
	c.next, c.ok = ev, ok
	if ok {
		c.tick += uint64(ev.Delta)
	}
}

// Sequencer walks a Score in time order.
type Sequencer struct {
	division smf.Division
	tracks   []*smf.Track
	format   uint16
	cursors  []cursor
	groups   []*group
}

// New returns a Sequencer positioned at the start of score.
func New(score *smf.Score) *Sequencer {
	s := &Sequencer{
		division: score.Division,
		tracks:   score.Tracks,
		format:   score.Format,
	}
	s.Rewind()
	return s
}

// Rewind restarts the stream and restores the default tempo.
func (s *Sequencer) Rewind() {
	s.cursors = make([]cursor, len(s.tracks))
	s.groups = s.groups[:0]
	var shared *group
	for i, t := range s.tracks {
		g := shared
		if g == nil || s.format == 2 {
			g = &group{tempo: TempoMap{Tempo: DefaultTempo}}
			s.groups = append(s.groups, g)
			if s.format != 2 {
				shared = g
			}
		}
		s.cursors[i] = cursor{it: t.Iter(), group: g}
		s.cursors[i].load()
	}
}

// secondsPerTick returns the duration of one tick under tempo.
func (s *Sequencer) secondsPerTick(tempo uint32) float64 {
	if s.division.IsSMPTE() {
		fps, tpf := s.division.SMPTE()
		return 1 / (float64(tpf) * fps)
	}
	return float64(tempo) * 1e-6 / float64(s.division.TicksPerQuarter())
}

func (s *Sequencer) timeOf(c *cursor) float64 {
	g := c.group
	var ticks uint64
	if c.tick > g.anchorTick {
		ticks = c.tick - g.anchorTick
	}
	return g.anchorTime + float64(ticks)*s.secondsPerTick(g.tempo.Tempo)
}

// pick returns the index of the track holding the earliest pending event.
// Ties go to the lowest track index.
func (s *Sequencer) pick() (int, float64) {
	best, bestTime := -1, math.Inf(1)
	for i := range s.cursors {
		c := &s.cursors[i]
		if !c.ok {
			continue
		}
		if t := s.timeOf(c); t < bestTime {
			best, bestTime = i, t
		}
	}
	return best, bestTime
}

// Peek returns the next event without consuming it.
func (s *Sequencer) Peek() (Event, bool) {
	i, t := s.pick()
	if i < 0 {
		return Event{}, false
	}
	return Event{Time: t, Track: i, Event: s.cursors[i].next}, true
}

// Next consumes and returns the next event. Tempo and SMPTE offset metas
// update the tempo map of the track's group.
func (s *Sequencer) Next() (Event, bool) {
	i, t := s.pick()
	if i < 0 {
		return Event{}, false
	}
	c := &s.cursors[i]
	ev := Event{Time: t, Track: i, Event: c.next}

	if tempo, ok := ev.Event.Tempo(); ok {
		c.group.anchorTick = c.tick
		c.group.anchorTime = t
		c.group.tempo.Tempo = max(tempo, 1)
	} else if ev.Event.IsMeta(smf.MetaSMPTEOffset) {
		if off, ok := smpteOffset(ev.Event.MetaPayload()); ok {
			c.group.tempo.Offset = off
		}
	}
	c.load()
	return ev, true
}

// Done reports whether every track is exhausted.
func (s *Sequencer) Done() bool {
	for i := range s.cursors {
		if s.cursors[i].ok {
			return false
		}
	}
	return true
}

// Tempo returns the tempo map currently applying to track.
func (s *Sequencer) Tempo(track int) TempoMap {
	if track < 0 || track >= len(s.cursors) {
		if len(s.groups) > 0 {
			return s.groups[0].tempo
		}
		return TempoMap{Tempo: DefaultTempo}
	}
	return s.cursors[track].group.tempo
}

// smpteOffset decodes an FF 54 payload: hr (with rate bits), mn, se, fr, ff.
func smpteOffset(p []byte) (float64, bool) {
	if len(p) < 5 {
		return 0, false
	}
	rates := [4]float64{24, 25, 30000.0 / 1001.0, 30}
	fps := rates[(p[0]>>5)&0x03]
	hours := float64(p[0] & 0x1F)
	return hours*3600 + float64(p[1])*60 + float64(p[2]) + float64(p[3])/fps + float64(p[4])/(100*fps), true
}

// Duration returns the time of the last event of score.
func Duration(score *smf.Score) float64 {
	s := New(score)
	var last float64
	for {
		ev, ok := s.Next()
		if !ok {
			return last
		}
		last = ev.Time
	}
}
