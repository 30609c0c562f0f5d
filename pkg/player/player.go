// Package player is the playback transport over a Score: it advances a
// clock, delivers due events and reconstructs device state on seek.
package player

import (
	"math"

	"github.com/zurustar/smfplay/pkg/seek"
	"github.com/zurustar/smfplay/pkg/seq"
	"github.com/zurustar/smfplay/pkg/smf"
)

// Speed limits accepted by SetSpeed.
const (
	MinSpeed = 0.01
	MaxSpeed = 10.0
)

// Player delivers the events of a Score as its clock advances. A Player is
// not safe for concurrent use.
type Player struct {
	seq      *seq.Sequencer
	duration float64
	position float64
	speed    float64
	running  bool
	finished bool

	onEvent  func(seq.Event)
	onFinish func()
}

// New returns a stopped Player positioned at the start of score.
func New(score *smf.Score) *Player {
	return &Player{
		seq:      seq.New(score),
		duration: seq.Duration(score),
		speed:    1,
	}
}

// OnEvent sets the callback receiving delivered events.
func (p *Player) OnEvent(fn func(seq.Event)) { p.onEvent = fn }

// OnFinish sets the callback fired when the stream is exhausted.
func (p *Player) OnFinish(fn func()) { p.onFinish = fn }

// Start runs the clock.
func (p *Player) Start() { p.running = true }

// Stop halts the clock. The position is kept.
func (p *Player) Stop() { p.running = false }

// Running reports whether the clock runs.
func (p *Player) Running() bool { return p.running }

// Finished reports whether every event was delivered.
func (p *Player) Finished() bool { return p.finished }

// Position returns the current time in seconds.
func (p *Player) Position() float64 { return p.position }

// Duration returns the time of the last event in seconds.
func (p *Player) Duration() float64 { return p.duration }

// Speed returns the playback speed multiplier.
func (p *Player) Speed() float64 { return p.speed }

// SetSpeed sets the speed multiplier, clamped to [MinSpeed, MaxSpeed].
// It scales the clock only; event times are unchanged.
func (p *Player) SetSpeed(speed float64) {
	if math.IsNaN(speed) {
		return
	}
	p.speed = min(max(speed, MinSpeed), MaxSpeed)
}

// Tempo returns the tempo map of the first track group.
func (p *Player) Tempo() seq.TempoMap { return p.seq.Tempo(0) }

// Tick advances the clock by dt seconds of wall time and delivers every
// event that became due.
func (p *Player) Tick(dt float64) {
	if !p.running {
		return
	}
	p.position += dt * p.speed
	for {
		ev, ok := p.seq.Peek()
		if !ok || ev.Time > p.position {
			break
		}
		p.seq.Next()
		p.deliver(ev)
	}
	if p.seq.Done() {
		p.finish()
	}
}

func (p *Player) finish() {
	p.running = false
	if p.finished {
		return
	}
	p.finished = true
	if p.onFinish != nil {
		p.onFinish()
	}
}

func (p *Player) deliver(ev seq.Event) {
	if p.onEvent != nil {
		p.onEvent(ev)
	}
}

// GotoTime stops the clock and moves to t seconds. Events before t are not
// delivered as such: their channel state is reduced through a seek
// accumulator and delivered as a burst of synthetic events at time t.
func (p *Player) GotoTime(t float64) {
	if t <= 0 || math.IsNaN(t) {
		p.Rewind()
		return
	}
	p.Stop()
	p.seq.Rewind()
	p.finished = false

	acc := seek.New()
	emit := func(msg []byte) {
		p.deliver(seq.Event{Time: t, Track: seq.NoTrack, Event: smf.MessageEvent(0, msg...)})
	}
	for {
		ev, ok := p.seq.Peek()
		if !ok || ev.Time >= t {
			break
		}
		p.seq.Next()
		switch ev.Event.Kind {
		case smf.KindMessage:
			acc.Add(ev.Event.Data, emit)
		case smf.KindEscape:
			acc.Flush(emit)
			p.deliver(seq.Event{Time: t, Track: seq.NoTrack, Event: ev.Event})
		}
	}
	acc.Flush(emit)
	p.position = t
}

// Rewind stops the clock and moves to the start without a state burst.
func (p *Player) Rewind() {
	p.Stop()
	p.seq.Rewind()
	p.position = 0
	p.finished = false
}
