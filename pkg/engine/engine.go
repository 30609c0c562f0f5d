// Package engine runs playback on a dedicated goroutine. The goroutine owns
// the player, the channel state, the playlist cursor and the instrument;
// every other goroutine talks to it through commands.
package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zurustar/smfplay/pkg/chanstate"
	"github.com/zurustar/smfplay/pkg/fileutil"
	"github.com/zurustar/smfplay/pkg/instrument"
	"github.com/zurustar/smfplay/pkg/logger"
	"github.com/zurustar/smfplay/pkg/player"
	"github.com/zurustar/smfplay/pkg/playlist"
	"github.com/zurustar/smfplay/pkg/seq"
	"github.com/zurustar/smfplay/pkg/smf"
)

// ErrShutdown is returned by synchronous commands after Shutdown.
var ErrShutdown = errors.New("engine shut down")

// DefaultTickInterval is the period of the playback clock.
const DefaultTickInterval = time.Millisecond

// RepeatMode selects what happens when a song ends.
type RepeatMode int

const (
	// RepeatOff advances through the playlist and stops after the last song.
	RepeatOff RepeatMode = iota
	// RepeatAll wraps around to the first song.
	RepeatAll
	// RepeatSingle replays the current song.
	RepeatSingle
)

func (m RepeatMode) String() string {
	switch m {
	case RepeatOff:
		return "off"
	case RepeatAll:
		return "all"
	case RepeatSingle:
		return "single"
	}
	return fmt.Sprintf("RepeatMode(%d)", int(m))
}

// ParseRepeatMode parses the String form of a RepeatMode.
func ParseRepeatMode(s string) (RepeatMode, error) {
	switch strings.ToLower(s) {
	case "off", "":
		return RepeatOff, nil
	case "all":
		return RepeatAll, nil
	case "single", "one":
		return RepeatSingle, nil
	}
	return RepeatOff, fmt.Errorf("invalid repeat mode: %s", s)
}

// State is a snapshot of the playback state.
type State struct {
	Path     string
	Position float64
	Duration float64
	// Tempo is in beats per minute.
	Tempo    float64
	Speed    float64
	Repeat   RepeatMode
	Playing  bool
	Channels [16]chanstate.Channel
	Spec     chanstate.Spec
	Metadata smf.Metadata
	Output   string
}

// Options configures an Engine.
type Options struct {
	Instrument instrument.Instrument
	Playlist   playlist.Playlist
	FileSystem fileutil.FileSystem

	// TickInterval defaults to DefaultTickInterval.
	TickInterval time.Duration
	Repeat       RepeatMode
	Speed        float64

	// OnState receives the snapshot requested by RequestState.
	OnState func(State)
	// OnFinished is called with the path of every song that ends naturally.
	OnFinished func(path string)
}

// outputLister is implemented by instruments that can enumerate outputs.
type outputLister interface {
	Outputs() []string
	Current() string
}

// Engine is the playback orchestrator. Its methods are safe for concurrent
// use.
type Engine struct {
	cmds chan func()
	done chan struct{}

	// Owned by the loop goroutine.
	opts     Options
	inst     instrument.Instrument
	list     playlist.Playlist
	fsys     fileutil.FileSystem
	player   *player.Player
	path     string
	meta     smf.Metadata
	channels *chanstate.State
	repeat   RepeatMode
	speed    float64
	playing  bool
	ticker   *time.Ticker
	lastTick time.Time
	first    bool
	ended    bool
	quit     bool
}

// New starts an Engine. The playlist starts idle; call Play.
func New(opts Options) *Engine {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Speed <= 0 {
		opts.Speed = 1
	}
	if opts.Playlist == nil {
		opts.Playlist = playlist.NewLinear(nil)
	}
	if opts.Instrument == nil {
		opts.Instrument = instrument.NewHost(instrument.Config{})
	}
	if opts.FileSystem == nil {
		opts.FileSystem = fileutil.NewRealFS("")
	}
	e := &Engine{
		cmds:     make(chan func(), 64),
		done:     make(chan struct{}),
		opts:     opts,
		inst:     opts.Instrument,
		list:     opts.Playlist,
		fsys:     opts.FileSystem,
		channels: chanstate.New(),
		repeat:   opts.Repeat,
		speed:    opts.Speed,
	}
	go e.run()
	return e
}

func (e *Engine) run() {
	defer close(e.done)
	log := logger.GetLogger()
	log.Debug("Engine loop started")

	for !e.quit {
		var tick <-chan time.Time
		if e.ticker != nil {
			tick = e.ticker.C
		}
		select {
		case cmd := <-e.cmds:
			cmd()
		case now := <-tick:
			e.drain()
			if !e.quit {
				e.tick(now)
			}
		}
	}
	log.Debug("Engine loop stopped")
}

// drain runs every pending command without blocking.
func (e *Engine) drain() {
	for !e.quit {
		select {
		case cmd := <-e.cmds:
			cmd()
		default:
			return
		}
	}
}

// send queues cmd. It reports false once the loop has stopped.
func (e *Engine) send(cmd func()) bool {
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case e.cmds <- cmd:
		return true
	case <-e.done:
		return false
	}
}

// call runs fn on the loop and waits for its result.
func call[T any](e *Engine, fn func() T) (T, error) {
	reply := make(chan T, 1)
	if !e.send(func() { reply <- fn() }) {
		var zero T
		return zero, ErrShutdown
	}
	select {
	case v := <-reply:
		return v, nil
	case <-e.done:
		var zero T
		return zero, ErrShutdown
	}
}

// Play starts or resumes playback. After the playlist ran out it starts
// over from the first song.
func (e *Engine) Play() { e.send(e.play) }

// Pause stops the clock and silences the output.
func (e *Engine) Pause() { e.send(e.pause) }

// TogglePause switches between Play and Pause.
func (e *Engine) TogglePause() {
	e.send(func() {
		if e.playing {
			e.pause()
		} else {
			e.play()
		}
	})
}

// Next skips to the next song.
func (e *Engine) Next() {
	e.send(func() {
		if !e.list.GoNext() {
			if e.repeat != RepeatAll {
				e.stopSong()
				return
			}
			e.list.Rewind()
		}
		e.loadAndPlay()
	})
}

// Previous goes back one song, or restarts the first one.
func (e *Engine) Previous() {
	e.send(func() {
		e.list.GoPrevious()
		e.loadAndPlay()
	})
}

// Seek moves to t seconds in the current song.
func (e *Engine) Seek(t float64) { e.send(func() { e.seek(t) }) }

// SeekRelative moves by delta seconds from the current position.
func (e *Engine) SeekRelative(delta float64) {
	e.send(func() {
		if e.player != nil {
			e.seek(e.player.Position() + delta)
		}
	})
}

// SetSpeed sets the playback speed multiplier.
func (e *Engine) SetSpeed(speed float64) {
	e.send(func() {
		e.speed = min(max(speed, player.MinSpeed), player.MaxSpeed)
		if e.player != nil {
			e.player.SetSpeed(e.speed)
		}
	})
}

// SetRepeat sets the repeat mode.
func (e *Engine) SetRepeat(mode RepeatMode) { e.send(func() { e.repeat = mode }) }

// RequestState delivers a snapshot to Options.OnState.
func (e *Engine) RequestState() {
	e.send(func() {
		if e.opts.OnState != nil {
			e.opts.OnState(e.snapshot())
		}
	})
}

// State returns a snapshot. After Shutdown it returns the zero State.
func (e *Engine) State() State {
	s, _ := call(e, e.snapshot)
	return s
}

// ListOutputs returns the output ids the instrument offers.
func (e *Engine) ListOutputs() ([]string, error) {
	return call(e, func() []string {
		if l, ok := e.inst.(outputLister); ok {
			return l.Outputs()
		}
		return nil
	})
}

// SelectOutput switches the instrument to output id. The state of the
// current song is rebuilt on the new output.
func (e *Engine) SelectOutput(id string) error {
	err, callErr := call(e, func() error { return e.selectOutput(id) })
	if callErr != nil {
		return callErr
	}
	return err
}

// Shutdown stops playback, silences the output, waits for the instrument to
// drain and stops the loop. It blocks until the loop has exited and is safe
// to call more than once.
func (e *Engine) Shutdown() {
	e.send(func() {
		e.stopSong()
		if err := e.inst.FlushEvents(); err != nil {
			logger.GetLogger().Warn("Flush on shutdown failed", "error", err)
		}
		e.quit = true
	})
	<-e.done
}

// Done is closed when the loop has exited.
func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) play() {
	if e.playing {
		return
	}
	if e.player == nil {
		if e.list.AtEnd() {
			e.list.Rewind()
		}
		e.loadAndPlay()
		return
	}
	if e.player.Finished() {
		e.restart()
	}
	e.resume()
}

func (e *Engine) resume() {
	e.player.Start()
	e.playing = true
	if e.ticker == nil {
		e.ticker = time.NewTicker(e.opts.TickInterval)
	}
	e.lastTick = time.Now()
}

func (e *Engine) pause() {
	if !e.playing {
		return
	}
	e.player.Stop()
	e.stopClock()
	e.soundOff()
}

func (e *Engine) stopClock() {
	e.playing = false
	if e.ticker != nil {
		e.ticker.Stop()
		e.ticker = nil
	}
}

func (e *Engine) soundOff() {
	if err := e.inst.AllSoundOff(); err != nil {
		logger.GetLogger().Warn("All sound off failed", "error", err)
	}
	for i := range e.channels.Channels {
		e.channels.Channels[i].Keys = [128]uint8{}
	}
}

// stopSong unloads the current song and goes idle.
func (e *Engine) stopSong() {
	e.stopClock()
	e.soundOff()
	e.player = nil
	e.path = ""
	e.meta = smf.Metadata{}
}

// loadAndPlay loads the song under the playlist cursor and starts it. Songs
// that fail to load are skipped, making at most one pass over the list.
func (e *Engine) loadAndPlay() {
	log := logger.GetLogger()
	e.stopSong()

	for tries := 0; tries < e.list.Len(); tries++ {
		path, ok := e.list.Current()
		if !ok {
			break
		}
		score, err := smf.LoadFile(e.fsys, path)
		if err == nil {
			e.open(path, score)
			e.resume()
			return
		}
		log.Warn("Failed to load song, skipping", "path", path, "error", err)
		if !e.list.GoNext() {
			if e.repeat != RepeatAll {
				break
			}
			e.list.Rewind()
		}
	}
	log.Info("Playlist finished")
}

func (e *Engine) open(path string, score *smf.Score) {
	log := logger.GetLogger()
	for _, r := range score.Repairs {
		log.Debug("Decoder repair", "path", path, "track", r.Track, "repair", r.Kind.String())
	}

	e.player = player.New(score)
	e.player.SetSpeed(e.speed)
	e.player.OnEvent(e.deliver)
	e.player.OnFinish(func() { e.ended = true })
	e.path = path
	e.meta = score.Metadata()
	e.initialize()

	log.Info("Song loaded", "path", path, "title", e.meta.Title,
		"format", score.Format, "tracks", score.TrackCount(), "duration", e.player.Duration())
}

// initialize resets the output and the channel state.
func (e *Engine) initialize() {
	if err := e.inst.Initialize(); err != nil {
		logger.GetLogger().Warn("Instrument initialization failed", "error", err)
	}
	e.channels.Reset(chanstate.SpecNone)
}

func (e *Engine) restart() {
	e.player.Rewind()
	e.soundOff()
	e.initialize()
}

func (e *Engine) deliver(ev seq.Event) {
	switch ev.Event.Kind {
	case smf.KindMessage, smf.KindEscape:
	default:
		return
	}
	if err := e.inst.Send(ev.Event.Data, ev.Time, e.first); err != nil {
		logger.GetLogger().Debug("Send failed", "error", err)
	}
	e.first = false
	e.channels.Handle(ev.Event.Data)
}

func (e *Engine) tick(now time.Time) {
	if e.player == nil || !e.playing {
		return
	}
	dt := now.Sub(e.lastTick).Seconds()
	e.lastTick = now
	e.first = true
	e.player.Tick(dt)
	if e.ended {
		e.ended = false
		e.finished()
	}
}

func (e *Engine) finished() {
	path := e.path
	logger.GetLogger().Info("Song finished", "path", path)
	if e.opts.OnFinished != nil {
		e.opts.OnFinished(path)
	}

	switch e.repeat {
	case RepeatSingle:
		e.restart()
		e.resume()
	case RepeatAll:
		if !e.list.GoNext() {
			e.list.Rewind()
		}
		e.loadAndPlay()
	default:
		if e.list.GoNext() {
			e.loadAndPlay()
		} else {
			e.stopSong()
		}
	}
}

func (e *Engine) seek(t float64) {
	if e.player == nil {
		return
	}
	t = min(max(t, 0), e.player.Duration())
	wasPlaying := e.playing
	e.soundOff()
	e.initialize()
	e.first = true
	e.player.GotoTime(t)
	if wasPlaying {
		e.player.Start()
		e.lastTick = time.Now()
	}
	logger.GetLogger().Debug("Seek", "position", t)
}

func (e *Engine) selectOutput(id string) error {
	log := logger.GetLogger()
	if err := e.inst.AllSoundOff(); err != nil {
		log.Warn("All sound off failed", "error", err)
	}
	if err := e.inst.CloseOutput(); err != nil {
		log.Warn("Failed to close output", "error", err)
	}
	if err := e.inst.OpenOutput(id); err != nil {
		return err
	}
	if e.player != nil {
		e.seek(e.player.Position())
	} else if err := e.inst.Initialize(); err != nil {
		log.Warn("Instrument initialization failed", "error", err)
	}
	return nil
}

func (e *Engine) snapshot() State {
	s := State{
		Path:     e.path,
		Speed:    e.speed,
		Repeat:   e.repeat,
		Playing:  e.playing,
		Channels: e.channels.Channels,
		Spec:     e.channels.Spec,
		Metadata: e.meta,
		Tempo:    60e6 / seq.DefaultTempo,
	}
	if e.player != nil {
		s.Position = e.player.Position()
		s.Duration = e.player.Duration()
		s.Tempo = 60e6 / float64(e.player.Tempo().Tempo)
	}
	if l, ok := e.inst.(outputLister); ok {
		s.Output = l.Current()
	}
	return s
}
