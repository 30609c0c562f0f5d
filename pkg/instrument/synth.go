package instrument

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/hajimehoshi/ebiten/v2/audio"
)

// SampleRate is the audio sample rate used for software synthesis.
const SampleRate = 44100

// FlushTimeout bounds how long Flush waits for the audio goroutine.
const FlushTimeout = 500 * time.Millisecond

// ErrFlushTimeout is returned by Flush when queued messages were not
// rendered in time. They are applied with the next buffer.
var ErrFlushTimeout = errors.New("flush timed out")

var (
	// Global audio context (Ebiten allows only one)
	globalAudioContext *audio.Context
	audioContextMutex  sync.Mutex
)

// AudioContext returns the process-wide audio context, creating it on first
// use.
func AudioContext() *audio.Context {
	audioContextMutex.Lock()
	defer audioContextMutex.Unlock()

	if globalAudioContext == nil {
		globalAudioContext = audio.NewContext(SampleRate)
	}
	return globalAudioContext
}

// Synth is a software synthesizer plugin.
type Synth interface {
	Activate(sampleRate int) error
	Deactivate()
	// Write processes one MIDI message.
	Write(msg []byte)
	// Generate renders len(left) stereo frames.
	Generate(left, right []float32)
	SetOption(name, value string) error
}

// SynthInstrument renders a Synth through an audio player. Messages are
// queued and applied by the audio goroutine at the start of each buffer.
type SynthInstrument struct {
	synth  Synth
	player *audio.Player

	mu        sync.Mutex
	drained   *sync.Cond
	queue     [][]byte
	streaming bool
	closed    bool
	left      []float32
	right     []float32
}

// NewSynthInstrument activates synth and starts playing it on ctx. With a
// nil ctx nothing is rendered and messages go straight to the synth.
func NewSynthInstrument(synth Synth, ctx *audio.Context) (*SynthInstrument, error) {
	if err := synth.Activate(SampleRate); err != nil {
		return nil, err
	}
	s := &SynthInstrument{synth: synth}
	s.drained = sync.NewCond(&s.mu)
	if ctx == nil {
		return s, nil
	}

	player, err := ctx.NewPlayer(s)
	if err != nil {
		synth.Deactivate()
		return nil, err
	}
	s.player = player
	s.streaming = true
	player.Play()
	return s, nil
}

func (s *SynthInstrument) Send(msg []byte, ts float64, first bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if !s.streaming {
		s.synth.Write(msg)
		return nil
	}
	s.queue = append(s.queue, append([]byte(nil), msg...))
	return nil
}

// Flush waits until the audio goroutine applied every queued message, or
// returns ErrFlushTimeout when the device stops pulling samples.
func (s *SynthInstrument) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 || !s.streaming || s.closed {
		return nil
	}
	deadline := time.Now().Add(FlushTimeout)
	timer := time.AfterFunc(FlushTimeout, func() {
		s.mu.Lock()
		s.drained.Broadcast()
		s.mu.Unlock()
	})
	defer timer.Stop()

	for len(s.queue) > 0 && s.streaming && !s.closed {
		if !time.Now().Before(deadline) {
			return ErrFlushTimeout
		}
		s.drained.Wait()
	}
	return nil
}

// Read implements io.Reader for the audio player: 16-bit little endian
// stereo samples.
func (s *SynthInstrument) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range s.queue {
		s.synth.Write(msg)
	}
	s.queue = s.queue[:0]
	s.drained.Broadcast()

	// 2 channels * 2 bytes per sample
	frames := len(p) / 4
	if cap(s.left) < frames {
		s.left = make([]float32, frames)
		s.right = make([]float32, frames)
	}
	left, right := s.left[:frames], s.right[:frames]
	if s.closed {
		clear(left)
		clear(right)
	} else {
		s.synth.Generate(left, right)
	}

	for i := 0; i < frames; i++ {
		binary.LittleEndian.PutUint16(p[i*4:], uint16(toPCM(left[i])))
		binary.LittleEndian.PutUint16(p[i*4+2:], uint16(toPCM(right[i])))
	}
	return frames * 4, nil
}

func toPCM(v float32) int16 {
	v = min(max(v, -1), 1)
	return int16(v * 32767)
}

func (s *SynthInstrument) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.queue = nil
	s.drained.Broadcast()
	player := s.player
	s.mu.Unlock()

	var err error
	if player != nil {
		err = player.Close()
	}
	s.synth.Deactivate()
	return err
}
