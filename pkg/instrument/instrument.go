// Package instrument provides the MIDI sinks the player drives: a null
// output, hardware ports through gomidi and a software synthesizer rendered
// to the audio device.
package instrument

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zurustar/smfplay/pkg/logger"
)

var (
	// ErrUnknownOutput is returned for an output id Host cannot open.
	ErrUnknownOutput = errors.New("unknown output")
	// ErrUnknownOption is returned by Synth.SetOption for unsupported names.
	ErrUnknownOption = errors.New("unknown option")
	// ErrClosed is returned when writing to a closed output.
	ErrClosed = errors.New("output closed")
)

// Output ids understood by Host.OpenOutput. Ports use PortPrefix followed by
// the port name.
const (
	NullID     = "null"
	SynthID    = "synth"
	PortPrefix = "port:"
)

// Instrument is the MIDI sink driven by the engine.
type Instrument interface {
	OpenOutput(id string) error
	CloseOutput() error
	// Send delivers one message. ts is the event time in seconds and first
	// marks the first message delivered in a tick.
	Send(msg []byte, ts float64, first bool) error
	AllSoundOff() error
	// Initialize sends a GM and GS reset.
	Initialize() error
	// FlushEvents blocks until every sent message reached the device.
	FlushEvents() error
}

// Output is one opened destination.
type Output interface {
	Send(msg []byte, ts float64, first bool) error
	Flush() error
	Close() error
}

var (
	gmSystemOn = []byte{0xF0, 0x7E, 0x7F, 0x09, 0x01, 0xF7}
	gsReset    = []byte{0xF0, 0x41, 0x10, 0x42, 0x12, 0x40, 0x00, 0x7F, 0x00, 0x41, 0xF7}
)

// Config selects the outputs a Host offers.
type Config struct {
	// NewSynth opens the software synthesizer output. Nil hides "synth".
	NewSynth func() (Output, error)
	// Ports lists the hardware port names. Defaults to the gomidi out ports.
	Ports func() []string
	// OpenPort opens a port by name. Defaults to OpenPort.
	OpenPort func(name string) (Output, error)
}

// Host implements Instrument over a switchable Output. It starts on the
// null output.
type Host struct {
	cfg Config
	out Output
	id  string
}

// NewHost returns a Host using cfg.
func NewHost(cfg Config) *Host {
	if cfg.Ports == nil {
		cfg.Ports = PortNames
	}
	if cfg.OpenPort == nil {
		cfg.OpenPort = OpenPort
	}
	return &Host{cfg: cfg, out: &NullInstrument{}, id: NullID}
}

// Outputs returns the ids of every output that can be opened.
func (h *Host) Outputs() []string {
	ids := []string{NullID}
	if h.cfg.NewSynth != nil {
		ids = append(ids, SynthID)
	}
	for _, name := range h.cfg.Ports() {
		ids = append(ids, PortPrefix+name)
	}
	return ids
}

// Current returns the id of the open output.
func (h *Host) Current() string { return h.id }

// OpenOutput closes the current output and opens id. On failure the null
// output is selected.
func (h *Host) OpenOutput(id string) error {
	if err := h.CloseOutput(); err != nil {
		logger.GetLogger().Warn("Failed to close output", "id", h.id, "error", err)
	}

	var (
		out Output
		err error
	)
	switch {
	case id == NullID:
		out = &NullInstrument{}
	case id == SynthID && h.cfg.NewSynth != nil:
		out, err = h.cfg.NewSynth()
	case strings.HasPrefix(id, PortPrefix):
		out, err = h.cfg.OpenPort(strings.TrimPrefix(id, PortPrefix))
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownOutput, id)
	}
	if err != nil {
		return err
	}

	h.out, h.id = out, id
	logger.GetLogger().Info("Output opened", "id", id)
	return nil
}

// CloseOutput closes the current output and falls back to the null output.
func (h *Host) CloseOutput() error {
	if h.id == NullID {
		return nil
	}
	err := h.out.Close()
	h.out, h.id = &NullInstrument{}, NullID
	return err
}

// Send implements Instrument.
func (h *Host) Send(msg []byte, ts float64, first bool) error {
	return h.out.Send(msg, ts, first)
}

// AllSoundOff silences every channel with All Sound Off and All Notes Off.
func (h *Host) AllSoundOff() error {
	var errs []error
	for ch := byte(0); ch < 16; ch++ {
		errs = append(errs,
			h.out.Send([]byte{0xB0 | ch, 120, 0}, 0, ch == 0),
			h.out.Send([]byte{0xB0 | ch, 123, 0}, 0, false),
		)
	}
	errs = append(errs, h.out.Flush())
	return errors.Join(errs...)
}

// Initialize implements Instrument.
func (h *Host) Initialize() error {
	return errors.Join(
		h.out.Send(gmSystemOn, 0, true),
		h.out.Send(gsReset, 0, false),
		h.out.Flush(),
	)
}

// FlushEvents implements Instrument.
func (h *Host) FlushEvents() error { return h.out.Flush() }

// NullInstrument discards messages. It counts them for diagnostics.
type NullInstrument struct {
	Sent int
}

func (n *NullInstrument) Send(msg []byte, ts float64, first bool) error {
	n.Sent++
	return nil
}

func (n *NullInstrument) Flush() error { return nil }
func (n *NullInstrument) Close() error { return nil }
