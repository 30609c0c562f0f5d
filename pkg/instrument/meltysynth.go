package instrument

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/sinshu/go-meltysynth/meltysynth"

	"github.com/zurustar/smfplay/pkg/chanstate"
)

// MeltySynth is a SoundFont synthesizer backed by go-meltysynth. It accepts
// channel messages; of the system exclusive messages only system resets have
// an effect.
type MeltySynth struct {
	soundFont *meltysynth.SoundFont
	synth     *meltysynth.Synthesizer

	gain       float32
	polyphony  int
	reverbSend bool
}

// NewMeltySynth returns an inactive synthesizer for sf.
func NewMeltySynth(sf *meltysynth.SoundFont) *MeltySynth {
	return &MeltySynth{soundFont: sf, gain: 1, reverbSend: true}
}

// LoadSoundFont parses SoundFont 2 data.
func LoadSoundFont(data []byte) (*meltysynth.SoundFont, error) {
	sf, err := meltysynth.NewSoundFont(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse soundfont: %w", err)
	}
	return sf, nil
}

func (m *MeltySynth) Activate(sampleRate int) error {
	settings := meltysynth.NewSynthesizerSettings(int32(sampleRate))
	if m.polyphony > 0 {
		settings.MaximumPolyphony = int32(m.polyphony)
	}
	settings.EnableReverbAndChorus = m.reverbSend
	synth, err := meltysynth.NewSynthesizer(m.soundFont, settings)
	if err != nil {
		return fmt.Errorf("failed to create synthesizer: %w", err)
	}
	m.synth = synth
	return nil
}

func (m *MeltySynth) Deactivate() {
	if m.synth != nil {
		m.synth.NoteOffAll(true)
	}
	m.synth = nil
}

func (m *MeltySynth) Write(msg []byte) {
	if m.synth == nil || len(msg) == 0 {
		return
	}
	if _, ok := chanstate.IdentifyReset(msg); ok {
		m.synth.NoteOffAll(true)
		for ch := int32(0); ch < 16; ch++ {
			m.synth.ProcessMidiMessage(ch, 0xB0, 121, 0)
			m.synth.ProcessMidiMessage(ch, 0xC0, 0, 0)
		}
		return
	}
	status := msg[0]
	if status < 0x80 || status >= 0xF0 {
		return
	}
	var data1, data2 int32
	if len(msg) > 1 {
		data1 = int32(msg[1])
	}
	if len(msg) > 2 {
		data2 = int32(msg[2])
	}
	m.synth.ProcessMidiMessage(int32(status&0x0F), int32(status&0xF0), data1, data2)
}

func (m *MeltySynth) Generate(left, right []float32) {
	if m.synth == nil {
		clear(left)
		clear(right)
		return
	}
	m.synth.Render(left, right)
	if m.gain != 1 {
		for i := range left {
			left[i] *= m.gain
			right[i] *= m.gain
		}
	}
}

// SetOption understands "gain" (linear), "polyphony" and "reverb". The
// last two take effect on the next Activate.
func (m *MeltySynth) SetOption(name, value string) error {
	switch name {
	case "gain":
		g, err := strconv.ParseFloat(value, 32)
		if err != nil || g < 0 {
			return fmt.Errorf("invalid gain %q", value)
		}
		m.gain = float32(g)
	case "polyphony":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid polyphony %q", value)
		}
		m.polyphony = n
	case "reverb":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid reverb %q", value)
		}
		m.reverbSend = b
	default:
		return fmt.Errorf("%w: %s", ErrUnknownOption, name)
	}
	return nil
}
