// Package chanstate mirrors the state a General MIDI device holds for each of
// its 16 channels and recognizes the system reset messages of the common
// instrument specifications.
package chanstate

import (
	"bytes"

	gomidi "gitlab.com/gomidi/midi/v2"

	"github.com/zurustar/smfplay/pkg/seek"
)

// Spec identifies the instrument specification selected by the last reset.
type Spec int

const (
	SpecNone Spec = iota
	SpecGM1
	SpecGM2
	SpecGS
	SpecSC88
	SpecXG
	SpecMT32
)

var specNames = [...]string{
	SpecNone: "none",
	SpecGM1:  "GM",
	SpecGM2:  "GM2",
	SpecGS:   "GS",
	SpecSC88: "SC-88",
	SpecXG:   "XG",
	SpecMT32: "MT-32",
}

func (s Spec) String() string {
	if s < 0 || int(s) >= len(specNames) {
		return "unknown"
	}
	return specNames[s]
}

// PercussionChannel is channel 10, zero based.
const PercussionChannel = 9

const (
	ccBankMSB    = 0
	ccDataMSB    = 6
	ccDataLSB    = 38
	ccRPNLSB     = 100
	ccRPNMSB     = 101
	ccNRPNLSB    = 98
	ccNRPNMSB    = 99
	ccAllSound   = 120
	ccResetAll   = 121
	ccAllNotes   = 123
	bendCenter   = 8192
	bankGM2Drums = 120
	bankXGDrums  = 127
)

// defaultControllers holds the controller values after a reset.
var defaultControllers = func() [128]uint8 {
	var c [128]uint8
	c[7] = 100
	c[8] = 64
	c[10] = 64
	c[11] = 127
	for cc := 71; cc <= 79; cc++ {
		c[cc] = 64
	}
	c[91] = 40
	c[ccNRPNLSB], c[ccNRPNMSB] = 127, 127
	c[ccRPNLSB], c[ccRPNMSB] = 127, 127
	return c
}()

// Channel is the visible state of one MIDI channel.
type Channel struct {
	// Keys holds the velocity of each sounding key, 0 when released.
	Keys        [128]uint8
	Controllers [128]uint8
	PitchBend   uint16
	Program     uint8
	Percussion  bool

	// BendRange is the pitch bend sensitivity in semitones (RPN 0).
	BendRange float64
	// FineTune is in cents (RPN 1), CoarseTune in semitones (RPN 2).
	FineTune   float64
	CoarseTune int

	nrpnActive bool
}

func (c *Channel) reset(ch int) {
	*c = Channel{
		Controllers: defaultControllers,
		PitchBend:   bendCenter,
		Percussion:  ch == PercussionChannel,
		BendRange:   2,
	}
}

// ActiveKeys returns the number of sounding keys.
func (c *Channel) ActiveKeys() int {
	n := 0
	for _, v := range c.Keys {
		if v > 0 {
			n++
		}
	}
	return n
}

func (c *Channel) releaseAll() {
	c.Keys = [128]uint8{}
}

func (c *Channel) resetControllers() {
	for cc := range c.Controllers {
		if !seek.Protected(uint8(cc)) {
			c.Controllers[cc] = defaultControllers[cc]
		}
	}
	c.PitchBend = bendCenter
	c.nrpnActive = false
}

func (c *Channel) controller(cc, value uint8) {
	switch cc {
	case ccResetAll:
		c.resetControllers()
		return
	case ccAllSound, ccAllNotes, 124, 125, 126, 127:
		c.releaseAll()
	case ccNRPNLSB, ccNRPNMSB:
		c.nrpnActive = true
	case ccRPNLSB, ccRPNMSB:
		c.nrpnActive = false
	}
	c.Controllers[cc] = value
	if cc == ccDataMSB || cc == ccDataLSB {
		c.dataEntry()
	}
}

// dataEntry applies CC 6/38 to the selected registered parameter.
func (c *Channel) dataEntry() {
	if c.nrpnActive || c.Controllers[ccRPNMSB] != 0 {
		return
	}
	msb, lsb := c.Controllers[ccDataMSB], c.Controllers[ccDataLSB]
	switch c.Controllers[ccRPNLSB] {
	case 0:
		c.BendRange = float64(msb) + float64(lsb)/100
	case 1:
		v := int(msb)<<7 | int(lsb)
		c.FineTune = float64(v-bendCenter) * 100 / bendCenter
	case 2:
		c.CoarseTune = int(msb) - 64
	}
}

// State is the state of all 16 channels.
type State struct {
	Channels [16]Channel
	// Spec is the specification selected by the last recognized reset.
	Spec Spec
}

// New returns a State holding General MIDI defaults.
func New() *State {
	s := &State{}
	s.Reset(SpecNone)
	return s
}

// Reset restores every channel to its defaults and records spec.
func (s *State) Reset(spec Spec) {
	for i := range s.Channels {
		s.Channels[i].reset(i)
	}
	s.Spec = spec
}

// Handle updates the state with one MIDI message.
func (s *State) Handle(msg []byte) {
	if len(msg) == 0 {
		return
	}
	if spec, ok := IdentifyReset(msg); ok {
		s.Reset(spec)
		return
	}
	if !complete(msg) {
		return
	}
	m := gomidi.Message(msg)
	var ch, key, vel, cc, val, prog uint8
	var rel int16
	var abs uint16
	var body []byte
	switch {
	case m.GetSysEx(&body):
		s.rolandSysex(body)
	case m.GetNoteStart(&ch, &key, &vel):
		s.Channels[ch].Keys[key&0x7F] = vel & 0x7F
	case m.GetNoteEnd(&ch, &key):
		s.Channels[ch].Keys[key&0x7F] = 0
	case m.GetControlChange(&ch, &cc, &val):
		s.Channels[ch].controller(cc&0x7F, val&0x7F)
	case m.GetProgramChange(&ch, &prog):
		c := &s.Channels[ch]
		c.Program = prog & 0x7F
		if bank := c.Controllers[ccBankMSB]; bank == bankGM2Drums || bank == bankXGDrums {
			c.Percussion = true
		}
	case m.GetPitchBend(&ch, &rel, &abs):
		s.Channels[ch].PitchBend = abs & 0x3FFF
	}
}

// complete reports whether a channel message carries all of its data bytes.
func complete(msg []byte) bool {
	switch msg[0] & 0xF0 {
	case 0xC0, 0xD0:
		return len(msg) >= 2
	case 0x80, 0x90, 0xA0, 0xB0, 0xE0:
		return len(msg) >= 3
	}
	return true
}

// rolandSysex handles the GS "use for rhythm part" parameter. body is the
// sysex payload between F0 and F7: 41 dev 42 12 40 1p 15 vv sum.
func (s *State) rolandSysex(body []byte) {
	if len(body) < 9 || body[0] != 0x41 || body[2] != 0x42 || body[3] != 0x12 {
		return
	}
	if body[4] != 0x40 || body[5]&0xF0 != 0x10 || body[6] != 0x15 {
		return
	}
	s.Channels[gsPartChannel(body[5]&0x0F)].Percussion = body[7] != 0
}

// gsPartChannel maps a GS block number to its channel: block 0 is part 10,
// blocks 1-9 are parts 1-9 and the rest follow in order.
func gsPartChannel(block byte) int {
	switch {
	case block == 0:
		return PercussionChannel
	case block <= 9:
		return int(block) - 1
	default:
		return int(block)
	}
}

// IdentifyReset classifies msg as a system reset.
func IdentifyReset(msg []byte) (Spec, bool) {
	if len(msg) == 1 && msg[0] == 0xFF {
		return SpecGM1, true
	}
	if len(msg) < 6 || msg[0] != 0xF0 {
		return SpecNone, false
	}
	switch msg[1] {
	case 0x7E:
		// Universal non-realtime: F0 7E dd 09 01|03 F7
		if msg[3] == 0x09 && msg[5] == 0xF7 {
			switch msg[4] {
			case 0x01:
				return SpecGM1, true
			case 0x03:
				return SpecGM2, true
			}
		}
	case 0x43:
		if len(msg) >= 9 && msg[2]&0xF0 == 0x10 && msg[3] == 0x4C &&
			msg[4] == 0x00 && msg[5] == 0x00 && (msg[6] == 0x7E || msg[6] == 0x7F) &&
			msg[7] == 0x00 && msg[8] == 0xF7 {
			return SpecXG, true
		}
	case 0x41:
		if msg[2]&0xF0 != 0x10 {
			break
		}
		switch {
		case bytes.HasPrefix(msg[3:], gsReset):
			return SpecGS, true
		case bytes.HasPrefix(msg[3:], scModeSet):
			return SpecSC88, true
		case bytes.HasPrefix(msg[3:], mt32Reset):
			return SpecMT32, true
		}
	}
	return SpecNone, false
}

// Roland reset bodies following the device id.
var (
	gsReset   = []byte{0x42, 0x12, 0x40, 0x00, 0x7F}
	scModeSet = []byte{0x42, 0x12, 0x00, 0x00, 0x7F}
	mt32Reset = []byte{0x16, 0x12, 0x7F}
)
