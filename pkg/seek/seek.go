// Package seek reduces the messages skipped by a seek to the minimal burst
// that leaves a MIDI device in the same controller, program and bend state.
package seek

import "slices"

// Controller numbers with special handling.
const (
	ccDataEntryMSB = 6
	ccDataEntryLSB = 38
	ccDataInc      = 96
	ccDataDec      = 97
	ccNRPNLSB      = 98
	ccNRPNMSB      = 99
	ccRPNLSB       = 100
	ccRPNMSB       = 101
	ccResetAll     = 121
)

// protected lists the controllers that survive a reset-all-controllers.
var protected = func() [128]bool {
	var p [128]bool
	for _, cc := range []int{0, 32, 7, 10, 120, 122, 123, 124, 125, 126, 127} {
		p[cc] = true
	}
	for cc := 70; cc <= 79; cc++ {
		p[cc] = true
	}
	for cc := 91; cc <= 95; cc++ {
		p[cc] = true
	}
	return p
}()

// Protected reports whether cc keeps its value across CC 121.
func Protected(cc uint8) bool { return cc < 128 && protected[cc] }

// register is one parameter-number selection; -1 means never set.
type register struct {
	msb, lsb int16
}

func (r register) known() bool { return r.msb >= 0 && r.lsb >= 0 }

type paramKey struct {
	nrpn     bool
	msb, lsb uint8
}

// paramSlot is the data entry recorded for one (N)RPN.
type paramSlot struct {
	key      paramKey
	msb, lsb int16
}

type channel struct {
	cc       [128]int16
	resetAll bool
	params   []paramSlot

	rpn, nrpn  register
	nrpnActive bool

	program int16
	bend    int32
}

func (c *channel) clear() {
	for i := range c.cc {
		c.cc[i] = -1
	}
	c.resetAll = false
	c.params = c.params[:0]
	c.rpn = register{-1, -1}
	c.nrpn = register{-1, -1}
	c.nrpnActive = false
	c.program = -1
	c.bend = -1
}

func (c *channel) selection() (register, bool) {
	if c.nrpnActive {
		return c.nrpn, true
	}
	return c.rpn, false
}

func (c *channel) empty() bool {
	if c.resetAll || len(c.params) > 0 || c.program >= 0 || c.bend >= 0 {
		return false
	}
	if c.rpn.msb >= 0 || c.rpn.lsb >= 0 || c.nrpn.msb >= 0 || c.nrpn.lsb >= 0 {
		return false
	}
	for _, v := range c.cc {
		if v >= 0 {
			return false
		}
	}
	return true
}

// Accumulator collects skipped messages. The zero value is not ready for
// use; call New.
type Accumulator struct {
	ch [16]channel
}

// New returns an empty Accumulator.
func New() *Accumulator {
	a := &Accumulator{}
	for i := range a.ch {
		a.ch[i].clear()
	}
	return a
}

// Empty reports whether nothing is waiting to be flushed.
func (a *Accumulator) Empty() bool {
	for i := range a.ch {
		if !a.ch[i].empty() {
			return false
		}
	}
	return true
}

// Add records msg. System exclusive messages, raw escapes and the system
// reset byte act as barriers: the pending state is flushed to out and msg is
// passed through. Notes, pressure and data increment/decrement are dropped.
func (a *Accumulator) Add(msg []byte, out func([]byte)) {
	if len(msg) == 0 {
		return
	}
	status := msg[0]
	if status < 0x80 || status >= 0xF0 {
		a.Flush(out)
		out(msg)
		return
	}
	c := &a.ch[status&0x0F]
	switch status & 0xF0 {
	case 0xB0:
		if len(msg) >= 3 {
			a.controller(c, msg[1]&0x7F, msg[2]&0x7F)
		}
	case 0xC0:
		if len(msg) >= 2 {
			c.program = int16(msg[1] & 0x7F)
		}
	case 0xE0:
		if len(msg) >= 3 {
			c.bend = int32(msg[1]&0x7F) | int32(msg[2]&0x7F)<<7
		}
	}
}

func (a *Accumulator) controller(c *channel, cc, value uint8) {
	switch cc {
	case ccResetAll:
		for i := range c.cc {
			if !protected[i] {
				c.cc[i] = -1
			}
		}
		c.params = c.params[:0]
		c.rpn = register{-1, -1}
		c.nrpn = register{-1, -1}
		c.nrpnActive = false
		c.bend = -1
		c.resetAll = true
	case ccRPNMSB:
		c.rpn.msb, c.nrpnActive = int16(value), false
	case ccRPNLSB:
		c.rpn.lsb, c.nrpnActive = int16(value), false
	case ccNRPNMSB:
		c.nrpn.msb, c.nrpnActive = int16(value), true
	case ccNRPNLSB:
		c.nrpn.lsb, c.nrpnActive = int16(value), true
	case ccDataEntryMSB, ccDataEntryLSB:
		sel, nrpn := c.selection()
		if !sel.known() {
			return
		}
		key := paramKey{nrpn: nrpn, msb: uint8(sel.msb), lsb: uint8(sel.lsb)}
		i := slices.IndexFunc(c.params, func(p paramSlot) bool { return p.key == key })
		if i < 0 {
			c.params = append(c.params, paramSlot{key: key, msb: -1, lsb: -1})
			i = len(c.params) - 1
		}
		if cc == ccDataEntryMSB {
			c.params[i].msb = int16(value)
		} else {
			c.params[i].lsb = int16(value)
		}
	case ccDataInc, ccDataDec:
	default:
		c.cc[cc] = int16(value)
	}
}

// Flush emits the accumulated state of every channel to out and clears it.
func (a *Accumulator) Flush(out func([]byte)) {
	for ch := range a.ch {
		c := &a.ch[ch]
		if c.empty() {
			continue
		}
		a.flushChannel(byte(ch), c, out)
		c.clear()
	}
}

func (a *Accumulator) flushChannel(ch byte, c *channel, out func([]byte)) {
	cc := func(n byte, v int16) { out([]byte{0xB0 | ch, n, byte(v)}) }
	selectParam := func(nrpn bool, r register) {
		msbCC, lsbCC := byte(ccRPNMSB), byte(ccRPNLSB)
		if nrpn {
			msbCC, lsbCC = ccNRPNMSB, ccNRPNLSB
		}
		if r.msb >= 0 {
			cc(msbCC, r.msb)
		}
		if r.lsb >= 0 {
			cc(lsbCC, r.lsb)
		}
	}

	if c.resetAll {
		cc(ccResetAll, 0)
	}
	for n, v := range c.cc {
		if v >= 0 {
			cc(byte(n), v)
		}
	}

	var last *paramKey
	for i := range c.params {
		p := &c.params[i]
		selectParam(p.key.nrpn, register{int16(p.key.msb), int16(p.key.lsb)})
		if p.msb >= 0 {
			cc(ccDataEntryMSB, p.msb)
		}
		if p.lsb >= 0 {
			cc(ccDataEntryLSB, p.lsb)
		}
		last = &p.key
	}

	sel, nrpn := c.selection()
	if sel.msb >= 0 || sel.lsb >= 0 {
		same := last != nil && sel.known() && *last == paramKey{nrpn: nrpn, msb: uint8(sel.msb), lsb: uint8(sel.lsb)}
		if !same {
			selectParam(nrpn, sel)
		}
	}

	if c.bend >= 0 {
		out([]byte{0xE0 | ch, byte(c.bend & 0x7F), byte(c.bend >> 7)})
	}
	if c.program >= 0 {
		out([]byte{0xC0 | ch, byte(c.program)})
	}
}
