package smf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Decode sniffs the container type of data and decodes it.
// RIFF RMID files are unwrapped, IFF FORM files are read as XMI and
// everything else is read as a Standard MIDI File.
func Decode(data []byte) (*Score, error) {
	if len(data) > MaxFileSize {
		return nil, ErrTooLarge
	}
	switch {
	case bytes.HasPrefix(data, []byte("RIFF")):
		body, err := unwrapRMID(data)
		if err != nil {
			return nil, err
		}
		return DecodeSMF(body)
	case bytes.HasPrefix(data, []byte("FORM")):
		return DecodeXMI(data)
	}
	return DecodeSMF(data)
}

// unwrapRMID returns the SMF payload of a RIFF RMID file.
func unwrapRMID(data []byte) ([]byte, error) {
	r := NewReader(data)
	if err := r.Skip(8); err != nil {
		return nil, ErrEOF
	}
	form, err := r.Read(4)
	if err != nil {
		return nil, ErrEOF
	}
	if string(form) != "RMID" {
		return nil, fmt.Errorf("%w: RIFF form %q is not RMID", ErrFormat, form)
	}
	for r.Remaining() >= 8 {
		id, _ := r.Read(4)
		length, _ := r.ReadU32LE()
		n := int(min(uint64(length), uint64(r.Remaining())))
		body, _ := r.Read(n)
		if string(id) == "data" {
			return body, nil
		}
		if length&1 != 0 {
			_ = r.Skip(1)
		}
	}
	return nil, fmt.Errorf("%w: RMID without data chunk", ErrFormat)
}

// DecodeSMF decodes a Standard MIDI File, applying the recovery policies
// documented on the Repair kinds. Only structural damage with no recovery
// is reported as an error.
func DecodeSMF(data []byte) (*Score, error) {
	if len(data) > MaxFileSize {
		return nil, ErrTooLarge
	}
	r := NewReader(data)
	magic, err := r.Read(4)
	if err != nil {
		return nil, fmt.Errorf("%w: missing header", ErrEOF)
	}
	if string(magic) != "MThd" {
		return nil, fmt.Errorf("%w: bad magic %q", ErrFormat, magic)
	}
	headerLen, err := r.ReadU32BE()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated header", ErrEOF)
	}
	if headerLen < 6 {
		return nil, fmt.Errorf("%w: header too short (%d bytes)", ErrFormat, headerLen)
	}
	format, err1 := r.ReadU16BE()
	ntracks, err2 := r.ReadU16BE()
	division, err3 := r.ReadU16BE()
	if err := errors.Join(err1, err2, err3); err != nil {
		return nil, fmt.Errorf("%w: truncated header", ErrEOF)
	}
	if err := r.Skip(int(headerLen - 6)); err != nil {
		return nil, fmt.Errorf("%w: truncated header", ErrEOF)
	}
	if ntracks == 0 {
		return nil, fmt.Errorf("%w: no tracks declared", ErrFormat)
	}
	div := Division(division)
	if div.IsSMPTE() {
		if fps, tpf := div.SMPTE(); fps <= 0 || tpf == 0 {
			return nil, fmt.Errorf("%w: invalid SMPTE division 0x%04x", ErrFormat, division)
		}
	} else if div.TicksPerQuarter() == 0 {
		return nil, fmt.Errorf("%w: zero ticks per quarter note", ErrFormat)
	}

	d := &smfDecoder{
		data:     data,
		r:        r,
		score:    &Score{Format: format, Division: div},
		declared: int(ntracks),
	}
	for i := 0; i < d.declared; i++ {
		track, ok, err := d.readTrack(i)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		d.score.Tracks = append(d.score.Tracks, track)
	}
	if len(d.score.Tracks) < d.declared {
		d.score.repair(len(d.score.Tracks), RepairTruncatedTracks)
	}
	return d.score, nil
}

type smfDecoder struct {
	data     []byte
	r        *Reader
	score    *Score
	declared int
	// running status carries over track boundaries, like hardware players.
	running byte
}

// isChunkTag reports whether b looks like an IFF chunk identifier.
func isChunkTag(b []byte) bool {
	if len(b) < 4 {
		return false
	}
	for _, c := range b[:4] {
		if c < 0x20 || c > 0x7E {
			return false
		}
	}
	return true
}

// readTrack locates and decodes the next MTrk chunk. It returns ok=false
// when no further track can be found.
func (d *smfDecoder) readTrack(index int) (*Track, bool, error) {
	for {
		hdr, err := d.r.Peek(8)
		if err != nil {
			if index == 0 {
				return nil, false, fmt.Errorf("%w: no track data", ErrEOF)
			}
			return nil, false, nil
		}
		if string(hdr[:4]) == "MTrk" {
			break
		}
		if !isChunkTag(hdr) {
			if index == 0 {
				return nil, false, fmt.Errorf("%w: expected MTrk chunk", ErrFormat)
			}
			return nil, false, nil
		}
		length := binary.BigEndian.Uint32(hdr[4:8])
		if uint64(length)+8 > uint64(d.r.Remaining()) {
			if index == 0 {
				return nil, false, fmt.Errorf("%w: expected MTrk chunk", ErrFormat)
			}
			return nil, false, nil
		}
		_ = d.r.Skip(8 + int(length))
		d.score.repair(index, RepairAlienChunk)
	}

	_ = d.r.Skip(4)
	length, _ := d.r.ReadU32BE()
	start := d.r.Pos()
	declaredEnd := -1
	if uint64(length) <= uint64(len(d.data)-start) {
		declaredEnd = start + int(length)
	}

	status := d.running
	if declaredEnd >= 0 && d.lengthTrusted(declaredEnd, index) {
		p := d.parseEvents(index, start, declaredEnd, true)
		if p.outcome != outcomeOverrun {
			if p.outcome == outcomeAbandon && p.badDelta && index == 0 {
				return nil, false, fmt.Errorf("%w: invalid delta time in first track", ErrFormat)
			}
			d.commit(index, p)
			_ = d.r.SetPos(declaredEnd)
			return p.track, true, nil
		}
		d.running = status
	}

	d.score.repair(index, RepairTrackLength)
	p := d.parseEvents(index, start, len(d.data), false)
	if p.outcome == outcomeAbandon && p.badDelta && index == 0 {
		return nil, false, fmt.Errorf("%w: invalid delta time in first track", ErrFormat)
	}
	if index == 0 && p.track.Len() == 0 && p.outcome == outcomeOverrun {
		return nil, false, fmt.Errorf("%w: first track truncated", ErrEOF)
	}
	d.commit(index, p)
	next := p.end
	if p.outcome == outcomeAbandon {
		if i := bytes.Index(d.data[p.end:], []byte("MTrk")); i >= 0 {
			next = p.end + i
		} else {
			next = len(d.data)
		}
	}
	_ = d.r.SetPos(next)
	return p.track, true, nil
}

// lengthTrusted reports whether a declared track end is plausible: it must
// land on the end of the buffer or on another chunk, except for the last
// declared track which may be followed by garbage.
func (d *smfDecoder) lengthTrusted(end, index int) bool {
	if end == len(d.data) || index == d.declared-1 {
		return true
	}
	next := d.data[end:]
	return len(next) >= 8 && isChunkTag(next)
}

func (d *smfDecoder) commit(index int, p *trackParse) {
	for _, k := range p.repairs {
		d.score.repair(index, k)
	}
}

type parseOutcome int

const (
	outcomeEOT     parseOutcome = iota // end-of-track found
	outcomeEnd                         // window exhausted on an event boundary
	outcomeOverrun                     // window ended inside an event
	outcomeAbandon                     // malformed data, rest of track dropped

	outcomeOK parseOutcome = -1 // helper read one complete item
)

type trackParse struct {
	track    *Track
	repairs  []RepairKind
	outcome  parseOutcome
	badDelta bool
	end      int

	carry        uint32
	partial      []byte
	partialDelta uint32
	// partialCarry accumulates the deltas of continuation packets; it is
	// applied to the event following the joined sysex.
	partialCarry uint32
}

func (p *trackParse) add(k RepairKind) { p.repairs = append(p.repairs, k) }

func (p *trackParse) emit(kind EventKind, delta uint32, data []byte) {
	p.track.Append(Event{Kind: kind, Delta: delta + p.carry, Data: data})
	p.carry = 0
}

// flushPartial terminates a pending multi-part sysex.
func (p *trackParse) flushPartial() {
	if p.partial == nil {
		return
	}
	p.emit(KindEscape, p.partialDelta, append(p.partial, 0xF7))
	p.partial = nil
	p.carry += p.partialCarry
	p.partialCarry = 0
	p.add(RepairSysexTerminator)
}

// sysex splits buf (starting with F0) on every F7 terminator, emitting one
// event per complete message and keeping the remainder pending.
func (p *trackParse) sysex(buf []byte, delta uint32, joined bool) {
	var complete [][]byte
	start := 0
	for i, c := range buf {
		if c != 0xF7 {
			continue
		}
		seg := buf[start : i+1]
		if seg[0] != 0xF0 {
			seg = append([]byte{0xF0}, seg...)
		}
		complete = append(complete, seg)
		start = i + 1
	}
	rest := buf[start:]
	if len(rest) > 0 && rest[0] != 0xF0 {
		rest = append([]byte{0xF0}, rest...)
	}
	if len(complete) > 1 || (len(complete) == 1 && len(rest) > 0) {
		p.add(RepairSysexSplit)
	}
	if joined && len(complete) > 0 {
		p.add(RepairSysexJoin)
	}
	for i, seg := range complete {
		if i == 0 {
			p.emit(KindEscape, delta, seg)
		} else {
			p.emit(KindEscape, 0, seg)
		}
	}
	p.partial = nil
	if len(rest) > 0 {
		p.partial = rest
		p.partialDelta = delta
		if len(complete) > 0 {
			p.partialDelta = 0
		}
		return
	}
	p.carry += p.partialCarry
	p.partialCarry = 0
}

func channelDataLen(status byte) int {
	switch status & 0xF0 {
	case 0xC0, 0xD0:
		return 1
	}
	return 2
}

// parseEvents decodes events of one track inside data[start:end].
// When trusted is false the window extends to the end of the file and the
// real end of the track is the end-of-track event.
func (d *smfDecoder) parseEvents(index, start, end int, trusted bool) *trackParse {
	p := &trackParse{track: &Track{}}
	r := NewReader(d.data[:end])
	_ = r.SetPos(start)
	afterEOT := false

	finish := func(o parseOutcome) *trackParse {
		p.flushPartial()
		if afterEOT {
			p.emit(KindMeta, 0, []byte{MetaEndOfTrack})
		}
		p.outcome = o
		p.end = r.Pos()
		return p
	}

	for {
		if r.Remaining() == 0 {
			if afterEOT {
				return finish(outcomeEOT)
			}
			return finish(outcomeEnd)
		}
		if afterEOT {
			if next, err := r.Peek(4); err == nil && string(next) == "MTrk" {
				return finish(outcomeEOT)
			}
			save := r.Pos()
			delta, err := r.ReadVLQ()
			if err != nil {
				_ = r.SetPos(save)
				return finish(outcomeEOT)
			}
			if b, err := r.ReadByte(); err != nil || b != 0xFF {
				_ = r.SetPos(save)
				return finish(outcomeEOT)
			}
			meta, ok := d.readMeta(r)
			if !ok {
				_ = r.SetPos(save)
				return finish(outcomeEOT)
			}
			if meta[0] == MetaEndOfTrack {
				p.carry += delta
				p.add(RepairDuplicateEOT)
				continue
			}
			p.emit(KindMeta, delta, meta)
			p.add(RepairTrailingMeta)
			continue
		}

		delta, err := r.ReadVLQ()
		if err != nil {
			if errors.Is(err, ErrFormat) {
				p.badDelta = true
				p.add(RepairTrackAbandoned)
				return finish(outcomeAbandon)
			}
			return finish(outcomeOverrun)
		}
		b, err := r.PeekByte()
		if err != nil {
			return finish(outcomeOverrun)
		}

		if b == 0xF7 && p.partial != nil {
			_ = r.Skip(1)
			payload, o := d.readSysexPayload(r, trusted, p)
			if o != outcomeOK && o != outcomeEnd {
				return finish(o)
			}
			p.partialCarry += delta
			buf := append(p.partial, payload...)
			p.sysex(buf, p.partialDelta, true)
			if o == outcomeEnd {
				return finish(o)
			}
			continue
		}
		p.flushPartial()

		switch {
		case b < 0x80:
			if d.running == 0 {
				p.add(RepairTrackAbandoned)
				return finish(outcomeAbandon)
			}
			msg, o := readChannelData(r, d.running)
			if o != outcomeOK {
				if o == outcomeAbandon {
					p.add(RepairTrackAbandoned)
				}
				return finish(o)
			}
			p.emit(KindMessage, delta, msg)

		case b < 0xF0:
			_ = r.Skip(1)
			d.running = b
			msg, o := readChannelData(r, b)
			if o != outcomeOK {
				if o == outcomeAbandon {
					p.add(RepairTrackAbandoned)
				}
				return finish(o)
			}
			p.emit(KindMessage, delta, msg)

		case b == 0xF0:
			_ = r.Skip(1)
			payload, o := d.readSysexPayload(r, trusted, p)
			if o != outcomeOK {
				if o == outcomeEnd {
					p.sysex(append([]byte{0xF0}, payload...), delta, false)
					return finish(outcomeEnd)
				}
				return finish(o)
			}
			p.sysex(append([]byte{0xF0}, payload...), delta, false)

		case b == 0xF7:
			_ = r.Skip(1)
			payload, o := d.readSysexPayload(r, trusted, p)
			if o != outcomeOK {
				return finish(o)
			}
			p.emit(KindEscape, delta, append([]byte(nil), payload...))

		case b == 0xFF:
			_ = r.Skip(1)
			meta, ok := d.readMetaTolerant(r, p)
			if !ok {
				return finish(outcomeOverrun)
			}
			if meta[0] == MetaEndOfTrack {
				// Emitted by finish so that accepted trailing metas stay
				// ahead of it.
				afterEOT = true
				p.carry += delta
				continue
			}
			p.emit(KindMeta, delta, meta)

		default:
			p.add(RepairTrackAbandoned)
			return finish(outcomeAbandon)
		}
	}
}

// readChannelData reads the data bytes of a channel message whose status
// is already known. The returned slice includes the status byte.
func readChannelData(r *Reader, status byte) ([]byte, parseOutcome) {
	n := channelDataLen(status)
	data, err := r.Read(n)
	if err != nil {
		return nil, outcomeOverrun
	}
	msg := make([]byte, 0, n+1)
	msg = append(msg, status)
	for _, c := range data {
		if c&0x80 != 0 {
			return nil, outcomeAbandon
		}
		msg = append(msg, c)
	}
	return msg, outcomeOK
}

// readSysexPayload reads a length-prefixed sysex body. A body cut short by
// the end of the file is returned as is with outcomeEnd; the caller
// terminates it.
func (d *smfDecoder) readSysexPayload(r *Reader, trusted bool, p *trackParse) ([]byte, parseOutcome) {
	n, err := r.ReadVLQ()
	if err != nil {
		if errors.Is(err, ErrFormat) {
			p.add(RepairTrackAbandoned)
			return nil, outcomeAbandon
		}
		return nil, outcomeOverrun
	}
	body, err := r.Read(int(n))
	if err == nil {
		return body, outcomeOK
	}
	if trusted {
		return nil, outcomeOverrun
	}
	rest, _ := r.Read(r.Remaining())
	if n := len(rest); n > 0 && rest[n-1] == 0xF7 {
		rest = rest[:n-1]
	}
	return rest, outcomeEnd
}

// readMeta reads the type, length and payload of a meta event whose FF
// byte was consumed.
func (d *smfDecoder) readMeta(r *Reader) ([]byte, bool) {
	save := r.Pos()
	typ, err := r.ReadByte()
	if err != nil {
		return nil, false
	}
	n, err := r.ReadVLQ()
	if err != nil {
		_ = r.SetPos(save)
		return nil, false
	}
	payload, err := r.Read(int(n))
	if err != nil {
		_ = r.SetPos(save)
		return nil, false
	}
	meta := make([]byte, 1+len(payload))
	meta[0] = typ
	copy(meta[1:], payload)
	return meta, true
}

// readMetaTolerant is readMeta accepting an end-of-track with its length
// byte omitted.
func (d *smfDecoder) readMetaTolerant(r *Reader, p *trackParse) ([]byte, bool) {
	typ, err := r.PeekByte()
	if err != nil {
		return nil, false
	}
	if typ == MetaEndOfTrack {
		next, err := r.Peek(5)
		if err != nil && r.Remaining() == 1 || err == nil && string(next[1:5]) == "MTrk" {
			_ = r.Skip(1)
			p.add(RepairMissingEOTLength)
			return []byte{MetaEndOfTrack}, true
		}
	}
	return d.readMeta(r)
}
