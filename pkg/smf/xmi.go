package smf

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// iffChunk is one chunk of an IFF container. Lengths are big-endian and
// bodies are padded to an even size.
type iffChunk struct {
	id   string
	body []byte
}

// readChunks splits b into chunks. A chunk whose length runs past the end
// of b is clamped to the bytes that are present.
func readChunks(b []byte) []iffChunk {
	var chunks []iffChunk
	r := NewReader(b)
	for r.Remaining() >= 8 {
		id, _ := r.Read(4)
		length, _ := r.ReadU32BE()
		n := int(min(uint64(length), uint64(r.Remaining())))
		body, _ := r.Read(n)
		chunks = append(chunks, iffChunk{id: string(id), body: body})
		if length&1 != 0 {
			_ = r.Skip(1)
		}
	}
	return chunks
}

// xmiSequence holds the sub-chunks of one FORM XMID.
type xmiSequence struct {
	timb []byte
	rbrn []byte
	evnt []byte
}

// DecodeXMI decodes an XMI file into a format 2 Score holding one track per
// sequence. Note durations are turned into note-off events and the division
// is derived from the first tempo of the first sequence.
func DecodeXMI(data []byte) (*Score, error) {
	if len(data) > MaxFileSize {
		return nil, ErrTooLarge
	}
	if len(data) < 12 {
		return nil, fmt.Errorf("%w: truncated XMI header", ErrEOF)
	}
	var forms [][]byte
	for _, c := range readChunks(data) {
		if len(c.body) < 4 {
			continue
		}
		kind, body := string(c.body[:4]), c.body[4:]
		switch {
		case c.id == "FORM" && kind == "XMID":
			forms = append(forms, body)
		case c.id == "CAT " && kind == "XMID":
			for _, f := range readChunks(body) {
				if f.id == "FORM" && len(f.body) >= 4 && string(f.body[:4]) == "XMID" {
					forms = append(forms, f.body[4:])
				}
			}
		}
	}
	if len(forms) == 0 {
		return nil, fmt.Errorf("%w: no XMID sequence", ErrFormat)
	}

	score := &Score{Format: 2, Division: 60}
	for i, form := range forms {
		var seq xmiSequence
		for _, c := range readChunks(form) {
			switch c.id {
			case "TIMB":
				seq.timb = c.body
			case "RBRN":
				seq.rbrn = c.body
			case "EVNT":
				seq.evnt = c.body
			}
		}
		if seq.evnt == nil {
			if i == 0 {
				return nil, fmt.Errorf("%w: sequence without EVNT chunk", ErrFormat)
			}
			continue
		}
		score.Tracks = append(score.Tracks, decodeXMISequence(score, len(score.Tracks), seq))
	}
	score.Division = xmiDivision(score)
	return score, nil
}

// xmiDivision computes the PPQN that makes the 120 Hz XMI clock play at
// the first tempo found in the first track.
func xmiDivision(s *Score) Division {
	tempo := uint32(500000)
	if len(s.Tracks) > 0 {
		for ev := range s.Tracks[0].Events() {
			if t, ok := ev.Tempo(); ok {
				tempo = t
				break
			}
		}
	}
	ppqn := uint64(tempo) * 3 / 25000
	return Division(max(1, min(ppqn, 0x7FFF)))
}

type xmiBranch struct {
	id     uint16
	offset uint32
}

type pendingOff struct {
	time    uint64
	channel byte
	key     byte
}

type xmiBuilder struct {
	track *Track
	last  uint64
	offs  []pendingOff
}

func (b *xmiBuilder) emit(kind EventKind, time uint64, data []byte) {
	delta := time - b.last
	b.track.Append(Event{Kind: kind, Delta: uint32(min(delta, 0x0FFFFFFF)), Data: data})
	b.last = time
}

// schedule inserts a note-off keeping the list ordered by time. Offs at
// equal times keep their insertion order.
func (b *xmiBuilder) schedule(off pendingOff) {
	i := sort.Search(len(b.offs), func(i int) bool { return b.offs[i].time > off.time })
	b.offs = append(b.offs, pendingOff{})
	copy(b.offs[i+1:], b.offs[i:])
	b.offs[i] = off
}

// flushOffs emits every pending note-off due at or before t.
func (b *xmiBuilder) flushOffs(t uint64) {
	n := 0
	for _, off := range b.offs {
		if off.time > t {
			break
		}
		b.emit(KindMessage, off.time, []byte{0x80 | off.channel, off.key, 0})
		n++
	}
	b.offs = b.offs[n:]
}

func decodeXMISequence(score *Score, index int, seq xmiSequence) *Track {
	b := &xmiBuilder{track: &Track{}}

	if r := NewReader(seq.timb); r.Len() >= 2 {
		count, _ := r.ReadU16LE()
		for i := 0; i < int(count); i++ {
			pair, err := r.Read(2)
			if err != nil {
				break
			}
			b.emit(KindXMITimbre, 0, []byte{pair[0], pair[1]})
		}
	}

	var branches []xmiBranch
	if r := NewReader(seq.rbrn); r.Len() >= 2 {
		count, _ := r.ReadU16LE()
		for i := 0; i < int(count); i++ {
			id, err1 := r.ReadU16LE()
			off, err2 := r.ReadU32LE()
			if err1 != nil || err2 != nil {
				break
			}
			branches = append(branches, xmiBranch{id: id, offset: off})
		}
		sort.SliceStable(branches, func(i, j int) bool { return branches[i].offset < branches[j].offset })
	}

	r := NewReader(seq.evnt)
	var now uint64
	ended := false
	for !ended {
		for len(branches) > 0 && int(branches[0].offset) <= r.Pos() {
			b.flushOffs(now)
			b.emit(KindXMIBranch, now, binary.LittleEndian.AppendUint16(nil, branches[0].id))
			branches = branches[1:]
		}
		c, err := r.ReadByte()
		if err != nil {
			break
		}
		if c < 0x80 {
			// Delays are runs of bytes below 0x80 that add up.
			now += uint64(c)
			continue
		}
		switch c & 0xF0 {
		case 0x90:
			data, err := r.Read(2)
			if err != nil {
				ended = true
				break
			}
			dur, err := r.ReadVLQ()
			if err != nil {
				score.repair(index, RepairTrackAbandoned)
				ended = true
				break
			}
			b.flushOffs(now)
			b.emit(KindMessage, now, []byte{c, data[0], data[1]})
			if data[1] != 0 {
				b.schedule(pendingOff{time: now + uint64(dur), channel: c & 0x0F, key: data[0]})
			}
		case 0x80, 0xA0, 0xB0, 0xE0, 0xC0, 0xD0:
			data, err := r.Read(channelDataLen(c))
			if err != nil {
				ended = true
				break
			}
			b.flushOffs(now)
			b.emit(KindMessage, now, append([]byte{c}, data...))
		default:
			switch c {
			case 0xF0, 0xF7:
				n, err := r.ReadVLQ()
				if err != nil {
					ended = true
					break
				}
				body, err := r.Read(int(n))
				if err != nil {
					ended = true
					break
				}
				b.flushOffs(now)
				if c == 0xF0 {
					msg := append([]byte{0xF0}, body...)
					if msg[len(msg)-1] != 0xF7 {
						msg = append(msg, 0xF7)
					}
					b.emit(KindEscape, now, msg)
				} else {
					b.emit(KindEscape, now, append([]byte(nil), body...))
				}
			case 0xFF:
				typ, err := r.ReadByte()
				if err != nil {
					ended = true
					break
				}
				n, err := r.ReadVLQ()
				if err != nil {
					ended = true
					break
				}
				body, err := r.Read(int(n))
				if err != nil {
					ended = true
					break
				}
				if typ == MetaEndOfTrack {
					ended = true
					break
				}
				b.flushOffs(now)
				b.emit(KindMeta, now, append([]byte{typ}, body...))
			default:
				score.repair(index, RepairTrackAbandoned)
				ended = true
			}
		}
	}

	b.flushOffs(^uint64(0))
	b.emit(KindMeta, max(now, b.last), []byte{MetaEndOfTrack})
	return b.track
}
