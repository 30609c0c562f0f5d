// Package smf reads and writes Standard MIDI Files, RIFF RMID wrappers and
// XMI (Extended MIDI) files.
//
// A decoded file is a Score. Each Track stores its events packed in a single
// byte buffer; iterating a track yields Event values whose Data borrows from
// that buffer, so a Score must not be modified while its events are in use.
package smf

import (
	"encoding/binary"
	"fmt"
	"iter"
)

// EventKind discriminates the payload carried by an Event.
type EventKind uint8

const (
	// KindMeta is a meta event. Data[0] is the meta type, Data[1:] the payload.
	KindMeta EventKind = iota
	// KindMessage is a channel message including its status byte.
	KindMessage
	// KindEscape is either a system exclusive message stored with its F0
	// prefix and F7 terminator, or a raw F7 escape stored without prefix.
	KindEscape
	// KindXMITimbre is an XMI timbre declaration. Data is {patch, bank}.
	KindXMITimbre
	// KindXMIBranch is an XMI branch point. Data is the 16-bit id,
	// little-endian.
	KindXMIBranch
)

func (k EventKind) String() string {
	switch k {
	case KindMeta:
		return "meta"
	case KindMessage:
		return "message"
	case KindEscape:
		return "escape"
	case KindXMITimbre:
		return "xmi-timbre"
	case KindXMIBranch:
		return "xmi-branch"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Meta event types used by the decoder and the sequencer.
const (
	MetaSequenceNumber = 0x00
	MetaText           = 0x01
	MetaCopyright      = 0x02
	MetaTrackName      = 0x03
	MetaInstrument     = 0x04
	MetaLyric          = 0x05
	MetaMarker         = 0x06
	MetaCuePoint       = 0x07
	MetaChannelPrefix  = 0x20
	MetaPort           = 0x21
	MetaEndOfTrack     = 0x2F
	MetaTempo          = 0x51
	MetaSMPTEOffset    = 0x54
	MetaTimeSignature  = 0x58
	MetaKeySignature   = 0x59
	MetaSequencer      = 0x7F
)

// Event is one timed occurrence in a track.
type Event struct {
	Kind  EventKind
	Delta uint32
	Data  []byte
}

// IsMeta reports whether e is a meta event of type t.
func (e Event) IsMeta(t byte) bool {
	return e.Kind == KindMeta && len(e.Data) > 0 && e.Data[0] == t
}

// MetaType returns the meta type byte, or 0 for non-meta events.
func (e Event) MetaType() byte {
	if e.Kind != KindMeta || len(e.Data) == 0 {
		return 0
	}
	return e.Data[0]
}

// MetaPayload returns the payload of a meta event.
func (e Event) MetaPayload() []byte {
	if e.Kind != KindMeta || len(e.Data) == 0 {
		return nil
	}
	return e.Data[1:]
}

// BranchID returns the id of an XMI branch point.
func (e Event) BranchID() (uint16, bool) {
	if e.Kind != KindXMIBranch || len(e.Data) < 2 {
		return 0, false
	}
	return binary.LittleEndian.Uint16(e.Data), true
}

// Tempo returns the microseconds per quarter note carried by a tempo meta.
func (e Event) Tempo() (uint32, bool) {
	if !e.IsMeta(MetaTempo) || len(e.Data) < 4 {
		return 0, false
	}
	return uint32(e.Data[1])<<16 | uint32(e.Data[2])<<8 | uint32(e.Data[3]), true
}

// MetaEvent builds a meta event.
func MetaEvent(delta uint32, metaType byte, payload []byte) Event {
	data := make([]byte, 1+len(payload))
	data[0] = metaType
	copy(data[1:], payload)
	return Event{Kind: KindMeta, Delta: delta, Data: data}
}

// TempoEvent builds a tempo meta event.
func TempoEvent(delta, usPerQuarter uint32) Event {
	return MetaEvent(delta, MetaTempo, []byte{byte(usPerQuarter >> 16), byte(usPerQuarter >> 8), byte(usPerQuarter)})
}

// MessageEvent builds a channel message event.
func MessageEvent(delta uint32, msg ...byte) Event {
	return Event{Kind: KindMessage, Delta: delta, Data: append([]byte(nil), msg...)}
}

// EndOfTrack builds an end-of-track meta event.
func EndOfTrack(delta uint32) Event {
	return MetaEvent(delta, MetaEndOfTrack, nil)
}

const recordHeaderSize = 9

// Track is an ordered event sequence stored in a packed buffer of records
// laid out as kind u8 | delta u32le | size u32le | data.
type Track struct {
	buf   []byte
	count int
}

// NewTrack builds a track from events.
func NewTrack(events ...Event) *Track {
	t := &Track{}
	for _, ev := range events {
		t.Append(ev)
	}
	return t
}

// Append copies ev into the track buffer.
func (t *Track) Append(ev Event) {
	var hdr [recordHeaderSize]byte
	hdr[0] = byte(ev.Kind)
	binary.LittleEndian.PutUint32(hdr[1:5], ev.Delta)
	binary.LittleEndian.PutUint32(hdr[5:9], uint32(len(ev.Data)))
	t.buf = append(t.buf, hdr[:]...)
	t.buf = append(t.buf, ev.Data...)
	t.count++
}

// Len returns the number of events.
func (t *Track) Len() int { return t.count }

// Size returns the size in bytes of the packed buffer.
func (t *Track) Size() int { return len(t.buf) }

// Iter returns an iterator positioned at the first event.
func (t *Track) Iter() *TrackIterator {
	return &TrackIterator{track: t}
}

// Events iterates over every event of the track in order.
func (t *Track) Events() iter.Seq[Event] {
	return func(yield func(Event) bool) {
		it := t.Iter()
		for {
			ev, ok := it.Next()
			if !ok || !yield(ev) {
				return
			}
		}
	}
}

// Last returns the last event of the track.
func (t *Track) Last() (Event, bool) {
	var last Event
	found := false
	for ev := range t.Events() {
		last, found = ev, true
	}
	return last, found
}

// TrackIterator walks a Track. It never reads past the stored length.
type TrackIterator struct {
	track *Track
	pos   int
}

// Next returns the next event, or false at the end of the track.
func (it *TrackIterator) Next() (Event, bool) {
	buf := it.track.buf
	if it.pos+recordHeaderSize > len(buf) {
		return Event{}, false
	}
	hdr := buf[it.pos : it.pos+recordHeaderSize]
	size := int(binary.LittleEndian.Uint32(hdr[5:9]))
	start := it.pos + recordHeaderSize
	if size < 0 || size > len(buf)-start {
		it.pos = len(buf)
		return Event{}, false
	}
	ev := Event{
		Kind:  EventKind(hdr[0]),
		Delta: binary.LittleEndian.Uint32(hdr[1:5]),
		Data:  buf[start : start+size : start+size],
	}
	it.pos = start + size
	return ev, true
}

// Reset rewinds the iterator to the first event.
func (it *TrackIterator) Reset() { it.pos = 0 }

// Division is the raw delta-time unit word of the MThd header.
type Division uint16

// IsSMPTE reports whether the division is expressed in SMPTE frames.
func (d Division) IsSMPTE() bool { return d&0x8000 != 0 }

// TicksPerQuarter returns the PPQN, or 0 for SMPTE divisions.
func (d Division) TicksPerQuarter() uint16 {
	if d.IsSMPTE() {
		return 0
	}
	return uint16(d)
}

// SMPTE returns frames per second (29.97 for the -29 code) and ticks per
// frame. Both are zero for PPQN divisions.
func (d Division) SMPTE() (fps float64, ticksPerFrame uint8) {
	if !d.IsSMPTE() {
		return 0, 0
	}
	code := -int8(uint8(d >> 8))
	fps = float64(code)
	if code == 29 {
		fps = 30000.0 / 1001.0
	}
	return fps, uint8(d)
}

func (d Division) String() string {
	if d.IsSMPTE() {
		fps, tpf := d.SMPTE()
		return fmt.Sprintf("SMPTE %.2f fps, %d ticks/frame", fps, tpf)
	}
	return fmt.Sprintf("%d ticks/quarter", d.TicksPerQuarter())
}

// RepairKind identifies a recovery applied by the decoder.
type RepairKind int

const (
	RepairTruncatedTracks RepairKind = iota
	RepairTrackLength
	RepairMissingEOTLength
	RepairDuplicateEOT
	RepairTrailingMeta
	RepairSysexSplit
	RepairSysexJoin
	RepairSysexTerminator
	RepairTrackAbandoned
	RepairAlienChunk
)

var repairNames = [...]string{
	RepairTruncatedTracks:  "truncated track count",
	RepairTrackLength:      "untrusted track length",
	RepairMissingEOTLength: "end of track without length",
	RepairDuplicateEOT:     "duplicate end of track",
	RepairTrailingMeta:     "meta after end of track",
	RepairSysexSplit:       "sysex split",
	RepairSysexJoin:        "sysex continuation joined",
	RepairSysexTerminator:  "sysex terminator synthesized",
	RepairTrackAbandoned:   "track abandoned",
	RepairAlienChunk:       "alien chunk skipped",
}

func (k RepairKind) String() string {
	if k >= 0 && int(k) < len(repairNames) {
		return repairNames[k]
	}
	return fmt.Sprintf("repair(%d)", int(k))
}

// Repair records one recovery applied while decoding.
type Repair struct {
	Track int
	Kind  RepairKind
}

// Score is a whole parsed file.
type Score struct {
	Format   uint16
	Division Division
	Tracks   []*Track
	// Repairs lists the recoveries the decoder applied, in order.
	Repairs []Repair
}

// TrackCount returns the number of tracks actually present.
func (s *Score) TrackCount() int { return len(s.Tracks) }

// HasRepair reports whether a repair of kind k was applied.
func (s *Score) HasRepair(k RepairKind) bool {
	for _, r := range s.Repairs {
		if r.Kind == k {
			return true
		}
	}
	return false
}

func (s *Score) repair(track int, k RepairKind) {
	s.Repairs = append(s.Repairs, Repair{Track: track, Kind: k})
}
