package smf

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Encode serializes s as a Standard MIDI File.
//
// Channel messages use running status within a track; the status is
// forgotten at each track start and after every meta or sysex event.
// XMI-only events are dropped and their delta is added to the next event.
// A track that does not end with an end-of-track event gets one.
func Encode(s *Score) ([]byte, error) {
	if len(s.Tracks) == 0 {
		return nil, fmt.Errorf("%w: score has no tracks", ErrFormat)
	}
	if len(s.Tracks) > 0xFFFF {
		return nil, fmt.Errorf("%w: too many tracks (%d)", ErrFormat, len(s.Tracks))
	}

	out := make([]byte, 0, 14+totalSize(s))
	out = append(out, "MThd"...)
	out = binary.BigEndian.AppendUint32(out, 6)
	out = binary.BigEndian.AppendUint16(out, s.Format)
	out = binary.BigEndian.AppendUint16(out, uint16(len(s.Tracks)))
	out = binary.BigEndian.AppendUint16(out, uint16(s.Division))

	for i, t := range s.Tracks {
		out = append(out, "MTrk"...)
		lenAt := len(out)
		out = append(out, 0, 0, 0, 0)
		var err error
		out, err = appendTrack(out, t)
		if err != nil {
			return nil, fmt.Errorf("track %d: %w", i, err)
		}
		binary.BigEndian.PutUint32(out[lenAt:], uint32(len(out)-lenAt-4))
	}
	return out, nil
}

// WriteTo writes the SMF encoding of s to w.
func (s *Score) WriteTo(w io.Writer) (int64, error) {
	b, err := Encode(s)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}

func totalSize(s *Score) int {
	n := 0
	for _, t := range s.Tracks {
		n += t.Size() + 8
	}
	return n
}

// maxDelta is the largest value a 4-byte VLQ can carry.
const maxDelta = 0x0FFFFFFF

func appendTrack(body []byte, t *Track) ([]byte, error) {
	var running byte
	var carry uint32
	ended := false

	for ev := range t.Events() {
		delta := uint64(ev.Delta) + uint64(carry)
		carry = 0
		if ev.Kind > KindEscape {
			if delta > maxDelta {
				return nil, fmt.Errorf("%w: delta %d out of range", ErrFormat, delta)
			}
			carry = uint32(delta)
			continue
		}
		if delta > maxDelta {
			return nil, fmt.Errorf("%w: delta %d out of range", ErrFormat, delta)
		}
		body = AppendVLQ(body, uint32(delta))
		switch ev.Kind {
		case KindMessage:
			if len(ev.Data) == 0 || ev.Data[0] < 0x80 {
				return nil, fmt.Errorf("%w: channel message without status", ErrFormat)
			}
			status := ev.Data[0]
			if status == running && status < 0xF0 {
				body = append(body, ev.Data[1:]...)
			} else {
				body = append(body, ev.Data...)
				running = status
				if status >= 0xF0 {
					running = 0
				}
			}
		case KindMeta:
			if len(ev.Data) == 0 {
				return nil, fmt.Errorf("%w: empty meta event", ErrFormat)
			}
			body = append(body, 0xFF, ev.Data[0])
			body = AppendVLQ(body, uint32(len(ev.Data)-1))
			body = append(body, ev.Data[1:]...)
			running = 0
			if ev.Data[0] == MetaEndOfTrack {
				ended = true
			}
		case KindEscape:
			if len(ev.Data) > 0 && ev.Data[0] == 0xF0 {
				body = append(body, 0xF0)
				body = AppendVLQ(body, uint32(len(ev.Data)-1))
				body = append(body, ev.Data[1:]...)
			} else {
				body = append(body, 0xF7)
				body = AppendVLQ(body, uint32(len(ev.Data)))
				body = append(body, ev.Data...)
			}
			running = 0
		}
		if ended {
			break
		}
	}
	if !ended {
		body = AppendVLQ(body, carry)
		body = append(body, 0xFF, MetaEndOfTrack, 0)
	}
	return body, nil
}
