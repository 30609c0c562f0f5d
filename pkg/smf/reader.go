package smf

import "encoding/binary"

// Reader is a bounds-checked cursor over an in-memory buffer.
// A read that fails leaves the cursor where it was.
type Reader struct {
	buf []byte
	pos int
}

// NewReader returns a Reader positioned at the start of buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Len returns the total length of the underlying buffer.
func (r *Reader) Len() int { return len(r.buf) }

// Pos returns the current offset.
func (r *Reader) Pos() int { return r.pos }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// SetPos moves the cursor. Positions outside [0, Len] report ErrEOF.
func (r *Reader) SetPos(pos int) error {
	if pos < 0 || pos > len(r.buf) {
		return ErrEOF
	}
	r.pos = pos
	return nil
}

// Peek returns the next n bytes without consuming them.
// The slice borrows from the underlying buffer.
func (r *Reader) Peek(n int) ([]byte, error) {
	if n < 0 || n > r.Remaining() {
		return nil, ErrEOF
	}
	return r.buf[r.pos : r.pos+n], nil
}

// Read consumes and returns the next n bytes.
func (r *Reader) Read(n int) ([]byte, error) {
	b, err := r.Peek(n)
	if err != nil {
		return nil, err
	}
	r.pos += n
	return b, nil
}

// Skip advances the cursor by n bytes.
func (r *Reader) Skip(n int) error {
	_, err := r.Read(n)
	return err
}

// PeekByte returns the next byte without consuming it.
func (r *Reader) PeekByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, ErrEOF
	}
	return r.buf[r.pos], nil
}

// ReadByte consumes one byte.
func (r *Reader) ReadByte() (byte, error) {
	b, err := r.PeekByte()
	if err != nil {
		return 0, err
	}
	r.pos++
	return b, nil
}

func (r *Reader) ReadU16BE() (uint16, error) {
	b, err := r.Read(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *Reader) ReadU16LE() (uint16, error) {
	b, err := r.Read(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) ReadU32BE() (uint32, error) {
	b, err := r.Read(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Reader) ReadU32LE() (uint32, error) {
	b, err := r.Read(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadVLQ reads a MIDI variable-length quantity of at most 4 bytes.
// It returns ErrEOF when the buffer ends inside the number and ErrFormat
// when the 4th byte still has its continuation bit set.
func (r *Reader) ReadVLQ() (uint32, error) {
	var value uint32
	for i := 0; i < 4; i++ {
		if r.pos+i >= len(r.buf) {
			return 0, ErrEOF
		}
		c := r.buf[r.pos+i]
		value = value<<7 | uint32(c&0x7F)
		if c&0x80 == 0 {
			r.pos += i + 1
			return value, nil
		}
	}
	return 0, ErrFormat
}

// AppendVLQ appends the VLQ encoding of v (at most 0x0FFFFFFF) to dst.
func AppendVLQ(dst []byte, v uint32) []byte {
	var tmp [4]byte
	n := 0
	tmp[3] = byte(v & 0x7F)
	n++
	for v >>= 7; v > 0 && n < 4; v >>= 7 {
		tmp[3-n] = byte(v&0x7F) | 0x80
		n++
	}
	return append(dst, tmp[4-n:]...)
}
