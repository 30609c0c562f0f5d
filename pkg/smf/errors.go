package smf

import "errors"

// MaxFileSize is the largest input the decoder accepts.
const MaxFileSize = 64 << 20

// ErrFormat is returned when the container is structurally invalid.
var ErrFormat = errors.New("invalid MIDI file format")

// ErrEOF is returned when the input ends before any usable track data.
var ErrEOF = errors.New("premature end of MIDI data")

// ErrIO is returned when the underlying file cannot be stat'ed or read.
var ErrIO = errors.New("MIDI file input error")

// ErrTooLarge is returned when the input exceeds MaxFileSize.
var ErrTooLarge = errors.New("MIDI file too large")
