package shm

import (
	"bytes"
	"errors"
	"fmt"
	"unicode/utf8"
)

const (
	// SlotSize is the size in bytes of one channel slot.
	SlotSize = 1024
	// MaxMessageLen is the longest payload a slot can carry: one byte goes to the
	// presence flag and one to the NUL terminator.
	MaxMessageLen = SlotSize - 2

	flagOffset    = 0
	payloadOffset = 1
	flagFull      = 1
	flagEmpty     = 0
)

var (
	// ErrNotTerminated is reported for a full slot with no NUL byte in its payload area.
	ErrNotTerminated = errors.New("message is not null-terminated")
	// ErrInvalidEncoding is reported for a full slot whose payload is not valid UTF-8.
	ErrInvalidEncoding = errors.New("message is not valid utf-8")
	// ErrTooLong is returned when a message does not fit into a slot.
	ErrTooLong = errors.New("message too long")
)

// Slot is a view over exactly SlotSize bytes of a channel.
// The bounds are fixed when the view is built, accessors never re-check them.
type Slot struct {
	buf *[SlotSize]byte
}

// NewSlot wraps b, which must be exactly SlotSize bytes long.
func NewSlot(b []byte) (Slot, error) {
	if len(b) != SlotSize {
		return Slot{}, fmt.Errorf("slot must be %d bytes, got %d", SlotSize, len(b))
	}
	return Slot{buf: (*[SlotSize]byte)(b)}, nil
}

// HasMessage reports whether the presence flag is set. Any non-zero value counts as set.
func (s Slot) HasMessage() bool {
	return s.buf[flagOffset] != flagEmpty
}

// TakeMessage drains the slot.
//
// ok is false when the slot is empty; the slot is then left untouched. Otherwise the
// flag is cleared whether or not the payload decodes, and err is ErrNotTerminated or
// ErrInvalidEncoding for a malformed payload.
func (s Slot) TakeMessage() (msg string, ok bool, err error) {
	if !s.HasMessage() {
		return "", false, nil
	}
	msg, err = s.decode()
	s.buf[flagOffset] = flagEmpty
	return msg, true, err
}

// Peek decodes a pending message without clearing the flag.
func (s Slot) Peek() (msg string, ok bool, err error) {
	if !s.HasMessage() {
		return "", false, nil
	}
	msg, err = s.decode()
	return msg, true, err
}

func (s Slot) decode() (string, error) {
	payload := s.buf[payloadOffset:]
	n := bytes.IndexByte(payload, 0)
	if n < 0 {
		return "", ErrNotTerminated
	}
	if !utf8.Valid(payload[:n]) {
		return "", ErrInvalidEncoding
	}
	return string(payload[:n]), nil
}

// WriteMessageOverwrite stores msg and sets the presence flag, replacing any message
// still pending in the slot. Bytes past the terminator are left as they were.
func (s Slot) WriteMessageOverwrite(msg string) error {
	if len(msg) > MaxMessageLen {
		return fmt.Errorf("%w: %d bytes, max %d", ErrTooLong, len(msg), MaxMessageLen)
	}
	n := copy(s.buf[payloadOffset:], msg)
	s.buf[payloadOffset+n] = 0
	// flag last, so a peer that sees it set finds a terminated payload
	s.buf[flagOffset] = flagFull
	return nil
}
