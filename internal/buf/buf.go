// Package buf provides bounded append/read byte cursors used throughout the
// VL1 wire codecs. No allocation on the hot path: Buffer wraps a
// caller-owned backing array and panics only on programmer error (zero
// capacity), returning an error for any bounds violation driven by
// untrusted input.
package buf

import (
	"encoding/binary"
	"fmt"

	"github.com/vl1proto/vl1-go/vl1err"
)

// Buffer is a bounded append/read cursor over a fixed backing array.
// Append methods grow Len(); read methods advance a separate read cursor.
type Buffer struct {
	data []byte
	w    int // write cursor (== logical length)
	r    int // read cursor
}

// NewBuffer wraps an existing slice for writing, starting empty.
func NewBuffer(backing []byte) *Buffer {
	return &Buffer{data: backing}
}

// WrapRead wraps an existing slice for reading; the write cursor is set to
// len(backing) so Bytes() returns the whole thing and appends would extend it.
func WrapRead(backing []byte) *Buffer {
	return &Buffer{data: backing, w: len(backing)}
}

func (b *Buffer) Len() int { return b.w }

func (b *Buffer) Cap() int { return cap(b.data) }

func (b *Buffer) Bytes() []byte { return b.data[:b.w] }

func (b *Buffer) Remaining() int { return b.w - b.r }

// Reset clears both cursors without releasing the backing array.
func (b *Buffer) Reset() {
	b.w = 0
	b.r = 0
}

// AppendBytes appends p, growing the backing array if room allows, and
// returns OutOfBounds-style error if it does not fit.
func (b *Buffer) AppendBytes(p []byte) error {
	if b.w+len(p) > cap(b.data) {
		if b.w+len(p) > len(b.data) {
			b.grow(b.w + len(p))
		}
	}
	if b.w+len(p) > len(b.data) {
		return fmt.Errorf("buf: append of %d bytes at offset %d exceeds backing array of %d: %w", len(p), b.w, len(b.data), vl1err.OutOfBounds)
	}
	copy(b.data[b.w:], p)
	b.w += len(p)
	return nil
}

func (b *Buffer) grow(need int) {
	if cap(b.data) >= need {
		b.data = b.data[:cap(b.data)]
		return
	}
	nd := make([]byte, need, need*2+16)
	copy(nd, b.data[:b.w])
	b.data = nd
}

// AppendByte appends a single byte.
func (b *Buffer) AppendByte(v byte) error { return b.AppendBytes([]byte{v}) }

// AppendUint16 appends a big-endian uint16.
func (b *Buffer) AppendUint16(v uint16) error {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return b.AppendBytes(tmp[:])
}

// AppendUint32 appends a big-endian uint32.
func (b *Buffer) AppendUint32(v uint32) error {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return b.AppendBytes(tmp[:])
}

// AppendUint64 appends a big-endian uint64.
func (b *Buffer) AppendUint64(v uint64) error {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return b.AppendBytes(tmp[:])
}

// AppendVarint appends an unsigned LEB128 varint (used by Endpoint's Http/
// WebRTC variable-length bodies).
func (b *Buffer) AppendVarint(v uint64) error {
	var tmp [10]byte
	n := 0
	for v >= 0x80 {
		tmp[n] = byte(v) | 0x80
		v >>= 7
		n++
	}
	tmp[n] = byte(v)
	n++
	return b.AppendBytes(tmp[:n])
}

// ReadBytes reads n bytes from the read cursor.
func (b *Buffer) ReadBytes(n int) ([]byte, error) {
	if b.r+n > b.w {
		return nil, fmt.Errorf("buf: read of %d bytes at offset %d exceeds length %d: %w", n, b.r, b.w, vl1err.OutOfBounds)
	}
	out := b.data[b.r : b.r+n]
	b.r += n
	return out, nil
}

// ReadByte reads a single byte.
func (b *Buffer) ReadByte() (byte, error) {
	p, err := b.ReadBytes(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

// ReadUint16 reads a big-endian uint16.
func (b *Buffer) ReadUint16() (uint16, error) {
	p, err := b.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(p), nil
}

// ReadUint32 reads a big-endian uint32.
func (b *Buffer) ReadUint32() (uint32, error) {
	p, err := b.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(p), nil
}

// ReadUint64 reads a big-endian uint64.
func (b *Buffer) ReadUint64() (uint64, error) {
	p, err := b.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(p), nil
}

// ReadVarint reads an unsigned LEB128 varint.
func (b *Buffer) ReadVarint() (uint64, error) {
	var v uint64
	var shift uint
	for {
		c, err := b.ReadByte()
		if err != nil {
			return 0, err
		}
		v |= uint64(c&0x7f) << shift
		if c&0x80 == 0 {
			return v, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, fmt.Errorf("buf: varint too long: %w", vl1err.OutOfBounds)
		}
	}
}
