package buf

import "encoding/hex"

// Blob is a fixed-size, comparable byte array wrapper, mirroring the
// original's Blob<const L: usize>. Go has no const generics over array
// length tied to a type parameter bound, so L is carried as plain data and
// asserted at construction; callers that need compile-time sizing should
// use a plain [N]byte instead and reach for Blob only when a uniform type
// across several sizes is needed (e.g. heterogeneous fingerprint storage).
type Blob struct {
	b []byte
}

// NewBlob copies p into a new fixed-length Blob.
func NewBlob(p []byte) Blob {
	cp := make([]byte, len(p))
	copy(cp, p)
	return Blob{b: cp}
}

func (b Blob) Len() int { return len(b.b) }

func (b Blob) Bytes() []byte { return b.b }

func (b Blob) Equal(o Blob) bool {
	if len(b.b) != len(o.b) {
		return false
	}
	for i := range b.b {
		if b.b[i] != o.b[i] {
			return false
		}
	}
	return true
}

func (b Blob) String() string { return hex.EncodeToString(b.b) }
