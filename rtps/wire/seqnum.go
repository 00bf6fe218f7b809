package wire

import (
	"fmt"
	"strings"
)

// SequenceNumber orders the changes of a single writer, starting at 1.
type SequenceNumber int64

const (
	SequenceNumberUnknown SequenceNumber = -1 << 32
	SequenceNumberZero    SequenceNumber = 0
)

func (sn SequenceNumber) encode(w *writer) {
	w.i32(int32(sn >> 32))
	w.u32(uint32(sn))
}

func (sn *SequenceNumber) decode(r *reader) {
	high := r.i32()
	low := r.u32()
	*sn = SequenceNumber(int64(high)<<32 | int64(low))
}

// MaxSetBits is the largest bitmap a SequenceNumberSet may carry.
const MaxSetBits = 256

// SequenceNumberSet is a bitmap of sequence numbers starting at Base.
// Bit i refers to Base+i and is stored MSB-first in Bitmap[i/32].
type SequenceNumberSet struct {
	Base    SequenceNumber
	NumBits uint32
	Bitmap  []uint32
}

// NewSequenceNumberSet returns an empty set covering [base, base+numBits).
func NewSequenceNumberSet(base SequenceNumber, numBits uint32) SequenceNumberSet {
	numBits = min(numBits, MaxSetBits)
	s := SequenceNumberSet{Base: base, NumBits: numBits}
	if words := (numBits + 31) / 32; words > 0 {
		s.Bitmap = make([]uint32, words)
	}
	return s
}

// Add sets the bit for sn. It returns false when sn is outside the range.
func (s *SequenceNumberSet) Add(sn SequenceNumber) bool {
	if sn < s.Base || sn >= s.Base+SequenceNumber(s.NumBits) {
		return false
	}
	i := uint32(sn - s.Base)
	s.Bitmap[i/32] |= 1 << (31 - i%32)
	return true
}

func (s SequenceNumberSet) Contains(sn SequenceNumber) bool {
	if sn < s.Base || sn >= s.Base+SequenceNumber(s.NumBits) {
		return false
	}
	i := uint32(sn - s.Base)
	return s.Bitmap[i/32]&(1<<(31-i%32)) != 0
}

// SequenceNumbers lists the members in ascending order.
func (s SequenceNumberSet) SequenceNumbers() []SequenceNumber {
	var out []SequenceNumber
	for i := uint32(0); i < s.NumBits; i++ {
		if s.Bitmap[i/32]&(1<<(31-i%32)) != 0 {
			out = append(out, s.Base+SequenceNumber(i))
		}
	}
	return out
}

func (s SequenceNumberSet) IsEmpty() bool {
	for _, w := range s.Bitmap {
		if w != 0 {
			return false
		}
	}
	return true
}

func (s SequenceNumberSet) String() string {
	sns := s.SequenceNumbers()
	parts := make([]string, len(sns))
	for i, sn := range sns {
		parts[i] = fmt.Sprint(int64(sn))
	}
	return fmt.Sprintf("%d/%d:[%s]", s.Base, s.NumBits, strings.Join(parts, ","))
}

func (s SequenceNumberSet) encode(w *writer) {
	s.Base.encode(w)
	w.u32(s.NumBits)
	for i := uint32(0); i < (s.NumBits+31)/32; i++ {
		var word uint32
		if int(i) < len(s.Bitmap) {
			word = s.Bitmap[i]
		}
		w.u32(word)
	}
}

func (s *SequenceNumberSet) decode(r *reader) error {
	s.Base.decode(r)
	s.NumBits = r.u32()
	if r.err != nil {
		return r.err
	}
	if s.NumBits > MaxSetBits {
		return ErrInvalidNumBits
	}
	s.Bitmap = nil
	if words := (s.NumBits + 31) / 32; words > 0 {
		s.Bitmap = make([]uint32, words)
		for i := range s.Bitmap {
			s.Bitmap[i] = r.u32()
		}
	}
	return r.err
}
