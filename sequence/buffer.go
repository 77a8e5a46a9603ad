package sequence

import (
	"github.com/lithdew/seq"

	"github.com/lumenet/reliable/types"
)

// AckBitsetSize is the width of the ack_bits window carried in every packet
// header: the ack sequence itself plus the 31 sequences preceding it
const AckBitsetSize = 32

// entryEmpty marks a slot with no live data. Entry sequences are stored as
// uint32 so the sentinel is distinguishable from every valid 16-bit sequence,
// including 0xFFFF
const entryEmpty = 0xFFFFFFFF

// Buffer is a fixed-capacity associative structure keyed by a 16-bit sequence
// number. The slot for sequence s is s mod capacity; each slot carries the
// sequence it currently stores so that aliasing after wraparound never
// produces a false hit
type Buffer[T any] struct {
	// sequence is the highest sequence ever inserted, plus one
	sequence uint16

	entries        []T
	entrySequences []uint32
}

// NewBuffer creates a buffer with the given capacity, all slots empty
func NewBuffer[T any](capacity int) *Buffer[T] {
	b := &Buffer[T]{
		entries:        make([]T, capacity),
		entrySequences: make([]uint32, capacity),
	}
	for i := range b.entrySequences {
		b.entrySequences[i] = entryEmpty
	}
	return b
}

// Capacity returns the number of slots in the buffer
func (b *Buffer[T]) Capacity() int {
	return len(b.entries)
}

// Sequence returns the highest sequence ever inserted, plus one
func (b *Buffer[T]) Sequence() uint16 {
	return b.sequence
}

func (b *Buffer[T]) index(sequence uint16) int {
	return int(sequence) % len(b.entries)
}

// Insert stores data under the given sequence. Inserting a sequence that has
// advanced past the previous highest one first clears every slot the skipped
// sequences alias to, so stale entries cannot resurface under new sequences
// after wraparound. Sequences older than the buffer window are rejected with
// ErrStaleSequence
func (b *Buffer[T]) Insert(data T, sequence uint16) error {
	if seq.GT(b.sequence-uint16(len(b.entries)), sequence) {
		return types.ErrStaleSequence
	}
	if seq.GT(sequence+1, b.sequence) {
		b.removeRange(b.sequence, sequence)
		b.sequence = sequence + 1
	}

	i := b.index(sequence)
	b.entries[i] = data
	b.entrySequences[i] = uint32(sequence)
	return nil
}

// removeRange clears every slot aliased by the sequences in [start, end].
// When the range spans the whole buffer a single sweep suffices
func (b *Buffer[T]) removeRange(start, end uint16) {
	if int(end-start)+1 >= len(b.entries) {
		b.removeAll()
		return
	}
	for s := start; ; s++ {
		b.Remove(s)
		if s == end {
			return
		}
	}
}

func (b *Buffer[T]) removeAll() {
	var zero T
	for i := range b.entries {
		b.entries[i] = zero
		b.entrySequences[i] = entryEmpty
	}
}

// Get returns the entry stored under the given sequence, or nil if the slot
// is empty or holds a different sequence. The returned pointer aliases the
// buffer's storage and is invalidated by a later insert that displaces it
func (b *Buffer[T]) Get(sequence uint16) *T {
	i := b.index(sequence)
	if b.entrySequences[i] != uint32(sequence) {
		return nil
	}
	return &b.entries[i]
}

// Remove clears the slot for the given sequence
func (b *Buffer[T]) Remove(sequence uint16) {
	var zero T
	i := b.index(sequence)
	b.entries[i] = zero
	b.entrySequences[i] = entryEmpty
}

// CheckSequence reports whether the given sequence is still representable,
// that is, not older than the buffer window. It is used to screen incoming
// sequences before any further work
func (b *Buffer[T]) CheckSequence(sequence uint16) bool {
	return !seq.GT(b.sequence-uint16(len(b.entries)), sequence)
}

// AckBits derives the ack feedback for a packet header from the receive
// state: ack is the most recent sequence inserted, and bit i of ackBits is
// set iff sequence ack-i is present in the buffer (bit 0 is ack itself)
func (b *Buffer[T]) AckBits() (ack uint16, ackBits uint32) {
	ack = b.sequence - 1
	mask := uint32(1)
	for i := uint16(0); i < AckBitsetSize; i++ {
		if b.Get(ack-i) != nil {
			ackBits |= mask
		}
		mask <<= 1
	}
	return ack, ackBits
}

// Reset clears every slot and rewinds the sequence to 0
func (b *Buffer[T]) Reset() {
	b.sequence = 0
	b.removeAll()
}
