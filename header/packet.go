package header

import (
	"encoding/binary"

	"github.com/lumenet/reliable/types"
)

// Packet contains the fields of a regular packet header: the sequence
// assigned to this packet, and the ack feedback describing the receive state
// of the sender
type Packet struct {
	// Sequence is the 16-bit sequence number of this packet
	Sequence uint16

	// Ack is the most recent sequence received from the peer
	Ack uint16

	// AckBits is the receipt window preceding Ack: bit i is set iff
	// sequence Ack-i was received (bit 0 is Ack itself)
	AckBits uint32
}

// Size returns the number of bytes AppendTo would produce, without writing
func (h Packet) Size() int {
	size := PacketMinimumSize
	if h.Ack != h.Sequence-1 {
		size += 2
	}
	for bits := h.AckBits; bits != 0; bits >>= 8 {
		if bits&0xFF != 0 {
			size++
		}
	}
	return size
}

// AppendTo encodes the header and appends it to the given slice. The encoding
// is variable length: the ack is elided when it trails the sequence by one,
// and zero bytes of ack_bits are omitted, with prefix flags recording what
// was written
func (h Packet) AppendTo(b []byte) []byte {
	prefix := byte(0)
	if h.Ack == h.Sequence-1 {
		prefix |= flagAckElided
	}
	for i := 0; i < 4; i++ {
		if h.AckBits>>(8*i)&0xFF != 0 {
			prefix |= flagAckBits0 << i
		}
	}

	b = append(b, prefix, byte(h.Sequence), byte(h.Sequence>>8))
	if prefix&flagAckElided == 0 {
		b = append(b, byte(h.Ack), byte(h.Ack>>8))
	}
	for i := 0; i < 4; i++ {
		if prefix&(flagAckBits0<<i) != 0 {
			b = append(b, byte(h.AckBits>>(8*i)))
		}
	}
	return b
}

// ParsePacket decodes a packet header from the front of the given datagram.
// It returns the header and the number of bytes consumed, or
// ErrInvalidHeader if the datagram is truncated or is not a packet header
func ParsePacket(b []byte) (Packet, int, error) {
	if len(b) < PacketMinimumSize {
		return Packet{}, 0, types.ErrInvalidHeader
	}

	prefix := b[0]
	if prefix&flagFragment != 0 {
		return Packet{}, 0, types.ErrInvalidHeader
	}

	h := Packet{Sequence: binary.LittleEndian.Uint16(b[1:])}
	n := PacketMinimumSize

	if prefix&flagAckElided != 0 {
		h.Ack = h.Sequence - 1
	} else {
		if len(b) < n+2 {
			return Packet{}, 0, types.ErrInvalidHeader
		}
		h.Ack = binary.LittleEndian.Uint16(b[n:])
		n += 2
	}

	for i := 0; i < 4; i++ {
		if prefix&(flagAckBits0<<i) == 0 {
			continue
		}
		if len(b) < n+1 {
			return Packet{}, 0, types.ErrInvalidHeader
		}
		h.AckBits |= uint32(b[n]) << (8 * i)
		n++
	}

	return h, n, nil
}
