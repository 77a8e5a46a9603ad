// Package header provides the wire encodings used by the reliability layer.
// Every datagram starts with a one-byte prefix whose low bit selects the
// header kind: 0 for a regular packet header, 1 for a fragment header
package header

const (
	// flagFragment selects the fragment header when set in the prefix byte
	flagFragment = 1 << 0

	// flagAckBits0 through flagAckBits3 each flag one byte of ack_bits as
	// present on the wire, low byte first. A cleared flag means the
	// corresponding byte is zero and was omitted
	flagAckBits0 = 1 << 1
	flagAckBits1 = 1 << 2
	flagAckBits2 = 1 << 3
	flagAckBits3 = 1 << 4

	// flagAckElided means the ack field equals sequence-1 and was not
	// written; the reader infers it
	flagAckElided = 1 << 5
)

const (
	// PacketMinimumSize is the smallest encoded packet header: prefix and
	// sequence, with the ack elided and all ack_bits bytes zero
	PacketMinimumSize = 3

	// PacketMaximumSize is the largest encoded packet header: prefix,
	// sequence, explicit ack and all four ack_bits bytes
	PacketMaximumSize = 9

	// FragmentFixedSize is the size of the fragment header proper. The
	// first fragment of a packet additionally embeds the full packet
	// header after it
	FragmentFixedSize = 5

	// MaxFragments is the hard ceiling on fragments per packet, imposed by
	// the single count byte on the wire and the fixed 256-bit bitset used
	// during reassembly
	MaxFragments = 256
)

// IsFragment reports whether the datagram carries a fragment header. It is
// safe to call on an empty slice
func IsFragment(datagram []byte) bool {
	return len(datagram) > 0 && datagram[0]&flagFragment != 0
}
