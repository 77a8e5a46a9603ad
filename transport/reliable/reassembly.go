package reliable

import (
	"github.com/lumenet/reliable/buffer"
)

// reassemblyData is the transient per-sequence state used to reconstruct a
// fragmented packet. It is created when fragment 0 arrives (the only fragment
// carrying the embedded packet header), accumulates fragment payloads at
// their fragment-size offsets, and is removed once the packet is rebuilt.
// Entries that never complete age out when newer sequences overwrite their
// slot in the reassembly buffer
type reassemblyData struct {
	sequence uint16
	ack      uint16
	ackBits  uint32

	numReceived int
	numTotal    int

	// packetBytes is the reassembled payload length, known once the final
	// fragment (the only one allowed to be short) has arrived
	packetBytes int

	// headerSize is the encoded size of the packet header embedded in
	// fragment 0
	headerSize int

	buf buffer.View

	// received is a fixed 256-bit set recording which fragment ids have
	// arrived
	received [4]uint64
}

func (r *reassemblyData) fragmentReceived(id uint8) bool {
	return r.received[id/64]&(1<<(id%64)) != 0
}

func (r *reassemblyData) markFragmentReceived(id uint8) {
	r.received[id/64] |= 1 << (id % 64)
}
