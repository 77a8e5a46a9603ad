package header

import (
	"encoding/binary"

	"github.com/lumenet/reliable/types"
)

// Fragment contains the fields of a fragment header. A packet larger than
// the fragmentation threshold is sliced into up to MaxFragments fragments
// that all carry the packet's sequence; fragment 0 additionally embeds the
// packet header so the receiver can recover the ack feedback when the packet
// is reassembled
type Fragment struct {
	// Sequence is the sequence number of the fragmented packet
	Sequence uint16

	// ID is the position of this fragment within the packet
	ID uint8

	// Count is the total number of fragments the packet was sliced into,
	// in the range [1, MaxFragments]. The wire carries Count-1
	Count int
}

// Size returns the number of bytes AppendTo would produce. The embedded
// packet header on fragment 0 is written separately and not included
func (h Fragment) Size() int {
	return FragmentFixedSize
}

// AppendTo encodes the fragment header and appends it to the given slice
func (h Fragment) AppendTo(b []byte) []byte {
	return append(b,
		flagFragment,
		byte(h.Sequence), byte(h.Sequence>>8),
		h.ID,
		byte(h.Count-1),
	)
}

// ParseFragment decodes a fragment header from the front of the given
// datagram. When the fragment is the first of its packet, the embedded packet
// header is decoded as well and its consumed bytes are included in the
// returned count. Failures are reported as ErrInvalidFragment: truncation, a
// non-fragment prefix, a fragment id beyond the count, or an embedded header
// whose sequence disagrees with the fragment's
func ParseFragment(b []byte) (Fragment, Packet, int, error) {
	if len(b) < FragmentFixedSize {
		return Fragment{}, Packet{}, 0, types.ErrInvalidFragment
	}
	if b[0]&flagFragment == 0 {
		return Fragment{}, Packet{}, 0, types.ErrInvalidFragment
	}

	h := Fragment{
		Sequence: binary.LittleEndian.Uint16(b[1:]),
		ID:       b[3],
		Count:    int(b[4]) + 1,
	}
	if int(h.ID) >= h.Count {
		return Fragment{}, Packet{}, 0, types.ErrInvalidFragment
	}

	n := FragmentFixedSize
	var embedded Packet
	if h.ID == 0 {
		p, consumed, err := ParsePacket(b[n:])
		if err != nil {
			return Fragment{}, Packet{}, 0, types.ErrInvalidFragment
		}
		if p.Sequence != h.Sequence {
			return Fragment{}, Packet{}, 0, types.ErrInvalidFragment
		}
		embedded = p
		n += consumed
	}

	return h, embedded, n, nil
}
