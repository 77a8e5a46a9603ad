package checker

import (
	"testing"

	"github.com/lumenet/reliable/header"
)

// PacketChecker is a function to check a property of a parsed packet header
type PacketChecker func(*testing.T, header.Packet)

// FragmentChecker is a function to check a property of a parsed fragment
// header
type FragmentChecker func(*testing.T, header.Fragment)

// Packet checks the validity and properties of the given encoded datagram
// and returns the payload following the header. It is expected to be used in
// conjunction with other checkers for specific properties. For example, to
// check the sequence and ack, one would call:
//
// checker.Packet(t, b, checker.Sequence(x), checker.Ack(y))
func Packet(t *testing.T, b []byte, checkers ...PacketChecker) []byte {
	h, n, err := header.ParsePacket(b)
	if err != nil {
		t.Fatalf("Not a valid packet header: %v", err)
	}

	for _, f := range checkers {
		f(t, h)
	}

	return b[n:]
}

// Sequence creates a checker that checks the sequence field
func Sequence(sequence uint16) PacketChecker {
	return func(t *testing.T, h header.Packet) {
		if h.Sequence != sequence {
			t.Fatalf("Bad sequence, got %v, want %v", h.Sequence, sequence)
		}
	}
}

// Ack creates a checker that checks the ack field
func Ack(ack uint16) PacketChecker {
	return func(t *testing.T, h header.Packet) {
		if h.Ack != ack {
			t.Fatalf("Bad ack, got %v, want %v", h.Ack, ack)
		}
	}
}

// AckBits creates a checker that checks the ack_bits field
func AckBits(ackBits uint32) PacketChecker {
	return func(t *testing.T, h header.Packet) {
		if h.AckBits != ackBits {
			t.Fatalf("Bad ack bits, got %#x, want %#x", h.AckBits, ackBits)
		}
	}
}

// Fragment checks the validity and properties of the given encoded fragment
// datagram and returns the payload following the header (and, on fragment 0,
// the embedded packet header)
func Fragment(t *testing.T, b []byte, checkers ...FragmentChecker) []byte {
	h, _, n, err := header.ParseFragment(b)
	if err != nil {
		t.Fatalf("Not a valid fragment header: %v", err)
	}

	for _, f := range checkers {
		f(t, h)
	}

	return b[n:]
}

// FragmentSequence creates a checker that checks the fragment's sequence
func FragmentSequence(sequence uint16) FragmentChecker {
	return func(t *testing.T, h header.Fragment) {
		if h.Sequence != sequence {
			t.Fatalf("Bad fragment sequence, got %v, want %v", h.Sequence, sequence)
		}
	}
}

// FragmentID creates a checker that checks the fragment's position
func FragmentID(id uint8) FragmentChecker {
	return func(t *testing.T, h header.Fragment) {
		if h.ID != id {
			t.Fatalf("Bad fragment id, got %v, want %v", h.ID, id)
		}
	}
}

// FragmentCount creates a checker that checks the fragment's total count
func FragmentCount(count int) FragmentChecker {
	return func(t *testing.T, h header.Fragment) {
		if h.Count != count {
			t.Fatalf("Bad fragment count, got %v, want %v", h.Count, count)
		}
	}
}
